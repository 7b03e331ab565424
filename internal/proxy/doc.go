// Package proxy implements the request interception layer. Incoming
// requests are classified by route class, dispatched to the matching
// cache strategy, and written back as complete responses. Non-GET
// requests pass through to the upstream; when the upstream is
// unreachable the write is diverted into the durable mutation queue
// and acknowledged with 202.
package proxy
