// Package store implements the durable response cache backing the gateway.
// Each named store (static, dynamic, offline) maps cache keys to a body file
// plus a meta sidecar carrying headers, the stored-at timestamp and a
// monotonic insertion sequence. Writes go through temp file + rename so a
// crash never exposes a half-written entry, and the dynamic store compacts
// itself back to its configured entry bound after every insertion (FIFO by
// insertion order, not access order). The Manager scopes all three stores to
// a cache generation; activating a new generation deletes every prior
// generation directory wholesale.
package store
