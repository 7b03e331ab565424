// Package strategy implements the per-route-class fetch strategies that sit
// between the interception layer and the durable stores: cache-first for
// static assets, network-first racing a fixed timeout for API calls,
// network-first with offline-page fallback for navigations, cache-first with
// a placeholder image fallback, and stale-while-revalidate for everything
// else. Every strategy recovers network and cache failures locally into a
// synthesized response; callers never observe a raw transport error.
package strategy
