// Package market proxies third-party market-data APIs (price, order book,
// candles) behind a time-bounded cache with request coalescing, so that
// concurrent lookups for the same key trigger at most one upstream call
// per TTL window. The upstream is an unauthenticated rate-limited service;
// a fixed minimum inter-call delay is enforced on every request.
package market
