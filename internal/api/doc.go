// Package api exposes the REST and WebSocket surface of the daemon: context
// descriptor queries and registration, proxied market-data lookups, agent
// instruction delegation, and the push channel that streams periodic price
// updates to connected clients.
package api
