// Package server exposes the pipeline over HTTP with chi.
//
//	POST   /v1/chat                 resolve one message, JSON response
//	POST   /v1/chat/stream          resolve one message, server-sent events
//	DELETE /v1/requests/{requestID} cancel an in-flight request
//	GET    /v1/cache/stats          cache tier statistics
//	DELETE /v1/cache                clear every cache tier
//	GET    /v1/pools                connection pool occupancy
//	GET    /healthz                 health query on both pools
//
// Each request gets an X-Request-ID (the caller's, when sent) that doubles as
// the pipeline request ID.
package server
