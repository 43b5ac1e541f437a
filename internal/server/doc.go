// Package server hosts the identity and feed API from a single HTTP server.
//
// The server builds a consistent middleware chain of security headers, CORS,
// request IDs, rate limiting, metrics, and logging so handlers all share
// common protections and instrumentation.
package server
