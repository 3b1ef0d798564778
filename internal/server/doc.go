// Package server hosts the Fiber HTTP service that acts as the interception
// point for client applications. Every request outside the /-/ diagnostics
// prefix is rebuilt into an outbound fetch (Host header + original URI, with
// X-Forwarded-Proto honoured), handed to the host runtime, and the resulting
// Outcome is rendered back: a response with X-Precache-* headers, a relayed
// network response for passthrough, or a JSON error for no-response and
// strategy failures. Keep exports narrow and accept explicit dependencies.
package server
