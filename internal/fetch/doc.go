// Package fetch models the network side of request interception: the
// Request/Response value types exchanged between the dispatcher, the cache and
// the transport, plus an http.Client backed Fetcher. Responses carry a
// read-once body; Duplicate makes the "copy before consume" rule explicit so
// that one copy can be stored while the other is returned to the caller.
package fetch
