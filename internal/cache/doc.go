// Package cache implements the resource cache capability used by the
// interception layer: a set of named generations, each mapping a request
// identity (method + URL) to a response snapshot. Storage exposes the
// open/match/delete/keys surface over generations, Cache the
// match/put/delete/keys surface inside one generation. Snapshots are encoded
// once (gob) and persisted by a pluggable backend: local files (temp file +
// rename), goleveldb, MinIO/S3, or process memory for tests.
package cache
