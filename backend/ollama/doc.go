// Package ollama implements the backend contract against the native
// generate endpoint. When streaming, the response body is a sequence of
// newline-delimited self-describing JSON records which are decoded
// incrementally as bytes arrive; the backend never waits for a full
// response before emitting fragments.
//
// The embedded http.Client is the shared, pooled connection resource: one
// backend instance is safe for simultaneous use by any number of tasks.
// Phase timeouts (connect, write, read, pool) are enforced independently,
// so an unbounded read deadline for long generations never weakens the
// connect bound and vice versa.
package ollama
