// Package rpc implements the JSON-RPC-over-WebSocket transport to a
// Moonraker-compatible printer daemon.
//
// The transport:
//   - Owns the socket lifecycle (connect, reconnect with exponential
//     backoff, idempotent disconnect)
//   - Correlates outgoing requests with asynchronous responses by id
//   - Fans unsolicited server notifications out to subscribers and
//     per-method handlers
//   - Surfaces transport conditions through a single event stream
//
// All continuations and notification callbacks run on the network
// goroutine, except the synchronous error path when a send fails before
// the wire.
package rpc
