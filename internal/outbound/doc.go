// Package outbound manages reusable connections from the transport
// sender to downstream backend servers.
//
// The Registry owns one Pool per route and is the single entry point
// for acquiring, releasing and discarding connections. Acquire never
// blocks on network I/O: it either returns a cached idle connection,
// reserves a capacity slot and triggers a non-blocking connect whose
// completion arrives later through AddConnection, or reports saturation
// synchronously through the caller's error handler.
//
// Every pool enforces pending+idle+active <= max at all times. Teardown
// distinguishes clean from error-induced discard: an error-induced
// discard withholds the connection's I/O buffers from the shared buffer
// pool so a buffer can never be owned by two connections at once.
package outbound
