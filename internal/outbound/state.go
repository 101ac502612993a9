package outbound

// ConnState is the lifecycle state of a pooled connection.
//
// Transitions: Pending -> Idle -> Active -> Idle or Closed. Closed is
// terminal and reachable from any state through forget plus close.
type ConnState int

const (
	// ConnPending means a connect has been requested but not completed.
	ConnPending ConnState = iota

	// ConnIdle means the connection is established and available.
	ConnIdle

	// ConnActive means the connection is checked out by a caller.
	ConnActive

	// ConnClosed is terminal.
	ConnClosed
)

// String returns the string representation of the state.
func (s ConnState) String() string {
	switch s {
	case ConnPending:
		return "pending"
	case ConnIdle:
		return "idle"
	case ConnActive:
		return "active"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ProtocolState marks where a request/response exchange stood when an
// error was reported. The transport consumes it as an opaque marker for
// the error handler; the full protocol state machine lives elsewhere.
type ProtocolState int

const (
	StateRequestReady ProtocolState = iota
	StateRequestHead
	StateRequestBody
	StateRequestDone
	StateResponseHead
	StateResponseBody
	StateResponseDone
	StateClosing
	StateClosed
)

// String returns the string representation of the protocol state.
func (s ProtocolState) String() string {
	switch s {
	case StateRequestReady:
		return "request-ready"
	case StateRequestHead:
		return "request-head"
	case StateRequestBody:
		return "request-body"
	case StateRequestDone:
		return "request-done"
	case StateResponseHead:
		return "response-head"
	case StateResponseBody:
		return "response-body"
	case StateResponseDone:
		return "response-done"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
