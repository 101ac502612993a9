package outbound

import (
	"sync"

	"github.com/google/uuid"
)

// Error codes reported through the ErrorHandler side channel.
const (
	// ErrCodeConnectFailed signals a connect attempt that failed.
	ErrCodeConnectFailed = 101503

	// ErrCodeConnectionTimeout signals that no connection could be made
	// available, including pool saturation.
	ErrCodeConnectionTimeout = 101504

	// ErrCodeConnectionClosed signals an unexpected close.
	ErrCodeConnectionClosed = 101505

	// ErrCodeConnectSuppressed signals a connect withheld by the
	// per-route circuit breaker.
	ErrCodeConnectSuppressed = 101510
)

// PropConnectionLimitExceeded is set on a message context whose unit of
// work was dropped because the route's pool was saturated.
const PropConnectionLimitExceeded = "connection.limit.exceeded"

// MessageContext is the caller's unit of pending work. The transport
// only touches its properties; mediation semantics live elsewhere.
type MessageContext struct {
	id    string
	mu    sync.RWMutex
	props map[string]interface{}
}

// NewMessageContext creates an empty message context.
func NewMessageContext() *MessageContext {
	return &MessageContext{
		id:    uuid.New().String(),
		props: make(map[string]interface{}),
	}
}

// ID returns the message identifier.
func (m *MessageContext) ID() string { return m.id }

// SetProperty sets a named property.
func (m *MessageContext) SetProperty(key string, value interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.props[key] = value
}

// Property returns a named property, or nil.
func (m *MessageContext) Property(key string) interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.props[key]
}

// Queue is the caller-supplied pending-work queue. The transport only
// removes entries from it: on saturation the dropped unit of work must
// not linger as deliverable.
type Queue struct {
	mu    sync.Mutex
	items []*MessageContext
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Add appends a message context.
func (q *Queue) Add(mc *MessageContext) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, mc)
}

// Remove deletes the given message context, reporting whether it was
// present.
func (q *Queue) Remove(mc *MessageContext) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.items {
		if item == mc {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Contains reports whether the given message context is queued.
func (q *Queue) Contains(mc *MessageContext) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		if item == mc {
			return true
		}
	}
	return false
}

// ErrorHandler is the caller-supplied side channel for definitive
// failure outcomes. Acquire never returns an error; it reports
// saturation and connect failures here instead.
type ErrorHandler interface {
	HandleError(mc *MessageContext, errorCode int, message string, state ProtocolState)
}

// ErrorHandlerFunc adapts a function to the ErrorHandler interface.
type ErrorHandlerFunc func(mc *MessageContext, errorCode int, message string, state ProtocolState)

// HandleError implements ErrorHandler.
func (f ErrorHandlerFunc) HandleError(mc *MessageContext, errorCode int, message string, state ProtocolState) {
	f(mc, errorCode, message, state)
}
