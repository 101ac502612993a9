package outbound

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Attribute keys for transient per-connection worker associations.
// They are cleared whenever a connection returns to its pool.
const (
	AttrClientWorker  = "client-worker"
	AttrDiscardWorker = "message-discard-worker"
)

// Connection is a live non-blocking socket to a backend. The pool
// back-reference is an association, not ownership: the socket belongs
// to whichever side currently holds the connection, the idle set or
// the active caller.
type Connection struct {
	id        string
	route     Route
	netConn   net.Conn
	createdAt time.Time

	mu        sync.Mutex
	pool      *Pool
	state     ConnState
	lastUsed  time.Time
	reusable  bool
	attrs     map[string]interface{}
	inBuf     []byte
	outBuf    []byte
	readyHook func()
}

// NewConnection wraps an established socket for the given route.
func NewConnection(route Route, netConn net.Conn) *Connection {
	now := time.Now()
	return &Connection{
		id:        uuid.New().String(),
		route:     route,
		netConn:   netConn,
		createdAt: now,
		state:     ConnPending,
		lastUsed:  now,
		reusable:  true,
		attrs:     make(map[string]interface{}),
	}
}

// ID returns the connection identifier.
func (c *Connection) ID() string { return c.id }

// Route returns the route the connection was opened for.
func (c *Connection) Route() Route { return c.route }

// NetConn returns the underlying socket. May be nil for a connection
// that never completed.
func (c *Connection) NetConn() net.Conn { return c.netConn }

// CreatedAt returns the creation timestamp.
func (c *Connection) CreatedAt() time.Time { return c.createdAt }

// Pool returns the owning-pool association, or nil when detached.
func (c *Connection) Pool() *Pool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pool
}

// setPool records the owning-pool association.
func (c *Connection) setPool(p *Pool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pool = p
}

// State returns the lifecycle state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// setState moves the connection to the given state. Closed is terminal:
// once there, no other state is entered.
func (c *Connection) setState(s ConnState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ConnClosed {
		return
	}
	c.state = s
}

// Touch updates the last-used timestamp.
func (c *Connection) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastUsed = time.Now()
}

// LastUsed returns the last-used timestamp.
func (c *Connection) LastUsed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsed
}

// MarkReusable records the reuse-eligibility decision made by the
// protocol layer. The transport stores the flag, it never derives it.
func (c *Connection) MarkReusable(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reusable = ok
}

// Reusable reports the externally-maintained reuse eligibility.
func (c *Connection) Reusable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reusable
}

// SetAttribute attaches a transient value to the connection.
func (c *Connection) SetAttribute(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attrs[key] = value
}

// Attribute returns an attached value, or nil.
func (c *Connection) Attribute(key string) interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attrs[key]
}

// RemoveAttribute detaches a transient value.
func (c *Connection) RemoveAttribute(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.attrs, key)
}

// clearWorkerAttrs drops the per-exchange worker associations.
func (c *Connection) clearWorkerAttrs() {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.attrs, AttrClientWorker)
	delete(c.attrs, AttrDiscardWorker)
}

// SetReadinessHook installs the hook invoked by ArmRead. The I/O layer
// uses it to re-register the connection for inbound readiness.
func (c *Connection) SetReadinessHook(hook func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readyHook = hook
}

// ArmRead re-arms the connection for inbound readiness.
func (c *Connection) ArmRead() {
	c.mu.Lock()
	hook := c.readyHook
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
}

// leaseBuffers attaches an input/output buffer pair from the pool if
// the connection does not hold one already.
func (c *Connection) leaseBuffers(bp BufferPool) {
	if bp == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inBuf == nil {
		c.inBuf = bp.Get()
	}
	if c.outBuf == nil {
		c.outBuf = bp.Get()
	}
}

// releaseBuffers detaches the buffer pair. On a clean teardown the
// buffers go back to the shared pool; on an error-induced teardown they
// are withheld so back-to-back reuse can never hand one buffer to two
// connections.
func (c *Connection) releaseBuffers(bp BufferPool, recycle bool) {
	c.mu.Lock()
	in, out := c.inBuf, c.outBuf
	c.inBuf, c.outBuf = nil, nil
	c.mu.Unlock()

	if in == nil && out == nil {
		return
	}

	m := GetTransportMetrics()
	if recycle && bp != nil {
		if in != nil {
			bp.Put(in)
		}
		if out != nil {
			bp.Put(out)
		}
		m.RecordBufferRecycle()
		return
	}
	m.RecordBufferDiscard()
}

// InputBuffer returns the leased input buffer, or nil.
func (c *Connection) InputBuffer() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inBuf
}

// OutputBuffer returns the leased output buffer, or nil.
func (c *Connection) OutputBuffer() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outBuf
}

// Close closes the socket gracefully and moves the connection to its
// terminal state.
func (c *Connection) Close() error {
	c.setStateClosed()
	if c.netConn == nil {
		return nil
	}
	return c.netConn.Close()
}

// CloseAbrupt tears the socket down without draining: an immediate
// reset rather than a graceful shutdown.
func (c *Connection) CloseAbrupt() error {
	c.setStateClosed()
	if c.netConn == nil {
		return nil
	}
	if tcp, ok := c.netConn.(*net.TCPConn); ok {
		// Linger zero turns Close into RST.
		_ = tcp.SetLinger(0)
	}
	return c.netConn.Close()
}

func (c *Connection) setStateClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = ConnClosed
}

// age returns how long the connection has existed.
func (c *Connection) age(now time.Time) time.Duration {
	return now.Sub(c.createdAt)
}

// idleFor returns how long the connection has been unused.
func (c *Connection) idleFor(now time.Time) time.Duration {
	return now.Sub(c.LastUsed())
}
