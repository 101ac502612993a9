package outbound

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Lifecycle holds the connection lifecycle durations. Built once from
// configuration and shared read-only by every pool.
type Lifecycle struct {
	// IdleTimeout evicts connections unused for this long. Zero
	// disables idle eviction.
	IdleTimeout time.Duration

	// MaxLifespan evicts connections older than this. Zero disables
	// lifespan eviction.
	MaxLifespan time.Duration

	// GracePeriod widens lifespan eviction: a connection inside the
	// grace window before its lifespan deadline is no longer handed
	// out, so it drains instead of dying mid-exchange.
	GracePeriod time.Duration
}

// Pool owns the idle connections and capacity accounting for a single
// route. The invariant pending+idle+active <= max holds at every
// observable point; all counters are guarded by one mutex.
type Pool struct {
	route     Route
	max       int
	lifecycle Lifecycle
	logger    *zap.Logger
	breaker   *gobreaker.TwoStepCircuitBreaker

	mu      sync.Mutex
	idle    []*Connection
	pending int
	active  int
}

// PoolStats is a point-in-time accounting snapshot.
type PoolStats struct {
	Pending int
	Idle    int
	Active  int
	Max     int
}

func newPool(route Route, max int, lifecycle Lifecycle, breaker *gobreaker.TwoStepCircuitBreaker, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		route:     route,
		max:       max,
		lifecycle: lifecycle,
		breaker:   breaker,
		logger:    logger,
	}
}

// Route returns the route this pool serves.
func (p *Pool) Route() Route { return p.route }

// Max returns the configured connection maximum.
func (p *Pool) Max() int { return p.max }

// GetConnection removes and returns one idle connection, or nil.
// Connections past their idle timeout or lifespan deadline, inside the
// grace window, or marked non-reusable are closed and skipped.
func (p *Pool) GetConnection() *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for len(p.idle) > 0 {
		last := len(p.idle) - 1
		conn := p.idle[last]
		p.idle[last] = nil
		p.idle = p.idle[:last]

		if p.evictable(conn, now) {
			if err := conn.Close(); err != nil {
				p.logger.Debug("discarding close failure during eviction",
					zap.String("route", p.route.String()),
					zap.String("conn", conn.ID()),
					zap.Error(err),
				)
			}
			GetTransportMetrics().RecordClosed(p.route.String(), "evicted")
			continue
		}

		p.active++
		conn.setState(ConnActive)
		conn.Touch()
		p.publishGauges()
		return conn
	}

	p.publishGauges()
	return nil
}

// evictable reports whether an idle connection must not be handed out.
func (p *Pool) evictable(c *Connection, now time.Time) bool {
	if !c.Reusable() {
		return true
	}
	if p.lifecycle.IdleTimeout > 0 && c.idleFor(now) >= p.lifecycle.IdleTimeout {
		return true
	}
	if p.lifecycle.MaxLifespan > 0 {
		deadline := p.lifecycle.MaxLifespan - p.lifecycle.GracePeriod
		if deadline <= 0 {
			deadline = p.lifecycle.MaxLifespan
		}
		if c.age(now) >= deadline {
			return true
		}
	}
	return false
}

// CheckAndIncrementPendingConnections atomically tests whether the
// route has capacity for one more connect. On success the pending
// counter is incremented and the caller must initiate exactly one
// connect. On failure nothing is mutated: that is the saturation
// signal.
func (p *Pool) CheckAndIncrementPendingConnections() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pending+len(p.idle)+p.active >= p.max {
		return false
	}
	p.pending++
	p.publishGauges()
	return true
}

// AddConnection registers a completed connect: the pending slot it
// consumed is released and the connection joins the idle set, where the
// delivery path picks it up.
func (p *Pool) AddConnection(conn *Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pending > 0 {
		p.pending--
	}
	conn.setState(ConnIdle)
	conn.Touch()
	p.idle = append(p.idle, conn)
	p.publishGauges()

	p.logger.Debug("connection added to pool",
		zap.String("route", p.route.String()),
		zap.String("conn", conn.ID()),
	)
}

// Release moves a connection from active back to the idle set.
func (p *Pool) Release(conn *Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active > 0 {
		p.active--
	}
	conn.setState(ConnIdle)
	conn.Touch()
	p.idle = append(p.idle, conn)
	p.publishGauges()
}

// Forget removes a connection from whichever accounting bucket it
// occupies without returning it to the idle set.
func (p *Pool) Forget(conn *Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, c := range p.idle {
		if c == conn {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			p.publishGauges()
			return
		}
	}
	if p.active > 0 {
		p.active--
	}
	p.publishGauges()
}

// AbortPending releases a reserved connect slot whose connect attempt
// did not produce a connection.
func (p *Pool) AbortPending() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pending > 0 {
		p.pending--
	}
	p.publishGauges()
}

// Stats returns the current accounting snapshot.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Pending: p.pending,
		Idle:    len(p.idle),
		Active:  p.active,
		Max:     p.max,
	}
}

// drain empties the idle set, returning the removed connections for
// the caller to close.
func (p *Pool) drain() []*Connection {
	p.mu.Lock()
	defer p.mu.Unlock()

	drained := p.idle
	p.idle = nil
	p.publishGauges()
	return drained
}

// breakerAllow consults the per-route connect breaker. The returned
// done function must be called with the connect outcome. Pools without
// a breaker always allow.
func (p *Pool) breakerAllow() (func(success bool), error) {
	if p.breaker == nil {
		return func(bool) {}, nil
	}
	return p.breaker.Allow()
}

// publishGauges pushes the accounting snapshot to the metrics
// registry. Callers hold p.mu.
func (p *Pool) publishGauges() {
	GetTransportMetrics().RecordPoolGauges(p.route.String(), p.pending, len(p.idle), p.active)
}
