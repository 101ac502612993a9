package outbound

import (
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/avtransport/internal/util"
)

// BreakerSettings configures the per-route connect circuit breaker.
// Nil settings on the registry disable breakers entirely.
type BreakerSettings struct {
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
}

// Settings configures a Registry.
type Settings struct {
	// MaxConnectionsPerRoute bounds pending+idle+active per route.
	MaxConnectionsPerRoute int

	// Lifecycle durations shared by every pool.
	Lifecycle Lifecycle

	// Buffers is the shared I/O buffer pool connections lease from.
	Buffers BufferPool

	// Breaker enables a per-route connect circuit breaker when set.
	Breaker *BreakerSettings
}

// Registry owns the route-to-pool mapping and is the entry point for
// every pool operation. It is explicitly constructed and torn down by
// the transport sender's lifecycle, never a process-wide singleton.
//
// The find-or-create path is serialized by one mutex so concurrent
// first-touch acquires produce exactly one pool per route. Once a pool
// exists its counters are guarded by the pool's own lock.
type Registry struct {
	connector  Connector
	settings   Settings
	logger     *zap.Logger
	satLimiter *rate.Limiter

	mu    sync.Mutex
	pools map[Route]*Pool
}

// connectAttachment travels with a connect request and carries the
// caller collaborators needed at completion time.
type connectAttachment struct {
	mc      *MessageContext
	handler ErrorHandler
	queue   *Queue
	done    func(success bool)
}

// NewRegistry creates a registry issuing connects through the given
// connector.
func NewRegistry(connector Connector, settings Settings, logger *zap.Logger) *Registry {
	if settings.MaxConnectionsPerRoute <= 0 {
		settings.MaxConnectionsPerRoute = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		connector: connector,
		settings:  settings,
		logger:    logger,
		// One saturation warning per second; the counter carries the rest.
		satLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
		pools:      make(map[Route]*Pool),
	}
}

// Acquire returns a cached idle connection for the route if one exists.
// Otherwise, if the route is under capacity, it reserves a pending slot
// and issues a non-blocking connect whose result arrives later through
// AddConnection, returning nil. If the route is saturated it reports
// the failure synchronously through the error handler, removes the
// caller's unit of work from the queue, and returns nil; the registry
// never retries.
func (r *Registry) Acquire(route Route, mc *MessageContext, handler ErrorHandler, queue *Queue) *Connection {
	r.logger.Debug("trying to get a connection", zap.String("route", route.String()))

	pool := r.getPool(route)

	if conn := pool.GetConnection(); conn != nil {
		conn.leaseBuffers(r.settings.Buffers)
		r.logger.Debug("connection fetched from pool",
			zap.String("route", route.String()),
			zap.String("conn", conn.ID()),
		)
		return conn
	}

	if pool.CheckAndIncrementPendingConnections() {
		done, err := pool.breakerAllow()
		if err != nil {
			pool.AbortPending()
			GetTransportMetrics().RecordConnect(route.String(), "suppressed")
			r.logger.Warn("connect suppressed by circuit breaker",
				zap.String("route", route.String()),
				zap.Error(err),
			)
			if mc != nil {
				if queue != nil {
					queue.Remove(mc)
				}
				if handler != nil {
					handler.HandleError(mc, ErrCodeConnectSuppressed,
						util.ErrConnectSuppress.Error(), StateRequestReady)
				}
			}
			return nil
		}

		r.connector.Connect(route.ConnectAddr(),
			&connectAttachment{mc: mc, handler: handler, queue: queue, done: done},
			pool, r)
		return nil
	}

	// Saturation: deterministic backpressure instead of queuing.
	if r.satLimiter.Allow() {
		r.logger.Warn("connection pool reached maximum allowed connections, target server may have become slow",
			zap.String("route", route.String()),
			zap.Int("max", pool.Max()),
			zap.Error(util.ErrPoolSaturated),
		)
	}
	GetTransportMetrics().RecordExhausted(route.String())

	if mc != nil {
		if queue != nil {
			queue.Remove(mc)
		}
		mc.SetProperty(PropConnectionLimitExceeded, true)
		if handler != nil {
			handler.HandleError(mc, ErrCodeConnectionTimeout,
				"no available connections to serve the request", StateRequestReady)
		}
	}
	return nil
}

// AcquireExisting returns a cached idle connection only. It never
// triggers a new connect.
func (r *Registry) AcquireExisting(route Route) *Connection {
	r.logger.Debug("trying to get an existing connection", zap.String("route", route.String()))

	conn := r.getPool(route).GetConnection()
	if conn != nil {
		conn.leaseBuffers(r.settings.Buffers)
	}
	return conn
}

// Release resets a connection's lifecycle state on the non-error path,
// clears its transient worker associations, re-arms it for inbound
// readiness and returns it to its owning pool's idle set.
func (r *Registry) Release(conn *Connection) {
	conn.clearWorkerAttrs()
	conn.releaseBuffers(r.settings.Buffers, true)
	conn.ArmRead()

	pool := conn.Pool()
	if pool == nil {
		r.defect(conn)
		return
	}
	pool.Release(conn)
}

// Forget detaches a connection from its pool's accounting without
// returning it to the idle set. isError marks the detach as
// fault-induced: the connection's buffers are then withheld from the
// shared buffer pool.
func (r *Registry) Forget(conn *Connection, isError bool) {
	conn.clearWorkerAttrs()
	conn.releaseBuffers(r.settings.Buffers, !isError)

	pool := conn.Pool()
	if pool == nil {
		r.defect(conn)
		return
	}
	pool.Forget(conn)
}

// ShutdownConnection forgets the connection and closes it abruptly.
// The connection is being discarded, so a close failure is logged and
// dropped.
func (r *Registry) ShutdownConnection(conn *Connection, isError bool) {
	r.Forget(conn, isError)

	if err := conn.CloseAbrupt(); err != nil {
		r.logger.Debug("discarding shutdown failure",
			zap.String("conn", conn.ID()),
			zap.Error(err),
		)
	}
	GetTransportMetrics().RecordClosed(conn.Route().String(), "abrupt")
}

// CloseConnection forgets the connection and closes it gracefully.
// Close failures are dropped the same way as in ShutdownConnection.
func (r *Registry) CloseConnection(conn *Connection, isError bool) {
	r.Forget(conn, isError)

	if err := conn.Close(); err != nil {
		r.logger.Debug("discarding close failure",
			zap.String("conn", conn.ID()),
			zap.Error(err),
		)
	}
	GetTransportMetrics().RecordClosed(conn.Route().String(), "graceful")
}

// AddConnection hands a freshly established connection to the pool it
// was connected for. It is invoked from the connector's completion
// context.
func (r *Registry) AddConnection(conn *Connection) {
	pool := conn.Pool()
	if pool == nil {
		r.defect(conn)
		if err := conn.Close(); err != nil {
			r.logger.Debug("discarding close failure",
				zap.String("conn", conn.ID()),
				zap.Error(err),
			)
		}
		return
	}
	pool.AddConnection(conn)
}

// Connected implements ConnectCallback.
func (r *Registry) Connected(conn *Connection, attachment interface{}) {
	if att, ok := attachment.(*connectAttachment); ok && att.done != nil {
		att.done(true)
	}
	GetTransportMetrics().RecordConnect(conn.Route().String(), "success")
	r.AddConnection(conn)
}

// Failed implements ConnectCallback. The reserved pending slot is
// released and the caller is notified through its error handler.
func (r *Registry) Failed(pool *Pool, attachment interface{}, err error) {
	att, _ := attachment.(*connectAttachment)
	if att != nil && att.done != nil {
		att.done(false)
	}

	pool.AbortPending()
	GetTransportMetrics().RecordConnect(pool.Route().String(), "failure")
	r.logger.Warn("connect failed",
		zap.String("route", pool.Route().String()),
		zap.Error(err),
	)

	if att != nil && att.mc != nil {
		if att.queue != nil {
			att.queue.Remove(att.mc)
		}
		if att.handler != nil {
			att.handler.HandleError(att.mc, ErrCodeConnectFailed, err.Error(), StateRequestReady)
		}
	}
}

// ResetConnectionPool force-shuts-down the current connection of every
// TLS route matching one of the "host:port" descriptors, so the next
// acquire opens a fresh connection. Intended for external triggers such
// as certificate rotation. Malformed descriptors are skipped with a
// warning; the batch always runs to completion.
func (r *Registry) ResetConnectionPool(descriptors []string) {
	for _, desc := range descriptors {
		host, portStr, err := net.SplitHostPort(desc)
		if err != nil {
			r.logger.Warn("skipping malformed reset descriptor",
				zap.String("descriptor", desc),
				zap.Error(err),
			)
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			r.logger.Warn("skipping reset descriptor with non-numeric port",
				zap.String("descriptor", desc),
				zap.Error(err),
			)
			continue
		}

		for _, pool := range r.snapshotPools() {
			route := pool.Route()
			if !route.IsSecure() || route.Port != port || !strings.EqualFold(route.Host, host) {
				continue
			}

			conn := pool.GetConnection()
			if conn == nil {
				r.logger.Debug("no connection to reset",
					zap.String("route", route.String()),
				)
				continue
			}
			r.ShutdownConnection(conn, false)
			r.logger.Info("connection reset",
				zap.String("route", route.String()),
			)
		}

		GetTransportMetrics().RecordReset()
	}
}

// Stats returns a per-route accounting snapshot.
func (r *Registry) Stats() map[string]PoolStats {
	stats := make(map[string]PoolStats)
	for _, pool := range r.snapshotPools() {
		stats[pool.Route().String()] = pool.Stats()
	}
	return stats
}

// Shutdown closes every pooled connection and clears the route map.
// Connections currently held by callers are left to their holders.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	pools := r.pools
	r.pools = make(map[Route]*Pool)
	r.mu.Unlock()

	for _, pool := range pools {
		for _, conn := range pool.drain() {
			conn.releaseBuffers(r.settings.Buffers, true)
			if err := conn.Close(); err != nil {
				r.logger.Debug("discarding close failure during shutdown",
					zap.String("conn", conn.ID()),
					zap.Error(err),
				)
			}
			GetTransportMetrics().RecordClosed(pool.Route().String(), "shutdown")
		}
	}

	r.logger.Info("transport connection registry shut down",
		zap.Int("pools", len(pools)),
	)
}

// getPool returns the route's pool, creating it under the registry
// lock on first touch.
func (r *Registry) getPool(route Route) *Pool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pool, ok := r.pools[route]; ok {
		return pool
	}

	pool := newPool(route, r.settings.MaxConnectionsPerRoute, r.settings.Lifecycle,
		r.newBreaker(route), r.logger)
	r.pools[route] = pool

	r.logger.Debug("created connection pool",
		zap.String("route", route.String()),
		zap.Int("max", r.settings.MaxConnectionsPerRoute),
	)
	return pool
}

// snapshotPools copies the pool set out from under the registry lock.
func (r *Registry) snapshotPools() []*Pool {
	r.mu.Lock()
	defer r.mu.Unlock()

	pools := make([]*Pool, 0, len(r.pools))
	for _, pool := range r.pools {
		pools = append(pools, pool)
	}
	return pools
}

// newBreaker builds the per-route connect breaker, or nil when
// breakers are disabled.
func (r *Registry) newBreaker(route Route) *gobreaker.TwoStepCircuitBreaker {
	br := r.settings.Breaker
	if br == nil {
		return nil
	}

	return gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        route.String(),
		MaxRequests: br.MaxRequests,
		Interval:    br.Interval,
		Timeout:     br.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= br.MaxRequests && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			r.logger.Info("connect breaker state change",
				zap.String("route", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// defect records the internal invariant violation of a connection with
// no pool association. The connection is being discarded regardless, so
// handling is best-effort and the condition is never propagated; the
// log record is the operability contract's defect marker.
func (r *Registry) defect(conn *Connection) {
	r.logger.DPanic("connection without a pool, something wrong, need to fix",
		zap.String("conn", conn.ID()),
		zap.String("route", conn.Route().String()),
		zap.Error(util.ErrNoPoolAffinity),
	)
}
