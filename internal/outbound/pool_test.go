package outbound

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(max int, lifecycle Lifecycle) *Pool {
	return newPool(testRoute(), max, lifecycle, nil, nil)
}

func idleConn(p *Pool) *Connection {
	conn := NewConnection(p.Route(), nil)
	conn.setPool(p)
	return conn
}

func TestCheckAndIncrementPendingConnections(t *testing.T) {
	t.Run("reserves up to max", func(t *testing.T) {
		p := newTestPool(2, Lifecycle{})

		assert.True(t, p.CheckAndIncrementPendingConnections())
		assert.True(t, p.CheckAndIncrementPendingConnections())
		assert.False(t, p.CheckAndIncrementPendingConnections())
		assert.Equal(t, PoolStats{Pending: 2, Max: 2}, p.Stats())
	})

	t.Run("returns false exactly at max with no mutation", func(t *testing.T) {
		p := newTestPool(3, Lifecycle{})
		require.True(t, p.CheckAndIncrementPendingConnections()) // pending=1
		p.AddConnection(idleConn(p))                             // pending=0 idle=1
		conn := p.GetConnection()                                // idle=0 active=1
		require.NotNil(t, conn)
		require.True(t, p.CheckAndIncrementPendingConnections()) // pending=1
		require.True(t, p.CheckAndIncrementPendingConnections()) // pending=2

		// pending+idle+active == 3 == max
		before := p.Stats()
		assert.False(t, p.CheckAndIncrementPendingConnections())
		assert.Equal(t, before, p.Stats(), "failed reservation must not mutate state")
	})

	t.Run("no reservation races past max", func(t *testing.T) {
		const max = 4
		const callers = 64
		p := newTestPool(max, Lifecycle{})

		var wg sync.WaitGroup
		results := make([]bool, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = p.CheckAndIncrementPendingConnections()
			}(i)
		}
		wg.Wait()

		won := 0
		for _, ok := range results {
			if ok {
				won++
			}
		}
		assert.Equal(t, max, won)
		assert.Equal(t, max, p.Stats().Pending)
	})
}

func TestPoolAddConnection(t *testing.T) {
	t.Run("fresh connection lands in the idle set", func(t *testing.T) {
		// Delivery policy: a completed connect is parked idle for the
		// delivery path to pick up, not handed to a specific caller.
		p := newTestPool(2, Lifecycle{})
		require.True(t, p.CheckAndIncrementPendingConnections())

		conn := idleConn(p)
		p.AddConnection(conn)

		stats := p.Stats()
		assert.Equal(t, 0, stats.Pending)
		assert.Equal(t, 1, stats.Idle)
		assert.Equal(t, ConnIdle, conn.State())

		got := p.GetConnection()
		assert.Same(t, conn, got)
		assert.Equal(t, ConnActive, got.State())
	})

	t.Run("two completions yield two idle connections", func(t *testing.T) {
		p := newTestPool(2, Lifecycle{})
		require.True(t, p.CheckAndIncrementPendingConnections())
		require.True(t, p.CheckAndIncrementPendingConnections())

		p.AddConnection(idleConn(p))
		p.AddConnection(idleConn(p))

		assert.NotNil(t, p.GetConnection())
		assert.NotNil(t, p.GetConnection())
		assert.Nil(t, p.GetConnection(), "third checkout finds nothing")
	})
}

func TestPoolReleaseAndGet(t *testing.T) {
	p := newTestPool(2, Lifecycle{})
	require.True(t, p.CheckAndIncrementPendingConnections())
	conn := idleConn(p)
	p.AddConnection(conn)

	got := p.GetConnection()
	require.Same(t, conn, got)
	require.Equal(t, 1, p.Stats().Active)

	p.Release(got)
	assert.Equal(t, PoolStats{Idle: 1, Max: 2}, p.Stats())

	// Immediately reacquiring with no intervening caller returns the
	// same connection.
	assert.Same(t, conn, p.GetConnection())
}

func TestPoolForget(t *testing.T) {
	t.Run("removes from idle set", func(t *testing.T) {
		p := newTestPool(2, Lifecycle{})
		require.True(t, p.CheckAndIncrementPendingConnections())
		conn := idleConn(p)
		p.AddConnection(conn)

		p.Forget(conn)
		assert.Equal(t, PoolStats{Max: 2}, p.Stats())
	})

	t.Run("decrements active accounting", func(t *testing.T) {
		p := newTestPool(2, Lifecycle{})
		require.True(t, p.CheckAndIncrementPendingConnections())
		conn := idleConn(p)
		p.AddConnection(conn)
		require.NotNil(t, p.GetConnection())

		p.Forget(conn)
		assert.Equal(t, PoolStats{Max: 2}, p.Stats())

		// Capacity freed by forget is reusable.
		assert.True(t, p.CheckAndIncrementPendingConnections())
	})
}

func TestPoolEviction(t *testing.T) {
	t.Run("idle timeout", func(t *testing.T) {
		p := newTestPool(2, Lifecycle{IdleTimeout: time.Minute})
		require.True(t, p.CheckAndIncrementPendingConnections())
		conn := idleConn(p)
		p.AddConnection(conn)

		conn.mu.Lock()
		conn.lastUsed = time.Now().Add(-2 * time.Minute)
		conn.mu.Unlock()

		assert.Nil(t, p.GetConnection())
		assert.Equal(t, ConnClosed, conn.State())
		assert.Equal(t, 0, p.Stats().Idle)
	})

	t.Run("max lifespan", func(t *testing.T) {
		p := newTestPool(2, Lifecycle{MaxLifespan: time.Hour})
		require.True(t, p.CheckAndIncrementPendingConnections())
		conn := idleConn(p)
		p.AddConnection(conn)

		conn.createdAt = time.Now().Add(-2 * time.Hour)

		assert.Nil(t, p.GetConnection())
		assert.Equal(t, ConnClosed, conn.State())
	})

	t.Run("grace window before lifespan deadline", func(t *testing.T) {
		p := newTestPool(2, Lifecycle{MaxLifespan: time.Hour, GracePeriod: 10 * time.Minute})
		require.True(t, p.CheckAndIncrementPendingConnections())
		conn := idleConn(p)
		p.AddConnection(conn)

		// 55 minutes old: within the 10 minute grace window before the
		// one hour deadline, so it drains instead of being handed out.
		conn.createdAt = time.Now().Add(-55 * time.Minute)

		assert.Nil(t, p.GetConnection())
	})

	t.Run("non-reusable connections are dropped", func(t *testing.T) {
		p := newTestPool(2, Lifecycle{})
		require.True(t, p.CheckAndIncrementPendingConnections())
		conn := idleConn(p)
		p.AddConnection(conn)
		conn.MarkReusable(false)

		assert.Nil(t, p.GetConnection())
		assert.Equal(t, ConnClosed, conn.State())
	})

	t.Run("healthy connection survives", func(t *testing.T) {
		p := newTestPool(2, Lifecycle{
			IdleTimeout: time.Minute,
			MaxLifespan: time.Hour,
			GracePeriod: time.Minute,
		})
		require.True(t, p.CheckAndIncrementPendingConnections())
		conn := idleConn(p)
		p.AddConnection(conn)

		assert.Same(t, conn, p.GetConnection())
	})
}

func TestPoolCapacityInvariant(t *testing.T) {
	// Arbitrary interleaving of reservations, completions, checkouts,
	// releases and forgets never drives pending+idle+active past max.
	const max = 4
	const workers = 16
	const iterations = 200

	p := newTestPool(max, Lifecycle{})

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				if conn := p.GetConnection(); conn != nil {
					if (seed+i)%3 == 0 {
						p.Forget(conn)
					} else {
						p.Release(conn)
					}
					continue
				}
				if p.CheckAndIncrementPendingConnections() {
					p.AddConnection(idleConn(p))
				}

				stats := p.Stats()
				total := stats.Pending + stats.Idle + stats.Active
				if total > max {
					t.Errorf("capacity invariant violated: %+v", stats)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	stats := p.Stats()
	assert.LessOrEqual(t, stats.Pending+stats.Idle+stats.Active, max)
}

func TestPoolDrain(t *testing.T) {
	p := newTestPool(4, Lifecycle{})
	for i := 0; i < 3; i++ {
		require.True(t, p.CheckAndIncrementPendingConnections())
		p.AddConnection(idleConn(p))
	}

	drained := p.drain()
	assert.Len(t, drained, 3)
	assert.Equal(t, 0, p.Stats().Idle)
	assert.Nil(t, p.GetConnection())
}

func TestPoolAbortPending(t *testing.T) {
	p := newTestPool(1, Lifecycle{})
	require.True(t, p.CheckAndIncrementPendingConnections())
	require.False(t, p.CheckAndIncrementPendingConnections())

	p.AbortPending()
	assert.Equal(t, 0, p.Stats().Pending)
	assert.True(t, p.CheckAndIncrementPendingConnections(), "aborted slot is reusable")

	// Floors at zero.
	p.AbortPending()
	p.AbortPending()
	assert.Equal(t, 0, p.Stats().Pending)
}
