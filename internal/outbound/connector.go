package outbound

import (
	"crypto/tls"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/avtransport/internal/util"
)

// ConnectCallback receives connect completions. Callbacks run on the
// connector's execution context, not on the thread that requested the
// connect.
type ConnectCallback interface {
	// Connected delivers an established connection whose pool affinity
	// was set at connect-request time.
	Connected(conn *Connection, attachment interface{})

	// Failed reports a connect attempt that did not produce a
	// connection. The reserved capacity slot must be released.
	Failed(pool *Pool, attachment interface{}, err error)
}

// Connector issues non-blocking connects. Connect returns immediately;
// the outcome arrives later through the callback.
type Connector interface {
	Connect(addr string, attachment interface{}, pool *Pool, callback ConnectCallback)
}

// DialConnector is the production Connector. Each connect runs on its
// own goroutine, standing in for the reactor's connecting context, so
// the requesting caller never blocks.
type DialConnector struct {
	timeout   time.Duration
	tlsConfig *tls.Config
	logger    *zap.Logger
}

// NewDialConnector creates a connector with the given per-attempt
// timeout. tlsConfig may be nil; a minimal TLS 1.2+ config is used for
// secure routes.
func NewDialConnector(timeout time.Duration, tlsConfig *tls.Config, logger *zap.Logger) *DialConnector {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DialConnector{
		timeout:   timeout,
		tlsConfig: tlsConfig,
		logger:    logger,
	}
}

// Connect dials the address asynchronously and reports the outcome to
// the callback. Secure non-proxied routes are dialed with TLS; proxied
// routes are dialed plain to the proxy, tunnel establishment being the
// protocol layer's job.
func (d *DialConnector) Connect(addr string, attachment interface{}, pool *Pool, callback ConnectCallback) {
	go func() {
		route := pool.Route()
		start := time.Now()

		netConn, err := d.dial(addr, route)
		if err != nil {
			d.logger.Debug("connect failed",
				zap.String("route", route.String()),
				zap.String("addr", addr),
				zap.Error(err),
			)
			callback.Failed(pool, attachment, &util.RouteError{
				Route:   route.String(),
				Op:      "connect",
				Message: "dial failed",
				Cause:   err,
			})
			return
		}

		d.logger.Debug("connect completed",
			zap.String("route", route.String()),
			zap.String("addr", addr),
			zap.Duration("elapsed", time.Since(start)),
		)

		conn := NewConnection(route, netConn)
		conn.setPool(pool)
		callback.Connected(conn, attachment)
	}()
}

func (d *DialConnector) dial(addr string, route Route) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: d.timeout}

	if route.IsSecure() && !route.Proxied() {
		cfg := d.tlsConfig
		if cfg == nil {
			cfg = &tls.Config{MinVersion: tls.VersionTLS12}
		} else {
			cfg = cfg.Clone()
		}
		if cfg.ServerName == "" {
			cfg.ServerName = route.Host
		}
		return tls.DialWithDialer(dialer, "tcp", addr, cfg)
	}

	return dialer.Dial("tcp", addr)
}
