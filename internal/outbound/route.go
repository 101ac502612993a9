package outbound

import (
	"fmt"
	"net"
	"strconv"
)

// SchemeHTTP and SchemeHTTPS are the supported route schemes.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

// Route identifies an outbound target. It is a comparable value type:
// two requests resolving to the same host, port, scheme and proxy map
// to the same pool.
type Route struct {
	Host      string
	Port      int
	Scheme    string
	ProxyHost string
	ProxyPort int
}

// TargetAddr returns the host:port of the backend itself.
func (r Route) TargetAddr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// ConnectAddr returns the address to dial: the proxy when the route
// goes through one, otherwise the target.
func (r Route) ConnectAddr() string {
	if r.ProxyHost != "" {
		return net.JoinHostPort(r.ProxyHost, strconv.Itoa(r.ProxyPort))
	}
	return r.TargetAddr()
}

// IsSecure reports whether the route targets a TLS scheme.
func (r Route) IsSecure() bool {
	return r.Scheme == SchemeHTTPS
}

// Proxied reports whether the route goes through a proxy.
func (r Route) Proxied() bool {
	return r.ProxyHost != ""
}

// String returns a human-readable form used in logs and metric labels.
func (r Route) String() string {
	if r.Proxied() {
		return fmt.Sprintf("%s://%s via %s", r.Scheme, r.TargetAddr(), r.ConnectAddr())
	}
	return fmt.Sprintf("%s://%s", r.Scheme, r.TargetAddr())
}
