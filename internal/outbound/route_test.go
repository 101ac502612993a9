package outbound

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoute(t *testing.T) {
	t.Run("target address", func(t *testing.T) {
		r := Route{Host: "api.example.com", Port: 443, Scheme: SchemeHTTPS}
		assert.Equal(t, "api.example.com:443", r.TargetAddr())
		assert.Equal(t, "api.example.com:443", r.ConnectAddr())
		assert.True(t, r.IsSecure())
		assert.False(t, r.Proxied())
	})

	t.Run("proxied route dials the proxy", func(t *testing.T) {
		r := Route{
			Host: "api.example.com", Port: 443, Scheme: SchemeHTTPS,
			ProxyHost: "proxy.internal", ProxyPort: 3128,
		}
		assert.Equal(t, "api.example.com:443", r.TargetAddr())
		assert.Equal(t, "proxy.internal:3128", r.ConnectAddr())
		assert.True(t, r.Proxied())
	})

	t.Run("plain route", func(t *testing.T) {
		r := Route{Host: "svc", Port: 8080, Scheme: SchemeHTTP}
		assert.False(t, r.IsSecure())
		assert.Equal(t, "http://svc:8080", r.String())
	})

	t.Run("usable as map key", func(t *testing.T) {
		a := Route{Host: "svc", Port: 8080, Scheme: SchemeHTTP}
		b := Route{Host: "svc", Port: 8080, Scheme: SchemeHTTP}
		c := Route{Host: "svc", Port: 8081, Scheme: SchemeHTTP}

		m := map[Route]int{a: 1}
		m[b]++
		m[c] = 7

		assert.Equal(t, 2, m[a], "equal routes must map to the same entry")
		assert.Len(t, m, 2)
	})
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "pending", ConnPending.String())
	assert.Equal(t, "idle", ConnIdle.String())
	assert.Equal(t, "active", ConnActive.String())
	assert.Equal(t, "closed", ConnClosed.String())
	assert.Equal(t, "unknown", ConnState(99).String())
}

func TestProtocolStateString(t *testing.T) {
	assert.Equal(t, "request-ready", StateRequestReady.String())
	assert.Equal(t, "response-done", StateResponseDone.String())
	assert.Equal(t, "unknown", ProtocolState(99).String())
}
