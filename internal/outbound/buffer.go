package outbound

import (
	"fmt"
	"sync"

	"github.com/vyrodovalexey/avtransport/internal/util"
)

// BufferPool supplies the I/O buffers leased by connections. A buffer
// is owned by exactly one connection while leased; clean teardown
// returns it through Put, error-induced teardown never does.
type BufferPool interface {
	Get() []byte
	Put(buf []byte)
}

// SizedBufferPool recycles fixed-size buffers through a sync.Pool.
type SizedBufferPool struct {
	size int
	pool sync.Pool
}

// NewSizedBufferPool creates a buffer pool handing out buffers of the
// given byte size.
func NewSizedBufferPool(size int) *SizedBufferPool {
	if size <= 0 {
		size = 32 * 1024
	}
	return &SizedBufferPool{
		size: size,
		pool: sync.Pool{
			New: func() interface{} {
				return make([]byte, size)
			},
		},
	}
}

// Get leases a buffer from the pool.
func (p *SizedBufferPool) Get() []byte {
	return p.pool.Get().([]byte)
}

// Put returns a buffer to the pool. Buffers of a different size are
// dropped rather than mixed in.
func (p *SizedBufferPool) Put(buf []byte) {
	if len(buf) != p.size {
		return
	}
	p.pool.Put(buf) //nolint:staticcheck // fixed-size slices, no pointer-like indirection lost
}

// UnpooledBuffers allocates a fresh buffer per lease and lets returned
// buffers be collected. Useful when recycling is undesirable.
type UnpooledBuffers struct {
	size int
}

// NewUnpooledBuffers creates an allocate-only buffer source.
func NewUnpooledBuffers(size int) *UnpooledBuffers {
	if size <= 0 {
		size = 32 * 1024
	}
	return &UnpooledBuffers{size: size}
}

// Get allocates a new buffer.
func (p *UnpooledBuffers) Get() []byte {
	return make([]byte, p.size)
}

// Put drops the buffer.
func (p *UnpooledBuffers) Put(buf []byte) {}

// NewBufferPool resolves a BufferPool implementation from a
// configuration value at startup. Unknown kinds are rejected rather
// than resolved dynamically.
func NewBufferPool(kind string, size int) (BufferPool, error) {
	switch kind {
	case "", "pooled":
		return NewSizedBufferPool(size), nil
	case "unpooled":
		return NewUnpooledBuffers(size), nil
	default:
		return nil, &util.ConfigError{
			Field:   "buffers.kind",
			Message: fmt.Sprintf("unknown buffer pool kind %q", kind),
		}
	}
}
