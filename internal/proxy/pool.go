package proxy

import (
	"net/http/httputil"
	"sync"
)

// copyBuffers backs the tunnel copy loops when they cannot splice.
var copyBuffers = NewBufferPool(32 * 1024)

type bufferPool struct {
	pool sync.Pool
}

// NewBufferPool returns a pool of byte slices of the given size.
func NewBufferPool(size int) httputil.BufferPool {
	bp := &bufferPool{}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}

	return bp
}

func (p *bufferPool) Get() []byte {
	return *p.pool.Get().(*[]byte)
}

func (p *bufferPool) Put(b []byte) {
	// &b costs a small heap allocation; unavoidable when storing a slice in an interface.
	p.pool.Put(&b)
}
