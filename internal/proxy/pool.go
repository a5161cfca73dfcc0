package proxy

import (
	"net/http/httputil"
	"sync"
)

// bufferPool recycles fixed-size copy buffers for httputil.ReverseProxy.
type bufferPool struct {
	size int
	pool sync.Pool
}

var _ httputil.BufferPool = (*bufferPool)(nil)

func newBufferPool(size int) *bufferPool {
	return &bufferPool{size: size}
}

func (p *bufferPool) Get() []byte {
	if b, ok := p.pool.Get().(*[]byte); ok {
		return *b
	}
	return make([]byte, p.size)
}

func (p *bufferPool) Put(b []byte) {
	if cap(b) < p.size {
		return
	}
	b = b[:p.size]
	p.pool.Put(&b)
}
