package httpmsg

import (
	"bytes"
	"sync"
)

// Buffers that grew past this are dropped rather than pooled so one large
// upload does not pin its memory.
const maxPooledBufferSize = 64 << 10

type bufferPool struct {
	pool sync.Pool
}

func newBufferPool(size int) *bufferPool {
	bp := &bufferPool{}
	bp.pool.New = func() any {
		return bytes.NewBuffer(make([]byte, 0, size))
	}

	return bp
}

func (p *bufferPool) Get() *bytes.Buffer {
	return p.pool.Get().(*bytes.Buffer)
}

func (p *bufferPool) Put(b *bytes.Buffer) {
	if b.Cap() > maxPooledBufferSize {
		return
	}
	b.Reset()
	p.pool.Put(b)
}
