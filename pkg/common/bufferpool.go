package common

import "sync"

// BufferPool provides a pool of reusable byte buffers to reduce garbage
// collector pressure on the per-frame read/write path.
type BufferPool struct {
	pool sync.Pool
	size int
}

// FrameBufferSize is the buffer size used for raw Ethernet frame reads,
// large enough for a standard 1500-byte MTU frame plus the 14-byte header.
const FrameBufferSize = 1514

// FrameBufferPool is the pool pkg/ethernet draws read buffers from.
var FrameBufferPool = NewBufferPool(FrameBufferSize)

// NewBufferPool creates a new buffer pool whose buffers are always of the
// given size.
func NewBufferPool(size int) *BufferPool {
	bp := &BufferPool{size: size}
	bp.pool.New = func() interface{} {
		buf := make([]byte, size)
		return &buf
	}
	return bp
}

// Get retrieves a buffer from the pool. The buffer should be returned with
// Put when the caller is done with it.
func (bp *BufferPool) Get() []byte {
	bufPtr := bp.pool.Get().(*[]byte)
	return (*bufPtr)[:bp.size]
}

// Put returns a buffer to the pool.
func (bp *BufferPool) Put(buf []byte) {
	if len(buf) != bp.size {
		return
	}
	for i := range buf {
		buf[i] = 0
	}
	bp.pool.Put(&buf)
}
