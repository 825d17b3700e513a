package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

// CopyPool is a thread-safe pool of byte buffers used for the copy loops in
// the engines and the transport proxy. It leans on valyala/bytebufferpool for
// reuse so a long playback session does not churn the allocator with 32KB
// chunks.
type CopyPool struct {
	pool      *bytebufferpool.Pool
	chunkSize int
}

// NewCopyPool creates a CopyPool handing out buffers with at least chunkSize
// bytes of capacity.
func NewCopyPool(chunkSize int) *CopyPool {
	return &CopyPool{
		pool:      &bytebufferpool.Pool{},
		chunkSize: chunkSize,
	}
}

// Get retrieves a buffer from the pool, grown to the configured chunk size.
// The returned buffer's B slice is resized to exactly chunkSize so callers
// can use it directly as a read buffer.
func (cp *CopyPool) Get() *bytebufferpool.ByteBuffer {
	buf := cp.pool.Get()
	if cap(buf.B) < cp.chunkSize {
		buf.B = make([]byte, cp.chunkSize)
	} else {
		buf.B = buf.B[:cp.chunkSize]
	}
	return buf
}

// Put returns a buffer to the pool.
func (cp *CopyPool) Put(buf *bytebufferpool.ByteBuffer) {
	if buf != nil {
		cp.pool.Put(buf)
	}
}

// SurfaceBuffer is the circular byte store behind the persistent media
// surface. A single writer (the active engine) appends stream data; readers
// may peek at the most recent bytes for status or downstream delivery. The
// buffer overwrites old data when full.
//
// The buffer is created once per player and survives every stream switch;
// only Reset is called between streams. Destroy is reserved for player
// shutdown and makes the buffer permanently unusable.
type SurfaceBuffer struct {
	data      []byte
	size      int64
	writePos  atomic.Int64
	destroyed atomic.Bool
	mu        sync.RWMutex
}

// NewSurfaceBuffer creates a SurfaceBuffer with the given capacity in bytes.
func NewSurfaceBuffer(size int64) *SurfaceBuffer {
	sb := &SurfaceBuffer{
		data: make([]byte, size),
		size: size,
	}
	sb.destroyed.Store(false)
	return sb
}

// Write appends data to the buffer, wrapping when full. Writes against a
// destroyed buffer are silently ignored so a late engine flush after shutdown
// cannot panic.
func (sb *SurfaceBuffer) Write(data []byte) (int, error) {
	if sb.destroyed.Load() {
		return len(data), nil
	}

	sb.mu.RLock()
	defer sb.mu.RUnlock()

	if sb.destroyed.Load() || sb.data == nil {
		return len(data), nil
	}

	writePos := sb.writePos.Load()
	for i := int64(0); i < int64(len(data)); i++ {
		sb.data[(writePos+i)%sb.size] = data[i]
	}
	sb.writePos.Add(int64(len(data)))

	return len(data), nil
}

// WritePosition returns the total number of bytes written since the last
// Reset, used for buffered-bytes reporting and first-data detection.
func (sb *SurfaceBuffer) WritePosition() int64 {
	if sb.destroyed.Load() {
		return 0
	}
	return sb.writePos.Load()
}

// PeekRecent returns a copy of the most recent data up to maxBytes. Returns
// nil if the buffer is destroyed or empty.
func (sb *SurfaceBuffer) PeekRecent(maxBytes int64) []byte {
	if sb.destroyed.Load() || sb.data == nil {
		return nil
	}

	sb.mu.RLock()
	defer sb.mu.RUnlock()

	if sb.destroyed.Load() {
		return nil
	}

	writePos := sb.writePos.Load()
	if writePos == 0 {
		return nil
	}

	n := maxBytes
	if n > writePos {
		n = writePos
	}
	if n > sb.size {
		n = sb.size
	}

	result := make([]byte, n)
	start := (writePos - n) % sb.size
	for i := int64(0); i < n; i++ {
		result[i] = sb.data[(start+i)%sb.size]
	}

	return result
}

// Reset clears the write position so a new stream starts from an empty
// buffer. The underlying storage is kept allocated.
func (sb *SurfaceBuffer) Reset() {
	if sb.destroyed.Load() {
		return
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()

	if sb.destroyed.Load() {
		return
	}

	sb.writePos.Store(0)
}

// Destroy zeroes the buffer and makes it permanently unusable. Irreversible
// and thread-safe; repeated calls are no-ops.
func (sb *SurfaceBuffer) Destroy() {
	if !sb.destroyed.CompareAndSwap(false, true) {
		return
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()

	if sb.data != nil {
		for i := range sb.data {
			sb.data[i] = 0
		}
		sb.data = nil
	}

	sb.writePos.Store(0)
}

// IsDestroyed returns true if the buffer has been destroyed.
func (sb *SurfaceBuffer) IsDestroyed() bool {
	return sb.destroyed.Load()
}
