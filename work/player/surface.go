package player

import (
	"errors"
	"sync"
	"sync/atomic"

	"stalker-player/work/buffer"
	"stalker-player/work/config"
	"stalker-player/work/logger"
)

// Surface is the persistent media sink engines write into. It wraps the ring
// buffer that stands in for a decoder: one surface is created at startup,
// survives every stream switch, and only its contents are reset between
// streams.
//
// Exactly one engine may hold the surface at a time. The attach guard exists
// to catch lifecycle bugs where a stale engine keeps writing after a switch.
type Surface struct {
	cfg *config.Config
	buf *buffer.SurfaceBuffer

	attached atomic.Bool
	playing  atomic.Bool

	// writerMu orders writer handoff against in-flight writes. A write from
	// a superseded handle either lands before the reset that accompanies the
	// handoff or is dropped, never after.
	writerMu  sync.RWMutex
	writerGen uint64

	mu          sync.RWMutex
	contentType string
}

// NewSurface creates the surface with the configured ring buffer size.
func NewSurface(cfg *config.Config) *Surface {
	return &Surface{
		cfg: cfg,
		buf: buffer.NewSurfaceBuffer(cfg.SurfaceBufferSize * 1024 * 1024),
	}
}

// acquire claims the surface for an engine and issues its write handle.
// Fails if another engine already holds it.
func (s *Surface) acquire(contentType string) (*surfaceWriter, error) {
	if !s.attached.CompareAndSwap(false, true) {
		return nil, errors.New("surface already attached to an engine")
	}

	s.mu.Lock()
	s.contentType = contentType
	s.mu.Unlock()

	s.writerMu.Lock()
	s.writerGen++
	gen := s.writerGen
	s.buf.Reset()
	s.writerMu.Unlock()

	return &surfaceWriter{surface: s, gen: gen}, nil
}

// release gives the surface back after an engine detaches. Playback stops,
// the buffered data is discarded and any outstanding write handle goes dead.
func (s *Surface) release() {
	s.playing.Store(false)

	s.writerMu.Lock()
	s.writerGen++
	s.buf.Reset()
	s.writerMu.Unlock()

	s.attached.Store(false)
}

// surfaceWriter is the write handle issued to the engine currently holding
// the surface. A handle from a previous holder silently drops its writes, so
// a stream that is torn down mid-read cannot deposit bytes into its
// successor's freshly reset buffer.
type surfaceWriter struct {
	surface *Surface
	gen     uint64
}

func (w *surfaceWriter) Write(p []byte) (int, error) {
	w.surface.writerMu.RLock()
	defer w.surface.writerMu.RUnlock()

	if w.surface.writerGen != w.gen {
		return len(p), nil
	}
	return w.surface.buf.Write(p)
}

// StartPlayback transitions the surface to playing. When automatic playback
// is disabled the data stays buffered and ErrPlaybackNotPermitted is
// returned; an explicit play request is needed to start.
func (s *Surface) StartPlayback() error {
	if !s.cfg.Autoplay {
		logger.Warn("{player/surface - StartPlayback} Automatic playback blocked, waiting for explicit play")
		return ErrPlaybackNotPermitted
	}
	s.playing.Store(true)
	return nil
}

// ForcePlayback starts playback regardless of the autoplay policy. Used when
// the play request itself is the explicit user action.
func (s *Surface) ForcePlayback() {
	s.playing.Store(true)
}

// IsPlaying reports whether the surface is currently consuming data.
func (s *Surface) IsPlaying() bool {
	return s.playing.Load()
}

// IsAttached reports whether an engine currently holds the surface.
func (s *Surface) IsAttached() bool {
	return s.attached.Load()
}

// ContentType returns the MIME type of the stream currently feeding the
// surface, empty when idle.
func (s *Surface) ContentType() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contentType
}

// BufferedBytes returns the total bytes written since the current stream
// started.
func (s *Surface) BufferedBytes() int64 {
	return s.buf.WritePosition()
}

// PeekRecent exposes the tail of the buffered stream, used for inspection
// endpoints.
func (s *Surface) PeekRecent(maxBytes int64) []byte {
	return s.buf.PeekRecent(maxBytes)
}

// Destroy tears the surface down for process shutdown. Irreversible.
func (s *Surface) Destroy() {
	s.playing.Store(false)
	s.buf.Destroy()
}
