package player

import "errors"

// EngineKind identifies one of the two playback engines.
type EngineKind int

const (
	// EngineBufferSource fetches HLS playlists or plain files and feeds the
	// surface directly.
	EngineBufferSource EngineKind = iota
	// EngineRawDemux fetches a raw MPEG-TS stream through the transport proxy
	// and demuxes it while feeding the surface.
	EngineRawDemux
)

func (k EngineKind) String() string {
	switch k {
	case EngineRawDemux:
		return "raw-demux"
	default:
		return "buffer-source"
	}
}

// EventType classifies engine notifications.
type EventType int

const (
	// EventReady fires once when the engine has delivered enough data for
	// playback to start.
	EventReady EventType = iota
	// EventError fires when the engine cannot continue. Err carries the cause.
	EventError
	// EventEnded fires when a finite stream completes normally.
	EventEnded
)

func (t EventType) String() string {
	switch t {
	case EventReady:
		return "ready"
	case EventEnded:
		return "ended"
	default:
		return "error"
	}
}

// Event is an asynchronous engine notification. Err is set only for
// EventError.
type Event struct {
	Type EventType
	Err  error
}

// ErrCodecUnsupported reports that the demux engine met a codec it cannot
// handle. This specific failure triggers the proxied direct-stream fallback
// rather than the HLS fallback.
var ErrCodecUnsupported = errors.New("codec not supported by demux engine")

// ErrPlaybackNotPermitted reports that playback could not start because
// automatic playback is disabled. Non-fatal: the stream stays loaded and
// waiting.
var ErrPlaybackNotPermitted = errors.New("automatic playback not permitted")

// Engine is a playback engine. Lifecycle: construct for one stream, register
// the handler with On, Attach to the surface (work starts immediately), Play
// once the ready event arrives, Detach to tear down. Engines are single-use;
// a stream switch builds a new engine.
//
// Handlers are always invoked from engine goroutines, never synchronously
// from Attach or Play, so the caller can hold its own lock while calling
// engine methods.
type Engine interface {
	Name() string
	On(handler func(Event))
	Attach(surface *Surface) error
	Play() error
	Detach()
}

// isCodecError reports whether an engine error should route to the
// codec-unsupported fallback path.
func isCodecError(err error) bool {
	return errors.Is(err, ErrCodecUnsupported)
}
