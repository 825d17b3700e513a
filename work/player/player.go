package player

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"stalker-player/work/buffer"
	"stalker-player/work/client"
	"stalker-player/work/config"
	"stalker-player/work/format"
	"stalker-player/work/logger"
	"stalker-player/work/metrics"
	"stalker-player/work/resolver"
	"stalker-player/work/utils"
)

// State is the player lifecycle state.
type State int

const (
	// StateIdle means no stream is loaded.
	StateIdle State = iota
	// StateResolving means the stream URL is being resolved and classified.
	StateResolving
	// StateAttaching means an engine is attached and waiting to become ready.
	StateAttaching
	// StatePlaying means the active engine is feeding the surface and
	// playback is running.
	StatePlaying
	// StateWaiting means the engine is ready but playback is blocked on an
	// explicit play action.
	StateWaiting
	// StateFailed means the last stream could not be played, fallback
	// included.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateAttaching:
		return "attaching"
	case StatePlaying:
		return "playing"
	case StateWaiting:
		return "waiting"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// StreamResolver resolves a portal URL to its final playable URL.
type StreamResolver interface {
	Resolve(ctx context.Context, originalURL string) resolver.ResolvedStream
}

// EngineFactory builds an engine of the given kind for one stream.
type EngineFactory func(kind EngineKind, streamURL, mimeType string) Engine

// NewEngineFactory returns the production factory wiring both engines to the
// shared HTTP client and copy pool.
func NewEngineFactory(cfg *config.Config, httpClient *client.HeaderSettingClient, copyPool *buffer.CopyPool) EngineFactory {
	return func(kind EngineKind, streamURL, mimeType string) Engine {
		if kind == EngineRawDemux {
			return NewRawDemuxEngine(cfg, httpClient, streamURL)
		}
		return NewBufferSourceEngine(cfg, httpClient, copyPool, streamURL, mimeType)
	}
}

// attempt tracks one playback attempt from request to engine.
type attempt struct {
	seq         uint64
	requestURL  string
	resolvedURL string
	engineURL   string
	mimeType    string
	format      format.Format
	kind        EngineKind
	fellBack    bool
}

// Player is the playback state machine. It owns stream resolution, format
// classification, engine selection, the single-hop fallback chain and the
// playback store. All transitions run under one mutex; engine events arrive
// asynchronously and are discarded when a newer stream request has
// superseded them.
type Player struct {
	cfg       *config.Config
	resolver  StreamResolver
	newEngine EngineFactory
	surface   *Surface
	store     *Store
	notifier  *Notifier

	// seq orders stream requests. Every Play and Stop bumps it; async work
	// tagged with an older value is stale and must be discarded.
	seq atomic.Uint64

	mu         sync.Mutex
	state      State
	engine     Engine
	current    attempt
	readyTimer *time.Timer
	lastError  string
}

// New creates a Player around the shared surface.
func New(cfg *config.Config, res StreamResolver, factory EngineFactory, surface *Surface) *Player {
	return &Player{
		cfg:       cfg,
		resolver:  res,
		newEngine: factory,
		surface:   surface,
		store:     NewStore(),
		notifier:  NewNotifier(),
	}
}

// Store exposes the playback store.
func (p *Player) Store() *Store {
	return p.store
}

// Notifier exposes the notification history.
func (p *Player) Notifier() *Notifier {
	return p.notifier
}

// Play starts playback of a stream URL. The previous stream, in whatever
// phase it is, is torn down first. An empty URL is ignored.
func (p *Player) Play(streamURL, title, subtitle string) {
	if streamURL == "" {
		logger.Warn("{player - Play} Ignoring play request with empty URL")
		return
	}

	seqNo := p.seq.Add(1)
	logger.Info("{player - Play} Request #%d: %s (%s)", seqNo, title, utils.LogURL(p.cfg, streamURL))

	p.store.SetStream(streamURL, title, subtitle)

	p.mu.Lock()
	p.teardownLocked()
	p.state = StateResolving
	p.lastError = ""
	p.current = attempt{seq: seqNo, requestURL: streamURL}
	p.mu.Unlock()

	go p.load(seqNo, streamURL)
}

// Stop tears down the active stream. Idempotent; also cancels an in-flight
// load.
func (p *Player) Stop() {
	p.seq.Add(1)

	p.mu.Lock()
	p.teardownLocked()
	p.state = StateIdle
	p.lastError = ""
	p.current = attempt{}
	p.mu.Unlock()

	p.store.Stop()
	logger.Info("{player - Stop} Playback stopped")
}

// Resume starts playback after the autoplay policy blocked it. The resume
// request is itself the explicit user action, so it bypasses the policy
// check. No-op unless the player is waiting.
func (p *Player) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateWaiting || p.engine == nil {
		return
	}

	p.surface.ForcePlayback()
	p.state = StatePlaying
	logger.Info("{player - Resume} Request #%d playing after explicit start", p.current.seq)
}

// ToggleMinimize flips the player view between minimized and full.
func (p *Player) ToggleMinimize() {
	p.store.ToggleMinimize()
}

// Close shuts the player down for good.
func (p *Player) Close() {
	p.Stop()
	p.surface.Destroy()
}

// PlayerStatus is the externally visible snapshot of the player.
type PlayerStatus struct {
	State         string     `json:"state"`
	Store         StoreState `json:"store"`
	Format        string     `json:"format,omitempty"`
	Engine        string     `json:"engine,omitempty"`
	FellBack      bool       `json:"fellBack"`
	BufferedBytes int64      `json:"bufferedBytes"`
	LastError     string     `json:"lastError,omitempty"`
}

// Status returns a snapshot of the player and store state.
func (p *Player) Status() PlayerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := PlayerStatus{
		State:         p.state.String(),
		Store:         p.store.State(),
		FellBack:      p.current.fellBack,
		BufferedBytes: p.surface.BufferedBytes(),
		LastError:     p.lastError,
	}
	if p.state != StateIdle && p.current.seq != 0 {
		status.Format = p.current.format.String()
	}
	if p.engine != nil {
		status.Engine = p.engine.Name()
	}
	return status
}

// BufferPreview returns the most recent bytes the active engine has delivered
// to the surface, up to maxBytes.
func (p *Player) BufferPreview(maxBytes int64) []byte {
	return p.surface.PeekRecent(maxBytes)
}

// load resolves, classifies and starts the engine for request seqNo. Runs
// outside the lock because resolution does network I/O.
func (p *Player) load(seqNo uint64, streamURL string) {
	res := p.resolver.Resolve(context.Background(), streamURL)

	if p.seq.Load() != seqNo {
		logger.Debug("{player - load} Discarding stale resolution #%d", seqNo)
		return
	}

	if res.Status == resolver.StatusFellBack {
		p.notifier.Warn("Stream resolution failed", "Using original URL")
	}

	f := format.Classify(res.ResolvedURL)
	logger.Info("{player - load} Request #%d classified as %s", seqNo, f)
	metrics.PlaybackStarts.WithLabelValues(f.String()).Inc()

	kind := EngineBufferSource
	engineURL := res.ResolvedURL
	mimeType := f.MIMEType()
	if f == format.RawTSLive {
		kind = EngineRawDemux
		engineURL = p.proxiedURL(res.ResolvedURL)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.seq.Load() != seqNo {
		return
	}
	p.current.resolvedURL = res.ResolvedURL
	p.current.format = f
	p.startEngineLocked(seqNo, kind, engineURL, mimeType)
}

// proxiedURL routes a stream URL through the local transport proxy.
func (p *Player) proxiedURL(streamURL string) string {
	return p.cfg.BaseURL + "/api/ts-proxy?u=" + url.QueryEscape(streamURL)
}

// startEngineLocked builds and attaches an engine for the current attempt.
// Caller holds p.mu and has verified seqNo is current.
func (p *Player) startEngineLocked(seqNo uint64, kind EngineKind, engineURL, mimeType string) {
	p.current.kind = kind
	p.current.engineURL = engineURL
	p.current.mimeType = mimeType

	engine := p.newEngine(kind, engineURL, mimeType)
	engine.On(func(ev Event) {
		p.onEngineEvent(seqNo, engine, ev)
	})

	logger.Info("{player - startEngineLocked} Request #%d using %s engine", seqNo, engine.Name())

	if err := engine.Attach(p.surface); err != nil {
		p.handleEngineFailureLocked(err)
		return
	}
	p.engine = engine
	p.state = StateAttaching

	p.stopReadyTimerLocked()
	p.readyTimer = time.AfterFunc(p.cfg.EngineReadyTimeout, func() {
		p.onReadyTimeout(seqNo)
	})
}

// onEngineEvent handles asynchronous engine notifications. Events from
// superseded requests, or from an engine that has since been replaced by its
// fallback, are dropped.
func (p *Player) onEngineEvent(seqNo uint64, from Engine, ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.seq.Load() != seqNo || p.engine != from {
		logger.Debug("{player - onEngineEvent} Dropping stale %s event #%d", ev.Type, seqNo)
		return
	}

	switch ev.Type {
	case EventReady:
		p.stopReadyTimerLocked()
		if err := p.engine.Play(); err != nil {
			if errors.Is(err, ErrPlaybackNotPermitted) {
				p.state = StateWaiting
				p.notifier.Warn("Autoplay blocked", "Please click play to start streaming")
				return
			}
			p.handleEngineFailureLocked(err)
			return
		}
		p.state = StatePlaying
		logger.Info("{player - onEngineEvent} Request #%d playing", seqNo)

	case EventEnded:
		logger.Info("{player - onEngineEvent} Request #%d ended", seqNo)
		p.teardownLocked()
		p.state = StateIdle
		p.store.Stop()
		p.notifier.Info("Stream ended", "")

	case EventError:
		p.handleEngineFailureLocked(ev.Err)
	}
}

// onReadyTimeout fires when an engine produced no ready signal within the
// configured window. The stream counts as unresponsive and fails without a
// fallback attempt.
func (p *Player) onReadyTimeout(seqNo uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.seq.Load() != seqNo || p.state != StateAttaching {
		return
	}

	logger.Warn("{player - onReadyTimeout} Request #%d unresponsive after %v", seqNo, p.cfg.EngineReadyTimeout)
	metrics.StreamErrors.WithLabelValues("engine").Inc()
	p.teardownLocked()
	p.state = StateFailed
	p.lastError = "stream unresponsive"
	p.notifier.Error("Playback Error", "Stream unresponsive")
}

// handleEngineFailureLocked routes an engine failure to the single-hop
// fallback chain. Only the demux engine can fall back, and only once:
// a codec failure retries the proxied stream as a direct relay, any other
// failure retries the resolved URL as HLS. A buffer-source failure, primary
// or fallback, is terminal.
func (p *Player) handleEngineFailureLocked(err error) {
	logger.Warn("{player - handleEngineFailureLocked} Engine %s failed: %v", p.current.kind, err)
	metrics.StreamErrors.WithLabelValues("engine").Inc()
	p.stopReadyTimerLocked()

	if p.engine != nil {
		p.engine.Detach()
		p.engine = nil
	}

	if p.current.kind == EngineRawDemux && !p.current.fellBack {
		p.current.fellBack = true

		var fallbackURL, mimeType, reason string
		if isCodecError(err) {
			fallbackURL = p.proxiedURL(p.current.resolvedURL)
			mimeType = "video/mp2t"
			reason = "codec"
			p.notifier.Info("Using alternative playback method", "")
		} else {
			fallbackURL = p.current.resolvedURL
			mimeType = "application/x-mpegURL"
			reason = "error"
			p.notifier.Error("Stream Error", "Trying alternative player...")
		}
		metrics.EngineFallbacks.WithLabelValues(EngineRawDemux.String(), EngineBufferSource.String(), reason).Inc()

		p.startEngineLocked(p.current.seq, EngineBufferSource, fallbackURL, mimeType)
		return
	}

	p.state = StateFailed
	if err != nil {
		p.lastError = err.Error()
	}
	p.notifier.Error("Playback Error", "Unable to play this stream")
}

// teardownLocked detaches the active engine and cancels the ready timer.
func (p *Player) teardownLocked() {
	p.stopReadyTimerLocked()
	if p.engine != nil {
		p.engine.Detach()
		p.engine = nil
	}
}

func (p *Player) stopReadyTimerLocked() {
	if p.readyTimer != nil {
		p.readyTimer.Stop()
		p.readyTimer = nil
	}
}
