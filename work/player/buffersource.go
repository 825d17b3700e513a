package player

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"stalker-player/work/buffer"
	"stalker-player/work/client"
	"stalker-player/work/config"
	"stalker-player/work/logger"
	"stalker-player/work/utils"

	"github.com/grafov/m3u8"
)

// BufferSourceEngine is the general-purpose playback engine. It understands
// HLS playlists, which it walks segment by segment, and plain files or
// streams, which it relays byte for byte. It is the selected engine for HLS,
// Matroska and generic file content, and the fallback target when the demux
// engine fails.
type BufferSourceEngine struct {
	cfg        *config.Config
	httpClient *client.HeaderSettingClient
	copyPool   *buffer.CopyPool

	streamURL string
	mimeType  string

	surface *Surface
	sink    *surfaceWriter
	handler func(Event)

	cancel   context.CancelFunc
	detached atomic.Bool
	ready    atomic.Bool
	once     sync.Once
}

// NewBufferSourceEngine creates an engine for one stream. mimeType selects
// the strategy: application/x-mpegURL streams are treated as HLS playlists,
// everything else is relayed directly.
func NewBufferSourceEngine(cfg *config.Config, httpClient *client.HeaderSettingClient, copyPool *buffer.CopyPool, streamURL, mimeType string) *BufferSourceEngine {
	return &BufferSourceEngine{
		cfg:        cfg,
		httpClient: httpClient,
		copyPool:   copyPool,
		streamURL:  streamURL,
		mimeType:   mimeType,
	}
}

func (e *BufferSourceEngine) Name() string {
	return EngineBufferSource.String()
}

// On registers the event handler. Must be called before Attach.
func (e *BufferSourceEngine) On(handler func(Event)) {
	e.handler = handler
}

// Attach claims the surface and starts fetching in the background.
func (e *BufferSourceEngine) Attach(surface *Surface) error {
	sink, err := surface.acquire(e.mimeType)
	if err != nil {
		return err
	}
	e.surface = surface
	e.sink = sink

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	go e.run(ctx)
	return nil
}

// Play starts consuming the buffered stream on the surface.
func (e *BufferSourceEngine) Play() error {
	return e.surface.StartPlayback()
}

// Detach stops the engine and releases the surface. Idempotent.
func (e *BufferSourceEngine) Detach() {
	e.once.Do(func() {
		e.detached.Store(true)
		if e.cancel != nil {
			e.cancel()
		}
		if e.surface != nil {
			e.surface.release()
		}
	})
}

func (e *BufferSourceEngine) emit(ev Event) {
	if e.detached.Load() {
		return
	}
	if e.handler != nil {
		e.handler(ev)
	}
}

// signalReady fires the ready event exactly once, on the first delivered
// data.
func (e *BufferSourceEngine) signalReady() {
	if e.ready.CompareAndSwap(false, true) {
		e.emit(Event{Type: EventReady})
	}
}

func (e *BufferSourceEngine) run(ctx context.Context) {
	logger.Debug("{player/buffersource - run} Starting %s stream: %s", e.mimeType, utils.LogURL(e.cfg, e.streamURL))

	var err error
	if e.mimeType == "application/x-mpegURL" {
		err = e.runHLS(ctx)
	} else {
		err = e.runDirect(ctx, e.streamURL)
	}

	if err != nil {
		if ctx.Err() != nil {
			// detached mid-stream, not an error
			return
		}
		e.emit(Event{Type: EventError, Err: err})
		return
	}
	e.emit(Event{Type: EventEnded})
}

// runDirect relays one URL into the surface until it ends.
func (e *BufferSourceEngine) runDirect(ctx context.Context, streamURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return fmt.Errorf("building stream request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("stream returned HTTP %d", resp.StatusCode)
	}

	return e.copyToSurface(resp.Body)
}

// copyToSurface moves bytes into the surface, signalling ready on the first
// chunk. Returns nil on EOF.
func (e *BufferSourceEngine) copyToSurface(r io.Reader) error {
	buf := e.copyPool.Get()
	defer e.copyPool.Put(buf)

	for {
		n, readErr := r.Read(buf.B)
		if n > 0 {
			if e.detached.Load() {
				return nil
			}
			e.sink.Write(buf.B[:n])
			e.signalReady()
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return readErr
		}
	}
}

// runHLS walks an HLS playlist. Master playlists resolve to their highest
// bandwidth variant. Live media playlists are re-polled on the target
// duration until they close or the engine detaches.
func (e *BufferSourceEngine) runHLS(ctx context.Context) error {
	mediaURL := e.streamURL
	seen := make(map[string]struct{})

	for {
		playlist, listType, err := e.fetchPlaylist(ctx, mediaURL)
		if err != nil {
			return err
		}

		if listType == m3u8.MASTER {
			master := playlist.(*m3u8.MasterPlaylist)
			variantURL, err := pickVariant(master, mediaURL)
			if err != nil {
				return err
			}
			logger.Debug("{player/buffersource - runHLS} Selected variant: %s", utils.LogURL(e.cfg, variantURL))
			mediaURL = variantURL
			continue
		}

		media := playlist.(*m3u8.MediaPlaylist)
		for _, segment := range media.Segments {
			if segment == nil {
				continue
			}
			if _, done := seen[segment.URI]; done {
				continue
			}

			segmentURL, err := resolveRef(mediaURL, segment.URI)
			if err != nil {
				return fmt.Errorf("resolving segment URL %q: %w", segment.URI, err)
			}
			if err := e.runDirect(ctx, segmentURL); err != nil {
				return fmt.Errorf("fetching segment: %w", err)
			}
			seen[segment.URI] = struct{}{}
		}

		if media.Closed {
			return nil
		}

		// live playlist, wait for the window to slide
		if len(seen) > 4096 {
			seen = make(map[string]struct{})
		}
		wait := time.Duration(media.TargetDuration * float64(time.Second) / 2)
		if wait < time.Second {
			wait = time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (e *BufferSourceEngine) fetchPlaylist(ctx context.Context, playlistURL string) (m3u8.Playlist, m3u8.ListType, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, playlistURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("building playlist request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetching playlist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("playlist returned HTTP %d", resp.StatusCode)
	}

	playlist, listType, err := m3u8.DecodeFrom(bufio.NewReader(resp.Body), true)
	if err != nil {
		return nil, 0, fmt.Errorf("parsing playlist: %w", err)
	}
	return playlist, listType, nil
}

// pickVariant selects the highest bandwidth variant from a master playlist.
func pickVariant(master *m3u8.MasterPlaylist, baseURL string) (string, error) {
	var best *m3u8.Variant
	for _, variant := range master.Variants {
		if variant == nil {
			continue
		}
		if best == nil || variant.Bandwidth > best.Bandwidth {
			best = variant
		}
	}
	if best == nil {
		return "", fmt.Errorf("master playlist has no variants")
	}
	return resolveRef(baseURL, best.URI)
}

func resolveRef(baseURL, ref string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(refURL).String(), nil
}
