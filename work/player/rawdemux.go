package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"stalker-player/work/client"
	"stalker-player/work/config"
	"stalker-player/work/logger"
	"stalker-player/work/utils"

	"github.com/asticode/go-astits"
)

// RawDemuxEngine plays raw MPEG-TS live streams. It fetches the stream
// through the transport proxy, feeds the raw bytes into the surface and
// demuxes them in parallel to validate the container and detect codecs. An
// unsupported video codec surfaces as ErrCodecUnsupported, which the player
// turns into the direct-stream fallback.
type RawDemuxEngine struct {
	cfg        *config.Config
	httpClient *client.HeaderSettingClient

	streamURL string

	surface *Surface
	sink    *surfaceWriter
	handler func(Event)

	cancel   context.CancelFunc
	detached atomic.Bool
	ready    atomic.Bool
	once     sync.Once
}

// NewRawDemuxEngine creates a demux engine for one proxied TS stream URL.
func NewRawDemuxEngine(cfg *config.Config, httpClient *client.HeaderSettingClient, streamURL string) *RawDemuxEngine {
	return &RawDemuxEngine{
		cfg:        cfg,
		httpClient: httpClient,
		streamURL:  streamURL,
	}
}

func (e *RawDemuxEngine) Name() string {
	return EngineRawDemux.String()
}

// On registers the event handler. Must be called before Attach.
func (e *RawDemuxEngine) On(handler func(Event)) {
	e.handler = handler
}

// Attach claims the surface and starts the fetch-and-demux loop.
func (e *RawDemuxEngine) Attach(surface *Surface) error {
	sink, err := surface.acquire("video/mp2t")
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
func (e *RawDemuxEngine) Play() error {
	return e.surface.StartPlayback()
}

// Detach stops the engine and releases the surface. Idempotent.
func (e *RawDemuxEngine) Detach() {
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

func (e *RawDemuxEngine) emit(ev Event) {
	if e.detached.Load() {
		return
	}
	if e.handler != nil {
		e.handler(ev)
	}
}

// supportedVideoCodec lists the video stream types the demux path accepts.
func supportedVideoCodec(streamType astits.StreamType) bool {
	switch streamType {
	case astits.StreamTypeH264Video,
		astits.StreamTypeH265Video,
		astits.StreamTypeMPEG2Video,
		astits.StreamTypeMPEG1Video:
		return true
	}
	return false
}

func (e *RawDemuxEngine) run(ctx context.Context) {
	logger.Debug("{player/rawdemux - run} Starting TS demux: %s", utils.LogURL(e.cfg, e.streamURL))

	err := e.demux(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.emit(Event{Type: EventError, Err: err})
		return
	}
	e.emit(Event{Type: EventEnded})
}

func (e *RawDemuxEngine) demux(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.streamURL, nil)
	if err != nil {
		return fmt.Errorf("building stream request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream returned HTTP %d", resp.StatusCode)
	}

	// raw bytes flow to the surface while the demuxer validates them
	reader := io.TeeReader(resp.Body, e.sink)
	demuxer := astits.NewDemuxer(ctx, reader)

	videoPIDs := make(map[uint16]struct{})

	for {
		data, err := demuxer.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("demuxing stream: %w", err)
		}

		if data.PMT != nil {
			for _, es := range data.PMT.ElementaryStreams {
				if !es.StreamType.IsVideo() {
					logger.Debug("{player/rawdemux - demux} PID %d stream type 0x%02x", es.ElementaryPID, uint8(es.StreamType))
					continue
				}
				if !supportedVideoCodec(es.StreamType) {
					return fmt.Errorf("%w: stream type 0x%02x", ErrCodecUnsupported, uint8(es.StreamType))
				}
				videoPIDs[es.ElementaryPID] = struct{}{}
			}
		}

		if data.PES != nil {
			if _, ok := videoPIDs[data.PID]; ok && e.ready.CompareAndSwap(false, true) {
				logger.Debug("{player/rawdemux - demux} First video payload on PID %d", data.PID)
				e.emit(Event{Type: EventReady})
			}
		}
	}
}
