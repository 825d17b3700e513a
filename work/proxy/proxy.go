package proxy

import (
	"encoding/json"
	"io"
	"net/http"

	"stalker-player/work/buffer"
	"stalker-player/work/client"
	"stalker-player/work/config"
	"stalker-player/work/logger"
	"stalker-player/work/metrics"
	"stalker-player/work/utils"
)

// TSProxy relays raw MPEG-TS streams on behalf of clients that cannot fetch
// the upstream origin directly. IPTV origins almost never send permissive
// cross-origin headers, so demuxing clients go through this endpoint instead.
// The proxy adds no buffering beyond the copy chunk and applies no transcoding,
// remuxing or segmentation; bytes flow through verbatim.
type TSProxy struct {
	cfg        *config.Config
	httpClient *client.HeaderSettingClient
	copyPool   *buffer.CopyPool
}

// NewTSProxy creates the transport proxy sharing the process-wide HTTP client
// and copy buffer pool.
func NewTSProxy(cfg *config.Config, httpClient *client.HeaderSettingClient, copyPool *buffer.CopyPool) *TSProxy {
	return &TSProxy{
		cfg:        cfg,
		httpClient: httpClient,
		copyPool:   copyPool,
	}
}

// corsHeaders applies the permissive cross-origin policy on every response,
// success and error alike, so failures remain readable to the client.
func corsHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Range, Content-Type")
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// ServeOptions answers the CORS preflight with the permissive policy and an
// empty body.
func (tp *TSProxy) ServeOptions(w http.ResponseWriter, r *http.Request) {
	corsHeaders(w)
	w.WriteHeader(http.StatusOK)
}

// ServeStream fetches the upstream URL given in the "u" query parameter and
// relays its body to the client. The upstream request carries no overall
// timeout: live TS streams are unbounded and run until either side
// disconnects.
func (tp *TSProxy) ServeStream(w http.ResponseWriter, r *http.Request) {
	crw := client.NewCustomResponseWriter(w)
	corsHeaders(crw)

	streamURL := r.URL.Query().Get("u")
	if streamURL == "" {
		writeJSONError(crw, http.StatusBadRequest, "URL parameter required")
		return
	}

	logger.Debug("{proxy - ServeStream} Proxying stream: %s", utils.LogURL(tp.cfg, streamURL))

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, streamURL, nil)
	if err != nil {
		metrics.StreamErrors.WithLabelValues("proxy").Inc()
		writeJSONError(crw, http.StatusBadGateway, "Failed to fetch stream")
		return
	}

	// forward the client's range request, if any
	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := tp.httpClient.Do(req)
	if err != nil {
		logger.Warn("{proxy - ServeStream} Upstream fetch failed for %s: %v", utils.LogURL(tp.cfg, streamURL), err)
		metrics.StreamErrors.WithLabelValues("proxy").Inc()
		writeJSONError(crw, http.StatusBadGateway, "Failed to fetch stream")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		logger.Warn("{proxy - ServeStream} Upstream returned HTTP %d for %s", resp.StatusCode, utils.LogURL(tp.cfg, streamURL))
		metrics.StreamErrors.WithLabelValues("proxy").Inc()
		writeJSONError(crw, http.StatusBadGateway, "Failed to fetch stream")
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp2t"
	}
	crw.Header().Set("Content-Type", contentType)
	crw.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	crw.WriteHeader(resp.StatusCode)

	buf := tp.copyPool.Get()
	defer tp.copyPool.Put(buf)

	var relayed int64
	for {
		n, readErr := resp.Body.Read(buf.B)
		if n > 0 {
			if _, writeErr := crw.Write(buf.B[:n]); writeErr != nil {
				// client went away, normal for live streams
				logger.Debug("{proxy - ServeStream} Client disconnected after %d bytes", relayed)
				return
			}
			relayed += int64(n)
			metrics.ProxiedBytes.Add(float64(n))
			crw.Flush()
		}
		if readErr != nil {
			if readErr != io.EOF {
				logger.Debug("{proxy - ServeStream} Upstream read ended: %v", readErr)
			}
			logger.Debug("{proxy - ServeStream} Stream finished with HTTP %d, relayed %d bytes", crw.StatusCode(), relayed)
			return
		}
	}
}
