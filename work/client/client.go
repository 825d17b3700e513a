package client

import (
	"net/http"
	"time"

	"stalker-player/work/config"
)

// HeaderSettingClient wraps http.Client to automatically set the request
// headers IPTV portals expect. Most Stalker-style middlewares reject requests
// without a browser-like User-Agent, and some upstream origins validate the
// Accept header on stream fetches.
type HeaderSettingClient struct {
	Client *http.Client
	config *config.Config
}

// NewHeaderSettingClient builds a client suitable for both short portal API
// calls and unbounded stream fetches. There is intentionally no overall
// timeout: live streams run until cancelled. Short-lived calls bound
// themselves with a request context instead.
func NewHeaderSettingClient(config *config.Config) *HeaderSettingClient {
	client := &http.Client{
		Timeout: 0, // No overall timeout for streaming
		Transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			DisableKeepAlives:     false,
			ResponseHeaderTimeout: 30 * time.Second, // Only timeout for headers
		},
	}

	return &HeaderSettingClient{
		Client: client,
		config: config,
	}
}

// Do sets the standard headers and executes the request. Redirects are
// followed by the underlying http.Client, so resp.Request.URL carries the
// final effective URL after any redirect chain.
func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	hsc.setHeaders(req)
	return hsc.Client.Do(req)
}

func (hsc *HeaderSettingClient) setHeaders(req *http.Request) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", hsc.config.UserAgent)
	}
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Accept", "*/*")
}

// CustomResponseWriter wraps http.ResponseWriter to apply default streaming
// headers exactly once and to expose http.Flusher regardless of wrapping.
type CustomResponseWriter struct {
	http.ResponseWriter
	WroteHeader bool
	statusCode  int
}

func NewCustomResponseWriter(w http.ResponseWriter) *CustomResponseWriter {
	return &CustomResponseWriter{
		ResponseWriter: w,
		WroteHeader:    false,
		statusCode:     0,
	}
}

func (crw *CustomResponseWriter) WriteHeader(statusCode int) {
	if crw.WroteHeader {
		return
	}

	// streaming defaults, applied only where the handler has not chosen its
	// own value
	crw.Header().Set("Connection", "keep-alive")
	if crw.Header().Get("Cache-Control") == "" {
		crw.Header().Set("Cache-Control", "no-cache")
	}

	crw.statusCode = statusCode
	crw.ResponseWriter.WriteHeader(statusCode)
	crw.WroteHeader = true
}

// StatusCode returns the status sent to the client, zero before WriteHeader.
func (crw *CustomResponseWriter) StatusCode() int {
	return crw.statusCode
}

func (crw *CustomResponseWriter) Write(b []byte) (int, error) {
	if !crw.WroteHeader {
		crw.WriteHeader(http.StatusOK)
	}
	return crw.ResponseWriter.Write(b)
}

// Flush implements http.Flusher by delegating to the wrapped writer when it
// supports flushing.
func (crw *CustomResponseWriter) Flush() {
	if flusher, ok := crw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
