package resolver

import (
	"context"
	"net/http"

	"stalker-player/work/client"
	"stalker-player/work/config"
	"stalker-player/work/logger"
	"stalker-player/work/metrics"
	"stalker-player/work/utils"

	"github.com/grafana/regexp"
)

// Status describes how a resolution attempt concluded.
type Status int

const (
	StatusResolved   Status = iota // redirect chain followed, final URL captured
	StatusFellBack                 // resolution failed, original URL returned
	StatusDirectFile               // direct video file, resolution skipped entirely
)

// String returns the wire name used in the resolve-stream API response.
func (s Status) String() string {
	switch s {
	case StatusResolved:
		return "resolved"
	case StatusDirectFile:
		return "direct-file"
	default:
		return "fell-back"
	}
}

// ResolvedStream is the outcome of a resolution attempt. ResolvedURL is
// always usable: in the worst case it equals OriginalURL. Not persisted
// anywhere; every play request re-resolves.
type ResolvedStream struct {
	OriginalURL string
	ResolvedURL string
	Status      Status
	HTTPStatus  int   // status code from the final hop, 0 when no request was made
	Err         error // the underlying failure on StatusFellBack, for logging only
}

// directFilePattern matches URLs pointing straight at a video file. These are
// direct VOD file URLs that don't redirect, so following them would only
// waste a request against the origin.
var directFilePattern = regexp.MustCompile(`(?i)\.(mkv|mp4|avi|mpg|mpeg)$`)

// Resolver follows the redirect chain of an opaque portal stream URL to
// obtain the final tokenized URL. Portals hand out URLs that bounce through
// one or more load balancer hops before landing on the media origin; players
// that fetch the pre-redirect URL repeatedly can hit per-token limits.
type Resolver struct {
	cfg        *config.Config
	httpClient *client.HeaderSettingClient
}

// New creates a Resolver using the shared header-setting HTTP client.
func New(cfg *config.Config, httpClient *client.HeaderSettingClient) *Resolver {
	return &Resolver{
		cfg:        cfg,
		httpClient: httpClient,
	}
}

// Resolve follows redirects for originalURL and returns the final effective
// URL. It never fails from the caller's perspective: any error degrades to
// returning the original URL, which only risks playing a pre-redirect URL.
//
// The request is a GET with a one-byte Range rather than a HEAD because many
// IPTV origins do not implement HEAD properly. The call is bounded by the
// configured resolve timeout on top of the caller's context.
func (r *Resolver) Resolve(ctx context.Context, originalURL string) ResolvedStream {

	// direct video files don't redirect, skip resolution entirely
	if directFilePattern.MatchString(originalURL) {
		logger.Debug("{resolver - Resolve} Direct video file detected, skipping resolution: %s", utils.LogURL(r.cfg, originalURL))
		return ResolvedStream{
			OriginalURL: originalURL,
			ResolvedURL: originalURL,
			Status:      StatusDirectFile,
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.cfg.ResolveTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, originalURL, nil)
	if err != nil {
		logger.Warn("{resolver - Resolve} Invalid stream URL, using as-is: %v", err)
		metrics.StreamErrors.WithLabelValues("resolve").Inc()
		return fellBack(originalURL, err)
	}

	// Request only the first byte to minimize transferred data
	req.Header.Set("Range", "bytes=0-0")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		logger.Warn("{resolver - Resolve} Resolution failed for %s: %v", utils.LogURL(r.cfg, originalURL), err)
		metrics.StreamErrors.WithLabelValues("resolve").Inc()
		return fellBack(originalURL, err)
	}
	defer resp.Body.Close()

	// The redirect chain was followed by the client; the request attached to
	// the response carries the final effective URL.
	finalURL := resp.Request.URL.String()
	logger.Debug("{resolver - Resolve} Resolved %s -> %s (HTTP %d)",
		utils.LogURL(r.cfg, originalURL), utils.LogURL(r.cfg, finalURL), resp.StatusCode)

	return ResolvedStream{
		OriginalURL: originalURL,
		ResolvedURL: finalURL,
		Status:      StatusResolved,
		HTTPStatus:  resp.StatusCode,
	}
}

func fellBack(originalURL string, err error) ResolvedStream {
	return ResolvedStream{
		OriginalURL: originalURL,
		ResolvedURL: originalURL,
		Status:      StatusFellBack,
		Err:         err,
	}
}
