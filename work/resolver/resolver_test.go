package resolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stalker-player/work/client"
	"stalker-player/work/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		ResolveTimeout: 5 * time.Second,
		UserAgent:      "test-agent",
	}
}

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	cfg := testConfig()
	return New(cfg, client.NewHeaderSettingClient(cfg))
}

func TestResolveFollowsRedirectChain(t *testing.T) {
	var gotRange string

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.WriteHeader(http.StatusOK)
	}))
	defer origin.Close()

	middle := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, origin.URL+"/stream/abc123.ts", http.StatusFound)
	}))
	defer middle.Close()

	entry := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, middle.URL+"/hop", http.StatusMovedPermanently)
	}))
	defer entry.Close()

	res := newResolver(t).Resolve(context.Background(), entry.URL+"/play/live.php?mac=x&stream=1")

	assert.Equal(t, StatusResolved, res.Status)
	assert.Equal(t, origin.URL+"/stream/abc123.ts", res.ResolvedURL)
	assert.Equal(t, http.StatusOK, res.HTTPStatus)
	assert.Equal(t, "bytes=0-0", gotRange, "probe should request a single byte")
}

func TestResolveWithoutRedirectReturnsSameURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPartialContent)
	}))
	defer srv.Close()

	url := srv.URL + "/stream/200.ts"
	res := newResolver(t).Resolve(context.Background(), url)

	assert.Equal(t, StatusResolved, res.Status)
	assert.Equal(t, url, res.ResolvedURL)
	assert.Equal(t, http.StatusPartialContent, res.HTTPStatus)
}

func TestResolveFallsBackOnRequestFailure(t *testing.T) {
	// Closed server: connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL + "/stream/1.ts"
	srv.Close()

	res := newResolver(t).Resolve(context.Background(), url)

	assert.Equal(t, StatusFellBack, res.Status)
	assert.Equal(t, url, res.ResolvedURL, "failed resolution must fall back to the original URL")
	require.Error(t, res.Err)
}

func TestResolveSkipsDirectVideoFiles(t *testing.T) {
	cfg := testConfig()
	hsc := client.NewHeaderSettingClient(cfg)
	hsc.Client.Transport = roundTripFunc(func(r *http.Request) (*http.Response, error) {
		t.Fatalf("direct file URL must not be fetched, got request for %s", r.URL)
		return nil, nil
	})
	r := New(cfg, hsc)

	for _, url := range []string{
		"http://example.com/vod/movie.mkv",
		"http://example.com/vod/movie.MP4",
		"http://example.com/media/old.avi",
		"http://example.com/media/old.mpg",
		"http://example.com/media/old.mpeg",
	} {
		res := r.Resolve(context.Background(), url)
		assert.Equal(t, StatusDirectFile, res.Status, url)
		assert.Equal(t, url, res.ResolvedURL, url)
		assert.Zero(t, res.HTTPStatus, url)
	}
}

func TestResolveHonorsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.ResolveTimeout = 50 * time.Millisecond
	r := New(cfg, client.NewHeaderSettingClient(cfg))

	start := time.Now()
	res := r.Resolve(context.Background(), srv.URL+"/slow")
	assert.Equal(t, StatusFellBack, res.Status)
	assert.Less(t, time.Since(start), 2*time.Second)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
