package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"stalker-player/work/buffer"
	"stalker-player/work/cache"
	"stalker-player/work/client"
	"stalker-player/work/config"
	"stalker-player/work/middleware"
	"stalker-player/work/player"
	"stalker-player/work/portal"
	"stalker-player/work/proxy"
	"stalker-player/work/resolver"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPool(t *testing.T) *ants.Pool {
	t.Helper()
	pool, err := ants.NewPool(4)
	require.NoError(t, err)
	t.Cleanup(pool.Release)
	return pool
}

// newTestServer wires the full HTTP surface against a fake origin and a fake
// portal, both backed by httptest. Mutators adjust the config before wiring.
func newTestServer(t *testing.T, mutators ...func(*config.Config)) (*httptest.Server, *httptest.Server) {
	t.Helper()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, ".mp4"):
			w.Header().Set("Content-Type", "video/mp4")
			w.Write([]byte("mp4 payload bytes"))
		case strings.HasSuffix(r.URL.Path, "/hold.bin"):
			// stays open so the player keeps the stream attached
			w.Write([]byte("held stream bytes"))
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			<-r.Context().Done()
		default:
			w.Write([]byte("stream bytes"))
		}
	}))
	t.Cleanup(origin.Close)

	portalSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		switch {
		case q.Get("action") == "get_genres":
			w.Write([]byte(`{"js":[{"id":"1","title":"News"}]}`))
		case q.Get("action") == "get_all_channels":
			w.Write([]byte(`{"js":{"data":[{"id":"200","name":"CNN","number":"1","cmd":"ffmpeg http://x","tv_genre_id":"1"}]}}`))
		case q.Get("action") == "create_link":
			w.Write([]byte(`{"js":{"cmd":"ffmpeg ` + origin.URL + `/vod/900.mp4"}}`))
		case q.Get("movie_id") != "":
			w.Write([]byte(`{"js":{"data":[{"id":"300","name":"1","series":[1,2,3]}]}}`))
		default:
			w.Write([]byte(`{"js":{}}`))
		}
	}))
	t.Cleanup(portalSrv.Close)

	cfg := &config.Config{
		BaseURL:            origin.URL, // unused by these tests beyond URL building
		PortalURL:          portalSrv.URL,
		MACAddress:         "00:1A:79:AA:BB:CC",
		UserAgent:          "test-agent",
		ResolveTimeout:     5 * time.Second,
		PortalTimeout:      5 * time.Second,
		EngineReadyTimeout: 5 * time.Second,
		RequestsPerSecond:  100,
		SurfaceBufferSize:  1,
		Autoplay:           true,
	}
	for _, mutate := range mutators {
		mutate(cfg)
	}

	httpClient := client.NewHeaderSettingClient(cfg)
	copyPool := buffer.NewCopyPool(8 * 1024)

	res := resolver.New(cfg, httpClient)
	tsProxy := proxy.NewTSProxy(cfg, httpClient, copyPool)
	surface := player.NewSurface(cfg)
	pl := player.New(cfg, res, player.NewEngineFactory(cfg, httpClient, copyPool), surface)
	t.Cleanup(pl.Close)

	portalClient := portal.New(cfg, httpClient, cache.NewCache(time.Minute))
	catalog := portal.NewCatalog(portalClient, testPool(t))
	require.NoError(t, catalog.Import(context.Background()))
	t.Cleanup(catalog.Stop)

	router := mux.NewRouter()
	New(cfg, res, tsProxy, pl, portalClient, catalog).Register(router, middleware.Compression)

	gateway := httptest.NewServer(router)
	t.Cleanup(gateway.Close)

	return gateway, origin
}

func getJSON(t *testing.T, url string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func postJSON(t *testing.T, url, body string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestResolveStreamEndpoint(t *testing.T) {
	gateway, origin := newTestServer(t)

	var res struct {
		OriginalURL string `json:"originalUrl"`
		ResolvedURL string `json:"resolvedUrl"`
		Status      int    `json:"status"`
	}
	resp := getJSON(t, gateway.URL+"/api/resolve-stream?url="+origin.URL+"/live/1", &res)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, origin.URL+"/live/1", res.OriginalURL)
	assert.Equal(t, origin.URL+"/live/1", res.ResolvedURL)
	assert.Equal(t, http.StatusOK, res.Status)
}

func TestResolveStreamRequiresURL(t *testing.T) {
	gateway, _ := newTestServer(t)

	resp := getJSON(t, gateway.URL+"/api/resolve-stream", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPlayStatusStopRoundTrip(t *testing.T) {
	gateway, origin := newTestServer(t)

	var status player.PlayerStatus
	resp := postJSON(t, gateway.URL+"/api/player/play",
		`{"url":"`+origin.URL+`/vod/movie.mp4","title":"Movie","subtitle":"2021"}`, &status)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "Movie", status.Store.Title)

	require.Eventually(t, func() bool {
		var s player.PlayerStatus
		getJSON(t, gateway.URL+"/api/player/status", &s)
		return s.State == "playing" || s.State == "idle" // short file may already have ended
	}, 3*time.Second, 20*time.Millisecond)

	postJSON(t, gateway.URL+"/api/player/stop", `{}`, &status)
	assert.Equal(t, "idle", status.State)
	assert.Equal(t, "Stream stopped", status.Store.Title)
}

func TestPlayRequiresURL(t *testing.T) {
	gateway, _ := newTestServer(t)

	resp := postJSON(t, gateway.URL+"/api/player/play", `{"title":"x"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPlayCommandCreatesLinkAndPlays(t *testing.T) {
	gateway, _ := newTestServer(t)

	var status player.PlayerStatus
	resp := postJSON(t, gateway.URL+"/api/player/play-command",
		`{"cmd":"ffmpeg http://x","kind":"vod","title":"Movie"}`, &status)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Contains(t, status.Store.StreamURL, "/vod/900.mp4")
}

func TestMinimizeToggle(t *testing.T) {
	gateway, _ := newTestServer(t)

	var status player.PlayerStatus
	postJSON(t, gateway.URL+"/api/player/minimize", `{}`, &status)
	assert.True(t, status.Store.IsMinimized)

	postJSON(t, gateway.URL+"/api/player/minimize", `{}`, &status)
	assert.False(t, status.Store.IsMinimized)
}

func TestCatalogEndpoints(t *testing.T) {
	gateway, _ := newTestServer(t)

	var genres []portal.Genre
	getJSON(t, gateway.URL+"/api/genres", &genres)
	require.Len(t, genres, 1)
	assert.Equal(t, "News", genres[0].Title)

	var channels []portal.Channel
	getJSON(t, gateway.URL+"/api/channels", &channels)
	require.Len(t, channels, 1)
	assert.Equal(t, "CNN", channels[0].Name)

	getJSON(t, gateway.URL+"/api/channels?genre=999", &channels)
	assert.Empty(t, channels)
}

func TestChannelByID(t *testing.T) {
	gateway, _ := newTestServer(t)

	var channel portal.Channel
	resp := getJSON(t, gateway.URL+"/api/channels/200", &channel)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "CNN", channel.Name)

	resp = getJSON(t, gateway.URL+"/api/channels/999", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCatalogStatusEndpoint(t *testing.T) {
	gateway, _ := newTestServer(t)

	var status struct {
		Channels   int       `json:"channels"`
		Genres     int       `json:"genres"`
		LastImport time.Time `json:"lastImport"`
	}
	getJSON(t, gateway.URL+"/api/catalog/status", &status)

	assert.Equal(t, 1, status.Channels)
	assert.Equal(t, 1, status.Genres)
	assert.False(t, status.LastImport.IsZero())
}

func TestSeriesEpisodesEndpoint(t *testing.T) {
	gateway, _ := newTestServer(t)

	resp := getJSON(t, gateway.URL+"/api/series/episodes", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var episodes []portal.Episode
	getJSON(t, gateway.URL+"/api/series/episodes?series=300", &episodes)
	require.Len(t, episodes, 3)
	assert.Equal(t, "300:1", episodes[0].ID)
	assert.Equal(t, "/media/300:1.mpg", episodes[0].Cmd)
}

func TestResumeEndpointStartsBlockedPlayback(t *testing.T) {
	gateway, origin := newTestServer(t, func(cfg *config.Config) {
		cfg.Autoplay = false
	})

	postJSON(t, gateway.URL+"/api/player/play",
		`{"url":"`+origin.URL+`/vod/hold.bin","title":"Held"}`, nil)

	require.Eventually(t, func() bool {
		var s player.PlayerStatus
		getJSON(t, gateway.URL+"/api/player/status", &s)
		return s.State == "waiting"
	}, 3*time.Second, 20*time.Millisecond)

	var status player.PlayerStatus
	resp := postJSON(t, gateway.URL+"/api/player/resume", `{}`, &status)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "playing", status.State)
}

func TestBufferPreviewEndpoint(t *testing.T) {
	gateway, origin := newTestServer(t)

	postJSON(t, gateway.URL+"/api/player/play",
		`{"url":"`+origin.URL+`/vod/hold.bin","title":"Held"}`, nil)

	require.Eventually(t, func() bool {
		resp, err := http.Get(gateway.URL + "/api/player/buffer")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return string(body) == "held stream bytes"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestNotificationsEndpoint(t *testing.T) {
	gateway, _ := newTestServer(t)

	var notifications []player.Notification
	resp := getJSON(t, gateway.URL+"/api/player/notifications", &notifications)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, notifications)
}

func TestTSProxyThroughRouter(t *testing.T) {
	gateway, origin := newTestServer(t)

	resp, err := http.Get(gateway.URL + "/api/ts-proxy?u=" + origin.URL + "/live/1.ts")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
