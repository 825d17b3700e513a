package portal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"stalker-player/work/cache"
	"stalker-player/work/client"
	"stalker-player/work/config"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func portalConfig(serverURL string) *config.Config {
	return &config.Config{
		PortalURL:         serverURL,
		MACAddress:        "00:1A:79:AA:BB:CC",
		UserAgent:         "test-agent",
		PortalTimeout:     5 * time.Second,
		RequestsPerSecond: 100,
		CacheEnabled:      false,
		CacheDuration:     time.Minute,
	}
}

func newPortal(cfg *config.Config) *Portal {
	return New(cfg, client.NewHeaderSettingClient(cfg), cache.NewCache(cfg.CacheDuration))
}

func stalkerHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		w.Header().Set("Content-Type", "application/json")

		switch {
		case q.Get("type") == "account_info":
			w.Write([]byte(`{"js":{"phone":"190","max_connections":"2","account":{"login":"user1"}}}`))
		case q.Get("action") == "get_genres":
			w.Write([]byte(`{"js":[{"id":"1","title":"News"},{"id":"5","title":"Sports"}]}`))
		case q.Get("action") == "get_all_channels":
			w.Write([]byte(`{"js":{"data":[
				{"id":"200","name":"CNN","number":"12","logo":"cnn.png","cmd":"ffmpeg http://portal/ch/200","tv_genre_id":"1"},
				{"id":"201","name":"ESPN","number":"03","logo":"espn.png","cmd":"ffmpeg http://portal/ch/201","tv_genre_id":"5"}
			]}}`))
		case q.Get("action") == "get_categories" && q.Get("type") == "vod":
			w.Write([]byte(`{"js":[{"id":"10","title":"Action"}]}`))
		case q.Get("action") == "get_ordered_list" && q.Get("type") == "vod":
			w.Write([]byte(`{"js":{"data":[{"id":"900","name":"Some Movie","cmd":"auto /media/900.mpg","year":"2021"}]}}`))
		case q.Get("action") == "get_categories" && q.Get("type") == "series":
			w.Write([]byte(`{"js":[{"id":"20","title":"Drama"}]}`))
		case q.Get("action") == "get_ordered_list" && q.Get("movie_id") != "":
			assert.Equal(t, "added", q.Get("sortby"))
			w.Write([]byte(`{"js":{"data":[
				{"id":"300","name":"1","series":[1,2],"year":"2020"},
				{"id":"301","series":[1]}
			]}}`))
		case q.Get("action") == "get_ordered_list" && q.Get("type") == "series":
			w.Write([]byte(`{"js":{"data":[{"id":"300","name":"Some Show","cmd":"auto /media/300"}]}}`))
		case q.Get("action") == "create_link" && q.Get("type") == "itv":
			w.Write([]byte(`{"js":{"cmd":"ffmpeg http://origin.example/live/200.ts?token=abc"}}`))
		case q.Get("action") == "create_link" && q.Get("type") == "vod":
			assert.Equal(t, "1", q.Get("disable_ad"))
			w.Write([]byte(`{"js":{"cmd":"auto http://origin.example/vod/900.mpg?token=xyz"}}`))
		default:
			t.Errorf("unexpected portal request: %s", r.URL)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func TestAccountInfo(t *testing.T) {
	srv := httptest.NewServer(stalkerHandler(t))
	defer srv.Close()

	info, err := newPortal(portalConfig(srv.URL)).AccountInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "190", info.Phone)
	assert.Equal(t, "2", info.MaxConnections)
	assert.Equal(t, "user1", info.Account.Login)
}

func TestAccountInfoWithoutEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"phone":"191"}`))
	}))
	defer srv.Close()

	info, err := newPortal(portalConfig(srv.URL)).AccountInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "191", info.Phone)
}

func TestGenresAndChannels(t *testing.T) {
	srv := httptest.NewServer(stalkerHandler(t))
	defer srv.Close()
	p := newPortal(portalConfig(srv.URL))

	genres, err := p.Genres(context.Background())
	require.NoError(t, err)
	require.Len(t, genres, 2)
	assert.Equal(t, "News", genres[0].Title)

	channels, err := p.Channels(context.Background())
	require.NoError(t, err)
	require.Len(t, channels, 2)
	assert.Equal(t, "CNN", channels[0].Name)
	assert.Equal(t, "ffmpeg http://portal/ch/200", channels[0].Cmd)
}

func TestVODAndSeriesListings(t *testing.T) {
	srv := httptest.NewServer(stalkerHandler(t))
	defer srv.Close()
	p := newPortal(portalConfig(srv.URL))

	cats, err := p.VODCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, "Action", cats[0].Title)

	items, err := p.VODItems(context.Background(), "10", 1, "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Some Movie", items[0].Name)

	scats, err := p.SeriesCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, scats, 1)

	sitems, err := p.SeriesItems(context.Background(), "20", 1, "")
	require.NoError(t, err)
	require.Len(t, sitems, 1)
}

func TestEpisodesFlattenSeasons(t *testing.T) {
	srv := httptest.NewServer(stalkerHandler(t))
	defer srv.Close()

	episodes, err := newPortal(portalConfig(srv.URL)).Episodes(context.Background(), "300")
	require.NoError(t, err)
	require.Len(t, episodes, 3)

	assert.Equal(t, "300:2", episodes[1].ID)
	assert.Equal(t, "300", episodes[1].SeasonID)
	assert.Equal(t, 2, episodes[1].EpisodeNum)
	assert.Equal(t, "Season 1 Episode 2", episodes[1].Name)
	assert.Equal(t, "/media/300:2.mpg", episodes[1].Cmd)
	assert.Equal(t, "2020", episodes[1].Year)

	// a season without a name falls back to its id
	assert.Equal(t, "Season 301 Episode 1", episodes[2].Name)
}

func TestCreateLinksExtractURL(t *testing.T) {
	srv := httptest.NewServer(stalkerHandler(t))
	defer srv.Close()
	p := newPortal(portalConfig(srv.URL))

	live, err := p.CreateLiveLink(context.Background(), "ffmpeg http://portal/ch/200")
	require.NoError(t, err)
	assert.Equal(t, "http://origin.example/live/200.ts?token=abc", live)

	vod, err := p.CreateVODLink(context.Background(), "auto /media/900.mpg")
	require.NoError(t, err)
	assert.Equal(t, "http://origin.example/vod/900.mpg?token=xyz", vod)
}

func TestCreateLinkRejectsMalformedCmd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"js":{"cmd":"no url in here"}}`))
	}))
	defer srv.Close()

	_, err := newPortal(portalConfig(srv.URL)).CreateLiveLink(context.Background(), "cmd")
	assert.Error(t, err)
}

func TestCatalogCachingAvoidsRepeatRequests(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"js":[{"id":"1","title":"News"}]}`))
	}))
	defer srv.Close()

	cfg := portalConfig(srv.URL)
	cfg.CacheEnabled = true
	p := newPortal(cfg)

	for i := 0; i < 3; i++ {
		_, err := p.Genres(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestCatalogImport(t *testing.T) {
	srv := httptest.NewServer(stalkerHandler(t))
	defer srv.Close()

	pool, err := ants.NewPool(4)
	require.NoError(t, err)
	defer pool.Release()

	catalog := NewCatalog(newPortal(portalConfig(srv.URL)), pool)
	require.NoError(t, catalog.Import(context.Background()))

	channels := catalog.Channels()
	require.Len(t, channels, 2)
	assert.Equal(t, "ESPN", channels[0].Name, "sorted by channel number")

	require.NotNil(t, catalog.Channel("200"))
	assert.Nil(t, catalog.Channel("999"))

	sports := catalog.ChannelsByGenre("5")
	require.Len(t, sports, 1)
	assert.Equal(t, "ESPN", sports[0].Name)

	assert.Len(t, catalog.Genres(), 2)
	assert.False(t, catalog.LastImport().IsZero())

	catalog.Stop()
	catalog.Stop() // idempotent
}
