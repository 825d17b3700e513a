package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"stalker-player/work/cache"
	"stalker-player/work/client"
	"stalker-player/work/config"
	"stalker-player/work/logger"
	"stalker-player/work/metrics"

	"github.com/grafana/regexp"
	"go.uber.org/ratelimit"
)

// Channel represents a live TV channel as the middleware reports it. The cmd
// field is the opaque command string the portal expects back verbatim when a
// playable link is requested.
type Channel struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Number    string `json:"number"`
	Logo      string `json:"logo"`
	Cmd       string `json:"cmd"`
	TvGenreID string `json:"tv_genre_id"`
}

// Genre is a live TV channel group.
type Genre struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// VODCategory groups on-demand movies.
type VODCategory struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Alias    string `json:"alias,omitempty"`
	Censored string `json:"censored,omitempty"`
}

// VODItem is a single on-demand movie entry.
type VODItem struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ScreenshotURI string `json:"screenshot_uri,omitempty"`
	Screenshot    string `json:"screenshot,omitempty"`
	Icon          string `json:"icon,omitempty"`
	Cmd           string `json:"cmd"`
	Year          string `json:"year,omitempty"`
	Description   string `json:"description,omitempty"`
	RatingIMDB    string `json:"rating_imdb,omitempty"`
	Actors        string `json:"actors,omitempty"`
	Director      string `json:"director,omitempty"`
}

// SeriesCategory groups series.
type SeriesCategory struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Alias    string `json:"alias,omitempty"`
	Censored string `json:"censored,omitempty"`
}

// SeriesItem is a single series entry.
type SeriesItem struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ScreenshotURI string `json:"screenshot_uri,omitempty"`
	Screenshot    string `json:"screenshot,omitempty"`
	Icon          string `json:"icon,omitempty"`
	Cmd           string `json:"cmd"`
	Description   string `json:"description,omitempty"`
	Year          string `json:"year,omitempty"`
	RatingIMDB    string `json:"rating_imdb,omitempty"`
}

// Season is one season row from a series breakdown. The series array holds
// the episode numbers the middleware has on file for that season.
type Season struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Series        []int  `json:"series"`
	ScreenshotURI string `json:"screenshot_uri,omitempty"`
	Screenshot    string `json:"screenshot,omitempty"`
	Description   string `json:"description,omitempty"`
	RatingIMDB    string `json:"rating_imdb,omitempty"`
	Year          string `json:"year,omitempty"`
}

// Episode is a single playable episode flattened out of a season row. Its cmd
// is the media path the VOD create_link endpoint expects for an episode.
type Episode struct {
	ID            string `json:"id"`
	SeasonID      string `json:"seasonId"`
	EpisodeNum    int    `json:"episodeNum"`
	Name          string `json:"name"`
	Cmd           string `json:"cmd"`
	ScreenshotURI string `json:"screenshot_uri,omitempty"`
	Screenshot    string `json:"screenshot,omitempty"`
	Description   string `json:"description,omitempty"`
	RatingIMDB    string `json:"rating_imdb,omitempty"`
	Year          string `json:"year,omitempty"`
}

// AccountInfo is the subscriber record returned by the middleware.
type AccountInfo struct {
	Phone          string `json:"phone,omitempty"`
	MaxConnections string `json:"max_connections,omitempty"`
	Account        struct {
		Login    string `json:"login,omitempty"`
		Password string `json:"password,omitempty"`
	} `json:"account,omitempty"`
}

// apiEnvelope is the standard Stalker response wrapper. Every payload sits
// under a "js" key; its shape varies per action so it stays raw until the
// caller decodes it.
type apiEnvelope struct {
	Js json.RawMessage `json:"js"`
}

// dataEnvelope covers list actions that nest their payload one level deeper
// under js.data.
type dataEnvelope struct {
	Data json.RawMessage `json:"data"`
}

type cmdPayload struct {
	Cmd string `json:"cmd"`
}

// streamURLPattern extracts the playable URL from a create_link cmd string.
// Portals prefix the URL with a player hint such as "ffmpeg " or "auto ".
var streamURLPattern = regexp.MustCompile(`https?://[^\s]+`)

// Portal is the Stalker middleware API client. All calls share one rate
// limiter because middlewares aggressively ban identities that burst
// requests.
type Portal struct {
	cfg        *config.Config
	httpClient *client.HeaderSettingClient
	limiter    ratelimit.Limiter
	cache      *cache.Cache
}

// New creates a Portal client against the configured middleware.
func New(cfg *config.Config, httpClient *client.HeaderSettingClient, catalogCache *cache.Cache) *Portal {
	return &Portal{
		cfg:        cfg,
		httpClient: httpClient,
		limiter:    ratelimit.New(cfg.RequestsPerSecond),
		cache:      catalogCache,
	}
}

// fetch performs a rate-limited GET against the middleware and returns the
// raw body. Catalog responses are cached under the request URL when caching
// is enabled; link creation bypasses the cache entirely.
func (p *Portal) fetch(ctx context.Context, action, requestURL string, cacheable bool) ([]byte, error) {
	if cacheable && p.cfg.CacheEnabled {
		if body, found := p.cache.Get(requestURL); found {
			logger.Debug("{portal - fetch} Cache hit for action %s", action)
			return body, nil
		}
	}

	p.limiter.Take()
	metrics.PortalRequests.WithLabelValues(action).Inc()

	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.PortalTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building portal request for %s: %w", action, err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		metrics.StreamErrors.WithLabelValues("portal").Inc()
		return nil, fmt.Errorf("portal request %s failed: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.StreamErrors.WithLabelValues("portal").Inc()
		return nil, fmt.Errorf("portal request %s returned HTTP %d", action, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading portal response for %s: %w", action, err)
	}

	if cacheable && p.cfg.CacheEnabled {
		p.cache.Set(requestURL, body)
	}

	return body, nil
}

// decodeJs unwraps the js envelope into out. Some middleware builds skip the
// envelope for account_info, so a missing js key falls back to decoding the
// whole body.
func decodeJs(body []byte, out interface{}) error {
	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err == nil && len(env.Js) > 0 && string(env.Js) != "null" {
		return json.Unmarshal(env.Js, out)
	}
	return json.Unmarshal(body, out)
}

// decodeJsData unwraps js.data for list actions.
func decodeJsData(body []byte, out interface{}) error {
	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return err
	}
	if len(env.Js) == 0 || string(env.Js) == "null" {
		return nil
	}
	var inner dataEnvelope
	if err := json.Unmarshal(env.Js, &inner); err != nil {
		return err
	}
	if len(inner.Data) == 0 || string(inner.Data) == "null" {
		return nil
	}
	return json.Unmarshal(inner.Data, out)
}

// AccountInfo fetches the subscriber record.
func (p *Portal) AccountInfo(ctx context.Context) (*AccountInfo, error) {
	requestURL := fmt.Sprintf("%s/portal.php?type=account_info&action=get_main_info&mac=%s",
		p.cfg.PortalURL, p.cfg.MACAddress)

	body, err := p.fetch(ctx, "account_info", requestURL, false)
	if err != nil {
		return nil, err
	}

	var info AccountInfo
	if err := decodeJs(body, &info); err != nil {
		return nil, fmt.Errorf("decoding account info: %w", err)
	}
	return &info, nil
}

// Genres fetches the live TV channel groups.
func (p *Portal) Genres(ctx context.Context) ([]Genre, error) {
	requestURL := fmt.Sprintf("%s/server/load.php?type=itv&action=get_genres&mac=%s&JsHttpRequest=1-xml",
		p.cfg.PortalURL, p.cfg.MACAddress)

	body, err := p.fetch(ctx, "get_genres", requestURL, true)
	if err != nil {
		return nil, err
	}

	var genres []Genre
	if err := decodeJs(body, &genres); err != nil {
		return nil, fmt.Errorf("decoding genres: %w", err)
	}
	return genres, nil
}

// Channels fetches the complete live channel list in one call.
func (p *Portal) Channels(ctx context.Context) ([]Channel, error) {
	requestURL := fmt.Sprintf("%s/server/load.php?type=itv&action=get_all_channels&mac=%s&JsHttpRequest=1-xml",
		p.cfg.PortalURL, p.cfg.MACAddress)

	body, err := p.fetch(ctx, "get_all_channels", requestURL, true)
	if err != nil {
		return nil, err
	}

	var channels []Channel
	if err := decodeJsData(body, &channels); err != nil {
		return nil, fmt.Errorf("decoding channels: %w", err)
	}
	return channels, nil
}

// VODCategories fetches the movie category list.
func (p *Portal) VODCategories(ctx context.Context) ([]VODCategory, error) {
	requestURL := fmt.Sprintf("%s/server/load.php?type=vod&action=get_categories&mac=%s",
		p.cfg.PortalURL, p.cfg.MACAddress)

	body, err := p.fetch(ctx, "vod_categories", requestURL, true)
	if err != nil {
		return nil, err
	}

	var categories []VODCategory
	if err := decodeJs(body, &categories); err != nil {
		return nil, fmt.Errorf("decoding vod categories: %w", err)
	}
	return categories, nil
}

// VODItems fetches one page of movies in a category. An empty search fetches
// the category sorted by recency.
func (p *Portal) VODItems(ctx context.Context, categoryID string, page int, search string) ([]VODItem, error) {
	requestURL := fmt.Sprintf("%s/server/load.php?action=get_ordered_list&category=%s&p=%d&type=vod&sortby=added&mac=%s",
		p.cfg.PortalURL, url.QueryEscape(categoryID), page, p.cfg.MACAddress)
	if search != "" {
		requestURL += "&search=" + url.QueryEscape(search)
	}

	body, err := p.fetch(ctx, "vod_items", requestURL, true)
	if err != nil {
		return nil, err
	}

	var items []VODItem
	if err := decodeJsData(body, &items); err != nil {
		return nil, fmt.Errorf("decoding vod items: %w", err)
	}
	return items, nil
}

// SeriesCategories fetches the series category list.
func (p *Portal) SeriesCategories(ctx context.Context) ([]SeriesCategory, error) {
	requestURL := fmt.Sprintf("%s/server/load.php?type=series&action=get_categories&mac=%s",
		p.cfg.PortalURL, p.cfg.MACAddress)

	body, err := p.fetch(ctx, "series_categories", requestURL, true)
	if err != nil {
		return nil, err
	}

	var categories []SeriesCategory
	if err := decodeJs(body, &categories); err != nil {
		return nil, fmt.Errorf("decoding series categories: %w", err)
	}
	return categories, nil
}

// SeriesItems fetches one page of series in a category.
func (p *Portal) SeriesItems(ctx context.Context, categoryID string, page int, search string) ([]SeriesItem, error) {
	requestURL := fmt.Sprintf("%s/server/load.php?type=series&action=get_ordered_list&category=%s&p=%d&mac=%s",
		p.cfg.PortalURL, url.QueryEscape(categoryID), page, p.cfg.MACAddress)
	if search != "" {
		requestURL += "&search=" + url.QueryEscape(search)
	}

	body, err := p.fetch(ctx, "series_items", requestURL, true)
	if err != nil {
		return nil, err
	}

	var items []SeriesItem
	if err := decodeJsData(body, &items); err != nil {
		return nil, fmt.Errorf("decoding series items: %w", err)
	}
	return items, nil
}

// Episodes fetches the season breakdown for one series and flattens it into
// playable episodes.
func (p *Portal) Episodes(ctx context.Context, seriesID string) ([]Episode, error) {
	requestURL := fmt.Sprintf("%s/server/load.php?movie_id=%s&type=series&action=get_ordered_list&sortby=added&p=1&mac=%s",
		p.cfg.PortalURL, url.QueryEscape(seriesID), p.cfg.MACAddress)

	body, err := p.fetch(ctx, "get_episodes", requestURL, true)
	if err != nil {
		return nil, err
	}

	var seasons []Season
	if err := decodeJsData(body, &seasons); err != nil {
		return nil, fmt.Errorf("decoding episodes for series %s: %w", seriesID, err)
	}

	episodes := make([]Episode, 0)
	for _, season := range seasons {
		seasonName := season.Name
		if seasonName == "" {
			seasonName = season.ID
		}
		for _, num := range season.Series {
			episodes = append(episodes, Episode{
				ID:            fmt.Sprintf("%s:%d", season.ID, num),
				SeasonID:      season.ID,
				EpisodeNum:    num,
				Name:          fmt.Sprintf("Season %s Episode %d", seasonName, num),
				Cmd:           fmt.Sprintf("/media/%s:%d.mpg", season.ID, num),
				ScreenshotURI: season.ScreenshotURI,
				Screenshot:    season.Screenshot,
				Description:   season.Description,
				RatingIMDB:    season.RatingIMDB,
				Year:          season.Year,
			})
		}
	}
	return episodes, nil
}

// CreateLiveLink exchanges a channel cmd for a playable URL. Never cached:
// the returned URLs carry short-lived session tokens.
func (p *Portal) CreateLiveLink(ctx context.Context, cmd string) (string, error) {
	requestURL := fmt.Sprintf("%s/portal.php?type=itv&action=create_link&cmd=%s&mac=%s",
		p.cfg.PortalURL, url.QueryEscape(cmd), p.cfg.MACAddress)

	return p.createLink(ctx, "create_link_live", requestURL)
}

// CreateVODLink exchanges a movie or episode cmd for a playable URL. The
// disable_ad flag skips the middleware's pre-roll injection.
func (p *Portal) CreateVODLink(ctx context.Context, cmd string) (string, error) {
	requestURL := fmt.Sprintf("%s/server/load.php?action=create_link&cmd=%s&type=vod&mac=%s&disable_ad=1",
		p.cfg.PortalURL, url.QueryEscape(cmd), p.cfg.MACAddress)

	return p.createLink(ctx, "create_link_vod", requestURL)
}

// CreateSeriesLink exchanges an episode cmd for a playable URL. The
// middleware serves episodes through the VOD link endpoint.
func (p *Portal) CreateSeriesLink(ctx context.Context, cmd string) (string, error) {
	requestURL := fmt.Sprintf("%s/server/load.php?action=create_link&disable_ad=1&type=vod&cmd=%s&mac=%s",
		p.cfg.PortalURL, url.QueryEscape(cmd), p.cfg.MACAddress)

	return p.createLink(ctx, "create_link_series", requestURL)
}

func (p *Portal) createLink(ctx context.Context, action, requestURL string) (string, error) {
	body, err := p.fetch(ctx, action, requestURL, false)
	if err != nil {
		return "", err
	}

	var payload cmdPayload
	if err := decodeJs(body, &payload); err != nil {
		return "", fmt.Errorf("decoding %s response: %w", action, err)
	}
	if payload.Cmd == "" {
		return "", fmt.Errorf("%s: no stream URL received", action)
	}

	streamURL := streamURLPattern.FindString(payload.Cmd)
	if streamURL == "" {
		return "", fmt.Errorf("%s: invalid stream URL format in %q", action, payload.Cmd)
	}

	logger.Debug("{portal - createLink} %s produced %s", action, streamURL)
	return streamURL, nil
}
