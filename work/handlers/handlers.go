package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"stalker-player/work/config"
	"stalker-player/work/logger"
	"stalker-player/work/player"
	"stalker-player/work/portal"
	"stalker-player/work/proxy"
	"stalker-player/work/resolver"

	"github.com/gorilla/mux"
)

// Handlers bundles the HTTP surface of the gateway: stream resolution, the
// TS transport proxy, playback control and the portal catalog.
type Handlers struct {
	cfg      *config.Config
	resolver *resolver.Resolver
	tsProxy  *proxy.TSProxy
	player   *player.Player
	portal   *portal.Portal
	catalog  *portal.Catalog
}

func New(cfg *config.Config, res *resolver.Resolver, tsProxy *proxy.TSProxy, pl *player.Player, p *portal.Portal, catalog *portal.Catalog) *Handlers {
	return &Handlers{
		cfg:      cfg,
		resolver: res,
		tsProxy:  tsProxy,
		player:   pl,
		portal:   p,
		catalog:  catalog,
	}
}

// Register wires every route onto the router. The TS proxy stays outside the
// api subrouter's middleware so stream bytes are never gzipped.
func (h *Handlers) Register(router *mux.Router, apiMiddleware ...mux.MiddlewareFunc) {
	router.HandleFunc("/api/ts-proxy", h.HandleTSProxy).Methods(http.MethodGet)
	router.HandleFunc("/api/ts-proxy", h.HandleTSProxyOptions).Methods(http.MethodOptions)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(apiMiddleware...)

	api.HandleFunc("/resolve-stream", h.HandleResolveStream).Methods(http.MethodGet)

	api.HandleFunc("/player/play", h.HandlePlay).Methods(http.MethodPost)
	api.HandleFunc("/player/play-command", h.HandlePlayCommand).Methods(http.MethodPost)
	api.HandleFunc("/player/resume", h.HandleResume).Methods(http.MethodPost)
	api.HandleFunc("/player/stop", h.HandleStop).Methods(http.MethodPost)
	api.HandleFunc("/player/minimize", h.HandleMinimize).Methods(http.MethodPost)
	api.HandleFunc("/player/status", h.HandleStatus).Methods(http.MethodGet)
	api.HandleFunc("/player/buffer", h.HandleBufferPreview).Methods(http.MethodGet)
	api.HandleFunc("/player/notifications", h.HandleNotifications).Methods(http.MethodGet)

	api.HandleFunc("/account", h.HandleAccount).Methods(http.MethodGet)
	api.HandleFunc("/catalog/status", h.HandleCatalogStatus).Methods(http.MethodGet)
	api.HandleFunc("/genres", h.HandleGenres).Methods(http.MethodGet)
	api.HandleFunc("/channels", h.HandleChannels).Methods(http.MethodGet)
	api.HandleFunc("/channels/{id}", h.HandleChannel).Methods(http.MethodGet)
	api.HandleFunc("/vod/categories", h.HandleVODCategories).Methods(http.MethodGet)
	api.HandleFunc("/vod/items", h.HandleVODItems).Methods(http.MethodGet)
	api.HandleFunc("/series/categories", h.HandleSeriesCategories).Methods(http.MethodGet)
	api.HandleFunc("/series/items", h.HandleSeriesItems).Methods(http.MethodGet)
	api.HandleFunc("/series/episodes", h.HandleSeriesEpisodes).Methods(http.MethodGet)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// resolveResponse is the resolve-stream API payload. resolvedUrl always
// carries a usable URL, the original one when resolution failed.
type resolveResponse struct {
	OriginalURL string `json:"originalUrl"`
	ResolvedURL string `json:"resolvedUrl"`
	Status      int    `json:"status"`
	Error       string `json:"error,omitempty"`
}

// HandleResolveStream resolves a stream URL server-side and reports the
// final URL.
func (h *Handlers) HandleResolveStream(w http.ResponseWriter, r *http.Request) {
	streamURL := r.URL.Query().Get("url")
	if streamURL == "" {
		writeError(w, http.StatusBadRequest, "URL parameter required")
		return
	}

	res := h.resolver.Resolve(r.Context(), streamURL)

	resp := resolveResponse{
		OriginalURL: res.OriginalURL,
		ResolvedURL: res.ResolvedURL,
		Status:      res.HTTPStatus,
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleTSProxy relays a raw TS stream with permissive CORS headers.
func (h *Handlers) HandleTSProxy(w http.ResponseWriter, r *http.Request) {
	h.tsProxy.ServeStream(w, r)
}

// HandleTSProxyOptions answers the CORS preflight.
func (h *Handlers) HandleTSProxyOptions(w http.ResponseWriter, r *http.Request) {
	h.tsProxy.ServeOptions(w, r)
}

type playRequest struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
}

// HandlePlay starts playback of a stream URL.
func (h *Handlers) HandlePlay(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	h.player.Play(req.URL, req.Title, req.Subtitle)
	writeJSON(w, http.StatusAccepted, h.player.Status())
}

type playCommandRequest struct {
	Cmd      string `json:"cmd"`
	Kind     string `json:"kind"` // "live", "vod" or "series"
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
}

// HandlePlayCommand exchanges a portal cmd for a stream link and starts
// playback in one call.
func (h *Handlers) HandlePlayCommand(w http.ResponseWriter, r *http.Request) {
	var req playCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Cmd == "" {
		writeError(w, http.StatusBadRequest, "cmd is required")
		return
	}

	var streamURL string
	var err error
	switch req.Kind {
	case "vod":
		streamURL, err = h.portal.CreateVODLink(r.Context(), req.Cmd)
	case "series":
		streamURL, err = h.portal.CreateSeriesLink(r.Context(), req.Cmd)
	default:
		streamURL, err = h.portal.CreateLiveLink(r.Context(), req.Cmd)
	}
	if err != nil {
		logger.Warn("{handlers - HandlePlayCommand} Link creation failed: %v", err)
		writeError(w, http.StatusBadGateway, "failed to create stream link")
		return
	}

	h.player.Play(streamURL, req.Title, req.Subtitle)
	writeJSON(w, http.StatusAccepted, h.player.Status())
}

// HandleResume starts playback that is waiting on an explicit play action.
func (h *Handlers) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.player.Resume()
	writeJSON(w, http.StatusOK, h.player.Status())
}

// HandleStop stops playback.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	h.player.Stop()
	writeJSON(w, http.StatusOK, h.player.Status())
}

// HandleMinimize toggles the minimized player view.
func (h *Handlers) HandleMinimize(w http.ResponseWriter, r *http.Request) {
	h.player.ToggleMinimize()
	writeJSON(w, http.StatusOK, h.player.Status())
}

// HandleStatus reports the player snapshot.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.player.Status())
}

// maxBufferPreview caps the bytes HandleBufferPreview returns in one call.
const maxBufferPreview = int64(64 * 1024)

// HandleBufferPreview returns the tail of the surface buffer as raw bytes,
// for inspecting what the active engine is actually delivering.
func (h *Handlers) HandleBufferPreview(w http.ResponseWriter, r *http.Request) {
	n := maxBufferPreview
	if raw := r.URL.Query().Get("bytes"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil && parsed > 0 && parsed < n {
			n = parsed
		}
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(h.player.BufferPreview(n))
}

// HandleNotifications returns recent playback notifications, oldest first.
func (h *Handlers) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.player.Notifier().Recent())
}

// HandleAccount returns the portal subscriber record.
func (h *Handlers) HandleAccount(w http.ResponseWriter, r *http.Request) {
	info, err := h.portal.AccountInfo(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// HandleGenres returns the imported genre list.
func (h *Handlers) HandleGenres(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.catalog.Genres())
}

// HandleChannels returns the imported channel list, optionally filtered by
// genre.
func (h *Handlers) HandleChannels(w http.ResponseWriter, r *http.Request) {
	if genreID := r.URL.Query().Get("genre"); genreID != "" {
		writeJSON(w, http.StatusOK, h.catalog.ChannelsByGenre(genreID))
		return
	}
	writeJSON(w, http.StatusOK, h.catalog.Channels())
}

// HandleChannel returns a single channel by ID.
func (h *Handlers) HandleChannel(w http.ResponseWriter, r *http.Request) {
	ch := h.catalog.Channel(mux.Vars(r)["id"])
	if ch == nil {
		writeError(w, http.StatusNotFound, "channel not found")
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

// catalogStatus summarizes the imported catalog. lastImport is the zero time
// when no import has succeeded yet.
type catalogStatus struct {
	Channels   int       `json:"channels"`
	Genres     int       `json:"genres"`
	LastImport time.Time `json:"lastImport"`
}

// HandleCatalogStatus reports the catalog size and import recency.
func (h *Handlers) HandleCatalogStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, catalogStatus{
		Channels:   len(h.catalog.Channels()),
		Genres:     len(h.catalog.Genres()),
		LastImport: h.catalog.LastImport(),
	})
}

// HandleVODCategories returns the movie categories.
func (h *Handlers) HandleVODCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.portal.VODCategories(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

// HandleVODItems returns one page of movies in a category.
func (h *Handlers) HandleVODItems(w http.ResponseWriter, r *http.Request) {
	categoryID := r.URL.Query().Get("category")
	if categoryID == "" {
		writeError(w, http.StatusBadRequest, "category parameter required")
		return
	}

	items, err := h.portal.VODItems(r.Context(), categoryID, pageParam(r), r.URL.Query().Get("search"))
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// HandleSeriesCategories returns the series categories.
func (h *Handlers) HandleSeriesCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.portal.SeriesCategories(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

// HandleSeriesItems returns one page of series in a category.
func (h *Handlers) HandleSeriesItems(w http.ResponseWriter, r *http.Request) {
	categoryID := r.URL.Query().Get("category")
	if categoryID == "" {
		writeError(w, http.StatusBadRequest, "category parameter required")
		return
	}

	items, err := h.portal.SeriesItems(r.Context(), categoryID, pageParam(r), r.URL.Query().Get("search"))
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// HandleSeriesEpisodes returns the flattened episode list for one series.
func (h *Handlers) HandleSeriesEpisodes(w http.ResponseWriter, r *http.Request) {
	seriesID := r.URL.Query().Get("series")
	if seriesID == "" {
		writeError(w, http.StatusBadRequest, "series parameter required")
		return
	}

	episodes, err := h.portal.Episodes(r.Context(), seriesID)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, episodes)
}

func pageParam(r *http.Request) int {
	page, err := strconv.Atoi(r.URL.Query().Get("p"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}
