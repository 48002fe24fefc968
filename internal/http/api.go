package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"karaoke/internal/core"
	"karaoke/internal/flood"
	"karaoke/internal/i18n"
	"karaoke/internal/party"
)

const (
	maxBodyBytes   = 1 << 20
	clientIDHeader = "X-Client-ID"
)

// API serves the party operations under /api/parties/{party}.
type API struct {
	parties  *party.Registry
	gate     *flood.Gate
	language string
	metrics  *Metrics
	logger   *zap.Logger
}

// NewAPI creates the party API. gate and metrics may be nil.
func NewAPI(parties *party.Registry, gate *flood.Gate, language string, metrics *Metrics, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	if language == "" {
		language = i18n.DefaultLanguage
	}
	return &API{
		parties:  parties,
		gate:     gate,
		language: language,
		metrics:  metrics,
		logger:   logger,
	}
}

// Register adds every party route to mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/parties", a.handleParties)
	mux.HandleFunc("GET /api/parties/{party}", a.read(a.handleView))
	mux.HandleFunc("GET /api/parties/{party}/subscribe", a.handleSubscribe)

	mux.HandleFunc("GET /api/parties/{party}/queue", a.read(a.handleQueue))
	mux.HandleFunc("POST /api/parties/{party}/queue", a.write(a.handleEnqueue))
	mux.HandleFunc("DELETE /api/parties/{party}/queue/{key}", a.write(a.handleDequeue))
	mux.HandleFunc("PUT /api/parties/{party}/queue/order", a.write(a.handleReorder))
	mux.HandleFunc("POST /api/parties/{party}/queue/{key}/move", a.write(a.handleMove))
	mux.HandleFunc("POST /api/parties/{party}/advance", a.write(a.handleAdvance))
	mux.HandleFunc("POST /api/parties/{party}/reconcile", a.write(a.handleReconcile))

	mux.HandleFunc("GET /api/parties/{party}/history", a.read(a.handleHistory))
	mux.HandleFunc("DELETE /api/parties/{party}/history", a.write(a.handleRemovePlay))
	mux.HandleFunc("GET /api/parties/{party}/top-played", a.read(a.handleTopPlayed))
	mux.HandleFunc("POST /api/parties/{party}/top-played/recompute", a.write(a.handleRecompute))

	mux.HandleFunc("GET /api/parties/{party}/singers", a.read(a.handleSingers))
	mux.HandleFunc("POST /api/parties/{party}/singers", a.write(a.handleJoin))
	mux.HandleFunc("DELETE /api/parties/{party}/singers/{name}", a.write(a.handleLeave))

	mux.HandleFunc("GET /api/parties/{party}/favorites", a.read(a.handleFavorites))
	mux.HandleFunc("POST /api/parties/{party}/favorites", a.write(a.handleMarkFavorite))
	mux.HandleFunc("DELETE /api/parties/{party}/favorites", a.write(a.handleUnmarkFavorite))

	mux.HandleFunc("GET /api/parties/{party}/disabled", a.read(a.handleDisabled))
	mux.HandleFunc("POST /api/parties/{party}/disabled", a.write(a.handleDisable))
	mux.HandleFunc("DELETE /api/parties/{party}/disabled", a.write(a.handleEnable))

	mux.HandleFunc("GET /api/parties/{party}/songs", a.read(a.handleSongs))
	mux.HandleFunc("GET /api/parties/{party}/state", a.read(a.handleState))
	mux.HandleFunc("PUT /api/parties/{party}/state", a.write(a.handleSetState))
	mux.HandleFunc("GET /api/parties/{party}/settings", a.read(a.handleSettings))
	mux.HandleFunc("PUT /api/parties/{party}/settings", a.write(a.handleUpdateSettings))
}

type partyHandler func(w http.ResponseWriter, r *http.Request, c *party.Controller)

// read resolves the party controller for r and holds it for the request.
func (a *API) read(next partyHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, release, err := a.parties.Get(r.Context(), r.PathValue("party"))
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		defer release()
		next(w, r, c)
	}
}

// write is read plus flood control.
func (a *API) write(next partyHandler) http.HandlerFunc {
	resolve := a.read(next)
	return func(w http.ResponseWriter, r *http.Request) {
		if a.gate != nil && !a.gate.Allow(r.PathValue("party"), clientID(r)) {
			if a.metrics != nil {
				a.metrics.RecordRateLimited()
			}
			a.writeError(w, r, core.ErrRateLimited)
			return
		}
		resolve(w, r)
	}
}

// clientID prefers the explicit client header and falls back to the remote
// host.
func clientID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(clientIDHeader)); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// localizer honours ?lang= over Accept-Language and falls back to the
// configured language.
func (a *API) localizer(r *http.Request) *i18n.Localizer {
	return i18n.Negotiate(a.language, r.URL.Query().Get("lang"), r.Header.Get("Accept-Language"))
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, core.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrSongDisabled):
		return http.StatusForbidden
	case errors.Is(err, core.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, core.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	a.writeErrorKey(w, r, err, "")
}

// writeErrorKey answers with the localized message for key, or for the
// error's status when key is empty.
func (a *API) writeErrorKey(w http.ResponseWriter, r *http.Request, err error, key string) {
	status := core.ErrorStatus(err)
	code := statusCode(err)
	l := a.localizer(r)
	message := l.Error(status)
	if key != "" {
		message = l.T(key)
	}

	resp := errorResponse{
		Error:   status,
		Message: message,
	}
	if code < http.StatusInternalServerError {
		resp.Detail = err.Error()
	} else {
		a.logger.Warn("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("code", code),
			zap.Error(err))
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		a.writeError(w, r, fmt.Errorf("%w: %v", core.ErrInvalid, err))
		return false
	}
	return true
}

type messageResponse struct {
	Message string `json:"message"`
}

func songLabel(l *i18n.Localizer, song core.SongRef) string {
	return l.Song(song.Artist, song.Title, song.Path)
}

func (a *API) handleParties(w http.ResponseWriter, _ *http.Request) {
	parties := a.parties.Parties()
	if parties == nil {
		parties = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"parties": parties})
}

func (a *API) handleView(w http.ResponseWriter, _ *http.Request, c *party.Controller) {
	writeJSON(w, http.StatusOK, newViewPayload(c.View()))
}

// Queue

type queueItemPayload struct {
	Key string `json:"key"`
	core.QueueItem
}

func keyedQueue(items []core.QueueItem) []queueItemPayload {
	out := make([]queueItemPayload, 0, len(items))
	for _, item := range items {
		out = append(out, queueItemPayload{Key: item.Key, QueueItem: item})
	}
	return out
}

func (a *API) handleQueue(w http.ResponseWriter, r *http.Request, c *party.Controller) {
	items, err := c.Queue(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, keyedQueue(items))
}

type enqueueRequest struct {
	Singer string       `json:"singer"`
	Song   core.SongRef `json:"song"`
}

type enqueueResponse struct {
	Item    queueItemPayload `json:"item"`
	Message string           `json:"message"`
}

func (a *API) handleEnqueue(w http.ResponseWriter, r *http.Request, c *party.Controller) {
	var req enqueueRequest
	if !a.decode(w, r, &req) {
		return
	}

	item, err := c.Enqueue(r.Context(), req.Singer, req.Song)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	l := a.localizer(r)
	writeJSON(w, http.StatusCreated, enqueueResponse{
		Item:    queueItemPayload{Key: item.Key, QueueItem: item},
		Message: l.T("success.enqueued", item.Singer.Name, item.Order, songLabel(l, item.Song)),
	})
}

func (a *API) handleDequeue(w http.ResponseWriter, r *http.Request, c *party.Controller) {
	item, err := c.Dequeue(r.Context(), r.PathValue("key"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	l := a.localizer(r)
	writeJSON(w, http.StatusOK, messageResponse{Message: l.T("success.dequeued", songLabel(l, item.Song))})
}

type reorderRequest struct {
	Keys []string `json:"keys"`
}

func (a *API) handleReorder(w http.ResponseWriter, r *http.Request, c *party.Controller) {
	var req reorderRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := c.Reorder(r.Context(), req.Keys); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: a.localizer(r).T("success.reordered")})
}

type moveRequest struct {
	Index int `json:"index"`
}

func (a *API) handleMove(w http.ResponseWriter, r *http.Request, c *party.Controller) {
	var req moveRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := c.Move(r.Context(), r.PathValue("key"), req.Index); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: a.localizer(r).T("success.reordered")})
}

func (a *API) handleAdvance(w http.ResponseWriter, r *http.Request, c *party.Controller) {
	item, err := c.Advance(r.Context())
	if errors.Is(err, core.ErrNotFound) {
		a.writeErrorKey(w, r, err, "error.queue_empty")
		return
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	l := a.localizer(r)
	writeJSON(w, http.StatusOK, enqueueResponse{
		Item:    queueItemPayload{Key: item.Key, QueueItem: item},
		Message: l.T("success.now_playing", item.Singer.Name, songLabel(l, item.Song)),
	})
}

func (a *API) handleReconcile(w http.ResponseWriter, r *http.Request, c *party.Controller) {
	if err := c.Reconcile(r.Context()); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// History and top played

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request, c *party.Controller) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			a.writeError(w, r, fmt.Errorf("%w: limit must be a non-negative integer", core.ErrInvalid))
			return
		}
		limit = n
	}

	entries, err := c.History(r.Context(), limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []core.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// songPath reads the song path from the query; paths contain slashes so
// they do not fit a path segment.
func (a *API) songPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	path := strings.TrimSpace(r.URL.Query().Get("path"))
	if path == "" {
		a.writeError(w, r, fmt.Errorf("%w: path query parameter is required", core.ErrInvalid))
		return "", false
	}
	return path, true
}

func (a *API) handleRemovePlay(w http.ResponseWriter, r *http.Request, c *party.Controller) {
	path, ok := a.songPath(w, r)
	if !ok {
		return
	}
	if err := c.RemovePlay(r.Context(), path); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleTopPlayed(w http.ResponseWriter, r *http.Request, c *party.Controller) {
	entries, err := c.TopPlayed(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []core.TopPlayedEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type recomputeResponse struct {
	TopPlayed []core.TopPlayedEntry `json:"topPlayed"`
	Message   string                `json:"message"`
}

func (a *API) handleRecompute(w http.ResponseWriter, r *http.Request, c *party.Controller) {
	entries, err := c.RecomputeTopPlayed(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []core.TopPlayedEntry{}
	}
	writeJSON(w, http.StatusOK, recomputeResponse{
		TopPlayed: entries,
		Message:   a.localizer(r).T("success.top_recomputed", len(entries)),
	})
}

// Singers

type singerPayload struct {
	Key string `json:"key"`
	core.Singer
}

func (a *API) handleSingers(w http.ResponseWriter, r *http.Request, c *party.Controller) {
	singers, err := c.Singers(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]singerPayload, 0, len(singers))
	for _, s := range singers {
		out = append(out, singerPayload{Key: s.Key, Singer: s})
	}
	writeJSON(w, http.StatusOK, out)
}

type joinRequest struct {
	Name string `json:"name"`
}

type joinResponse struct {
	Singer  singerPayload `json:"singer"`
	Message string        `json:"message"`
}

func (a *API) handleJoin(w http.ResponseWriter, r *http.Request, c *party.Controller) {
	var req joinRequest
	if !a.decode(w, r, &req) {
		return
	}
	singer, err := c.JoinSinger(r.Context(), req.Name)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, joinResponse{
		Singer:  singerPayload{Key: singer.Key, Singer: singer},
		Message: a.localizer(r).T("success.singer_joined", singer.Name),
	})
}

func (a *API) handleLeave(w http.ResponseWriter, r *http.Request, c *party.Controller) {
	name := r.PathValue("name")
	if err := c.RemoveSinger(r.Context(), name); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: a.localizer(r).T("success.singer_left", name)})
}

// Favorites and disabled songs

func (a *API) handleFavorites(w http.ResponseWriter, r *http.Request, c *party.Controller) {
	entries, err := c.Favorites(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []core.FavoriteEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *API) handleMarkFavorite(w http.ResponseWriter, r *http.Request, c *party.Controller) {
	var song core.SongRef
	if !a.decode(w, r, &song) {
		return
	}
	if _, err := c.MarkFavorite(r.Context(), song); err != nil {
		a.writeError(w, r, err)
		return
	}
	l := a.localizer(r)
	writeJSON(w, http.StatusCreated, messageResponse{Message: l.T("success.favorite_added", songLabel(l, song))})
}

func (a *API) handleUnmarkFavorite(w http.ResponseWriter, r *http.Request, c *party.Controller) {
	path, ok := a.songPath(w, r)
	if !ok {
		return
	}
	if err := c.UnmarkFavorite(r.Context(), path); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDisabled(w http.ResponseWriter, r *http.Request, c *party.Controller) {
	entries, err := c.DisabledSongs(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []core.DisabledEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *API) handleDisable(w http.ResponseWriter, r *http.Request, c *party.Controller) {
	var song core.SongRef
	if !a.decode(w, r, &song) {
		return
	}
	if err := c.DisableSong(r.Context(), song); err != nil {
		a.writeError(w, r, err)
		return
	}
	l := a.localizer(r)
	writeJSON(w, http.StatusOK, messageResponse{Message: l.T("success.song_disabled", songLabel(l, song))})
}

func (a *API) handleEnable(w http.ResponseWriter, r *http.Request, c *party.Controller) {
	path, ok := a.songPath(w, r)
	if !ok {
		return
	}
	if err := c.EnableSong(r.Context(), path); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: a.localizer(r).T("success.song_enabled", path)})
}

// Catalog and player

func (a *API) handleSongs(w http.ResponseWriter, r *http.Request, c *party.Controller) {
	songs, err := c.Songs(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if songs == nil {
		songs = []core.SongRef{}
	}
	writeJSON(w, http.StatusOK, songs)
}

type stateBody struct {
	State core.PlayerState `json:"state"`
}

func (a *API) handleState(w http.ResponseWriter, r *http.Request, c *party.Controller) {
	state, err := c.State(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stateBody{State: state})
}

func (a *API) handleSetState(w http.ResponseWriter, r *http.Request, c *party.Controller) {
	var req stateBody
	if !a.decode(w, r, &req) {
		return
	}
	if err := c.SetState(r.Context(), req.State); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (a *API) handleSettings(w http.ResponseWriter, r *http.Request, c *party.Controller) {
	settings, err := c.Settings(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (a *API) handleUpdateSettings(w http.ResponseWriter, r *http.Request, c *party.Controller) {
	var settings core.PlayerSettings
	if !a.decode(w, r, &settings) {
		return
	}
	if err := c.UpdateSettings(r.Context(), settings); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}
