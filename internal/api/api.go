/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/friendsincode/jukebox/internal/events"
	"github.com/friendsincode/jukebox/internal/feedback"
	"github.com/friendsincode/jukebox/internal/jukebox"
	"github.com/friendsincode/jukebox/internal/logbuffer"
	"github.com/friendsincode/jukebox/internal/models"
	"github.com/friendsincode/jukebox/internal/queue"
	"github.com/friendsincode/jukebox/internal/recommend"
	"github.com/friendsincode/jukebox/internal/version"
)

const (
	defaultRequester     = "User"
	defaultRecommendN    = 5
	maxRecommendN        = 50
	maxRequestBodyBytes  = 64 << 10
	defaultSuggestPerMin = 30
	defaultLogLimit      = 500
)

// Jukebox is the service the handlers drive.
type Jukebox interface {
	State() queue.State
	Enqueue(ctx context.Context, text, requestedBy string) (*jukebox.EnqueueResult, error)
	Vote(ctx context.Context, trackID, kind string) (feedback.Result, error)
	ToggleFavorite(ctx context.Context, trackID string) (bool, error)
	Advance(ctx context.Context) *queue.Entry
	Recommendations(ctx context.Context, n int) ([]models.Track, recommend.Intent)
	CreatePlaylist(ctx context.Context, name string) (*models.Playlist, error)
	AddToPlaylist(ctx context.Context, playlistID, trackID string) (*models.PlaylistItem, error)
	ListPlaylists(ctx context.Context) ([]models.Playlist, error)
}

// Options tune the HTTP surface.
type Options struct {
	Version string

	// Updates reports release information on the health endpoint when set.
	Updates func() version.UpdateInfo

	// SuggestRatePerMin limits /api/suggest and the chat hook per client IP.
	// Zero uses the default, negative disables the limit.
	SuggestRatePerMin int

	// Logs backs /api/logs. Nil answers 503.
	Logs *logbuffer.Buffer
}

// API exposes HTTP handlers.
type API struct {
	jukebox  Jukebox
	bus      *events.Bus
	opts     Options
	validate *validator.Validate
	logger   zerolog.Logger
}

// New creates the API router wrapper.
func New(jb Jukebox, bus *events.Bus, opts Options, logger zerolog.Logger) *API {
	if opts.SuggestRatePerMin == 0 {
		opts.SuggestRatePerMin = defaultSuggestPerMin
	}
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &API{
		jukebox:  jb,
		bus:      bus,
		opts:     opts,
		validate: validate,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// Routes registers every endpoint on r.
func (a *API) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", a.handleHealth)
		r.Get("/state", a.handleState)
		r.Get("/events", a.handleEvents)

		r.With(a.suggestLimit()).Post("/suggest", a.handleSuggest)
		r.Post("/vote", a.handleVote)
		r.Post("/favorite/{trackID}", a.handleFavorite)
		r.Post("/next", a.handleNext)
		r.Get("/recommendations", a.handleRecommendations)

		r.Route("/playlists", func(r chi.Router) {
			r.Get("/", a.handlePlaylistsList)
			r.Post("/", a.handlePlaylistsCreate)
			r.Post("/{playlistID}/tracks", a.handlePlaylistAddTrack)
		})

		r.With(a.suggestLimit()).Post("/teams/hook", a.handleTeamsHook)

		r.Get("/logs", a.handleLogs)
		r.Get("/logs/stats", a.handleLogStats)
	})
}

func (a *API) suggestLimit() func(http.Handler) http.Handler {
	if a.opts.SuggestRatePerMin < 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		a.opts.SuggestRatePerMin,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "rate_limited")
		}),
	)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok", "version": a.opts.Version}
	if a.opts.Updates != nil {
		resp["update"] = a.opts.Updates()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleState(w http.ResponseWriter, r *http.Request) {
	state := a.jukebox.State()
	if state.Pending == nil {
		state.Pending = []queue.Entry{}
	}
	writeJSON(w, http.StatusOK, state)
}

type suggestRequest struct {
	Query       string `json:"query" validate:"required,max=300"`
	RequestedBy string `json:"requested_by" validate:"max=64"`
}

func (a *API) handleSuggest(w http.ResponseWriter, r *http.Request) {
	var req suggestRequest
	if !a.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.RequestedBy) == "" {
		req.RequestedBy = defaultRequester
	}

	res, err := a.jukebox.Enqueue(r.Context(), req.Query, req.RequestedBy)
	if err != nil {
		a.writeServiceError(w, err, "suggest")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type voteRequest struct {
	TrackID  string `json:"track_id" validate:"required,max=64"`
	VoteType string `json:"vote_type" validate:"required"`
}

type voteResponse struct {
	Status string `json:"status"`
	Type   string `json:"type"`
	feedback.Result
}

func (a *API) handleVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if !a.decode(w, r, &req) {
		return
	}

	res, err := a.jukebox.Vote(r.Context(), req.TrackID, req.VoteType)
	if err != nil {
		a.writeServiceError(w, err, "vote")
		return
	}
	writeJSON(w, http.StatusOK, voteResponse{Status: "voted", Type: string(res.Kind), Result: res})
}

func (a *API) handleFavorite(w http.ResponseWriter, r *http.Request) {
	trackID := chi.URLParam(r, "trackID")
	if trackID == "" {
		writeError(w, http.StatusBadRequest, "track_id_required")
		return
	}

	favorite, err := a.jukebox.ToggleFavorite(r.Context(), trackID)
	if err != nil {
		a.writeServiceError(w, err, "favorite")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"track_id": trackID, "favorite": favorite})
}

func (a *API) handleNext(w http.ResponseWriter, r *http.Request) {
	entry := a.jukebox.Advance(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"now_playing": entry})
}

func (a *API) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	n := defaultRecommendN
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "invalid_n")
			return
		}
		n = min(parsed, maxRecommendN)
	}

	tracks, intent := a.jukebox.Recommendations(r.Context(), n)
	if tracks == nil {
		tracks = []models.Track{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tracks": tracks, "intent": intent})
}

func (a *API) handlePlaylistsList(w http.ResponseWriter, r *http.Request) {
	playlists, err := a.jukebox.ListPlaylists(r.Context())
	if err != nil {
		a.writeServiceError(w, err, "list_playlists")
		return
	}
	if playlists == nil {
		playlists = []models.Playlist{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"playlists": playlists})
}

type playlistCreateRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

func (a *API) handlePlaylistsCreate(w http.ResponseWriter, r *http.Request) {
	var req playlistCreateRequest
	if !a.decode(w, r, &req) {
		return
	}

	playlist, err := a.jukebox.CreatePlaylist(r.Context(), req.Name)
	if err != nil {
		a.writeServiceError(w, err, "create_playlist")
		return
	}
	writeJSON(w, http.StatusCreated, playlist)
}

type playlistTrackRequest struct {
	TrackID string `json:"track_id" validate:"required,max=64"`
}

func (a *API) handlePlaylistAddTrack(w http.ResponseWriter, r *http.Request) {
	playlistID := chi.URLParam(r, "playlistID")
	var req playlistTrackRequest
	if !a.decode(w, r, &req) {
		return
	}

	item, err := a.jukebox.AddToPlaylist(r.Context(), playlistID, req.TrackID)
	if err != nil {
		a.writeServiceError(w, err, "add_to_playlist")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	if a.opts.Logs == nil {
		writeError(w, http.StatusServiceUnavailable, "logs_unavailable")
		return
	}

	q := r.URL.Query()
	query := logbuffer.Query{
		Level:      q.Get("level"),
		Component:  q.Get("component"),
		TrackID:    q.Get("track_id"),
		Search:     q.Get("search"),
		Limit:      defaultLogLimit,
		Descending: q.Get("order") != "asc",
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since")
			return
		}
		query.Since = t
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		query.Limit = n
	}

	entries := a.opts.Logs.Find(query)
	if entries == nil {
		entries = []logbuffer.LogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":    entries,
		"count":      len(entries),
		"components": a.opts.Logs.Components(),
	})
}

func (a *API) handleLogStats(w http.ResponseWriter, r *http.Request) {
	if a.opts.Logs == nil {
		writeError(w, http.StatusServiceUnavailable, "logs_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, a.opts.Logs.Stats())
}

// decode reads a JSON body into dst and validates it, writing a 400 on
// failure.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, http.StatusBadRequest, verrs[0].Field()+"_"+verrs[0].Tag())
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_request")
		return false
	}
	return true
}

func (a *API) writeServiceError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, jukebox.ErrInvalidVote):
		writeError(w, http.StatusBadRequest, "invalid_vote")
	case errors.Is(err, jukebox.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input")
	case errors.Is(err, jukebox.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, jukebox.ErrDuplicate):
		writeError(w, http.StatusConflict, "already_exists")
	default:
		a.logger.Error().Err(err).Str("op", op).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
