/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package jukebox wires the queue, the feedback loop and the external
// collaborators into the operations the transport exposes.
package jukebox

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/friendsincode/jukebox/internal/events"
	"github.com/friendsincode/jukebox/internal/feedback"
	"github.com/friendsincode/jukebox/internal/models"
	"github.com/friendsincode/jukebox/internal/queue"
	"github.com/friendsincode/jukebox/internal/recommend"
	"github.com/friendsincode/jukebox/internal/telemetry"
	"github.com/friendsincode/jukebox/internal/youtube"
)

// Normalizer rewrites free text into a canonical search query.
type Normalizer interface {
	Normalize(ctx context.Context, text string) string
}

// Resolver turns a query into a playable video. A nil result means nothing
// matched.
type Resolver interface {
	Resolve(ctx context.Context, query string) (*youtube.Result, error)
}

// ResolveCache remembers resolutions.
type ResolveCache interface {
	GetResolved(ctx context.Context, query string) (*models.Track, bool)
	SetResolved(ctx context.Context, query string, track models.Track) error
}

// Indexer receives every persisted track.
type Indexer interface {
	Upsert(track models.Track)
}

// Store is the persistence the service delegates to.
type Store interface {
	UpsertTrack(ctx context.Context, track models.Track) (*models.Track, bool, error)
	CreatePlaylist(ctx context.Context, name string) (*models.Playlist, error)
	AddToPlaylist(ctx context.Context, playlistID, trackID string) (*models.PlaylistItem, error)
	ListPlaylists(ctx context.Context) ([]models.Playlist, error)
}

// Deps are the collaborators of a Service. Cache and Index may be nil.
type Deps struct {
	Store      Store
	Queue      *queue.Machine
	Composer   *recommend.Composer
	Feedback   *feedback.Router
	Normalizer Normalizer
	Resolver   Resolver
	Cache      ResolveCache
	Index      Indexer
	Bus        *events.Bus

	DefaultTags string
}

// Service is the single shared jukebox.
type Service struct {
	deps   Deps
	logger zerolog.Logger
}

// EnqueueResult reports what a suggestion turned into.
type EnqueueResult struct {
	Track     models.Track    `json:"track"`
	Placement queue.Placement `json:"placement"`
	Query     string          `json:"query"`
	Cached    bool            `json:"cached"`
}

// New creates the service.
func New(deps Deps, logger zerolog.Logger) *Service {
	return &Service{
		deps:   deps,
		logger: logger.With().Str("component", "jukebox").Logger(),
	}
}

// State returns a consistent copy of now-playing and pending.
func (s *Service) State() queue.State {
	return s.deps.Queue.Snapshot()
}

// Enqueue normalizes text, resolves it to a track, persists and indexes the
// track, and hands it to the queue.
func (s *Service) Enqueue(ctx context.Context, text, requestedBy string) (*EnqueueResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "jukebox.enqueue", attribute.String("requested_by", requestedBy))
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty query: %w", ErrInvalidInput)
	}
	if strings.TrimSpace(requestedBy) == "" {
		requestedBy = "anonymous"
	}

	query := text
	if s.deps.Normalizer != nil {
		query = s.deps.Normalizer.Normalize(ctx, text)
	}
	span.SetAttributes(attribute.String("query", query))

	track, cached, err := s.resolve(ctx, query)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	stored, created, err := s.deps.Store.UpsertTrack(ctx, track)
	if err != nil {
		s.logger.Error().Err(fmt.Errorf("%w: %w", ErrPersistence, err)).Str("track_id", track.ID).Msg("track not persisted")
		telemetry.UpstreamErrorsTotal.WithLabelValues("store").Inc()
		stored = &track
	}
	if s.deps.Index != nil {
		s.deps.Index.Upsert(*stored)
	}
	if created {
		s.deps.Bus.Publish(events.EventTrackAdded, events.Payload{"track": *stored})
	}

	placement := s.deps.Queue.Add(ctx, *stored, requestedBy)
	span.SetAttributes(
		attribute.String("track_id", stored.ID),
		attribute.String("placement", string(placement)),
		attribute.Bool("cached", cached),
	)

	return &EnqueueResult{Track: *stored, Placement: placement, Query: query, Cached: cached}, nil
}

func (s *Service) resolve(ctx context.Context, query string) (models.Track, bool, error) {
	if s.deps.Cache != nil {
		if track, ok := s.deps.Cache.GetResolved(ctx, query); ok {
			return *track, true, nil
		}
	}

	if s.deps.Resolver == nil {
		return models.Track{}, false, fmt.Errorf("no resolver for %q: %w", query, ErrNotFound)
	}

	res, err := s.deps.Resolver.Resolve(ctx, query)
	if err != nil {
		telemetry.UpstreamErrorsTotal.WithLabelValues("resolver").Inc()
		s.logger.Warn().Err(fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)).Str("query", query).Msg("resolve failed")
		return models.Track{}, false, fmt.Errorf("resolve %q: %w", query, ErrNotFound)
	}
	if res == nil {
		return models.Track{}, false, fmt.Errorf("no result for %q: %w", query, ErrNotFound)
	}

	track := res.Track(s.deps.DefaultTags)
	if s.deps.Cache != nil {
		if err := s.deps.Cache.SetResolved(ctx, query, track); err != nil {
			s.logger.Debug().Err(err).Str("query", query).Msg("resolution not cached")
		}
	}
	return track, false, nil
}

// Vote applies listener feedback of the given kind.
func (s *Service) Vote(ctx context.Context, trackID, kind string) (feedback.Result, error) {
	k, err := feedback.ParseKind(kind)
	if err != nil {
		return feedback.Result{TrackID: trackID}, err
	}
	return s.deps.Feedback.RecordVote(ctx, trackID, k)
}

// ToggleFavorite flips the favorite flag and returns the new value.
func (s *Service) ToggleFavorite(ctx context.Context, trackID string) (bool, error) {
	res, err := s.deps.Feedback.RecordVote(ctx, trackID, feedback.KindFavorite)
	if err != nil {
		return false, err
	}
	return res.Favorite != nil && *res.Favorite, nil
}

// Advance moves the queue on. A nil entry means silence.
func (s *Service) Advance(ctx context.Context) *queue.Entry {
	ctx, span := telemetry.StartSpan(ctx, "jukebox.advance")
	defer span.End()

	entry := s.deps.Queue.Advance(ctx)
	if entry != nil {
		span.SetAttributes(
			attribute.String("track_id", entry.Track.ID),
			attribute.String("source", string(entry.Source)),
		)
	}
	return entry
}

// Recommendations returns up to n tracks related to what is playing.
func (s *Service) Recommendations(ctx context.Context, n int) ([]models.Track, recommend.Intent) {
	var nowPlaying *models.Track
	if entry := s.deps.Queue.NowPlaying(); entry != nil {
		nowPlaying = &entry.Track
	}
	return s.deps.Composer.Recommend(ctx, nowPlaying, n)
}

// CreatePlaylist creates an empty playlist.
func (s *Service) CreatePlaylist(ctx context.Context, name string) (*models.Playlist, error) {
	return s.deps.Store.CreatePlaylist(ctx, name)
}

// AddToPlaylist appends a track to a playlist.
func (s *Service) AddToPlaylist(ctx context.Context, playlistID, trackID string) (*models.PlaylistItem, error) {
	return s.deps.Store.AddToPlaylist(ctx, playlistID, trackID)
}

// ListPlaylists returns every playlist with its items.
func (s *Service) ListPlaylists(ctx context.Context) ([]models.Playlist, error) {
	return s.deps.Store.ListPlaylists(ctx)
}

// IsNotFound reports whether err maps to a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
