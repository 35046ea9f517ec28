/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store persists tracks, votes, play history and playlists.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/jukebox/internal/models"
)

var (
	// ErrNotFound is returned when a track or playlist does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique name is already taken.
	ErrDuplicate = errors.New("already exists")
	// ErrInvalid is returned for empty identifiers or names.
	ErrInvalid = errors.New("invalid input")
)

// Store is the gorm backed repository.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a store over a migrated database.
func New(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// UpsertTrack inserts track unless a track with the same ID exists, in which
// case the stored row is returned untouched. created reports which happened.
func (s *Store) UpsertTrack(ctx context.Context, track models.Track) (stored *models.Track, created bool, err error) {
	if strings.TrimSpace(track.ID) == "" {
		return nil, false, fmt.Errorf("track id: %w", ErrInvalid)
	}

	var existing models.Track
	err = s.db.WithContext(ctx).First(&existing, "id = ?", track.ID).Error
	if err == nil {
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("query track: %w", err)
	}

	if track.CreatedAt.IsZero() {
		track.CreatedAt = s.now()
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&track)
	if res.Error != nil {
		return nil, false, fmt.Errorf("create track: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Lost a race with a concurrent insert of the same id.
		if err := s.db.WithContext(ctx).First(&existing, "id = ?", track.ID).Error; err != nil {
			return nil, false, fmt.Errorf("reload track: %w", err)
		}
		return &existing, false, nil
	}

	s.logger.Debug().Str("track_id", track.ID).Str("title", track.Title).Msg("track stored")
	return &track, true, nil
}

// GetTrack returns the track by external id.
func (s *Store) GetTrack(ctx context.Context, id string) (*models.Track, error) {
	var track models.Track
	err := s.db.WithContext(ctx).First(&track, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query track: %w", err)
	}
	return &track, nil
}

// ListTracks returns every known track, oldest first.
func (s *Store) ListTracks(ctx context.Context) ([]models.Track, error) {
	var tracks []models.Track
	if err := s.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&tracks).Error; err != nil {
		return nil, fmt.Errorf("list tracks: %w", err)
	}
	return tracks, nil
}

// ToggleFavorite flips the favorite flag and returns its new value.
func (s *Store) ToggleFavorite(ctx context.Context, id string) (bool, error) {
	var favorite bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var track models.Track
		if err := tx.First(&track, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("query track: %w", err)
		}
		favorite = !track.Favorite
		if err := tx.Model(&models.Track{}).Where("id = ?", id).Update("favorite", favorite).Error; err != nil {
			return fmt.Errorf("update favorite: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return favorite, nil
}

// RecordVote appends an immutable vote.
func (s *Store) RecordVote(ctx context.Context, trackID string, kind models.VoteKind) (*models.Vote, error) {
	vote := models.Vote{
		ID:        uuid.NewString(),
		TrackID:   trackID,
		Kind:      kind,
		CreatedAt: s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&vote).Error; err != nil {
		return nil, fmt.Errorf("create vote: %w", err)
	}
	return &vote, nil
}

// VoteTally counts votes for a track by kind.
func (s *Store) VoteTally(ctx context.Context, trackID string) (map[models.VoteKind]int64, error) {
	var rows []struct {
		Kind  models.VoteKind
		Count int64
	}
	err := s.db.WithContext(ctx).
		Model(&models.Vote{}).
		Select("kind, COUNT(*) AS count").
		Where("track_id = ?", trackID).
		Group("kind").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("tally votes: %w", err)
	}
	out := make(map[models.VoteKind]int64, len(rows))
	for _, r := range rows {
		out[r.Kind] = r.Count
	}
	return out, nil
}

// RecordPlay appends a play history row.
func (s *Store) RecordPlay(ctx context.Context, trackID, source string, at time.Time) error {
	if at.IsZero() {
		at = s.now()
	}
	entry := models.PlayHistory{
		ID:       uuid.NewString(),
		TrackID:  trackID,
		Source:   source,
		PlayedAt: at.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("create play history: %w", err)
	}
	return nil
}

// RecentPlays returns up to limit history rows, newest first.
func (s *Store) RecentPlays(ctx context.Context, limit int) ([]models.PlayHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.PlayHistory
	if err := s.db.WithContext(ctx).Order("played_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list play history: %w", err)
	}
	return rows, nil
}

// CreatePlaylist creates an empty playlist. Names are unique.
func (s *Store) CreatePlaylist(ctx context.Context, name string) (*models.Playlist, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("playlist name: %w", ErrInvalid)
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Playlist{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("query playlist: %w", err)
	}
	if count > 0 {
		return nil, ErrDuplicate
	}

	playlist := models.Playlist{ID: uuid.NewString(), Name: name, CreatedAt: s.now()}
	if err := s.db.WithContext(ctx).Create(&playlist).Error; err != nil {
		return nil, fmt.Errorf("create playlist: %w", err)
	}
	return &playlist, nil
}

// AddToPlaylist appends a track to the end of a playlist. Adding a track that
// is already present returns the existing item.
func (s *Store) AddToPlaylist(ctx context.Context, playlistID, trackID string) (*models.PlaylistItem, error) {
	var item models.PlaylistItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var playlist models.Playlist
		if err := tx.First(&playlist, "id = ?", playlistID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("playlist %s: %w", playlistID, ErrNotFound)
			}
			return fmt.Errorf("query playlist: %w", err)
		}
		var track models.Track
		if err := tx.First(&track, "id = ?", trackID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("track %s: %w", trackID, ErrNotFound)
			}
			return fmt.Errorf("query track: %w", err)
		}

		err := tx.First(&item, "playlist_id = ? AND track_id = ?", playlistID, trackID).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("query playlist item: %w", err)
		}

		var maxPos struct{ Max *int }
		if err := tx.Model(&models.PlaylistItem{}).
			Select("MAX(position) AS max").
			Where("playlist_id = ?", playlistID).
			Scan(&maxPos).Error; err != nil {
			return fmt.Errorf("query playlist position: %w", err)
		}
		next := 0
		if maxPos.Max != nil {
			next = *maxPos.Max + 1
		}

		item = models.PlaylistItem{PlaylistID: playlistID, TrackID: trackID, Position: next, AddedAt: s.now()}
		if err := tx.Create(&item).Error; err != nil {
			return fmt.Errorf("create playlist item: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListPlaylists returns playlists by name with their items in order.
func (s *Store) ListPlaylists(ctx context.Context) ([]models.Playlist, error) {
	var playlists []models.Playlist
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Order("name ASC").
		Find(&playlists).Error
	if err != nil {
		return nil, fmt.Errorf("list playlists: %w", err)
	}
	return playlists, nil
}
