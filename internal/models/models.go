/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"strings"
	"time"
)

// Track is a resolved, playable item. ID is the external resolver id.
type Track struct {
	ID           string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Title        string    `gorm:"index" json:"title"`
	Artist       string    `gorm:"index" json:"artist"`
	ThumbnailURL string    `json:"thumbnail_url"`
	Tags         string    `json:"tags"`
	Favorite     bool      `gorm:"index" json:"favorite"`
	CreatedAt    time.Time `json:"created_at"`
}

// Label renders the track the way listeners and similarity queries see it.
func (t Track) Label() string {
	if t.Artist == "" {
		return t.Title
	}
	return t.Title + " by " + t.Artist
}

// TagList splits the comma separated tag string.
func (t Track) TagList() []string {
	if strings.TrimSpace(t.Tags) == "" {
		return nil
	}
	parts := strings.Split(t.Tags, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// VoteKind enumerates persisted feedback kinds.
type VoteKind string

const (
	VoteUp   VoteKind = "up"
	VoteDown VoteKind = "down"
	VoteSkip VoteKind = "skip"
)

// Vote is an immutable feedback record.
type Vote struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	TrackID   string    `gorm:"type:varchar(64);index" json:"track_id"`
	Kind      VoteKind  `gorm:"type:varchar(16);index" json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// PlayHistory records every transition into a non-empty now-playing slot.
type PlayHistory struct {
	ID       string    `gorm:"type:uuid;primaryKey" json:"id"`
	TrackID  string    `gorm:"type:varchar(64);index" json:"track_id"`
	Source   string    `gorm:"type:varchar(16)" json:"source"`
	PlayedAt time.Time `gorm:"index" json:"played_at"`
}

// TableName keeps the historical table name.
func (PlayHistory) TableName() string {
	return "play_history"
}

// Playlist is a named, ordered collection of tracks.
type Playlist struct {
	ID        string         `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string         `gorm:"uniqueIndex" json:"name"`
	CreatedAt time.Time      `json:"created_at"`
	Items     []PlaylistItem `gorm:"foreignKey:PlaylistID" json:"items"`
}

// PlaylistItem places a track inside a playlist.
type PlaylistItem struct {
	PlaylistID string    `gorm:"type:uuid;primaryKey" json:"playlist_id"`
	TrackID    string    `gorm:"type:varchar(64);primaryKey" json:"track_id"`
	Position   int       `json:"position"`
	AddedAt    time.Time `json:"added_at"`
}

// PolicyValue is one cell of the bandit value table.
type PolicyValue struct {
	Context   string    `gorm:"type:varchar(32);primaryKey" json:"context"`
	Action    string    `gorm:"type:varchar(64);primaryKey" json:"action"`
	Value     float64   `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
