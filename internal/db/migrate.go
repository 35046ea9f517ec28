/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/friendsincode/jukebox/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.Track{},
		&models.Vote{},
		&models.PlayHistory{},
		&models.Playlist{},
		&models.PlaylistItem{},
		&models.PolicyValue{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	if err := normalizeLegacyVoteKinds(database); err != nil {
		return err
	}

	return nil
}

// normalizeLegacyVoteKinds rewrites vote kinds stored by older deployments
// ("upvote", "Downvote") to the canonical short form.
func normalizeLegacyVoteKinds(database *gorm.DB) error {
	updates := map[models.VoteKind][]string{
		models.VoteUp:   {"upvote", "like", "thumbs_up"},
		models.VoteDown: {"downvote", "dislike", "thumbs_down"},
	}
	for kind, legacy := range updates {
		if err := database.Model(&models.Vote{}).
			Where("LOWER(TRIM(kind)) IN ?", legacy).
			Update("kind", kind).Error; err != nil {
			return fmt.Errorf("normalize legacy %s votes: %w", kind, err)
		}
	}
	return nil
}
