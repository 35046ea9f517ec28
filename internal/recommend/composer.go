/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package recommend turns "what just played" or a policy-chosen vibe into
// the next track.
package recommend

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/friendsincode/jukebox/internal/bandit"
	"github.com/friendsincode/jukebox/internal/models"
	"github.com/friendsincode/jukebox/internal/telemetry"
)

// DefaultCandidateLimit is how many ranked candidates are fetched per pick.
const DefaultCandidateLimit = 5

// Candidate is one ranked hit from a CandidateSource.
type Candidate struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Score    float64           `json:"score"`
}

// CandidateSource ranks known tracks against a free-text query. It may
// return fewer than limit results and an empty slice when nothing matches.
type CandidateSource interface {
	FetchCandidates(ctx context.Context, query string, limit int) ([]Candidate, error)
}

// TrackLookup resolves candidate IDs to full tracks.
type TrackLookup interface {
	GetTrack(ctx context.Context, id string) (*models.Track, error)
}

// VibeSelector chooses a vibe when nothing is playing.
type VibeSelector interface {
	Select(epsilon float64) bandit.Action
}

// IntentKind says how a query was built.
type IntentKind string

const (
	IntentSimilar IntentKind = "similar"
	IntentVibe    IntentKind = "vibe"
)

// Intent is the query handed to the candidate source.
type Intent struct {
	Kind   IntentKind    `json:"kind"`
	Query  string        `json:"query"`
	Action bandit.Action `json:"action,omitempty"`
}

// Config tunes the composer.
type Config struct {
	Epsilon        float64
	CandidateLimit int
}

// Composer is stateless apart from its collaborators.
type Composer struct {
	cfg    Config
	source CandidateSource
	tracks TrackLookup
	policy VibeSelector
	logger zerolog.Logger
}

// New builds a composer. A nil source yields no candidates.
func New(cfg Config, source CandidateSource, tracks TrackLookup, policy VibeSelector, logger zerolog.Logger) *Composer {
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = DefaultCandidateLimit
	}
	return &Composer{
		cfg:    cfg,
		source: source,
		tracks: tracks,
		policy: policy,
		logger: logger.With().Str("component", "recommend").Logger(),
	}
}

// ComposeQuery anchors on the now-playing track when there is one and
// otherwise asks the policy for a vibe.
func (c *Composer) ComposeQuery(nowPlaying *models.Track) Intent {
	if nowPlaying != nil {
		return Intent{Kind: IntentSimilar, Query: nowPlaying.Title + " by " + nowPlaying.Artist}
	}
	action := bandit.DefaultActions[0]
	if c.policy != nil {
		action = c.policy.Select(c.cfg.Epsilon)
	}
	return Intent{Kind: IntentVibe, Query: string(action), Action: action}
}

// SelectCandidate returns the first candidate whose ID differs from exclude.
// When every candidate matches exclude the first one is returned anyway, so
// the result is empty only for an empty list.
func SelectCandidate(candidates []models.Track, exclude string) (*models.Track, bool) {
	if len(candidates) == 0 {
		return nil, false
	}
	for i := range candidates {
		if candidates[i].ID != exclude {
			t := candidates[i]
			return &t, true
		}
	}
	t := candidates[0]
	return &t, true
}

// Next picks the track to play after nowPlaying. A nil track means nothing
// suitable was found; source failures degrade to that outcome.
func (c *Composer) Next(ctx context.Context, nowPlaying *models.Track) (*models.Track, Intent) {
	intent := c.ComposeQuery(nowPlaying)
	tracks := c.fetch(ctx, intent, c.cfg.CandidateLimit)

	exclude := ""
	if nowPlaying != nil {
		exclude = nowPlaying.ID
	}
	next, ok := SelectCandidate(tracks, exclude)
	if !ok {
		c.logger.Info().Str("intent", string(intent.Kind)).Str("query", intent.Query).Msg("no candidates")
		return nil, intent
	}

	c.logger.Info().
		Str("intent", string(intent.Kind)).
		Str("query", intent.Query).
		Str("track_id", next.ID).
		Msg("picked next track")
	return next, intent
}

// Recommend returns up to n tracks related to nowPlaying, never including it.
func (c *Composer) Recommend(ctx context.Context, nowPlaying *models.Track, n int) ([]models.Track, Intent) {
	intent := c.ComposeQuery(nowPlaying)
	if n <= 0 {
		return nil, intent
	}

	tracks := c.fetch(ctx, intent, n+1)
	out := make([]models.Track, 0, n)
	for _, t := range tracks {
		if nowPlaying != nil && t.ID == nowPlaying.ID {
			continue
		}
		out = append(out, t)
		if len(out) == n {
			break
		}
	}
	return out, intent
}

func (c *Composer) fetch(ctx context.Context, intent Intent, limit int) []models.Track {
	if c.source == nil {
		return nil
	}

	candidates, err := c.source.FetchCandidates(ctx, intent.Query, limit)
	if err != nil {
		c.logger.Warn().Err(err).Str("query", intent.Query).Msg("candidate source failed")
		telemetry.UpstreamErrorsTotal.WithLabelValues("retrieval").Inc()
		return nil
	}

	tracks := make([]models.Track, 0, len(candidates))
	for _, cand := range candidates {
		if c.tracks == nil {
			break
		}
		track, err := c.tracks.GetTrack(ctx, cand.ID)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				c.logger.Debug().Err(err).Str("candidate_id", cand.ID).Msg("skipping unresolvable candidate")
			}
			continue
		}
		tracks = append(tracks, *track)
	}
	return tracks
}
