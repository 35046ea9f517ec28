/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package feedback routes listener votes to persistence and to the
// selection policy.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/friendsincode/jukebox/internal/bandit"
	"github.com/friendsincode/jukebox/internal/events"
	"github.com/friendsincode/jukebox/internal/models"
	"github.com/friendsincode/jukebox/internal/store"
	"github.com/friendsincode/jukebox/internal/telemetry"
)

// ErrInvalidKind is returned by ParseKind for unknown vote kinds.
var ErrInvalidKind = errors.New("invalid vote kind")

// Kind is a feedback signal.
type Kind string

const (
	KindUp       Kind = "up"
	KindDown     Kind = "down"
	KindSkip     Kind = "skip"
	KindFavorite Kind = "favorite"
)

// ParseKind accepts the canonical kinds case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindUp, KindDown, KindSkip, KindFavorite:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
}

// Store is the persistence the router needs.
type Store interface {
	GetTrack(ctx context.Context, id string) (*models.Track, error)
	RecordVote(ctx context.Context, trackID string, kind models.VoteKind) (*models.Vote, error)
	ToggleFavorite(ctx context.Context, trackID string) (bool, error)
}

// Learner is the policy votes are credited to.
type Learner interface {
	Select(epsilon float64) bandit.Action
	Update(action bandit.Action, reward float64) float64
}

// Result describes what a vote did.
type Result struct {
	TrackID   string        `json:"track_id"`
	Kind      Kind          `json:"kind"`
	Favorite  *bool         `json:"favorite,omitempty"`
	Persisted bool          `json:"persisted"`
	Action    bandit.Action `json:"action,omitempty"`
	Value     *float64      `json:"value,omitempty"`
}

// Router applies feedback.
type Router struct {
	store   Store
	policy  Learner
	epsilon float64
	bus     *events.Bus
	logger  zerolog.Logger
}

// NewRouter builds a router. epsilon is the exploration rate used to pick the
// action an up or down vote is credited to.
func NewRouter(st Store, policy Learner, epsilon float64, bus *events.Bus, logger zerolog.Logger) *Router {
	return &Router{
		store:   st,
		policy:  policy,
		epsilon: epsilon,
		bus:     bus,
		logger:  logger.With().Str("component", "feedback").Logger(),
	}
}

// RecordVote applies one vote.
//
// Favorite flips the track's flag and never touches the policy. Up and down
// are persisted and then credited, as reward +1 or -1, to whatever action the
// policy would select right now. Skip is only persisted. Votes for unknown
// tracks return store.ErrNotFound. A vote that fails to persist still updates
// the policy.
func (r *Router) RecordVote(ctx context.Context, trackID string, kind Kind) (Result, error) {
	res := Result{TrackID: trackID, Kind: kind}

	switch kind {
	case KindFavorite:
		fav, err := r.store.ToggleFavorite(ctx, trackID)
		if err != nil {
			return res, fmt.Errorf("toggle favorite: %w", err)
		}
		res.Favorite = &fav
		res.Persisted = true

	case KindUp, KindDown, KindSkip:
		if _, err := r.store.GetTrack(ctx, trackID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return res, fmt.Errorf("vote for %q: %w", trackID, err)
			}
			r.logger.Warn().Err(err).Str("track_id", trackID).Msg("track lookup failed, recording vote anyway")
		}
		if _, err := r.store.RecordVote(ctx, trackID, models.VoteKind(kind)); err != nil {
			r.logger.Error().Err(err).Str("track_id", trackID).Str("kind", string(kind)).Msg("vote not persisted")
			telemetry.UpstreamErrorsTotal.WithLabelValues("store").Inc()
		} else {
			res.Persisted = true
		}

		if kind != KindSkip && r.policy != nil {
			reward := bandit.RewardUp
			if kind == KindDown {
				reward = bandit.RewardDown
			}
			action := r.policy.Select(r.epsilon)
			value := r.policy.Update(action, reward)
			res.Action = action
			res.Value = &value
		}

	default:
		return res, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	telemetry.VotesTotal.WithLabelValues(string(kind)).Inc()
	r.bus.Publish(events.EventVote, events.Payload{
		"track_id": trackID,
		"kind":     string(kind),
		"favorite": res.Favorite,
	})
	if res.Action != "" {
		r.bus.Publish(events.EventPolicyUpdate, events.Payload{
			"action": string(res.Action),
			"value":  *res.Value,
		})
	}

	r.logger.Info().
		Str("track_id", trackID).
		Str("kind", string(kind)).
		Bool("persisted", res.Persisted).
		Str("credited_action", string(res.Action)).
		Msg("feedback recorded")
	return res, nil
}
