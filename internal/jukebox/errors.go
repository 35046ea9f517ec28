/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package jukebox

import (
	"errors"

	"github.com/friendsincode/jukebox/internal/feedback"
	"github.com/friendsincode/jukebox/internal/store"
)

var (
	// ErrNotFound means a request resolved to nothing, or a track or
	// playlist is unknown.
	ErrNotFound = store.ErrNotFound

	// ErrInvalidVote is returned for an unknown vote kind.
	ErrInvalidVote = feedback.ErrInvalidKind

	// ErrInvalidInput covers empty queries and names.
	ErrInvalidInput = store.ErrInvalid

	// ErrDuplicate is returned when a playlist name is taken.
	ErrDuplicate = store.ErrDuplicate

	// ErrUpstreamUnavailable marks a collaborator failure. It is logged and
	// counted, never returned to callers.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrPersistence wraps store failures in logs; in-memory effects stand.
	ErrPersistence = errors.New("persistence failed")
)
