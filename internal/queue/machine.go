/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package queue holds the shared now-playing slot and the FIFO of pending
// requests behind it.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/jukebox/internal/events"
	"github.com/friendsincode/jukebox/internal/models"
	"github.com/friendsincode/jukebox/internal/recommend"
	"github.com/friendsincode/jukebox/internal/telemetry"
)

// Source records how an entry reached the now-playing slot.
type Source string

const (
	SourceRequest        Source = "request"        // seated directly by Add
	SourceQueue          Source = "queue"          // popped from pending
	SourceRecommendation Source = "recommendation" // chosen by the composer
	sourceSilence        Source = "silence"
)

// AutoRequester is the RequestedBy value of entries nobody asked for.
const AutoRequester = "jukebox"

// Placement reports where Add put a track.
type Placement string

const (
	PlacementNowPlaying Placement = "now_playing"
	PlacementQueued     Placement = "queued"
)

// Entry is a track plus how it got into the queue.
type Entry struct {
	Track       models.Track `json:"track"`
	RequestedBy string       `json:"requested_by"`
	Source      Source       `json:"source"`
	Reason      string       `json:"reason,omitempty"`
	EnqueuedAt  time.Time    `json:"enqueued_at"`
}

// State is a consistent copy of the queue.
type State struct {
	NowPlaying *Entry  `json:"now_playing"`
	Pending    []Entry `json:"queue"`
}

// NextSource picks a track when pending is empty. A nil track means silence.
type NextSource interface {
	Next(ctx context.Context, nowPlaying *models.Track) (*models.Track, recommend.Intent)
}

// HistoryRecorder persists play history.
type HistoryRecorder interface {
	RecordPlay(ctx context.Context, trackID, source string, at time.Time) error
}

// Machine is the Empty/Playing state machine. opMu serialises Add and
// Advance; stateMu guards the fields and is held only briefly, so Snapshot
// never waits on a slow NextSource.
type Machine struct {
	opMu    sync.Mutex
	stateMu sync.RWMutex

	nowPlaying *Entry
	pending    []Entry

	next    NextSource
	history HistoryRecorder
	bus     *events.Bus
	now     func() time.Time
	logger  zerolog.Logger
}

// New creates an empty machine. history and bus may be nil.
func New(next NextSource, history HistoryRecorder, bus *events.Bus, logger zerolog.Logger) *Machine {
	return &Machine{
		next:    next,
		history: history,
		bus:     bus,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.With().Str("component", "queue").Logger(),
	}
}

// Add seats track as now-playing when the machine is empty and appends it to
// pending otherwise. Duplicates are allowed.
func (m *Machine) Add(ctx context.Context, track models.Track, requestedBy string) Placement {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	entry := Entry{Track: track, RequestedBy: requestedBy, Source: SourceRequest, EnqueuedAt: m.now()}

	m.stateMu.Lock()
	placement := PlacementQueued
	if m.nowPlaying == nil {
		seated := entry
		m.nowPlaying = &seated
		placement = PlacementNowPlaying
	} else {
		m.pending = append(m.pending, entry)
	}
	pending := len(m.pending)
	m.stateMu.Unlock()

	m.logger.Info().
		Str("track_id", track.ID).
		Str("requested_by", requestedBy).
		Str("placement", string(placement)).
		Int("pending", pending).
		Msg("track added")

	if placement == PlacementNowPlaying {
		m.seated(context.WithoutCancel(ctx), &entry, SourceRequest)
	}
	m.publishQueue()
	return placement
}

// Advance moves to the next track: the head of pending if there is one,
// otherwise whatever the NextSource picks, otherwise silence. It runs to
// completion even if ctx is cancelled.
func (m *Machine) Advance(ctx context.Context) *Entry {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	ctx = context.WithoutCancel(ctx)

	m.stateMu.Lock()
	if len(m.pending) > 0 {
		head := m.pending[0]
		m.pending = append(m.pending[:0:0], m.pending[1:]...)
		m.nowPlaying = &head
		m.stateMu.Unlock()

		m.seated(ctx, &head, SourceQueue)
		m.publishQueue()
		return copyEntry(&head)
	}
	var finished *models.Track
	if m.nowPlaying != nil {
		t := m.nowPlaying.Track
		finished = &t
	}
	m.stateMu.Unlock()

	var picked *models.Track
	var intent recommend.Intent
	if m.next != nil {
		picked, intent = m.next.Next(ctx, finished)
	}

	if picked == nil {
		m.stateMu.Lock()
		m.nowPlaying = nil
		m.stateMu.Unlock()

		telemetry.NowPlayingTransitions.WithLabelValues(string(sourceSilence)).Inc()
		m.logger.Info().Msg("nothing to play, going silent")
		m.bus.Publish(events.EventNowPlaying, events.Payload{"now_playing": nil})
		m.publishQueue()
		return nil
	}

	entry := Entry{
		Track:       *picked,
		RequestedBy: AutoRequester,
		Source:      SourceRecommendation,
		Reason:      string(intent.Kind) + ": " + intent.Query,
		EnqueuedAt:  m.now(),
	}
	m.stateMu.Lock()
	m.nowPlaying = &entry
	m.stateMu.Unlock()

	m.seated(ctx, &entry, SourceRecommendation)
	m.publishQueue()
	return copyEntry(&entry)
}

// Snapshot returns a deep copy of now-playing and pending.
func (m *Machine) Snapshot() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()

	pending := make([]Entry, len(m.pending))
	copy(pending, m.pending)
	return State{NowPlaying: copyEntry(m.nowPlaying), Pending: pending}
}

// NowPlaying returns a copy of the current entry or nil.
func (m *Machine) NowPlaying() *Entry {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return copyEntry(m.nowPlaying)
}

// seated runs the side effects of a transition into a non-empty now-playing.
// History is best effort.
func (m *Machine) seated(ctx context.Context, e *Entry, source Source) {
	telemetry.NowPlayingTransitions.WithLabelValues(string(source)).Inc()

	if m.history != nil {
		if err := m.history.RecordPlay(ctx, e.Track.ID, string(source), m.now()); err != nil {
			m.logger.Warn().Err(err).Str("track_id", e.Track.ID).Msg("play history not recorded")
			telemetry.UpstreamErrorsTotal.WithLabelValues("store").Inc()
		}
	}

	m.logger.Info().
		Str("track_id", e.Track.ID).
		Str("title", e.Track.Title).
		Str("source", string(source)).
		Msg("now playing")
	m.bus.Publish(events.EventNowPlaying, events.Payload{"now_playing": copyEntry(e)})
}

func (m *Machine) publishQueue() {
	state := m.Snapshot()
	telemetry.QueueLength.Set(float64(len(state.Pending)))
	m.bus.Publish(events.EventQueueUpdated, events.Payload{
		"now_playing": state.NowPlaying,
		"queue":       state.Pending,
	})
}

func copyEntry(e *Entry) *Entry {
	if e == nil {
		return nil
	}
	cp := *e
	return &cp
}
