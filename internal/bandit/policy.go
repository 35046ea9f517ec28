/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package bandit implements the contextual epsilon-greedy policy that picks
// a listening vibe when nothing else anchors the next track.
package bandit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/friendsincode/jukebox/internal/clock"
	"github.com/friendsincode/jukebox/internal/telemetry"
	"github.com/rs/zerolog"
)

// Action is a vibe query the policy can choose.
type Action string

// DefaultActions is the fixed action set. Order is the tie-break order.
var DefaultActions = []Action{
	"Upbeat Pop Hits",
	"Lo-fi Study Beats",
	"Classic Rock Anthems",
	"Smooth Jazz",
	"Electronic Dance Focus",
	"Acoustic Coffee Shop",
}

const (
	Alpha          = 0.1
	Prior          = 1.0
	DefaultEpsilon = 0.2

	RewardUp   = 1.0
	RewardDown = -1.0
)

const saveTimeout = 5 * time.Second

// Table maps a context string ("Monday-Morning") to per-action estimates.
type Table map[string]map[Action]float64

// Clone returns a deep copy.
func (t Table) Clone() Table {
	out := make(Table, len(t))
	for ctx, row := range t {
		cp := make(map[Action]float64, len(row))
		for a, v := range row {
			cp[a] = v
		}
		out[ctx] = cp
	}
	return out
}

// Config tunes the policy.
type Config struct {
	Actions []Action
	Alpha   float64
	Prior   float64
	// Rand drives exploration. Tests inject a seeded source.
	Rand *rand.Rand
}

func (c Config) withDefaults() Config {
	if len(c.Actions) == 0 {
		c.Actions = DefaultActions
	}
	if c.Alpha <= 0 {
		c.Alpha = Alpha
	}
	if c.Prior == 0 {
		c.Prior = Prior
	}
	if c.Rand == nil {
		c.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return c
}

// Policy is safe for concurrent use.
type Policy struct {
	mu     sync.Mutex
	cfg    Config
	table  Table
	store  SnapshotStore
	clock  clock.Clock
	logger zerolog.Logger
}

// New builds a policy and loads its last snapshot. A missing or unreadable
// snapshot starts the policy cold; it never fails.
func New(cfg Config, store SnapshotStore, clk clock.Clock, logger zerolog.Logger) *Policy {
	if clk == nil {
		clk = clock.System{}
	}
	p := &Policy{
		cfg:    cfg.withDefaults(),
		table:  Table{},
		store:  store,
		clock:  clk,
		logger: logger.With().Str("component", "bandit").Logger(),
	}

	if store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		loaded, err := store.Load(ctx)
		switch {
		case err != nil:
			p.logger.Warn().Err(err).Msg("policy snapshot unreadable, starting cold")
			telemetry.UpstreamErrorsTotal.WithLabelValues("policy_store").Inc()
		case loaded != nil:
			for ctx, row := range loaded {
				if row == nil {
					delete(loaded, ctx)
				}
			}
			p.table = loaded
			p.logger.Info().Int("contexts", len(loaded)).Msg("policy snapshot loaded")
		}
	}
	return p
}

// Actions returns the enumerated action set.
func (p *Policy) Actions() []Action {
	return append([]Action(nil), p.cfg.Actions...)
}

// Select picks an action for the current context. With probability epsilon
// it explores uniformly; otherwise it returns the highest estimate, ties
// going to the earliest action in enumeration order.
func (p *Policy) Select(epsilon float64) Action {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx := clock.Current(p.clock).String()
	row := p.rowLocked(ctx)

	if epsilon > 0 && p.cfg.Rand.Float64() < epsilon {
		a := p.cfg.Actions[p.cfg.Rand.Intn(len(p.cfg.Actions))]
		telemetry.BanditSelections.WithLabelValues(string(a), "explore").Inc()
		return a
	}

	best := p.cfg.Actions[0]
	bestVal := p.valueLocked(row, best)
	for _, a := range p.cfg.Actions[1:] {
		if v := p.valueLocked(row, a); v > bestVal {
			best, bestVal = a, v
		}
	}
	telemetry.BanditSelections.WithLabelValues(string(best), "exploit").Inc()
	return best
}

// Update moves the estimate for action in the current context toward reward
// and writes the table through to the snapshot store. Save failures are
// logged and swallowed. Returns the new estimate.
func (p *Policy) Update(action Action, reward float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx := clock.Current(p.clock).String()
	row := p.rowLocked(ctx)

	current := p.valueLocked(row, action)
	next := current + p.cfg.Alpha*(reward-current)
	row[action] = next

	telemetry.BanditValue.WithLabelValues(ctx, string(action)).Set(next)
	p.logger.Info().
		Str("context", ctx).
		Str("action", string(action)).
		Float64("reward", reward).
		Float64("value", next).
		Msg("policy updated")

	p.saveLocked()
	return next
}

// Values returns the estimates for ctx with unseen actions at the prior.
func (p *Policy) Values(ctx clock.Context) map[Action]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	row := p.table[ctx.String()]
	out := make(map[Action]float64, len(p.cfg.Actions))
	for _, a := range p.cfg.Actions {
		out[a] = p.valueLocked(row, a)
	}
	return out
}

// Snapshot returns a deep copy of the whole table.
func (p *Policy) Snapshot() Table {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.table.Clone()
}

// rowLocked returns the row for ctx, initialising every action to the prior
// on first visit.
func (p *Policy) rowLocked(ctx string) map[Action]float64 {
	row := p.table[ctx]
	if row == nil {
		row = make(map[Action]float64, len(p.cfg.Actions))
		for _, a := range p.cfg.Actions {
			row[a] = p.cfg.Prior
		}
		p.table[ctx] = row
	}
	return row
}

func (p *Policy) valueLocked(row map[Action]float64, a Action) float64 {
	if v, ok := row[a]; ok {
		return v
	}
	return p.cfg.Prior
}

func (p *Policy) saveLocked() {
	if p.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := p.store.Save(ctx, p.table.Clone()); err != nil {
		p.logger.Error().Err(err).Msg("policy snapshot save failed")
		telemetry.UpstreamErrorsTotal.WithLabelValues("policy_store").Inc()
	}
}
