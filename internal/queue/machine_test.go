package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/jukebox/internal/events"
	"github.com/friendsincode/jukebox/internal/models"
	"github.com/friendsincode/jukebox/internal/recommend"
)

type scriptedNext struct {
	mu       sync.Mutex
	picks    []*models.Track
	finished []*models.Track
}

func (s *scriptedNext) Next(ctx context.Context, nowPlaying *models.Track) (*models.Track, recommend.Intent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, nowPlaying)
	if len(s.picks) == 0 {
		return nil, recommend.Intent{Kind: recommend.IntentVibe, Query: "Smooth Jazz"}
	}
	p := s.picks[0]
	s.picks = s.picks[1:]
	return p, recommend.Intent{Kind: recommend.IntentSimilar, Query: "anything"}
}

type recordedPlay struct {
	trackID string
	source  string
	ctxErr  error
}

type historyLog struct {
	mu    sync.Mutex
	plays []recordedPlay
	err   error
}

func (h *historyLog) RecordPlay(ctx context.Context, trackID, source string, at time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.plays = append(h.plays, recordedPlay{trackID: trackID, source: source, ctxErr: ctx.Err()})
	return h.err
}

func track(id string) models.Track {
	return models.Track{ID: id, Title: "Song " + id, Artist: "Band " + id}
}

func pendingIDs(s State) []string {
	out := make([]string, len(s.Pending))
	for i, e := range s.Pending {
		out[i] = e.Track.ID
	}
	return out
}

func TestAddPlacement(t *testing.T) {
	m := New(nil, nil, nil, zerolog.Nop())
	ctx := context.Background()

	if got := m.Add(ctx, track("a"), "alice"); got != PlacementNowPlaying {
		t.Fatalf("expected first add to start playing, got %q", got)
	}
	if got := m.Add(ctx, track("b"), "bob"); got != PlacementQueued {
		t.Fatalf("expected second add to queue, got %q", got)
	}
	if got := m.Add(ctx, track("b"), "bob"); got != PlacementQueued {
		t.Fatalf("expected duplicate to queue, got %q", got)
	}

	s := m.Snapshot()
	if s.NowPlaying == nil || s.NowPlaying.Track.ID != "a" || s.NowPlaying.RequestedBy != "alice" {
		t.Fatalf("unexpected now playing: %+v", s.NowPlaying)
	}
	if ids := pendingIDs(s); len(ids) != 2 || ids[0] != "b" || ids[1] != "b" {
		t.Fatalf("unexpected pending: %v", ids)
	}
}

func TestAdvanceIsFIFO(t *testing.T) {
	next := &scriptedNext{}
	m := New(next, nil, nil, zerolog.Nop())
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d"} {
		m.Add(ctx, track(id), "someone")
	}

	for _, want := range []string{"b", "c", "d"} {
		got := m.Advance(ctx)
		if got == nil || got.Track.ID != want {
			t.Fatalf("expected %q, got %+v", want, got)
		}
		if got.Source != SourceQueue && got.Source != SourceRequest {
			t.Fatalf("unexpected source %q", got.Source)
		}
	}
	if len(next.finished) != 0 {
		t.Fatal("composer must not be consulted while pending is non-empty")
	}
}

func TestAdvanceTwoTrackScenario(t *testing.T) {
	y := track("y")
	next := &scriptedNext{picks: []*models.Track{&y}}
	history := &historyLog{}
	m := New(next, history, nil, zerolog.Nop())
	ctx := context.Background()

	m.Add(ctx, track("a"), "alice")
	m.Add(ctx, track("b"), "bob")

	if got := m.Advance(ctx); got == nil || got.Track.ID != "b" {
		t.Fatalf("expected b, got %+v", got)
	}
	if s := m.Snapshot(); len(s.Pending) != 0 {
		t.Fatalf("expected empty pending, got %v", pendingIDs(s))
	}

	got := m.Advance(ctx)
	if got == nil || got.Track.ID != "y" || got.Source != SourceRecommendation || got.RequestedBy != AutoRequester {
		t.Fatalf("expected recommended y, got %+v", got)
	}
	if len(next.finished) != 1 || next.finished[0] == nil || next.finished[0].ID != "b" {
		t.Fatalf("expected composer to see b as the finished track, got %+v", next.finished)
	}

	wantSources := []string{"request", "queue", "recommendation"}
	if len(history.plays) != len(wantSources) {
		t.Fatalf("expected %d history rows, got %+v", len(wantSources), history.plays)
	}
	for i, src := range wantSources {
		if history.plays[i].source != src {
			t.Fatalf("history %d: source %q, want %q", i, history.plays[i].source, src)
		}
	}
}

func TestAdvanceGoesSilent(t *testing.T) {
	history := &historyLog{}
	next := &scriptedNext{}
	m := New(next, history, nil, zerolog.Nop())
	ctx := context.Background()

	m.Add(ctx, track("a"), "alice")
	if got := m.Advance(ctx); got != nil {
		t.Fatalf("expected silence, got %+v", got)
	}
	if m.NowPlaying() != nil {
		t.Fatal("expected empty now playing")
	}
	if len(history.plays) != 1 {
		t.Fatalf("silence must not be recorded as a play, got %+v", history.plays)
	}

	// From silence the composer gets no anchor.
	if got := m.Advance(ctx); got != nil {
		t.Fatalf("expected silence again, got %+v", got)
	}
	if next.finished[1] != nil {
		t.Fatalf("expected nil anchor from silence, got %+v", next.finished[1])
	}

	// A request after silence starts playing immediately.
	if got := m.Add(ctx, track("b"), "bob"); got != PlacementNowPlaying {
		t.Fatalf("expected b to start playing, got %q", got)
	}
}

func TestAdvanceWithoutNextSource(t *testing.T) {
	m := New(nil, nil, nil, zerolog.Nop())
	m.Add(context.Background(), track("a"), "alice")
	if got := m.Advance(context.Background()); got != nil {
		t.Fatalf("expected silence, got %+v", got)
	}
}

func TestHistoryFailureDoesNotBlock(t *testing.T) {
	history := &historyLog{err: errors.New("db locked")}
	m := New(nil, history, nil, zerolog.Nop())
	ctx := context.Background()

	m.Add(ctx, track("a"), "alice")
	m.Add(ctx, track("b"), "bob")
	if got := m.Advance(ctx); got == nil || got.Track.ID != "b" {
		t.Fatalf("expected b despite history failure, got %+v", got)
	}
	if len(history.plays) != 2 {
		t.Fatalf("expected both writes attempted, got %d", len(history.plays))
	}
}

func TestAdvanceIgnoresCallerCancellation(t *testing.T) {
	history := &historyLog{}
	m := New(nil, history, nil, zerolog.Nop())

	m.Add(context.Background(), track("a"), "alice")
	m.Add(context.Background(), track("b"), "bob")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if got := m.Advance(ctx); got == nil || got.Track.ID != "b" {
		t.Fatalf("expected advance to complete, got %+v", got)
	}
	last := history.plays[len(history.plays)-1]
	if last.ctxErr != nil {
		t.Fatalf("expected history write to run detached from cancellation, got %v", last.ctxErr)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	m := New(nil, nil, nil, zerolog.Nop())
	ctx := context.Background()
	m.Add(ctx, track("a"), "alice")
	m.Add(ctx, track("b"), "bob")

	s := m.Snapshot()
	s.NowPlaying.Track.Title = "mutated"
	s.Pending[0].Track.ID = "mutated"

	again := m.Snapshot()
	if again.NowPlaying.Track.Title == "mutated" || again.Pending[0].Track.ID == "mutated" {
		t.Fatal("snapshot shares memory with the machine")
	}

	np := m.NowPlaying()
	np.RequestedBy = "mallory"
	if m.NowPlaying().RequestedBy != "alice" {
		t.Fatal("NowPlaying shares memory with the machine")
	}
}

func TestEventsPublished(t *testing.T) {
	bus := events.NewBus()
	nowPlaying := bus.Subscribe(events.EventNowPlaying)
	queued := bus.Subscribe(events.EventQueueUpdated)

	m := New(nil, nil, bus, zerolog.Nop())
	m.Add(context.Background(), track("a"), "alice")

	select {
	case p := <-nowPlaying:
		e, ok := p["now_playing"].(*Entry)
		if !ok || e.Track.ID != "a" {
			t.Fatalf("unexpected now playing payload: %v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("no now playing event")
	}

	select {
	case p := <-queued:
		if _, ok := p["queue"].([]Entry); !ok {
			t.Fatalf("unexpected queue payload: %v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("no queue event")
	}
}

func TestConcurrentAddAndSnapshot(t *testing.T) {
	y := track("y")
	next := &scriptedNext{picks: []*models.Track{&y}}
	m := New(next, &historyLog{}, events.NewBus(), zerolog.Nop())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			m.Add(ctx, track("t"), "crowd")
		}()
		go func() {
			defer wg.Done()
			s := m.Snapshot()
			if s.NowPlaying == nil && len(s.Pending) > 0 {
				t.Error("pending entries without a now playing track")
			}
		}()
		go func() {
			defer wg.Done()
			m.Advance(ctx)
		}()
	}
	wg.Wait()
}
