package recommend

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/jukebox/internal/bandit"
	"github.com/friendsincode/jukebox/internal/models"
)

type fakeSource struct {
	ids       []string
	err       error
	lastQuery string
	lastLimit int
}

func (f *fakeSource) FetchCandidates(ctx context.Context, query string, limit int) ([]Candidate, error) {
	f.lastQuery, f.lastLimit = query, limit
	if f.err != nil {
		return nil, f.err
	}
	out := make([]Candidate, 0, len(f.ids))
	for _, id := range f.ids {
		if len(out) == limit {
			break
		}
		out = append(out, Candidate{ID: id})
	}
	return out, nil
}

type fakeTracks map[string]models.Track

func (f fakeTracks) GetTrack(ctx context.Context, id string) (*models.Track, error) {
	t, ok := f[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &t, nil
}

type fakeSelector struct {
	action   bandit.Action
	calls    int
	epsilons []float64
}

func (f *fakeSelector) Select(epsilon float64) bandit.Action {
	f.calls++
	f.epsilons = append(f.epsilons, epsilon)
	return f.action
}

var library = fakeTracks{
	"x": {ID: "x", Title: "Song X", Artist: "Band X"},
	"y": {ID: "y", Title: "Song Y", Artist: "Band Y"},
	"z": {ID: "z", Title: "Song Z", Artist: "Band Z"},
}

func TestComposeQuery(t *testing.T) {
	sel := &fakeSelector{action: "Smooth Jazz"}
	c := New(Config{Epsilon: 0.3}, nil, library, sel, zerolog.Nop())

	x := library["x"]
	similar := c.ComposeQuery(&x)
	if similar.Kind != IntentSimilar || similar.Query != "Song X by Band X" {
		t.Fatalf("unexpected similar intent: %+v", similar)
	}
	if sel.calls != 0 {
		t.Fatal("policy must not be consulted while something is playing")
	}

	vibe := c.ComposeQuery(nil)
	if vibe.Kind != IntentVibe || vibe.Query != "Smooth Jazz" || vibe.Action != "Smooth Jazz" {
		t.Fatalf("unexpected vibe intent: %+v", vibe)
	}
	if len(sel.epsilons) != 1 || sel.epsilons[0] != 0.3 {
		t.Fatalf("expected configured epsilon to be passed, got %v", sel.epsilons)
	}
}

func TestSelectCandidate(t *testing.T) {
	x, y := library["x"], library["y"]

	tests := []struct {
		name    string
		in      []models.Track
		exclude string
		want    string
		ok      bool
	}{
		{name: "skips excluded head", in: []models.Track{x, y}, exclude: "x", want: "y", ok: true},
		{name: "keeps head when not excluded", in: []models.Track{x, y}, exclude: "z", want: "x", ok: true},
		{name: "all excluded falls back to first", in: []models.Track{x, x}, exclude: "x", want: "x", ok: true},
		{name: "no exclusion", in: []models.Track{y}, exclude: "", want: "y", ok: true},
		{name: "empty", in: nil, exclude: "x", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SelectCandidate(tt.in, tt.exclude)
			if ok != tt.ok {
				t.Fatalf("ok=%v, want %v", ok, tt.ok)
			}
			if ok && got.ID != tt.want {
				t.Fatalf("got %q, want %q", got.ID, tt.want)
			}
		})
	}
}

func TestNextExcludesJustFinishedTrack(t *testing.T) {
	src := &fakeSource{ids: []string{"x", "y"}}
	c := New(Config{}, src, library, &fakeSelector{action: "Smooth Jazz"}, zerolog.Nop())

	x := library["x"]
	next, intent := c.Next(context.Background(), &x)
	if next == nil || next.ID != "y" {
		t.Fatalf("expected y, got %+v", next)
	}
	if intent.Kind != IntentSimilar || src.lastQuery != "Song X by Band X" {
		t.Fatalf("unexpected intent %+v / query %q", intent, src.lastQuery)
	}
	if src.lastLimit != DefaultCandidateLimit {
		t.Fatalf("expected default limit %d, got %d", DefaultCandidateLimit, src.lastLimit)
	}
}

func TestNextColdStartUsesVibe(t *testing.T) {
	src := &fakeSource{ids: []string{"z"}}
	sel := &fakeSelector{action: "Lo-fi Study Beats"}
	c := New(Config{CandidateLimit: 3}, src, library, sel, zerolog.Nop())

	next, intent := c.Next(context.Background(), nil)
	if next == nil || next.ID != "z" {
		t.Fatalf("expected z, got %+v", next)
	}
	if intent.Kind != IntentVibe || src.lastQuery != "Lo-fi Study Beats" || src.lastLimit != 3 {
		t.Fatalf("unexpected intent %+v query %q limit %d", intent, src.lastQuery, src.lastLimit)
	}
}

func TestNextDegradesToNothing(t *testing.T) {
	tests := []struct {
		name string
		src  CandidateSource
	}{
		{name: "source error", src: &fakeSource{err: errors.New("index offline")}},
		{name: "no candidates", src: &fakeSource{}},
		{name: "only unknown ids", src: &fakeSource{ids: []string{"ghost-1", "ghost-2"}}},
		{name: "no source", src: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(Config{}, tt.src, library, &fakeSelector{action: "Smooth Jazz"}, zerolog.Nop())
			if next, _ := c.Next(context.Background(), nil); next != nil {
				t.Fatalf("expected no track, got %+v", next)
			}
		})
	}
}

func TestNextSkipsUnknownCandidates(t *testing.T) {
	src := &fakeSource{ids: []string{"ghost", "x", "y"}}
	c := New(Config{}, src, library, &fakeSelector{}, zerolog.Nop())

	x := library["x"]
	next, _ := c.Next(context.Background(), &x)
	if next == nil || next.ID != "y" {
		t.Fatalf("expected y after skipping ghost and excluding x, got %+v", next)
	}
}

func TestRecommend(t *testing.T) {
	src := &fakeSource{ids: []string{"x", "y", "z"}}
	c := New(Config{}, src, library, &fakeSelector{action: "Smooth Jazz"}, zerolog.Nop())

	x := library["x"]
	recs, intent := c.Recommend(context.Background(), &x, 2)
	if intent.Kind != IntentSimilar {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if src.lastLimit != 3 {
		t.Fatalf("expected one extra candidate to be fetched, got limit %d", src.lastLimit)
	}
	if len(recs) != 2 || recs[0].ID != "y" || recs[1].ID != "z" {
		t.Fatalf("unexpected recommendations: %+v", recs)
	}

	if recs, _ := c.Recommend(context.Background(), &x, 0); recs != nil {
		t.Fatalf("expected nil for n=0, got %+v", recs)
	}
}
