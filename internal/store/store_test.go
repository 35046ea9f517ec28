package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/jukebox/internal/db"
	"github.com/friendsincode/jukebox/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return New(database, zerolog.Nop())
}

func seedTrack(t *testing.T, s *Store, id, title, artist string) *models.Track {
	t.Helper()
	track, _, err := s.UpsertTrack(context.Background(), models.Track{ID: id, Title: title, Artist: artist, Tags: "Pop"})
	if err != nil {
		t.Fatalf("seed track: %v", err)
	}
	return track
}

func TestUpsertTrackReusesExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, created, err := s.UpsertTrack(ctx, models.Track{ID: "yt-1", Title: "Song A", Artist: "Band A"})
	if err != nil || !created {
		t.Fatalf("expected create, got created=%v err=%v", created, err)
	}
	if first.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be set")
	}

	if _, err := s.ToggleFavorite(ctx, "yt-1"); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	second, created, err := s.UpsertTrack(ctx, models.Track{ID: "yt-1", Title: "Different", Artist: "Other"})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if created {
		t.Fatal("expected existing track to be reused")
	}
	if second.Title != "Song A" || !second.Favorite {
		t.Fatalf("expected stored row untouched, got %+v", second)
	}

	if _, _, err := s.UpsertTrack(ctx, models.Track{ID: "  "}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for blank id, got %v", err)
	}
}

func TestGetTrackNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetTrack(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestToggleFavoriteTwiceRestores(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTrack(t, s, "yt-1", "Song A", "Band A")

	on, err := s.ToggleFavorite(ctx, "yt-1")
	if err != nil || !on {
		t.Fatalf("expected favorite on, got %v %v", on, err)
	}
	off, err := s.ToggleFavorite(ctx, "yt-1")
	if err != nil || off {
		t.Fatalf("expected favorite off, got %v %v", off, err)
	}

	track, err := s.GetTrack(ctx, "yt-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if track.Favorite {
		t.Fatal("expected double toggle to restore the original flag")
	}

	if _, err := s.ToggleFavorite(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordVoteAndTally(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTrack(t, s, "yt-1", "Song A", "Band A")

	for _, k := range []models.VoteKind{models.VoteUp, models.VoteUp, models.VoteDown, models.VoteSkip} {
		if _, err := s.RecordVote(ctx, "yt-1", k); err != nil {
			t.Fatalf("record vote: %v", err)
		}
	}

	tally, err := s.VoteTally(ctx, "yt-1")
	if err != nil {
		t.Fatalf("tally: %v", err)
	}
	if tally[models.VoteUp] != 2 || tally[models.VoteDown] != 1 || tally[models.VoteSkip] != 1 {
		t.Fatalf("unexpected tally: %v", tally)
	}
}

func TestRecentPlaysNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		if err := s.RecordPlay(ctx, id, "queue", base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("record play: %v", err)
		}
	}

	plays, err := s.RecentPlays(ctx, 2)
	if err != nil {
		t.Fatalf("recent plays: %v", err)
	}
	if len(plays) != 2 || plays[0].TrackID != "c" || plays[1].TrackID != "b" {
		t.Fatalf("unexpected plays: %+v", plays)
	}
}

func TestPlaylists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTrack(t, s, "yt-1", "Song A", "Band A")
	seedTrack(t, s, "yt-2", "Song B", "Band B")

	pl, err := s.CreatePlaylist(ctx, " Friday ")
	if err != nil {
		t.Fatalf("create playlist: %v", err)
	}
	if pl.Name != "Friday" {
		t.Fatalf("expected trimmed name, got %q", pl.Name)
	}
	if _, err := s.CreatePlaylist(ctx, "Friday"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if _, err := s.CreatePlaylist(ctx, ""); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}

	first, err := s.AddToPlaylist(ctx, pl.ID, "yt-2")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	second, err := s.AddToPlaylist(ctx, pl.ID, "yt-1")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if first.Position != 0 || second.Position != 1 {
		t.Fatalf("unexpected positions %d, %d", first.Position, second.Position)
	}
	again, err := s.AddToPlaylist(ctx, pl.ID, "yt-2")
	if err != nil || again.Position != 0 {
		t.Fatalf("expected re-add to return existing item, got %+v %v", again, err)
	}

	if _, err := s.AddToPlaylist(ctx, "nope", "yt-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for playlist, got %v", err)
	}
	if _, err := s.AddToPlaylist(ctx, pl.ID, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for track, got %v", err)
	}

	lists, err := s.ListPlaylists(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(lists) != 1 || len(lists[0].Items) != 2 {
		t.Fatalf("unexpected playlists: %+v", lists)
	}
	if lists[0].Items[0].TrackID != "yt-2" || lists[0].Items[1].TrackID != "yt-1" {
		t.Fatalf("expected items in position order: %+v", lists[0].Items)
	}
}

func TestListTracksOldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"z", "y"} {
		if _, _, err := s.UpsertTrack(ctx, models.Track{ID: id, Title: id, CreatedAt: base.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	tracks, err := s.ListTracks(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tracks) != 2 || tracks[0].ID != "z" {
		t.Fatalf("unexpected order: %+v", tracks)
	}
}
