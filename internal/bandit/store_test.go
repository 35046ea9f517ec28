package bandit

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/friendsincode/jukebox/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func sampleTable() Table {
	return Table{
		"Monday-Morning": {
			DefaultActions[0]: 0.8,
			DefaultActions[1]: 1.0,
		},
		"Friday-Evening": {
			DefaultActions[4]: 0.19,
		},
	}
}

func assertTablesEqual(t *testing.T, got, want Table) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("context count %d, want %d (%v)", len(got), len(want), got)
	}
	for ctx, row := range want {
		for a, v := range row {
			if got[ctx][a] != v {
				t.Fatalf("%s/%s = %v, want %v", ctx, a, got[ctx][a], v)
			}
		}
	}
}

func TestBadgerStoreRoundTrip(t *testing.T) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	store := NewBadgerStore(db)
	defer store.Close()

	ctx := context.Background()
	empty, err := store.Load(ctx)
	if err != nil || empty != nil {
		t.Fatalf("expected nil table before first save, got %v %v", empty, err)
	}

	if err := store.Save(ctx, sampleTable()); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	assertTablesEqual(t, got, sampleTable())
}

func TestOpenBadgerStoreOnDisk(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenBadgerStore(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Save(context.Background(), sampleTable()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenBadgerStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	assertTablesEqual(t, got, sampleTable())
}

func TestGormStoreRoundTrip(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.PolicyValue{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := NewGormStore(db)
	ctx := context.Background()

	empty, err := store.Load(ctx)
	if err != nil || empty != nil {
		t.Fatalf("expected nil table before first save, got %v %v", empty, err)
	}

	if err := store.Save(ctx, sampleTable()); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Saving again upserts rather than duplicating rows.
	updated := sampleTable()
	updated["Monday-Morning"][DefaultActions[0]] = 0.72
	if err := store.Save(ctx, updated); err != nil {
		t.Fatalf("second save: %v", err)
	}

	var count int64
	db.Model(&models.PolicyValue{}).Count(&count)
	if count != 3 {
		t.Fatalf("expected 3 rows, got %d", count)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	assertTablesEqual(t, got, updated)
}

func TestRedisStoreUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	store := NewRedisStore(client)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := store.Load(ctx); err == nil {
		t.Fatal("expected load error against unreachable redis")
	}
	if err := store.Save(ctx, sampleTable()); err == nil {
		t.Fatal("expected save error against unreachable redis")
	}

	// The policy treats an unreachable store as a cold start.
	p := New(Config{}, store, nil, zerolog.Nop())
	if len(p.Snapshot()) != 0 {
		t.Fatal("expected cold start")
	}
}
