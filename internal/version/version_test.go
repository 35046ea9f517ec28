package version

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"v1.2.0", "1.10.0", -1},
		{"2.0.0", "1.99.99", 1},
		{"1.0", "1.0.1", -1},
		{"1.2.3-rc1", "1.2.3", 0},
	}

	for _, tt := range tests {
		if got := CompareVersions(tt.a, tt.b); got != tt.want {
			t.Fatalf("CompareVersions(%q,%q)=%d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestCheckerDetectsUpdate(t *testing.T) {
	orig := Version
	Version = "0.1.0"
	t.Cleanup(func() { Version = orig })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/"+GitHubRepo+"/releases/latest" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"tag_name":"v0.2.0","html_url":"https://example.test/r/0.2.0"}`))
	}))
	defer srv.Close()

	c := NewChecker(zerolog.Nop())
	c.apiBase = srv.URL
	c.Start(context.Background())
	defer c.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if info := c.Info(); !info.CheckedAt.IsZero() {
			if !info.UpdateAvailable || info.LatestVersion != "0.2.0" {
				t.Fatalf("unexpected info %+v", info)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("checker never completed a check")
}

func TestCheckerKeepsInfoOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewChecker(zerolog.Nop())
	c.apiBase = srv.URL
	c.check(context.Background())

	info := c.Info()
	if info.CurrentVersion != Version || info.UpdateAvailable || !info.CheckedAt.IsZero() {
		t.Fatalf("unexpected info after failure %+v", info)
	}
}

func TestCheckerPollsHourly(t *testing.T) {
	if c := NewChecker(zerolog.Nop()); c.checkPeriod != time.Hour {
		t.Fatalf("expected hourly checks, got %v", c.checkPeriod)
	}
}

func TestStopWithoutStart(t *testing.T) {
	NewChecker(zerolog.Nop()).Stop()
}
