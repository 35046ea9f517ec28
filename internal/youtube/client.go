/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package youtube resolves a search query to a single playable video via the
// YouTube Data API.
package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/friendsincode/jukebox/internal/models"
)

const (
	defaultBaseURL = "https://www.googleapis.com/youtube/v3"
	userAgent      = "jukebox/1.0"
)

// Sentinel errors.
var (
	// ErrUnconfigured is returned when no API key is set.
	ErrUnconfigured = errors.New("youtube api key not configured")

	// ErrQuotaExceeded is returned when the API rejects the key for quota.
	ErrQuotaExceeded = errors.New("youtube quota exceeded")
)

// Result is the top search hit.
type Result struct {
	VideoID      string `json:"video_id"`
	Title        string `json:"title"`
	Channel      string `json:"channel"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// Track converts the hit into a track; the channel stands in for the artist.
func (r Result) Track(tags string) models.Track {
	return models.Track{
		ID:           r.VideoID,
		Title:        r.Title,
		Artist:       r.Channel,
		ThumbnailURL: r.ThumbnailURL,
		Tags:         tags,
	}
}

// Config for the client.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration

	RequestsPerSecond float64
	Burst             int

	FailureThreshold uint32
	CooldownPeriod   time.Duration
}

// Client is safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[*Result]
	logger     zerolog.Logger
}

// New creates a client.
func New(cfg Config, logger zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 4
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.CooldownPeriod <= 0 {
		cfg.CooldownPeriod = time.Minute
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:     logger.With().Str("component", "youtube").Logger(),
	}
	c.breaker = gobreaker.NewCircuitBreaker[*Result](gobreaker.Settings{
		Name:        "youtube",
		MaxRequests: 1,
		Timeout:     cfg.CooldownPeriod,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("youtube breaker state changed")
		},
	})
	return c
}

type searchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			ChannelTitle string `json:"channelTitle"`
			Thumbnails   map[string]struct {
				URL string `json:"url"`
			} `json:"thumbnails"`
		} `json:"snippet"`
	} `json:"items"`
}

// Resolve returns the top video for query, or nil when nothing matched.
func (c *Client) Resolve(ctx context.Context, query string) (*Result, error) {
	if c.cfg.APIKey == "" {
		return nil, ErrUnconfigured
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("youtube rate limit: %w", err)
	}

	return c.breaker.Execute(func() (*Result, error) {
		return c.search(ctx, query)
	})
}

func (c *Client) search(ctx context.Context, query string) (*Result, error) {
	params := url.Values{
		"part":       {"snippet"},
		"q":          {query},
		"type":       {"video"},
		"maxResults": {"1"},
		"key":        {c.cfg.APIKey},
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/search?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("youtube search: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusForbidden && strings.Contains(string(body), "quotaExceeded"):
		return nil, ErrQuotaExceeded
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("youtube search returned status %d", resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parsing search response: %w", err)
	}

	for _, item := range parsed.Items {
		if item.ID.VideoID == "" {
			continue
		}
		res := &Result{
			VideoID: item.ID.VideoID,
			Title:   html.UnescapeString(item.Snippet.Title),
			Channel: html.UnescapeString(item.Snippet.ChannelTitle),
		}
		for _, size := range []string{"default", "medium", "high"} {
			if th, ok := item.Snippet.Thumbnails[size]; ok && th.URL != "" {
				res.ThumbnailURL = th.URL
				break
			}
		}
		c.logger.Debug().Str("query", query).Str("video_id", res.VideoID).Msg("resolved")
		return res, nil
	}
	return nil, nil
}
