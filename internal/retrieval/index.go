/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package retrieval is an in-process similarity index over known tracks.
// Documents are embedded with hashed unigram and bigram features and ranked
// by cosine similarity.
package retrieval

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/friendsincode/jukebox/internal/models"
	"github.com/friendsincode/jukebox/internal/recommend"
)

// DefaultDimensions is the embedding width.
const DefaultDimensions = 256

// TrackLister supplies the tracks an index is rebuilt from.
type TrackLister interface {
	ListTracks(ctx context.Context) ([]models.Track, error)
}

type document struct {
	id       string
	seq      int
	vector   []float64
	metadata map[string]string
}

// Index is safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	dims    int
	enabled bool
	docs    map[string]*document
	seq     int
	logger  zerolog.Logger
}

// New creates an empty index. A disabled index accepts writes but never
// returns candidates.
func New(dims int, enabled bool, logger zerolog.Logger) *Index {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Index{
		dims:    dims,
		enabled: enabled,
		docs:    make(map[string]*document),
		logger:  logger.With().Str("component", "retrieval").Logger(),
	}
}

// Document renders the text a track is indexed under.
func Document(t models.Track) string {
	doc := t.Title + " by " + t.Artist + "."
	if tags := strings.TrimSpace(t.Tags); tags != "" {
		doc += " " + tags
	}
	return doc
}

// Upsert adds or replaces the track's document.
func (ix *Index) Upsert(t models.Track) {
	vec := ix.embed(Document(t))

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if existing, ok := ix.docs[t.ID]; ok {
		existing.vector = vec
		existing.metadata = metadataFor(t)
		return
	}
	ix.seq++
	ix.docs[t.ID] = &document{id: t.ID, seq: ix.seq, vector: vec, metadata: metadataFor(t)}
}

// Remove drops a track from the index.
func (ix *Index) Remove(id string) {
	ix.mu.Lock()
	delete(ix.docs, id)
	ix.mu.Unlock()
}

// Len reports the number of indexed tracks.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}

// Rebuild replaces the index contents with every track from src.
func (ix *Index) Rebuild(ctx context.Context, src TrackLister) error {
	tracks, err := src.ListTracks(ctx)
	if err != nil {
		return err
	}

	docs := make(map[string]*document, len(tracks))
	for i, t := range tracks {
		docs[t.ID] = &document{id: t.ID, seq: i + 1, vector: ix.embed(Document(t)), metadata: metadataFor(t)}
	}

	ix.mu.Lock()
	ix.docs = docs
	ix.seq = len(tracks)
	ix.mu.Unlock()

	ix.logger.Info().Int("tracks", len(tracks)).Msg("similarity index rebuilt")
	return nil
}

// FetchCandidates returns up to limit tracks ranked by similarity to query.
// Like a nearest-neighbour store it always returns min(limit, Len()) hits.
func (ix *Index) FetchCandidates(ctx context.Context, query string, limit int) ([]recommend.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ix.enabled || limit <= 0 {
		return nil, nil
	}

	q := ix.embed(query)

	ix.mu.RLock()
	type scored struct {
		doc   *document
		score float64
	}
	hits := make([]scored, 0, len(ix.docs))
	for _, d := range ix.docs {
		hits = append(hits, scored{doc: d, score: dot(q, d.vector)})
	}
	ix.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].doc.seq < hits[j].doc.seq
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]recommend.Candidate, len(hits))
	for i, h := range hits {
		out[i] = recommend.Candidate{ID: h.doc.id, Metadata: h.doc.metadata, Score: h.score}
	}
	return out, nil
}

func metadataFor(t models.Track) map[string]string {
	return map[string]string{"title": t.Title, "artist": t.Artist, "type": "song"}
}

// embed hashes unigrams and bigrams into a signed, L2-normalised vector.
func (ix *Index) embed(text string) []float64 {
	vec := make([]float64, ix.dims)
	tokens := tokenize(text)
	for i, tok := range tokens {
		ix.addFeature(vec, tok)
		if i > 0 {
			ix.addFeature(vec, tokens[i-1]+" "+tok)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

func (ix *Index) addFeature(vec []float64, feature string) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum32()
	sign := 1.0
	if sum&0x80000000 != 0 {
		sign = -1.0
	}
	vec[int(sum%uint32(ix.dims))] += sign
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
