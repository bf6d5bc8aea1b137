// Package vectorindex stores chunk vectors with filterable metadata. Every
// backend treats upsert as idempotent on chunk id and returns errors rather
// than empty results when the store cannot be reached.
package vectorindex

import (
	"context"
	"errors"
	"math"
	"slices"
)

var (
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrInvalidPoint      = errors.New("invalid vector point")
)

type Metadata struct {
	SourceID  string `json:"source_id"`
	SectionID string `json:"section_id"`
	Language  string `json:"language"`
	Ordinal   int    `json:"ordinal"`
}

type Point struct {
	ChunkID  string
	Vector   []float32
	Metadata Metadata
}

// Filter restricts a search. Empty fields do not constrain.
type Filter struct {
	Language       string
	IncludeSources []string
	ExcludeSources []string
}

func (f Filter) Match(m Metadata) bool {
	if f.Language != "" && m.Language != f.Language {
		return false
	}
	if len(f.IncludeSources) > 0 && !slices.Contains(f.IncludeSources, m.SourceID) {
		return false
	}
	return !slices.Contains(f.ExcludeSources, m.SourceID)
}

type Hit struct {
	ChunkID  string
	Score    float64
	Metadata Metadata
}

type Index interface {
	// EnsureCollection creates the backing collection or table when missing.
	EnsureCollection(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, points []Point) error
	Delete(ctx context.Context, chunkIDs []string) error
	// Search returns at most k hits ordered by descending cosine similarity.
	Search(ctx context.Context, vector []float32, k int, filter Filter) ([]Hit, error)
	Ping(ctx context.Context) error
}

func validatePoints(points []Point, dimension int) error {
	for _, p := range points {
		if p.ChunkID == "" {
			return ErrInvalidPoint
		}
		if dimension > 0 && len(p.Vector) != dimension {
			return ErrDimensionMismatch
		}
	}
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
