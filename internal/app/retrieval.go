package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"textbook-rag/internal/model"
	"textbook-rag/internal/retry"
	"textbook-rag/internal/vectorindex"
)

const (
	defaultTopK = 5
	// Hits are overfetched so that deduplication by section still leaves k.
	overfetchFactor = 4
)

type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type RetrievalResult struct {
	Candidates []model.ScoredChunk
	// NoRelevantContent is set when nothing survived filtering. It is a
	// signal for the scope classifier, not an error.
	NoRelevantContent bool
}

func (r RetrievalResult) TopScore() float64 {
	if len(r.Candidates) == 0 {
		return 0
	}
	return r.Candidates[0].Score
}

type Retriever struct {
	embedder QueryEmbedder
	index    vectorindex.Index
	chunks   ChunkStore
	policy   retry.Policy
	logger   *slog.Logger
}

func NewRetriever(embedder QueryEmbedder, index vectorindex.Index, chunks ChunkStore, policy retry.Policy, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embedder: embedder, index: index, chunks: chunks, policy: policy, logger: logger}
}

// Retrieve returns at most k chunks in the given language, one per
// (source, section), ordered by score then ordinal then source id.
func (r *Retriever) Retrieve(ctx context.Context, query, language string, k int) (RetrievalResult, error) {
	if k <= 0 {
		k = defaultTopK
	}
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return RetrievalResult{}, err
	}

	var hits []vectorindex.Hit
	err = r.policy.Do(ctx, func(ctx context.Context) error {
		var searchErr error
		hits, searchErr = r.index.Search(ctx, vector, k*overfetchFactor, vectorindex.Filter{Language: language})
		return searchErr
	})
	if err != nil {
		if ctx.Err() != nil {
			return RetrievalResult{}, ctx.Err()
		}
		return RetrievalResult{}, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}

	candidates, err := r.resolve(ctx, hits, language)
	if err != nil {
		return RetrievalResult{}, err
	}
	candidates = dedupeBySection(candidates)
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return RetrievalResult{Candidates: candidates, NoRelevantContent: len(candidates) == 0}, nil
}

// resolve loads chunk rows for hits. Hits without a row belong to a source
// that was re-ingested since and are dropped.
func (r *Retriever) resolve(ctx context.Context, hits []vectorindex.Hit, language string) ([]model.ScoredChunk, error) {
	if len(hits) == 0 {
		return nil, nil
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
	}
	rows, err := r.chunks.GetByIDs(ctx, ids)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: resolve chunks: %v", ErrIndexUnavailable, err)
	}
	byID := make(map[string]model.Chunk, len(rows))
	for _, c := range rows {
		byID[c.ID] = c
	}

	out := make([]model.ScoredChunk, 0, len(hits))
	for _, h := range hits {
		c, ok := byID[h.ChunkID]
		if !ok {
			r.logger.Warn("dropping stale index hit", "chunk_id", h.ChunkID, "source_id", h.Metadata.SourceID)
			continue
		}
		if language != "" && c.Language != language {
			continue
		}
		out = append(out, model.ScoredChunk{Chunk: c, Score: h.Score})
	}
	return out, nil
}

func dedupeBySection(candidates []model.ScoredChunk) []model.ScoredChunk {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.Ordinal != b.Chunk.Ordinal {
			return a.Chunk.Ordinal < b.Chunk.Ordinal
		}
		if a.Chunk.SourceID != b.Chunk.SourceID {
			return a.Chunk.SourceID < b.Chunk.SourceID
		}
		return a.Chunk.ID < b.Chunk.ID
	})

	type key struct{ source, section string }
	seen := make(map[key]bool, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		k := key{c.Chunk.SourceID, c.Chunk.SectionID}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}
