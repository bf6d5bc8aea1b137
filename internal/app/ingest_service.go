package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"textbook-rag/internal/model"
	"textbook-rag/internal/pkg/keylock"
	"textbook-rag/internal/retry"
	"textbook-rag/internal/segmenter"
	"textbook-rag/internal/storage"
	"textbook-rag/internal/vectorindex"
)

const defaultIngestWorkers = 4

type DocumentEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type IngestInput struct {
	SourceID string                      `json:"source_id" binding:"required"`
	Text     string                      `json:"text" binding:"required"`
	Language string                      `json:"language" binding:"required"`
	Sections []segmenter.SectionBoundary `json:"section_boundaries"`
}

type IngestResult struct {
	SourceID      string   `json:"source_id"`
	ChunksWritten int      `json:"chunks_written"`
	Errors        []string `json:"errors"`
}

type IngestOptions struct {
	// Workers bounds how many sources are segmented, embedded and written at
	// once across every caller.
	Workers int
	// QueueDepth bounds how many ingestions may wait for a free worker slot.
	// Zero means unbounded.
	QueueDepth int
	Languages  []string
}

// IngestService replaces a source's chunks as one unit. Work on one source id
// is serialized; different sources run in parallel up to the worker limit.
type IngestService struct {
	segmenter *segmenter.Segmenter
	embedder  DocumentEmbedder
	index     vectorindex.Index
	chunks    ChunkStore
	archive   SourceArchive
	policy    retry.Policy
	locks     *keylock.Arena
	workers   int
	languages []string
	logger    *slog.Logger

	slots      chan struct{}
	queueDepth int64
	waiting    atomic.Int64

	ensureMu sync.Mutex
	ensured  int
}

func NewIngestService(seg *segmenter.Segmenter, embedder DocumentEmbedder, index vectorindex.Index, chunks ChunkStore, archive SourceArchive, policy retry.Policy, opts IngestOptions, logger *slog.Logger) *IngestService {
	if seg == nil {
		seg = segmenter.New()
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultIngestWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestService{
		segmenter: seg,
		embedder:  embedder,
		index:     index,
		chunks:    chunks,
		archive:   archive,
		policy:    policy,
		locks:     keylock.New(),
		workers:   opts.Workers,
		languages: opts.Languages,
		logger:    logger,

		slots:      make(chan struct{}, opts.Workers),
		queueDepth: int64(opts.QueueDepth),
	}
}

// Ingest segments, embeds and stores one source. On any error the previously
// stored chunks for the source stay visible to readers.
func (s *IngestService) Ingest(ctx context.Context, in IngestInput) (*IngestResult, error) {
	result, err := s.ingest(ctx, in)
	if err != nil {
		return nil, err
	}
	if s.archive != nil {
		src := storage.Source{SourceID: in.SourceID, Language: in.Language, Text: in.Text, Sections: in.Sections}
		if err := s.archive.Put(ctx, src); err != nil {
			s.logger.Warn("archive source failed", "source_id", in.SourceID, "err", err)
		}
	}
	return result, nil
}

func (s *IngestService) ingest(ctx context.Context, in IngestInput) (*IngestResult, error) {
	in.SourceID = strings.TrimSpace(in.SourceID)
	if len(s.languages) > 0 && !slices.Contains(s.languages, in.Language) {
		return nil, newContentError(in.SourceID, fmt.Errorf("unsupported language %q", in.Language))
	}

	unlock, err := s.locks.Lock(ctx, in.SourceID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	chunks, err := s.segmenter.Segment(segmenter.Document{
		SourceID: in.SourceID,
		Text:     in.Text,
		Language: in.Language,
		Sections: in.Sections,
	})
	if err != nil {
		return nil, newContentError(in.SourceID, err)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("%w: got %d vectors for %d chunks", ErrEmbeddingUnavailable, len(vectors), len(chunks))
	}
	if err := s.ensureCollection(ctx, len(vectors[0])); err != nil {
		return nil, err
	}

	oldIDs, err := s.chunks.ChunkIDsBySource(ctx, in.SourceID)
	if err != nil {
		return nil, s.indexError(ctx, "read existing chunks", err)
	}

	points := make([]vectorindex.Point, len(chunks))
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
		points[i] = vectorindex.Point{
			ChunkID: chunks[i].ID,
			Vector:  vectors[i],
			Metadata: vectorindex.Metadata{
				SourceID:  chunks[i].SourceID,
				SectionID: chunks[i].SectionID,
				Language:  chunks[i].Language,
				Ordinal:   chunks[i].Ordinal,
			},
		}
	}
	err = s.policy.Do(ctx, func(ctx context.Context) error {
		return s.index.Upsert(ctx, points)
	})
	if err != nil {
		return nil, s.indexError(ctx, "upsert vectors", err)
	}

	// Readers resolve hits through the chunk store, so the swap below is the
	// moment the new version becomes visible.
	if err := s.chunks.ReplaceSource(ctx, in.SourceID, chunks); err != nil {
		return nil, s.indexError(ctx, "replace chunks", err)
	}

	if stale := staleIDs(oldIDs, chunks); len(stale) > 0 {
		err := s.policy.Do(ctx, func(ctx context.Context) error {
			return s.index.Delete(ctx, stale)
		})
		if err != nil {
			s.logger.Warn("delete stale vectors failed", "source_id", in.SourceID, "count", len(stale), "err", err)
		}
	}

	s.logger.Info("source ingested", "source_id", in.SourceID, "chunks", len(chunks))
	return &IngestResult{SourceID: in.SourceID, ChunksWritten: len(chunks), Errors: []string{}}, nil
}

// IngestBatch ingests every input and reports per-source outcomes in input
// order. One bad document never stops the others.
func (s *IngestService) IngestBatch(ctx context.Context, inputs []IngestInput) []IngestResult {
	return s.runBatch(ctx, inputs, s.Ingest)
}

// Reindex re-ingests every archived source, e.g. after an embedding model change.
func (s *IngestService) Reindex(ctx context.Context) ([]IngestResult, error) {
	if s.archive == nil {
		return nil, errors.New("source archive is not configured")
	}
	ids, err := s.archive.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list archived sources failed: %w", err)
	}
	inputs := make([]IngestInput, 0, len(ids))
	for _, id := range ids {
		src, err := s.archive.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load archived source %s failed: %w", id, err)
		}
		inputs = append(inputs, IngestInput{SourceID: src.SourceID, Text: src.Text, Language: src.Language, Sections: src.Sections})
	}
	return s.runBatch(ctx, inputs, s.ingest), nil
}

func (s *IngestService) runBatch(ctx context.Context, inputs []IngestInput, fn func(context.Context, IngestInput) (*IngestResult, error)) []IngestResult {
	results := make([]IngestResult, len(inputs))
	jobs := make(chan int, len(inputs))
	for i := range inputs {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < min(s.workers, len(inputs)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				in := inputs[i]
				res, err := fn(ctx, in)
				if err != nil {
					s.logger.Warn("ingest source failed", "source_id", in.SourceID, "err", err)
					results[i] = IngestResult{SourceID: in.SourceID, Errors: []string{err.Error()}}
					continue
				}
				results[i] = *res
			}
		}()
	}
	wg.Wait()
	return results
}

// acquire takes a worker slot, waiting in line when all are busy. Callers past
// the queue depth are turned away with ErrIngestBusy.
func (s *IngestService) acquire(ctx context.Context) (func(), error) {
	select {
	case s.slots <- struct{}{}:
		return func() { <-s.slots }, nil
	default:
	}

	if n := s.waiting.Add(1); s.queueDepth > 0 && n > s.queueDepth {
		s.waiting.Add(-1)
		return nil, ErrIngestBusy
	}
	defer s.waiting.Add(-1)

	select {
	case s.slots <- struct{}{}:
		return func() { <-s.slots }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *IngestService) ensureCollection(ctx context.Context, dimension int) error {
	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()
	if s.ensured == dimension {
		return nil
	}
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		return s.index.EnsureCollection(ctx, dimension)
	})
	if err != nil {
		return s.indexError(ctx, "ensure collection", err)
	}
	s.ensured = dimension
	return nil
}

func (s *IngestService) indexError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, vectorindex.ErrDimensionMismatch) {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrIndexUnavailable, op, err)
}

func staleIDs(oldIDs []string, chunks []model.Chunk) []string {
	current := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		current[c.ID] = true
	}
	var out []string
	for _, id := range oldIDs {
		if !current[id] {
			out = append(out, id)
		}
	}
	return out
}
