package app

import (
	"errors"
	"fmt"

	"textbook-rag/internal/repository"
	"textbook-rag/internal/segmenter"
)

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrContent              = segmenter.ErrContent
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")
	// ErrEmbeddingDimension means the model now returns vectors of another
	// size. Retrying cannot help; the corpus has to be reindexed.
	ErrEmbeddingDimension   = errors.New("embedding dimension changed")
	ErrIndexUnavailable     = errors.New("vector index unavailable")
	ErrGenerationFailure    = errors.New("answer generation failed")
	ErrSessionNotFound      = repository.ErrSessionNotFound
	ErrIngestBusy           = errors.New("ingestion queue is full")
)

// ContentError reports a document that cannot be ingested. It matches
// ErrContent under errors.Is.
type ContentError struct {
	SourceID string
	Err      error
}

func (e *ContentError) Error() string {
	return fmt.Sprintf("content error for source %q: %v", e.SourceID, e.Err)
}

func (e *ContentError) Unwrap() error { return e.Err }

func newContentError(sourceID string, err error) error {
	if !errors.Is(err, ErrContent) {
		err = fmt.Errorf("%w: %v", ErrContent, err)
	}
	return &ContentError{SourceID: sourceID, Err: err}
}

// IsTransient reports whether an ingestion failure should be retried later.
func IsTransient(err error) bool {
	return errors.Is(err, ErrEmbeddingUnavailable) ||
		errors.Is(err, ErrIndexUnavailable) ||
		errors.Is(err, ErrIngestBusy)
}
