// Package storage archives raw source documents so the corpus can be
// re-embedded without going back to the authoring pipeline.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"textbook-rag/internal/segmenter"
)

var ErrNotFound = errors.New("archived source not found")

const keyPrefix = "sources/"

// Source is the ingestion input exactly as it was received.
type Source struct {
	SourceID   string                      `json:"source_id"`
	Language   string                      `json:"language"`
	Text       string                      `json:"text"`
	Sections   []segmenter.SectionBoundary `json:"sections,omitempty"`
	ArchivedAt time.Time                   `json:"archived_at"`
}

// Backend stores opaque blobs by key.
type Backend interface {
	Put(ctx context.Context, key string, data io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

type Type string

const (
	TypeNone  Type = "none"
	TypeLocal Type = "local"
	TypeS3    Type = "s3"
)

type Config struct {
	Type         Type
	LocalPath    string
	S3Bucket     string
	S3Region     string
	AWSAccessKey string
	AWSSecretKey string
}

// NewArchive returns nil for TypeNone; callers treat a nil archive as disabled.
func NewArchive(ctx context.Context, cfg Config) (*Archive, error) {
	var backend Backend
	var err error
	switch cfg.Type {
	case TypeNone, "":
		return nil, nil
	case TypeLocal:
		backend, err = NewLocalStorage(cfg.LocalPath)
	case TypeS3:
		backend, err = NewS3Storage(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return &Archive{backend: backend}, nil
}

// Archive stores Sources as JSON documents on a Backend.
type Archive struct {
	backend Backend
}

func NewArchiveWithBackend(backend Backend) *Archive {
	return &Archive{backend: backend}
}

func (a *Archive) Put(ctx context.Context, src Source) error {
	if src.ArchivedAt.IsZero() {
		src.ArchivedAt = time.Now().UTC()
	}
	data, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("marshal source failed: %w", err)
	}
	if err := a.backend.Put(ctx, sourceKey(src.SourceID), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("archive source %s failed: %w", src.SourceID, err)
	}
	return nil
}

func (a *Archive) Get(ctx context.Context, sourceID string) (*Source, error) {
	rc, err := a.backend.Get(ctx, sourceKey(sourceID))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var src Source
	if err := json.NewDecoder(rc).Decode(&src); err != nil {
		return nil, fmt.Errorf("decode archived source %s failed: %w", sourceID, err)
	}
	return &src, nil
}

// List returns archived source ids in lexical order.
func (a *Archive) List(ctx context.Context) ([]string, error) {
	keys, err := a.backend.List(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		name := strings.TrimSuffix(strings.TrimPrefix(k, keyPrefix), ".json")
		id, err := url.PathUnescape(name)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func sourceKey(sourceID string) string {
	return keyPrefix + url.PathEscape(sourceID) + ".json"
}
