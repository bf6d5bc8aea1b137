package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// pointNamespace maps chunk ids onto the UUIDs Qdrant requires as point ids.
var pointNamespace = uuid.MustParse("6f1c2a8e-3b7d-4c15-9a0e-5d2f8b4c7e91")

func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// Qdrant is a minimal REST client. It assumes cosine distance and creates
// the collection if missing.
type Qdrant struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
}

type qdrantStatusError struct {
	method, path string
	status       int
	body         string
}

func (e *qdrantStatusError) Error() string {
	return fmt.Sprintf("qdrant %s %s failed: status %d: %s", e.method, e.path, e.status, e.body)
}

func NewQdrant(cfg QdrantConfig) *Qdrant {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Qdrant{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

func (q *Qdrant) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("%w: %d", ErrDimensionMismatch, dimension)
	}
	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	err := q.do(ctx, http.MethodGet, q.collectionPath(), nil, &info)
	var se *qdrantStatusError
	switch {
	case err == nil:
		if size := info.Result.Config.Params.Vectors.Size; size != 0 && size != dimension {
			return fmt.Errorf("%w: collection %s has size %d, want %d", ErrDimensionMismatch, q.collection, size, dimension)
		}
		return nil
	case errors.As(err, &se) && se.status == http.StatusNotFound:
	default:
		return err
	}

	body := map[string]any{
		"vectors": map[string]any{"size": dimension, "distance": "Cosine"},
	}
	if err := q.do(ctx, http.MethodPut, q.collectionPath(), body, nil); err != nil {
		return err
	}
	for _, field := range []string{"language", "source_id"} {
		idx := map[string]any{"field_name": field, "field_schema": "keyword"}
		if err := q.do(ctx, http.MethodPut, q.collectionPath()+"/index?wait=true", idx, nil); err != nil {
			return err
		}
	}
	return nil
}

func (q *Qdrant) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := validatePoints(points, len(points[0].Vector)); err != nil {
		return err
	}
	body := make([]map[string]any, len(points))
	for i, p := range points {
		body[i] = map[string]any{
			"id":     PointID(p.ChunkID),
			"vector": p.Vector,
			"payload": map[string]any{
				"chunk_id":   p.ChunkID,
				"source_id":  p.Metadata.SourceID,
				"section_id": p.Metadata.SectionID,
				"language":   p.Metadata.Language,
				"ordinal":    p.Metadata.Ordinal,
			},
		}
	}
	return q.do(ctx, http.MethodPut, q.collectionPath()+"/points?wait=true", map[string]any{"points": body}, nil)
}

func (q *Qdrant) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	ids := make([]string, len(chunkIDs))
	for i, id := range chunkIDs {
		ids[i] = PointID(id)
	}
	return q.do(ctx, http.MethodPost, q.collectionPath()+"/points/delete?wait=true", map[string]any{"points": ids}, nil)
}

func (q *Qdrant) Search(ctx context.Context, vector []float32, k int, filter Filter) ([]Hit, error) {
	if k <= 0 {
		k = 5
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	if f := qdrantFilter(filter); f != nil {
		req["filter"] = f
	}

	var resp struct {
		Result []struct {
			Score   float64  `json:"score"`
			Payload struct {
				ChunkID string `json:"chunk_id"`
				Metadata
			} `json:"payload"`
		} `json:"result"`
	}
	if err := q.do(ctx, http.MethodPost, q.collectionPath()+"/points/search", req, &resp); err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		if r.Payload.ChunkID == "" {
			continue
		}
		hits = append(hits, Hit{ChunkID: r.Payload.ChunkID, Score: r.Score, Metadata: r.Payload.Metadata})
	}
	return hits, nil
}

func (q *Qdrant) Ping(ctx context.Context) error {
	return q.do(ctx, http.MethodGet, q.collectionPath(), nil, nil)
}

func qdrantFilter(f Filter) map[string]any {
	var must, mustNot []map[string]any
	if f.Language != "" {
		must = append(must, map[string]any{"key": "language", "match": map[string]any{"value": f.Language}})
	}
	if len(f.IncludeSources) > 0 {
		must = append(must, map[string]any{"key": "source_id", "match": map[string]any{"any": f.IncludeSources}})
	}
	if len(f.ExcludeSources) > 0 {
		mustNot = append(mustNot, map[string]any{"key": "source_id", "match": map[string]any{"any": f.ExcludeSources}})
	}
	if len(must) == 0 && len(mustNot) == 0 {
		return nil
	}
	out := map[string]any{}
	if len(must) > 0 {
		out["must"] = must
	}
	if len(mustNot) > 0 {
		out["must_not"] = mustNot
	}
	return out
}

func (q *Qdrant) collectionPath() string {
	return "/collections/" + q.collection
}

func (q *Qdrant) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal qdrant request failed: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, q.url+path, reader)
	if err != nil {
		return fmt.Errorf("build qdrant request failed: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &qdrantStatusError{method: method, path: path, status: resp.StatusCode, body: string(raw)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode qdrant response failed: %w", err)
		}
	}
	return nil
}
