package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"textbook-rag/internal/ai"
	"textbook-rag/internal/retry"
)

// EmbeddingProvider is one upstream embedding API.
type EmbeddingProvider interface {
	EmbedBatch(ctx context.Context, texts []string, task ai.EmbeddingTask) ([][]float32, error)
}

type openAIEmbeddings struct {
	client *ai.OpenAICompatibleClient
	cfg    ai.EmbeddingConfig
}

func NewOpenAIEmbeddingProvider(client *ai.OpenAICompatibleClient, cfg ai.EmbeddingConfig) EmbeddingProvider {
	return &openAIEmbeddings{client: client, cfg: cfg}
}

func (p *openAIEmbeddings) EmbedBatch(ctx context.Context, texts []string, _ ai.EmbeddingTask) ([][]float32, error) {
	return p.client.EmbedBatch(ctx, p.cfg, texts)
}

type geminiEmbeddings struct {
	client *ai.GeminiClient
	model  string
}

func NewGeminiEmbeddingProvider(client *ai.GeminiClient, model string) EmbeddingProvider {
	return &geminiEmbeddings{client: client, model: model}
}

func (p *geminiEmbeddings) EmbedBatch(ctx context.Context, texts []string, task ai.EmbeddingTask) ([][]float32, error) {
	return p.client.EmbedBatch(ctx, p.model, task, texts)
}

// EmbeddingClient adds batching, retries and a fixed output dimension on top
// of a provider. Once the dimension is known every later vector must match it.
type EmbeddingClient struct {
	provider  EmbeddingProvider
	policy    retry.Policy
	batchSize int
	logger    *slog.Logger

	mu         sync.RWMutex
	dimensions int
}

func NewEmbeddingClient(provider EmbeddingProvider, policy retry.Policy, batchSize, dimensions int, logger *slog.Logger) *EmbeddingClient {
	if batchSize <= 0 {
		batchSize = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbeddingClient{
		provider:   provider,
		policy:     policy,
		batchSize:  batchSize,
		dimensions: dimensions,
		logger:     logger,
	}
}

// Dimensions returns the vector size, or 0 before the first successful call
// when none was configured.
func (c *EmbeddingClient) Dimensions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dimensions
}

// Embed embeds a query.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.embed(ctx, []string{text}, ai.TaskQuery)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds documents, splitting into provider-sized batches.
func (c *EmbeddingClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		vecs, err := c.embed(ctx, texts[start:end], ai.TaskDocument)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *EmbeddingClient) embed(ctx context.Context, texts []string, task ai.EmbeddingTask) ([][]float32, error) {
	var vecs [][]float32
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		got, err := c.provider.EmbedBatch(ctx, texts, task)
		if err != nil {
			if !ai.IsRetryable(err) {
				return retry.Permanent(err)
			}
			return err
		}
		if len(got) != len(texts) {
			return fmt.Errorf("provider returned %d vectors for %d texts", len(got), len(texts))
		}
		vecs = got
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("embedding call failed", "texts", len(texts), "err", err)
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	if err := c.checkDimensions(vecs); err != nil {
		return nil, err
	}
	return vecs, nil
}

func (c *EmbeddingClient) checkDimensions(vecs [][]float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range vecs {
		if c.dimensions == 0 {
			c.dimensions = len(v)
		}
		if len(v) != c.dimensions {
			c.logger.Error("embedding dimension changed", "got", len(v), "want", c.dimensions)
			return fmt.Errorf("%w: got %d, want %d", ErrEmbeddingDimension, len(v), c.dimensions)
		}
	}
	return nil
}
