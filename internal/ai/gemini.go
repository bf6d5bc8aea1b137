package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GeminiBatchLimit is the most texts BatchEmbedContents accepts per call.
const GeminiBatchLimit = 96

type EmbeddingTask int

const (
	TaskDocument EmbeddingTask = iota
	TaskQuery
)

type GeminiClient struct {
	client *genai.Client
}

func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini api key is empty")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client failed: %w", err)
	}
	return &GeminiClient{client: client}, nil
}

func (g *GeminiClient) Close() error {
	return g.client.Close()
}

// Complete sends a single-turn prompt. System messages become the system
// instruction; the rest are joined in order.
func (g *GeminiClient) Complete(ctx context.Context, cfg ChatConfig, messages []ChatMessage) (string, error) {
	model := g.client.GenerativeModel(cfg.Model)
	model.SetTemperature(cfg.Temperature)
	if cfg.JSONResponse {
		model.ResponseMIMEType = "application/json"
	}

	var system, prompt []string
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		prompt = append(prompt, m.Content)
	}
	if len(system) > 0 {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(strings.Join(system, "\n\n"))}}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(strings.Join(prompt, "\n\n")))
	if err != nil {
		return "", fmt.Errorf("gemini generate failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("empty gemini candidates")
	}
	var out strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			out.WriteString(string(text))
		}
	}
	return out.String(), nil
}

func (g *GeminiClient) EmbedBatch(ctx context.Context, modelName string, task EmbeddingTask, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > GeminiBatchLimit {
		return nil, fmt.Errorf("gemini batch of %d exceeds limit %d", len(texts), GeminiBatchLimit)
	}
	em := g.client.EmbeddingModel(modelName)
	em.TaskType = genai.TaskTypeRetrievalDocument
	if task == TaskQuery {
		em.TaskType = genai.TaskTypeRetrievalQuery
	}

	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}
	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini batch embed failed: %w", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d vectors for %d inputs", len(res.Embeddings), len(texts))
	}
	out := make([][]float32, len(res.Embeddings))
	for i, e := range res.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

// IsRetryable reports whether err from either provider is worth repeating.
// Unknown errors (network, timeouts) are treated as transient.
func IsRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		return ge.Code == http.StatusTooManyRequests || ge.Code >= 500
	}
	return true
}
