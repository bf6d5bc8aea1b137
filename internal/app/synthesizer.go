package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"textbook-rag/internal/ai"
	"textbook-rag/internal/model"
	"textbook-rag/internal/retry"
)

const defaultMaxContextChars = 6000

const synthesisSystemPrompt = `You answer questions about an educational textbook using ONLY the numbered context passages provided.

Rules:
1. Every statement in your answer must come from the passages. Do not add outside knowledge.
2. Cite the passages you used by their labels, for example C1 or C3.
3. If the passages do not contain the answer, set "answerable" to false and leave "citations" empty.
4. Be concise and use the terminology of the passages.

Reply with a single JSON object and nothing else:
{"answer": "<text>", "citations": ["C1"], "answerable": true}`

var markerPattern = regexp.MustCompile(`\s*\[(C\d+(?:\s*,\s*C\d+)*)\]`)

type Synthesis struct {
	Answer       string
	UsedChunkIDs []string
	Answerable   bool
}

type Synthesizer struct {
	generator       Generator
	chat            ai.ChatConfig
	policy          retry.Policy
	maxContextChars int
	logger          *slog.Logger
}

func NewSynthesizer(generator Generator, chat ai.ChatConfig, policy retry.Policy, maxContextChars int, logger *slog.Logger) *Synthesizer {
	if maxContextChars <= 0 {
		maxContextChars = defaultMaxContextChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	chat.JSONResponse = true
	return &Synthesizer{
		generator:       generator,
		chat:            chat,
		policy:          policy,
		maxContextChars: maxContextChars,
		logger:          logger,
	}
}

// Synthesize asks the generator for an answer grounded in candidates.
// UsedChunkIDs only ever contains ids of chunks that were put in the prompt.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, candidates []model.ScoredChunk) (Synthesis, error) {
	labels, contextText := s.buildContext(candidates)
	if len(labels) == 0 {
		return Synthesis{}, nil
	}

	messages := []ai.ChatMessage{
		{Role: "system", Content: synthesisSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Context passages:\n\n%s\nQuestion: %s", contextText, question)},
	}

	var raw string
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		out, err := s.generator.Complete(ctx, s.chat, messages)
		if err != nil {
			if !ai.IsRetryable(err) {
				return retry.Permanent(err)
			}
			return err
		}
		if strings.TrimSpace(out) == "" {
			return fmt.Errorf("empty completion")
		}
		raw = out
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return Synthesis{}, ctx.Err()
		}
		return Synthesis{}, fmt.Errorf("%w: %v", ErrGenerationFailure, err)
	}

	reply := parseReply(raw)
	out := Synthesis{Answer: reply.Answer, Answerable: reply.Answerable}
	seen := make(map[string]bool)
	for _, label := range reply.Citations {
		id, ok := labels[label]
		if !ok {
			s.logger.Warn("generator cited unknown passage", "label", label)
			continue
		}
		if !seen[id] {
			seen[id] = true
			out.UsedChunkIDs = append(out.UsedChunkIDs, id)
		}
	}
	return out, nil
}

// buildContext labels candidates C1..Cn in rank order until the character
// budget is spent. The first candidate is always included.
func (s *Synthesizer) buildContext(candidates []model.ScoredChunk) (map[string]string, string) {
	labels := make(map[string]string, len(candidates))
	var b strings.Builder
	used := 0
	for i, c := range candidates {
		size := len([]rune(c.Chunk.Text))
		if i > 0 && used+size > s.maxContextChars {
			break
		}
		label := "C" + strconv.Itoa(i+1)
		labels[label] = c.Chunk.ID
		fmt.Fprintf(&b, "[%s] (source: %s, section: %s)\n%s\n\n", label, c.Chunk.SourceID, c.Chunk.SectionID, c.Chunk.Text)
		used += size
	}
	return labels, b.String()
}

type generatorReply struct {
	Answer     string   `json:"answer"`
	Citations  []string `json:"citations"`
	Answerable bool     `json:"answerable"`
}

// parseReply reads the JSON reply, falling back to inline [Cn] markers when
// the model ignored the format.
func parseReply(raw string) generatorReply {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var reply generatorReply
	if err := json.Unmarshal([]byte(text), &reply); err == nil && strings.TrimSpace(reply.Answer) != "" {
		for i, c := range reply.Citations {
			reply.Citations[i] = normalizeLabel(c)
		}
		reply.Citations = append(reply.Citations, markerLabels(reply.Answer)...)
		reply.Answer = stripMarkers(reply.Answer)
		return reply
	}

	labels := markerLabels(text)
	return generatorReply{
		Answer:     stripMarkers(text),
		Citations:  labels,
		Answerable: len(labels) > 0,
	}
}

func normalizeLabel(label string) string {
	return strings.ToUpper(strings.Trim(strings.TrimSpace(label), "[]"))
}

func markerLabels(text string) []string {
	var out []string
	for _, m := range markerPattern.FindAllStringSubmatch(text, -1) {
		for _, label := range strings.Split(m[1], ",") {
			out = append(out, strings.TrimSpace(label))
		}
	}
	return out
}

func stripMarkers(text string) string {
	return strings.TrimSpace(markerPattern.ReplaceAllString(text, ""))
}
