package app

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"textbook-rag/internal/ai"
	"textbook-rag/internal/model"
	"textbook-rag/internal/retry"
	"textbook-rag/internal/vectorindex"
)

const testDims = 256

var testPolicy = retry.Policy{MaxAttempts: 2}

// bagOfWords embeds text as normalized hashed word counts, so texts that
// share words score high under cosine similarity.
func bagOfWords(text string) []float32 {
	v := make([]float32, testDims)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%testDims]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm > 0 {
		for i := range v {
			v[i] /= float32(math.Sqrt(norm))
		}
	}
	return v
}

type fakeProvider struct {
	mu    sync.Mutex
	calls int
	sizes []int
	// errs are returned by successive calls before falling back to success.
	errs []error
	dims int
}

func (p *fakeProvider) EmbedBatch(ctx context.Context, texts []string, _ ai.EmbeddingTask) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.calls++
	p.sizes = append(p.sizes, len(texts))
	var err error
	if len(p.errs) > 0 {
		err, p.errs = p.errs[0], p.errs[1:]
	}
	dims := p.dims
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := bagOfWords(t)
		if dims > 0 {
			v = v[:dims]
		}
		out[i] = v
	}
	return out, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeGenerator struct {
	mu       sync.Mutex
	calls    int
	reply    func(messages []ai.ChatMessage) string
	err      error
	lastCfg  ai.ChatConfig
	lastMsgs []ai.ChatMessage
	block    bool
}

func (g *fakeGenerator) Complete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage) (string, error) {
	g.mu.Lock()
	g.calls++
	g.lastCfg = cfg
	g.lastMsgs = messages
	g.mu.Unlock()
	if g.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if g.err != nil {
		return "", g.err
	}
	return g.reply(messages), nil
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fixedEmbedder struct {
	vector []float32
	err    error
}

func (e fixedEmbedder) Embed(context.Context, string) ([]float32, error) {
	return e.vector, e.err
}

// flakyIndex fails selected operations and otherwise delegates to Memory.
type flakyIndex struct {
	*vectorindex.Memory
	searchErr error
	upsertErr error
	searches  int
}

func (f *flakyIndex) Search(ctx context.Context, v []float32, k int, filter vectorindex.Filter) ([]vectorindex.Hit, error) {
	f.searches++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.Memory.Search(ctx, v, k, filter)
}

func (f *flakyIndex) Upsert(ctx context.Context, points []vectorindex.Point) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	return f.Memory.Upsert(ctx, points)
}

var errUpstream = errors.New("upstream unavailable")

func scored(id, source, section string, ordinal int, score float64, text string) model.ScoredChunk {
	return model.ScoredChunk{
		Chunk: model.Chunk{ID: id, SourceID: source, SectionID: section, Ordinal: ordinal, Language: "en", Text: text},
		Score: score,
	}
}
