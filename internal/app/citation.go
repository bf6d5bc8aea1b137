package app

import (
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"textbook-rag/internal/model"
	"textbook-rag/internal/segmenter"
)

const defaultSnippetMaxChars = 300

// CitationMapper turns used chunk ids into citations. Only ids present in the
// candidate set are resolved; anything else is dropped and logged.
type CitationMapper struct {
	snippetMaxChars int
	logger          *slog.Logger
}

func NewCitationMapper(snippetMaxChars int, logger *slog.Logger) *CitationMapper {
	if snippetMaxChars <= 0 {
		snippetMaxChars = defaultSnippetMaxChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CitationMapper{snippetMaxChars: snippetMaxChars, logger: logger}
}

func (m *CitationMapper) Map(usedIDs []string, candidates []model.ScoredChunk, answer string) []model.Citation {
	byID := make(map[string]model.ScoredChunk, len(candidates))
	for _, c := range candidates {
		byID[c.Chunk.ID] = c
	}

	out := make([]model.Citation, 0, len(usedIDs))
	seen := make(map[string]bool, len(usedIDs))
	for _, id := range usedIDs {
		c, ok := byID[id]
		if !ok {
			m.logger.Warn("dropping citation outside candidate set", "chunk_id", id)
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, model.Citation{
			SourceID:       c.Chunk.SourceID,
			SectionID:      c.Chunk.SectionID,
			Snippet:        m.snippet(c.Chunk, answer),
			RelevanceScore: c.Score,
		})
	}
	return out
}

// snippet returns a verbatim slice of chunk.Text of at most snippetMaxChars
// runes, preferring the sentences that share the most words with answer.
func (m *CitationMapper) snippet(chunk model.Chunk, answer string) string {
	text := chunk.Text
	if utf8.RuneCountInString(text) <= m.snippetMaxChars {
		return text
	}

	spans := segmenter.Sentences(text, chunk.Language)
	if len(spans) == 0 {
		return cutAtSpace(text, m.snippetMaxChars)
	}
	answerWords := wordSet(answer)
	best, bestScore := 0, -1
	for i, sp := range spans {
		if score := overlap(wordSet(text[sp.Start:sp.End]), answerWords); score > bestScore {
			best, bestScore = i, score
		}
	}

	start, end := spans[best].Start, spans[best].End
	if utf8.RuneCountInString(text[start:end]) > m.snippetMaxChars {
		return cutAtSpace(text[start:end], m.snippetMaxChars)
	}
	// Grow forward first, then backward, while the window still fits.
	for lo, hi := best, best; ; {
		grown := false
		if hi+1 < len(spans) && utf8.RuneCountInString(text[start:spans[hi+1].End]) <= m.snippetMaxChars {
			hi++
			end = spans[hi].End
			grown = true
		}
		if lo > 0 && utf8.RuneCountInString(text[spans[lo-1].Start:end]) <= m.snippetMaxChars {
			lo--
			start = spans[lo].Start
			grown = true
		}
		if !grown {
			break
		}
	}
	return text[start:end]
}

// cutAtSpace returns the longest prefix of s within limit runes that ends
// before whitespace, or a hard rune cut when there is none.
func cutAtSpace(s string, limit int) string {
	cut, runes := 0, 0
	lastSpace := -1
	for i, r := range s {
		if runes == limit {
			break
		}
		if unicode.IsSpace(r) {
			lastSpace = i
		}
		runes++
		cut = i + utf8.RuneLen(r)
	}
	if cut >= len(s) {
		return s
	}
	if lastSpace > 0 {
		return strings.TrimRightFunc(s[:lastSpace], unicode.IsSpace)
	}
	return s[:cut]
}

func wordSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if utf8.RuneCountInString(w) > 2 {
			out[w] = true
		}
	}
	return out
}

func overlap(a, b map[string]bool) int {
	n := 0
	for w := range a {
		if b[w] {
			n++
		}
	}
	return n
}
