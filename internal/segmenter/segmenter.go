// Package segmenter cuts source documents into citable chunks. A chunk is a
// run of whole sentences; a sentence is never split, even when it alone
// exceeds the size budget.
package segmenter

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/blake2b"

	"textbook-rag/internal/model"
)

const (
	DefaultChunkSize        = 500
	DefaultOverlapSentences = 1
	DefaultSectionID        = "intro"
)

var ErrContent = errors.New("invalid document content")

type SectionBoundary = model.SectionBoundary

type Document struct {
	SourceID string
	Text     string
	Language string
	Sections []SectionBoundary
}

type Segmenter struct {
	chunkSize int
	overlap   int
	counter   Counter
}

type Option func(*Segmenter)

func WithChunkSize(size int) Option {
	return func(s *Segmenter) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

// WithOverlap sets how many trailing sentences of a closed chunk seed the next.
func WithOverlap(sentences int) Option {
	return func(s *Segmenter) {
		if sentences >= 0 {
			s.overlap = sentences
		}
	}
}

func WithCounter(c Counter) Option {
	return func(s *Segmenter) {
		if c != nil {
			s.counter = c
		}
	}
}

func New(opts ...Option) *Segmenter {
	s := &Segmenter{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultOverlapSentences,
		counter:   RuneCounter{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Segment returns the document's chunks in document order. Ordinals start at 0
// and increase by one within each (source, section) pair.
func (s *Segmenter) Segment(doc Document) ([]model.Chunk, error) {
	if err := validate(doc); err != nil {
		return nil, err
	}

	sections := doc.Sections
	if len(sections) == 0 {
		sections = DetectSections(doc.Text)
	}
	ranges, err := sectionRanges(doc.Text, doc.Language, sections)
	if err != nil {
		return nil, err
	}

	ordinals := make(map[string]int)
	var chunks []model.Chunk
	for _, rg := range ranges {
		part := doc.Text[rg.start:rg.end]
		for _, span := range s.pack(part, Sentences(part, doc.Language)) {
			start, end := rg.start+span.Start, rg.start+span.End
			ordinal := ordinals[rg.id]
			ordinals[rg.id] = ordinal + 1
			text := doc.Text[start:end]
			chunks = append(chunks, model.Chunk{
				ID:        ChunkID(doc.SourceID, rg.id, ordinal, text),
				SourceID:  doc.SourceID,
				SectionID: rg.id,
				Language:  doc.Language,
				Ordinal:   ordinal,
				Text:      text,
				CharStart: start,
				CharEnd:   end,
			})
		}
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no sentences found", ErrContent)
	}
	return chunks, nil
}

// pack groups sentences into chunk spans within text.
func (s *Segmenter) pack(text string, sentences []Span) []Span {
	var out []Span
	var current []Span
	fresh := 0 // sentences in current that were not carried over

	size := func(group []Span) int {
		return s.counter.Count(text[group[0].Start:group[len(group)-1].End])
	}

	for _, sent := range sentences {
		if len(current) > 0 && size(append(current[:len(current):len(current)], sent)) > s.chunkSize {
			if fresh > 0 {
				out = append(out, Span{Start: current[0].Start, End: current[len(current)-1].End})
				current = s.seed(current)
			}
			// Drop carried sentences until the next one fits, or nothing is left.
			for len(current) > 0 && size(append(current[:len(current):len(current)], sent)) > s.chunkSize {
				current = current[1:]
			}
			fresh = 0
		}
		current = append(current, sent)
		fresh++
	}
	if len(current) > 0 && fresh > 0 {
		out = append(out, Span{Start: current[0].Start, End: current[len(current)-1].End})
	}
	return out
}

func (s *Segmenter) seed(closed []Span) []Span {
	if s.overlap <= 0 {
		return nil
	}
	n := s.overlap
	if n >= len(closed) {
		// Carrying the whole chunk would only duplicate it.
		n = len(closed) - 1
	}
	if n <= 0 {
		return nil
	}
	out := make([]Span, n)
	copy(out, closed[len(closed)-n:])
	return out
}

func validate(doc Document) error {
	if strings.TrimSpace(doc.SourceID) == "" {
		return fmt.Errorf("%w: source id is empty", ErrContent)
	}
	if strings.TrimSpace(doc.Text) == "" {
		return fmt.Errorf("%w: text is empty", ErrContent)
	}
	if !utf8.ValidString(doc.Text) {
		return fmt.Errorf("%w: text is not valid utf-8", ErrContent)
	}
	if strings.ContainsRune(doc.Text, 0) {
		return fmt.Errorf("%w: text contains binary data", ErrContent)
	}
	return nil
}

type sectionRange struct {
	id         string
	start, end int
}

// sectionRanges turns boundaries into contiguous ranges. A boundary that falls
// inside a sentence moves to that sentence's end, so the sentence stays with
// the section it started in; a section left empty by the move is dropped.
func sectionRanges(text, language string, sections []SectionBoundary) ([]sectionRange, error) {
	sorted := make([]SectionBoundary, len(sections))
	copy(sorted, sections)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	for i, b := range sorted {
		if strings.TrimSpace(b.SectionID) == "" {
			return nil, fmt.Errorf("%w: section at offset %d has no id", ErrContent, b.Start)
		}
		if b.Start < 0 || b.Start > len(text) || (b.Start < len(text) && !utf8.RuneStart(text[b.Start])) {
			return nil, fmt.Errorf("%w: section %q starts at invalid offset %d", ErrContent, b.SectionID, b.Start)
		}
		if i > 0 && b.Start == sorted[i-1].Start {
			return nil, fmt.Errorf("%w: sections %q and %q share offset %d", ErrContent, sorted[i-1].SectionID, b.SectionID, b.Start)
		}
	}

	spans := Sentences(text, language)
	starts := make([]int, len(sorted))
	for i, b := range sorted {
		starts[i] = snapToSentence(spans, b.Start)
	}

	var ranges []sectionRange
	first := len(text)
	if len(starts) > 0 {
		first = starts[0]
	}
	if first > 0 && strings.TrimSpace(text[:first]) != "" {
		ranges = append(ranges, sectionRange{id: DefaultSectionID, start: 0, end: first})
	}
	for i, b := range sorted {
		end := len(text)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		if end <= starts[i] {
			continue
		}
		ranges = append(ranges, sectionRange{id: b.SectionID, start: starts[i], end: end})
	}
	return ranges, nil
}

// snapToSentence returns offset, or the end of the sentence that strictly
// contains it.
func snapToSentence(spans []Span, offset int) int {
	i := sort.Search(len(spans), func(i int) bool { return spans[i].End > offset })
	if i < len(spans) && spans[i].Start < offset {
		return spans[i].End
	}
	return offset
}

// DetectSections derives boundaries from markdown headings. Section ids are
// slugs of the heading text; repeated headings get a numeric suffix.
func DetectSections(text string) []SectionBoundary {
	var out []SectionBoundary
	seen := make(map[string]int)
	offset := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if isHeadingLine(trimmed) {
			title := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			id := Slug(title)
			if id == "" {
				id = fmt.Sprintf("section-%d", len(out)+1)
			}
			if n := seen[id]; n > 0 {
				seen[id] = n + 1
				id = fmt.Sprintf("%s-%d", id, n+1)
			} else {
				seen[id] = 1
			}
			out = append(out, SectionBoundary{SectionID: id, Start: offset})
		}
		offset += len(line)
	}
	return out
}

func Slug(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// ChunkID is stable for identical content at the same position, so
// re-ingesting an unchanged document overwrites rather than duplicates.
func ChunkID(sourceID, sectionID string, ordinal int, text string) string {
	sum := blake2b.Sum256([]byte(text))
	return fmt.Sprintf("%s:%s:%d:%s", sourceID, sectionID, ordinal, hex.EncodeToString(sum[:6]))
}
