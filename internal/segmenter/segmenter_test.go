package segmenter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentShortDocumentIsOneChunk(t *testing.T) {
	text := "Photosynthesis converts light. Plants need water. Leaves are green."
	chunks, err := New().Segment(Document{SourceID: "bio-1", Text: text, Language: "en"})
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Equal(t, text, chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Ordinal)
	assert.Equal(t, DefaultSectionID, chunks[0].SectionID)
	assert.Equal(t, "bio-1", chunks[0].SourceID)
	assert.Equal(t, 0, chunks[0].CharStart)
	assert.Equal(t, len(text), chunks[0].CharEnd)
}

func TestSegmentCarriesOverlapSentence(t *testing.T) {
	text := "Alpha is one. Beta is two. Gamma is three. Delta is four."
	chunks, err := New(WithChunkSize(50), WithOverlap(1)).Segment(Document{SourceID: "s", Text: text, Language: "en"})
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, "Alpha is one. Beta is two. Gamma is three.", chunks[0].Text)
	assert.Equal(t, "Gamma is three. Delta is four.", chunks[1].Text)
	assert.Equal(t, 1, chunks[1].Ordinal)
}

func TestSegmentWithoutOverlap(t *testing.T) {
	text := "Alpha is one. Beta is two. Gamma is three. Delta is four."
	chunks, err := New(WithChunkSize(50), WithOverlap(0)).Segment(Document{SourceID: "s", Text: text, Language: "en"})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Delta is four.", chunks[1].Text)
}

func TestSegmentKeepsOversizedSentenceWhole(t *testing.T) {
	long := "This sentence is definitely longer than the budget."
	text := long + " Short."
	chunks, err := New(WithChunkSize(10)).Segment(Document{SourceID: "s", Text: text, Language: "en"})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, long, chunks[0].Text)
	assert.Equal(t, "Short.", chunks[1].Text)
}

func TestSegmentNeverSplitsSentences(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 60; i++ {
		b.WriteString("The mitochondria produces energy for the cell in every tissue. ")
	}
	text := strings.TrimSpace(b.String())

	chunks, err := New(WithChunkSize(200), WithOverlap(1)).Segment(Document{SourceID: "s", Text: text, Language: "en"})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i, c := range chunks {
		assert.Equal(t, text[c.CharStart:c.CharEnd], c.Text)
		assert.True(t, strings.HasPrefix(c.Text, "The mitochondria"), "chunk %d starts mid-sentence", i)
		assert.True(t, strings.HasSuffix(c.Text, "tissue."), "chunk %d ends mid-sentence", i)
		assert.LessOrEqual(t, len([]rune(c.Text)), 200)
		assert.Equal(t, i, c.Ordinal)
	}
}

func TestSegmentIsDeterministic(t *testing.T) {
	doc := Document{
		SourceID: "phys-2",
		Text:     "# Motion\nObjects move. Forces act.\n\n# Heat\nHeat flows from hot to cold.",
		Language: "en",
	}
	seg := New(WithChunkSize(40))
	first, err := seg.Segment(doc)
	require.NoError(t, err)
	second, err := seg.Segment(doc)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSegmentDetectsHeadingSections(t *testing.T) {
	text := "# Cells\nCells are small. They divide.\n\n# Energy\nEnergy flows."
	chunks, err := New().Segment(Document{SourceID: "bio", Text: text, Language: "en"})
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, "cells", chunks[0].SectionID)
	assert.Equal(t, 0, chunks[0].Ordinal)
	assert.Equal(t, "energy", chunks[1].SectionID)
	assert.Equal(t, 0, chunks[1].Ordinal)
	assert.True(t, strings.HasSuffix(chunks[1].Text, "Energy flows."))
}

func TestSegmentExplicitSections(t *testing.T) {
	text := "Preface text here. Chapter one begins. It continues."
	start := strings.Index(text, "Chapter")
	chunks, err := New().Segment(Document{
		SourceID: "book",
		Text:     text,
		Language: "en",
		Sections: []SectionBoundary{{SectionID: "ch1", Start: start}},
	})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, DefaultSectionID, chunks[0].SectionID)
	assert.Equal(t, "Preface text here.", chunks[0].Text)
	assert.Equal(t, "ch1", chunks[1].SectionID)
	assert.Equal(t, "Chapter one begins. It continues.", chunks[1].Text)
}

func TestSegmentMidSentenceBoundaryKeepsSentenceWhole(t *testing.T) {
	text := "Robots walk on two legs. They balance using gyroscopes and feedback."
	chunks, err := New().Segment(Document{
		SourceID: "book",
		Text:     text,
		Language: "en",
		Sections: []SectionBoundary{{SectionID: "a", Start: 0}, {SectionID: "b", Start: 40}},
	})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "a", chunks[0].SectionID)
	assert.Equal(t, text, chunks[0].Text)
}

func TestSegmentBoundaryMovesToSentenceEnd(t *testing.T) {
	text := "Gears mesh. Motors spin fast. Sensors read light."
	chunks, err := New().Segment(Document{
		SourceID: "book",
		Text:     text,
		Language: "en",
		Sections: []SectionBoundary{
			{SectionID: "a", Start: 0},
			{SectionID: "b", Start: strings.Index(text, "spin")},
		},
	})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "a", chunks[0].SectionID)
	assert.Equal(t, "Gears mesh. Motors spin fast.", chunks[0].Text)
	assert.Equal(t, "b", chunks[1].SectionID)
	assert.Equal(t, "Sensors read light.", chunks[1].Text)
	for _, c := range chunks {
		assert.Equal(t, c.Text, text[c.CharStart:c.CharEnd])
	}
}

func TestSegmentRejectsInvalidContent(t *testing.T) {
	cases := map[string]Document{
		"empty text":     {SourceID: "s", Text: "", Language: "en"},
		"whitespace":     {SourceID: "s", Text: " \n\t ", Language: "en"},
		"invalid utf8":   {SourceID: "s", Text: "abc\xff", Language: "en"},
		"binary":         {SourceID: "s", Text: "abc\x00def", Language: "en"},
		"no source id":   {SourceID: "", Text: "Hello.", Language: "en"},
		"bad offset":     {SourceID: "s", Text: "Hello.", Language: "en", Sections: []SectionBoundary{{SectionID: "x", Start: 99}}},
		"empty section":  {SourceID: "s", Text: "Hello.", Language: "en", Sections: []SectionBoundary{{SectionID: "", Start: 0}}},
		"shared offsets": {SourceID: "s", Text: "Hello.", Language: "en", Sections: []SectionBoundary{{SectionID: "a", Start: 0}, {SectionID: "b", Start: 0}}},
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New().Segment(doc)
			assert.ErrorIs(t, err, ErrContent)
		})
	}
}

func TestSentencesHandlesAbbreviationsAndDecimals(t *testing.T) {
	text := "Dr. Smith measured 3.14 meters. He left early! Did he return? Yes."
	spans := Sentences(text, "en")
	var got []string
	for _, s := range spans {
		got = append(got, text[s.Start:s.End])
	}
	assert.Equal(t, []string{
		"Dr. Smith measured 3.14 meters.",
		"He left early!",
		"Did he return?",
		"Yes.",
	}, got)
}

func TestSentencesUrdu(t *testing.T) {
	text := "پانی زندگی ہے۔ سورج روشنی دیتا ہے۔ کیا آپ جانتے ہیں؟"
	spans := Sentences(text, "ur")
	require.Len(t, spans, 3)
	assert.Equal(t, "پانی زندگی ہے۔", text[spans[0].Start:spans[0].End])
	assert.Equal(t, "کیا آپ جانتے ہیں؟", text[spans[2].Start:spans[2].End])
}

func TestSegmentUrduChunkOffsets(t *testing.T) {
	text := "پانی زندگی ہے۔ سورج روشنی دیتا ہے۔"
	chunks, err := New(WithChunkSize(16), WithOverlap(0)).Segment(Document{SourceID: "ur-1", Text: text, Language: "ur"})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	for _, c := range chunks {
		assert.Equal(t, text[c.CharStart:c.CharEnd], c.Text)
		assert.Equal(t, "ur", c.Language)
	}
}

func TestChunkIDDependsOnContent(t *testing.T) {
	a := ChunkID("src", "sec", 0, "alpha")
	b := ChunkID("src", "sec", 0, "beta")
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, ChunkID("src", "sec", 0, "alpha"))
	assert.True(t, strings.HasPrefix(a, "src:sec:0:"))
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "newton-s-laws", Slug("Newton's Laws!"))
	assert.Equal(t, "خلیہ", Slug("خلیہ"))
	assert.Equal(t, "", Slug("***"))
}

func TestDetectSectionsDeduplicatesIDs(t *testing.T) {
	secs := DetectSections("# Summary\nA.\n# Summary\nB.\n")
	require.Len(t, secs, 2)
	assert.Equal(t, "summary", secs[0].SectionID)
	assert.Equal(t, "summary-2", secs[1].SectionID)
}

func TestNewCounter(t *testing.T) {
	c, err := NewCounter("chars", "")
	require.NoError(t, err)
	assert.Equal(t, 5, c.Count("héllo"))

	_, err = NewCounter("words", "")
	assert.Error(t, err)
}
