package app

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"textbook-rag/internal/model"
)

func TestClassifyEmptyCandidatesIsOutOfScope(t *testing.T) {
	s := NewScopeClassifier(0.5, nil)
	d := s.Classify(RetrievalResult{NoRelevantContent: true})
	assert.True(t, d.OutOfScope)
	assert.Equal(t, ReasonNoContent, d.Reason)
	assert.Zero(t, d.Confidence)
}

func TestClassifyThreshold(t *testing.T) {
	s := NewScopeClassifier(0.5, nil)
	cases := []struct {
		top        float64
		outOfScope bool
		confidence float64
	}{
		{0.49, true, 0.49},
		{0.5, false, 0.5},
		{0.93, false, 0.93},
		{1.2, false, 1},
	}
	for _, tc := range cases {
		d := s.Classify(RetrievalResult{Candidates: []model.ScoredChunk{scored("c", "s", "x", 0, tc.top, "t")}})
		assert.Equal(t, tc.outOfScope, d.OutOfScope, "top=%v", tc.top)
		assert.InDelta(t, tc.confidence, d.Confidence, 1e-9)
	}
}

func TestClassifyNegativeScoreClampsConfidence(t *testing.T) {
	s := NewScopeClassifier(-0.5, nil)
	d := s.Classify(RetrievalResult{Candidates: []model.ScoredChunk{scored("c", "s", "x", 0, -0.2, "t")}})
	assert.False(t, d.OutOfScope)
	assert.Zero(t, d.Confidence)
}

func TestPreCheckMatchesWholeWords(t *testing.T) {
	s := NewScopeClassifier(0.5, []string{"stock", "weather", "medical advice", " "})

	d, hit := s.PreCheck("What is the STOCK price of Apple?")
	assert.True(t, hit)
	assert.True(t, d.OutOfScope)
	assert.Equal(t, ReasonKeyword, d.Reason)

	_, hit = s.PreCheck("I need medical advice")
	assert.True(t, hit)

	_, hit = s.PreCheck("How do robots take stockpiles of parts?")
	assert.False(t, hit)
	_, hit = s.PreCheck("What are humanoid robots?")
	assert.False(t, hit)
}

func TestPreCheckMatchesUrduKeywords(t *testing.T) {
	s := NewScopeClassifier(0.5, []string{"موسم"})

	d, hit := s.PreCheck("آج موسم کیسا ہے؟")
	assert.True(t, hit)
	assert.Equal(t, ReasonKeyword, d.Reason)

	_, hit = s.PreCheck("موسم")
	assert.True(t, hit)
	_, hit = s.PreCheck("(موسم)")
	assert.True(t, hit)

	_, hit = s.PreCheck("موسمیات کیا ہے؟")
	assert.False(t, hit)
}
