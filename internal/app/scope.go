package app

import (
	"regexp"
	"strings"
)

type ScopeDecision struct {
	OutOfScope bool
	// Confidence is the top relevance score clamped to [0, 1].
	Confidence float64
	Reason     string
}

const (
	ReasonNoContent      = "no_relevant_content"
	ReasonBelowThreshold = "below_threshold"
	ReasonKeyword        = "out_of_scope_keyword"
)

// ScopeClassifier is a heuristic gate: a question is answerable only when
// retrieval found content scoring at least the threshold.
type ScopeClassifier struct {
	threshold float64
	keywords  []*regexp.Regexp
}

// nonWord matches a character outside any script's words. RE2's \b only
// knows ASCII, which would never match around Urdu keywords.
const nonWord = `[^\p{L}\p{M}\p{N}_]`

func NewScopeClassifier(threshold float64, keywords []string) *ScopeClassifier {
	s := &ScopeClassifier{threshold: threshold}
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		s.keywords = append(s.keywords, regexp.MustCompile(`(?i)(?:^|`+nonWord+`)`+regexp.QuoteMeta(kw)+`(?:$|`+nonWord+`)`))
	}
	return s
}

// PreCheck rejects questions naming a topic the corpus never covers, before
// any upstream call is made.
func (s *ScopeClassifier) PreCheck(question string) (ScopeDecision, bool) {
	for _, re := range s.keywords {
		if re.MatchString(question) {
			return ScopeDecision{OutOfScope: true, Reason: ReasonKeyword}, true
		}
	}
	return ScopeDecision{}, false
}

func (s *ScopeClassifier) Classify(result RetrievalResult) ScopeDecision {
	if result.NoRelevantContent || len(result.Candidates) == 0 {
		return ScopeDecision{OutOfScope: true, Reason: ReasonNoContent}
	}
	top := result.TopScore()
	d := ScopeDecision{Confidence: clamp01(top)}
	if top < s.threshold {
		d.OutOfScope = true
		d.Reason = ReasonBelowThreshold
	}
	return d
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
