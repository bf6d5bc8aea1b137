package segmenter

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Counter measures a span of text in the unit the chunk size is expressed in.
type Counter interface {
	Count(text string) int
}

// RuneCounter counts Unicode code points.
type RuneCounter struct{}

func (RuneCounter) Count(text string) int { return utf8.RuneCountInString(text) }

// TokenCounter counts model tokens using a tiktoken encoding.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

func NewTokenCounter(encoding string) (*TokenCounter, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load token encoding %q failed: %w", encoding, err)
	}
	return &TokenCounter{enc: enc}, nil
}

func (c *TokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// NewCounter picks a counter for the configured size unit.
func NewCounter(unit, encoding string) (Counter, error) {
	switch unit {
	case "", "chars":
		return RuneCounter{}, nil
	case "tokens":
		return NewTokenCounter(encoding)
	default:
		return nil, fmt.Errorf("unknown size unit %q", unit)
	}
}
