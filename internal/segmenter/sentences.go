package segmenter

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Span is a half-open byte range into the text it was cut from.
type Span struct {
	Start int
	End   int
}

var (
	baseTerminators = map[rune]bool{'.': true, '!': true, '?': true}

	languageTerminators = map[string]map[rune]bool{
		"ur": {'۔': true, '؟': true},
		"ar": {'؟': true, '۔': true},
		"fa": {'؟': true},
		"hi": {'।': true, '॥': true},
	}

	// Full-width terminators close a sentence without trailing whitespace.
	fullWidthTerminators = map[rune]bool{'。': true, '！': true, '？': true}

	closers = map[rune]bool{'"': true, '\'': true, ')': true, ']': true, '”': true, '’': true, '»': true}

	englishAbbreviations = map[string]bool{
		"e.g": true, "i.e": true, "etc": true, "vs": true, "mr": true, "mrs": true,
		"ms": true, "dr": true, "prof": true, "fig": true, "eq": true,
		"st": true, "approx": true, "cf": true, "al": true, "sec": true, "ch": true,
	}
)

// Sentences splits text into sentence spans. Spans never include leading or
// trailing whitespace, and together they cover every non-space rune of text.
// Markdown headings and blank lines also close a sentence.
func Sentences(text, language string) []Span {
	langTerms := languageTerminators[strings.ToLower(language)]
	caseSensitive := isCasedLanguage(language)

	var spans []Span
	start := -1
	emit := func(end int) {
		if start < 0 {
			return
		}
		end = trimRightSpace(text, start, end)
		if end > start {
			spans = append(spans, Span{Start: start, End: end})
		}
		start = -1
	}

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if start < 0 {
			if unicode.IsSpace(r) {
				i += size
				continue
			}
			start = i
		}

		switch {
		case r == '\n':
			if lineBreakEndsSentence(text, start, i) {
				emit(i)
			}
			i += size
			continue
		case fullWidthTerminators[r]:
			end := consumeClosers(text, i+size)
			emit(end)
			i = end
			continue
		case baseTerminators[r] || langTerms[r]:
			end := consumeTerminators(text, i+size, langTerms)
			end = consumeClosers(text, end)
			if isBoundary(text, start, i, end, r, caseSensitive) {
				emit(end)
			}
			i = end
			continue
		}
		i += size
	}
	emit(len(text))
	return spans
}

func isCasedLanguage(language string) bool {
	switch strings.ToLower(language) {
	case "ur", "ar", "fa", "hi", "zh", "ja":
		return false
	}
	return true
}

// lineBreakEndsSentence closes the open sentence at a newline when the line
// is a heading, the next line is a heading, or a blank line follows.
func lineBreakEndsSentence(text string, start, nl int) bool {
	lineStart := strings.LastIndexByte(text[:nl], '\n') + 1
	if lineStart < start {
		lineStart = start
	}
	if isHeadingLine(text[lineStart:nl]) {
		return true
	}
	rest := text[nl+1:]
	nextLineEnd := strings.IndexByte(rest, '\n')
	nextLine := rest
	if nextLineEnd >= 0 {
		nextLine = rest[:nextLineEnd]
	}
	if strings.TrimSpace(nextLine) == "" {
		return true
	}
	return isHeadingLine(nextLine)
}

func isHeadingLine(line string) bool {
	line = strings.TrimLeft(line, " \t")
	n := 0
	for n < len(line) && line[n] == '#' {
		n++
	}
	return n >= 1 && n <= 6 && n < len(line) && (line[n] == ' ' || line[n] == '\t')
}

func consumeTerminators(text string, i int, langTerms map[rune]bool) int {
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !baseTerminators[r] && !langTerms[r] {
			break
		}
		i += size
	}
	return i
}

func consumeClosers(text string, i int) int {
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !closers[r] {
			break
		}
		i += size
	}
	return i
}

// isBoundary decides whether the terminator at term (ending at end) closes the
// sentence that began at start.
func isBoundary(text string, start, term, end int, r rune, caseSensitive bool) bool {
	if end >= len(text) {
		return true
	}
	next, _ := utf8.DecodeRuneInString(text[end:])
	if !unicode.IsSpace(next) {
		// 3.14, example.com, "U.S.A"
		return false
	}
	if r != '.' || !caseSensitive {
		return true
	}

	word := strings.ToLower(lastWord(text[start:term]))
	if englishAbbreviations[word] {
		return false
	}
	// Single-letter initials such as "J. Smith".
	if utf8.RuneCountInString(word) == 1 {
		if w, _ := utf8.DecodeRuneInString(word); unicode.IsLetter(w) {
			return false
		}
	}

	following := strings.TrimLeftFunc(text[end:], unicode.IsSpace)
	if following == "" {
		return true
	}
	first, _ := utf8.DecodeRuneInString(following)
	return !unicode.IsLower(first)
}

func lastWord(s string) string {
	idx := strings.LastIndexFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '(' || r == '"'
	})
	return s[idx+1:]
}

func trimRightSpace(text string, start, end int) int {
	for end > start {
		r, size := utf8.DecodeLastRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		end -= size
	}
	return end
}
