// Package source provides helpers over contract source text.
package source

import (
	"regexp"
	"strings"

	"github.com/stable-net/evmcov/pkg/sourcemap"
)

const devPrefix = "dev:"

var commentPattern = regexp.MustCompile(`/\*[\s\S]*?\*/|//[^\n]*`)

// LineOf returns the 1-based line number holding offset.
func LineOf(text string, offset int) int {
	if offset > len(text) {
		offset = len(text)
	}
	if offset < 0 {
		offset = 0
	}
	return strings.Count(text[:offset], "\n") + 1
}

// Excerpt is a highlighted region of source with surrounding context.
type Excerpt struct {
	Before    string
	Highlight string
	After     string
	// Lines holds the first and last line of the highlight.
	Lines [2]int
}

// String returns the excerpt without markup.
func (e Excerpt) String() string {
	return e.Before + e.Highlight + e.After
}

// NewExcerpt cuts span out of text with pad lines of context on both sides.
func NewExcerpt(text string, span sourcemap.Span, pad int) (Excerpt, bool) {
	if span.Start < 0 || span.Stop > len(text) || span.Start > span.Stop {
		return Excerpt{}, false
	}
	if pad < 0 {
		pad = 0
	}

	first, last := LineOf(text, span.Start), LineOf(text, span.Stop)
	from := lineStart(text, first-pad)
	to := lineEnd(text, last+pad)

	return Excerpt{
		Before:    text[from:span.Start],
		Highlight: text[span.Start:span.Stop],
		After:     text[span.Stop:to],
		Lines:     [2]int{first, last},
	}, true
}

// lineStart returns the offset of the first byte of line n, clamped to the
// first line.
func lineStart(text string, n int) int {
	offset := 0
	for line := 1; line < n; line++ {
		i := strings.IndexByte(text[offset:], '\n')
		if i < 0 {
			return offset
		}
		offset += i + 1
	}
	return offset
}

// lineEnd returns the offset of the newline ending line n, clamped to the
// end of text.
func lineEnd(text string, n int) int {
	start := lineStart(text, n)
	if i := strings.IndexByte(text[start:], '\n'); i >= 0 {
		return start + i
	}
	return len(text)
}

// DevComment returns the text of a "// dev:" comment on the line where span
// ends.
func DevComment(text string, span sourcemap.Span) (string, bool) {
	if span.Stop > len(text) || span.Stop < 0 {
		return "", false
	}
	rest := text[span.Stop:]
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		rest = rest[:i]
	}
	i := strings.Index(rest, "//")
	if i < 0 {
		return "", false
	}
	comment := strings.TrimSpace(rest[i+2:])
	if !strings.HasPrefix(comment, devPrefix) {
		return "", false
	}
	return strings.TrimSpace(comment[len(devPrefix):]), true
}

// ExpectsJump guesses from the surrounding source whether a taken jump means
// the condition at span was met: the condition is the first operand of an
// if followed by an ||, or the first operand of a require followed by ) or ||.
func ExpectsJump(text string, span sourcemap.Span) bool {
	if span.Start < 0 || span.Stop > len(text) || span.Start > span.Stop {
		return false
	}
	head := text[:span.Start]
	idx := strings.LastIndexAny(head, ";{}")
	if idx < 0 {
		return false
	}
	before := commentPattern.ReplaceAllString(head[idx+1:], "")
	before = strings.Trim(before, "\n\t (")

	end := strings.IndexByte(text[span.Stop:], ';')
	if end <= 0 {
		return false
	}
	tokens := strings.Fields(text[span.Stop : span.Stop+end])
	if len(tokens) == 0 {
		return false
	}
	token := tokens[0]
	for _, t := range tokens {
		if t != ")" {
			token = t
			break
		}
	}
	after := token[:1]

	if strings.HasSuffix(before, "if") && after == "|" {
		return true
	}
	return strings.HasPrefix(before, "require") && (after == ")" || after == "|")
}
