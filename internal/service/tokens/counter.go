// Package tokens estimates the token cost of text spans. The counter is
// pluggable so a provider-accurate tokenizer can be dropped in; the default
// is a cheap length-based heuristic that errs slightly high.
package tokens

import (
	"strings"
	"unicode/utf8"
)

// Counter estimates the token cost of a text span.
type Counter interface {
	Count(text string) int
}

// Heuristic is the default counter: roughly one token per four characters,
// floored at the word count so short, dense text is not underestimated.
type Heuristic struct{}

// NewHeuristic returns the default length-based counter.
func NewHeuristic() Heuristic { return Heuristic{} }

func (Heuristic) Count(text string) int {
	if text == "" {
		return 0
	}
	est := (utf8.RuneCountInString(text) + 3) / 4
	if words := len(strings.Fields(text)); words > est {
		est = words
	}
	return est
}
