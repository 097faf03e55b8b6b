// Package budget keeps outbound prompt text inside a token ceiling.
package budget

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Tokenizer splits text into countable units.
type Tokenizer interface {
	// Count returns the number of tokens in text.
	Count(text string) int
	// Prefix returns the longest prefix of text that holds at most n tokens.
	Prefix(text string, n int) string
}

// Clamp returns text unchanged when it fits in maxUnits tokens, otherwise the
// prefix holding exactly as many tokens as fit. The result is always a prefix
// of text and Clamp(Clamp(s, n), n) == Clamp(s, n).
func Clamp(tok Tokenizer, text string, maxUnits int) string {
	if maxUnits <= 0 {
		return ""
	}
	if tok.Count(text) <= maxUnits {
		return text
	}
	return tok.Prefix(text, maxUnits)
}

// Clamper binds a tokenizer so call sites only pick their ceiling.
type Clamper struct {
	Tokenizer Tokenizer
}

func (c Clamper) Clamp(text string, maxUnits int) string {
	return Clamp(c.Tokenizer, text, maxUnits)
}

func (c Clamper) Count(text string) int {
	return c.Tokenizer.Count(text)
}

// New returns the tokenizer registered under name: a tiktoken encoding such as
// "cl100k_base", or "estimate" for the byte-based estimator.
func New(name string) (Tokenizer, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	switch name {
	case "", "cl100k_base", "o200k_base", "p50k_base", "r50k_base":
		if name == "" {
			name = "cl100k_base"
		}
		return NewTiktoken(name)
	case "estimate":
		return NewByteEstimator(4), nil
	default:
		return nil, fmt.Errorf("unknown tokenizer: %s", name)
	}
}

// runeFloor moves n back to the start of the rune it falls in.
func runeFloor(s string, n int) int {
	if n >= len(s) {
		return len(s)
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}
