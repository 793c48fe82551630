package core

import (
	"strings"

	"github.com/jllopis/ecomentor/pkg/errors"
)

// MaxQueryRunes caps the question length.
const MaxQueryRunes = 2000

// Query is a validated, trimmed and length-capped question.
type Query string

// NewQuery validates raw input. Empty questions are rejected before any
// downstream call is made.
func NewQuery(raw string) (Query, error) {
	text := strings.TrimSpace(raw)
	if runes := []rune(text); len(runes) > MaxQueryRunes {
		text = strings.TrimSpace(string(runes[:MaxQueryRunes]))
	}
	if text == "" {
		return "", errors.New(errors.CodeInvalidInput, "q is required", nil)
	}
	return Query(text), nil
}

func (q Query) String() string { return string(q) }
