package core

import (
	"regexp"
	"strings"
)

var (
	bulletPrefix = regexp.MustCompile(`^[*\x{2022}-]\s*`)
	ragCitation  = regexp.MustCompile(`\(RAG#\d+\s*\|[^)]+\)`)
	hangulWord   = regexp.MustCompile(`[가-힣]{2,}`)
)

// NormalizeText collapses whitespace runs, trims and case-folds s. It is
// the comparison key for draft deduplication and evidence deduplication.
func NormalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Fingerprint returns the first n runes of the normalized text.
func Fingerprint(normalized string, n int) string {
	runes := []rune(normalized)
	if len(runes) > n {
		runes = runes[:n]
	}
	return string(runes)
}

// TruncateRunes cuts s to at most n runes.
func TruncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// HangulKeywords returns up to n Hangul words of two or more syllables in
// order of appearance.
func HangulKeywords(text string, n int) []string {
	if n <= 0 {
		return nil
	}
	return hangulWord.FindAllString(text, n)
}
