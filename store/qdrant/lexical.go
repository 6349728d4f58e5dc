package qdrant

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// tokenize lowercases, NFKC-normalizes, and splits s into alphanumeric
// tokens. NFKC folds compatibility forms (ligatures, full-width characters)
// so PDF-extracted policy text matches plain query text.
func tokenize(s string) []string {
	s = norm.NFKC.String(strings.ToLower(s))
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// lexicalScore is a length-normalized term-frequency score: the fraction of
// the chunk's tokens that are query terms. Deliberately simpler than BM25 —
// it only has to order full-text match candidates before rank fusion.
func lexicalScore(queryTerms []string, text string) float64 {
	if len(queryTerms) == 0 || text == "" {
		return 0
	}
	docTokens := tokenize(text)
	if len(docTokens) == 0 {
		return 0
	}

	terms := make(map[string]struct{}, len(queryTerms))
	for _, t := range queryTerms {
		terms[t] = struct{}{}
	}

	hits := 0
	for _, tok := range docTokens {
		if _, ok := terms[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(docTokens))
}
