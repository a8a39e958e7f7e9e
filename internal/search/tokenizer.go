package search

import (
	"regexp"
	"strings"
)

var reToken = regexp.MustCompile(`[a-zA-Z0-9_]+`)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "he": {}, "in": {}, "is": {},
	"it": {}, "its": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {},
	"to": {}, "was": {}, "were": {}, "will": {}, "with": {}, "this": {},
	"these": {}, "those": {},
}

// Tokenize lowercases, splits on non-word boundaries, drops stopwords and
// lightly stems each term.
func Tokenize(text string) []string {
	raw := reToken.FindAllString(strings.ToLower(text), -1)
	tokens := make([]string, 0, len(raw))
	for _, term := range raw {
		if _, stop := stopwords[term]; stop {
			continue
		}
		tokens = append(tokens, stem(term))
	}
	return tokens
}

// stem strips common English suffixes. Deliberately crude: it only needs to
// make "invoices" find "invoice", not be linguistically correct.
func stem(term string) string {
	switch {
	case len(term) > 4 && strings.HasSuffix(term, "ies"):
		return term[:len(term)-3] + "y"
	case len(term) > 3 && strings.HasSuffix(term, "s") && !strings.HasSuffix(term, "ss"):
		return term[:len(term)-1]
	default:
		return term
	}
}
