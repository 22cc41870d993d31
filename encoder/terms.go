package encoder

import (
	"strings"
	"unicode"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {}, "for": {},
	"from": {}, "has": {}, "have": {}, "i": {}, "in": {}, "is": {}, "it": {}, "its": {}, "me": {},
	"my": {}, "of": {}, "on": {}, "or": {}, "our": {}, "that": {}, "the": {}, "this": {}, "to": {},
	"was": {}, "we": {}, "who": {}, "will": {}, "with": {}, "you": {}, "your": {},
}

// Terms normalizes text into the lower-cased content tokens shared by the
// embedder and the coarse gate. Order is preserved, duplicates are kept.
func Terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

// UniqueTerms is Terms without duplicates.
func UniqueTerms(text string) []string {
	all := Terms(text)
	seen := make(map[string]struct{}, len(all))
	out := make([]string, 0, len(all))
	for _, t := range all {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
