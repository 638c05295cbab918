package dedup

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Email similarity tiers. Addresses rarely differ by typo alone, so the
// comparison works on structure rather than raw edit distance.
const (
	emailExactScore      = 1.0
	emailSameLocalScore  = 0.8
	emailNearMatchScore  = 0.6
	emailNearMatchFloor  = 0.8
)

// diacriticFolder strips combining marks so "Müller" and "Muller" compare
// equal. Dutch registration data mixes both spellings freely.
var diacriticFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeName lowercases, folds diacritics and collapses whitespace
func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if folded, _, err := transform.String(diacriticFolder, name); err == nil {
		name = folded
	}
	return strings.Join(strings.Fields(name), " ")
}

// normalizeEmail lowercases and trims an email address
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ibanSimilarity returns 1.0 for identical accounts and 0.0 otherwise.
// Partial account number matches carry no signal; a single transposed
// digit is a different account entirely.
func ibanSimilarity(a, b string) float64 {
	a = strings.ToUpper(strings.ReplaceAll(a, " ", ""))
	b = strings.ToUpper(strings.ReplaceAll(b, " ", ""))
	if a == "" || b == "" {
		return 0.0
	}
	if a == b {
		return 1.0
	}
	return 0.0
}

// nameSimilarity scores two person names between 0.0 and 1.0.
//
// Two complementary measures are taken and the higher one wins:
// normalized edit distance catches typos and spelling variants, while
// token overlap catches reordered names ("Jan de Vries" vs "de Vries, Jan")
// that edit distance punishes heavily.
func nameSimilarity(a, b string) float64 {
	a = normalizeName(a)
	b = normalizeName(b)
	if a == "" || b == "" {
		return 0.0
	}
	if a == b {
		return 1.0
	}

	editScore := editSimilarity(a, b)
	tokenScore := tokenOverlap(a, b)
	if tokenScore > editScore {
		return tokenScore
	}
	return editScore
}

// editSimilarity converts Levenshtein distance to a 0.0 to 1.0 score
func editSimilarity(a, b string) float64 {
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 0.0
	}

	distance := levenshtein.ComputeDistance(a, b)
	score := 1.0 - float64(distance)/float64(longest)
	if score < 0.0 {
		return 0.0
	}
	return score
}

// tokenOverlap computes the Jaccard overlap of whitespace-separated name
// parts. Single-letter tokens (initials, tussenvoegsel abbreviations) are
// ignored because they match far too easily.
func tokenOverlap(a, b string) float64 {
	tokensA := significantTokens(a)
	tokensB := significantTokens(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0.0
	}

	shared := 0
	for token := range tokensA {
		if tokensB[token] {
			shared++
		}
	}

	union := len(tokensA) + len(tokensB) - shared
	return float64(shared) / float64(union)
}

func significantTokens(name string) map[string]bool {
	tokens := make(map[string]bool)
	for _, token := range strings.Fields(name) {
		if len([]rune(token)) > 1 {
			tokens[token] = true
		}
	}
	return tokens
}

// emailSimilarity scores two email addresses between 0.0 and 1.0.
//
// Identical addresses score 1.0. The same local part on a different
// domain (provider switch) scores 0.8. Addresses within a small edit
// distance of each other (typo on registration) score 0.6. Anything
// else, including a merely shared domain, scores 0.0.
func emailSimilarity(a, b string) float64 {
	a = normalizeEmail(a)
	b = normalizeEmail(b)
	if a == "" || b == "" {
		return 0.0
	}
	if a == b {
		return emailExactScore
	}

	localA, _, okA := strings.Cut(a, "@")
	localB, _, okB := strings.Cut(b, "@")
	if okA && okB && localA != "" && localA == localB {
		return emailSameLocalScore
	}

	if editSimilarity(a, b) >= emailNearMatchFloor {
		return emailNearMatchScore
	}
	return 0.0
}
