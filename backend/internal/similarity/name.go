// Package similarity holds the pure string comparison primitives used by entity matching:
// edit-distance name similarity, phone canonicalization and heuristic address comparison.
// Nothing here performs I/O.
package similarity

import (
	"strings"
	"unicode/utf8"
)

// NameSimilarity returns 1 - normalized edit distance of the trimmed, lower-cased inputs.
// Both empty is a perfect match; exactly one empty is no match.
func NameSimilarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))

	if a == "" && b == "" {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	if a == b {
		return 1.0
	}

	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	return 1.0 - float64(Levenshtein(a, b))/float64(longest)
}

// Levenshtein counts the single-rune insertions, deletions and substitutions needed to turn a into b.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	// keep the shorter string in the row to bound memory
	if len(ra) < len(rb) {
		ra, rb = rb, ra
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
