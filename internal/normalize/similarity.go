package normalize

import "strings"

// Similarity scores two values in [0, 1]. Comparison is case-insensitive on
// trimmed input: equal strings score 1, containment scores 0.8, anything else
// scores 1 - levenshtein/maxLen over runes. It is symmetric.
func Similarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))

	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 0.8
	}

	ra, rb := []rune(a), []rune(b)
	maxLen := max(len(ra), len(rb))
	return 1.0 - float64(levenshtein(ra, rb))/float64(maxLen)
}

// levenshtein is the classic edit distance with a two-row table.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
