package crs

import (
	"strings"
	"unicode"
)

// normalizeName casefolds, drops punctuation and collapses whitespace.
func normalizeName(s string) string {
	out := make([]rune, 0, len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			space = true
		case unicode.IsPunct(r):
		default:
			if space && len(out) > 0 {
				out = append(out, ' ')
			}
			space = false
			out = append(out, unicode.ToLower(r))
		}
	}
	return string(out)
}

// normalizeHeader maps "Register Number", "register_number" and
// "register-number" to "registernumber".
func normalizeHeader(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimPrefix(s, "\ufeff") {
		if unicode.IsSpace(r) || r == '_' || r == '-' {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// editDistance is the Levenshtein distance with unit costs.
func editDistance(a, b string) int {
	ar, br := []rune(a), []rune(b)
	if len(ar) == 0 {
		return len(br)
	}
	if len(br) == 0 {
		return len(ar)
	}
	dp := make([]int, len(br)+1)
	for j := range dp {
		dp[j] = j
	}
	for i := 1; i <= len(ar); i++ {
		prev := dp[0]
		dp[0] = i
		for j := 1; j <= len(br); j++ {
			tmp := dp[j]
			cost := 1
			if ar[i-1] == br[j-1] {
				cost = 0
			}
			dp[j] = min(dp[j]+1, dp[j-1]+1, prev+cost)
			prev = tmp
		}
	}
	return dp[len(br)]
}

// closestName returns the candidate nearest to name, or "" when nothing is
// within a third of its length (at least 2 edits).
func closestName(name string, candidates []string) string {
	target := normalizeName(name)
	limit := max(2, len([]rune(target))/3)
	best, bestDist := "", limit+1
	for _, c := range candidates {
		if d := editDistance(target, normalizeName(c)); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}
