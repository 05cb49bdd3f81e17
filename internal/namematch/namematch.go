// Package namematch resolves operator names typed by a person against the
// names already present in the store.
package namematch

import (
	"errors"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"github.com/sahilm/fuzzy"
)

var (
	ErrNoMatch   = errors.New("no operator matches")
	ErrAmbiguous = errors.New("operator name is ambiguous")
)

// Normalize lowercases, trims and collapses inner whitespace.
func Normalize(name string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(name), unicode.IsSpace), " ")
}

// Equal compares two display names ignoring case and spacing.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// maxDistance is the edit distance tolerated for a name of length n.
func maxDistance(n int) int {
	if d := n / 4; d > 1 {
		return d
	}
	return 1
}

// Resolve picks the candidate the query refers to. Exact (normalized)
// matches win; then a unique subsequence match; then the single closest
// candidate within a small edit distance.
func Resolve(query string, candidates []string) (string, error) {
	q := Normalize(query)
	if q == "" {
		return "", ErrNoMatch
	}

	normalized := make([]string, len(candidates))
	for i, c := range candidates {
		normalized[i] = Normalize(c)
		if normalized[i] == q {
			return candidates[i], nil
		}
	}

	matches := fuzzy.Find(q, normalized)
	switch {
	case len(matches) == 1:
		return candidates[matches[0].Index], nil
	case len(matches) > 1:
		if matches[0].Score > matches[1].Score {
			return candidates[matches[0].Index], nil
		}
		return "", ErrAmbiguous
	}

	best, bestDist, tie := -1, maxDistance(len(q))+1, false
	for i, c := range normalized {
		d := levenshtein.ComputeDistance(q, c)
		switch {
		case d < bestDist:
			best, bestDist, tie = i, d, false
		case d == bestDist:
			tie = true
		}
	}
	if best < 0 {
		return "", ErrNoMatch
	}
	if tie {
		return "", ErrAmbiguous
	}
	return candidates[best], nil
}

// Distinct returns names with normalized duplicates and empties removed,
// keeping the first spelling seen.
func Distinct(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		key := Normalize(n)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, strings.TrimSpace(n))
	}
	return out
}
