// Package spans reconciles candidate spans from several recognizers into one
// ordered, non-overlapping set per text unit.
package spans

import (
	"sort"
	"strings"

	"github.com/mesh-intelligence/anonymizer/internal/pseudonym"
	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

// Filter removes candidates before conflict resolution.
type Filter struct {
	preserve      map[string]bool
	allow         map[string]bool
	minConfidence float64
}

// NewFilter builds a Filter. Preserve holds entity types left untouched
// (matched upper-cased); allow holds terms left untouched regardless of type,
// compared after pseudonym.NormalizeText. Candidates below minConfidence are
// dropped; zero keeps everything.
func NewFilter(preserve, allow []string, minConfidence float64) Filter {
	f := Filter{
		preserve:      make(map[string]bool, len(preserve)),
		allow:         make(map[string]bool, len(allow)),
		minConfidence: minConfidence,
	}
	for _, t := range preserve {
		if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
			f.preserve[t] = true
		}
	}
	for _, a := range allow {
		if a = pseudonym.NormalizeText(a); a != "" {
			f.allow[a] = true
		}
	}
	return f
}

// Keep reports whether s survives the filter.
func (f Filter) Keep(s types.Span) bool {
	if f.preserve[s.EntityType] {
		return false
	}
	if s.Confidence < f.minConfidence {
		return false
	}
	if len(f.allow) > 0 && f.allow[pseudonym.NormalizeText(s.Text)] {
		return false
	}
	return true
}

// Resolve concatenates the candidate lists in source order, filters them and
// returns the resolved set. An empty input yields an empty, non-nil result.
func Resolve(f Filter, sources ...[]types.Span) []types.Span {
	var candidates []types.Span
	for _, src := range sources {
		for _, s := range src {
			if f.Keep(s) {
				candidates = append(candidates, s)
			}
		}
	}
	return Sweep(candidates)
}

// Sweep orders candidates by start ascending, length descending, then
// confidence descending, and keeps each span that does not overlap the last
// kept one. Ties beyond the comparator keep input order. The input slice is
// not modified.
func Sweep(candidates []types.Span) []types.Span {
	sorted := make([]types.Span, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.Len() != b.Len() {
			return a.Len() > b.Len()
		}
		return a.Confidence > b.Confidence
	})

	kept := make([]types.Span, 0, len(sorted))
	for _, s := range sorted {
		if n := len(kept); n > 0 && s.Start < kept[n-1].End {
			continue
		}
		kept = append(kept, s)
	}
	return kept
}
