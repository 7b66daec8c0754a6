// Package recognizer finds candidate entity spans in a text unit.
//
// Two sources feed the span merger: a Registry of named pattern matchers for
// technical tokens, and an Oracle for natural-language entities. Pattern
// matchers are pure and language independent; they never resolve overlaps.
package recognizer

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

// Matcher returns the byte ranges [start, end) it finds in text, in
// ascending, non-overlapping order.
type Matcher func(text string) [][2]int

// Validator accepts or rejects a regexp match given the full text, which lets
// a matcher look at the bytes around the match.
type Validator func(text string, start, end int) bool

// Recognizer is one registered matcher.
type Recognizer struct {
	Name       string
	EntityType string
	Confidence float64
	Match      Matcher
}

// Registry is a static table of recognizers consulted once per text unit.
// Register everything before sharing the registry between goroutines.
type Registry struct {
	recognizers []Recognizer
	byName      map[string]int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]int)}
}

// Register adds a named matcher with its entity type and default confidence.
func (r *Registry) Register(name, entityType string, confidence float64, m Matcher) error {
	if name == "" || m == nil {
		return fmt.Errorf("recognizer needs a name and a matcher")
	}
	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("recognizer %q already registered", name)
	}
	if !types.IsEntityType(entityType) {
		return fmt.Errorf("recognizer %q: unknown entity type %q", name, entityType)
	}
	r.byName[name] = len(r.recognizers)
	r.recognizers = append(r.recognizers, Recognizer{
		Name:       name,
		EntityType: entityType,
		Confidence: confidence,
		Match:      m,
	})
	return nil
}

// MustRegister is Register that panics on error, for static tables.
func (r *Registry) MustRegister(name, entityType string, confidence float64, m Matcher) {
	if err := r.Register(name, entityType, confidence, m); err != nil {
		panic(err)
	}
}

// Names returns the registered recognizer names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.recognizers))
	for _, rec := range r.recognizers {
		out = append(out, rec.Name)
	}
	sort.Strings(out)
	return out
}

// EntityTypes returns the distinct entity types the registry can emit.
func (r *Registry) EntityTypes() []string {
	seen := make(map[string]bool)
	var out []string
	for _, rec := range r.recognizers {
		if !seen[rec.EntityType] {
			seen[rec.EntityType] = true
			out = append(out, rec.EntityType)
		}
	}
	sort.Strings(out)
	return out
}

// Recognize runs every recognizer over text in registration order and returns
// the concatenated spans. A matcher that panics or violates the span contract
// fails the whole unit with ErrRecognitionFailure.
func (r *Registry) Recognize(text string) ([]types.Span, error) {
	var out []types.Span
	for _, rec := range r.recognizers {
		spans, err := run(rec, text)
		if err != nil {
			return nil, err
		}
		out = append(out, spans...)
	}
	return out, nil
}

// RecognizeWith runs a single named recognizer.
func (r *Registry) RecognizeWith(name, text string) ([]types.Span, error) {
	i, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("recognizer %q not registered", name)
	}
	return run(r.recognizers[i], text)
}

func run(rec Recognizer, text string) (spans []types.Span, err error) {
	defer func() {
		if p := recover(); p != nil {
			spans = nil
			err = fmt.Errorf("%w: pattern %s: %v", types.ErrRecognitionFailure, rec.Name, p)
		}
	}()

	lastEnd := 0
	for _, m := range rec.Match(text) {
		s := types.Span{
			Start:      m[0],
			End:        m[1],
			EntityType: rec.EntityType,
			Confidence: rec.Confidence,
			Source:     types.PatternSource(rec.Name),
		}
		if s.Start < 0 || s.End > len(text) || s.Start >= s.End || s.Start < lastEnd {
			return nil, fmt.Errorf("%w: pattern %s returned [%d,%d)", types.ErrRecognitionFailure, rec.Name, s.Start, s.End)
		}
		s.Text = text[s.Start:s.End]
		lastEnd = s.End
		spans = append(spans, s)
	}
	return spans, nil
}

// RegexMatcher matches re and reports capture group (0 for the whole match).
// Matches rejected by any validator are skipped.
func RegexMatcher(re *regexp.Regexp, group int, validators ...Validator) Matcher {
	return func(text string) [][2]int {
		var out [][2]int
		for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[2*group], loc[2*group+1]
			if start < 0 || start == end {
				continue
			}
			ok := true
			for _, v := range validators {
				if !v(text, start, end) {
					ok = false
					break
				}
			}
			if ok {
				out = append(out, [2]int{start, end})
			}
		}
		return out
	}
}
