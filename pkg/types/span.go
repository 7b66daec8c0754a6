package types

import (
	"fmt"
	"strings"
)

// SourceModel marks spans produced by the statistical recognizer oracle.
const SourceModel = "model"

// sourcePatternPrefix prefixes spans produced by a named pattern recognizer.
const sourcePatternPrefix = "pattern:"

// PatternSource returns the Span.Source value for the named pattern recognizer.
func PatternSource(name string) string {
	return sourcePatternPrefix + name
}

// Span is a candidate sensitive entity in one text unit. Start and End are
// byte offsets into that unit; Text equals unit[Start:End].
type Span struct {
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Text       string  `json:"text"`
	EntityType string  `json:"entity_type"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// Len returns the span length in bytes.
func (s Span) Len() int { return s.End - s.Start }

// Overlaps reports whether s and o share at least one byte.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// FromPattern reports whether the span came from a pattern recognizer.
func (s Span) FromPattern() bool {
	return strings.HasPrefix(s.Source, sourcePatternPrefix)
}

// Validate checks the span against the text unit it was produced for:
// Start < End, both within bounds, and Text matching the covered bytes.
func (s Span) Validate(unit string) error {
	if s.Start < 0 || s.End > len(unit) || s.Start >= s.End {
		return fmt.Errorf("%w: [%d,%d) in unit of %d bytes", ErrInvalidSpan, s.Start, s.End, len(unit))
	}
	if unit[s.Start:s.End] != s.Text {
		return fmt.Errorf("%w: text does not match [%d,%d)", ErrInvalidSpan, s.Start, s.End)
	}
	return nil
}
