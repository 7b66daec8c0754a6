package recognizer

import (
	"context"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

// Oracle is the statistical named-entity recognizer. Its output is untrusted
// candidate data: the engine validates every span and merges it under the
// same rules as pattern output. An error means the unit cannot be analysed
// and must not be treated as "no entities".
type Oracle interface {
	Recognize(ctx context.Context, text, language string) ([]types.Span, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, text, language string) ([]types.Span, error)

// Recognize calls f.
func (f OracleFunc) Recognize(ctx context.Context, text, language string) ([]types.Span, error) {
	return f(ctx, text, language)
}

// Nop is an Oracle that finds nothing. It is selected explicitly with
// recognizer.oracle "none" for pattern-only runs.
type Nop struct{}

// Recognize returns no spans unless ctx is already done.
func (Nop) Recognize(ctx context.Context, _, _ string) ([]types.Span, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}

// labelMapping maps model labels to entity types.
var labelMapping = map[string]string{
	"LOC":          types.EntityLocation,
	"LOCATION":     types.EntityLocation,
	"GPE":          types.EntityLocation,
	"ORG":          types.EntityOrganization,
	"ORGANIZATION": types.EntityOrganization,
	"PER":          types.EntityPerson,
	"PERSON":       types.EntityPerson,
	"EMAIL":        types.EntityEmail,
	"PHONE":        types.EntityPhone,
}

// MapLabel maps a model label (case-insensitive, BIO prefix allowed) to an
// entity type. Unmapped labels return false.
func MapLabel(label string) (string, bool) {
	label = strings.ToUpper(strings.TrimSpace(label))
	if len(label) > 2 && (label[:2] == "B-" || label[:2] == "I-") {
		label = label[2:]
	}
	t, ok := labelMapping[label]
	return t, ok
}

// CheckSpans validates oracle output against the unit it was produced for.
func CheckSpans(text string, spans []types.Span) error {
	for _, s := range spans {
		if err := s.Validate(text); err != nil {
			return fmt.Errorf("%w: oracle: %v", types.ErrRecognitionFailure, err)
		}
		if !types.IsEntityType(s.EntityType) {
			return fmt.Errorf("%w: oracle: unknown entity type %q", types.ErrRecognitionFailure, s.EntityType)
		}
	}
	return nil
}

// FindAll returns a span for every occurrence of needle in text. It is used
// by oracles that report entity strings rather than offsets.
func FindAll(text, needle, entityType string, confidence float64) []types.Span {
	if needle == "" {
		return nil
	}
	var out []types.Span
	for from := 0; from < len(text); {
		i := strings.Index(text[from:], needle)
		if i < 0 {
			break
		}
		start := from + i
		out = append(out, types.Span{
			Start:      start,
			End:        start + len(needle),
			Text:       needle,
			EntityType: entityType,
			Confidence: confidence,
			Source:     types.SourceModel,
		})
		from = start + len(needle)
	}
	return out
}
