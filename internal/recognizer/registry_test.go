// Tests for the recognizer registry contract.
package recognizer

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	m := RegexMatcher(regexp.MustCompile(`x`), 0)

	require.NoError(t, r.Register("x", types.EntityHash, 0.5, m))
	assert.Error(t, r.Register("x", types.EntityHash, 0.5, m), "duplicate name")
	assert.Error(t, r.Register("y", "NOT_A_TYPE", 0.5, m), "unknown type")
	assert.Error(t, r.Register("", types.EntityHash, 0.5, m), "empty name")
	assert.Error(t, r.Register("z", types.EntityHash, 0.5, nil), "nil matcher")
	assert.Equal(t, []string{"x"}, r.Names())

	assert.Panics(t, func() { r.MustRegister("x", types.EntityHash, 0.5, m) })
}

func TestRegistry_Recognize(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("digits", types.EntityHash, 0.7, RegexMatcher(regexp.MustCompile(`\d+`), 0))
	r.MustRegister("caps", types.EntityOrganization, 0.4, RegexMatcher(regexp.MustCompile(`[A-Z]{2,}`), 0))

	spans, err := r.Recognize("ACME 42 and IBM 7")
	require.NoError(t, err)

	want := []types.Span{
		{Start: 5, End: 7, Text: "42", EntityType: types.EntityHash, Confidence: 0.7, Source: "pattern:digits"},
		{Start: 16, End: 17, Text: "7", EntityType: types.EntityHash, Confidence: 0.7, Source: "pattern:digits"},
		{Start: 0, End: 4, Text: "ACME", EntityType: types.EntityOrganization, Confidence: 0.4, Source: "pattern:caps"},
		{Start: 12, End: 15, Text: "IBM", EntityType: types.EntityOrganization, Confidence: 0.4, Source: "pattern:caps"},
	}
	assert.Equal(t, want, spans)

	_, err = r.RecognizeWith("missing", "x")
	assert.Error(t, err)
}

func TestRegistry_ContractViolations(t *testing.T) {
	tests := []struct {
		name  string
		match Matcher
	}{
		{"panics", func(string) [][2]int { panic("boom") }},
		{"empty range", func(string) [][2]int { return [][2]int{{2, 2}} }},
		{"out of bounds", func(text string) [][2]int { return [][2]int{{0, len(text) + 1}} }},
		{"self overlap", func(string) [][2]int { return [][2]int{{0, 3}, {2, 4}} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			r.MustRegister("bad", types.EntityHash, 0.5, tt.match)

			spans, err := r.Recognize("abcdef")
			assert.ErrorIs(t, err, types.ErrRecognitionFailure)
			assert.Nil(t, spans)
		})
	}
}

func TestRegexMatcher_GroupAndValidators(t *testing.T) {
	re := regexp.MustCompile(`id=(\w+)`)
	m := RegexMatcher(re, 1, func(text string, start, end int) bool { return text[start:end] != "skip" })

	assert.Equal(t, [][2]int{{3, 6}, {18, 21}}, m("id=abc id=skip id=xyz"))
}
