// Tests for Span, EntityRecord and UnitError helpers.
package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanValidate(t *testing.T) {
	unit := "Contact John Doe"

	tests := []struct {
		name    string
		span    Span
		wantErr bool
	}{
		{"valid", Span{Start: 8, End: 16, Text: "John Doe"}, false},
		{"empty range", Span{Start: 8, End: 8, Text: ""}, true},
		{"reversed", Span{Start: 9, End: 8, Text: ""}, true},
		{"negative start", Span{Start: -1, End: 3, Text: "Con"}, true},
		{"past end", Span{Start: 8, End: 17, Text: "John Doe?"}, true},
		{"text mismatch", Span{Start: 8, End: 12, Text: "Jane"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.span.Validate(unit)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSpan)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSpanOverlaps(t *testing.T) {
	a := Span{Start: 0, End: 5}
	assert.True(t, a.Overlaps(Span{Start: 4, End: 8}))
	assert.True(t, a.Overlaps(Span{Start: 1, End: 2}))
	assert.False(t, a.Overlaps(Span{Start: 5, End: 8}), "adjacent spans do not overlap")
	assert.Equal(t, 5, a.Len())
}

func TestSpanSource(t *testing.T) {
	s := Span{Source: PatternSource("ipv4")}
	assert.Equal(t, "pattern:ipv4", s.Source)
	assert.True(t, s.FromPattern())
	assert.False(t, Span{Source: SourceModel}.FromPattern())
}

func TestEntityRecordSlug(t *testing.T) {
	r := &EntityRecord{FullHash: "0123456789abcdef"}

	assert.Equal(t, "01234567", r.Slug(8))
	assert.Equal(t, "0", r.Slug(1))
	assert.Equal(t, r.FullHash, r.Slug(0))
	assert.Equal(t, r.FullHash, r.Slug(-3))
	assert.Equal(t, r.FullHash, r.Slug(100))
}

func TestEntityTypes(t *testing.T) {
	all := EntityTypes()
	require.NotEmpty(t, all)
	assert.IsIncreasing(t, all)
	for _, et := range all {
		assert.True(t, IsEntityType(et))
		assert.NotEmpty(t, DescribeEntityType(et))
	}
	assert.False(t, IsEntityType("person"))
}

func TestUnitError(t *testing.T) {
	err := &UnitError{Unit: "a.json", Path: "$.users[0].name", Err: fmt.Errorf("oracle: %w", ErrRecognitionFailure)}

	assert.True(t, errors.Is(err, ErrRecognitionFailure))
	assert.Equal(t, "a.json at $.users[0].name: oracle: recognition failed", err.Error())
	assert.Equal(t, "recognition_failure", ErrorKind(err))

	flat := &UnitError{Unit: "notes.txt", Err: ErrStructuralMismatch}
	assert.Equal(t, "notes.txt: document structure cannot be walked", flat.Error())
	assert.Equal(t, "structural_mismatch", ErrorKind(flat))
	assert.Equal(t, "", ErrorKind(nil))
	assert.Equal(t, "error", ErrorKind(errors.New("boom")))
}
