package spans

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

func span(start, end int, text, entityType string, conf float64, source string) types.Span {
	return types.Span{Start: start, End: end, Text: text, EntityType: entityType, Confidence: conf, Source: source}
}

func TestSweep_LongerWins(t *testing.T) {
	person := span(8, 21, "John Doe Corp", types.EntityPerson, 0.6, types.SourceModel)
	org := span(13, 21, "Doe Corp", types.EntityOrganization, 0.9, types.SourceModel)

	got := Sweep([]types.Span{org, person})

	require.Len(t, got, 1)
	assert.Equal(t, person, got[0], "shorter span is discarded, not trimmed")
}

func TestSweep_TieBreaks(t *testing.T) {
	t.Run("same range prefers higher confidence", func(t *testing.T) {
		low := span(0, 4, "acme", types.EntityPerson, 0.6, types.SourceModel)
		high := span(0, 4, "acme", types.EntityOrganization, 0.85, types.PatternSource("x"))

		got := Sweep([]types.Span{low, high})
		require.Len(t, got, 1)
		assert.Equal(t, types.EntityOrganization, got[0].EntityType)
	})

	t.Run("full tie keeps source order", func(t *testing.T) {
		first := span(0, 4, "acme", types.EntityPerson, 0.7, types.SourceModel)
		second := span(0, 4, "acme", types.EntityOrganization, 0.7, types.PatternSource("x"))

		got := Sweep([]types.Span{first, second})
		require.Len(t, got, 1)
		assert.Equal(t, types.EntityPerson, got[0].EntityType)
	})

	t.Run("earlier start wins over longer later span", func(t *testing.T) {
		early := span(0, 5, "abcde", types.EntityHash, 0.6, types.SourceModel)
		later := span(3, 20, "defghijklmnopqrst", types.EntityHash, 0.9, types.SourceModel)

		got := Sweep([]types.Span{later, early})
		require.Len(t, got, 1)
		assert.Equal(t, early, got[0])
	})
}

func TestSweep_AdjacentSpansBothKept(t *testing.T) {
	a := span(0, 3, "abc", types.EntityHash, 0.8, types.SourceModel)
	b := span(3, 6, "def", types.EntityHash, 0.8, types.SourceModel)

	got := Sweep([]types.Span{b, a})
	assert.Equal(t, []types.Span{a, b}, got)
}

func TestSweep_Empty(t *testing.T) {
	got := Sweep(nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	assert.Empty(t, Resolve(NewFilter(nil, nil, 0)))
}

func TestSweep_DoesNotModifyInput(t *testing.T) {
	in := []types.Span{
		span(5, 6, "x", types.EntityHash, 0.6, types.SourceModel),
		span(0, 1, "y", types.EntityHash, 0.6, types.SourceModel),
	}
	_ = Sweep(in)
	assert.Equal(t, 5, in[0].Start)
}

func TestSweep_NonOverlapAndDeterminism(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		n := rng.Intn(12)
		var cands []types.Span
		for i := 0; i < n; i++ {
			start := rng.Intn(40)
			end := start + 1 + rng.Intn(10)
			cands = append(cands, types.Span{
				Start:      start,
				End:        end,
				EntityType: types.EntityHash,
				Confidence: float64(rng.Intn(5)) / 4,
				Source:     types.SourceModel,
			})
		}

		got := Sweep(cands)
		for i := 1; i < len(got); i++ {
			assert.LessOrEqual(t, got[i-1].End, got[i].Start, "round %d: spans overlap", round)
		}
		assert.Equal(t, got, Sweep(cands), "round %d: same input must resolve identically", round)
	}
}

func TestResolve_Filters(t *testing.T) {
	model := []types.Span{
		span(0, 8, "John Doe", types.EntityPerson, 0.9, types.SourceModel),
		span(12, 18, "Berlin", types.EntityLocation, 0.9, types.SourceModel),
		span(22, 26, "Acme", types.EntityOrganization, 0.4, types.SourceModel),
	}
	patterns := []types.Span{
		span(30, 41, "example.com", types.EntityHostname, 0.6, types.PatternSource("fqdn")),
		span(45, 54, "localhost", types.EntityHostname, 0.65, types.PatternSource("localhost")),
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{
			name:   "no filter keeps everything",
			filter: NewFilter(nil, nil, 0),
			want:   []string{"John Doe", "Berlin", "Acme", "example.com", "localhost"},
		},
		{
			name:   "preserve types are dropped",
			filter: NewFilter([]string{"location", " HOSTNAME "}, nil, 0),
			want:   []string{"John Doe", "Acme"},
		},
		{
			name:   "allow list matches normalized text",
			filter: NewFilter(nil, []string{"  John   Doe ", "localhost"}, 0),
			want:   []string{"Berlin", "Acme", "example.com"},
		},
		{
			name:   "allow list is exact",
			filter: NewFilter(nil, []string{"john doe", "Example.com"}, 0),
			want:   []string{"John Doe", "Berlin", "Acme", "example.com", "localhost"},
		},
		{
			name:   "threshold drops low confidence",
			filter: NewFilter(nil, nil, 0.6),
			want:   []string{"John Doe", "Berlin", "example.com", "localhost"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.filter, model, patterns)
			var texts []string
			for _, s := range got {
				texts = append(texts, s.Text)
			}
			assert.Equal(t, tt.want, texts)
		})
	}
}
