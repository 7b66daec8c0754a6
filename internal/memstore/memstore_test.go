package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/anonymizer/internal/storetest"
	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) (types.EntityStore, types.Config) {
		return New(), types.Config{Backend: types.BackendMemory}
	}, storetest.Options{})
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := New()
	require.NoError(t, s.Attach(types.Config{Backend: types.BackendMemory}))
	ctx := context.Background()

	rec, err := s.GetOrCreate(ctx, storetest.Key(t), types.EntityPerson, "Bob", 8)
	require.NoError(t, err)
	rec.OriginalName = "mutated"

	got, err := s.LookupByPrefix(ctx, "", rec.SlugName)
	require.NoError(t, err)
	assert.Equal(t, "Bob", got.OriginalName)
}

func TestStore_DetachDropsRecords(t *testing.T) {
	s := New()
	cfg := types.Config{Backend: types.BackendMemory}
	ctx := context.Background()
	require.NoError(t, s.Attach(cfg))
	_, err := s.GetOrCreate(ctx, storetest.Key(t), types.EntityPerson, "Bob", 8)
	require.NoError(t, err)
	require.NoError(t, s.Detach())

	require.NoError(t, s.Attach(cfg))
	all, err := s.List(ctx, types.EntityFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}
