// Package storetest is a conformance suite for types.EntityStore
// implementations. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/anonymizer/internal/pseudonym"
	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

// Factory returns a detached store and the config to attach it with. Each
// call must yield an independent, empty store.
type Factory func(t *testing.T) (types.EntityStore, types.Config)

// Options tune the suite to the backend.
type Options struct {
	// Durable backends keep records across Detach and Attach.
	Durable bool
}

// Key returns the fixed key the suite derives hashes with.
func Key(t *testing.T) *pseudonym.Key {
	t.Helper()
	k, err := pseudonym.NewKey([]byte("storetest-secret"))
	require.NoError(t, err)
	return k
}

func attach(t *testing.T, f Factory) types.EntityStore {
	t.Helper()
	s, cfg := f(t)
	require.NoError(t, s.Attach(cfg))
	t.Cleanup(func() { _ = s.Detach() })
	return s
}

// Run executes the suite.
func Run(t *testing.T, f Factory, opts Options) {
	t.Run("Lifecycle", func(t *testing.T) { testLifecycle(t, f) })
	t.Run("GetOrCreate", func(t *testing.T) { testGetOrCreate(t, f) })
	t.Run("GetOrCreateConcurrent", func(t *testing.T) { testConcurrent(t, f) })
	t.Run("LookupByPrefix", func(t *testing.T) { testLookup(t, f) })
	t.Run("LookupAmbiguous", func(t *testing.T) { testAmbiguous(t, f) })
	t.Run("List", func(t *testing.T) { testList(t, f) })
	t.Run("Restore", func(t *testing.T) { testRestore(t, f) })
	if opts.Durable {
		t.Run("Durable", func(t *testing.T) { testDurable(t, f) })
	}
}

func testLifecycle(t *testing.T, f Factory) {
	ctx := context.Background()
	s, cfg := f(t)
	require.NoError(t, s.Attach(cfg))
	assert.ErrorIs(t, s.Attach(cfg), types.ErrAlreadyAttached)

	require.NoError(t, s.Detach())
	require.NoError(t, s.Detach())

	_, err := s.GetOrCreate(ctx, Key(t), types.EntityHostname, "db01", 8)
	assert.ErrorIs(t, err, types.ErrStoreDetached)
	_, err = s.LookupByPrefix(ctx, "", "ab")
	assert.ErrorIs(t, err, types.ErrStoreDetached)
	_, err = s.List(ctx, types.EntityFilter{})
	assert.ErrorIs(t, err, types.ErrStoreDetached)
}

func testGetOrCreate(t *testing.T, f Factory) {
	ctx := context.Background()
	s := attach(t, f)
	key := Key(t)

	first, err := s.GetOrCreate(ctx, key, types.EntityHostname, "db01.corp.example", 8)
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, types.EntityHostname, first.EntityType)
	assert.Equal(t, "db01.corp.example", first.OriginalName)
	assert.Equal(t, key.FullHash(types.EntityHostname, "db01.corp.example"), first.FullHash)
	assert.Equal(t, first.FullHash[:8], first.SlugName)
	assert.False(t, first.FirstSeen.IsZero())
	assert.Equal(t, first.FirstSeen, first.LastSeen)

	time.Sleep(2 * time.Millisecond)
	again, err := s.GetOrCreate(ctx, key, types.EntityHostname, "db01.corp.example", 12)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.FullHash, again.FullHash)
	assert.Equal(t, first.SlugName, again.SlugName, "slug is fixed at creation")
	assert.True(t, again.FirstSeen.Equal(first.FirstSeen))
	assert.True(t, again.LastSeen.After(first.LastSeen))

	other, err := s.GetOrCreate(ctx, key, types.EntityPerson, "db01.corp.example", 8)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
	assert.NotEqual(t, first.FullHash, other.FullHash)
}

func testConcurrent(t *testing.T, f Factory) {
	ctx := context.Background()
	s := attach(t, f)
	key := Key(t)

	const workers = 16
	ids := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := s.GetOrCreate(ctx, key, types.EntityPerson, "Alice Example", 64)
			errs[i] = err
			if rec != nil {
				ids[i] = rec.ID
			}
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	all, err := s.List(ctx, types.EntityFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testLookup(t *testing.T, f Factory) {
	ctx := context.Background()
	s := attach(t, f)
	key := Key(t)

	rec, err := s.GetOrCreate(ctx, key, types.EntityIPAddress, "10.0.0.1", 8)
	require.NoError(t, err)

	tests := []struct {
		name       string
		entityType string
		prefix     string
		wantErr    error
	}{
		{name: "slug", prefix: rec.SlugName},
		{name: "full hash", prefix: rec.FullHash},
		{name: "upper case", prefix: strings.ToUpper(rec.SlugName)},
		{name: "typed", entityType: types.EntityIPAddress, prefix: rec.SlugName},
		{name: "wrong type", entityType: types.EntityURL, prefix: rec.SlugName, wantErr: types.ErrSlugNotFound},
		{name: "not hex", prefix: "zz", wantErr: types.ErrInvalidToken},
		{name: "empty", prefix: "", wantErr: types.ErrInvalidToken},
		{name: "longer than hash", prefix: rec.FullHash + "0", wantErr: types.ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.LookupByPrefix(ctx, tt.entityType, tt.prefix)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, rec.ID, got.ID)
			assert.Equal(t, "10.0.0.1", got.OriginalName)
		})
	}

	missing := flipFirst(rec.FullHash)
	_, err = s.LookupByPrefix(ctx, "", missing)
	assert.ErrorIs(t, err, types.ErrSlugNotFound)
}

// testAmbiguous creates more records than there are hex digits, so at least
// two share a first character.
func testAmbiguous(t *testing.T, f Factory) {
	ctx := context.Background()
	s := attach(t, f)
	key := Key(t)

	byFirst := map[byte]int{}
	for i := 0; i < 20; i++ {
		rec, err := s.GetOrCreate(ctx, key, types.EntityHostname, fmt.Sprintf("host-%02d.example", i), 64)
		require.NoError(t, err)
		byFirst[rec.FullHash[0]]++
	}

	var shared, single byte
	for c, n := range byFirst {
		if n >= 2 {
			shared = c
		}
		if n == 1 {
			single = c
		}
	}
	require.NotZero(t, shared)

	_, err := s.LookupByPrefix(ctx, "", string(shared))
	assert.ErrorIs(t, err, types.ErrAmbiguousSlug)
	_, err = s.LookupByPrefix(ctx, types.EntityHostname, string(shared))
	assert.ErrorIs(t, err, types.ErrAmbiguousSlug)
	if single != 0 {
		_, err = s.LookupByPrefix(ctx, "", string(single))
		assert.NoError(t, err)
	}
}

func testList(t *testing.T, f Factory) {
	ctx := context.Background()
	s := attach(t, f)
	key := Key(t)

	for _, e := range []struct{ typ, name string }{
		{types.EntityPerson, "Zed"},
		{types.EntityHostname, "b.example"},
		{types.EntityPerson, "Alice"},
		{types.EntityHostname, "a.example"},
	} {
		_, err := s.GetOrCreate(ctx, key, e.typ, e.name, 8)
		require.NoError(t, err)
	}

	all, err := s.List(ctx, types.EntityFilter{})
	require.NoError(t, err)
	var got []string
	for _, r := range all {
		got = append(got, r.EntityType+"/"+r.OriginalName)
	}
	assert.Equal(t, []string{"HOSTNAME/a.example", "HOSTNAME/b.example", "PERSON/Alice", "PERSON/Zed"}, got)

	people, err := s.List(ctx, types.EntityFilter{EntityType: types.EntityPerson})
	require.NoError(t, err)
	require.Len(t, people, 2)
	assert.Equal(t, "Alice", people[0].OriginalName)

	limited, err := s.List(ctx, types.EntityFilter{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, limited, 3)
}

func testRestore(t *testing.T, f Factory) {
	ctx := context.Background()
	s := attach(t, f)
	key := Key(t)

	seen := time.Date(2024, 5, 1, 12, 0, 0, 123, time.UTC)
	rec := &types.EntityRecord{
		ID:           "0190c0de-0000-7000-8000-000000000001",
		EntityType:   types.EntityOrganization,
		OriginalName: "Acme Corp",
		SlugName:     "",
		FullHash:     key.FullHash(types.EntityOrganization, "Acme Corp"),
		FirstSeen:    seen,
		LastSeen:     seen,
	}

	inserted, err := s.Restore(ctx, rec)
	require.NoError(t, err)
	assert.True(t, inserted)

	got, err := s.LookupByPrefix(ctx, types.EntityOrganization, rec.FullHash[:10])
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.FullHash, got.SlugName)
	assert.True(t, got.FirstSeen.Equal(seen))

	again := *rec
	again.ID = "0190c0de-0000-7000-8000-000000000002"
	inserted, err = s.Restore(ctx, &again)
	require.NoError(t, err)
	assert.False(t, inserted, "existing record is kept")

	got, err = s.GetOrCreate(ctx, key, types.EntityOrganization, "Acme Corp", 8)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	collide := &types.EntityRecord{
		EntityType:   types.EntityOrganization,
		OriginalName: "Other Corp",
		FullHash:     rec.FullHash,
	}
	_, err = s.Restore(ctx, collide)
	assert.ErrorIs(t, err, types.ErrHashCollision)

	_, err = s.Restore(ctx, &types.EntityRecord{EntityType: types.EntityPerson, OriginalName: "x", FullHash: "abc"})
	assert.ErrorIs(t, err, types.ErrInvalidRecord)
}

func testDurable(t *testing.T, f Factory) {
	ctx := context.Background()
	key := Key(t)
	s, cfg := f(t)
	require.NoError(t, s.Attach(cfg))

	rec, err := s.GetOrCreate(ctx, key, types.EntityEmail, "ops@example.com", 8)
	require.NoError(t, err)
	require.NoError(t, s.Detach())

	require.NoError(t, s.Attach(cfg))
	t.Cleanup(func() { _ = s.Detach() })
	got, err := s.LookupByPrefix(ctx, "", rec.SlugName)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.True(t, got.FirstSeen.Equal(rec.FirstSeen))
}

func flipFirst(hash string) string {
	c := hash[0]
	if c == '0' {
		return "1" + hash[1:]
	}
	return "0" + hash[1:]
}
