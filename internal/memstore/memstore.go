// Package memstore is an in-process entity store. Records live only as long
// as the Store value; dry runs and tests use it.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

type entityKey struct {
	entityType, name string
}

// Store is a types.EntityStore backed by maps under one mutex.
type Store struct {
	mu       sync.Mutex
	attached bool
	byKey    map[entityKey]*types.EntityRecord
	byHash   map[string]entityKey
	now      func() time.Time
}

var _ types.EntityStore = (*Store)(nil)

// New returns a detached store.
func New() *Store {
	return &Store{now: func() time.Time { return time.Now().UTC() }}
}

// Attach starts with an empty store. DataDir is ignored.
func (s *Store) Attach(config types.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}
	s.byKey = make(map[entityKey]*types.EntityRecord)
	s.byHash = make(map[string]entityKey)
	s.attached = true
	return nil
}

// Detach drops all records.
func (s *Store) Detach() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached = false
	s.byKey, s.byHash = nil, nil
	return nil
}

func (s *Store) GetOrCreate(ctx context.Context, h types.Hasher, entityType, normalized string, slugLength int) (*types.EntityRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.attached {
		return nil, types.ErrStoreDetached
	}

	k := entityKey{entityType, normalized}
	now := s.now()
	if rec, ok := s.byKey[k]; ok {
		rec.LastSeen = now
		return clone(rec), nil
	}
	fullHash := h.FullHash(entityType, normalized)
	if _, taken := s.byHash[fullHash]; taken {
		return nil, fmt.Errorf("%w: %s", types.ErrHashCollision, fullHash[:12])
	}
	rec := &types.EntityRecord{
		ID:           newID(),
		EntityType:   entityType,
		OriginalName: normalized,
		FullHash:     fullHash,
		FirstSeen:    now,
		LastSeen:     now,
	}
	rec.SlugName = rec.Slug(slugLength)
	s.byKey[k] = rec
	s.byHash[fullHash] = k
	return clone(rec), nil
}

func (s *Store) LookupByPrefix(ctx context.Context, entityType, prefix string) (*types.EntityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.attached {
		return nil, types.ErrStoreDetached
	}
	prefix, err := types.NormalizePrefix(prefix)
	if err != nil {
		return nil, err
	}

	var found *types.EntityRecord
	for hash, k := range s.byHash {
		if !strings.HasPrefix(hash, prefix) {
			continue
		}
		if entityType != "" && k.entityType != entityType {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%w: %s", types.ErrAmbiguousSlug, prefix)
		}
		found = s.byKey[k]
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrSlugNotFound, prefix)
	}
	return clone(found), nil
}

func (s *Store) List(ctx context.Context, filter types.EntityFilter) ([]*types.EntityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.attached {
		return nil, types.ErrStoreDetached
	}
	var out []*types.EntityRecord
	for k, rec := range s.byKey {
		if filter.EntityType == "" || k.entityType == filter.EntityType {
			out = append(out, clone(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityType != out[j].EntityType {
			return out[i].EntityType < out[j].EntityType
		}
		return out[i].OriginalName < out[j].OriginalName
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) Restore(ctx context.Context, rec *types.EntityRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.attached {
		return false, types.ErrStoreDetached
	}
	r, err := types.PrepareRestore(rec, s.now())
	if err != nil {
		return false, err
	}
	k := entityKey{r.EntityType, r.OriginalName}
	if _, ok := s.byKey[k]; ok {
		return false, nil
	}
	if _, taken := s.byHash[r.FullHash]; taken {
		return false, fmt.Errorf("%w: %s", types.ErrHashCollision, r.FullHash[:12])
	}
	if r.ID == "" {
		r.ID = newID()
	}
	s.byKey[k] = r
	s.byHash[r.FullHash] = k
	return true, nil
}

func clone(rec *types.EntityRecord) *types.EntityRecord {
	c := *rec
	return &c
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
