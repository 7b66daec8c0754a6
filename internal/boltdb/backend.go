// Package boltdb implements the entity store on bbolt, an embedded
// key-value file with serialized write transactions.
//
// Two buckets hold the data:
//
//	entities  "<type>\x00<original name>" -> JSON EntityRecord
//	hashes    full hash                   -> entities key
//
// Key order in the entities bucket matches (entity_type, original_name)
// ordering, and the hashes bucket serves prefix lookups with a cursor seek.
package boltdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

// DBFile is the database file name inside the data directory.
const DBFile = "entities.bolt"

var (
	entitiesBucket = []byte("entities")
	hashesBucket   = []byte("hashes")
)

// Backend is a types.EntityStore on bbolt.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	db       *bolt.DB

	now func() time.Time
	log *zap.Logger
}

var _ types.EntityStore = (*Backend)(nil)

// NewBackend creates a detached backend.
func NewBackend(log *zap.Logger) *Backend {
	if log == nil {
		log = zap.NewNop()
	}
	return &Backend{
		now: func() time.Time { return time.Now().UTC() },
		log: log.Named("boltdb"),
	}
}

// Attach opens (or creates) the database file and its buckets. bbolt holds
// an exclusive file lock, so a second process waits at most one second.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}
	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	path := filepath.Join(dataDir, DBFile)
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("open bbolt %q: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{entitiesBucket, hashesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return fmt.Errorf("create buckets: %w", err)
	}

	b.db = db
	b.attached = true
	b.log.Debug("attached", zap.String("path", path))
	return nil
}

// Detach closes the database file. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.attached {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	b.attached = false
	return err
}

func (b *Backend) conn() (*bolt.DB, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return nil, types.ErrStoreDetached
	}
	return b.db, nil
}

func entityKey(entityType, name string) []byte {
	k := make([]byte, 0, len(entityType)+1+len(name))
	k = append(k, entityType...)
	k = append(k, 0)
	return append(k, name...)
}

// GetOrCreate runs in one write transaction; bbolt serializes writers, so
// concurrent callers for the same key observe a single record.
func (b *Backend) GetOrCreate(ctx context.Context, h types.Hasher, entityType, normalized string, slugLength int) (*types.EntityRecord, error) {
	db, err := b.conn()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out *types.EntityRecord
	err = db.Update(func(tx *bolt.Tx) error {
		entities := tx.Bucket(entitiesBucket)
		hashes := tx.Bucket(hashesBucket)
		key := entityKey(entityType, normalized)
		now := b.now()

		if data := entities.Get(key); data != nil {
			rec, err := decode(data)
			if err != nil {
				return err
			}
			rec.LastSeen = now
			out = rec
			return put(entities, key, rec)
		}

		fullHash := h.FullHash(entityType, normalized)
		if owner := hashes.Get([]byte(fullHash)); owner != nil {
			return fmt.Errorf("%w: %s", types.ErrHashCollision, fullHash[:12])
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
		if err := hashes.Put([]byte(fullHash), key); err != nil {
			return err
		}
		out = rec
		return put(entities, key, rec)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LookupByPrefix seeks the hashes bucket to prefix and reads matches until
// a second one proves ambiguity.
func (b *Backend) LookupByPrefix(ctx context.Context, entityType, prefix string) (*types.EntityRecord, error) {
	db, err := b.conn()
	if err != nil {
		return nil, err
	}
	prefix, err = types.NormalizePrefix(prefix)
	if err != nil {
		return nil, err
	}

	var found []*types.EntityRecord
	err = db.View(func(tx *bolt.Tx) error {
		entities := tx.Bucket(entitiesBucket)
		p := []byte(prefix)
		c := tx.Bucket(hashesBucket).Cursor()
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p) && len(found) < 2; k, v = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			data := entities.Get(v)
			if data == nil {
				return fmt.Errorf("hash index points at missing entity %q", v)
			}
			rec, err := decode(data)
			if err != nil {
				return err
			}
			if entityType == "" || rec.EntityType == entityType {
				found = append(found, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w: %s", types.ErrSlugNotFound, prefix)
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", types.ErrAmbiguousSlug, prefix)
	}
}

// List walks the entities bucket in key order.
func (b *Backend) List(ctx context.Context, filter types.EntityFilter) ([]*types.EntityRecord, error) {
	db, err := b.conn()
	if err != nil {
		return nil, err
	}
	var out []*types.EntityRecord
	err = db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(entitiesBucket).Cursor()
		k, v := c.First()
		var p []byte
		if filter.EntityType != "" {
			p = entityKey(filter.EntityType, "")
			k, v = c.Seek(p)
		}
		for ; k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			if filter.Limit > 0 && len(out) >= filter.Limit {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, err := decode(v)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// Restore inserts rec unless its key exists. A full hash owned by another
// key is a collision.
func (b *Backend) Restore(ctx context.Context, rec *types.EntityRecord) (bool, error) {
	db, err := b.conn()
	if err != nil {
		return false, err
	}
	r, err := types.PrepareRestore(rec, b.now())
	if err != nil {
		return false, err
	}
	if r.ID == "" {
		r.ID = newID()
	}

	var inserted bool
	err = db.Update(func(tx *bolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		entities := tx.Bucket(entitiesBucket)
		hashes := tx.Bucket(hashesBucket)
		key := entityKey(r.EntityType, r.OriginalName)
		if entities.Get(key) != nil {
			return nil
		}
		if owner := hashes.Get([]byte(r.FullHash)); owner != nil {
			return fmt.Errorf("%w: %s", types.ErrHashCollision, r.FullHash[:12])
		}
		if err := hashes.Put([]byte(r.FullHash), key); err != nil {
			return err
		}
		inserted = true
		return put(entities, key, r)
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func put(bucket *bolt.Bucket, key []byte, rec *types.EntityRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode entity: %w", err)
	}
	return bucket.Put(key, data)
}

func decode(data []byte) (*types.EntityRecord, error) {
	var rec types.EntityRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode entity: %w", err)
	}
	return &rec, nil
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
