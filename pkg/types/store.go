package types

import (
	"context"
	"errors"
)

// Hasher derives the full keyed hash of a normalized entity. The pseudonym
// key implements it; stores call it only when creating a record.
type Hasher interface {
	FullHash(entityType, normalized string) string
}

// EntityStore is the durable mapping between normalized original values and
// their keyed identifiers. Implementations must make GetOrCreate atomic per
// (entityType, normalized): concurrent callers never create duplicates.
type EntityStore interface {
	// Attach connects the store to the backend described by config.
	// Returns ErrAlreadyAttached if called while already attached.
	Attach(config Config) error

	// Detach releases backend resources. Idempotent: multiple calls succeed.
	// After Detach, operations return ErrStoreDetached.
	Detach() error

	// GetOrCreate returns the record for (entityType, normalized), creating
	// it with FullHash from h and SlugName of slugLength characters when
	// absent. An existing record only has LastSeen updated.
	GetOrCreate(ctx context.Context, h Hasher, entityType, normalized string, slugLength int) (*EntityRecord, error)

	// LookupByPrefix resolves a slug or full hash. An empty entityType
	// matches any type. Returns ErrSlugNotFound when nothing matches and
	// ErrAmbiguousSlug when two or more records share the prefix.
	LookupByPrefix(ctx context.Context, entityType, prefix string) (*EntityRecord, error)

	// List returns records ordered by entity type then original name.
	List(ctx context.Context, filter EntityFilter) ([]*EntityRecord, error)

	// Restore inserts rec unchanged unless a record with the same
	// (EntityType, OriginalName) exists. Reports whether it inserted.
	Restore(ctx context.Context, rec *EntityRecord) (bool, error)
}

// Store lifecycle errors.
var (
	ErrStoreDetached   = errors.New("entity store is detached")
	ErrAlreadyAttached = errors.New("entity store is already attached")
)
