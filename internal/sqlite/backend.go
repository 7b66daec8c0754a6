// Package sqlite implements the SQLite entity store.
//
// The pure-Go modernc driver is the default; the cgo mattn driver is
// selected with Config.Driver "sqlite3". The database file is entities.db
// inside Config.DataDir and is opened in WAL mode so readers never block the
// single writer.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

// DBFile is the database file name inside the data directory.
const DBFile = "entities.db"

const (
	busyTimeoutMS  = 5000
	initialBackoff = 10 * time.Millisecond
)

// Backend is a types.EntityStore on SQLite.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	db       *sql.DB

	backoff time.Duration
	now     func() time.Time
	log     *zap.Logger
}

var _ types.EntityStore = (*Backend)(nil)

// NewBackend creates a detached backend. Call Attach to open the database.
func NewBackend(log *zap.Logger) *Backend {
	if log == nil {
		log = zap.NewNop()
	}
	return &Backend{
		backoff: initialBackoff,
		now:     func() time.Time { return time.Now().UTC() },
		log:     log.Named("sqlite"),
	}
}

// Attach creates DataDir if needed, opens the database and applies the schema.
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

	driver := config.SQLDriver()
	db, err := sql.Open(driver, dsn(driver, filepath.Join(dataDir, DBFile)))
	if err != nil {
		return fmt.Errorf("open %s: %w", DBFile, err)
	}
	for _, stmt := range schemaDDL {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	b.db = db
	b.config = config
	b.attached = true
	b.log.Debug("attached", zap.String("driver", driver), zap.String("data_dir", dataDir))
	return nil
}

// Detach closes the database. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			return err
		}
		b.db = nil
	}
	b.attached = false
	return nil
}

// dsn builds the connection string with per-connection pragmas. The two
// drivers spell pragmas differently.
func dsn(driver, path string) string {
	if driver == types.DriverMattn {
		return fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d", path, busyTimeoutMS)
	}
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(%d)", path, busyTimeoutMS)
}

func (b *Backend) conn() (*sql.DB, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return nil, types.ErrStoreDetached
	}
	return b.db, nil
}

// GetOrCreate upserts the record in one statement: a new row gets an ID,
// hash and slug; an existing row only has last_seen refreshed. Busy and
// locked errors are retried with exponential backoff up to
// Config.MaxRetries times.
func (b *Backend) GetOrCreate(ctx context.Context, h types.Hasher, entityType, normalized string, slugLength int) (*types.EntityRecord, error) {
	db, err := b.conn()
	if err != nil {
		return nil, err
	}
	fullHash := h.FullHash(entityType, normalized)
	rec := &types.EntityRecord{FullHash: fullHash}
	slug := rec.Slug(slugLength)

	var out *types.EntityRecord
	err = retry(ctx, b.config.Retries(), b.backoff, func(attempt int) error {
		if attempt > 0 {
			b.log.Debug("store busy, retrying",
				zap.String("entity_type", entityType),
				zap.String("original_name", normalized),
				zap.Int("attempt", attempt))
		}
		now := formatTime(b.now())
		row := db.QueryRowContext(ctx, upsertEntity,
			generateUUID(), entityType, normalized, slug, fullHash, now, now)
		var scanErr error
		out, scanErr = scanEntity(row)
		return scanErr
	})
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// LookupByPrefix range-scans the full_hash index for hashes starting with
// prefix and reads at most two rows.
func (b *Backend) LookupByPrefix(ctx context.Context, entityType, prefix string) (*types.EntityRecord, error) {
	db, err := b.conn()
	if err != nil {
		return nil, err
	}
	prefix, err = types.NormalizePrefix(prefix)
	if err != nil {
		return nil, err
	}

	query := selectByPrefix
	args := []any{prefix, prefix + "g"}
	if entityType != "" {
		query += ` AND entity_type = ?`
		args = append(args, entityType)
	}
	query += ` ORDER BY full_hash LIMIT 2`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", prefix, err)
	}
	defer rows.Close()

	var found []*types.EntityRecord
	for rows.Next() {
		rec, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, rec)
	}
	if err := rows.Err(); err != nil {
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

// List returns records ordered by entity type then original name.
func (b *Backend) List(ctx context.Context, filter types.EntityFilter) ([]*types.EntityRecord, error) {
	db, err := b.conn()
	if err != nil {
		return nil, err
	}
	query := selectAll
	var args []any
	if filter.EntityType != "" {
		query += ` WHERE entity_type = ?`
		args = append(args, filter.EntityType)
	}
	query += ` ORDER BY entity_type, original_name`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var out []*types.EntityRecord
	for rows.Next() {
		rec, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Restore inserts rec as is unless its (type, original name) already exists.
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
		r.ID = generateUUID()
	}

	var inserted bool
	err = retry(ctx, b.config.Retries(), b.backoff, func(int) error {
		res, err := db.ExecContext(ctx, restoreEntity,
			r.ID, r.EntityType, r.OriginalName, r.SlugName, r.FullHash,
			formatTime(r.FirstSeen), formatTime(r.LastSeen))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		inserted = n == 1
		return err
	})
	if err != nil {
		return false, classify(err)
	}
	return inserted, nil
}

// retry runs fn until it succeeds, fails with a non-busy error, or has been
// retried max times. The wait doubles after each busy attempt.
func retry(ctx context.Context, max int, backoff time.Duration, fn func(attempt int) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(attempt)
		if err == nil || !isBusy(err) {
			return err
		}
		if attempt >= max {
			return fmt.Errorf("%w: gave up after %d attempts: %v", types.ErrStoreConflict, attempt+1, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff << attempt):
		}
	}
}

// isBusy reports whether err is SQLITE_BUSY or SQLITE_LOCKED. modernc errors
// carry the result code; mattn errors are matched on their message.
func isBusy(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// classify maps driver errors onto store sentinels.
func classify(err error) error {
	if err == nil || errors.Is(err, types.ErrStoreConflict) {
		return err
	}
	if strings.Contains(err.Error(), "entities.full_hash") {
		return fmt.Errorf("%w: %v", types.ErrHashCollision, err)
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(s scanner) (*types.EntityRecord, error) {
	var (
		rec                 types.EntityRecord
		firstSeen, lastSeen string
	)
	if err := s.Scan(&rec.ID, &rec.EntityType, &rec.OriginalName, &rec.SlugName, &rec.FullHash, &firstSeen, &lastSeen); err != nil {
		return nil, err
	}
	var err error
	if rec.FirstSeen, err = time.Parse(time.RFC3339Nano, firstSeen); err != nil {
		return nil, fmt.Errorf("entity %s first_seen: %w", rec.ID, err)
	}
	if rec.LastSeen, err = time.Parse(time.RFC3339Nano, lastSeen); err != nil {
		return nil, fmt.Errorf("entity %s last_seen: %w", rec.ID, err)
	}
	return &rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// generateUUID generates a new UUID v7 for entity IDs.
func generateUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to UUID v4 if v7 generation fails
		return uuid.New().String()
	}
	return id.String()
}
