package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mesh-intelligence/anonymizer/internal/storetest"
	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

func newTestBackend(t *testing.T) (types.EntityStore, types.Config) {
	return NewBackend(nil), types.Config{
		Backend: types.BackendSQLite,
		DataDir: t.TempDir(),
	}
}

func TestBackend_Conformance(t *testing.T) {
	storetest.Run(t, newTestBackend, storetest.Options{Durable: true})
}

func TestBackend_Attach(t *testing.T) {
	tmpDir := filepath.Join(t.TempDir(), "nested", "db")

	b := NewBackend(nil)
	if err := b.Attach(types.Config{Backend: types.BackendSQLite, DataDir: tmpDir}); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer b.Detach()

	if _, err := os.Stat(filepath.Join(tmpDir, DBFile)); err != nil {
		t.Errorf("%s not created: %v", DBFile, err)
	}

	var mode string
	if err := b.db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestBackend_AttachInvalidConfig(t *testing.T) {
	b := NewBackend(nil)
	err := b.Attach(types.Config{Backend: types.BackendSQLite, Driver: "postgres", DataDir: t.TempDir()})
	if !errors.Is(err, types.ErrDriverUnknown) {
		t.Errorf("expected ErrDriverUnknown, got %v", err)
	}
}

func TestDSN(t *testing.T) {
	tests := []struct {
		driver string
		want   string
	}{
		{types.DriverModernc, "file:/d/entities.db?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"},
		{types.DriverMattn, "file:/d/entities.db?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"},
	}
	for _, tt := range tests {
		if got := dsn(tt.driver, "/d/entities.db"); got != tt.want {
			t.Errorf("dsn(%q) = %q, want %q", tt.driver, got, tt.want)
		}
	}
}

func TestRetry(t *testing.T) {
	busy := errors.New("database is locked (5) (SQLITE_BUSY)")
	ctx := context.Background()

	t.Run("succeeds after busy", func(t *testing.T) {
		calls := 0
		err := retry(ctx, 3, time.Microsecond, func(int) error {
			calls++
			if calls < 3 {
				return busy
			}
			return nil
		})
		if err != nil {
			t.Fatalf("retry: %v", err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})

	t.Run("exhausted", func(t *testing.T) {
		calls := 0
		err := retry(ctx, 2, time.Microsecond, func(int) error {
			calls++
			return busy
		})
		if !errors.Is(err, types.ErrStoreConflict) {
			t.Fatalf("expected ErrStoreConflict, got %v", err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		calls := 0
		boom := errors.New("no such table: entities")
		err := retry(ctx, 5, time.Microsecond, func(int) error {
			calls++
			return boom
		})
		if !errors.Is(err, boom) || calls != 1 {
			t.Errorf("err = %v after %d calls", err, calls)
		}
	})

	t.Run("context canceled while waiting", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := retry(cctx, 5, time.Hour, func(int) error { return busy })
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestClassify(t *testing.T) {
	err := classify(errors.New("constraint failed: UNIQUE constraint failed: entities.full_hash (2067)"))
	if !errors.Is(err, types.ErrHashCollision) {
		t.Errorf("expected ErrHashCollision, got %v", err)
	}
	plain := errors.New("disk I/O error")
	if got := classify(plain); got != plain {
		t.Errorf("classify changed %v to %v", plain, got)
	}
}

func TestBackend_LockedWriterIsConflict(t *testing.T) {
	dir := t.TempDir()
	b := NewBackend(nil)
	b.backoff = time.Millisecond
	if err := b.Attach(types.Config{Backend: types.BackendSQLite, DataDir: dir, MaxRetries: 1}); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer b.Detach()

	// A second backend holds the write lock; b's only connection does not wait.
	holder := NewBackend(nil)
	if err := holder.Attach(types.Config{Backend: types.BackendSQLite, DataDir: dir}); err != nil {
		t.Fatalf("Attach holder: %v", err)
	}
	defer holder.Detach()
	conn, err := holder.db.Conn(context.Background())
	if err != nil {
		t.Fatalf("Conn: %v", err)
	}
	defer conn.Close()
	if _, err := conn.ExecContext(context.Background(), `BEGIN IMMEDIATE`); err != nil {
		t.Fatalf("BEGIN IMMEDIATE: %v", err)
	}
	defer conn.ExecContext(context.Background(), `ROLLBACK`)

	b.db.SetMaxOpenConns(1)
	if _, err := b.db.Exec(`PRAGMA busy_timeout = 0`); err != nil {
		t.Fatalf("busy_timeout: %v", err)
	}

	_, err = b.GetOrCreate(context.Background(), storetest.Key(t), types.EntityHostname, "locked.example", 8)
	if !errors.Is(err, types.ErrStoreConflict) {
		t.Errorf("expected ErrStoreConflict, got %v", err)
	}
}
