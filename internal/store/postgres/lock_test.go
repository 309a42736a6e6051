package postgres

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/shelter/internal/core"
)

// lockSession answers the advisory lock queries of one database session.
// The lock is held by someone else until freeAfter tries have failed;
// a negative freeAfter never frees it.
type lockSession struct {
	mu        sync.Mutex
	freeAfter int
	tries     int
	unlocks   int
	keys      []interface{}
}

func (d *lockSession) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("unexpected exec")
}

func (d *lockSession) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return nil, errors.New("unexpected query")
}

func (d *lockSession) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.keys = append(d.keys, args...)
	switch {
	case strings.Contains(sql, "pg_try_advisory_lock"):
		d.tries++
		return boolRow{v: d.freeAfter >= 0 && d.tries > d.freeAfter}
	case strings.Contains(sql, "pg_advisory_unlock"):
		d.unlocks++
		return boolRow{v: true}
	}
	return boolRow{err: errors.New("unexpected query: " + sql)}
}

type boolRow struct {
	v   bool
	err error
}

func (r boolRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*bool) = r.v
	return nil
}

func newLockStore(db DBTX) *Store {
	s := New(db)
	s.lockPoll = 5 * time.Millisecond
	return s
}

func TestLockImports_PollsUntilFree(t *testing.T) {
	db := &lockSession{freeAfter: 2}
	s := newLockStore(db)

	release, err := s.LockImports(context.Background(), "imp-1", time.Second)
	if err != nil {
		t.Fatalf("LockImports: %v", err)
	}
	if db.tries != 3 {
		t.Errorf("tries = %d, want 3", db.tries)
	}
	if db.unlocks != 0 {
		t.Errorf("unlocked before release")
	}

	release()
	if db.unlocks != 1 {
		t.Errorf("unlocks = %d, want 1", db.unlocks)
	}
	for _, k := range db.keys {
		if k != importLockKey {
			t.Errorf("lock query used key %v, want %v", k, importLockKey)
		}
	}
}

func TestLockImports_BusyAfterWait(t *testing.T) {
	db := &lockSession{freeAfter: -1}
	s := newLockStore(db)

	start := time.Now()
	_, err := s.LockImports(context.Background(), "imp-2", 30*time.Millisecond)
	elapsed := time.Since(start)

	if !errors.Is(err, core.ErrImportBusy) {
		t.Fatalf("expected ErrImportBusy, got %v", err)
	}
	if elapsed < 25*time.Millisecond {
		t.Errorf("gave up too early: %v", elapsed)
	}
	if db.tries < 2 {
		t.Errorf("tries = %d, want the lock polled", db.tries)
	}
	if db.unlocks != 0 {
		t.Errorf("unlocked a lock that was never taken")
	}
}

func TestLockImports_ZeroWaitTriesOnce(t *testing.T) {
	db := &lockSession{freeAfter: -1}
	s := newLockStore(db)

	_, err := s.LockImports(context.Background(), "imp-3", 0)
	if !errors.Is(err, core.ErrImportBusy) {
		t.Fatalf("expected ErrImportBusy, got %v", err)
	}
	if db.tries != 1 {
		t.Errorf("tries = %d, want 1", db.tries)
	}
}

func TestLockImports_ContextCancelled(t *testing.T) {
	db := &lockSession{freeAfter: -1}
	s := newLockStore(db)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.LockImports(ctx, "imp-4", time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLockImports_QueryFailure(t *testing.T) {
	s := newLockStore(failingSession{})

	_, err := s.LockImports(context.Background(), "imp-5", time.Second)
	if err == nil || !strings.Contains(err.Error(), "try import lock") {
		t.Fatalf("expected wrapped query error, got %v", err)
	}
}

// failingSession is a session whose connection has dropped.
type failingSession struct{}

func (failingSession) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("connection reset by peer")
}

func (failingSession) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return nil, errors.New("connection reset by peer")
}

func (failingSession) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return boolRow{err: errors.New("connection reset by peer")}
}
