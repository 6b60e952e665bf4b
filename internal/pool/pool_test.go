package pool

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mateusfdl/infisical/internal/model"
)

// fakeDriver is a no-op database/sql driver registered once, used to
// produce real *sql.DB handles in tests without dialing any network.
type fakeDriver struct{}

func (fakeDriver) Open(name string) (driver.Conn, error) { return fakeConn{}, nil }

type fakeConn struct{}

func (fakeConn) Prepare(query string) (driver.Stmt, error) { return nil, driver.ErrSkip }
func (fakeConn) Close() error                              { return nil }
func (fakeConn) Begin() (driver.Tx, error)                  { return nil, driver.ErrSkip }

var registerFakeDriverOnce sync.Once

// closeErrDriver hands out connections whose Close fails, so closing a
// *sql.DB that holds one of them returns an error.
type closeErrDriver struct{}

func (closeErrDriver) Open(name string) (driver.Conn, error) { return closeErrConn{}, nil }

type closeErrConn struct{ fakeConn }

func (closeErrConn) Close() error { return errors.New("close failed") }

var registerCloseErrDriverOnce sync.Once

func fakeSQLDB(t *testing.T) *sql.DB {
	t.Helper()
	registerFakeDriverOnce.Do(func() {
		sql.Register("pam-fake-driver", fakeDriver{})
	})
	db, err := sql.Open("pam-fake-driver", "")
	require.NoError(t, err)
	return db
}

func TestPool_CreateThenGetReturnsSameConnection(t *testing.T) {
	p := New(Config{MaxIdle: time.Hour, HealthCheckInterval: time.Hour}, zerolog.Nop())
	defer p.Shutdown(context.Background())

	now := time.Now()
	p.now = func() time.Time { return now }

	// Insert the entry as Create does after a successful connect; Create
	// itself needs a reachable database.
	p.mu.Lock()
	p.entries["s1"] = &entry{sessionID: "s1", kind: model.ResourcePostgres, sqlDB: fakeSQLDB(t), createdAt: now, lastUsed: now}
	p.mu.Unlock()

	got, err := p.Get("s1")
	require.NoError(t, err)

	p.mu.Lock()
	want := p.entries["s1"].sqlDB
	p.mu.Unlock()

	require.Same(t, want, got)
}

func TestPool_GetMissingFails(t *testing.T) {
	p := New(Config{}, zerolog.Nop())
	defer p.Shutdown(context.Background())

	_, err := p.Get("missing")
	require.Error(t, err)
}

func TestPool_LastUsedMonotonic(t *testing.T) {
	p := New(Config{MaxIdle: time.Hour, HealthCheckInterval: time.Hour}, zerolog.Nop())
	defer p.Shutdown(context.Background())

	t0 := time.Now()
	p.now = func() time.Time { return t0 }
	p.mu.Lock()
	p.entries["s1"] = &entry{sessionID: "s1", sqlDB: fakeSQLDB(t), createdAt: t0, lastUsed: t0}
	p.mu.Unlock()

	t1 := t0.Add(time.Second)
	p.now = func() time.Time { return t1 }
	p.Release("s1")

	p.mu.Lock()
	lastUsed := p.entries["s1"].lastUsed
	p.mu.Unlock()

	require.Equal(t, t1, lastUsed)
	require.True(t, !lastUsed.Before(t0))
}

func TestPool_IdleEviction(t *testing.T) {
	p := New(Config{MaxIdle: 50 * time.Millisecond, HealthCheckInterval: 20 * time.Millisecond}, zerolog.Nop())
	defer p.Shutdown(context.Background())

	now := time.Now()
	p.mu.Lock()
	p.entries["s1"] = &entry{sessionID: "s1", sqlDB: fakeSQLDB(t), createdAt: now, lastUsed: now}
	p.mu.Unlock()

	require.Eventually(t, func() bool {
		return len(p.Info()) == 0
	}, 500*time.Millisecond, 10*time.Millisecond)
}

func TestPool_CloseRemovesEntryEvenIfUnderlyingCloseErrors(t *testing.T) {
	p := New(Config{}, zerolog.Nop())
	defer p.Shutdown(context.Background())

	registerCloseErrDriverOnce.Do(func() {
		sql.Register("pam-close-err-driver", closeErrDriver{})
	})
	db, err := sql.Open("pam-close-err-driver", "")
	require.NoError(t, err)
	// Open one connection and leave it idle, so closing db has to close it
	// and returns that connection's error.
	require.NoError(t, db.Ping())

	p.mu.Lock()
	p.entries["s1"] = &entry{sessionID: "s1", sqlDB: db, createdAt: time.Now(), lastUsed: time.Now()}
	p.mu.Unlock()

	p.Close("s1")
	require.Empty(t, p.Info())
}

func TestBindPlaceholders_NotApplicableHere(t *testing.T) {
	// Placeholder translation lives in the executor package; pool only
	// opens connections. Nothing to assert here beyond compile-time
	// package boundaries, kept as a reminder of that split.
}
