// Package pool implements the Direct Connection Pool: a process-wide map
// of sessionId to live driver connection for deployments where the
// database is directly reachable, with idle eviction, health probing, and
// graceful shutdown.
//
// Grounded on the teacher's background-ping sweeper in
// pkg/tunnel/tunnel.go's startTunnelServer ("for { sess.Ping(); ...;
// time.Sleep(5*time.Second) }", remove session on failed ping), adapted
// from a yamux-session liveness sweep into a cancellable idle-eviction and
// health-check sweeper over pooled gorm connections. Design Note 9's
// "inject the pool, never a package global" directive is implemented by
// constructing the Pool explicitly via New and stopping the sweeper with a
// context.CancelFunc captured at construction, rather than relying on a
// package-level singleton or a finalizer.
package pool

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	gomysql "gorm.io/driver/mysql"
	gopostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mateusfdl/infisical/internal/errs"
	"github.com/mateusfdl/infisical/internal/model"
)

const (
	// DefaultMaxIdle is the default idle eviction threshold.
	DefaultMaxIdle = 5 * time.Minute
	// DefaultHealthCheckInterval is the default sweeper interval.
	DefaultHealthCheckInterval = 30 * time.Second

	connectTimeout = 10 * time.Second
)

// Config configures a Pool.
type Config struct {
	MaxIdle             time.Duration
	HealthCheckInterval time.Duration
}

// entry is one pooled connection. Guarded by the pool's mutex for
// structural mutation and lastUsed updates; the driver connection itself
// is safe for concurrent use per database/sql's contract.
type entry struct {
	sessionID string
	kind      model.ResourceKind
	db        *gorm.DB
	sqlDB     *sql.DB
	createdAt time.Time
	lastUsed  time.Time
	// certPath is the staged SSL root cert file for this connection, if
	// any (see writeRootCert). Removed when the entry is closed.
	certPath string
}

// Pool is the Direct Connection Pool.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*entry
	cfg     Config
	log     zerolog.Logger
	now     func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Pool and starts its background sweeper.
func New(cfg Config, log zerolog.Logger) *Pool {
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = DefaultMaxIdle
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = DefaultHealthCheckInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		entries: make(map[string]*entry),
		cfg:     cfg,
		log:     log.With().Str("component", "direct-pool").Logger(),
		now:     time.Now,
		cancel:  cancel,
	}

	p.wg.Add(1)
	go p.sweep(ctx)

	return p
}

// Create returns the existing connection for sessionID, refreshing its
// lastUsed, or opens a new one and inserts it.
func (p *Pool) Create(ctx context.Context, sessionID string, creds model.DatabaseCredentials, kind model.ResourceKind) (*sql.DB, error) {
	p.mu.Lock()
	if e, ok := p.entries[sessionID]; ok {
		e.lastUsed = p.now()
		p.mu.Unlock()
		return e.sqlDB, nil
	}
	p.mu.Unlock()

	dialector, certPath, err := openDialector(kind, creds)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		removeCert(certPath)
		return nil, errs.Driverf("Failed to open database connection: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		removeCert(certPath)
		return nil, errs.Driverf("Failed to open database connection: %v", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := sqlDB.PingContext(connectCtx); err != nil {
		_ = sqlDB.Close()
		removeCert(certPath)
		return nil, errs.Driverf("Failed to connect to database: %v", err)
	}

	now := p.now()
	e := &entry{sessionID: sessionID, kind: kind, db: db, sqlDB: sqlDB, createdAt: now, lastUsed: now, certPath: certPath}

	p.mu.Lock()
	if existing, ok := p.entries[sessionID]; ok {
		// Lost a race with a concurrent Create for the same session; keep
		// the winner, discard ours.
		existing.lastUsed = p.now()
		p.mu.Unlock()
		_ = sqlDB.Close()
		removeCert(certPath)
		return existing.sqlDB, nil
	}
	p.entries[sessionID] = e
	p.mu.Unlock()

	return sqlDB, nil
}

// Get returns the pooled connection for sessionID, refreshing its
// lastUsed, or fails if none exists.
func (p *Pool) Get(sessionID string) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[sessionID]
	if !ok {
		return nil, errs.Driver("No connection found for session.")
	}
	e.lastUsed = p.now()
	return e.sqlDB, nil
}

// Release refreshes lastUsed for sessionID. Pooled connections are
// session-sticky; there is no actual release of the underlying socket.
func (p *Pool) Release(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[sessionID]; ok {
		e.lastUsed = p.now()
	}
}

// Close ends the driver connection for sessionID and removes the entry.
// The entry is removed even if closing the driver connection errors.
func (p *Pool) Close(sessionID string) {
	p.mu.Lock()
	e, ok := p.entries[sessionID]
	if ok {
		delete(p.entries, sessionID)
	}
	p.mu.Unlock()

	if !ok {
		return
	}
	if err := e.sqlDB.Close(); err != nil {
		p.log.Debug().Err(err).Str("sessionId", sessionID).Msg("error closing pooled connection")
	}
	removeCert(e.certPath)
}

// HealthCheck probes sessionID's connection with SELECT 1. On failure it
// closes and evicts the entry and returns false; failures are never
// surfaced to callers beyond the boolean.
func (p *Pool) HealthCheck(ctx context.Context, sessionID string) bool {
	p.mu.Lock()
	e, ok := p.entries[sessionID]
	p.mu.Unlock()
	if !ok {
		return false
	}

	if err := e.sqlDB.PingContext(ctx); err != nil {
		p.Close(sessionID)
		return false
	}
	if _, err := e.sqlDB.ExecContext(ctx, "SELECT 1"); err != nil {
		p.Close(sessionID)
		return false
	}
	return true
}

// Info returns a credential-free snapshot of every pooled entry.
func (p *Pool) Info() []model.PooledConnectionInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]model.PooledConnectionInfo, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, model.PooledConnectionInfo{
			SessionID:    e.sessionID,
			ResourceType: e.kind,
			CreatedAt:    e.createdAt,
			LastUsed:     e.lastUsed,
		})
	}
	return out
}

// CloseAll closes every entry concurrently and clears the map.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(len(ids))
	for _, id := range ids {
		go func(id string) {
			defer wg.Done()
			p.Close(id)
		}(id)
	}
	wg.Wait()
}

// Shutdown cancels the sweeper and closes every pooled connection. It waits
// for the sweeper goroutine to exit but gives up once ctx is done, so a
// caller's shutdown grace period bounds the wait rather than the sweeper's
// own timing.
func (p *Pool) Shutdown(ctx context.Context) {
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.log.Warn().Msg("shutdown grace period elapsed before sweeper exited")
	}

	p.CloseAll()
}

// sweep evicts entries idle longer than cfg.MaxIdle every
// cfg.HealthCheckInterval, until ctx is cancelled.
func (p *Pool) sweep(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.evictIdle()
		}
	}
}

func (p *Pool) evictIdle() {
	p.mu.Lock()
	now := p.now()
	var stale []string
	for id, e := range p.entries {
		if now.Sub(e.lastUsed) > p.cfg.MaxIdle {
			stale = append(stale, id)
		}
	}
	p.mu.Unlock()

	for _, id := range stale {
		p.Close(id)
		p.log.Debug().Str("sessionId", id).Msg("evicted idle pooled connection")
	}
}

// openDialector builds the gorm.Dialector for kind/creds. The returned
// certPath, if non-empty, is a temp file staged for the dialector's
// lifetime; the caller owns removing it (via removeCert) once the
// connection it backs is closed.
func openDialector(kind model.ResourceKind, creds model.DatabaseCredentials) (gorm.Dialector, string, error) {
	switch kind {
	case model.ResourcePostgres:
		sslmode := "disable"
		if creds.SSLEnabled {
			sslmode = "require"
			if creds.SSLRejectUnauthorized {
				sslmode = "verify-full"
			}
		}
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			escape(creds.Host), creds.Port, escape(creds.Username), escape(creds.Password), escape(creds.Database), sslmode,
		)
		var certPath string
		if creds.SSLEnabled && creds.SSLCertificate != nil {
			path, err := writeRootCert(*creds.SSLCertificate)
			if err != nil {
				return nil, "", errs.Driverf("Failed to stage SSL root certificate: %v", err)
			}
			certPath = path
			dsn += " sslrootcert=" + path
		}
		return gopostgres.Open(dsn), certPath, nil
	case model.ResourceMySQL:
		tlsParam := "tls=false"
		if creds.SSLEnabled {
			tlsParam = "tls=true"
			if !creds.SSLRejectUnauthorized {
				tlsParam = "tls=skip-verify"
			}
		}
		dsn := fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true&%s",
			creds.Username, creds.Password, creds.Host, creds.Port, creds.Database, tlsParam,
		)
		return gomysql.Open(dsn), "", nil
	default:
		return nil, "", errs.Driver("Unsupported resource kind")
	}
}

func escape(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// writeRootCert stages a PEM certificate chain to a temp file, since
// libpq-style DSNs reference sslrootcert by path rather than accepting
// inline PEM.
func writeRootCert(pem string) (string, error) {
	f, err := os.CreateTemp("", "pam-pg-root-*.pem")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.WriteString(pem); err != nil {
		return "", err
	}
	return f.Name(), nil
}

// removeCert deletes a temp file staged by writeRootCert. path may be empty
// (no cert was staged), in which case this is a no-op. Failures are ignored,
// not surfaced: a leftover temp file in the OS tmp dir is not worth failing
// a connection teardown over.
func removeCert(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}
