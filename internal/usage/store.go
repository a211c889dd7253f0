// Package usage provides PostgreSQL-backed recording of synthesis requests.
// The ledger exists for billing reconciliation and abuse investigation; it
// never stores audio, only request metadata. Recording is best effort and
// must never fail a synthesis request.
package usage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store manages the synthesis usage ledger in PostgreSQL.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Record is one synthesis request's metadata.
type Record struct {
	Endpoint   string // "synthesize", "stream" or "chat"
	VoiceID    string
	Characters int
	LatencyMs  int
	Status     string // "ok" or "error"
	Detail     string // error detail, empty on success
	RemoteAddr string
}

// Open connects to PostgreSQL, runs pending migrations and returns a ready
// store.
func Open(databaseURL string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("usage: open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("usage: ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:     db,
		logger: logger.With().Str("component", "usage-store").Logger(),
	}, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("usage: load migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("usage: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("usage: migrate setup: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("usage: migrate up: %w", err)
	}
	return nil
}

// RecordRequest inserts one ledger row. Failures are logged, not returned;
// the ledger must not sit on the synthesis hot path's error budget.
func (s *Store) RecordRequest(ctx context.Context, rec Record) {
	const query = `
		INSERT INTO synthesis_requests (endpoint, voice_id, characters, latency_ms, status, detail, remote_addr)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.ExecContext(ctx, query,
		rec.Endpoint,
		rec.VoiceID,
		rec.Characters,
		rec.LatencyMs,
		rec.Status,
		rec.Detail,
		rec.RemoteAddr,
	)
	if err != nil {
		s.logger.Warn().Err(err).Str("endpoint", rec.Endpoint).Msg("usage record failed")
	}
}

// CountSince returns how many requests a remote address made after the given
// cutoff. Used for offline abuse review, not enforcement.
func (s *Store) CountSince(ctx context.Context, remoteAddr string, since time.Time) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM synthesis_requests
		WHERE remote_addr = $1
		  AND requested_at >= $2`

	var count int
	if err := s.db.QueryRowContext(ctx, query, remoteAddr, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("usage: count since: %w", err)
	}
	return count, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
