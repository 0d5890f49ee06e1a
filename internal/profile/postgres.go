package profile

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const (
	selectByIDSQL = `SELECT id, COALESCE(email, ''), is_admin FROM profiles WHERE id = $1`

	selectByEmailSQL = `SELECT id, COALESCE(email, ''), is_admin FROM profiles
		WHERE lower(email) = lower($1)
		ORDER BY is_admin DESC, id
		LIMIT 1`

	upsertSQL = `INSERT INTO profiles (id, email, is_admin, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, now())
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email, is_admin = EXCLUDED.is_admin, updated_at = now()`
)

// querier is the subset of *pgxpool.Pool the store uses.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore implements Store on a profiles table.
type PostgresStore struct {
	db      querier
	logger  *zap.Logger
	metrics *Metrics
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an open pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger, metrics *Metrics) *PostgresStore {
	return newPostgresStore(pool, logger, metrics)
}

func newPostgresStore(db querier, logger *zap.Logger, metrics *Metrics) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &PostgresStore{db: db, logger: logger, metrics: metrics}
}

// FindByID implements Store.
func (s *PostgresStore) FindByID(ctx context.Context, id string) (*Profile, error) {
	start := time.Now()
	p, err := s.scanOne(ctx, selectByIDSQL, id)
	s.metrics.observe(opFindByID, start, err)
	if err != nil {
		return nil, fmt.Errorf("profile: find by id: %w", err)
	}
	return p, nil
}

// FindByEmail implements Store.
func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*Profile, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, nil
	}

	start := time.Now()
	p, err := s.scanOne(ctx, selectByEmailSQL, email)
	s.metrics.observe(opFindByEmail, start, err)
	if err != nil {
		return nil, fmt.Errorf("profile: find by email: %w", err)
	}
	return p, nil
}

// Upsert implements Store. Concurrent upserts of the same id converge on
// a single row.
func (s *PostgresStore) Upsert(ctx context.Context, p *Profile) error {
	if p == nil || p.ID == "" {
		return ErrInvalidProfile
	}

	start := time.Now()
	_, err := s.db.Exec(ctx, upsertSQL, p.ID, p.Email, p.IsAdmin)
	s.metrics.observe(opUpsert, start, err)
	if err != nil {
		return fmt.Errorf("profile: upsert: %w", err)
	}

	s.logger.Info("profile upserted",
		zap.String("profile_id", p.ID),
		zap.Bool("is_admin", p.IsAdmin),
	)
	return nil
}

func (s *PostgresStore) scanOne(ctx context.Context, sql string, arg string) (*Profile, error) {
	var p Profile
	err := s.db.QueryRow(ctx, sql, arg).Scan(&p.ID, &p.Email, &p.IsAdmin)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Migrate applies the embedded schema files in name order. Every file is
// idempotent, so Migrate is safe to run on each start.
func Migrate(ctx context.Context, db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}) error {
	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("profile: list migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		body, err := migrationFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("profile: read %s: %w", name, err)
		}
		if _, err := db.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("profile: apply %s: %w", name, err)
		}
	}
	return nil
}
