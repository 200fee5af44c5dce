// Package postgres is an identity.Store on a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/MrEthical07/deskgate/credstore/postgres/migrations"
	"github.com/MrEthical07/deskgate/identity"
)

// Config tunes the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Store reads credentials from PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// ApplyMigrations brings the schema up to date from the embedded files.
func (s *Store) ApplyMigrations() error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	src, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

const (
	selectByUsername = `
		SELECT id, tenant_id, username, email, display_name, mobile, password_hash,
		       active, locked, force_password_change, mfa_secret
		FROM users
		WHERE tenant_id = $1 AND lower(username) = lower($2)`

	selectByEmail = `
		SELECT id, tenant_id, username, email, display_name, mobile, password_hash,
		       active, locked, force_password_change, mfa_secret
		FROM users
		WHERE tenant_id = $1 AND lower(email) = lower($2)`

	selectGrants = `
		SELECT
		    COALESCE(array_agg(DISTINCT r.name) FILTER (WHERE r.name IS NOT NULL), '{}'),
		    COALESCE(array_agg(DISTINCT rp.permission) FILTER (WHERE rp.permission IS NOT NULL), '{}')
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		WHERE ur.user_id = $1`
)

func (s *Store) FindByIdentifier(ctx context.Context, tenantID, value string) (*identity.Record, error) {
	query := selectByUsername
	if identity.IsEmail(value) {
		query = selectByEmail
	}

	var rec identity.Record
	err := s.pool.QueryRow(ctx, query, tenantID, identity.Normalize(value)).Scan(
		&rec.ID, &rec.TenantID, &rec.Username, &rec.Email, &rec.DisplayName, &rec.Mobile, &rec.PasswordHash,
		&rec.Active, &rec.Locked, &rec.ForcePasswordChange, &rec.MFASecret,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	if err := s.pool.QueryRow(ctx, selectGrants, rec.ID).Scan(&rec.Roles, &rec.Permissions); err != nil {
		return nil, fmt.Errorf("load grants: %w", err)
	}
	return &rec, nil
}

func (s *Store) UpdatePassword(ctx context.Context, userID int64, newHash string) error {
	return s.update(ctx, `UPDATE users SET password_hash = $1, updated_at = now() WHERE id = $2`, newHash, userID)
}

func (s *Store) SetForcedChangeFlag(ctx context.Context, userID int64, force bool) error {
	return s.update(ctx, `UPDATE users SET force_password_change = $1, updated_at = now() WHERE id = $2`, force, userID)
}

func (s *Store) update(ctx context.Context, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrNotFound
	}
	return nil
}
