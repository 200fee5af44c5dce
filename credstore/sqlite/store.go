// Package sqlite is an identity.Store on modernc.org/sqlite. It backs local
// development and tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/MrEthical07/deskgate/credstore/sqlite/migrations"
	"github.com/MrEthical07/deskgate/identity"
)

// Store reads credentials from a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens dsn and enables foreign keys. SQLite allows one writer, so
// the pool is capped at a single connection.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ApplyMigrations brings the schema up to date from the embedded files.
func (s *Store) ApplyMigrations() error {
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	src, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

const (
	selectUser = `
		SELECT id, tenant_id, username, email, display_name, mobile, password_hash,
		       active, locked, force_password_change, mfa_secret
		FROM users
		WHERE tenant_id = ? AND lower(%s) = lower(?)`

	selectRoles = `
		SELECT r.name
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = ?
		ORDER BY r.name`

	selectPermissions = `
		SELECT DISTINCT rp.permission
		FROM role_permissions rp
		JOIN user_roles ur ON ur.role_id = rp.role_id
		WHERE ur.user_id = ?
		ORDER BY rp.permission`
)

func (s *Store) FindByIdentifier(ctx context.Context, tenantID, value string) (*identity.Record, error) {
	column := "username"
	if identity.IsEmail(value) {
		column = "email"
	}

	var (
		rec    identity.Record
		secret sql.NullString
	)
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(selectUser, column), tenantID, identity.Normalize(value)).Scan(
		&rec.ID, &rec.TenantID, &rec.Username, &rec.Email, &rec.DisplayName, &rec.Mobile, &rec.PasswordHash,
		&rec.Active, &rec.Locked, &rec.ForcePasswordChange, &secret,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if secret.Valid {
		v := secret.String
		rec.MFASecret = &v
	}

	if rec.Roles, err = s.strings(ctx, selectRoles, rec.ID); err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	if rec.Permissions, err = s.strings(ctx, selectPermissions, rec.ID); err != nil {
		return nil, fmt.Errorf("load permissions: %w", err)
	}
	return &rec, nil
}

func (s *Store) UpdatePassword(ctx context.Context, userID int64, newHash string) error {
	return s.update(ctx, `UPDATE users SET password_hash = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, newHash, userID)
}

func (s *Store) SetForcedChangeFlag(ctx context.Context, userID int64, force bool) error {
	return s.update(ctx, `UPDATE users SET force_password_change = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, force, userID)
}

func (s *Store) update(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return identity.ErrNotFound
	}
	return nil
}

func (s *Store) strings(ctx context.Context, query string, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
