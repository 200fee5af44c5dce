package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/MrEthical07/deskgate/identity"
)

// Permissions maps a role name to the permissions it grants.
type Permissions map[string][]string

// Insert creates rec with its roles in one transaction and returns the new
// user id. Roles missing from the tenant are created with the permissions
// listed in grants. Used for seeding development databases and tests.
func (s *Store) Insert(ctx context.Context, rec identity.Record, grants Permissions) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var secret sql.NullString
	if rec.MFASecret != nil {
		secret = sql.NullString{String: *rec.MFASecret, Valid: true}
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO users (tenant_id, username, email, display_name, mobile, password_hash,
		                   active, locked, force_password_change, mfa_secret)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TenantID, rec.Username, rec.Email, rec.DisplayName, rec.Mobile, rec.PasswordHash,
		rec.Active, rec.Locked, rec.ForcePasswordChange, secret,
	)
	if err != nil {
		return 0, fmt.Errorf("insert user: %w", err)
	}
	userID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, role := range rec.Roles {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO roles (tenant_id, name) VALUES (?, ?) ON CONFLICT (tenant_id, name) DO NOTHING`,
			rec.TenantID, role); err != nil {
			return 0, fmt.Errorf("insert role %q: %w", role, err)
		}
		var roleID int64
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM roles WHERE tenant_id = ? AND name = ?`, rec.TenantID, role).Scan(&roleID); err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_roles (user_id, role_id) VALUES (?, ?)`, userID, roleID); err != nil {
			return 0, err
		}
		for _, perm := range grants[role] {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO role_permissions (role_id, permission) VALUES (?, ?) ON CONFLICT DO NOTHING`,
				roleID, perm); err != nil {
				return 0, err
			}
		}
	}
	return userID, tx.Commit()
}
