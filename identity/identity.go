// Package identity defines the user record the authenticator reads and the
// credential store contract it reads it through.
package identity

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// ErrNotFound is returned by a Store when no record matches.
var ErrNotFound = errors.New("identity not found")

// Record is a user as seen by the authenticator. It is owned by the
// credential store and read-only here.
type Record struct {
	ID                  int64
	TenantID            string
	Username            string
	Email               string
	DisplayName         string
	Mobile              string
	PasswordHash        string
	Active              bool
	Locked              bool
	ForcePasswordChange bool
	MFASecret           *string
	Roles               []string
	Permissions         []string
}

// HasRoles reports whether at least one role is assigned.
func (r *Record) HasRoles() bool {
	return r != nil && len(r.Roles) > 0
}

// Store is the credential store contract.
type Store interface {
	// FindByIdentifier resolves value as an e-mail when it looks like one,
	// otherwise as a username. It returns ErrNotFound when nothing matches.
	FindByIdentifier(ctx context.Context, tenantID, value string) (*Record, error)
	UpdatePassword(ctx context.Context, userID int64, newHash string) error
	SetForcedChangeFlag(ctx context.Context, userID int64, force bool) error
}

var emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)

// IsEmail reports whether value has e-mail syntax.
func IsEmail(value string) bool {
	return emailPattern.MatchString(strings.TrimSpace(value))
}

// Normalize trims and lower-cases an identifier for keys and lookups.
func Normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
