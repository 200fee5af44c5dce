package deskgate

import (
	"time"

	"github.com/MrEthical07/deskgate/identity"
	"github.com/MrEthical07/deskgate/jwt"
	"github.com/MrEthical07/deskgate/progress"
)

// Request is one credential-exchange round trip. Only the proof for the
// current step needs to be set; earlier steps are carried by Progress.
// Client IP and tenant come from the context ([WithClientIP],
// [WithTenantID]).
type Request struct {
	Identifier   string
	Password     string
	CaptchaProof string
	OTPCode      string
	ResetToken   string
	NewPassword  string
	Progress     progress.Set
}

// Result is returned on success and alongside need-more-input and
// retryable errors. Progress is the full token set the client must present
// next time; an empty set means the client should discard what it holds.
type Result struct {
	Progress progress.Set

	// Set once authenticated.
	SessionToken string
	ExpiresAt    time.Time
	RefreshAt    time.Time
	Claims       *jwt.SessionClaims
	Identity     *identity.Record
}

// Authenticated reports whether the exchange produced a session.
func (r *Result) Authenticated() bool {
	return r != nil && r.SessionToken != ""
}

// Session is an issued or refreshed session token.
type Session struct {
	Token     string
	ExpiresAt time.Time
	RefreshAt time.Time
	Claims    *jwt.SessionClaims
	// Refreshed is false when the refresh watermark had not passed and
	// Token is the presented one.
	Refreshed bool
}
