package flows

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/deskgate/identity"
	"github.com/MrEthical07/deskgate/jwt"
	"github.com/MrEthical07/deskgate/session"
)

// SessionStore is the session registry.
type SessionStore interface {
	Save(ctx context.Context, sess *session.Session, ttl time.Duration) error
	Get(ctx context.Context, tenantID, sessionID string) (*session.Session, error)
	Delete(ctx context.Context, tenantID, userID, sessionID string) error
	Rotate(ctx context.Context, old, next *session.Session, ttl time.Duration) error
	DeleteAllForUser(ctx context.Context, tenantID, userID string) (int, error)
}

// TokenManager mints and parses session tokens.
type TokenManager interface {
	Mint(sub jwt.Subject, sid string) (string, *jwt.SessionClaims, error)
	Parse(token string) (*jwt.SessionClaims, error)
	RefreshDue(claims *jwt.SessionClaims) bool
	TTL() time.Duration
}

// SessionDeps captures session issuance and maintenance dependencies.
type SessionDeps struct {
	Errors       Errors
	Tokens       TokenManager
	Sessions     SessionStore
	NewSessionID func() string
	Now          func() time.Time
	Emit         func(ctx context.Context, ev Event)
}

func (d *SessionDeps) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

func (d *SessionDeps) emit(ctx context.Context, ev Event) {
	if d.Emit != nil {
		d.Emit(ctx, ev)
	}
}

// IssueSession mints a token for rec and registers it.
func IssueSession(ctx context.Context, rec *identity.Record, deps SessionDeps) (*Issued, error) {
	return mintAndSave(ctx, jwt.Subject{
		UserID:      rec.ID,
		TenantID:    rec.TenantID,
		Username:    rec.Username,
		DisplayName: rec.DisplayName,
		Email:       rec.Email,
		Roles:       rec.Roles,
		Permissions: rec.Permissions,
	}, nil, deps)
}

func mintAndSave(ctx context.Context, sub jwt.Subject, replaces *session.Session, deps SessionDeps) (*Issued, error) {
	sid := deps.NewSessionID()
	token, claims, err := deps.Tokens.Mint(sub, sid)
	if err != nil {
		return nil, err
	}

	ttl := deps.Tokens.TTL()
	sess := &session.Session{
		SessionID: sid,
		UserID:    strconv.FormatInt(sub.UserID, 10),
		TenantID:  sub.TenantID,
		CreatedAt: deps.now().Unix(),
		ExpiresAt: claims.ExpiresAt.Unix(),
	}
	if replaces == nil {
		err = deps.Sessions.Save(ctx, sess, ttl)
	} else {
		err = deps.Sessions.Rotate(ctx, replaces, sess, ttl)
	}
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil, deps.Errors.SessionInvalid
		}
		return nil, err
	}
	return &Issued{Token: token, Claims: claims}, nil
}

// RunValidate checks the token signature and expiry and that its session
// is still registered. tenantID, when non-empty, must match the token.
func RunValidate(ctx context.Context, tenantID, token string, deps SessionDeps) (*jwt.SessionClaims, *session.Session, error) {
	claims, err := deps.Tokens.Parse(token)
	if err != nil {
		deps.emit(ctx, Event{Name: EventSessionInvalid, Reason: "token", Err: err})
		return nil, nil, deps.Errors.SessionInvalid
	}
	if tenantID != "" && claims.TID != tenantID {
		deps.emit(ctx, Event{Name: EventSessionInvalid, UserID: claims.UID, Reason: "tenant"})
		return nil, nil, deps.Errors.SessionInvalid
	}

	sess, err := deps.Sessions.Get(ctx, claims.TID, claims.SID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			deps.emit(ctx, Event{Name: EventSessionInvalid, UserID: claims.UID, Reason: "revoked"})
			return nil, nil, deps.Errors.SessionInvalid
		}
		return nil, nil, err
	}
	if sess.UserID != strconv.FormatInt(claims.UID, 10) {
		deps.emit(ctx, Event{Name: EventSessionInvalid, UserID: claims.UID, Reason: "subject"})
		return nil, nil, deps.Errors.SessionInvalid
	}
	return claims, sess, nil
}

// RunRefresh mints a new token with the same identity claims once the
// refresh watermark has passed and retires the old session. Before the
// watermark the presented token is returned unchanged.
func RunRefresh(ctx context.Context, tenantID, token string, deps SessionDeps) (*Issued, bool, error) {
	claims, sess, err := RunValidate(ctx, tenantID, token, deps)
	if err != nil {
		return nil, false, err
	}
	if !deps.Tokens.RefreshDue(claims) {
		return &Issued{Token: token, Claims: claims}, false, nil
	}

	issued, err := mintAndSave(ctx, claims.Identity(), sess, deps)
	if err != nil {
		return nil, false, err
	}
	deps.emit(ctx, Event{Name: EventSessionRefreshed, Success: true, UserID: claims.UID})
	return issued, true, nil
}

// RunSignOut unregisters the token's session.
func RunSignOut(ctx context.Context, tenantID, token string, deps SessionDeps) error {
	claims, sess, err := RunValidate(ctx, tenantID, token, deps)
	if err != nil {
		return err
	}
	if err := deps.Sessions.Delete(ctx, sess.TenantID, sess.UserID, claims.SID); err != nil {
		return err
	}
	deps.emit(ctx, Event{Name: EventSignOut, Success: true, UserID: claims.UID})
	return nil
}

// RunSignOutAll unregisters every session of a user in a tenant.
func RunSignOutAll(ctx context.Context, tenantID string, userID int64, deps SessionDeps) (int, error) {
	n, err := deps.Sessions.DeleteAllForUser(ctx, tenantID, strconv.FormatInt(userID, 10))
	if err != nil {
		return 0, err
	}
	deps.emit(ctx, Event{Name: EventSignOutAll, Success: true, UserID: userID})
	return n, nil
}
