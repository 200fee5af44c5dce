package deskgate

import (
	"context"
	"strings"

	"github.com/MrEthical07/deskgate/internal/flows"
	"github.com/MrEthical07/deskgate/jwt"
)

// ValidateSession checks the token's signature and expiry and that its
// session is still registered. When ctx carries a tenant the token must
// belong to it.
func (e *Engine) ValidateSession(ctx context.Context, token string) (*jwt.SessionClaims, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	start := e.now()
	defer e.observe(MetricValidateLatency, start)

	claims, _, err := flows.RunValidate(ctx, explicitTenant(ctx), bearer(token), e.sessionDeps())
	if err != nil {
		return nil, e.classify(ctx, "validate_session", err)
	}
	return claims, nil
}

// RefreshSession mints a new token with the same identity claims and a new
// expiry once the refresh watermark has passed, retiring the presented
// session. Before the watermark the presented token comes back unchanged
// with Refreshed false.
func (e *Engine) RefreshSession(ctx context.Context, token string) (*Session, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	issued, refreshed, err := flows.RunRefresh(ctx, explicitTenant(ctx), bearer(token), e.sessionDeps())
	if err != nil {
		return nil, e.classify(ctx, "refresh_session", err)
	}
	out := &Session{Token: issued.Token, Claims: issued.Claims, Refreshed: refreshed}
	if c := issued.Claims; c != nil {
		if c.ExpiresAt != nil {
			out.ExpiresAt = c.ExpiresAt.Time
		}
		if c.RefreshAt != nil {
			out.RefreshAt = c.RefreshAt.Time
		}
	}
	return out, nil
}

// SignOut unregisters the token's session. The token itself stays
// well-formed but no longer validates.
func (e *Engine) SignOut(ctx context.Context, token string) error {
	if e == nil || e.tokens == nil {
		return ErrEngineNotReady
	}
	if err := flows.RunSignOut(ctx, explicitTenant(ctx), bearer(token), e.sessionDeps()); err != nil {
		return e.classify(ctx, "signout", err)
	}
	return nil
}

// SignOutAll unregisters every session of userID in the context tenant and
// returns how many were removed.
func (e *Engine) SignOutAll(ctx context.Context, userID int64) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	n, err := flows.RunSignOutAll(ctx, TenantIDFromContext(ctx), userID, e.sessionDeps())
	if err != nil {
		return 0, e.classify(ctx, "signout_all", err)
	}
	return n, nil
}

func explicitTenant(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	tenantID, _ := ctx.Value(tenantIDContextKey{}).(string)
	return tenantID
}

func bearer(token string) string {
	token = strings.TrimSpace(token)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		return strings.TrimSpace(token[7:])
	}
	return token
}
