package deskgate

import (
	"context"
	"log/slog"
)

type clientIPContextKey struct{}
type tenantIDContextKey struct{}
type loggerContextKey struct{}

// DefaultTenantID is used when no tenant was attached to the context.
const DefaultTenantID = "0"

// WithClientIP attaches the caller's IP address to ctx. It keys the ban
// ledgers and passcodes together with the identifier, and is passed to the
// CAPTCHA service.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithTenantID attaches a tenant identifier to ctx. Identities, sessions and
// ledgers are isolated per tenant; without one the default tenant "0" is
// used.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDContextKey{}, tenantID)
}

// WithLogger attaches a request-scoped logger. The Engine logs through it
// instead of its own logger when present.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// ClientIPFromContext returns the IP set by [WithClientIP].
func ClientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

// TenantIDFromContext returns the tenant set by [WithTenantID], or
// [DefaultTenantID].
func TenantIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return DefaultTenantID
	}

	tenantID, _ := ctx.Value(tenantIDContextKey{}).(string)
	if tenantID == "" {
		return DefaultTenantID
	}

	return tenantID
}

// LoggerFromContext returns the logger set by [WithLogger], or
// slog.Default.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	return loggerFromContext(ctx, nil)
}

func loggerFromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerContextKey{}).(*slog.Logger); ok && l != nil {
			return l
		}
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}
