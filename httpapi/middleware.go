package httpapi

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/MrEthical07/deskgate"
	"github.com/MrEthical07/deskgate/jwt"
)

const (
	requestIDHeader = "X-Request-ID"

	claimsKey = "deskgate.claims"
	tokenKey  = "deskgate.token"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newRequestID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), entropy).String()
}

// requestContext attaches a request-scoped logger, the client IP and the
// tenant to the request context, then logs the request once served.
func requestContext(base *slog.Logger, tenantHeader string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = newRequestID()
		}
		c.Header(requestIDHeader, reqID)

		clientIP := c.ClientIP()
		logger := base.With(
			"req_id", reqID,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"client_ip", clientIP,
		)

		ctx := deskgate.WithLogger(c.Request.Context(), logger)
		ctx = deskgate.WithClientIP(ctx, clientIP)
		if tenantHeader != "" {
			if tenant := strings.TrimSpace(c.GetHeader(tenantHeader)); tenant != "" {
				ctx = deskgate.WithTenantID(ctx, tenant)
				logger = logger.With("tenant", tenant)
			}
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		logger.Info("http_request",
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"user_agent", c.Request.UserAgent(),
		)
	}
}

// ThrottleConfig is a token bucket per client IP.
type ThrottleConfig struct {
	RequestsPerWindow int
	Window            time.Duration
	Burst             int
}

type ipLimiter struct {
	limiters    sync.Map // map[string]*rate.Limiter
	limit       rate.Limit
	burst       int
	mu          sync.Mutex
	lastCleanup time.Time
}

func (l *ipLimiter) get(key string) *rate.Limiter {
	if v, ok := l.limiters.Load(key); ok {
		return v.(*rate.Limiter)
	}
	v, _ := l.limiters.LoadOrStore(key, rate.NewLimiter(l.limit, l.burst))
	l.maybeCleanup()
	return v.(*rate.Limiter)
}

// maybeCleanup drops limiters whose bucket has refilled.
func (l *ipLimiter) maybeCleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if time.Since(l.lastCleanup) < 5*time.Minute {
		return
	}
	l.lastCleanup = time.Now()
	l.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).Tokens() >= float64(l.burst) {
			l.limiters.Delete(key)
		}
		return true
	})
}

// throttle rejects a client IP that exceeds cfg with 429. A zero config
// disables it.
func throttle(cfg ThrottleConfig) gin.HandlerFunc {
	if cfg.RequestsPerWindow <= 0 || cfg.Window <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.RequestsPerWindow
	}
	l := &ipLimiter{
		limit:       rate.Limit(float64(cfg.RequestsPerWindow) / cfg.Window.Seconds()),
		burst:       burst,
		lastCleanup: time.Now(),
	}

	return func(c *gin.Context) {
		limiter := l.get(c.ClientIP())
		if limiter.Allow() {
			c.Next()
			return
		}

		reservation := limiter.Reserve()
		delay := reservation.Delay()
		reservation.Cancel()
		retryAfter := max(int(delay.Seconds()), 1)

		c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
		loggerFor(c).Warn("throttled", "retry_after", retryAfter)
		c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody{
			Kind:    "RateLimited",
			Message: "too many requests, try again later",
		})
	}
}

// guard admits requests carrying a registered session, read from the
// Authorization header or the session cookie.
func guard(engine *deskgate.Engine, cookie string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			if v, err := c.Cookie(cookie); err == nil && v != "" {
				token, ok = v, true
			}
		}
		if !ok {
			abortWith(c, deskgate.ErrSessionInvalid)
			return
		}

		claims, err := engine.ValidateSession(c.Request.Context(), token)
		if err != nil {
			abortWith(c, err)
			return
		}

		c.Set(claimsKey, claims)
		c.Set(tokenKey, token)
		c.Next()
	}
}

// ClaimsFromContext returns the claims the session guard validated.
func ClaimsFromContext(c *gin.Context) (*jwt.SessionClaims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*jwt.SessionClaims)
	return claims, ok
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func loggerFor(c *gin.Context) *slog.Logger {
	return deskgate.LoggerFromContext(c.Request.Context())
}
