package httpapi

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MrEthical07/deskgate"
	"github.com/MrEthical07/deskgate/progress"
)

// SessionCookie carries the session token for browser clients.
const SessionCookie = "dg_session"

// Options configures the router.
type Options struct {
	Logger *slog.Logger
	// TenantHeader names the header carrying the tenant id. Empty disables
	// tenant selection and every request uses the default tenant.
	TenantHeader   string
	TrustedProxies []string
	CookieDomain   string
	SecureCookies  bool
	// Throttle applies to the /auth routes.
	Throttle ThrottleConfig
	// Metrics is mounted on GET /metrics when set.
	Metrics http.Handler
}

type handler struct {
	engine *deskgate.Engine
	opts   Options
}

// exchangeRequest is the JSON body of a sign-in or reset round trip.
// Progress is optional for clients that cannot keep cookies.
type exchangeRequest struct {
	Identifier   string            `json:"identifier"`
	Password     string            `json:"password"`
	CaptchaProof string            `json:"captchaProof"`
	OTPCode      string            `json:"otpCode"`
	ResetToken   string            `json:"resetToken"`
	NewPassword  string            `json:"newPassword"`
	Progress     map[string]string `json:"progress"`
}

// NewRouter builds the gin engine serving the credential exchanges of
// engine.
func NewRouter(engine *deskgate.Engine, opts Options) (*gin.Engine, error) {
	if engine == nil {
		return nil, deskgate.ErrEngineNotReady
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	r := gin.New()
	if err := r.SetTrustedProxies(opts.TrustedProxies); err != nil {
		return nil, err
	}
	r.Use(gin.Recovery())
	r.Use(requestContext(opts.Logger, opts.TenantHeader))

	h := &handler{engine: engine, opts: opts}

	r.GET("/healthz", h.healthz)
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	auth := r.Group("/auth", throttle(opts.Throttle))
	{
		auth.POST("/sign-in", h.signIn)
		if engine.PasswordResetEnabled() {
			auth.POST("/password-reset", h.passwordReset)
		}

		guarded := auth.Group("", guard(engine, SessionCookie))
		guarded.POST("/refresh", h.refresh)
		guarded.POST("/sign-out", h.signOut)
		guarded.POST("/sign-out-all", h.signOutAll)
		guarded.GET("/session", h.session)
	}

	return r, nil
}

func (h *handler) signIn(c *gin.Context) {
	req, ok := h.bind(c, progress.FlowSignIn)
	if !ok {
		return
	}
	res, err := h.engine.SignIn(c.Request.Context(), req)
	h.writeExchange(c, progress.FlowSignIn, res, err)
}

func (h *handler) passwordReset(c *gin.Context) {
	req, ok := h.bind(c, progress.FlowReset)
	if !ok {
		return
	}
	res, err := h.engine.ResetPassword(c.Request.Context(), req)
	h.writeExchange(c, progress.FlowReset, res, err)
}

// bind decodes the body and gathers progress tokens from cookies, letting
// body entries override them.
func (h *handler) bind(c *gin.Context, flow progress.Flow) (deskgate.Request, bool) {
	var body exchangeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return deskgate.Request{}, false
	}

	set := progress.Set{}
	for _, step := range progress.Steps {
		if v, err := c.Cookie(progress.CookieName(flow, step)); err == nil && v != "" {
			set[step] = v
		}
	}
	for step, token := range body.Progress {
		if token = strings.TrimSpace(token); token != "" {
			set[progress.Step(step)] = token
		}
	}

	return deskgate.Request{
		Identifier:   body.Identifier,
		Password:     body.Password,
		CaptchaProof: body.CaptchaProof,
		OTPCode:      body.OTPCode,
		ResetToken:   body.ResetToken,
		NewPassword:  body.NewPassword,
		Progress:     set,
	}, true
}

func (h *handler) refresh(c *gin.Context) {
	sess, err := h.engine.RefreshSession(c.Request.Context(), c.GetString(tokenKey))
	if err != nil {
		abortWith(c, err)
		return
	}
	if sess.Refreshed {
		h.setSessionCookie(c, sess.Token, sess.ExpiresAt)
	}
	c.JSON(http.StatusOK, gin.H{
		"refreshed": sess.Refreshed,
		"session":   toSessionBody(sess.Token, sess.ExpiresAt, sess.RefreshAt, sess.Claims),
	})
}

func (h *handler) signOut(c *gin.Context) {
	if err := h.engine.SignOut(c.Request.Context(), c.GetString(tokenKey)); err != nil {
		abortWith(c, err)
		return
	}
	h.clearSessionCookie(c)
	c.Status(http.StatusNoContent)
}

func (h *handler) signOutAll(c *gin.Context) {
	claims, ok := ClaimsFromContext(c)
	if !ok {
		abortWith(c, errNoClaims)
		return
	}
	ctx := deskgate.WithTenantID(c.Request.Context(), claims.TID)
	n, err := h.engine.SignOutAll(ctx, claims.UID)
	if err != nil {
		abortWith(c, err)
		return
	}
	h.clearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"revoked": n})
}

func (h *handler) session(c *gin.Context) {
	claims, ok := ClaimsFromContext(c)
	if !ok {
		abortWith(c, errNoClaims)
		return
	}
	var expiresAt, refreshAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	if claims.RefreshAt != nil {
		refreshAt = claims.RefreshAt.Time
	}
	body := toSessionBody("", expiresAt, refreshAt, claims)
	c.JSON(http.StatusOK, gin.H{
		"userId":      body.UserID,
		"tenantId":    body.TenantID,
		"username":    body.Username,
		"displayName": claims.DisplayName,
		"email":       claims.Email,
		"roles":       body.Roles,
		"permissions": claims.Permissions,
		"expiresAt":   body.ExpiresAt,
		"refreshAt":   body.RefreshAt,
	})
}

func (h *handler) healthz(c *gin.Context) {
	latency, err := h.engine.Ping(c.Request.Context())
	if err != nil {
		loggerFor(c).Error("health check failed", "err", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"redis_latency_ms": latency.Milliseconds(),
	})
}
