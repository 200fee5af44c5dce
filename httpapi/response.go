package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MrEthical07/deskgate"
	"github.com/MrEthical07/deskgate/jwt"
	"github.com/MrEthical07/deskgate/progress"
)

type errorBody struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Remaining int    `json:"remaining,omitempty"`
}

type sessionBody struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	RefreshAt time.Time `json:"refreshAt,omitempty"`
	UserID    int64     `json:"userId"`
	TenantID  string    `json:"tenantId"`
	Username  string    `json:"username"`
	Roles     []string  `json:"roles"`
}

type exchangeResponse struct {
	Status    string            `json:"status"`
	Kind      string            `json:"kind,omitempty"`
	Message   string            `json:"message,omitempty"`
	Remaining int               `json:"remaining,omitempty"`
	Session   *sessionBody      `json:"session,omitempty"`
	Progress  map[string]string `json:"progress,omitempty"`
}

// statusFor maps a classified error to its HTTP status.
func statusFor(e *deskgate.Error) int {
	if e == nil {
		return http.StatusOK
	}
	if e.NeedsInput() {
		return http.StatusAccepted
	}
	switch e.Kind {
	case deskgate.KindIncorrectUsernameOrPassword,
		deskgate.KindIncorrectTwoFactorCode,
		deskgate.KindCaptchaInvalid,
		deskgate.KindIncorrectPassResetTokenProvided,
		deskgate.KindSessionInvalid:
		return http.StatusUnauthorized
	case deskgate.KindUserIsLocked, deskgate.KindNoRoleAssignedToUser:
		return http.StatusForbidden
	case deskgate.KindMaxOtpAttemptsReached, deskgate.KindTooManyAttempts:
		return http.StatusTooManyRequests
	case deskgate.KindPasswordPolicyViolation:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func abortWith(c *gin.Context, err error) {
	e := deskgate.Classify(err)
	if e == nil {
		e = deskgate.ErrInternalServerError
	}
	c.AbortWithStatusJSON(statusFor(e), errorBody{
		Kind:      string(e.Kind),
		Message:   e.Message,
		Remaining: e.Remaining,
	})
}

func badRequest(c *gin.Context, err error) {
	loggerFor(c).Debug("malformed request body", "err", err)
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{
		Kind:    "BadRequest",
		Message: "malformed request body",
	})
}

// writeExchange renders the outcome of one round trip. Progress cookies are
// replaced by the returned set whenever the engine returned one.
func (h *handler) writeExchange(c *gin.Context, flow progress.Flow, res *deskgate.Result, err error) {
	e := deskgate.Classify(err)
	if err != nil && e == nil {
		e = deskgate.ErrInternalServerError
	}

	out := exchangeResponse{Status: "authenticated"}
	if e != nil {
		out.Status = "rejected"
		if e.NeedsInput() {
			out.Status = "pending"
		}
		out.Kind = string(e.Kind)
		out.Message = e.Message
		out.Remaining = e.Remaining
	}

	if res != nil {
		h.setProgressCookies(c, flow, res.Progress)
		if len(res.Progress) > 0 {
			out.Progress = make(map[string]string, len(res.Progress))
			for step, token := range res.Progress {
				out.Progress[string(step)] = token
			}
		}
	}

	if e == nil && res.Authenticated() {
		out.Session = toSessionBody(res.SessionToken, res.ExpiresAt, res.RefreshAt, res.Claims)
		h.setSessionCookie(c, res.SessionToken, res.ExpiresAt)
	}

	c.JSON(statusFor(e), out)
}

func (h *handler) setProgressCookies(c *gin.Context, flow progress.Flow, set progress.Set) {
	c.SetSameSite(http.SameSiteStrictMode)
	maxAge := int(h.engine.ProgressTTL() / time.Second)
	for _, step := range progress.Steps {
		name := progress.CookieName(flow, step)
		if token, ok := set[step]; ok && token != "" {
			c.SetCookie(name, token, maxAge, "/", h.opts.CookieDomain, h.opts.SecureCookies, true)
			continue
		}
		if _, err := c.Cookie(name); err == nil {
			c.SetCookie(name, "", -1, "/", h.opts.CookieDomain, h.opts.SecureCookies, true)
		}
	}
}

func (h *handler) setSessionCookie(c *gin.Context, token string, expiresAt time.Time) {
	c.SetSameSite(http.SameSiteStrictMode)
	maxAge := int(time.Until(expiresAt) / time.Second)
	if maxAge <= 0 {
		maxAge = -1
	}
	c.SetCookie(SessionCookie, token, maxAge, "/", h.opts.CookieDomain, h.opts.SecureCookies, true)
}

func (h *handler) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(SessionCookie, "", -1, "/", h.opts.CookieDomain, h.opts.SecureCookies, true)
}

func toSessionBody(token string, expiresAt, refreshAt time.Time, claims *jwt.SessionClaims) *sessionBody {
	out := &sessionBody{Token: token, ExpiresAt: expiresAt, RefreshAt: refreshAt}
	if claims != nil {
		out.UserID = claims.UID
		out.TenantID = claims.TID
		out.Username = claims.Username
		out.Roles = claims.Roles
	}
	return out
}

var errNoClaims = errors.New("session guard did not run")
