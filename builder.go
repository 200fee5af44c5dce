package deskgate

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/deskgate/captcha"
	"github.com/MrEthical07/deskgate/delivery"
	"github.com/MrEthical07/deskgate/identity"
	"github.com/MrEthical07/deskgate/internal/audit"
	"github.com/MrEthical07/deskgate/internal/limiters"
	"github.com/MrEthical07/deskgate/internal/resetlink"
	"github.com/MrEthical07/deskgate/internal/stores"
	"github.com/MrEthical07/deskgate/jwt"
	"github.com/MrEthical07/deskgate/otp"
	"github.com/MrEthical07/deskgate/password"
	"github.com/MrEthical07/deskgate/progress"
	"github.com/MrEthical07/deskgate/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. It is single-use: a second Build fails
// with [ErrBuilderUsed].
type Builder struct {
	config Config
	redis  redis.UniversalClient

	store       identity.Store
	scorer      captcha.Scorer
	otpSender   delivery.OTPSender
	resetSender delivery.ResetTokenSender
	generator   otp.Generator
	logger      *slog.Logger
	auditSink   AuditSink

	built bool
}

// New starts a Builder from [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the configuration with a copy of cfg.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing ledgers, passcodes, reset records and
// sessions. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCredentialStore sets the user lookup and password persistence.
// Required.
func (b *Builder) WithCredentialStore(store identity.Store) *Builder {
	b.store = store
	return b
}

// WithCaptcha sets the trust-scoring service. Required when either flow
// requires a CAPTCHA.
func (b *Builder) WithCaptcha(scorer captcha.Scorer) *Builder {
	b.scorer = scorer
	return b
}

// WithDelivery sets one sender for both passcodes and reset tokens.
func (b *Builder) WithDelivery(sender delivery.Sender) *Builder {
	b.otpSender = sender
	b.resetSender = sender
	return b
}

func (b *Builder) WithOTPSender(sender delivery.OTPSender) *Builder {
	b.otpSender = sender
	return b
}

func (b *Builder) WithResetTokenSender(sender delivery.ResetTokenSender) *Builder {
	b.resetSender = sender
	return b
}

// WithOTPGenerator replaces the default crypto/rand code generator, for
// example with [otp.TOTPGenerator].
func (b *Builder) WithOTPGenerator(g otp.Generator) *Builder {
	b.generator = g
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, ErrMissingRedis
	}
	if b.store == nil {
		return nil, ErrMissingCredentialStore
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "deskgate")

	// -------- CAPTCHA --------
	var verifier *captcha.Verifier
	needCaptcha := cfg.SignIn.RequireCaptcha || (cfg.PasswordReset.Enabled && cfg.PasswordReset.RequireCaptcha)
	if needCaptcha {
		if b.scorer == nil {
			return nil, ErrMissingCaptcha
		}
		v, err := captcha.NewVerifier(b.scorer, cfg.Captcha.Threshold)
		if err != nil {
			return nil, err
		}
		verifier = v
	}

	// -------- DELIVERY --------
	otpSender, resetSender := b.otpSender, b.resetSender
	if otpSender == nil || resetSender == nil {
		if cfg.Security.ProductionMode {
			return nil, errors.New("ProductionMode requires OTP and reset-token senders")
		}
		dev := delivery.LogSender{Logger: logger}
		if otpSender == nil {
			otpSender = dev
		}
		if resetSender == nil {
			resetSender = dev
		}
		logger.Warn("no delivery sender configured, codes and reset tokens are written to the log")
	}

	// -------- PASSWORD --------
	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	policy := password.Policy{
		MinLength:      cfg.Password.MinLength,
		MaxLength:      cfg.Password.MaxLength,
		RequireMixed:   cfg.Password.RequireMixed,
		RejectUsername: cfg.Password.RejectUsername,
	}

	// -------- OTP --------
	otpService, err := otp.NewService(
		otp.NewRedisStore(b.redis, cfg.OTP.RedisPrefix),
		b.generator,
		otp.Config{Digits: cfg.OTP.Digits, TTL: cfg.OTP.TTL, MaxAttempts: cfg.OTP.MaxAttempts},
	)
	if err != nil {
		return nil, err
	}

	// -------- PROGRESS --------
	codec, err := progress.NewCodec(cfg.Progress.Secret, cfg.Progress.TTL)
	if err != nil {
		return nil, err
	}

	// -------- SESSIONS --------
	tokens, err := jwt.NewManager(jwt.Config{
		SessionTTL:    cfg.Session.TTL,
		RefreshAfter:  cfg.Session.RefreshAfter,
		SigningMethod: jwt.SigningMethod(cfg.Session.SigningMethod),
		PrivateKey:    cfg.Session.PrivateKey,
		PublicKey:     cfg.Session.PublicKey,
		Issuer:        cfg.Session.Issuer,
		Audience:      cfg.Session.Audience,
		Leeway:        cfg.Session.Leeway,
		KeyID:         cfg.Session.KeyID,
	})
	if err != nil {
		return nil, err
	}

	// -------- PASSWORD RESET --------
	var sealer *resetlink.Sealer
	if cfg.PasswordReset.Enabled {
		sealer, err = resetlink.NewSealer(cfg.PasswordReset.Secret)
		if err != nil {
			return nil, fmt.Errorf("reset sealer: %w", err)
		}
	}

	e := &Engine{
		config:   cfg,
		logger:   logger,
		store:    b.store,
		captcha:  verifier,
		otp:      otpService,
		progress: codec,
		hasher:   hasher,
		policy:   policy,
		ledgers: ledgers{
			otpIssue:    limiters.NewOTPIssueLedger(b.redis, ledgerConfig(cfg.RateLimit.OTPIssue)),
			otpVerify:   limiters.NewOTPVerifyLedger(b.redis, ledgerConfig(cfg.RateLimit.OTPVerify)),
			resetIssue:  limiters.NewResetIssueLedger(b.redis, ledgerConfig(cfg.RateLimit.ResetIssue)),
			resetVerify: limiters.NewResetVerifyLedger(b.redis, ledgerConfig(cfg.RateLimit.ResetVerify)),
			signIn:      limiters.NewSignInLedger(b.redis, ledgerConfig(cfg.RateLimit.SignIn)),
		},
		resetRecords: stores.NewResetTokenStore(b.redis, cfg.PasswordReset.RedisPrefix),
		sealer:       sealer,
		sessions:     session.NewStore(b.redis, cfg.Session.RedisPrefix),
		tokens:       tokens,
		otpSender:    otpSender,
		resetSender:  resetSender,
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
			OnDrop: func(ev audit.Event) {
				logger.Debug("audit event dropped", "event", ev.EventType)
			},
		}, b.auditSink),
		metrics: NewMetrics(cfg.Metrics),
		now:     time.Now,
	}

	b.built = true
	return e, nil
}

func ledgerConfig(l LedgerLimit) limiters.LedgerConfig {
	return limiters.LedgerConfig{Ceiling: l.Ceiling, Ban: l.Ban}
}
