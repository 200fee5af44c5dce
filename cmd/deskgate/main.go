// Command deskgate serves the credential-exchange HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/deskgate"
	"github.com/MrEthical07/deskgate/captcha"
	"github.com/MrEthical07/deskgate/credstore/postgres"
	"github.com/MrEthical07/deskgate/credstore/sqlite"
	"github.com/MrEthical07/deskgate/delivery"
	"github.com/MrEthical07/deskgate/httpapi"
	"github.com/MrEthical07/deskgate/identity"
	promexport "github.com/MrEthical07/deskgate/metrics/export/prometheus"
	"github.com/MrEthical07/deskgate/otp"
)

var version = "dev"

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging, version)
	if err := run(cfg, logger); err != nil {
		logger.Error("deskgate stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg *serverConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Redis.Addrs,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	builder := deskgate.New().
		WithConfig(cfg.engineConfig()).
		WithRedis(rdb).
		WithCredentialStore(store).
		WithLogger(logger).
		WithAuditSink(deskgate.NewSlogSink(logger.With("stream", "audit")))

	if cfg.Captcha.Secret != "" {
		builder = builder.WithCaptcha(captcha.NewSiteVerify(cfg.Captcha.Endpoint, cfg.Captcha.Secret, cfg.Captcha.Action, cfg.Captcha.Timeout))
	}
	if cfg.Auth.TOTPCodes {
		builder = builder.WithOTPGenerator(otp.TOTPGenerator{})
	}

	sender, err := newSender(cfg, logger)
	if err != nil {
		return err
	}
	if sender != nil {
		builder = builder.WithDelivery(sender)
	}

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	report := engine.SecurityReport()
	logger.Info("engine ready",
		"production_mode", report.ProductionMode,
		"signing_algorithm", report.SigningAlgorithm,
		"signin_captcha", report.SignInCaptcha,
		"signin_second_factor", report.SignInSecondFactor,
		"password_reset", report.PasswordResetActive,
		"admin_bypass_reachable", report.AdminBypassReachable,
		"enumeration_delay", report.EnumerationDelay,
	)

	opts := httpapi.Options{
		Logger:         logger,
		TenantHeader:   cfg.Server.TenantHeader,
		TrustedProxies: cfg.Server.TrustedProxies,
		CookieDomain:   cfg.Server.CookieDomain,
		SecureCookies:  cfg.Server.SecureCookies,
		Throttle: httpapi.ThrottleConfig{
			RequestsPerWindow: cfg.Server.ThrottleLimit,
			Window:            cfg.Server.ThrottleWindow,
			Burst:             cfg.Server.ThrottleBurst,
		},
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Endpoint {
		opts.Metrics = promexport.NewPrometheusExporter(engine).Handler()
	}

	gin.SetMode(gin.ReleaseMode)
	router, err := httpapi.NewRouter(engine, opts)
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server forced to shut down", "err", err)
	}
	return nil
}

// openStore connects the configured credential store and applies its
// migrations when asked to.
func openStore(ctx context.Context, cfg storeConfig) (identity.Store, func(), error) {
	if cfg.DSN == "" {
		return nil, nil, errors.New("store.dsn is required")
	}

	switch cfg.Driver {
	case "postgres":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		s, err := postgres.Connect(connectCtx, postgres.Config{DSN: cfg.DSN, MaxConns: cfg.MaxConns})
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if cfg.AutoMigrate {
			if err := s.ApplyMigrations(); err != nil {
				s.Close()
				return nil, nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		return s, s.Close, nil

	case "sqlite":
		s, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		if cfg.AutoMigrate {
			if err := s.ApplyMigrations(); err != nil {
				_ = s.Close()
				return nil, nil, fmt.Errorf("migrate sqlite: %w", err)
			}
		}
		return s, func() { _ = s.Close() }, nil
	}

	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// newSender routes codes by SMS when a gateway is configured and
// everything else by e-mail. It returns nil when no channel is configured,
// leaving the engine on its log sender outside production mode.
func newSender(cfg *serverConfig, logger *slog.Logger) (delivery.Sender, error) {
	var router delivery.Router

	if cfg.SMTP.Host != "" {
		mail, err := delivery.NewSMTPSender(delivery.SMTPConfig{
			Host:        cfg.SMTP.Host,
			Port:        cfg.SMTP.Port,
			Username:    cfg.SMTP.Username,
			Password:    cfg.SMTP.Password,
			From:        cfg.SMTP.From,
			Connections: cfg.SMTP.Connections,
			SendTimeout: cfg.Auth.DeliveryTimeout,
			ResetURL:    cfg.SMTP.ResetURL,
		})
		if err != nil {
			return nil, err
		}
		router.Email = mail
	}
	if cfg.SMS.Endpoint != "" {
		router.SMS = delivery.NewSMSGateway(cfg.SMS.Endpoint, cfg.SMS.Token, cfg.SMS.Sender, cfg.SMS.Timeout)
	}

	switch {
	case router.Email == nil && router.SMS == nil:
		return nil, nil
	case router.Email == nil:
		logger.Warn("no smtp configured, reset tokens are written to the log")
		router.Email = delivery.LogSender{Logger: logger}
	}
	return &router, nil
}
