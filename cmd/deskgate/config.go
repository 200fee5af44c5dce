package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/MrEthical07/deskgate"
)

type serverConfig struct {
	Server  httpConfig    `mapstructure:"server"`
	Logging loggingConfig `mapstructure:"logging"`
	Redis   redisConfig   `mapstructure:"redis"`
	Store   storeConfig   `mapstructure:"store"`
	Captcha captchaConfig `mapstructure:"captcha"`
	SMTP    smtpConfig    `mapstructure:"smtp"`
	SMS     smsConfig     `mapstructure:"sms"`
	Auth    authConfig    `mapstructure:"auth"`
	Metrics metricsConfig `mapstructure:"metrics"`
	Audit   auditConfig   `mapstructure:"audit"`
}

type httpConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TenantHeader    string        `mapstructure:"tenant_header"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`
	CookieDomain    string        `mapstructure:"cookie_domain"`
	SecureCookies   bool          `mapstructure:"secure_cookies"`
	ThrottleLimit   int           `mapstructure:"throttle_limit"`
	ThrottleWindow  time.Duration `mapstructure:"throttle_window"`
	ThrottleBurst   int           `mapstructure:"throttle_burst"`
}

type loggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Env    string `mapstructure:"env"`
}

type redisConfig struct {
	Addrs    []string `mapstructure:"addrs"`
	Password string   `mapstructure:"password"`
	DB       int      `mapstructure:"db"`
}

type storeConfig struct {
	Driver      string `mapstructure:"driver"` // "postgres" or "sqlite"
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
	MaxConns    int32  `mapstructure:"max_conns"`
}

type captchaConfig struct {
	Endpoint  string        `mapstructure:"endpoint"`
	Secret    string        `mapstructure:"secret"`
	Action    string        `mapstructure:"action"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Threshold float64       `mapstructure:"threshold"`
}

type smtpConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	From        string `mapstructure:"from"`
	Connections int    `mapstructure:"connections"`
	ResetURL    string `mapstructure:"reset_url"`
}

type smsConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Token    string        `mapstructure:"token"`
	Sender   string        `mapstructure:"sender"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type authConfig struct {
	ProductionMode   bool          `mapstructure:"production_mode"`
	SignInCaptcha    bool          `mapstructure:"signin_captcha"`
	SignInOTP        bool          `mapstructure:"signin_otp"`
	ResetEnabled     bool          `mapstructure:"reset_enabled"`
	ResetCaptcha     bool          `mapstructure:"reset_captcha"`
	ResetOTP         bool          `mapstructure:"reset_otp"`
	AdminBypass      bool          `mapstructure:"admin_bypass"`
	TOTPCodes        bool          `mapstructure:"totp_codes"`
	ProgressSecret   string        `mapstructure:"progress_secret"`
	ProgressTTL      time.Duration `mapstructure:"progress_ttl"`
	ResetSecret      string        `mapstructure:"reset_secret"`
	SessionKey       string        `mapstructure:"session_key"`
	SessionTTL       time.Duration `mapstructure:"session_ttl"`
	RefreshAfter     time.Duration `mapstructure:"refresh_after"`
	EnumerationDelay time.Duration `mapstructure:"enumeration_delay"`
	DeliveryTimeout  time.Duration `mapstructure:"delivery_timeout"`
}

type metricsConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	Latency  bool `mapstructure:"latency"`
	Endpoint bool `mapstructure:"endpoint"`
}

type auditConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"buffer_size"`
}

// loadConfig reads the YAML file named by DESKGATE_CONFIG (or
// ./deskgate.yaml) and lets DESKGATE_* variables override any key, e.g.
// DESKGATE_REDIS_PASSWORD for redis.password.
func loadConfig() (*serverConfig, error) {
	v := viper.New()
	setDefaults(v)

	if path := os.Getenv("DESKGATE_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("deskgate")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/deskgate")
	}

	v.SetEnvPrefix("DESKGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg serverConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key so environment overrides apply even when
// no file mentions them.
func setDefaults(v *viper.Viper) {
	d := deskgate.DefaultConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 20*time.Second)
	v.SetDefault("server.tenant_header", "X-Tenant-ID")
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("server.cookie_domain", "")
	v.SetDefault("server.secure_cookies", true)
	v.SetDefault("server.throttle_limit", 30)
	v.SetDefault("server.throttle_window", time.Minute)
	v.SetDefault("server.throttle_burst", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.env", "prod")

	v.SetDefault("redis.addrs", []string{"localhost:6379"})
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.auto_migrate", false)
	v.SetDefault("store.max_conns", 10)

	v.SetDefault("captcha.endpoint", "https://www.google.com/recaptcha/api/siteverify")
	v.SetDefault("captcha.secret", "")
	v.SetDefault("captcha.action", "")
	v.SetDefault("captcha.timeout", 5*time.Second)
	v.SetDefault("captcha.threshold", d.Captcha.Threshold)

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("smtp.connections", 2)
	v.SetDefault("smtp.reset_url", "")

	v.SetDefault("sms.endpoint", "")
	v.SetDefault("sms.token", "")
	v.SetDefault("sms.sender", "")
	v.SetDefault("sms.timeout", 5*time.Second)

	v.SetDefault("auth.production_mode", true)
	v.SetDefault("auth.signin_captcha", d.SignIn.RequireCaptcha)
	v.SetDefault("auth.signin_otp", d.SignIn.RequireOTP)
	v.SetDefault("auth.reset_enabled", d.PasswordReset.Enabled)
	v.SetDefault("auth.reset_captcha", d.PasswordReset.RequireCaptcha)
	v.SetDefault("auth.reset_otp", d.PasswordReset.RequireOTP)
	v.SetDefault("auth.admin_bypass", false)
	v.SetDefault("auth.totp_codes", false)
	v.SetDefault("auth.progress_secret", "")
	v.SetDefault("auth.progress_ttl", d.Progress.TTL)
	v.SetDefault("auth.reset_secret", "")
	v.SetDefault("auth.session_key", "")
	v.SetDefault("auth.session_ttl", d.Session.TTL)
	v.SetDefault("auth.refresh_after", d.Session.RefreshAfter)
	v.SetDefault("auth.enumeration_delay", d.Security.EnumerationDelay)
	v.SetDefault("auth.delivery_timeout", d.Delivery.Timeout)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.latency", true)
	v.SetDefault("metrics.endpoint", true)

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.buffer_size", d.Audit.BufferSize)
}

// engineConfig overlays the server settings on the engine defaults.
func (c *serverConfig) engineConfig() deskgate.Config {
	cfg := deskgate.DefaultConfig()
	a := c.Auth

	cfg.SignIn.RequireCaptcha = a.SignInCaptcha
	cfg.SignIn.RequireOTP = a.SignInOTP
	cfg.PasswordReset.Enabled = a.ResetEnabled
	cfg.PasswordReset.RequireCaptcha = a.ResetCaptcha
	cfg.PasswordReset.RequireOTP = a.ResetOTP
	cfg.PasswordReset.Secret = []byte(a.ResetSecret)
	cfg.OTP.AllowAdminBypass = a.AdminBypass
	cfg.Captcha.Threshold = c.Captcha.Threshold
	cfg.Progress.Secret = []byte(a.ProgressSecret)
	cfg.Progress.TTL = a.ProgressTTL
	cfg.Session.PrivateKey = []byte(a.SessionKey)
	cfg.Session.TTL = a.SessionTTL
	cfg.Session.RefreshAfter = a.RefreshAfter
	cfg.Security.ProductionMode = a.ProductionMode
	cfg.Security.EnumerationDelay = a.EnumerationDelay
	cfg.Delivery.Timeout = a.DeliveryTimeout
	cfg.Metrics.Enabled = c.Metrics.Enabled
	cfg.Metrics.EnableLatencyHistograms = c.Metrics.Latency
	cfg.Audit.Enabled = c.Audit.Enabled
	cfg.Audit.BufferSize = c.Audit.BufferSize

	return cfg
}
