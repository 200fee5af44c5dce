package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"net/textproto"
	"time"

	"github.com/jordan-wright/email"
)

// SMTPConfig configures the e-mail channel.
type SMTPConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	From               string
	Connections        int
	SendTimeout        time.Duration
	InsecureSkipVerify bool

	// ResetURL receives the sealed token as its "token" query parameter.
	ResetURL string
}

type mailer interface {
	Send(e *email.Email, timeout time.Duration) error
}

// SMTPSender delivers over a pooled SMTP connection.
type SMTPSender struct {
	cfg  SMTPConfig
	pool mailer
}

var (
	otpMail = template.Must(template.New("otp").Parse(
		`<p>Hello {{.Name}},</p><p>Your sign-in code is <strong>{{.Code}}</strong>.</p>` +
			`<p>If you did not try to sign in, ignore this message.</p>`))
	resetMail = template.Must(template.New("reset").Parse(
		`<p>Hello {{.Name}},</p><p>Use this link to choose a new password:</p>` +
			`<p><a href="{{.URL}}">{{.URL}}</a></p><p>Reset token: <code>{{.Token}}</code></p>`))
)

// NewSMTPSender dials a connection pool for cfg.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, errors.New("smtp host and from address are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Connections <= 0 {
		cfg.Connections = 2
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}

	var auth smtp.Auth
	if cfg.Username != "" || cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	addr := net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port))
	pool, err := email.NewPool(addr, cfg.Connections, auth, &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("smtp pool: %w", err)
	}
	return &SMTPSender{cfg: cfg, pool: pool}, nil
}

func (s *SMTPSender) SendOTP(ctx context.Context, to Destination, code string) error {
	body, err := render(otpMail, map[string]string{"Name": to.Name, "Code": code})
	if err != nil {
		return wrap("smtp", err)
	}
	return wrap("smtp", s.send(ctx, to.Email, "Your sign-in code", body))
}

func (s *SMTPSender) SendResetToken(ctx context.Context, to Destination, token string) error {
	link := s.cfg.ResetURL
	if link != "" {
		link += "?token=" + token
	}
	body, err := render(resetMail, map[string]string{"Name": to.Name, "URL": link, "Token": token})
	if err != nil {
		return wrap("smtp", err)
	}
	return wrap("smtp", s.send(ctx, to.Email, "Reset your password", body))
}

func (s *SMTPSender) send(ctx context.Context, addr, subject string, html []byte) error {
	if addr == "" {
		return ErrNoRoute
	}
	timeout := s.cfg.SendTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}
	e := &email.Email{
		To:      []string{addr},
		From:    s.cfg.From,
		Subject: subject,
		HTML:    html,
		Headers: textproto.MIMEHeader{},
	}
	return s.pool.Send(e, timeout)
}

func render(t *template.Template, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
