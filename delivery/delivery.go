// Package delivery sends one-time codes and sealed reset tokens to users.
// Senders never decide whether a code is valid; they only carry it.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrNoRoute means no configured channel can reach the destination.
var ErrNoRoute = errors.New("no delivery route for destination")

// Destination identifies where a message goes.
type Destination struct {
	Name   string
	Email  string
	Mobile string
}

// OTPSender delivers a one-time code.
type OTPSender interface {
	SendOTP(ctx context.Context, to Destination, code string) error
}

// ResetTokenSender delivers a sealed password-reset token.
type ResetTokenSender interface {
	SendResetToken(ctx context.Context, to Destination, token string) error
}

// Sender can deliver both kinds of message.
type Sender interface {
	OTPSender
	ResetTokenSender
}

// Router picks a channel per destination. OTP codes prefer SMS when a
// mobile number is known; reset tokens always go by e-mail.
type Router struct {
	Email Sender
	SMS   OTPSender
}

func (r *Router) SendOTP(ctx context.Context, to Destination, code string) error {
	if r.SMS != nil && strings.TrimSpace(to.Mobile) != "" {
		return r.SMS.SendOTP(ctx, to, code)
	}
	if r.Email != nil && strings.TrimSpace(to.Email) != "" {
		return r.Email.SendOTP(ctx, to, code)
	}
	return ErrNoRoute
}

func (r *Router) SendResetToken(ctx context.Context, to Destination, token string) error {
	if r.Email == nil || strings.TrimSpace(to.Email) == "" {
		return ErrNoRoute
	}
	return r.Email.SendResetToken(ctx, to, token)
}

// LogSender writes messages to a logger instead of sending them.
// Development only: codes appear in the log.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s LogSender) SendOTP(ctx context.Context, to Destination, code string) error {
	s.logger().InfoContext(ctx, "otp delivery",
		slog.String("email", to.Email),
		slog.String("mobile", to.Mobile),
		slog.String("code", code),
	)
	return nil
}

func (s LogSender) SendResetToken(ctx context.Context, to Destination, token string) error {
	s.logger().InfoContext(ctx, "reset token delivery",
		slog.String("email", to.Email),
		slog.String("token", token),
	)
	return nil
}

func maskMobile(m string) string {
	if len(m) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(m)-4) + m[len(m)-4:]
}

func wrap(channel string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s delivery: %w", channel, err)
}
