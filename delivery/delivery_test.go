package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jordan-wright/email"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	otps   []string
	tokens []string
}

func (r *recordingSender) SendOTP(_ context.Context, to Destination, code string) error {
	r.otps = append(r.otps, to.Email+to.Mobile+":"+code)
	return nil
}

func (r *recordingSender) SendResetToken(_ context.Context, to Destination, token string) error {
	r.tokens = append(r.tokens, to.Email+":"+token)
	return nil
}

func TestRouterPrefersSMSForOTP(t *testing.T) {
	mail := &recordingSender{}
	sms := &recordingSender{}
	r := &Router{Email: mail, SMS: sms}
	ctx := context.Background()

	require.NoError(t, r.SendOTP(ctx, Destination{Email: "a@x.io", Mobile: "+15550100"}, "123456"))
	require.Equal(t, []string{"+15550100:123456"}, sms.otps)
	require.Empty(t, mail.otps)

	require.NoError(t, r.SendOTP(ctx, Destination{Email: "a@x.io"}, "654321"))
	require.Equal(t, []string{"a@x.io:654321"}, mail.otps)

	require.ErrorIs(t, r.SendOTP(ctx, Destination{}, "000000"), ErrNoRoute)
}

func TestRouterResetTokenUsesEmail(t *testing.T) {
	mail := &recordingSender{}
	r := &Router{Email: mail, SMS: &recordingSender{}}
	require.NoError(t, r.SendResetToken(context.Background(), Destination{Email: "a@x.io", Mobile: "+1"}, "tok"))
	require.Equal(t, []string{"a@x.io:tok"}, mail.tokens)
	require.ErrorIs(t, r.SendResetToken(context.Background(), Destination{Mobile: "+1"}, "tok"), ErrNoRoute)
}

func TestSMSGateway(t *testing.T) {
	var got smsPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if got.To == "+10000000000" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	g := NewSMSGateway(srv.URL, "k", "Desk", time.Second)
	require.NoError(t, g.SendOTP(context.Background(), Destination{Mobile: "+15550100"}, "123456"))
	require.Equal(t, "+15550100", got.To)
	require.Contains(t, got.Message, "123456")

	err := g.SendOTP(context.Background(), Destination{Mobile: "+10000000000"}, "1")
	require.Error(t, err)
	require.NotContains(t, err.Error(), "+10000000000")

	require.ErrorIs(t, g.SendOTP(context.Background(), Destination{}, "1"), ErrNoRoute)
}

type fakeMailer struct {
	sent []*email.Email
	err  error
}

func (f *fakeMailer) Send(e *email.Email, _ time.Duration) error {
	f.sent = append(f.sent, e)
	return f.err
}

func TestSMTPSenderComposesMessages(t *testing.T) {
	m := &fakeMailer{}
	s := &SMTPSender{cfg: SMTPConfig{From: "desk@x.io", SendTimeout: time.Second, ResetURL: "https://desk.x.io/reset"}, pool: m}

	require.NoError(t, s.SendOTP(context.Background(), Destination{Name: "Ann", Email: "ann@x.io"}, "424242"))
	require.NoError(t, s.SendResetToken(context.Background(), Destination{Name: "Ann", Email: "ann@x.io"}, "sealed"))
	require.Len(t, m.sent, 2)
	require.Equal(t, []string{"ann@x.io"}, m.sent[0].To)
	require.Contains(t, string(m.sent[0].HTML), "424242")
	require.Contains(t, string(m.sent[1].HTML), "https://desk.x.io/reset?token=sealed")

	require.ErrorIs(t, s.SendOTP(context.Background(), Destination{}, "1"), ErrNoRoute)

	m.err = errors.New("421 busy")
	require.ErrorContains(t, s.SendOTP(context.Background(), Destination{Email: "ann@x.io"}, "1"), "smtp delivery")
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	s := LogSender{Logger: slog.New(slog.NewTextHandler(&buf, nil))}
	require.NoError(t, s.SendOTP(context.Background(), Destination{Email: "a@x.io"}, "111222"))
	require.True(t, strings.Contains(buf.String(), "111222"))
}
