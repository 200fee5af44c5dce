package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SMSGateway posts one-time codes to an HTTP SMS gateway as
// {"to": "...", "message": "..."} with a bearer token.
type SMSGateway struct {
	Endpoint string
	Token    string
	Sender   string
	Client   *http.Client
}

// NewSMSGateway builds a gateway client with a bounded timeout.
func NewSMSGateway(endpoint, token, sender string, timeout time.Duration) *SMSGateway {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SMSGateway{
		Endpoint: endpoint,
		Token:    token,
		Sender:   sender,
		Client:   &http.Client{Timeout: timeout},
	}
}

type smsPayload struct {
	From    string `json:"from,omitempty"`
	To      string `json:"to"`
	Message string `json:"message"`
}

func (g *SMSGateway) SendOTP(ctx context.Context, to Destination, code string) error {
	if to.Mobile == "" {
		return ErrNoRoute
	}
	payload, err := json.Marshal(smsPayload{
		From:    g.Sender,
		To:      to.Mobile,
		Message: fmt.Sprintf("Your sign-in code is %s", code),
	})
	if err != nil {
		return wrap("sms", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return wrap("sms", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.Token)
	}

	resp, err := g.Client.Do(req)
	if err != nil {
		return wrap("sms", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return wrap("sms", fmt.Errorf("gateway status %d for %s", resp.StatusCode, maskMobile(to.Mobile)))
	}
	return nil
}
