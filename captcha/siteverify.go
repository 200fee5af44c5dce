package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultEndpoint is the reCAPTCHA v3 verification URL.
const DefaultEndpoint = "https://www.google.com/recaptcha/api/siteverify"

// SiteVerify scores proofs with a siteverify-style HTTP endpoint
// (reCAPTCHA v3, hCaptcha, Turnstile).
type SiteVerify struct {
	Endpoint string
	Secret   string
	Action   string
	Client   *http.Client
}

// NewSiteVerify builds a scorer with a bounded HTTP client.
func NewSiteVerify(endpoint, secret, action string, timeout time.Duration) *SiteVerify {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SiteVerify{
		Endpoint: endpoint,
		Secret:   secret,
		Action:   action,
		Client:   &http.Client{Timeout: timeout},
	}
}

type siteVerifyResponse struct {
	Success    bool     `json:"success"`
	Score      *float64 `json:"score"`
	Action     string   `json:"action"`
	ErrorCodes []string `json:"error-codes"`
}

func (s *SiteVerify) Score(ctx context.Context, proof, remoteIP string) (Verdict, error) {
	form := url.Values{}
	form.Set("secret", s.Secret)
	form.Set("response", proof)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Verdict{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.Client.Do(req)
	if err != nil {
		return Verdict{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Verdict{}, fmt.Errorf("siteverify status %d", resp.StatusCode)
	}

	var body siteVerifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return Verdict{}, fmt.Errorf("decode siteverify response: %w", err)
	}

	if s.Action != "" && body.Action != "" && body.Action != s.Action {
		return Verdict{Success: false}, nil
	}

	// Checkbox-style providers answer without a score; treat success as full trust.
	score := 1.0
	if body.Score != nil {
		score = *body.Score
	}
	return Verdict{Success: body.Success, Score: score}, nil
}
