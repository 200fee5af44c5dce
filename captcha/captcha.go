// Package captcha verifies CAPTCHA proofs against an external trust
// scoring service and applies the portal's score threshold.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalid means the proof was empty, rejected, or scored below threshold.
	ErrInvalid = errors.New("captcha invalid")
	// ErrUnavailable means the scoring service failed or timed out.
	ErrUnavailable = errors.New("captcha service unavailable")
)

// Verdict is the raw answer of a scoring service.
type Verdict struct {
	Success bool
	Score   float64
}

// Scorer calls a trust-scoring service.
type Scorer interface {
	Score(ctx context.Context, proof, remoteIP string) (Verdict, error)
}

// Verifier applies a threshold to a Scorer.
type Verifier struct {
	scorer    Scorer
	threshold float64
}

// NewVerifier rejects thresholds outside [0, 1].
func NewVerifier(scorer Scorer, threshold float64) (*Verifier, error) {
	if scorer == nil {
		return nil, errors.New("captcha scorer required")
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("captcha threshold must be within [0,1], got %v", threshold)
	}
	return &Verifier{scorer: scorer, threshold: threshold}, nil
}

// Verify returns nil when proof passes. Service failures, including
// context deadlines, are ErrUnavailable and never ErrInvalid.
func (v *Verifier) Verify(ctx context.Context, proof, remoteIP string) error {
	if strings.TrimSpace(proof) == "" {
		return ErrInvalid
	}
	verdict, err := v.scorer.Score(ctx, proof, remoteIP)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !verdict.Success || verdict.Score < v.threshold {
		return ErrInvalid
	}
	return nil
}

// Static is a Scorer that returns a fixed verdict for every non-empty
// proof except Reject. Meant for development and tests.
type Static struct {
	Value  float64
	Reject string
}

func (s Static) Score(_ context.Context, proof, _ string) (Verdict, error) {
	if proof == s.Reject {
		return Verdict{Success: false}, nil
	}
	return Verdict{Success: true, Score: s.Value}, nil
}
