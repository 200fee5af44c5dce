package flows

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/deskgate/identity"
	"github.com/MrEthical07/deskgate/internal/resetlink"
	"github.com/MrEthical07/deskgate/internal/stores"
	"github.com/MrEthical07/deskgate/progress"
)

// ResetRecords is the server half of issued reset tokens.
type ResetRecords interface {
	Save(ctx context.Context, tenantID string, record *stores.ResetTokenRecord, ttl time.Duration) error
	Verify(ctx context.Context, tenantID, userID string, providedHash [32]byte, maxAttempts int) (*stores.ResetTokenRecord, error)
	Consume(ctx context.Context, tenantID, userID string) (*stores.ResetTokenRecord, error)
}

// ResetSealer seals and opens e-mailed reset tokens.
type ResetSealer interface {
	NewPayload(tenantID string, userID int64, email string, ttl time.Duration) (resetlink.Payload, error)
	Seal(p resetlink.Payload) (string, error)
	Open(token string) (resetlink.Payload, error)
}

// PasswordResetDeps captures password-reset dependencies.
type PasswordResetDeps struct {
	Common

	RequireCaptcha bool
	RequireOTP     bool
	TokenTTL       time.Duration
	MaxAttempts    int

	ResetIssue  Ledger
	ResetVerify Ledger

	Records ResetRecords
	Sealer  ResetSealer

	DeliverResetToken func(ctx context.Context, rec *identity.Record, sealed string)
	SignOutAll        func(ctx context.Context, tenantID string, userID int64) error
}

// RunPasswordReset drives the reset state machine one request forward:
// CAPTCHA, e-mail lookup, optional OTP, e-mailed reset token, new
// password, session.
//
// Until the reset token is proven, an unknown, inactive or locked address
// is answered exactly like a real one and no earlier than the floor.
func RunPasswordReset(ctx context.Context, req Request, deps PasswordResetDeps) (*Outcome, error) {
	start := deps.now()
	subject := Subject(req.TenantID, req.Identifier)
	actor := ActorKey(req.TenantID, req.ClientIP, req.Identifier)
	claims := deps.Progress.Decode(progress.FlowReset, subject, req.Progress)
	out := &Outcome{Progress: progress.Set{}}

	if deps.RequireCaptcha {
		if err := passCaptcha(ctx, &deps.Common, progress.FlowReset, subject, req, claims, out); err != nil {
			return nil, err
		}
	}

	rec, err := lookupResetIdentity(ctx, &deps, req)
	if err != nil {
		return nil, err
	}

	if deps.RequireOTP {
		if err := passOTP(ctx, &deps.Common, progress.FlowReset, subject, actor, rec, req, claims, out); err != nil {
			if errors.Is(err, deps.Errors.SecondFactorRequired) {
				waitFloor(ctx, start, deps.EnumerationDelay, deps.now())
			}
			return out, err
		}
	}

	if !claims.ResetTokenVerified {
		if strings.TrimSpace(req.ResetToken) == "" {
			return out, initiateReset(ctx, &deps, start, actor, rec, req)
		}
		if err := verifyResetToken(ctx, &deps, actor, rec, req); err != nil {
			return out, err
		}
		tok, err := deps.Progress.Issue(progress.FlowReset, progress.StepResetToken, subject)
		if err != nil {
			return nil, fmt.Errorf("issue reset progress: %w", err)
		}
		out.Progress[progress.StepResetToken] = tok
	} else {
		carry(out.Progress, req.Progress, progress.StepResetToken)
	}

	// The reset-token claim can only exist for a real account.
	if rec == nil {
		return nil, deps.Errors.IncorrectResetToken
	}
	if !rec.HasRoles() {
		return nil, deps.Errors.NoRole
	}
	if req.NewPassword == "" {
		return out, deps.Errors.NewPasswordRequired
	}
	if err := deps.Policy.Check(req.NewPassword, rec.Username); err != nil {
		return out, fmt.Errorf("%w: %v", deps.Errors.PolicyViolation, err)
	}

	userKey := strconv.FormatInt(rec.ID, 10)
	if _, err := deps.Records.Consume(ctx, req.TenantID, userKey); err != nil {
		if errors.Is(err, stores.ErrResetNotFound) || errors.Is(err, stores.ErrResetNotVerified) {
			deps.emit(ctx, Event{Name: EventResetTokenFailed, UserID: rec.ID, Reason: "replay"})
			return nil, deps.Errors.IncorrectResetToken
		}
		return nil, err
	}

	hash, err := deps.Hasher.Hash(req.NewPassword)
	if err != nil {
		return nil, fmt.Errorf("hash new password: %w", err)
	}
	if err := deps.Store.UpdatePassword(ctx, rec.ID, hash); err != nil {
		return nil, fmt.Errorf("update password: %w", err)
	}
	if err := deps.Store.SetForcedChangeFlag(ctx, rec.ID, false); err != nil {
		return nil, fmt.Errorf("clear forced change: %w", err)
	}
	rec.PasswordHash = hash
	rec.ForcePasswordChange = false

	if deps.SignOutAll != nil {
		if err := deps.SignOutAll(ctx, req.TenantID, rec.ID); err != nil {
			return nil, fmt.Errorf("revoke sessions: %w", err)
		}
	}

	issued, err := deps.IssueSession(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}

	deps.clearActor(ctx, actor, deps.ResetIssue, deps.ResetVerify, deps.OTPIssue, deps.OTPVerify)

	deps.emit(ctx, Event{Name: EventResetCompleted, Success: true, UserID: rec.ID})
	return &Outcome{Identity: rec, Session: issued}, nil
}

// lookupResetIdentity resolves the address. Anything that cannot complete
// a reset comes back as nil without an error.
func lookupResetIdentity(ctx context.Context, deps *PasswordResetDeps, req Request) (*identity.Record, error) {
	if !identity.IsEmail(req.Identifier) {
		return nil, nil
	}
	rec, err := deps.Store.FindByIdentifier(ctx, req.TenantID, req.Identifier)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find identity: %w", err)
	}
	if !rec.Active || rec.Locked {
		return nil, nil
	}
	return rec, nil
}

func initiateReset(
	ctx context.Context,
	deps *PasswordResetDeps,
	start time.Time,
	actor string,
	rec *identity.Record,
	req Request,
) error {
	banned, err := deps.ResetIssue.IsBanned(ctx, actor)
	if err != nil {
		return err
	}
	if banned {
		deps.emit(ctx, Event{Name: EventResetBanned})
		return deps.Errors.TooManyAttempts
	}
	if _, err := deps.ResetIssue.RecordAttempt(ctx, actor); err != nil {
		return err
	}

	if rec != nil {
		payload, err := deps.Sealer.NewPayload(req.TenantID, rec.ID, rec.Email, deps.TokenTTL)
		if err != nil {
			return fmt.Errorf("reset payload: %w", err)
		}
		sealed, err := deps.Sealer.Seal(payload)
		if err != nil {
			return fmt.Errorf("seal reset token: %w", err)
		}
		record := &stores.ResetTokenRecord{
			UserID:     strconv.FormatInt(rec.ID, 10),
			SecretHash: payload.Hash(),
			ExpiresAt:  payload.ExpiresAt.Unix(),
		}
		if err := deps.Records.Save(ctx, req.TenantID, record, deps.TokenTTL); err != nil {
			return err
		}
		if deps.DeliverResetToken != nil {
			deps.DeliverResetToken(ctx, rec, sealed)
		}
		deps.emit(ctx, Event{Name: EventResetRequested, Success: true, UserID: rec.ID})
	} else {
		deps.emit(ctx, Event{Name: EventResetRequested, Reason: "no_account"})
	}

	waitFloor(ctx, start, deps.EnumerationDelay, deps.now())
	return deps.Errors.TokenForEmailRequired
}

func verifyResetToken(ctx context.Context, deps *PasswordResetDeps, actor string, rec *identity.Record, req Request) error {
	banned, err := deps.ResetVerify.IsBanned(ctx, actor)
	if err != nil {
		return err
	}
	if banned {
		deps.emit(ctx, Event{Name: EventResetBanned})
		return deps.Errors.TooManyAttempts
	}

	fail := func(reason string) error {
		if _, err := deps.ResetVerify.RecordAttempt(ctx, actor); err != nil {
			return err
		}
		var userID int64
		if rec != nil {
			userID = rec.ID
		}
		deps.emit(ctx, Event{Name: EventResetTokenFailed, UserID: userID, Reason: reason})
		return deps.Errors.IncorrectResetToken
	}

	if rec == nil {
		return fail("no_account")
	}
	payload, err := deps.Sealer.Open(req.ResetToken)
	if err != nil {
		return fail("unsealable")
	}
	if payload.UserID != rec.ID || payload.TenantID != req.TenantID || payload.Email != identity.Normalize(rec.Email) {
		return fail("foreign_token")
	}

	_, err = deps.Records.Verify(ctx, req.TenantID, strconv.FormatInt(rec.ID, 10), payload.Hash(), deps.MaxAttempts)
	switch {
	case err == nil:
	case errors.Is(err, stores.ErrResetNotFound),
		errors.Is(err, stores.ErrResetSecretMismatch),
		errors.Is(err, stores.ErrResetAttemptsExceeded):
		return fail("mismatch")
	default:
		return err
	}

	deps.emit(ctx, Event{Name: EventResetTokenVerified, Success: true, UserID: rec.ID})
	return nil
}
