package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/deskgate/captcha"
	"github.com/MrEthical07/deskgate/identity"
	"github.com/MrEthical07/deskgate/otp"
	"github.com/MrEthical07/deskgate/progress"
)

// SignInDeps captures sign-in dependencies.
type SignInDeps struct {
	Common

	RequireCaptcha bool
	RequireOTP     bool
	UpgradeOnLogin bool

	SignIn Ledger
}

// RunSignIn drives the sign-in state machine one request forward.
//
// Need-more-input and retryable rejections return a non-nil Outcome whose
// Progress the caller must hand back to the client.
func RunSignIn(ctx context.Context, req Request, deps SignInDeps) (*Outcome, error) {
	start := deps.now()
	subject := Subject(req.TenantID, req.Identifier)
	actor := ActorKey(req.TenantID, req.ClientIP, req.Identifier)
	claims := deps.Progress.Decode(progress.FlowSignIn, subject, req.Progress)
	out := &Outcome{Progress: progress.Set{}}

	if deps.RequireCaptcha {
		if err := passCaptcha(ctx, &deps.Common, progress.FlowSignIn, subject, req, claims, out); err != nil {
			return nil, err
		}
	}

	if strings.TrimSpace(req.Identifier) == "" {
		waitFloor(ctx, start, deps.EnumerationDelay, deps.now())
		return out, deps.Errors.IncorrectCredentials
	}

	banned, err := deps.SignIn.IsBanned(ctx, actor)
	if err != nil {
		return nil, err
	}
	if banned {
		deps.emit(ctx, Event{Name: EventSignInBanned})
		return nil, deps.Errors.TooManyAttempts
	}

	rec, err := deps.Store.FindByIdentifier(ctx, req.TenantID, req.Identifier)
	if err != nil && !errors.Is(err, identity.ErrNotFound) {
		return nil, fmt.Errorf("find identity: %w", err)
	}
	if rec == nil || !rec.Active {
		deps.Hasher.VerifyDummy(req.Password)
		return out, rejectCredentials(ctx, &deps, start, actor, rec, "unknown_or_inactive")
	}

	// Administrative lock and missing roles are reported whatever the
	// password; the hash is still exercised so the branch costs the same.
	if rec.Locked {
		deps.Hasher.VerifyDummy(req.Password)
		deps.emit(ctx, Event{Name: EventSignInFailure, UserID: rec.ID, Reason: "locked"})
		return nil, deps.Errors.UserLocked
	}
	if !rec.HasRoles() {
		deps.Hasher.VerifyDummy(req.Password)
		deps.emit(ctx, Event{Name: EventSignInFailure, UserID: rec.ID, Reason: "no_role"})
		return nil, deps.Errors.NoRole
	}

	ok, err := deps.Hasher.Verify(req.Password, rec.PasswordHash)
	if err != nil || !ok {
		return out, rejectCredentials(ctx, &deps, start, actor, rec, "password_mismatch")
	}

	if deps.UpgradeOnLogin {
		upgradeHash(ctx, &deps, rec, req.Password)
	}

	if deps.RequireOTP {
		if err := passOTP(ctx, &deps.Common, progress.FlowSignIn, subject, actor, rec, req, claims, out); err != nil {
			return out, err
		}
	}

	if rec.ForcePasswordChange {
		if req.NewPassword == "" {
			return out, deps.Errors.NewPasswordRequired
		}
		if err := rotatePassword(ctx, &deps.Common, rec, req.NewPassword); err != nil {
			return out, err
		}
	}

	issued, err := deps.IssueSession(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}

	// A fully successful authentication clears every ledger for the actor.
	deps.clearActor(ctx, actor, deps.SignIn, deps.OTPIssue, deps.OTPVerify)

	deps.emit(ctx, Event{Name: EventSignInSuccess, Success: true, UserID: rec.ID})
	return &Outcome{Identity: rec, Session: issued}, nil
}

// rejectCredentials merges unknown identity, inactive account and wrong
// password into one answer that never returns before the floor.
func rejectCredentials(
	ctx context.Context,
	deps *SignInDeps,
	start time.Time,
	actor string,
	rec *identity.Record,
	reason string,
) error {
	var userID int64
	if rec != nil {
		userID = rec.ID
	}
	if _, err := deps.SignIn.RecordAttempt(ctx, actor); err != nil {
		return err
	}
	deps.emit(ctx, Event{Name: EventSignInFailure, UserID: userID, Reason: reason})
	waitFloor(ctx, start, deps.EnumerationDelay, deps.now())
	return deps.Errors.IncorrectCredentials
}

func upgradeHash(ctx context.Context, deps *SignInDeps, rec *identity.Record, password string) {
	needs, err := deps.Hasher.NeedsUpgrade(rec.PasswordHash)
	if err != nil || !needs {
		return
	}
	upgraded, err := deps.Hasher.Hash(password)
	if err != nil {
		deps.warn(ctx, "password hash upgrade generation failed", "user_id", rec.ID)
		return
	}
	// Best-effort: a failed rewrite must not block the sign-in.
	if err := deps.Store.UpdatePassword(ctx, rec.ID, upgraded); err != nil {
		deps.warn(ctx, "password hash upgrade update failed", "user_id", rec.ID, "error", err)
		return
	}
	rec.PasswordHash = upgraded
}

// passCaptcha satisfies the CAPTCHA step, from a valid claim or from the
// proof in the request.
func passCaptcha(
	ctx context.Context,
	deps *Common,
	flow progress.Flow,
	subject string,
	req Request,
	claims progress.Claims,
	out *Outcome,
) error {
	if claims.CaptchaVerified {
		carry(out.Progress, req.Progress, progress.StepCaptcha)
		return nil
	}
	if err := deps.Captcha.Verify(ctx, req.CaptchaProof, req.ClientIP); err != nil {
		if errors.Is(err, captcha.ErrInvalid) {
			deps.emit(ctx, Event{Name: EventCaptchaFailed})
			return deps.Errors.CaptchaInvalid
		}
		return err
	}
	tok, err := deps.Progress.Issue(flow, progress.StepCaptcha, subject)
	if err != nil {
		return fmt.Errorf("issue captcha progress: %w", err)
	}
	out.Progress[progress.StepCaptcha] = tok
	deps.emit(ctx, Event{Name: EventCaptchaPassed, Success: true})
	return nil
}

// passOTP satisfies the second factor. rec may be nil for an identity that
// does not exist; the caller-visible behavior is then the same as for a
// real one whose codes never match.
func passOTP(
	ctx context.Context,
	deps *Common,
	flow progress.Flow,
	subject, actor string,
	rec *identity.Record,
	req Request,
	claims progress.Claims,
	out *Outcome,
) error {
	var userID int64
	if rec != nil {
		userID = rec.ID
	}

	if claims.OTPVerified {
		carry(out.Progress, req.Progress, progress.StepOTP)
		return nil
	}

	banned, err := deps.OTPVerify.IsBanned(ctx, actor)
	if err != nil {
		return err
	}
	if banned {
		deps.emit(ctx, Event{Name: EventOTPBanned, UserID: userID})
		return deps.Errors.MaxOTPAttempts
	}

	code := strings.TrimSpace(req.OTPCode)
	if code == "" {
		return issueOTP(ctx, deps, actor, rec)
	}

	var (
		ok       bool
		codeLeft = -1 // attempts left on the live code; -1 when none is live
	)
	if rec != nil && deps.isUnconditionalOTPBypass(rec, code) {
		ok = true
		deps.emit(ctx, Event{Name: EventOTPBypass, Success: true, UserID: userID})
	} else if rec != nil {
		res, err := deps.OTP.Validate(ctx, actor, code)
		switch {
		case errors.Is(err, otp.ErrNoLiveCode):
		case err != nil:
			return err
		default:
			ok = res.OK
			codeLeft = res.Remaining
		}
	}

	if !ok {
		remaining, err := deps.OTPVerify.RecordAttempt(ctx, actor)
		if err != nil {
			return err
		}
		// The code and the ledger keep separate budgets; report the tighter.
		if codeLeft >= 0 && codeLeft < remaining {
			remaining = codeLeft
		}
		deps.emit(ctx, Event{Name: EventOTPFailed, UserID: userID})
		if remaining <= 0 {
			if err := deps.OTP.Invalidate(ctx, actor); err != nil {
				return err
			}
			return deps.Errors.MaxOTPAttempts
		}
		return deps.Errors.IncorrectOTP(remaining)
	}

	tok, err := deps.Progress.Issue(flow, progress.StepOTP, subject)
	if err != nil {
		return fmt.Errorf("issue otp progress: %w", err)
	}
	out.Progress[progress.StepOTP] = tok
	deps.emit(ctx, Event{Name: EventOTPVerified, Success: true, UserID: userID})
	return nil
}

func issueOTP(ctx context.Context, deps *Common, actor string, rec *identity.Record) error {
	banned, err := deps.OTPIssue.IsBanned(ctx, actor)
	if err != nil {
		return err
	}
	if banned {
		deps.emit(ctx, Event{Name: EventOTPBanned})
		return deps.Errors.MaxOTPAttempts
	}
	if _, err := deps.OTPIssue.RecordAttempt(ctx, actor); err != nil {
		return err
	}
	if rec == nil {
		return deps.Errors.SecondFactorRequired
	}

	var secret string
	if rec.MFASecret != nil {
		secret = *rec.MFASecret
	}
	code, err := deps.OTP.Issue(ctx, actor, secret)
	if err != nil {
		return fmt.Errorf("issue otp: %w", err)
	}
	if deps.DeliverOTP != nil {
		deps.DeliverOTP(ctx, rec, code)
	}
	deps.emit(ctx, Event{Name: EventOTPIssued, Success: true, UserID: rec.ID})
	return deps.Errors.SecondFactorRequired
}

// isUnconditionalOTPBypass is the single super-user escape hatch: the
// "admin" account accepts any numeric code of the configured length.
func (c *Common) isUnconditionalOTPBypass(rec *identity.Record, code string) bool {
	if !c.AllowAdminBypass || rec == nil || !strings.EqualFold(rec.Username, "admin") {
		return false
	}
	if len(code) != c.OTPDigits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// rotatePassword enforces the policy, rewrites the hash and clears the
// forced-change flag.
func rotatePassword(ctx context.Context, deps *Common, rec *identity.Record, candidate string) error {
	if err := deps.Policy.Check(candidate, rec.Username); err != nil {
		return fmt.Errorf("%w: %v", deps.Errors.PolicyViolation, err)
	}
	if same, err := deps.Hasher.Verify(candidate, rec.PasswordHash); err == nil && same {
		return fmt.Errorf("%w: new password must differ from the current one", deps.Errors.PolicyViolation)
	}
	hash, err := deps.Hasher.Hash(candidate)
	if err != nil {
		return fmt.Errorf("hash new password: %w", err)
	}
	if err := deps.Store.UpdatePassword(ctx, rec.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := deps.Store.SetForcedChangeFlag(ctx, rec.ID, false); err != nil {
		return fmt.Errorf("clear forced change: %w", err)
	}
	rec.PasswordHash = hash
	rec.ForcePasswordChange = false
	deps.emit(ctx, Event{Name: EventPasswordRotated, Success: true, UserID: rec.ID})
	return nil
}
