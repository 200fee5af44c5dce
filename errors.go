package deskgate

import (
	"errors"
	"fmt"
)

// Kind is the client-visible classification of a rejected or incomplete
// credential exchange.
type Kind string

const (
	KindIncorrectUsernameOrPassword     Kind = "IncorrectUsernameOrPassword"
	KindUserIsLocked                    Kind = "UserIsLocked"
	KindNoRoleAssignedToUser            Kind = "NoRoleAssignedToUser"
	KindSecondFactorRequired            Kind = "SecondFactorRequired"
	KindNewPasswordRequired             Kind = "NewPasswordRequired"
	KindTokenForEmailRequired           Kind = "TokenForEmailRequired"
	KindIncorrectTwoFactorCode          Kind = "IncorrectTwoFactorCode"
	KindMaxOtpAttemptsReached           Kind = "MaxOtpAttemptsReached"
	KindCaptchaInvalid                  Kind = "CaptchaInvalid"
	KindIncorrectPassResetTokenProvided Kind = "IncorrectPassResetTokenProvided"
	KindInternalServerError             Kind = "InternalServerError"
	KindTooManyAttempts                 Kind = "TooManyAttempts"
	KindPasswordPolicyViolation         Kind = "PasswordPolicyViolation"
	KindSessionInvalid                  Kind = "SessionInvalid"
)

// ResetRequestedMessage is returned for every reset request, whether or not
// the address belongs to an account.
const ResetRequestedMessage = "if an account exists for this e-mail you will receive further instructions"

// Error is a classified engine error. Two Errors match under errors.Is when
// their kinds are equal.
type Error struct {
	Kind      Kind
	Message   string
	Remaining int

	cause error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// NeedsInput reports whether the exchange is incomplete rather than
// rejected: the client should collect the next proof and resubmit with the
// returned progress tokens.
func (e *Error) NeedsInput() bool {
	if e == nil {
		return false
	}
	switch e.Kind {
	case KindSecondFactorRequired, KindNewPasswordRequired, KindTokenForEmailRequired:
		return true
	}
	return false
}

var (
	ErrIncorrectUsernameOrPassword = &Error{Kind: KindIncorrectUsernameOrPassword, Message: "incorrect username or password"}
	ErrUserIsLocked                = &Error{Kind: KindUserIsLocked, Message: "user is locked"}
	ErrNoRoleAssignedToUser        = &Error{Kind: KindNoRoleAssignedToUser, Message: "no role assigned to user"}
	ErrSecondFactorRequired        = &Error{Kind: KindSecondFactorRequired, Message: "a one-time passcode has been sent"}
	ErrNewPasswordRequired         = &Error{Kind: KindNewPasswordRequired, Message: "a new password is required"}
	ErrTokenForEmailRequired       = &Error{Kind: KindTokenForEmailRequired, Message: ResetRequestedMessage}
	ErrIncorrectTwoFactorCode      = &Error{Kind: KindIncorrectTwoFactorCode, Message: "incorrect one-time passcode"}
	ErrMaxOtpAttemptsReached       = &Error{Kind: KindMaxOtpAttemptsReached, Message: "maximum one-time passcode attempts reached"}
	ErrCaptchaInvalid              = &Error{Kind: KindCaptchaInvalid, Message: "captcha verification failed"}
	ErrIncorrectPassResetToken     = &Error{Kind: KindIncorrectPassResetTokenProvided, Message: "incorrect password reset token"}
	ErrInternalServerError         = &Error{Kind: KindInternalServerError, Message: "internal server error"}
	ErrTooManyAttempts             = &Error{Kind: KindTooManyAttempts, Message: "too many attempts, try again later"}
	ErrPasswordPolicyViolation     = &Error{Kind: KindPasswordPolicyViolation, Message: "new password does not meet the password policy"}
	ErrSessionInvalid              = &Error{Kind: KindSessionInvalid, Message: "session is invalid or expired"}

	// ErrEngineNotReady is returned by a nil or partially built Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrMissingRedis is returned by Build when no Redis client was set.
	ErrMissingRedis = errors.New("redis client is required")
	// ErrMissingCredentialStore is returned by Build when no store was set.
	ErrMissingCredentialStore = errors.New("credential store is required")
	// ErrMissingCaptcha is returned by Build when CAPTCHA is required but no
	// verifier was set.
	ErrMissingCaptcha = errors.New("captcha verifier is required")
	// ErrBuilderUsed is returned by a second Build call.
	ErrBuilderUsed = errors.New("builder already used")
)

// incorrectTwoFactorCode carries the verification attempts left.
func incorrectTwoFactorCode(remaining int) error {
	return &Error{
		Kind:      KindIncorrectTwoFactorCode,
		Message:   fmt.Sprintf("incorrect one-time passcode, %d attempts remaining", remaining),
		Remaining: remaining,
	}
}

// surfaced lists every kind allowed past the classification boundary.
var surfaced = map[Kind]bool{
	KindIncorrectUsernameOrPassword:     true,
	KindUserIsLocked:                    true,
	KindNoRoleAssignedToUser:            true,
	KindSecondFactorRequired:            true,
	KindNewPasswordRequired:             true,
	KindTokenForEmailRequired:           true,
	KindIncorrectTwoFactorCode:          true,
	KindMaxOtpAttemptsReached:           true,
	KindCaptchaInvalid:                  true,
	KindIncorrectPassResetTokenProvided: true,
	KindTooManyAttempts:                 true,
	KindPasswordPolicyViolation:         true,
	KindSessionInvalid:                  true,
}

// Classify returns the client-visible form of err: an allow-listed *Error
// is returned unchanged (a wrapping detail becomes its cause), anything else
// becomes ErrInternalServerError. Classify(nil) is nil.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if !errors.As(err, &e) || !surfaced[e.Kind] {
		return ErrInternalServerError
	}
	if e == err {
		return e
	}
	// A wrapped taxonomy error keeps its kind and generic message. Policy
	// violations also name the rule that failed.
	out := *e
	out.cause = err
	if e.Kind == KindPasswordPolicyViolation {
		out.Message = err.Error()
	}
	return &out
}
