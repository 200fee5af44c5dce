package internaldefs

import (
	"github.com/MrEthical07/deskgate"
)

// Flow labels group counters by the exchange that moves them.
const (
	FlowSignIn        = "signin"
	FlowPasswordReset = "password_reset"
	FlowSession       = "session"
	FlowEngine        = "engine"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   deskgate.MetricID
	Name string
	Help string
	Flow string
}

// HistogramDef names one engine latency histogram.
type HistogramDef struct {
	ID   deskgate.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: deskgate.MetricSignInSuccess, Name: "deskgate_signin_success_total", Help: "Sign-ins that produced a session.", Flow: FlowSignIn},
	{ID: deskgate.MetricSignInFailure, Name: "deskgate_signin_failure_total", Help: "Rejected sign-in credential checks.", Flow: FlowSignIn},
	{ID: deskgate.MetricSignInBanned, Name: "deskgate_signin_banned_total", Help: "Sign-ins refused by the sign-in ban ledger.", Flow: FlowSignIn},
	{ID: deskgate.MetricCaptchaPassed, Name: "deskgate_captcha_passed_total", Help: "CAPTCHA proofs accepted.", Flow: FlowSignIn},
	{ID: deskgate.MetricCaptchaFailed, Name: "deskgate_captcha_failed_total", Help: "CAPTCHA proofs rejected.", Flow: FlowSignIn},
	{ID: deskgate.MetricOTPIssued, Name: "deskgate_otp_issued_total", Help: "One-time passcodes issued.", Flow: FlowSignIn},
	{ID: deskgate.MetricOTPVerified, Name: "deskgate_otp_verified_total", Help: "One-time passcodes verified.", Flow: FlowSignIn},
	{ID: deskgate.MetricOTPFailed, Name: "deskgate_otp_failed_total", Help: "One-time passcode mismatches.", Flow: FlowSignIn},
	{ID: deskgate.MetricOTPBanned, Name: "deskgate_otp_banned_total", Help: "Passcode requests refused by a ban.", Flow: FlowSignIn},
	{ID: deskgate.MetricOTPBypass, Name: "deskgate_otp_bypass_total", Help: "Passcode steps satisfied by the admin bypass.", Flow: FlowSignIn},
	{ID: deskgate.MetricOTPDeliveryFailed, Name: "deskgate_otp_delivery_failed_total", Help: "Passcodes that could not be delivered.", Flow: FlowSignIn},
	{ID: deskgate.MetricPasswordRotated, Name: "deskgate_password_rotated_total", Help: "Forced password rotations completed.", Flow: FlowSignIn},
	{ID: deskgate.MetricResetRequested, Name: "deskgate_reset_requested_total", Help: "Password resets initiated.", Flow: FlowPasswordReset},
	{ID: deskgate.MetricResetBanned, Name: "deskgate_reset_banned_total", Help: "Reset requests refused by a ban.", Flow: FlowPasswordReset},
	{ID: deskgate.MetricResetTokenVerified, Name: "deskgate_reset_token_verified_total", Help: "Reset tokens verified.", Flow: FlowPasswordReset},
	{ID: deskgate.MetricResetTokenFailed, Name: "deskgate_reset_token_failed_total", Help: "Reset tokens rejected.", Flow: FlowPasswordReset},
	{ID: deskgate.MetricResetCompleted, Name: "deskgate_reset_completed_total", Help: "Password resets completed.", Flow: FlowPasswordReset},
	{ID: deskgate.MetricResetDeliveryFailed, Name: "deskgate_reset_delivery_failed_total", Help: "Reset tokens that could not be delivered.", Flow: FlowPasswordReset},
	{ID: deskgate.MetricSessionCreated, Name: "deskgate_session_created_total", Help: "Sessions issued.", Flow: FlowSession},
	{ID: deskgate.MetricSessionRefreshed, Name: "deskgate_session_refreshed_total", Help: "Sessions refreshed.", Flow: FlowSession},
	{ID: deskgate.MetricSessionInvalid, Name: "deskgate_session_invalid_total", Help: "Session tokens refused.", Flow: FlowSession},
	{ID: deskgate.MetricSignOut, Name: "deskgate_signout_total", Help: "Single-session sign-outs.", Flow: FlowSession},
	{ID: deskgate.MetricSignOutAll, Name: "deskgate_signout_all_total", Help: "Sign-out-everywhere operations.", Flow: FlowSession},
	{ID: deskgate.MetricInternalError, Name: "deskgate_internal_error_total", Help: "Exchanges collapsed to an internal error.", Flow: FlowEngine},
}

// HistogramDefs lists every exported latency histogram.
var HistogramDefs = []HistogramDef{
	{ID: deskgate.MetricExchangeLatency, Name: "deskgate_exchange_latency_seconds", Help: "Sign-in and reset round-trip latency, enumeration floor included."},
	{ID: deskgate.MetricValidateLatency, Name: "deskgate_validate_latency_seconds", Help: "Session validation latency."},
}

// AuditDroppedName is the counter of audit events lost to backpressure.
const (
	AuditDroppedName = "deskgate_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."
)

// HistogramUpperBounds are the finite bucket bounds in seconds; the last
// engine bucket is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters that
// publish buckets as separate instruments.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the engine's bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
