package security

import "time"

type PasswordReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Report summarises which protections are active.
type Report struct {
	ProductionMode       bool
	SigningAlgorithm     string
	SessionTTL           time.Duration
	RefreshAfter         time.Duration
	Argon2               PasswordReport
	SignInCaptcha        bool
	SignInSecondFactor   bool
	ResetCaptcha         bool
	ResetSecondFactor    bool
	PasswordResetActive  bool
	AdminBypassReachable bool
	EnumerationDelay     time.Duration
	RateLimitingActive   bool
	StrictestCeiling     int
	AuditActive          bool
}

type ReportInput struct {
	ProductionMode   bool
	SigningAlgorithm string
	SessionTTL       time.Duration
	RefreshAfter     time.Duration
	Password         PasswordReport
	SignInCaptcha    bool
	SignInOTP        bool
	ResetEnabled     bool
	ResetCaptcha     bool
	ResetOTP         bool
	AllowAdminBypass bool
	EnumerationDelay time.Duration
	LedgerCeilings   []int
	AuditEnabled     bool
}

func BuildReport(input ReportInput) Report {
	strictest := 0
	for _, c := range input.LedgerCeilings {
		if c > 0 && (strictest == 0 || c < strictest) {
			strictest = c
		}
	}
	resetOTP := input.ResetEnabled && input.ResetOTP

	return Report{
		ProductionMode:       input.ProductionMode,
		SigningAlgorithm:     input.SigningAlgorithm,
		SessionTTL:           input.SessionTTL,
		RefreshAfter:         input.RefreshAfter,
		Argon2:               input.Password,
		SignInCaptcha:        input.SignInCaptcha,
		SignInSecondFactor:   input.SignInOTP,
		ResetCaptcha:         input.ResetEnabled && input.ResetCaptcha,
		ResetSecondFactor:    resetOTP,
		PasswordResetActive:  input.ResetEnabled,
		AdminBypassReachable: input.AllowAdminBypass && (input.SignInOTP || resetOTP),
		EnumerationDelay:     input.EnumerationDelay,
		RateLimitingActive:   strictest > 0,
		StrictestCeiling:     strictest,
		AuditActive:          input.AuditEnabled,
	}
}
