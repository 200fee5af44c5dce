package deskgate

import "github.com/MrEthical07/deskgate/internal/security"

// SecurityReport summarises the protections the engine runs with.
type SecurityReport = security.Report

// SecurityReport derives the report from the engine's configuration.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	c := e.config
	return security.BuildReport(security.ReportInput{
		ProductionMode:   c.Security.ProductionMode,
		SigningAlgorithm: c.Session.SigningMethod,
		SessionTTL:       c.Session.TTL,
		RefreshAfter:     c.Session.RefreshAfter,
		Password: security.PasswordReport{
			Memory:      c.Password.Memory,
			Time:        c.Password.Time,
			Parallelism: c.Password.Parallelism,
			SaltLength:  c.Password.SaltLength,
			KeyLength:   c.Password.KeyLength,
		},
		SignInCaptcha:    c.SignIn.RequireCaptcha,
		SignInOTP:        c.SignIn.RequireOTP,
		ResetEnabled:     c.PasswordReset.Enabled,
		ResetCaptcha:     c.PasswordReset.RequireCaptcha,
		ResetOTP:         c.PasswordReset.RequireOTP,
		AllowAdminBypass: c.OTP.AllowAdminBypass,
		EnumerationDelay: c.Security.EnumerationDelay,
		LedgerCeilings: []int{
			c.RateLimit.OTPIssue.Ceiling,
			c.RateLimit.OTPVerify.Ceiling,
			c.RateLimit.ResetIssue.Ceiling,
			c.RateLimit.ResetVerify.Ceiling,
			c.RateLimit.SignIn.Ceiling,
		},
		AuditEnabled: c.Audit.Enabled,
	})
}
