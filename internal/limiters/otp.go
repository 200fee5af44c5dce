package limiters

import "github.com/redis/go-redis/v9"

const (
	defaultOTPIssueCeiling  = 3
	defaultOTPVerifyCeiling = 3
)

// NewOTPIssueLedger counts passcode issuance per actor identity.
// Zero-value fields fall back to 3 issues / 300s ban.
func NewOTPIssueLedger(redisClient redis.UniversalClient, cfg LedgerConfig) *Ledger {
	return newLedger(redisClient, "otp-issue", defaultOTPIssueCeiling, cfg)
}

// NewOTPVerifyLedger counts failed passcode validations per actor identity.
// Zero-value fields fall back to 3 failures / 300s ban.
func NewOTPVerifyLedger(redisClient redis.UniversalClient, cfg LedgerConfig) *Ledger {
	return newLedger(redisClient, "otp-verify", defaultOTPVerifyCeiling, cfg)
}
