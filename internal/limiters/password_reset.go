package limiters

import "github.com/redis/go-redis/v9"

const (
	defaultResetIssueCeiling  = 5
	defaultResetVerifyCeiling = 5
)

// NewResetIssueLedger counts reset initiations per actor identity, whether
// or not the e-mail belongs to an account.
func NewResetIssueLedger(redisClient redis.UniversalClient, cfg LedgerConfig) *Ledger {
	return newLedger(redisClient, "reset-issue", defaultResetIssueCeiling, cfg)
}

// NewResetVerifyLedger counts rejected reset tokens per actor identity.
func NewResetVerifyLedger(redisClient redis.UniversalClient, cfg LedgerConfig) *Ledger {
	return newLedger(redisClient, "reset-verify", defaultResetVerifyCeiling, cfg)
}
