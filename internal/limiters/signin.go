package limiters

import "github.com/redis/go-redis/v9"

const defaultSignInCeiling = 5

// NewSignInLedger counts failed password checks per actor identity.
func NewSignInLedger(redisClient redis.UniversalClient, cfg LedgerConfig) *Ledger {
	return newLedger(redisClient, "signin", defaultSignInCeiling, cfg)
}
