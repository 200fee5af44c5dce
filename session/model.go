package session

// Session is the server-side record of a minted session token. The token
// is only honoured while its record exists.
type Session struct {
	SessionID string
	UserID    string
	TenantID  string
	CreatedAt int64
	ExpiresAt int64
}
