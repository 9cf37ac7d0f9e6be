package models

import "time"

// Session is one link in a refresh-token lineage. Only the SHA-256 hash of
// the refresh token is stored; a leaked snapshot of the table yields nothing
// replayable. ReplacedBySessionID points at the successor created by
// rotation, which lets a replayed-token event revoke every descendant.
type Session struct {
	ID                  string     `db:"id" json:"id"`
	UserID              string     `db:"user_id" json:"user_id"`
	RefreshTokenHash    string     `db:"refresh_token_hash" json:"-"`
	UserAgent           *string    `db:"user_agent" json:"user_agent,omitempty"`
	IP                  *string    `db:"ip" json:"ip,omitempty"`
	ExpiresAt           time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	RevokedAt           *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	ReplacedBySessionID *string    `db:"replaced_by_session_id" json:"-"`
}

// Active reports whether the session can still validate a refresh.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// ClientMeta carries per-request client details recorded for audit.
type ClientMeta struct {
	IP        string
	UserAgent string
}
