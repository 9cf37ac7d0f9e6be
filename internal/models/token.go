package models

import "time"

// TokenKind discriminates single-use token purposes.
type TokenKind string

const (
	TokenVerifyEmail   TokenKind = "verify_email"
	TokenResetPassword TokenKind = "reset_password"
)

// AuthToken is a single-use action credential tracked by hash. Issuing a new
// token of the same kind marks any live predecessor used, so at most one is
// ever redeemable per (user, kind).
type AuthToken struct {
	ID        string     `db:"id" json:"id"`
	UserID    string     `db:"user_id" json:"user_id"`
	Kind      TokenKind  `db:"token_type" json:"token_type"`
	TokenHash string     `db:"token_hash" json:"-"`
	ExpiresAt time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UsedAt    *time.Time `db:"used_at" json:"used_at,omitempty"`
}
