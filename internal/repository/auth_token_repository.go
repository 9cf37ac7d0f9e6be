package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/inkroom/inkroom-api/internal/models"
)

// AuthTokenRepository is the single-use token ledger over auth_tokens. A
// redemption always lives in the same transaction as its side effect, so a
// token can never be consumed without the account change landing too.
type AuthTokenRepository struct {
	db *sqlx.DB
}

// NewAuthTokenRepository creates a new instance of AuthTokenRepository.
func NewAuthTokenRepository(db *sqlx.DB) *AuthTokenRepository {
	return &AuthTokenRepository{db: db}
}

// issueAuthToken supersedes any live token of the same kind and inserts the
// hashed replacement. Shared with the registration transaction.
func issueAuthToken(ctx context.Context, tx sqlx.ExtContext, userID string, kind models.TokenKind, tokenHash string, now time.Time, ttl time.Duration) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE auth_tokens SET used_at = $3 WHERE user_id = $1 AND token_type = $2 AND used_at IS NULL AND expires_at > $3`,
		userID, kind, now,
	); err != nil {
		return fmt.Errorf("supersede %s tokens: %w", kind, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO auth_tokens (id, user_id, token_type, token_hash, expires_at, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), userID, kind, tokenHash, now.Add(ttl), now,
	); err != nil {
		return fmt.Errorf("insert %s token: %w", kind, err)
	}
	return nil
}

// Issue invalidates any live token of the same kind for the user and inserts
// the new hashed token record, in one transaction.
func (r *AuthTokenRepository) Issue(ctx context.Context, userID string, kind models.TokenKind, tokenHash string, ttl time.Duration) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin issue tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := issueAuthToken(ctx, tx, userID, kind, tokenHash, time.Now().UTC(), ttl); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit issue tx: %w", err)
	}
	return nil
}

// redeemable locks and returns the live token row for the hash and kind, or
// ErrTokenNotFound. Invalid, expired and already-used are indistinguishable
// on purpose.
func redeemable(ctx context.Context, tx *sqlx.Tx, kind models.TokenKind, tokenHash string, now time.Time) (tokenID, userID string, err error) {
	row := struct {
		ID     string `db:"id"`
		UserID string `db:"user_id"`
	}{}
	err = tx.GetContext(ctx, &row,
		`SELECT id, user_id FROM auth_tokens
		 WHERE token_type = $1 AND token_hash = $2 AND used_at IS NULL AND expires_at > $3
		 LIMIT 1 FOR UPDATE`,
		kind, tokenHash, now,
	)
	if err == sql.ErrNoRows {
		return "", "", ErrTokenNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("find redeemable token: %w", err)
	}
	return row.ID, row.UserID, nil
}

// RedeemVerifyEmail consumes a verify_email token and activates the account
// in the same transaction. Verification stamps email_verified_at once; a
// pending account transitions to active.
func (r *AuthTokenRepository) RedeemVerifyEmail(ctx context.Context, tokenHash string) (string, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin verify tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	tokenID, userID, err := redeemable(ctx, tx, models.TokenVerifyEmail, tokenHash, now)
	if err != nil {
		return "", err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE auth_tokens SET used_at = $2 WHERE id = $1`, tokenID, now); err != nil {
		return "", fmt.Errorf("consume verify token: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET email_verified_at = COALESCE(email_verified_at, $2), status = $3, updated_at = $2 WHERE id = $1`,
		userID, now, models.StatusActive,
	); err != nil {
		return "", fmt.Errorf("activate user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit verify tx: %w", err)
	}
	return userID, nil
}

// RedeemPasswordReset consumes a reset_password token, updates the password
// hash and revokes every active session for the user, all in one
// transaction. The session sweep forces re-login everywhere.
func (r *AuthTokenRepository) RedeemPasswordReset(ctx context.Context, tokenHash, newPasswordHash string) (string, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin reset tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	tokenID, userID, err := redeemable(ctx, tx, models.TokenResetPassword, tokenHash, now)
	if err != nil {
		return "", err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE auth_tokens SET used_at = $2 WHERE id = $1`, tokenID, now); err != nil {
		return "", fmt.Errorf("consume reset token: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET password_hash = $2, password_changed_at = $3, updated_at = $3 WHERE id = $1`,
		userID, newPasswordHash, now,
	); err != nil {
		return "", fmt.Errorf("update password: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE user_sessions SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL`,
		userID, now,
	); err != nil {
		return "", fmt.Errorf("revoke sessions after reset: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit reset tx: %w", err)
	}
	return userID, nil
}
