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

const sessionColumns = `id, user_id, refresh_token_hash, user_agent, ip, expires_at, created_at, revoked_at, replaced_by_session_id`

// SessionRepository is the refresh-token lineage ledger over user_sessions.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new instance of SessionRepository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session for a freshly minted refresh token and
// returns its id. Only the token hash is stored.
func (r *SessionRepository) Create(ctx context.Context, userID, refreshTokenHash string, meta models.ClientMeta, ttl time.Duration) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	const query = `INSERT INTO user_sessions (id, user_id, refresh_token_hash, user_agent, ip, expires_at, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7)`
	if _, err := r.db.ExecContext(ctx, query, id, userID, refreshTokenHash, meta.UserAgent, meta.IP, now.Add(ttl), now); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

// FindActive returns the non-revoked, non-expired session matching the
// refresh-token hash for a user, or sql.ErrNoRows.
func (r *SessionRepository) FindActive(ctx context.Context, userID, refreshTokenHash string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM user_sessions
		WHERE user_id = $1 AND refresh_token_hash = $2 AND revoked_at IS NULL AND expires_at > $3 LIMIT 1`
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, userID, refreshTokenHash, time.Now().UTC()); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find active session: %w", err)
	}
	return &session, nil
}

// FindByHash returns any session for the hash, revoked or not. Used to tell
// a replayed rotated token apart from a token this ledger never saw.
func (r *SessionRepository) FindByHash(ctx context.Context, refreshTokenHash string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM user_sessions WHERE refresh_token_hash = $1 LIMIT 1`
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, refreshTokenHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find session by hash: %w", err)
	}
	return &session, nil
}

// Rotate atomically creates the successor session, links it from the
// predecessor and revokes the predecessor. The conditional revoke carries
// the concurrent-refresh guarantee: if another request already rotated this
// session the update matches zero rows and the whole transaction rolls back
// with ErrSessionConflict.
func (r *SessionRepository) Rotate(ctx context.Context, oldSessionID, userID, newTokenHash string, meta models.ClientMeta, ttl time.Duration) (string, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin rotate tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	newID := uuid.NewString()
	now := time.Now().UTC()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_sessions (id, user_id, refresh_token_hash, user_agent, ip, expires_at, created_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7)`,
		newID, userID, newTokenHash, meta.UserAgent, meta.IP, now.Add(ttl), now,
	); err != nil {
		return "", fmt.Errorf("insert successor session: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE user_sessions SET revoked_at = $2, replaced_by_session_id = $3 WHERE id = $1 AND revoked_at IS NULL`,
		oldSessionID, now, newID,
	)
	if err != nil {
		return "", fmt.Errorf("revoke predecessor session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("revoke predecessor session: %w", err)
	}
	if affected == 0 {
		return "", ErrSessionConflict
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit rotate tx: %w", err)
	}
	return newID, nil
}

// RevokeByHash revokes the session holding the given refresh-token hash.
// Revoking an already-revoked session is a no-op.
func (r *SessionRepository) RevokeByHash(ctx context.Context, refreshTokenHash string) error {
	const query = `UPDATE user_sessions SET revoked_at = $2 WHERE refresh_token_hash = $1 AND revoked_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, refreshTokenHash, time.Now().UTC()); err != nil {
		return fmt.Errorf("revoke session by hash: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes every active session for a user. Idempotent.
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID string) error {
	const query = `UPDATE user_sessions SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("revoke user sessions: %w", err)
	}
	return nil
}

// RevokeChain revokes the given session and every descendant reachable over
// replaced_by_session_id links. Called when a rotated token is replayed: the
// whole lineage is treated as compromised.
func (r *SessionRepository) RevokeChain(ctx context.Context, sessionID string) error {
	const query = `
		WITH RECURSIVE chain AS (
			SELECT id, replaced_by_session_id FROM user_sessions WHERE id = $1
			UNION ALL
			SELECT s.id, s.replaced_by_session_id
			FROM user_sessions s
			JOIN chain c ON s.id = c.replaced_by_session_id
		)
		UPDATE user_sessions SET revoked_at = $2
		WHERE id IN (SELECT id FROM chain) AND revoked_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, sessionID, time.Now().UTC()); err != nil {
		return fmt.Errorf("revoke session chain: %w", err)
	}
	return nil
}
