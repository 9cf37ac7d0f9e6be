package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/inkroom/inkroom-api/internal/models"
)

// Sentinel errors surfaced to the service layer.
var (
	// ErrDuplicateEmail means the normalized email is already claimed by an
	// active or verified account.
	ErrDuplicateEmail = errors.New("repository: email already in use")
	// ErrTokenNotFound folds invalid, expired and already-used single-use
	// tokens into one outcome on purpose.
	ErrTokenNotFound = errors.New("repository: token not found")
	// ErrSessionConflict means a rotation lost the race: the predecessor was
	// already revoked by a concurrent refresh.
	ErrSessionConflict = errors.New("repository: session already revoked")
)

const userColumns = `id, email, email_normalized, password_hash, status, role,
	account_type, first_name, last_name, display_name, username,
	organization_name, profession, avatar_url, bio, website, locale, timezone,
	marketing_opt_in, terms_accepted_at,
	email_verified_at, last_login_at, password_changed_at, deleted_at,
	created_at, updated_at`

// UserRepository provides database access for identity records.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByEmail returns a non-deleted user by normalized email, with role
// assignments loaded.
func (r *UserRepository) FindByEmail(ctx context.Context, emailNormalized string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email_normalized = $1 AND deleted_at IS NULL LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, emailNormalized); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	if err := r.loadRoles(ctx, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByID returns a non-deleted user by identifier, with role assignments
// loaded.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND deleted_at IS NULL LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	if err := r.loadRoles(ctx, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) loadRoles(ctx context.Context, user *models.User) error {
	const query = `SELECT r.slug FROM user_roles ur JOIN roles r ON r.id = ur.role_id WHERE ur.user_id = $1 ORDER BY ur.assigned_at ASC`
	var roles []models.Role
	if err := r.db.SelectContext(ctx, &roles, query, user.ID); err != nil {
		return fmt.Errorf("load user roles: %w", err)
	}
	user.Roles = roles
	return nil
}

// UpdateLastLogin stamps the last_login_at timestamp for a user.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE users SET last_login_at = $2, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// RegisterPending creates or refreshes a pending registration in one
// transaction: upsert the pending user row, assign the default role,
// supersede any live verify_email token, and insert the hashed replacement.
// Absent profile fields never overwrite values a previous attempt recorded.
// Returns the user id the verification token belongs to.
func (r *UserRepository) RegisterPending(ctx context.Context, req models.RegisterRequest, emailNormalized, passwordHash, tokenHash string, tokenTTL time.Duration) (string, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin register tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var roleID string
	if err := tx.GetContext(ctx, &roleID, `SELECT id FROM roles WHERE slug = $1 LIMIT 1`, models.RoleUser); err != nil {
		return "", fmt.Errorf("find default role: %w", err)
	}

	now := time.Now().UTC()

	var existing struct {
		ID              string       `db:"id"`
		Status          string       `db:"status"`
		EmailVerifiedAt sql.NullTime `db:"email_verified_at"`
	}
	err = tx.GetContext(ctx, &existing,
		`SELECT id, status, email_verified_at FROM users WHERE email_normalized = $1 AND deleted_at IS NULL LIMIT 1 FOR UPDATE`,
		emailNormalized)

	var userID string
	switch {
	case err == nil:
		if existing.Status == string(models.StatusActive) || existing.EmailVerifiedAt.Valid {
			return "", ErrDuplicateEmail
		}
		userID = existing.ID
		if _, err := tx.ExecContext(ctx, `
			UPDATE users SET
				password_hash = $2,
				account_type = COALESCE($3, account_type),
				first_name = COALESCE($4, first_name),
				last_name = COALESCE($5, last_name),
				display_name = COALESCE($6, display_name),
				username = COALESCE($7, username),
				organization_name = COALESCE($8, organization_name),
				profession = COALESCE($9, profession),
				avatar_url = COALESCE($10, avatar_url),
				bio = COALESCE($11, bio),
				website = COALESCE($12, website),
				locale = COALESCE($13, locale),
				timezone = COALESCE($14, timezone),
				marketing_opt_in = COALESCE($15, marketing_opt_in),
				terms_accepted_at = CASE WHEN $16 AND terms_accepted_at IS NULL THEN $17 ELSE terms_accepted_at END,
				updated_at = $17
			WHERE id = $1`,
			userID, passwordHash,
			req.AccountType, req.FirstName, req.LastName, req.DisplayName, req.Username,
			req.OrganizationName, req.Profession, req.AvatarURL, req.Bio, req.Website,
			req.Locale, req.Timezone, req.MarketingOptIn,
			req.TermsAccepted != nil && *req.TermsAccepted, now,
		); err != nil {
			return "", fmt.Errorf("refresh pending user: %w", err)
		}
	case err == sql.ErrNoRows:
		userID = uuid.NewString()
		accountType := models.AccountIndividual
		if req.AccountType != nil {
			accountType = models.AccountType(*req.AccountType)
		}
		marketing := req.MarketingOptIn != nil && *req.MarketingOptIn
		var termsAt *time.Time
		if req.TermsAccepted != nil && *req.TermsAccepted {
			termsAt = &now
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO users (
				id, email, email_normalized, password_hash, status, role,
				account_type, first_name, last_name, display_name, username,
				organization_name, profession, avatar_url, bio, website,
				locale, timezone, marketing_opt_in, terms_accepted_at,
				created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $21)`,
			userID, req.Email, emailNormalized, passwordHash, models.StatusPending, models.RoleUser,
			accountType, req.FirstName, req.LastName, req.DisplayName, req.Username,
			req.OrganizationName, req.Profession, req.AvatarURL, req.Bio, req.Website,
			req.Locale, req.Timezone, marketing, termsAt, now,
		); err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
				return "", ErrDuplicateEmail
			}
			return "", fmt.Errorf("insert pending user: %w", err)
		}
	default:
		return "", fmt.Errorf("find existing registration: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_roles (user_id, role_id, assigned_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		userID, roleID, now,
	); err != nil {
		return "", fmt.Errorf("assign default role: %w", err)
	}

	if err := issueAuthToken(ctx, tx, userID, models.TokenVerifyEmail, tokenHash, now, tokenTTL); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit register tx: %w", err)
	}
	return userID, nil
}

// CreateAuditLog stores an audit trail entry.
func (r *UserRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, details, ip_address, user_agent, created_at)
		VALUES (:id, :user_id, :action, :resource, :resource_id, :details, :ip_address, :user_agent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}
