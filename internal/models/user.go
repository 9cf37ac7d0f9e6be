package models

import (
	"strings"
	"time"
)

// Role is the fixed role vocabulary. user_roles rows are the canonical
// source; the users.role column survives only as a legacy fallback.
type Role string

const (
	RoleUser   Role = "user"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

// AccountStatus tracks the user lifecycle. A user is created pending and
// becomes active exactly once, on email verification.
type AccountStatus string

const (
	StatusPending  AccountStatus = "pending"
	StatusActive   AccountStatus = "active"
	StatusArchived AccountStatus = "archived"
)

// AccountType distinguishes individual writers from professional accounts.
type AccountType string

const (
	AccountIndividual AccountType = "individual"
	AccountPro        AccountType = "pro"
)

// User represents an identity record in the users table. EmailNormalized is
// the unique lookup key among non-deleted users; rows are soft-deleted only.
type User struct {
	ID              string        `db:"id" json:"id"`
	Email           string        `db:"email" json:"email"`
	EmailNormalized string        `db:"email_normalized" json:"-"`
	PasswordHash    string        `db:"password_hash" json:"-"`
	Status          AccountStatus `db:"status" json:"status"`
	LegacyRole      Role          `db:"role" json:"-"`

	AccountType      AccountType `db:"account_type" json:"account_type"`
	FirstName        *string     `db:"first_name" json:"first_name,omitempty"`
	LastName         *string     `db:"last_name" json:"last_name,omitempty"`
	DisplayName      *string     `db:"display_name" json:"display_name,omitempty"`
	Username         *string     `db:"username" json:"username,omitempty"`
	OrganizationName *string     `db:"organization_name" json:"organization_name,omitempty"`
	Profession       *string     `db:"profession" json:"profession,omitempty"`
	AvatarURL        *string     `db:"avatar_url" json:"avatar_url,omitempty"`
	Bio              *string     `db:"bio" json:"bio,omitempty"`
	Website          *string     `db:"website" json:"website,omitempty"`
	Locale           *string     `db:"locale" json:"locale,omitempty"`
	Timezone         *string     `db:"timezone" json:"timezone,omitempty"`
	MarketingOptIn   bool        `db:"marketing_opt_in" json:"-"`
	TermsAcceptedAt  *time.Time  `db:"terms_accepted_at" json:"-"`

	EmailVerifiedAt   *time.Time `db:"email_verified_at" json:"email_verified_at,omitempty"`
	LastLoginAt       *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	PasswordChangedAt *time.Time `db:"password_changed_at" json:"-"`
	DeletedAt         *time.Time `db:"deleted_at" json:"-"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`

	// Roles is the user_roles assignment set, loaded alongside the row.
	Roles []Role `db:"-" json:"roles"`
}

// Verified reports whether the account has completed email verification.
func (u *User) Verified() bool {
	return u.EmailVerifiedAt != nil
}

// PrimaryRole resolves the role embedded in access tokens.
func (u *User) PrimaryRole() Role {
	return ResolvePrimaryRole(u.Roles, u.LegacyRole)
}

// NormalizeEmail folds an address into the canonical lookup form. It returns
// an empty string when the input cannot possibly be an email address.
func NormalizeEmail(email string) string {
	e := strings.ToLower(strings.TrimSpace(email))
	if e == "" || !strings.Contains(e, "@") {
		return ""
	}
	return e
}

// ResolvePrimaryRole picks a single authorization role from the assignment
// set, falling back to the legacy enum column when no assignment exists.
// Precedence: admin > editor > first assigned > legacy > user.
func ResolvePrimaryRole(assigned []Role, legacy Role) Role {
	for _, r := range assigned {
		if r == RoleAdmin {
			return RoleAdmin
		}
	}
	for _, r := range assigned {
		if r == RoleEditor {
			return RoleEditor
		}
	}
	if len(assigned) > 0 {
		return assigned[0]
	}
	if legacy != "" {
		return legacy
	}
	return RoleUser
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
