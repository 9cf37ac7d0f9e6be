package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RegisterRequest holds the registration payload. Everything beyond email
// and password is an optional profile field; absent fields never overwrite
// an existing pending row.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`

	AccountType      *string `json:"account_type" validate:"omitempty,oneof=individual pro"`
	FirstName        *string `json:"first_name" validate:"omitempty,max=120"`
	LastName         *string `json:"last_name" validate:"omitempty,max=120"`
	DisplayName      *string `json:"display_name" validate:"omitempty,max=120"`
	Username         *string `json:"username" validate:"omitempty,max=64"`
	OrganizationName *string `json:"organization_name" validate:"omitempty,max=180"`
	Profession       *string `json:"profession" validate:"omitempty,max=120"`
	AvatarURL        *string `json:"avatar_url" validate:"omitempty,max=512"`
	Bio              *string `json:"bio" validate:"omitempty,max=20000"`
	Website          *string `json:"website" validate:"omitempty,max=255"`
	Locale           *string `json:"locale" validate:"omitempty,max=10"`
	Timezone         *string `json:"timezone" validate:"omitempty,max=64"`
	MarketingOptIn   *bool   `json:"marketing_opt_in"`
	TermsAccepted    *bool   `json:"terms_accepted"`
}

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// EmailRequest is the shared anti-enumeration payload for the
// forgot-password and resend-verify endpoints.
type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest completes the reset flow.
type ResetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
}

// TokenPair is the freshly minted credential pair a successful login or
// rotation hands back to the transport layer.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
}

// UserProfile is the /auth/me projection of a user.
type UserProfile struct {
	ID               string        `json:"id"`
	Email            string        `json:"email"`
	DisplayName      *string       `json:"display_name"`
	Username         *string       `json:"username"`
	Status           AccountStatus `json:"status"`
	EmailVerifiedAt  *time.Time    `json:"email_verified_at"`
	AccountType      AccountType   `json:"account_type"`
	FirstName        *string       `json:"first_name"`
	LastName         *string       `json:"last_name"`
	OrganizationName *string       `json:"organization_name"`
	Profession       *string       `json:"profession"`
	AvatarURL        *string       `json:"avatar_url"`
	Bio              *string       `json:"bio"`
	Website          *string       `json:"website"`
	Locale           *string       `json:"locale"`
	Timezone         *string       `json:"timezone"`
	PrimaryRole      Role          `json:"primary_role"`
	Roles            []Role        `json:"roles"`
}

// ProfileFromUser builds the /auth/me projection.
func ProfileFromUser(u *User) *UserProfile {
	roles := u.Roles
	if len(roles) == 0 && u.LegacyRole != "" {
		roles = []Role{u.LegacyRole}
	}
	if roles == nil {
		roles = []Role{}
	}
	return &UserProfile{
		ID:               u.ID,
		Email:            u.Email,
		DisplayName:      u.DisplayName,
		Username:         u.Username,
		Status:           u.Status,
		EmailVerifiedAt:  u.EmailVerifiedAt,
		AccountType:      u.AccountType,
		FirstName:        u.FirstName,
		LastName:         u.LastName,
		OrganizationName: u.OrganizationName,
		Profession:       u.Profession,
		AvatarURL:        u.AvatarURL,
		Bio:              u.Bio,
		Website:          u.Website,
		Locale:           u.Locale,
		Timezone:         u.Timezone,
		PrimaryRole:      ResolvePrimaryRole(u.Roles, u.LegacyRole),
		Roles:            roles,
	}
}

// TokenType discriminates access from refresh tokens inside the JWT payload
// so one can never be substituted for the other.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// AccessClaims is the JWT payload. Access tokens carry the primary role so
// authorization decisions avoid a store round-trip; refresh tokens carry the
// subject only and their role field is never trusted.
type AccessClaims struct {
	Role      Role      `json:"role,omitempty"`
	TokenType TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// UserID returns the token subject.
func (c *AccessClaims) UserID() string {
	return c.Subject
}
