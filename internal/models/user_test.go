package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "user@example.com", NormalizeEmail("  User@Example.COM "))
	assert.Equal(t, "a+tag@b.fr", NormalizeEmail("A+Tag@B.fr"))
	assert.Empty(t, NormalizeEmail(""))
	assert.Empty(t, NormalizeEmail("   "))
	assert.Empty(t, NormalizeEmail("not-an-email"))
}

func TestResolvePrimaryRole(t *testing.T) {
	cases := []struct {
		name     string
		assigned []Role
		legacy   Role
		want     Role
	}{
		{"admin wins over everything", []Role{RoleUser, RoleEditor, RoleAdmin}, RoleUser, RoleAdmin},
		{"editor wins over plain assignments", []Role{RoleUser, RoleEditor}, RoleAdmin, RoleEditor},
		{"first assignment otherwise", []Role{RoleUser}, RoleEditor, RoleUser},
		{"legacy column when nothing assigned", nil, RoleEditor, RoleEditor},
		{"user as final fallback", nil, "", RoleUser},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ResolvePrimaryRole(tc.assigned, tc.legacy))
		})
	}
}

func TestUserVerified(t *testing.T) {
	now := time.Now()
	assert.False(t, (&User{}).Verified())
	assert.True(t, (&User{EmailVerifiedAt: &now}).Verified())
}

func TestSessionActive(t *testing.T) {
	now := time.Now().UTC()
	live := Session{ExpiresAt: now.Add(time.Hour)}
	assert.True(t, live.Active(now))

	expired := Session{ExpiresAt: now.Add(-time.Minute)}
	assert.False(t, expired.Active(now))

	revoked := Session{ExpiresAt: now.Add(time.Hour), RevokedAt: &now}
	assert.False(t, revoked.Active(now))
}
