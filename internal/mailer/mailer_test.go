package mailer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMessageForLocaleFallback(t *testing.T) {
	assert.Equal(t, "Password reset", messageFor(KindResetPassword, "en").subject)
	assert.Equal(t, "Password reset", messageFor(KindResetPassword, "en-US").subject)
	assert.Equal(t, "Réinitialisation du mot de passe", messageFor(KindResetPassword, "fr").subject)
	assert.Equal(t, "Réinitialisation du mot de passe", messageFor(KindResetPassword, "").subject)
	assert.Equal(t, "Réinitialisation du mot de passe", messageFor(KindResetPassword, "de").subject)
}

func TestActionURL(t *testing.T) {
	m := messageFor(KindVerifyEmail, "fr")
	url := actionURL("https://app.example.com", m, "raw-token-123")
	assert.Equal(t, "https://app.example.com/verify-email?token=raw-token-123", url)
}

func TestLogMailerNeverLogsTokenValue(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	m := NewLogMailer(zap.New(core))

	err := m.Send(context.Background(), KindVerifyEmail, "user@example.com", "secret-raw-token", "fr")
	require.NoError(t, err)

	require.Equal(t, 1, logs.Len())
	for _, field := range logs.All()[0].Context {
		assert.NotContains(t, field.String, "secret-raw-token")
	}
}
