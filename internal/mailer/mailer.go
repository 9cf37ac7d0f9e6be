// Package mailer is the transactional-mail collaborator. The auth service
// only knows the Send contract; whether mail actually leaves the process is
// a deployment decision. Dispatch always happens after the owning database
// transaction has committed.
package mailer

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Kind identifies the transactional email template.
type Kind string

const (
	KindVerifyEmail   Kind = "verify_email"
	KindResetPassword Kind = "reset_password"
)

// Mailer dispatches a single-use token to a recipient out of band.
type Mailer interface {
	Send(ctx context.Context, kind Kind, recipient, rawToken, locale string) error
}

type message struct {
	subject string
	lineFmt string
	path    string
}

// Minimal per-locale copy; fr is the product default.
var copyByLocale = map[string]map[Kind]message{
	"fr": {
		KindVerifyEmail:   {subject: "Confirmez votre adresse email", lineFmt: "Confirmez votre adresse : %s", path: "/verify-email"},
		KindResetPassword: {subject: "Réinitialisation du mot de passe", lineFmt: "Réinitialisez votre mot de passe : %s", path: "/reset-password"},
	},
	"en": {
		KindVerifyEmail:   {subject: "Confirm your email address", lineFmt: "Confirm your address: %s", path: "/verify-email"},
		KindResetPassword: {subject: "Password reset", lineFmt: "Reset your password: %s", path: "/reset-password"},
	},
}

func messageFor(kind Kind, locale string) message {
	loc := "fr"
	if len(locale) >= 2 && locale[:2] == "en" {
		loc = "en"
	}
	return copyByLocale[loc][kind]
}

func actionURL(appURL string, m message, rawToken string) string {
	return fmt.Sprintf("%s%s?token=%s", appURL, m.path, rawToken)
}

// LogMailer is the development implementation: it logs the dispatch without
// the token value and sends nothing.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer constructs a LogMailer.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

// Send implements Mailer.
func (m *LogMailer) Send(_ context.Context, kind Kind, recipient, _ string, locale string) error {
	m.logger.Info("transactional email suppressed",
		zap.String("kind", string(kind)),
		zap.String("recipient", recipient),
		zap.String("locale", locale),
	)
	return nil
}
