package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inkroom/inkroom-api/internal/mailer"
	"github.com/inkroom/inkroom-api/internal/models"
	"github.com/inkroom/inkroom-api/internal/password"
	"github.com/inkroom/inkroom-api/internal/repository"
	"github.com/inkroom/inkroom-api/internal/token"
	appErrors "github.com/inkroom/inkroom-api/pkg/errors"
)

// memStore is an in-memory stand-in for the three persistence ledgers,
// faithful enough to drive whole lifecycles through the service.
type memStore struct {
	seq      int
	users    map[string]*models.User
	byEmail  map[string]string
	sessions map[string]*models.Session
	tokens   map[string]*memToken
	audits   []*models.AuditLog

	registerErr error
	rotateErr   error
}

type memToken struct {
	userID    string
	kind      models.TokenKind
	expiresAt time.Time
	used      bool
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[string]*models.User),
		byEmail:  make(map[string]string),
		sessions: make(map[string]*models.Session),
		tokens:   make(map[string]*memToken),
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memStore) FindByEmail(_ context.Context, emailNormalized string) (*models.User, error) {
	id, ok := m.byEmail[emailNormalized]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return m.users[id], nil
}

func (m *memStore) FindByID(_ context.Context, id string) (*models.User, error) {
	user, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (m *memStore) UpdateLastLogin(_ context.Context, id string, ts time.Time) error {
	if user, ok := m.users[id]; ok {
		user.LastLoginAt = &ts
	}
	return nil
}

func (m *memStore) RegisterPending(_ context.Context, req models.RegisterRequest, emailNormalized, passwordHash, tokenHash string, tokenTTL time.Duration) (string, error) {
	if m.registerErr != nil {
		return "", m.registerErr
	}
	now := time.Now().UTC()
	id, exists := m.byEmail[emailNormalized]
	if exists {
		existing := m.users[id]
		if existing.Status == models.StatusActive || existing.Verified() {
			return "", repository.ErrDuplicateEmail
		}
		existing.PasswordHash = passwordHash
	} else {
		id = m.nextID("user")
		m.users[id] = &models.User{
			ID:           id,
			Email:        req.Email,
			PasswordHash: passwordHash,
			Status:       models.StatusPending,
		}
		m.byEmail[emailNormalized] = id
	}
	m.supersede(id, models.TokenVerifyEmail, now)
	m.tokens[tokenHash] = &memToken{userID: id, kind: models.TokenVerifyEmail, expiresAt: now.Add(tokenTTL)}
	return id, nil
}

func (m *memStore) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	m.audits = append(m.audits, log)
	return nil
}

func (m *memStore) Create(_ context.Context, userID, refreshTokenHash string, meta models.ClientMeta, ttl time.Duration) (string, error) {
	id := m.nextID("session")
	now := time.Now().UTC()
	m.sessions[id] = &models.Session{
		ID:               id,
		UserID:           userID,
		RefreshTokenHash: refreshTokenHash,
		ExpiresAt:        now.Add(ttl),
		CreatedAt:        now,
	}
	return id, nil
}

func (m *memStore) FindActive(_ context.Context, userID, refreshTokenHash string) (*models.Session, error) {
	for _, s := range m.sessions {
		if s.UserID == userID && s.RefreshTokenHash == refreshTokenHash && s.Active(time.Now().UTC()) {
			return s, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memStore) FindByHash(_ context.Context, refreshTokenHash string) (*models.Session, error) {
	for _, s := range m.sessions {
		if s.RefreshTokenHash == refreshTokenHash {
			return s, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memStore) Rotate(_ context.Context, oldSessionID, userID, newTokenHash string, meta models.ClientMeta, ttl time.Duration) (string, error) {
	if m.rotateErr != nil {
		return "", m.rotateErr
	}
	old, ok := m.sessions[oldSessionID]
	if !ok || old.RevokedAt != nil {
		return "", repository.ErrSessionConflict
	}
	newID, _ := m.Create(context.Background(), userID, newTokenHash, meta, ttl)
	now := time.Now().UTC()
	old.RevokedAt = &now
	old.ReplacedBySessionID = &newID
	return newID, nil
}

func (m *memStore) RevokeByHash(_ context.Context, refreshTokenHash string) error {
	now := time.Now().UTC()
	for _, s := range m.sessions {
		if s.RefreshTokenHash == refreshTokenHash && s.RevokedAt == nil {
			s.RevokedAt = &now
		}
	}
	return nil
}

func (m *memStore) RevokeAllForUser(_ context.Context, userID string) error {
	now := time.Now().UTC()
	for _, s := range m.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			s.RevokedAt = &now
		}
	}
	return nil
}

func (m *memStore) RevokeChain(_ context.Context, sessionID string) error {
	now := time.Now().UTC()
	for id := sessionID; id != ""; {
		s, ok := m.sessions[id]
		if !ok {
			break
		}
		if s.RevokedAt == nil {
			s.RevokedAt = &now
		}
		if s.ReplacedBySessionID == nil {
			break
		}
		id = *s.ReplacedBySessionID
	}
	return nil
}

func (m *memStore) supersede(userID string, kind models.TokenKind, now time.Time) {
	for _, t := range m.tokens {
		if t.userID == userID && t.kind == kind && !t.used && t.expiresAt.After(now) {
			t.used = true
		}
	}
}

func (m *memStore) Issue(_ context.Context, userID string, kind models.TokenKind, tokenHash string, ttl time.Duration) error {
	now := time.Now().UTC()
	m.supersede(userID, kind, now)
	m.tokens[tokenHash] = &memToken{userID: userID, kind: kind, expiresAt: now.Add(ttl)}
	return nil
}

func (m *memStore) redeem(tokenHash string, kind models.TokenKind) (*memToken, error) {
	t, ok := m.tokens[tokenHash]
	if !ok || t.kind != kind || t.used || !t.expiresAt.After(time.Now().UTC()) {
		return nil, repository.ErrTokenNotFound
	}
	t.used = true
	return t, nil
}

func (m *memStore) RedeemVerifyEmail(_ context.Context, tokenHash string) (string, error) {
	t, err := m.redeem(tokenHash, models.TokenVerifyEmail)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	user := m.users[t.userID]
	user.Status = models.StatusActive
	if user.EmailVerifiedAt == nil {
		user.EmailVerifiedAt = &now
	}
	return t.userID, nil
}

func (m *memStore) RedeemPasswordReset(_ context.Context, tokenHash, newPasswordHash string) (string, error) {
	t, err := m.redeem(tokenHash, models.TokenResetPassword)
	if err != nil {
		return "", err
	}
	m.users[t.userID].PasswordHash = newPasswordHash
	m.RevokeAllForUser(context.Background(), t.userID) //nolint:errcheck
	return t.userID, nil
}

type sentMail struct {
	kind      mailer.Kind
	recipient string
	token     string
}

type captureMailer struct {
	sent []sentMail
}

func (c *captureMailer) Send(_ context.Context, kind mailer.Kind, recipient, rawToken, _ string) error {
	c.sent = append(c.sent, sentMail{kind: kind, recipient: recipient, token: rawToken})
	return nil
}

func newTestService(t *testing.T) (*AuthService, *memStore, *captureMailer) {
	t.Helper()
	store := newMemStore()
	mail := &captureMailer{}
	codec := token.NewCodec(token.Config{
		AccessSecret:  "access-secret-for-tests",
		RefreshSecret: "refresh-secret-for-tests",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    time.Hour,
	})
	svc := NewAuthService(store, store, store, codec, mail, validator.New(), zap.NewNop(), nil, AuthTokenTTLs{
		VerifyEmail:   48 * time.Hour,
		ResetPassword: time.Hour,
	})
	return svc, store, mail
}

func registerAndVerify(t *testing.T, svc *AuthService, store *memStore, mail *captureMailer, email, pass string) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, models.RegisterRequest{Email: email, Password: pass}, "fr", models.ClientMeta{}))
	require.NotEmpty(t, mail.sent)
	last := mail.sent[len(mail.sent)-1]
	require.Equal(t, mailer.KindVerifyEmail, last.kind)
	require.NoError(t, svc.VerifyEmail(ctx, last.token))
	user, err := store.FindByEmail(ctx, models.NormalizeEmail(email))
	require.NoError(t, err)
	return user.ID
}

func TestRegisterCreatesPendingAndMailsToken(t *testing.T) {
	svc, store, mail := newTestService(t)
	ctx := context.Background()

	err := svc.Register(ctx, models.RegisterRequest{Email: "New@Example.com", Password: "long-enough-pass"}, "fr", models.ClientMeta{})
	require.NoError(t, err)

	user, err := store.FindByEmail(ctx, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, user.Status)
	assert.False(t, user.Verified())
	assert.NotEqual(t, "long-enough-pass", user.PasswordHash)

	require.Len(t, mail.sent, 1)
	assert.Equal(t, mailer.KindVerifyEmail, mail.sent[0].kind)
	assert.NotEmpty(t, mail.sent[0].token)
	// The raw token is sent out of band; only its hash is in the ledger.
	assert.NotContains(t, store.tokens, mail.sent[0].token)
	assert.Contains(t, store.tokens, token.HashToken(mail.sent[0].token))
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	svc, _, mail := newTestService(t)

	err := svc.Register(context.Background(), models.RegisterRequest{Email: "a@b.com", Password: "short"}, "fr", models.ClientMeta{})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Empty(t, mail.sent)
}

func TestRegisterConflictOnVerifiedEmail(t *testing.T) {
	svc, store, mail := newTestService(t)
	registerAndVerify(t, svc, store, mail, "taken@example.com", "first-password")

	err := svc.Register(context.Background(), models.RegisterRequest{Email: "Taken@Example.com", Password: "second-password"}, "fr", models.ClientMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestRegisterTwiceLatestTokenWins(t *testing.T) {
	svc, _, mail := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, models.RegisterRequest{Email: "twice@example.com", Password: "first-password"}, "fr", models.ClientMeta{}))
	require.NoError(t, svc.Register(ctx, models.RegisterRequest{Email: "twice@example.com", Password: "second-password"}, "fr", models.ClientMeta{}))
	require.Len(t, mail.sent, 2)

	// The superseded token no longer verifies; the fresh one does.
	err := svc.VerifyEmail(ctx, mail.sent[0].token)
	assert.Equal(t, appErrors.ErrInvalidToken.Code, appErrors.FromError(err).Code)
	assert.NoError(t, svc.VerifyEmail(ctx, mail.sent[1].token))
}

func TestVerifyEmailTokenIsSingleUse(t *testing.T) {
	svc, _, mail := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, models.RegisterRequest{Email: "once@example.com", Password: "some-password"}, "fr", models.ClientMeta{}))
	raw := mail.sent[0].token

	require.NoError(t, svc.VerifyEmail(ctx, raw))
	err := svc.VerifyEmail(ctx, raw)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidToken.Code, appErrors.FromError(err).Code)
}

func TestLoginBeforeVerificationRejected(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, models.RegisterRequest{Email: "pending@example.com", Password: "some-password"}, "fr", models.ClientMeta{}))

	_, _, err := svc.Login(ctx, models.LoginRequest{Email: "pending@example.com", Password: "some-password"}, models.ClientMeta{})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErr.Code)
	assert.Equal(t, 403, appErr.Status)
}

func TestLoginIndistinguishableFailures(t *testing.T) {
	svc, store, mail := newTestService(t)
	registerAndVerify(t, svc, store, mail, "real@example.com", "real-password")
	ctx := context.Background()

	_, _, unknownErr := svc.Login(ctx, models.LoginRequest{Email: "ghost@example.com", Password: "real-password"}, models.ClientMeta{})
	_, _, wrongErr := svc.Login(ctx, models.LoginRequest{Email: "real@example.com", Password: "wrong-password"}, models.ClientMeta{})

	require.Error(t, unknownErr)
	require.Error(t, wrongErr)
	a := appErrors.FromError(unknownErr)
	b := appErrors.FromError(wrongErr)
	assert.Equal(t, a.Code, b.Code)
	assert.Equal(t, a.Status, b.Status)
	assert.Equal(t, a.Message, b.Message)
}

func TestLoginOpensSessionAndMintsPair(t *testing.T) {
	svc, store, mail := newTestService(t)
	userID := registerAndVerify(t, svc, store, mail, "login@example.com", "login-password")
	ctx := context.Background()

	user, pair, err := svc.Login(ctx, models.LoginRequest{Email: "Login@Example.com", Password: "login-password"}, models.ClientMeta{IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, userID, user.ID)
	assert.NotNil(t, user.LastLoginAt)
	require.NotNil(t, pair)

	claims, err := svc.Codec().VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID())

	session, err := store.FindActive(ctx, userID, token.HashToken(pair.RefreshToken))
	require.NoError(t, err)
	assert.Equal(t, userID, session.UserID)
}

func TestRefreshRotatesSession(t *testing.T) {
	svc, store, mail := newTestService(t)
	userID := registerAndVerify(t, svc, store, mail, "rotate@example.com", "rotate-password")
	ctx := context.Background()

	_, pair, err := svc.Login(ctx, models.LoginRequest{Email: "rotate@example.com", Password: "rotate-password"}, models.ClientMeta{})
	require.NoError(t, err)

	next, err := svc.Refresh(ctx, pair.RefreshToken, models.ClientMeta{})
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	// Old hash is revoked, the new one is live.
	_, err = store.FindActive(ctx, userID, token.HashToken(pair.RefreshToken))
	assert.Error(t, err)
	_, err = store.FindActive(ctx, userID, token.HashToken(next.RefreshToken))
	assert.NoError(t, err)
}

func TestRefreshReplayRevokesWholeChain(t *testing.T) {
	svc, store, mail := newTestService(t)
	userID := registerAndVerify(t, svc, store, mail, "replay@example.com", "replay-password")
	ctx := context.Background()

	_, pair, err := svc.Login(ctx, models.LoginRequest{Email: "replay@example.com", Password: "replay-password"}, models.ClientMeta{})
	require.NoError(t, err)

	second, err := svc.Refresh(ctx, pair.RefreshToken, models.ClientMeta{})
	require.NoError(t, err)
	third, err := svc.Refresh(ctx, second.RefreshToken, models.ClientMeta{})
	require.NoError(t, err)

	// Replaying the first (rotated) token burns every descendant.
	_, err = svc.Refresh(ctx, pair.RefreshToken, models.ClientMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)

	_, err = store.FindActive(ctx, userID, token.HashToken(third.RefreshToken))
	assert.ErrorIs(t, err, sql.ErrNoRows)

	_, err = svc.Refresh(ctx, third.RefreshToken, models.ClientMeta{})
	assert.Error(t, err)
}

func TestRefreshRejectsForeignToken(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Refresh(context.Background(), "not-a-jwt", models.ClientMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestRefreshRejectsAccessTokenAsRefresh(t *testing.T) {
	svc, store, mail := newTestService(t)
	registerAndVerify(t, svc, store, mail, "typed@example.com", "typed-password")
	ctx := context.Background()

	_, pair, err := svc.Login(ctx, models.LoginRequest{Email: "typed@example.com", Password: "typed-password"}, models.ClientMeta{})
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, pair.AccessToken, models.ClientMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestRefreshLosingRaceIsUnauthorized(t *testing.T) {
	svc, store, mail := newTestService(t)
	registerAndVerify(t, svc, store, mail, "race@example.com", "race-password")
	ctx := context.Background()

	_, pair, err := svc.Login(ctx, models.LoginRequest{Email: "race@example.com", Password: "race-password"}, models.ClientMeta{})
	require.NoError(t, err)

	store.rotateErr = repository.ErrSessionConflict
	_, err = svc.Refresh(ctx, pair.RefreshToken, models.ClientMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestLogoutRevokesSessionAndNeverFails(t *testing.T) {
	svc, store, mail := newTestService(t)
	registerAndVerify(t, svc, store, mail, "logout@example.com", "logout-password")
	ctx := context.Background()

	_, pair, err := svc.Login(ctx, models.LoginRequest{Email: "logout@example.com", Password: "logout-password"}, models.ClientMeta{})
	require.NoError(t, err)

	svc.Logout(ctx, pair.RefreshToken, models.ClientMeta{})
	_, err = svc.Refresh(ctx, pair.RefreshToken, models.ClientMeta{})
	assert.Error(t, err)

	// Unknown and empty tokens are quiet no-ops.
	svc.Logout(ctx, pair.RefreshToken, models.ClientMeta{})
	svc.Logout(ctx, "", models.ClientMeta{})
}

func TestForgotPasswordIsSilentForUnknownEmail(t *testing.T) {
	svc, _, mail := newTestService(t)

	require.NoError(t, svc.ForgotPassword(context.Background(), "ghost@example.com", "fr"))
	assert.Empty(t, mail.sent)
}

func TestResendVerifyIsSilentForActiveAccount(t *testing.T) {
	svc, store, mail := newTestService(t)
	registerAndVerify(t, svc, store, mail, "done@example.com", "done-password")
	sent := len(mail.sent)

	require.NoError(t, svc.ResendVerify(context.Background(), "done@example.com", "fr"))
	assert.Len(t, mail.sent, sent)
}

func TestPasswordResetFlow(t *testing.T) {
	svc, store, mail := newTestService(t)
	userID := registerAndVerify(t, svc, store, mail, "reset@example.com", "old-password-1")
	ctx := context.Background()

	_, pair, err := svc.Login(ctx, models.LoginRequest{Email: "reset@example.com", Password: "old-password-1"}, models.ClientMeta{})
	require.NoError(t, err)

	require.NoError(t, svc.ForgotPassword(ctx, "reset@example.com", "fr"))
	last := mail.sent[len(mail.sent)-1]
	require.Equal(t, mailer.KindResetPassword, last.kind)

	err = svc.ResetPassword(ctx, models.ResetPasswordRequest{Token: last.token, Password: "new-password-1"}, models.ClientMeta{})
	require.NoError(t, err)

	user := store.users[userID]
	assert.True(t, password.Verify(user.PasswordHash, "new-password-1"))
	assert.False(t, password.Verify(user.PasswordHash, "old-password-1"))

	// Every pre-reset session is gone.
	_, err = svc.Refresh(ctx, pair.RefreshToken, models.ClientMeta{})
	assert.Error(t, err)

	// The reset token is single use.
	err = svc.ResetPassword(ctx, models.ResetPasswordRequest{Token: last.token, Password: "newer-password-1"}, models.ClientMeta{})
	assert.Equal(t, appErrors.ErrInvalidToken.Code, appErrors.FromError(err).Code)

	_, _, err = svc.Login(ctx, models.LoginRequest{Email: "reset@example.com", Password: "new-password-1"}, models.ClientMeta{})
	assert.NoError(t, err)
}

func TestProfileMissingUserIsNil(t *testing.T) {
	svc, _, _ := newTestService(t)

	profile, err := svc.Profile(context.Background(), "no-such-user")
	require.NoError(t, err)
	assert.Nil(t, profile)
}
