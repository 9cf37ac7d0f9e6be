package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/inkroom/inkroom-api/internal/mailer"
	"github.com/inkroom/inkroom-api/internal/models"
	"github.com/inkroom/inkroom-api/internal/password"
	"github.com/inkroom/inkroom-api/internal/repository"
	"github.com/inkroom/inkroom-api/internal/token"
	appErrors "github.com/inkroom/inkroom-api/pkg/errors"
)

type authUserRepository interface {
	FindByEmail(ctx context.Context, emailNormalized string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	RegisterPending(ctx context.Context, req models.RegisterRequest, emailNormalized, passwordHash, tokenHash string, tokenTTL time.Duration) (string, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type sessionLedger interface {
	Create(ctx context.Context, userID, refreshTokenHash string, meta models.ClientMeta, ttl time.Duration) (string, error)
	FindActive(ctx context.Context, userID, refreshTokenHash string) (*models.Session, error)
	FindByHash(ctx context.Context, refreshTokenHash string) (*models.Session, error)
	Rotate(ctx context.Context, oldSessionID, userID, newTokenHash string, meta models.ClientMeta, ttl time.Duration) (string, error)
	RevokeByHash(ctx context.Context, refreshTokenHash string) error
	RevokeAllForUser(ctx context.Context, userID string) error
	RevokeChain(ctx context.Context, sessionID string) error
}

type singleUseLedger interface {
	Issue(ctx context.Context, userID string, kind models.TokenKind, tokenHash string, ttl time.Duration) error
	RedeemVerifyEmail(ctx context.Context, tokenHash string) (string, error)
	RedeemPasswordReset(ctx context.Context, tokenHash, newPasswordHash string) (string, error)
}

// AuthTokenTTLs fixes the single-use token lifetimes per deployment.
type AuthTokenTTLs struct {
	VerifyEmail   time.Duration
	ResetPassword time.Duration
}

// AuthService is the request-facing gateway composing the secret hasher,
// token codec, session ledger and single-use token ledger into atomic,
// auditable operations.
type AuthService struct {
	users     authUserRepository
	sessions  sessionLedger
	tokens    singleUseLedger
	codec     *token.Codec
	mail      mailer.Mailer
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
	ttls      AuthTokenTTLs
}

// NewAuthService constructs an AuthService instance. metrics may be nil.
func NewAuthService(users authUserRepository, sessions sessionLedger, tokens singleUseLedger, codec *token.Codec, mail mailer.Mailer, validate *validator.Validate, logger *zap.Logger, metrics *MetricsService, ttls AuthTokenTTLs) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if mail == nil {
		mail = mailer.NewLogMailer(logger)
	}
	return &AuthService{
		users:     users,
		sessions:  sessions,
		tokens:    tokens,
		codec:     codec,
		mail:      mail,
		validator: validate,
		logger:    logger,
		metrics:   metrics,
		ttls:      ttls,
	}
}

// Register creates or refreshes a pending account, issues a verify_email
// token inside the same transaction, and dispatches the verification email
// only after the transaction has committed.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest, locale string, meta models.ClientMeta) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	emailNorm := models.NormalizeEmail(req.Email)
	if emailNorm == "" {
		return appErrors.Clone(appErrors.ErrValidation, "invalid email address")
	}

	passwordHash, err := password.Hash(req.Password)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	rawToken, err := token.NewSingleUseToken()
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create verification token")
	}

	userID, err := s.users.RegisterPending(ctx, req, emailNorm, passwordHash, token.HashToken(rawToken), s.ttls.VerifyEmail)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return appErrors.Clone(appErrors.ErrConflict, "email already in use")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register user")
	}

	s.metrics.CountAuthFlow("register")
	s.audit(ctx, &userID, models.AuditActionRegister, meta, map[string]string{"status": "pending"})

	if err := s.mail.Send(ctx, mailer.KindVerifyEmail, emailNorm, rawToken, locale); err != nil {
		s.logger.Warn("failed to dispatch verification email", zap.Error(err))
	}
	return nil
}

// VerifyEmail redeems a verify_email token; the account activates inside the
// redemption transaction. Failure is a generic invalid-token error that
// never reveals account existence.
func (s *AuthService) VerifyEmail(ctx context.Context, rawToken string) error {
	if rawToken == "" {
		return appErrors.Clone(appErrors.ErrValidation, "token is required")
	}

	userID, err := s.tokens.RedeemVerifyEmail(ctx, token.HashToken(rawToken))
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return appErrors.Clone(appErrors.ErrInvalidToken, "invalid or expired token")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify email")
	}

	s.metrics.CountAuthFlow("verify_email")
	s.logger.Info("email verified", zap.String("user_id", userID))
	return nil
}

// ResendVerify issues a fresh verify_email token when the account exists and
// is still unverified. The caller always receives success; only the side
// effect differs.
func (s *AuthService) ResendVerify(ctx context.Context, email, locale string) error {
	emailNorm := models.NormalizeEmail(email)
	if emailNorm == "" {
		return nil
	}

	user, err := s.users.FindByEmail(ctx, emailNorm)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}
	if user.Status == models.StatusActive || user.Verified() {
		return nil
	}

	rawToken, err := token.NewSingleUseToken()
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create verification token")
	}
	if err := s.tokens.Issue(ctx, user.ID, models.TokenVerifyEmail, token.HashToken(rawToken), s.ttls.VerifyEmail); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue verification token")
	}

	if err := s.mail.Send(ctx, mailer.KindVerifyEmail, user.Email, rawToken, locale); err != nil {
		s.logger.Warn("failed to dispatch verification email", zap.Error(err))
	}
	return nil
}

// Login authenticates a user and opens a new session. Unknown email and
// wrong password produce the same rejection; an unverified or non-active
// account is rejected separately once the caller has proven it exists.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest, meta models.ClientMeta) (*models.User, *models.TokenPair, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	emailNorm := models.NormalizeEmail(req.Email)
	if emailNorm == "" {
		return nil, nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	user, err := s.users.FindByEmail(ctx, emailNorm)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if user.Status != models.StatusActive || !user.Verified() {
		return nil, nil, appErrors.Clone(appErrors.ErrInactiveAccount, "")
	}

	if !password.Verify(user.PasswordHash, req.Password) {
		return nil, nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	pair, err := s.mintPair(user)
	if err != nil {
		return nil, nil, err
	}

	if _, err := s.sessions.Create(ctx, user.ID, token.HashToken(pair.RefreshToken), meta, s.codec.RefreshTTL()); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist session")
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}

	s.metrics.CountAuthFlow("login")
	s.audit(ctx, &user.ID, models.AuditActionLogin, meta, map[string]string{"status": "success"})

	return user, pair, nil
}

// Refresh validates an incoming refresh token, rotates its session and
// returns a fresh pair. Every failure is a single Unauthorized outcome; the
// distinct causes are only visible in the logs. A replayed rotated token
// revokes its whole descendant chain before the rejection.
func (s *AuthService) Refresh(ctx context.Context, rawRefresh string, meta models.ClientMeta) (*models.TokenPair, error) {
	claims, err := s.codec.VerifyRefresh(rawRefresh)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrExpired):
			s.logger.Info("refresh token expired")
		case errors.Is(err, token.ErrWrongType):
			s.logger.Warn("access token presented as refresh token")
		default:
			s.logger.Warn("refresh token signature invalid")
		}
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}

	user, err := s.users.FindByID(ctx, claims.UserID())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if user.Status != models.StatusActive || !user.Verified() {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
	}

	tokenHash := token.HashToken(rawRefresh)
	session, err := s.sessions.FindActive(ctx, user.ID, tokenHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.handleReplay(ctx, user.ID, tokenHash, meta)
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}

	pair, err := s.mintPair(user)
	if err != nil {
		return nil, err
	}

	if _, err := s.sessions.Rotate(ctx, session.ID, user.ID, token.HashToken(pair.RefreshToken), meta, s.codec.RefreshTTL()); err != nil {
		if errors.Is(err, repository.ErrSessionConflict) {
			// A concurrent refresh won the rotation; this request loses.
			s.logger.Info("concurrent refresh lost rotation race", zap.String("user_id", user.ID))
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rotate session")
	}

	s.metrics.CountAuthFlow("refresh")
	s.audit(ctx, &user.ID, models.AuditActionRefresh, meta, map[string]string{"refresh": "rotated"})

	return pair, nil
}

// handleReplay checks whether a refresh hash that matched no active session
// belongs to an already-rotated one. If so the lineage is compromised and
// every descendant is revoked.
func (s *AuthService) handleReplay(ctx context.Context, userID, tokenHash string, meta models.ClientMeta) {
	stale, err := s.sessions.FindByHash(ctx, tokenHash)
	if err != nil || stale.RevokedAt == nil || stale.UserID != userID {
		return
	}

	s.logger.Warn("revoked refresh token replayed, revoking session chain",
		zap.String("user_id", userID),
		zap.String("session_id", stale.ID),
	)
	if err := s.sessions.RevokeChain(ctx, stale.ID); err != nil {
		s.logger.Error("failed to revoke session chain", zap.Error(err))
		return
	}
	s.metrics.CountAuthFlow("replay_revoked")
	s.audit(ctx, &userID, models.AuditActionReplayRevoked, meta, map[string]string{"session_id": stale.ID})
}

// Logout revokes the session behind the presented refresh token. It never
// fails visibly: an unknown or absent token still counts as logged out.
func (s *AuthService) Logout(ctx context.Context, rawRefresh string, meta models.ClientMeta) {
	if rawRefresh == "" {
		return
	}
	if err := s.sessions.RevokeByHash(ctx, token.HashToken(rawRefresh)); err != nil {
		s.logger.Warn("failed to revoke session at logout", zap.Error(err))
		return
	}
	s.audit(ctx, nil, models.AuditActionLogout, meta, map[string]string{"status": "logout"})
}

// ForgotPassword issues a reset_password token when the account exists and
// is active; the response is identical either way.
func (s *AuthService) ForgotPassword(ctx context.Context, email, locale string) error {
	emailNorm := models.NormalizeEmail(email)
	if emailNorm == "" {
		return nil
	}

	user, err := s.users.FindByEmail(ctx, emailNorm)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}
	if user.Status != models.StatusActive {
		return nil
	}

	rawToken, err := token.NewSingleUseToken()
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create reset token")
	}
	if err := s.tokens.Issue(ctx, user.ID, models.TokenResetPassword, token.HashToken(rawToken), s.ttls.ResetPassword); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue reset token")
	}

	s.metrics.CountAuthFlow("forgot_password")
	if err := s.mail.Send(ctx, mailer.KindResetPassword, user.Email, rawToken, locale); err != nil {
		s.logger.Warn("failed to dispatch reset email", zap.Error(err))
	}
	return nil
}

// ResetPassword redeems a reset_password token, replaces the password hash
// and revokes every active session for the user in one transaction.
func (s *AuthService) ResetPassword(ctx context.Context, req models.ResetPasswordRequest, meta models.ClientMeta) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "password must be at least 8 characters")
	}

	newHash, err := password.Hash(req.Password)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	userID, err := s.tokens.RedeemPasswordReset(ctx, token.HashToken(req.Token), newHash)
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return appErrors.Clone(appErrors.ErrInvalidToken, "invalid or expired token")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset password")
	}

	s.metrics.CountAuthFlow("reset_password")
	s.audit(ctx, &userID, models.AuditActionPasswordReset, meta, map[string]string{"status": "reset"})
	return nil
}

// Profile loads the /auth/me projection for a user id. A missing or deleted
// user yields (nil, nil) so the endpoint can answer with a null user.
func (s *AuthService) Profile(ctx context.Context, userID string) (*models.UserProfile, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return models.ProfileFromUser(user), nil
}

// Codec exposes the token codec for the transport middleware.
func (s *AuthService) Codec() *token.Codec {
	return s.codec
}

func (s *AuthService) mintPair(user *models.User) (*models.TokenPair, error) {
	access, err := s.codec.SignAccess(user.ID, user.PrimaryRole())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}
	refresh, err := s.codec.SignRefresh(user.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}
	return &models.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		AccessTTL:    s.codec.AccessTTL(),
		RefreshTTL:   s.codec.RefreshTTL(),
	}, nil
}

func (s *AuthService) audit(ctx context.Context, userID *string, action string, meta models.ClientMeta, details map[string]string) {
	payload, _ := json.Marshal(details)
	entry := &models.AuditLog{
		UserID:     userID,
		Action:     action,
		Resource:   "auth",
		ResourceID: userID,
		Details:    payload,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}
	if err := s.users.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}
