package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/inkroom/inkroom-api/internal/middleware"
	"github.com/inkroom/inkroom-api/internal/models"
	"github.com/inkroom/inkroom-api/internal/service"
	appErrors "github.com/inkroom/inkroom-api/pkg/errors"
	"github.com/inkroom/inkroom-api/pkg/response"
)

// RefreshCookieName is the cookie carrying the refresh token. Its path is
// restricted to the auth endpoints so the token never rides along on
// ordinary API calls.
const RefreshCookieName = "refresh_token"

// AuthHandler wires HTTP endpoints to the auth service. Tokens travel in
// HttpOnly cookies; response bodies never contain them.
type AuthHandler struct {
	service  *service.AuthService
	appURL   string
	authPath string
}

// NewAuthHandler creates a new handler. authPath is the mount point of the
// auth routes, e.g. "/api/v1/auth".
func NewAuthHandler(svc *service.AuthService, appURL, authPath string) *AuthHandler {
	return &AuthHandler{service: svc, appURL: strings.TrimRight(appURL, "/"), authPath: authPath}
}

// Register creates a pending account and triggers the verification email.
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid registration payload"))
		return
	}

	if err := h.service.Register(c.Request.Context(), req, requestLocale(c), clientMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, gin.H{"ok": true}, nil)
}

// VerifyEmail redeems a verification token from the emailed link. A browser
// gets redirected back to the app; API callers get a JSON outcome.
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	rawToken := c.Query("token")
	wantsHTML := strings.Contains(c.GetHeader("Accept"), "text/html")

	if err := h.service.VerifyEmail(c.Request.Context(), rawToken); err != nil {
		if wantsHTML {
			c.Redirect(http.StatusFound, h.appURL+"/login?error="+url.QueryEscape("invalid_token"))
			return
		}
		response.Error(c, err)
		return
	}
	if wantsHTML {
		c.Redirect(http.StatusFound, h.appURL+"/login?verified=1")
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"ok": true}, nil)
}

// ResendVerify re-issues a verification token. The response never reveals
// whether the address has an account.
func (h *AuthHandler) ResendVerify(c *gin.Context) {
	var req models.EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	if err := h.service.ResendVerify(c.Request.Context(), req.Email, requestLocale(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"ok": true}, nil)
}

// Login authenticates and opens a session; on success both token cookies
// are set and the profile is returned.
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}

	user, pair, err := h.service.Login(c.Request.Context(), req, clientMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	h.setAuthCookies(c, pair)
	response.JSON(c, http.StatusOK, gin.H{"user": models.ProfileFromUser(user)}, nil)
}

// Refresh rotates the session behind the refresh cookie. Any failure clears
// both cookies so the client falls back to a clean logged-out state.
func (h *AuthHandler) Refresh(c *gin.Context) {
	rawRefresh, _ := c.Cookie(RefreshCookieName)
	if rawRefresh == "" {
		h.clearAuthCookies(c)
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	pair, err := h.service.Refresh(c.Request.Context(), rawRefresh, clientMeta(c))
	if err != nil {
		h.clearAuthCookies(c)
		response.Error(c, err)
		return
	}

	h.setAuthCookies(c, pair)
	response.JSON(c, http.StatusOK, gin.H{"ok": true}, nil)
}

// Logout revokes the current session and clears cookies. It succeeds for
// anonymous callers too.
func (h *AuthHandler) Logout(c *gin.Context) {
	rawRefresh, _ := c.Cookie(RefreshCookieName)
	h.service.Logout(c.Request.Context(), rawRefresh, clientMeta(c))
	h.clearAuthCookies(c)
	response.JSON(c, http.StatusOK, gin.H{"ok": true}, nil)
}

// ForgotPassword triggers the reset flow. The response never reveals
// whether the address has an account.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req models.EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	if err := h.service.ForgotPassword(c.Request.Context(), req.Email, requestLocale(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"ok": true}, nil)
}

// ResetPassword redeems a reset token and installs the new password. Every
// session of the user is revoked in the same transaction.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req models.ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	if err := h.service.ResetPassword(c.Request.Context(), req, clientMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"ok": true}, nil)
}

// Me returns the current user, or a null user for anonymous or stale
// sessions. It never answers with an error status; the SPA polls it on
// every load.
func (h *AuthHandler) Me(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.JSON(c, http.StatusOK, gin.H{"user": nil}, nil)
		return
	}

	profile, err := h.service.Profile(c.Request.Context(), claims.UserID())
	if err != nil || profile == nil {
		h.clearAuthCookies(c)
		response.JSON(c, http.StatusOK, gin.H{"user": nil}, nil)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"user": profile}, nil)
}

func (h *AuthHandler) setAuthCookies(c *gin.Context, pair *models.TokenPair) {
	secure := requestIsSecure(c)
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.AccessCookieName, pair.AccessToken, int(pair.AccessTTL.Seconds()), "/", "", secure, true)
	c.SetCookie(RefreshCookieName, pair.RefreshToken, int(pair.RefreshTTL.Seconds()), h.authPath, "", secure, true)
}

func (h *AuthHandler) clearAuthCookies(c *gin.Context) {
	secure := requestIsSecure(c)
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.AccessCookieName, "", -1, "/", "", secure, true)
	c.SetCookie(RefreshCookieName, "", -1, h.authPath, "", secure, true)
}

func requestIsSecure(c *gin.Context) bool {
	if c.Request.TLS != nil {
		return true
	}
	return strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https")
}

// LocaleCookieName is the locale preference cookie set by the web frontend.
const LocaleCookieName = "i18n_redirected"

// requestLocale picks the mail locale: the frontend's locale cookie wins,
// then Accept-Language, then French.
func requestLocale(c *gin.Context) string {
	lang, err := c.Cookie(LocaleCookieName)
	if err != nil || lang == "" {
		lang = c.GetHeader("Accept-Language")
	}
	if strings.HasPrefix(strings.ToLower(lang), "en") {
		return "en"
	}
	return "fr"
}

func clientMeta(c *gin.Context) models.ClientMeta {
	return models.ClientMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}
