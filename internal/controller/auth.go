package controller

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/saxenaaman628/balance-game/internal/apperr"
	"github.com/saxenaaman628/balance-game/internal/middleware"
	"github.com/saxenaaman628/balance-game/internal/session"
	"github.com/saxenaaman628/balance-game/internal/store"
)

const (
	stateCookie    = "balance_oauth_state"
	stateMaxAge    = 10 * 60
	sessionMaxAge  = 24 * 60 * 60
	msgSignInOff   = "Sign-in is not configured."
	msgSignInRetry = "Sign-in failed. Please try again."
)

type AuthHandler struct {
	store    *store.Store
	sessions *session.Manager
	secure   bool
}

// NewAuthHandler builds the sign-in handlers. secure marks the state and
// session cookies HTTPS-only.
func NewAuthHandler(s *store.Store, m *session.Manager, secure bool) *AuthHandler {
	return &AuthHandler{store: s, sessions: m, secure: secure}
}

// Login redirects to the identity provider with a fresh state value.
func (h *AuthHandler) Login(c *gin.Context) {
	p := h.sessions.Provider()
	if p == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": msgSignInOff})
		return
	}
	state := uuid.NewString()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookie, state, stateMaxAge, "/", "", h.secure, true)
	c.Redirect(http.StatusFound, p.AuthCodeURL(state))
}

// Callback finishes sign-in: it checks state, exchanges the code, stores
// the account and hands back a session token.
func (h *AuthHandler) Callback(c *gin.Context) {
	p := h.sessions.Provider()
	if p == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": msgSignInOff})
		return
	}

	want, err := c.Cookie(stateCookie)
	if err != nil || want == "" || c.Query("state") != want {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgSignInRetry})
		return
	}
	c.SetCookie(stateCookie, "", -1, "/", "", h.secure, true)

	ctx := c.Request.Context()
	info, err := p.Exchange(ctx, c.Query("code"))
	if err != nil {
		slog.Warn("oauth exchange failed", "error", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": msgSignInRetry})
		return
	}

	user, err := h.store.UpsertUser(ctx, info.ID, optional(info.Email), optional(info.AvatarURL))
	if err != nil {
		respondError(c, err)
		return
	}
	username := ""
	if user.Username != nil {
		username = *user.Username
	}
	token, err := h.sessions.Issue(user.ID, username)
	if err != nil {
		respondError(c, apperr.E(apperr.KindInternal, "auth.Callback", err))
		return
	}

	slog.Info("user signed in", "user_id", user.ID)
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookie, token, sessionMaxAge, "/", "", h.secure, true)
	c.JSON(http.StatusOK, gin.H{"token": token, "data": user, "needs_username": user.Username == nil})
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
