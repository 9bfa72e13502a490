package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/saxenaaman628/balance-game/internal/apperr"
	"github.com/saxenaaman628/balance-game/internal/identity"
	"github.com/saxenaaman628/balance-game/internal/utils"
)

const (
	SessionCookie = "balance_session"

	KeyUserID   = "userID"
	KeyUsername = "username"
	KeyIdentity = "identity"
)

type TokenVerifier interface {
	Verify(token string) (*utils.Claims, error)
}

// JWTAuthMiddleware reads the session token from the Authorization header
// or the session cookie. A valid token puts the user id in the context;
// a missing or bad one leaves the request anonymous.
func JWTAuthMiddleware(v TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearer(c.GetHeader("Authorization"))
		if token == "" {
			token, _ = c.Cookie(SessionCookie)
		}
		if token != "" {
			if claims, err := v.Verify(token); err == nil {
				c.Set(KeyUserID, claims.ID)
				c.Set(KeyUsername, claims.Username)
			}
		}
		c.Next()
	}
}

// RequireAuth rejects requests without a signed-in user.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(KeyUserID) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": apperr.Friendly(apperr.Unauthorized("auth"))})
			return
		}
		c.Next()
	}
}

// Identity resolves who the request votes as: the signed-in user, or the
// anonymous token kept in a cookie. secure marks that cookie HTTPS-only.
func Identity(secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		cookies := identity.NewCookieStore(c.Writer, c.Request)
		cookies.Secure = secure
		r := identity.NewResolver(cookies)
		id, err := r.Resolve(c.GetString(KeyUserID))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": apperr.Friendly(err)})
			return
		}
		c.Set(KeyIdentity, id)
		c.Next()
	}
}

func bearer(h string) string {
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}
