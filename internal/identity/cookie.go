package identity

import (
	"errors"
	"net/http"
	"time"
)

const (
	CookieName   = "balance_anon_id"
	cookieMaxAge = 365 * 24 * time.Hour
)

// CookieStore keeps the anonymous token in a long-lived cookie. It lives
// for one request; a token saved during the request is visible to later
// loads in the same request.
type CookieStore struct {
	// Secure restricts the cookie to HTTPS.
	Secure bool

	w     http.ResponseWriter
	r     *http.Request
	saved string
}

func NewCookieStore(w http.ResponseWriter, r *http.Request) *CookieStore {
	return &CookieStore{w: w, r: r}
}

func (s *CookieStore) Load() (string, error) {
	if s.saved != "" {
		return s.saved, nil
	}
	c, err := s.r.Cookie(CookieName)
	if errors.Is(err, http.ErrNoCookie) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return c.Value, nil
}

func (s *CookieStore) Save(token string) error {
	http.SetCookie(s.w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	s.saved = token
	return nil
}
