package session

import (
	"net/http"
	"strings"
)

// Cookie names carrying tokens for browser portals.
const (
	AccessCookie  = "accessToken"
	RefreshCookie = "refreshToken"
)

type CookieConfig struct {
	Secure   bool
	Domain   string
	SameSite http.SameSite
}

// ParseSameSite maps a config value to http.SameSite; unknown values mean
// Strict.
func ParseSameSite(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	}
	return http.SameSiteStrictMode
}

func (m *Manager) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   m.cookies.Domain,
		MaxAge:   maxAge,
		Secure:   m.cookies.Secure,
		HttpOnly: true,
		SameSite: m.cookies.SameSite,
	}
}

// SetCookies writes both tokens as HttpOnly cookies living as long as the
// tokens themselves.
func (m *Manager) SetCookies(w http.ResponseWriter, p TokenPair) {
	http.SetCookie(w, m.cookie(AccessCookie, p.AccessToken, int(m.accessTTL.Seconds())))
	http.SetCookie(w, m.cookie(RefreshCookie, p.RefreshToken, int(m.refreshTTL.Seconds())))
}

func (m *Manager) ClearCookies(w http.ResponseWriter) {
	http.SetCookie(w, m.cookie(AccessCookie, "", -1))
	http.SetCookie(w, m.cookie(RefreshCookie, "", -1))
}

// AccessTokenFrom reads the bearer token, falling back to the access
// cookie.
func AccessTokenFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if c, err := r.Cookie(AccessCookie); err == nil {
		return c.Value
	}
	return ""
}

// RefreshTokenFrom reads the refresh cookie.
func RefreshTokenFrom(r *http.Request) string {
	if c, err := r.Cookie(RefreshCookie); err == nil {
		return c.Value
	}
	return ""
}
