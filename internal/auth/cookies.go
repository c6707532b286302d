package auth

import (
	"net/http"
	"time"
)

const (
	AdminTokenCookie   = "admin_token"
	LoginSessionCookie = "login_session"
)

// CookieConfig holds cookie configuration settings
type CookieConfig struct {
	Domain   string // Empty string = current host only
	Secure   bool   // HTTPS only
	SameSite string // "strict", "lax", or "none"
}

// SetAdminTokenCookie stores the admin credential in an httpOnly cookie.
func SetAdminTokenCookie(w http.ResponseWriter, token string, maxAge time.Duration, config CookieConfig) {
	setCookie(w, AdminTokenCookie, token, "/", maxAge, config)
}

// SetLoginSessionCookie binds a pending login session to the browser so the
// confirm request can be correlated.
func SetLoginSessionCookie(w http.ResponseWriter, sessionID string, maxAge time.Duration, config CookieConfig) {
	setCookie(w, LoginSessionCookie, sessionID, "/admin", maxAge, config)
}

func ClearAdminTokenCookie(w http.ResponseWriter, config CookieConfig) {
	clearCookie(w, AdminTokenCookie, "/", config)
}

func ClearLoginSessionCookie(w http.ResponseWriter, config CookieConfig) {
	clearCookie(w, LoginSessionCookie, "/admin", config)
}

// GetCookieValue returns the named cookie's value or an empty string.
func GetCookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func setCookie(w http.ResponseWriter, name, value, path string, maxAge time.Duration, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   config.Domain,
		Expires:  time.Now().Add(maxAge),
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: parseSameSite(config.SameSite),
	})
}

func clearCookie(w http.ResponseWriter, name, path string, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		Domain:   config.Domain,
		MaxAge:   -1, // Negative MaxAge deletes the cookie
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: parseSameSite(config.SameSite),
	})
}

// parseSameSite converts string to http.SameSite constant
func parseSameSite(sameSite string) http.SameSite {
	switch sameSite {
	case "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteDefaultMode
	}
}
