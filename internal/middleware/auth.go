package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

// CookieName is the cookie carrying the session token.
const CookieName = "authenticated"

// Token derives the cookie value for a password. Changing the password
// invalidates every issued cookie.
func Token(password string) string {
	sum := sha256.Sum256([]byte("attendance:" + password))
	return hex.EncodeToString(sum[:])
}

// Authenticated reports whether r carries a valid session cookie.
func Authenticated(r *http.Request, password string) bool {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(Token(password))) == 1
}

func public(path string) bool {
	return path == "/login" ||
		path == "/healthz" ||
		strings.HasPrefix(path, "/auth/") ||
		strings.HasPrefix(path, "/static/")
}

// RequireAuth lets through public paths and requests with a valid cookie.
// API requests without one get 401, pages are redirected to /login.
func RequireAuth(password string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if public(r.URL.Path) || Authenticated(r, password) {
				next.ServeHTTP(w, r)
				return
			}

			if strings.HasPrefix(r.URL.Path, "/api/") ||
				strings.HasPrefix(r.URL.Path, "/logs/") ||
				r.Header.Get("X-Requested-With") == "XMLHttpRequest" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			http.Redirect(w, r, "/login", http.StatusSeeOther)
		})
	}
}
