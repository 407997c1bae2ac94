package handler

import (
	"crypto/subtle"
	"net/http"

	"attendance/internal/logger"
	"attendance/internal/middleware"
)

const sessionMaxAge = 2592000 // 30 days

// LoginHandler handles POST /auth/login by validating password and issuing an auth cookie.
func LoginHandler(password string, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		given := r.FormValue("password")
		if subtle.ConstantTimeCompare([]byte(given), []byte(password)) != 1 {
			logger.Warning("Failed login attempt from %s", r.RemoteAddr)
			respondError(w, http.StatusUnauthorized, "invalid password")
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     middleware.CookieName,
			Value:    middleware.Token(password),
			Path:     "/",
			MaxAge:   sessionMaxAge,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

// LogoutHandler clears the authentication cookie and redirects to the login page.
func LogoutHandler(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:   middleware.CookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
