package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/loyaltyportal/internal/auth"
	"github.com/dukerupert/loyaltyportal/internal/store"
)

// SessionCookieName names the cookie holding the portal session token.
const SessionCookieName = "portal_session"

func jsonError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// EnsureSession resolves the session cookie, creating a session and setting
// the cookie when it is missing or expired, and populates SessionContext.
func EnsureSession(sessionStore *store.SessionStore, secure bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
				sess, err := sessionStore.GetByToken(cookie.Value)
				if err != nil {
					logger.Error("look up session", "error", err)
					jsonError(w, http.StatusInternalServerError, "session lookup failed")
					return
				}
				if sess != nil {
					if err := sessionStore.Touch(sess.ID); err != nil {
						logger.Warn("touch session", "error", err)
					}
					ctx := auth.WithSession(r.Context(), auth.SessionContext{
						SessionID:        sess.ID,
						Token:            sess.Token,
						MembershipNumber: sess.MembershipNumber,
					})
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			sess, err := sessionStore.Create()
			if err != nil {
				logger.Error("create session", "error", err)
				jsonError(w, http.StatusInternalServerError, "could not start session")
				return
			}
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookieName,
				Value:    sess.Token,
				Path:     "/",
				Expires:  sess.ExpiresAt,
				HttpOnly: true,
				Secure:   secure,
				SameSite: http.SameSiteLaxMode,
			})
			ctx := auth.WithSession(r.Context(), auth.SessionContext{
				SessionID: sess.ID,
				Token:     sess.Token,
				Fresh:     true,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin checks HTTP basic auth against a bcrypt password hash. An
// empty hash disables the guarded routes entirely.
func RequireAdmin(passwordHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if passwordHash == "" {
				jsonError(w, http.StatusNotFound, "not found")
				return
			}
			_, password, ok := r.BasicAuth()
			if !ok || bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="portal admin"`)
				jsonError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
