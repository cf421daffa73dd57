package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/loyaltyportal/internal/auth"
	"github.com/dukerupert/loyaltyportal/internal/database"
	"github.com/dukerupert/loyaltyportal/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupAuthMiddlewareDB(t *testing.T) *store.SessionStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewSessionStore(db)
}

func captureSession(t *testing.T, got *auth.SessionContext) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc, ok := auth.FromContext(r.Context())
		if !ok {
			t.Fatal("expected SessionContext in request context")
		}
		*got = sc
		w.WriteHeader(http.StatusOK)
	})
}

func TestEnsureSessionCreatesCookie(t *testing.T) {
	ss := setupAuthMiddlewareDB(t)

	var got auth.SessionContext
	handler := EnsureSession(ss, true, discardLogger())(captureSession(t, &got))

	req := httptest.NewRequest("GET", "/api/dashboard", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != SessionCookieName {
		t.Fatalf("cookies = %+v, want one %s", cookies, SessionCookieName)
	}
	c := cookies[0]
	if !c.HttpOnly || !c.Secure || c.Path != "/" {
		t.Errorf("cookie flags = %+v", c)
	}
	if !got.Fresh || got.Token != c.Value || got.SessionID == 0 {
		t.Errorf("session context = %+v", got)
	}
}

func TestEnsureSessionReusesValidCookie(t *testing.T) {
	ss := setupAuthMiddlewareDB(t)
	sess, _ := ss.Create()
	ss.SetMember(sess.ID, "A-100")

	var got auth.SessionContext
	handler := EnsureSession(ss, false, discardLogger())(captureSession(t, &got))

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sess.Token})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if len(rec.Result().Cookies()) != 0 {
		t.Error("existing session should not get a new cookie")
	}
	if got.Fresh || got.SessionID != sess.ID || got.MembershipNumber != "A-100" {
		t.Errorf("session context = %+v", got)
	}
}

func TestEnsureSessionReplacesUnknownToken(t *testing.T) {
	ss := setupAuthMiddlewareDB(t)

	var got auth.SessionContext
	handler := EnsureSession(ss, false, discardLogger())(captureSession(t, &got))

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "invalid-token"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !got.Fresh || got.Token == "invalid-token" {
		t.Errorf("session context = %+v, want a fresh session", got)
	}
}

func TestRequireAdmin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("letmein"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		hash     string
		password string
		setAuth  bool
		want     int
	}{
		{"correct password", string(hash), "letmein", true, http.StatusOK},
		{"wrong password", string(hash), "guess", true, http.StatusUnauthorized},
		{"no credentials", string(hash), "", false, http.StatusUnauthorized},
		{"disabled", "", "letmein", true, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireAdmin(tt.hash)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest("POST", "/api/admin/demo-reset", nil)
			if tt.setAuth {
				req.SetBasicAuth("admin", tt.password)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
