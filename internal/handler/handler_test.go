package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukerupert/loyaltyportal/internal/config"
	"github.com/dukerupert/loyaltyportal/internal/dashboard"
	"github.com/dukerupert/loyaltyportal/internal/database"
	"github.com/dukerupert/loyaltyportal/internal/gateway"
	"github.com/dukerupert/loyaltyportal/internal/middleware"
	"github.com/dukerupert/loyaltyportal/internal/model"
	"github.com/dukerupert/loyaltyportal/internal/promotion"
	"github.com/dukerupert/loyaltyportal/internal/query"
	"github.com/dukerupert/loyaltyportal/internal/query/querytest"
	"github.com/dukerupert/loyaltyportal/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedMember answers the queries a standalone login needs.
func seedMember(f *querytest.Fake, id, number string) {
	f.OnQuery([]string{"FROM LoyaltyProgramMember WHERE MembershipNumber = '" + number + "'"}, map[string]any{
		"Id": id, "MembershipNumber": number, "MemberStatus": "Active", "MemberType": "Individual",
		"Contact": map[string]any{"Name": "Ada Miller"}, "ProgramId": "prog-1", "Program": map[string]any{"Name": "Rewards Club"},
	})
	f.OnQuery([]string{"FROM LoyaltyMemberCurrency WHERE LoyaltyMemberId = '" + id + "'"},
		map[string]any{"LoyaltyMemberId": id, "PointsBalance": 500,
			"LoyaltyProgramCurrency": map[string]any{"Name": "Tier Points", "IsQualifyingCurrency": true}},
		map[string]any{"LoyaltyMemberId": id, "PointsBalance": 1200,
			"LoyaltyProgramCurrency": map[string]any{"Name": "Reward Points", "IsQualifyingCurrency": false}},
	)
}

type portalEnv struct {
	fake     *querytest.Fake
	sessions *store.SessionStore
	registry *dashboard.Registry
	handler  http.Handler
}

func setupPortal(t *testing.T) *portalEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	fake := querytest.New()
	ss := store.NewSessionStore(db)
	as := store.NewActivityStore(db)
	reg := dashboard.NewRegistry(dashboard.Deps{
		Client:   fake,
		Strategy: promotion.StrategyCatalog,
		Logger:   discardLogger(),
	})
	h := NewPortalHandler(reg, ss, as, discardLogger())

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login", h.Login)
	mux.HandleFunc("POST /api/view", h.SwitchView)
	mux.HandleFunc("POST /api/members/{number}/select", h.SelectMember)
	mux.HandleFunc("POST /api/household/accept", h.AcceptHousehold)
	mux.HandleFunc("POST /api/promotions/enroll", h.Enroll)
	mux.HandleFunc("GET /api/dashboard", h.Dashboard)
	mux.HandleFunc("GET /api/activity", h.Activity)
	mux.HandleFunc("POST /api/logout", h.Logout)

	return &portalEnv{
		fake:     fake,
		sessions: ss,
		registry: reg,
		handler:  middleware.EnsureSession(ss, false, discardLogger())(mux),
	}
}

// do sends one request, carrying the session cookie when given, and returns
// the recorder plus the cookie to use next.
func (e *portalEnv) do(t *testing.T, method, path, body string, cookie *http.Cookie) (*httptest.ResponseRecorder, *http.Cookie) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			cookie = c
		}
	}
	return rec, cookie
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&m); err != nil {
		t.Fatalf("decode: %v (body %q)", err, rec.Body.String())
	}
	return m
}

func TestLoginDashboardActivity(t *testing.T) {
	env := setupPortal(t)
	seedMember(env.fake, "id-100", "A-100")

	rec, cookie := env.do(t, "POST", "/api/login", `{"membership_number":" A-100 "}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body)
	}
	if cookie == nil {
		t.Fatal("expected a session cookie")
	}
	snap := decodeMap(t, rec)
	if snap["phase"] != "standalone" {
		t.Errorf("phase = %v, want standalone", snap["phase"])
	}

	rec, _ = env.do(t, "GET", "/api/dashboard", "", cookie)
	snap = decodeMap(t, rec)
	current, _ := snap["current"].(map[string]any)
	if current["membership_number"] != "A-100" {
		t.Errorf("dashboard current = %v", snap["current"])
	}

	sess, _ := env.sessions.GetByToken(cookie.Value)
	if sess == nil || sess.MembershipNumber != "A-100" {
		t.Errorf("session row = %+v, want member A-100", sess)
	}

	rec, _ = env.do(t, "GET", "/api/activity", "", cookie)
	var entries []model.Activity
	if err := json.NewDecoder(rec.Body).Decode(&entries); err != nil {
		t.Fatalf("decode activity: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != model.ActivityLogin || entries[0].Outcome != model.OutcomeOK {
		t.Errorf("activity = %+v", entries)
	}
}

func TestDashboardBeforeLoginIsIdle(t *testing.T) {
	env := setupPortal(t)
	rec, _ := env.do(t, "GET", "/api/dashboard", "", nil)
	if m := decodeMap(t, rec); m["phase"] != "idle" {
		t.Errorf("phase = %v, want idle", m["phase"])
	}
	if env.registry.Len() != 0 {
		t.Errorf("registry = %d, want no dashboard created by a read", env.registry.Len())
	}
}

func TestLogout(t *testing.T) {
	env := setupPortal(t)
	seedMember(env.fake, "id-100", "A-100")
	_, cookie := env.do(t, "POST", "/api/login", `{"membership_number":"A-100"}`, nil)

	rec, _ := env.do(t, "POST", "/api/logout", "", cookie)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if sess, _ := env.sessions.GetByToken(cookie.Value); sess != nil {
		t.Error("session row should be deleted")
	}
	if env.registry.Len() != 0 {
		t.Errorf("registry = %d, want 0", env.registry.Len())
	}
}

func TestLoginErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"blank number", `{"membership_number":"  "}`, http.StatusBadRequest},
		{"unknown member", `{"membership_number":"Z-9"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupPortal(t)
			rec, _ := env.do(t, "POST", "/api/login", tt.body, nil)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if m := decodeMap(t, rec); m["error"] == "" {
				t.Error("expected error message")
			}
		})
	}
}

func TestLoginRemoteFailureIsBadGateway(t *testing.T) {
	env := setupPortal(t)
	env.fake.FailQuery(&query.RemoteQueryError{Status: 400, Message: "INVALID_FIELD"}, "FROM LoyaltyProgramMember")

	rec, cookie := env.do(t, "POST", "/api/login", `{"membership_number":"A-100"}`, nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if m := decodeMap(t, rec); m["error"] != "INVALID_FIELD" {
		t.Errorf("error = %v", m["error"])
	}

	rec, _ = env.do(t, "GET", "/api/activity", "", cookie)
	var entries []model.Activity
	json.NewDecoder(rec.Body).Decode(&entries)
	if len(entries) != 1 || entries[0].Outcome != model.OutcomeFailed {
		t.Errorf("activity = %+v, want one failed login", entries)
	}
}

func TestViewAndHouseholdNeedState(t *testing.T) {
	env := setupPortal(t)
	seedMember(env.fake, "id-100", "A-100")

	rec, cookie := env.do(t, "POST", "/api/view", `{"view":"sideways"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad view status = %d, want 400", rec.Code)
	}

	rec, cookie = env.do(t, "POST", "/api/view", `{"view":"group"}`, cookie)
	if rec.Code != http.StatusConflict {
		t.Errorf("view before login status = %d, want 409", rec.Code)
	}

	env.do(t, "POST", "/api/login", `{"membership_number":"A-100"}`, cookie)

	rec, _ = env.do(t, "POST", "/api/view", `{"view":"group"}`, cookie)
	if rec.Code != http.StatusConflict {
		t.Errorf("standalone group view status = %d, want 409", rec.Code)
	}
	rec, _ = env.do(t, "POST", "/api/household/accept", "", cookie)
	if rec.Code != http.StatusConflict {
		t.Errorf("accept without offer status = %d, want 409", rec.Code)
	}
	rec, _ = env.do(t, "POST", "/api/members/A-200/select", "", cookie)
	if rec.Code != http.StatusConflict {
		t.Errorf("select without household status = %d, want 409", rec.Code)
	}
}

func TestEnroll(t *testing.T) {
	env := setupPortal(t)
	seedMember(env.fake, "id-100", "A-100")
	env.fake.OnPost("program-processes/Enroll", nil, &query.CommandError{Status: 400, Message: "Member is already enrolled"})

	_, cookie := env.do(t, "POST", "/api/login", `{"membership_number":"A-100"}`, nil)

	rec, _ := env.do(t, "POST", "/api/promotions/enroll", `{"promotion_name":""}`, cookie)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank promotion status = %d, want 400", rec.Code)
	}

	rec, _ = env.do(t, "POST", "/api/promotions/enroll", `{"promotion_name":"Summer Bonus"}`, cookie)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("rejected enroll status = %d, want 422", rec.Code)
	}
	if m := decodeMap(t, rec); m["error"] != "Member is already enrolled" {
		t.Errorf("error = %v", m["error"])
	}

	rec, _ = env.do(t, "GET", "/api/activity", "", cookie)
	var entries []model.Activity
	json.NewDecoder(rec.Body).Decode(&entries)
	if len(entries) == 0 || entries[0].Kind != model.ActivityEnroll || entries[0].MembershipNumber != "A-100" || entries[0].Detail != "Summer Bonus" {
		t.Errorf("latest activity = %+v", entries)
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{dashboard.ErrInvalidView, http.StatusBadRequest},
		{promotion.ErrInvalidInput, http.StatusBadRequest},
		{dashboard.ErrMemberNotFound, http.StatusNotFound},
		{dashboard.ErrSuperseded, http.StatusConflict},
		{dashboard.ErrStateChanged, http.StatusConflict},
		{dashboard.ErrHouseholdDecisionPending, http.StatusConflict},
		{promotion.ErrProgramUnknown, http.StatusConflict},
		{&query.CommandError{Status: 400, Message: "no"}, http.StatusUnprocessableEntity},
		{fmt.Errorf("load: %w", &query.RemoteQueryError{Status: 500}), http.StatusBadGateway},
		{&gateway.AuthorizationError{Message: "invalid client"}, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := errorStatus(tt.err); got != tt.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestConfigHandler(t *testing.T) {
	cfg := config.Default()
	cfg.Branding.CompanyName = "Acme"
	cfg.Salesforce.ClientSecret = "hidden"

	rec := httptest.NewRecorder()
	NewConfigHandler(cfg).Get(rec, httptest.NewRequest("GET", "/api/config", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"company_name":"Acme"`) || strings.Contains(body, "hidden") {
		t.Errorf("body = %s", body)
	}
}

type stubForwarder struct {
	method, path string
	body         []byte
	status       int
	payload      string
	err          error
}

func (f *stubForwarder) Forward(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	f.method, f.path, f.body = method, path, body
	return f.status, []byte(f.payload), f.err
}

func TestProxyHandler(t *testing.T) {
	fwd := &stubForwarder{status: http.StatusOK, payload: `{"done":true,"records":[]}`}
	mux := http.NewServeMux()
	mux.Handle("/api/data/{path...}", NewProxyHandler(fwd, "v65.0", discardLogger()))

	req := httptest.NewRequest("GET", "/api/data/query?q=SELECT+Id+FROM+Voucher", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != `{"done":true,"records":[]}` {
		t.Errorf("response = %d %s", rec.Code, rec.Body)
	}
	if fwd.path != "/services/data/v65.0/query?q=SELECT+Id+FROM+Voucher" {
		t.Errorf("forwarded path = %q", fwd.path)
	}

	fwd.err = &gateway.AuthorizationError{Message: "invalid client credentials"}
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/data/sobjects/Thing", strings.NewReader(`{"a":1}`)))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
	if string(fwd.body) != `{"a":1}` || fwd.method != "POST" {
		t.Errorf("forwarded %s %s", fwd.method, fwd.body)
	}
	if m := decodeMap(t, rec); m["error"] != "invalid client credentials" {
		t.Errorf("error = %v", m["error"])
	}
}

type stubUnenroller struct {
	account, promotion string
	err                error
}

func (u *stubUnenroller) Unenroll(ctx context.Context, accountID, promotionID string) error {
	u.account, u.promotion = accountID, promotionID
	return u.err
}

func TestAdminDemoReset(t *testing.T) {
	u := &stubUnenroller{}
	h := NewAdminHandler(u, dashboard.DemoTarget{AccountID: "0lm1", PromotionID: "0c81"}, discardLogger())

	rec := httptest.NewRecorder()
	h.DemoReset(rec, httptest.NewRequest("POST", "/api/admin/demo-reset", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if u.account != "0lm1" || u.promotion != "0c81" {
		t.Errorf("unenrolled %s/%s", u.account, u.promotion)
	}

	rec = httptest.NewRecorder()
	NewAdminHandler(u, dashboard.DemoTarget{}, discardLogger()).DemoReset(rec, httptest.NewRequest("POST", "/", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("unconfigured status = %d, want 409", rec.Code)
	}
}
