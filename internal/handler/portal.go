package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/loyaltyportal/internal/auth"
	"github.com/dukerupert/loyaltyportal/internal/dashboard"
	"github.com/dukerupert/loyaltyportal/internal/household"
	"github.com/dukerupert/loyaltyportal/internal/middleware"
	"github.com/dukerupert/loyaltyportal/internal/model"
	"github.com/dukerupert/loyaltyportal/internal/store"
)

// PortalHandler drives a browser session's dashboard. Every route expects
// EnsureSession to have run.
type PortalHandler struct {
	registry *dashboard.Registry
	sessions *store.SessionStore
	activity *store.ActivityStore
	logger   *slog.Logger
}

func NewPortalHandler(reg *dashboard.Registry, ss *store.SessionStore, as *store.ActivityStore, logger *slog.Logger) *PortalHandler {
	return &PortalHandler{registry: reg, sessions: ss, activity: as, logger: logger}
}

func (h *PortalHandler) session(r *http.Request) *dashboard.Session {
	return h.registry.Get(auth.Token(r.Context()))
}

// record stores one activity entry. Failures are logged and otherwise ignored.
func (h *PortalHandler) record(r *http.Request, kind, number, detail string, err error) {
	id := auth.SessionID(r.Context())
	if id == 0 {
		return
	}
	outcome := model.OutcomeOK
	if err != nil {
		outcome = model.OutcomeFailed
	}
	if _, rerr := h.activity.Record(id, kind, number, detail, outcome); rerr != nil {
		h.logger.Warn("record activity", "error", rerr, "kind", kind)
	}
}

// currentNumber names the member an operation acted on, falling back to the
// session's last snapshot when the operation failed.
func currentNumber(sess *dashboard.Session, snap dashboard.Snapshot) string {
	if snap.Current == nil {
		snap = sess.Snapshot()
	}
	if snap.Current == nil {
		return ""
	}
	return snap.Current.MembershipNumber
}

func (h *PortalHandler) respond(w http.ResponseWriter, snap dashboard.Snapshot, err error) {
	if err != nil {
		status, _ := errorStatus(err)
		if status >= 500 {
			h.logger.Error("dashboard operation failed", "error", err)
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type loginRequest struct {
	MembershipNumber string `json:"membership_number"`
}

func (h *PortalHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	number := strings.TrimSpace(req.MembershipNumber)

	snap, err := h.session(r).Login(r.Context(), number)
	h.record(r, model.ActivityLogin, number, "", err)
	if err == nil {
		if serr := h.sessions.SetMember(auth.SessionID(r.Context()), number); serr != nil {
			h.logger.Warn("remember session member", "error", serr)
		}
	}
	h.respond(w, snap, err)
}

type viewRequest struct {
	View string `json:"view"`
}

func (h *PortalHandler) SwitchView(w http.ResponseWriter, r *http.Request) {
	var req viewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	view, err := dashboard.ParseView(req.View)
	if err != nil {
		writeError(w, err)
		return
	}

	sess := h.session(r)
	snap, err := sess.SwitchView(r.Context(), view)
	h.record(r, model.ActivityView, currentNumber(sess, snap), string(view), err)
	h.respond(w, snap, err)
}

func (h *PortalHandler) SelectMember(w http.ResponseWriter, r *http.Request) {
	number := r.PathValue("number")
	snap, err := h.session(r).SelectMember(r.Context(), number)
	h.record(r, model.ActivitySelect, number, "", err)
	h.respond(w, snap, err)
}

func (h *PortalHandler) AcceptHousehold(w http.ResponseWriter, r *http.Request) {
	sess := h.session(r)
	snap, err := sess.AcceptHousehold(r.Context())
	h.record(r, model.ActivityAccept, currentNumber(sess, snap), "", err)
	h.respond(w, snap, err)
}

func (h *PortalHandler) DeclineHousehold(w http.ResponseWriter, r *http.Request) {
	sess := h.session(r)
	snap, err := sess.DeclineHousehold(r.Context())
	h.record(r, model.ActivityDecline, currentNumber(sess, snap), "", err)
	h.respond(w, snap, err)
}

type enrollRequest struct {
	PromotionName    string `json:"promotion_name"`
	MembershipNumber string `json:"membership_number"`
}

func (h *PortalHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	req.PromotionName = strings.TrimSpace(req.PromotionName)
	if req.PromotionName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "promotion_name is required"})
		return
	}

	sess := h.session(r)
	snap, err := sess.EnrollInPromotion(r.Context(), req.PromotionName, req.MembershipNumber)
	number := strings.TrimSpace(req.MembershipNumber)
	if number == "" {
		number = currentNumber(sess, snap)
	}
	h.record(r, model.ActivityEnroll, number, req.PromotionName, err)
	h.respond(w, snap, err)
}

// Dashboard returns the last committed snapshot, or an idle one before the
// first login.
func (h *PortalHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.registry.Lookup(auth.Token(r.Context()))
	if !ok {
		writeJSON(w, http.StatusOK, dashboard.Snapshot{Phase: household.PhaseIdle})
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// Logout forgets the session's dashboard and deletes the session row.
func (h *PortalHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sc, _ := auth.FromContext(r.Context())
	h.registry.Remove(sc.Token)
	if err := h.sessions.Delete(sc.SessionID); err != nil {
		h.logger.Error("delete session", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to log out"})
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *PortalHandler) Activity(w http.ResponseWriter, r *http.Request) {
	entries, err := h.activity.ListBySession(auth.SessionID(r.Context()))
	if err != nil {
		h.logger.Error("list activity", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list activity"})
		return
	}
	if entries == nil {
		entries = []model.Activity{}
	}
	writeJSON(w, http.StatusOK, entries)
}
