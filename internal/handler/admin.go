package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dukerupert/loyaltyportal/internal/dashboard"
)

// Unenroller removes a member's promotion enrollment.
type Unenroller interface {
	Unenroll(ctx context.Context, accountID, promotionID string) error
}

// AdminHandler exposes the demo reset outside the household dialog.
type AdminHandler struct {
	promotions Unenroller
	demo       dashboard.DemoTarget
	logger     *slog.Logger
}

func NewAdminHandler(u Unenroller, demo dashboard.DemoTarget, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{promotions: u, demo: demo, logger: logger}
}

func (h *AdminHandler) DemoReset(w http.ResponseWriter, r *http.Request) {
	if h.demo.AccountID == "" || h.demo.PromotionID == "" {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "demo mode is not configured"})
		return
	}
	if err := h.promotions.Unenroll(r.Context(), h.demo.AccountID, h.demo.PromotionID); err != nil {
		h.logger.Warn("demo reset failed", "error", err)
		writeError(w, err)
		return
	}
	h.logger.Info("demo reset", "account", h.demo.AccountID, "promotion", h.demo.PromotionID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
