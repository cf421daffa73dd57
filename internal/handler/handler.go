package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dukerupert/loyaltyportal/internal/dashboard"
	"github.com/dukerupert/loyaltyportal/internal/gateway"
	"github.com/dukerupert/loyaltyportal/internal/promotion"
	"github.com/dukerupert/loyaltyportal/internal/query"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorStatus maps a portal error onto a status and a message safe to show.
func errorStatus(err error) (int, string) {
	var (
		cmdErr   *query.CommandError
		queryErr *query.RemoteQueryError
		authErr  *gateway.AuthorizationError
	)
	switch {
	case errors.Is(err, dashboard.ErrMembershipNumberRequired),
		errors.Is(err, dashboard.ErrInvalidView),
		errors.Is(err, promotion.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, dashboard.ErrMemberNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, dashboard.ErrNoMember),
		errors.Is(err, dashboard.ErrNoHousehold),
		errors.Is(err, dashboard.ErrNotHouseholdMember),
		errors.Is(err, dashboard.ErrHouseholdDecisionPending),
		errors.Is(err, dashboard.ErrNoPendingHousehold),
		errors.Is(err, dashboard.ErrSuperseded),
		errors.Is(err, dashboard.ErrStateChanged),
		errors.Is(err, promotion.ErrProgramUnknown):
		return http.StatusConflict, err.Error()
	case errors.As(err, &cmdErr):
		return http.StatusUnprocessableEntity, cmdErr.Message
	case errors.As(err, &authErr):
		return http.StatusBadGateway, authErr.Message
	case errors.As(err, &queryErr):
		return http.StatusBadGateway, queryErr.Message
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "loyalty service timed out"
	}
	return http.StatusInternalServerError, "internal error"
}

func writeError(w http.ResponseWriter, err error) {
	status, msg := errorStatus(err)
	writeJSON(w, status, map[string]string{"error": msg})
}
