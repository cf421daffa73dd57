package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dukerupert/loyaltyportal/internal/gateway"
	"github.com/dukerupert/loyaltyportal/internal/query"
)

// maxProxyBody caps request bodies relayed to the data API.
const maxProxyBody = 1 << 20

// ProxyHandler relays /api/data/{path...} to the versioned data API with the
// portal's credential and returns the downstream response as-is.
type ProxyHandler struct {
	fwd      query.Forwarder
	dataRoot string
	logger   *slog.Logger
}

func NewProxyHandler(fwd query.Forwarder, apiVersion string, logger *slog.Logger) *ProxyHandler {
	if apiVersion == "" {
		apiVersion = query.DefaultAPIVersion
	}
	return &ProxyHandler{fwd: fwd, dataRoot: "/services/data/" + apiVersion, logger: logger}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxProxyBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
		return
	}

	path := h.dataRoot + "/" + r.PathValue("path")
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	status, payload, err := h.fwd.Forward(r.Context(), r.Method, path, body)
	if err != nil {
		h.logger.Warn("proxy request failed", "method", r.Method, "path", path, "error", err)
		msg := err.Error()
		var ae *gateway.AuthorizationError
		if errors.As(err, &ae) {
			msg = ae.Message
		}
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": msg})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(payload)
}
