package handler

import (
	"net/http"

	"github.com/dukerupert/loyaltyportal/internal/config"
)

type ConfigHandler struct {
	client config.ClientConfig
}

func NewConfigHandler(cfg config.Config) *ConfigHandler {
	return &ConfigHandler{client: cfg.Client()}
}

func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.client)
}
