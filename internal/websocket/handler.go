package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/loyaltyportal/internal/auth"
)

// HandleWebSocket upgrades a request that already carries a portal session
// and runs it as a client of that session.
func HandleWebSocket(hub *Hub, snapshot SnapshotFunc, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := auth.Token(r.Context())
		if token == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "no session"})
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true, // portal may sit behind a proxy on another origin
		})
		if err != nil {
			logger.Warn("websocket accept", "error", err)
			return
		}

		client := NewClient(hub, token, conn, snapshot)
		client.Run(r.Context())
	}
}
