package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/loyaltyportal/internal/config"
	"github.com/dukerupert/loyaltyportal/internal/dashboard"
	"github.com/dukerupert/loyaltyportal/internal/handler"
	"github.com/dukerupert/loyaltyportal/internal/member"
	"github.com/dukerupert/loyaltyportal/internal/middleware"
	"github.com/dukerupert/loyaltyportal/internal/promotion"
	"github.com/dukerupert/loyaltyportal/internal/query"
	"github.com/dukerupert/loyaltyportal/internal/store"
	ws "github.com/dukerupert/loyaltyportal/internal/websocket"
)

// Requests per minute.
const (
	loginPerSession = 5
	loginPerIP      = 30
	adminPerIP      = 10
)

// proxyMethods are the verbs relayed to the data API.
var proxyMethods = []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions}

type Server struct {
	cfg           config.Config
	hub           *ws.Hub
	registry      *dashboard.Registry
	portalH       *handler.PortalHandler
	configH       *handler.ConfigHandler
	proxyH        *handler.ProxyHandler
	adminH        *handler.AdminHandler
	sessionStore  *store.SessionStore
	activityStore *store.ActivityStore
	rateLimiter   *middleware.RateLimiter
	logger        *slog.Logger
}

// New wires the portal. fwd is the authenticated gateway to the data API.
func New(db *sql.DB, cfg config.Config, fwd query.Forwarder, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))
	client := query.NewService(fwd, cfg.Salesforce.APIVersion)

	sessionStore := store.NewSessionStore(db)
	activityStore := store.NewActivityStore(db)

	overrides := member.Overrides{
		QualifyingCurrency:    cfg.Loyalty.Currencies.Qualifying,
		NonQualifyingCurrency: cfg.Loyalty.Currencies.NonQualifying,
		ProgramID:             cfg.Loyalty.ProgramID,
		ProgramName:           cfg.Loyalty.ProgramName,
	}
	var demo dashboard.DemoTarget
	if cfg.DemoActive() {
		demo = dashboard.DemoTarget{AccountID: cfg.Demo.AutoUnenrollMemberID, PromotionID: cfg.Demo.AutoUnenrollPromotionID}
	}

	dashLogger := logger.With("component", "dashboard")
	registry := dashboard.NewRegistry(dashboard.Deps{
		Client:    client,
		Overrides: overrides,
		Strategy:  promotion.Strategy(cfg.Loyalty.EligibilityStrategy),
		Process:   cfg.Loyalty.EligiblePromotionsProcess,
		Options: dashboard.Options{
			ProgressCurrency: cfg.Loyalty.ProgressCurrency,
			Demo:             demo,
		},
		Renderer: hub,
		Logger:   dashLogger,
	})

	adminLogger := logger.With("component", "admin")
	demoEngine := promotion.NewEngine(client, member.NewResolver(client, overrides, adminLogger))

	return &Server{
		cfg:           cfg,
		hub:           hub,
		registry:      registry,
		portalH:       handler.NewPortalHandler(registry, sessionStore, activityStore, logger.With("component", "portal")),
		configH:       handler.NewConfigHandler(cfg),
		proxyH:        handler.NewProxyHandler(fwd, cfg.Salesforce.APIVersion, logger.With("component", "proxy")),
		adminH:        handler.NewAdminHandler(demoEngine, demo, adminLogger),
		sessionStore:  sessionStore,
		activityStore: activityStore,
		rateLimiter:   middleware.NewRateLimiter(),
		logger:        logger,
	}
}

// SessionStore returns the session store for use by background cleanup.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

func (s *Server) ActivityStore() *store.ActivityStore {
	return s.activityStore
}

// Registry returns the in-memory dashboard sessions for idle sweeping.
func (s *Server) Registry() *dashboard.Registry {
	return s.registry
}

// RateLimiter returns the rate limiter for use by background cleanup.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /api/config", middleware.CORS(http.HandlerFunc(s.configH.Get)))

	// Session routes
	mux.Handle("POST /api/login", s.withSession(s.loginLimited(s.portalH.Login).ServeHTTP))
	mux.Handle("POST /api/view", s.withSession(s.portalH.SwitchView))
	mux.Handle("POST /api/members/{number}/select", s.withSession(s.portalH.SelectMember))
	mux.Handle("POST /api/household/accept", s.withSession(s.portalH.AcceptHousehold))
	mux.Handle("POST /api/household/decline", s.withSession(s.portalH.DeclineHousehold))
	mux.Handle("POST /api/promotions/enroll", s.withSession(s.portalH.Enroll))
	mux.Handle("GET /api/dashboard", s.withSession(s.portalH.Dashboard))
	mux.Handle("GET /api/activity", s.withSession(s.portalH.Activity))
	mux.Handle("POST /api/logout", s.withSession(s.portalH.Logout))
	mux.Handle("GET /ws", s.withSession(ws.HandleWebSocket(s.hub, s.registry.Snapshot, s.logger.With("component", "websocket"))))

	admin := middleware.RequireAdmin(s.cfg.Demo.AdminPasswordHash)
	mux.Handle("POST /api/admin/demo-reset", s.adminLimited(admin(http.HandlerFunc(s.adminH.DemoReset))))

	if s.cfg.Proxy.Enabled {
		proxy := middleware.CORS(s.proxyH)
		for _, m := range proxyMethods {
			mux.Handle(m+" /api/data/{path...}", proxy)
		}
	}

	if s.cfg.Server.StaticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(s.cfg.Server.StaticDir)))
	}

	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) withSession(h http.HandlerFunc) http.Handler {
	return middleware.EnsureSession(s.sessionStore, s.cfg.Server.SecureCookies, s.logger.With("component", "session"))(h)
}

// Login attempts are limited per session and, more loosely, per address.
func (s *Server) loginLimited(h http.HandlerFunc) http.Handler {
	return middleware.RateLimit(s.rateLimiter,
		middleware.Rule{Name: "login-session", Key: middleware.BySession, Limit: loginPerSession, Window: time.Minute},
		middleware.Rule{Name: "login-ip", Key: middleware.ByIP, Limit: loginPerIP, Window: time.Minute},
	)(h)
}

func (s *Server) adminLimited(h http.Handler) http.Handler {
	return middleware.RateLimit(s.rateLimiter,
		middleware.Rule{Name: "admin", Key: middleware.ByIP, Limit: adminPerIP, Window: time.Minute},
	)(h)
}
