package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// SafetyMargin is subtracted from a credential's lifetime so a token is
	// never presented in the last minutes before the issuer expires it.
	SafetyMargin = 300 * time.Second
	defaultTTL   = 7200 * time.Second
	tokenPath    = "/services/oauth2/token"
)

// Config holds the client identity used for the credential exchange.
type Config struct {
	Domain       string // host name ("acme.my.salesforce.com") or full base URL
	ClientID     string
	ClientSecret string
}

// Credential is the single cached access token.
type Credential struct {
	AccessToken string
	InstanceURL string
	TokenType   string
	IssuedAt    time.Time
	TTL         time.Duration
}

// ValidAt reports whether the credential may still be presented at now.
func (c Credential) ValidAt(now time.Time) bool {
	if c.AccessToken == "" {
		return false
	}
	return now.Before(c.IssuedAt.Add(c.TTL - SafetyMargin))
}

// AuthorizationError reports a failed credential exchange.
type AuthorizationError struct {
	Message string
	Err     error
}

func (e *AuthorizationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authorization failed: %s: %v", e.Message, e.Err)
	}
	return "authorization failed: " + e.Message
}

func (e *AuthorizationError) Unwrap() error { return e.Err }

// Gateway holds the process-wide credential slot and forwards requests to
// the data API with a bearer token attached.
type Gateway struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
	logger     *slog.Logger

	mu     sync.RWMutex
	cached Credential

	refresh singleflight.Group
}

type Option func(*Gateway)

func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		g.httpClient = c
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// New creates a gateway for the configured org.
func New(cfg Config, opts ...Option) *Gateway {
	g := &Gateway{
		cfg:        cfg,
		baseURL:    BaseURL(cfg.Domain),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// BaseURL turns a configured domain into an absolute base URL. Bare host
// names are assumed to be served over https.
func BaseURL(domain string) string {
	domain = strings.TrimRight(strings.TrimSpace(domain), "/")
	if strings.HasPrefix(domain, "http://") || strings.HasPrefix(domain, "https://") {
		return domain
	}
	return "https://" + domain
}

// Authorize returns the cached credential while it is valid and otherwise
// exchanges the client identity for a new one. Concurrent callers that find
// the slot stale share one exchange.
func (g *Gateway) Authorize(ctx context.Context) (Credential, error) {
	g.mu.RLock()
	cred := g.cached
	g.mu.RUnlock()
	if cred.ValidAt(g.now()) {
		return cred, nil
	}

	ch := g.refresh.DoChan("token", func() (any, error) {
		// Another caller may have refreshed while we waited for the group.
		g.mu.RLock()
		current := g.cached
		g.mu.RUnlock()
		if current.ValidAt(g.now()) {
			return current, nil
		}

		fresh, err := g.exchange(context.WithoutCancel(ctx))
		if err != nil {
			return Credential{}, err
		}
		g.mu.Lock()
		g.cached = fresh
		g.mu.Unlock()
		g.logger.Debug("credential refreshed", "ttl", fresh.TTL)
		return fresh, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Credential{}, res.Err
		}
		return res.Val.(Credential), nil
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	}
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	InstanceURL      string `json:"instance_url"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (g *Gateway) exchange(ctx context.Context) (Credential, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", g.cfg.ClientID)
	form.Set("client_secret", g.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return Credential{}, &AuthorizationError{Message: "create token request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	issuedAt := g.now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return Credential{}, &AuthorizationError{Message: "token request", Err: err}
	}
	defer resp.Body.Close()

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return Credential{}, &AuthorizationError{Message: fmt.Sprintf("decode token response (status %d)", resp.StatusCode), Err: err}
	}
	if tr.AccessToken == "" {
		msg := tr.ErrorDescription
		if msg == "" {
			msg = "OAuth failed"
		}
		return Credential{}, &AuthorizationError{Message: msg}
	}

	ttl := time.Duration(tr.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return Credential{
		AccessToken: tr.AccessToken,
		InstanceURL: tr.InstanceURL,
		TokenType:   tr.TokenType,
		IssuedAt:    issuedAt,
		TTL:         ttl,
	}, nil
}

// Forward sends method/path to the data API with the bearer credential and
// returns the downstream status and body untouched.
func (g *Gateway) Forward(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	cred, err := g.Authorize(ctx)
	if err != nil {
		return 0, nil, err
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("forward %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, payload, nil
}
