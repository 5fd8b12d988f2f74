// Package diag provides the read-only Diagnostics API (component C12):
// process status, the current ODID Record, arm-status and its history,
// the (redacted) parameter table, buffered logs, and a WebSocket feed
// broadcasting record and arm-status updates. Adapted from the
// teacher's internal/api server, trimmed to a read-only surface — no
// configuration mutation, alert-rule or geofence CRUD, and no Web UI.
package diag

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ardupilot/remoteid-module/internal/config"
	"github.com/ardupilot/remoteid-module/internal/core/armhistory"
	"github.com/ardupilot/remoteid-module/internal/core/logger"
	"github.com/ardupilot/remoteid-module/internal/diag/auth"
	"github.com/ardupilot/remoteid-module/internal/diag/handlers"
	"github.com/ardupilot/remoteid-module/internal/diag/ratelimit"
	"github.com/ardupilot/remoteid-module/internal/models"
	"github.com/ardupilot/remoteid-module/internal/params"
)

// StateProvider exposes the Engine surface the diagnostics API reads
// from. It never mutates engine state.
type StateProvider interface {
	Snapshot() models.Record
	ArmStatus() (models.ArmStatus, string)
	ArmHistory(n int) []armhistory.Event
	LinkNames() []string
	BackendNames() []string
}

// Server is the read-only diagnostics HTTP server.
type Server struct {
	cfg       config.HTTPConfig
	provider  StateProvider
	params    *params.Parameters
	server    *http.Server
	router    *chi.Mux
	hub       *Hub
	version   string
	started   time.Time

	authEnabled bool
	authManager *auth.Manager

	logBuffer   *logger.Buffer
	logsHandler *handlers.LogsHandler
}

// New creates a diagnostics server bound to provider and the parameter
// table. logBufferSize <= 0 falls back to a 1000-entry buffer.
func New(cfg config.HTTPConfig, provider StateProvider, p *params.Parameters, version string, logBufferSize int) *Server {
	if logBufferSize <= 0 {
		logBufferSize = 1000
	}

	s := &Server{
		cfg:         cfg,
		provider:    provider,
		params:      p,
		hub:         NewHub(),
		version:     version,
		authEnabled: cfg.Auth.Enabled,
		logBuffer:   logger.New(logBufferSize),
	}
	s.logsHandler = handlers.NewLogsHandler(s.logBuffer)

	if cfg.Auth.Enabled {
		s.authManager = auth.NewManager(
			cfg.Auth.Username,
			cfg.Auth.PasswordHash,
			cfg.Auth.JWTSecret,
			cfg.Auth.TokenExpiryHours,
		)
		log.Printf("[diag] authentication enabled for user: %s", cfg.Auth.Username)
	}

	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	if s.cfg.RateLimit.Enabled {
		requestsPerSec := s.cfg.RateLimit.RequestsPerSec
		if requestsPerSec <= 0 {
			requestsPerSec = 100
		}
		burstSize := s.cfg.RateLimit.BurstSize
		if burstSize <= 0 {
			burstSize = 200
		}
		limiter := ratelimit.NewIPRateLimiter(requestsPerSec, burstSize)
		r.Use(ratelimit.Middleware(limiter))
		log.Printf("[diag] rate limiting enabled (%.0f req/s, burst %d)", requestsPerSec, burstSize)
	}
	r.Use(middleware.RealIP)

	if s.cfg.CORSEnabled {
		origins := s.cfg.CORSOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET"},
			AllowedHeaders:   []string{"Accept", "Authorization"},
			ExposedHeaders:   []string{"Link"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", s.handleLogin)
			r.Get("/me", s.handleGetMe)
		})

		r.Group(func(r chi.Router) {
			if s.authEnabled {
				r.Use(auth.Middleware(s.authManager))
			}
			r.Get("/status", s.handleStatus)
			r.Get("/record", s.handleGetRecord)
			r.Get("/arm-status", s.handleArmStatus)
			r.Get("/arm-status/history", s.handleArmStatusHistory)
			r.Get("/params", s.handleGetParams)

			if s.logsHandler != nil {
				r.Route("/logs", func(r chi.Router) {
					r.Get("/", s.logsHandler.GetLogs)
					r.Get("/stream", s.logsHandler.StreamLogs)
				})
			}
		})

		r.Group(func(r chi.Router) {
			r.Get("/ws", s.serveWs)
		})
	})

	r.Get("/health", s.handleHealth)

	s.router = r
}

// Start begins serving HTTP requests and runs the broadcast hub.
func (s *Server) Start(ctx context.Context) error {
	s.started = time.Now()
	s.server = &http.Server{
		Addr:         s.cfg.Address,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go s.hub.Run()

	go func() {
		log.Printf("[diag] server listening on %s", s.cfg.Address)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[diag] server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log.Printf("[diag] server shutting down...")
	return s.server.Shutdown(ctx)
}

// BroadcastRecord forwards a Record update to all WebSocket clients.
func (s *Server) BroadcastRecord(rec models.Record) {
	if s.hub != nil {
		s.hub.BroadcastRecord(rec)
	}
}

// BroadcastArmStatus forwards an arm-status transition to all WebSocket clients.
func (s *Server) BroadcastArmStatus(ev armhistory.Event) {
	if s.hub != nil {
		s.hub.BroadcastArmStatus(ev)
	}
}

// GetLogBuffer returns the log buffer for integration with the global logger.
func (s *Server) GetLogBuffer() *logger.Buffer {
	return s.logBuffer
}

// Response types

// StatusResponse is the response for /api/v1/status.
type StatusResponse struct {
	Version       string   `json:"version"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	Links         []string `json:"links"`
	Backends      []string `json:"backends"`
	Stats         Stats    `json:"stats"`
}

// Stats reports module-wide counters.
type Stats struct {
	WebSocketClients int `json:"websocket_clients"`
}

// ArmStatusResponse is the response for /api/v1/arm-status.
type ArmStatusResponse struct {
	Status uint8  `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// ArmStatusHistoryResponse is the response for /api/v1/arm-status/history.
type ArmStatusHistoryResponse struct {
	Count  int                 `json:"count"`
	Events []armhistory.Event `json:"events"`
}

// ParamEntry is one row of the redacted /api/v1/params response.
type ParamEntry struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Value  string `json:"value"`
	Hidden bool   `json:"hidden"`
}

// ParamsResponse is the response for /api/v1/params.
type ParamsResponse struct {
	Count  int          `json:"count"`
	Params []ParamEntry `json:"params"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Links:         s.provider.LinkNames(),
		Backends:      s.provider.BackendNames(),
		Stats: Stats{
			WebSocketClients: s.hub.ClientCount(),
		},
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.provider.Snapshot())
}

func (s *Server) handleArmStatus(w http.ResponseWriter, r *http.Request) {
	status, reason := s.provider.ArmStatus()
	s.writeJSON(w, http.StatusOK, ArmStatusResponse{Status: uint8(status), Reason: reason})
}

func (s *Server) handleArmStatusHistory(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}

	events := s.provider.ArmHistory(limit)
	s.writeJSON(w, http.StatusOK, ArmStatusHistoryResponse{Count: len(events), Events: events})
}

func (s *Server) handleGetParams(w http.ResponseWriter, r *http.Request) {
	if s.params == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "parameter store not available"})
		return
	}

	n := s.params.Count()
	entries := make([]ParamEntry, 0, n)
	for i := 0; i < n; i++ {
		d, ok := s.params.FindByIndex(i)
		if !ok {
			continue
		}
		value, _ := d.GetString()
		entries = append(entries, ParamEntry{
			Index:  i,
			Name:   d.Name,
			Value:  value,
			Hidden: d.Hidden(),
		})
	}

	s.writeJSON(w, http.StatusOK, ParamsResponse{Count: len(entries), Params: entries})
}

// Authentication handlers

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.authEnabled {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"auth_enabled": false,
			"message":      "authentication is disabled",
		})
		return
	}

	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := s.authManager.ValidateCredentials(req.Username, req.Password); err != nil {
		s.writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid username or password"})
		return
	}

	token, expiresAt, err := s.authManager.GenerateToken(req.Username)
	if err != nil {
		log.Printf("[diag] failed to generate token: %v", err)
		s.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to generate token"})
		return
	}

	s.writeJSON(w, http.StatusOK, auth.LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      s.authManager.GetUser(),
	})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	if !s.authEnabled {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"auth_enabled": false,
			"user":         auth.User{Username: "anonymous", Role: "admin"},
		})
		return
	}

	authHeader := r.Header.Get("Authorization")
	if len(authHeader) < 8 || authHeader[:7] != "Bearer " {
		s.writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing authorization header"})
		return
	}

	tokenInfo, err := s.authManager.ValidateToken(authHeader[7:])
	if err != nil {
		if err == auth.ErrTokenExpired {
			s.writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "token has expired"})
		} else {
			s.writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
		}
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"auth_enabled": true,
		"user":         auth.User{Username: tokenInfo.Username, Role: tokenInfo.Role},
	})
}

// originAllowed checks the WebSocket upgrade's Origin header against
// the configured CORS policy, the same policy the REST routes already
// enforce via cors.Handler. Requests with no Origin header (non-browser
// clients) are allowed through, matching the REST CORS middleware's own
// behavior of only acting on browser-supplied Origin headers.
func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if !s.cfg.CORSEnabled {
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	}
	for _, allowed := range s.cfg.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// wsTokenValid checks the bearer token required to open the WebSocket
// feed, accepted either as a normal Authorization header or (since
// browser WebSocket clients cannot set one) a ?token= query parameter.
func (s *Server) wsTokenValid(r *http.Request) bool {
	token := r.URL.Query().Get("token")
	if token == "" {
		authHeader := r.Header.Get("Authorization")
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			token = authHeader[7:]
		}
	}
	if token == "" {
		return false
	}
	_, err := s.authManager.ValidateToken(token)
	return err == nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
