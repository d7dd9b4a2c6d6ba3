// Package httpx exposes the HTTP surface of the deployment API: REST
// endpoints for auth and deployments plus websocket and SSE progress streams.
package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pterodeploy/pterodeploy/internal/domain"
	"github.com/pterodeploy/pterodeploy/internal/repository"
	"github.com/pterodeploy/pterodeploy/internal/service/auth"
	"github.com/pterodeploy/pterodeploy/internal/service/deploy"
	"github.com/pterodeploy/pterodeploy/internal/ws"
	"github.com/pterodeploy/pterodeploy/pkg/config"
)

const (
	sseHeartbeatInterval = 15 * time.Second

	writeRateLimit  = 30
	writeRateWindow = time.Minute
	authRateLimit   = 10
	authRateWindow  = time.Minute
)

// AuthService is the slice of the auth service the router needs.
type AuthService interface {
	Signup(ctx context.Context, email, password string) (*domain.User, auth.TokenPair, error)
	Login(ctx context.Context, email, password string) (*domain.User, auth.TokenPair, error)
	Authorize(ctx context.Context, token string) (*domain.User, error)
}

// DeployService is the slice of the deployment service the router needs.
type DeployService interface {
	Create(ctx context.Context, ownerID, targetURL, name string) (*domain.Deployment, error)
	Get(ctx context.Context, ownerID, deploymentID string) (*domain.Deployment, error)
	List(ctx context.Context, ownerID string, filter domain.DeploymentFilter) ([]domain.Deployment, error)
	Start(ctx context.Context, ownerID, deploymentID string) error
	Cancel(ctx context.Context, ownerID, deploymentID string) error
}

// Router wires HTTP handlers to services.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	cfg      config.APIConfig
	auth     AuthService
	deploy   DeployService
	hub      *ws.Hub
	limiter  RateLimiter
	upgrader websocket.Upgrader

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

// NewRouter builds the full route table. limiter may be nil to disable
// request rate limiting.
func NewRouter(logger *slog.Logger, cfg config.APIConfig, authSvc AuthService, deploySvc DeployService, hub *ws.Hub, limiter RateLimiter) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  logger,
		cfg:     cfg,
		auth:    authSvc,
		deploy:  deploySvc,
		hub:     hub,
		limiter: limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	r.initMetrics()
	r.routes()
	return r
}

func (r *Router) routes() {
	r.mux.HandleFunc("/healthz", r.handleHealthz)
	r.mux.Handle("/metrics", promhttp.Handler())

	r.mux.HandleFunc("/auth/signup", r.withRateLimit("auth_signup", authRateLimit, authRateWindow, rateLimitKeyIP, r.handleSignup))
	r.mux.HandleFunc("/auth/login", r.withRateLimit("auth_login", authRateLimit, authRateWindow, rateLimitKeyIP, r.handleLogin))

	r.mux.HandleFunc("/deployments", r.requireAuth(r.handleDeployments))
	r.mux.HandleFunc("/deployments/", r.requireAuth(r.handleDeploymentByID))

	r.mux.HandleFunc("/ws/deployments", r.handleWS)
	r.mux.HandleFunc("/events/deployments", r.handleSSE)
}

// Handler returns the router wrapped with audit logging and request metrics.
func (r *Router) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK, ctx: req.Context()}
		r.mux.ServeHTTP(recorder, req)
		duration := time.Since(start)

		route := normalizeRoute(req.URL.Path)
		r.recordRequestMetrics(req.Method, route, recorder.status, duration)

		attrs := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", recorder.status,
			"duration_ms", duration.Milliseconds(),
			"remote", req.RemoteAddr,
		}
		if info, ok := authInfoFromContext(recorder.ctx); ok {
			attrs = append(attrs, "user_id", info.UserID)
		}
		switch {
		case recorder.status >= 500:
			r.logger.Error("request", attrs...)
		case recorder.status >= 400:
			r.logger.Warn("request", attrs...)
		default:
			r.logger.Info("request", attrs...)
		}
	})
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	UserID string         `json:"user_id"`
	Email  string         `json:"email"`
	Tokens auth.TokenPair `json:"tokens"`
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body credentialsRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, tokens, err := r.auth.Signup(req.Context(), body.Email, body.Password)
	if err != nil {
		r.logger.Warn("signup failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{UserID: user.ID, Email: user.Email, Tokens: tokens})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body credentialsRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, tokens, err := r.auth.Login(req.Context(), body.Email, body.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		r.logger.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, authResponse{UserID: user.ID, Email: user.Email, Tokens: tokens})
}

type createDeploymentRequest struct {
	TargetURL string `json:"target_url"`
	Name      string `json:"name"`
}

func (r *Router) handleDeployments(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	switch req.Method {
	case http.MethodPost:
		r.withRateLimit("deployments_create", writeRateLimit, writeRateWindow, r.rateLimitKeyUser, func(w http.ResponseWriter, req *http.Request) {
			r.createDeployment(w, req, info)
		})(w, req)
	case http.MethodGet:
		r.listDeployments(w, req, info)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (r *Router) createDeployment(w http.ResponseWriter, req *http.Request, info authInfo) {
	var body createDeploymentRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	deployment, err := r.deploy.Create(req.Context(), info.UserID, body.TargetURL, body.Name)
	if err != nil {
		r.writeDeployError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, deployment)
}

func (r *Router) listDeployments(w http.ResponseWriter, req *http.Request, info authInfo) {
	query := req.URL.Query()
	filter := domain.DeploymentFilter{
		Status: strings.TrimSpace(query.Get("status")),
		Query:  strings.TrimSpace(query.Get("q")),
	}
	if raw := query.Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil {
			filter.Limit = limit
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if offset, err := strconv.Atoi(raw); err == nil {
			filter.Offset = offset
		}
	}
	deployments, err := r.deploy.List(req.Context(), info.UserID, filter)
	if err != nil {
		r.writeDeployError(w, err)
		return
	}
	if deployments == nil {
		deployments = []domain.Deployment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deployments": deployments})
}

// handleDeploymentByID dispatches /deployments/{id} and its start and cancel
// sub-resources.
func (r *Router) handleDeploymentByID(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	rest := strings.TrimPrefix(req.URL.Path, "/deployments/")
	segments := strings.Split(strings.Trim(rest, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	id := segments[0]

	switch {
	case len(segments) == 1 && req.Method == http.MethodGet:
		deployment, err := r.deploy.Get(req.Context(), info.UserID, id)
		if err != nil {
			r.writeDeployError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, deployment)
	case len(segments) == 2 && segments[1] == "start" && req.Method == http.MethodPost:
		r.withRateLimit("deployments_start", writeRateLimit, writeRateWindow, r.rateLimitKeyUser, func(w http.ResponseWriter, req *http.Request) {
			if err := r.deploy.Start(req.Context(), info.UserID, id); err != nil {
				r.writeDeployError(w, err)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{
				"deployment_id": id,
				"status":        domain.StatusRunning,
			})
		})(w, req)
	case len(segments) == 2 && segments[1] == "cancel" && req.Method == http.MethodPost:
		if err := r.deploy.Cancel(req.Context(), info.UserID, id); err != nil {
			r.writeDeployError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"deployment_id": id})
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (r *Router) writeDeployError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, deploy.ErrEmptyTarget):
		writeError(w, http.StatusBadRequest, "target_url is required")
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "deployment not found")
	case errors.Is(err, deploy.ErrNotPending):
		writeError(w, http.StatusConflict, "deployment is not pending")
	case errors.Is(err, deploy.ErrAlreadyTerminal):
		writeError(w, http.StatusConflict, "deployment already finished")
	case errors.Is(err, deploy.ErrNotRunningHere):
		writeError(w, http.StatusConflict, "deployment is not running")
	default:
		r.logger.Error("deployment request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// streamAuth resolves the caller for streaming endpoints. Browsers cannot set
// headers on websocket or EventSource requests, so a token query parameter is
// accepted as a fallback.
func (r *Router) streamAuth(w http.ResponseWriter, req *http.Request) (authInfo, bool) {
	token, err := bearerToken(req.Header.Get("Authorization"))
	if err != nil {
		token = strings.TrimSpace(req.URL.Query().Get("token"))
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return authInfo{}, false
	}
	user, authErr := r.auth.Authorize(req.Context(), token)
	if authErr != nil {
		r.logger.Warn("stream token validation failed", "error", authErr, "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "authentication failed")
		return authInfo{}, false
	}
	return authInfo{UserID: user.ID}, true
}

func (r *Router) handleWS(w http.ResponseWriter, req *http.Request) {
	info, ok := r.streamAuth(w, req)
	if !ok {
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(info.UserID, client)
	r.logger.Info("websocket session opened", "user_id", info.UserID)

	// Inbound frames are ignored; the read loop only detects disconnect.
	go func() {
		defer func() {
			r.hub.Unregister(info.UserID, client)
			client.Close()
			r.logger.Info("websocket session closed", "user_id", info.UserID)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (r *Router) handleSSE(w http.ResponseWriter, req *http.Request) {
	info, ok := r.streamAuth(w, req)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	r.hub.Register(info.UserID, client)
	defer func() {
		r.hub.Unregister(info.UserID, client)
		client.Close()
	}()
	r.logger.Info("sse session opened", "user_id", info.UserID)

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

// normalizeRoute collapses ID-bearing paths so metric cardinality stays
// bounded.
func normalizeRoute(path string) string {
	if strings.HasPrefix(path, "/deployments/") {
		rest := strings.Trim(strings.TrimPrefix(path, "/deployments/"), "/")
		segments := strings.Split(rest, "/")
		if len(segments) == 2 {
			return "/deployments/{id}/" + segments[1]
		}
		return "/deployments/{id}"
	}
	return path
}

// statusRecorder captures the response status for audit logging and carries
// the enriched request context back out of the handler chain.
type statusRecorder struct {
	http.ResponseWriter
	status int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

// Flush forwards to the wrapped writer so SSE streaming works through the
// recorder.
func (sr *statusRecorder) Flush() {
	if flusher, ok := sr.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack forwards to the wrapped writer so websocket upgrades work through
// the recorder.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}
