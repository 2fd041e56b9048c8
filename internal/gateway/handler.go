package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adi3g/guardian/internal/errors"
	"github.com/adi3g/guardian/internal/logging"
	"github.com/adi3g/guardian/internal/proxy"
)

// forwardableMethods are the verbs the pipeline forwards upstream.
var forwardableMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Handler returns the gateway's HTTP surface: the fixed endpoints plus
// the catch-all pipeline route, wrapped with request ID, access log,
// and metrics instrumentation.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.Handle("GET /metrics", a.collector.Handler())
	mux.HandleFunc("GET /check-access", a.handleCheckAccess)
	mux.HandleFunc("POST /auth/token", a.handleAuthToken)
	mux.HandleFunc("POST /auth/verify", a.handleAuthVerify)
	mux.HandleFunc("POST /session/start", a.handleSessionStart)
	mux.HandleFunc("POST /session/validate", a.handleSessionValidate)
	mux.HandleFunc("POST /session/revoke", a.handleSessionRevoke)
	mux.HandleFunc("/", a.handleProxy)

	return a.instrument(mux)
}

// statusRecorder captures the status code written downstream.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// instrument tags each request with an ID and records the access log
// line and request metrics on completion.
func (a *App) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-ID", requestID)

		sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(sr, r)

		duration := time.Since(start)
		a.collector.RecordRequest(r.Method, r.URL.Path, sr.statusCode, duration)
		logging.Info("request completed",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sr.statusCode),
			zap.Duration("duration", duration),
			zap.String("client_ip", proxy.ClientIP(r)),
		)
	})
}

// handleHealth bypasses the pipeline.
func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleCheckAccess evaluates access for the caller's IP.
func (a *App) handleCheckAccess(w http.ResponseWriter, r *http.Request) {
	clientIP := proxy.ClientIP(r)
	if ge := a.CheckAccess(clientIP); ge != nil {
		a.collector.RecordDenial(denialReason(ge))
		ge.WriteJSON(w)
		return
	}
	logging.Info("access granted", zap.String("client_ip", clientIP))
	writeJSON(w, http.StatusOK, map[string]string{"message": "Access granted"})
}

// handleProxy runs the full admission pipeline and forwards upstream.
func (a *App) handleProxy(w http.ResponseWriter, r *http.Request) {
	if !forwardableMethods[r.Method] {
		errors.ErrMethodNotAllowed.WriteJSON(w)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		errors.ErrBadRequest.WriteJSON(w)
		return
	}
	r.Body.Close()

	req := &Request{
		Method:  r.Method,
		IP:      proxy.ClientIP(r),
		Path:    r.URL.Path,
		Port:    requestPort(r, a.cfg.General.ListenPort),
		Query:   r.URL.Query(),
		Headers: r.Header,
		Body:    body,
	}

	switch outcome := a.Admit(req).(type) {
	case Deny:
		a.collector.RecordDenial(outcome.Reason)
		outcome.Err.WriteJSON(w)

	case Redirect:
		w.Header().Set("Location", outcome.URL)
		w.WriteHeader(http.StatusTemporaryRedirect)

	case Forward:
		a.dispatch(w, r, outcome, body)
	}
}

// dispatch forwards the admitted request and accounts the connection on
// every exit path.
func (a *App) dispatch(w http.ResponseWriter, r *http.Request, outcome Forward, body []byte) {
	upstream := outcome.Upstream

	a.balancer.Acquire(upstream)
	defer func() {
		a.balancer.Release(upstream)
		a.publishUpstreamMetrics()
	}()

	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))

	if err := a.forwarder.Forward(w, r, upstream); err != nil {
		a.balancer.MarkFailed(upstream)
		a.collector.RecordDenial("upstream_error")
		logging.Error("upstream dispatch failed",
			zap.String("upstream", upstream.HostPort()),
			zap.Error(err),
		)
		errors.UpstreamFailure(err).WriteJSON(w)
	}
}

// publishUpstreamMetrics refreshes the health and connection gauges.
func (a *App) publishUpstreamMetrics() {
	for _, st := range a.balancer.Snapshot() {
		a.collector.SetUpstreamHealth(st.Upstream.Address, st.Healthy)
		a.collector.SetUpstreamConnections(st.Upstream.Address, st.ActiveConnections)
	}
}

// handleAuthToken issues an access token for a user.
func (a *App) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.UserID == "" {
		errors.ErrBadRequest.WriteJSON(w)
		return
	}

	token, err := a.tokens.CreateAccessToken(payload.UserID, 0)
	if err != nil {
		errors.New(http.StatusInternalServerError, "Failed to create token.").WriteJSON(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": token,
		"token_type":   "bearer",
	})
}

// handleAuthVerify verifies the bearer token from the Authorization header.
func (a *App) handleAuthVerify(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		errors.ErrInvalidToken.WriteJSON(w)
		return
	}

	claims, err := a.tokens.VerifyToken(token)
	if err != nil {
		a.collector.RecordDenial("invalid_token")
		errors.ErrInvalidToken.WriteJSON(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sub": claims.Subject})
}

// handleSessionStart creates a session for a user.
func (a *App) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if a.sessions == nil {
		errors.ErrSessionsDisabled.WriteJSON(w)
		return
	}

	var payload struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.UserID == "" {
		errors.ErrBadRequest.WriteJSON(w)
		return
	}

	id := a.sessions.Create(payload.UserID)
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

// handleSessionValidate checks whether a session is active, refreshing
// its activity on success.
func (a *App) handleSessionValidate(w http.ResponseWriter, r *http.Request) {
	if a.sessions == nil {
		errors.ErrSessionsDisabled.WriteJSON(w)
		return
	}

	var payload struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.SessionID == "" {
		errors.ErrBadRequest.WriteJSON(w)
		return
	}

	if !a.sessions.Validate(payload.SessionID) {
		a.collector.RecordDenial("invalid_session")
		errors.ErrInvalidSession.WriteJSON(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session is active"})
}

// handleSessionRevoke removes a session. Idempotent.
func (a *App) handleSessionRevoke(w http.ResponseWriter, r *http.Request) {
	if a.sessions == nil {
		errors.ErrSessionsDisabled.WriteJSON(w)
		return
	}

	var payload struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.SessionID == "" {
		errors.ErrBadRequest.WriteJSON(w)
		return
	}

	a.sessions.Revoke(payload.SessionID)
	w.WriteHeader(http.StatusNoContent)
}

// requestPort extracts the port the client addressed, falling back to
// the configured listen port.
func requestPort(r *http.Request, listenPort int) int {
	if _, portStr, err := net.SplitHostPort(r.Host); err == nil {
		if port, err := strconv.Atoi(portStr); err == nil {
			return port
		}
	}
	return listenPort
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && (auth[:len(prefix)] == prefix || auth[:len(prefix)] == "bearer ") {
		return auth[len(prefix):]
	}
	return ""
}

// denialReason maps an access-check error to its metrics label.
func denialReason(ge *errors.GatewayError) string {
	switch ge {
	case errors.ErrRateLimited:
		return "rate_limited"
	case errors.ErrIPBlocked:
		return "ip_blocked"
	case errors.ErrIPNotAllowed:
		return "ip_not_allowed"
	}
	return "other"
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
