package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/fastnote/notelive/internal/auth"
	"github.com/fastnote/notelive/internal/config"
	"github.com/fastnote/notelive/internal/metrics"
	"github.com/fastnote/notelive/internal/notify"
	"github.com/fastnote/notelive/internal/security"
)

// Handler is the HTTP handler that authenticates and accepts WebSocket
// connections from note clients, then hands them to the notify handler
// for the rest of their lifetime.
type Handler struct {
	Verifier    auth.Verifier
	Notify      *notify.Handler
	Tracker     *Tracker
	RateLimiter *security.RateLimiter
	Metrics     *metrics.Metrics // optional, nil if metrics disabled
	ShutdownCtx context.Context  // cancelled on server shutdown

	// drainCtx is cancelled when the server begins draining connections.
	// Active connections watch this to send graceful close frames.
	drainCtx    context.Context
	drainCancel context.CancelFunc

	// mu protects cfg during hot-reload
	cfg *config.Config
	mu  sync.RWMutex
}

// NewHandler creates a gateway handler.
func NewHandler(cfg *config.Config, v auth.Verifier, nh *notify.Handler, tr *Tracker, rl *security.RateLimiter, m *metrics.Metrics, shutdownCtx context.Context) *Handler {
	drainCtx, drainCancel := context.WithCancel(context.Background())
	return &Handler{
		Verifier:    v,
		Notify:      nh,
		Tracker:     tr,
		RateLimiter: rl,
		Metrics:     m,
		ShutdownCtx: shutdownCtx,
		drainCtx:    drainCtx,
		drainCancel: drainCancel,
		cfg:         cfg,
	}
}

// StartDrain signals all active connections to begin graceful shutdown.
// Each connection's drain watcher will send a WebSocket close frame.
func (h *Handler) StartDrain() {
	h.drainCancel()
}

// GetConfig returns the current config (thread-safe for hot-reload).
func (h *Handler) GetConfig() *config.Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// UpdateConfig swaps the config (called on SIGHUP).
func (h *Handler) UpdateConfig(cfg *config.Config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cfg = cfg
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := h.GetConfig()
	clientIP := security.ExtractClientIP(r.RemoteAddr)

	// 1. Rate limit before any token work.
	if cfg.Security.RateLimit.Enabled && h.RateLimiter != nil && !h.RateLimiter.Allow(clientIP) {
		slog.Warn("rate limit exceeded", "client_ip", clientIP)
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	// 2. Authenticate. Browsers cannot set headers on WebSocket upgrades,
	// so a token query parameter is accepted alongside the Authorization
	// header. The header wins when both are present.
	token := security.ExtractBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	userID, err := h.Verifier.UserFromToken(token)
	if err != nil {
		if h.Metrics != nil {
			h.Metrics.ErrorsTotal.WithLabelValues("auth_failure").Inc()
		}
		slog.Warn("rejected websocket auth", "client_ip", clientIP, "reason", err)
		switch {
		case errors.Is(err, auth.ErrTokenMissing):
			writeError(w, http.StatusUnauthorized, "missing token")
		case errors.Is(err, auth.ErrTokenExpired):
			writeError(w, http.StatusUnauthorized, "token expired")
		default:
			writeError(w, http.StatusUnauthorized, "invalid token")
		}
		return
	}

	// 3. Connection limits (atomic check-and-increment to prevent TOCTOU race).
	if reason := h.Tracker.TryAcquire(clientIP, cfg.Security.MaxConnections, cfg.Security.MaxConnectionsPerIP); reason != "" {
		if reason == "max_connections" {
			slog.Warn("max connections reached", "current", h.Tracker.ActiveCount(), "max", cfg.Security.MaxConnections)
			writeError(w, http.StatusServiceUnavailable, "service unavailable")
		} else {
			slog.Warn("max connections per IP reached", "client_ip", clientIP, "current", h.Tracker.CountForIP(clientIP))
			writeError(w, http.StatusTooManyRequests, "too many connections")
		}
		return
	}
	if h.Metrics != nil {
		h.Metrics.ConnectionsTotal.Inc()
		h.Metrics.ActiveConnections.Inc()
	}

	// 4. Upgrade.
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.Tracker.Release(clientIP)
		if h.Metrics != nil {
			h.Metrics.ActiveConnections.Dec()
			h.Metrics.ErrorsTotal.WithLabelValues("accept_failure").Inc()
		}
		slog.Error("failed to accept websocket", "client_ip", clientIP, "error", err)
		return
	}
	conn.SetReadLimit(cfg.Server.MaxMessageSize)

	// Use ShutdownCtx (not r.Context()) as the parent: once the connection
	// is hijacked, the request context no longer tracks its liveness.
	connCtx, connCancel := context.WithCancel(h.ShutdownCtx)
	defer connCancel()

	// Drain watcher: when the server starts draining, send a graceful close
	// frame. The read loop sees the close and tears the session down.
	go func() {
		select {
		case <-h.drainCtx.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
		case <-connCtx.Done():
			// Connection already closing for another reason
		}
	}()

	start := time.Now()
	h.Notify.Serve(connCtx, conn, userID)

	h.Tracker.Release(clientIP)
	if h.Metrics != nil {
		h.Metrics.ActiveConnections.Dec()
	}
	slog.Info("connection closed", "client_ip", clientIP, "user_id", userID, "duration", time.Since(start).String())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   msg,
	})
}
