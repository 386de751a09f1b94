package health

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/fastnote/notelive/internal/gateway"
	"github.com/fastnote/notelive/internal/notify"
)

// Response is the JSON response from the /health endpoint.
type Response struct {
	Status            string   `json:"status"`
	Uptime            string   `json:"uptime"`
	ConnectedUsers    int      `json:"connected_users"`
	ActiveConnections int      `json:"active_connections"`
	Version           string   `json:"version"`
	Timestamp         string   `json:"timestamp"`
	Details           *Details `json:"details,omitempty"`
}

// Details contains extended health information.
type Details struct {
	TotalConnections             int64   `json:"total_connections"`
	ActiveSenders                int     `json:"active_senders"`
	UsersWithMultipleConnections int     `json:"users_with_multiple_connections"`
	MemoryMB                     float64 `json:"memory_mb"`
	Goroutines                   int     `json:"goroutines"`
}

// Handler serves the health check endpoint.
type Handler struct {
	startTime time.Time
	service   *notify.Service
	tracker   *gateway.Tracker
	version   string
	detailed  bool
}

// NewHandler creates a new health check handler.
func NewHandler(svc *notify.Service, tr *gateway.Tracker, version string, detailed bool) *Handler {
	return &Handler{
		startTime: time.Now(),
		service:   svc,
		tracker:   tr,
		version:   version,
		detailed:  detailed,
	}
}

// ServeHTTP handles health check requests. The health listener binds to
// loopback, separate from the WebSocket listener, so local monitoring
// (systemd, Prometheus) can poll it without client-facing exposure.
// Zero connections is "idle", never a failure.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	stats := h.service.Stats()

	status := "ok"
	if stats.TotalConnections == 0 {
		status = "idle"
	}

	resp := Response{
		Status:            status,
		Uptime:            time.Since(h.startTime).Round(time.Second).String(),
		ConnectedUsers:    stats.ConnectedUsers,
		ActiveConnections: stats.TotalConnections,
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
	}

	if h.detailed {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		resp.Version = h.version
		resp.Details = &Details{
			TotalConnections:             h.tracker.TotalCount(),
			ActiveSenders:                stats.ActiveSenders,
			UsersWithMultipleConnections: stats.UsersWithMultipleConnections,
			MemoryMB:                     float64(memStats.Alloc) / 1024 / 1024,
			Goroutines:                   runtime.NumGoroutine(),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
