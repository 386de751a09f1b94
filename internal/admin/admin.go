package admin

import (
	"net/http"

	"github.com/fastnote/notelive/internal/config"
	"github.com/fastnote/notelive/internal/logring"
	"github.com/fastnote/notelive/internal/notify"
	"github.com/fastnote/notelive/internal/security"
)

// Dependencies holds all injected dependencies for the admin API.
type Dependencies struct {
	Service    *notify.Service
	RingBuffer *logring.RingBuffer
	GetConfig  func() *config.Config
}

// Admin provides HTTP handlers for the operational API. Every endpoint
// requires the configured admin token; the API refuses all requests when
// no token is configured.
type Admin struct {
	deps Dependencies
}

// New creates a new Admin instance.
func New(deps Dependencies) *Admin {
	return &Admin{deps: deps}
}

// Handler returns an http.Handler for /api/v1/ endpoints.
func (a *Admin) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/ws/stats", a.handleStats)
	mux.HandleFunc("GET /api/v1/ws/users", a.handleUsers)
	mux.HandleFunc("GET /api/v1/ws/users/{id}", a.handleUserStatus)
	mux.HandleFunc("POST /api/v1/ws/broadcast", a.handleBroadcast)
	mux.HandleFunc("POST /api/v1/ws/users/{id}/send", a.handleSend)
	mux.HandleFunc("POST /api/v1/ws/users/{id}/notes/{noteId}", a.handleNoteUpdate)
	mux.HandleFunc("POST /api/v1/ws/users/{id}/folders/{folderId}", a.handleFolderUpdate)
	mux.HandleFunc("POST /api/v1/ws/users/{id}/sync", a.handleSyncStatus)
	mux.HandleFunc("POST /api/v1/ws/cleanup", a.handleCleanup)
	mux.HandleFunc("GET /api/v1/ws/health", a.handleWSHealth)
	mux.HandleFunc("GET /api/v1/logs", a.handleLogs)
	return a.requireToken(mux)
}

// requireToken enforces the static admin token on every request.
func (a *Admin) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		expected := a.deps.GetConfig().Security.AdminToken
		if expected == "" {
			writeError(w, http.StatusForbidden, "admin token not configured")
			return
		}
		token := security.ExtractBearerToken(r.Header.Get("Authorization"))
		if !security.TokenMatch(token, expected) {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
