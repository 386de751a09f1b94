package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"
)

// handleStats serves GET /api/v1/ws/stats.
func (a *Admin) handleStats(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, a.deps.Service.Stats())
}

// handleUsers serves GET /api/v1/ws/users.
func (a *Admin) handleUsers(w http.ResponseWriter, r *http.Request) {
	users := a.deps.Service.ConnectedUsers()
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	writeData(w, http.StatusOK, map[string]any{
		"connected_users": users,
		"count":           len(users),
	})
}

// handleUserStatus serves GET /api/v1/ws/users/{id}.
func (a *Admin) handleUserStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"user_id":          userID,
		"is_connected":     a.deps.Service.IsUserConnected(userID),
		"connection_count": a.deps.Service.ConnectionCount(userID),
	})
}

// messageRequest is the JSON body for broadcast and send endpoints. An
// absent type falls back to an endpoint-specific default instead of
// failing the request.
type messageRequest struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// handleBroadcast serves POST /api/v1/ws/broadcast.
func (a *Admin) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Type == "" {
		req.Type = "broadcast"
	}

	a.deps.Service.BroadcastToAll(req.Type, req.Data)
	slog.Info("admin broadcast", "message_type", req.Type)
	writeData(w, http.StatusOK, map[string]any{
		"type":       req.Type,
		"recipients": a.deps.Service.Stats().TotalConnections,
	})
}

// handleSend serves POST /api/v1/ws/users/{id}/send.
func (a *Admin) handleSend(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	var req messageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Type == "" {
		req.Type = "message"
	}

	connected := a.deps.Service.IsUserConnected(userID)
	a.deps.Service.SendToUser(userID, req.Type, req.Data)
	writeData(w, http.StatusOK, map[string]any{
		"user_id":   userID,
		"delivered": connected,
	})
}

// updateRequest is the JSON body for note and folder update endpoints.
type updateRequest struct {
	Action string `json:"action"`
	Data   any    `json:"data"`
}

// handleNoteUpdate serves POST /api/v1/ws/users/{id}/notes/{noteId}.
func (a *Admin) handleNoteUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	noteID, ok := pathInt64(w, r, "noteId")
	if !ok {
		return
	}
	var req updateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Action == "" {
		req.Action = "updated"
	}

	a.deps.Service.SendNoteUpdate(userID, noteID, req.Action, req.Data)
	writeData(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"note_id": noteID,
		"action":  req.Action,
	})
}

// handleFolderUpdate serves POST /api/v1/ws/users/{id}/folders/{folderId}.
func (a *Admin) handleFolderUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	folderID, ok := pathInt64(w, r, "folderId")
	if !ok {
		return
	}
	var req updateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Action == "" {
		req.Action = "updated"
	}

	a.deps.Service.SendFolderUpdate(userID, folderID, req.Action, req.Data)
	writeData(w, http.StatusOK, map[string]any{
		"user_id":   userID,
		"folder_id": folderID,
		"action":    req.Action,
	})
}

// syncRequest is the JSON body for the sync status endpoint.
type syncRequest struct {
	Status  string `json:"status"`
	Details any    `json:"details"`
}

// handleSyncStatus serves POST /api/v1/ws/users/{id}/sync.
func (a *Admin) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathInt64(w, r, "id")
	if !ok {
		return
	}
	var req syncRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Status == "" {
		req.Status = "unknown"
	}

	a.deps.Service.SendSyncStatus(userID, req.Status, req.Details)
	writeData(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"status":  req.Status,
	})
}

// handleCleanup serves POST /api/v1/ws/cleanup.
func (a *Admin) handleCleanup(w http.ResponseWriter, r *http.Request) {
	reaped := a.deps.Service.CleanupStaleConnections()
	slog.Info("admin cleanup", "reaped", reaped)
	writeData(w, http.StatusOK, map[string]any{"reaped": reaped})
}

// handleWSHealth serves GET /api/v1/ws/health. A service with zero
// connections is idle, not unhealthy.
func (a *Admin) handleWSHealth(w http.ResponseWriter, r *http.Request) {
	stats := a.deps.Service.Stats()
	status := "active"
	if stats.TotalConnections == 0 {
		status = "idle"
	}
	writeData(w, http.StatusOK, map[string]any{
		"status":    status,
		"stats":     stats,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// logEntryResponse mirrors logring.LogEntry for JSON serialization.
type logEntryResponse struct {
	Time    string         `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// handleLogs serves GET /api/v1/logs with limit, level, and since filters.
func (a *Admin) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	minLevel := slog.LevelDebug
	switch r.URL.Query().Get("level") {
	case "info":
		minLevel = slog.LevelInfo
	case "warn":
		minLevel = slog.LevelWarn
	case "error":
		minLevel = slog.LevelError
	}

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			since = t
		}
	}

	entries := a.deps.RingBuffer.Entries(limit, minLevel, since)
	resp := make([]logEntryResponse, len(entries))
	for i, e := range entries {
		resp[i] = logEntryResponse{
			Time:    e.Time.Format(time.RFC3339Nano),
			Level:   e.Level.String(),
			Message: e.Message,
			Attrs:   e.Attrs,
		}
	}

	writeData(w, http.StatusOK, resp)
}

// pathInt64 parses an int64 path value, writing a 400 on failure.
func pathInt64(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || v <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return v, true
}

// decodeBody decodes a JSON request body, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// writeData writes a success envelope with the given payload.
func writeData(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, map[string]any{"success": true, "data": data})
}

// writeError writes a failure envelope with the given message.
func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"success": false, "error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
