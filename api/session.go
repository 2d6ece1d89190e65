package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/caselight/caselight/internal/log"
	"github.com/caselight/caselight/internal/session"
)

// Session listing and validation bounds.
const (
	MaxTitleLength   = 100
	DefaultListLimit = 50
	MaxListLimit     = 200
	MaxListOffset    = 100000
)

// SessionStore is the slice of session persistence the handlers need.
type SessionStore interface {
	Create(ctx context.Context, title string) (*session.Session, error)
	Get(ctx context.Context, id uuid.UUID) (*session.Session, error)
	List(ctx context.Context, limit, offset int32) ([]session.Session, error)
	Rename(ctx context.Context, id uuid.UUID, title string) error
	Delete(ctx context.Context, id uuid.UUID) error
	Messages(ctx context.Context, sessionID uuid.UUID) ([]session.Message, error)
}

// SessionHandler handles session CRUD and transcript endpoints.
type SessionHandler struct {
	store  SessionStore
	logger log.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(store SessionStore, logger log.Logger) *SessionHandler {
	return &SessionHandler{store: store, logger: logger}
}

// RegisterRoutes registers session routes on the given mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", h.create)
	mux.HandleFunc("GET /api/sessions", h.list)
	mux.HandleFunc("GET /api/sessions/{id}", h.get)
	mux.HandleFunc("PATCH /api/sessions/{id}", h.rename)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.delete)
	mux.HandleFunc("GET /api/sessions/{id}/messages", h.messages)
}

// sessionTitleRequest is the body for create and rename.
type sessionTitleRequest struct {
	Title string `json:"title"`
}

func (h *SessionHandler) create(w http.ResponseWriter, r *http.Request) {
	var req sessionTitleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if len(req.Title) > MaxTitleLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "title too long")
		return
	}

	sess, err := h.store.Create(r.Context(), req.Title)
	if err != nil {
		h.logger.Error("creating session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// list returns sessions most recently active first.
// Query parameters: limit (default 50, max 200) and offset.
func (h *SessionHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", DefaultListLimit, 1, MaxListLimit)
	offset := parseIntParam(r, "offset", 0, 0, MaxListOffset)

	sessions, err := h.store.List(r.Context(), int32(limit), int32(offset))
	if err != nil {
		h.logger.Error("listing sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list sessions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
		"limit":    limit,
		"offset":   offset,
	})
}

func (h *SessionHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	sess, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, "failed to get session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *SessionHandler) rename(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	var req sessionTitleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "title is required")
		return
	}
	if len(req.Title) > MaxTitleLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "title too long")
		return
	}

	if err := h.store.Rename(r.Context(), id, req.Title); err != nil {
		h.writeStoreError(w, err, "failed to rename session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "renamed"})
}

func (h *SessionHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		h.writeStoreError(w, err, "failed to delete session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *SessionHandler) messages(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	// Distinguish an unknown session from one with an empty transcript.
	if _, err := h.store.Get(r.Context(), id); err != nil {
		h.writeStoreError(w, err, "failed to get session")
		return
	}

	messages, err := h.store.Messages(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err, "failed to load messages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"messages": messages,
		"total":    len(messages),
	})
}

// writeStoreError maps store errors onto HTTP statuses.
func (h *SessionHandler) writeStoreError(w http.ResponseWriter, err error, fallback string) {
	if errors.Is(err, session.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	h.logger.Error(fallback, "error", err)
	writeError(w, http.StatusInternalServerError, "internal_error", fallback)
}

// sessionID parses the {id} path segment, answering 400 on malformed ids.
func sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}

// parseIntParam parses an integer query parameter with bounds clamping.
func parseIntParam(r *http.Request, name string, defaultVal, min, max int) int {
	str := r.URL.Query().Get(name)
	if str == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return defaultVal
	}
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
