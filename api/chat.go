package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/caselight/caselight/internal/chat"
	"github.com/caselight/caselight/internal/log"
	"github.com/caselight/caselight/internal/session"
)

// ChatService runs one exchange against a stored session.
type ChatService interface {
	Send(ctx context.Context, sessionID uuid.UUID, question string) (*session.Message, error)
	SendStream(ctx context.Context, sessionID uuid.UUID, question string, onFragment chat.FragmentFunc) (*session.Message, error)
}

// ChatHandler handles chat exchanges.
//
// Endpoints:
//   - POST /api/sessions/{id}/messages - synchronous exchange (JSON)
//   - POST /api/chat/stream            - streaming exchange (SSE)
type ChatHandler struct {
	chat   ChatService
	logger log.Logger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(chat ChatService, logger log.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, logger: logger}
}

// RegisterRoutes registers chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions/{id}/messages", h.send)
	mux.HandleFunc("POST /api/chat/stream", h.stream)
}

// sendMessageRequest is the body of the synchronous exchange.
type sendMessageRequest struct {
	Content string `json:"content"`
}

// send runs one full exchange and returns the persisted assistant message.
func (h *ChatHandler) send(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "content is required")
		return
	}

	msg, err := h.chat.Send(r.Context(), id, req.Content)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		h.logger.Error("chat exchange failed", "error", err, "sessionId", id)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to generate answer")
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// StreamRequest is the body of the SSE endpoint.
type StreamRequest struct {
	SessionID string `json:"sessionId"`
	Query     string `json:"query"`
}

// SSEChunkData is the data for "chunk" events.
type SSEChunkData struct {
	Text string `json:"text"`
}

// SSEDoneData is the data for "done" events.
type SSEDoneData struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
}

// SSEErrorData is the data for "error" events.
type SSEErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// stream runs one exchange while forwarding answer fragments as SSE.
//
// Event types:
//   - chunk: partial text {"text": "..."}
//   - done:  final answer {"response": "...", "sessionId": "..."}
//   - error: failure {"code": "...", "message": "..."}
func (h *ChatHandler) stream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("streaming not supported")
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var req StreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeSSEError(w, flusher, "INVALID_REQUEST", fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.SessionID == "" {
		h.writeSSEError(w, flusher, "MISSING_SESSION_ID", "sessionId is required")
		return
	}
	if req.Query == "" {
		h.writeSSEError(w, flusher, "MISSING_QUERY", "query is required")
		return
	}

	id, err := uuid.Parse(req.SessionID)
	if err != nil {
		h.writeSSEError(w, flusher, "INVALID_SESSION_ID", "sessionId is not a valid UUID")
		return
	}

	ctx := r.Context()
	h.logger.Info("SSE stream started", "sessionId", id)

	msg, err := h.chat.SendStream(ctx, id, req.Query, func(fragment string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		h.writeSSEChunk(w, flusher, fragment)
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			h.logger.Info("client disconnected", "sessionId", id)
			return
		}
		if errors.Is(err, session.ErrSessionNotFound) {
			h.writeSSEError(w, flusher, "SESSION_NOT_FOUND", "session not found")
			return
		}
		h.logger.Error("stream failed", "error", err, "sessionId", id)
		h.writeSSEError(w, flusher, "STREAM_ERROR", err.Error())
		return
	}

	h.writeSSEDone(w, flusher, msg.Content, id.String())
	h.logger.Info("SSE stream completed", "sessionId", id, "responseLen", len(msg.Content))
}

// writeSSEChunk writes a chunk event to the SSE stream.
func (h *ChatHandler) writeSSEChunk(w http.ResponseWriter, flusher http.Flusher, text string) {
	data, _ := json.Marshal(SSEChunkData{Text: text})
	fmt.Fprintf(w, "event: chunk\ndata: %s\n\n", data)
	flusher.Flush()
}

// writeSSEDone writes a done event to the SSE stream.
func (h *ChatHandler) writeSSEDone(w http.ResponseWriter, flusher http.Flusher, response, sessionID string) {
	data, _ := json.Marshal(SSEDoneData{Response: response, SessionID: sessionID})
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", data)
	flusher.Flush()
}

// writeSSEError writes an error event to the SSE stream.
func (h *ChatHandler) writeSSEError(w http.ResponseWriter, flusher http.Flusher, code, message string) {
	data, _ := json.Marshal(SSEErrorData{Code: code, Message: message})
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
	flusher.Flush()
}
