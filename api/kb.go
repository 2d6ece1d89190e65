package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/caselight/caselight/internal/kb"
	"github.com/caselight/caselight/internal/log"
)

// Knowledge base endpoint bounds.
const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 50
	MaxImportBatch     = 10000
)

// TicketStore is the slice of the ticket knowledge base the handlers need.
type TicketStore interface {
	Import(ctx context.Context, tickets []kb.TicketImport) (*kb.Report, error)
	SearchTickets(ctx context.Context, query, category string, limit int32) ([]kb.Ticket, error)
	ClearAll(ctx context.Context) error
}

// VectorIndex is the embedded-document side of the knowledge base. Only the
// clear operation is exposed over HTTP; indexing runs through the CLI where
// embedding a large batch does not hold a request open.
type VectorIndex interface {
	Clear(ctx context.Context) error
}

// KBHandler handles knowledge base import, search, and clear.
type KBHandler struct {
	tickets TicketStore
	index   VectorIndex
	logger  log.Logger
}

// NewKBHandler creates a knowledge base handler. index may be nil.
func NewKBHandler(tickets TicketStore, index VectorIndex, logger log.Logger) *KBHandler {
	return &KBHandler{tickets: tickets, index: index, logger: logger}
}

// RegisterRoutes registers knowledge base routes on the given mux.
func (h *KBHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/kb/import", h.importTickets)
	mux.HandleFunc("GET /api/kb/search", h.search)
	mux.HandleFunc("POST /api/kb/clear", h.clear)
}

// importTickets bulk-imports tickets. The body is the import contract: a
// JSON array of ticket records. Per-record failures land in the report, not
// in the HTTP status.
func (h *KBHandler) importTickets(w http.ResponseWriter, r *http.Request) {
	var tickets []kb.TicketImport
	if err := json.NewDecoder(r.Body).Decode(&tickets); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "body must be a JSON array of tickets")
		return
	}
	if len(tickets) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "no tickets in request")
		return
	}
	if len(tickets) > MaxImportBatch {
		writeError(w, http.StatusRequestEntityTooLarge, "invalid_request", "import batch too large")
		return
	}

	start := time.Now()
	report, err := h.tickets.Import(r.Context(), tickets)
	if err != nil {
		h.logger.Error("import aborted", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "import aborted")
		return
	}

	h.logger.Info("import via API completed",
		"imported", report.Imported,
		"failed", report.Failed,
		"duration", time.Since(start))
	writeJSON(w, http.StatusOK, report)
}

// ticketJSON is the wire shape of a ticket search result.
type ticketJSON struct {
	ID          string      `json:"id"`
	OriginalID  int64       `json:"originalId"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Category    string      `json:"category,omitempty"`
	Replies     []replyJSON `json:"replies,omitempty"`
}

type replyJSON struct {
	Owner   string `json:"owner"`
	Content string `json:"content"`
}

// search runs a lexical substring search over tickets.
// Query parameters: q (required), category, limit (default 10, max 50).
func (h *KBHandler) search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "query parameter q is required")
		return
	}
	category := r.URL.Query().Get("category")
	limit := parseIntParam(r, "limit", DefaultSearchLimit, 1, MaxSearchLimit)

	tickets, err := h.tickets.SearchTickets(r.Context(), query, category, int32(limit))
	if err != nil {
		h.logger.Error("ticket search failed", "error", err, "query", query)
		writeError(w, http.StatusInternalServerError, "internal_error", "search failed")
		return
	}

	results := make([]ticketJSON, 0, len(tickets))
	for _, t := range tickets {
		tj := ticketJSON{
			ID:          t.ID.String(),
			OriginalID:  t.OriginalID,
			Title:       t.Title,
			Description: t.Description,
			Category:    t.Category,
		}
		for _, rep := range t.Replies {
			tj.Replies = append(tj.Replies, replyJSON{
				Owner:   string(rep.Owner),
				Content: rep.Content,
			})
		}
		results = append(results, tj)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"total":   len(results),
	})
}

// clear wipes both retrieval paths: tickets with replies, then the vector
// index when one is configured.
func (h *KBHandler) clear(w http.ResponseWriter, r *http.Request) {
	if err := h.tickets.ClearAll(r.Context()); err != nil {
		h.logger.Error("clearing tickets failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to clear tickets")
		return
	}

	if h.index != nil {
		if err := h.index.Clear(r.Context()); err != nil {
			h.logger.Error("clearing vector index failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to clear vector index")
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
