// Package knowledge manages the embedded-document retrieval path: rendered
// ticket documents stored with their vector embeddings in PostgreSQL via
// pgvector, searched by cosine similarity.
//
// The document table is created lazily on the first write. Reads against a
// database that has never been indexed behave as an empty store rather than
// failing, so the chat path degrades to lexical-only retrieval.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/pgvector/pgvector-go"

	"github.com/caselight/caselight/internal/htmltext"
	"github.com/caselight/caselight/internal/kb"
	"github.com/caselight/caselight/internal/retrieval"
)

// embedBatchSize bounds how many documents go into one embedding request.
const embedBatchSize = 100

// Store manages embedded ticket documents. Safe for concurrent use.
type Store struct {
	queries  Querier
	embedder ai.Embedder
	logger   *slog.Logger

	schemaMu    sync.Mutex
	schemaReady bool
}

// New creates an embedding store. logger may be nil (defaults to
// slog.Default).
func New(querier Querier, embedder ai.Embedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{queries: querier, embedder: embedder, logger: logger}
}

// AddTickets renders each ticket into a plain-text document, embeds the
// documents in batches, and upserts them keyed by source ticket id.
// Re-indexing the same tickets overwrites the previous documents. A batch
// or document that fails is logged and counted in the report, never fatal
// to the remaining batches; the index is a rebuildable projection, not the
// source of truth. Only a schema failure or a cancelled context aborts.
func (s *Store) AddTickets(ctx context.Context, tickets []kb.Ticket) (*Report, error) {
	report := &Report{}
	if len(tickets) == 0 {
		return report, nil
	}

	if err := s.ensureSchema(ctx); err != nil {
		return report, err
	}

	s.logger.Info("indexing tickets", "count", len(tickets))

	for start := 0; start < len(tickets); start += embedBatchSize {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("indexing aborted at %d: %w", start, err)
		}

		end := min(start+embedBatchSize, len(tickets))
		batch := tickets[start:end]

		docs := make([]*ai.Document, len(batch))
		contents := make([]string, len(batch))
		for i, t := range batch {
			contents[i] = RenderTicket(t)
			docs[i] = ai.DocumentFromText(contents[i], nil)
		}

		resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
		if err != nil {
			s.logger.Error("embedding batch failed", "start", start, "size", len(batch), "error", err)
			report.Failed += len(batch)
			continue
		}
		if len(resp.Embeddings) != len(batch) {
			s.logger.Error("embedder returned wrong vector count",
				"start", start, "got", len(resp.Embeddings), "want", len(batch))
			report.Failed += len(batch)
			continue
		}

		for i, t := range batch {
			if err := s.storeDocument(ctx, t, contents[i], resp.Embeddings[i].Embedding); err != nil {
				s.logger.Error("failed to index ticket", "original_id", t.OriginalID, "error", err)
				report.Failed++
				continue
			}
			report.Indexed++
		}

		s.logger.Debug("indexed batch", "done", end, "total", len(tickets))
	}

	s.logger.Info("indexing completed", "indexed", report.Indexed, "failed", report.Failed)
	return report, nil
}

func (s *Store) storeDocument(ctx context.Context, t kb.Ticket, content string, embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("empty embedding for ticket %d", t.OriginalID)
	}

	metadata, err := json.Marshal(map[string]string{
		MetaTicketID: strconv.FormatInt(t.OriginalID, 10),
		MetaTitle:    t.Title,
		MetaCategory: t.Category,
	})
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	vec := pgvector.NewVector(embedding)
	if err := s.queries.UpsertDocument(ctx, documentID(t.OriginalID), content, vec, metadata); err != nil {
		return fmt.Errorf("storing document: %w", err)
	}
	return nil
}

// SearchRelevant implements retrieval.Searcher over the vector path.
// Matches carry their rendered document text; similarity ordering is
// preserved, best first. An unindexed database yields no matches.
func (s *Store) SearchRelevant(ctx context.Context, query string, limit int32) ([]retrieval.Match, error) {
	if limit <= 0 {
		limit = 3
	}

	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(query, nil)},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding returned for query")
	}

	rows, err := s.queries.SearchDocuments(ctx, pgvector.NewVector(resp.Embeddings[0].Embedding), limit)
	if err != nil {
		if isMissingTable(err) {
			s.logger.Debug("vector search on unindexed database")
			return nil, nil
		}
		return nil, fmt.Errorf("vector search: %w", err)
	}

	matches := make([]retrieval.Match, 0, len(rows))
	for _, r := range rows {
		matches = append(matches, retrieval.Match{Rendered: r.Content})
	}
	return matches, nil
}

// Count returns the number of indexed documents, zero when the table does
// not exist yet.
func (s *Store) Count(ctx context.Context) (int64, error) {
	count, err := s.queries.CountDocuments(ctx)
	if err != nil {
		if isMissingTable(err) {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}

// Clear removes every indexed document. Clearing an unindexed database is
// a no-op.
func (s *Store) Clear(ctx context.Context) error {
	s.logger.Info("clearing indexed documents")
	if err := s.queries.DeleteAll(ctx); err != nil {
		if isMissingTable(err) {
			return nil
		}
		return fmt.Errorf("clearing documents: %w", err)
	}
	return nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()

	if s.schemaReady {
		return nil
	}
	if err := s.queries.EnsureSchema(ctx); err != nil {
		return err
	}
	s.schemaReady = true
	return nil
}

// RenderTicket flattens one ticket into the document text that gets both
// embedded and, on retrieval, injected verbatim into the prompt context.
func RenderTicket(t kb.Ticket) string {
	var b strings.Builder

	category := t.Category
	if category == "" {
		category = "未分类"
	}
	fmt.Fprintf(&b, "分类: %s\n", category)
	fmt.Fprintf(&b, "问题: %s", t.Title)

	if t.Description != "" {
		fmt.Fprintf(&b, "\n描述: %s", htmltext.Flatten(t.Description))
	}

	if len(t.Replies) > 0 {
		b.WriteString("\n对话记录:")
		for _, r := range t.Replies {
			fmt.Fprintf(&b, "\n%s: %s", retrieval.SpeakerLabel(string(r.Owner)), htmltext.Flatten(r.Content))
		}
	}

	return b.String()
}

func documentID(originalID int64) string {
	return "ticket-" + strconv.FormatInt(originalID, 10)
}
