// Package kb owns the relational ticket knowledge base: historical support
// tickets with their conversation threads, bulk import, and the lexical
// (substring / keyword-overlap) retrieval path.
//
// Precision comes from keeping the result limit small, not from ranking:
// the keyword search is deliberately a recall-biased OR over cheap ILIKE
// predicates, because an irrelevant case in the prompt context costs little
// while a missed relevant case wastes the retrieval opportunity entirely.
package kb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/caselight/caselight/internal/htmltext"
	"github.com/caselight/caselight/internal/keyword"
	"github.com/caselight/caselight/internal/retrieval"
)

// ErrTicketNotFound indicates the requested ticket id does not exist.
var ErrTicketNotFound = errors.New("ticket not found")

// DefaultRelevantLimit caps keyword-relevance results when callers pass no
// explicit limit. Kept small so false positives have limited blast radius
// in the rendered context.
const DefaultRelevantLimit int32 = 3

// importLogInterval controls bulk-import progress logging.
const importLogInterval = 100

// Store manages ticket persistence and lexical search.
// It is safe for concurrent use: every request operates on its own result
// slices and the Querier is a process-lifetime connection pool.
type Store struct {
	queries Querier
	logger  *slog.Logger
}

// New creates a ticket store. logger may be nil (defaults to slog.Default).
func New(querier Querier, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{queries: querier, logger: logger}
}

// SearchTickets finds tickets whose title or description contains query as a
// case-insensitive substring, optionally restricted to an exact category,
// newest source ticket first. A query that matches nothing returns an empty
// result, not an error.
func (s *Store) SearchTickets(ctx context.Context, query, category string, limit int32) ([]Ticket, error) {
	if limit <= 0 {
		limit = 10
	}

	tickets, err := s.queries.SearchTickets(ctx, "%"+escapeLike(query)+"%", category, limit)
	if err != nil {
		return nil, fmt.Errorf("searching tickets for %q: %w", query, err)
	}
	return tickets, nil
}

// SearchRelevantTickets finds tickets matching any keyword extracted from
// query. A query yielding no keywords returns nil without touching the
// database; that is the documented benign case, not a degraded result.
func (s *Store) SearchRelevantTickets(ctx context.Context, query string, limit int32) ([]Ticket, error) {
	if limit <= 0 {
		limit = DefaultRelevantLimit
	}

	keywords := keyword.Extract(query)
	if len(keywords) == 0 {
		return nil, nil
	}

	patterns := make([]string, len(keywords))
	for i, k := range keywords {
		patterns[i] = "%" + escapeLike(k) + "%"
	}

	tickets, err := s.queries.SearchTicketsAny(ctx, patterns, limit)
	if err != nil {
		return nil, fmt.Errorf("searching relevant tickets: %w", err)
	}

	s.logger.Debug("keyword search",
		"keywords", len(keywords),
		"matches", len(tickets))
	return tickets, nil
}

// TicketWithReplies returns one ticket with its full reply thread ordered
// by sequence. Returns ErrTicketNotFound for unknown ids.
func (s *Store) TicketWithReplies(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	t, err := s.queries.GetTicket(ctx, id)
	if err != nil {
		if IsNoRows(err) {
			return nil, fmt.Errorf("ticket %s: %w", id, ErrTicketNotFound)
		}
		return nil, fmt.Errorf("getting ticket %s: %w", id, err)
	}
	return t, nil
}

// AllTickets returns every stored ticket with its replies, oldest source
// ticket first. Used to rebuild the vector index from the relational store.
func (s *Store) AllTickets(ctx context.Context) ([]Ticket, error) {
	tickets, err := s.queries.ListTickets(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tickets: %w", err)
	}
	return tickets, nil
}

// Import bulk-inserts tickets. Each record is validated and written in its
// own transaction; a malformed or failing record is logged, counted in the
// report, and skipped without aborting the rest of the batch. The context
// is checked between records so a cancelled import stops at a record
// boundary.
func (s *Store) Import(ctx context.Context, tickets []TicketImport) (*Report, error) {
	s.logger.Info("starting ticket import", "count", len(tickets))

	report := &Report{}
	for i, in := range tickets {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("import aborted after %d tickets: %w", i, err)
		}

		t, err := buildTicket(in)
		if err == nil {
			err = s.queries.ImportTicket(ctx, t)
		}
		if err != nil {
			s.logger.Error("failed to import ticket", "original_id", in.ID, "error", err)
			report.Failed++
			report.Failures = append(report.Failures, ImportFailure{
				OriginalID: in.ID,
				Reason:     err.Error(),
			})
			continue
		}

		report.Imported++
		if (i+1)%importLogInterval == 0 {
			s.logger.Info("import progress", "done", i+1, "total", len(tickets))
		}
	}

	s.logger.Info("ticket import completed",
		"imported", report.Imported,
		"failed", report.Failed)
	return report, nil
}

// ClearAll deletes every reply and ticket. Used before a full re-import.
func (s *Store) ClearAll(ctx context.Context) error {
	s.logger.Info("clearing all ticket data")
	if err := s.queries.DeleteAll(ctx); err != nil {
		return fmt.Errorf("clearing ticket data: %w", err)
	}
	return nil
}

// SearchRelevant implements retrieval.Searcher over the lexical path.
// Descriptions and reply bodies are normalized to plain text on the way out
// so the assembled context never contains markup.
func (s *Store) SearchRelevant(ctx context.Context, query string, limit int32) ([]retrieval.Match, error) {
	tickets, err := s.SearchRelevantTickets(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	matches := make([]retrieval.Match, 0, len(tickets))
	for _, t := range tickets {
		m := retrieval.Match{
			Title:       t.Title,
			Category:    t.Category,
			Description: htmltext.Normalize(t.Description),
		}
		for _, r := range t.Replies {
			m.Turns = append(m.Turns, retrieval.Turn{
				Role:    string(r.Owner),
				Content: htmltext.Normalize(r.Content),
			})
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// buildTicket validates one import record and materializes it with fresh
// identities and array-order reply sequences.
func buildTicket(in TicketImport) (*Ticket, error) {
	if in.Title == "" {
		return nil, errors.New("missing required field: title")
	}

	t := &Ticket{
		ID:          uuid.New(),
		OriginalID:  in.ID,
		Title:       in.Title,
		Description: in.Description,
		Category:    in.Category,
	}

	for i, r := range in.Replies {
		owner := Owner(r.Owner)
		if owner != OwnerCustomer && owner != OwnerAgent {
			return nil, fmt.Errorf("reply %d: unrecognized owner %q", i, r.Owner)
		}
		t.Replies = append(t.Replies, Reply{
			ID:       uuid.New(),
			TicketID: t.ID,
			Owner:    owner,
			Content:  r.Content,
			Sequence: int32(i),
		})
	}

	return t, nil
}

// escapeLike escapes ILIKE metacharacters so user input matches literally.
func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
