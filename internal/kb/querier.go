package kb

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier defines the database operations the ticket store depends on.
// The interface is defined here, by the consumer, so tests can substitute a
// mock and the store never touches SQL directly.
type Querier interface {
	// ImportTicket inserts a ticket and its replies atomically.
	ImportTicket(ctx context.Context, t *Ticket) error

	// SearchTickets returns tickets whose title or description contains
	// pattern (case-insensitive), optionally filtered by exact category,
	// ordered by original id descending. Replies are preloaded.
	SearchTickets(ctx context.Context, pattern, category string, limit int32) ([]Ticket, error)

	// SearchTicketsAny returns tickets whose title or description matches
	// any of the given ILIKE patterns, ordered by each ticket's first reply
	// sequence ascending. Replies are preloaded.
	SearchTicketsAny(ctx context.Context, patterns []string, limit int32) ([]Ticket, error)

	// GetTicket returns one ticket with its ordered replies, or
	// pgx.ErrNoRows if the id does not exist.
	GetTicket(ctx context.Context, id uuid.UUID) (*Ticket, error)

	// ListTickets returns every ticket with replies preloaded, ordered by
	// original id ascending.
	ListTickets(ctx context.Context) ([]Ticket, error)

	// DeleteAll removes every reply and ticket.
	DeleteAll(ctx context.Context) error
}

// pgxQuerier implements Querier against PostgreSQL with inline SQL.
type pgxQuerier struct {
	pool *pgxpool.Pool
}

// NewQuerier creates the production Querier backed by a pgx pool.
func NewQuerier(pool *pgxpool.Pool) Querier {
	return &pgxQuerier{pool: pool}
}

const ticketColumns = "id, original_id, title, description, category, created_at"

func (q *pgxQuerier) ImportTicket(ctx context.Context, t *Ticket) error {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO kb_tickets (id, original_id, title, description, category)
		 VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.OriginalID, t.Title, nullable(t.Description), nullable(t.Category),
	); err != nil {
		return fmt.Errorf("inserting ticket %d: %w", t.OriginalID, err)
	}

	for _, r := range t.Replies {
		if _, err := tx.Exec(ctx,
			`INSERT INTO kb_replies (id, ticket_id, owner, content, sequence)
			 VALUES ($1, $2, $3, $4, $5)`,
			r.ID, t.ID, string(r.Owner), r.Content, r.Sequence,
		); err != nil {
			return fmt.Errorf("inserting reply %d of ticket %d: %w", r.Sequence, t.OriginalID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing ticket %d: %w", t.OriginalID, err)
	}
	return nil
}

func (q *pgxQuerier) SearchTickets(ctx context.Context, pattern, category string, limit int32) ([]Ticket, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if category != "" {
		rows, err = q.pool.Query(ctx,
			`SELECT `+ticketColumns+` FROM kb_tickets
			 WHERE (title ILIKE $1 OR description ILIKE $1) AND category = $2
			 ORDER BY original_id DESC
			 LIMIT $3`,
			pattern, category, limit)
	} else {
		rows, err = q.pool.Query(ctx,
			`SELECT `+ticketColumns+` FROM kb_tickets
			 WHERE title ILIKE $1 OR description ILIKE $1
			 ORDER BY original_id DESC
			 LIMIT $2`,
			pattern, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("querying tickets: %w", err)
	}

	tickets, err := scanTickets(rows)
	if err != nil {
		return nil, err
	}
	if err := q.attachReplies(ctx, tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}

func (q *pgxQuerier) SearchTicketsAny(ctx context.Context, patterns []string, limit int32) ([]Ticket, error) {
	// Tickets are ordered by the sequence number of their earliest reply,
	// mirroring the join-row ordering of the source system; tickets without
	// replies sort last, newest source ticket first as tie-break.
	rows, err := q.pool.Query(ctx,
		`SELECT `+ticketColumns+`,
		        COALESCE((SELECT MIN(r.sequence) FROM kb_replies r WHERE r.ticket_id = t.id), 2147483647) AS first_seq
		 FROM kb_tickets t
		 WHERE t.title ILIKE ANY($1) OR t.description ILIKE ANY($1)
		 ORDER BY first_seq ASC, t.original_id DESC
		 LIMIT $2`,
		patterns, limit)
	if err != nil {
		return nil, fmt.Errorf("querying tickets by keywords: %w", err)
	}

	var tickets []Ticket
	for rows.Next() {
		var (
			t        Ticket
			desc     *string
			cat      *string
			firstSeq int32
		)
		if err := rows.Scan(&t.ID, &t.OriginalID, &t.Title, &desc, &cat, &t.CreatedAt, &firstSeq); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning ticket: %w", err)
		}
		t.Description = deref(desc)
		t.Category = deref(cat)
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading tickets: %w", err)
	}

	if err := q.attachReplies(ctx, tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}

func (q *pgxQuerier) GetTicket(ctx context.Context, id uuid.UUID) (*Ticket, error) {
	var (
		t    Ticket
		desc *string
		cat  *string
	)
	err := q.pool.QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM kb_tickets WHERE id = $1`, id,
	).Scan(&t.ID, &t.OriginalID, &t.Title, &desc, &cat, &t.CreatedAt)
	if err != nil {
		return nil, err // pgx.ErrNoRows passes through for the store to classify
	}
	t.Description = deref(desc)
	t.Category = deref(cat)

	tickets := []Ticket{t}
	if err := q.attachReplies(ctx, tickets); err != nil {
		return nil, err
	}
	return &tickets[0], nil
}

func (q *pgxQuerier) ListTickets(ctx context.Context) ([]Ticket, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT `+ticketColumns+` FROM kb_tickets ORDER BY original_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying all tickets: %w", err)
	}

	tickets, err := scanTickets(rows)
	if err != nil {
		return nil, err
	}
	if err := q.attachReplies(ctx, tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}

func (q *pgxQuerier) DeleteAll(ctx context.Context) error {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Children first; the FK also cascades but the explicit order keeps the
	// delete valid even without the cascade clause.
	if _, err := tx.Exec(ctx, `DELETE FROM kb_replies`); err != nil {
		return fmt.Errorf("deleting replies: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM kb_tickets`); err != nil {
		return fmt.Errorf("deleting tickets: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing clear: %w", err)
	}
	return nil
}

// attachReplies loads the ordered reply list for every ticket in place.
func (q *pgxQuerier) attachReplies(ctx context.Context, tickets []Ticket) error {
	if len(tickets) == 0 {
		return nil
	}

	// Encoded as text[]; the uuid columns compare fine against text literals
	// and pgx handles []string natively.
	ids := make([]string, len(tickets))
	index := make(map[uuid.UUID]int, len(tickets))
	for i := range tickets {
		ids[i] = tickets[i].ID.String()
		index[tickets[i].ID] = i
	}

	rows, err := q.pool.Query(ctx,
		`SELECT id, ticket_id, owner, content, sequence, created_at
		 FROM kb_replies
		 WHERE ticket_id = ANY($1::uuid[])
		 ORDER BY ticket_id, sequence ASC`,
		ids)
	if err != nil {
		return fmt.Errorf("querying replies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r     Reply
			owner string
		)
		if err := rows.Scan(&r.ID, &r.TicketID, &owner, &r.Content, &r.Sequence, &r.CreatedAt); err != nil {
			return fmt.Errorf("scanning reply: %w", err)
		}
		r.Owner = Owner(owner)
		i, ok := index[r.TicketID]
		if !ok {
			continue
		}
		tickets[i].Replies = append(tickets[i].Replies, r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading replies: %w", err)
	}
	return nil
}

func scanTickets(rows pgx.Rows) ([]Ticket, error) {
	defer rows.Close()

	var tickets []Ticket
	for rows.Next() {
		var (
			t    Ticket
			desc *string
			cat  *string
		)
		if err := rows.Scan(&t.ID, &t.OriginalID, &t.Title, &desc, &cat, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning ticket: %w", err)
		}
		t.Description = deref(desc)
		t.Category = deref(cat)
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading tickets: %w", err)
	}
	return tickets, nil
}

// nullable maps "" to NULL so optional columns stay NULL instead of storing
// empty strings.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// IsNoRows reports whether err is the driver's no-rows marker.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
