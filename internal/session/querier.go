package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier defines the database operations the session store depends on.
// Defined by the consumer so tests can substitute a mock.
type Querier interface {
	// InsertSession creates a session row and returns it with database
	// timestamps populated.
	InsertSession(ctx context.Context, id uuid.UUID, title string) (*Session, error)

	// GetSession returns one session or pgx.ErrNoRows.
	GetSession(ctx context.Context, id uuid.UUID) (*Session, error)

	// ListSessions returns sessions ordered by updated_at descending.
	ListSessions(ctx context.Context, limit, offset int32) ([]Session, error)

	// UpdateTitle renames a session, bumps updated_at, and reports how
	// many rows matched.
	UpdateTitle(ctx context.Context, id uuid.UUID, title string) (int64, error)

	// DeleteSession removes a session and, via cascade, its messages.
	// Reports how many rows matched.
	DeleteSession(ctx context.Context, id uuid.UUID) (int64, error)

	// InsertMessage appends a message and bumps the session's updated_at
	// in one transaction. Returns ErrNoSession when the session id does
	// not exist.
	InsertMessage(ctx context.Context, m *Message) (*Message, error)

	// ListMessages returns a session's messages in chronological order.
	ListMessages(ctx context.Context, sessionID uuid.UUID) ([]Message, error)
}

// ErrNoSession is the querier-level marker for a missing session on message
// insert. The store translates it into ErrSessionNotFound.
var ErrNoSession = errors.New("no such session")

type pgxQuerier struct {
	pool *pgxpool.Pool
}

// NewQuerier creates the production Querier backed by a pgx pool.
func NewQuerier(pool *pgxpool.Pool) Querier {
	return &pgxQuerier{pool: pool}
}

func (q *pgxQuerier) InsertSession(ctx context.Context, id uuid.UUID, title string) (*Session, error) {
	s := &Session{ID: id, Title: title}
	err := q.pool.QueryRow(ctx,
		`INSERT INTO sessions (id, title)
		 VALUES ($1, $2)
		 RETURNING created_at, updated_at`,
		id, title,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting session: %w", err)
	}
	return s, nil
}

func (q *pgxQuerier) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	var s Session
	err := q.pool.QueryRow(ctx,
		`SELECT id, title, created_at, updated_at FROM sessions WHERE id = $1`, id,
	).Scan(&s.ID, &s.Title, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err // pgx.ErrNoRows passes through for the store to classify
	}
	return &s, nil
}

func (q *pgxQuerier) ListSessions(ctx context.Context, limit, offset int32) ([]Session, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT id, title, created_at, updated_at
		 FROM sessions
		 ORDER BY updated_at DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.Title, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading sessions: %w", err)
	}
	return sessions, nil
}

func (q *pgxQuerier) UpdateTitle(ctx context.Context, id uuid.UUID, title string) (int64, error) {
	tag, err := q.pool.Exec(ctx,
		`UPDATE sessions SET title = $2, updated_at = now() WHERE id = $1`,
		id, title)
	if err != nil {
		return 0, fmt.Errorf("updating session title: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *pgxQuerier) DeleteSession(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := q.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("deleting session: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *pgxQuerier) InsertMessage(ctx context.Context, m *Message) (*Message, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	out := *m
	err = tx.QueryRow(ctx,
		`INSERT INTO messages (id, session_id, role, content)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		m.ID, m.SessionID, m.Role, m.Content,
	).Scan(&out.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE sessions SET updated_at = now() WHERE id = $1`, m.SessionID,
	); err != nil {
		return nil, fmt.Errorf("touching session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing message: %w", err)
	}
	return &out, nil
}

func (q *pgxQuerier) ListMessages(ctx context.Context, sessionID uuid.UUID) ([]Message, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT id, session_id, role, content, created_at
		 FROM messages
		 WHERE session_id = $1
		 ORDER BY created_at ASC, id ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading messages: %w", err)
	}
	return messages, nil
}

// IsNoRows reports whether err is the driver's no-rows marker.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
