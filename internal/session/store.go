package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// DefaultListLimit bounds session listings when callers pass no limit.
const DefaultListLimit int32 = 50

// Store manages session and message persistence.
// Safe for concurrent use.
type Store struct {
	queries Querier
	logger  *slog.Logger
}

// New creates a session store. logger may be nil (defaults to slog.Default).
func New(querier Querier, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{queries: querier, logger: logger}
}

// Create starts a new session. An empty title is allowed; sessions are
// commonly created untitled and renamed once the first exchange suggests
// a summary.
func (s *Store) Create(ctx context.Context, title string) (*Session, error) {
	sess, err := s.queries.InsertSession(ctx, uuid.New(), title)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.logger.Debug("created session", "id", sess.ID, "title", sess.Title)
	return sess, nil
}

// Get returns one session. Returns ErrSessionNotFound for unknown ids.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	sess, err := s.queries.GetSession(ctx, id)
	if err != nil {
		if IsNoRows(err) {
			return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
		}
		return nil, fmt.Errorf("getting session %s: %w", id, err)
	}
	return sess, nil
}

// List returns sessions most recently active first.
func (s *Store) List(ctx context.Context, limit, offset int32) ([]Session, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	sessions, err := s.queries.ListSessions(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, nil
}

// Rename sets a session's title. Returns ErrSessionNotFound for unknown ids.
func (s *Store) Rename(ctx context.Context, id uuid.UUID, title string) error {
	n, err := s.queries.UpdateTitle(ctx, id, title)
	if err != nil {
		return fmt.Errorf("renaming session %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	return nil
}

// Delete removes a session and its messages. Returns ErrSessionNotFound for
// unknown ids.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	n, err := s.queries.DeleteSession(ctx, id)
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}

	s.logger.Debug("deleted session", "id", id)
	return nil
}

// AddMessage appends one transcript entry and marks the session active.
// Returns ErrInvalidRole for roles outside user/assistant and
// ErrSessionNotFound when the session does not exist.
func (s *Store) AddMessage(ctx context.Context, sessionID uuid.UUID, role, content string) (*Message, error) {
	if role != RoleUser && role != RoleAssistant {
		return nil, fmt.Errorf("role %q: %w", role, ErrInvalidRole)
	}

	m, err := s.queries.InsertMessage(ctx, &Message{
		ID:        uuid.New(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
	})
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
		}
		return nil, fmt.Errorf("adding message to session %s: %w", sessionID, err)
	}
	return m, nil
}

// Messages returns a session's transcript in chronological order. An
// existing session with no messages yields an empty slice.
func (s *Store) Messages(ctx context.Context, sessionID uuid.UUID) ([]Message, error) {
	messages, err := s.queries.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading messages for session %s: %w", sessionID, err)
	}
	return messages, nil
}
