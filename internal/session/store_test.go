package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/caselight/caselight/internal/log"
)

type mockQuerier struct {
	insertedTitle string
	insertErr     error

	getResult *Session
	getErr    error

	listResult []Session
	listErr    error
	listLimit  int32
	listOffset int32

	titleRows int64
	titleErr  error

	deleteRows int64
	deleteErr  error

	insertedMsg *Message
	msgErr      error

	messages []Message
	msgsErr  error
}

func (m *mockQuerier) InsertSession(_ context.Context, id uuid.UUID, title string) (*Session, error) {
	if m.insertErr != nil {
		return nil, m.insertErr
	}
	m.insertedTitle = title
	now := time.Now()
	return &Session{ID: id, Title: title, CreatedAt: now, UpdatedAt: now}, nil
}

func (m *mockQuerier) GetSession(context.Context, uuid.UUID) (*Session, error) {
	return m.getResult, m.getErr
}

func (m *mockQuerier) ListSessions(_ context.Context, limit, offset int32) ([]Session, error) {
	m.listLimit = limit
	m.listOffset = offset
	return m.listResult, m.listErr
}

func (m *mockQuerier) UpdateTitle(context.Context, uuid.UUID, string) (int64, error) {
	return m.titleRows, m.titleErr
}

func (m *mockQuerier) DeleteSession(context.Context, uuid.UUID) (int64, error) {
	return m.deleteRows, m.deleteErr
}

func (m *mockQuerier) InsertMessage(_ context.Context, msg *Message) (*Message, error) {
	if m.msgErr != nil {
		return nil, m.msgErr
	}
	m.insertedMsg = msg
	out := *msg
	out.CreatedAt = time.Now()
	return &out, nil
}

func (m *mockQuerier) ListMessages(context.Context, uuid.UUID) ([]Message, error) {
	return m.messages, m.msgsErr
}

func TestCreate(t *testing.T) {
	mock := &mockQuerier{}
	store := New(mock, log.NewNop())

	sess, err := store.Create(context.Background(), "发货问题")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.ID == uuid.Nil {
		t.Error("session id not assigned")
	}
	if mock.insertedTitle != "发货问题" {
		t.Errorf("title = %q", mock.insertedTitle)
	}
}

func TestGet(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		want := &Session{ID: uuid.New(), Title: "t"}
		store := New(&mockQuerier{getResult: want}, log.NewNop())

		got, err := store.Get(context.Background(), want.ID)
		if err != nil || got != want {
			t.Errorf("Get = %+v, %v", got, err)
		}
	})

	t.Run("not found maps to sentinel", func(t *testing.T) {
		store := New(&mockQuerier{getErr: pgx.ErrNoRows}, log.NewNop())

		_, err := store.Get(context.Background(), uuid.New())
		if !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("err = %v, want ErrSessionNotFound", err)
		}
	})
}

func TestList(t *testing.T) {
	t.Run("defaults limit and clamps offset", func(t *testing.T) {
		mock := &mockQuerier{}
		store := New(mock, log.NewNop())

		if _, err := store.List(context.Background(), 0, -5); err != nil {
			t.Fatalf("List: %v", err)
		}
		if mock.listLimit != DefaultListLimit {
			t.Errorf("limit = %d", mock.listLimit)
		}
		if mock.listOffset != 0 {
			t.Errorf("offset = %d", mock.listOffset)
		}
	})

	t.Run("passes results through", func(t *testing.T) {
		sessions := []Session{{Title: "a"}, {Title: "b"}}
		store := New(&mockQuerier{listResult: sessions}, log.NewNop())

		got, err := store.List(context.Background(), 10, 0)
		if err != nil || len(got) != 2 {
			t.Errorf("List = %+v, %v", got, err)
		}
	})
}

func TestRename(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		store := New(&mockQuerier{titleRows: 1}, log.NewNop())
		if err := store.Rename(context.Background(), uuid.New(), "new"); err != nil {
			t.Errorf("Rename: %v", err)
		}
	})

	t.Run("zero rows is not found", func(t *testing.T) {
		store := New(&mockQuerier{titleRows: 0}, log.NewNop())
		err := store.Rename(context.Background(), uuid.New(), "new")
		if !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("err = %v", err)
		}
	})
}

func TestDelete(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		store := New(&mockQuerier{deleteRows: 1}, log.NewNop())
		if err := store.Delete(context.Background(), uuid.New()); err != nil {
			t.Errorf("Delete: %v", err)
		}
	})

	t.Run("zero rows is not found", func(t *testing.T) {
		store := New(&mockQuerier{deleteRows: 0}, log.NewNop())
		err := store.Delete(context.Background(), uuid.New())
		if !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("err = %v", err)
		}
	})
}

func TestAddMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("valid roles persist", func(t *testing.T) {
		mock := &mockQuerier{}
		store := New(mock, log.NewNop())
		sid := uuid.New()

		msg, err := store.AddMessage(ctx, sid, RoleUser, "你好")
		if err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
		if msg.SessionID != sid || msg.Role != RoleUser || msg.Content != "你好" {
			t.Errorf("message = %+v", msg)
		}
		if mock.insertedMsg.ID == uuid.Nil {
			t.Error("message id not assigned")
		}
	})

	t.Run("rejects unknown role without touching storage", func(t *testing.T) {
		mock := &mockQuerier{}
		store := New(mock, log.NewNop())

		_, err := store.AddMessage(ctx, uuid.New(), "system", "x")
		if !errors.Is(err, ErrInvalidRole) {
			t.Errorf("err = %v, want ErrInvalidRole", err)
		}
		if mock.insertedMsg != nil {
			t.Error("invalid message reached the querier")
		}
	})

	t.Run("missing session maps to sentinel", func(t *testing.T) {
		store := New(&mockQuerier{msgErr: ErrNoSession}, log.NewNop())

		_, err := store.AddMessage(ctx, uuid.New(), RoleAssistant, "x")
		if !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("err = %v, want ErrSessionNotFound", err)
		}
	})
}

func TestMessages(t *testing.T) {
	msgs := []Message{
		{Role: RoleUser, Content: "问"},
		{Role: RoleAssistant, Content: "答"},
	}
	store := New(&mockQuerier{messages: msgs}, log.NewNop())

	got, err := store.Messages(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(got) != 2 || got[0].Role != RoleUser || got[1].Role != RoleAssistant {
		t.Errorf("messages = %+v", got)
	}
}
