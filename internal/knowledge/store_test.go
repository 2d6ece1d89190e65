package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/caselight/caselight/internal/kb"
	"github.com/caselight/caselight/internal/log"
)

// mockEmbedder implements ai.Embedder, returning a fixed-dimension vector
// per input document. failOnCall makes the n-th Embed call fail (1-based);
// embedErr fails every call.
type mockEmbedder struct {
	embedErr   error
	failOnCall int
	callCount  int
	inputs     []string
}

func (m *mockEmbedder) Name() string { return "mock-embedder" }

func (m *mockEmbedder) Register(api.Registry) {}

func (m *mockEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	m.callCount++
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	if m.failOnCall != 0 && m.callCount == m.failOnCall {
		return nil, errors.New("transient embedder failure")
	}

	resp := &ai.EmbedResponse{}
	for _, doc := range req.Input {
		if len(doc.Content) > 0 {
			m.inputs = append(m.inputs, doc.Content[0].Text)
		}
		resp.Embeddings = append(resp.Embeddings, &ai.Embedding{
			Embedding: []float32{0.1, 0.2, 0.3},
		})
	}
	return resp, nil
}

type upsertCall struct {
	id       string
	content  string
	metadata []byte
}

// mockDocQuerier records writes and plays back canned search results.
type mockDocQuerier struct {
	schemaCalls int
	schemaErr   error

	upserts   []upsertCall
	upsertErr error

	searchRows  []documentRow
	searchErr   error
	searchLimit int32

	count    int64
	countErr error

	deleteCalls int
	deleteErr   error
}

func (m *mockDocQuerier) EnsureSchema(context.Context) error {
	m.schemaCalls++
	return m.schemaErr
}

func (m *mockDocQuerier) UpsertDocument(_ context.Context, id, content string, _ pgvector.Vector, metadata []byte) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.upserts = append(m.upserts, upsertCall{id: id, content: content, metadata: metadata})
	return nil
}

func (m *mockDocQuerier) SearchDocuments(_ context.Context, _ pgvector.Vector, limit int32) ([]documentRow, error) {
	m.searchLimit = limit
	return m.searchRows, m.searchErr
}

func (m *mockDocQuerier) CountDocuments(context.Context) (int64, error) {
	return m.count, m.countErr
}

func (m *mockDocQuerier) DeleteAll(context.Context) error {
	m.deleteCalls++
	return m.deleteErr
}

func missingTableErr() error {
	return &pgconn.PgError{Code: "42P01"}
}

func sampleTicket(id int64) kb.Ticket {
	return kb.Ticket{
		OriginalID:  id,
		Title:       fmt.Sprintf("问题-%d", id),
		Category:    "物流",
		Description: "<p>描述文本</p>",
		Replies: []kb.Reply{
			{Owner: kb.OwnerCustomer, Content: "包裹没到"},
			{Owner: kb.OwnerAgent, Content: "已加急"},
		},
	}
}

func TestAddTickets(t *testing.T) {
	ctx := context.Background()

	t.Run("renders, embeds and upserts each ticket", func(t *testing.T) {
		querier := &mockDocQuerier{}
		embedder := &mockEmbedder{}
		store := New(querier, embedder, log.NewNop())

		report, err := store.AddTickets(ctx, []kb.Ticket{sampleTicket(7), sampleTicket(8)})
		if err != nil {
			t.Fatalf("AddTickets: %v", err)
		}
		if report.Indexed != 2 || report.Failed != 0 {
			t.Errorf("report = %+v", report)
		}

		if querier.schemaCalls != 1 {
			t.Errorf("schema ensured %d times, want 1", querier.schemaCalls)
		}
		if len(querier.upserts) != 2 {
			t.Fatalf("upserts = %d, want 2", len(querier.upserts))
		}
		if querier.upserts[0].id != "ticket-7" {
			t.Errorf("document id = %q", querier.upserts[0].id)
		}

		var meta map[string]string
		if err := json.Unmarshal(querier.upserts[0].metadata, &meta); err != nil {
			t.Fatalf("metadata not valid JSON: %v", err)
		}
		if meta[MetaTicketID] != "7" || meta[MetaTitle] != "问题-7" || meta[MetaCategory] != "物流" {
			t.Errorf("metadata = %v", meta)
		}

		content := querier.upserts[0].content
		for _, want := range []string{"分类: 物流", "问题: 问题-7", "描述: 描述文本", "对话记录:", "用户: 包裹没到", "客服: 已加急"} {
			if !strings.Contains(content, want) {
				t.Errorf("document missing %q:\n%s", want, content)
			}
		}
	})

	t.Run("single embedding request per batch", func(t *testing.T) {
		embedder := &mockEmbedder{}
		store := New(&mockDocQuerier{}, embedder, log.NewNop())

		tickets := make([]kb.Ticket, 5)
		for i := range tickets {
			tickets[i] = sampleTicket(int64(i))
		}
		report, err := store.AddTickets(ctx, tickets)
		if err != nil {
			t.Fatalf("AddTickets: %v", err)
		}
		if report.Indexed != 5 {
			t.Errorf("report = %+v", report)
		}
		if embedder.callCount != 1 {
			t.Errorf("embedder called %d times for one batch", embedder.callCount)
		}
	})

	t.Run("empty input is a no-op", func(t *testing.T) {
		querier := &mockDocQuerier{}
		store := New(querier, &mockEmbedder{}, log.NewNop())

		report, err := store.AddTickets(ctx, nil)
		if err != nil {
			t.Fatalf("AddTickets(nil): %v", err)
		}
		if report.Indexed != 0 || report.Failed != 0 {
			t.Errorf("report = %+v", report)
		}
		if querier.schemaCalls != 0 {
			t.Errorf("schema touched for empty input")
		}
	})

	t.Run("failed batch is counted, remaining batches continue", func(t *testing.T) {
		querier := &mockDocQuerier{}
		embedder := &mockEmbedder{failOnCall: 1}
		store := New(querier, embedder, log.NewNop())

		tickets := make([]kb.Ticket, 150)
		for i := range tickets {
			tickets[i] = sampleTicket(int64(i))
		}

		report, err := store.AddTickets(ctx, tickets)
		if err != nil {
			t.Fatalf("AddTickets: %v", err)
		}
		if report.Indexed != 50 || report.Failed != 100 {
			t.Errorf("report = %+v, want 50 indexed / 100 failed", report)
		}
		if embedder.callCount != 2 {
			t.Errorf("embedder called %d times, want both batches attempted", embedder.callCount)
		}
		if len(querier.upserts) != 50 {
			t.Fatalf("upserts = %d, want second batch only", len(querier.upserts))
		}
		if querier.upserts[0].id != "ticket-100" {
			t.Errorf("first surviving document = %q", querier.upserts[0].id)
		}
	})

	t.Run("document upsert failure is counted, not fatal", func(t *testing.T) {
		querier := &mockDocQuerier{upsertErr: errors.New("disk full")}
		store := New(querier, &mockEmbedder{}, log.NewNop())

		report, err := store.AddTickets(ctx, []kb.Ticket{sampleTicket(1), sampleTicket(2)})
		if err != nil {
			t.Fatalf("AddTickets: %v", err)
		}
		if report.Indexed != 0 || report.Failed != 2 {
			t.Errorf("report = %+v", report)
		}
	})

	t.Run("cancelled context aborts with partial report", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		store := New(&mockDocQuerier{}, &mockEmbedder{}, log.NewNop())

		report, err := store.AddTickets(cancelled, []kb.Ticket{sampleTicket(1)})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v", err)
		}
		if report.Indexed != 0 {
			t.Errorf("report = %+v", report)
		}
	})

	t.Run("schema failure aborts before embedding", func(t *testing.T) {
		embedder := &mockEmbedder{}
		store := New(&mockDocQuerier{schemaErr: errors.New("permission denied")}, embedder, log.NewNop())

		if _, err := store.AddTickets(ctx, []kb.Ticket{sampleTicket(1)}); err == nil {
			t.Fatal("want error, got nil")
		}
		if embedder.callCount != 0 {
			t.Errorf("embedder called despite schema failure")
		}
	})
}

func TestSearchRelevantVector(t *testing.T) {
	ctx := context.Background()

	t.Run("returns rendered matches in similarity order", func(t *testing.T) {
		querier := &mockDocQuerier{searchRows: []documentRow{
			{ID: "ticket-1", Content: "分类: 物流\n问题: 发货慢", Similarity: 0.92},
			{ID: "ticket-2", Content: "分类: 账户\n问题: 无法登录", Similarity: 0.81},
		}}
		store := New(querier, &mockEmbedder{}, log.NewNop())

		matches, err := store.SearchRelevant(ctx, "发货", 3)
		if err != nil {
			t.Fatalf("SearchRelevant: %v", err)
		}
		if len(matches) != 2 {
			t.Fatalf("matches = %d", len(matches))
		}
		if matches[0].Rendered != "分类: 物流\n问题: 发货慢" {
			t.Errorf("match 0 = %+v", matches[0])
		}
		if matches[0].Title != "" || len(matches[0].Turns) != 0 {
			t.Errorf("vector match must carry only the rendered blob: %+v", matches[0])
		}
		if querier.searchLimit != 3 {
			t.Errorf("limit = %d", querier.searchLimit)
		}
	})

	t.Run("missing table is an empty store", func(t *testing.T) {
		store := New(&mockDocQuerier{searchErr: missingTableErr()}, &mockEmbedder{}, log.NewNop())

		matches, err := store.SearchRelevant(ctx, "发货", 3)
		if err != nil {
			t.Fatalf("SearchRelevant: %v", err)
		}
		if matches != nil {
			t.Errorf("matches = %+v, want nil", matches)
		}
	})

	t.Run("embedding failure propagates", func(t *testing.T) {
		store := New(&mockDocQuerier{}, &mockEmbedder{embedErr: errors.New("quota")}, log.NewNop())

		if _, err := store.SearchRelevant(ctx, "发货", 3); err == nil {
			t.Fatal("want error, got nil")
		}
	})

	t.Run("defaults limit", func(t *testing.T) {
		querier := &mockDocQuerier{}
		store := New(querier, &mockEmbedder{}, log.NewNop())

		if _, err := store.SearchRelevant(ctx, "发货", 0); err != nil {
			t.Fatalf("SearchRelevant: %v", err)
		}
		if querier.searchLimit != 3 {
			t.Errorf("limit = %d, want 3", querier.searchLimit)
		}
	})
}

func TestCount(t *testing.T) {
	t.Run("counts documents", func(t *testing.T) {
		store := New(&mockDocQuerier{count: 42}, &mockEmbedder{}, log.NewNop())

		n, err := store.Count(context.Background())
		if err != nil || n != 42 {
			t.Errorf("Count = %d, %v", n, err)
		}
	})

	t.Run("missing table counts zero", func(t *testing.T) {
		store := New(&mockDocQuerier{countErr: missingTableErr()}, &mockEmbedder{}, log.NewNop())

		n, err := store.Count(context.Background())
		if err != nil || n != 0 {
			t.Errorf("Count = %d, %v", n, err)
		}
	})
}

func TestClear(t *testing.T) {
	t.Run("deletes everything", func(t *testing.T) {
		querier := &mockDocQuerier{}
		store := New(querier, &mockEmbedder{}, log.NewNop())

		if err := store.Clear(context.Background()); err != nil {
			t.Fatalf("Clear: %v", err)
		}
		if querier.deleteCalls != 1 {
			t.Errorf("DeleteAll called %d times", querier.deleteCalls)
		}
	})

	t.Run("missing table is a no-op", func(t *testing.T) {
		store := New(&mockDocQuerier{deleteErr: missingTableErr()}, &mockEmbedder{}, log.NewNop())

		if err := store.Clear(context.Background()); err != nil {
			t.Errorf("Clear on unindexed database: %v", err)
		}
	})
}

func TestRenderTicket(t *testing.T) {
	t.Run("omits empty sections", func(t *testing.T) {
		got := RenderTicket(kb.Ticket{Title: "只有标题"})

		want := "分类: 未分类\n问题: 只有标题"
		if got != want {
			t.Errorf("RenderTicket = %q, want %q", got, want)
		}
	})

	t.Run("flattens markup to single-line text", func(t *testing.T) {
		got := RenderTicket(kb.Ticket{
			Title:       "标题",
			Description: "<p>第一行</p>\n<p>第二行</p>",
		})

		if !strings.Contains(got, "描述: 第一行 第二行") {
			t.Errorf("description not flattened: %q", got)
		}
	})
}
