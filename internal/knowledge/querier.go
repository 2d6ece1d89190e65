package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Querier defines the database operations the embedding store depends on.
// Defined by the consumer so tests can substitute a mock.
type Querier interface {
	// EnsureSchema creates the vector extension and document table if absent.
	EnsureSchema(ctx context.Context) error

	// UpsertDocument inserts or replaces a document by id.
	UpsertDocument(ctx context.Context, id, content string, embedding pgvector.Vector, metadata []byte) error

	// SearchDocuments returns the limit nearest documents by cosine distance.
	SearchDocuments(ctx context.Context, embedding pgvector.Vector, limit int32) ([]documentRow, error)

	// CountDocuments returns the number of stored documents.
	CountDocuments(ctx context.Context) (int64, error)

	// DeleteAll removes every document.
	DeleteAll(ctx context.Context) error
}

// documentRow is one raw search hit before metadata decoding.
type documentRow struct {
	ID         string
	Content    string
	Metadata   []byte
	Similarity float64
}

type pgxQuerier struct {
	pool *pgxpool.Pool
}

// NewQuerier creates the production Querier backed by a pgx pool.
func NewQuerier(pool *pgxpool.Pool) Querier {
	return &pgxQuerier{pool: pool}
}

func (q *pgxQuerier) EnsureSchema(ctx context.Context) error {
	// The embedding column carries no fixed dimension so the table works
	// with whichever embedding model is configured. pgvector requires a
	// dimension for indexes, not for storage or sequential scans.
	const ddl = `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS kb_documents (
			id         TEXT PRIMARY KEY,
			content    TEXT NOT NULL,
			embedding  vector NOT NULL,
			metadata   JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`
	if _, err := q.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("creating vector schema: %w", err)
	}
	return nil
}

func (q *pgxQuerier) UpsertDocument(ctx context.Context, id, content string, embedding pgvector.Vector, metadata []byte) error {
	_, err := q.pool.Exec(ctx,
		`INSERT INTO kb_documents (id, content, embedding, metadata)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		 SET content = EXCLUDED.content,
		     embedding = EXCLUDED.embedding,
		     metadata = EXCLUDED.metadata`,
		id, content, embedding, metadata)
	if err != nil {
		return fmt.Errorf("upserting document %q: %w", id, err)
	}
	return nil
}

func (q *pgxQuerier) SearchDocuments(ctx context.Context, embedding pgvector.Vector, limit int32) ([]documentRow, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT id, content, metadata, 1 - (embedding <=> $1) AS similarity
		 FROM kb_documents
		 ORDER BY embedding <=> $1
		 LIMIT $2`,
		embedding, limit)
	if err != nil {
		return nil, fmt.Errorf("searching documents: %w", err)
	}
	defer rows.Close()

	var out []documentRow
	for rows.Next() {
		var r documentRow
		if err := rows.Scan(&r.ID, &r.Content, &r.Metadata, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading documents: %w", err)
	}
	return out, nil
}

func (q *pgxQuerier) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := q.pool.QueryRow(ctx, `SELECT COUNT(*) FROM kb_documents`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return count, nil
}

func (q *pgxQuerier) DeleteAll(ctx context.Context) error {
	if _, err := q.pool.Exec(ctx, `DELETE FROM kb_documents`); err != nil {
		return fmt.Errorf("deleting documents: %w", err)
	}
	return nil
}

// isMissingTable reports whether err means the document table has not been
// created yet. The table is created lazily on first write, so reads hitting
// this condition are a benign empty state, not a failure.
func isMissingTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable
}
