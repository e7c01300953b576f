package projection

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethosengine/doorway/internal/apperr"
	"github.com/ethosengine/doorway/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxStore is the tier-2 durable implementation of pkg/contracts.DurableStore
// over PostgreSQL, used for recovery and reader replicas (spec.md §4.5, §9's
// "Pluggable durable store" note). `data` is stored as jsonb and
// `search_tokens` as text[], matching the teacher's structured-column
// approach in internal/store rather than a blob column.
type PgxStore struct {
	pool *pgxpool.Pool
}

// NewPgxStore connects to Postgres and ensures the projected_documents
// table exists.
func NewPgxStore(ctx context.Context, dsn string) (*PgxStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PgxStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PgxStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS projected_documents (
			doc_type       TEXT NOT NULL,
			id             TEXT NOT NULL,
			data           JSONB,
			action_hash    TEXT,
			entry_hash     TEXT,
			author         TEXT,
			search_tokens  TEXT[],
			blob_hash      TEXT,
			blob_endpoints TEXT[],
			ttl_expires_at TIMESTAMPTZ,
			soft_deleted   BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (doc_type, id)
		);
		CREATE INDEX IF NOT EXISTS idx_projected_documents_blob_hash
			ON projected_documents (blob_hash) WHERE blob_hash IS NOT NULL;
	`)
	if err != nil {
		return fmt.Errorf("migrate projected_documents: %w", err)
	}
	return nil
}

// Upsert inserts or replaces a document row.
func (s *PgxStore) Upsert(ctx context.Context, doc *models.ProjectedDocument) error {
	data, err := json.Marshal(doc.Data)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "ENCODE_FAILED", "marshal document data", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO projected_documents
			(doc_type, id, data, action_hash, entry_hash, author, search_tokens,
			 blob_hash, blob_endpoints, ttl_expires_at, soft_deleted)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (doc_type, id) DO UPDATE SET
			data = EXCLUDED.data,
			action_hash = EXCLUDED.action_hash,
			entry_hash = EXCLUDED.entry_hash,
			author = EXCLUDED.author,
			search_tokens = EXCLUDED.search_tokens,
			blob_hash = EXCLUDED.blob_hash,
			blob_endpoints = EXCLUDED.blob_endpoints,
			ttl_expires_at = EXCLUDED.ttl_expires_at,
			soft_deleted = EXCLUDED.soft_deleted
	`, doc.DocType, doc.ID, data, doc.ActionHash, doc.EntryHash, doc.Author,
		doc.SearchTokens, doc.BlobHash, doc.BlobEndpoints, doc.TTLExpiresAt, doc.SoftDeleted)
	if err != nil {
		return apperr.Wrap(apperr.Backend, "PG_UPSERT_FAILED", "upsert projected document", err)
	}
	return nil
}

// Get fetches one row, excluding soft-deleted documents.
func (s *PgxStore) Get(ctx context.Context, docType, id string) (*models.ProjectedDocument, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT doc_type, id, data, action_hash, entry_hash, author, search_tokens,
		       blob_hash, blob_endpoints, ttl_expires_at, soft_deleted
		FROM projected_documents
		WHERE doc_type = $1 AND id = $2 AND soft_deleted = FALSE
	`, docType, id)

	doc, err := scanDoc(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "document not found")
		}
		return nil, apperr.Wrap(apperr.Backend, "PG_GET_FAILED", "get projected document", err)
	}
	return doc, nil
}

// Delete soft-deletes a row (spec.md §4.5).
func (s *PgxStore) Delete(ctx context.Context, docType, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE projected_documents SET soft_deleted = TRUE
		WHERE doc_type = $1 AND id = $2
	`, docType, id)
	if err != nil {
		return apperr.Wrap(apperr.Backend, "PG_DELETE_FAILED", "soft-delete projected document", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "document not found")
	}
	return nil
}

// QueryByType lists up to limit non-deleted documents of docType.
func (s *PgxStore) QueryByType(ctx context.Context, docType string, limit int) ([]*models.ProjectedDocument, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT doc_type, id, data, action_hash, entry_hash, author, search_tokens,
		       blob_hash, blob_endpoints, ttl_expires_at, soft_deleted
		FROM projected_documents
		WHERE doc_type = $1 AND soft_deleted = FALSE
		LIMIT $2
	`, docType, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.Backend, "PG_QUERY_FAILED", "query projected documents", err)
	}
	defer rows.Close()

	var out []*models.ProjectedDocument
	for rows.Next() {
		doc, err := scanDoc(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.Backend, "PG_SCAN_FAILED", "scan projected document", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// UpdateBlobEndpoints updates every row with blob_hash = blobHash.
func (s *PgxStore) UpdateBlobEndpoints(ctx context.Context, blobHash string, endpoints []string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE projected_documents SET blob_endpoints = $2
		WHERE blob_hash = $1
	`, blobHash, endpoints)
	if err != nil {
		return 0, apperr.Wrap(apperr.Backend, "PG_UPDATE_ENDPOINTS_FAILED", "update blob endpoints", err)
	}
	return int(tag.RowsAffected()), nil
}

// Invalidate soft-deletes every row whose "doc_type:id" key matches a SQL
// LIKE translation of pattern (the single '*' becomes '%').
func (s *PgxStore) Invalidate(ctx context.Context, pattern string) error {
	likePattern := toLikePattern(pattern)
	_, err := s.pool.Exec(ctx, `
		UPDATE projected_documents SET soft_deleted = TRUE
		WHERE (doc_type || ':' || id) LIKE $1
	`, likePattern)
	if err != nil {
		return apperr.Wrap(apperr.Backend, "PG_INVALIDATE_FAILED", "invalidate projected documents", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PgxStore) Close() error {
	s.pool.Close()
	return nil
}

func toLikePattern(pattern string) string {
	out := make([]byte, 0, len(pattern))
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '*':
			out = append(out, '%')
		case '%', '_':
			out = append(out, '\\', pattern[i])
		default:
			out = append(out, pattern[i])
		}
	}
	return string(out)
}

// rowScanner abstracts pgx.Row/pgx.Rows for a shared scan helper.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDoc(row rowScanner) (*models.ProjectedDocument, error) {
	var doc models.ProjectedDocument
	var data []byte
	if err := row.Scan(&doc.DocType, &doc.ID, &data, &doc.ActionHash, &doc.EntryHash,
		&doc.Author, &doc.SearchTokens, &doc.BlobHash, &doc.BlobEndpoints,
		&doc.TTLExpiresAt, &doc.SoftDeleted); err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &doc.Data); err != nil {
			return nil, fmt.Errorf("unmarshal document data: %w", err)
		}
	}
	return &doc, nil
}
