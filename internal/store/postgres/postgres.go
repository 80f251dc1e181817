// Package postgres implements the DocumentStore and CheckpointStore
// collaborators on top of jackc/pgx, using upsert-on-conflict so Save and
// SaveCheckpoint stay idempotent by construction.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lexatlas/acquisition-pipeline/internal/pipeline"
	"github.com/lexatlas/acquisition-pipeline/internal/store"
)

// pool is the subset of *pgxpool.Pool this package depends on, narrow
// enough that pgxmock's mock pool satisfies it in tests.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements store.DocumentStore and store.CheckpointStore against a
// Postgres connection pool.
type Store struct {
	pool  pool
	close func()
}

// New opens a connection pool against dsn.
func New(ctx context.Context, dsn string) (*Store, error) {
	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	return &Store{pool: p, close: p.Close}, nil
}

// NewWithPool wraps an already-constructed pool, letting tests substitute
// pgxmock's pool implementation.
func NewWithPool(p pool) *Store {
	return &Store{pool: p, close: func() {}}
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	if s.close != nil {
		s.close()
	}
}

// Save upserts doc keyed by (source_id, external_id), overwriting content
// on conflict so a repeat save for the same key remains idempotent.
func (s *Store) Save(ctx context.Context, doc pipeline.Document) error {
	articles, err := json.Marshal(doc.Articles)
	if err != nil {
		return fmt.Errorf("marshal articles for %s: %w", doc.Key(), err)
	}
	reforms, err := json.Marshal(doc.Reforms)
	if err != nil {
		return fmt.Errorf("marshal reforms for %s: %w", doc.Key(), err)
	}

	query := `
		INSERT INTO documents (
			id, source_id, external_id, title, publication_date, category,
			scope, status, articles, reforms, raw_blob_ref, content_type, source_url
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (source_id, external_id) DO UPDATE SET
			title = EXCLUDED.title,
			publication_date = EXCLUDED.publication_date,
			category = EXCLUDED.category,
			scope = EXCLUDED.scope,
			status = EXCLUDED.status,
			articles = EXCLUDED.articles,
			reforms = EXCLUDED.reforms,
			raw_blob_ref = EXCLUDED.raw_blob_ref,
			content_type = EXCLUDED.content_type,
			source_url = EXCLUDED.source_url;
	`
	_, err = s.pool.Exec(ctx, query,
		doc.ID, doc.SourceID, doc.ExternalID, doc.Title, doc.PublicationDate,
		doc.Category, doc.Scope, doc.Status, articles, reforms, doc.RawBlobRef,
		doc.ContentType, doc.SourceURL,
	)
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.Key(), err)
	}
	return nil
}

// Exists reports whether a document row for (sourceID, externalID) exists.
func (s *Store) Exists(ctx context.Context, sourceID, externalID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM documents WHERE source_id = $1 AND external_id = $2);`
	if err := s.pool.QueryRow(ctx, query, sourceID, externalID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check document existence %s/%s: %w", sourceID, externalID, err)
	}
	return exists, nil
}

// SaveCheckpoint upserts cp keyed by session_id.
func (s *Store) SaveCheckpoint(ctx context.Context, cp pipeline.Checkpoint) error {
	pending, err := json.Marshal(cp.PendingIDs)
	if err != nil {
		return fmt.Errorf("marshal pending ids for %s: %w", cp.SessionID, err)
	}
	failed, err := json.Marshal(cp.FailedIDs)
	if err != nil {
		return fmt.Errorf("marshal failed ids for %s: %w", cp.SessionID, err)
	}
	completed, err := json.Marshal(cp.CompletedIDs)
	if err != nil {
		return fmt.Errorf("marshal completed ids for %s: %w", cp.SessionID, err)
	}

	query := `
		INSERT INTO checkpoints (session_id, last_processed_external_id, pending_ids, failed_ids, completed_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO UPDATE SET
			last_processed_external_id = EXCLUDED.last_processed_external_id,
			pending_ids = EXCLUDED.pending_ids,
			failed_ids = EXCLUDED.failed_ids,
			completed_ids = EXCLUDED.completed_ids,
			created_at = EXCLUDED.created_at;
	`
	_, err = s.pool.Exec(ctx, query, cp.SessionID, cp.LastProcessedExternalID, pending, failed, completed, cp.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert checkpoint %s: %w", cp.SessionID, err)
	}
	return nil
}

// LoadCheckpoint reads back a checkpoint by session_id.
func (s *Store) LoadCheckpoint(ctx context.Context, sessionID string) (pipeline.Checkpoint, error) {
	var (
		cp        pipeline.Checkpoint
		pending   []byte
		failed    []byte
		completed []byte
	)
	query := `
		SELECT session_id, last_processed_external_id, pending_ids, failed_ids, completed_ids, created_at
		FROM checkpoints WHERE session_id = $1;
	`
	err := s.pool.QueryRow(ctx, query, sessionID).Scan(
		&cp.SessionID, &cp.LastProcessedExternalID, &pending, &failed, &completed, &cp.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return pipeline.Checkpoint{}, store.ErrNotFound
		}
		return pipeline.Checkpoint{}, fmt.Errorf("load checkpoint %s: %w", sessionID, err)
	}
	if err := json.Unmarshal(pending, &cp.PendingIDs); err != nil {
		return pipeline.Checkpoint{}, fmt.Errorf("unmarshal pending ids for %s: %w", sessionID, err)
	}
	if err := json.Unmarshal(failed, &cp.FailedIDs); err != nil {
		return pipeline.Checkpoint{}, fmt.Errorf("unmarshal failed ids for %s: %w", sessionID, err)
	}
	if err := json.Unmarshal(completed, &cp.CompletedIDs); err != nil {
		return pipeline.Checkpoint{}, fmt.Errorf("unmarshal completed ids for %s: %w", sessionID, err)
	}
	return cp, nil
}

var (
	_ store.DocumentStore   = (*Store)(nil)
	_ store.CheckpointStore = (*Store)(nil)
)
