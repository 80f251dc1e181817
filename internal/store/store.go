// Package store defines the storage collaborator contracts: document
// persistence, checkpoint durability, and optional raw-blob object
// storage. Concrete drivers live in subpackages (fs, memory, postgres,
// gcsblob); this package must not import a database driver directly.
package store

import (
	"context"
	"errors"
	"io"

	"github.com/lexatlas/acquisition-pipeline/internal/pipeline"
)

// ErrNotFound is returned when a requested key has no stored value.
var ErrNotFound = errors.New("store: not found")

// DocumentStore persists Documents keyed by (source_id, external_id).
// Save must be idempotent: a second Save for the same key overwrites the
// stored document rather than failing or adding a second record.
type DocumentStore interface {
	Save(ctx context.Context, doc pipeline.Document) error
	Exists(ctx context.Context, sourceID, externalID string) (bool, error)
}

// CheckpointStore persists and loads Checkpoint records keyed by
// session_id.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp pipeline.Checkpoint) error
	LoadCheckpoint(ctx context.Context, sessionID string) (pipeline.Checkpoint, error)
}

// BlobStore writes raw fetched bytes (PDF/HTML) and returns an opaque
// reference attached to the owning Document.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}
