// Package fs implements the filesystem-backed DocumentStore, CheckpointStore,
// and BlobStore, writing this on-disk layout:
// <output_dir>/documents/<source_id>__<external_id>.json, <output_dir>/checkpoints/<session_id>.json,
// <output_dir>/raw/<path>. Document file names carry the source id as well as
// the external id. A blob lands at the path its caller passes; the persistence
// actor passes <source_id>/<external_id>, and no file extension is added.
package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/lexatlas/acquisition-pipeline/internal/pipeline"
	"github.com/lexatlas/acquisition-pipeline/internal/store"
)

// Store writes documents, checkpoints, and raw blobs under a single root
// directory.
type Store struct {
	root string
}

// New validates root is a writable directory and returns a Store rooted
// there.
func New(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create output directory %s: %w", root, err)
	}
	probe := filepath.Join(root, ".writable_test")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return nil, fmt.Errorf("output directory %s is not writable: %w", root, err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up writability probe: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) documentPath(sourceID, externalID string) string {
	return filepath.Join(s.root, "documents", sanitize(sourceID)+"__"+sanitize(externalID)+".json")
}

func (s *Store) checkpointPath(sessionID string) string {
	return filepath.Join(s.root, "checkpoints", sanitize(sessionID)+".json")
}

func sanitize(id string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(id)
}

// Save writes doc's canonical JSON representation. Idempotent: a repeat
// save for the same key overwrites with identical content.
func (s *Store) Save(_ context.Context, doc pipeline.Document) error {
	path := s.documentPath(doc.SourceID, doc.ExternalID)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create documents dir: %w", err)
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document %s: %w", doc.Key(), err)
	}
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return fmt.Errorf("write document %s: %w", doc.Key(), err)
	}
	return nil
}

// Exists reports whether a document file for (sourceID, externalID) is
// already present.
func (s *Store) Exists(_ context.Context, sourceID, externalID string) (bool, error) {
	_, err := os.Stat(s.documentPath(sourceID, externalID))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat document %s/%s: %w", sourceID, externalID, err)
}

// SaveCheckpoint writes cp's canonical JSON representation.
func (s *Store) SaveCheckpoint(_ context.Context, cp pipeline.Checkpoint) error {
	path := s.checkpointPath(cp.SessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create checkpoints dir: %w", err)
	}
	payload, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint %s: %w", cp.SessionID, err)
	}
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", cp.SessionID, err)
	}
	return nil
}

// LoadCheckpoint reads back a previously written checkpoint.
func (s *Store) LoadCheckpoint(_ context.Context, sessionID string) (pipeline.Checkpoint, error) {
	payload, err := os.ReadFile(s.checkpointPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return pipeline.Checkpoint{}, store.ErrNotFound
		}
		return pipeline.Checkpoint{}, fmt.Errorf("read checkpoint %s: %w", sessionID, err)
	}
	var cp pipeline.Checkpoint
	if err := json.Unmarshal(payload, &cp); err != nil {
		return pipeline.Checkpoint{}, fmt.Errorf("unmarshal checkpoint %s: %w", sessionID, err)
	}
	return cp, nil
}

// PutObject writes a raw blob under <root>/raw/<path> and returns a
// file:// URI, guarding against path traversal.
func (s *Store) PutObject(_ context.Context, path string, _ string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("blob path is required")
	}
	fullPath := filepath.Join(s.root, "raw", path)
	cleanRoot := filepath.Clean(filepath.Join(s.root, "raw"))
	cleanFull := filepath.Clean(fullPath)
	if !strings.HasPrefix(cleanFull, cleanRoot+string(filepath.Separator)) && cleanFull != cleanRoot {
		return "", fmt.Errorf("blob path traversal detected for %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("create raw blob dir: %w", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read blob data for %s: %w", path, err)
	}
	if err := os.WriteFile(fullPath, data, 0o600); err != nil {
		return "", fmt.Errorf("write blob %s: %w", path, err)
	}
	return "file://" + fullPath, nil
}

var (
	_ store.DocumentStore   = (*Store)(nil)
	_ store.CheckpointStore = (*Store)(nil)
	_ store.BlobStore       = (*Store)(nil)
)
