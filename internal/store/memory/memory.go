// Package memory provides an in-process DocumentStore/CheckpointStore/
// BlobStore used by tests that exercise the coordinator without touching
// disk, Postgres, or GCS.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/lexatlas/acquisition-pipeline/internal/pipeline"
	"github.com/lexatlas/acquisition-pipeline/internal/store"
)

// Store keeps documents, checkpoints, and blobs in memory.
type Store struct {
	mu          sync.Mutex
	documents   map[string]pipeline.Document
	checkpoints map[string]pipeline.Checkpoint
	blobs       map[string][]byte
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		documents:   make(map[string]pipeline.Document),
		checkpoints: make(map[string]pipeline.Checkpoint),
		blobs:       make(map[string][]byte),
	}
}

// Save records doc, keyed by its Key(). Idempotent by construction: a
// repeat save simply overwrites with the same content.
func (s *Store) Save(_ context.Context, doc pipeline.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[doc.Key()] = doc
	return nil
}

// Exists reports whether a document for (sourceID, externalID) was saved.
func (s *Store) Exists(_ context.Context, sourceID, externalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.documents[sourceID+"/"+externalID]
	return ok, nil
}

// Documents returns a snapshot of every saved document, for test
// assertions.
func (s *Store) Documents() []pipeline.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]pipeline.Document, 0, len(s.documents))
	for _, d := range s.documents {
		out = append(out, d)
	}
	return out
}

// SaveCheckpoint records cp, keyed by SessionID.
func (s *Store) SaveCheckpoint(_ context.Context, cp pipeline.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[cp.SessionID] = cp
	return nil
}

// LoadCheckpoint returns a previously saved checkpoint.
func (s *Store) LoadCheckpoint(_ context.Context, sessionID string) (pipeline.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[sessionID]
	if !ok {
		return pipeline.Checkpoint{}, store.ErrNotFound
	}
	return cp, nil
}

// PutObject stores raw bytes under path and returns a memory:// URI.
func (s *Store) PutObject(_ context.Context, path string, _ string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read blob %s: %w", path, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[path] = data
	return "memory://" + path, nil
}

var (
	_ store.DocumentStore   = (*Store)(nil)
	_ store.CheckpointStore = (*Store)(nil)
	_ store.BlobStore       = (*Store)(nil)
)
