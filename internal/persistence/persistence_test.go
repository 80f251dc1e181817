package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lexatlas/acquisition-pipeline/internal/pipeline"
	"github.com/lexatlas/acquisition-pipeline/internal/progress"
	"github.com/lexatlas/acquisition-pipeline/internal/store/memory"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) Events() []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Event(nil), r.events...)
}

type failingDocStore struct {
	failuresLeft int
}

func (f *failingDocStore) Save(_ context.Context, _ pipeline.Document) error {
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return errors.New("transient storage hiccup")
	}
	return nil
}

func (f *failingDocStore) Exists(context.Context, string, string) (bool, error) {
	return false, nil
}

func TestSaveDocumentPersistsAndEmitsSuccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	docs := memory.New()
	emitter := &recordingEmitter{}

	a := New(ctx, "persist-dof", docs, nil, nil, emitter, Config{}, nil)
	defer a.Stop()

	doc := pipeline.Document{SourceID: "dof", ExternalID: "123", Title: "Decreto"}
	require.NoError(t, a.Tell(ctx, SaveDocument{JobID: "job-1", Document: doc}))
	require.NoError(t, a.Flush(ctx, time.Second))

	exists, err := docs.Exists(ctx, "dof", "123")
	require.NoError(t, err)
	require.True(t, exists)

	events := emitter.Events()
	require.Len(t, events, 1)
	require.Equal(t, progress.StageDocumentPersisted, events[0].Stage)
}

func TestSaveDocumentRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	docs := &failingDocStore{failuresLeft: 2}
	emitter := &recordingEmitter{}

	a := New(ctx, "persist-retry", docs, nil, nil, emitter, Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, nil)
	defer a.Stop()

	doc := pipeline.Document{SourceID: "dof", ExternalID: "456"}
	require.NoError(t, a.Tell(ctx, SaveDocument{JobID: "job-1", Document: doc}))
	require.NoError(t, a.Flush(ctx, time.Second))

	events := emitter.Events()
	require.Len(t, events, 1)
	require.Equal(t, progress.StageDocumentPersisted, events[0].Stage)
}

func TestSaveDocumentEmitsPersistFailedAfterExhaustion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	docs := &failingDocStore{failuresLeft: 10}
	emitter := &recordingEmitter{}

	a := New(ctx, "persist-exhaust", docs, nil, nil, emitter, Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, nil)
	defer a.Stop()

	doc := pipeline.Document{SourceID: "dof", ExternalID: "789"}
	require.NoError(t, a.Tell(ctx, SaveDocument{JobID: "job-1", Document: doc}))
	require.NoError(t, a.Flush(ctx, time.Second))

	events := emitter.Events()
	require.Len(t, events, 1)
	require.Equal(t, progress.StagePersistFailed, events[0].Stage)
}

func TestSaveDocumentUploadsRawPayloadWhenPresent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	docs := memory.New()
	blobs := memory.New()
	emitter := &recordingEmitter{}

	a := New(ctx, "persist-blobs", docs, blobs, nil, emitter, Config{}, nil)
	defer a.Stop()

	doc := pipeline.Document{SourceID: "dof", ExternalID: "999", ContentType: "application/pdf"}
	payload := []byte("%PDF-1.4 fake decree body")
	require.NoError(t, a.Tell(ctx, SaveDocument{JobID: "job-1", Document: doc, RawPayload: payload}))
	require.NoError(t, a.Flush(ctx, time.Second))

	saved := findDocument(t, docs, "999")
	require.NotEmpty(t, saved.RawBlobRef)
}

func TestSaveDocumentSkipsUploadWhenNoPayload(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	docs := memory.New()
	blobs := memory.New()
	emitter := &recordingEmitter{}

	a := New(ctx, "persist-no-blobs", docs, blobs, nil, emitter, Config{}, nil)
	defer a.Stop()

	doc := pipeline.Document{SourceID: "dof", ExternalID: "998"}
	require.NoError(t, a.Tell(ctx, SaveDocument{JobID: "job-1", Document: doc}))
	require.NoError(t, a.Flush(ctx, time.Second))

	saved := findDocument(t, docs, "998")
	require.Empty(t, saved.RawBlobRef)
}

func findDocument(t *testing.T, docs *memory.Store, externalID string) pipeline.Document {
	t.Helper()
	for _, d := range docs.Documents() {
		if d.ExternalID == externalID {
			return d
		}
	}
	t.Fatalf("document %s not found", externalID)
	return pipeline.Document{}
}

func TestSaveCheckpointPersistsAndEmits(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	emitter := &recordingEmitter{}

	a := New(ctx, "persist-checkpoint", store, nil, store, emitter, Config{}, nil)
	defer a.Stop()

	cp := pipeline.Checkpoint{SessionID: "job-1", LastProcessedExternalID: "6", PendingIDs: []string{"7", "8"}}
	require.NoError(t, a.SaveCheckpoint(ctx, "job-1", cp, time.Second))

	loaded, err := store.LoadCheckpoint(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, cp.LastProcessedExternalID, loaded.LastProcessedExternalID)

	events := emitter.Events()
	require.Len(t, events, 1)
	require.Equal(t, progress.StageCheckpointSaved, events[0].Stage)
}
