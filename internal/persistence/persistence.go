// Package persistence implements the Persistence Actor: it writes Documents
// through the DocumentStore (and, when configured, the BlobStore), retrying
// transient storage errors with full-jitter backoff before giving up and
// reporting PersistFailed.
package persistence

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lexatlas/acquisition-pipeline/internal/actor"
	"github.com/lexatlas/acquisition-pipeline/internal/pipeline"
	"github.com/lexatlas/acquisition-pipeline/internal/progress"
	"github.com/lexatlas/acquisition-pipeline/internal/retry"
	"github.com/lexatlas/acquisition-pipeline/internal/store"
)

// SaveDocument is the Tell message requesting a document be persisted.
// RawPayload, when non-nil, is the raw response body to upload through the
// BlobStore before the Document itself is saved; its presence mirrors the
// job's pipeline.Config.DownloadPayloads flag.
type SaveDocument struct {
	JobID      string
	Document   pipeline.Document
	RawPayload []byte
}

// SaveCheckpoint is an Ask message requesting the actor durably persist a
// Checkpoint through the CheckpointStore. The Coordinator asks (rather than
// tells) so it can confirm a checkpoint landed before acknowledging a
// Pause/Cancel.
type SaveCheckpoint struct {
	JobID      string
	Checkpoint pipeline.Checkpoint
}

// Flush is an Ask message requesting the actor wait until its mailbox is
// empty of pending SaveDocument work; it carries no payload and returns
// struct{}.
type Flush struct{}

// Actor wraps an *actor.Actor configured with the persistence Handler.
type Actor struct {
	inner *actor.Actor
}

// Config controls retry behavior. Zero values fall back to retry.NewPolicy's
// defaults.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// New constructs and starts a persistence Actor. checkpoints may be nil for
// a source that never resumes from a checkpoint.
func New(
	ctx context.Context,
	name string,
	docs store.DocumentStore,
	blobs store.BlobStore,
	checkpoints store.CheckpointStore,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Actor {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("persistence")

	policy := retry.NewPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelay > 0 {
		policy.BaseDelay = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		policy.MaxDelay = cfg.MaxDelay
	}

	h := &handler{
		docs:        docs,
		blobs:       blobs,
		checkpoints: checkpoints,
		emitter:     emitter,
		policy:      policy,
		logger:      logger,
	}

	a := actor.New(name, h.handle, logger)
	a.Start(ctx)
	return &Actor{inner: a}
}

// Tell sends msg to the actor's mailbox without waiting for completion.
func (a *Actor) Tell(ctx context.Context, msg any) error {
	return a.inner.Tell(ctx, msg)
}

// SaveCheckpoint asks the actor to persist cp, blocking until it lands or
// timeout elapses.
func (a *Actor) SaveCheckpoint(ctx context.Context, jobID string, cp pipeline.Checkpoint, timeout time.Duration) error {
	_, err := actor.Ask[struct{}](ctx, a.inner, SaveCheckpoint{JobID: jobID, Checkpoint: cp}, timeout)
	return err
}

// Flush blocks until the actor has processed every message enqueued before
// this call.
func (a *Actor) Flush(ctx context.Context, timeout time.Duration) error {
	_, err := actor.Ask[struct{}](ctx, a.inner, Flush{}, timeout)
	return err
}

// Stop shuts the actor down, draining its mailbox.
func (a *Actor) Stop() { a.inner.Stop() }

type handler struct {
	docs        store.DocumentStore
	blobs       store.BlobStore
	checkpoints store.CheckpointStore
	emitter     progress.Emitter
	policy      *retry.Policy
	logger      *zap.Logger
}

func (h *handler) handle(ctx context.Context, msg any) (any, error) {
	switch m := msg.(type) {
	case SaveDocument:
		h.save(ctx, m)
		return nil, nil
	case SaveCheckpoint:
		return struct{}{}, h.saveCheckpoint(ctx, m)
	case Flush:
		return struct{}{}, nil
	default:
		return nil, fmt.Errorf("persistence actor: unsupported message type %T", msg)
	}
}

func (h *handler) saveCheckpoint(ctx context.Context, m SaveCheckpoint) error {
	if h.checkpoints == nil {
		return nil
	}
	if err := h.checkpoints.SaveCheckpoint(ctx, m.Checkpoint); err != nil {
		h.logger.Error("save checkpoint failed",
			zap.String("job_id", m.JobID),
			zap.String("session_id", m.Checkpoint.SessionID),
			zap.Error(err),
		)
		return fmt.Errorf("save checkpoint: %w", err)
	}
	h.emit(progress.Event{
		JobID: m.JobID,
		TS:    time.Now().UTC(),
		Stage: progress.StageCheckpointSaved,
	})
	return nil
}

func (h *handler) save(ctx context.Context, m SaveDocument) {
	doc := m.Document

	if len(m.RawPayload) > 0 && h.blobs != nil {
		path := doc.SourceID + "/" + doc.ExternalID
		ref, err := h.blobs.PutObject(ctx, path, doc.ContentType, bytes.NewReader(m.RawPayload))
		if err != nil {
			h.logger.Error("upload raw payload failed",
				zap.String("job_id", m.JobID),
				zap.String("source_id", doc.SourceID),
				zap.String("external_id", doc.ExternalID),
				zap.Error(err),
			)
		} else {
			doc.RawBlobRef = ref
		}
	}

	var lastErr error
	for attempt := 0; attempt < h.policy.MaxAttempts; attempt++ {
		if err := h.docs.Save(ctx, doc); err != nil {
			lastErr = err
			if !h.policy.ShouldRetry(err, attempt) {
				break
			}
			if sleepErr := retry.Sleep(ctx, h.policy.Backoff(attempt)); sleepErr != nil {
				lastErr = sleepErr
				break
			}
			continue
		}
		lastErr = nil
		break
	}

	if lastErr != nil {
		h.logger.Error("persist document failed",
			zap.String("job_id", m.JobID),
			zap.String("source_id", doc.SourceID),
			zap.String("external_id", doc.ExternalID),
			zap.Error(lastErr),
		)
		h.emit(progress.Event{
			JobID:      m.JobID,
			TS:         time.Now().UTC(),
			Stage:      progress.StagePersistFailed,
			SourceID:   doc.SourceID,
			ExternalID: doc.ExternalID,
			ErrorKind:  pipeline.ErrorKindTerminal,
			Note:       lastErr.Error(),
		})
		return
	}

	h.emit(progress.Event{
		JobID:      m.JobID,
		TS:         time.Now().UTC(),
		Stage:      progress.StageDocumentPersisted,
		SourceID:   doc.SourceID,
		ExternalID: doc.ExternalID,
	})
}

func (h *handler) emit(evt progress.Event) {
	if h.emitter == nil {
		return
	}
	h.emitter.Emit(evt)
}
