// Package discovery implements the Discovery Actor: it enumerates a
// source's index (today/date/range/category/search, per pipeline.Mode),
// canonicalizes each hit into a stable external_id via the source's
// SourceAdapter, and tells the Coordinator about newly discovered
// References. Discovery shares the same per-source rate limiter the Fetch
// Workers use, so index pagination and document fetches never combine to
// exceed the source's configured budget.
package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lexatlas/acquisition-pipeline/internal/actor"
	"github.com/lexatlas/acquisition-pipeline/internal/pipeline"
	"github.com/lexatlas/acquisition-pipeline/internal/progress"
	"github.com/lexatlas/acquisition-pipeline/internal/ratelimit"
)

// Page is one page of index results returned by a SourceAdapter.
type Page struct {
	References []pipeline.Reference
	NextCursor string
	HasMore    bool
}

// SourceAdapter paginates a source's index and canonicalizes its opaque
// per-source identifiers into the stable external_id every downstream
// component keys on.
type SourceAdapter interface {
	// FetchPage retrieves one page of the index for the given job
	// configuration and pagination cursor (empty on the first call).
	FetchPage(ctx context.Context, cfg pipeline.Config, cursor string) (Page, error)
	// CanonicalizeID normalizes a source's opaque q_param-style identifier
	// into the stable external_id used for the seen-set and storage keys.
	CanonicalizeID(ref pipeline.Reference) string
}

// Coordinator is the callback surface Discovery reports newly found
// references and terminal failures to.
type Coordinator interface {
	ReferencesDiscovered(jobID string, refs []pipeline.Reference)
	DiscoveryFinished(jobID string, err error)
}

// StartDiscovery is the Tell message that kicks off one discovery run.
type StartDiscovery struct {
	JobID  string
	Config pipeline.Config
	// AlreadySeen pre-seeds the seen-set on resume, so a checkpointed run
	// does not re-report ids it already discovered.
	AlreadySeen []string
}

// Actor wraps an *actor.Actor running the discovery handler.
type Actor struct {
	inner *actor.Actor
}

// New constructs and starts a Discovery actor for one source.
func New(
	ctx context.Context,
	name string,
	sourceID string,
	adapter SourceAdapter,
	limiter *ratelimit.Limiter,
	coordinator Coordinator,
	emitter progress.Emitter,
	logger *zap.Logger,
) *Actor {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("discovery")

	h := &handler{
		sourceID:    sourceID,
		adapter:     adapter,
		limiter:     limiter,
		coordinator: coordinator,
		emitter:     emitter,
		seen:        &seenSet{},
		logger:      logger,
	}

	a := actor.New(name, h.handle, logger)
	a.Start(ctx)
	return &Actor{inner: a}
}

// Tell enqueues a StartDiscovery message.
func (a *Actor) Tell(ctx context.Context, msg any) error { return a.inner.Tell(ctx, msg) }

// Stop shuts the actor down, draining its mailbox.
func (a *Actor) Stop() { a.inner.Stop() }

type seenSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func (s *seenSet) markIfNew(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = struct{}{}
	return true
}

type handler struct {
	sourceID    string
	adapter     SourceAdapter
	limiter     *ratelimit.Limiter
	coordinator Coordinator
	emitter     progress.Emitter
	seen        *seenSet
	logger      *zap.Logger
}

func (h *handler) handle(ctx context.Context, msg any) (any, error) {
	req, ok := msg.(StartDiscovery)
	if !ok {
		return nil, fmt.Errorf("discovery actor: unsupported message type %T", msg)
	}
	h.run(ctx, req)
	return nil, nil
}

func (h *handler) run(ctx context.Context, req StartDiscovery) {
	// seen is scoped to one job: a fresh set each run so a second StartJob
	// on this source (a new job, or a checkpoint resume) does not inherit
	// ids an earlier job already reported.
	h.seen = &seenSet{}
	for _, id := range req.AlreadySeen {
		h.seen.markIfNew(id)
	}

	h.emit(progress.Event{
		JobID:    req.JobID,
		TS:       time.Now().UTC(),
		Stage:    progress.StageDiscoveryStarted,
		SourceID: h.sourceID,
	})

	cursor := ""
	reported := 0
	for {
		if h.limiter != nil {
			if err := h.limiter.Acquire(ctx); err != nil {
				h.fail(req.JobID, fmt.Errorf("acquire rate limit for index page: %w", err))
				return
			}
		}

		page, err := h.adapter.FetchPage(ctx, req.Config, cursor)
		if err != nil {
			h.fail(req.JobID, fmt.Errorf("fetch index page: %w", err))
			return
		}

		fresh := h.filterNew(page.References)
		if req.Config.MaxResults > 0 && reported+len(fresh) > req.Config.MaxResults {
			fresh = fresh[:req.Config.MaxResults-reported]
		}
		if len(fresh) > 0 && h.coordinator != nil {
			h.coordinator.ReferencesDiscovered(req.JobID, fresh)
			for _, ref := range fresh {
				h.emit(progress.Event{
					JobID:      req.JobID,
					TS:         time.Now().UTC(),
					Stage:      progress.StageReferenceDiscovered,
					SourceID:   h.sourceID,
					ExternalID: ref.ExternalID,
				})
			}
		}
		reported += len(fresh)

		if req.Config.MaxResults > 0 && reported >= req.Config.MaxResults {
			break
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}

	if h.coordinator != nil {
		h.coordinator.DiscoveryFinished(req.JobID, nil)
	}
}

func (h *handler) filterNew(refs []pipeline.Reference) []pipeline.Reference {
	fresh := make([]pipeline.Reference, 0, len(refs))
	for _, ref := range refs {
		canonical := h.adapter.CanonicalizeID(ref)
		if canonical == "" {
			canonical = ref.ExternalID
		}
		ref.ExternalID = canonical
		if h.seen.markIfNew(canonical) {
			fresh = append(fresh, ref)
		}
	}
	return fresh
}

func (h *handler) fail(jobID string, err error) {
	h.logger.Error("discovery failed", zap.String("source_id", h.sourceID), zap.Error(err))
	h.emit(progress.Event{
		JobID:     jobID,
		TS:        time.Now().UTC(),
		Stage:     progress.StageDiscoveryFailed,
		SourceID:  h.sourceID,
		ErrorKind: pipeline.ErrorKindFatal,
		Note:      err.Error(),
	})
	if h.coordinator != nil {
		h.coordinator.DiscoveryFinished(jobID, err)
	}
}

func (h *handler) emit(evt progress.Event) {
	if h.emitter == nil {
		return
	}
	h.emitter.Emit(evt)
}
