// Package fetchworker implements the Fetch Worker Actor: for each Reference
// it is told about, it acquires the source's rate limiter, issues an HTTP
// GET with rotating user agents, hands the body to the source's Parser, and
// forwards the resulting Document to the Persistence Actor. Discovered
// extra references are reported back to the Coordinator.
package fetchworker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lexatlas/acquisition-pipeline/internal/actor"
	"github.com/lexatlas/acquisition-pipeline/internal/hash"
	"github.com/lexatlas/acquisition-pipeline/internal/persistence"
	"github.com/lexatlas/acquisition-pipeline/internal/pipeline"
	"github.com/lexatlas/acquisition-pipeline/internal/progress"
	"github.com/lexatlas/acquisition-pipeline/internal/ratelimit"
	"github.com/lexatlas/acquisition-pipeline/internal/retry"
	"github.com/lexatlas/acquisition-pipeline/internal/telemetry"
)

// FetchReference is the Tell message instructing the worker to fetch,
// parse, and persist one reference. DownloadPayloads mirrors the job's
// pipeline.Config flag of the same name: when set, the worker hands the
// raw response body to the Persistence Actor for blob storage alongside
// the parsed Document.
type FetchReference struct {
	JobID            string
	Reference        pipeline.Reference
	DownloadPayloads bool
}

// Coordinator is the narrow callback surface the Fetch Worker reports back
// to: completion (for checkpoint/backlog bookkeeping) and extra references
// discovered inline (e.g. a PDF link found while parsing an HTML page).
type Coordinator interface {
	ReferenceCompleted(jobID string, ref pipeline.Reference, err error)
	ExtraReferencesDiscovered(jobID string, refs []pipeline.Reference)
}

// Config controls retry and user-agent rotation.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	UserAgents  []string
	Timeouts    pipeline.HTTPTimeouts
}

// Actor wraps an *actor.Actor running the fetch handler.
type Actor struct {
	inner *actor.Actor
}

// New constructs and starts a Fetch Worker actor.
func New(
	ctx context.Context,
	name string,
	sourceID string,
	httpClient pipeline.HTTPClient,
	parser pipeline.Parser,
	limiter *ratelimit.Limiter,
	persist *persistence.Actor,
	coordinator Coordinator,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Actor {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("fetchworker")

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
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = []string{"acquisition-pipeline/1.0"}
	}

	h := &handler{
		sourceID:    sourceID,
		httpClient:  httpClient,
		parser:      parser,
		limiter:     limiter,
		persist:     persist,
		coordinator: coordinator,
		emitter:     emitter,
		policy:      policy,
		userAgents:  cfg.UserAgents,
		timeouts:    cfg.Timeouts,
		logger:      logger,
		hasher:      hash.New(),
	}

	a := actor.New(name, h.handle, logger)
	a.Start(ctx)
	return &Actor{inner: a}
}

// Tell enqueues a FetchReference message.
func (a *Actor) Tell(ctx context.Context, msg any) error { return a.inner.Tell(ctx, msg) }

// Name reports the actor's name, used by the Coordinator for dispatch
// logging.
func (a *Actor) Name() string { return a.inner.Name() }

// Stop shuts the actor down, draining its mailbox.
func (a *Actor) Stop() { a.inner.Stop() }

type handler struct {
	sourceID    string
	httpClient  pipeline.HTTPClient
	parser      pipeline.Parser
	limiter     *ratelimit.Limiter
	persist     *persistence.Actor
	coordinator Coordinator
	emitter     progress.Emitter
	policy      *retry.Policy
	userAgents  []string
	timeouts    pipeline.HTTPTimeouts
	logger      *zap.Logger
	uaIndex     atomic.Uint64
	hasher      *hash.Hasher
}

func (h *handler) handle(ctx context.Context, msg any) (any, error) {
	req, ok := msg.(FetchReference)
	if !ok {
		return nil, fmt.Errorf("fetch worker: unsupported message type %T", msg)
	}
	h.fetch(ctx, req)
	return nil, nil
}

func (h *handler) nextUserAgent() string {
	idx := h.uaIndex.Add(1) - 1
	return h.userAgents[int(idx)%len(h.userAgents)]
}

func (h *handler) fetch(ctx context.Context, req FetchReference) {
	h.emit(progress.Event{
		JobID:      req.JobID,
		TS:         time.Now().UTC(),
		Stage:      progress.StageFetchStarted,
		SourceID:   h.sourceID,
		ExternalID: req.Reference.ExternalID,
	})

	if h.limiter != nil {
		if err := h.limiter.Acquire(ctx); err != nil {
			h.reportItemError(req, pipeline.ErrorKindSystem, fmt.Errorf("acquire rate limit: %w", err))
			return
		}
	}

	resp, err := h.fetchWithRetry(ctx, req.Reference.URL)
	if err != nil {
		h.reportItemError(req, errorKindFor(err), err)
		return
	}

	result, err := h.parser.Parse(resp.Body, resp.Header.Get("Content-Type"), req.Reference.URL)
	if err != nil {
		h.reportItemError(req, pipeline.ErrorKindTerminal, fmt.Errorf("parse %s: %w", req.Reference.URL, err))
		return
	}
	if len(result.Errors) > 0 {
		h.logger.Warn("parser reported item errors",
			zap.String("source_id", h.sourceID),
			zap.String("external_id", req.Reference.ExternalID),
			zap.Int("count", len(result.Errors)),
		)
	}

	if result.Document != nil && h.persist != nil {
		doc := *result.Document
		if digest, herr := h.hasher.Hash(resp.Body); herr == nil {
			doc.ContentHash = digest
		} else {
			h.logger.Warn("content hash failed",
				zap.String("external_id", req.Reference.ExternalID),
				zap.Error(herr),
			)
		}

		msg := persistence.SaveDocument{JobID: req.JobID, Document: doc}
		if req.DownloadPayloads {
			msg.RawPayload = resp.Body
		}
		if err := h.persist.Tell(ctx, msg); err != nil {
			h.reportItemError(req, pipeline.ErrorKindSystem, fmt.Errorf("hand off to persistence: %w", err))
			return
		}
	}

	if len(result.ExtraRefs) > 0 && h.coordinator != nil {
		h.coordinator.ExtraReferencesDiscovered(req.JobID, result.ExtraRefs)
	}

	if h.coordinator != nil {
		h.coordinator.ReferenceCompleted(req.JobID, req.Reference, nil)
	}
}

func (h *handler) fetchWithRetry(ctx context.Context, url string) (pipeline.HTTPResponse, error) {
	headers := http.Header{}
	var lastErr error

	for attempt := 0; attempt < h.policy.MaxAttempts; attempt++ {
		headers.Set("User-Agent", h.nextUserAgent())
		start := time.Now()
		resp, err := h.httpClient.Get(ctx, url, headers, h.timeouts)
		duration := time.Since(start)

		if err == nil {
			telemetry.ObserveFetchDuration(h.sourceID, telemetry.StatusClass(resp.StatusCode), duration)
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				err = &pipeline.StatusError{StatusCode: resp.StatusCode}
			} else {
				return resp, nil
			}
		}

		lastErr = err
		if !h.policy.ShouldRetry(err, attempt) {
			break
		}
		if sleepErr := retry.Sleep(ctx, h.policy.Backoff(attempt)); sleepErr != nil {
			lastErr = sleepErr
			break
		}
	}
	return pipeline.HTTPResponse{}, lastErr
}

// errorKindFor classifies a fetch failure per spec: a 4xx StatusError is a
// terminal client error, a 5xx StatusError exhausted its retry budget and is
// treated as transient, anything else (parse/system errors aside) falls
// back to terminal.
func errorKindFor(err error) pipeline.ErrorKind {
	var statusErr *pipeline.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode/100 == 5 {
		return pipeline.ErrorKindTransient
	}
	return pipeline.ErrorKindTerminal
}

func (h *handler) reportItemError(req FetchReference, kind pipeline.ErrorKind, err error) {
	h.logger.Error("fetch reference failed",
		zap.String("source_id", h.sourceID),
		zap.String("external_id", req.Reference.ExternalID),
		zap.Error(err),
	)
	var statusErr *pipeline.StatusError
	statusCode := 0
	if errors.As(err, &statusErr) {
		statusCode = statusErr.StatusCode
	}
	h.emit(progress.Event{
		JobID:      req.JobID,
		TS:         time.Now().UTC(),
		Stage:      progress.StageItemError,
		SourceID:   h.sourceID,
		ExternalID: req.Reference.ExternalID,
		ErrorKind:  kind,
		Note:       err.Error(),
	})
	if h.coordinator != nil {
		h.coordinator.ReferenceCompleted(req.JobID, req.Reference, &pipeline.ItemError{
			ExternalID: req.Reference.ExternalID,
			Kind:       kind,
			Cause:      err,
			StatusCode: statusCode,
		})
	}
}

func (h *handler) emit(evt progress.Event) {
	if h.emitter == nil {
		return
	}
	h.emitter.Emit(evt)
}
