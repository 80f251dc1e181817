// Package coordinator implements the Coordinator Actor: the per-source
// pipeline state owner. It drives Discovery and a pool of Fetch Workers
// through the discovery -> fetch -> persist state machine, deduplicates
// work by external_id, checkpoints periodically, and exposes the external
// control surface (Start/Pause/Resume/Cancel/Status/Logs) that REST/CLI
// interfaces bind to.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/lexatlas/acquisition-pipeline/internal/actor"
	"github.com/lexatlas/acquisition-pipeline/internal/clock"
	"github.com/lexatlas/acquisition-pipeline/internal/discovery"
	"github.com/lexatlas/acquisition-pipeline/internal/fetchworker"
	"github.com/lexatlas/acquisition-pipeline/internal/persistence"
	"github.com/lexatlas/acquisition-pipeline/internal/pipeline"
	"github.com/lexatlas/acquisition-pipeline/internal/progress"
	"github.com/lexatlas/acquisition-pipeline/internal/store"
	"github.com/lexatlas/acquisition-pipeline/internal/telemetry"
)

var tracer = telemetry.Tracer("coordinator")

// CompletionNotifier is told about a job's terminal Progress once it
// reaches Completed or Failed. Implementations must not block the
// Coordinator's dispatch loop; internal/queue/pubsub's Notifier hands off
// to a background publish and returns immediately.
type CompletionNotifier interface {
	NotifyCompletion(ctx context.Context, sourceID string, snapshot pipeline.Progress)
}

// StartJob is the Tell message that begins one pipeline run. The
// Coordinator refuses a second StartJob while a job is active.
type StartJob struct {
	JobID  string
	Config pipeline.Config
}

// Pause is the Tell message freezing work dispatch; in-flight fetches
// complete normally. Valid only from Fetching.
type Pause struct{}

// Resume is the Tell message draining the paused buffer back into the
// Fetcher pool. Valid only from Paused.
type Resume struct{}

// Cancel is the Tell message aborting the run. Valid from any non-terminal
// state; the job reaches Completed(cancelled=true) once active work drains.
type Cancel struct{}

// GetStatus is the Ask message returning a StatusSnapshot.
type GetStatus struct{}

// GetLogs is the Ask message returning up to Limit most recent LogEntry
// values (all of them if Limit <= 0).
type GetLogs struct {
	Limit int
}

// StatusSnapshot is the reply to GetStatus.
type StatusSnapshot struct {
	JobID    string
	State    pipeline.State
	Progress pipeline.Progress
}

// internal callback messages, funneled through the Coordinator's own
// mailbox so every mutation happens on its single dispatch goroutine.
type referencesDiscoveredMsg struct {
	jobID string
	refs  []pipeline.Reference
}

type discoveryFinishedMsg struct {
	jobID string
	err   error
}

type referenceCompletedMsg struct {
	jobID string
	ref   pipeline.Reference
	err   error
}

// Config controls checkpoint cadence and shutdown grace.
type Config struct {
	// CheckpointEvery is how many completions trigger a checkpoint write.
	// Defaults to 10.
	CheckpointEvery int
	// GracePeriod bounds how long Stop waits for in-flight work to drain.
	GracePeriod time.Duration
	// LogBufferSize bounds the in-memory ring buffer read by GetLogs.
	// Defaults to 200.
	LogBufferSize int
}

// Actor wraps an *actor.Actor running the coordinator handler. It also
// implements fetchworker.Coordinator and discovery.Coordinator, so a
// freshly built Actor can be handed directly to New for either collaborator
// before it is started.
type Actor struct {
	inner   *actor.Actor
	handler *handler
}

// New builds (but does not start) a Coordinator for one source. Wire its
// Discovery and Fetcher collaborators with AttachDiscovery/AttachFetchers
// before calling Start, mirroring the staged dependency wiring used
// elsewhere in this codebase: construct, attach collaborators, then run.
func New(
	name string,
	sourceID string,
	persist *persistence.Actor,
	checkpoints store.CheckpointStore,
	emitter progress.Emitter,
	notifier CompletionNotifier,
	cfg Config,
	logger *zap.Logger,
) *Actor {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("coordinator")

	checkpointEvery := cfg.CheckpointEvery
	if checkpointEvery <= 0 {
		checkpointEvery = 10
	}
	logBufferSize := cfg.LogBufferSize
	if logBufferSize <= 0 {
		logBufferSize = 200
	}

	h := &handler{
		sourceID:        sourceID,
		persist:         persist,
		checkpoints:     checkpoints,
		emitter:         emitter,
		notifier:        notifier,
		logger:          logger,
		checkpointEvery: checkpointEvery,
		logsMax:         logBufferSize,
		state:           pipeline.StateIdle,
		inFlight:        make(map[string]pipeline.Reference),
		clock:           clock.New(),
	}

	var opts []actor.Option
	if cfg.GracePeriod > 0 {
		opts = append(opts, actor.WithStopDrain(cfg.GracePeriod))
	}

	inner := actor.New(name, h.handle, logger, opts...)
	return &Actor{inner: inner, handler: h}
}

// AttachDiscovery wires the Discovery actor this Coordinator drives. Must be
// called before Start.
func (a *Actor) AttachDiscovery(d *discovery.Actor) { a.handler.discovery = d }

// AttachFetchers wires the Fetch Worker pool this Coordinator dispatches to
// round-robin. Must be called before Start.
func (a *Actor) AttachFetchers(fetchers []*fetchworker.Actor) { a.handler.fetchers = fetchers }

// Start launches the dispatch loop.
func (a *Actor) Start(ctx context.Context) { a.inner.Start(ctx) }

// Tell sends a control message (StartJob/Pause/Resume/Cancel) without
// waiting for it to be processed.
func (a *Actor) Tell(ctx context.Context, msg any) error { return a.inner.Tell(ctx, msg) }

// Status asks for a point-in-time snapshot of state and progress.
func (a *Actor) Status(ctx context.Context, timeout time.Duration) (StatusSnapshot, error) {
	return actor.Ask[StatusSnapshot](ctx, a.inner, GetStatus{}, timeout)
}

// Logs asks for up to limit most recent observability entries.
func (a *Actor) Logs(ctx context.Context, limit int, timeout time.Duration) ([]pipeline.LogEntry, error) {
	return actor.Ask[[]pipeline.LogEntry](ctx, a.inner, GetLogs{Limit: limit}, timeout)
}

// Stop shuts the actor down, draining its mailbox.
func (a *Actor) Stop() { a.inner.Stop() }

// ReferencesDiscovered implements discovery.Coordinator.
func (a *Actor) ReferencesDiscovered(jobID string, refs []pipeline.Reference) {
	a.tellAsync(referencesDiscoveredMsg{jobID: jobID, refs: refs})
}

// DiscoveryFinished implements discovery.Coordinator.
func (a *Actor) DiscoveryFinished(jobID string, err error) {
	a.tellAsync(discoveryFinishedMsg{jobID: jobID, err: err})
}

// ReferenceCompleted implements fetchworker.Coordinator.
func (a *Actor) ReferenceCompleted(jobID string, ref pipeline.Reference, err error) {
	a.tellAsync(referenceCompletedMsg{jobID: jobID, ref: ref, err: err})
}

// ExtraReferencesDiscovered implements fetchworker.Coordinator. Extra
// references (e.g. a PDF link found while parsing an HTML page) join the
// same backlog as regular discoveries.
func (a *Actor) ExtraReferencesDiscovered(jobID string, refs []pipeline.Reference) {
	a.tellAsync(referencesDiscoveredMsg{jobID: jobID, refs: refs})
}

func (a *Actor) tellAsync(msg any) {
	_ = a.inner.Tell(context.Background(), msg)
}

var (
	_ fetchworker.Coordinator = (*Actor)(nil)
	_ discovery.Coordinator   = (*Actor)(nil)
)

type handler struct {
	sourceID        string
	discovery       *discovery.Actor
	fetchers        []*fetchworker.Actor
	persist         *persistence.Actor
	checkpoints     store.CheckpointStore
	emitter         progress.Emitter
	notifier        CompletionNotifier
	logger          *zap.Logger
	checkpointEvery int
	logsMax         int
	clock           clock.Clock

	state pipeline.State
	jobID string
	cfg   pipeline.Config

	jobCtx    context.Context
	jobCancel context.CancelFunc

	seen     map[string]struct{}
	backlog  []pipeline.Reference
	rrIndex  int
	inFlight map[string]pipeline.Reference

	pausedBuffer []pipeline.Reference

	discovered  int
	downloaded  int
	errorsCount int
	cancelled   bool

	discoveryDone bool

	completionsSinceCheckpoint int
	lastProcessedID            string
	failedIDs                  []string
	completedIDs               []string

	logs []pipeline.LogEntry
}

func (h *handler) handle(ctx context.Context, msg any) (any, error) {
	switch m := msg.(type) {
	case StartJob:
		return nil, h.start(ctx, m)
	case Pause:
		return nil, h.pause()
	case Resume:
		return nil, h.resume()
	case Cancel:
		return nil, h.cancel()
	case GetStatus:
		return h.statusSnapshot(), nil
	case GetLogs:
		return h.recentLogs(m.Limit), nil
	case referencesDiscoveredMsg:
		h.onReferencesDiscovered(m)
		return nil, nil
	case discoveryFinishedMsg:
		h.onDiscoveryFinished(m)
		return nil, nil
	case referenceCompletedMsg:
		h.onReferenceCompleted(m)
		return nil, nil
	default:
		return nil, fmt.Errorf("coordinator: unsupported message type %T", msg)
	}
}

func (h *handler) start(ctx context.Context, m StartJob) error {
	ctx, span := tracer.Start(ctx, "coordinator.start")
	defer span.End()
	span.SetAttributes(
		attribute.String("source_id", h.sourceID),
		attribute.String("job_id", m.JobID),
	)

	if h.state != pipeline.StateIdle && !isTerminal(h.state) {
		err := fmt.Errorf("coordinator: job already running in state %s", h.state)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if h.discovery == nil || len(h.fetchers) == 0 {
		err := errors.New("coordinator: discovery and at least one fetcher must be attached before Start")
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	h.jobID = m.JobID
	h.cfg = m.Config
	h.backlog = nil
	h.pausedBuffer = nil
	h.inFlight = make(map[string]pipeline.Reference)
	h.seen = make(map[string]struct{})
	h.rrIndex = 0
	h.discovered = 0
	h.downloaded = 0
	h.errorsCount = 0
	h.cancelled = false
	h.discoveryDone = false
	h.completionsSinceCheckpoint = 0
	h.failedIDs = nil
	h.completedIDs = nil
	h.lastProcessedID = ""
	h.logs = nil

	if err := m.Config.Validate(); err != nil {
		h.failJob(fmt.Errorf("invalid job configuration: %w", err))
		return err
	}
	if m.Config.CheckpointEvery > 0 {
		h.checkpointEvery = m.Config.CheckpointEvery
	}

	var alreadySeen []string
	if m.Config.CheckpointID != "" && h.checkpoints != nil {
		cp, err := h.checkpoints.LoadCheckpoint(ctx, m.Config.CheckpointID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			wrapped := fmt.Errorf("load checkpoint %s: %w", m.Config.CheckpointID, err)
			h.failJob(wrapped)
			return wrapped
		}
		if err == nil {
			h.lastProcessedID = cp.LastProcessedExternalID
			h.failedIDs = append([]string(nil), cp.FailedIDs...)
			for _, id := range cp.FailedIDs {
				h.seen[id] = struct{}{}
			}
			// CompletedIDs are references a prior run already downloaded
			// successfully; marking them seen keeps this run's discovered
			// count to only the references still outstanding.
			for _, id := range cp.CompletedIDs {
				h.seen[id] = struct{}{}
			}
			alreadySeen = append(append([]string(nil), cp.FailedIDs...), cp.CompletedIDs...)
			if len(cp.FailedIDs) > 0 {
				h.emit(progress.Event{
					JobID: m.JobID,
					TS:    h.clock.Now(),
					Stage: progress.StageResumedFailedIDs,
					Count: len(cp.FailedIDs),
				})
			}
		}
	}

	h.jobCtx, h.jobCancel = context.WithCancel(context.Background())
	h.setState(pipeline.StateDiscovering)

	if err := h.discovery.Tell(h.jobCtx, discovery.StartDiscovery{
		JobID:       m.JobID,
		Config:      m.Config,
		AlreadySeen: alreadySeen,
	}); err != nil {
		wrapped := fmt.Errorf("start discovery: %w", err)
		h.failJob(wrapped)
		return wrapped
	}

	h.logEvent(pipeline.LogLevelInfo, "coordinator",
		fmt.Sprintf("job %s started for source %s", m.JobID, h.sourceID))
	return nil
}

func (h *handler) pause() error {
	if h.state != pipeline.StateFetching {
		return fmt.Errorf("coordinator: pause requires state fetching, got %s", h.state)
	}
	h.setState(pipeline.StatePaused)
	h.saveCheckpointNow()
	return nil
}

func (h *handler) resume() error {
	if h.state != pipeline.StatePaused {
		return fmt.Errorf("coordinator: resume requires state paused, got %s", h.state)
	}
	h.setState(pipeline.StateFetching)
	h.backlog = append(h.backlog, h.pausedBuffer...)
	h.pausedBuffer = nil
	h.dispatchBacklog()
	return nil
}

func (h *handler) cancel() error {
	if isTerminal(h.state) {
		return fmt.Errorf("coordinator: cancel requires a non-terminal state, got %s", h.state)
	}
	h.cancelled = true
	h.backlog = nil
	h.pausedBuffer = nil
	h.setState(pipeline.StateCancelling)
	if h.jobCancel != nil {
		h.jobCancel()
	}
	h.saveCheckpointNow()
	h.checkCompletion()
	return nil
}

func (h *handler) onReferencesDiscovered(m referencesDiscoveredMsg) {
	if m.jobID != h.jobID {
		return
	}
	fresh := make([]pipeline.Reference, 0, len(m.refs))
	for _, ref := range m.refs {
		if _, ok := h.seen[ref.ExternalID]; ok {
			continue
		}
		h.seen[ref.ExternalID] = struct{}{}
		fresh = append(fresh, ref)
	}
	if len(fresh) == 0 {
		return
	}
	h.discovered += len(fresh)

	switch h.state {
	case pipeline.StateCancelling:
		return // job is aborting, hand out no further work
	case pipeline.StatePaused:
		h.pausedBuffer = append(h.pausedBuffer, fresh...)
		return
	default:
		h.backlog = append(h.backlog, fresh...)
		h.dispatchBacklog()
	}
}

func (h *handler) onDiscoveryFinished(m discoveryFinishedMsg) {
	if m.jobID != h.jobID {
		return
	}
	h.discoveryDone = true
	if m.err != nil {
		h.failJob(fmt.Errorf("discovery failed: %w", m.err))
		return
	}
	h.checkCompletion()
}

func (h *handler) onReferenceCompleted(m referenceCompletedMsg) {
	if m.jobID != h.jobID {
		return
	}
	delete(h.inFlight, m.ref.ExternalID)

	if m.err != nil {
		h.errorsCount++
		var itemErr *pipeline.ItemError
		if errors.As(m.err, &itemErr) {
			h.failedIDs = append(h.failedIDs, itemErr.ExternalID)
		}
		h.logEvent(pipeline.LogLevelError, h.sourceID,
			fmt.Sprintf("reference %s failed: %v", m.ref.ExternalID, m.err))
	} else {
		h.downloaded++
		h.lastProcessedID = m.ref.ExternalID
		h.completedIDs = append(h.completedIDs, m.ref.ExternalID)
	}

	h.completionsSinceCheckpoint++
	if h.completionsSinceCheckpoint >= h.checkpointEvery {
		h.saveCheckpointNow()
	}

	h.dispatchBacklog()
	h.checkCompletion()
}

// dispatchBacklog hands out as much of the FIFO backlog as the Fetcher pool
// has capacity for, round-robin. It bounds the total number of in-flight
// references at the pool size; it does not track which fetcher holds which
// reference, so the round-robin pick can hand a second reference to a
// fetcher that is still busy while another fetcher is idle.
func (h *handler) dispatchBacklog() {
	if h.state != pipeline.StateDiscovering && h.state != pipeline.StateFetching {
		return
	}
	for len(h.backlog) > 0 && len(h.inFlight) < len(h.fetchers) {
		ref := h.backlog[0]
		h.backlog = h.backlog[1:]
		worker := h.fetchers[h.rrIndex%len(h.fetchers)]
		h.rrIndex++

		if err := worker.Tell(h.jobCtx, fetchworker.FetchReference{
			JobID:            h.jobID,
			Reference:        ref,
			DownloadPayloads: h.cfg.DownloadPayloads,
		}); err != nil {
			h.logger.Error("dispatch to fetcher failed",
				zap.String("worker", worker.Name()),
				zap.String("external_id", ref.ExternalID),
				zap.Error(err),
			)
			continue
		}
		h.inFlight[ref.ExternalID] = ref
		if h.state == pipeline.StateDiscovering {
			h.setState(pipeline.StateFetching)
		}
	}
}

// checkCompletion transitions to Completed once there is no more work to
// wait for, per state.
func (h *handler) checkCompletion() {
	pendingWork := len(h.backlog) + len(h.inFlight)
	switch h.state {
	case pipeline.StateCancelling:
		if pendingWork == 0 {
			h.setState(pipeline.StateCompleted)
		}
	case pipeline.StateDiscovering, pipeline.StateFetching:
		if h.discoveryDone && pendingWork == 0 {
			h.setState(pipeline.StateCompleted)
		}
	}
}

func (h *handler) saveCheckpointNow() {
	if h.persist == nil || h.jobID == "" {
		return
	}
	pending := make([]string, 0, len(h.backlog)+len(h.inFlight))
	for _, ref := range h.backlog {
		pending = append(pending, ref.ExternalID)
	}
	for id := range h.inFlight {
		pending = append(pending, id)
	}
	cp := pipeline.Checkpoint{
		SessionID:               h.jobID,
		LastProcessedExternalID: h.lastProcessedID,
		PendingIDs:              pending,
		FailedIDs:               append([]string(nil), h.failedIDs...),
		CompletedIDs:            append([]string(nil), h.completedIDs...),
		CreatedAt:               h.clock.Now(),
	}
	if err := h.persist.SaveCheckpoint(context.Background(), h.jobID, cp, 5*time.Second); err != nil {
		h.logger.Warn("checkpoint save failed", zap.String("job_id", h.jobID), zap.Error(err))
		return
	}
	h.completionsSinceCheckpoint = 0
}

func (h *handler) failJob(err error) {
	h.errorsCount++
	h.logEvent(pipeline.LogLevelError, "coordinator", err.Error())
	h.setState(pipeline.StateFailed)
}

func (h *handler) setState(s pipeline.State) {
	if h.state == s {
		return
	}
	h.state = s
	h.logEvent(pipeline.LogLevelInfo, "coordinator", fmt.Sprintf("state -> %s", s))
	h.emit(progress.Event{
		JobID: h.jobID,
		TS:    h.clock.Now(),
		Stage: progress.StageStateChanged,
		State: s,
	})
	if isTerminal(s) {
		if h.jobCancel != nil {
			h.jobCancel()
		}
		if h.notifier != nil {
			h.notifier.NotifyCompletion(context.Background(), h.sourceID, h.statusSnapshot().Progress)
		}
	}
}

func (h *handler) statusSnapshot() StatusSnapshot {
	return StatusSnapshot{
		JobID: h.jobID,
		State: h.state,
		Progress: pipeline.Progress{
			JobID:      h.jobID,
			State:      h.state,
			Discovered: h.discovered,
			Downloaded: h.downloaded,
			Pending:    len(h.backlog) + len(h.inFlight) + len(h.pausedBuffer),
			Active:     len(h.inFlight),
			Errors:     h.errorsCount,
			Cancelled:  h.cancelled,
		},
	}
}

func (h *handler) recentLogs(limit int) []pipeline.LogEntry {
	if limit <= 0 || limit >= len(h.logs) {
		return append([]pipeline.LogEntry(nil), h.logs...)
	}
	return append([]pipeline.LogEntry(nil), h.logs[len(h.logs)-limit:]...)
}

func (h *handler) logEvent(level pipeline.LogLevel, component, msg string) {
	h.logs = append(h.logs, pipeline.LogEntry{
		Timestamp: h.clock.Now(),
		Level:     level,
		Component: component,
		Message:   msg,
	})
	if len(h.logs) > h.logsMax {
		h.logs = h.logs[len(h.logs)-h.logsMax:]
	}
	switch level {
	case pipeline.LogLevelError:
		h.logger.Error(msg, zap.String("component", component))
	case pipeline.LogLevelWarn:
		h.logger.Warn(msg, zap.String("component", component))
	default:
		h.logger.Info(msg, zap.String("component", component))
	}
}

func (h *handler) emit(evt progress.Event) {
	if h.emitter == nil {
		return
	}
	h.emitter.Emit(evt)
}

func isTerminal(s pipeline.State) bool {
	return s == pipeline.StateCompleted || s == pipeline.StateFailed
}
