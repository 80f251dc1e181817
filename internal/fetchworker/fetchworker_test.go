package fetchworker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lexatlas/acquisition-pipeline/internal/persistence"
	"github.com/lexatlas/acquisition-pipeline/internal/pipeline"
	"github.com/lexatlas/acquisition-pipeline/internal/progress"
	"github.com/lexatlas/acquisition-pipeline/internal/ratelimit"
	"github.com/lexatlas/acquisition-pipeline/internal/store/memory"
)

type stubHTTPClient struct {
	resp pipeline.HTTPResponse
	err  error
}

func (s *stubHTTPClient) Get(context.Context, string, http.Header, pipeline.HTTPTimeouts) (pipeline.HTTPResponse, error) {
	return s.resp, s.err
}

// sequenceHTTPClient returns one status code from statuses per call, using
// the last entry for any call beyond the slice's length, to simulate an
// HTTPClient that never returns an error for non-2xx responses (as the
// headless client does not) while exercising retry behaviour.
type sequenceHTTPClient struct {
	mu       sync.Mutex
	statuses []int
	calls    int
}

func (s *sequenceHTTPClient) Get(context.Context, string, http.Header, pipeline.HTTPTimeouts) (pipeline.HTTPResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	if idx >= len(s.statuses) {
		idx = len(s.statuses) - 1
	}
	s.calls++
	return pipeline.HTTPResponse{StatusCode: s.statuses[idx], Header: http.Header{}, Body: []byte("body")}, nil
}

func (s *sequenceHTTPClient) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubParser struct {
	result pipeline.ParseResult
	err    error
}

func (s *stubParser) Parse([]byte, string, string) (pipeline.ParseResult, error) {
	return s.result, s.err
}

type recordingCoordinator struct {
	mu        sync.Mutex
	completed []pipeline.Reference
	errs      []error
	extras    []pipeline.Reference
}

func (c *recordingCoordinator) ReferenceCompleted(_ string, ref pipeline.Reference, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed = append(c.completed, ref)
	c.errs = append(c.errs, err)
}

func (c *recordingCoordinator) ExtraReferencesDiscovered(_ string, refs []pipeline.Reference) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extras = append(c.extras, refs...)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func newPersistenceActor(ctx context.Context) *persistence.Actor {
	return persistence.New(ctx, "persist-test", memory.New(), nil, nil, nil, persistence.Config{}, nil)
}

func newPersistenceActorWithStores(ctx context.Context) (*persistence.Actor, *memory.Store, *memory.Store) {
	docs := memory.New()
	blobs := memory.New()
	return persistence.New(ctx, "persist-test", docs, blobs, nil, nil, persistence.Config{}, nil), docs, blobs
}

func TestFetchReferenceSuccessPersistsAndReportsCompletion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	persist := newPersistenceActor(ctx)
	defer persist.Stop()

	doc := pipeline.Document{SourceID: "dof", ExternalID: "123", Title: "Decreto"}
	client := &stubHTTPClient{resp: pipeline.HTTPResponse{StatusCode: 200, Header: http.Header{}, Body: []byte("<html></html>")}}
	parser := &stubParser{result: pipeline.ParseResult{Document: &doc}}
	coordinator := &recordingCoordinator{}
	registry := ratelimit.NewRegistry()
	limiter := registry.Limiter("dof", ratelimit.Config{RequestsPerSecond: 1000, Burst: 10})

	w := New(ctx, "fetch-dof", "dof", client, parser, limiter, persist, coordinator, nil, Config{}, nil)
	defer w.Stop()

	ref := pipeline.Reference{SourceID: "dof", ExternalID: "123", URL: "https://dof.gob.mx/123"}
	require.NoError(t, w.Tell(ctx, FetchReference{JobID: "job-1", Reference: ref}))

	require.Eventually(t, func() bool {
		coordinator.mu.Lock()
		defer coordinator.mu.Unlock()
		return len(coordinator.completed) == 1
	}, time.Second, 5*time.Millisecond)

	coordinator.mu.Lock()
	require.Nil(t, coordinator.errs[0])
	coordinator.mu.Unlock()
}

func TestFetchReferenceHashesContentAndUploadsPayloadWhenRequested(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	persist, docs, _ := newPersistenceActorWithStores(ctx)
	defer persist.Stop()

	body := []byte("<html>diario oficial</html>")
	doc := pipeline.Document{SourceID: "dof", ExternalID: "555", ContentType: "text/html"}
	client := &stubHTTPClient{resp: pipeline.HTTPResponse{StatusCode: 200, Header: http.Header{}, Body: body}}
	parser := &stubParser{result: pipeline.ParseResult{Document: &doc}}
	coordinator := &recordingCoordinator{}
	registry := ratelimit.NewRegistry()
	limiter := registry.Limiter("dof", ratelimit.Config{RequestsPerSecond: 1000, Burst: 10})

	w := New(ctx, "fetch-dof-hash", "dof", client, parser, limiter, persist, coordinator, nil, Config{}, nil)
	defer w.Stop()

	ref := pipeline.Reference{SourceID: "dof", ExternalID: "555", URL: "https://dof.gob.mx/555"}
	require.NoError(t, w.Tell(ctx, FetchReference{JobID: "job-1", Reference: ref, DownloadPayloads: true}))

	require.Eventually(t, func() bool {
		coordinator.mu.Lock()
		defer coordinator.mu.Unlock()
		return len(coordinator.completed) == 1
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		for _, d := range docs.Documents() {
			if d.ExternalID == "555" {
				return d.ContentHash != "" && d.RawBlobRef != ""
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestFetchReferenceSkipsUploadWhenDownloadPayloadsUnset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	persist, docs, _ := newPersistenceActorWithStores(ctx)
	defer persist.Stop()

	doc := pipeline.Document{SourceID: "dof", ExternalID: "556", ContentType: "text/html"}
	client := &stubHTTPClient{resp: pipeline.HTTPResponse{StatusCode: 200, Header: http.Header{}, Body: []byte("<html></html>")}}
	parser := &stubParser{result: pipeline.ParseResult{Document: &doc}}
	coordinator := &recordingCoordinator{}
	registry := ratelimit.NewRegistry()
	limiter := registry.Limiter("dof", ratelimit.Config{RequestsPerSecond: 1000, Burst: 10})

	w := New(ctx, "fetch-dof-nohash", "dof", client, parser, limiter, persist, coordinator, nil, Config{}, nil)
	defer w.Stop()

	ref := pipeline.Reference{SourceID: "dof", ExternalID: "556", URL: "https://dof.gob.mx/556"}
	require.NoError(t, w.Tell(ctx, FetchReference{JobID: "job-1", Reference: ref}))

	require.Eventually(t, func() bool {
		coordinator.mu.Lock()
		defer coordinator.mu.Unlock()
		return len(coordinator.completed) == 1
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		for _, d := range docs.Documents() {
			if d.ExternalID == "556" {
				return d.ContentHash != ""
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	for _, d := range docs.Documents() {
		if d.ExternalID == "556" {
			require.Empty(t, d.RawBlobRef)
		}
	}
}

func TestFetchReferenceHTTPFailureReportsItemError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	persist := newPersistenceActor(ctx)
	defer persist.Stop()

	client := &stubHTTPClient{err: errors.New("connection refused")}
	parser := &stubParser{}
	coordinator := &recordingCoordinator{}
	emitter := &recordingEmitter{}
	registry := ratelimit.NewRegistry()
	limiter := registry.Limiter("scjn", ratelimit.Config{RequestsPerSecond: 1000, Burst: 10})

	w := New(ctx, "fetch-scjn", "scjn", client, parser, limiter, persist, coordinator, emitter,
		Config{MaxAttempts: 1}, nil)
	defer w.Stop()

	ref := pipeline.Reference{SourceID: "scjn", ExternalID: "9", URL: "https://scjn.gob.mx/9"}
	require.NoError(t, w.Tell(ctx, FetchReference{JobID: "job-1", Reference: ref}))

	require.Eventually(t, func() bool {
		coordinator.mu.Lock()
		defer coordinator.mu.Unlock()
		return len(coordinator.completed) == 1
	}, time.Second, 5*time.Millisecond)

	coordinator.mu.Lock()
	require.Error(t, coordinator.errs[0])
	coordinator.mu.Unlock()

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	require.NotEmpty(t, emitter.events)
	require.Equal(t, progress.StageItemError, emitter.events[len(emitter.events)-1].Stage)
}

// TestFetchReferenceTerminalStatusDoesNotRetryAndReportsTerminalError covers
// the one-terminal-failure scenario: a 404 is a client error, not worth
// retrying, and surfaces as a terminal ItemError carrying the status code.
func TestFetchReferenceTerminalStatusDoesNotRetryAndReportsTerminalError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	persist := newPersistenceActor(ctx)
	defer persist.Stop()

	client := &sequenceHTTPClient{statuses: []int{404}}
	parser := &stubParser{}
	coordinator := &recordingCoordinator{}
	emitter := &recordingEmitter{}
	registry := ratelimit.NewRegistry()
	limiter := registry.Limiter("scjn", ratelimit.Config{RequestsPerSecond: 1000, Burst: 10})

	w := New(ctx, "fetch-scjn-404", "scjn", client, parser, limiter, persist, coordinator, emitter,
		Config{MaxAttempts: 3}, nil)
	defer w.Stop()

	ref := pipeline.Reference{SourceID: "scjn", ExternalID: "2", URL: "https://scjn.gob.mx/2"}
	require.NoError(t, w.Tell(ctx, FetchReference{JobID: "job-1", Reference: ref}))

	require.Eventually(t, func() bool {
		coordinator.mu.Lock()
		defer coordinator.mu.Unlock()
		return len(coordinator.completed) == 1
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, 1, client.callCount(), "a 404 must not be retried")

	coordinator.mu.Lock()
	itemErr := &pipeline.ItemError{}
	require.ErrorAs(t, coordinator.errs[0], &itemErr)
	require.Equal(t, pipeline.ErrorKindTerminal, itemErr.Kind)
	require.Equal(t, 404, itemErr.StatusCode)
	coordinator.mu.Unlock()
}

// TestFetchReferenceTransientStatusRetriesUpToMaxAttemptsThenReportsTransient
// covers the transient 5xx path: every attempt is retried until the policy's
// budget is exhausted, then reported as a transient ItemError.
func TestFetchReferenceTransientStatusRetriesUpToMaxAttemptsThenReportsTransient(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	persist := newPersistenceActor(ctx)
	defer persist.Stop()

	client := &sequenceHTTPClient{statuses: []int{503}}
	parser := &stubParser{}
	coordinator := &recordingCoordinator{}
	emitter := &recordingEmitter{}
	registry := ratelimit.NewRegistry()
	limiter := registry.Limiter("scjn", ratelimit.Config{RequestsPerSecond: 1000, Burst: 10})

	w := New(ctx, "fetch-scjn-503", "scjn", client, parser, limiter, persist, coordinator, emitter,
		Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, nil)
	defer w.Stop()

	ref := pipeline.Reference{SourceID: "scjn", ExternalID: "3", URL: "https://scjn.gob.mx/3"}
	require.NoError(t, w.Tell(ctx, FetchReference{JobID: "job-1", Reference: ref}))

	require.Eventually(t, func() bool {
		coordinator.mu.Lock()
		defer coordinator.mu.Unlock()
		return len(coordinator.completed) == 1
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, 3, client.callCount(), "a 503 must be retried up to MaxAttempts")

	coordinator.mu.Lock()
	itemErr := &pipeline.ItemError{}
	require.ErrorAs(t, coordinator.errs[0], &itemErr)
	require.Equal(t, pipeline.ErrorKindTransient, itemErr.Kind)
	require.Equal(t, 503, itemErr.StatusCode)
	coordinator.mu.Unlock()
}

func TestFetchReferenceDiscoversExtraRefs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	persist := newPersistenceActor(ctx)
	defer persist.Stop()

	doc := pipeline.Document{SourceID: "bjv", ExternalID: "7"}
	extra := pipeline.Reference{SourceID: "bjv", ExternalID: "7-annex", URL: "https://bjv.unam.mx/7/annex.pdf"}
	client := &stubHTTPClient{resp: pipeline.HTTPResponse{StatusCode: 200, Header: http.Header{}}}
	parser := &stubParser{result: pipeline.ParseResult{Document: &doc, ExtraRefs: []pipeline.Reference{extra}}}
	coordinator := &recordingCoordinator{}
	registry := ratelimit.NewRegistry()
	limiter := registry.Limiter("bjv", ratelimit.Config{RequestsPerSecond: 1000, Burst: 10})

	w := New(ctx, "fetch-bjv", "bjv", client, parser, limiter, persist, coordinator, nil, Config{}, nil)
	defer w.Stop()

	ref := pipeline.Reference{SourceID: "bjv", ExternalID: "7", URL: "https://bjv.unam.mx/7"}
	require.NoError(t, w.Tell(ctx, FetchReference{JobID: "job-1", Reference: ref}))

	require.Eventually(t, func() bool {
		coordinator.mu.Lock()
		defer coordinator.mu.Unlock()
		return len(coordinator.extras) == 1
	}, time.Second, 5*time.Millisecond)
}
