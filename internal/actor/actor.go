// Package actor provides the mailbox-based runtime every pipeline
// component builds on: a single-consumer dispatch loop reading one message
// at a time, with tell (fire-and-forget) and ask (request-reply) send
// primitives. Handlers run to completion before the next message begins;
// a handler panic is recovered and logged, never killing the dispatcher.
package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrAskTimeout is returned by Ask when the handler does not reply before
// the call's deadline. The reply, if it arrives later, is dropped.
var ErrAskTimeout = errors.New("actor: ask timed out")

// ErrActorStopped is returned to callers whose ask was in flight when Stop's
// drain deadline elapsed.
var ErrActorStopped = errors.New("actor: stopped")

// DefaultAskTimeout is used by Ask when no timeout is supplied via context.
const DefaultAskTimeout = 5 * time.Second

// DefaultMailboxSize bounds the buffered channel backing a mailbox.
const DefaultMailboxSize = 64

// DefaultStopDrain is how long Stop waits for the mailbox to drain before
// abandoning in-flight asks with ErrActorStopped.
const DefaultStopDrain = 5 * time.Second

// Handler processes one message and optionally returns a reply value. A
// non-nil error both logs and, for ask sends, is delivered to the caller.
type Handler func(ctx context.Context, msg any) (any, error)

type envelope struct {
	ctx     context.Context
	payload any
	reply   chan reply
}

type reply struct {
	value any
	err   error
}

// Actor is a unit of private state plus a mailbox, processed by a single
// dispatch goroutine.
type Actor struct {
	name       string
	mailbox    chan envelope
	handler    Handler
	logger     *zap.Logger
	stopDrain  time.Duration
	done       chan struct{}
	stopCh     chan struct{}
	onPanic    func(r any)
}

// Option configures an Actor at construction.
type Option func(*Actor)

// WithMailboxSize overrides DefaultMailboxSize.
func WithMailboxSize(n int) Option {
	return func(a *Actor) {
		if n > 0 {
			a.mailbox = make(chan envelope, n)
		}
	}
}

// WithStopDrain overrides DefaultStopDrain.
func WithStopDrain(d time.Duration) Option {
	return func(a *Actor) { a.stopDrain = d }
}

// WithPanicHook installs a callback invoked (in addition to logging) when a
// handler panics. Primarily useful for tests asserting on recovery.
func WithPanicHook(fn func(r any)) Option {
	return func(a *Actor) { a.onPanic = fn }
}

// New constructs an Actor with the given name, handler, and logger. The
// dispatch loop is not started until Start is called.
func New(name string, handler Handler, logger *zap.Logger, opts ...Option) *Actor {
	a := &Actor{
		name:      name,
		mailbox:   make(chan envelope, DefaultMailboxSize),
		handler:   handler,
		logger:    logger.Named(name),
		stopDrain: DefaultStopDrain,
		done:      make(chan struct{}),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name reports the actor's name, used for log correlation and round-robin
// labeling by the Coordinator.
func (a *Actor) Name() string { return a.name }

// Start launches the dispatch loop in its own goroutine. Start is
// idempotent-unsafe by design: callers own the actor's lifecycle and must
// call it exactly once.
func (a *Actor) Start(ctx context.Context) {
	go a.run(ctx)
}

func (a *Actor) run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-a.stopCh:
			a.drain(ctx)
			return
		case env, ok := <-a.mailbox:
			if !ok {
				return
			}
			a.dispatch(env)
		}
	}
}

// drain processes whatever is already buffered in the mailbox, bounded by
// stopDrain, then abandons anything left with ErrActorStopped.
func (a *Actor) drain(ctx context.Context) {
	deadline := time.NewTimer(a.stopDrain)
	defer deadline.Stop()
	for {
		select {
		case env, ok := <-a.mailbox:
			if !ok {
				return
			}
			a.dispatch(env)
		case <-deadline.C:
			a.abandonRemaining()
			return
		case <-ctx.Done():
			a.abandonRemaining()
			return
		}
	}
}

func (a *Actor) abandonRemaining() {
	for {
		select {
		case env := <-a.mailbox:
			if env.reply != nil {
				env.reply <- reply{err: ErrActorStopped}
			}
		default:
			return
		}
	}
}

func (a *Actor) dispatch(env envelope) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("actor %s: handler panic: %v", a.name, r)
			a.logger.Error("recovered handler panic", zap.Any("panic", r))
			if env.reply != nil {
				env.reply <- reply{err: err}
			}
			if a.onPanic != nil {
				a.onPanic(r)
			}
		}
	}()

	value, err := a.handler(env.ctx, env.payload)
	if err != nil {
		a.logger.Error("handler error", zap.Error(err))
	}
	if env.reply != nil {
		env.reply <- reply{value: value, err: err}
	}
}

// Tell enqueues msg and returns immediately; there is no reply.
func (a *Actor) Tell(ctx context.Context, msg any) error {
	select {
	case a.mailbox <- envelope{ctx: ctx, payload: msg}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-a.stopCh:
		return ErrActorStopped
	}
}

// Stop signals the dispatch loop to drain and exit, then blocks until it
// has or until the drain deadline elapses. If a handler is still running at
// the deadline, asks still queued in the mailbox are abandoned with
// ErrActorStopped and Stop returns without waiting for that handler.
func (a *Actor) Stop() {
	select {
	case <-a.stopCh:
		// already stopped
	default:
		close(a.stopCh)
	}
	deadline := time.NewTimer(a.stopDrain)
	defer deadline.Stop()
	select {
	case <-a.done:
	case <-deadline.C:
		a.abandonRemaining()
	}
}

// Ask sends msg and blocks until the handler replies, the context is
// cancelled, or timeout elapses, whichever comes first. Generic callers
// should prefer the package-level Ask function for typed replies.
func (a *Actor) Ask(ctx context.Context, msg any, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		timeout = DefaultAskTimeout
	}
	replyCh := make(chan reply, 1)
	env := envelope{ctx: ctx, payload: msg, reply: replyCh}

	select {
	case a.mailbox <- env:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.stopCh:
		return nil, ErrActorStopped
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-replyCh:
		return r.value, r.err
	case <-timer.C:
		return nil, ErrAskTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ask is a generic, type-safe wrapper around Actor.Ask for callers that
// know the concrete reply type Resp. It improves on the mailbox's untyped
// payload by pushing the type assertion into one place.
func Ask[Resp any](ctx context.Context, a *Actor, msg any, timeout time.Duration) (Resp, error) {
	var zero Resp
	value, err := a.Ask(ctx, msg, timeout)
	if err != nil {
		return zero, err
	}
	if value == nil {
		return zero, nil
	}
	resp, ok := value.(Resp)
	if !ok {
		return zero, fmt.Errorf("actor %s: unexpected reply type %T", a.name, value)
	}
	return resp, nil
}
