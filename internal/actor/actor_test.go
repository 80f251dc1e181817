package actor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func echoHandler(_ context.Context, msg any) (any, error) {
	return msg, nil
}

func TestTellDoesNotBlock(t *testing.T) {
	t.Parallel()

	a := New("echo", echoHandler, zap.NewNop())
	a.Start(context.Background())
	defer a.Stop()

	start := time.Now()
	require.NoError(t, a.Tell(context.Background(), "hello"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestAskReturnsReply(t *testing.T) {
	t.Parallel()

	a := New("echo", echoHandler, zap.NewNop())
	a.Start(context.Background())
	defer a.Stop()

	reply, err := a.Ask(context.Background(), "ping", time.Second)
	require.NoError(t, err)
	require.Equal(t, "ping", reply)
}

func TestTypedAsk(t *testing.T) {
	t.Parallel()

	a := New("echo", func(_ context.Context, msg any) (any, error) {
		return len(msg.(string)), nil
	}, zap.NewNop())
	a.Start(context.Background())
	defer a.Stop()

	n, err := Ask[int](context.Background(), a, "abcd", time.Second)
	require.NoError(t, err)
	require.Equal(t, 4, n)
}

func TestAskTimeout(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	a := New("slow", func(ctx context.Context, _ any) (any, error) {
		<-block
		return nil, nil
	}, zap.NewNop())
	a.Start(context.Background())
	defer func() {
		close(block)
		a.Stop()
	}()

	_, err := a.Ask(context.Background(), "ping", 20*time.Millisecond)
	require.ErrorIs(t, err, ErrAskTimeout)
}

func TestAskAfterStopReturnsActorStopped(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	a := New("blocking", func(ctx context.Context, _ any) (any, error) {
		<-block
		return nil, nil
	}, zap.NewNop(), WithStopDrain(10*time.Millisecond))
	a.Start(context.Background())

	// occupy the handler so the second ask sits in the mailbox during drain
	go func() { _, _ = a.Ask(context.Background(), "first", time.Second) }()
	time.Sleep(5 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := a.Ask(context.Background(), "second", time.Second)
		done <- err
	}()
	time.Sleep(5 * time.Millisecond)

	a.Stop()
	close(block)

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrActorStopped)
	case <-time.After(time.Second):
		t.Fatal("ask never returned")
	}
}

func TestHandlerErrorPropagatesToAsk(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	a := New("erroring", func(_ context.Context, _ any) (any, error) {
		return nil, boom
	}, zap.NewNop())
	a.Start(context.Background())
	defer a.Stop()

	_, err := a.Ask(context.Background(), "x", time.Second)
	require.ErrorIs(t, err, boom)
}

func TestPanicRecoveryKeepsDispatcherAlive(t *testing.T) {
	t.Parallel()

	panicked := make(chan struct{}, 1)
	a := New("flaky", func(_ context.Context, msg any) (any, error) {
		if msg == "boom" {
			panic("kaboom")
		}
		return "ok", nil
	}, zap.NewNop(), WithPanicHook(func(any) { panicked <- struct{}{} }))
	a.Start(context.Background())
	defer a.Stop()

	_, err := a.Ask(context.Background(), "boom", time.Second)
	require.Error(t, err)

	select {
	case <-panicked:
	case <-time.After(time.Second):
		t.Fatal("panic hook never fired")
	}

	reply, err := a.Ask(context.Background(), "next", time.Second)
	require.NoError(t, err)
	require.Equal(t, "ok", reply)
}
