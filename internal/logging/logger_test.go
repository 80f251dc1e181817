// Package logging includes tests for the zap logger helpers.
package logging

import "testing"

// TestNewDevelopmentLogger confirms the development logger builds and logs.
func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true, nil)
	if err != nil {
		t.Fatalf("New(true, nil) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("development logger ready")
}

// TestNewProductionLogger ensures the production logger configuration succeeds.
func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false, nil)
	if err != nil {
		t.Fatalf("New(false, nil) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("production logger ready")
}

// TestRingCapturesEntries verifies the ring core buffers log lines and
// returns the most recent ones in order.
func TestRingCapturesEntries(t *testing.T) {
	t.Parallel()

	ring := NewRing(2)
	logger, err := New(true, ring)
	if err != nil {
		t.Fatalf("New(true, ring) error = %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Named("discovery").Info("first")
	logger.Named("discovery").Info("second")
	logger.Named("discovery").Info("third")

	recent := ring.Recent(10)
	if len(recent) != 2 {
		t.Fatalf("expected ring capacity to cap entries at 2, got %d", len(recent))
	}
	if recent[0].Message != "second" || recent[1].Message != "third" {
		t.Fatalf("unexpected ring contents: %+v", recent)
	}
}
