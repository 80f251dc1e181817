package fs

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lexatlas/acquisition-pipeline/internal/pipeline"
	"github.com/lexatlas/acquisition-pipeline/internal/store"
)

func TestSaveIsIdempotent(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	require.NoError(t, err)

	doc := pipeline.Document{SourceID: "dof", ExternalID: "123", Title: "first"}
	require.NoError(t, s.Save(context.Background(), doc))
	require.NoError(t, s.Save(context.Background(), doc))

	exists, err := s.Exists(context.Background(), "dof", "123")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestExistsFalseForUnknownDocument(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	require.NoError(t, err)

	exists, err := s.Exists(context.Background(), "dof", "missing")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestCheckpointRoundTrip(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	require.NoError(t, err)

	cp := pipeline.Checkpoint{
		SessionID:               "session-1",
		LastProcessedExternalID: "42",
		PendingIDs:              []string{"43", "44"},
		FailedIDs:               []string{"41"},
		CreatedAt:               time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.SaveCheckpoint(context.Background(), cp))

	got, err := s.LoadCheckpoint(context.Background(), "session-1")
	require.NoError(t, err)
	require.Equal(t, cp.SessionID, got.SessionID)
	require.Equal(t, cp.LastProcessedExternalID, got.LastProcessedExternalID)
	require.Equal(t, cp.PendingIDs, got.PendingIDs)
	require.Equal(t, cp.FailedIDs, got.FailedIDs)
}

func TestLoadCheckpointMissingReturnsNotFound(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.LoadCheckpoint(context.Background(), "never-written")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestPutObjectRejectsPathTraversal(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.PutObject(context.Background(), "../../etc/passwd", "application/pdf", strings.NewReader("x"))
	require.Error(t, err)
}

func TestPutObjectWritesUnderRawDir(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	require.NoError(t, err)

	uri, err := s.PutObject(context.Background(), "123.pdf", "application/pdf", strings.NewReader("bytes"))
	require.NoError(t, err)
	require.Contains(t, uri, "raw/123.pdf")
}
