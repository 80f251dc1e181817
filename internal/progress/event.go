// Package progress defines the event structures emitted by pipeline actors
// and the non-blocking Hub that batches them out to pluggable sinks, so the
// Coordinator's Status/Logs control surface never stalls a fetch worker or
// the persistence actor.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/lexatlas/acquisition-pipeline/internal/pipeline"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageDiscoveryStarted    Stage = "DISCOVERY_STARTED"
	StageReferenceDiscovered Stage = "REFERENCE_DISCOVERED"
	StageDiscoveryFailed     Stage = "DISCOVERY_FAILED"
	StageFetchStarted        Stage = "FETCH_STARTED"
	StageDocumentPersisted   Stage = "DOCUMENT_PERSISTED"
	StagePersistFailed       Stage = "PERSIST_FAILED"
	StageItemError           Stage = "ITEM_ERROR"
	StageCheckpointSaved     Stage = "CHECKPOINT_SAVED"
	StageResumedFailedIDs    Stage = "RESUMED_FAILED_IDS"
	StageStateChanged        Stage = "STATE_CHANGED"
)

// Event captures a single component of pipeline progress.
type Event struct {
	// JobID identifies the run this event belongs to.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// SourceID scopes the event to one of the four named sources.
	SourceID string
	// ExternalID identifies the reference or document the event concerns,
	// when applicable.
	ExternalID string
	// State is set on StageStateChanged events.
	State pipeline.State
	// ErrorKind classifies failures for StageItemError/StagePersistFailed/
	// StageDiscoveryFailed events.
	ErrorKind pipeline.ErrorKind
	// Count carries an aggregate quantity (e.g. resumed failed id count).
	Count int
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads before they enter
// the Hub.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageDiscoveryStarted, StageCheckpointSaved, StageResumedFailedIDs:
	case StageReferenceDiscovered, StageFetchStarted, StageDocumentPersisted:
		if e.SourceID == "" {
			return fmt.Errorf("%s requires source id", e.Stage)
		}
	case StageDiscoveryFailed, StagePersistFailed, StageItemError:
		if e.SourceID == "" {
			return fmt.Errorf("%s requires source id", e.Stage)
		}
		if e.ErrorKind == "" {
			return fmt.Errorf("%s requires an error kind", e.Stage)
		}
	case StageStateChanged:
		if e.State == "" {
			return errors.New("state changed event requires state")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	return nil
}
