// Package pipeline defines the core types shared across the acquisition
// runtime: references, documents, job configuration, and the collaborator
// interfaces each actor depends on.
package pipeline

import "time"

// State is the Coordinator's finite pipeline state.
type State string

// Pipeline state values. See the Coordinator state machine for transitions.
const (
	StateIdle        State = "idle"
	StateDiscovering State = "discovering"
	StateFetching    State = "fetching"
	StatePaused      State = "paused"
	StateCancelling  State = "cancelling"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// Mode selects how the Discovery actor enumerates a source's index.
type Mode string

// Discovery modes.
const (
	ModeToday    Mode = "today"
	ModeDate     Mode = "date"
	ModeRange    Mode = "range"
	ModeCategory Mode = "category"
	ModeSearch   Mode = "search"
)

// Reference is a unit of work discovered but not yet fetched.
type Reference struct {
	SourceID       string            `json:"source_id"`
	ExternalID     string            `json:"external_id"`
	URL            string            `json:"url"`
	Title          string            `json:"title"`
	OpaqueMetadata map[string]string `json:"opaque_metadata,omitempty"`
}

// Article is one numbered provision within a Document.
type Article struct {
	Identifier string `json:"identifier"`
	Content    string `json:"content"`
	Order      int    `json:"order"`
}

// Reform records an amendment event referenced by a Document.
type Reform struct {
	Description string    `json:"description"`
	EffectiveAt time.Time `json:"effective_at"`
}

// Document is a fetched-and-parsed record. Produced by a source's Parser,
// persisted exactly once, never mutated after creation.
type Document struct {
	ID                string     `json:"id"`
	SourceID          string     `json:"source_id"`
	ExternalID        string     `json:"external_id"`
	Title             string     `json:"title"`
	PublicationDate   *time.Time `json:"publication_date,omitempty"`
	Category          string     `json:"category,omitempty"`
	Scope             string     `json:"scope,omitempty"`
	Status            string     `json:"status,omitempty"`
	Articles          []Article  `json:"articles,omitempty"`
	Reforms           []Reform   `json:"reforms,omitempty"`
	RawBlobRef        string     `json:"raw_blob_ref,omitempty"`
	ContentHash       string     `json:"content_hash,omitempty"`
	ContentType       string     `json:"content_type,omitempty"`
	SourceURL         string     `json:"source_url"`
}

// Key identifies a Document uniquely within the pipeline.
func (d Document) Key() string {
	return d.SourceID + "/" + d.ExternalID
}

// Config parameters a single pipeline run. Named Config (not JobConfig) to
// avoid stuttering as coordinator.Config at call sites.
type Config struct {
	SourceID         string            `json:"source_id" mapstructure:"source_id"`
	Mode             Mode              `json:"mode" mapstructure:"mode"`
	Date             string            `json:"date,omitempty" mapstructure:"date"`
	DateStart        string            `json:"date_start,omitempty" mapstructure:"date_start"`
	DateEnd          string            `json:"date_end,omitempty" mapstructure:"date_end"`
	Category         string            `json:"category,omitempty" mapstructure:"category"`
	Scope            string            `json:"scope,omitempty" mapstructure:"scope"`
	Status           string            `json:"status,omitempty" mapstructure:"status"`
	Query            string            `json:"query,omitempty" mapstructure:"query"`
	Filters          map[string]string `json:"filters,omitempty" mapstructure:"filters"`
	MaxResults       int               `json:"max_results" mapstructure:"max_results"`
	OutputDirectory  string            `json:"output_directory" mapstructure:"output_directory"`
	RateLimitRPS     float64           `json:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	Concurrency      int               `json:"concurrency" mapstructure:"concurrency"`
	DownloadPayloads bool              `json:"download_payloads" mapstructure:"download_payloads"`
	CheckpointID     string            `json:"checkpoint_id,omitempty" mapstructure:"checkpoint_id"`
	MaxAttempts      int               `json:"max_attempts" mapstructure:"max_attempts"`
	CheckpointEvery  int               `json:"checkpoint_every" mapstructure:"checkpoint_every"`
}

// Validate reports a configuration error suitable for a job-fatal
// misconfiguration transition.
func (c Config) Validate() error {
	if c.SourceID == "" {
		return errConfig("source_id is required")
	}
	if c.Mode == "" {
		return errConfig("mode is required")
	}
	if c.Concurrency < 0 {
		return errConfig("concurrency must not be negative")
	}
	if c.MaxResults < 0 {
		return errConfig("max_results must not be negative")
	}
	return nil
}

type configError string

func (e configError) Error() string { return string(e) }

func errConfig(msg string) error { return configError("invalid config: " + msg) }

// Progress is a monotonic counters snapshot for a running or finished job.
type Progress struct {
	JobID      string `json:"job_id"`
	State      State  `json:"state"`
	Discovered int    `json:"discovered"`
	Downloaded int    `json:"downloaded"`
	Pending    int    `json:"pending"`
	Active     int    `json:"active"`
	Errors     int    `json:"errors"`
	Cancelled  bool   `json:"cancelled"`
}

// Checkpoint is a durable resume point written by the Coordinator.
type Checkpoint struct {
	SessionID               string    `json:"session_id"`
	LastProcessedExternalID string    `json:"last_processed_external_id"`
	PendingIDs              []string  `json:"pending_ids"`
	FailedIDs               []string  `json:"failed_ids"`
	CompletedIDs            []string  `json:"completed_ids"`
	CreatedAt               time.Time `json:"created_at"`
}

// LogLevel mirrors zap's severity scale for ring-buffer entries.
type LogLevel string

// Log levels recorded in the observability ring buffer.
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogEntry is one observability trace line, appended to a bounded ring
// buffer and readable via the Logs control operation.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
}
