// Package idgen generates job and session identifiers.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUIDv7 identifiers, which are time-ordered and make
// job/session ids sortable by creation time.
type Generator struct{}

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string, used for job_id and session_id.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
