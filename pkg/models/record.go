package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Operation is the write semantics applied to a record downstream.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether o is a known operation.
func (o Operation) Valid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

var ErrInvalidRecord = errors.New("invalid record")

// Record is one caller-submitted unit of work awaiting a downstream write.
// ID is the correlation key and must be unique among in-flight records.
type Record struct {
	ID          string         `json:"id"`
	Operation   Operation      `json:"operation"`
	Content     map[string]any `json:"content,omitempty"`
	Destination string         `json:"destination"`
	// SubmittedAt is stamped by the queue when the record is accepted.
	SubmittedAt time.Time `json:"submitted_at"`
}

// Size returns the byte length of the JSON encoding of Content. Records
// without content (deletes) count as zero.
func (r Record) Size() int {
	if len(r.Content) == 0 {
		return 0
	}
	b, err := json.Marshal(r.Content)
	if err != nil {
		return 0
	}
	return len(b)
}

// Validate checks the fields every sink relies on.
func (r Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	if !r.Operation.Valid() {
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidRecord, r.Operation)
	}
	if r.Destination == "" {
		return fmt.Errorf("%w: empty destination for %s", ErrInvalidRecord, r.ID)
	}
	if r.Operation != OpDelete && r.Content == nil {
		return fmt.Errorf("%w: %s operation without content for %s", ErrInvalidRecord, r.Operation, r.ID)
	}
	return nil
}
