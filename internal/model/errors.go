package model

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrNoUsableData is returned when ingestion yields no valid demand or entities.
var ErrNoUsableData = eris.New("no usable input data")

// ErrOutputFailed is returned when at least one segment's output could not be
// persisted after retries.
var ErrOutputFailed = eris.New("one or more segment outputs failed")

// ValidationError marks a single malformed record. It is counted and dropped.
type ValidationError struct {
	RecordID string
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.RecordID == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: record %s: %s", e.RecordID, e.Reason)
}

// NewValidationError builds a ValidationError.
func NewValidationError(id, reason string) *ValidationError {
	return &ValidationError{RecordID: id, Reason: reason}
}

// InsufficientDataError marks a segment with too few points to cluster.
type InsufficientDataError struct {
	Segment SegmentKey
	Points  int
	Min     int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("segment %s: %d demand points, need at least %d", e.Segment, e.Points, e.Min)
}

// IngestionError wraps a failure to read from the external data source.
type IngestionError struct {
	Op  string
	Err error
}

func (e *IngestionError) Error() string { return "ingestion: " + e.Op + ": " + e.Err.Error() }

func (e *IngestionError) Unwrap() error { return e.Err }

// NewIngestionError wraps err as an IngestionError for op.
func NewIngestionError(op string, err error) error {
	return &IngestionError{Op: op, Err: err}
}

// OutputWriteError wraps a failure to persist a segment's output.
type OutputWriteError struct {
	Segment  SegmentKey
	Attempts int
	Err      error
}

func (e *OutputWriteError) Error() string {
	return fmt.Sprintf("output: segment %s after %d attempts: %v", e.Segment, e.Attempts, e.Err)
}

func (e *OutputWriteError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsInsufficientData reports whether err is an InsufficientDataError.
func IsInsufficientData(err error) bool {
	var v *InsufficientDataError
	return errors.As(err, &v)
}

// IsIngestion reports whether err is an IngestionError.
func IsIngestion(err error) bool {
	var v *IngestionError
	return errors.As(err, &v)
}
