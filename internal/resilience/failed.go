package resilience

import (
	"time"
)

// Failure records a unit of work that could not be completed, for reporting
// at the end of a run.
type Failure struct {
	Key       string    `json:"key"`
	Error     string    `json:"error"`
	ErrorType string    `json:"error_type"` // "transient" or "permanent"
	Attempts  int       `json:"attempts"`
	FailedAt  time.Time `json:"failed_at"`
}

// NewFailure describes err for key.
func NewFailure(key string, err error, at time.Time) Failure {
	return Failure{
		Key:       key,
		Error:     err.Error(),
		ErrorType: ClassifyError(err),
		Attempts:  Attempts(err),
		FailedAt:  at,
	}
}
