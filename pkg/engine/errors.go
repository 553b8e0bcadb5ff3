package engine

import (
	"fmt"
	"time"
)

// TranslationError reports a stage configuration that cannot be turned
// into a valid cluster resource, for example a replica count or port
// outside the range the cluster accepts.
type TranslationError struct {
	Stage  string
	Field  string
	Reason string
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("cannot translate stage %q: %s %s", e.Stage, e.Field, e.Reason)
}

// StageTimeoutError reports a stage that did not reach a terminal state
// within its deadline.
type StageTimeoutError struct {
	Stage   string
	Timeout time.Duration
}

func (e *StageTimeoutError) Error() string {
	return fmt.Sprintf("stage %q did not complete within %s", e.Stage, e.Timeout)
}

// StageFailedError reports a batch stage whose final attempt failed, or
// a service stage that never became ready.
type StageFailedError struct {
	Stage    string
	Attempts int
	Cause    error
}

func (e *StageFailedError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("stage %q failed after %d attempts: %v", e.Stage, e.Attempts, e.Cause)
	}
	return fmt.Sprintf("stage %q failed: %v", e.Stage, e.Cause)
}

func (e *StageFailedError) Unwrap() error { return e.Cause }
