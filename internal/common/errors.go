package common

import (
	"context"
	"errors"
	"fmt"
)

// FailureClass tags a stage failure for the orchestrator's retry policy.
type FailureClass string

const (
	// FailureTransient covers timeouts and unavailable external services;
	// eligible for backoff and retry.
	FailureTransient FailureClass = "transient"
	// FailurePermanent covers corrupt files, unsupported formats, and empty
	// extraction results; retrying cannot help.
	FailurePermanent FailureClass = "permanent"
)

// StageError is the tagged result a pipeline stage reports instead of
// driving retries through exception-style control flow.
type StageError struct {
	Stage string
	Class FailureClass
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func Transient(stage string, err error) *StageError {
	return &StageError{Stage: stage, Class: FailureTransient, Err: err}
}

func Permanent(stage string, err error) *StageError {
	return &StageError{Stage: stage, Class: FailurePermanent, Err: err}
}

// ClassOf classifies an arbitrary error. Untagged errors default to
// transient: infrastructure failures are worth another attempt, and the
// attempt budget bounds the damage of a misclassification.
func ClassOf(err error) FailureClass {
	var se *StageError
	if errors.As(err, &se) {
		return se.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTransient
	}
	return FailureTransient
}

func IsPermanent(err error) bool {
	return ClassOf(err) == FailurePermanent
}
