package processing

import (
	"errors"
	"fmt"
)

// Kind classifies why a job failed.
type Kind string

const (
	KindConfiguration  Kind = "configuration"
	KindPrecondition   Kind = "precondition"
	KindExecution      Kind = "execution"
	KindTimeout        Kind = "timeout"
	KindReconciliation Kind = "reconciliation"
	KindRegistration   Kind = "registration"
)

var ErrSharedWorkDir = errors.New("jobs share a work directory")

// JobError is returned by RunJob for every failed run.
type JobError struct {
	JobID string
	Name  string
	Kind  Kind
	// State is the state the run was in when it failed.
	State State
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s (%s): %s failure during %s: %v", e.Name, e.JobID, e.Kind, e.State, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

// KindOf returns the failure kind of err, or "" if err is not a JobError.
func KindOf(err error) Kind {
	var je *JobError
	if errors.As(err, &je) {
		return je.Kind
	}
	return ""
}
