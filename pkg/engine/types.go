// Package engine turns a parsed pipeline descriptor into cluster
// resources and drives them to completion: the translator builds the
// resource specs, the stage executor runs a single stage through its
// retry or readiness lifecycle, and the workflow controller runs the
// whole step sequence.
package engine

import (
	"time"

	"github.com/flumeworks/flume/pkg/dag"
	"github.com/flumeworks/flume/pkg/descriptor"
)

// StageState tracks a single stage run through its lifecycle.
type StageState string

const (
	StagePending    StageState = "pending"
	StageSubmitted  StageState = "submitted"
	StagePolling    StageState = "polling"
	StageSucceeded  StageState = "succeeded"
	StageFailed     StageState = "failed"
	StageRolledBack StageState = "rolled-back"
)

// WorkflowState tracks a whole pipeline run.
type WorkflowState string

const (
	WorkflowRunning   WorkflowState = "running"
	WorkflowSucceeded WorkflowState = "succeeded"
	WorkflowFailed    WorkflowState = "failed"
)

// StageRun is the record of one stage's execution within a workflow
// run. It is owned by the stage executor running that stage; nothing
// else writes to it.
type StageRun struct {
	Stage        *descriptor.StageConfig
	ResourceName string
	State        StageState
	Attempts     int
	StartedAt    time.Time
	FinishedAt   time.Time
	Err          error
}

// Duration returns how long the stage ran, or the elapsed time so far
// if it has not finished.
func (r *StageRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Terminal reports whether the stage has reached a final state.
func (r *StageRun) Terminal() bool {
	switch r.State {
	case StageSucceeded, StageFailed, StageRolledBack:
		return true
	}
	return false
}

// StepResult collects the stage runs of one DAG step.
type StepResult struct {
	Step   dag.Step
	Stages []*StageRun
}

// Failed reports whether any stage in the step ended in failure.
func (s *StepResult) Failed() bool {
	for _, run := range s.Stages {
		if run.State == StageFailed || run.State == StageRolledBack {
			return true
		}
	}
	return false
}

// WorkflowRun is the record of one end-to-end pipeline execution.
type WorkflowRun struct {
	ID         string
	Pipeline   string
	Namespace  string
	GitURL     string
	GitRef     string
	CommitHash string
	State      WorkflowState
	Steps      []*StepResult
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error
}

// FirstFailure returns the first stage run that ended in failure, in
// step order, or nil if the run succeeded.
func (w *WorkflowRun) FirstFailure() *StageRun {
	for _, step := range w.Steps {
		for _, run := range step.Stages {
			if run.State == StageFailed || run.State == StageRolledBack {
				return run
			}
		}
	}
	return nil
}

// Duration returns how long the workflow ran, or the elapsed time so
// far if it has not finished.
func (w *WorkflowRun) Duration() time.Duration {
	if w.FinishedAt.IsZero() {
		return time.Since(w.StartedAt)
	}
	return w.FinishedAt.Sub(w.StartedAt)
}
