// Package exec dispatches remote script jobs to the fleet's job service
// and tracks them to a terminal status
package exec

import (
	"context"

	"github.com/coastline-io/flotilla/pkg/api"
)

type (
	// JobState is the lifecycle state reported by the job service
	JobState string

	// Job is the observable state of one dispatched script job
	Job struct {
		ID      string
		State   JobState
		Outputs api.Args
		Error   string
	}

	// Runner submits script jobs and polls them to completion. Every
	// submission carries an idempotency tag; re-dispatch for the same flow
	// node finds the existing job instead of launching a duplicate
	Runner interface {
		Submit(
			ctx context.Context, host api.Host, script string,
			params api.Args, tag api.NodeKey,
		) (string, error)
		Status(ctx context.Context, jobID string) (*Job, error)
		Abort(ctx context.Context, jobID string) error
		FindByTag(ctx context.Context, tag api.NodeKey) (string, bool, error)
	}
)

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// Terminal reports whether the job state is final
func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}
