package helpers

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coastline-io/flotilla/internal/exec"
	"github.com/coastline-io/flotilla/pkg/api"
)

// MockRunner is a scriptable in-memory implementation of exec.Runner.
// Outcomes are configured per script name; by default a submitted job
// succeeds immediately with no outputs
type MockRunner struct {
	outputs  map[string]api.Args
	failures map[string]string
	held     map[string]bool
	jobs     map[string]*exec.Job
	scripts  map[string]string
	tags     map[api.NodeKey]string
	params   map[string]api.Args
	hosts    map[string]api.Host
	submits  []string
	jobIDs   []string
	submitCh map[string]chan struct{}
	mu       sync.Mutex
}

// NewMockRunner creates a mock job runner with no configured outcomes
func NewMockRunner() *MockRunner {
	return &MockRunner{
		outputs:  map[string]api.Args{},
		failures: map[string]string{},
		held:     map[string]bool{},
		jobs:     map[string]*exec.Job{},
		scripts:  map[string]string{},
		tags:     map[api.NodeKey]string{},
		params:   map[string]api.Args{},
		hosts:    map[string]api.Host{},
		submitCh: map[string]chan struct{}{},
	}
}

// Submit records the submission and creates a job whose terminal state
// reflects the configured outcome for the script
func (r *MockRunner) Submit(
	_ context.Context, host api.Host, script string, params api.Args,
	tag api.NodeKey,
) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobID := uuid.NewString()
	job := &exec.Job{ID: jobID}
	r.settle(job, script)

	r.jobs[jobID] = job
	r.scripts[jobID] = script
	r.tags[tag] = jobID
	r.params[jobID] = params
	r.hosts[jobID] = host
	r.submits = append(r.submits, script)
	r.jobIDs = append(r.jobIDs, jobID)

	if ch, ok := r.submitCh[script]; ok {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return jobID, nil
}

// Status returns a copy of the job's current state
func (r *MockRunner) Status(
	_ context.Context, jobID string,
) (*exec.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, api.ErrRemoteFailure
	}
	res := *job
	return &res, nil
}

// Abort marks the job failed if it has not already settled
func (r *MockRunner) Abort(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return api.ErrRemoteFailure
	}
	if !job.State.Terminal() {
		job.State = exec.JobFailed
		job.Error = "aborted"
	}
	return nil
}

// FindByTag returns the job previously submitted under the tag, if any
func (r *MockRunner) FindByTag(
	_ context.Context, tag api.NodeKey,
) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobID, ok := r.tags[tag]
	return jobID, ok, nil
}

// SetOutputs configures a script's jobs to succeed with the given outputs
func (r *MockRunner) SetOutputs(script string, outputs api.Args) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[script] = outputs
	delete(r.failures, script)
}

// SetFailure configures a script's jobs to fail with the given message
func (r *MockRunner) SetFailure(script, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[script] = msg
}

// ClearFailure removes a configured failure so later jobs succeed
func (r *MockRunner) ClearFailure(script string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failures, script)
}

// Hold keeps the script's jobs in the running state until Release
func (r *MockRunner) Hold(script string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.held[script] = true
}

// Release settles every held job of the script with its configured outcome
func (r *MockRunner) Release(script string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.held, script)
	for jobID, s := range r.scripts {
		if s != script {
			continue
		}
		if job := r.jobs[jobID]; !job.State.Terminal() {
			r.settle(job, script)
		}
	}
}

// Submissions returns the scripts submitted, in order
func (r *MockRunner) Submissions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]string, len(r.submits))
	copy(res, r.submits)
	return res
}

// SubmitCount returns how many jobs were submitted for the script
func (r *MockRunner) SubmitCount(script string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.submitCountLocked(script)
}

// WasSubmitted reports whether any job was submitted for the script
func (r *MockRunner) WasSubmitted(script string) bool {
	return r.SubmitCount(script) > 0
}

// WaitForSubmit blocks until a job is submitted for the script or the
// timeout expires
func (r *MockRunner) WaitForSubmit(
	script string, timeout time.Duration,
) bool {
	r.mu.Lock()
	if r.submitCountLocked(script) > 0 {
		r.mu.Unlock()
		return true
	}
	ch, ok := r.submitCh[script]
	if !ok {
		ch = make(chan struct{}, 1)
		r.submitCh[script] = ch
	}
	r.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return r.WasSubmitted(script)
	}
}

// LastParams returns the params of the most recent job for the script
func (r *MockRunner) LastParams(script string) api.Args {
	r.mu.Lock()
	defer r.mu.Unlock()

	if jobID, ok := r.lastJobLocked(script); ok {
		return r.params[jobID]
	}
	return nil
}

// LastHost returns the host of the most recent job for the script
func (r *MockRunner) LastHost(script string) api.Host {
	r.mu.Lock()
	defer r.mu.Unlock()

	if jobID, ok := r.lastJobLocked(script); ok {
		return r.hosts[jobID]
	}
	return ""
}

func (r *MockRunner) submitCountLocked(script string) int {
	n := 0
	for _, s := range r.submits {
		if s == script {
			n++
		}
	}
	return n
}

func (r *MockRunner) lastJobLocked(script string) (string, bool) {
	for i := len(r.jobIDs) - 1; i >= 0; i-- {
		if r.scripts[r.jobIDs[i]] == script {
			return r.jobIDs[i], true
		}
	}
	return "", false
}

func (r *MockRunner) settle(job *exec.Job, script string) {
	if r.held[script] {
		job.State = exec.JobRunning
		return
	}
	if msg, ok := r.failures[script]; ok {
		job.State = exec.JobFailed
		job.Error = msg
		return
	}
	job.State = exec.JobSucceeded
	job.Outputs = r.outputs[script]
}
