package assert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/coastline-io/flotilla/internal/config"
	"github.com/coastline-io/flotilla/pkg/api"
)

// Wrapper wraps testify assertions with Flotilla-specific helpers
type Wrapper struct {
	*testing.T
	*assert.Assertions
	Require *assert.Assertions
}

// DefaultRetryInterval is the default polling interval for Eventually checks
const DefaultRetryInterval = 100 * time.Millisecond

// New creates a new test assertion wrapper with both assert and require from
// testify plus Flotilla-specific helpers
func New(t *testing.T) *Wrapper {
	return &Wrapper{
		T:          t,
		Assertions: assert.New(t),
		Require:    assert.New(t),
	}
}

// PlanValid asserts that a plan validates and has nodes
func (w *Wrapper) PlanValid(p *api.Plan) {
	w.Helper()
	w.NoError(p.Validate())
	w.NotEmpty(p.Nodes)
	w.Len(p.Order, len(p.Nodes))
}

// PlanInvalid asserts that a plan fails validation and returns the error
func (w *Wrapper) PlanInvalid(p *api.Plan, contains string) error {
	w.Helper()
	err := p.Validate()
	w.Error(err)
	if err != nil && contains != "" {
		w.Contains(err.Error(), contains)
	}
	return err
}

// FlowStatus asserts the status of a flow
func (w *Wrapper) FlowStatus(flow *api.FlowState, expected api.FlowStatus) {
	w.Helper()
	w.Equal(expected, flow.Status)
}

// NodeStatus asserts the status of one node within a flow
func (w *Wrapper) NodeStatus(
	flow *api.FlowState, node api.NodeID, expected api.NodeStatus,
) {
	w.Helper()
	state := flow.GetNodeState(node)
	w.NotNil(state, "flow should have node: %s", node)
	if state != nil {
		w.Equal(expected, state.Status)
	}
}

// ConfigValid asserts that a configuration is valid
func (w *Wrapper) ConfigValid(cfg *config.Config) {
	w.Helper()
	w.NoError(cfg.Validate())
	w.True(cfg.APIPort > 0 && cfg.APIPort <= config.MaxTCPPort)
	w.True(cfg.ActivityTimeout > 0)
}

// ConfigInvalid asserts that a configuration is invalid
func (w *Wrapper) ConfigInvalid(cfg *config.Config, contains string) {
	w.Helper()
	err := cfg.Validate()
	w.Error(err)
	if contains != "" {
		w.Contains(err.Error(), contains)
	}
}

// Eventually runs a condition repeatedly until it passes or times out
func (w *Wrapper) Eventually(
	condition func() bool, timeout time.Duration, msg string, args ...any,
) {
	w.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(DefaultRetryInterval)
	}
	w.Fail(msg, args...)
}

// EventuallyWithError runs a condition that returns an error until it
// succeeds or times out
func (w *Wrapper) EventuallyWithError(
	condition func() error, timeout time.Duration, msg string, args ...any,
) {
	w.Helper()
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		err := condition()
		if err == nil {
			return
		}
		lastErr = err
		time.Sleep(DefaultRetryInterval)
	}
	if lastErr != nil {
		w.Fail(msg+": last error: "+lastErr.Error(), args...)
		return
	}
	w.Fail(msg, args...)
}
