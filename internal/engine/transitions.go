package engine

import "github.com/coastline-io/flotilla/pkg/api"

// StateTransitions maps states to their set of valid next states
type StateTransitions[T comparable] map[T]map[T]bool

var (
	flowTransitions = StateTransitions[api.FlowStatus]{
		api.FlowPending: setOf(api.FlowRunning, api.FlowRevoked),
		api.FlowRunning: setOf(
			api.FlowSuspended,
			api.FlowSucceeded,
			api.FlowFailed,
			api.FlowRevoked,
		),
		api.FlowSuspended: setOf(api.FlowRunning, api.FlowRevoked),
		api.FlowFailed:    setOf(api.FlowRunning, api.FlowRevoked),
		api.FlowSucceeded: {},
		api.FlowRevoked:   {},
	}

	nodeTransitions = StateTransitions[api.NodeStatus]{
		api.NodePending: setOf(api.NodeRunning, api.NodeRevoked),
		api.NodeRunning: setOf(
			api.NodeSuccess,
			api.NodeFailed,
			api.NodeRevoked,
		),
		api.NodeFailed:  setOf(api.NodePending, api.NodeRevoked),
		api.NodeSuccess: {},
		api.NodeRevoked: {},
	}
)

// CanTransition returns whether transition from one state to another is
// valid
func (t StateTransitions[T]) CanTransition(from, to T) bool {
	allowed, ok := t[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// IsTerminal returns true if the state has no valid transitions
func (t StateTransitions[T]) IsTerminal(state T) bool {
	allowed, ok := t[state]
	return ok && len(allowed) == 0
}

func setOf[T comparable](vals ...T) map[T]bool {
	res := make(map[T]bool, len(vals))
	for _, v := range vals {
		res[v] = true
	}
	return res
}
