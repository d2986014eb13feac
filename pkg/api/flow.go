package api

import (
	"maps"
	"time"
)

type (
	// FlowStatus represents the overall state of a flow execution
	FlowStatus string

	// NodeStatus represents the state of a single flow node
	NodeStatus string

	// FlowState contains the complete persisted state of one flow
	// execution: the graph, one state record per node, and the context of
	// recorded outputs
	FlowState struct {
		ID          FlowID               `json:"id"`
		TicketID    TicketID             `json:"ticket_id,omitempty"`
		Status      FlowStatus           `json:"status"`
		Plan        *Plan                `json:"plan"`
		Nodes       map[NodeID]*NodeState `json:"nodes"`
		Context     Context              `json:"context"`
		Error       string               `json:"error,omitempty"`
		CreatedAt   time.Time            `json:"created_at"`
		CompletedAt time.Time            `json:"completed_at,omitempty"`
		LastUpdated time.Time            `json:"last_updated"`
	}

	// NodeState contains the execution state of one flow node. Inputs are
	// recorded when the node starts so a retry re-runs with the original
	// values
	NodeState struct {
		Status      NodeStatus `json:"status"`
		Inputs      Args       `json:"inputs,omitempty"`
		Outputs     Args       `json:"outputs,omitempty"`
		Error       string     `json:"error,omitempty"`
		Class       ErrorClass `json:"class,omitempty"`
		RetryCount  int        `json:"retry_count,omitempty"`
		JobID       string     `json:"job_id,omitempty"`
		StartedAt   time.Time  `json:"started_at,omitempty"`
		CompletedAt time.Time  `json:"completed_at,omitempty"`
	}

	// Context is the append-only record of outputs written by completed
	// nodes, keyed by writer so successors read exactly the output they
	// declared a dependency on
	Context map[NodeID]Args

	// FlowDigest is summary information for flow listings
	FlowDigest struct {
		ID          FlowID     `json:"id"`
		TicketID    TicketID   `json:"ticket_id,omitempty"`
		Status      FlowStatus `json:"status"`
		Error       string     `json:"error,omitempty"`
		CreatedAt   time.Time  `json:"created_at"`
		CompletedAt time.Time  `json:"completed_at,omitempty"`
	}
)

const (
	FlowPending   FlowStatus = "pending"
	FlowRunning   FlowStatus = "running"
	FlowSuspended FlowStatus = "suspended"
	FlowSucceeded FlowStatus = "succeeded"
	FlowFailed    FlowStatus = "failed"
	FlowRevoked   FlowStatus = "revoked"

	NodePending NodeStatus = "pending"
	NodeRunning NodeStatus = "running"
	NodeSuccess NodeStatus = "success"
	NodeFailed  NodeStatus = "failed"
	NodeRevoked NodeStatus = "revoked"
)

// Terminal reports whether the flow status is final
func (s FlowStatus) Terminal() bool {
	switch s {
	case FlowSucceeded, FlowFailed, FlowRevoked:
		return true
	}
	return false
}

// Terminal reports whether the node status is final. A failed node is not
// terminal in the strict sense because retry may return it to pending, but
// it stops the scheduler until an operator intervenes
func (s NodeStatus) Terminal() bool {
	switch s {
	case NodeSuccess, NodeFailed, NodeRevoked:
		return true
	}
	return false
}

// Read returns the named output recorded by the given node
func (c Context) Read(node NodeID, output Name) (any, bool) {
	outputs, ok := c[node]
	if !ok {
		return nil, false
	}
	val, ok := outputs[output]
	return val, ok
}

// Write returns a copy of the context with the node's outputs recorded
func (c Context) Write(node NodeID, outputs Args) Context {
	res := maps.Clone(c)
	if res == nil {
		res = Context{}
	}
	res[node] = outputs
	return res
}

// Digest produces the summary view of a flow state
func (f *FlowState) Digest() *FlowDigest {
	return &FlowDigest{
		ID:          f.ID,
		TicketID:    f.TicketID,
		Status:      f.Status,
		Error:       f.Error,
		CreatedAt:   f.CreatedAt,
		CompletedAt: f.CompletedAt,
	}
}

// GetNodeState returns the state record for a node, or nil
func (f *FlowState) GetNodeState(id NodeID) *NodeState {
	return f.Nodes[id]
}

// SetStatus returns a copy of the flow state with the status replaced
func (f *FlowState) SetStatus(status FlowStatus) *FlowState {
	res := *f
	res.Status = status
	return &res
}

// SetError returns a copy of the flow state with the error set
func (f *FlowState) SetError(msg string) *FlowState {
	res := *f
	res.Error = msg
	return &res
}

// SetCompletedAt returns a copy of the flow state with completion time set
func (f *FlowState) SetCompletedAt(at time.Time) *FlowState {
	res := *f
	res.CompletedAt = at
	return &res
}

// SetLastUpdated returns a copy of the flow state with the update time set
func (f *FlowState) SetLastUpdated(at time.Time) *FlowState {
	res := *f
	res.LastUpdated = at
	return &res
}

// SetNode returns a copy of the flow state with the node record replaced
func (f *FlowState) SetNode(id NodeID, node *NodeState) *FlowState {
	res := *f
	res.Nodes = maps.Clone(f.Nodes)
	res.Nodes[id] = node
	return &res
}

// SetContext returns a copy of the flow state with the context replaced
func (f *FlowState) SetContext(c Context) *FlowState {
	res := *f
	res.Context = c
	return &res
}

// SetStatus returns a copy of the node state with the status replaced
func (n *NodeState) SetStatus(status NodeStatus) *NodeState {
	res := *n
	res.Status = status
	return &res
}

// SetInputs returns a copy of the node state with inputs recorded
func (n *NodeState) SetInputs(inputs Args) *NodeState {
	res := *n
	res.Inputs = inputs
	return &res
}

// SetOutputs returns a copy of the node state with outputs recorded
func (n *NodeState) SetOutputs(outputs Args) *NodeState {
	res := *n
	res.Outputs = outputs
	return &res
}

// SetError returns a copy of the node state with error and class set
func (n *NodeState) SetError(msg string, class ErrorClass) *NodeState {
	res := *n
	res.Error = msg
	res.Class = class
	return &res
}

// ClearError returns a copy of the node state with error state removed
func (n *NodeState) ClearError() *NodeState {
	res := *n
	res.Error = ""
	res.Class = ""
	return &res
}

// SetJobID returns a copy of the node state with the remote job recorded
func (n *NodeState) SetJobID(id string) *NodeState {
	res := *n
	res.JobID = id
	return &res
}

// SetStartedAt returns a copy of the node state with the start time set
func (n *NodeState) SetStartedAt(at time.Time) *NodeState {
	res := *n
	res.StartedAt = at
	return &res
}

// SetCompletedAt returns a copy of the node state with completion time set
func (n *NodeState) SetCompletedAt(at time.Time) *NodeState {
	res := *n
	res.CompletedAt = at
	return &res
}

// IncRetryCount returns a copy of the node state with the retry counter
// incremented
func (n *NodeState) IncRetryCount() *NodeState {
	res := *n
	res.RetryCount++
	return &res
}
