package events

import (
	"strings"

	"github.com/kode4food/timebox"

	"github.com/coastline-io/flotilla/pkg/api"
)

const FlowPrefix = "flow"

// FlowAppliers contains the event applier functions for flow events
var FlowAppliers = makeFlowAppliers()

// NewFlowState creates an empty flow state with initialized maps
func NewFlowState() *api.FlowState {
	return &api.FlowState{
		Nodes:   map[api.NodeID]*api.NodeState{},
		Context: api.Context{},
	}
}

// FlowKey returns the aggregate ID for a flow
func FlowKey[T ~string](flowID T) timebox.AggregateID {
	return timebox.NewAggregateID(FlowPrefix, timebox.ID(flowID))
}

// IsFlowEvent returns true if the event belongs to a flow aggregate
func IsFlowEvent(ev *timebox.Event) bool {
	return len(ev.AggregateID) >= 2 && ev.AggregateID[0] == FlowPrefix
}

// FlowJoinKey is a JoinKeyFunc that co-locates a flow and the flows derived
// from it in the same Redis hash slot. A compensation flow "my-flow:comp"
// resolves to the same {my-flow} slot as its parent. Produces
// "flow:{my-flow}" or "flow:{my-flow}:comp"
func FlowJoinKey(id timebox.AggregateID) string {
	if len(id) < 2 {
		return id.Join(":")
	}
	prefix := string(id[0])
	flowID := string(id[1])
	rootFlowID := flowID
	if before, _, ok := strings.Cut(flowID, ":"); ok {
		rootFlowID = before
	}
	if flowID == rootFlowID {
		return prefix + ":{" + rootFlowID + "}"
	}
	return prefix + ":{" + rootFlowID + "}:" + flowID[len(rootFlowID)+1:]
}

// FlowParseKey is the ParseKeyFunc that reverses FlowJoinKey
func FlowParseKey(str string) timebox.AggregateID {
	before, after, found := strings.Cut(str, ":{")
	if !found {
		return timebox.ParseKey(str)
	}
	slot, remaining, hasRemaining := strings.Cut(after, "}:")
	if !hasRemaining {
		slot = strings.TrimSuffix(after, "}")
		return timebox.AggregateID{timebox.ID(before), timebox.ID(slot)}
	}
	return timebox.AggregateID{
		timebox.ID(before), timebox.ID(slot + ":" + remaining),
	}
}

func makeFlowAppliers() timebox.Appliers[*api.FlowState] {
	return MakeAppliers(map[api.EventType]timebox.Applier[*api.FlowState]{
		api.EventTypeFlowStarted:   timebox.MakeApplier(flowStarted),
		api.EventTypeFlowSucceeded: timebox.MakeApplier(flowSucceeded),
		api.EventTypeFlowFailed:    timebox.MakeApplier(flowFailed),
		api.EventTypeFlowSuspended: timebox.MakeApplier(flowSuspended),
		api.EventTypeFlowResumed:   timebox.MakeApplier(flowResumed),
		api.EventTypeFlowRevoked:   timebox.MakeApplier(flowRevoked),
		api.EventTypeNodeStarted:   timebox.MakeApplier(nodeStarted),
		api.EventTypeNodeSucceeded: timebox.MakeApplier(nodeSucceeded),
		api.EventTypeNodeFailed:    timebox.MakeApplier(nodeFailed),
		api.EventTypeNodeRetried:   timebox.MakeApplier(nodeRetried),
		api.EventTypeNodeJobBound:  timebox.MakeApplier(nodeJobBound),
	})
}

func flowStarted(
	_ *api.FlowState, ev *timebox.Event, data api.FlowStartedEvent,
) *api.FlowState {
	nodes := map[api.NodeID]*api.NodeState{}
	for _, id := range data.Plan.Order {
		nodes[id] = &api.NodeState{Status: api.NodePending}
	}

	ctx := api.Context{}
	if len(data.Init) > 0 {
		ctx = ctx.Write(api.InitNodeID, data.Init)
	}

	return &api.FlowState{
		ID:          data.FlowID,
		TicketID:    data.TicketID,
		Status:      api.FlowRunning,
		Plan:        data.Plan,
		Nodes:       nodes,
		Context:     ctx,
		CreatedAt:   ev.Timestamp,
		LastUpdated: ev.Timestamp,
	}
}

func flowSucceeded(
	st *api.FlowState, ev *timebox.Event, _ api.FlowSucceededEvent,
) *api.FlowState {
	return st.
		SetStatus(api.FlowSucceeded).
		SetCompletedAt(ev.Timestamp).
		SetLastUpdated(ev.Timestamp)
}

func flowFailed(
	st *api.FlowState, ev *timebox.Event, data api.FlowFailedEvent,
) *api.FlowState {
	return st.
		SetStatus(api.FlowFailed).
		SetError(data.Error).
		SetCompletedAt(ev.Timestamp).
		SetLastUpdated(ev.Timestamp)
}

func flowSuspended(
	st *api.FlowState, ev *timebox.Event, data api.FlowSuspendedEvent,
) *api.FlowState {
	gate := st.Nodes[data.Gate]
	if gate != nil && gate.Status == api.NodePending {
		st = st.SetNode(data.Gate, gate.
			SetStatus(api.NodeRunning).
			SetStartedAt(ev.Timestamp))
	}
	return st.
		SetStatus(api.FlowSuspended).
		SetLastUpdated(ev.Timestamp)
}

func flowResumed(
	st *api.FlowState, ev *timebox.Event, data api.FlowResumedEvent,
) *api.FlowState {
	gate := st.Nodes[data.Gate]
	if gate != nil {
		st = st.SetNode(data.Gate, gate.
			SetStatus(api.NodeSuccess).
			SetCompletedAt(ev.Timestamp))
	}
	return st.
		SetStatus(api.FlowRunning).
		SetLastUpdated(ev.Timestamp)
}

// flowRevoked marks the flow and every non-terminal node revoked in one
// transition. Nodes already SUCCESS keep their state
func flowRevoked(
	st *api.FlowState, ev *timebox.Event, _ api.FlowRevokedEvent,
) *api.FlowState {
	for id, node := range st.Nodes {
		if node.Status.Terminal() {
			continue
		}
		st = st.SetNode(id, node.
			SetStatus(api.NodeRevoked).
			SetCompletedAt(ev.Timestamp))
	}
	return st.
		SetStatus(api.FlowRevoked).
		SetCompletedAt(ev.Timestamp).
		SetLastUpdated(ev.Timestamp)
}

func nodeStarted(
	st *api.FlowState, ev *timebox.Event, data api.NodeStartedEvent,
) *api.FlowState {
	node := st.Nodes[data.NodeID]
	if node == nil {
		return st
	}
	return st.
		SetNode(data.NodeID, node.
			SetStatus(api.NodeRunning).
			SetInputs(data.Inputs).
			SetStartedAt(ev.Timestamp)).
		SetLastUpdated(ev.Timestamp)
}

func nodeSucceeded(
	st *api.FlowState, ev *timebox.Event, data api.NodeSucceededEvent,
) *api.FlowState {
	node := st.Nodes[data.NodeID]
	if node == nil {
		return st
	}
	st = st.SetNode(data.NodeID, node.
		SetStatus(api.NodeSuccess).
		SetOutputs(data.Outputs).
		ClearError().
		SetCompletedAt(ev.Timestamp))
	if len(data.Outputs) > 0 {
		st = st.SetContext(st.Context.Write(data.NodeID, data.Outputs))
	}
	return st.SetLastUpdated(ev.Timestamp)
}

func nodeFailed(
	st *api.FlowState, ev *timebox.Event, data api.NodeFailedEvent,
) *api.FlowState {
	node := st.Nodes[data.NodeID]
	if node == nil {
		return st
	}
	return st.
		SetNode(data.NodeID, node.
			SetStatus(api.NodeFailed).
			SetError(data.Error, data.Class).
			SetCompletedAt(ev.Timestamp)).
		SetLastUpdated(ev.Timestamp)
}

// nodeRetried returns a failed node to pending with its original recorded
// inputs intact. Every failed join enclosing the member is also reset,
// innermost outward, so each group can re-evaluate once the member settles
func nodeRetried(
	st *api.FlowState, ev *timebox.Event, data api.NodeRetriedEvent,
) *api.FlowState {
	node := st.Nodes[data.NodeID]
	if node == nil || node.Status != api.NodeFailed {
		return st
	}
	st = st.SetNode(data.NodeID, node.
		SetStatus(api.NodePending).
		ClearError().
		IncRetryCount())

	for id := data.NodeID; ; {
		planNode := st.Plan.GetNode(id)
		if planNode == nil || planNode.Group == "" {
			break
		}
		if join := st.Nodes[planNode.Group]; join != nil &&
			join.Status == api.NodeFailed {
			st = st.SetNode(planNode.Group, join.
				SetStatus(api.NodePending).
				ClearError())
		}
		id = planNode.Group
	}

	if st.Status == api.FlowFailed {
		st = st.SetStatus(api.FlowRunning).SetError("")
	}
	return st.SetLastUpdated(ev.Timestamp)
}

func nodeJobBound(
	st *api.FlowState, ev *timebox.Event, data api.NodeJobBoundEvent,
) *api.FlowState {
	node := st.Nodes[data.NodeID]
	if node == nil {
		return st
	}
	return st.
		SetNode(data.NodeID, node.SetJobID(data.JobID)).
		SetLastUpdated(ev.Timestamp)
}
