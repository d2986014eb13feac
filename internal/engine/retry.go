package engine

import (
	"fmt"
	"log/slog"

	"github.com/coastline-io/flotilla/pkg/api"
	"github.com/coastline-io/flotilla/pkg/events"
	"github.com/coastline-io/flotilla/pkg/log"
)

// RetryNode returns a failed node to pending so the scheduler re-runs it
// with its originally recorded inputs. A failed flow returns to running in
// the same transition
func (e *Engine) RetryNode(flowID api.FlowID, nodeID api.NodeID) error {
	err := e.flowTx(flowID, func(tx *flowTx) error {
		flow := tx.Value()
		if flow.ID == "" {
			return ErrFlowNotFound
		}
		st := flow.GetNodeState(nodeID)
		if st == nil {
			return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
		}
		if !nodeTransitions.CanTransition(st.Status, api.NodePending) {
			return fmt.Errorf("%w: %s is %s",
				ErrNodeNotFailed, nodeID, st.Status)
		}
		if !flowTransitions.CanTransition(flow.Status, api.FlowRunning) &&
			flow.Status != api.FlowRunning {
			return fmt.Errorf("%w: %s", ErrInvalidTransition, flow.Status)
		}
		return events.Raise(tx.FlowAggregator, api.EventTypeNodeRetried,
			api.NodeRetriedEvent{FlowID: flowID, NodeID: nodeID})
	})
	if err != nil {
		return err
	}

	slog.Info("Node retried",
		log.FlowID(flowID),
		log.NodeID(nodeID))
	return nil
}

// ResumeGate releases a suspended flow's pause gate
func (e *Engine) ResumeGate(flowID api.FlowID, gateID api.NodeID) error {
	err := e.flowTx(flowID, func(tx *flowTx) error {
		flow := tx.Value()
		if flow.ID == "" {
			return ErrFlowNotFound
		}
		if flow.Status != api.FlowSuspended {
			return fmt.Errorf("%w: %s", ErrFlowNotSuspended, flow.Status)
		}
		gate := flow.GetNodeState(gateID)
		node := flow.Plan.GetNode(gateID)
		if gate == nil || node == nil || node.Kind != api.NodeGate {
			return fmt.Errorf("%w: %s", ErrNodeNotFound, gateID)
		}
		if gate.Status != api.NodeRunning {
			return fmt.Errorf("%w: %s is %s",
				ErrGateNotWaiting, gateID, gate.Status)
		}
		return events.Raise(tx.FlowAggregator, api.EventTypeFlowResumed,
			api.FlowResumedEvent{FlowID: flowID, Gate: gateID})
	})
	if err != nil {
		return err
	}

	slog.Info("Flow resumed",
		log.FlowID(flowID),
		log.NodeID(gateID))
	return nil
}
