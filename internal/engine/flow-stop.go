package engine

import (
	"log/slog"
	"strings"

	"github.com/coastline-io/flotilla/pkg/api"
	"github.com/coastline-io/flotilla/pkg/events"
	"github.com/coastline-io/flotilla/pkg/log"
)

// CompensationSuffix names the derived flow that unwinds a cancelled one.
// The suffix keeps the compensation flow in the parent's hash slot
const CompensationSuffix = ":comp"

// CancelFlow revokes a flow. Every non-terminal node is marked revoked in
// the same transition; completed nodes keep their state. If the plan
// declares a compensation pipeline, it starts as a derived flow
func (e *Engine) CancelFlow(flowID api.FlowID, reason string) error {
	var comp *api.Plan
	var jobs []string
	err := e.flowTx(flowID, func(tx *flowTx) error {
		flow := tx.Value()
		if flow.ID == "" {
			return ErrFlowNotFound
		}
		if !flowTransitions.CanTransition(flow.Status, api.FlowRevoked) {
			return ErrFlowTerminal
		}
		comp = flow.Plan.Compensation
		for _, st := range flow.Nodes {
			if st.Status == api.NodeRunning && st.JobID != "" {
				jobs = append(jobs, st.JobID)
			}
		}
		return events.Raise(tx.FlowAggregator, api.EventTypeFlowRevoked,
			api.FlowRevokedEvent{FlowID: flowID, Reason: reason})
	})
	if err != nil {
		return err
	}

	// Best-effort abort of in-flight remote jobs; the revocation itself
	// does not depend on the job service answering
	for _, jobID := range jobs {
		if err := e.runner.Abort(e.ctx, jobID); err != nil {
			slog.Warn("Failed to abort job for revoked flow",
				log.FlowID(flowID), log.JobID(jobID), log.Error(err))
		}
	}

	slog.Info("Flow revoked",
		log.FlowID(flowID),
		slog.String("reason", reason))

	if comp == nil || IsCompensation(flowID) {
		return nil
	}
	return e.startCompensation(flowID, comp)
}

// IsCompensation reports whether the flow is a derived compensation flow
func IsCompensation(flowID api.FlowID) bool {
	return strings.HasSuffix(string(flowID), CompensationSuffix)
}

// startCompensation launches the unwind pipeline as its own flow, seeded
// with the parent's initial inputs
func (e *Engine) startCompensation(
	parentID api.FlowID, plan *api.Plan,
) error {
	parent, err := e.GetFlowState(e.ctx, parentID)
	if err != nil {
		return err
	}

	compID := parentID + CompensationSuffix
	init := parent.Context[api.InitNodeID]

	if err := e.StartFlow(
		compID, plan, init, parent.TicketID,
	); err != nil {
		slog.Error("Failed to start compensation flow",
			log.FlowID(compID), log.Error(err))
		return err
	}
	return nil
}

// checkTerminal settles the flow's terminal status once nothing remains
// launchable: success when every node settled acceptably, failure at the
// first untolerated node failure
func (a *flowActor) checkTerminal() {
	err := a.flowTx(a.flowID, func(tx *flowTx) error {
		flow := tx.Value()
		if flow.Status != api.FlowRunning {
			return nil
		}
		if anyRunning(flow) || len(findReadyNodes(flow)) > 0 {
			return nil
		}
		if isFlowComplete(flow) {
			return events.Raise(tx.FlowAggregator,
				api.EventTypeFlowSucceeded,
				api.FlowSucceededEvent{FlowID: a.flowID})
		}
		if nodeID, msg, ok := flowFailure(flow); ok {
			return events.Raise(tx.FlowAggregator,
				api.EventTypeFlowFailed,
				api.FlowFailedEvent{
					FlowID: a.flowID,
					NodeID: nodeID,
					Error:  msg,
				})
		}
		return nil
	})
	if err != nil {
		slog.Error("Failed to settle flow status",
			log.FlowID(a.flowID), log.Error(err))
	}
}
