package engine

import (
	"context"
	"log/slog"

	"github.com/kode4food/timebox"

	"github.com/coastline-io/flotilla/pkg/api"
	"github.com/coastline-io/flotilla/pkg/events"
	"github.com/coastline-io/flotilla/pkg/log"
)

// RecoverFlows resumes every flow on the active roster after a restart.
// Flows found terminal are retired; the rest are handed to their actors,
// which re-attach running remote jobs by tag and re-launch whatever the
// frontier allows
func (e *Engine) RecoverFlows(ctx context.Context) error {
	st, err := e.GetEngineState(ctx)
	if err != nil {
		return err
	}

	if len(st.ActiveFlows) == 0 {
		slog.Info("No flows to recover")
		return nil
	}

	slog.Info("Recovering flows",
		slog.Int("count", len(st.ActiveFlows)))

	for flowID := range st.ActiveFlows {
		if err := e.recoverFlow(ctx, flowID); err != nil {
			slog.Error("Failed to recover flow",
				log.FlowID(flowID), log.Error(err))
		}
	}
	return nil
}

func (e *Engine) recoverFlow(ctx context.Context, flowID api.FlowID) error {
	flow, err := e.GetFlowState(ctx, flowID)
	if err != nil {
		return err
	}
	if flow.ID == "" {
		return e.raiseEngineEvent(api.EventTypeFlowDeactivated,
			api.FlowDeactivatedEvent{FlowID: flowID})
	}
	if flow.Status == api.FlowSucceeded || flow.Status == api.FlowRevoked {
		return e.retireFlow(flowID)
	}
	if flow.Status == api.FlowSuspended || flow.Status == api.FlowFailed {
		// Parked awaiting an operator; nothing to relaunch
		return nil
	}

	e.nudgeFlow(flowID)
	return nil
}

// nudgeFlow wakes a flow's actor without a new committed event. The
// synthetic resume carries no payload; the actor re-reads state and acts
// on what it finds
func (e *Engine) nudgeFlow(flowID api.FlowID) {
	e.actorFor(flowID).events <- &timebox.Event{
		AggregateID: events.FlowKey(flowID),
		Type:        timebox.EventType(api.EventTypeFlowResumed),
	}
}
