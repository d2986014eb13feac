package engine

import (
	"context"
	"log/slog"

	"github.com/kode4food/timebox"

	"github.com/coastline-io/flotilla/pkg/api"
	"github.com/coastline-io/flotilla/pkg/events"
	"github.com/coastline-io/flotilla/pkg/log"
)

// flowTx bundles the engine with one flow's aggregator for the duration of
// a command
type flowTx struct {
	*Engine
	*FlowAggregator
	flowID api.FlowID
}

// StartFlow begins a new flow execution with the given plan and initial
// inputs. The initial inputs become readable under the init pseudo-node
func (e *Engine) StartFlow(
	flowID api.FlowID, plan *api.Plan, init api.Args, ticketID api.TicketID,
) error {
	if err := plan.Validate(); err != nil {
		return err
	}
	if ticketID != "" {
		st, err := e.GetEngineState(e.ctx)
		if err != nil {
			return err
		}
		if st.GetTicket(ticketID) == nil {
			return ErrTicketNotFound
		}
	}

	err := e.flowTx(flowID, func(tx *flowTx) error {
		if tx.Value().ID != "" {
			return ErrFlowExists
		}
		return events.Raise(tx.FlowAggregator, api.EventTypeFlowStarted,
			api.FlowStartedEvent{
				FlowID:   flowID,
				TicketID: ticketID,
				Plan:     plan,
				Init:     init,
			})
	})
	if err != nil {
		return err
	}

	slog.Info("Flow started",
		log.FlowID(flowID),
		log.TicketID(ticketID),
		slog.Int("nodes", len(plan.Order)))
	return nil
}

// GetFlowState retrieves the current state of a flow
func (e *Engine) GetFlowState(
	ctx context.Context, flowID api.FlowID,
) (*api.FlowState, error) {
	return e.flowExec.Exec(ctx, events.FlowKey(flowID),
		func(_ *api.FlowState, _ *FlowAggregator) error {
			return nil
		},
	)
}

// ListFlows returns digests for every flow on the active roster, newest
// first by start time. Retired flows live in the archive
func (e *Engine) ListFlows(ctx context.Context) ([]*api.FlowDigest, error) {
	st, err := e.GetEngineState(ctx)
	if err != nil {
		return nil, err
	}

	res := make([]*api.FlowDigest, 0, len(st.ActiveFlows))
	for flowID := range st.ActiveFlows {
		flow, err := e.GetFlowState(ctx, flowID)
		if err != nil {
			slog.Warn("Failed to load rostered flow",
				log.FlowID(flowID), log.Error(err))
			continue
		}
		if flow.ID == "" {
			continue
		}
		res = append(res, flow.Digest())
	}
	return res, nil
}

func (e *Engine) execFlow(
	flowID timebox.AggregateID, cmd timebox.Command[*api.FlowState],
) (*api.FlowState, error) {
	return e.flowExec.Exec(e.ctx, flowID, cmd)
}

func (e *Engine) flowTx(flowID api.FlowID, fn func(*flowTx) error) error {
	_, err := e.execFlow(events.FlowKey(flowID),
		func(_ *api.FlowState, ag *FlowAggregator) error {
			tx := &flowTx{
				Engine:         e,
				FlowAggregator: ag,
				flowID:         flowID,
			}
			return fn(tx)
		},
	)
	return err
}
