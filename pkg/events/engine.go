package events

import (
	"github.com/kode4food/timebox"

	"github.com/coastline-io/flotilla/pkg/api"
)

const EnginePrefix = "engine"

var (
	// EngineKey is the aggregate ID of the singleton engine state
	EngineKey = timebox.NewAggregateID(EnginePrefix)

	// EngineAppliers contains the event applier functions for the engine's
	// recovery roster and ticket registry
	EngineAppliers = makeEngineAppliers()
)

// NewEngineState creates an empty engine state with initialized maps
func NewEngineState() *api.EngineState {
	return &api.EngineState{
		ActiveFlows: map[api.FlowID]*api.ActiveFlowInfo{},
		Tickets:     map[api.TicketID]*api.Ticket{},
	}
}

func makeEngineAppliers() timebox.Appliers[*api.EngineState] {
	return MakeAppliers(map[api.EventType]timebox.Applier[*api.EngineState]{
		api.EventTypeFlowActivated:   timebox.MakeApplier(flowActivated),
		api.EventTypeFlowDeactivated: timebox.MakeApplier(flowDeactivated),
		api.EventTypeTicketCreated:   timebox.MakeApplier(ticketCreated),
		api.EventTypeTicketFlowBound: timebox.MakeApplier(ticketFlowBound),
	})
}

func flowActivated(
	st *api.EngineState, ev *timebox.Event, data api.FlowActivatedEvent,
) *api.EngineState {
	return st.
		SetActiveFlow(&api.ActiveFlowInfo{
			FlowID:     data.FlowID,
			TicketID:   data.TicketID,
			StartedAt:  ev.Timestamp,
			LastActive: ev.Timestamp,
		}).
		SetLastUpdated(ev.Timestamp)
}

func flowDeactivated(
	st *api.EngineState, ev *timebox.Event, data api.FlowDeactivatedEvent,
) *api.EngineState {
	return st.
		RemoveActiveFlow(data.FlowID).
		SetLastUpdated(ev.Timestamp)
}

func ticketCreated(
	st *api.EngineState, ev *timebox.Event, data api.TicketCreatedEvent,
) *api.EngineState {
	return st.
		SetTicket(data.Ticket).
		SetLastUpdated(ev.Timestamp)
}

func ticketFlowBound(
	st *api.EngineState, ev *timebox.Event, data api.TicketFlowBoundEvent,
) *api.EngineState {
	t := st.GetTicket(data.TicketID)
	if t == nil {
		return st
	}
	next := *t
	next.Flows = append(append([]api.FlowID{}, t.Flows...), data.FlowID)
	return st.
		SetTicket(&next).
		SetLastUpdated(ev.Timestamp)
}
