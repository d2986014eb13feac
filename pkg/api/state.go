package api

import (
	"maps"
	"time"
)

type (
	// EngineState contains the global state of the orchestration engine:
	// the recovery roster of active flows and the ticket registry
	EngineState struct {
		ActiveFlows map[FlowID]*ActiveFlowInfo `json:"active_flows"`
		Tickets     map[TicketID]*Ticket       `json:"tickets"`
		LastUpdated time.Time                  `json:"last_updated"`
	}

	// ActiveFlowInfo tracks basic metadata for flows that have started
	// but not reached a terminal status
	ActiveFlowInfo struct {
		FlowID     FlowID    `json:"flow_id"`
		TicketID   TicketID  `json:"ticket_id,omitempty"`
		StartedAt  time.Time `json:"started_at"`
		LastActive time.Time `json:"last_active"`
	}

	// Ticket is a user- or system-originated change request carrying typed
	// parameters and owning one or more flows
	Ticket struct {
		ID        TicketID  `json:"id"`
		Type      string    `json:"type"`
		Params    Args      `json:"params,omitempty"`
		Flows     []FlowID  `json:"flows,omitempty"`
		CreatedAt time.Time `json:"created_at"`
	}
)

// GetTicket returns the ticket with the given ID, or nil
func (s *EngineState) GetTicket(id TicketID) *Ticket {
	return s.Tickets[id]
}

// SetActiveFlow returns a copy of the engine state with the flow recorded
// as active
func (s *EngineState) SetActiveFlow(info *ActiveFlowInfo) *EngineState {
	res := *s
	res.ActiveFlows = maps.Clone(s.ActiveFlows)
	if res.ActiveFlows == nil {
		res.ActiveFlows = map[FlowID]*ActiveFlowInfo{}
	}
	res.ActiveFlows[info.FlowID] = info
	return &res
}

// RemoveActiveFlow returns a copy of the engine state with the flow
// removed from the active roster
func (s *EngineState) RemoveActiveFlow(id FlowID) *EngineState {
	res := *s
	res.ActiveFlows = maps.Clone(s.ActiveFlows)
	delete(res.ActiveFlows, id)
	return &res
}

// SetTicket returns a copy of the engine state with the ticket replaced
func (s *EngineState) SetTicket(t *Ticket) *EngineState {
	res := *s
	res.Tickets = maps.Clone(s.Tickets)
	if res.Tickets == nil {
		res.Tickets = map[TicketID]*Ticket{}
	}
	res.Tickets[t.ID] = t
	return &res
}

// SetLastUpdated returns a copy of the engine state with the update time
// set
func (s *EngineState) SetLastUpdated(at time.Time) *EngineState {
	res := *s
	res.LastUpdated = at
	return &res
}
