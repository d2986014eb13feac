package api

type (
	// ErrorResponse is the standard error payload for API responses
	ErrorResponse struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}

	// StartFlowRequest creates and starts a flow execution
	StartFlowRequest struct {
		ID       FlowID   `json:"id"`
		TicketID TicketID `json:"ticket_id,omitempty"`
		Plan     *Plan    `json:"plan"`
		Init     Args     `json:"init,omitempty"`
	}

	// FlowStartedResponse acknowledges a started flow
	FlowStartedResponse struct {
		FlowID FlowID `json:"flow_id"`
	}

	// FlowsListResponse lists flow digests
	FlowsListResponse struct {
		Flows []*FlowDigest `json:"flows"`
		Count int           `json:"count"`
	}

	// CancelFlowRequest cancels a flow, optionally with a reason
	CancelFlowRequest struct {
		Reason string `json:"reason,omitempty"`
	}

	// HealthResponse reports service liveness
	HealthResponse struct {
		Service string `json:"service"`
		Version string `json:"version"`
		Status  string `json:"status"`
	}

	// CreateTicketRequest registers a change request
	CreateTicketRequest struct {
		Type   string `json:"type"`
		Params Args   `json:"params,omitempty"`
	}

	// TicketCreatedResponse acknowledges a created ticket
	TicketCreatedResponse struct {
		TicketID TicketID `json:"ticket_id"`
	}

	// TicketsListResponse lists registered tickets
	TicketsListResponse struct {
		Tickets []*Ticket `json:"tickets"`
		Count   int       `json:"count"`
	}
)
