package api

import "time"

type (
	// EventType identifies an event in one of the engine's aggregates
	EventType string

	// FlowStartedEvent is emitted when a flow execution begins
	FlowStartedEvent struct {
		Plan     *Plan    `json:"plan"`
		Init     Args     `json:"init,omitempty"`
		FlowID   FlowID   `json:"flow_id"`
		TicketID TicketID `json:"ticket_id,omitempty"`
	}

	// FlowSucceededEvent is emitted when all reachable nodes succeed
	FlowSucceededEvent struct {
		FlowID FlowID `json:"flow_id"`
	}

	// FlowFailedEvent is emitted when a critical node fails with no retry
	// pending
	FlowFailedEvent struct {
		FlowID FlowID `json:"flow_id"`
		NodeID NodeID `json:"node_id,omitempty"`
		Error  string `json:"error"`
	}

	// FlowSuspendedEvent is emitted when a pause gate blocks the flow
	FlowSuspendedEvent struct {
		FlowID FlowID `json:"flow_id"`
		Gate   NodeID `json:"gate"`
	}

	// FlowResumedEvent is emitted when an external resume releases a gate
	FlowResumedEvent struct {
		FlowID FlowID `json:"flow_id"`
		Gate   NodeID `json:"gate"`
	}

	// FlowRevokedEvent is emitted when a flow is cancelled
	FlowRevokedEvent struct {
		FlowID FlowID `json:"flow_id"`
		Reason string `json:"reason,omitempty"`
	}

	// NodeStartedEvent is emitted when a node begins execution with its
	// resolved inputs
	NodeStartedEvent struct {
		Inputs Args   `json:"inputs,omitempty"`
		FlowID FlowID `json:"flow_id"`
		NodeID NodeID `json:"node_id"`
	}

	// NodeSucceededEvent is emitted when a node completes successfully.
	// Outputs are recorded in the flow context in the same transition
	NodeSucceededEvent struct {
		Outputs Args   `json:"outputs,omitempty"`
		FlowID  FlowID `json:"flow_id"`
		NodeID  NodeID `json:"node_id"`
		JobID   string `json:"job_id,omitempty"`
	}

	// NodeFailedEvent is emitted when a node fails, carrying the error
	// classification operators use to decide between retry and cancel
	NodeFailedEvent struct {
		FlowID FlowID     `json:"flow_id"`
		NodeID NodeID     `json:"node_id"`
		Error  string     `json:"error"`
		Class  ErrorClass `json:"class"`
		JobID  string     `json:"job_id,omitempty"`
	}

	// NodeRetriedEvent returns a failed node to pending with its original
	// recorded inputs
	NodeRetriedEvent struct {
		FlowID FlowID `json:"flow_id"`
		NodeID NodeID `json:"node_id"`
	}

	// NodeJobBoundEvent records the remote job dispatched for a node so a
	// recovered engine can re-attach instead of re-submitting
	NodeJobBoundEvent struct {
		FlowID FlowID `json:"flow_id"`
		NodeID NodeID `json:"node_id"`
		JobID  string `json:"job_id"`
	}

	// TopologyMutatedEvent is the single topology event shape: the
	// operation payload plus the originating flow node for idempotence
	// and audit
	TopologyMutatedEvent struct {
		Op     MutationOp `json:"op"`
		Origin NodeKey    `json:"origin,omitempty"`
		Actor  string     `json:"actor,omitempty"`
	}

	// FlowActivatedEvent adds a flow to the engine recovery roster
	FlowActivatedEvent struct {
		FlowID   FlowID   `json:"flow_id"`
		TicketID TicketID `json:"ticket_id,omitempty"`
	}

	// FlowDeactivatedEvent removes a flow from the recovery roster
	FlowDeactivatedEvent struct {
		FlowID FlowID `json:"flow_id"`
	}

	// TicketCreatedEvent registers a change request ticket
	TicketCreatedEvent struct {
		Ticket *Ticket `json:"ticket"`
	}

	// TicketFlowBoundEvent binds a flow to its owning ticket
	TicketFlowBoundEvent struct {
		TicketID TicketID `json:"ticket_id"`
		FlowID   FlowID   `json:"flow_id"`
	}

	// WatermarkAdvancedEvent moves the watcher's feed cursor forward
	WatermarkAdvancedEvent struct {
		Watermark int64 `json:"watermark"`
	}

	// HostSuspectedEvent starts or refreshes the wait record for an
	// unhealthy host
	HostSuspectedEvent struct {
		Wait *HostWait `json:"wait"`
	}

	// HostResolvedEvent discards the wait record for a recovered or
	// remediated host
	HostResolvedEvent struct {
		Host Host `json:"host"`
	}

	// RemediationSubmittedEvent records that a remediation ticket was
	// originated for a cluster, opening its cool-down window
	RemediationSubmittedEvent struct {
		ClusterID ClusterID `json:"cluster_id"`
		Hosts     []Host    `json:"hosts"`
		At        time.Time `json:"at"`
	}
)

const (
	EventTypeFlowStarted   EventType = "flow_started"
	EventTypeFlowSucceeded EventType = "flow_succeeded"
	EventTypeFlowFailed    EventType = "flow_failed"
	EventTypeFlowSuspended EventType = "flow_suspended"
	EventTypeFlowResumed   EventType = "flow_resumed"
	EventTypeFlowRevoked   EventType = "flow_revoked"

	EventTypeNodeStarted   EventType = "node_started"
	EventTypeNodeSucceeded EventType = "node_succeeded"
	EventTypeNodeFailed    EventType = "node_failed"
	EventTypeNodeRetried   EventType = "node_retried"
	EventTypeNodeJobBound  EventType = "node_job_bound"

	EventTypeTopologyMutated EventType = "topology_mutated"

	EventTypeFlowActivated   EventType = "flow_activated"
	EventTypeFlowDeactivated EventType = "flow_deactivated"
	EventTypeTicketCreated   EventType = "ticket_created"
	EventTypeTicketFlowBound EventType = "ticket_flow_bound"

	EventTypeWatermarkAdvanced    EventType = "watermark_advanced"
	EventTypeHostSuspected        EventType = "host_suspected"
	EventTypeHostResolved         EventType = "host_resolved"
	EventTypeRemediationSubmitted EventType = "remediation_submitted"
)
