package helpers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kode4food/caravan/topic"
	"github.com/kode4food/timebox"
	"github.com/stretchr/testify/assert"

	"github.com/coastline-io/flotilla/pkg/api"
)

type (
	// EventWaiter waits for events matching a filter. Create before
	// triggering the action so the matching event cannot be missed
	EventWaiter[T any] struct {
		consumer *timebox.Consumer
		filter   func(*timebox.Event) bool
		getState func(context.Context) (T, error)
		desc     string // for error messages
	}

	// envelope is the shared identity prefix of every flow and node event
	// payload
	envelope struct {
		FlowID api.FlowID `json:"flow_id"`
		NodeID api.NodeID `json:"node_id"`
	}
)

// Wait blocks until a matching event and returns the state
func (w *EventWaiter[T]) Wait(
	t *testing.T, ctx context.Context, timeout time.Duration,
) T {
	t.Helper()
	defer w.consumer.Close()

	deadline := time.After(timeout)
	for {
		select {
		case event := <-w.consumer.Receive():
			if event != nil && w.filter(event) {
				state, err := w.getState(ctx)
				assert.NoError(t, err)
				return state
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s", w.desc)
		case <-ctx.Done():
			t.FailNow()
		}
	}
}

// SubscribeToFlowStatus creates a waiter for flow terminal status events
func (env *TestEngineEnv) SubscribeToFlowStatus(
	flowID api.FlowID,
) *EventWaiter[*api.FlowState] {
	return &EventWaiter[*api.FlowState]{
		consumer: env.EventHub.NewConsumer(),
		filter: filterFlowEvents(flowID,
			api.EventTypeFlowSucceeded, api.EventTypeFlowFailed,
			api.EventTypeFlowRevoked,
		),
		getState: func(ctx context.Context) (*api.FlowState, error) {
			return env.Engine.GetFlowState(ctx, flowID)
		},
		desc: string(flowID),
	}
}

// SubscribeToFlowSuspended creates a waiter for gate suspension
func (env *TestEngineEnv) SubscribeToFlowSuspended(
	flowID api.FlowID,
) *EventWaiter[*api.FlowState] {
	return &EventWaiter[*api.FlowState]{
		consumer: env.EventHub.NewConsumer(),
		filter:   filterFlowEvents(flowID, api.EventTypeFlowSuspended),
		getState: func(ctx context.Context) (*api.FlowState, error) {
			return env.Engine.GetFlowState(ctx, flowID)
		},
		desc: string(flowID) + " suspension",
	}
}

// SubscribeToNodeStatus creates a waiter for node settlement events
func (env *TestEngineEnv) SubscribeToNodeStatus(
	flowID api.FlowID, nodeID api.NodeID,
) *EventWaiter[*api.NodeState] {
	return &EventWaiter[*api.NodeState]{
		consumer: env.EventHub.NewConsumer(),
		filter: filterNodeEvents(flowID, nodeID,
			api.EventTypeNodeSucceeded, api.EventTypeNodeFailed,
		),
		getState: func(ctx context.Context) (*api.NodeState, error) {
			flow, err := env.Engine.GetFlowState(ctx, flowID)
			if err != nil {
				return nil, err
			}
			return flow.Nodes[nodeID], nil
		},
		desc: string(flowID) + "/" + string(nodeID),
	}
}

// Convenience methods that subscribe and wait in one call

func (env *TestEngineEnv) WaitForFlowStatus(
	t *testing.T, ctx context.Context, flowID api.FlowID,
	timeout time.Duration,
) *api.FlowState {
	t.Helper()
	return env.SubscribeToFlowStatus(flowID).Wait(t, ctx, timeout)
}

func (env *TestEngineEnv) WaitForFlowSuspended(
	t *testing.T, ctx context.Context, flowID api.FlowID,
	timeout time.Duration,
) *api.FlowState {
	t.Helper()
	return env.SubscribeToFlowSuspended(flowID).Wait(t, ctx, timeout)
}

func (env *TestEngineEnv) WaitForNodeStatus(
	t *testing.T, ctx context.Context, flowID api.FlowID, nodeID api.NodeID,
	timeout time.Duration,
) *api.NodeState {
	t.Helper()
	return env.SubscribeToNodeStatus(flowID, nodeID).Wait(t, ctx, timeout)
}

// Filter helpers

func filterFlowEvents(
	flowID api.FlowID, eventTypes ...api.EventType,
) func(*timebox.Event) bool {
	return func(ev *timebox.Event) bool {
		if !matchesType(ev, eventTypes) {
			return false
		}
		var e envelope
		if json.Unmarshal(ev.Data, &e) != nil {
			return false
		}
		return e.FlowID == flowID
	}
}

func filterNodeEvents(
	flowID api.FlowID, nodeID api.NodeID, eventTypes ...api.EventType,
) func(*timebox.Event) bool {
	return func(ev *timebox.Event) bool {
		if !matchesType(ev, eventTypes) {
			return false
		}
		var e envelope
		if json.Unmarshal(ev.Data, &e) != nil {
			return false
		}
		return e.FlowID == flowID && e.NodeID == nodeID
	}
}

func matchesType(ev *timebox.Event, eventTypes []api.EventType) bool {
	for _, et := range eventTypes {
		if ev.Type == timebox.EventType(et) {
			return true
		}
	}
	return false
}
