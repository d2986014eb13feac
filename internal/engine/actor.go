package engine

import (
	"log/slog"
	"time"

	"github.com/kode4food/timebox"

	"github.com/coastline-io/flotilla/pkg/api"
	"github.com/coastline-io/flotilla/pkg/events"
	"github.com/coastline-io/flotilla/pkg/log"
)

// flowActor serializes event handling for one flow. Each committed flow
// event is routed here, and the actor exits after a short idle window so
// quiet flows carry no goroutine cost
type flowActor struct {
	*Engine
	flowID       api.FlowID
	events       chan *timebox.Event
	eventHandler timebox.Handler
}

func (a *flowActor) run() {
	defer a.wg.Done()
	defer activeActors.Dec()
	defer a.flows.Delete(a.flowID)

	a.eventHandler = a.createEventHandler()
	idleTimer := time.NewTimer(100 * time.Millisecond)
	defer idleTimer.Stop()

	for {
		select {
		case event := <-a.events:
			a.handleEvent(event)
			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(100 * time.Millisecond)

		case <-idleTimer.C:
			select {
			case event := <-a.events:
				a.handleEvent(event)
				idleTimer.Reset(100 * time.Millisecond)
			default:
				return
			}

		case <-a.ctx.Done():
			return
		}
	}
}

func (a *flowActor) createEventHandler() timebox.Handler {
	return events.MakeDispatcher(map[api.EventType]timebox.Handler{
		api.EventTypeFlowStarted:   a.handleProcessFlow,
		api.EventTypeFlowResumed:   a.handleProcessFlow,
		api.EventTypeNodeSucceeded: a.handleProcessFlow,
		api.EventTypeNodeFailed:    a.handleProcessFlow,
		api.EventTypeNodeRetried:   a.handleProcessFlow,
	})
}

func (a *flowActor) handleEvent(event *timebox.Event) {
	if err := a.eventHandler(event); err != nil {
		slog.Error("Failed to handle flow event",
			log.FlowID(a.flowID),
			slog.String("event_type", string(event.Type)),
			log.Error(err))
	}
}

func (a *flowActor) handleProcessFlow(_ *timebox.Event) error {
	a.processFlow()
	return nil
}

// processFlow advances the flow frontier: launch every node whose
// dependencies are satisfied, or settle the terminal status when nothing
// remains to launch
func (a *flowActor) processFlow() {
	flow, err := a.GetFlowState(a.ctx, a.flowID)
	if err != nil || flow.ID == "" {
		return
	}
	if flow.Status == api.FlowSuspended || flow.Status.Terminal() {
		return
	}

	ready := findReadyNodes(flow)
	if len(ready) == 0 {
		if !a.reattachRunning(flow) {
			a.checkTerminal()
		}
		return
	}
	a.launchReadyNodes(ready)
}

func (a *flowActor) launchReadyNodes(ready []api.NodeID) {
	for _, nodeID := range ready {
		a.wg.Add(1)
		go func(nodeID api.NodeID) {
			defer a.wg.Done()
			a.executeNode(nodeID)
		}(nodeID)
	}
}

// reattachRunning resumes supervision of nodes that were mid-execution
// when a previous engine instance stopped. Returns true when any node is
// still in flight
func (a *flowActor) reattachRunning(flow *api.FlowState) bool {
	busy := false
	for _, nodeID := range flow.Plan.Order {
		st := flow.GetNodeState(nodeID)
		if st == nil || st.Status != api.NodeRunning {
			continue
		}
		node := flow.Plan.GetNode(nodeID)
		if node == nil || node.Kind != api.NodeActivity {
			continue
		}
		busy = true
		key := api.FlowNode{FlowID: a.flowID, NodeID: nodeID}.Key()
		if _, held := a.inflight.Load(key); held {
			continue
		}
		a.wg.Add(1)
		go func(nodeID api.NodeID) {
			defer a.wg.Done()
			a.executeNode(nodeID)
		}(nodeID)
	}
	return busy
}
