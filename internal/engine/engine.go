// Package engine implements the flow orchestration core: an event-sourced
// scheduler that walks flow graphs, dispatches remote scripts and topology
// mutations, and reacts to its own committed events through the hub
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kode4food/caravan/topic"
	"github.com/kode4food/timebox"

	"github.com/coastline-io/flotilla/internal/config"
	"github.com/coastline-io/flotilla/internal/exec"
	"github.com/coastline-io/flotilla/internal/topology"
	"github.com/coastline-io/flotilla/pkg/api"
	"github.com/coastline-io/flotilla/pkg/events"
	"github.com/coastline-io/flotilla/pkg/log"
)

type (
	// Engine is the core flow execution engine
	Engine struct {
		runner     exec.Runner
		topo       *topology.Store
		archive    Archiver
		ctx        context.Context
		consumer   EventConsumer
		engineExec *Executor
		flowExec   *FlowExecutor
		config     *config.Config
		cancel     context.CancelFunc
		wg         sync.WaitGroup
		flows      sync.Map // map[api.FlowID]*flowActor
		inflight   sync.Map // map[api.NodeKey]struct{}
		handler    timebox.Handler
	}

	// Archiver persists terminal flow states outside the hot store
	Archiver interface {
		ArchiveFlow(context.Context, *api.FlowState) error
	}

	// EventConsumer consumes events from the event hub
	EventConsumer = *timebox.Consumer

	// Executor manages engine state persistence and event sourcing
	Executor = timebox.Executor[*api.EngineState]

	// Aggregator aggregates engine state from events
	Aggregator = timebox.Aggregator[*api.EngineState]

	// FlowExecutor manages flow state persistence and event sourcing
	FlowExecutor = timebox.Executor[*api.FlowState]

	// FlowAggregator aggregates flow state from events
	FlowAggregator = timebox.Aggregator[*api.FlowState]
)

var (
	ErrShutdownTimeout   = errors.New("shutdown timeout exceeded")
	ErrFlowNotFound      = errors.New("flow not found")
	ErrFlowExists        = errors.New("flow exists")
	ErrNodeNotFound      = errors.New("node not found")
	ErrNodeNotFailed     = errors.New("node is not in a failed state")
	ErrFlowNotSuspended  = errors.New("flow is not suspended")
	ErrGateNotWaiting    = errors.New("gate is not waiting")
	ErrFlowTerminal      = errors.New("flow already terminal")
	ErrTicketNotFound    = errors.New("ticket not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// New creates an orchestrator instance with the specified stores, topology
// store, job runner, event hub, and configuration
func New(
	engine, flow *timebox.Store, topo *topology.Store, runner exec.Runner,
	hub *timebox.EventHub, cfg *config.Config,
) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		engineExec: timebox.NewExecutor(
			engine, events.NewEngineState, events.EngineAppliers,
		),
		flowExec: timebox.NewExecutor(
			flow, events.NewFlowState, events.FlowAppliers,
		),
		topo:     topo,
		runner:   runner,
		config:   cfg,
		ctx:      ctx,
		cancel:   cancel,
		consumer: hub.NewConsumer(),
	}
	e.handler = e.createEventHandler()
	return e
}

// SetArchiver installs the sink terminal flows are written to when they
// leave the active roster
func (e *Engine) SetArchiver(ar Archiver) {
	e.archive = ar
}

func (e *Engine) createEventHandler() timebox.Handler {
	return events.MakeDispatcher(map[api.EventType]timebox.Handler{
		api.EventTypeFlowStarted: timebox.MakeHandler(e.handleFlowStarted),
		api.EventTypeFlowSucceeded: timebox.MakeHandler(
			e.handleFlowSucceeded,
		),
		api.EventTypeFlowFailed:  timebox.MakeHandler(e.handleFlowFailed),
		api.EventTypeFlowRevoked: timebox.MakeHandler(e.handleFlowRevoked),
	})
}

// Start begins processing flows and events
func (e *Engine) Start() {
	slog.Info("Engine starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.RecoverFlows(ctx); err != nil {
		slog.Error("Failed to recover flows", log.Error(err))
	}

	go e.eventLoop()
}

// Stop gracefully shuts down the engine
func (e *Engine) Stop() error {
	e.cancel()
	defer e.consumer.Close()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.saveEngineSnapshot()
		slog.Info("Engine stopped")
		return nil
	case <-time.After(e.config.ShutdownTimeout):
		return ErrShutdownTimeout
	}
}

// GetEngineState retrieves the current engine state including the active
// flow roster and ticket registry
func (e *Engine) GetEngineState(
	ctx context.Context,
) (*api.EngineState, error) {
	return e.engineExec.Exec(ctx, events.EngineKey,
		func(_ *api.EngineState, _ *Aggregator) error {
			return nil
		},
	)
}

// Topology exposes the topology store for read access
func (e *Engine) Topology() *topology.Store {
	return e.topo
}

func (e *Engine) eventLoop() {
	for {
		select {
		case <-e.ctx.Done():
			return

		case event, ok := <-e.consumer.Receive():
			if !ok {
				return
			}
			e.routeEvent(event)
		}
	}
}

func (e *Engine) routeEvent(event *timebox.Event) {
	if err := e.handler(event); err != nil {
		slog.Error("Failed to handle flow lifecycle event",
			slog.String("event_type", string(event.Type)),
			log.Error(err))
	}

	if !events.IsFlowEvent(event) {
		return
	}
	e.actorFor(api.FlowID(event.AggregateID[1])).events <- event
}

func (e *Engine) actorFor(flowID api.FlowID) *flowActor {
	actor, loaded := e.flows.Load(flowID)
	if !loaded {
		fa := &flowActor{
			Engine: e,
			flowID: flowID,
			events: make(chan *timebox.Event, 100),
		}
		actor, loaded = e.flows.LoadOrStore(flowID, fa)
		if !loaded {
			e.wg.Add(1)
			activeActors.Inc()
			go fa.run()
		}
	}
	return actor.(*flowActor)
}

func (e *Engine) saveEngineSnapshot() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.engineExec.SaveSnapshot(ctx, events.EngineKey); err != nil {
		slog.Error("Failed to save engine snapshot", log.Error(err))
		return
	}
	slog.Info("Engine snapshot saved")
}

func (e *Engine) handleFlowStarted(
	_ *timebox.Event, data api.FlowStartedEvent,
) error {
	flowsStarted.Inc()
	if err := e.raiseEngineEvent(api.EventTypeFlowActivated,
		api.FlowActivatedEvent{
			FlowID:   data.FlowID,
			TicketID: data.TicketID,
		},
	); err != nil {
		return err
	}
	if data.TicketID == "" {
		return nil
	}
	return e.raiseEngineEvent(api.EventTypeTicketFlowBound,
		api.TicketFlowBoundEvent{
			TicketID: data.TicketID,
			FlowID:   data.FlowID,
		})
}

func (e *Engine) handleFlowSucceeded(
	_ *timebox.Event, data api.FlowSucceededEvent,
) error {
	flowsCompleted.WithLabelValues(string(api.FlowSucceeded)).Inc()
	return e.retireFlow(data.FlowID)
}

// handleFlowFailed keeps the failed flow on the active roster. A failed
// flow awaits an operator decision: retry returns it to running, cancel
// retires it
func (e *Engine) handleFlowFailed(
	_ *timebox.Event, data api.FlowFailedEvent,
) error {
	flowsCompleted.WithLabelValues(string(api.FlowFailed)).Inc()
	return nil
}

func (e *Engine) handleFlowRevoked(
	_ *timebox.Event, data api.FlowRevokedEvent,
) error {
	flowsCompleted.WithLabelValues(string(api.FlowRevoked)).Inc()
	return e.retireFlow(data.FlowID)
}

// retireFlow archives the terminal flow and removes it from the roster
func (e *Engine) retireFlow(flowID api.FlowID) error {
	if e.archive != nil {
		flow, err := e.GetFlowState(e.ctx, flowID)
		if err != nil {
			slog.Error("Failed to load flow for archival",
				log.FlowID(flowID), log.Error(err))
		} else if err := e.archive.ArchiveFlow(e.ctx, flow); err != nil {
			slog.Error("Failed to archive flow",
				log.FlowID(flowID), log.Error(err))
		}
	}
	return e.raiseEngineEvent(api.EventTypeFlowDeactivated,
		api.FlowDeactivatedEvent{FlowID: flowID})
}

func (e *Engine) raiseEngineEvent(typ api.EventType, data any) error {
	_, err := e.engineExec.Exec(e.ctx, events.EngineKey,
		func(_ *api.EngineState, ag *Aggregator) error {
			return events.Raise(ag, typ, data)
		},
	)
	return err
}
