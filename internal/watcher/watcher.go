// Package watcher drives unattended remediation: it consumes the health
// signal feed incrementally, confirms suspect hosts across poll cycles,
// and originates one remediation ticket and flow per affected cluster
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kode4food/timebox"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/coastline-io/flotilla/internal/config"
	"github.com/coastline-io/flotilla/internal/engine"
	"github.com/coastline-io/flotilla/internal/topology"
	"github.com/coastline-io/flotilla/pkg/api"
	"github.com/coastline-io/flotilla/pkg/events"
	"github.com/coastline-io/flotilla/pkg/log"
)

type (
	// Watcher is the remediation poll loop. Each cycle folds fresh feed
	// signals into the watch aggregate and submits whatever remediations
	// the fold confirms
	Watcher struct {
		engine *engine.Engine
		topo   *topology.Store
		feed   Feed
		plans  PlanFactory
		exec   *Executor
		config *config.WatchConfig
		ctx    context.Context
		cancel context.CancelFunc
		wg     sync.WaitGroup
	}

	// PlanFactory builds the remediation plan for one cluster's confirmed
	// hosts. Injected at startup so the watcher carries no plan knowledge
	PlanFactory func(
		cluster api.ClusterID, hosts []api.Host,
	) (*api.Plan, api.Args, error)

	// Executor manages watch state persistence and event sourcing
	Executor = timebox.Executor[*api.WatchState]

	// Aggregator aggregates watch state from events
	Aggregator = timebox.Aggregator[*api.WatchState]
)

// RemediationTicketType tags tickets this watcher originates
const RemediationTicketType = "remediation"

var (
	watchCycles = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flotilla",
		Name:      "watch_cycles_total",
		Help:      "Completed watcher poll cycles",
	})

	hostsWaiting = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "flotilla",
		Name:      "watch_hosts_waiting",
		Help:      "Hosts currently suspected or confirmed unhealthy",
	})

	remediationsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flotilla",
		Name:      "remediations_submitted_total",
		Help:      "Remediation tickets originated by the watcher",
	})
)

// New creates a watcher over the given watch store, engine, and feed
func New(
	store *timebox.Store, eng *engine.Engine, topo *topology.Store,
	feed Feed, plans PlanFactory, cfg *config.WatchConfig,
) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		engine: eng,
		topo:   topo,
		feed:   feed,
		plans:  plans,
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
		exec: timebox.NewExecutor(
			store, events.NewWatchState, events.WatchAppliers,
		),
	}
}

// Start begins the poll loop
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.run()
}

// Stop terminates the poll loop and waits for the current cycle
func (w *Watcher) Stop() {
	w.cancel()
	w.wg.Wait()
}

func (w *Watcher) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if err := w.RunCycle(w.ctx); err != nil {
				slog.Error("Watch cycle failed", log.Error(err))
			}
		}
	}
}

// GetState retrieves the current watch state
func (w *Watcher) GetState(ctx context.Context) (*api.WatchState, error) {
	return w.exec.Exec(ctx, events.WatchKey,
		func(_ *api.WatchState, _ *Aggregator) error {
			return nil
		},
	)
}

// RunCycle performs one complete poll cycle: fetch signals past the
// watermark, fold them against current state, submit confirmed
// remediations, and commit the resulting events
func (w *Watcher) RunCycle(ctx context.Context) error {
	st, err := w.GetState(ctx)
	if err != nil {
		return err
	}

	signals, err := w.feed.FetchSince(ctx, st.Watermark)
	if err != nil {
		return err
	}

	topo, err := w.topo.GetState(ctx)
	if err != nil {
		return err
	}

	busy, err := w.outstandingRemediations(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	actions := advance(st, topo, signals, busy, now, w.config)

	submitted := make([]Remediation, 0, len(actions.Remediate))
	for _, rem := range actions.Remediate {
		if err := w.submitRemediation(rem); err != nil {
			slog.Error("Failed to submit remediation",
				log.ClusterID(rem.ClusterID), log.Error(err))
			continue
		}
		submitted = append(submitted, rem)
		remediationsSubmitted.Inc()
	}

	if err := w.commit(ctx, st, actions, submitted, now); err != nil {
		return err
	}

	watchCycles.Inc()
	hostsWaiting.Set(float64(len(actions.Suspect)))
	return nil
}

// commit records the cycle's observations on the watch aggregate in one
// transaction
func (w *Watcher) commit(
	ctx context.Context, prev *api.WatchState, actions Actions,
	submitted []Remediation, now time.Time,
) error {
	_, err := w.exec.Exec(ctx, events.WatchKey,
		func(_ *api.WatchState, ag *Aggregator) error {
			for _, wait := range actions.Suspect {
				if err := events.Raise(ag, api.EventTypeHostSuspected,
					api.HostSuspectedEvent{Wait: wait},
				); err != nil {
					return err
				}
			}
			for _, host := range actions.Resolve {
				if err := events.Raise(ag, api.EventTypeHostResolved,
					api.HostResolvedEvent{Host: host},
				); err != nil {
					return err
				}
			}
			for _, rem := range submitted {
				if err := events.Raise(ag,
					api.EventTypeRemediationSubmitted,
					api.RemediationSubmittedEvent{
						ClusterID: rem.ClusterID,
						Hosts:     rem.Hosts,
						At:        now,
					},
				); err != nil {
					return err
				}
			}
			if actions.Watermark > prev.Watermark {
				return events.Raise(ag, api.EventTypeWatermarkAdvanced,
					api.WatermarkAdvancedEvent{
						Watermark: actions.Watermark,
					})
			}
			return nil
		},
	)
	return err
}

// submitRemediation originates the ticket and starts the remediation flow
// for one cluster
func (w *Watcher) submitRemediation(rem Remediation) error {
	plan, init, err := w.plans(rem.ClusterID, rem.Hosts)
	if err != nil {
		return err
	}

	hosts := make([]string, len(rem.Hosts))
	for i, h := range rem.Hosts {
		hosts[i] = string(h)
	}
	ticketID, err := w.engine.CreateTicket(RemediationTicketType, api.Args{
		"cluster_id": string(rem.ClusterID),
		"hosts":      hosts,
	})
	if err != nil {
		return err
	}

	flowID := remediationFlowID(rem.ClusterID, time.Now())
	if err := w.engine.StartFlow(flowID, plan, init, ticketID); err != nil {
		return err
	}

	slog.Info("Remediation submitted",
		log.ClusterID(rem.ClusterID),
		log.TicketID(ticketID),
		log.FlowID(flowID),
		slog.Int("hosts", len(rem.Hosts)))
	return nil
}

// outstandingRemediations reports clusters with a remediation flow still
// on the active roster
func (w *Watcher) outstandingRemediations(
	ctx context.Context,
) (map[api.ClusterID]bool, error) {
	st, err := w.engine.GetEngineState(ctx)
	if err != nil {
		return nil, err
	}

	res := map[api.ClusterID]bool{}
	for flowID := range st.ActiveFlows {
		if cid, ok := remediationCluster(flowID); ok {
			res[cid] = true
		}
	}
	return res, nil
}

func remediationFlowID(cid api.ClusterID, at time.Time) api.FlowID {
	return api.FlowID(fmt.Sprintf("remediate-%s-%d", cid, at.Unix()))
}

func remediationCluster(flowID api.FlowID) (api.ClusterID, bool) {
	rest, ok := strings.CutPrefix(string(flowID), "remediate-")
	if !ok {
		return "", false
	}
	idx := strings.LastIndex(rest, "-")
	if idx <= 0 {
		return "", false
	}
	return api.ClusterID(rest[:idx]), true
}
