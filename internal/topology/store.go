// Package topology maintains the authoritative fleet graph: machines,
// instances, replication tuples, clusters, and entries. Every mutation is
// committed atomically with its preconditions checked against current
// state, and the event journal doubles as the audit trail
package topology

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kode4food/timebox"

	"github.com/coastline-io/flotilla/pkg/api"
	"github.com/coastline-io/flotilla/pkg/events"
	"github.com/coastline-io/flotilla/pkg/log"
)

type (
	// Store serializes all topology mutations through a single aggregate.
	// Concurrent flows touching disjoint parts of the graph still commit
	// one at a time; the check-then-commit window cannot interleave
	Store struct {
		store *timebox.Store
		exec  *Executor
	}

	// Executor manages topology state persistence and event sourcing
	Executor = timebox.Executor[*api.TopologyState]

	// Aggregator aggregates topology state from events
	Aggregator = timebox.Aggregator[*api.TopologyState]

	// Change is one audit record reconstructed from the event journal
	Change struct {
		Op     api.MutationOp `json:"op"`
		Origin api.NodeKey    `json:"origin,omitempty"`
		Actor  string         `json:"actor,omitempty"`
		At     time.Time      `json:"at"`
	}
)

// NewStore creates a topology store backed by the given timebox store
func NewStore(store *timebox.Store) *Store {
	return &Store{
		store: store,
		exec: timebox.NewExecutor(
			store, events.NewTopologyState, events.TopologyAppliers,
		),
	}
}

// GetState retrieves the current topology state
func (s *Store) GetState(ctx context.Context) (*api.TopologyState, error) {
	return s.exec.Exec(ctx, events.TopologyKey,
		func(_ *api.TopologyState, _ *Aggregator) error {
			return nil
		},
	)
}

// Apply commits one mutation atomically. Preconditions are evaluated
// against the state inside the same transaction that records the event, so
// a violated invariant rejects the whole operation with no partial effect.
// A mutation whose origin node is already in the applied ledger is a
// no-op, which makes activity-driven commits safe to repeat
func (s *Store) Apply(
	ctx context.Context, op *api.MutationOp, origin api.NodeKey, actor string,
) error {
	if err := op.Validate(); err != nil {
		return err
	}

	_, err := s.exec.Exec(ctx, events.TopologyKey,
		func(st *api.TopologyState, ag *Aggregator) error {
			if origin != "" && st.Applied(origin) {
				slog.Debug("Mutation already applied",
					slog.String("origin", string(origin)),
					slog.String("op", op.Describe()))
				return nil
			}
			if err := check(st, op); err != nil {
				return err
			}
			return events.Raise(ag, api.EventTypeTopologyMutated,
				api.TopologyMutatedEvent{
					Op:     *op,
					Origin: origin,
					Actor:  actor,
				})
		},
	)
	if err != nil {
		slog.Warn("Topology mutation rejected",
			slog.String("op", op.Describe()),
			slog.String("origin", string(origin)),
			log.Error(err))
		return err
	}

	slog.Info("Topology mutated",
		slog.String("op", op.Describe()),
		slog.String("origin", string(origin)),
		slog.String("actor", actor))
	return nil
}

// History reconstructs the audit trail from the event journal, starting at
// the given sequence
func (s *Store) History(
	ctx context.Context, from int64,
) ([]*Change, error) {
	evs, err := s.store.GetEvents(ctx, events.TopologyKey, from)
	if err != nil {
		return nil, err
	}

	res := make([]*Change, 0, len(evs))
	for _, ev := range evs {
		if ev.Type != timebox.EventType(api.EventTypeTopologyMutated) {
			continue
		}
		var data api.TopologyMutatedEvent
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return nil, fmt.Errorf("audit record %d: %w", ev.Sequence, err)
		}
		res = append(res, &Change{
			Op:     data.Op,
			Origin: data.Origin,
			Actor:  data.Actor,
			At:     ev.Timestamp,
		})
	}
	return res, nil
}
