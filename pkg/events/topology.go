package events

import (
	"slices"
	"time"

	"github.com/kode4food/timebox"

	"github.com/coastline-io/flotilla/pkg/api"
)

const TopologyPrefix = "topology"

var (
	// TopologyKey is the aggregate ID of the singleton fleet topology
	TopologyKey = timebox.NewAggregateID(TopologyPrefix)

	// TopologyAppliers contains the event applier functions for topology
	// events. Preconditions are enforced on the command side; appliers only
	// fold already-validated payloads into the graph
	TopologyAppliers = makeTopologyAppliers()
)

// NewTopologyState creates an empty topology state with initialized arenas
func NewTopologyState() *api.TopologyState {
	return &api.TopologyState{
		Machines:     map[api.MachineID]*api.Machine{},
		Instances:    map[api.InstanceID]*api.Instance{},
		Clusters:     map[api.ClusterID]*api.Cluster{},
		Entries:      map[api.EntryName]*api.Entry{},
		AppliedNodes: map[api.NodeKey]time.Time{},
	}
}

func makeTopologyAppliers() timebox.Appliers[*api.TopologyState] {
	return MakeAppliers(
		map[api.EventType]timebox.Applier[*api.TopologyState]{
			api.EventTypeTopologyMutated: timebox.MakeApplier(
				topologyMutated,
			),
		},
	)
}

func topologyMutated(
	st *api.TopologyState, ev *timebox.Event, data api.TopologyMutatedEvent,
) *api.TopologyState {
	st = applyMutation(st, &data.Op)
	if data.Origin != "" {
		st = st.SetApplied(data.Origin, ev.Timestamp)
	}
	return st.SetLastUpdated(ev.Timestamp)
}

func applyMutation(
	st *api.TopologyState, op *api.MutationOp,
) *api.TopologyState {
	switch {
	case op.RegisterMachine != nil:
		m := op.RegisterMachine.Machine
		return st.SetMachine(&m)

	case op.CreateCluster != nil:
		c := op.CreateCluster.Cluster
		if c.Phase == "" {
			c.Phase = api.ClusterOnline
		}
		return st.SetCluster(&c)

	case op.CreateInstances != nil:
		return applyCreateInstances(st, op.CreateInstances)

	case op.SetInstanceStatus != nil:
		o := op.SetInstanceStatus
		inst, ok := st.Instances[o.InstanceID]
		if !ok {
			return st
		}
		next := *inst
		next.Status = o.Status
		return st.SetInstance(&next)

	case op.BindReplication != nil:
		o := op.BindReplication
		return st.SetTuples(append(
			slices.Clone(st.Tuples),
			api.ReplicationTuple{Ejector: o.Ejector, Receiver: o.Receiver},
		))

	case op.RebindReplication != nil:
		return applyRebindReplication(st, op.RebindReplication)

	case op.BindEntry != nil:
		return applyBindEntry(st, op.BindEntry)

	case op.TransferOwnership != nil:
		return applyTransferOwnership(st, op.TransferOwnership)

	case op.DetachAndDelete != nil:
		return applyDetachAndDelete(st, op.DetachAndDelete)

	case op.SetClusterPhase != nil:
		o := op.SetClusterPhase
		c, ok := st.Clusters[o.ClusterID]
		if !ok {
			return st
		}
		next := *c
		next.Phase = o.Phase
		return st.SetCluster(&next)

	case op.DeleteCluster != nil:
		return st.RemoveCluster(op.DeleteCluster.ClusterID)
	}
	return st
}

func applyCreateInstances(
	st *api.TopologyState, op *api.CreateInstancesOp,
) *api.TopologyState {
	c, ok := st.Clusters[op.ClusterID]
	if !ok {
		return st
	}
	next := *c
	next.Instances = slices.Clone(c.Instances)
	for i := range op.Instances {
		inst := op.Instances[i]
		if inst.Status == "" {
			inst.Status = api.InstanceRunning
		}
		if !slices.Contains(inst.Clusters, op.ClusterID) {
			inst.Clusters = append(
				slices.Clone(inst.Clusters), op.ClusterID,
			)
		}
		st = st.SetInstance(&inst)
		if !slices.Contains(next.Instances, inst.ID) {
			next.Instances = append(next.Instances, inst.ID)
		}
	}
	return st.SetCluster(&next)
}

func applyRebindReplication(
	st *api.TopologyState, op *api.RebindReplicationOp,
) *api.TopologyState {
	tuples := make([]api.ReplicationTuple, 0, len(st.Tuples))
	for _, tp := range st.Tuples {
		if tp.Receiver == op.Receiver && tp.Ejector == op.OldEjector {
			continue
		}
		tuples = append(tuples, tp)
	}
	tuples = append(tuples, api.ReplicationTuple{
		Ejector:  op.NewEjector,
		Receiver: op.Receiver,
	})
	return st.SetTuples(tuples)
}

func applyBindEntry(
	st *api.TopologyState, op *api.BindEntryOp,
) *api.TopologyState {
	st = st.SetEntry(&api.Entry{
		Name:      op.Entry,
		ClusterID: op.ClusterID,
		Instances: slices.Clone(op.Instances),
	})
	c, ok := st.Clusters[op.ClusterID]
	if ok && !slices.Contains(c.Entries, op.Entry) {
		next := *c
		next.Entries = append(slices.Clone(c.Entries), op.Entry)
		st = st.SetCluster(&next)
	}
	return st
}

func applyTransferOwnership(
	st *api.TopologyState, op *api.TransferOwnershipOp,
) *api.TopologyState {
	inst, ok := st.Instances[op.InstanceID]
	if !ok {
		return st
	}

	next := *inst
	next.Clusters = slices.Clone(inst.Clusters)
	if op.From != "" {
		next.Clusters = slices.DeleteFunc(next.Clusters,
			func(id api.ClusterID) bool { return id == op.From })
	}
	if !slices.Contains(next.Clusters, op.To) {
		next.Clusters = append(next.Clusters, op.To)
	}
	st = st.SetInstance(&next)

	if op.From != "" {
		if from, ok := st.Clusters[op.From]; ok {
			fc := *from
			fc.Instances = slices.DeleteFunc(slices.Clone(from.Instances),
				func(id api.InstanceID) bool { return id == op.InstanceID })
			st = st.SetCluster(&fc)
		}
	}
	if to, ok := st.Clusters[op.To]; ok &&
		!slices.Contains(to.Instances, op.InstanceID) {
		tc := *to
		tc.Instances = append(slices.Clone(to.Instances), op.InstanceID)
		st = st.SetCluster(&tc)
	}
	return st
}

// applyDetachAndDelete removes a cluster's claim on an instance. The
// instance itself is deleted only when no cluster references it afterward
func applyDetachAndDelete(
	st *api.TopologyState, op *api.DetachAndDeleteOp,
) *api.TopologyState {
	inst, ok := st.Instances[op.InstanceID]
	if !ok {
		return st
	}

	if c, ok := st.Clusters[op.ClusterID]; ok {
		next := *c
		next.Instances = slices.DeleteFunc(slices.Clone(c.Instances),
			func(id api.InstanceID) bool { return id == op.InstanceID })
		st = st.SetCluster(&next)
	}

	remaining := slices.DeleteFunc(slices.Clone(inst.Clusters),
		func(id api.ClusterID) bool { return id == op.ClusterID })
	if len(remaining) > 0 {
		next := *inst
		next.Clusters = remaining
		return st.SetInstance(&next)
	}
	return st.RemoveInstance(op.InstanceID)
}
