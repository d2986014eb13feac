package topology

import (
	"fmt"

	"github.com/coastline-io/flotilla/pkg/api"
)

// check evaluates the preconditions of a mutation against current state.
// Violations wrap api.ErrConflict so callers can classify them
func check(st *api.TopologyState, op *api.MutationOp) error {
	switch {
	case op.RegisterMachine != nil:
		return checkRegisterMachine(st, op.RegisterMachine)
	case op.CreateCluster != nil:
		return checkCreateCluster(st, op.CreateCluster)
	case op.CreateInstances != nil:
		return checkCreateInstances(st, op.CreateInstances)
	case op.SetInstanceStatus != nil:
		return requireInstance(st, op.SetInstanceStatus.InstanceID)
	case op.BindReplication != nil:
		return checkBindReplication(st, op.BindReplication)
	case op.RebindReplication != nil:
		return checkRebindReplication(st, op.RebindReplication)
	case op.BindEntry != nil:
		return checkBindEntry(st, op.BindEntry)
	case op.TransferOwnership != nil:
		return checkTransferOwnership(st, op.TransferOwnership)
	case op.DetachAndDelete != nil:
		return checkDetachAndDelete(st, op.DetachAndDelete)
	case op.SetClusterPhase != nil:
		return requireCluster(st, op.SetClusterPhase.ClusterID)
	case op.DeleteCluster != nil:
		return checkDeleteCluster(st, op.DeleteCluster)
	}
	return api.ErrNoMutation
}

func checkRegisterMachine(
	st *api.TopologyState, op *api.RegisterMachineOp,
) error {
	m := op.Machine
	if m.ID == "" || m.Address == "" {
		return fmt.Errorf("%w: machine requires ID and address",
			api.ErrConflict)
	}
	if _, ok := st.Machines[m.ID]; ok {
		return fmt.Errorf("%w: machine exists: %s", api.ErrConflict, m.ID)
	}
	return nil
}

func checkCreateCluster(
	st *api.TopologyState, op *api.CreateClusterOp,
) error {
	c := op.Cluster
	if c.ID == "" {
		return fmt.Errorf("%w: cluster requires ID", api.ErrConflict)
	}
	if _, ok := st.Clusters[c.ID]; ok {
		return fmt.Errorf("%w: cluster exists: %s", api.ErrConflict, c.ID)
	}
	if len(c.Instances) > 0 || len(c.Entries) > 0 {
		return fmt.Errorf("%w: cluster must be created empty: %s",
			api.ErrConflict, c.ID)
	}
	return nil
}

func checkCreateInstances(
	st *api.TopologyState, op *api.CreateInstancesOp,
) error {
	if err := requireCluster(st, op.ClusterID); err != nil {
		return err
	}
	if len(op.Instances) == 0 {
		return fmt.Errorf("%w: no instances to create", api.ErrConflict)
	}

	seen := map[api.InstanceID]bool{}
	for _, inst := range op.Instances {
		if inst.ID == "" {
			return fmt.Errorf("%w: instance requires ID", api.ErrConflict)
		}
		if seen[inst.ID] {
			return fmt.Errorf("%w: duplicate instance: %s",
				api.ErrConflict, inst.ID)
		}
		seen[inst.ID] = true
		if _, ok := st.Instances[inst.ID]; ok {
			return fmt.Errorf("%w: instance exists: %s",
				api.ErrConflict, inst.ID)
		}
		if _, ok := st.Machines[inst.MachineID]; !ok {
			return fmt.Errorf("%w: unknown machine: %s",
				api.ErrConflict, inst.MachineID)
		}
		if err := checkEndpointFree(st, &inst); err != nil {
			return err
		}
	}
	return nil
}

// checkEndpointFree rejects a second instance claiming the same
// machine/port endpoint
func checkEndpointFree(st *api.TopologyState, inst *api.Instance) error {
	for _, other := range st.Instances {
		if other.MachineID == inst.MachineID && other.Port == inst.Port {
			return fmt.Errorf("%w: endpoint in use: %s:%d",
				api.ErrConflict, inst.MachineID, inst.Port)
		}
	}
	return nil
}

func checkBindReplication(
	st *api.TopologyState, op *api.BindReplicationOp,
) error {
	if err := requireStorage(st, op.Ejector); err != nil {
		return err
	}
	if err := requireStorage(st, op.Receiver); err != nil {
		return err
	}
	if op.Ejector == op.Receiver {
		return fmt.Errorf("%w: instance cannot replicate from itself: %s",
			api.ErrConflict, op.Receiver)
	}
	if ej, ok := st.EjectorOf(op.Receiver); ok {
		return fmt.Errorf("%w: receiver already bound to ejector %s",
			api.ErrConflict, ej)
	}
	// An edge ejector->receiver closes a loop when the ejector is already
	// downstream of the receiver
	if st.ReachesViaTuples(op.Receiver, op.Ejector) {
		return fmt.Errorf("%w: replication cycle: %s -> %s",
			api.ErrConflict, op.Ejector, op.Receiver)
	}
	return nil
}

func checkRebindReplication(
	st *api.TopologyState, op *api.RebindReplicationOp,
) error {
	if err := requireStorage(st, op.NewEjector); err != nil {
		return err
	}
	if err := requireInstance(st, op.Receiver); err != nil {
		return err
	}
	if op.NewEjector == op.Receiver {
		return fmt.Errorf("%w: instance cannot replicate from itself: %s",
			api.ErrConflict, op.Receiver)
	}
	current, ok := st.EjectorOf(op.Receiver)
	if !ok || current != op.OldEjector {
		return fmt.Errorf("%w: receiver %s not bound to ejector %s",
			api.ErrConflict, op.Receiver, op.OldEjector)
	}
	if op.NewEjector != op.OldEjector &&
		st.ReachesViaTuples(op.Receiver, op.NewEjector) {
		return fmt.Errorf("%w: replication cycle: %s -> %s",
			api.ErrConflict, op.NewEjector, op.Receiver)
	}
	return nil
}

func checkBindEntry(st *api.TopologyState, op *api.BindEntryOp) error {
	if op.Entry == "" {
		return fmt.Errorf("%w: entry requires a name", api.ErrConflict)
	}
	cluster, ok := st.Clusters[op.ClusterID]
	if !ok {
		return fmt.Errorf("%w: unknown cluster: %s",
			api.ErrConflict, op.ClusterID)
	}

	// Entry names are globally unique; rebinding is only legal within the
	// owning cluster
	if existing, ok := st.Entries[op.Entry]; ok &&
		existing.ClusterID != op.ClusterID {
		return fmt.Errorf("%w: entry %s owned by cluster %s",
			api.ErrConflict, op.Entry, existing.ClusterID)
	}

	owned := map[api.InstanceID]bool{}
	for _, id := range cluster.Instances {
		owned[id] = true
	}
	for _, id := range op.Instances {
		if !owned[id] {
			return fmt.Errorf("%w: instance %s not in cluster %s",
				api.ErrConflict, id, op.ClusterID)
		}
	}
	return nil
}

func checkTransferOwnership(
	st *api.TopologyState, op *api.TransferOwnershipOp,
) error {
	inst, ok := st.Instances[op.InstanceID]
	if !ok {
		return fmt.Errorf("%w: unknown instance: %s",
			api.ErrConflict, op.InstanceID)
	}
	if err := requireCluster(st, op.To); err != nil {
		return err
	}
	if op.From != "" && !ownsInstance(inst, op.From) {
		return fmt.Errorf("%w: instance %s not owned by cluster %s",
			api.ErrConflict, op.InstanceID, op.From)
	}
	if ownsInstance(inst, op.To) {
		return fmt.Errorf("%w: instance %s already in cluster %s",
			api.ErrConflict, op.InstanceID, op.To)
	}
	return nil
}

func checkDetachAndDelete(
	st *api.TopologyState, op *api.DetachAndDeleteOp,
) error {
	inst, ok := st.Instances[op.InstanceID]
	if !ok {
		return fmt.Errorf("%w: unknown instance: %s",
			api.ErrConflict, op.InstanceID)
	}
	if err := requireCluster(st, op.ClusterID); err != nil {
		return err
	}
	if !ownsInstance(inst, op.ClusterID) {
		return fmt.Errorf("%w: instance %s not owned by cluster %s",
			api.ErrConflict, op.InstanceID, op.ClusterID)
	}
	if st.HasTuplesFor(op.InstanceID) {
		return fmt.Errorf("%w: instance %s still replicating",
			api.ErrConflict, op.InstanceID)
	}
	for name, entry := range st.Entries {
		for _, id := range entry.Instances {
			if id == op.InstanceID {
				return fmt.Errorf("%w: instance %s bound in entry %s",
					api.ErrConflict, op.InstanceID, name)
			}
		}
	}
	return nil
}

func checkDeleteCluster(
	st *api.TopologyState, op *api.DeleteClusterOp,
) error {
	cluster, ok := st.Clusters[op.ClusterID]
	if !ok {
		return fmt.Errorf("%w: unknown cluster: %s",
			api.ErrConflict, op.ClusterID)
	}
	if len(cluster.Instances) > 0 {
		return fmt.Errorf("%w: cluster %s still owns instances",
			api.ErrConflict, op.ClusterID)
	}
	if len(cluster.Entries) > 0 {
		return fmt.Errorf("%w: cluster %s still owns entries",
			api.ErrConflict, op.ClusterID)
	}
	return nil
}

func requireInstance(st *api.TopologyState, id api.InstanceID) error {
	if _, ok := st.Instances[id]; !ok {
		return fmt.Errorf("%w: unknown instance: %s", api.ErrConflict, id)
	}
	return nil
}

func requireStorage(st *api.TopologyState, id api.InstanceID) error {
	inst, ok := st.Instances[id]
	if !ok {
		return fmt.Errorf("%w: unknown instance: %s", api.ErrConflict, id)
	}
	if inst.Kind != api.InstanceStorage {
		return fmt.Errorf("%w: %s is not a storage instance",
			api.ErrConflict, id)
	}
	return nil
}

func requireCluster(st *api.TopologyState, id api.ClusterID) error {
	if _, ok := st.Clusters[id]; !ok {
		return fmt.Errorf("%w: unknown cluster: %s", api.ErrConflict, id)
	}
	return nil
}

func ownsInstance(inst *api.Instance, cluster api.ClusterID) bool {
	for _, id := range inst.Clusters {
		if id == cluster {
			return true
		}
	}
	return false
}
