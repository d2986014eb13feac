package api

import "errors"

type (
	// MutationOp is a tagged variant of topology store operations. Exactly
	// one field is set; the store matches on it exhaustively. This keeps
	// the "one generic commit activity, many payload shapes" flexibility
	// with compile-time checked payloads
	MutationOp struct {
		RegisterMachine      *RegisterMachineOp      `json:"register_machine,omitempty"`
		CreateCluster        *CreateClusterOp        `json:"create_cluster,omitempty"`
		CreateInstances      *CreateInstancesOp      `json:"create_instances,omitempty"`
		SetInstanceStatus    *SetInstanceStatusOp    `json:"set_instance_status,omitempty"`
		BindReplication      *BindReplicationOp      `json:"bind_replication,omitempty"`
		RebindReplication    *RebindReplicationOp    `json:"rebind_replication,omitempty"`
		BindEntry            *BindEntryOp            `json:"bind_entry,omitempty"`
		TransferOwnership    *TransferOwnershipOp    `json:"transfer_ownership,omitempty"`
		DetachAndDelete      *DetachAndDeleteOp      `json:"detach_and_delete,omitempty"`
		SetClusterPhase      *SetClusterPhaseOp      `json:"set_cluster_phase,omitempty"`
		DeleteCluster        *DeleteClusterOp        `json:"delete_cluster,omitempty"`
	}

	// RegisterMachineOp adds a host to the fleet
	RegisterMachineOp struct {
		Machine Machine `json:"machine"`
	}

	// CreateClusterOp creates an empty cluster shell for a tenant
	CreateClusterOp struct {
		Cluster Cluster `json:"cluster"`
	}

	// CreateInstancesOp creates one or more instances and attaches them to
	// their owning cluster in a single transaction
	CreateInstancesOp struct {
		ClusterID ClusterID  `json:"cluster_id"`
		Instances []Instance `json:"instances"`
	}

	// SetInstanceStatusOp records a status change observed by health-sync
	// or failover activities
	SetInstanceStatusOp struct {
		InstanceID InstanceID     `json:"instance_id"`
		Status     InstanceStatus `json:"status"`
	}

	// BindReplicationOp creates the directed edge receiver→ejector
	BindReplicationOp struct {
		Ejector  InstanceID `json:"ejector"`
		Receiver InstanceID `json:"receiver"`
	}

	// RebindReplicationOp atomically swaps a receiver's ejector
	RebindReplicationOp struct {
		OldEjector InstanceID `json:"old_ejector"`
		NewEjector InstanceID `json:"new_ejector"`
		Receiver   InstanceID `json:"receiver"`
	}

	// BindEntryOp binds (or rebinds) an entry to an instance set. The
	// bound set is swapped atomically
	BindEntryOp struct {
		Entry     EntryName    `json:"entry"`
		ClusterID ClusterID    `json:"cluster_id"`
		Instances []InstanceID `json:"instances"`
	}

	// TransferOwnershipOp attaches an instance to another cluster
	TransferOwnershipOp struct {
		InstanceID InstanceID `json:"instance_id"`
		From       ClusterID  `json:"from,omitempty"`
		To         ClusterID  `json:"to"`
	}

	// DetachAndDeleteOp detaches an instance from a cluster and deletes it
	// when no other cluster references it
	DetachAndDeleteOp struct {
		InstanceID InstanceID `json:"instance_id"`
		ClusterID  ClusterID  `json:"cluster_id"`
	}

	// SetClusterPhaseOp moves a cluster between online and offline
	SetClusterPhaseOp struct {
		ClusterID ClusterID    `json:"cluster_id"`
		Phase     ClusterPhase `json:"phase"`
	}

	// DeleteClusterOp removes a cluster that owns no instances or entries
	DeleteClusterOp struct {
		ClusterID ClusterID `json:"cluster_id"`
	}
)

var ErrNoMutation = errors.New("mutation carries no operation")

// Validate checks that exactly one operation is set
func (m *MutationOp) Validate() error {
	count := 0
	for _, set := range []bool{
		m.RegisterMachine != nil,
		m.CreateCluster != nil,
		m.CreateInstances != nil,
		m.SetInstanceStatus != nil,
		m.BindReplication != nil,
		m.RebindReplication != nil,
		m.BindEntry != nil,
		m.TransferOwnership != nil,
		m.DetachAndDelete != nil,
		m.SetClusterPhase != nil,
		m.DeleteCluster != nil,
	} {
		if set {
			count++
		}
	}
	switch count {
	case 0:
		return ErrNoMutation
	case 1:
		return nil
	}
	return ErrMutationShape
}

// Describe returns the operation name for logs and audit entries
func (m *MutationOp) Describe() string {
	switch {
	case m.RegisterMachine != nil:
		return "register_machine"
	case m.CreateCluster != nil:
		return "create_cluster"
	case m.CreateInstances != nil:
		return "create_instances"
	case m.SetInstanceStatus != nil:
		return "set_instance_status"
	case m.BindReplication != nil:
		return "bind_replication"
	case m.RebindReplication != nil:
		return "rebind_replication"
	case m.BindEntry != nil:
		return "bind_entry"
	case m.TransferOwnership != nil:
		return "transfer_ownership"
	case m.DetachAndDelete != nil:
		return "detach_and_delete"
	case m.SetClusterPhase != nil:
		return "set_cluster_phase"
	case m.DeleteCluster != nil:
		return "delete_cluster"
	}
	return "none"
}
