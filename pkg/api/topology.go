package api

import (
	"maps"
	"slices"
	"time"
)

type (
	// InstanceKind distinguishes storage processes from proxy/router
	// processes
	InstanceKind string

	// InnerRole is the replication role of a storage instance
	InnerRole string

	// InstanceStatus is the operational status of an instance
	InstanceStatus string

	// ClusterPhase is the lifecycle phase of a cluster
	ClusterPhase string

	// ResourceSpec describes the resources backing a machine
	ResourceSpec struct {
		CPU      int `json:"cpu"`
		MemoryMB int `json:"memory_mb"`
		DiskGB   int `json:"disk_gb"`
	}

	// Machine is a host owned by the fleet. Instances reference machines
	// by ID only; ownership and lifetime stay explicit
	Machine struct {
		ID      MachineID    `json:"id"`
		Zone    string       `json:"zone"`
		Address Host         `json:"address"`
		Class   string       `json:"class"`
		Spec    ResourceSpec `json:"spec"`
		Module  string       `json:"module,omitempty"`
	}

	// Instance is a running storage or routing process on a machine. An
	// instance may be shared by multiple clusters; it is deleted only when
	// the last cluster detaches it
	Instance struct {
		ID        InstanceID     `json:"id"`
		MachineID MachineID      `json:"machine_id"`
		Port      int            `json:"port"`
		Kind      InstanceKind   `json:"kind"`
		InnerRole InnerRole      `json:"inner_role,omitempty"`
		OuterRole string         `json:"outer_role,omitempty"`
		Status    InstanceStatus `json:"status"`
		Clusters  []ClusterID    `json:"clusters"`
	}

	// ReplicationTuple is a directed edge meaning "receiver replicates
	// from ejector"
	ReplicationTuple struct {
		Ejector  InstanceID `json:"ejector"`
		Receiver InstanceID `json:"receiver"`
	}

	// Cluster is a named, typed grouping of instances representing one
	// logical deployment
	Cluster struct {
		ID        ClusterID   `json:"id"`
		Tenant    string      `json:"tenant"`
		Type      string      `json:"type"`
		Phase     ClusterPhase `json:"phase"`
		Status    string      `json:"status,omitempty"`
		Instances []InstanceID `json:"instances"`
		Entries   []EntryName  `json:"entries"`
	}

	// Entry is a named access point bound to a subset of a cluster's
	// instances. Entry names are globally unique across all clusters
	Entry struct {
		Name      EntryName    `json:"name"`
		ClusterID ClusterID    `json:"cluster_id"`
		Instances []InstanceID `json:"instances"`
	}

	// TopologyState is the authoritative graph of machines, instances,
	// replication links, clusters, and entries. All references are IDs
	// into the arena maps; cycles exist only as data edges
	TopologyState struct {
		Machines     map[MachineID]*Machine     `json:"machines"`
		Instances    map[InstanceID]*Instance   `json:"instances"`
		Tuples       []ReplicationTuple         `json:"tuples"`
		Clusters     map[ClusterID]*Cluster     `json:"clusters"`
		Entries      map[EntryName]*Entry       `json:"entries"`
		AppliedNodes map[NodeKey]time.Time      `json:"applied_nodes"`
		LastUpdated  time.Time                  `json:"last_updated"`
	}
)

const (
	InstanceStorage InstanceKind = "storage"
	InstanceRouter  InstanceKind = "router"

	RoleMaster   InnerRole = "master"
	RoleSlave    InnerRole = "slave"
	RoleRepeater InnerRole = "repeater"

	InstanceRunning     InstanceStatus = "running"
	InstanceUnavailable InstanceStatus = "unavailable"
	InstanceRestoring   InstanceStatus = "restoring"

	ClusterOnline  ClusterPhase = "online"
	ClusterOffline ClusterPhase = "offline"
)

// Applied reports whether a mutation keyed by the given flow node has
// already been committed
func (t *TopologyState) Applied(key NodeKey) bool {
	_, ok := t.AppliedNodes[key]
	return ok
}

// EjectorOf returns the active ejector of a receiver, if any
func (t *TopologyState) EjectorOf(receiver InstanceID) (InstanceID, bool) {
	for _, tp := range t.Tuples {
		if tp.Receiver == receiver {
			return tp.Ejector, true
		}
	}
	return "", false
}

// Receivers returns all instances replicating from the given ejector
func (t *TopologyState) Receivers(ejector InstanceID) []InstanceID {
	var res []InstanceID
	for _, tp := range t.Tuples {
		if tp.Ejector == ejector {
			res = append(res, tp.Receiver)
		}
	}
	return res
}

// ReachesViaTuples reports whether `to` is reachable from `from` by
// following replication edges ejector→receiver. Used to reject cycles
// before binding a new tuple
func (t *TopologyState) ReachesViaTuples(from, to InstanceID) bool {
	if from == to {
		return true
	}
	seen := map[InstanceID]bool{from: true}
	frontier := []InstanceID{from}
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		for _, recv := range t.Receivers(next) {
			if recv == to {
				return true
			}
			if !seen[recv] {
				seen[recv] = true
				frontier = append(frontier, recv)
			}
		}
	}
	return false
}

// HasTuplesFor reports whether any replication tuple references the
// instance as either endpoint
func (t *TopologyState) HasTuplesFor(id InstanceID) bool {
	for _, tp := range t.Tuples {
		if tp.Ejector == id || tp.Receiver == id {
			return true
		}
	}
	return false
}

// InstancesOnHost returns the instances whose machine address matches the
// given host
func (t *TopologyState) InstancesOnHost(host Host) []*Instance {
	var res []*Instance
	for _, inst := range t.Instances {
		m, ok := t.Machines[inst.MachineID]
		if ok && m.Address == host {
			res = append(res, inst)
		}
	}
	return res
}

// ClustersOnHost returns the IDs of clusters owning any instance on the
// given host
func (t *TopologyState) ClustersOnHost(host Host) []ClusterID {
	seen := map[ClusterID]bool{}
	var res []ClusterID
	for _, inst := range t.InstancesOnHost(host) {
		for _, cid := range inst.Clusters {
			if !seen[cid] {
				seen[cid] = true
				res = append(res, cid)
			}
		}
	}
	slices.Sort(res)
	return res
}

// SetMachine returns a copy of the state with the machine replaced
func (t *TopologyState) SetMachine(m *Machine) *TopologyState {
	res := *t
	res.Machines = maps.Clone(t.Machines)
	res.Machines[m.ID] = m
	return &res
}

// SetInstance returns a copy of the state with the instance replaced
func (t *TopologyState) SetInstance(inst *Instance) *TopologyState {
	res := *t
	res.Instances = maps.Clone(t.Instances)
	res.Instances[inst.ID] = inst
	return &res
}

// SetCluster returns a copy of the state with the cluster replaced
func (t *TopologyState) SetCluster(c *Cluster) *TopologyState {
	res := *t
	res.Clusters = maps.Clone(t.Clusters)
	res.Clusters[c.ID] = c
	return &res
}

// RemoveInstance returns a copy of the state without the instance
func (t *TopologyState) RemoveInstance(id InstanceID) *TopologyState {
	res := *t
	res.Instances = maps.Clone(t.Instances)
	delete(res.Instances, id)
	return &res
}

// RemoveCluster returns a copy of the state without the cluster
func (t *TopologyState) RemoveCluster(id ClusterID) *TopologyState {
	res := *t
	res.Clusters = maps.Clone(t.Clusters)
	delete(res.Clusters, id)
	return &res
}

// SetEntry returns a copy of the state with the entry replaced
func (t *TopologyState) SetEntry(e *Entry) *TopologyState {
	res := *t
	res.Entries = maps.Clone(t.Entries)
	res.Entries[e.Name] = e
	return &res
}

// RemoveEntry returns a copy of the state without the entry
func (t *TopologyState) RemoveEntry(name EntryName) *TopologyState {
	res := *t
	res.Entries = maps.Clone(t.Entries)
	delete(res.Entries, name)
	return &res
}

// SetTuples returns a copy of the state with the replication edge set
// replaced
func (t *TopologyState) SetTuples(tuples []ReplicationTuple) *TopologyState {
	res := *t
	res.Tuples = tuples
	return &res
}

// SetApplied returns a copy of the state with the node key recorded in the
// idempotence ledger
func (t *TopologyState) SetApplied(key NodeKey, at time.Time) *TopologyState {
	res := *t
	res.AppliedNodes = maps.Clone(t.AppliedNodes)
	if res.AppliedNodes == nil {
		res.AppliedNodes = map[NodeKey]time.Time{}
	}
	res.AppliedNodes[key] = at
	return &res
}

// SetLastUpdated returns a copy of the state with the update timestamp set
func (t *TopologyState) SetLastUpdated(at time.Time) *TopologyState {
	res := *t
	res.LastUpdated = at
	return &res
}
