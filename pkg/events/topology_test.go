package events_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/kode4food/timebox"
	"github.com/stretchr/testify/assert"

	"github.com/coastline-io/flotilla/pkg/api"
	"github.com/coastline-io/flotilla/pkg/events"
)

func applyTopology(
	t *testing.T, st *api.TopologyState, data api.TopologyMutatedEvent,
) *api.TopologyState {
	t.Helper()
	payload, err := json.Marshal(data)
	assert.NoError(t, err)

	event := &timebox.Event{
		Timestamp:   time.Now(),
		AggregateID: events.TopologyKey,
		Type:        timebox.EventType(api.EventTypeTopologyMutated),
		Data:        payload,
	}
	applier := events.TopologyAppliers[event.Type]
	return applier(st, event)
}

func mutate(op api.MutationOp) api.TopologyMutatedEvent {
	return api.TopologyMutatedEvent{Op: op}
}

func TestRegisterMachine(t *testing.T) {
	st := applyTopology(t, events.NewTopologyState(), mutate(api.MutationOp{
		RegisterMachine: &api.RegisterMachineOp{
			Machine: api.Machine{
				ID:      "m-1",
				Zone:    "zone-a",
				Address: "10.0.0.1",
			},
		},
	}))

	assert.Len(t, st.Machines, 1)
	assert.Equal(t, api.Host("10.0.0.1"), st.Machines["m-1"].Address)
	assert.False(t, st.LastUpdated.IsZero())
}

func TestCreateClusterAndInstances(t *testing.T) {
	st := applyTopology(t, events.NewTopologyState(), mutate(api.MutationOp{
		CreateCluster: &api.CreateClusterOp{
			Cluster: api.Cluster{ID: "c-1", Tenant: "acme", Type: "cache"},
		},
	}))
	assert.Equal(t, api.ClusterOnline, st.Clusters["c-1"].Phase)

	st = applyTopology(t, st, mutate(api.MutationOp{
		CreateInstances: &api.CreateInstancesOp{
			ClusterID: "c-1",
			Instances: []api.Instance{
				{ID: "i-1", MachineID: "m-1", Port: 6379,
					Kind: api.InstanceStorage, InnerRole: api.RoleMaster},
				{ID: "i-2", MachineID: "m-2", Port: 6379,
					Kind: api.InstanceStorage, InnerRole: api.RoleSlave},
			},
		},
	}))

	assert.Len(t, st.Instances, 2)
	assert.Equal(t, api.InstanceRunning, st.Instances["i-1"].Status)
	assert.Equal(t, []api.ClusterID{"c-1"}, st.Instances["i-1"].Clusters)
	assert.ElementsMatch(t,
		[]api.InstanceID{"i-1", "i-2"}, st.Clusters["c-1"].Instances)
}

func TestBindAndRebindReplication(t *testing.T) {
	st := clusterWithInstances(t)

	st = applyTopology(t, st, mutate(api.MutationOp{
		BindReplication: &api.BindReplicationOp{
			Ejector: "i-1", Receiver: "i-2",
		},
	}))
	ejector, ok := st.EjectorOf("i-2")
	assert.True(t, ok)
	assert.Equal(t, api.InstanceID("i-1"), ejector)

	st = applyTopology(t, st, mutate(api.MutationOp{
		CreateInstances: &api.CreateInstancesOp{
			ClusterID: "c-1",
			Instances: []api.Instance{
				{ID: "i-3", MachineID: "m-3", Port: 6379,
					Kind: api.InstanceStorage, InnerRole: api.RoleMaster},
			},
		},
	}))
	st = applyTopology(t, st, mutate(api.MutationOp{
		RebindReplication: &api.RebindReplicationOp{
			OldEjector: "i-1", NewEjector: "i-3", Receiver: "i-2",
		},
	}))

	ejector, ok = st.EjectorOf("i-2")
	assert.True(t, ok)
	assert.Equal(t, api.InstanceID("i-3"), ejector)
	assert.Len(t, st.Tuples, 1)
}

func TestBindEntrySwapsInstanceSet(t *testing.T) {
	st := clusterWithInstances(t)

	st = applyTopology(t, st, mutate(api.MutationOp{
		BindEntry: &api.BindEntryOp{
			Entry: "acme-cache", ClusterID: "c-1",
			Instances: []api.InstanceID{"i-1"},
		},
	}))
	assert.Equal(t,
		[]api.InstanceID{"i-1"}, st.Entries["acme-cache"].Instances)
	assert.Equal(t, []api.EntryName{"acme-cache"}, st.Clusters["c-1"].Entries)

	st = applyTopology(t, st, mutate(api.MutationOp{
		BindEntry: &api.BindEntryOp{
			Entry: "acme-cache", ClusterID: "c-1",
			Instances: []api.InstanceID{"i-2"},
		},
	}))
	assert.Equal(t,
		[]api.InstanceID{"i-2"}, st.Entries["acme-cache"].Instances)
	assert.Len(t, st.Clusters["c-1"].Entries, 1)
}

func TestTransferOwnership(t *testing.T) {
	st := clusterWithInstances(t)
	st = applyTopology(t, st, mutate(api.MutationOp{
		CreateCluster: &api.CreateClusterOp{
			Cluster: api.Cluster{ID: "c-2", Tenant: "acme", Type: "cache"},
		},
	}))

	st = applyTopology(t, st, mutate(api.MutationOp{
		TransferOwnership: &api.TransferOwnershipOp{
			InstanceID: "i-2", From: "c-1", To: "c-2",
		},
	}))

	assert.Equal(t, []api.ClusterID{"c-2"}, st.Instances["i-2"].Clusters)
	assert.Equal(t, []api.InstanceID{"i-1"}, st.Clusters["c-1"].Instances)
	assert.Equal(t, []api.InstanceID{"i-2"}, st.Clusters["c-2"].Instances)
}

func TestDetachAndDeleteSharedInstance(t *testing.T) {
	st := clusterWithInstances(t)
	st = applyTopology(t, st, mutate(api.MutationOp{
		CreateCluster: &api.CreateClusterOp{
			Cluster: api.Cluster{ID: "c-2", Tenant: "acme", Type: "cache"},
		},
	}))
	st = applyTopology(t, st, mutate(api.MutationOp{
		TransferOwnership: &api.TransferOwnershipOp{
			InstanceID: "i-1", To: "c-2",
		},
	}))
	assert.Len(t, st.Instances["i-1"].Clusters, 2)

	// First detach leaves the shared instance alive under c-2
	st = applyTopology(t, st, mutate(api.MutationOp{
		DetachAndDelete: &api.DetachAndDeleteOp{
			InstanceID: "i-1", ClusterID: "c-1",
		},
	}))
	assert.NotNil(t, st.Instances["i-1"])
	assert.Equal(t, []api.ClusterID{"c-2"}, st.Instances["i-1"].Clusters)

	// Last detach deletes it
	st = applyTopology(t, st, mutate(api.MutationOp{
		DetachAndDelete: &api.DetachAndDeleteOp{
			InstanceID: "i-1", ClusterID: "c-2",
		},
	}))
	assert.Nil(t, st.Instances["i-1"])
}

func TestSetInstanceStatusAndClusterPhase(t *testing.T) {
	st := clusterWithInstances(t)

	st = applyTopology(t, st, mutate(api.MutationOp{
		SetInstanceStatus: &api.SetInstanceStatusOp{
			InstanceID: "i-1", Status: api.InstanceUnavailable,
		},
	}))
	assert.Equal(t, api.InstanceUnavailable, st.Instances["i-1"].Status)

	st = applyTopology(t, st, mutate(api.MutationOp{
		SetClusterPhase: &api.SetClusterPhaseOp{
			ClusterID: "c-1", Phase: api.ClusterOffline,
		},
	}))
	assert.Equal(t, api.ClusterOffline, st.Clusters["c-1"].Phase)
}

func TestDeleteCluster(t *testing.T) {
	st := applyTopology(t, events.NewTopologyState(), mutate(api.MutationOp{
		CreateCluster: &api.CreateClusterOp{
			Cluster: api.Cluster{ID: "c-1", Tenant: "acme", Type: "cache"},
		},
	}))
	st = applyTopology(t, st, mutate(api.MutationOp{
		DeleteCluster: &api.DeleteClusterOp{ClusterID: "c-1"},
	}))
	assert.Empty(t, st.Clusters)
}

func TestOriginRecordsAppliedNode(t *testing.T) {
	origin := api.FlowNode{FlowID: "flow-1", NodeID: "create"}.Key()

	st := applyTopology(t, events.NewTopologyState(),
		api.TopologyMutatedEvent{
			Op: api.MutationOp{
				CreateCluster: &api.CreateClusterOp{
					Cluster: api.Cluster{ID: "c-1", Tenant: "acme"},
				},
			},
			Origin: origin,
		})

	assert.True(t, st.Applied(origin))
	assert.False(t, st.Applied(api.NodeKey("flow-1/other")))
}

func clusterWithInstances(t *testing.T) *api.TopologyState {
	t.Helper()
	st := applyTopology(t, events.NewTopologyState(), mutate(api.MutationOp{
		CreateCluster: &api.CreateClusterOp{
			Cluster: api.Cluster{ID: "c-1", Tenant: "acme", Type: "cache"},
		},
	}))
	return applyTopology(t, st, mutate(api.MutationOp{
		CreateInstances: &api.CreateInstancesOp{
			ClusterID: "c-1",
			Instances: []api.Instance{
				{ID: "i-1", MachineID: "m-1", Port: 6379,
					Kind: api.InstanceStorage, InnerRole: api.RoleMaster},
				{ID: "i-2", MachineID: "m-2", Port: 6379,
					Kind: api.InstanceStorage, InnerRole: api.RoleSlave},
			},
		},
	}))
}
