package topology_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/kode4food/timebox"
	"github.com/stretchr/testify/assert"

	"github.com/coastline-io/flotilla/internal/config"
	"github.com/coastline-io/flotilla/internal/topology"
	"github.com/coastline-io/flotilla/pkg/api"
)

func withStore(t *testing.T, fn func(*topology.Store)) {
	t.Helper()

	server, err := miniredis.Run()
	assert.NoError(t, err)
	defer server.Close()

	tb, err := timebox.NewTimebox(timebox.Config{
		MaxRetries: timebox.DefaultMaxRetries,
		CacheSize:  100,
		Workers:    true,
	})
	assert.NoError(t, err)
	defer func() { _ = tb.Close() }()

	storeConfig := config.NewDefaultConfig().TopologyStore
	storeConfig.Addr = server.Addr()
	storeConfig.Prefix = "test-topology"

	store, err := tb.NewStore(storeConfig)
	assert.NoError(t, err)

	fn(topology.NewStore(store))
}

func apply(
	t *testing.T, s *topology.Store, op api.MutationOp,
) error {
	t.Helper()
	return s.Apply(context.Background(), &op, "", "test")
}

func seedCluster(t *testing.T, s *topology.Store) {
	t.Helper()
	assert.NoError(t, apply(t, s, api.MutationOp{
		RegisterMachine: &api.RegisterMachineOp{
			Machine: api.Machine{ID: "m-1", Address: "10.0.0.1"},
		},
	}))
	assert.NoError(t, apply(t, s, api.MutationOp{
		RegisterMachine: &api.RegisterMachineOp{
			Machine: api.Machine{ID: "m-2", Address: "10.0.0.2"},
		},
	}))
	assert.NoError(t, apply(t, s, api.MutationOp{
		CreateCluster: &api.CreateClusterOp{
			Cluster: api.Cluster{ID: "c-1", Tenant: "acme", Type: "cache"},
		},
	}))
	assert.NoError(t, apply(t, s, api.MutationOp{
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

func TestClusterLifecycle(t *testing.T) {
	withStore(t, func(s *topology.Store) {
		seedCluster(t, s)

		assert.NoError(t, apply(t, s, api.MutationOp{
			BindReplication: &api.BindReplicationOp{
				Ejector: "i-1", Receiver: "i-2",
			},
		}))
		assert.NoError(t, apply(t, s, api.MutationOp{
			BindEntry: &api.BindEntryOp{
				Entry: "acme-cache", ClusterID: "c-1",
				Instances: []api.InstanceID{"i-1"},
			},
		}))

		st, err := s.GetState(context.Background())
		assert.NoError(t, err)
		assert.Len(t, st.Machines, 2)
		assert.Len(t, st.Instances, 2)
		assert.Len(t, st.Tuples, 1)
		assert.NotNil(t, st.Entries["acme-cache"])
	})
}

func TestRejectedMutationHasNoPartialEffect(t *testing.T) {
	withStore(t, func(s *topology.Store) {
		seedCluster(t, s)

		// Second instance references an unknown machine; the first must
		// not be created either
		err := apply(t, s, api.MutationOp{
			CreateInstances: &api.CreateInstancesOp{
				ClusterID: "c-1",
				Instances: []api.Instance{
					{ID: "i-3", MachineID: "m-1", Port: 6380,
						Kind: api.InstanceStorage},
					{ID: "i-4", MachineID: "m-missing", Port: 6379,
						Kind: api.InstanceStorage},
				},
			},
		})
		assert.ErrorIs(t, err, api.ErrConflict)

		st, err := s.GetState(context.Background())
		assert.NoError(t, err)
		assert.Len(t, st.Instances, 2)
		assert.Nil(t, st.Instances["i-3"])
	})
}

func TestReplicationCycleRejected(t *testing.T) {
	withStore(t, func(s *topology.Store) {
		seedCluster(t, s)

		assert.NoError(t, apply(t, s, api.MutationOp{
			BindReplication: &api.BindReplicationOp{
				Ejector: "i-1", Receiver: "i-2",
			},
		}))

		err := apply(t, s, api.MutationOp{
			BindReplication: &api.BindReplicationOp{
				Ejector: "i-2", Receiver: "i-1",
			},
		})
		assert.ErrorIs(t, err, api.ErrConflict)
		assert.Equal(t, api.ClassConflict, api.Classify(err))
	})
}

func TestReceiverSingleEjector(t *testing.T) {
	withStore(t, func(s *topology.Store) {
		seedCluster(t, s)
		assert.NoError(t, apply(t, s, api.MutationOp{
			CreateInstances: &api.CreateInstancesOp{
				ClusterID: "c-1",
				Instances: []api.Instance{
					{ID: "i-3", MachineID: "m-1", Port: 6380,
						Kind: api.InstanceStorage},
				},
			},
		}))
		assert.NoError(t, apply(t, s, api.MutationOp{
			BindReplication: &api.BindReplicationOp{
				Ejector: "i-1", Receiver: "i-2",
			},
		}))

		err := apply(t, s, api.MutationOp{
			BindReplication: &api.BindReplicationOp{
				Ejector: "i-3", Receiver: "i-2",
			},
		})
		assert.ErrorIs(t, err, api.ErrConflict)
	})
}

func TestDetachBlockedWhileReplicating(t *testing.T) {
	withStore(t, func(s *topology.Store) {
		seedCluster(t, s)
		assert.NoError(t, apply(t, s, api.MutationOp{
			BindReplication: &api.BindReplicationOp{
				Ejector: "i-1", Receiver: "i-2",
			},
		}))

		err := apply(t, s, api.MutationOp{
			DetachAndDelete: &api.DetachAndDeleteOp{
				InstanceID: "i-2", ClusterID: "c-1",
			},
		})
		assert.ErrorIs(t, err, api.ErrConflict)
	})
}

func TestEntryOwnershipConflict(t *testing.T) {
	withStore(t, func(s *topology.Store) {
		seedCluster(t, s)
		assert.NoError(t, apply(t, s, api.MutationOp{
			CreateCluster: &api.CreateClusterOp{
				Cluster: api.Cluster{ID: "c-2", Tenant: "other"},
			},
		}))
		assert.NoError(t, apply(t, s, api.MutationOp{
			BindEntry: &api.BindEntryOp{
				Entry: "acme-cache", ClusterID: "c-1",
				Instances: []api.InstanceID{"i-1"},
			},
		}))

		// Entry names are globally unique across clusters
		err := apply(t, s, api.MutationOp{
			BindEntry: &api.BindEntryOp{
				Entry: "acme-cache", ClusterID: "c-2",
			},
		})
		assert.ErrorIs(t, err, api.ErrConflict)
	})
}

func TestIdempotentCommit(t *testing.T) {
	withStore(t, func(s *topology.Store) {
		seedCluster(t, s)
		ctx := context.Background()
		origin := api.FlowNode{FlowID: "flow-1", NodeID: "grow"}.Key()

		op := api.MutationOp{
			CreateInstances: &api.CreateInstancesOp{
				ClusterID: "c-1",
				Instances: []api.Instance{
					{ID: "i-3", MachineID: "m-1", Port: 6380,
						Kind: api.InstanceStorage},
				},
			},
		}
		assert.NoError(t, s.Apply(ctx, &op, origin, "engine"))

		// A repeated commit for the same flow node is a no-op, not a
		// conflict
		assert.NoError(t, s.Apply(ctx, &op, origin, "engine"))

		st, err := s.GetState(ctx)
		assert.NoError(t, err)
		assert.Len(t, st.Instances, 3)
		assert.True(t, st.Applied(origin))
	})
}

func TestDeleteClusterRequiresEmpty(t *testing.T) {
	withStore(t, func(s *topology.Store) {
		seedCluster(t, s)

		err := apply(t, s, api.MutationOp{
			DeleteCluster: &api.DeleteClusterOp{ClusterID: "c-1"},
		})
		assert.ErrorIs(t, err, api.ErrConflict)
	})
}

func TestHistoryAuditTrail(t *testing.T) {
	withStore(t, func(s *topology.Store) {
		seedCluster(t, s)

		changes, err := s.History(context.Background(), 0)
		assert.NoError(t, err)
		assert.Len(t, changes, 4)
		assert.NotNil(t, changes[0].Op.RegisterMachine)
		assert.Equal(t, "test", changes[0].Actor)
		assert.False(t, changes[0].At.IsZero())
	})
}
