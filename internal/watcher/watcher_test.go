package watcher_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/coastline-io/flotilla/internal/assert/helpers"
	"github.com/coastline-io/flotilla/pkg/api"
	"github.com/coastline-io/flotilla/pkg/builder"
)

// registerCluster commits a one-host, one-instance cluster so signals for
// the host resolve to something remediable
func registerCluster(t *testing.T, env *helpers.TestEngineEnv) {
	ctx := context.Background()
	ops := []*api.MutationOp{
		{RegisterMachine: &api.RegisterMachineOp{
			Machine: api.Machine{
				ID: "m-1", Zone: "z1", Address: helpers.TestHost,
			},
		}},
		{CreateCluster: &api.CreateClusterOp{
			Cluster: api.Cluster{ID: "c-1", Tenant: "acme"},
		}},
		{CreateInstances: &api.CreateInstancesOp{
			ClusterID: "c-1",
			Instances: []api.Instance{
				{ID: "i-1", MachineID: "m-1", Port: 3306},
			},
		}},
	}
	for i, op := range ops {
		key := api.NodeKey(fmt.Sprintf("test/setup-%d", i))
		assert.NoError(t, env.Topology.Apply(ctx, op, key, "test"))
	}
}

func fixPlans(t *testing.T) func(
	api.ClusterID, []api.Host,
) (*api.Plan, api.Args, error) {
	return func(
		cluster api.ClusterID, hosts []api.Host,
	) (*api.Plan, api.Args, error) {
		plan := helpers.MustBuild(t, builder.NewPipeline("remediate").
			Then(helpers.RemoteOn("fix", "fix.sh")))
		return plan, api.Args{"cluster": string(cluster)}, nil
	}
}

func TestCycleConfirmsAndSubmits(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		ctx := context.Background()
		registerCluster(t, env)

		feed := helpers.NewMockFeed()
		w := env.NewWatcher(feed, fixPlans(t))

		// Hold the remediation job so the flow stays on the roster
		env.Runner.Hold("fix.sh")
		feed.Push(&api.HealthSignal{
			ID: 1, Host: helpers.TestHost, Healthy: false,
			Detail: "agent timeout", Timestamp: time.Now(),
		})

		// First cycle suspects, second confirms (ConfirmCycles = 2)
		assert.NoError(t, w.RunCycle(ctx))
		st, err := w.GetState(ctx)
		assert.NoError(t, err)
		assert.Contains(t, st.Waits, api.Host(helpers.TestHost))
		assert.Empty(t, st.Submitted)

		assert.NoError(t, w.RunCycle(ctx))
		st, err = w.GetState(ctx)
		assert.NoError(t, err)
		assert.Contains(t, st.Submitted, api.ClusterID("c-1"))

		// The remediation ticket and flow were originated
		assert.True(t, env.Runner.WaitForSubmit("fix.sh", 5*time.Second))
		engState, err := env.Engine.GetEngineState(ctx)
		assert.NoError(t, err)

		found := false
		for flowID := range engState.ActiveFlows {
			if strings.HasPrefix(string(flowID), "remediate-c-1-") {
				found = true
			}
		}
		assert.True(t, found)

		tickets, err := env.Engine.ListTickets(ctx)
		assert.NoError(t, err)
		assert.Len(t, tickets, 1)
		assert.Equal(t, "remediation", tickets[0].Type)
	})
}

func TestCycleGatesResubmission(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		ctx := context.Background()
		registerCluster(t, env)

		feed := helpers.NewMockFeed()
		w := env.NewWatcher(feed, fixPlans(t))

		// Hold the remediation job so the flow stays on the roster
		env.Runner.Hold("fix.sh")
		feed.Push(&api.HealthSignal{
			ID: 1, Host: helpers.TestHost, Healthy: false,
			Timestamp: time.Now(),
		})

		assert.NoError(t, w.RunCycle(ctx))
		assert.NoError(t, w.RunCycle(ctx))
		assert.True(t, env.Runner.WaitForSubmit("fix.sh", 5*time.Second))

		// Further cycles neither resubmit (cooldown) nor double-dispatch
		// while the remediation flow is still outstanding
		assert.NoError(t, w.RunCycle(ctx))
		assert.NoError(t, w.RunCycle(ctx))
		assert.Equal(t, 1, env.Runner.SubmitCount("fix.sh"))
	})
}

func TestHealthyCycleAdvancesWatermark(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		ctx := context.Background()
		registerCluster(t, env)

		feed := helpers.NewMockFeed()
		w := env.NewWatcher(feed, fixPlans(t))

		feed.Push(&api.HealthSignal{
			ID: 5, Host: helpers.TestHost, Healthy: true,
			Timestamp: time.Now(),
		})

		assert.NoError(t, w.RunCycle(ctx))
		st, err := w.GetState(ctx)
		assert.NoError(t, err)
		assert.EqualValues(t, 5, st.Watermark)
		assert.Empty(t, st.Waits)
	})
}

func TestCycleFeedFailure(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		ctx := context.Background()

		feed := helpers.NewMockFeed()
		feed.Fail(errors.New("upstream 502"))
		w := env.NewWatcher(feed, fixPlans(t))

		err := w.RunCycle(ctx)
		assert.ErrorContains(t, err, "upstream 502")
	})
}
