package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/coastline-io/flotilla/internal/assert/helpers"
	"github.com/coastline-io/flotilla/internal/engine"
	"github.com/coastline-io/flotilla/pkg/api"
	"github.com/coastline-io/flotilla/pkg/builder"
)

const (
	flowTimeout     = 5 * time.Second
	recoveryTimeout = 10 * time.Second
)

func TestSingleActivityFlow(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		ctx := context.Background()
		env.Runner.SetOutputs("run.sh", api.Args{"rc": "0"})

		flowID := api.FlowID("single-flow")
		waiter := env.SubscribeToFlowStatus(flowID)

		err := env.Engine.StartFlow(
			flowID, helpers.SinglePlan(t, "run.sh"), nil, "",
		)
		assert.NoError(t, err)

		flow := waiter.Wait(t, ctx, flowTimeout)
		assert.Equal(t, api.FlowSucceeded, flow.Status)
		assert.Equal(t, api.NodeSuccess, flow.Nodes["run"].Status)
		assert.Equal(t, api.Args{"rc": "0"}, flow.Nodes["run"].Outputs)

		val, ok := flow.Context.Read("run", "rc")
		assert.True(t, ok)
		assert.Equal(t, "0", val)
		assert.Equal(t, api.Host(helpers.TestHost),
			env.Runner.LastHost("run.sh"))
	})
}

func TestChainPassesOutputs(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		ctx := context.Background()
		env.Runner.SetOutputs("first.sh", api.Args{"val": "from-first"})

		flowID := api.FlowID("chain-flow")
		waiter := env.SubscribeToFlowStatus(flowID)

		err := env.Engine.StartFlow(flowID, helpers.ChainPlan(t), nil, "")
		assert.NoError(t, err)

		flow := waiter.Wait(t, ctx, flowTimeout)
		assert.Equal(t, api.FlowSucceeded, flow.Status)
		assert.Equal(t, []string{"first.sh", "second.sh"},
			env.Runner.Submissions())
		assert.Equal(t, api.Args{"input": "from-first"},
			env.Runner.LastParams("second.sh"))
	})
}

func TestFailureParksFlow(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		ctx := context.Background()
		env.Runner.SetFailure("run.sh", "disk full")

		flowID := api.FlowID("failing-flow")
		waiter := env.SubscribeToFlowStatus(flowID)

		err := env.Engine.StartFlow(
			flowID, helpers.SinglePlan(t, "run.sh"), nil, "",
		)
		assert.NoError(t, err)

		flow := waiter.Wait(t, ctx, flowTimeout)
		assert.Equal(t, api.FlowFailed, flow.Status)
		assert.Contains(t, flow.Error, "node run failed")

		node := flow.Nodes["run"]
		assert.Equal(t, api.NodeFailed, node.Status)
		assert.Equal(t, api.ClassRemote, node.Class)
		assert.Contains(t, node.Error, "disk full")

		// A failed flow stays on the roster awaiting an operator decision
		assert.Eventually(t, func() bool {
			st, err := env.Engine.GetEngineState(ctx)
			if err != nil {
				return false
			}
			_, ok := st.ActiveFlows[flowID]
			return ok
		}, flowTimeout, 50*time.Millisecond)
	})
}

func TestRetryResumesAtFailedNode(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		ctx := context.Background()
		env.Runner.SetOutputs("first.sh", api.Args{"val": "v1"})
		env.Runner.SetFailure("second.sh", "flaky")

		flowID := api.FlowID("retry-flow")
		waiter := env.SubscribeToFlowStatus(flowID)

		err := env.Engine.StartFlow(flowID, helpers.ChainPlan(t), nil, "")
		assert.NoError(t, err)

		flow := waiter.Wait(t, ctx, flowTimeout)
		assert.Equal(t, api.FlowFailed, flow.Status)
		assert.Equal(t, api.NodeSuccess, flow.Nodes["first"].Status)

		env.Runner.ClearFailure("second.sh")
		done := env.SubscribeToFlowStatus(flowID)

		err = env.Engine.RetryNode(flowID, "second")
		assert.NoError(t, err)

		flow = done.Wait(t, ctx, flowTimeout)
		assert.Equal(t, api.FlowSucceeded, flow.Status)
		assert.Equal(t, 1, flow.Nodes["second"].RetryCount)

		// The completed predecessor did not run again
		assert.Equal(t, 1, env.Runner.SubmitCount("first.sh"))
		assert.Equal(t, 2, env.Runner.SubmitCount("second.sh"))
	})
}

func TestRetryResumesNestedGroupMember(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		ctx := context.Background()
		env.Runner.SetFailure("a.sh", "flaky")

		plan := helpers.MustBuild(t, builder.NewPipeline("p").
			Then(builder.NewParallel("par").
				WithBranch(builder.NewPipeline("b1").
					Then(helpers.RemoteOn("a", "a.sh"))).
				WithBranch(helpers.RemoteOn("b", "b.sh"))))

		flowID := api.FlowID("nested-retry-flow")
		waiter := env.SubscribeToFlowStatus(flowID)

		err := env.Engine.StartFlow(flowID, plan, nil, "")
		assert.NoError(t, err)

		flow := waiter.Wait(t, ctx, flowTimeout)
		assert.Equal(t, api.FlowFailed, flow.Status)
		assert.Equal(t, api.NodeFailed, flow.Nodes["par.b1.a"].Status)
		assert.Equal(t, api.NodeFailed, flow.Nodes["par.b1"].Status)
		assert.Equal(t, api.NodeFailed, flow.Nodes["par"].Status)

		env.Runner.ClearFailure("a.sh")
		done := env.SubscribeToFlowStatus(flowID)

		err = env.Engine.RetryNode(flowID, "par.b1.a")
		assert.NoError(t, err)

		// Retrying the leaf re-opens both enclosing joins, so the flow
		// settles successfully once the activity passes
		flow = done.Wait(t, ctx, flowTimeout)
		assert.Equal(t, api.FlowSucceeded, flow.Status)
		assert.Equal(t, api.NodeSuccess, flow.Nodes["par.b1.a"].Status)
		assert.Equal(t, api.NodeSuccess, flow.Nodes["par.b1"].Status)
		assert.Equal(t, api.NodeSuccess, flow.Nodes["par"].Status)
		assert.Equal(t, 1, flow.Nodes["par.b1.a"].RetryCount)

		// The sibling branch did not run again
		assert.Equal(t, 1, env.Runner.SubmitCount("b.sh"))
		assert.Equal(t, 2, env.Runner.SubmitCount("a.sh"))
	})
}

func TestRetryRejectsUnfailedNode(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		ctx := context.Background()

		flowID := api.FlowID("retry-reject")
		waiter := env.SubscribeToFlowStatus(flowID)

		err := env.Engine.StartFlow(
			flowID, helpers.SinglePlan(t, "run.sh"), nil, "",
		)
		assert.NoError(t, err)
		waiter.Wait(t, ctx, flowTimeout)

		err = env.Engine.RetryNode(flowID, "run")
		assert.ErrorIs(t, err, engine.ErrNodeNotFailed)

		err = env.Engine.RetryNode("no-such-flow", "run")
		assert.ErrorIs(t, err, engine.ErrFlowNotFound)
	})
}

func TestGateSuspendsUntilResumed(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		ctx := context.Background()

		flowID := api.FlowID("gated-flow")
		suspended := env.SubscribeToFlowSuspended(flowID)

		err := env.Engine.StartFlow(flowID, helpers.GatePlan(t), nil, "")
		assert.NoError(t, err)

		flow := suspended.Wait(t, ctx, flowTimeout)
		assert.Equal(t, api.FlowSuspended, flow.Status)
		assert.Equal(t, api.NodeRunning, flow.Nodes["approve"].Status)
		assert.False(t, env.Runner.WasSubmitted("after.sh"))

		// Resume on the wrong node is rejected
		err = env.Engine.ResumeGate(flowID, "before")
		assert.ErrorIs(t, err, engine.ErrNodeNotFound)

		done := env.SubscribeToFlowStatus(flowID)
		err = env.Engine.ResumeGate(flowID, "approve")
		assert.NoError(t, err)

		flow = done.Wait(t, ctx, flowTimeout)
		assert.Equal(t, api.FlowSucceeded, flow.Status)
		assert.Equal(t, api.NodeSuccess, flow.Nodes["approve"].Status)
		assert.True(t, env.Runner.WasSubmitted("after.sh"))

		// A completed flow has no waiting gate
		err = env.Engine.ResumeGate(flowID, "approve")
		assert.ErrorIs(t, err, engine.ErrFlowNotSuspended)
	})
}

func TestCancelRevokesFlowAndAbortsJobs(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		ctx := context.Background()
		env.Runner.Hold("run.sh")

		flowID := api.FlowID("cancel-flow")
		err := env.Engine.StartFlow(
			flowID, helpers.SinglePlan(t, "run.sh"), nil, "",
		)
		assert.NoError(t, err)
		assert.True(t, env.Runner.WaitForSubmit("run.sh", flowTimeout))

		revoked := env.SubscribeToFlowStatus(flowID)
		err = env.Engine.CancelFlow(flowID, "operator request")
		assert.NoError(t, err)

		flow := revoked.Wait(t, ctx, flowTimeout)
		assert.Equal(t, api.FlowRevoked, flow.Status)
		assert.Equal(t, api.NodeRevoked, flow.Nodes["run"].Status)

		// Cancel is terminal; a second cancel is rejected and the flow
		// leaves the roster
		err = env.Engine.CancelFlow(flowID, "again")
		assert.ErrorIs(t, err, engine.ErrFlowTerminal)

		assert.Eventually(t, func() bool {
			st, err := env.Engine.GetEngineState(ctx)
			if err != nil {
				return false
			}
			_, ok := st.ActiveFlows[flowID]
			return !ok
		}, flowTimeout, 50*time.Millisecond)
	})
}

func TestCancelStartsCompensation(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		ctx := context.Background()
		env.Runner.Hold("work.sh")

		plan := helpers.MustBuild(t, builder.NewPipeline("main").
			Then(helpers.RemoteOn("work", "work.sh")).
			WithCompensation(builder.NewPipeline("undo").
				Then(helpers.RemoteOn("rollback", "rollback.sh"))))

		flowID := api.FlowID("comp-flow")
		err := env.Engine.StartFlow(flowID, plan, nil, "")
		assert.NoError(t, err)
		assert.True(t, env.Runner.WaitForSubmit("work.sh", flowTimeout))

		compID := flowID + engine.CompensationSuffix
		compDone := env.SubscribeToFlowStatus(compID)

		err = env.Engine.CancelFlow(flowID, "rollback needed")
		assert.NoError(t, err)

		comp := compDone.Wait(t, ctx, flowTimeout)
		assert.Equal(t, api.FlowSucceeded, comp.Status)
		assert.True(t, env.Runner.WasSubmitted("rollback.sh"))

		flow, err := env.Engine.GetFlowState(ctx, flowID)
		assert.NoError(t, err)
		assert.Equal(t, api.FlowRevoked, flow.Status)
	})
}

func TestParallelFailFast(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		ctx := context.Background()
		env.Runner.SetFailure("bad.sh", "broken")

		plan := helpers.MustBuild(t, builder.NewPipeline("par").
			Then(builder.NewParallel("grp").
				WithBranch(helpers.RemoteOn("good", "good.sh")).
				WithBranch(helpers.RemoteOn("bad", "bad.sh"))))

		flowID := api.FlowID("failfast-flow")
		waiter := env.SubscribeToFlowStatus(flowID)

		err := env.Engine.StartFlow(flowID, plan, nil, "")
		assert.NoError(t, err)

		flow := waiter.Wait(t, ctx, flowTimeout)
		assert.Equal(t, api.FlowFailed, flow.Status)
		assert.Equal(t, api.NodeFailed, flow.Nodes["grp.bad"].Status)
		assert.Equal(t, api.NodeFailed, flow.Nodes["grp"].Status)
		assert.Contains(t, flow.Nodes["grp"].Error, "group member")
	})
}

func TestParallelBestEffort(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		ctx := context.Background()
		env.Runner.SetFailure("bad.sh", "broken")

		plan := helpers.MustBuild(t, builder.NewPipeline("par").
			Then(builder.NewParallel("grp").
				BestEffort().
				WithBranch(helpers.RemoteOn("good", "good.sh")).
				WithBranch(helpers.RemoteOn("bad", "bad.sh"))).
			Then(helpers.RemoteOn("after", "after.sh")))

		flowID := api.FlowID("besteffort-flow")
		waiter := env.SubscribeToFlowStatus(flowID)

		err := env.Engine.StartFlow(flowID, plan, nil, "")
		assert.NoError(t, err)

		flow := waiter.Wait(t, ctx, flowTimeout)
		assert.Equal(t, api.FlowSucceeded, flow.Status)
		assert.Equal(t, api.NodeFailed, flow.Nodes["grp.bad"].Status)
		assert.Equal(t, api.NodeSuccess, flow.Nodes["grp"].Status)
		assert.True(t, env.Runner.WasSubmitted("after.sh"))
	})
}

func TestCancelFailedFlowKeepsFinishedSiblings(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		ctx := context.Background()
		env.Runner.Hold("slow.sh")
		env.Runner.SetFailure("slow.sh", "no terminal status")

		group := builder.NewParallel("grp").
			WithBranch(helpers.RemoteOn("slow", "slow.sh"))
		for _, id := range []api.NodeID{"g1", "g2", "g3", "g4"} {
			group = group.WithBranch(
				helpers.RemoteOn(id, "good.sh"),
			)
		}
		plan := helpers.MustBuild(t, builder.NewPipeline("par").
			Then(group))

		flowID := api.FlowID("sibling-flow")
		waiters := make([]*helpers.EventWaiter[*api.NodeState], 0, 4)
		for _, id := range []api.NodeID{
			"grp.g1", "grp.g2", "grp.g3", "grp.g4",
		} {
			waiters = append(waiters, env.SubscribeToNodeStatus(flowID, id))
		}
		failed := env.SubscribeToFlowStatus(flowID)

		err := env.Engine.StartFlow(flowID, plan, nil, "")
		assert.NoError(t, err)

		// The healthy branches finish while the last one is still held
		for _, w := range waiters {
			st := w.Wait(t, ctx, flowTimeout)
			assert.Equal(t, api.NodeSuccess, st.Status)
		}
		env.Runner.Release("slow.sh")

		flow := failed.Wait(t, ctx, flowTimeout)
		assert.Equal(t, api.FlowFailed, flow.Status)
		assert.Equal(t, api.NodeFailed, flow.Nodes["grp.slow"].Status)

		// Cancelling the failed flow revokes only what never settled
		revoked := env.SubscribeToFlowStatus(flowID)
		err = env.Engine.CancelFlow(flowID, "giving up")
		assert.NoError(t, err)

		flow = revoked.Wait(t, ctx, flowTimeout)
		assert.Equal(t, api.FlowRevoked, flow.Status)
		assert.Equal(t, api.NodeFailed, flow.Nodes["grp.slow"].Status)
		for _, id := range []api.NodeID{
			"grp.g1", "grp.g2", "grp.g3", "grp.g4",
		} {
			assert.Equal(t, api.NodeSuccess, flow.Nodes[id].Status)
		}
	})
}

func TestParallelCeiling(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		ctx := context.Background()
		env.Runner.Hold("one.sh")

		plan := helpers.MustBuild(t, builder.NewPipeline("par").
			Then(builder.NewParallel("grp").
				WithCeiling(1).
				WithBranch(helpers.RemoteOn("one", "one.sh")).
				WithBranch(helpers.RemoteOn("two", "two.sh"))))

		flowID := api.FlowID("ceiling-flow")
		waiter := env.SubscribeToFlowStatus(flowID)

		err := env.Engine.StartFlow(flowID, plan, nil, "")
		assert.NoError(t, err)
		assert.True(t, env.Runner.WaitForSubmit("one.sh", flowTimeout))

		// The second member must wait while the first holds the only slot
		time.Sleep(200 * time.Millisecond)
		assert.False(t, env.Runner.WasSubmitted("two.sh"))

		env.Runner.Release("one.sh")

		flow := waiter.Wait(t, ctx, flowTimeout)
		assert.Equal(t, api.FlowSucceeded, flow.Status)
		assert.True(t, env.Runner.WasSubmitted("two.sh"))
	})
}

func TestMutationActivityCommitsTopology(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		ctx := context.Background()

		plan := helpers.MustBuild(t, builder.NewPipeline("register").
			Then(builder.Mutate("reg", api.MutationOp{
				RegisterMachine: &api.RegisterMachineOp{
					Machine: api.Machine{
						ID:      "m-1",
						Zone:    "z1",
						Address: helpers.TestHost,
					},
				},
			})))

		flowID := api.FlowID("mutate-flow")
		waiter := env.SubscribeToFlowStatus(flowID)

		err := env.Engine.StartFlow(flowID, plan, nil, "")
		assert.NoError(t, err)

		flow := waiter.Wait(t, ctx, flowTimeout)
		assert.Equal(t, api.FlowSucceeded, flow.Status)

		topo, err := env.Topology.GetState(ctx)
		assert.NoError(t, err)
		assert.NotNil(t, topo.Machines["m-1"])

		// The flow node is in the applied ledger
		key := api.FlowNode{FlowID: flowID, NodeID: "reg"}.Key()
		assert.True(t, topo.Applied(key))
	})
}

func TestDuplicateFlowRejected(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		ctx := context.Background()

		flowID := api.FlowID("dup-flow")
		waiter := env.SubscribeToFlowStatus(flowID)

		plan := helpers.SinglePlan(t, "run.sh")
		assert.NoError(t, env.Engine.StartFlow(flowID, plan, nil, ""))

		err := env.Engine.StartFlow(flowID, plan, nil, "")
		assert.ErrorIs(t, err, engine.ErrFlowExists)

		waiter.Wait(t, ctx, flowTimeout)
	})
}

func TestTicketsBindFlows(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		ctx := context.Background()

		ticketID, err := env.Engine.CreateTicket("expansion", api.Args{
			"cluster_id": "c-1",
		})
		assert.NoError(t, err)

		ticket, err := env.Engine.GetTicket(ctx, ticketID)
		assert.NoError(t, err)
		assert.Equal(t, "expansion", ticket.Type)

		// A flow referencing an unknown ticket is rejected up front
		plan := helpers.SinglePlan(t, "run.sh")
		err = env.Engine.StartFlow("orphan", plan, nil, "no-such-ticket")
		assert.ErrorIs(t, err, engine.ErrTicketNotFound)

		flowID := api.FlowID("ticketed-flow")
		waiter := env.SubscribeToFlowStatus(flowID)
		assert.NoError(t, env.Engine.StartFlow(flowID, plan, nil, ticketID))

		flow := waiter.Wait(t, ctx, flowTimeout)
		assert.Equal(t, ticketID, flow.TicketID)

		assert.Eventually(t, func() bool {
			ticket, err := env.Engine.GetTicket(ctx, ticketID)
			if err != nil {
				return false
			}
			for _, id := range ticket.Flows {
				if id == flowID {
					return true
				}
			}
			return false
		}, flowTimeout, 50*time.Millisecond)
	})
}

func TestInitInputsReadable(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		ctx := context.Background()

		plan := helpers.MustBuild(t, builder.NewPipeline("seeded").
			Then(helpers.RemoteOn("run", "run.sh").
				WithParam("target", api.FromOutput(api.InitNodeID, "cluster"))))

		flowID := api.FlowID("seeded-flow")
		waiter := env.SubscribeToFlowStatus(flowID)

		err := env.Engine.StartFlow(flowID, plan,
			api.Args{"cluster": "c-9"}, "")
		assert.NoError(t, err)

		flow := waiter.Wait(t, ctx, flowTimeout)
		assert.Equal(t, api.FlowSucceeded, flow.Status)
		assert.Equal(t, api.Args{"target": "c-9"},
			env.Runner.LastParams("run.sh"))
	})
}

func TestFlowRecoveryReattachesJob(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		ctx := context.Background()
		env.Engine.Start()
		env.Runner.Hold("slow.sh")

		flowID := api.FlowID("recovery-flow")
		err := env.Engine.StartFlow(
			flowID, helpers.SinglePlan(t, "slow.sh"), nil, "",
		)
		assert.NoError(t, err)
		assert.True(t, env.Runner.WaitForSubmit("slow.sh", flowTimeout))

		// Simulate a crash while the job is in flight
		assert.NoError(t, env.Engine.Stop())
		env.Runner.Release("slow.sh")

		env.Engine = env.NewEngineInstance()
		env.Engine.Start()

		assert.Eventually(t, func() bool {
			flow, err := env.Engine.GetFlowState(ctx, flowID)
			return err == nil && flow.Status == api.FlowSucceeded
		}, recoveryTimeout, 100*time.Millisecond)

		// The recovered engine adopted the existing job instead of
		// launching a duplicate
		assert.Equal(t, 1, env.Runner.SubmitCount("slow.sh"))
	})
}

func TestRecoveryRetiresFinishedFlows(t *testing.T) {
	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		ctx := context.Background()
		env.Engine.Start()

		flowID := api.FlowID("done-flow")
		waiter := env.SubscribeToFlowStatus(flowID)
		err := env.Engine.StartFlow(
			flowID, helpers.SinglePlan(t, "run.sh"), nil, "",
		)
		assert.NoError(t, err)
		waiter.Wait(t, ctx, flowTimeout)

		assert.NoError(t, env.Engine.Stop())

		env.Engine = env.NewEngineInstance()
		env.Engine.Start()

		assert.Eventually(t, func() bool {
			st, err := env.Engine.GetEngineState(ctx)
			if err != nil {
				return false
			}
			_, ok := st.ActiveFlows[flowID]
			return !ok
		}, recoveryTimeout, 100*time.Millisecond)
	})
}

func TestListFlows(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		ctx := context.Background()
		env.Runner.Hold("slow.sh")

		flowID := api.FlowID("listed-flow")
		err := env.Engine.StartFlow(
			flowID, helpers.SinglePlan(t, "slow.sh"), nil, "",
		)
		assert.NoError(t, err)
		assert.True(t, env.Runner.WaitForSubmit("slow.sh", flowTimeout))

		assert.Eventually(t, func() bool {
			digests, err := env.Engine.ListFlows(ctx)
			if err != nil {
				return false
			}
			for _, d := range digests {
				if d.ID == flowID && d.Status == api.FlowRunning {
					return true
				}
			}
			return false
		}, flowTimeout, 50*time.Millisecond)

		env.Runner.Release("slow.sh")
	})
}
