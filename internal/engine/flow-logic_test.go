package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coastline-io/flotilla/pkg/api"
)

func makeFlow(
	nodes []*api.Node, statuses map[api.NodeID]api.NodeStatus,
) *api.FlowState {
	plan := &api.Plan{ID: "test", Nodes: map[api.NodeID]*api.Node{}}
	states := map[api.NodeID]*api.NodeState{}
	for _, n := range nodes {
		plan.Nodes[n.ID] = n
		plan.Order = append(plan.Order, n.ID)
		states[n.ID] = &api.NodeState{Status: api.NodePending}
	}
	for id, status := range statuses {
		states[id] = &api.NodeState{Status: status, Error: "boom"}
	}
	return &api.FlowState{
		ID:     "f-1",
		Status: api.FlowRunning,
		Plan:   plan,
		Nodes:  states,
	}
}

func activity(id api.NodeID, deps ...api.NodeID) *api.Node {
	return &api.Node{
		ID:        id,
		Kind:      api.NodeActivity,
		DependsOn: deps,
		Activity: &api.ActivitySpec{
			Kind:   api.ActivityRemote,
			Script: string(id) + ".sh",
		},
	}
}

func member(id, group api.NodeID) *api.Node {
	n := activity(id)
	n.Group = group
	return n
}

func join(
	id api.NodeID, bestEffort bool, ceiling int, members ...api.NodeID,
) *api.Node {
	return &api.Node{
		ID:         id,
		Kind:       api.NodeParallel,
		DependsOn:  members,
		Children:   members,
		BestEffort: bestEffort,
		Ceiling:    ceiling,
	}
}

func TestReadyWalksDependencies(t *testing.T) {
	as := assert.New(t)

	nodes := []*api.Node{activity("a"), activity("b", "a")}

	flow := makeFlow(nodes, nil)
	as.Equal([]api.NodeID{"a"}, findReadyNodes(flow))

	flow = makeFlow(nodes, map[api.NodeID]api.NodeStatus{
		"a": api.NodeSuccess,
	})
	as.Equal([]api.NodeID{"b"}, findReadyNodes(flow))

	flow = makeFlow(nodes, map[api.NodeID]api.NodeStatus{
		"a": api.NodeRunning,
	})
	as.Empty(findReadyNodes(flow))
}

func TestFailureBlocksSuccessors(t *testing.T) {
	as := assert.New(t)

	nodes := []*api.Node{activity("a"), activity("b", "a")}
	flow := makeFlow(nodes, map[api.NodeID]api.NodeStatus{
		"a": api.NodeFailed,
	})
	as.Empty(findReadyNodes(flow))
	as.False(isFlowComplete(flow))

	nodeID, msg, ok := flowFailure(flow)
	as.True(ok)
	as.Equal(api.NodeID("a"), nodeID)
	as.Contains(msg, "node a failed")
}

func TestNonCriticalFailureTolerated(t *testing.T) {
	as := assert.New(t)

	a := activity("a")
	a.Activity.NonCritical = true
	nodes := []*api.Node{a, activity("b", "a")}

	flow := makeFlow(nodes, map[api.NodeID]api.NodeStatus{
		"a": api.NodeFailed,
	})
	as.Equal([]api.NodeID{"b"}, findReadyNodes(flow))

	flow = makeFlow(nodes, map[api.NodeID]api.NodeStatus{
		"a": api.NodeFailed,
		"b": api.NodeSuccess,
	})
	as.True(isFlowComplete(flow))
	_, _, ok := flowFailure(flow)
	as.False(ok)
}

func TestJoinWaitsForAllMembers(t *testing.T) {
	as := assert.New(t)

	nodes := []*api.Node{
		member("m1", "grp"), member("m2", "grp"),
		join("grp", true, 0, "m1", "m2"),
	}

	flow := makeFlow(nodes, map[api.NodeID]api.NodeStatus{
		"m1": api.NodeSuccess,
		"m2": api.NodeRunning,
	})
	as.Empty(findReadyNodes(flow))

	flow = makeFlow(nodes, map[api.NodeID]api.NodeStatus{
		"m1": api.NodeSuccess,
		"m2": api.NodeFailed,
	})
	as.Equal([]api.NodeID{"grp"}, findReadyNodes(flow))
}

func TestFailFastJoinFiresEarly(t *testing.T) {
	as := assert.New(t)

	nodes := []*api.Node{
		member("m1", "grp"), member("m2", "grp"),
		join("grp", false, 0, "m1", "m2"),
	}

	// An untolerated member failure settles the join before siblings finish
	flow := makeFlow(nodes, map[api.NodeID]api.NodeStatus{
		"m1": api.NodeFailed,
		"m2": api.NodeRunning,
	})
	as.Equal([]api.NodeID{"grp"}, findReadyNodes(flow))
}

func TestFailedSiblingStopsFailFastLaunches(t *testing.T) {
	as := assert.New(t)

	nodes := []*api.Node{
		member("m1", "grp"), member("m2", "grp"),
		join("grp", false, 0, "m1", "m2"),
	}

	flow := makeFlow(nodes, map[api.NodeID]api.NodeStatus{
		"m1": api.NodeFailed,
	})
	as.Equal([]api.NodeID{"grp"}, findReadyNodes(flow))
	as.NotContains(findReadyNodes(flow), api.NodeID("m2"))
}

func TestCeilingCapsGroupLaunches(t *testing.T) {
	as := assert.New(t)

	nodes := []*api.Node{
		member("m1", "grp"), member("m2", "grp"), member("m3", "grp"),
		join("grp", true, 2, "m1", "m2", "m3"),
	}

	flow := makeFlow(nodes, nil)
	as.Equal([]api.NodeID{"m1", "m2"}, findReadyNodes(flow))

	flow = makeFlow(nodes, map[api.NodeID]api.NodeStatus{
		"m1": api.NodeRunning,
	})
	as.Equal([]api.NodeID{"m2"}, findReadyNodes(flow))

	flow = makeFlow(nodes, map[api.NodeID]api.NodeStatus{
		"m1": api.NodeRunning,
		"m2": api.NodeRunning,
	})
	as.Empty(findReadyNodes(flow))
}

func TestBestEffortGroupCompletes(t *testing.T) {
	as := assert.New(t)

	nodes := []*api.Node{
		member("m1", "grp"), member("m2", "grp"),
		join("grp", true, 0, "m1", "m2"),
	}

	flow := makeFlow(nodes, map[api.NodeID]api.NodeStatus{
		"m1":  api.NodeFailed,
		"m2":  api.NodeSuccess,
		"grp": api.NodeSuccess,
	})
	as.True(isFlowComplete(flow))
}
