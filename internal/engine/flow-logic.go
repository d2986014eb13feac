package engine

import (
	"fmt"

	"github.com/coastline-io/flotilla/pkg/api"
)

// findReadyNodes walks the plan in construction order and collects every
// node that can start now. Activity and gate nodes require their
// dependencies satisfied; join nodes wait for their members to settle.
// Group ceilings bound how many members may run at once
func findReadyNodes(flow *api.FlowState) []api.NodeID {
	var ready []api.NodeID
	launched := map[api.NodeID]int{}

	for _, nodeID := range flow.Plan.Order {
		st := flow.GetNodeState(nodeID)
		if st == nil || st.Status != api.NodePending {
			continue
		}
		node := flow.Plan.GetNode(nodeID)

		switch node.Kind {
		case api.NodeParallel, api.NodeSubPipeline:
			if joinReady(flow, node) {
				ready = append(ready, nodeID)
			}

		default:
			if !depsSatisfied(flow, node) {
				continue
			}
			if !groupAdmits(flow, node, launched) {
				continue
			}
			ready = append(ready, nodeID)
		}
	}
	return ready
}

// groupAdmits applies group scheduling policy to a member node: a failed
// sibling stops a fail-fast group from launching further members, and the
// join's ceiling caps concurrent members
func groupAdmits(
	flow *api.FlowState, node *api.Node, launched map[api.NodeID]int,
) bool {
	if node.Group == "" {
		return true
	}
	join := flow.Plan.GetNode(node.Group)
	if join == nil {
		return true
	}

	if !join.BestEffort && groupHasFailure(flow, join) {
		return false
	}
	if join.Ceiling > 0 {
		running := runningInGroup(flow, node.Group)
		if running+launched[node.Group] >= join.Ceiling {
			return false
		}
	}
	launched[node.Group]++
	return true
}

// joinReady reports whether a group join can settle: all members are
// terminal, or a member of a fail-fast group has already failed
func joinReady(flow *api.FlowState, join *api.Node) bool {
	if !depsOutsideGroupSatisfied(flow, join) {
		return false
	}
	for _, member := range join.Children {
		st := flow.GetNodeState(member)
		if st == nil {
			return false
		}
		if !join.BestEffort && st.Status == api.NodeFailed &&
			!failureTolerated(flow.Plan, member) {
			return true
		}
		if !st.Status.Terminal() {
			return false
		}
	}
	return true
}

// depsOutsideGroupSatisfied checks the join's dependencies that are not
// its own members. The members themselves are evaluated by joinReady
func depsOutsideGroupSatisfied(flow *api.FlowState, join *api.Node) bool {
	members := map[api.NodeID]bool{}
	for _, m := range join.Children {
		members[m] = true
	}
	for _, dep := range join.DependsOn {
		if members[dep] {
			continue
		}
		if !depSatisfied(flow, dep) {
			return false
		}
	}
	return true
}

func depsSatisfied(flow *api.FlowState, node *api.Node) bool {
	for _, dep := range node.DependsOn {
		if !depSatisfied(flow, dep) {
			return false
		}
	}
	return true
}

// depSatisfied reports whether a dependency no longer blocks its
// successors: it succeeded, or it failed and the failure is tolerated
func depSatisfied(flow *api.FlowState, dep api.NodeID) bool {
	st := flow.GetNodeState(dep)
	if st == nil {
		return false
	}
	switch st.Status {
	case api.NodeSuccess:
		return true
	case api.NodeFailed:
		return failureTolerated(flow.Plan, dep)
	}
	return false
}

// failureTolerated reports whether a node's failure is absorbed rather
// than propagated: the activity is non-critical, or the node belongs to a
// best-effort group
func failureTolerated(p *api.Plan, id api.NodeID) bool {
	node := p.GetNode(id)
	if node == nil {
		return false
	}
	if node.Activity != nil && node.Activity.NonCritical {
		return true
	}
	if node.Group != "" {
		if join := p.GetNode(node.Group); join != nil && join.BestEffort {
			return true
		}
	}
	return false
}

func groupHasFailure(flow *api.FlowState, join *api.Node) bool {
	for _, member := range join.Children {
		st := flow.GetNodeState(member)
		if st != nil && st.Status == api.NodeFailed &&
			!failureTolerated(flow.Plan, member) {
			return true
		}
	}
	return false
}

func runningInGroup(flow *api.FlowState, group api.NodeID) int {
	count := 0
	for nodeID, st := range flow.Nodes {
		if st.Status != api.NodeRunning {
			continue
		}
		if node := flow.Plan.GetNode(nodeID); node != nil &&
			node.Group == group {
			count++
		}
	}
	return count
}

func anyRunning(flow *api.FlowState) bool {
	for _, st := range flow.Nodes {
		if st.Status == api.NodeRunning {
			return true
		}
	}
	return false
}

// isFlowComplete reports whether every node settled in a state the flow
// can succeed from
func isFlowComplete(flow *api.FlowState) bool {
	for nodeID, st := range flow.Nodes {
		switch st.Status {
		case api.NodeSuccess:
		case api.NodeFailed:
			if !failureTolerated(flow.Plan, nodeID) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// flowFailure returns the first untolerated node failure in plan order
func flowFailure(flow *api.FlowState) (api.NodeID, string, bool) {
	for _, nodeID := range flow.Plan.Order {
		st := flow.GetNodeState(nodeID)
		if st == nil || st.Status != api.NodeFailed {
			continue
		}
		if failureTolerated(flow.Plan, nodeID) {
			continue
		}
		return nodeID, fmt.Sprintf("node %s failed: %s", nodeID, st.Error),
			true
	}
	return "", "", false
}
