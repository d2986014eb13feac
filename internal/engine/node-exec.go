package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coastline-io/flotilla/internal/exec"
	"github.com/coastline-io/flotilla/pkg/api"
	"github.com/coastline-io/flotilla/pkg/events"
	"github.com/coastline-io/flotilla/pkg/log"
)

var (
	ErrUnboundInput = errors.New("input binding unresolved")
	ErrBadHost      = errors.New("host binding did not resolve to a string")
)

// executeNode runs one ready node to a terminal status. The inflight set
// guards against a second supervisor for the same node within this engine
// instance; cross-instance safety comes from job tags and the topology
// applied ledger
func (a *flowActor) executeNode(nodeID api.NodeID) {
	key := api.FlowNode{FlowID: a.flowID, NodeID: nodeID}.Key()
	if _, busy := a.inflight.LoadOrStore(key, struct{}{}); busy {
		return
	}
	defer a.inflight.Delete(key)

	flow, err := a.GetFlowState(a.ctx, a.flowID)
	if err != nil || flow.ID == "" {
		return
	}
	node := flow.Plan.GetNode(nodeID)
	if node == nil {
		return
	}

	switch node.Kind {
	case api.NodeGate:
		a.suspendOnGate(nodeID)
	case api.NodeParallel, api.NodeSubPipeline:
		a.settleJoin(flow, node)
	case api.NodeActivity:
		a.runActivity(flow, node, key)
	}
}

// suspendOnGate parks the whole flow on a pause gate. An external resume
// completes the gate and returns the flow to running
func (a *flowActor) suspendOnGate(gateID api.NodeID) {
	err := a.flowTx(a.flowID, func(tx *flowTx) error {
		flow := tx.Value()
		if flow.Status != api.FlowRunning {
			return nil
		}
		gate := flow.GetNodeState(gateID)
		if gate == nil || gate.Status != api.NodePending {
			return nil
		}
		return events.Raise(tx.FlowAggregator, api.EventTypeFlowSuspended,
			api.FlowSuspendedEvent{FlowID: a.flowID, Gate: gateID})
	})
	if err != nil {
		slog.Error("Failed to suspend flow on gate",
			log.FlowID(a.flowID), log.NodeID(gateID), log.Error(err))
	}
}

// settleJoin resolves a group join from its members' terminal states
func (a *flowActor) settleJoin(flow *api.FlowState, join *api.Node) {
	var failed api.NodeID
	var class api.ErrorClass
	for _, member := range join.Children {
		st := flow.GetNodeState(member)
		if st == nil {
			return
		}
		if st.Status == api.NodeFailed &&
			!failureTolerated(flow.Plan, member) {
			failed, class = member, st.Class
			break
		}
	}

	err := a.flowTx(a.flowID, func(tx *flowTx) error {
		st := tx.Value().GetNodeState(join.ID)
		if st == nil || st.Status != api.NodePending {
			return nil
		}
		if failed != "" && !join.BestEffort {
			return events.Raise(tx.FlowAggregator, api.EventTypeNodeFailed,
				api.NodeFailedEvent{
					FlowID: a.flowID,
					NodeID: join.ID,
					Error:  fmt.Sprintf("group member %s failed", failed),
					Class:  class,
				})
		}
		return events.Raise(tx.FlowAggregator, api.EventTypeNodeSucceeded,
			api.NodeSucceededEvent{FlowID: a.flowID, NodeID: join.ID})
	})
	if err != nil {
		slog.Error("Failed to settle group join",
			log.FlowID(a.flowID), log.NodeID(join.ID), log.Error(err))
	}
}

// runActivity executes one activity node: resolve its inputs, record the
// start, then perform the remote dispatch or topology mutation. A node
// found already running is re-attached rather than restarted
func (a *flowActor) runActivity(
	flow *api.FlowState, node *api.Node, key api.NodeKey,
) {
	spec := node.Activity
	st := flow.GetNodeState(node.ID)
	attached := st != nil && st.Status == api.NodeRunning

	inputs, host, err := resolveInputs(flow, node)
	if err != nil {
		a.failNode(node, "", err)
		return
	}
	if attached && st.Inputs != nil {
		inputs = st.Inputs
	}

	if !attached {
		started := false
		err := a.flowTx(a.flowID, func(tx *flowTx) error {
			flow := tx.Value()
			ns := flow.GetNodeState(node.ID)
			if flow.Status != api.FlowRunning || ns == nil ||
				ns.Status != api.NodePending {
				return nil
			}
			started = true
			return events.Raise(tx.FlowAggregator, api.EventTypeNodeStarted,
				api.NodeStartedEvent{
					FlowID: a.flowID,
					NodeID: node.ID,
					Inputs: inputs,
				})
		})
		if err != nil || !started {
			return
		}
	}

	begin := time.Now()
	switch spec.Kind {
	case api.ActivityMutation:
		a.runMutation(node, key)
	case api.ActivityRemote:
		jobID := ""
		if attached {
			jobID = st.JobID
		}
		a.runRemote(node, jobTag(key, st), inputs, host, jobID)
	}
	nodeDuration.WithLabelValues(string(spec.Kind)).
		Observe(time.Since(begin).Seconds())
}

// runMutation commits the node's topology operation. The origin key makes
// a repeated commit after a crash a no-op
func (a *flowActor) runMutation(node *api.Node, key api.NodeKey) {
	err := a.topo.Apply(
		a.ctx, node.Activity.Mutation, key, "flow:"+string(a.flowID),
	)
	if err != nil {
		a.failNode(node, "", err)
		return
	}
	a.succeedNode(node, nil, "")
}

// runRemote supervises one remote script job to a terminal status. An
// existing job for the node's tag is adopted, so re-dispatch after a crash
// never launches a duplicate
func (a *flowActor) runRemote(
	node *api.Node, key api.NodeKey, inputs api.Args, host api.Host,
	jobID string,
) {
	spec := node.Activity

	if jobID == "" {
		found, ok, err := a.runner.FindByTag(a.ctx, key)
		if err != nil {
			a.failNode(node, "", err)
			return
		}
		if ok {
			jobID = found
		}
	}
	if jobID == "" {
		submitted, err := a.runner.Submit(
			a.ctx, host, spec.Script, inputs, key,
		)
		if err != nil {
			a.failNode(node, "", err)
			return
		}
		jobID = submitted
	}
	a.bindJob(node.ID, jobID)

	timeout := spec.TimeoutMs
	if timeout <= 0 {
		timeout = a.config.ActivityTimeout
	}
	poll := spec.PollMs
	if poll <= 0 {
		poll = a.config.PollInterval
	}

	deadline := time.Now().Add(time.Duration(timeout) * time.Millisecond)
	ticker := time.NewTicker(time.Duration(poll) * time.Millisecond)
	defer ticker.Stop()

	for {
		job, err := a.runner.Status(a.ctx, jobID)
		if err != nil {
			slog.Warn("Job status check failed",
				log.FlowID(a.flowID), log.NodeID(node.ID),
				log.JobID(jobID), log.Error(err))
		} else if job.State.Terminal() {
			if job.State == exec.JobSucceeded {
				a.succeedNode(node, job.Outputs, jobID)
				return
			}
			a.failNode(node, jobID,
				fmt.Errorf("%w: %s", api.ErrRemoteFailure, job.Error))
			return
		}

		if time.Now().After(deadline) {
			if err := a.runner.Abort(a.ctx, jobID); err != nil {
				slog.Warn("Failed to abort timed-out job",
					log.JobID(jobID), log.Error(err))
			}
			a.failNode(node, jobID, fmt.Errorf("%w after %dms",
				api.ErrTimeout, timeout))
			return
		}

		select {
		case <-a.ctx.Done():
			// Leave the node running; recovery re-attaches via the job tag
			return
		case <-ticker.C:
		}
	}
}

// jobTag derives the idempotency tag for one execution attempt. A retried
// node carries a fresh tag so the job service runs the script again, while
// crash recovery of the same attempt still finds the original job
func jobTag(key api.NodeKey, st *api.NodeState) api.NodeKey {
	if st == nil || st.RetryCount == 0 {
		return key
	}
	return api.NodeKey(fmt.Sprintf("%s#%d", key, st.RetryCount))
}

// bindJob records the dispatched job on the node so a recovered engine
// re-attaches instead of re-submitting
func (a *flowActor) bindJob(nodeID api.NodeID, jobID string) {
	err := a.flowTx(a.flowID, func(tx *flowTx) error {
		st := tx.Value().GetNodeState(nodeID)
		if st == nil || st.JobID == jobID {
			return nil
		}
		return events.Raise(tx.FlowAggregator, api.EventTypeNodeJobBound,
			api.NodeJobBoundEvent{
				FlowID: a.flowID,
				NodeID: nodeID,
				JobID:  jobID,
			})
	})
	if err != nil {
		slog.Error("Failed to bind job to node",
			log.FlowID(a.flowID), log.NodeID(nodeID), log.Error(err))
	}
}

func (a *flowActor) succeedNode(
	node *api.Node, outputs api.Args, jobID string,
) {
	nodesExecuted.WithLabelValues(
		string(node.Kind), string(api.NodeSuccess),
	).Inc()
	err := a.flowTx(a.flowID, func(tx *flowTx) error {
		st := tx.Value().GetNodeState(node.ID)
		if st == nil || st.Status.Terminal() {
			return nil
		}
		return events.Raise(tx.FlowAggregator, api.EventTypeNodeSucceeded,
			api.NodeSucceededEvent{
				FlowID:  a.flowID,
				NodeID:  node.ID,
				Outputs: outputs,
				JobID:   jobID,
			})
	})
	if err != nil {
		slog.Error("Failed to record node success",
			log.FlowID(a.flowID), log.NodeID(node.ID), log.Error(err))
	}
}

func (a *flowActor) failNode(node *api.Node, jobID string, cause error) {
	class := api.Classify(cause)
	nodesExecuted.WithLabelValues(
		string(node.Kind), string(api.NodeFailed),
	).Inc()
	slog.Warn("Node failed",
		log.FlowID(a.flowID),
		log.NodeID(node.ID),
		log.Class(class),
		log.Error(cause))

	err := a.flowTx(a.flowID, func(tx *flowTx) error {
		st := tx.Value().GetNodeState(node.ID)
		if st == nil || st.Status.Terminal() {
			return nil
		}
		return events.Raise(tx.FlowAggregator, api.EventTypeNodeFailed,
			api.NodeFailedEvent{
				FlowID: a.flowID,
				NodeID: node.ID,
				Error:  cause.Error(),
				Class:  class,
				JobID:  jobID,
			})
	})
	if err != nil {
		slog.Error("Failed to record node failure",
			log.FlowID(a.flowID), log.NodeID(node.ID), log.Error(err))
	}
}

// resolveInputs materializes an activity's parameter bindings from the
// flow context, and the target host for remote activities
func resolveInputs(
	flow *api.FlowState, node *api.Node,
) (api.Args, api.Host, error) {
	spec := node.Activity
	inputs := api.Args{}
	for name, param := range spec.Params {
		val, err := resolveBinding(flow, param.Binding)
		if err != nil {
			return nil, "", fmt.Errorf("%w: param %s", err, name)
		}
		inputs[name] = val
	}

	var host api.Host
	if spec.Kind == api.ActivityRemote {
		val, err := resolveBinding(flow, spec.Host)
		if err != nil {
			return nil, "", err
		}
		switch v := val.(type) {
		case string:
			host = api.Host(v)
		case api.Host:
			host = v
		default:
			return nil, "", fmt.Errorf("%w: %v", ErrBadHost, val)
		}
	}
	return inputs, host, nil
}

func resolveBinding(flow *api.FlowState, b api.Binding) (any, error) {
	if !b.IsRef() {
		return b.Value, nil
	}
	val, ok := flow.Context.Read(b.FromNode, b.Output)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnboundInput,
			b.FromNode, b.Output)
	}
	return val, nil
}
