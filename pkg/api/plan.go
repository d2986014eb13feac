package api

import (
	"errors"
	"fmt"
)

type (
	// NodeKind discriminates the units the runtime schedules
	NodeKind string

	// ActivityKind discriminates remote script activities from local
	// topology mutations
	ActivityKind string

	// Binding supplies one input value to an activity: either a literal
	// or a reference to an output recorded by a completed predecessor
	Binding struct {
		Value    any    `json:"value,omitempty"`
		FromNode NodeID `json:"from_node,omitempty"`
		Output   Name   `json:"output,omitempty"`
	}

	// Param declares one activity input: where its value comes from and
	// the type the activity expects
	Param struct {
		Binding Binding   `json:"binding"`
		Type    ValueType `json:"type,omitempty"`
	}

	// ActivitySpec describes one atomic unit of work. Remote activities
	// dispatch a script to a host and poll the job service; mutation
	// activities perform exactly one topology store operation
	ActivitySpec struct {
		Name        string          `json:"name"`
		Kind        ActivityKind    `json:"kind"`
		Host        Binding         `json:"host,omitempty"`
		Script      string          `json:"script,omitempty"`
		Params      map[Name]*Param `json:"params,omitempty"`
		Outputs     map[Name]ValueType `json:"outputs,omitempty"`
		Mutation    *MutationOp     `json:"mutation,omitempty"`
		TimeoutMs   int64           `json:"timeout_ms,omitempty"`
		PollMs      int64           `json:"poll_ms,omitempty"`
		NonCritical bool            `json:"non_critical,omitempty"`
	}

	// Node is one schedulable unit of a flow graph. Parallel groups and
	// sub-pipelines are flattened at build time: their members are plain
	// nodes and the group node itself is the join that completes when all
	// members are terminal
	Node struct {
		ID         NodeID        `json:"id"`
		Kind       NodeKind      `json:"kind"`
		DependsOn  []NodeID      `json:"depends_on,omitempty"`
		Activity   *ActivitySpec `json:"activity,omitempty"`
		Children   []NodeID      `json:"children,omitempty"`
		Group      NodeID        `json:"group,omitempty"`
		BestEffort bool          `json:"best_effort,omitempty"`
		Ceiling    int           `json:"ceiling,omitempty"`
	}

	// Plan is an immutable flow graph produced by the builder. Order
	// preserves the construction sequence for deterministic scheduling
	Plan struct {
		ID           string           `json:"id"`
		Nodes        map[NodeID]*Node `json:"nodes"`
		Order        []NodeID         `json:"order"`
		Compensation *Plan            `json:"compensation,omitempty"`
	}
)

// InitNodeID is the reserved pseudo-node under which a flow's initial
// inputs are recorded in the context. Bindings may reference it directly
const InitNodeID NodeID = "init"

const (
	NodeActivity    NodeKind = "activity"
	NodeParallel    NodeKind = "parallel"
	NodeSubPipeline NodeKind = "subpipeline"
	NodeGate        NodeKind = "gate"

	ActivityRemote   ActivityKind = "remote"
	ActivityMutation ActivityKind = "mutation"
)

const (
	Second int64 = 1000
	Minute       = Second * 60
	Hour         = Minute * 60
)

var (
	ErrPlanEmpty           = errors.New("plan has no nodes")
	ErrNodeIDEmpty         = errors.New("node ID empty")
	ErrDuplicateNode       = errors.New("duplicate node ID")
	ErrUnknownDependency   = errors.New("dependency not in plan")
	ErrPlanCycle           = errors.New("plan contains a cycle")
	ErrActivityRequired    = errors.New("activity node has no activity spec")
	ErrUnknownBindingNode  = errors.New("binding references unknown node")
	ErrBindingNotAncestor  = errors.New(
		"binding references a node that is not a completed predecessor",
	)
	ErrUnknownOutput      = errors.New("binding references undeclared output")
	ErrBindingTypeMismatch = errors.New(
		"binding type does not match declared output type",
	)
	ErrScriptEmpty      = errors.New("remote activity script empty")
	ErrMutationRequired = errors.New("mutation activity has no operation")
	ErrMutationShape    = errors.New(
		"mutation must carry exactly one operation",
	)
	ErrInvalidValueType = errors.New("invalid value type")
)

// Literal creates a binding carrying a literal value
func Literal(v any) Binding {
	return Binding{Value: v}
}

// FromOutput creates a binding reading the named output of another node
func FromOutput(node NodeID, output Name) Binding {
	return Binding{FromNode: node, Output: output}
}

// IsRef reports whether the binding reads another node's output
func (b Binding) IsRef() bool {
	return b.FromNode != ""
}

// GetNode returns the node with the given ID, or nil
func (p *Plan) GetNode(id NodeID) *Node {
	return p.Nodes[id]
}

// Validate checks the structural integrity of the plan: IDs, dependency
// references, acyclicity, activity shapes, and binding legality. Bad input
// shapes fail here, at graph-construction time, before any execution
func (p *Plan) Validate() error {
	if len(p.Nodes) == 0 {
		return ErrPlanEmpty
	}

	for _, id := range p.Order {
		node, ok := p.Nodes[id]
		if !ok || node.ID != id {
			return fmt.Errorf("%w: %s", ErrUnknownDependency, id)
		}
		if err := p.validateNode(node); err != nil {
			return err
		}
	}

	if p.hasCycle() {
		return ErrPlanCycle
	}

	ancestors := p.ancestorSets()
	for _, id := range p.Order {
		if err := p.validateBindings(p.Nodes[id], ancestors); err != nil {
			return err
		}
	}

	if p.Compensation != nil {
		return p.Compensation.Validate()
	}
	return nil
}

func (p *Plan) validateNode(node *Node) error {
	if node.ID == "" {
		return ErrNodeIDEmpty
	}
	for _, dep := range node.DependsOn {
		if _, ok := p.Nodes[dep]; !ok {
			return fmt.Errorf("%w: %s -> %s", ErrUnknownDependency,
				node.ID, dep)
		}
	}

	switch node.Kind {
	case NodeActivity:
		return p.validateActivity(node)
	case NodeParallel, NodeSubPipeline:
		for _, child := range node.Children {
			if _, ok := p.Nodes[child]; !ok {
				return fmt.Errorf("%w: %s -> %s", ErrUnknownDependency,
					node.ID, child)
			}
		}
		return nil
	case NodeGate:
		return nil
	}
	return fmt.Errorf("invalid node kind: %s", node.Kind)
}

func (p *Plan) validateActivity(node *Node) error {
	spec := node.Activity
	if spec == nil {
		return fmt.Errorf("%w: %s", ErrActivityRequired, node.ID)
	}

	switch spec.Kind {
	case ActivityRemote:
		if spec.Script == "" {
			return fmt.Errorf("%w: %s", ErrScriptEmpty, node.ID)
		}
	case ActivityMutation:
		if spec.Mutation == nil {
			return fmt.Errorf("%w: %s", ErrMutationRequired, node.ID)
		}
		if err := spec.Mutation.Validate(); err != nil {
			return fmt.Errorf("%w: %s", err, node.ID)
		}
	default:
		return fmt.Errorf("invalid activity kind: %s", spec.Kind)
	}

	for name, out := range spec.Outputs {
		if out != "" && !out.Valid() {
			return fmt.Errorf("%w: %s.%s", ErrInvalidValueType,
				node.ID, name)
		}
	}
	return nil
}

// validateBindings enforces the parallel-isolation rule: a node may only
// read outputs of its strict ancestors, so sibling branches can never
// depend on each other's completion order
func (p *Plan) validateBindings(
	node *Node, ancestors map[NodeID]map[NodeID]bool,
) error {
	if node.Activity == nil {
		return nil
	}

	check := func(b Binding, declared ValueType) error {
		if !b.IsRef() {
			return nil
		}
		if b.FromNode == InitNodeID {
			return nil
		}
		src, ok := p.Nodes[b.FromNode]
		if !ok {
			return fmt.Errorf("%w: %s -> %s", ErrUnknownBindingNode,
				node.ID, b.FromNode)
		}
		if !ancestors[node.ID][b.FromNode] {
			return fmt.Errorf("%w: %s -> %s", ErrBindingNotAncestor,
				node.ID, b.FromNode)
		}
		if src.Activity == nil {
			return fmt.Errorf("%w: %s.%s", ErrUnknownOutput,
				b.FromNode, b.Output)
		}
		outType, ok := src.Activity.Outputs[b.Output]
		if !ok {
			return fmt.Errorf("%w: %s.%s", ErrUnknownOutput,
				b.FromNode, b.Output)
		}
		if declared != "" && declared != TypeAny &&
			outType != "" && outType != TypeAny && declared != outType {
			return fmt.Errorf("%w: %s.%s (%s != %s)",
				ErrBindingTypeMismatch, b.FromNode, b.Output,
				declared, outType)
		}
		return nil
	}

	if err := check(node.Activity.Host, TypeString); err != nil {
		return err
	}
	for _, param := range node.Activity.Params {
		if err := check(param.Binding, param.Type); err != nil {
			return err
		}
	}
	return nil
}

func (p *Plan) hasCycle() bool {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := map[NodeID]int{}

	var visit func(id NodeID) bool
	visit = func(id NodeID) bool {
		switch state[id] {
		case visiting:
			return true
		case done:
			return false
		}
		state[id] = visiting
		for _, dep := range p.Nodes[id].DependsOn {
			if visit(dep) {
				return true
			}
		}
		state[id] = done
		return false
	}

	for _, id := range p.Order {
		if visit(id) {
			return true
		}
	}
	return false
}

// ancestorSets computes, for each node, the set of nodes reachable by
// following DependsOn edges transitively
func (p *Plan) ancestorSets() map[NodeID]map[NodeID]bool {
	res := map[NodeID]map[NodeID]bool{}

	var collect func(id NodeID) map[NodeID]bool
	collect = func(id NodeID) map[NodeID]bool {
		if set, ok := res[id]; ok {
			return set
		}
		set := map[NodeID]bool{}
		res[id] = set
		for _, dep := range p.Nodes[id].DependsOn {
			set[dep] = true
			for anc := range collect(dep) {
				set[anc] = true
			}
		}
		return set
	}

	for _, id := range p.Order {
		collect(id)
	}
	return res
}
