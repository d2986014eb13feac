package builder

import (
	"errors"
	"fmt"

	"github.com/coastline-io/flotilla/pkg/api"
)

type (
	// Unit is anything that can be appended to a pipeline: an activity, a
	// parallel group, a pause gate, or a nested pipeline
	Unit interface {
		emit(e *emitter, scope *scope, deps []api.NodeID) (api.NodeID, error)
	}

	// Pipeline composes units in sequence. A pipeline used as a unit inside
	// another pipeline becomes a sub-pipeline: its nodes are namespaced
	// under the pipeline ID and joined by a single completion node
	Pipeline struct {
		id           api.NodeID
		units        []Unit
		compensation *Pipeline
	}

	// gate is a pause point. The flow suspends when the gate becomes ready
	// and stays suspended until an external resume releases it
	gate struct {
		id api.NodeID
	}

	emitter struct {
		nodes map[api.NodeID]*api.Node
		order []api.NodeID
	}

	// scope maps the local node names of one pipeline level to their fully
	// namespaced IDs so bindings written against local names still resolve
	// after flattening
	scope struct {
		parent *scope
		prefix string
		names  map[api.NodeID]api.NodeID
	}
)

var ErrDuplicateUnit = errors.New("duplicate node ID in pipeline")

// NewPipeline creates a new pipeline builder with the given identifier
func NewPipeline(id api.NodeID) *Pipeline {
	return &Pipeline{id: id}
}

// Then appends a unit that runs after everything before it has completed
func (p *Pipeline) Then(u Unit) *Pipeline {
	res := *p
	res.units = make([]Unit, len(p.units)+1)
	copy(res.units, p.units)
	res.units[len(p.units)] = u
	return &res
}

// Gate appends a pause point. The flow suspends when execution reaches it
func (p *Pipeline) Gate(id api.NodeID) *Pipeline {
	return p.Then(&gate{id: id})
}

// WithCompensation attaches a rollback pipeline started when the flow is
// cancelled after partial completion
func (p *Pipeline) WithCompensation(c *Pipeline) *Pipeline {
	res := *p
	res.compensation = c
	return &res
}

// Build flattens the pipeline into a validated plan
func (p *Pipeline) Build() (*api.Plan, error) {
	e := &emitter{nodes: map[api.NodeID]*api.Node{}}
	sc := newScope(nil, "")

	var deps []api.NodeID
	for _, u := range p.units {
		tail, err := u.emit(e, sc, deps)
		if err != nil {
			return nil, err
		}
		deps = []api.NodeID{tail}
	}

	plan := &api.Plan{
		ID:    string(p.id),
		Nodes: e.nodes,
		Order: e.order,
	}
	if p.compensation != nil {
		comp, err := p.compensation.Build()
		if err != nil {
			return nil, err
		}
		plan.Compensation = comp
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// emit flattens the pipeline as a sub-pipeline unit: members run in
// sequence under a namespaced prefix and a join node marks completion
func (p *Pipeline) emit(
	e *emitter, sc *scope, deps []api.NodeID,
) (api.NodeID, error) {
	joinID := api.NodeID(sc.prefix) + p.id
	inner := newScope(sc, string(joinID)+".")

	start := len(e.order)
	tails := deps
	var children []api.NodeID
	for _, u := range p.units {
		tail, err := u.emit(e, inner, tails)
		if err != nil {
			return "", err
		}
		tails = []api.NodeID{tail}
		children = append(children, tail)
	}
	e.setGroup(start, joinID)

	if err := e.add(&api.Node{
		ID:        joinID,
		Kind:      api.NodeSubPipeline,
		DependsOn: tails,
		Children:  children,
	}); err != nil {
		return "", err
	}
	sc.bind(p.id, joinID)
	return joinID, nil
}

func (g *gate) emit(
	e *emitter, sc *scope, deps []api.NodeID,
) (api.NodeID, error) {
	id := api.NodeID(sc.prefix) + g.id
	if err := e.add(&api.Node{
		ID:        id,
		Kind:      api.NodeGate,
		DependsOn: deps,
	}); err != nil {
		return "", err
	}
	sc.bind(g.id, id)
	return id, nil
}

func (e *emitter) add(n *api.Node) error {
	if _, ok := e.nodes[n.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateUnit, n.ID)
	}
	e.nodes[n.ID] = n
	e.order = append(e.order, n.ID)
	return nil
}

// setGroup assigns the join node to every node emitted since the given
// order position that does not already belong to a nearer group
func (e *emitter) setGroup(from int, join api.NodeID) {
	for _, id := range e.order[from:] {
		if n := e.nodes[id]; n.Group == "" {
			n.Group = join
		}
	}
}

func newScope(parent *scope, prefix string) *scope {
	return &scope{
		parent: parent,
		prefix: prefix,
		names:  map[api.NodeID]api.NodeID{},
	}
}

func (s *scope) bind(local, full api.NodeID) {
	s.names[local] = full
}

// resolve maps a local node name to its namespaced ID, searching enclosing
// pipeline levels outward
func (s *scope) resolve(local api.NodeID) (api.NodeID, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if full, ok := sc.names[local]; ok {
			return full, true
		}
	}
	return "", false
}
