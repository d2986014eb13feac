package builder

import (
	"github.com/coastline-io/flotilla/pkg/api"
)

// Parallel builds a group of branches that run concurrently. The group
// completes when every branch reaches a terminal status; by default any
// branch failure fails the group once the others settle
type Parallel struct {
	id         api.NodeID
	branches   []Unit
	ceiling    int
	bestEffort bool
}

// NewParallel creates a new parallel group builder
func NewParallel(id api.NodeID) *Parallel {
	return &Parallel{id: id}
}

// WithBranch appends a branch to the group. Branches are isolated: nodes
// in one branch may not read outputs of another
func (p *Parallel) WithBranch(u Unit) *Parallel {
	res := *p
	res.branches = make([]Unit, len(p.branches)+1)
	copy(res.branches, p.branches)
	res.branches[len(p.branches)] = u
	return &res
}

// WithCeiling bounds how many of the group's nodes may run at once. Zero
// means unbounded
func (p *Parallel) WithCeiling(n int) *Parallel {
	res := *p
	res.ceiling = n
	return &res
}

// BestEffort makes the group complete successfully even when some branches
// fail. Failed branches are recorded but do not fail the flow
func (p *Parallel) BestEffort() *Parallel {
	res := *p
	res.bestEffort = true
	return &res
}

// emit flattens the group: every branch starts from the group's own
// dependencies and the join node waits on all branch tails
func (p *Parallel) emit(
	e *emitter, sc *scope, deps []api.NodeID,
) (api.NodeID, error) {
	joinID := api.NodeID(sc.prefix) + p.id

	// Branches share one scope: a sibling reference resolves to its real
	// node and is then rejected by the ancestor check during validation
	inner := newScope(sc, string(joinID)+".")
	start := len(e.order)
	var tails []api.NodeID
	for _, branch := range p.branches {
		tail, err := branch.emit(e, inner, deps)
		if err != nil {
			return "", err
		}
		tails = append(tails, tail)
	}
	e.setGroup(start, joinID)

	if err := e.add(&api.Node{
		ID:         joinID,
		Kind:       api.NodeParallel,
		DependsOn:  tails,
		Children:   tails,
		BestEffort: p.bestEffort,
		Ceiling:    p.ceiling,
	}); err != nil {
		return "", err
	}
	sc.bind(p.id, joinID)
	return joinID, nil
}
