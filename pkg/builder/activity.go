package builder

import (
	"github.com/coastline-io/flotilla/pkg/api"
)

// Activity builds one atomic unit of work within a pipeline
type Activity struct {
	id   api.NodeID
	spec api.ActivitySpec
}

const (
	DefaultTimeout      = 5 * api.Minute
	DefaultPollInterval = 2 * api.Second
)

// Remote creates a builder for an activity that dispatches a script to a
// host and polls the job service for its terminal status
func Remote(id api.NodeID, script string) *Activity {
	return &Activity{
		id: id,
		spec: api.ActivitySpec{
			Name:      string(id),
			Kind:      api.ActivityRemote,
			Script:    script,
			TimeoutMs: DefaultTimeout,
			PollMs:    DefaultPollInterval,
		},
	}
}

// Mutate creates a builder for an activity that commits a single topology
// store operation
func Mutate(id api.NodeID, op api.MutationOp) *Activity {
	return &Activity{
		id: id,
		spec: api.ActivitySpec{
			Name:     string(id),
			Kind:     api.ActivityMutation,
			Mutation: &op,
		},
	}
}

// WithName sets a human-readable name for the activity
func (a *Activity) WithName(name string) *Activity {
	res := *a
	res.spec.Name = name
	return &res
}

// OnHost sets the target host binding for a remote activity
func (a *Activity) OnHost(b api.Binding) *Activity {
	res := *a
	res.spec.Host = b
	return &res
}

// WithParam declares an untyped input parameter
func (a *Activity) WithParam(name api.Name, b api.Binding) *Activity {
	return a.WithTypedParam(name, b, api.TypeAny)
}

// WithTypedParam declares an input parameter with a declared type, checked
// against the source output at build time
func (a *Activity) WithTypedParam(
	name api.Name, b api.Binding, t api.ValueType,
) *Activity {
	res := *a
	res.spec.Params = cloneParams(a.spec.Params)
	res.spec.Params[name] = &api.Param{Binding: b, Type: t}
	return &res
}

// WithOutput declares an output the activity records into the flow context
func (a *Activity) WithOutput(name api.Name, t api.ValueType) *Activity {
	res := *a
	res.spec.Outputs = cloneOutputs(a.spec.Outputs)
	res.spec.Outputs[name] = t
	return &res
}

// WithTimeout sets the execution budget in milliseconds
func (a *Activity) WithTimeout(ms int64) *Activity {
	res := *a
	res.spec.TimeoutMs = ms
	return &res
}

// WithPollInterval sets the remote status polling interval in milliseconds
func (a *Activity) WithPollInterval(ms int64) *Activity {
	res := *a
	res.spec.PollMs = ms
	return &res
}

// NonCritical marks the activity as advisory: its failure is recorded but
// does not fail the flow
func (a *Activity) NonCritical() *Activity {
	res := *a
	res.spec.NonCritical = true
	return &res
}

func (a *Activity) emit(
	e *emitter, sc *scope, deps []api.NodeID,
) (api.NodeID, error) {
	id := api.NodeID(sc.prefix) + a.id
	spec := a.spec
	spec.Host = resolveBinding(sc, spec.Host)
	if len(spec.Params) > 0 {
		params := cloneParams(spec.Params)
		for name, param := range params {
			p := *param
			p.Binding = resolveBinding(sc, p.Binding)
			params[name] = &p
		}
		spec.Params = params
	}

	if err := e.add(&api.Node{
		ID:        id,
		Kind:      api.NodeActivity,
		DependsOn: deps,
		Activity:  &spec,
	}); err != nil {
		return "", err
	}
	sc.bind(a.id, id)
	return id, nil
}

// resolveBinding rewrites a local node reference to its namespaced ID.
// Unknown names are left alone for plan validation to report
func resolveBinding(sc *scope, b api.Binding) api.Binding {
	if !b.IsRef() || b.FromNode == api.InitNodeID {
		return b
	}
	if full, ok := sc.resolve(b.FromNode); ok {
		b.FromNode = full
	}
	return b
}

func cloneParams(src map[api.Name]*api.Param) map[api.Name]*api.Param {
	res := make(map[api.Name]*api.Param, len(src)+1)
	for k, v := range src {
		res[k] = v
	}
	return res
}

func cloneOutputs(
	src map[api.Name]api.ValueType,
) map[api.Name]api.ValueType {
	res := make(map[api.Name]api.ValueType, len(src)+1)
	for k, v := range src {
		res[k] = v
	}
	return res
}
