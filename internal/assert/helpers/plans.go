package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coastline-io/flotilla/pkg/api"
	"github.com/coastline-io/flotilla/pkg/builder"
)

// TestHost is the literal host used by fixture plans
const TestHost = "10.0.0.1"

// MustBuild builds the pipeline and fails the test on error
func MustBuild(t *testing.T, p *builder.Pipeline) *api.Plan {
	t.Helper()
	plan, err := p.Build()
	assert.NoError(t, err)
	return plan
}

// RemoteOn creates a remote activity fixture targeting the test host
func RemoteOn(id api.NodeID, script string) *builder.Activity {
	return builder.Remote(id, script).
		OnHost(api.Literal(TestHost)).
		WithPollInterval(10)
}

// SinglePlan builds a one-activity plan running the given script
func SinglePlan(t *testing.T, script string) *api.Plan {
	t.Helper()
	return MustBuild(t, builder.NewPipeline("single").
		Then(RemoteOn("run", script)))
}

// ChainPlan builds a two-activity plan where the second activity reads the
// first one's output
func ChainPlan(t *testing.T) *api.Plan {
	t.Helper()
	return MustBuild(t, builder.NewPipeline("chain").
		Then(RemoteOn("first", "first.sh").
			WithOutput("val", api.TypeString)).
		Then(RemoteOn("second", "second.sh").
			WithParam("input", api.FromOutput("first", "val"))))
}

// GatePlan builds a plan that pauses between two activities
func GatePlan(t *testing.T) *api.Plan {
	t.Helper()
	return MustBuild(t, builder.NewPipeline("gated").
		Then(RemoteOn("before", "before.sh")).
		Gate("approve").
		Then(RemoteOn("after", "after.sh")))
}
