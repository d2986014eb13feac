package helpers

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kode4food/timebox"
	"github.com/stretchr/testify/assert"

	"github.com/coastline-io/flotilla/internal/config"
	"github.com/coastline-io/flotilla/internal/engine"
	"github.com/coastline-io/flotilla/internal/topology"
)

// TestEngineEnv holds all the components needed for engine testing
type TestEngineEnv struct {
	Engine        *engine.Engine
	Topology      *topology.Store
	Redis         *miniredis.Miniredis
	Runner        *MockRunner
	Config        *config.Config
	EventHub      *timebox.EventHub
	Cleanup       func()
	engineStore   *timebox.Store
	flowStore     *timebox.Store
	topologyStore *timebox.Store
}

// NewTestConfig creates a default configuration tightened for tests: fast
// remote polling, short shutdown, debug logging
func NewTestConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.LogLevel = "debug"
	cfg.ActivityTimeout = 5000
	cfg.PollInterval = 20
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.Watch.PollInterval = 50 * time.Millisecond
	cfg.Watch.ConfirmCycles = 2
	cfg.Watch.Cooldown = time.Minute
	return cfg
}

// NewTestEngine creates a fully configured test engine environment with an
// in-memory Redis backend and a mock job runner
func NewTestEngine(t *testing.T) *TestEngineEnv {
	t.Helper()

	server, err := miniredis.Run()
	assert.NoError(t, err)

	tb, err := timebox.NewTimebox(timebox.Config{
		MaxRetries: timebox.DefaultMaxRetries,
		CacheSize:  100,
		Workers:    true,
	})
	assert.NoError(t, err)

	cfg := NewTestConfig()
	cfg.EngineStore.Addr = server.Addr()
	cfg.EngineStore.Prefix = "test-engine"
	cfg.FlowStore.Addr = server.Addr()
	cfg.FlowStore.Prefix = "test-flow"
	cfg.TopologyStore.Addr = server.Addr()
	cfg.TopologyStore.Prefix = "test-topology"

	engineStore, err := tb.NewStore(cfg.EngineStore)
	assert.NoError(t, err)

	flowStore, err := tb.NewStore(cfg.FlowStore)
	assert.NoError(t, err)

	topologyStore, err := tb.NewStore(cfg.TopologyStore)
	assert.NoError(t, err)

	topo := topology.NewStore(topologyStore)
	runner := NewMockRunner()

	hub := tb.GetHub()
	eng := engine.New(engineStore, flowStore, topo, runner, hub, cfg)

	cleanup := func() {
		_ = eng.Stop()
		_ = tb.Close()
		server.Close()
	}

	return &TestEngineEnv{
		Engine:        eng,
		Topology:      topo,
		Redis:         server,
		Runner:        runner,
		Config:        cfg,
		EventHub:      hub,
		Cleanup:       cleanup,
		engineStore:   engineStore,
		flowStore:     flowStore,
		topologyStore: topologyStore,
	}
}

// NewEngineInstance creates a new engine instance sharing the same stores
// and mock runner. Used to simulate process restart after crash
func (e *TestEngineEnv) NewEngineInstance() *engine.Engine {
	return engine.New(
		e.engineStore, e.flowStore, e.Topology, e.Runner, e.EventHub,
		e.Config,
	)
}

// WithTestEnv creates a test engine environment, executes the provided
// function with it, and ensures cleanup happens automatically
func WithTestEnv(t *testing.T, fn func(*TestEngineEnv)) {
	t.Helper()
	testEnv := NewTestEngine(t)
	defer testEnv.Cleanup()
	fn(testEnv)
}

// WithStartedEnv creates a test environment, starts the engine, executes
// the provided function, and ensures cleanup happens automatically
func WithStartedEnv(t *testing.T, fn func(*TestEngineEnv)) {
	t.Helper()
	WithTestEnv(t, func(env *TestEngineEnv) {
		env.Engine.Start()
		fn(env)
	})
}
