package helpers

import (
	"context"
	"sync"

	"github.com/coastline-io/flotilla/internal/watcher"
	"github.com/coastline-io/flotilla/pkg/api"
)

// MockFeed serves scripted health signals to the watcher under test
type MockFeed struct {
	mu      sync.Mutex
	signals []*api.HealthSignal
	err     error
}

var _ watcher.Feed = (*MockFeed)(nil)

// NewMockFeed creates an empty scripted feed
func NewMockFeed() *MockFeed {
	return &MockFeed{}
}

// Push appends signals to the feed. IDs must be monotonic, as they would
// be on the real stream
func (f *MockFeed) Push(signals ...*api.HealthSignal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, signals...)
}

// Fail makes every fetch return the given error until cleared with nil
func (f *MockFeed) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *MockFeed) FetchSince(
	_ context.Context, watermark int64,
) ([]*api.HealthSignal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	var res []*api.HealthSignal
	for _, s := range f.signals {
		if s.ID > watermark {
			res = append(res, s)
		}
	}
	return res, nil
}

// NewWatcher creates a watcher over the environment's engine and topology.
// The watch aggregate shares the engine store
func (e *TestEngineEnv) NewWatcher(
	feed watcher.Feed, plans watcher.PlanFactory,
) *watcher.Watcher {
	return watcher.New(
		e.engineStore, e.Engine, e.Topology, feed, plans, &e.Config.Watch,
	)
}
