package engine

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/coastline-io/flotilla/internal/config"
	"github.com/coastline-io/flotilla/pkg/log"
)

// MemoryMonitor watches the flow store's Redis memory. Terminal flows are
// archived off the hot store at retirement, so sustained pressure here
// means the active roster itself has outgrown the instance
type MemoryMonitor struct {
	client *redis.Client
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

const (
	memoryCheckInterval = time.Minute
	memoryWarnRatio     = 0.8
)

var flowStoreMemory = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "flotilla",
	Name:      "flow_store_memory_ratio",
	Help:      "Used fraction of the flow store's Redis maxmemory",
})

// NewMemoryMonitor creates a monitor over the flow store's Redis instance
func NewMemoryMonitor(cfg *config.Config) *MemoryMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryMonitor{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.FlowStore.Addr,
			Password: cfg.FlowStore.Password,
			DB:       cfg.FlowStore.DB,
		}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins the periodic memory check
func (m *MemoryMonitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop terminates the monitor and closes its Redis connection
func (m *MemoryMonitor) Stop() {
	m.cancel()
	m.wg.Wait()
	_ = m.client.Close()
}

func (m *MemoryMonitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(memoryCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.check()
		}
	}
}

func (m *MemoryMonitor) check() {
	info, err := m.client.Info(m.ctx, "memory").Result()
	if err != nil {
		slog.Warn("Failed to get Redis memory info", log.Error(err))
		return
	}

	used, max := parseMemoryInfo(info)
	if max == 0 {
		// No maxmemory configured; nothing to ratio against
		return
	}

	ratio := float64(used) / float64(max)
	flowStoreMemory.Set(ratio)

	if ratio >= memoryWarnRatio {
		slog.Warn("Flow store memory pressure",
			slog.Int64("used_bytes", used),
			slog.Int64("max_bytes", max))
	}
}

// parseMemoryInfo extracts used_memory and maxmemory from a Redis INFO
// memory section
func parseMemoryInfo(info string) (used, max int64) {
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "used_memory:"); ok {
			used, _ = strconv.ParseInt(v, 10, 64)
		} else if v, ok := strings.CutPrefix(line, "maxmemory:"); ok {
			max, _ = strconv.ParseInt(v, 10, 64)
		}
	}
	return used, max
}
