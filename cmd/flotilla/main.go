package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/kode4food/timebox"

	app "github.com/coastline-io/flotilla"
	"github.com/coastline-io/flotilla/internal/archive"
	"github.com/coastline-io/flotilla/internal/config"
	"github.com/coastline-io/flotilla/internal/engine"
	"github.com/coastline-io/flotilla/internal/exec"
	"github.com/coastline-io/flotilla/internal/server"
	"github.com/coastline-io/flotilla/internal/topology"
	"github.com/coastline-io/flotilla/internal/watcher"
	"github.com/coastline-io/flotilla/pkg/log"
)

type flotilla struct {
	cfg           *config.Config
	timebox       *timebox.Timebox
	engineStore   *timebox.Store
	flowStore     *timebox.Store
	topologyStore *timebox.Store
	topology      *topology.Store
	archiver      *archive.BlobArchiver
	engine        *engine.Engine
	memory        *engine.MemoryMonitor
	watcher       *watcher.Watcher
	apiServer     *server.Server
	httpServer    *http.Server
	quit          chan os.Signal
}

var (
	ErrCreateTimebox       = errors.New("failed to create timebox")
	ErrCreateEngineStore   = errors.New("failed to create engine store")
	ErrCreateFlowStore     = errors.New("failed to create flow store")
	ErrCreateTopologyStore = errors.New("failed to create topology store")
	ErrOpenArchive         = errors.New("failed to open flow archive")
)

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func main() {
	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	f := &flotilla{
		cfg:  cfg,
		quit: make(chan os.Signal, 1),
	}
	f.setupLogging()

	if err := f.run(); err != nil {
		slog.Error("Failed to start application", log.Error(err))
		os.Exit(1)
	}
}

func (f *flotilla) run() error {
	if err := f.initializeStores(); err != nil {
		return err
	}

	if err := f.initializeEngine(); err != nil {
		return err
	}
	f.initializeWatcher()
	f.startServer()

	signal.Notify(f.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(f.quit)
	<-f.quit

	f.shutdown()
	return nil
}

func (f *flotilla) setupLogging() {
	level, ok := logLevels[f.cfg.LogLevel]
	if !ok {
		level = slog.LevelInfo
	}

	env := os.Getenv("ENV")
	logger := log.NewWithLevel(app.Name, env, app.Version, level)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level)

	slog.Info("Flotilla starting",
		slog.String("log_level", f.cfg.LogLevel))

	slog.Info("Configuration loaded",
		slog.String("engine_redis_addr", f.cfg.EngineStore.Addr),
		slog.String("flow_redis_addr", f.cfg.FlowStore.Addr),
		slog.String("topology_redis_addr", f.cfg.TopologyStore.Addr),
		slog.String("job_service_url", f.cfg.JobServiceURL),
		slog.String("signal_feed_url", f.cfg.SignalFeedURL),
		slog.String("api_host", f.cfg.APIHost),
		slog.Int("api_port", f.cfg.APIPort))
}

func (f *flotilla) initializeStores() error {
	var err error

	f.timebox, err = timebox.NewTimebox(timebox.Config{
		MaxRetries: timebox.DefaultMaxRetries,
		CacheSize:  f.cfg.FlowCacheSize,
		Workers:    true,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreateTimebox, err)
	}

	f.engineStore, err = f.timebox.NewStore(f.cfg.EngineStore)
	if err != nil {
		_ = f.timebox.Close()
		return fmt.Errorf("%w: %w", ErrCreateEngineStore, err)
	}

	f.flowStore, err = f.timebox.NewStore(f.cfg.FlowStore)
	if err != nil {
		_ = f.timebox.Close()
		return fmt.Errorf("%w: %w", ErrCreateFlowStore, err)
	}

	f.topologyStore, err = f.timebox.NewStore(f.cfg.TopologyStore)
	if err != nil {
		_ = f.timebox.Close()
		return fmt.Errorf("%w: %w", ErrCreateTopologyStore, err)
	}

	return nil
}

func (f *flotilla) initializeEngine() error {
	f.topology = topology.NewStore(f.topologyStore)
	runner := exec.NewHTTPRunner(f.cfg.JobServiceURL)

	f.engine = engine.New(
		f.engineStore, f.flowStore, f.topology, runner,
		f.timebox.GetHub(), f.cfg,
	)

	if f.cfg.ArchiveURL != "" {
		ar, err := archive.New(
			context.Background(), f.cfg.ArchiveURL, app.Name,
		)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrOpenArchive, err)
		}
		f.archiver = ar
		f.engine.SetArchiver(ar)
	}

	f.engine.Start()

	f.memory = engine.NewMemoryMonitor(f.cfg)
	f.memory.Start()
	return nil
}

// initializeWatcher starts unattended remediation when a signal feed is
// configured. The watch aggregate shares the engine store
func (f *flotilla) initializeWatcher() {
	if f.cfg.SignalFeedURL == "" {
		slog.Info("Watcher disabled, no signal feed configured")
		return
	}

	feed := watcher.NewHTTPFeed(f.cfg.SignalFeedURL)
	f.watcher = watcher.New(
		f.engineStore, f.engine, f.topology, feed,
		remediationPlan, &f.cfg.Watch,
	)
	f.watcher.Start()
}

func (f *flotilla) startServer() {
	f.apiServer = server.NewServer(f.engine, f.watcher, f.timebox.GetHub())
	router := f.apiServer.SetupRoutes()

	f.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", f.cfg.APIHost, f.cfg.APIPort),
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", f.httpServer.Addr))
		err := f.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", log.Error(err))
		}
	}()
}

func (f *flotilla) shutdown() {
	slog.Info("Shutting down")

	ctx, cancel := context.WithTimeout(
		context.Background(), f.cfg.ShutdownTimeout,
	)
	defer cancel()

	if err := f.httpServer.Shutdown(ctx); err != nil {
		slog.Error("Shutdown failed", log.Error(err))
	}

	f.apiServer.CloseWebSockets()

	if f.watcher != nil {
		f.watcher.Stop()
	}
	f.memory.Stop()

	if err := f.engine.Stop(); err != nil {
		slog.Error("Engine shutdown failed", log.Error(err))
	}

	if f.archiver != nil {
		_ = f.archiver.Close()
	}

	_ = f.timebox.Close()

	slog.Info("Server exited")
}
