// Package memflow provides a top-level convenience entry point wiring the
// knowledge graph, memory store, retrieval engine, rule engine and
// enhancement coordinator into one engine.
//
// Usage:
//
//	import "github.com/BaSui01/memflow"
//
//	eng, err := memflow.New(nil)
//	eng, err := memflow.New(cfg, memflow.WithLogger(logger))
//	eng, err := memflow.New(cfg, memflow.WithSnapshotStore(store))
//
// The engine owns no global state: every instance is explicitly constructed
// and independently startable. Background loops (expiry sweep, cache purge,
// enhancement queue drain, auto-persist) run between Start and Stop.
package memflow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/enhance"
	"github.com/BaSui01/memflow/event"
	"github.com/BaSui01/memflow/graph"
	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/internal/telemetry"
	"github.com/BaSui01/memflow/memory"
	"github.com/BaSui01/memflow/persist"
	"github.com/BaSui01/memflow/retrieval"
	"github.com/BaSui01/memflow/rules"
)

// Engine bundles the five collaborating stores behind one lifecycle.
// Fields are exported so callers can reach each component directly;
// the engine itself only adds wiring, startup and shutdown.
type Engine struct {
	Bus       event.Bus
	Graph     *graph.Store
	Memory    *memory.Store
	Retrieval *retrieval.Engine
	Rules     *rules.Engine
	Enhance   *enhance.Coordinator

	logger    *zap.Logger
	collector *metrics.Collector
	snapshots persist.SnapshotStore
	auto      *persist.AutoPersister
	tracing   *telemetry.Providers
	cancel    context.CancelFunc
}

type options struct {
	logger    *zap.Logger
	clock     func() time.Time
	snapshots persist.SnapshotStore
	metrics   bool
	namespace string
}

// Option configures the engine created by [New].
type Option func(*options)

// WithLogger sets a custom zap logger. Without it the logger is built
// from the Log section of the config.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock injects a clock for all time-dependent components. Tests use
// this to drive expiry, cache TTL and pattern staleness deterministically.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// WithSnapshotStore sets the snapshot store used for persistence. It takes
// precedence over the Redis store configured in the Persist/Redis sections.
func WithSnapshotStore(store persist.SnapshotStore) Option {
	return func(o *options) { o.snapshots = store }
}

// WithMetrics enables a Prometheus collector under the given namespace,
// bridged from the event bus.
func WithMetrics(namespace string) Option {
	return func(o *options) {
		o.metrics = true
		if namespace != "" {
			o.namespace = namespace
		}
	}
}

// New constructs a fully wired engine from cfg. A nil cfg uses defaults.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	o := options{namespace: "memflow"}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		built, err := cfg.Log.BuildLogger()
		if err != nil {
			return nil, fmt.Errorf("memflow: failed to build logger: %w", err)
		}
		logger = built
	}

	bus := event.NewBus(logger)

	graphStore := graph.NewStore(graph.Config{
		MaxNodes: cfg.Graph.MaxNodes,
		MaxEdges: cfg.Graph.MaxEdges,
		Now:      o.clock,
	}, bus, logger)

	memoryStore := memory.NewStore(memory.Config{
		MaxRecords:    cfg.Memory.MaxRecords,
		SweepInterval: cfg.Memory.SweepInterval,
		Now:           o.clock,
	}, bus, logger)

	retrievalEngine := retrieval.NewEngine(memoryStore, graphStore, retrieval.Config{
		CacheTTL:     cfg.Retrieval.CacheTTL,
		DefaultLimit: cfg.Retrieval.DefaultLimit,
		Now:          o.clock,
	}, bus, logger)

	ruleEngine := rules.NewEngine(bus, logger)

	coordinator := enhance.NewCoordinator(retrievalEngine, memoryStore, enhance.Config{
		DrainInterval:        cfg.Enhance.DrainInterval,
		TasksPerSecond:       cfg.Enhance.TasksPerSecond,
		ImprovementThreshold: cfg.Enhance.ImprovementThreshold,
		RetrievalLimit:       cfg.Enhance.RetrievalLimit,
		Now:                  o.clock,
	}, bus, logger)

	eng := &Engine{
		Bus:       bus,
		Graph:     graphStore,
		Memory:    memoryStore,
		Retrieval: retrievalEngine,
		Rules:     ruleEngine,
		Enhance:   coordinator,
		logger:    logger.With(zap.String("component", "memflow")),
	}

	if o.metrics {
		eng.collector = metrics.NewCollector(o.namespace, logger)
		eng.collector.Observe(bus)
	}

	if cfg.Telemetry.Enabled {
		providers, err := telemetry.Init(cfg.Telemetry, logger)
		if err != nil {
			return nil, fmt.Errorf("memflow: failed to initialize telemetry: %w", err)
		}
		eng.tracing = providers
	}

	eng.snapshots = o.snapshots
	if eng.snapshots == nil && cfg.Persist.Enabled {
		store, err := persist.NewRedisSnapshotStore(persist.RedisConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			KeyPrefix:    cfg.Redis.KeyPrefix,
			TTL:          cfg.Persist.SnapshotTTL,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("memflow: failed to build snapshot store: %w", err)
		}
		eng.snapshots = store
	}

	if eng.snapshots != nil && cfg.Persist.Enabled {
		eng.auto = persist.NewAutoPersister(eng.snapshots, func() persist.Snapshot {
			return persist.Capture(graphStore, memoryStore, coordinator)
		}, cfg.Persist.Debounce, bus, logger)
	}

	return eng, nil
}

// Start launches the background loops: memory expiry sweep, retrieval
// cache purge, enhancement queue drain and, when configured, auto-persist.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.Memory.StartSweeper(ctx)
	e.Retrieval.StartCachePurge(ctx)
	e.Enhance.Start(ctx)
	if e.auto != nil {
		e.auto.Start(ctx)
	}
	if e.collector != nil {
		go e.refreshGauges(ctx)
	}
	e.logger.Info("engine started")
}

// refreshGauges periodically pushes store sizes into the Prometheus gauges.
func (e *Engine) refreshGauges(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.collector.SetGraphSize(e.Graph.NodeCount(), e.Graph.EdgeCount())
			e.collector.SetMemoryRecords(e.Memory.Count())
		}
	}
}

// Stop shuts the background loops down in reverse order. The auto-persister
// flushes a final snapshot before returning.
func (e *Engine) Stop() {
	if e.auto != nil {
		e.auto.Stop()
	}
	e.Enhance.Stop()
	e.Retrieval.StopCachePurge()
	e.Memory.StopSweeper()
	if e.collector != nil {
		e.collector.Unobserve()
	}
	if e.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.tracing.Shutdown(ctx); err != nil {
			e.logger.Warn("telemetry shutdown", zap.Error(err))
		}
		cancel()
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.logger.Info("engine stopped")
}

// Snapshot captures the full state and saves it to the snapshot store.
func (e *Engine) Snapshot(ctx context.Context) (persist.Snapshot, error) {
	snap := persist.Capture(e.Graph, e.Memory, e.Enhance)
	if e.snapshots == nil {
		return snap, fmt.Errorf("memflow: no snapshot store configured")
	}
	if err := e.snapshots.SaveSnapshot(ctx, snap); err != nil {
		return snap, err
	}
	return snap, nil
}

// Restore loads the latest snapshot from the snapshot store and restores
// it into the engine's stores.
func (e *Engine) Restore(ctx context.Context) error {
	if e.snapshots == nil {
		return fmt.Errorf("memflow: no snapshot store configured")
	}
	snap, err := e.snapshots.LatestSnapshot(ctx)
	if err != nil {
		return err
	}
	return persist.Restore(snap, e.Graph, e.Memory, e.Enhance)
}
