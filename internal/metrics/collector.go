// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/event"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 图谱指标
	graphNodes prometheus.Gauge
	graphEdges prometheus.Gauge

	// 记忆指标
	memoryRecords prometheus.Gauge

	// 事件指标
	eventsPublished *prometheus.CounterVec

	// 检索指标
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	retrievalDuration prometheus.Histogram

	// 规则指标
	ruleExecutions *prometheus.CounterVec

	// 增强指标
	enhancementTasks *prometheus.CounterVec

	logger *zap.Logger
	subID  string
	bus    event.Bus
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 图谱指标
	c.graphNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "graph_nodes",
		Help:      "Current number of knowledge graph nodes",
	})

	c.graphEdges = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "graph_edges",
		Help:      "Current number of knowledge graph edges",
	})

	// 记忆指标
	c.memoryRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "memory_records",
		Help:      "Current number of memory records",
	})

	// 事件指标
	c.eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of events published on the bus",
		},
		[]string{"type"},
	)

	// 检索指标
	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	c.retrievalDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "retrieval_duration_seconds",
		Help:      "Retrieval pipeline duration in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	// 规则指标
	c.ruleExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_executions_total",
			Help:      "Total number of rule executions",
		},
		[]string{"result"}, // result: success, failure
	)

	// 增强指标
	c.enhancementTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enhancement_tasks_total",
			Help:      "Total number of enhancement task transitions",
		},
		[]string{"status"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🔌 事件桥接
// =============================================================================

// Observe 订阅总线，把事件流转换为指标。重复调用无效果。
func (c *Collector) Observe(bus event.Bus) {
	if c.subID != "" || bus == nil {
		return
	}
	c.bus = bus
	c.subID = bus.Subscribe(event.TypeAny, c.handle)
}

// Unobserve 取消订阅。
func (c *Collector) Unobserve() {
	if c.subID == "" {
		return
	}
	c.bus.Unsubscribe(c.subID)
	c.subID = ""
}

// handle 按事件类型更新对应指标。
func (c *Collector) handle(ev event.Event) {
	c.eventsPublished.WithLabelValues(string(ev.Type)).Inc()

	switch ev.Type {
	case "cache_hit":
		c.RecordCacheHit("retrieval")
	case "retrieval_completed":
		c.RecordCacheMiss("retrieval")
		if d, ok := ev.Data["duration_seconds"].(float64); ok {
			c.retrievalDuration.Observe(d)
		}
	case "rule_executed":
		result := "failure"
		if ok, _ := ev.Data["success"].(bool); ok {
			result = "success"
		}
		c.ruleExecutions.WithLabelValues(result).Inc()
	case "enhancement_task_queued":
		c.enhancementTasks.WithLabelValues("pending").Inc()
	case "enhancement_task_cancelled":
		c.enhancementTasks.WithLabelValues("cancelled").Inc()
	case "enhancement_completed":
		c.enhancementTasks.WithLabelValues("completed").Inc()
	case "enhancement_failed":
		c.enhancementTasks.WithLabelValues("failed").Inc()
	}
}

// =============================================================================
// 🎯 指标记录
// =============================================================================

// SetGraphSize 记录图谱规模
func (c *Collector) SetGraphSize(nodes, edges int) {
	c.graphNodes.Set(float64(nodes))
	c.graphEdges.Set(float64(edges))
}

// SetMemoryRecords 记录记忆存储规模
func (c *Collector) SetMemoryRecords(count int) {
	c.memoryRecords.Set(float64(count))
}

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordRetrievalDuration 记录检索耗时
func (c *Collector) RecordRetrievalDuration(seconds float64) {
	c.retrievalDuration.Observe(seconds)
}
