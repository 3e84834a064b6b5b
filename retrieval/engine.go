package retrieval

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/memflow/event"
	"github.com/BaSui01/memflow/graph"
	"github.com/BaSui01/memflow/memory"
)

// 检索引擎发布的事件类型。
const (
	EventCacheHit           event.Type = "cache_hit"
	EventStrategyError      event.Type = "strategy_error"
	EventRetrievalCompleted event.Type = "retrieval_completed"
)

// 置信度混合权重：结果数量饱和度、平均重要度、平均文本相似度。
const (
	confidenceCountWeight      = 0.3
	confidenceImportanceWeight = 0.4
	confidenceTextWeight       = 0.3
	confidenceCountSaturation  = 10
	confidenceTextDefault      = 0.5
)

// Config 检索引擎配置。
type Config struct {
	// CacheTTL 结果缓存存活时间，0 表示默认 5 分钟。
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	// DefaultLimit 查询未指定 Limit 时的默认结果数。
	DefaultLimit int `yaml:"default_limit" json:"default_limit"`

	// Now 用于测试注入时钟，默认 time.Now。
	Now func() time.Time `yaml:"-" json:"-"`
}

// DefaultConfig 返回默认检索配置。
func DefaultConfig() Config {
	return Config{
		CacheTTL:     5 * time.Minute,
		DefaultLimit: 10,
	}
}

// strategyEntry 已注册策略及其权重与开关。
type strategyEntry struct {
	strategy Strategy
	weight   float64
	enabled  bool
}

// Engine 检索引擎：对记忆存储执行硬过滤，并行运行各加权策略，
// 合并排名后可选地展开图谱关联节点。
type Engine struct {
	store      *memory.Store
	graphStore *graph.Store

	mu         sync.RWMutex
	strategies map[string]*strategyEntry
	order      []string

	cache  *resultCache
	group  singleflight.Group
	tracer trace.Tracer

	defaultLimit int
	now          func() time.Time

	bus    event.Bus
	logger *zap.Logger
}

// NewEngine 创建检索引擎并注册四个内置策略及其默认权重。
// graphStore 可以为 nil，此时 IncludeRelated 不展开节点。
func NewEngine(store *memory.Store, graphStore *graph.Store, config Config, bus event.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if config.CacheTTL <= 0 {
		config.CacheTTL = def.CacheTTL
	}
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = def.DefaultLimit
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	e := &Engine{
		store:        store,
		graphStore:   graphStore,
		strategies:   make(map[string]*strategyEntry),
		cache:        newResultCache(config.CacheTTL, now),
		tracer:       otel.Tracer("github.com/BaSui01/memflow/retrieval"),
		defaultLimit: config.DefaultLimit,
		now:          now,
		bus:          bus,
		logger:       logger.With(zap.String("component", "retrieval_engine")),
	}

	e.RegisterStrategy(TextSimilarity{}, DefaultTextWeight)
	e.RegisterStrategy(ContextMatch{}, DefaultContextWeight)
	e.RegisterStrategy(TemporalRelevance{Now: now}, DefaultTemporalWeight)
	e.RegisterStrategy(Importance{}, DefaultImportanceWeight)
	return e
}

func (e *Engine) emit(eventType event.Type, data map[string]any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(event.Event{
		Type:      eventType,
		Source:    "retrieval_engine",
		Data:      data,
		Timestamp: e.now(),
	})
}

// RegisterStrategy 注册（或替换）一个策略。策略默认启用。
func (e *Engine) RegisterStrategy(strategy Strategy, weight float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	name := strategy.Name()
	if _, exists := e.strategies[name]; !exists {
		e.order = append(e.order, name)
	}
	e.strategies[name] = &strategyEntry{strategy: strategy, weight: weight, enabled: true}
}

// SetStrategyWeight 调整已注册策略的权重。
func (e *Engine) SetStrategyWeight(name string, weight float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.strategies[name]
	if !ok {
		return false
	}
	entry.weight = weight
	return true
}

// SetStrategyEnabled 启用或停用已注册策略。
func (e *Engine) SetStrategyEnabled(name string, enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.strategies[name]
	if !ok {
		return false
	}
	entry.enabled = enabled
	return true
}

// Retrieve 执行一次检索。相同查询在 TTL 窗口内命中缓存，
// 并发的相同查询通过 singleflight 合并为一次执行。
func (e *Engine) Retrieve(ctx context.Context, query Query) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "retrieval.Retrieve")
	defer span.End()

	key := query.cacheKey()

	if cached, ok := e.cache.get(key); ok {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		e.emit(EventCacheHit, map[string]any{"key": key})
		return cached, nil
	}
	span.SetAttributes(attribute.Bool("cache_hit", false))

	value, err, _ := e.group.Do(key, func() (any, error) {
		return e.retrieve(ctx, query, key)
	})
	if err != nil {
		return nil, err
	}

	result := value.(*Result)
	span.SetAttributes(
		attribute.Int("candidates", result.TotalCandidates),
		attribute.Int("results", len(result.Memories)),
	)
	return result, nil
}

// retrieve 运行完整的检索流水线（过滤 → 策略 → 合并 → 展开 → 置信度）。
func (e *Engine) retrieve(ctx context.Context, query Query, key string) (*Result, error) {
	started := e.now()

	candidates := e.filterCandidates(query)

	rankings := e.runStrategies(ctx, query, candidates)
	merged := e.mergeRankings(rankings)

	limit := query.Limit
	if limit <= 0 {
		limit = e.defaultLimit
	}
	total := len(merged)
	if len(merged) > limit {
		merged = merged[:limit]
	}

	result := &Result{
		Memories:        make([]memory.Record, 0, len(merged)),
		TotalCandidates: total,
	}
	for _, scored := range merged {
		result.Memories = append(result.Memories, scored.Record)
	}

	if query.IncludeRelated && e.graphStore != nil {
		result.RelatedNodes = e.relatedNodes(result.Memories)
	}

	result.Confidence = e.confidence(query, result.Memories)
	result.SearchTime = e.now().Sub(started)

	e.cache.put(key, result)
	e.emit(EventRetrievalCompleted, map[string]any{
		"results":          len(result.Memories),
		"candidates":       total,
		"confidence":       result.Confidence,
		"duration_seconds": result.SearchTime.Seconds(),
	})
	return result, nil
}

// filterCandidates 应用查询的硬过滤条件。
func (e *Engine) filterCandidates(query Query) []memory.Record {
	all := e.store.All()
	candidates := make([]memory.Record, 0, len(all))
	for _, record := range all {
		if query.matches(&record) {
			candidates = append(candidates, record)
		}
	}
	return candidates
}

// runStrategies 并行运行全部启用的策略。
// 单个策略出错或 panic 时记录日志并发布 strategy_error，
// 该策略贡献空排名，不会中断整次检索。
func (e *Engine) runStrategies(ctx context.Context, query Query, candidates []memory.Record) map[string]strategyRanking {
	e.mu.RLock()
	entries := make([]struct {
		name     string
		strategy Strategy
		weight   float64
	}, 0, len(e.order))
	for _, name := range e.order {
		entry := e.strategies[name]
		if entry.enabled {
			entries = append(entries, struct {
				name     string
				strategy Strategy
				weight   float64
			}{name, entry.strategy, entry.weight})
		}
	}
	e.mu.RUnlock()

	var resultMu sync.Mutex
	rankings := make(map[string]strategyRanking, len(entries))

	g, _ := errgroup.WithContext(ctx)
	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			scored, err := e.runStrategy(entry.name, entry.strategy, query, candidates)
			if err != nil {
				e.logger.Warn("strategy failed", zap.String("strategy", entry.name), zap.Error(err))
				e.emit(EventStrategyError, map[string]any{"strategy": entry.name, "error": err.Error()})
				scored = nil
			}
			resultMu.Lock()
			rankings[entry.name] = strategyRanking{scored: scored, weight: entry.weight}
			resultMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return rankings
}

// runStrategy 调用单个策略并把 panic 转为错误。
func (e *Engine) runStrategy(name string, strategy Strategy, query Query, candidates []memory.Record) (scored []Scored, err error) {
	defer func() {
		if r := recover(); r != nil {
			scored = nil
			err = fmt.Errorf("strategy %s panicked: %v", name, r)
		}
	}()
	return strategy.Rank(query, candidates)
}

type strategyRanking struct {
	scored []Scored
	weight float64
}

// mergeRankings 合并各策略的排名：对每个候选求
// sum(positionScore * weight)，positionScore = 1 - rank/len。
// 未被某策略返回的候选对该策略贡献 0。
func (e *Engine) mergeRankings(rankings map[string]strategyRanking) []Scored {
	type mergedEntry struct {
		record memory.Record
		score  float64
	}
	merged := make(map[string]*mergedEntry)

	for _, ranking := range rankings {
		n := len(ranking.scored)
		for rank, scored := range ranking.scored {
			positionScore := 1 - float64(rank)/float64(n)
			entry, ok := merged[scored.Record.ID]
			if !ok {
				entry = &mergedEntry{record: scored.Record}
				merged[scored.Record.ID] = entry
			}
			entry.score += positionScore * ranking.weight
		}
	}

	out := make([]Scored, 0, len(merged))
	for _, entry := range merged {
		out = append(out, Scored{Record: entry.record, Score: entry.score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Record.ID < out[j].Record.ID
	})
	return out
}

// relatedNodes 收集结果集通过 KnowledgeLinks 引用的图谱节点，去重。
func (e *Engine) relatedNodes(records []memory.Record) []graph.Node {
	seen := make(map[string]struct{})
	var nodes []graph.Node
	for _, record := range records {
		for _, nodeID := range record.KnowledgeLinks {
			if _, dup := seen[nodeID]; dup {
				continue
			}
			seen[nodeID] = struct{}{}
			if node, ok := e.graphStore.GetNode(nodeID); ok {
				nodes = append(nodes, node)
			}
		}
	}
	return nodes
}

// confidence 计算整体置信度：结果数量饱和度 30%、平均重要度 40%、
// 与查询文本的平均相似度 30%（无文本时取 0.5）。
func (e *Engine) confidence(query Query, records []memory.Record) float64 {
	if len(records) == 0 {
		return 0
	}

	countScore := float64(len(records)) / confidenceCountSaturation
	if countScore > 1 {
		countScore = 1
	}

	var importanceSum float64
	for _, record := range records {
		importanceSum += record.Importance
	}
	meanImportance := importanceSum / float64(len(records))

	textScore := confidenceTextDefault
	if query.Text != "" {
		queryTokens := tokenize(query.Text)
		var simSum float64
		for _, record := range records {
			simSum += jaccard(queryTokens, tokenize(record.Content))
		}
		textScore = simSum / float64(len(records))
	}

	return confidenceCountWeight*countScore +
		confidenceImportanceWeight*meanImportance +
		confidenceTextWeight*textScore
}

// StartCachePurge 启动缓存的后台清扫循环。
func (e *Engine) StartCachePurge(ctx context.Context) {
	e.cache.startPurge(ctx)
}

// StopCachePurge 停止缓存清扫循环。
func (e *Engine) StopCachePurge() {
	e.cache.stopPurge()
}

// CacheSize 返回当前缓存条目数。
func (e *Engine) CacheSize() int {
	return e.cache.size()
}
