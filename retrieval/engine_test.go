package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/event"
	"github.com/BaSui01/memflow/graph"
	"github.com/BaSui01/memflow/memory"
)

type engineFixture struct {
	engine *Engine
	store  *memory.Store
	graph  *graph.Store
	bus    *event.SyncBus
	clock  *time.Time
}

func newFixture(t *testing.T, config Config) *engineFixture {
	t.Helper()

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	bus := event.NewBus(zap.NewNop())
	store := memory.NewStore(memory.Config{Now: now}, bus, zap.NewNop())
	graphStore := graph.NewStore(graph.Config{Now: now}, bus, zap.NewNop())

	config.Now = now
	engine := NewEngine(store, graphStore, config, bus, zap.NewNop())

	return &engineFixture{engine: engine, store: store, graph: graphStore, bus: bus, clock: &clock}
}

func TestEngine_ApolloScenario(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.store.Store(memory.Record{
		ID: "m1", Type: memory.TypeSemantic,
		Content: "Apollo 11 landed on the Moon",
		Tags:    []string{"apollo", "moon"}, Importance: 0.6,
	})
	f.store.Store(memory.Record{
		ID: "m2", Type: memory.TypeEpisodic,
		Content: "note about lunar geology",
		Tags:    []string{"moon", "note"}, Importance: 0.5,
	})
	f.store.Store(memory.Record{
		ID: "m3", Type: memory.TypeProcedural,
		Content: "steps to analyze lunar samples",
		Tags:    []string{"procedure", "lunar"}, Importance: 0.5,
	})

	result, err := f.engine.Retrieve(context.Background(), Query{
		Text:  "Apollo moon landing",
		Tags:  []string{"moon"},
		Limit: 5,
	})
	require.NoError(t, err)

	assert.Greater(t, result.Confidence, 0.0)

	rank := make(map[string]int)
	for i, record := range result.Memories {
		rank[record.ID] = i
	}
	m1Rank, hasM1 := rank["m1"]
	m3Rank, hasM3 := rank["m3"]
	require.True(t, hasM1, "m1 must be in the result set")
	require.True(t, hasM3, "m3 must be in the result set")
	assert.Less(t, m1Rank, m3Rank, "m1 must rank above m3")
}

func TestEngine_HardFilters(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	now := *f.clock

	f.store.Store(memory.Record{ID: "old", Type: memory.TypeFact, Importance: 0.9, CreatedAt: now.Add(-48 * time.Hour)})
	f.store.Store(memory.Record{ID: "recent", Type: memory.TypeFact, Importance: 0.9, CreatedAt: now.Add(-time.Hour)})
	f.store.Store(memory.Record{ID: "wrongtype", Type: memory.TypeWorking, Importance: 0.9, CreatedAt: now.Add(-time.Hour)})
	f.store.Store(memory.Record{ID: "trivial", Type: memory.TypeFact, Importance: 0.1, CreatedAt: now.Add(-time.Hour)})

	result, err := f.engine.Retrieve(context.Background(), Query{
		Types:         []memory.Type{memory.TypeFact},
		TimeRange:     TimeRange{From: now.Add(-24 * time.Hour)},
		ImportanceMin: 0.5,
	})
	require.NoError(t, err)

	require.Len(t, result.Memories, 1)
	assert.Equal(t, "recent", result.Memories[0].ID)
	assert.Equal(t, 1, result.TotalCandidates)
}

func TestEngine_TagOnlyQueryIsHardFiltered(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.store.Store(memory.Record{ID: "tagged", Tags: []string{"moon"}})
	f.store.Store(memory.Record{ID: "untagged", Tags: []string{"mars"}})

	result, err := f.engine.Retrieve(context.Background(), Query{Tags: []string{"moon"}})
	require.NoError(t, err)

	require.Len(t, result.Memories, 1)
	assert.Equal(t, "tagged", result.Memories[0].ID)
}

func TestEngine_CacheHitWithinTTL(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{CacheTTL: 5 * time.Minute})
	f.store.Store(memory.Record{ID: "m1", Content: "hello world", Importance: 0.5})

	var cacheHits, completed int
	f.bus.Subscribe(EventCacheHit, func(event.Event) { cacheHits++ })
	f.bus.Subscribe(EventRetrievalCompleted, func(event.Event) { completed++ })

	query := Query{Text: "hello", Tags: []string{"B", "a"}}

	first, err := f.engine.Retrieve(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, 0, cacheHits)
	assert.Equal(t, 1, completed)

	// 标签顺序与大小写不同的等价查询也命中同一缓存键
	second, err := f.engine.Retrieve(context.Background(), Query{Text: "hello", Tags: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, 1, cacheHits)
	assert.Equal(t, 1, completed)
	assert.Same(t, first, second, "cache hit must return the stored result unchanged")

	// TTL 过后重新运行策略
	*f.clock = f.clock.Add(6 * time.Minute)
	_, err = f.engine.Retrieve(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, 1, cacheHits)
	assert.Equal(t, 2, completed)
}

func TestEngine_CachePurge(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{CacheTTL: time.Minute})
	_, err := f.engine.Retrieve(context.Background(), Query{Text: "a"})
	require.NoError(t, err)
	_, err = f.engine.Retrieve(context.Background(), Query{Text: "b"})
	require.NoError(t, err)
	assert.Equal(t, 2, f.engine.CacheSize())

	*f.clock = f.clock.Add(2 * time.Minute)
	assert.Equal(t, 2, f.engine.cache.purge())
	assert.Equal(t, 0, f.engine.CacheSize())
}

type failingStrategy struct{ name string }

func (s failingStrategy) Name() string { return s.name }
func (s failingStrategy) Rank(Query, []memory.Record) ([]Scored, error) {
	return nil, errors.New("boom")
}

type panickingStrategy struct{}

func (panickingStrategy) Name() string { return "panicking" }
func (panickingStrategy) Rank(Query, []memory.Record) ([]Scored, error) {
	panic("kaboom")
}

func TestEngine_StrategyFailureIsContained(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.store.Store(memory.Record{ID: "m1", Content: "hello world", Importance: 0.8})

	var strategyErrors []string
	f.bus.Subscribe(EventStrategyError, func(e event.Event) {
		strategyErrors = append(strategyErrors, e.Data["strategy"].(string))
	})

	f.engine.RegisterStrategy(failingStrategy{name: "failing"}, 0.5)
	f.engine.RegisterStrategy(panickingStrategy{}, 0.5)

	result, err := f.engine.Retrieve(context.Background(), Query{Text: "hello"})
	require.NoError(t, err)

	// 其余策略照常产出结果
	require.Len(t, result.Memories, 1)
	assert.ElementsMatch(t, []string{"failing", "panicking"}, strategyErrors)
}

func TestEngine_MergeWeighting(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})

	// 只留 importance 与 temporal 两个策略，权重可控
	require.True(t, f.engine.SetStrategyEnabled(StrategyTextSimilarity, false))
	require.True(t, f.engine.SetStrategyEnabled(StrategyContextMatch, false))
	require.True(t, f.engine.SetStrategyWeight(StrategyTemporalRelevance, 0.0))
	require.True(t, f.engine.SetStrategyWeight(StrategyImportance, 1.0))

	f.store.Store(memory.Record{ID: "low", Importance: 0.2})
	f.store.Store(memory.Record{ID: "high", Importance: 0.9})

	result, err := f.engine.Retrieve(context.Background(), Query{})
	require.NoError(t, err)

	require.Len(t, result.Memories, 2)
	assert.Equal(t, "high", result.Memories[0].ID)
	assert.Equal(t, "low", result.Memories[1].ID)

	assert.False(t, f.engine.SetStrategyWeight("unknown", 1))
	assert.False(t, f.engine.SetStrategyEnabled("unknown", true))
}

func TestEngine_IncludeRelated(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	f.graph.AddNode(graph.Node{ID: "n1", Label: "Moon"})
	f.graph.AddNode(graph.Node{ID: "n2", Label: "Apollo"})

	f.store.Store(memory.Record{ID: "m1", Content: "apollo", Importance: 0.5, KnowledgeLinks: []string{"n1", "n2", "missing"}})
	f.store.Store(memory.Record{ID: "m2", Content: "apollo moon", Importance: 0.5, KnowledgeLinks: []string{"n1"}})

	result, err := f.engine.Retrieve(context.Background(), Query{Text: "apollo", IncludeRelated: true})
	require.NoError(t, err)

	require.Len(t, result.RelatedNodes, 2)

	// 不要求展开时不返回节点
	plain, err := f.engine.Retrieve(context.Background(), Query{Text: "apollo"})
	require.NoError(t, err)
	assert.Empty(t, plain.RelatedNodes)
}

func TestEngine_ConfidenceBounds(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})

	empty, err := f.engine.Retrieve(context.Background(), Query{Text: "nothing stored"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, empty.Confidence)

	for i := 0; i < 12; i++ {
		f.store.Store(memory.Record{ID: string(rune('a' + i)), Content: "same words here", Importance: 1.0})
	}
	full, err := f.engine.Retrieve(context.Background(), Query{Text: "same words here", Limit: 12})
	require.NoError(t, err)
	assert.LessOrEqual(t, full.Confidence, 1.0)
	assert.Greater(t, full.Confidence, 0.9)
}
