package enhance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/event"
	"github.com/BaSui01/memflow/memory"
	"github.com/BaSui01/memflow/retrieval"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *memory.Store) {
	t.Helper()
	bus := event.NewBus(zap.NewNop())
	memories := memory.NewStore(memory.Config{MaxRecords: 100}, bus, zap.NewNop())
	retriever := retrieval.NewEngine(memories, nil, retrieval.Config{}, bus, zap.NewNop())
	return NewCoordinator(retriever, memories, DefaultConfig(), bus, zap.NewNop()), memories
}

func storeProcedural(t *testing.T, memories *memory.Store, id, content string, tags ...string) {
	t.Helper()
	require.True(t, memories.Store(memory.Record{
		ID:         id,
		Content:    content,
		Type:       memory.TypeProcedural,
		Importance: 0.6,
		Tags:       tags,
	}))
}

func TestCoordinator_RegisterAgent(t *testing.T) {
	t.Parallel()
	c, _ := newTestCoordinator(t)

	require.True(t, c.RegisterAgent(Agent{ID: "a1", Type: "memory_manager"}))
	assert.False(t, c.RegisterAgent(Agent{Type: "memory_manager"}), "empty id is rejected")

	got, ok := c.GetAgent("a1")
	require.True(t, ok)
	assert.Equal(t, "memory_manager", got.Type)

	// 返回的是副本，修改不影响内部状态。
	got.Configuration["poison"] = true
	again, _ := c.GetAgent("a1")
	assert.NotContains(t, again.Configuration, "poison")
}

func TestCoordinator_EnhanceAgent_MissingAgent(t *testing.T) {
	t.Parallel()
	c, _ := newTestCoordinator(t)

	res := c.EnhanceAgent(context.Background(), "ghost", Context{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not registered")
}

func TestCoordinator_EnhanceAgent_AppliesProceduralMemory(t *testing.T) {
	t.Parallel()
	c, memories := newTestCoordinator(t)

	require.True(t, c.RegisterAgent(Agent{ID: "a1", Type: "memory_manager"}))
	storeProcedural(t, memories, "m1", "compact indices before eviction", "memory", "storage")

	res := c.EnhanceAgent(context.Background(), "a1", Context{
		Domain:      "ops",
		CurrentTask: "optimize memory usage",
	})
	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.AppliedMemories, "m1")
	assert.Greater(t, res.Improvement, 0.0)

	agent, _ := c.GetAgent("a1")
	patterns, ok := agent.Configuration["workflow_patterns"].([]any)
	require.True(t, ok, "procedural memory lands in workflow_patterns")
	assert.Contains(t, patterns, "compact indices before eviction")
}

func TestCoordinator_EnhanceAgent_EpisodicRequiresTaskMatch(t *testing.T) {
	t.Parallel()
	c, memories := newTestCoordinator(t)

	require.True(t, c.RegisterAgent(Agent{ID: "a1", Type: "task_planner"}))
	require.True(t, memories.Store(memory.Record{
		ID:         "ep1",
		Content:    "split the migration into batches",
		Type:       memory.TypeEpisodic,
		Importance: 0.6,
		Tags:       []string{"task"},
		Context:    memory.Context{Task: "database migration"},
	}))

	res := c.EnhanceAgent(context.Background(), "a1", Context{CurrentTask: "unrelated work"})
	require.True(t, res.Success)
	assert.NotContains(t, res.AppliedMemories, "ep1", "episodic memory needs a task match")

	res = c.EnhanceAgent(context.Background(), "a1", Context{CurrentTask: "database migration"})
	require.True(t, res.Success)
	assert.Contains(t, res.AppliedMemories, "ep1")

	agent, _ := c.GetAgent("a1")
	strategies, ok := agent.Configuration["strategies"].([]any)
	require.True(t, ok)
	assert.Contains(t, strategies, "split the migration into batches")
}

func TestCoordinator_EnhanceAgent_WorkingRequiresSessionMatch(t *testing.T) {
	t.Parallel()
	c, memories := newTestCoordinator(t)

	require.True(t, c.RegisterAgent(Agent{ID: "a1", Type: "conversation_agent"}))
	require.True(t, memories.Store(memory.Record{
		ID:         "w1",
		Content:    "user prefers concise replies",
		Type:       memory.TypeWorking,
		Importance: 0.5,
		Tags:       []string{"conversation"},
		Context:    memory.Context{SessionID: "s-1"},
	}))

	res := c.EnhanceAgent(context.Background(), "a1", Context{CurrentTask: "reply", SessionID: "s-2"})
	require.True(t, res.Success)
	assert.NotContains(t, res.AppliedMemories, "w1")

	res = c.EnhanceAgent(context.Background(), "a1", Context{CurrentTask: "reply", SessionID: "s-1"})
	require.True(t, res.Success)

	agent, _ := c.GetAgent("a1")
	assert.Equal(t, "user prefers concise replies", agent.Configuration["current_context"],
		"working memory overwrites the current-context slot on session match")
}

func TestCoordinator_SuccessPersistsPatternAndMemory(t *testing.T) {
	t.Parallel()
	c, memories := newTestCoordinator(t)

	require.True(t, c.RegisterAgent(Agent{ID: "a1", Type: "memory_manager"}))
	storeProcedural(t, memories, "m1", "compact indices before eviction", "memory")

	res := c.EnhanceAgent(context.Background(), "a1", Context{
		Domain:      "ops",
		CurrentTask: "optimize memory usage",
	})
	require.True(t, res.Success)
	require.Greater(t, res.Improvement, c.config.ImprovementThreshold)

	patterns := c.Patterns()
	require.NotEmpty(t, patterns, "a successful enhancement creates a learning pattern")
	assert.Equal(t, "memory_manager", patterns[0].AgentType)
	assert.Equal(t, string(memory.TypeProcedural), patterns[0].MemoryType)
	assert.Equal(t, 1.0, patterns[0].SuccessRate)

	stored := memories.ByTag(successPatternTag)
	require.Len(t, stored, 1, "a success-pattern memory is persisted")
	assert.Equal(t, memory.TypeLongTerm, stored[0].Type)
}

func TestCoordinator_PatternReappliedOnContextOverlap(t *testing.T) {
	t.Parallel()
	c, memories := newTestCoordinator(t)

	require.True(t, c.RegisterAgent(Agent{ID: "a1", Type: "memory_manager"}))
	storeProcedural(t, memories, "m1", "compact indices before eviction", "memory")

	first := c.EnhanceAgent(context.Background(), "a1", Context{
		Domain:      "ops",
		CurrentTask: "optimize memory usage",
	})
	require.True(t, first.Success)
	require.NotEmpty(t, c.Patterns())

	second := c.EnhanceAgent(context.Background(), "a1", Context{
		Domain:      "ops",
		CurrentTask: "tune cache eviction",
	})
	require.True(t, second.Success)
	assert.NotEmpty(t, second.AppliedPatterns, "pattern with matching domain is reused")

	agent, _ := c.GetAgent("a1")
	learned, ok := agent.Configuration[learnedPatternsKey].([]any)
	require.True(t, ok)
	assert.NotEmpty(t, learned)
}

func TestCoordinator_StalePatternNotReapplied(t *testing.T) {
	t.Parallel()
	c, _ := newTestCoordinator(t)

	require.True(t, c.RegisterAgent(Agent{ID: "a1", Type: "memory_manager"}))
	c.RestorePatterns([]LearningPattern{{
		Key:         "memory_manager_procedural_memory",
		AgentType:   "memory_manager",
		MemoryType:  string(memory.TypeProcedural),
		SuccessRate: 0.9,
		UseCount:    4,
		LastUsedAt:  time.Now().Add(-45 * 24 * time.Hour), // beyond the 30d window
		Contexts:    []PatternContext{{Domain: "ops"}},
	}})

	res := c.EnhanceAgent(context.Background(), "a1", Context{Domain: "ops", CurrentTask: "anything"})
	require.True(t, res.Success)
	assert.Empty(t, res.AppliedPatterns, "patterns idle beyond 30 days are not reused")
}

func TestCoordinator_HistoryBounded(t *testing.T) {
	t.Parallel()
	c, _ := newTestCoordinator(t)
	require.True(t, c.RegisterAgent(Agent{ID: "a1", Type: "memory_manager"}))

	for i := 0; i < historyPerAgent+10; i++ {
		res := c.EnhanceAgent(context.Background(), "a1", Context{CurrentTask: "noop"})
		require.True(t, res.Success)
	}
	assert.Len(t, c.History("a1"), historyPerAgent)
}

func TestCoordinator_PatternsRoundTrip(t *testing.T) {
	t.Parallel()
	c, _ := newTestCoordinator(t)

	saved := []LearningPattern{{
		Key:         "code_assistant_procedural_code",
		AgentType:   "code_assistant",
		MemoryType:  string(memory.TypeProcedural),
		Tags:        []string{"code"},
		SuccessRate: 0.75,
		UseCount:    8,
		LastUsedAt:  time.Now(),
		Contexts:    []PatternContext{{Domain: "dev", Task: "refactor"}},
	}}
	c.RestorePatterns(saved)

	got := c.Patterns()
	require.Len(t, got, 1)
	assert.Equal(t, saved[0].Key, got[0].Key)
	assert.Equal(t, saved[0].SuccessRate, got[0].SuccessRate)
	assert.Equal(t, saved[0].Contexts, got[0].Contexts)
}
