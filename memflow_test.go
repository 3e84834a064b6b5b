package memflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/enhance"
	"github.com/BaSui01/memflow/graph"
	"github.com/BaSui01/memflow/memory"
	"github.com/BaSui01/memflow/persist"
	"github.com/BaSui01/memflow/retrieval"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := New(nil,
		WithLogger(zap.NewNop()),
		WithSnapshotStore(persist.NewInMemorySnapshotStore()))
	require.NoError(t, err)
	return eng
}

// 从原始输入到检索的完整链路：归一化 → 入库 → 图谱关联 → 查询。
func TestEngine_EndToEnd(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t)
	ctx := context.Background()

	require.True(t, eng.Graph.AddNode(graph.Node{ID: "n-moon", Type: "concept", Label: "Moon"}))

	rec, err := eng.Rules.ProcessMemory(map[string]any{
		"content":        "Apollo 11 landed on the Moon",
		"type":           "fact",
		"importance":     0.7,
		"tags":           []any{"apollo", "moon"},
		"knowledgeLinks": []any{"n-moon"},
	}, nil)
	require.NoError(t, err)
	require.True(t, eng.Memory.Store(rec))

	result, err := eng.Retrieval.Retrieve(ctx, retrieval.Query{
		Text:           "Apollo moon landing",
		Limit:          5,
		IncludeRelated: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Memories)
	assert.Equal(t, rec.ID, result.Memories[0].ID)
	assert.Greater(t, result.Confidence, 0.0)
	require.Len(t, result.RelatedNodes, 1)
	assert.Equal(t, "n-moon", result.RelatedNodes[0].ID)
}

func TestEngine_EnhancementFlow(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t)
	ctx := context.Background()

	require.True(t, eng.Memory.Store(memory.Record{
		ID:         "m1",
		Content:    "compact indices before eviction",
		Type:       memory.TypeProcedural,
		Importance: 0.6,
		Tags:       []string{"memory"},
	}))
	require.True(t, eng.Enhance.RegisterAgent(enhance.Agent{ID: "a1", Type: "memory_manager"}))

	res := eng.Enhance.EnhanceAgent(ctx, "a1", enhance.Context{CurrentTask: "optimize memory usage"})
	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.AppliedMemories, "m1")
}

func TestEngine_SnapshotRestore(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t)
	ctx := context.Background()

	require.True(t, eng.Graph.AddNode(graph.Node{ID: "n1", Type: "concept"}))
	require.True(t, eng.Memory.Store(memory.Record{ID: "m1", Content: "x", Type: memory.TypeFact}))

	snap, err := eng.Snapshot(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, snap.ID)

	fresh := newTestEngine(t)
	fresh.snapshots = eng.snapshots
	require.NoError(t, fresh.Restore(ctx))

	assert.Equal(t, 1, fresh.Graph.NodeCount())
	_, ok := fresh.Memory.Peek("m1")
	assert.True(t, ok)
}

func TestEngine_StartStop(t *testing.T) {
	t.Parallel()
	eng := newTestEngine(t)

	eng.Start(context.Background())
	eng.Stop()
}

func TestEngine_NoSnapshotStore(t *testing.T) {
	t.Parallel()
	eng, err := New(nil, WithLogger(zap.NewNop()))
	require.NoError(t, err)

	_, err = eng.Snapshot(context.Background())
	require.Error(t, err)
	require.Error(t, eng.Restore(context.Background()))
}
