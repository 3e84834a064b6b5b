package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/event"
)

func newTestStore(t *testing.T, config Config) (*Store, *event.SyncBus) {
	t.Helper()
	bus := event.NewBus(zap.NewNop())
	return NewStore(config, bus, zap.NewNop()), bus
}

func TestStore_AddNode(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, Config{})

	require.True(t, store.AddNode(Node{ID: "n1", Type: "concept", Label: "Moon"}))

	got, ok := store.GetNode("n1")
	require.True(t, ok)
	assert.Equal(t, "concept", got.Type)
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.UpdatedAt.IsZero())

	// 重复 ID 拒绝
	assert.False(t, store.AddNode(Node{ID: "n1", Type: "concept"}))
	// 空 ID 拒绝
	assert.False(t, store.AddNode(Node{}))
}

func TestStore_NodeCapacity(t *testing.T) {
	t.Parallel()

	store, bus := newTestStore(t, Config{MaxNodes: 2})

	var warnings int
	bus.Subscribe(EventCapacityWarning, func(event.Event) { warnings++ })

	require.True(t, store.AddNode(Node{ID: "a"}))
	require.True(t, store.AddNode(Node{ID: "b"}))
	assert.False(t, store.AddNode(Node{ID: "c"}))
	assert.Equal(t, 2, store.NodeCount())
	assert.Equal(t, 1, warnings)
}

func TestStore_AddEdge_ReferentialIntegrity(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, Config{})
	store.AddNode(Node{ID: "a"})

	// 端点缺失时拒绝
	assert.False(t, store.AddEdge(Edge{ID: "e1", Source: "a", Target: "missing"}))
	assert.False(t, store.AddEdge(Edge{ID: "e1", Source: "missing", Target: "a"}))

	store.AddNode(Node{ID: "b"})
	assert.True(t, store.AddEdge(Edge{ID: "e1", Source: "a", Target: "b", Type: "relates"}))
	assert.False(t, store.AddEdge(Edge{ID: "e1", Source: "a", Target: "b"}))
}

func TestStore_RemoveNode_CascadesEdges(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, Config{})
	store.AddNode(Node{ID: "a"})
	store.AddNode(Node{ID: "b"})
	store.AddNode(Node{ID: "c"})
	require.True(t, store.AddEdge(Edge{ID: "ab", Source: "a", Target: "b"}))
	require.True(t, store.AddEdge(Edge{ID: "ca", Source: "c", Target: "a"}))
	require.True(t, store.AddEdge(Edge{ID: "bc", Source: "b", Target: "c"}))

	require.True(t, store.RemoveNode("a"))

	// 触及 a 的边全部消失
	_, ok := store.GetEdge("ab")
	assert.False(t, ok)
	_, ok = store.GetEdge("ca")
	assert.False(t, ok)
	// 不相关的边保留
	_, ok = store.GetEdge("bc")
	assert.True(t, ok)

	assert.False(t, store.RemoveNode("a"))
}

func TestStore_UpdateNode_MovesTypeIndex(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, Config{})
	store.AddNode(Node{ID: "n1", Type: "draft", Label: "x"})

	newType := "published"
	newLabel := "y"
	require.True(t, store.UpdateNode("n1", NodeUpdate{
		Type:       &newType,
		Label:      &newLabel,
		Properties: map[string]any{"views": 3},
	}))

	assert.Empty(t, store.NodesByType("draft"))
	require.Len(t, store.NodesByType("published"), 1)

	got, _ := store.GetNode("n1")
	assert.Equal(t, "y", got.Label)
	assert.Equal(t, 3, got.Properties["views"])

	assert.False(t, store.UpdateNode("missing", NodeUpdate{}))
}

func TestStore_SearchNodes(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := now
	store, _ := newTestStore(t, Config{Now: func() time.Time { return clock }})

	store.AddNode(Node{ID: "n1", Type: "person", Label: "Neil Armstrong", Tags: []string{"apollo"}})
	clock = clock.Add(time.Hour)
	store.AddNode(Node{ID: "n2", Type: "place", Label: "Sea of Tranquility", Properties: map[string]any{"body": "moon"}})
	clock = clock.Add(time.Hour)
	store.AddNode(Node{ID: "n3", Type: "person", Label: "Buzz Aldrin", Tags: []string{"apollo"}})

	byType := store.SearchNodes(NodeQuery{Type: "person"})
	assert.Len(t, byType, 2)

	byTag := store.SearchNodes(NodeQuery{Tag: "APOLLO"})
	assert.Len(t, byTag, 2)

	byText := store.SearchNodes(NodeQuery{Text: "tranquility"})
	require.Len(t, byText, 1)
	assert.Equal(t, "n2", byText[0].ID)

	byProp := store.SearchNodes(NodeQuery{Properties: map[string]any{"body": "moon"}})
	require.Len(t, byProp, 1)
	assert.Equal(t, "n2", byProp[0].ID)

	byTime := store.SearchNodes(NodeQuery{CreatedAfter: now.Add(30 * time.Minute)})
	assert.Len(t, byTime, 2)

	sorted := store.SearchNodes(NodeQuery{SortBy: "label"})
	require.Len(t, sorted, 3)
	assert.Equal(t, "Buzz Aldrin", sorted[0].Label)

	limited := store.SearchNodes(NodeQuery{SortBy: "created_at", SortDesc: true, Limit: 1})
	require.Len(t, limited, 1)
	assert.Equal(t, "n3", limited[0].ID)
}

func TestStore_Neighbors(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, Config{})
	for _, id := range []string{"a", "b", "c"} {
		store.AddNode(Node{ID: id})
	}
	store.AddEdge(Edge{ID: "ab", Source: "a", Target: "b"})
	store.AddEdge(Edge{ID: "ca", Source: "c", Target: "a"})
	// 双向重复关系只算一个邻居
	store.AddEdge(Edge{ID: "ba", Source: "b", Target: "a"})

	neighbors := store.Neighbors("a")
	require.Len(t, neighbors, 2)

	assert.Nil(t, store.Neighbors("missing"))
}

func TestStore_FindPath(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, Config{})
	for _, id := range []string{"A", "B", "C"} {
		store.AddNode(Node{ID: id})
	}
	store.AddEdge(Edge{ID: "ab", Source: "A", Target: "B"})
	store.AddEdge(Edge{ID: "bc", Source: "B", Target: "C"})

	assert.Equal(t, []string{"A", "B", "C"}, store.FindPath("A", "C", 5))
	assert.Nil(t, store.FindPath("A", "C", 1))
	assert.Equal(t, []string{"A", "B"}, store.FindPath("A", "B", 1))
	assert.Equal(t, []string{"A"}, store.FindPath("A", "A", 5))
	assert.Nil(t, store.FindPath("A", "missing", 5))
}

func TestStore_Subgraph(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, Config{})
	for _, id := range []string{"a", "b", "c"} {
		store.AddNode(Node{ID: id})
	}
	store.AddEdge(Edge{ID: "ab", Source: "a", Target: "b"})
	store.AddEdge(Edge{ID: "bc", Source: "b", Target: "c"})

	sub := store.Subgraph([]string{"a", "b", "missing"})
	assert.Len(t, sub.Nodes, 2)
	require.Len(t, sub.Edges, 1)
	assert.Equal(t, "ab", sub.Edges[0].ID)
}

func TestStore_Analyze(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, Config{})
	for _, id := range []string{"a", "b", "c", "d"} {
		store.AddNode(Node{ID: id})
	}
	store.AddEdge(Edge{ID: "ab", Source: "a", Target: "b"})

	analysis := store.Analyze()
	assert.Equal(t, 4, analysis.NodeCount)
	assert.Equal(t, 1, analysis.EdgeCount)
	// {a,b} 一个分量，c、d 各自孤立
	assert.Equal(t, 3, analysis.ConnectedComponents)
	assert.InDelta(t, 1.0/12.0, analysis.Density, 1e-9)
	assert.InDelta(t, 0.5, analysis.AverageDegree, 1e-9)
	assert.Equal(t, 2, analysis.DegreeDistribution[0])
	assert.Equal(t, 2, analysis.DegreeDistribution[1])
}

func TestStore_ExportImport_RoundTrip(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, Config{})
	store.AddNode(Node{ID: "a", Type: "t", Label: "A", Tags: []string{"x"}})
	store.AddNode(Node{ID: "b", Type: "t", Label: "B"})
	store.AddEdge(Edge{ID: "ab", Source: "a", Target: "b", Type: "rel"})

	data := store.Export()
	require.Len(t, data.Nodes, 2)
	require.Len(t, data.Edges, 1)
	assert.NotEmpty(t, data.ExportedAt)

	restored, _ := newTestStore(t, Config{})
	restored.AddNode(Node{ID: "stale"}) // import 应全量替换
	require.NoError(t, restored.Import(data))

	_, ok := restored.GetNode("stale")
	assert.False(t, ok)

	got, ok := restored.GetNode("a")
	require.True(t, ok)
	assert.Equal(t, "A", got.Label)
	assert.Equal(t, []string{"x"}, got.Tags)

	edge, ok := restored.GetEdge("ab")
	require.True(t, ok)
	assert.Equal(t, "rel", edge.Type)

	// 再导出应与首次一致
	assert.Equal(t, data.Nodes, restored.Export().Nodes)
	assert.Equal(t, data.Edges, restored.Export().Edges)
}

func TestStore_Import_SkipsDanglingEdges(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, Config{})
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	err := store.Import(ExportData{
		Nodes: []ExportedNode{{ID: "a", CreatedAt: ts, UpdatedAt: ts}},
		Edges: []ExportedEdge{{ID: "e", Source: "a", Target: "ghost", CreatedAt: ts, UpdatedAt: ts}},
	})
	require.Error(t, err)
	assert.Equal(t, 1, store.NodeCount())
	assert.Equal(t, 0, store.EdgeCount())
}

func TestStore_EventsEmitted(t *testing.T) {
	t.Parallel()

	store, bus := newTestStore(t, Config{})

	var types []event.Type
	bus.Subscribe(event.TypeAny, func(e event.Event) { types = append(types, e.Type) })

	store.AddNode(Node{ID: "a"})
	store.AddNode(Node{ID: "b"})
	store.AddEdge(Edge{ID: "ab", Source: "a", Target: "b"})
	label := "x"
	store.UpdateNode("a", NodeUpdate{Label: &label})
	store.UpdateEdge("ab", EdgeUpdate{Properties: map[string]any{"w": 1}})
	store.RemoveEdge("ab")
	store.RemoveNode("b")
	store.Clear()

	assert.Equal(t, []event.Type{
		EventNodeAdded, EventNodeAdded, EventEdgeAdded,
		EventNodeUpdated, EventEdgeUpdated,
		EventEdgeRemoved, EventNodeRemoved, EventGraphCleared,
	}, types)
}
