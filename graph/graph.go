package graph

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/event"
)

// 图存储发布的事件类型。
const (
	EventNodeAdded       event.Type = "node_added"
	EventNodeUpdated     event.Type = "node_updated"
	EventNodeRemoved     event.Type = "node_removed"
	EventEdgeAdded       event.Type = "edge_added"
	EventEdgeUpdated     event.Type = "edge_updated"
	EventEdgeRemoved     event.Type = "edge_removed"
	EventCapacityWarning event.Type = "capacity_warning"
	EventGraphCleared    event.Type = "graph_cleared"
	EventGraphImported   event.Type = "graph_imported"
)

// Node 代表知识图谱中的节点。
type Node struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Edge 代表节点之间的有向关系。
// 两个端点必须是已存在的节点；删除节点时会级联删除其所有关联边。
type Edge struct {
	ID         string         `json:"id"`
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// NodeUpdate 描述对节点的部分更新。nil 字段保持原值，
// Properties 为合并语义。
type NodeUpdate struct {
	Type       *string
	Label      *string
	Properties map[string]any
	Tags       *[]string
}

// EdgeUpdate 描述对边的部分更新。
type EdgeUpdate struct {
	Type       *string
	Properties map[string]any
}

// Config 图存储配置。
type Config struct {
	// 最大节点数，0 表示使用默认值。
	MaxNodes int `yaml:"max_nodes" json:"max_nodes"`
	// 最大边数，0 表示使用默认值。
	MaxEdges int `yaml:"max_edges" json:"max_edges"`

	// Now 用于测试注入时钟，默认 time.Now。
	Now func() time.Time `yaml:"-" json:"-"`
}

// DefaultConfig 返回默认图存储配置。
func DefaultConfig() Config {
	return Config{
		MaxNodes: 10000,
		MaxEdges: 50000,
	}
}

// Store 基于内存的带索引图存储。
// 单个互斥锁保护主映射与全部二级索引，保证每次操作的原子性。
type Store struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	edges map[string]*Edge

	// nodesByType / edgesByType 按类型索引 ID 集合
	nodesByType map[string]map[string]struct{}
	edgesByType map[string]map[string]struct{}

	// outEdges / inEdges 记录每个节点的出边与入边 ID 集合
	outEdges map[string]map[string]struct{}
	inEdges  map[string]map[string]struct{}

	maxNodes int
	maxEdges int
	now      func() time.Time

	bus    event.Bus
	logger *zap.Logger
}

// NewStore 创建图存储。bus 可以为 nil，此时不发布事件。
func NewStore(config Config, bus event.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if config.MaxNodes <= 0 {
		config.MaxNodes = def.MaxNodes
	}
	if config.MaxEdges <= 0 {
		config.MaxEdges = def.MaxEdges
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		nodes:       make(map[string]*Node),
		edges:       make(map[string]*Edge),
		nodesByType: make(map[string]map[string]struct{}),
		edgesByType: make(map[string]map[string]struct{}),
		outEdges:    make(map[string]map[string]struct{}),
		inEdges:     make(map[string]map[string]struct{}),
		maxNodes:    config.MaxNodes,
		maxEdges:    config.MaxEdges,
		now:         now,
		bus:         bus,
		logger:      logger.With(zap.String("component", "graph_store")),
	}
}

func (s *Store) emit(eventType event.Type, data map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(event.Event{
		Type:      eventType,
		Source:    "graph_store",
		Data:      data,
		Timestamp: s.now(),
	})
}

// AddNode 添加节点。容量已满或 ID 冲突时返回 false。
func (s *Store) AddNode(node Node) bool {
	if node.ID == "" {
		return false
	}

	s.mu.Lock()
	if len(s.nodes) >= s.maxNodes {
		s.mu.Unlock()
		s.logger.Warn("node capacity reached", zap.Int("max_nodes", s.maxNodes))
		s.emit(EventCapacityWarning, map[string]any{"kind": "node", "max": s.maxNodes})
		return false
	}
	if _, exists := s.nodes[node.ID]; exists {
		s.mu.Unlock()
		return false
	}

	ts := s.now()
	if node.CreatedAt.IsZero() {
		node.CreatedAt = ts
	}
	node.UpdatedAt = ts

	copied := node
	s.nodes[node.ID] = &copied
	s.indexNodeType(node.Type, node.ID)
	s.outEdges[node.ID] = make(map[string]struct{})
	s.inEdges[node.ID] = make(map[string]struct{})
	s.mu.Unlock()

	s.logger.Debug("node added", zap.String("id", node.ID), zap.String("type", node.Type))
	s.emit(EventNodeAdded, map[string]any{"id": node.ID, "type": node.Type})
	return true
}

// UpdateNode 部分更新节点。类型变化时迁移类型索引；ID 不存在返回 false。
func (s *Store) UpdateNode(id string, update NodeUpdate) bool {
	s.mu.Lock()
	node, ok := s.nodes[id]
	if !ok {
		s.mu.Unlock()
		return false
	}

	if update.Type != nil && *update.Type != node.Type {
		s.unindexNodeType(node.Type, id)
		node.Type = *update.Type
		s.indexNodeType(node.Type, id)
	}
	if update.Label != nil {
		node.Label = *update.Label
	}
	if update.Tags != nil {
		node.Tags = append([]string(nil), (*update.Tags)...)
	}
	if len(update.Properties) > 0 {
		if node.Properties == nil {
			node.Properties = make(map[string]any, len(update.Properties))
		}
		for k, v := range update.Properties {
			node.Properties[k] = v
		}
	}
	node.UpdatedAt = s.now()
	s.mu.Unlock()

	s.emit(EventNodeUpdated, map[string]any{"id": id})
	return true
}

// RemoveNode 删除节点，先级联删除所有关联边，再清理全部索引。
func (s *Store) RemoveNode(id string) bool {
	s.mu.Lock()
	node, ok := s.nodes[id]
	if !ok {
		s.mu.Unlock()
		return false
	}

	// 级联删除关联边（出边与入边）
	removedEdges := make([]string, 0)
	for edgeID := range s.outEdges[id] {
		removedEdges = append(removedEdges, edgeID)
	}
	for edgeID := range s.inEdges[id] {
		removedEdges = append(removedEdges, edgeID)
	}
	for _, edgeID := range removedEdges {
		s.removeEdgeLocked(edgeID)
	}

	s.unindexNodeType(node.Type, id)
	delete(s.outEdges, id)
	delete(s.inEdges, id)
	delete(s.nodes, id)
	s.mu.Unlock()

	s.logger.Debug("node removed", zap.String("id", id), zap.Int("cascaded_edges", len(removedEdges)))
	s.emit(EventNodeRemoved, map[string]any{"id": id, "cascaded_edges": len(removedEdges)})
	return true
}

// AddEdge 添加有向边。容量已满、ID 冲突或任一端点不存在时返回 false。
func (s *Store) AddEdge(edge Edge) bool {
	if edge.ID == "" {
		return false
	}

	s.mu.Lock()
	if len(s.edges) >= s.maxEdges {
		s.mu.Unlock()
		s.logger.Warn("edge capacity reached", zap.Int("max_edges", s.maxEdges))
		s.emit(EventCapacityWarning, map[string]any{"kind": "edge", "max": s.maxEdges})
		return false
	}
	if _, exists := s.edges[edge.ID]; exists {
		s.mu.Unlock()
		return false
	}
	if _, ok := s.nodes[edge.Source]; !ok {
		s.mu.Unlock()
		return false
	}
	if _, ok := s.nodes[edge.Target]; !ok {
		s.mu.Unlock()
		return false
	}

	ts := s.now()
	if edge.CreatedAt.IsZero() {
		edge.CreatedAt = ts
	}
	edge.UpdatedAt = ts

	copied := edge
	s.edges[edge.ID] = &copied
	s.indexEdgeType(edge.Type, edge.ID)
	s.outEdges[edge.Source][edge.ID] = struct{}{}
	s.inEdges[edge.Target][edge.ID] = struct{}{}
	s.mu.Unlock()

	s.logger.Debug("edge added",
		zap.String("id", edge.ID),
		zap.String("source", edge.Source),
		zap.String("target", edge.Target))
	s.emit(EventEdgeAdded, map[string]any{"id": edge.ID, "source": edge.Source, "target": edge.Target})
	return true
}

// UpdateEdge 部分更新边。
func (s *Store) UpdateEdge(id string, update EdgeUpdate) bool {
	s.mu.Lock()
	edge, ok := s.edges[id]
	if !ok {
		s.mu.Unlock()
		return false
	}

	if update.Type != nil && *update.Type != edge.Type {
		s.unindexEdgeType(edge.Type, id)
		edge.Type = *update.Type
		s.indexEdgeType(edge.Type, id)
	}
	if len(update.Properties) > 0 {
		if edge.Properties == nil {
			edge.Properties = make(map[string]any, len(update.Properties))
		}
		for k, v := range update.Properties {
			edge.Properties[k] = v
		}
	}
	edge.UpdatedAt = s.now()
	s.mu.Unlock()

	s.emit(EventEdgeUpdated, map[string]any{"id": id})
	return true
}

// RemoveEdge 删除边并清理邻接索引。
func (s *Store) RemoveEdge(id string) bool {
	s.mu.Lock()
	_, ok := s.edges[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.removeEdgeLocked(id)
	s.mu.Unlock()

	s.emit(EventEdgeRemoved, map[string]any{"id": id})
	return true
}

// removeEdgeLocked 在持有写锁时删除边。
func (s *Store) removeEdgeLocked(id string) {
	edge, ok := s.edges[id]
	if !ok {
		return
	}
	s.unindexEdgeType(edge.Type, id)
	if out, ok := s.outEdges[edge.Source]; ok {
		delete(out, id)
	}
	if in, ok := s.inEdges[edge.Target]; ok {
		delete(in, id)
	}
	delete(s.edges, id)
}

// GetNode 按 ID 返回节点副本。
func (s *Store) GetNode(id string) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[id]
	if !ok {
		return Node{}, false
	}
	return copyNode(node), true
}

// GetEdge 按 ID 返回边副本。
func (s *Store) GetEdge(id string) (Edge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	edge, ok := s.edges[id]
	if !ok {
		return Edge{}, false
	}
	return copyEdge(edge), true
}

// Nodes 返回全部节点副本。
func (s *Store) Nodes() []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Node, 0, len(s.nodes))
	for _, node := range s.nodes {
		out = append(out, copyNode(node))
	}
	return out
}

// Edges 返回全部边副本。
func (s *Store) Edges() []Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Edge, 0, len(s.edges))
	for _, edge := range s.edges {
		out = append(out, copyEdge(edge))
	}
	return out
}

// NodesByType 返回指定类型的节点。
func (s *Store) NodesByType(nodeType string) []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, ok := s.nodesByType[nodeType]
	if !ok {
		return nil
	}
	out := make([]Node, 0, len(ids))
	for id := range ids {
		if node, ok := s.nodes[id]; ok {
			out = append(out, copyNode(node))
		}
	}
	return out
}

// NodeCount 返回节点数量。
func (s *Store) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// EdgeCount 返回边数量。
func (s *Store) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edges)
}

// Clear 清空全部节点、边与索引。
func (s *Store) Clear() {
	s.mu.Lock()
	s.nodes = make(map[string]*Node)
	s.edges = make(map[string]*Edge)
	s.nodesByType = make(map[string]map[string]struct{})
	s.edgesByType = make(map[string]map[string]struct{})
	s.outEdges = make(map[string]map[string]struct{})
	s.inEdges = make(map[string]map[string]struct{})
	s.mu.Unlock()

	s.emit(EventGraphCleared, nil)
}

func (s *Store) indexNodeType(nodeType, id string) {
	if s.nodesByType[nodeType] == nil {
		s.nodesByType[nodeType] = make(map[string]struct{})
	}
	s.nodesByType[nodeType][id] = struct{}{}
}

func (s *Store) unindexNodeType(nodeType, id string) {
	if ids, ok := s.nodesByType[nodeType]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(s.nodesByType, nodeType)
		}
	}
}

func (s *Store) indexEdgeType(edgeType, id string) {
	if s.edgesByType[edgeType] == nil {
		s.edgesByType[edgeType] = make(map[string]struct{})
	}
	s.edgesByType[edgeType][id] = struct{}{}
}

func (s *Store) unindexEdgeType(edgeType, id string) {
	if ids, ok := s.edgesByType[edgeType]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(s.edgesByType, edgeType)
		}
	}
}

func copyNode(node *Node) Node {
	copied := *node
	if node.Properties != nil {
		copied.Properties = make(map[string]any, len(node.Properties))
		for k, v := range node.Properties {
			copied.Properties[k] = v
		}
	}
	copied.Tags = append([]string(nil), node.Tags...)
	return copied
}

func copyEdge(edge *Edge) Edge {
	copied := *edge
	if edge.Properties != nil {
		copied.Properties = make(map[string]any, len(edge.Properties))
		for k, v := range edge.Properties {
			copied.Properties[k] = v
		}
	}
	return copied
}
