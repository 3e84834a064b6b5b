package graph

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// ExportedNode 导出格式的节点，时间戳为 ISO-8601 字符串。
type ExportedNode struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	CreatedAt  string         `json:"created_at"`
	UpdatedAt  string         `json:"updated_at"`
}

// ExportedEdge 导出格式的边。
type ExportedEdge struct {
	ID         string         `json:"id"`
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  string         `json:"created_at"`
	UpdatedAt  string         `json:"updated_at"`
}

// ExportData 全量导出结构，交给外部持久化协作方保存。
type ExportData struct {
	Nodes      []ExportedNode `json:"nodes"`
	Edges      []ExportedEdge `json:"edges"`
	NodeCount  int            `json:"node_count"`
	EdgeCount  int            `json:"edge_count"`
	ExportedAt string         `json:"exported_at"`
}

// Export 导出全部节点与边。结果按 ID 排序，保证可重复比较。
func (s *Store) Export() ExportData {
	s.mu.RLock()

	data := ExportData{
		Nodes:     make([]ExportedNode, 0, len(s.nodes)),
		Edges:     make([]ExportedEdge, 0, len(s.edges)),
		NodeCount: len(s.nodes),
		EdgeCount: len(s.edges),
	}

	for _, node := range s.nodes {
		copied := copyNode(node)
		data.Nodes = append(data.Nodes, ExportedNode{
			ID:         copied.ID,
			Type:       copied.Type,
			Label:      copied.Label,
			Properties: copied.Properties,
			Tags:       copied.Tags,
			CreatedAt:  copied.CreatedAt.UTC().Format(time.RFC3339Nano),
			UpdatedAt:  copied.UpdatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	for _, edge := range s.edges {
		copied := copyEdge(edge)
		data.Edges = append(data.Edges, ExportedEdge{
			ID:         copied.ID,
			Source:     copied.Source,
			Target:     copied.Target,
			Type:       copied.Type,
			Properties: copied.Properties,
			CreatedAt:  copied.CreatedAt.UTC().Format(time.RFC3339Nano),
			UpdatedAt:  copied.UpdatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	s.mu.RUnlock()

	sort.Slice(data.Nodes, func(i, j int) bool { return data.Nodes[i].ID < data.Nodes[j].ID })
	sort.Slice(data.Edges, func(i, j int) bool { return data.Edges[i].ID < data.Edges[j].ID })
	data.ExportedAt = s.now().UTC().Format(time.RFC3339Nano)
	return data
}

// Import 从导出结构恢复。这是全量替换：先清空当前内容，
// 再依次导入节点与边。时间戳解析失败或引用完整性不满足的条目
// 被跳过并计入返回的错误。
func (s *Store) Import(data ExportData) error {
	s.Clear()

	// 直接落盘以保留导出时的时间戳，不经过 AddNode/AddEdge 的重新打戳。
	var skipped int
	s.mu.Lock()
	for _, n := range data.Nodes {
		node, err := importNode(n)
		if err != nil || node.ID == "" {
			skipped++
			continue
		}
		if _, exists := s.nodes[node.ID]; exists || len(s.nodes) >= s.maxNodes {
			skipped++
			continue
		}
		copied := node
		s.nodes[node.ID] = &copied
		s.indexNodeType(node.Type, node.ID)
		s.outEdges[node.ID] = make(map[string]struct{})
		s.inEdges[node.ID] = make(map[string]struct{})
	}
	for _, e := range data.Edges {
		edge, err := importEdge(e)
		if err != nil || edge.ID == "" {
			skipped++
			continue
		}
		if _, exists := s.edges[edge.ID]; exists || len(s.edges) >= s.maxEdges {
			skipped++
			continue
		}
		if _, ok := s.nodes[edge.Source]; !ok {
			skipped++
			continue
		}
		if _, ok := s.nodes[edge.Target]; !ok {
			skipped++
			continue
		}
		copied := edge
		s.edges[edge.ID] = &copied
		s.indexEdgeType(edge.Type, edge.ID)
		s.outEdges[edge.Source][edge.ID] = struct{}{}
		s.inEdges[edge.Target][edge.ID] = struct{}{}
	}
	s.mu.Unlock()

	if skipped > 0 {
		s.logger.Warn("import skipped entries", zap.Int("skipped", skipped))
	}

	s.emit(EventGraphImported, map[string]any{
		"nodes":   len(data.Nodes),
		"edges":   len(data.Edges),
		"skipped": skipped,
	})

	if skipped > 0 {
		return fmt.Errorf("import skipped %d entries", skipped)
	}
	return nil
}

func importNode(n ExportedNode) (Node, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, n.CreatedAt)
	if err != nil {
		return Node{}, fmt.Errorf("parse created_at: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, n.UpdatedAt)
	if err != nil {
		return Node{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return Node{
		ID:         n.ID,
		Type:       n.Type,
		Label:      n.Label,
		Properties: n.Properties,
		Tags:       n.Tags,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}, nil
}

func importEdge(e ExportedEdge) (Edge, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, e.CreatedAt)
	if err != nil {
		return Edge{}, fmt.Errorf("parse created_at: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, e.UpdatedAt)
	if err != nil {
		return Edge{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return Edge{
		ID:         e.ID,
		Source:     e.Source,
		Target:     e.Target,
		Type:       e.Type,
		Properties: e.Properties,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}, nil
}
