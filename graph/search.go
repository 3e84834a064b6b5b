package graph

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// NodeQuery 节点检索条件。零值字段不参与过滤。
type NodeQuery struct {
	// Type 精确匹配节点类型。
	Type string
	// Tag 匹配携带指定标签的节点。
	Tag string
	// Text 对 Label 与字符串属性做不区分大小写的子串匹配。
	Text string
	// Properties 属性等值过滤，全部命中才算匹配。
	Properties map[string]any
	// CreatedAfter / CreatedBefore 创建时间范围过滤。
	CreatedAfter  time.Time
	CreatedBefore time.Time

	// SortBy 排序字段：created_at、updated_at、label，
	// 或任意属性名（按字符串表示排序）。
	SortBy string
	// SortDesc 为 true 时降序。
	SortDesc bool
	// Limit 结果数量上限，0 表示不限制。
	Limit int
}

// SearchNodes 按条件检索节点，支持过滤、排序与截断。
func (s *Store) SearchNodes(query NodeQuery) []Node {
	s.mu.RLock()

	var candidates []*Node
	if query.Type != "" {
		ids := s.nodesByType[query.Type]
		candidates = make([]*Node, 0, len(ids))
		for id := range ids {
			if node, ok := s.nodes[id]; ok {
				candidates = append(candidates, node)
			}
		}
	} else {
		candidates = make([]*Node, 0, len(s.nodes))
		for _, node := range s.nodes {
			candidates = append(candidates, node)
		}
	}

	matched := make([]Node, 0, len(candidates))
	for _, node := range candidates {
		if nodeMatches(node, query) {
			matched = append(matched, copyNode(node))
		}
	}
	s.mu.RUnlock()

	sortNodes(matched, query.SortBy, query.SortDesc)

	if query.Limit > 0 && len(matched) > query.Limit {
		matched = matched[:query.Limit]
	}
	return matched
}

func nodeMatches(node *Node, query NodeQuery) bool {
	if query.Tag != "" {
		found := false
		for _, tag := range node.Tags {
			if strings.EqualFold(tag, query.Tag) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if query.Text != "" {
		needle := strings.ToLower(query.Text)
		found := strings.Contains(strings.ToLower(node.Label), needle)
		if !found {
			for _, v := range node.Properties {
				if str, ok := v.(string); ok && strings.Contains(strings.ToLower(str), needle) {
					found = true
					break
				}
			}
		}
		if !found {
			return false
		}
	}

	for key, want := range query.Properties {
		got, ok := node.Properties[key]
		if !ok || fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}

	if !query.CreatedAfter.IsZero() && node.CreatedAt.Before(query.CreatedAfter) {
		return false
	}
	if !query.CreatedBefore.IsZero() && node.CreatedAt.After(query.CreatedBefore) {
		return false
	}
	return true
}

func sortNodes(nodes []Node, sortBy string, desc bool) {
	if sortBy == "" {
		sortBy = "created_at"
	}

	less := func(a, b Node) bool {
		switch sortBy {
		case "created_at":
			return a.CreatedAt.Before(b.CreatedAt)
		case "updated_at":
			return a.UpdatedAt.Before(b.UpdatedAt)
		case "label":
			return a.Label < b.Label
		default:
			// 按任意属性的字符串表示排序
			return fmt.Sprintf("%v", a.Properties[sortBy]) < fmt.Sprintf("%v", b.Properties[sortBy])
		}
	}

	sort.SliceStable(nodes, func(i, j int) bool {
		if desc {
			return less(nodes[j], nodes[i])
		}
		return less(nodes[i], nodes[j])
	})
}
