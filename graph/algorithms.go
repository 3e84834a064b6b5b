package graph

import "sort"

// Analysis 图分析结果。
type Analysis struct {
	NodeCount           int         `json:"node_count"`
	EdgeCount           int         `json:"edge_count"`
	DegreeDistribution  map[int]int `json:"degree_distribution"`
	ConnectedComponents int         `json:"connected_components"`
	Density             float64     `json:"density"`
	AverageDegree       float64     `json:"average_degree"`
}

// SubgraphResult 诱导子图：给定节点集合及两端都落在集合内的边。
type SubgraphResult struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Neighbors 返回节点的邻居（出边与入边的并集，去重）。
func (s *Store) Neighbors(id string) []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.nodes[id]; !ok {
		return nil
	}

	seen := make(map[string]struct{})
	var out []Node
	for _, neighborID := range s.neighborIDsLocked(id) {
		if _, dup := seen[neighborID]; dup {
			continue
		}
		seen[neighborID] = struct{}{}
		if node, ok := s.nodes[neighborID]; ok {
			out = append(out, copyNode(node))
		}
	}
	return out
}

// neighborIDsLocked 返回节点的邻居 ID（可能含重复），需持有读锁。
func (s *Store) neighborIDsLocked(id string) []string {
	var ids []string
	for edgeID := range s.outEdges[id] {
		if edge, ok := s.edges[edgeID]; ok {
			ids = append(ids, edge.Target)
		}
	}
	for edgeID := range s.inEdges[id] {
		if edge, ok := s.edges[edgeID]; ok {
			ids = append(ids, edge.Source)
		}
	}
	sort.Strings(ids)
	return ids
}

// FindPath 以广度优先搜索查找从 source 到 target 的最短路径，
// 返回节点 ID 序列。maxDepth 限制路径的最大跳数（边数）；
// 在该深度内不可达时返回 nil。
func (s *Store) FindPath(source, target string, maxDepth int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.nodes[source]; !ok {
		return nil
	}
	if _, ok := s.nodes[target]; !ok {
		return nil
	}
	if source == target {
		return []string{source}
	}
	if maxDepth <= 0 {
		return nil
	}

	type queueItem struct {
		id    string
		depth int
	}

	parent := map[string]string{source: ""}
	queue := []queueItem{{id: source, depth: 0}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.depth >= maxDepth {
			continue
		}

		for _, next := range s.neighborIDsLocked(current.id) {
			if _, visited := parent[next]; visited {
				continue
			}
			parent[next] = current.id

			if next == target {
				// 回溯构造路径
				path := []string{target}
				for at := current.id; at != ""; at = parent[at] {
					path = append([]string{at}, path...)
				}
				return path
			}
			queue = append(queue, queueItem{id: next, depth: current.depth + 1})
		}
	}
	return nil
}

// Subgraph 返回由给定节点集合诱导出的子图。
// 不存在的 ID 被忽略；只包含两端都在集合内的边。
func (s *Store) Subgraph(nodeIDs []string) SubgraphResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inSet := make(map[string]struct{}, len(nodeIDs))
	var result SubgraphResult
	for _, id := range nodeIDs {
		node, ok := s.nodes[id]
		if !ok {
			continue
		}
		if _, dup := inSet[id]; dup {
			continue
		}
		inSet[id] = struct{}{}
		result.Nodes = append(result.Nodes, copyNode(node))
	}

	for _, edge := range s.edges {
		if _, ok := inSet[edge.Source]; !ok {
			continue
		}
		if _, ok := inSet[edge.Target]; !ok {
			continue
		}
		result.Edges = append(result.Edges, copyEdge(edge))
	}
	return result
}

// Analyze 计算图的整体统计：节点/边数量、度分布、
// 连通分量数（按无向图深度优先遍历）、密度与平均度。
func (s *Store) Analyze() Analysis {
	s.mu.RLock()
	defer s.mu.RUnlock()

	analysis := Analysis{
		NodeCount:          len(s.nodes),
		EdgeCount:          len(s.edges),
		DegreeDistribution: make(map[int]int),
	}

	totalDegree := 0
	for id := range s.nodes {
		degree := len(s.outEdges[id]) + len(s.inEdges[id])
		analysis.DegreeDistribution[degree]++
		totalDegree += degree
	}

	// 连通分量：忽略方向做 DFS
	visited := make(map[string]struct{}, len(s.nodes))
	for id := range s.nodes {
		if _, ok := visited[id]; ok {
			continue
		}
		analysis.ConnectedComponents++

		stack := []string{id}
		visited[id] = struct{}{}
		for len(stack) > 0 {
			current := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, next := range s.neighborIDsLocked(current) {
				if _, ok := visited[next]; ok {
					continue
				}
				visited[next] = struct{}{}
				stack = append(stack, next)
			}
		}
	}

	n := len(s.nodes)
	if n > 1 {
		// 有向图密度: E / (N * (N-1))
		analysis.Density = float64(len(s.edges)) / float64(n*(n-1))
	}
	if n > 0 {
		analysis.AverageDegree = float64(totalDegree) / float64(n)
	}
	return analysis
}
