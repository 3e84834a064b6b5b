package retrieval

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/memflow/graph"
	"github.com/BaSui01/memflow/memory"
)

// TimeRange 创建时间范围过滤，零值端点不生效。
type TimeRange struct {
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
}

// Query 检索查询。零值字段不参与过滤。
type Query struct {
	// Text 自由文本，用于词法相似度排序。
	Text string `json:"text,omitempty"`
	// Types 记忆类型过滤（硬过滤，任一命中即通过）。
	Types []memory.Type `json:"types,omitempty"`
	// Tags 标签过滤。仅在没有 Text 时作为硬过滤；
	// 有 Text 时标签不再排除候选，排序交给各策略。
	Tags []string `json:"tags,omitempty"`
	// Context 上下文过滤条件，由 context_match 策略打分。
	Context memory.Context `json:"context,omitempty"`
	// TimeRange 创建时间范围（硬过滤）。
	TimeRange TimeRange `json:"time_range,omitempty"`
	// ImportanceMin / ImportanceMax 重要度范围（硬过滤）。
	// 两者同为 0 时不过滤。
	ImportanceMin float64 `json:"importance_min,omitempty"`
	ImportanceMax float64 `json:"importance_max,omitempty"`
	// Limit 结果数量上限，0 表示使用引擎默认值。
	Limit int `json:"limit,omitempty"`
	// IncludeRelated 为 true 时展开结果引用的图谱节点。
	IncludeRelated bool `json:"include_related,omitempty"`
	// SemanticSearch 为 true 时文本相似度同时考虑标签词。
	SemanticSearch bool `json:"semantic_search,omitempty"`
}

// Result 检索结果。
type Result struct {
	// Memories 按合并得分降序排列的记忆记录。
	Memories []memory.Record `json:"memories"`
	// RelatedNodes 结果集通过 KnowledgeLinks 引用的图谱节点（去重）。
	RelatedNodes []graph.Node `json:"related_nodes,omitempty"`
	// Confidence 整体置信度，[0,1]。
	Confidence float64 `json:"confidence"`
	// SearchTime 本次检索耗时。
	SearchTime time.Duration `json:"search_time"`
	// TotalCandidates 截断前的候选总数。
	TotalCandidates int `json:"total_candidates"`
}

// cacheKey 将查询规范化为缓存键：排序集合字段后序列化完整形态。
func (q Query) cacheKey() string {
	normalized := q

	if len(q.Types) > 0 {
		types := make([]string, len(q.Types))
		for i, t := range q.Types {
			types[i] = string(t)
		}
		sort.Strings(types)
		normalized.Types = make([]memory.Type, len(types))
		for i, t := range types {
			normalized.Types[i] = memory.Type(t)
		}
	}
	if len(q.Tags) > 0 {
		tags := make([]string, len(q.Tags))
		for i, tag := range q.Tags {
			tags[i] = strings.ToLower(tag)
		}
		sort.Strings(tags)
		normalized.Tags = tags
	}

	raw, err := json.Marshal(normalized)
	if err != nil {
		return ""
	}
	return string(raw)
}

// matches 报告候选记录是否通过查询的硬过滤条件。
func (q Query) matches(record *memory.Record) bool {
	if len(q.Types) > 0 {
		found := false
		for _, t := range q.Types {
			if record.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	// 标签仅在纯标签查询（无文本）时作硬过滤
	if len(q.Tags) > 0 && q.Text == "" {
		if !hasAnyTag(record.Tags, q.Tags) {
			return false
		}
	}

	if !q.TimeRange.From.IsZero() && record.CreatedAt.Before(q.TimeRange.From) {
		return false
	}
	if !q.TimeRange.To.IsZero() && record.CreatedAt.After(q.TimeRange.To) {
		return false
	}

	if q.ImportanceMin > 0 && record.Importance < q.ImportanceMin {
		return false
	}
	if q.ImportanceMax > 0 && record.Importance > q.ImportanceMax {
		return false
	}
	return true
}

func hasAnyTag(recordTags, queryTags []string) bool {
	for _, qt := range queryTags {
		for _, rt := range recordTags {
			if strings.EqualFold(qt, rt) {
				return true
			}
		}
	}
	return false
}
