package retrieval

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/memflow/memory"
)

// 内置策略名称。
const (
	StrategyTextSimilarity    = "text_similarity"
	StrategyContextMatch      = "context_match"
	StrategyTemporalRelevance = "temporal_relevance"
	StrategyImportance        = "importance"
)

// 内置策略默认权重。
const (
	DefaultTextWeight       = 0.4
	DefaultContextWeight    = 0.3
	DefaultTemporalWeight   = 0.2
	DefaultImportanceWeight = 0.1
)

// textSimilarityFloor 低于该相似度的候选不进入文本策略的排序结果。
const textSimilarityFloor = 0.3

// temporalDecayWindow 时效衰减窗口。
const temporalDecayWindow = 7 * 24 * time.Hour

// Scored 一条候选记录及其策略得分。
type Scored struct {
	Record memory.Record `json:"record"`
	Score  float64       `json:"score"`
}

// Strategy 命名的排序策略。每个策略独立地对候选集排序，
// 产出自己的有序子集；引擎按权重合并各策略的排名。
type Strategy interface {
	// Name 返回策略名称。
	Name() string
	// Rank 对候选集打分排序，返回按得分降序的子集。
	Rank(query Query, candidates []memory.Record) ([]Scored, error)
}

// TextSimilarity 文本相似度策略：查询文本与候选内容的
// 词集 Jaccard 相似度，低于下限的候选被滤除。
type TextSimilarity struct{}

// Name 实现 Strategy。
func (TextSimilarity) Name() string { return StrategyTextSimilarity }

// Rank 实现 Strategy。
func (TextSimilarity) Rank(query Query, candidates []memory.Record) ([]Scored, error) {
	if query.Text == "" {
		return nil, nil
	}

	queryTokens := tokenize(query.Text)
	var out []Scored
	for _, candidate := range candidates {
		candidateTokens := tokenize(candidate.Content)
		if query.SemanticSearch {
			// 语义开关：同时把候选标签并入词集
			for _, tag := range candidate.Tags {
				candidateTokens[strings.ToLower(tag)] = struct{}{}
			}
		}
		score := jaccard(queryTokens, candidateTokens)
		if score >= textSimilarityFloor {
			out = append(out, Scored{Record: candidate, Score: score})
		}
	}
	sortScored(out)
	return out, nil
}

// ContextMatch 上下文匹配策略：得分为查询给出的上下文字段中
// 与候选一致的比例。查询未提供上下文时不产出结果。
type ContextMatch struct{}

// Name 实现 Strategy。
func (ContextMatch) Name() string { return StrategyContextMatch }

// Rank 实现 Strategy。
func (ContextMatch) Rank(query Query, candidates []memory.Record) ([]Scored, error) {
	supplied := 0
	if query.Context.UserID != "" {
		supplied++
	}
	if query.Context.SessionID != "" {
		supplied++
	}
	if query.Context.Domain != "" {
		supplied++
	}
	if query.Context.Task != "" {
		supplied++
	}
	if supplied == 0 {
		return nil, nil
	}

	var out []Scored
	for _, candidate := range candidates {
		matched := 0
		if query.Context.UserID != "" && candidate.Context.UserID == query.Context.UserID {
			matched++
		}
		if query.Context.SessionID != "" && candidate.Context.SessionID == query.Context.SessionID {
			matched++
		}
		if query.Context.Domain != "" && strings.EqualFold(candidate.Context.Domain, query.Context.Domain) {
			matched++
		}
		if query.Context.Task != "" && candidate.Context.Task == query.Context.Task {
			matched++
		}
		if matched > 0 {
			out = append(out, Scored{Record: candidate, Score: float64(matched) / float64(supplied)})
		}
	}
	sortScored(out)
	return out, nil
}

// TemporalRelevance 时效策略：importance * exp(-age/7d)，
// 将新近度衰减与记录自身重要度结合。
type TemporalRelevance struct {
	// Now 用于测试注入时钟，默认 time.Now。
	Now func() time.Time
}

// Name 实现 Strategy。
func (TemporalRelevance) Name() string { return StrategyTemporalRelevance }

// Rank 实现 Strategy。
func (s TemporalRelevance) Rank(query Query, candidates []memory.Record) ([]Scored, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	current := now()

	out := make([]Scored, 0, len(candidates))
	for _, candidate := range candidates {
		age := current.Sub(candidate.CreatedAt)
		if age < 0 {
			age = 0
		}
		decay := math.Exp(-age.Seconds() / temporalDecayWindow.Seconds())
		out = append(out, Scored{Record: candidate, Score: candidate.Importance * decay})
	}
	sortScored(out)
	return out, nil
}

// Importance 重要度策略：按记录声明的重要度降序。
type Importance struct{}

// Name 实现 Strategy。
func (Importance) Name() string { return StrategyImportance }

// Rank 实现 Strategy。
func (Importance) Rank(query Query, candidates []memory.Record) ([]Scored, error) {
	out := make([]Scored, 0, len(candidates))
	for _, candidate := range candidates {
		out = append(out, Scored{Record: candidate, Score: candidate.Importance})
	}
	sortScored(out)
	return out, nil
}

// sortScored 按得分降序稳定排序，得分相同按 ID 保证确定性。
func sortScored(scored []Scored) {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Record.ID < scored[j].Record.ID
	})
}

// tokenize 把文本切成小写字母数字词集。
func tokenize(text string) map[string]struct{} {
	set := make(map[string]struct{})
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// jaccard 计算词集的 Jaccard 相似度。
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
