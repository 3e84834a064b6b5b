// Lexical similarity scoring between memory records.
// Similarity is a weighted blend of content token-set overlap, tag overlap,
// and context field agreement. There are no embeddings involved: the scores
// are purely lexical/structural and therefore symmetric and deterministic.

package memory

import (
	"sort"
	"strings"
)

// Blend weights for Similarity.
const (
	contentWeight = 0.60
	tagWeight     = 0.25
	contextWeight = 0.15
)

// SimilarMatch pairs a record with its similarity score against a target.
type SimilarMatch struct {
	Record Record  `json:"record"`
	Score  float64 `json:"score"`
}

// Similarity computes the blended similarity between two records:
// 60% content token-set Jaccard, 25% tag-set Jaccard, 15% context match.
// The result is in [0,1] and symmetric: Similarity(a,b) == Similarity(b,a).
func Similarity(a, b *Record) float64 {
	content := jaccard(tokenSet(a.Content), tokenSet(b.Content))
	tags := jaccard(tagSet(a.Tags), tagSet(b.Tags))
	ctx := contextSimilarity(a.Context, b.Context)
	return contentWeight*content + tagWeight*tags + contextWeight*ctx
}

// FindSimilar scores every other record against the target and returns the
// top limit matches with score >= threshold, ordered by score descending.
// The target itself is never part of the result. Returns nil when the
// target id is unknown.
func (s *Store) FindSimilar(targetID string, limit int, threshold float64) []SimilarMatch {
	s.mu.RLock()
	target, ok := s.records[targetID]
	if !ok {
		s.mu.RUnlock()
		return nil
	}

	matches := make([]SimilarMatch, 0)
	for id, candidate := range s.records {
		if id == targetID {
			continue
		}
		score := Similarity(target, candidate)
		if score >= threshold {
			matches = append(matches, SimilarMatch{Record: copyRecord(candidate), Score: score})
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// tokenSet splits content into a lower-cased set of alphanumeric tokens.
func tokenSet(content string) map[string]struct{} {
	set := make(map[string]struct{})
	fields := strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func tagSet(tags []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		set[strings.ToLower(tag)] = struct{}{}
	}
	return set
}

// jaccard computes |a ∩ b| / |a ∪ b|. Two empty sets score 0.
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

// contextSimilarity scores matching context fields: user +0.4, session +0.3,
// domain (case-insensitive) +0.2, task +0.1, capped at 1.0. Empty fields on
// either side never count as a match.
func contextSimilarity(a, b Context) float64 {
	score := 0.0
	if a.UserID != "" && a.UserID == b.UserID {
		score += 0.4
	}
	if a.SessionID != "" && a.SessionID == b.SessionID {
		score += 0.3
	}
	if a.Domain != "" && strings.EqualFold(a.Domain, b.Domain) {
		score += 0.2
	}
	if a.Task != "" && a.Task == b.Task {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}
