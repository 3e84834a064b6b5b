package memory

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSimilarity_Blend(t *testing.T) {
	t.Parallel()

	a := &Record{
		ID:      "a",
		Content: "apollo landed on the moon",
		Tags:    []string{"apollo", "moon"},
		Context: Context{UserID: "u1", Domain: "Space"},
	}
	b := &Record{
		ID:      "b",
		Content: "apollo landed on the moon",
		Tags:    []string{"apollo", "moon"},
		Context: Context{UserID: "u1", SessionID: "s9", Domain: "space", Task: "t"},
	}

	// 内容与标签完全一致，上下文命中 user(0.4)+domain(0.2)
	score := Similarity(a, b)
	assert.InDelta(t, 0.60+0.25+0.15*0.6, score, 1e-9)
}

func TestSimilarity_Disjoint(t *testing.T) {
	t.Parallel()

	a := &Record{ID: "a", Content: "alpha beta", Tags: []string{"x"}}
	b := &Record{ID: "b", Content: "gamma delta", Tags: []string{"y"}}
	assert.Equal(t, 0.0, Similarity(a, b))
}

func TestStore_FindSimilar(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, Config{})
	store.Store(Record{ID: "target", Content: "lunar surface geology", Tags: []string{"moon"}})
	store.Store(Record{ID: "close", Content: "lunar geology notes", Tags: []string{"moon"}})
	store.Store(Record{ID: "far", Content: "stock market report", Tags: []string{"finance"}})

	matches := store.FindSimilar("target", 10, 0.1)
	require.NotEmpty(t, matches)
	assert.Equal(t, "close", matches[0].Record.ID)
	for _, m := range matches {
		assert.NotEqual(t, "target", m.Record.ID)
	}

	// 阈值过滤
	strict := store.FindSimilar("target", 10, 0.99)
	assert.Empty(t, strict)

	// limit 截断
	limited := store.FindSimilar("target", 1, 0.0)
	assert.Len(t, limited, 1)

	assert.Nil(t, store.FindSimilar("missing", 10, 0.0))
}

func drawRecord(rt *rapid.T, label string) *Record {
	words := []string{"apollo", "moon", "lunar", "rock", "orbit", "geology", "sample", "crater"}
	content := ""
	for i, n := 0, rapid.IntRange(0, 6).Draw(rt, label+"_len"); i < n; i++ {
		content += words[rapid.IntRange(0, len(words)-1).Draw(rt, fmt.Sprintf("%s_w%d", label, i))] + " "
	}
	tags := rapid.SliceOfN(rapid.SampledFrom(words), 0, 4).Draw(rt, label+"_tags")
	return &Record{
		ID:      label,
		Content: content,
		Tags:    tags,
		Context: Context{
			UserID:    rapid.SampledFrom([]string{"", "u1", "u2"}).Draw(rt, label+"_user"),
			SessionID: rapid.SampledFrom([]string{"", "s1", "s2"}).Draw(rt, label+"_session"),
			Domain:    rapid.SampledFrom([]string{"", "space", "Space", "finance"}).Draw(rt, label+"_domain"),
			Task:      rapid.SampledFrom([]string{"", "t1"}).Draw(rt, label+"_task"),
		},
	}
}

func TestProperty_Similarity_Symmetric(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		a := drawRecord(rt, "a")
		b := drawRecord(rt, "b")

		ab := Similarity(a, b)
		ba := Similarity(b, a)

		if ab < 0 || ab > 1 {
			rt.Fatalf("similarity out of range: %v", ab)
		}
		// 上下文匹配以"非空且相等"计，两个方向一致
		if ab != ba {
			rt.Fatalf("similarity not symmetric: %v != %v", ab, ba)
		}
	})
}

func TestProperty_Capacity_NeverExceeded(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		max := rapid.IntRange(1, 8).Draw(rt, "max")
		inserts := rapid.IntRange(1, 20).Draw(rt, "inserts")

		store, _ := newTestStore(t, Config{MaxRecords: max})
		for i := 0; i < inserts; i++ {
			store.Store(Record{ID: fmt.Sprintf("m%d", i)})
		}

		if store.Count() > max {
			rt.Fatalf("store size %d exceeds max %d", store.Count(), max)
		}
	})
}
