package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"long_text_agent/llm"
)

// runeCounter 测试用的简单 token 估算：一个 rune 一个 token。
type runeCounter struct{}

func (runeCounter) Count(text string) int { return len([]rune(text)) }

func newTestStore(t *testing.T, keep int) *SummaryStore {
	t.Helper()
	retrier := llm.NewRetrier(llm.MockClient{}, 0, time.Second, nil)
	return NewSummaryStore(retrier, runeCounter{}, keep, nil)
}

func appendN(ctx context.Context, s *SummaryStore, n int) {
	for i := 1; i <= n; i++ {
		s.Append(ctx, fmt.Sprintf("第%d节", i), fmt.Sprintf("第%d节发生的事", i), i, i)
	}
}

func TestRollingWindowCompaction(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 5)

	appendN(ctx, s, 5)
	assert.Len(t, s.Sections(), 5)
	assert.Empty(t, s.Chapters())

	// 第 6 条进来后，最旧的 1 条被压实成章节摘要
	s.Append(ctx, "第6节", "第6节发生的事", 6, 6)
	sections := s.Sections()
	require.Len(t, sections, 5)
	assert.Equal(t, 2, sections[0].From)
	assert.Equal(t, 6, sections[4].To)

	chapters := s.Chapters()
	require.Len(t, chapters, 1)
	assert.Equal(t, TierChapter, chapters[0].Tier)
	assert.Equal(t, 1, chapters[0].From)
	assert.Equal(t, 1, chapters[0].To)
}

func TestEveryOrdinalCoveredExactlyOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 3)

	appendN(ctx, s, 20)
	for ordinal := 1; ordinal <= 20; ordinal++ {
		assert.True(t, s.Covers(ordinal), "ordinal %d", ordinal)
	}
	assert.False(t, s.Covers(21))
}

func TestChapterToVolumeCompaction(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 2) // chapterKeep = 4

	// 足够多的追加会把章节层也压实进卷层
	appendN(ctx, s, 16)
	require.NotNil(t, s.Volume())
	assert.Equal(t, TierVolume, s.Volume().Tier)
	assert.Equal(t, 1, s.Volume().From)
	assert.LessOrEqual(t, len(s.Chapters()), 4)

	// 卷层压实后覆盖关系仍然成立
	for ordinal := 1; ordinal <= 16; ordinal++ {
		assert.True(t, s.Covers(ordinal), "ordinal %d", ordinal)
	}
}

func TestWindowReturnsMostRecent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 10)
	appendN(ctx, s, 6)

	win := s.Window(3)
	require.Len(t, win, 3)
	assert.Equal(t, 4, win[0].From)
	assert.Equal(t, 6, win[2].From)

	assert.Len(t, s.Window(0), 6)
	assert.Len(t, s.Window(100), 6)
}

func TestCompactionDegradesWithoutClient(t *testing.T) {
	ctx := context.Background()
	s := NewSummaryStore(nil, runeCounter{}, 2, nil)

	appendN(ctx, s, 4)
	// 模型不可用时压实降级为截断，但不会丢失覆盖关系
	assert.Greater(t, s.DegradedCompactions(), 0)
	for ordinal := 1; ordinal <= 4; ordinal++ {
		assert.True(t, s.Covers(ordinal), "ordinal %d", ordinal)
	}
	require.Len(t, s.Chapters(), 2)
	assert.NotEmpty(t, s.Chapters()[0].Text)
}
