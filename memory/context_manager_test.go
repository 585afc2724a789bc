package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"long_text_agent/llm"
)

func testTask() TaskBrief {
	return TaskBrief{Ordinal: 7, Title: "第三章 · 转折", Brief: "真相浮出水面", TargetWords: 2000}
}

func TestBuildAssemblesAllBlocks(t *testing.T) {
	settings := NewSettingsStore("悬浮城市")
	settings.AddCharacter("林晨", "侦探", nil, 1)
	store := newTestStore(t, 5)
	store.Append(context.Background(), "第1节", "开端的摘要", 1, 1)

	m := NewContextManager(settings, store, runeCounter{}, 8000, 5, 500)
	win := m.Build("……上一节的结尾文字", testTask())

	assert.Contains(t, win.Text, "【世界观】")
	assert.Contains(t, win.Text, "【最近内容】")
	assert.Contains(t, win.Text, "【上文结尾（用于衔接）】")
	assert.Contains(t, win.Text, "【当前写作任务】")
	assert.Contains(t, win.Text, "第三章 · 转折")
	assert.Contains(t, win.Text, "2000 字")
	assert.False(t, win.TailTruncated)
	assert.Zero(t, win.DroppedSummaries)
	assert.LessOrEqual(t, win.Tokens, 8000)

	// 任务块永远在末尾
	assert.Greater(t, strings.Index(win.Text, "【当前写作任务】"), strings.Index(win.Text, "【上文结尾（用于衔接）】"))
}

func TestBuildTruncatesTailBeforeDroppingSummaries(t *testing.T) {
	settings := NewSettingsStore("")
	store := newTestStore(t, 5)
	store.Append(context.Background(), "第1节", "一条摘要", 1, 1)

	// 上限紧到尾部必须缩短，但摘要仍能放下
	m := NewContextManager(settings, store, runeCounter{}, 300, 5, 500)
	tail := strings.Repeat("前文内容。", 100)

	win := m.Build(tail, testTask())
	assert.True(t, win.TailTruncated)
	assert.Zero(t, win.DroppedSummaries)
	assert.Contains(t, win.Text, "一条摘要")
	assert.LessOrEqual(t, win.Tokens, 300)
}

func TestBuildDropsOldestSummariesUnderPressure(t *testing.T) {
	settings := NewSettingsStore("")
	store := newTestStore(t, 10)
	for i := 1; i <= 6; i++ {
		store.Append(context.Background(), "某节", strings.Repeat("很长的摘要内容", 10), i, i)
	}

	m := NewContextManager(settings, store, runeCounter{}, 260, 6, 500)
	win := m.Build("", testTask())

	assert.Greater(t, win.DroppedSummaries, 0)
	assert.LessOrEqual(t, win.Tokens, 260)
	// 任务块无论如何都保留
	assert.Contains(t, win.Text, "【当前写作任务】")
}

func TestBuildFitsSuffixWhenEverythingElseGone(t *testing.T) {
	settings := NewSettingsStore(strings.Repeat("冗长的世界观设定。", 100))
	store := newTestStore(t, 5)

	m := NewContextManager(settings, store, runeCounter{}, 120, 5, 500)
	win := m.Build("", testTask())

	assert.LessOrEqual(t, win.Tokens, 120)
	assert.True(t, win.TailTruncated)
	// 后缀保留策略保证任务描述存活
	assert.Contains(t, win.Text, "目标字数")
}

func TestBuildDeterministic(t *testing.T) {
	settings := NewSettingsStore("世界观")
	settings.AddCharacter("林晨", "侦探", nil, 1)
	store := newTestStore(t, 5)
	store.Append(context.Background(), "第1节", "摘要", 1, 1)

	m := NewContextManager(settings, store, runeCounter{}, 8000, 5, 500)
	a := m.Build("尾部", testTask())
	b := m.Build("尾部", testTask())
	assert.Equal(t, a, b)
}

func TestBuildUsesRecentCount(t *testing.T) {
	settings := NewSettingsStore("")
	retrier := llm.NewRetrier(llm.MockClient{}, 0, time.Second, nil)
	store := NewSummaryStore(retrier, runeCounter{}, 10, nil)
	for i := 1; i <= 8; i++ {
		store.Append(context.Background(), "节", "内容", i, i)
	}

	m := NewContextManager(settings, store, runeCounter{}, 8000, 3, 500)
	win := m.Build("", testTask())
	// 只取最近 recentCount 条段落摘要
	assert.Equal(t, 1, strings.Count(win.Text, "【最近内容】"))
	assert.Equal(t, 3, strings.Count(win.Text, "- 节: 内容"))
}
