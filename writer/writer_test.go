package writer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"long_text_agent/llm"
	"long_text_agent/memory"
	"long_text_agent/planner"
)

type runeCounter struct{}

func (runeCounter) Count(text string) int { return len([]rune(text)) }

// scriptClient 按指令内容路由到预设响应的脚本客户端。
type scriptClient struct {
	generate   func(calls int) (string, error)
	summarize  func() (string, error)
	generCalls int
}

func (s *scriptClient) Complete(_ context.Context, req llm.Request) (string, error) {
	switch {
	case strings.Contains(req.Instruction, "请开始创作"),
		strings.Contains(req.Instruction, "上一稿"):
		s.generCalls++
		return s.generate(s.generCalls)
	case strings.Contains(req.Instruction, "摘要"):
		if s.summarize != nil {
			return s.summarize()
		}
		return "一句话摘要", nil
	default:
		return "通过", nil
	}
}

func newTestWriter(t *testing.T, client llm.Client, lengthRetries int) (*Writer, *memory.SummaryStore, *memory.SettingsStore) {
	t.Helper()
	retrier := llm.NewRetrier(client, 0, time.Second, nil)
	settings := memory.NewSettingsStore("测试世界观")
	summaries := memory.NewSummaryStore(retrier, runeCounter{}, 5, nil)
	ctxmgr := memory.NewContextManager(settings, summaries, runeCounter{}, 8000, 5, 500)

	w, err := New(Params{
		Client:        retrier,
		Mode:          DefaultModes().Get("novel"),
		Context:       ctxmgr,
		Summaries:     summaries,
		Settings:      settings,
		Extractor:     NopExtractor{},
		LengthRetries: lengthRetries,
	})
	require.NoError(t, err)
	return w, summaries, settings
}

func newTask(target int) *planner.Task {
	return &planner.Task{
		Ordinal:     1,
		Chapter:     1,
		Title:       "第一章",
		Brief:       "开端",
		TargetWords: target,
		MinWords:    int(float64(target) * 0.8),
		MaxWords:    int(float64(target) * 1.2),
		Status:      planner.StatusPending,
	}
}

func hanText(n int) string { return strings.Repeat("字", n) }

func TestWriteTaskCommitsInBandDraft(t *testing.T) {
	client := &scriptClient{generate: func(int) (string, error) { return hanText(100), nil }}
	w, _, _ := newTestWriter(t, client, 2)

	task := newTask(100)
	res, err := w.WriteTask(context.Background(), task, "")
	require.NoError(t, err)

	assert.Equal(t, planner.StatusCommitted, task.Status)
	assert.Equal(t, 100, res.WordCount)
	assert.Zero(t, res.LengthRetries)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 1, client.generCalls)
}

func TestWriteTaskLengthRetryRecovers(t *testing.T) {
	client := &scriptClient{generate: func(calls int) (string, error) {
		if calls == 1 {
			return hanText(10), nil // 远低于下限
		}
		return hanText(100), nil
	}}
	w, _, _ := newTestWriter(t, client, 2)

	task := newTask(100)
	res, err := w.WriteTask(context.Background(), task, "")
	require.NoError(t, err)

	assert.Equal(t, planner.StatusCommitted, task.Status)
	assert.Equal(t, 1, res.LengthRetries)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 100, res.WordCount)
}

func TestWriteTaskAcceptsLastDraftAfterRetries(t *testing.T) {
	client := &scriptClient{generate: func(int) (string, error) { return hanText(10), nil }}
	w, _, _ := newTestWriter(t, client, 2)

	task := newTask(100)
	res, err := w.WriteTask(context.Background(), task, "")
	require.NoError(t, err)

	// 字数容差是软约束：重试用尽后接受末稿并告警
	assert.Equal(t, planner.StatusCommitted, task.Status)
	assert.Equal(t, 2, res.LengthRetries)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "超出容差区间")
	assert.Equal(t, 10, res.WordCount)
	assert.Equal(t, 3, client.generCalls)
}

func TestWriteTaskFailsOnTransportExhaustion(t *testing.T) {
	client := &scriptClient{generate: func(int) (string, error) {
		return "", errors.New("connection reset")
	}}
	w, _, _ := newTestWriter(t, client, 2)

	task := newTask(100)
	_, err := w.WriteTask(context.Background(), task, "")
	require.Error(t, err)

	assert.Equal(t, planner.StatusFailed, task.Status)
	var transportErr *llm.TransportError
	assert.ErrorAs(t, err, &transportErr)
}

func TestFinalizeAppendsSummary(t *testing.T) {
	client := &scriptClient{generate: func(int) (string, error) { return hanText(100), nil }}
	w, summaries, _ := newTestWriter(t, client, 0)

	task := newTask(100)
	res, err := w.WriteTask(context.Background(), task, "")
	require.NoError(t, err)

	warnings := w.Finalize(context.Background(), task, res.Text)
	assert.Empty(t, warnings)
	assert.Equal(t, planner.StatusSummarized, task.Status)

	sections := summaries.Sections()
	require.Len(t, sections, 1)
	assert.Equal(t, "一句话摘要", sections[0].Text)
	assert.Equal(t, task.Ordinal, sections[0].From)
}

func TestFinalizeDegradesSummaryOnFailure(t *testing.T) {
	client := &scriptClient{
		generate:  func(int) (string, error) { return hanText(100), nil },
		summarize: func() (string, error) { return "", errors.New("timeout") },
	}
	w, summaries, _ := newTestWriter(t, client, 0)

	task := newTask(100)
	warnings := w.Finalize(context.Background(), task, hanText(400))

	// 摘要失败降级为截断，任务照常进入 Summarized
	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0], "降级")
	assert.Equal(t, planner.StatusSummarized, task.Status)
	require.Len(t, summaries.Sections(), 1)
	assert.NotEmpty(t, summaries.Sections()[0].Text)
	assert.LessOrEqual(t, len([]rune(summaries.Sections()[0].Text)), 300)
}

// fixedExtractor 返回固定抽取结果。
type fixedExtractor struct {
	result ExtractionResult
	err    error
}

func (f fixedExtractor) Extract(context.Context, string, *memory.SettingsStore, int) (ExtractionResult, error) {
	return f.result, f.err
}

func TestFinalizeAppliesExtraction(t *testing.T) {
	client := &scriptClient{generate: func(int) (string, error) { return hanText(100), nil }}
	retrier := llm.NewRetrier(client, 0, time.Second, nil)
	settings := memory.NewSettingsStore("")
	settings.AddCharacter("林晨", "侦探", nil, 0)
	summaries := memory.NewSummaryStore(retrier, runeCounter{}, 5, nil)
	ctxmgr := memory.NewContextManager(settings, summaries, runeCounter{}, 8000, 5, 500)

	w, err := New(Params{
		Client:    retrier,
		Mode:      DefaultModes().Get("novel"),
		Context:   ctxmgr,
		Summaries: summaries,
		Settings:  settings,
		Extractor: fixedExtractor{result: ExtractionResult{
			Characters: []ExtractedCharacter{
				{Name: "老林", AliasOf: "林晨", State: "左臂受伤"},
				{Name: "陈默", Description: "线人", Traits: []string{"多疑"}},
			},
			Foreshadowing: []ExtractedCue{
				{Description: "抽屉里的旧照片"},
				{ResolvesID: 99}, // 账本里不存在
			},
			Events: []ExtractedEvent{
				{Timestamp: "当夜", Description: "会面", Characters: []string{"林晨", "陈默"}},
			},
		}},
	})
	require.NoError(t, err)

	task := newTask(100)
	warnings := w.Finalize(context.Background(), task, hanText(100))

	// 别名并入已有档案
	assert.Same(t, settings.Character("林晨"), settings.Character("老林"))
	assert.Equal(t, "左臂受伤", settings.Character("林晨").CurrentState)
	// 新人物登记
	require.NotNil(t, settings.Character("陈默"))
	assert.Equal(t, task.Ordinal, settings.Character("陈默").FirstAppearance)
	// 新伏笔埋设；回收不存在的伏笔只产生警告
	assert.Len(t, settings.UnresolvedForeshadowing(), 1)
	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0], "伏笔回收被忽略")
	// 时间线事件追加
	assert.Len(t, settings.Timeline(), 1)
}

func TestFinalizeToleratesExtractorFailure(t *testing.T) {
	client := &scriptClient{generate: func(int) (string, error) { return hanText(100), nil }}
	retrier := llm.NewRetrier(client, 0, time.Second, nil)
	settings := memory.NewSettingsStore("")
	summaries := memory.NewSummaryStore(retrier, runeCounter{}, 5, nil)
	ctxmgr := memory.NewContextManager(settings, summaries, runeCounter{}, 8000, 5, 500)

	w, err := New(Params{
		Client:    retrier,
		Mode:      DefaultModes().Get("novel"),
		Context:   ctxmgr,
		Summaries: summaries,
		Settings:  settings,
		Extractor: fixedExtractor{err: &llm.SchemaParseError{Err: errors.New("bad json")}},
	})
	require.NoError(t, err)

	task := newTask(100)
	warnings := w.Finalize(context.Background(), task, hanText(100))
	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0], "无法解析")
	assert.Equal(t, planner.StatusSummarized, task.Status)
	// 摘要仍然写入
	assert.Len(t, summaries.Sections(), 1)
}
