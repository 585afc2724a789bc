// Package writer 驱动单任务的生成状态机：
// Pending → Drafting → (LengthRetry)* → Committed → Summarized，
// 生成调用失败（重试耗尽）进入终态 Failed。
package writer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"long_text_agent/llm"
	"long_text_agent/memory"
	"long_text_agent/planner"
	"long_text_agent/textutil"
)

// SectionResult 一个已提交任务的产出。
type SectionResult struct {
	Task             *planner.Task
	Text             string
	WordCount        int
	TransportRetries int // 底层调用实际发生的重试次数
	LengthRetries    int
	Warnings         []string
}

// Params 构造 Writer 所需的协作对象。
type Params struct {
	Client        *llm.Retrier
	Mode          Mode
	Context       *memory.ContextManager
	Summaries     *memory.SummaryStore
	Settings      *memory.SettingsStore
	Extractor     Extractor
	LengthRetries int
	Logger        *zap.SugaredLogger
}

// Writer 逐任务生成内容并维护记忆状态。
type Writer struct {
	client        *llm.Retrier
	mode          Mode
	ctxmgr        *memory.ContextManager
	summaries     *memory.SummaryStore
	settings      *memory.SettingsStore
	extractor     Extractor
	lengthRetries int
	logger        *zap.SugaredLogger
}

func New(p Params) (*Writer, error) {
	if p.Client == nil {
		return nil, errors.New("llm client is required")
	}
	if p.Context == nil || p.Summaries == nil || p.Settings == nil {
		return nil, errors.New("memory stores are required")
	}
	if p.Extractor == nil {
		p.Extractor = NopExtractor{}
	}
	if p.LengthRetries < 0 {
		p.LengthRetries = 0
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop().Sugar()
	}
	return &Writer{
		client:        p.Client,
		mode:          p.Mode,
		ctxmgr:        p.Context,
		summaries:     p.Summaries,
		settings:      p.Settings,
		extractor:     p.Extractor,
		lengthRetries: p.LengthRetries,
		logger:        p.Logger,
	}, nil
}

// WriteTask 执行 Drafting 与 LengthRetry 阶段，成功后任务进入
// Committed。字数容差是软约束：重试用尽后接受末稿并记录警告；
// 生成调用本身失败则任务进入 Failed 并向上返回错误（整轮终止）。
func (w *Writer) WriteTask(ctx context.Context, task *planner.Task, tail string) (*SectionResult, error) {
	task.Status = planner.StatusDrafting

	win := w.ctxmgr.Build(tail, memory.TaskBrief{
		Ordinal:     task.Ordinal,
		Title:       task.Title,
		Brief:       task.Brief,
		Hint:        task.Hint,
		TargetWords: task.TargetWords,
	})
	w.logger.Debugw("context window built",
		"task", task.Ordinal, "tokens", win.Tokens, "dropped", win.DroppedSummaries)

	result := &SectionResult{Task: task}

	req := llm.Request{
		System:      w.mode.SystemPrompt,
		Context:     win.Text,
		Instruction: generationInstruction(task.TargetWords),
		MaxTokens:   task.TargetWords * 2,
	}
	res, err := w.client.Do(ctx, req)
	if err != nil {
		task.Status = planner.StatusFailed
		return nil, fmt.Errorf("task %d generation failed: %w", task.Ordinal, err)
	}
	result.TransportRetries += res.Retries

	text, heading := stripLeadingHeading(strings.TrimSpace(res.Text))
	if heading != "" {
		w.logger.Debugw("dropped heading line from draft", "task", task.Ordinal, "heading", heading)
	}
	words := textutil.CountWords(text)

	for attempt := 0; (words < task.MinWords || words > task.MaxWords) && attempt < w.lengthRetries; attempt++ {
		task.Status = planner.StatusLengthRetry
		result.LengthRetries++
		w.logger.Infow("length out of tolerance, retrying",
			"task", task.Ordinal, "words", words, "min", task.MinWords, "max", task.MaxWords)

		retryReq := llm.Request{
			System:      w.mode.SystemPrompt,
			Context:     win.Text,
			Instruction: lengthAdjustInstruction(words, task.MinWords, task.MaxWords),
			MaxTokens:   task.TargetWords * 2,
		}
		res, err = w.client.Do(ctx, retryReq)
		if err != nil {
			task.Status = planner.StatusFailed
			return nil, fmt.Errorf("task %d length retry failed: %w", task.Ordinal, err)
		}
		result.TransportRetries += res.Retries
		text, _ = stripLeadingHeading(strings.TrimSpace(res.Text))
		words = textutil.CountWords(text)
	}

	if words < task.MinWords || words > task.MaxWords {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"第%d节字数 %d 超出容差区间 [%d, %d]，已接受末稿", task.Ordinal, words, task.MinWords, task.MaxWords))
	}

	result.Text = text
	result.WordCount = words
	task.Status = planner.StatusCommitted
	return result, nil
}

// Finalize 执行 Summarized 阶段：生成段落摘要写入 SummaryStore，
// 并跑一遍人物/伏笔抽取更新 SettingsStore。两者的失败都降级为
// 警告，不中止整轮。
func (w *Writer) Finalize(ctx context.Context, task *planner.Task, text string) []string {
	var warnings []string

	summary, warn := w.summarize(ctx, text)
	if warn != "" {
		warnings = append(warnings, warn)
	}
	w.summaries.Append(ctx, task.Title, summary, task.Ordinal, task.Ordinal)

	extraction, err := w.extractor.Extract(ctx, text, w.settings, task.Ordinal)
	if err != nil {
		var schemaErr *llm.SchemaParseError
		if errors.As(err, &schemaErr) {
			warnings = append(warnings, fmt.Sprintf("第%d节抽取结果无法解析，已跳过", task.Ordinal))
		} else {
			warnings = append(warnings, fmt.Sprintf("第%d节抽取调用失败，已跳过：%v", task.Ordinal, err))
		}
	} else {
		warnings = append(warnings, w.applyExtraction(extraction, task.Ordinal)...)
	}

	task.Status = planner.StatusSummarized
	return warnings
}

// summarize 生成段落级摘要；重试耗尽时降级为朴素截断。
func (w *Writer) summarize(ctx context.Context, text string) (string, string) {
	req := llm.Request{
		Instruction: summaryInstruction(w.mode.SummaryPrompt, textutil.Truncate(text, 3000, "……")),
		MaxTokens:   1024,
	}
	res, err := w.client.Do(ctx, req)
	if err != nil || strings.TrimSpace(res.Text) == "" {
		w.logger.Warnw("summarization degraded to truncation", "error", err)
		return textutil.Truncate(text, 300, "……"), "摘要生成失败，已降级为原文截断"
	}
	return strings.TrimSpace(res.Text), ""
}

func (w *Writer) applyExtraction(res ExtractionResult, ordinal int) []string {
	var warnings []string

	for _, c := range res.Characters {
		if c.AliasOf != "" && c.AliasOf != c.Name {
			if err := w.settings.AddAlias(c.AliasOf, c.Name); err != nil {
				// 正名未知时按新人物登记
				w.settings.AddCharacter(c.Name, c.Description, c.Traits, ordinal)
			}
		} else if w.settings.Character(c.Name) == nil {
			w.settings.AddCharacter(c.Name, c.Description, c.Traits, ordinal)
		}
		if c.State != "" {
			w.settings.UpdateCharacterState(c.Name, textutil.Truncate(c.State, 100, ""))
		}
	}

	for _, cue := range res.Foreshadowing {
		if cue.ResolvesID > 0 {
			if err := w.settings.ResolveForeshadowing(cue.ResolvesID, ordinal); err != nil {
				warnings = append(warnings, fmt.Sprintf("第%d节伏笔回收被忽略：%v", ordinal, err))
			}
		} else if cue.Description != "" {
			w.settings.PlantForeshadowing(cue.Description, ordinal, cue.Characters)
		}
	}

	for _, ev := range res.Events {
		if _, err := w.settings.AddTimelineEvent(ev.Timestamp, ordinal, ev.Description, ev.Characters); err != nil {
			warnings = append(warnings, fmt.Sprintf("第%d节时间线事件被忽略：%v", ordinal, err))
		}
	}

	return warnings
}
