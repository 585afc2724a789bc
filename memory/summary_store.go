package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"long_text_agent/llm"
	"long_text_agent/textutil"
)

// Tier 摘要层级：段落 < 章节 < 卷。
type Tier string

const (
	TierSection Tier = "section"
	TierChapter Tier = "chapter"
	TierVolume  Tier = "volume"
)

// Summary 一条已压实的摘要，覆盖连续的任务序号区间 [From, To]。
type Summary struct {
	ID       int
	Tier     Tier
	From, To int
	Title    string
	Text     string
	Tokens   int
}

const (
	chapterMergeWords = 400
	volumeMergeWords  = 500
)

// SummaryStore 维护只增的三层摘要链。段落摘要超过阈值时，最旧的
// 连续块经模型合并为一条章节摘要并移出活动窗口；章节层在更高的
// 阈值下同样向卷层压实。压实是收回空间的手段，不是删除：每个已
// 提交的任务始终恰好被某一层的一条活动摘要覆盖。
type SummaryStore struct {
	client  *llm.Retrier
	counter llm.TokenCounter

	sectionKeep int // 活动段落摘要上限（rolling window 大小）
	chapterKeep int // 活动章节摘要上限

	sections []Summary
	chapters []Summary
	volume   *Summary

	nextID   int
	degraded int // 降级压实次数（模型不可用时走朴素截断）
	logger   *zap.SugaredLogger
}

func NewSummaryStore(client *llm.Retrier, counter llm.TokenCounter, sectionKeep int, logger *zap.SugaredLogger) *SummaryStore {
	if sectionKeep < 1 {
		sectionKeep = 5
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SummaryStore{
		client:      client,
		counter:     counter,
		sectionKeep: sectionKeep,
		chapterKeep: sectionKeep * 2,
		logger:      logger,
	}
}

// Append 追加一条段落级摘要并在需要时向上压实。
func (s *SummaryStore) Append(ctx context.Context, title, text string, from, to int) Summary {
	s.nextID++
	entry := Summary{
		ID:     s.nextID,
		Tier:   TierSection,
		From:   from,
		To:     to,
		Title:  title,
		Text:   text,
		Tokens: s.counter.Count(text),
	}
	s.sections = append(s.sections, entry)
	s.Compact(ctx)
	return entry
}

// Compact 检查两级阈值并执行必要的压实。Append 内部已调用；
// 暴露出来是为了让调用方在调整阈值后能主动触发。
func (s *SummaryStore) Compact(ctx context.Context) {
	if overflow := len(s.sections) - s.sectionKeep; overflow > 0 {
		block := s.sections[:overflow]
		merged := s.merge(ctx, TierChapter, block, chapterMergeWords)
		s.sections = append([]Summary(nil), s.sections[overflow:]...)
		s.chapters = append(s.chapters, merged)
		s.logger.Debugw("compacted section summaries",
			"merged", overflow, "range", fmt.Sprintf("[%d,%d]", merged.From, merged.To))
	}

	if len(s.chapters) > s.chapterKeep {
		block := s.chapters
		if s.volume != nil {
			block = append([]Summary{*s.volume}, block...)
		}
		merged := s.merge(ctx, TierVolume, block, volumeMergeWords)
		s.chapters = nil
		s.volume = &merged
		s.logger.Debugw("compacted chapter summaries into volume",
			"range", fmt.Sprintf("[%d,%d]", merged.From, merged.To))
	}
}

// merge 调用模型把一段连续摘要合并成上一层的一条。重试耗尽时
// 降级为拼接加截断，绝不中止整轮生成。
func (s *SummaryStore) merge(ctx context.Context, tier Tier, block []Summary, maxWords int) Summary {
	var lines []string
	for _, b := range block {
		lines = append(lines, fmt.Sprintf("【%s】%s", b.Title, b.Text))
	}
	combined := strings.Join(lines, "\n")

	text, err := s.mergeText(ctx, combined, maxWords)
	if err != nil {
		s.degraded++
		s.logger.Warnw("summary compaction degraded to truncation", "tier", tier, "error", err)
		text = textutil.Truncate(combined, maxWords*2, "……")
	}

	s.nextID++
	return Summary{
		ID:     s.nextID,
		Tier:   tier,
		From:   block[0].From,
		To:     block[len(block)-1].To,
		Title:  fmt.Sprintf("合并摘要（%s - %s）", block[0].Title, block[len(block)-1].Title),
		Text:   text,
		Tokens: s.counter.Count(text),
	}
}

func (s *SummaryStore) mergeText(ctx context.Context, combined string, maxWords int) (string, error) {
	if s.client == nil {
		return "", errors.New("no llm client configured")
	}
	req := llm.Request{
		Instruction: fmt.Sprintf(
			"请将以下前情摘要合并为一段更精炼的摘要，控制在%d字以内。\n"+
				"保留关键信息：主要事件、人物行动、重要转折。\n\n【前情摘要】\n%s\n\n【合并摘要】",
			maxWords, combined),
		MaxTokens: 1024,
	}
	res, err := s.client.Do(ctx, req)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(res.Text) == "" {
		return "", errors.New("empty merged summary")
	}
	return strings.TrimSpace(res.Text), nil
}

// Window 返回最近 k 条活动段落摘要。
func (s *SummaryStore) Window(k int) []Summary {
	if k <= 0 || k >= len(s.sections) {
		return append([]Summary(nil), s.sections...)
	}
	return append([]Summary(nil), s.sections[len(s.sections)-k:]...)
}

// Sections 返回全部活动段落摘要。
func (s *SummaryStore) Sections() []Summary { return append([]Summary(nil), s.sections...) }

// Chapters 返回全部活动章节摘要。
func (s *SummaryStore) Chapters() []Summary { return append([]Summary(nil), s.chapters...) }

// Volume 返回活动卷级摘要；没有时为 nil。
func (s *SummaryStore) Volume() *Summary { return s.volume }

// DegradedCompactions 返回降级压实的次数，最终报告中作为提示呈现。
func (s *SummaryStore) DegradedCompactions() int { return s.degraded }

// Covers 判断任务序号是否被某条活动摘要覆盖（直接或经压实）。
func (s *SummaryStore) Covers(ordinal int) bool {
	count := 0
	if s.volume != nil && ordinal >= s.volume.From && ordinal <= s.volume.To {
		count++
	}
	for _, c := range s.chapters {
		if ordinal >= c.From && ordinal <= c.To {
			count++
		}
	}
	for _, sec := range s.sections {
		if ordinal >= sec.From && ordinal <= sec.To {
			count++
		}
	}
	return count == 1
}
