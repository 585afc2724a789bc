package memory

import (
	"fmt"
	"strings"

	"long_text_agent/llm"
	"long_text_agent/textutil"
)

// TaskBrief 当前写作任务在上下文中呈现所需的信息。
type TaskBrief struct {
	Ordinal     int
	Title       string
	Brief       string
	Hint        string
	TargetWords int
}

// ContextWindow 为单次生成调用组装的有界输入。不持久化，每个任务重建。
type ContextWindow struct {
	Text             string
	Tokens           int
	DroppedSummaries int
	TailTruncated    bool
}

// ContextManager 组装上下文窗口并强制 token 上限：先截尾部原文，
// 再丢窗口里最旧的摘要（它们仍留在 SummaryStore，经高层摘要可达）。
// 相同的存储状态与尾部文本产出完全相同的窗口。
type ContextManager struct {
	settings *SettingsStore
	store    *SummaryStore
	counter  llm.TokenCounter

	maxTokens   int
	recentCount int
	tailChars   int
}

func NewContextManager(settings *SettingsStore, store *SummaryStore, counter llm.TokenCounter, maxTokens, recentCount, tailChars int) *ContextManager {
	if maxTokens < 1 {
		maxTokens = 8000
	}
	if recentCount < 1 {
		recentCount = 5
	}
	if tailChars < 1 {
		tailChars = 500
	}
	return &ContextManager{
		settings:    settings,
		store:       store,
		counter:     counter,
		maxTokens:   maxTokens,
		recentCount: recentCount,
		tailChars:   tailChars,
	}
}

// Build 为任务 T 构建上下文窗口，只使用 1..T-1 已提交的数据。
func (m *ContextManager) Build(tail string, task TaskBrief) ContextWindow {
	settingsBlock := m.settings.WritingContext()
	volume := m.store.Volume()
	chapters := m.store.Chapters()
	sections := m.store.Window(m.recentCount)
	tail = textutil.TailRunes(tail, m.tailChars)

	win := ContextWindow{}
	origTail := tail

	for {
		text := m.assemble(settingsBlock, volume, chapters, sections, tail, task)
		tokens := m.counter.Count(text)
		if tokens <= m.maxTokens {
			win.Text = text
			win.Tokens = tokens
			win.TailTruncated = tail != origTail
			return win
		}

		switch {
		case tail != "":
			// 先砍尾部原文：每次保留后一半，过短则整段放弃。
			runes := []rune(tail)
			if len(runes) < 100 {
				tail = ""
			} else {
				tail = string(runes[len(runes)/2:])
			}
		case len(sections) > 0:
			sections = sections[1:]
			win.DroppedSummaries++
		case len(chapters) > 0:
			chapters = chapters[1:]
			win.DroppedSummaries++
		case volume != nil:
			volume = nil
			win.DroppedSummaries++
		default:
			// 只剩设定与任务块仍超限：保留尾部（任务块在末尾），
			// 二分找能放进上限的最大后缀。
			fitted := m.fitSuffix(text)
			win.Text = fitted
			win.Tokens = m.counter.Count(fitted)
			win.TailTruncated = true
			return win
		}
	}
}

func (m *ContextManager) assemble(settingsBlock string, volume *Summary, chapters, sections []Summary, tail string, task TaskBrief) string {
	var parts []string

	if settingsBlock != "" {
		parts = append(parts, settingsBlock)
	}
	if volume != nil {
		parts = append(parts, "【全文背景】\n"+volume.Text)
	}
	if len(chapters) > 0 {
		var lines []string
		for _, c := range chapters {
			lines = append(lines, fmt.Sprintf("- %s: %s", c.Title, c.Text))
		}
		parts = append(parts, "【前文章节】\n"+strings.Join(lines, "\n"))
	}
	if len(sections) > 0 {
		var lines []string
		for _, sec := range sections {
			lines = append(lines, fmt.Sprintf("- %s: %s", sec.Title, sec.Text))
		}
		parts = append(parts, "【最近内容】\n"+strings.Join(lines, "\n"))
	}
	if tail != "" {
		parts = append(parts, "【上文结尾（用于衔接）】\n..."+tail)
	}

	hint := task.Hint
	if hint == "" {
		hint = "自然过渡"
	}
	parts = append(parts, fmt.Sprintf(
		"【当前写作任务】\n- 任务：%s\n- 内容要求：%s\n- 目标字数：%d 字\n- 衔接提示：%s",
		task.Title, task.Brief, task.TargetWords, hint))

	return strings.Join(parts, "\n\n")
}

// fitSuffix 返回 text 中 token 数不超过上限的最大后缀。
func (m *ContextManager) fitSuffix(text string) string {
	runes := []rune(text)
	lo, hi := 0, len(runes) // 可以丢弃的前缀长度区间
	for lo < hi {
		mid := (lo + hi) / 2
		if m.counter.Count(string(runes[mid:])) <= m.maxTokens {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return string(runes[lo:])
}
