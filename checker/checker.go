// Package checker 在全部任务提交后对组装完成的文档做一致性检查。
// 各项检查相互独立：单项内部出错只记一条诊断说明，不影响其余
// 检查，也绝不改写已生成的文本或记忆状态。
package checker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"long_text_agent/llm"
	"long_text_agent/memory"
)

// Category 问题类别。
type Category string

const (
	CategoryNameVariant     Category = "name-variant"
	CategoryBehavior        Category = "behavior"
	CategoryContinuity      Category = "continuity"
	CategorySettingConflict Category = "setting-conflict"
	CategoryLogicHole       Category = "logic-hole"
)

// Severity 严重程度，数值越大越严重。
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "低"
	case SeverityMedium:
		return "中"
	case SeverityHigh:
		return "高"
	case SeverityCritical:
		return "严重"
	}
	return "未知"
}

// Issue 一条一致性问题，产出后不再改写。
type Issue struct {
	Category    Category
	Severity    Severity
	TaskOrdinal int // 问题所在任务序号；无法定位时为 0
	Offset      int // 节内文本偏移；未知为 -1
	Description string
	Suggestion  string
}

// Note 诊断说明：检查内部失败、伏笔提醒等非问题类信息。
type Note struct {
	Check   string
	Message string
}

// Report 合并后的检查报告，按（任务序号，严重程度降序）排序。
type Report struct {
	Issues       []Issue
	Notes        []Note
	CheckedItems int
}

// Section 文档中对应一个任务的片段。
type Section struct {
	Ordinal int
	Title   string
	Text    string
}

// Checker 一致性检查器。
type Checker struct {
	client   *llm.Retrier
	settings *memory.SettingsStore
	logger   *zap.SugaredLogger
}

func New(client *llm.Retrier, settings *memory.SettingsStore, logger *zap.SugaredLogger) *Checker {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Checker{client: client, settings: settings, logger: logger}
}

// Check 对完整文档运行全部检查并合并结果。输入相同则输出相同；
// 检查只做加法，从不修改文档或存储。
func (c *Checker) Check(ctx context.Context, sections []Section) *Report {
	report := &Report{}

	checks := []struct {
		name string
		fn   func(context.Context, []Section) ([]Issue, error)
	}{
		{"name-variant", c.checkNameVariants},
		{"behavior", c.checkBehavior},
		{"continuity", c.checkContinuity},
		{"setting-conflict", c.checkSettingConflict},
		{"logic-hole", c.checkLogicHoles},
	}

	for _, check := range checks {
		issues, err := check.fn(ctx, sections)
		report.CheckedItems++
		if err != nil {
			c.logger.Warnw("consistency check failed", "check", check.name, "error", err)
			report.Notes = append(report.Notes, Note{
				Check:   check.name,
				Message: fmt.Sprintf("检查内部出错，已跳过：%v", err),
			})
			continue
		}
		report.Issues = append(report.Issues, issues...)
	}

	report.Notes = append(report.Notes, c.foreshadowReminders(sections)...)

	report.Issues = dedupe(report.Issues)
	sortIssues(report.Issues)

	return report
}

// sortIssues 按（任务序号升序，严重程度降序）稳定排序。
func sortIssues(issues []Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if a.TaskOrdinal != b.TaskOrdinal {
			return a.TaskOrdinal < b.TaskOrdinal
		}
		if a.Severity != b.Severity {
			return a.Severity > b.Severity
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.Description < b.Description
	})
}

// foreshadowReminders 对埋设已久仍未回收的伏笔生成提醒。
func (c *Checker) foreshadowReminders(sections []Section) []Note {
	if c.settings == nil || len(sections) == 0 {
		return nil
	}
	last := sections[len(sections)-1].Ordinal
	var notes []Note
	for _, item := range c.settings.UnresolvedForeshadowing() {
		if age := last - item.PlantedAt; age >= 5 {
			notes = append(notes, Note{
				Check:   "foreshadowing",
				Message: fmt.Sprintf("伏笔提醒：「%s」已埋下 %d 节未回收", item.Description, age),
			})
		}
	}
	return notes
}

func dedupe(issues []Issue) []Issue {
	seen := make(map[string]bool, len(issues))
	var out []Issue
	for _, issue := range issues {
		key := fmt.Sprintf("%s|%d|%s", issue.Category, issue.TaskOrdinal, issue.Description)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, issue)
	}
	return out
}

func joinSections(sections []Section, maxChars int) string {
	var sb strings.Builder
	for _, s := range sections {
		sb.WriteString(s.Text)
		sb.WriteString("\n\n")
	}
	runes := []rune(sb.String())
	if len(runes) > maxChars {
		return string(runes[:maxChars])
	}
	return sb.String()
}
