package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"long_text_agent/checker"
)

// RenderReport 把检查报告渲染成 Markdown 文本，问题按类别分组。
func RenderReport(result *RunResult) string {
	var sb strings.Builder
	sb.WriteString("# 生成报告：" + result.Title + "\n\n")
	sb.WriteString(fmt.Sprintf("- 运行编号：%s\n", result.RunID))
	sb.WriteString(fmt.Sprintf("- 写作模式：%s\n", result.Mode))
	sb.WriteString(fmt.Sprintf("- 已提交小节：%d / %d\n", len(result.Sections), len(result.Tasks)))
	sb.WriteString(fmt.Sprintf("- 总字数：%d\n\n", result.TotalWords))

	sb.WriteString("## 小节明细\n\n")
	for _, s := range result.Sections {
		sb.WriteString(fmt.Sprintf("- 第%d节 %s：%d 字", s.Ordinal, s.Title, s.WordCount))
		if s.TransportRetries > 0 || s.LengthRetries > 0 {
			sb.WriteString(fmt.Sprintf("（传输重试 %d 次，字数重试 %d 次）", s.TransportRetries, s.LengthRetries))
		}
		sb.WriteString("\n")
	}

	if len(result.Warnings) > 0 {
		sb.WriteString("\n## 警告\n\n")
		for _, w := range result.Warnings {
			sb.WriteString("- " + w + "\n")
		}
	}

	if result.Report != nil {
		sb.WriteString("\n## 一致性检查\n\n")
		if len(result.Report.Issues) == 0 {
			sb.WriteString("未发现一致性问题。\n")
		} else {
			byCategory := make(map[checker.Category][]checker.Issue)
			var order []checker.Category
			for _, issue := range result.Report.Issues {
				if _, ok := byCategory[issue.Category]; !ok {
					order = append(order, issue.Category)
				}
				byCategory[issue.Category] = append(byCategory[issue.Category], issue)
			}
			for _, cat := range order {
				sb.WriteString(fmt.Sprintf("### %s（%d 条）\n\n", categoryLabel(cat), len(byCategory[cat])))
				for _, issue := range byCategory[cat] {
					sb.WriteString(fmt.Sprintf("- [%s] %s：%s\n",
						issue.Severity, locationLabel(issue), issue.Description))
					if issue.Suggestion != "" {
						sb.WriteString("  - 建议：" + issue.Suggestion + "\n")
					}
				}
				sb.WriteString("\n")
			}
		}
		if len(result.Report.Notes) > 0 {
			sb.WriteString("### 诊断说明\n\n")
			for _, n := range result.Report.Notes {
				sb.WriteString(fmt.Sprintf("- [%s] %s\n", n.Check, n.Message))
			}
		}
	}
	return sb.String()
}

func categoryLabel(c checker.Category) string {
	switch c {
	case checker.CategoryNameVariant:
		return "名称不一致"
	case checker.CategoryBehavior:
		return "行为与设定不符"
	case checker.CategoryContinuity:
		return "衔接问题"
	case checker.CategorySettingConflict:
		return "设定冲突"
	case checker.CategoryLogicHole:
		return "逻辑漏洞"
	}
	return string(c)
}

func locationLabel(issue checker.Issue) string {
	if issue.TaskOrdinal <= 0 {
		return "位置不明"
	}
	if issue.Offset >= 0 {
		return fmt.Sprintf("第%d节偏移%d", issue.TaskOrdinal, issue.Offset)
	}
	return fmt.Sprintf("第%d节", issue.TaskOrdinal)
}

// SaveOutputs 把正文、报告和结构化元数据写入输出目录，
// 返回正文文件路径。文件名带时间戳避免覆盖历史产出。
func (p *Pipeline) SaveOutputs(result *RunResult) (string, error) {
	if err := os.MkdirAll(p.cfg.Output.Directory, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	stamp := time.Now().Format("20060102_150405")
	base := fmt.Sprintf("%s_%s", sanitizeFilename(result.Title), stamp)

	docPath := filepath.Join(p.cfg.Output.Directory, base+".md")
	if err := os.WriteFile(docPath, []byte(result.Document), 0o644); err != nil {
		return "", fmt.Errorf("write document: %w", err)
	}

	reportPath := filepath.Join(p.cfg.Output.Directory, base+"_report.md")
	if err := os.WriteFile(reportPath, []byte(RenderReport(result)), 0o644); err != nil {
		return docPath, fmt.Errorf("write report: %w", err)
	}

	meta, err := json.MarshalIndent(runMetadata(result), "", "  ")
	if err == nil {
		_ = os.WriteFile(filepath.Join(p.cfg.Output.Directory, base+".json"), meta, 0o644)
	}

	if p.cfg.Output.HTMLExport {
		html, err := mdToHTML(result.Document)
		if err != nil {
			return docPath, fmt.Errorf("render html: %w", err)
		}
		if err := os.WriteFile(filepath.Join(p.cfg.Output.Directory, base+".html"), []byte(html), 0o644); err != nil {
			return docPath, fmt.Errorf("write html: %w", err)
		}
	}
	return docPath, nil
}

type sectionMeta struct {
	Ordinal          int    `json:"ordinal"`
	Chapter          int    `json:"chapter"`
	Title            string `json:"title"`
	WordCount        int    `json:"word_count"`
	TransportRetries int    `json:"transport_retries"`
	LengthRetries    int    `json:"length_retries"`
}

type runMeta struct {
	RunID      string        `json:"run_id"`
	Title      string        `json:"title"`
	Mode       string        `json:"mode"`
	TotalWords int           `json:"total_words"`
	Sections   []sectionMeta `json:"sections"`
	Warnings   []string      `json:"warnings,omitempty"`
	IssueCount int           `json:"issue_count"`
}

func runMetadata(result *RunResult) runMeta {
	meta := runMeta{
		RunID:      result.RunID,
		Title:      result.Title,
		Mode:       result.Mode,
		TotalWords: result.TotalWords,
		Warnings:   result.Warnings,
	}
	for _, s := range result.Sections {
		meta.Sections = append(meta.Sections, sectionMeta{
			Ordinal:          s.Ordinal,
			Chapter:          s.Chapter,
			Title:            s.Title,
			WordCount:        s.WordCount,
			TransportRetries: s.TransportRetries,
			LengthRetries:    s.LengthRetries,
		})
	}
	if result.Report != nil {
		meta.IssueCount = len(result.Report.Issues)
	}
	return meta
}

func mdToHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var filenameUnsafe = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
	"\"", "_", "<", "_", ">", "_", "|", "_", " ", "_",
)

func sanitizeFilename(name string) string {
	out := filenameUnsafe.Replace(strings.TrimSpace(name))
	if out == "" {
		return "untitled"
	}
	runes := []rune(out)
	if len(runes) > 40 {
		out = string(runes[:40])
	}
	return out
}
