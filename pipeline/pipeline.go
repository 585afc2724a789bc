// Package pipeline 串联 Planner → Writer（循环）→ Checker，
// 并持有单轮生成的全部记忆状态。多轮并发运行时各自调用 Run，
// 每轮内部新建独立的存储实例，没有跨轮共享的可变状态。
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"long_text_agent/checker"
	"long_text_agent/llm"
	"long_text_agent/memory"
	"long_text_agent/planner"
	"long_text_agent/textutil"
	"long_text_agent/writer"
)

// RunParams 单轮生成的参数。
type RunParams struct {
	Outline      *planner.Outline
	Mode         string
	TargetWords  int
	Title        string
	DisableCheck bool
	// Extractor 可替换人物/伏笔抽取实现；缺省为模型辅助抽取。
	Extractor writer.Extractor
}

// SectionOutput 一个已提交任务的最终记录。
type SectionOutput struct {
	Ordinal          int
	Chapter          int
	Title            string
	Text             string
	WordCount        int
	TransportRetries int
	LengthRetries    int
}

// RunResult 单轮生成的产出。致命错误发生时随错误一并返回，
// Document 保留到最后一个已提交任务为止的内容。
type RunResult struct {
	RunID      string
	Title      string
	Mode       string
	Document   string
	Sections   []SectionOutput
	Tasks      []*planner.Task
	TotalWords int
	Report     *checker.Report
	Warnings   []string
}

// Pipeline 生成管道。一个 Pipeline 可发起多轮独立运行。
type Pipeline struct {
	cfg     Config
	client  llm.Client
	counter llm.TokenCounter
	modes   *writer.ModeRegistry
	logger  *zap.SugaredLogger
}

func New(cfg Config, client llm.Client, logger *zap.SugaredLogger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if client == nil {
		var err error
		client, err = llm.NewClient(llm.Settings{
			Provider:    cfg.LLM.Provider,
			Model:       cfg.LLM.Model,
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Temperature: cfg.LLM.Temperature,
		})
		if err != nil {
			return nil, err
		}
	}
	return &Pipeline{
		cfg:     cfg,
		client:  client,
		counter: llm.NewTokenEstimator(),
		modes:   writer.DefaultModes(),
		logger:  logger,
	}, nil
}

// Modes 返回可用写作模式表。
func (p *Pipeline) Modes() *writer.ModeRegistry { return p.modes }

// Run 执行一轮完整生成：规划一次、按序生成、结束后检查一次。
// 取消或致命错误时返回包含已提交内容的部分结果和对应错误。
func (p *Pipeline) Run(ctx context.Context, params RunParams) (*RunResult, error) {
	if params.Outline == nil {
		return nil, &planner.MalformedOutlineError{Reason: "no outline provided"}
	}
	if params.Mode != "" && !p.modes.Has(params.Mode) {
		return nil, fmt.Errorf("unknown mode %q (available: %s)", params.Mode, strings.Join(p.modes.List(), ", "))
	}

	plan, err := planner.Decompose(params.Outline, planner.Options{
		TargetWords:     params.TargetWords,
		WordsPerSection: p.cfg.Generation.WordsPerSection,
		MinTolerance:    p.cfg.Generation.MinTolerance,
		MaxTolerance:    p.cfg.Generation.MaxTolerance,
	})
	if err != nil {
		return nil, err
	}

	title := params.Title
	if title == "" {
		title = plan.Title
	}
	if title == "" {
		title = "未命名作品"
	}

	mode := p.modes.Get(params.Mode)
	result := &RunResult{
		RunID: uuid.NewString(),
		Title: title,
		Mode:  mode.Name,
		Tasks: plan.Tasks,
	}
	log := p.logger.With("run", result.RunID, "title", title)
	log.Infow("run started", "mode", mode.Name, "tasks", len(plan.Tasks), "target_words", plan.TargetWords)

	// 每轮独立的记忆状态
	settings := memory.NewSettingsStore(params.Outline.Settings.World)
	for _, name := range sortedKeys(params.Outline.Settings.Characters) {
		settings.AddCharacter(name, params.Outline.Settings.Characters[name], nil, 0)
	}
	retrier := llm.NewRetrier(p.client, p.cfg.LLM.MaxRetries,
		time.Duration(p.cfg.LLM.TimeoutSeconds)*time.Second, log)
	summaries := memory.NewSummaryStore(retrier, p.counter, p.cfg.Context.RecentSummariesCount, log)
	ctxmgr := memory.NewContextManager(settings, summaries, p.counter,
		p.cfg.Context.MaxContextTokens, p.cfg.Context.RecentSummariesCount, p.cfg.Context.TailChars)

	extractor := params.Extractor
	if extractor == nil {
		extractor = &writer.LLMExtractor{Client: retrier}
	}

	w, err := writer.New(writer.Params{
		Client:        retrier,
		Mode:          mode,
		Context:       ctxmgr,
		Summaries:     summaries,
		Settings:      settings,
		Extractor:     extractor,
		LengthRetries: p.cfg.Generation.LengthRetries,
		Logger:        log,
	})
	if err != nil {
		return nil, err
	}

	var doc strings.Builder
	doc.WriteString("# " + title + "\n")
	tail := ""
	lastChapter := 0

	for _, task := range plan.Tasks {
		if err := ctx.Err(); err != nil {
			// 取消只丢弃未开始的任务，已提交的内容全部保留。
			p.finish(result, &doc)
			log.Warnw("run cancelled", "committed_tasks", len(result.Sections))
			return result, err
		}

		sec, err := w.WriteTask(ctx, task, tail)
		if err != nil {
			p.finish(result, &doc)
			log.Errorw("run aborted", "task", task.Ordinal, "error", err)
			return result, fmt.Errorf("run aborted at task %d of %d: %w", task.Ordinal, len(plan.Tasks), err)
		}

		if task.Chapter != lastChapter {
			doc.WriteString("\n## " + chapterTitle(params.Outline, task.Chapter) + "\n\n")
			lastChapter = task.Chapter
		} else {
			doc.WriteString("\n\n")
		}
		doc.WriteString(sec.Text)
		tail = textutil.TailRunes(tail+sec.Text, p.cfg.Context.TailChars*2)

		result.Warnings = append(result.Warnings, sec.Warnings...)
		result.Warnings = append(result.Warnings, w.Finalize(ctx, task, sec.Text)...)
		result.Sections = append(result.Sections, SectionOutput{
			Ordinal:          task.Ordinal,
			Chapter:          task.Chapter,
			Title:            task.Title,
			Text:             sec.Text,
			WordCount:        sec.WordCount,
			TransportRetries: sec.TransportRetries,
			LengthRetries:    sec.LengthRetries,
		})
		log.Infow("task committed",
			"task", task.Ordinal, "words", sec.WordCount,
			"transport_retries", sec.TransportRetries, "length_retries", sec.LengthRetries)
	}

	p.finish(result, &doc)

	if !params.DisableCheck {
		chk := checker.New(retrier, settings, log)
		sections := make([]checker.Section, 0, len(result.Sections))
		for _, s := range result.Sections {
			sections = append(sections, checker.Section{Ordinal: s.Ordinal, Title: s.Title, Text: s.Text})
		}
		result.Report = chk.Check(ctx, sections)
		if n := summaries.DegradedCompactions(); n > 0 {
			result.Report.Notes = append(result.Report.Notes, checker.Note{
				Check:   "summary-compaction",
				Message: fmt.Sprintf("本轮有 %d 次摘要压实降级为朴素截断", n),
			})
		}
		log.Infow("consistency check finished",
			"issues", len(result.Report.Issues), "notes", len(result.Report.Notes))
	}

	log.Infow("run finished", "total_words", result.TotalWords, "warnings", len(result.Warnings))
	return result, nil
}

func (p *Pipeline) finish(result *RunResult, doc *strings.Builder) {
	result.Document = doc.String()
	result.TotalWords = 0
	for _, s := range result.Sections {
		result.TotalWords += s.WordCount
	}
}

func chapterTitle(outline *planner.Outline, chapter int) string {
	if chapter >= 1 && chapter <= len(outline.Chapters) && outline.Chapters[chapter-1].Title != "" {
		return outline.Chapters[chapter-1].Title
	}
	return fmt.Sprintf("第%d章", chapter)
}

// sortedKeys 保证人物登记顺序稳定，与 map 遍历顺序无关。
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
