package writer

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Mode 一种写作模式：体裁名称加上生成与摘要两套提示词。
type Mode struct {
	Name          string `yaml:"-"`
	DisplayName   string `yaml:"name"`
	SystemPrompt  string `yaml:"system_prompt"`
	SummaryPrompt string `yaml:"summary_prompt"`
}

// ModeRegistry 写作模式表，内置四种，可由 YAML 文件覆盖。
type ModeRegistry struct {
	modes       map[string]Mode
	defaultMode string
}

// DefaultModes 返回内置模式表。
func DefaultModes() *ModeRegistry {
	r := &ModeRegistry{modes: map[string]Mode{}, defaultMode: "novel"}
	r.put("novel", Mode{
		DisplayName:   "小说/故事",
		SystemPrompt:  "你是一位专业的小说作家。请根据提供的上下文创作高质量的小说内容。",
		SummaryPrompt: "请为以下内容生成简洁摘要，包含主要事件和人物行动。",
	})
	r.put("report", Mode{
		DisplayName:   "研究报告",
		SystemPrompt:  "你是一位专业的研究分析师。请撰写逻辑清晰、数据准确的报告内容。",
		SummaryPrompt: "请为以下内容生成简洁摘要，包含核心观点和关键结论。",
	})
	r.put("article", Mode{
		DisplayName:   "文章/博客",
		SystemPrompt:  "你是一位资深内容创作者。请撰写引人入胜、有价值的文章内容。",
		SummaryPrompt: "请为以下内容生成简洁摘要，包含核心论点和主要观点。",
	})
	r.put("document", Mode{
		DisplayName:   "技术文档",
		SystemPrompt:  "你是一位专业的技术文档工程师。请撰写清晰准确的技术文档。",
		SummaryPrompt: "请为以下内容生成简洁摘要，包含涵盖的功能和关键步骤。",
	})
	return r
}

func (r *ModeRegistry) put(name string, m Mode) {
	m.Name = name
	r.modes[name] = m
}

type modesFile struct {
	DefaultMode string          `yaml:"default_mode"`
	Modes       map[string]Mode `yaml:"modes"`
}

// LoadFile 从 YAML 文件合并/覆盖模式定义。
func (r *ModeRegistry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var f modesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse modes file: %w", err)
	}
	for name, m := range f.Modes {
		r.put(name, m)
	}
	if f.DefaultMode != "" {
		r.defaultMode = f.DefaultMode
	}
	return nil
}

// Get 返回指定模式；未知名称回退默认模式。
func (r *ModeRegistry) Get(name string) Mode {
	if m, ok := r.modes[name]; ok {
		return m
	}
	return r.modes[r.defaultMode]
}

// Has 判断模式是否存在。
func (r *ModeRegistry) Has(name string) bool {
	_, ok := r.modes[name]
	return ok
}

// List 返回全部模式名（字典序）。
func (r *ModeRegistry) List() []string {
	var names []string
	for name := range r.modes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
