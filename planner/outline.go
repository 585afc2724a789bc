// Package planner 把大纲解析并分解为带字数预算的有序写作任务。
// 纯转换，不触发任何模型调用；相同输入产出相同任务序列。
package planner

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// MalformedOutlineError 大纲解析或校验失败，在任何生成开始前立即返回。
type MalformedOutlineError struct {
	Reason string
}

func (e *MalformedOutlineError) Error() string {
	return "malformed outline: " + e.Reason
}

// ChapterSpec 大纲中的一章。
type ChapterSpec struct {
	Title string `yaml:"title"`
	Brief string `yaml:"brief"`
	Words int    `yaml:"words"`
}

// UnmarshalYAML 兼容两种写法：纯字符串（仅章节简介）或完整映射。
func (c *ChapterSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		c.Brief = s
		return nil
	}
	type plain ChapterSpec
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*c = ChapterSpec(p)
	return nil
}

// OutlineSettings 大纲随附的世界观与人物设定。
type OutlineSettings struct {
	World      string            `yaml:"world"`
	Characters map[string]string `yaml:"characters"`
}

// Outline 规划的唯一输入，解析后只读。
type Outline struct {
	Title    string          `yaml:"title"`
	Settings OutlineSettings `yaml:"settings"`
	Chapters []ChapterSpec   `yaml:"chapters"`
}

// ParseOutline 解析大纲文档。接受结构化映射，也接受
// 纯章节标题列表（使用默认字数预算）。
func ParseOutline(data []byte) (*Outline, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &MalformedOutlineError{Reason: err.Error()}
	}
	if len(root.Content) == 0 {
		return nil, &MalformedOutlineError{Reason: "empty document"}
	}

	doc := root.Content[0]
	if doc.Kind == yaml.SequenceNode {
		// 纯标题列表形式
		var titles []string
		if err := doc.Decode(&titles); err != nil {
			return nil, &MalformedOutlineError{Reason: err.Error()}
		}
		outline := &Outline{}
		for _, t := range titles {
			outline.Chapters = append(outline.Chapters, ChapterSpec{Title: t, Brief: t})
		}
		return outline, nil
	}

	var outline Outline
	if err := doc.Decode(&outline); err != nil {
		return nil, &MalformedOutlineError{Reason: err.Error()}
	}
	return &outline, nil
}

func (o *Outline) validate() error {
	if len(o.Chapters) == 0 {
		return &MalformedOutlineError{Reason: "outline has no chapters"}
	}
	for i, ch := range o.Chapters {
		if ch.Words < 0 {
			return &MalformedOutlineError{Reason: fmt.Sprintf("chapter %d has negative word count %d", i+1, ch.Words)}
		}
		if ch.Title == "" && ch.Brief == "" {
			return &MalformedOutlineError{Reason: fmt.Sprintf("chapter %d has neither title nor brief", i+1)}
		}
	}
	return nil
}
