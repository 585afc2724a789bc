package checker

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"long_text_agent/llm"
	"long_text_agent/textutil"
)

// checkNameVariants 让模型枚举文中出现的人物名，再与别名注册表做
// 字符串相似度聚类，标出未登记的近似变体。
func (c *Checker) checkNameVariants(ctx context.Context, sections []Section) ([]Issue, error) {
	if c.settings == nil {
		return nil, nil
	}
	known := c.settings.KnownNames()
	if len(known) == 0 {
		return nil, nil
	}

	res, err := c.client.Do(ctx, llm.Request{
		Instruction: "请从以下内容中提取所有人物名称，每行一个。\n只输出名称，不需要其他说明。\n\n【内容】\n" +
			joinSections(sections, 3000) + "\n【人物名称】",
		MaxTokens: 512,
	})
	if err != nil {
		return nil, err
	}

	knownSet := make(map[string]bool, len(known))
	for _, name := range known {
		knownSet[name] = true
	}

	var issues []Issue
	flagged := make(map[string]bool)
	for _, line := range strings.Split(res.Text, "\n") {
		found := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-• "))
		if found == "" || found == "无" || knownSet[found] {
			continue
		}
		for _, name := range known {
			if !similarName(found, name) {
				continue
			}
			pair := found + "|" + name
			if flagged[pair] {
				break
			}
			flagged[pair] = true
			ordinal, offset := locate(sections, found)
			issues = append(issues, Issue{
				Category:    CategoryNameVariant,
				Severity:    SeverityMedium,
				TaskOrdinal: ordinal,
				Offset:      offset,
				Description: fmt.Sprintf("人物名称可能不一致：「%s」与已知角色「%s」相似", found, name),
				Suggestion:  fmt.Sprintf("请确认「%s」是否应写作「%s」，或将其登记为别名", found, name),
			})
			break
		}
	}
	return issues, nil
}

// checkBehavior 逐节对照人物性格设定检查行为是否相符（模型辅助）。
func (c *Checker) checkBehavior(ctx context.Context, sections []Section) ([]Issue, error) {
	if c.settings == nil {
		return nil, nil
	}
	var lines []string
	for _, ch := range c.settings.Characters() {
		if len(ch.Traits) > 0 {
			lines = append(lines, fmt.Sprintf("- %s: %s", ch.Name, strings.Join(ch.Traits, "、")))
		}
	}
	if len(lines) == 0 {
		return nil, nil
	}
	profile := strings.Join(lines, "\n")

	var issues []Issue
	for _, sec := range sections {
		res, err := c.client.Do(ctx, llm.Request{
			Instruction: fmt.Sprintf(
				"请检查以下内容中的人物行为是否与其性格设定一致。\n\n【人物设定】\n%s\n\n【待检查内容】\n%s\n\n"+
					"如果发现不一致，请说明哪个人物、什么行为、为何与设定不符。\n如果没有问题，只输出\"通过\"。",
				profile, textutil.Truncate(sec.Text, 3000, "……")),
			MaxTokens: 1024,
		})
		if err != nil {
			return nil, err
		}
		text := strings.TrimSpace(res.Text)
		if !strings.Contains(text, "通过") && len([]rune(text)) > 10 {
			issues = append(issues, Issue{
				Category:    CategoryBehavior,
				Severity:    SeverityMedium,
				TaskOrdinal: sec.Ordinal,
				Offset:      -1,
				Description: textutil.Truncate(text, 500, "……"),
				Suggestion:  "请根据人物设定调整行为描写",
			})
		}
	}
	return issues, nil
}

// checkContinuity 检查相邻两节的边界是否存在无解释的状态跳变。
func (c *Checker) checkContinuity(ctx context.Context, sections []Section) ([]Issue, error) {
	var issues []Issue
	for i := 1; i < len(sections); i++ {
		prev := textutil.TailRunes(sections[i-1].Text, 1500)
		curr := textutil.Truncate(sections[i].Text, 1500, "")

		res, err := c.client.Do(ctx, llm.Request{
			Instruction: fmt.Sprintf(
				"请检查以下两段内容的连续性，是否存在场景突变、时间跳跃、"+
					"人物状态矛盾或对话断裂。\n\n【前文结尾】\n%s\n\n【后文开头】\n%s\n\n"+
					"如果发现问题，请说明问题类型和具体内容。\n如果衔接良好，只输出\"衔接良好\"。",
				prev, curr),
			MaxTokens: 1024,
		})
		if err != nil {
			return nil, err
		}
		text := strings.TrimSpace(res.Text)
		if !strings.Contains(text, "良好") && len([]rune(text)) > 20 {
			issues = append(issues, Issue{
				Category:    CategoryContinuity,
				Severity:    SeverityMedium,
				TaskOrdinal: sections[i].Ordinal,
				Offset:      0,
				Description: textutil.Truncate(text, 500, "……"),
				Suggestion:  "请添加过渡内容或修正矛盾",
			})
		}
	}
	return issues, nil
}

// checkSettingConflict 对照本轮不可变的世界观文本块检查内容冲突。
func (c *Checker) checkSettingConflict(ctx context.Context, sections []Section) ([]Issue, error) {
	if c.settings == nil || c.settings.World() == "" {
		return nil, nil
	}

	var issues []Issue
	for _, sec := range sections {
		res, err := c.client.Do(ctx, llm.Request{
			Instruction: fmt.Sprintf(
				"请检查以下内容是否与世界观设定冲突。\n\n【世界观设定】\n%s\n\n【待检查内容】\n%s\n\n"+
					"如果发现冲突，请说明哪条设定被违反以及冲突之处。\n如果没有冲突，只输出\"无冲突\"。",
				c.settings.World(), textutil.Truncate(sec.Text, 3000, "……")),
			MaxTokens: 1024,
		})
		if err != nil {
			return nil, err
		}
		text := strings.TrimSpace(res.Text)
		if !strings.Contains(text, "无冲突") && len([]rune(text)) > 20 {
			issues = append(issues, Issue{
				Category:    CategorySettingConflict,
				Severity:    SeverityHigh,
				TaskOrdinal: sec.Ordinal,
				Offset:      -1,
				Description: textutil.Truncate(text, 500, "……"),
				Suggestion:  "请修正与设定冲突的内容",
			})
		}
	}
	return issues, nil
}

var checkJSONFence = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// checkLogicHoles 对全文做一次深度模型检查，覆盖窄项检查之外的
// 前后矛盾。结构化响应解析失败重试一次，再失败作为检查失败上报。
func (c *Checker) checkLogicHoles(ctx context.Context, sections []Section) ([]Issue, error) {
	contextBlock := "无可用设定信息"
	if c.settings != nil {
		if wc := c.settings.WritingContext(); wc != "" {
			contextBlock = wc
		}
	}

	req := llm.Request{
		System: "你是一个专业的文学编辑和逻辑审核员，只输出有效的 JSON。",
		Instruction: fmt.Sprintf(
			"请对以下内容进行深度的逻辑与一致性检查，找出冲突、漏洞和不合理之处。\n\n"+
				"【已知设定参考】\n%s\n\n【待检查内容】\n%s\n\n"+
				"请以 JSON 格式输出：\n"+
				`{"passed": true, "issues": [{"type": "问题类型", "severity": "低/中/高/严重", "ordinal": 0, "description": "问题描述", "suggestion": "修改建议"}]}`+"\n"+
				"ordinal 填问题所在的节序号，无法定位填 0。没有问题时 passed 为 true 且 issues 为空数组。\n"+
				"只输出 JSON，不要包含任何额外说明。",
			contextBlock, joinSections(sections, 8000)),
		MaxTokens: 2048,
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		res, err := c.client.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		issues, err := parseCheckPayload(res.Text)
		if err == nil {
			return issues, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func parseCheckPayload(raw string) ([]Issue, error) {
	payload := strings.TrimSpace(raw)
	if m := checkJSONFence.FindStringSubmatch(payload); m != nil {
		payload = m[1]
	}
	if !gjson.Valid(payload) {
		return nil, &llm.SchemaParseError{Payload: raw, Err: errors.New("not valid json")}
	}

	var issues []Issue
	for _, item := range gjson.Get(payload, "issues").Array() {
		desc := item.Get("description").String()
		if desc == "" {
			continue
		}
		issues = append(issues, Issue{
			Category:    mapCategory(item.Get("type").String()),
			Severity:    mapSeverity(item.Get("severity").String()),
			TaskOrdinal: int(item.Get("ordinal").Int()),
			Offset:      -1,
			Description: desc,
			Suggestion:  item.Get("suggestion").String(),
		})
	}
	return issues, nil
}

func mapCategory(t string) Category {
	switch {
	case strings.Contains(t, "名称") || strings.Contains(t, "称呼"):
		return CategoryNameVariant
	case strings.Contains(t, "性格") || strings.Contains(t, "行为"):
		return CategoryBehavior
	case strings.Contains(t, "连续") || strings.Contains(t, "衔接"):
		return CategoryContinuity
	case strings.Contains(t, "设定"):
		return CategorySettingConflict
	default:
		return CategoryLogicHole
	}
}

func mapSeverity(s string) Severity {
	switch strings.TrimSpace(s) {
	case "严重":
		return SeverityCritical
	case "高":
		return SeverityHigh
	case "低":
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// locate 返回名字首次出现的节序号与偏移；找不到返回 (0, -1)。
func locate(sections []Section, name string) (int, int) {
	for _, sec := range sections {
		if idx := strings.Index(sec.Text, name); idx >= 0 {
			return sec.Ordinal, idx
		}
	}
	return 0, -1
}
