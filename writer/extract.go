package writer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"long_text_agent/llm"
	"long_text_agent/memory"
	"long_text_agent/textutil"
)

// ExtractedCharacter 抽取出的人物信息。AliasOf 非空表示这是已知
// 人物的一个新别名，否则按新人物登记。
type ExtractedCharacter struct {
	Name        string
	AliasOf     string
	Description string
	Traits      []string
	State       string
}

// ExtractedCue 伏笔线索。ResolvesID > 0 表示回收账本中对应编号的
// 伏笔，否则为新埋设。
type ExtractedCue struct {
	Description string
	ResolvesID  int
	Characters  []string
}

// ExtractedEvent 时间线事件。
type ExtractedEvent struct {
	Timestamp   string
	Description string
	Characters  []string
}

// ExtractionResult 一次抽取的全部产出。
type ExtractionResult struct {
	Characters    []ExtractedCharacter
	Foreshadowing []ExtractedCue
	Events        []ExtractedEvent
}

// Extractor 在每个任务提交后运行一次，输入为该节文本与当前设定集，
// 输出供 SettingsStore 更新。实现必须只读 store，不得直接改写。
type Extractor interface {
	Extract(ctx context.Context, sectionText string, store *memory.SettingsStore, taskOrdinal int) (ExtractionResult, error)
}

// NopExtractor 不做任何抽取。
type NopExtractor struct{}

func (NopExtractor) Extract(context.Context, string, *memory.SettingsStore, int) (ExtractionResult, error) {
	return ExtractionResult{}, nil
}

// LLMExtractor 用模型做轻量级人物/伏笔抽取，输出约定为 JSON。
// 解析失败重试一次，仍失败则返回 SchemaParseError 由调用方降级。
type LLMExtractor struct {
	Client *llm.Retrier
}

func (e *LLMExtractor) Extract(ctx context.Context, sectionText string, store *memory.SettingsStore, taskOrdinal int) (ExtractionResult, error) {
	req := llm.Request{
		System:      "你是设定集记录员，只输出符合约定格式的 JSON。",
		Instruction: e.buildPrompt(sectionText, store),
		MaxTokens:   1024,
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		res, err := e.Client.Do(ctx, req)
		if err != nil {
			return ExtractionResult{}, err
		}
		result, err := parseExtraction(res.Text)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return ExtractionResult{}, lastErr
}

func (e *LLMExtractor) buildPrompt(sectionText string, store *memory.SettingsStore) string {
	var sb strings.Builder
	sb.WriteString("请阅读以下章节内容，提取人物与伏笔信息。\n\n")

	if names := store.KnownNames(); len(names) > 0 {
		sb.WriteString("【已知人物】\n")
		sb.WriteString(strings.Join(names, "、"))
		sb.WriteString("\n\n")
	}
	if unresolved := store.UnresolvedForeshadowing(); len(unresolved) > 0 {
		sb.WriteString("【未回收伏笔账本】\n")
		for _, item := range unresolved {
			sb.WriteString(fmt.Sprintf("%d: %s\n", item.ID, item.Description))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("【章节内容】\n")
	sb.WriteString(textutil.Truncate(sectionText, 4000, "……"))
	sb.WriteString("\n\n请严格按以下 JSON 格式输出，不要附加任何解释：\n")
	sb.WriteString(`{
  "characters": [{"name": "人物名", "alias_of": "若为已知人物的别名则填正名", "description": "一句话描述", "traits": ["性格"], "state": "最新状态（可空）"}],
  "foreshadowing": [{"description": "伏笔描述", "resolves_id": 0, "characters": ["相关人物"]}],
  "events": [{"timestamp": "故事内时间", "description": "事件描述", "characters": ["相关人物"]}]
}`)
	sb.WriteString("\nforeshadowing 中回收已有伏笔时 resolves_id 填账本编号，新埋设填 0。没有内容的数组输出 []。")
	return sb.String()
}

var jsonFence = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// parseExtraction 解析抽取 JSON；容忍 markdown 代码围栏。
func parseExtraction(raw string) (ExtractionResult, error) {
	payload := strings.TrimSpace(raw)
	if m := jsonFence.FindStringSubmatch(payload); m != nil {
		payload = m[1]
	}
	if !gjson.Valid(payload) {
		return ExtractionResult{}, &llm.SchemaParseError{Payload: raw, Err: errors.New("not valid json")}
	}

	var result ExtractionResult
	for _, item := range gjson.Get(payload, "characters").Array() {
		name := item.Get("name").String()
		if name == "" {
			continue
		}
		result.Characters = append(result.Characters, ExtractedCharacter{
			Name:        name,
			AliasOf:     item.Get("alias_of").String(),
			Description: item.Get("description").String(),
			Traits:      stringList(item.Get("traits")),
			State:       item.Get("state").String(),
		})
	}
	for _, item := range gjson.Get(payload, "foreshadowing").Array() {
		desc := item.Get("description").String()
		id := int(item.Get("resolves_id").Int())
		if desc == "" && id == 0 {
			continue
		}
		result.Foreshadowing = append(result.Foreshadowing, ExtractedCue{
			Description: desc,
			ResolvesID:  id,
			Characters:  stringList(item.Get("characters")),
		})
	}
	for _, item := range gjson.Get(payload, "events").Array() {
		desc := item.Get("description").String()
		if desc == "" {
			continue
		}
		result.Events = append(result.Events, ExtractedEvent{
			Timestamp:   item.Get("timestamp").String(),
			Description: desc,
			Characters:  stringList(item.Get("characters")),
		})
	}
	return result, nil
}

func stringList(v gjson.Result) []string {
	var out []string
	for _, item := range v.Array() {
		if s := item.String(); s != "" {
			out = append(out, s)
		}
	}
	return out
}
