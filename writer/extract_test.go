package writer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"long_text_agent/llm"
)

func TestParseExtraction(t *testing.T) {
	raw := `{
  "characters": [
    {"name": "老林", "alias_of": "林晨", "state": "受伤"},
    {"name": "陈默", "description": "线人", "traits": ["多疑", "谨慎"]}
  ],
  "foreshadowing": [
    {"description": "旧照片", "resolves_id": 0, "characters": ["林晨"]},
    {"description": "", "resolves_id": 3}
  ],
  "events": [
    {"timestamp": "当夜", "description": "会面", "characters": ["林晨", "陈默"]}
  ]
}`
	result, err := parseExtraction(raw)
	require.NoError(t, err)

	require.Len(t, result.Characters, 2)
	assert.Equal(t, "林晨", result.Characters[0].AliasOf)
	assert.Equal(t, []string{"多疑", "谨慎"}, result.Characters[1].Traits)

	require.Len(t, result.Foreshadowing, 2)
	assert.Equal(t, 0, result.Foreshadowing[0].ResolvesID)
	assert.Equal(t, 3, result.Foreshadowing[1].ResolvesID)

	require.Len(t, result.Events, 1)
	assert.Equal(t, "当夜", result.Events[0].Timestamp)
}

func TestParseExtractionStripsCodeFence(t *testing.T) {
	raw := "好的，以下是提取结果：\n```json\n{\"characters\": [{\"name\": \"林晨\"}], \"foreshadowing\": [], \"events\": []}\n```"
	result, err := parseExtraction(raw)
	require.NoError(t, err)
	require.Len(t, result.Characters, 1)
	assert.Equal(t, "林晨", result.Characters[0].Name)
}

func TestParseExtractionInvalidJSON(t *testing.T) {
	_, err := parseExtraction("这不是 JSON")
	require.Error(t, err)
	var schemaErr *llm.SchemaParseError
	assert.ErrorAs(t, err, &schemaErr)
}

func TestParseExtractionSkipsEmptyEntries(t *testing.T) {
	result, err := parseExtraction(`{"characters": [{"name": ""}], "foreshadowing": [{"description": "", "resolves_id": 0}], "events": [{"description": ""}]}`)
	require.NoError(t, err)
	assert.Empty(t, result.Characters)
	assert.Empty(t, result.Foreshadowing)
	assert.Empty(t, result.Events)
}

func TestModeRegistry(t *testing.T) {
	r := DefaultModes()

	assert.True(t, r.Has("novel"))
	assert.True(t, r.Has("report"))
	assert.False(t, r.Has("poetry"))

	// 未知名称回退默认模式
	assert.Equal(t, "novel", r.Get("poetry").Name)
	assert.Equal(t, "report", r.Get("report").Name)
	assert.NotEmpty(t, r.Get("novel").SystemPrompt)
	assert.NotEmpty(t, r.Get("novel").SummaryPrompt)

	assert.Equal(t, []string{"article", "document", "novel", "report"}, r.List())
}
