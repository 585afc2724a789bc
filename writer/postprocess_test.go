package writer

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"long_text_agent/planner"
)

func TestStripLeadingHeading(t *testing.T) {
	body, title := stripLeadingHeading("第一章 山雨欲来\n\n夜色渐深，城市的灯火晕开。")
	assert.Equal(t, "夜色渐深，城市的灯火晕开。", body)
	assert.Equal(t, "山雨欲来", title)

	body, title = stripLeadingHeading("# 序幕\n正文从这里开始。")
	assert.Equal(t, "正文从这里开始。", body)
	assert.Equal(t, "序幕", title)

	// 普通叙述句即使以"第"开头也不剥离
	body, title = stripLeadingHeading("第二天清晨，雨停了。\n街道上满是积水。")
	assert.Equal(t, "第二天清晨，雨停了。\n街道上满是积水。", body)
	assert.Empty(t, title)

	// 单行文本原样返回
	body, title = stripLeadingHeading("只有一行正文")
	assert.Equal(t, "只有一行正文", body)
	assert.Empty(t, title)
}

func TestWriteTaskDropsModelHeading(t *testing.T) {
	client := &scriptClient{generate: func(int) (string, error) {
		return "第一章 山雨欲来\n\n" + hanText(100), nil
	}}
	w, _, _ := newTestWriter(t, client, 2)

	task := newTask(100)
	res, err := w.WriteTask(context.Background(), task, "")
	require.NoError(t, err)

	// 标题行不计入字数，也不进入提交文本
	assert.Equal(t, planner.StatusCommitted, task.Status)
	assert.Equal(t, 100, res.WordCount)
	assert.False(t, strings.Contains(res.Text, "山雨欲来"))
	assert.Zero(t, res.LengthRetries)
}
