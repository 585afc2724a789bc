package llm

import (
	"context"
	"strings"
)

// MockClient 一个简单的占位实现，便于本地调试，不调用外部模型。
type MockClient struct{}

func (m MockClient) Complete(_ context.Context, req Request) (string, error) {
	var sb strings.Builder
	sb.WriteString("（本地演示输出）")
	sb.WriteString("夜色渐深，城市的灯火在雨幕里晕开。")
	sb.WriteString("故事按照既定的脉络缓缓推进，人物各自怀着心事。")
	if req.Instruction != "" {
		sb.WriteString("\n\n[任务] ")
		sb.WriteString(Truncate(req.Instruction, 80))
	}
	return sb.String(), nil
}

// Truncate 截断到 n 个 rune；mock 与日志共用。
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
