// Package llm 封装大模型调用：统一接口、OpenAI 兼容实现、重试与 token 估算。
package llm

import "context"

// Request 表示一次模型调用：系统指令 + 上下文块 + 任务指令。
type Request struct {
	System      string
	Context     string
	Instruction string
	MaxTokens   int
}

// Client 抽象大模型客户端，便于替换/Mock。
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Settings 提供给具体实现的基础配置。
type Settings struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int
}

// TokenCounter 估算文本的 token 数，用于上下文上限控制。
type TokenCounter interface {
	Count(text string) int
}
