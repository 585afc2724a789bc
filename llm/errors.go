package llm

import "fmt"

// TransportError 表示模型后端调用在重试耗尽后仍然失败。
type TransportError struct {
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("llm transport failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SchemaParseError 表示结构化响应（摘要/抽取/检查）无法按约定格式解析。
type SchemaParseError struct {
	Payload string
	Err     error
}

func (e *SchemaParseError) Error() string {
	return fmt.Sprintf("llm response schema parse failed: %v", e.Err)
}

func (e *SchemaParseError) Unwrap() error { return e.Err }
