package llm

import (
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

// TokenEstimator 基于 cl100k_base 估算 token 数；
// 编码表不可用时退化为中英比例估算。
type TokenEstimator struct {
	enc *tiktoken.Tiktoken
}

func NewTokenEstimator() *TokenEstimator {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &TokenEstimator{}
	}
	return &TokenEstimator{enc: enc}
}

func (e *TokenEstimator) Count(text string) int {
	if e.enc != nil {
		return len(e.enc.Encode(text, nil, nil))
	}
	// 粗略估算：中文约 1.5 token/字，其余约 0.3 token/字符。
	han, other := 0, 0
	for _, r := range text {
		if unicode.Is(unicode.Han, r) {
			han++
		} else {
			other++
		}
	}
	return int(float64(han)*1.5 + float64(other)*0.3)
}
