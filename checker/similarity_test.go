package checker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarName(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"林晨", "林小", true},         // 仅差一字
		{"Lin Xiao", "Lin Chen", true}, // 共享姓氏
		{"老林", "林晨老师", false},
		{"林晨", "林晨", false}, // 完全相同不算变体
		{"林", "林晨", true},   // 互为子串
		{"张伟", "王芳", false},
		{"", "林晨", false},
		{"Alice Wang", "Alice", true},
		{"Bob Li", "Tom Chen", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, similarName(tc.a, tc.b), "%s vs %s", tc.a, tc.b)
	}
}
