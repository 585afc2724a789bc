package checker

import "strings"

// similarName 判断两个人物名是否像同一人的变体：互为子串、
// 共享空格分隔的词（西文姓/名），或长度相近且逐位重合仅差一字。
func similarName(a, b string) bool {
	if a == "" || b == "" || a == b {
		return false
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}
	if sharesToken(a, b) {
		return true
	}

	ra, rb := []rune(a), []rune(b)
	diff := len(ra) - len(rb)
	if diff < -1 || diff > 1 {
		return false
	}
	min := len(ra)
	if len(rb) < min {
		min = len(rb)
	}
	common := 0
	for i := 0; i < min; i++ {
		if ra[i] == rb[i] {
			common++
		}
	}
	return common >= min-1
}

func sharesToken(a, b string) bool {
	ta, tb := strings.Fields(a), strings.Fields(b)
	if len(ta) < 2 && len(tb) < 2 {
		return false
	}
	for _, x := range ta {
		for _, y := range tb {
			if x == y {
				return true
			}
		}
	}
	return false
}
