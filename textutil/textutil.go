// Package textutil 提供中英混排文本的字数统计与截断工具。
package textutil

import (
	"regexp"
	"strings"
	"unicode"
)

// CountWords 统计等效字数：中文按字符计，英文按单词计。
// 字数容差判断使用它，而 token 估算走 llm 包。
func CountWords(text string) int {
	count := 0
	inWord := false
	for _, r := range text {
		if unicode.Is(unicode.Han, r) {
			count++
			inWord = false
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if !inWord {
				count++
				inWord = true
			}
			continue
		}
		inWord = false
	}
	return count
}

// Truncate 将文本截断到 maxChars 个 rune，超出部分以 suffix 结尾。
func Truncate(text string, maxChars int, suffix string) string {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	cut := maxChars - len([]rune(suffix))
	if cut < 0 {
		cut = 0
	}
	return string(runes[:cut]) + suffix
}

// TailRunes 返回文本末尾最多 n 个 rune。
func TailRunes(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[len(runes)-n:])
}

// SplitParagraphs 按空行拆分段落，过滤空白段。
func SplitParagraphs(text string) []string {
	parts := regexp.MustCompile(`\n\s*\n`).Split(text, -1)
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

var titlePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^第[一二三四五六七八九十百千\d]+[章节卷回][：:\s]*(.*)$`),
	regexp.MustCompile(`^Chapter\s+\d+[：:\s]*(.*)$`),
	regexp.MustCompile(`^#+\s*(.+)$`),
}

// ExtractTitle 从文本开头提取章节标题；找不到则返回首行前 20 字。
func ExtractTitle(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	limit := 3
	if len(lines) < limit {
		limit = len(lines)
	}
	for _, line := range lines[:limit] {
		line = strings.TrimSpace(line)
		for _, re := range titlePatterns {
			if m := re.FindStringSubmatch(line); m != nil {
				if strings.TrimSpace(m[1]) != "" {
					return strings.TrimSpace(m[1])
				}
				return line
			}
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return Truncate(strings.TrimSpace(lines[0]), 20, "")
}
