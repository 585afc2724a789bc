package writer

import (
	"regexp"
	"strings"

	"long_text_agent/textutil"
)

// 模型偶尔无视"直接输出正文"的指令，先输出一行章节标题。
var headingLine = regexp.MustCompile(`^(?:#{1,6}\s+.+|第[一二三四五六七八九十百千\d]+[章节卷回](?:[：:\s].*)?)$`)

// stripLeadingHeading 剥掉草稿开头的标题行，返回正文和提取出的
// 标题文字；首行不是标题时原样返回。
func stripLeadingHeading(text string) (string, string) {
	first, rest, ok := strings.Cut(text, "\n")
	if !ok {
		return text, ""
	}
	first = strings.TrimSpace(first)
	if !headingLine.MatchString(first) {
		return text, ""
	}
	paras := textutil.SplitParagraphs(rest)
	return strings.Join(paras, "\n\n"), textutil.ExtractTitle(first)
}
