package writer

import "fmt"

// generationInstruction 首次生成指令。
func generationInstruction(targetWords int) string {
	return fmt.Sprintf("请开始创作，目标字数约 %d 字。\n直接输出正文，不需要标题或其他说明。", targetWords)
}

// lengthAdjustInstruction 字数越界后的重写指令：给出实测字数和
// 允许区间，要求在保持情节的前提下扩写或压缩。
func lengthAdjustInstruction(actual, minWords, maxWords int) string {
	if actual < minWords {
		return fmt.Sprintf(
			"上一稿只有 %d 字，低于要求的 %d-%d 字区间。\n"+
				"请在保持情节与上下文衔接不变的前提下扩写细节（场景、对话、心理描写），重新输出完整正文。",
			actual, minWords, maxWords)
	}
	return fmt.Sprintf(
		"上一稿有 %d 字，超出要求的 %d-%d 字区间。\n"+
			"请在保留全部关键情节的前提下压缩行文，重新输出完整正文。",
		actual, minWords, maxWords)
}

// summaryInstruction 段落摘要指令，由模式提供的摘要提示词打头。
func summaryInstruction(summaryPrompt, content string) string {
	return fmt.Sprintf("%s\n摘要控制在150字以内。\n\n【内容】\n%s\n\n【摘要】", summaryPrompt, content)
}
