package planner

import (
	"fmt"
	"math"
	"sort"
)

// TaskStatus 任务状态机（见 Writer）。任务由 Planner 创建、
// Pipeline 持有、只由 Writer 改写状态。
type TaskStatus string

const (
	StatusPending     TaskStatus = "pending"
	StatusDrafting    TaskStatus = "drafting"
	StatusLengthRetry TaskStatus = "length_retry"
	StatusCommitted   TaskStatus = "committed"
	StatusSummarized  TaskStatus = "summarized"
	StatusFailed      TaskStatus = "failed"
)

// Task 一个有序的写作子任务及其字数预算带。
type Task struct {
	Ordinal     int // 全局序号，从 1 开始
	Chapter     int // 所属章节序号，从 1 开始
	Title       string
	Brief       string
	Hint        string // 与前文的衔接提示
	TargetWords int
	MinWords    int // TargetWords × min_tolerance
	MaxWords    int // TargetWords × max_tolerance
	Status      TaskStatus
}

// Plan 分解结果：任务预算之和落在全局目标的容差带内。
type Plan struct {
	Title       string
	TargetWords int
	Outline     *Outline
	Tasks       []*Task
}

// Options 分解参数。
type Options struct {
	TargetWords     int
	WordsPerSection int
	MinTolerance    float64
	MaxTolerance    float64
}

func (o *Options) normalize() {
	if o.TargetWords <= 0 {
		o.TargetWords = 10000
	}
	if o.WordsPerSection <= 0 {
		o.WordsPerSection = 2500
	}
	if o.MinTolerance <= 0 {
		o.MinTolerance = 0.8
	}
	if o.MaxTolerance < o.MinTolerance {
		o.MaxTolerance = 1.2
	}
}

// 多段章节的默认分段命名。
var phaseNames = []string{"开篇", "发展", "转折", "高潮", "收尾"}

// apportion 把 target 个字按原比例重新分配到各章，先取整数份，
// 再把余下的字逐个补给小数部分最大的章，分配总和恰好等于 target。
func apportion(words []int, sum, target int) []int {
	out := make([]int, len(words))
	order := make([]int, len(words))
	rems := make([]float64, len(words))
	allocated := 0
	for i, w := range words {
		exact := float64(w) * float64(target) / float64(sum)
		out[i] = int(exact)
		rems[i] = exact - float64(out[i])
		order[i] = i
		allocated += out[i]
	}
	sort.SliceStable(order, func(a, b int) bool { return rems[order[a]] > rems[order[b]] })
	for i := 0; i < target-allocated; i++ {
		out[order[i]]++
	}
	return out
}

// Decompose 把大纲分解为任务序列。分配规则：
//  1. 未标字数的章节均分全局目标；
//  2. 各章字数之和落在容差带外时按比例缩放到全局目标；
//  3. 单章超出每节预算时拆成最少数量的等大小子任务，
//     使每个子任务预算落在每节预算的容差带内。
func Decompose(outline *Outline, opts Options) (*Plan, error) {
	if outline == nil {
		return nil, &MalformedOutlineError{Reason: "nil outline"}
	}
	if err := outline.validate(); err != nil {
		return nil, err
	}
	opts.normalize()

	defaultWords := opts.TargetWords / len(outline.Chapters)
	if defaultWords < 1 {
		defaultWords = 1
	}

	words := make([]int, len(outline.Chapters))
	sum := 0
	for i, ch := range outline.Chapters {
		w := ch.Words
		if w == 0 {
			w = defaultWords
		}
		words[i] = w
		sum += w
	}

	// 各章合计超出全局目标的容差带时，按比例缩放回目标。
	low := float64(opts.TargetWords) * opts.MinTolerance
	high := float64(opts.TargetWords) * opts.MaxTolerance
	if float64(sum) < low || float64(sum) > high {
		words = apportion(words, sum, opts.TargetWords)
		sum = opts.TargetWords
	}

	plan := &Plan{
		Title:       outline.Title,
		TargetWords: opts.TargetWords,
		Outline:     outline,
	}

	ordinal := 0
	sectionHigh := float64(opts.WordsPerSection) * opts.MaxTolerance
	for i, ch := range outline.Chapters {
		title := ch.Title
		if title == "" {
			title = fmt.Sprintf("第%d章", i+1)
		}
		chWords := words[i]

		n := 1
		if chWords > opts.WordsPerSection {
			n = int(math.Ceil(float64(chWords) / sectionHigh))
			if n < 1 {
				n = 1
			}
		}

		per := chWords / n
		rem := chWords - per*n
		for j := 0; j < n; j++ {
			target := per
			if j < rem {
				target++
			}
			ordinal++
			task := &Task{
				Ordinal:     ordinal,
				Chapter:     i + 1,
				Title:       title,
				Brief:       ch.Brief,
				TargetWords: target,
				MinWords:    int(math.Round(float64(target) * opts.MinTolerance)),
				MaxWords:    int(math.Round(float64(target) * opts.MaxTolerance)),
				Status:      StatusPending,
			}
			if n > 1 {
				phase := fmt.Sprintf("第%d部分", j+1)
				if j < len(phaseNames) && n <= len(phaseNames) {
					phase = phaseNames[j]
				}
				task.Title = fmt.Sprintf("%s · %s", title, phase)
				task.Brief = fmt.Sprintf("%s 的%s部分", ch.Brief, phase)
				if j > 0 {
					task.Hint = "承接本章上一部分，保持场景与时间连续"
				}
			}
			plan.Tasks = append(plan.Tasks, task)
		}
	}

	return plan, nil
}
