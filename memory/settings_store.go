// Package memory 持有单轮生成的记忆状态：设定集、分层摘要与上下文窗口。
// 每个 Pipeline 实例各持有一份，包之间不共享可变状态。
package memory

import (
	"fmt"
	"sort"
	"strings"
)

// ForeshadowState 伏笔生命周期状态。
type ForeshadowState string

const (
	ForeshadowPlanted   ForeshadowState = "planted"
	ForeshadowResolved  ForeshadowState = "resolved"
	ForeshadowAbandoned ForeshadowState = "abandoned"
)

// CharacterProfile 人物档案。
type CharacterProfile struct {
	Name            string
	Aliases         []string
	Description     string
	Traits          []string
	VoiceNotes      string
	CurrentState    string
	FirstAppearance int // 首次出现的任务序号
}

// ForeshadowingItem 伏笔条目。回收必须先有埋设。
type ForeshadowingItem struct {
	ID          int
	Description string
	PlantedAt   int // 埋设任务序号
	ResolvedAt  int
	State       ForeshadowState
	Characters  []string
}

// TimelineEvent 时间线事件，按任务序号只增不减。
type TimelineEvent struct {
	ID          int
	Timestamp   string // 故事内时间
	TaskOrdinal int
	Description string
	Characters  []string
}

// SettingsStore 管理世界观文本、人物档案、伏笔账本和时间线。
type SettingsStore struct {
	world      string // 本轮不可变的世界观文本块
	characters []*CharacterProfile
	foreshadow []*ForeshadowingItem
	timeline   []TimelineEvent

	nextForeshadowID int
	nextEventID      int
}

func NewSettingsStore(world string) *SettingsStore {
	return &SettingsStore{world: world}
}

// World 返回世界观文本块。
func (s *SettingsStore) World() string { return s.world }

// AddCharacter 登记人物；重名时返回已有档案。
func (s *SettingsStore) AddCharacter(name, description string, traits []string, firstAppearance int) *CharacterProfile {
	if existing := s.Character(name); existing != nil {
		if existing.Description == "" {
			existing.Description = description
		}
		return existing
	}
	profile := &CharacterProfile{
		Name:            name,
		Description:     description,
		Traits:          append([]string(nil), traits...),
		FirstAppearance: firstAppearance,
	}
	s.characters = append(s.characters, profile)
	return profile
}

// Character 按正名或别名查找。
func (s *SettingsStore) Character(name string) *CharacterProfile {
	for _, c := range s.characters {
		if c.Name == name {
			return c
		}
	}
	for _, c := range s.characters {
		for _, a := range c.Aliases {
			if a == name {
				return c
			}
		}
	}
	return nil
}

// AddAlias 给已知人物登记别名。
func (s *SettingsStore) AddAlias(name, alias string) error {
	c := s.Character(name)
	if c == nil {
		return fmt.Errorf("unknown character %q", name)
	}
	if alias == "" || alias == c.Name {
		return nil
	}
	for _, a := range c.Aliases {
		if a == alias {
			return nil
		}
	}
	c.Aliases = append(c.Aliases, alias)
	return nil
}

// UpdateCharacterState 更新人物当前状态（受伤、位置、境遇等）。
func (s *SettingsStore) UpdateCharacterState(name, state string) {
	if c := s.Character(name); c != nil {
		c.CurrentState = state
	}
}

// Characters 返回全部人物档案（登记顺序）。
func (s *SettingsStore) Characters() []*CharacterProfile {
	return s.characters
}

// KnownNames 返回全部正名与别名，排序保证输出稳定。
func (s *SettingsStore) KnownNames() []string {
	var names []string
	for _, c := range s.characters {
		names = append(names, c.Name)
		names = append(names, c.Aliases...)
	}
	sort.Strings(names)
	return names
}

// PlantForeshadowing 埋设伏笔，返回条目以便后续回收。
func (s *SettingsStore) PlantForeshadowing(description string, taskOrdinal int, characters []string) *ForeshadowingItem {
	s.nextForeshadowID++
	item := &ForeshadowingItem{
		ID:          s.nextForeshadowID,
		Description: description,
		PlantedAt:   taskOrdinal,
		State:       ForeshadowPlanted,
		Characters:  append([]string(nil), characters...),
	}
	s.foreshadow = append(s.foreshadow, item)
	return item
}

// ResolveForeshadowing 标记伏笔回收。未埋设或已终结的条目不可回收。
func (s *SettingsStore) ResolveForeshadowing(id, taskOrdinal int) error {
	for _, item := range s.foreshadow {
		if item.ID != id {
			continue
		}
		if item.State != ForeshadowPlanted {
			return fmt.Errorf("foreshadowing %d is %s, cannot resolve", id, item.State)
		}
		item.State = ForeshadowResolved
		item.ResolvedAt = taskOrdinal
		return nil
	}
	return fmt.Errorf("foreshadowing %d was never planted", id)
}

// AbandonForeshadowing 放弃伏笔（明确不再回收）。
func (s *SettingsStore) AbandonForeshadowing(id int) error {
	for _, item := range s.foreshadow {
		if item.ID == id {
			if item.State != ForeshadowPlanted {
				return fmt.Errorf("foreshadowing %d is %s, cannot abandon", id, item.State)
			}
			item.State = ForeshadowAbandoned
			return nil
		}
	}
	return fmt.Errorf("foreshadowing %d was never planted", id)
}

// UnresolvedForeshadowing 返回仍处于 planted 状态的伏笔。
func (s *SettingsStore) UnresolvedForeshadowing() []*ForeshadowingItem {
	var out []*ForeshadowingItem
	for _, item := range s.foreshadow {
		if item.State == ForeshadowPlanted {
			out = append(out, item)
		}
	}
	return out
}

// Foreshadowing 返回完整账本。
func (s *SettingsStore) Foreshadowing() []*ForeshadowingItem { return s.foreshadow }

// AddTimelineEvent 追加时间线事件。事件引用的任务序号必须不小于
// 已有事件的序号，保证时间线不出现前向引用。
func (s *SettingsStore) AddTimelineEvent(timestamp string, taskOrdinal int, description string, characters []string) (*TimelineEvent, error) {
	if n := len(s.timeline); n > 0 && taskOrdinal < s.timeline[n-1].TaskOrdinal {
		return nil, fmt.Errorf("timeline event for task %d would precede task %d", taskOrdinal, s.timeline[n-1].TaskOrdinal)
	}
	s.nextEventID++
	ev := TimelineEvent{
		ID:          s.nextEventID,
		Timestamp:   timestamp,
		TaskOrdinal: taskOrdinal,
		Description: description,
		Characters:  append([]string(nil), characters...),
	}
	s.timeline = append(s.timeline, ev)
	return &s.timeline[len(s.timeline)-1], nil
}

// Timeline 返回完整时间线（追加顺序即任务顺序）。
func (s *SettingsStore) Timeline() []TimelineEvent { return s.timeline }

// WritingContext 生成写作用的设定上下文。
func (s *SettingsStore) WritingContext() string {
	var parts []string

	if s.world != "" {
		parts = append(parts, "【世界观】\n"+s.world)
	}

	if len(s.characters) > 0 {
		var lines []string
		limit := len(s.characters)
		if limit > 10 {
			limit = 10
		}
		for _, c := range s.characters[:limit] {
			line := "- " + c.Name
			if c.Description != "" {
				line += ": " + c.Description
			}
			if len(c.Traits) > 0 {
				line += "（" + strings.Join(c.Traits, "、") + "）"
			}
			if c.CurrentState != "" {
				line += "（当前：" + c.CurrentState + "）"
			}
			lines = append(lines, line)
		}
		parts = append(parts, "【主要人物】\n"+strings.Join(lines, "\n"))
	}

	if unresolved := s.UnresolvedForeshadowing(); len(unresolved) > 0 {
		start := 0
		if len(unresolved) > 5 {
			start = len(unresolved) - 5
		}
		var lines []string
		for _, item := range unresolved[start:] {
			lines = append(lines, fmt.Sprintf("- %s（第%d节埋下）", item.Description, item.PlantedAt))
		}
		parts = append(parts, "【待回收的伏笔】\n"+strings.Join(lines, "\n"))
	}

	return strings.Join(parts, "\n\n")
}
