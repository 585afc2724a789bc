package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCharacterRegistryAndAliases(t *testing.T) {
	s := NewSettingsStore("近未来城市")

	s.AddCharacter("林晨", "侦探", []string{"冷静"}, 1)
	require.NoError(t, s.AddAlias("林晨", "老林"))

	// 正名与别名都能找到同一档案
	assert.Same(t, s.Character("林晨"), s.Character("老林"))
	assert.Error(t, s.AddAlias("不存在的人", "某某"))

	// 重复登记返回已有档案，不产生重复条目
	s.AddCharacter("林晨", "另一个描述", nil, 3)
	assert.Len(t, s.Characters(), 1)

	// 重复别名不累积
	require.NoError(t, s.AddAlias("林晨", "老林"))
	assert.Len(t, s.Character("林晨").Aliases, 1)

	s.UpdateCharacterState("老林", "左臂受伤")
	assert.Equal(t, "左臂受伤", s.Character("林晨").CurrentState)

	names := s.KnownNames()
	assert.Contains(t, names, "林晨")
	assert.Contains(t, names, "老林")
}

func TestForeshadowingLifecycle(t *testing.T) {
	s := NewSettingsStore("")

	item := s.PlantForeshadowing("抽屉里的旧照片", 2, []string{"林晨"})
	assert.Equal(t, ForeshadowPlanted, item.State)
	assert.Len(t, s.UnresolvedForeshadowing(), 1)

	// 未埋设的伏笔不可回收
	require.Error(t, s.ResolveForeshadowing(99, 5))

	require.NoError(t, s.ResolveForeshadowing(item.ID, 5))
	assert.Equal(t, ForeshadowResolved, item.State)
	assert.Equal(t, 5, item.ResolvedAt)
	assert.Empty(t, s.UnresolvedForeshadowing())

	// 已回收的伏笔不可重复回收或放弃
	require.Error(t, s.ResolveForeshadowing(item.ID, 6))
	require.Error(t, s.AbandonForeshadowing(item.ID))

	other := s.PlantForeshadowing("神秘来电", 3, nil)
	require.NoError(t, s.AbandonForeshadowing(other.ID))
	assert.Equal(t, ForeshadowAbandoned, other.State)
}

func TestTimelineRejectsBackwardEvents(t *testing.T) {
	s := NewSettingsStore("")

	_, err := s.AddTimelineEvent("第一天夜里", 2, "案件发生", []string{"林晨"})
	require.NoError(t, err)
	_, err = s.AddTimelineEvent("第二天清晨", 3, "发现线索", nil)
	require.NoError(t, err)

	// 时间线只增不减：引用更早任务的事件被拒绝
	_, err = s.AddTimelineEvent("补记", 1, "倒叙事件", nil)
	require.Error(t, err)
	assert.Len(t, s.Timeline(), 2)
}

func TestWritingContextBlocks(t *testing.T) {
	s := NewSettingsStore("悬浮城市，禁用明火")
	s.AddCharacter("林晨", "侦探", []string{"冷静", "固执"}, 1)
	s.PlantForeshadowing("旧照片", 2, nil)

	ctx := s.WritingContext()
	assert.Contains(t, ctx, "【世界观】")
	assert.Contains(t, ctx, "悬浮城市")
	assert.Contains(t, ctx, "【主要人物】")
	assert.Contains(t, ctx, "林晨")
	assert.Contains(t, ctx, "冷静")
	assert.Contains(t, ctx, "【待回收的伏笔】")
	assert.Contains(t, ctx, "旧照片")

	// 空存储返回空串
	assert.Empty(t, NewSettingsStore("").WritingContext())
}
