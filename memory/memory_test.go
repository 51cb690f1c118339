package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddMessageEvictsOldestBeyondCapacity(t *testing.T) {
	m := New(3, 10)
	m.AddMessage(RoleUser, "one")
	m.AddMessage(RoleAssistant, "two")
	m.AddMessage(RoleUser, "three")
	m.AddMessage(RoleAssistant, "four")

	history := m.History()
	assert.Len(t, history, 3)
	assert.Equal(t, "two", history[0].Content)
	assert.Equal(t, "four", history[2].Content)
}

func TestArchiveEvictsOldestBeyondCapacity(t *testing.T) {
	m := New(10, 2)
	m.Archive(ArchivedSession{SessionID: "a"})
	m.Archive(ArchivedSession{SessionID: "b"})
	m.Archive(ArchivedSession{SessionID: "c"})

	archived := m.ArchivedSessions()
	assert.Len(t, archived, 2)
	assert.Equal(t, "b", archived[0].SessionID)
	assert.Equal(t, "c", archived[1].SessionID)
}

func TestClearEmptiesWorkingMemoryOnly(t *testing.T) {
	m := New(5, 5)
	m.AddMessage(RoleUser, "预算3000元想去成都玩5天")
	m.Clear()

	assert.Empty(t, m.History())
	assert.Equal(t, 5, m.Preference().TravelDays)
}

func TestUpdateFromTextExtractsBudgetRange(t *testing.T) {
	var p UserPreference
	p.UpdateFromText("我们预算在2000到5000元之间")
	require := assert.New(t)
	require.NotNil(p.Budget)
	require.Equal(2000, p.Budget.Min)
	require.Equal(5000, p.Budget.Max)
}

func TestUpdateFromTextExtractsSingleBudgetAsUpperBound(t *testing.T) {
	var p UserPreference
	p.UpdateFromText("预算3000元")
	require := assert.New(t)
	require.NotNil(p.Budget)
	require.Equal(0, p.Budget.Min)
	require.Equal(3000, p.Budget.Max)
}

func TestUpdateFromTextExtractsDays(t *testing.T) {
	var p UserPreference
	p.UpdateFromText("打算玩7天")
	assert.Equal(t, 7, p.TravelDays)
}

func TestUpdateFromTextExtractsInterestTagsWithoutDuplicates(t *testing.T) {
	var p UserPreference
	p.UpdateFromText("我们喜欢历史文化和美食")
	p.UpdateFromText("还想看看历史古迹")
	assert.ElementsMatch(t, []string{"历史文化", "美食"}, p.InterestTags)
}

func TestUpdateFromTextExtractsCompanionsAndSeason(t *testing.T) {
	var p UserPreference
	p.UpdateFromText("我们一家人想在夏天出去玩")
	assert.Equal(t, "家人", p.Companions)
	assert.Equal(t, "夏天", p.Season)
}

func TestAddMessageOnlyExtractsPreferenceFromUserRole(t *testing.T) {
	m := New(5, 5)
	m.AddMessage(RoleAssistant, "预算3000元的方案")
	assert.Nil(t, m.Preference().Budget)
}
