package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAssignsUniqueIDsAndDefaultModel(t *testing.T) {
	st := NewStore(time.Hour, "gpt-4")
	a := st.Create("")
	b := st.Create("trip planning")

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "gpt-4", a.ModelID)
	assert.Equal(t, "trip planning", b.Name)
}

func TestSetNameGetModelAndTouch(t *testing.T) {
	st := NewStore(time.Hour, "gpt-4")
	s := st.Create("")

	require.NoError(t, st.SetName(s.ID, "renamed"))
	require.NoError(t, st.SetModel(s.ID, "gpt-3.5"))

	model, err := st.GetModel(s.ID)
	require.NoError(t, err)
	assert.Equal(t, "gpt-3.5", model)

	before := s.LastActiveAt
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, st.Touch(s.ID))

	got, ok := st.Get(s.ID)
	require.True(t, ok)
	assert.Equal(t, "renamed", got.Name)
	assert.True(t, got.LastActiveAt.After(before))
}

func TestOperationsOnUnknownIDReturnNotFound(t *testing.T) {
	st := NewStore(time.Hour, "gpt-4")
	assert.ErrorIs(t, st.SetName("missing", "x"), ErrNotFound)
	assert.ErrorIs(t, st.SetModel("missing", "x"), ErrNotFound)
	assert.ErrorIs(t, st.Touch("missing"), ErrNotFound)
	assert.ErrorIs(t, st.ClearMessages("missing"), ErrNotFound)
	_, err := st.GetModel("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRemovesSession(t *testing.T) {
	st := NewStore(time.Hour, "gpt-4")
	s := st.Create("")
	assert.True(t, st.Delete(s.ID))
	assert.False(t, st.Delete(s.ID))
	_, ok := st.Get(s.ID)
	assert.False(t, ok)
}

func TestClearMessagesEmptiesWorkingMemory(t *testing.T) {
	st := NewStore(time.Hour, "gpt-4")
	s := st.Create("")
	s.Memory.AddMessage("user", "北京三日游")
	require.NoError(t, st.ClearMessages(s.ID))
	assert.Empty(t, s.Memory.History())
}

func TestListIncludeEmptyFiltersSessionsWithNoHistory(t *testing.T) {
	st := NewStore(time.Hour, "gpt-4")
	empty := st.Create("empty")
	withMsgs := st.Create("active")
	withMsgs.Memory.AddMessage("user", "成都美食")

	all := st.List(true)
	assert.Len(t, all, 2)

	nonEmpty := st.List(false)
	require.Len(t, nonEmpty, 1)
	assert.Equal(t, withMsgs.ID, nonEmpty[0].SessionID)
	_ = empty
}

func TestGetReapsIdleSession(t *testing.T) {
	st := NewStore(10*time.Millisecond, "gpt-4")
	s := st.Create("")
	time.Sleep(30 * time.Millisecond)

	_, ok := st.Get(s.ID)
	assert.False(t, ok)
}

func TestListReapsIdleSessions(t *testing.T) {
	st := NewStore(10*time.Millisecond, "gpt-4")
	st.Create("")
	time.Sleep(30 * time.Millisecond)

	assert.Empty(t, st.List(true))
}
