package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchRosterHelpers(t *testing.T) {
	m := &Match{Members: []MatchMember{
		{AccountID: "a"},
		{AccountID: "b", Eliminated: true, EliminatedBy: "a"},
		{AccountID: "c"},
	}}

	assert.True(t, m.IsMember("b"))
	assert.False(t, m.IsMember("z"))
	assert.Nil(t, m.Member("z"))
	assert.Equal(t, "a", m.Member("b").EliminatedBy)

	survivors := m.Survivors()
	assert.Len(t, survivors, 2)
	assert.Equal(t, "a", survivors[0].AccountID)
	assert.Equal(t, "c", survivors[1].AccountID)
	assert.Equal(t, []string{"b"}, m.Eliminated())

	// Member points into the roster, not at a copy.
	m.Member("c").Squad = "red"
	assert.Equal(t, "red", m.Members[2].Squad)
}

func TestJournalHooksRejectChanges(t *testing.T) {
	assert.ErrorIs(t, (&LedgerEntry{}).BeforeUpdate(nil), ErrAppendOnly)
	assert.ErrorIs(t, (&LedgerEntry{}).BeforeDelete(nil), ErrAppendOnly)
	assert.ErrorIs(t, (&WheelDraw{}).BeforeUpdate(nil), ErrAppendOnly)
	assert.ErrorIs(t, (&WheelDraw{}).BeforeDelete(nil), ErrAppendOnly)

	entry := &LedgerEntry{}
	assert.NoError(t, entry.BeforeCreate(nil))
	assert.Len(t, entry.ID, 36)

	draw := &WheelDraw{ID: "fixed"}
	assert.NoError(t, draw.BeforeCreate(nil))
	assert.Equal(t, "fixed", draw.ID)
}
