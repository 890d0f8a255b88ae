package raftlog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func blankEntry(index, term uint64) Entry {
	return Entry{Index: index, Term: term, Message: Blank()}
}

func TestAppendRejectsWhenPreviousEntryMissing(t *testing.T) {
	l := New()
	ok := l.Append(AppendRequest{
		PreviousLogIndex: 5,
		PreviousLogTerm:  9,
		Entries:          []Entry{blankEntry(6, 9)},
	})
	require.False(t, ok)
	require.Equal(t, uint64(0), l.LastIndex())
}

func TestAppendIsIdempotent(t *testing.T) {
	l := New()
	req := AppendRequest{Entries: []Entry{blankEntry(1, 1), blankEntry(2, 1)}}

	require.True(t, l.Append(req))
	first := l.Entries()

	require.True(t, l.Append(req))
	require.Equal(t, first, l.Entries())
}

func TestAppendTruncatesOnConflict(t *testing.T) {
	l := New()
	require.True(t, l.Append(AppendRequest{Entries: []Entry{
		blankEntry(1, 1), blankEntry(2, 1), blankEntry(3, 1),
	}}))

	ok := l.Append(AppendRequest{
		PreviousLogIndex: 1,
		PreviousLogTerm:  1,
		Entries:          []Entry{blankEntry(2, 2)},
	})
	require.True(t, ok)
	require.Equal(t, uint64(2), l.LastIndex())
	require.Equal(t, uint64(2), l.LastTerm())
}

func TestEntriesStartingAtHeartbeatEdgeCases(t *testing.T) {
	l := New()
	require.Nil(t, l.EntriesStartingAt(0))
	require.Nil(t, l.EntriesStartingAt(1))

	require.True(t, l.Append(AppendRequest{Entries: []Entry{blankEntry(1, 1)}}))
	require.Nil(t, l.EntriesStartingAt(2))
	require.Len(t, l.EntriesStartingAt(1), 1)
}

func TestPreviousEntryTo(t *testing.T) {
	l := New()
	require.True(t, l.Append(AppendRequest{Entries: []Entry{blankEntry(1, 1), blankEntry(2, 1)}}))

	_, ok := l.PreviousEntryTo(1)
	require.False(t, ok)

	e, ok := l.PreviousEntryTo(2)
	require.True(t, ok)
	require.Equal(t, uint64(1), e.Index)
}

func TestLastIndexInTerm(t *testing.T) {
	l := New()
	require.True(t, l.Append(AppendRequest{Entries: []Entry{
		blankEntry(1, 1), blankEntry(2, 2), blankEntry(3, 2),
	}}))

	require.Equal(t, uint64(3), l.LastIndexInTerm(2))
	require.Equal(t, uint64(1), l.LastIndexInTerm(1))
	require.Equal(t, uint64(0), l.LastIndexInTerm(9))
}

func TestClientAppendAssignsNextIndex(t *testing.T) {
	l := New()
	e1 := l.ClientAppend(3, Blank())
	e2 := l.ClientAppend(3, Blank())
	require.Equal(t, uint64(1), e1.Index)
	require.Equal(t, uint64(2), e2.Index)
}

func TestMessageJSONRoundTrip(t *testing.T) {
	msgs := []Message{
		Blank(),
		ConfigChange(ServerConfigChange{Current: []string{"a"}, New: []string{"a", "b"}}),
		StateMachineMessage([]byte(`{"Set":["k","v"]}`)),
	}

	for _, m := range msgs {
		data, err := m.MarshalJSON()
		require.NoError(t, err)

		var got Message
		require.NoError(t, got.UnmarshalJSON(data))
		require.Equal(t, m.Kind, got.Kind)
	}
}
