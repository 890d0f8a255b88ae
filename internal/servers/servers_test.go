package servers

import (
	"testing"

	"github.com/raftkit/yari/internal/raftlog"
	"github.com/stretchr/testify/require"
)

func raftlogChange(members ...string) raftlog.ServerConfigChange {
	return raftlog.ServerConfigChange{Current: members}
}

func TestVisitGrantsVoiceBeforeApply(t *testing.T) {
	s := New("a")
	change := s.MemberAdd("b")
	require.Equal(t, []string{"a"}, change.Current)
	require.Equal(t, []string{"a", "b"}, change.New)

	s.Visit(change)
	require.True(t, s.Contains("b"))
	require.True(t, s.HasPending())
}

func TestApplyStabilizesAndReturnsFollowUp(t *testing.T) {
	s := New("a")
	change := s.MemberAdd("b")
	s.Visit(change)

	followUp := s.Apply(change)
	require.NotNil(t, followUp)
	require.Equal(t, []string{"a", "b"}, followUp.Current)
	require.Empty(t, followUp.New)
	require.False(t, s.HasPending())

	second := s.Apply(*followUp)
	require.Nil(t, second)
	require.ElementsMatch(t, []string{"a", "b"}, s.Members())
}

func TestMemberRemove(t *testing.T) {
	s := New("a")
	s.Apply(raftlogChange("a", "b", "c"))
	require.ElementsMatch(t, []string{"a", "b", "c"}, s.Members())

	change := s.MemberRemove("b")
	s.Visit(change)
	// Visit activates current ∪ new, so b keeps its voice until Apply.
	require.True(t, s.Contains("b"))

	followUp := s.Apply(change)
	require.NotNil(t, followUp)
	require.ElementsMatch(t, []string{"a", "c"}, s.Members())
}
