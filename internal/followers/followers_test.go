package followers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fixedMembers []string

func (f fixedMembers) Members() []string { return []string(f) }

func TestOthersNeededForQuorum(t *testing.T) {
	f := FromServers(fixedMembers{"a", "b", "c"}, "a", 1)
	// cluster of 3, self included: majority is 2, self counts as 1 => need 1 more.
	require.Equal(t, 1, f.OthersNeededForQuorum(true))
	// excluding self: half of the 2 others, rounded up, is 1.
	require.Equal(t, 1, f.OthersNeededForQuorum(false))
}

func TestMeetsQuorum(t *testing.T) {
	f := FromServers(fixedMembers{"a", "b", "c", "d", "e"}, "a", 1)
	require.Equal(t, 2, f.OthersNeededForQuorum(true))

	require.False(t, f.MeetsQuorum(true, func(id string) bool { return id == "b" }))
	require.True(t, f.MeetsQuorum(true, func(id string) bool { return id == "b" || id == "c" }))
}

func TestMeetsQuorumAsync(t *testing.T) {
	f := FromServers(fixedMembers{"a", "b", "c"}, "a", 1)
	ok := f.MeetsQuorumAsync(context.Background(), true, func(ctx context.Context, id string) bool {
		return true
	})
	require.True(t, ok)
}

func TestQuorumHasItemAtIndex(t *testing.T) {
	f := FromServers(fixedMembers{"a", "b", "c"}, "a", 1)
	f.SetMatchIndex("b", 5)
	require.True(t, f.QuorumHasItemAtIndex(5))
	require.False(t, f.QuorumHasItemAtIndex(6))
}

func TestUpdateFromServersAddsAndRemoves(t *testing.T) {
	f := FromServers(fixedMembers{"a", "b"}, "a", 1)
	f.UpdateFromServers(fixedMembers{"a", "c"}, 7)

	_, hasB := f.Get("b")
	require.False(t, hasB)

	c, hasC := f.Get("c")
	require.True(t, hasC)
	require.Equal(t, uint64(7), c.NextIndex)
}
