// Package followers implements the leader-only per-peer replication
// bookkeeping (next_index/match_index) and the quorum predicates built on
// top of it.
package followers

import (
	"context"
	"sync"
)

// Follower is the replication cursor the leader keeps for one peer.
type Follower struct {
	NextIndex  uint64
	MatchIndex uint64
}

// Followers is constructed when a node wins an election and torn down on
// step-down. It never contains an entry for the leader itself.
type Followers struct {
	mu   sync.RWMutex
	self string
	m    map[string]*Follower
}

// MembershipView abstracts whatever tracks active membership (servers.Servers
// in production, a plain slice in tests) so Followers doesn't import servers
// and create a dependency cycle.
type MembershipView interface {
	Members() []string
}

// FromServers enrolls every member of view except self, all starting at the
// given next_index with match_index 0.
func FromServers(view MembershipView, self string, nextIndex uint64) *Followers {
	f := &Followers{self: self, m: make(map[string]*Follower)}
	for _, id := range view.Members() {
		if id == self {
			continue
		}
		f.m[id] = &Follower{NextIndex: nextIndex, MatchIndex: 0}
	}
	return f
}

// UpdateFromServers adds newly-seen members (at nextIndex) and drops members
// no longer present, reacting to a membership change taking effect mid-term.
func (f *Followers) UpdateFromServers(view MembershipView, nextIndex uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	seen := make(map[string]struct{}, len(f.m))
	for _, id := range view.Members() {
		if id == f.self {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := f.m[id]; !ok {
			f.m[id] = &Follower{NextIndex: nextIndex, MatchIndex: 0}
		}
	}
	for id := range f.m {
		if _, ok := seen[id]; !ok {
			delete(f.m, id)
		}
	}
}

func (f *Followers) Get(id string) (Follower, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	fl, ok := f.m[id]
	if !ok {
		return Follower{}, false
	}
	return *fl, true
}

func (f *Followers) SetNextIndex(id string, next uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fl, ok := f.m[id]; ok {
		fl.NextIndex = next
	}
}

func (f *Followers) SetMatchIndex(id string, match uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fl, ok := f.m[id]; ok {
		fl.MatchIndex = match
	}
}

// DecrementNextIndex moves next_index back by one, floored at 1, as the
// retry step of a rejected AppendEntries.
func (f *Followers) DecrementNextIndex(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fl, ok := f.m[id]; ok {
		if fl.NextIndex > 1 {
			fl.NextIndex--
		}
	}
}

// IDs returns the peer ids this Followers tracks, in no particular order.
func (f *Followers) IDs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.m))
	for id := range f.m {
		out = append(out, id)
	}
	return out
}

func (f *Followers) count() int {
	return len(f.m)
}

// OthersNeededForQuorum returns how many OTHER nodes (peers, not self) must
// satisfy a predicate for quorum. With includeSelf true it accounts for
// self's own implicit vote/commit; with it false it is half the peer set,
// rounded up.
func (f *Followers) OthersNeededForQuorum(includeSelf bool) int {
	f.mu.RLock()
	n := f.count()
	f.mu.RUnlock()

	if !includeSelf {
		return ceilDiv(n, 2)
	}
	return ceilDiv(n+1, 2) - 1
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// MeetsQuorum reports whether at least OthersNeededForQuorum(includeSelf)
// peers satisfy pred, short-circuiting as soon as the threshold is hit.
func (f *Followers) MeetsQuorum(includeSelf bool, pred func(id string) bool) bool {
	needed := f.OthersNeededForQuorum(includeSelf)
	if needed <= 0 {
		return true
	}
	count := 0
	for _, id := range f.IDs() {
		if pred(id) {
			count++
			if count >= needed {
				return true
			}
		}
	}
	return false
}

// MeetsQuorumAsync evaluates pred for every peer concurrently (used for vote
// gathering) and returns as soon as the quorum threshold is reached, without
// waiting for stragglers. It respects ctx cancellation.
func (f *Followers) MeetsQuorumAsync(ctx context.Context, includeSelf bool, pred func(ctx context.Context, id string) bool) bool {
	needed := f.OthersNeededForQuorum(includeSelf)
	if needed <= 0 {
		return true
	}

	ids := f.IDs()
	results := make(chan bool, len(ids))
	for _, id := range ids {
		go func(id string) {
			results <- pred(ctx, id)
		}(id)
	}

	count := 0
	for i := 0; i < len(ids); i++ {
		select {
		case ok := <-results:
			if ok {
				count++
				if count >= needed {
					return true
				}
			}
		case <-ctx.Done():
			return false
		}
	}
	return false
}

// QuorumHasItemAtIndex asks whether a majority of the cluster -- including
// self, which is assumed to always have its own entries -- has match_index
// >= n.
func (f *Followers) QuorumHasItemAtIndex(n uint64) bool {
	return f.MeetsQuorum(true, func(id string) bool {
		fl, ok := f.Get(id)
		return ok && fl.MatchIndex >= n
	})
}
