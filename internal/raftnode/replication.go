package raftnode

import "context"

// SendAppendsOrHeartbeats runs one replication round: for every
// follower, sequentially, send whatever AppendEntries batch (or empty
// heartbeat) its next_index calls for, retrying with a decremented
// next_index on rejection. Followers are driven one at a time within a
// round rather than fanned out in parallel, since nothing in the
// observable protocol depends on round latency.
func (n *Node) SendAppendsOrHeartbeats(ctx context.Context) {
	n.mu.Lock()
	if n.role != Leader {
		n.mu.Unlock()
		return
	}
	peers := n.followerState.IDs()
	n.mu.Unlock()

	// A solitary leader (no followers) has nothing to wait on to advance
	// commit_index, so the flag starts true in that case -- mirroring the
	// reference's `any_change_in_match_indexes = followers.is_empty()` --
	// or a one-member cluster's own entries (including the election Blank)
	// would never commit.
	matchChanged := len(peers) == 0
	steppedDown := false

	for _, peer := range peers {
		changed, down := n.replicateToPeer(ctx, peer)
		if changed {
			matchChanged = true
		}
		if down {
			steppedDown = true
			break
		}
	}

	n.mu.Lock()
	if n.role == Leader {
		if matchChanged {
			n.updateCommitIndexLocked()
		}
		if steppedDown || !n.servers.Contains(n.id) {
			n.stepDownLocked()
		} else {
			n.commitLocked()
		}
		_ = n.persistLocked()
	}
	n.mu.Unlock()
}

// replicateToPeer drives the retry loop for a single follower: build the
// batch from the follower's current next_index, send it, and on rejection
// decrement next_index and retry immediately, within this same round. It
// returns whether match_index advanced and whether a higher term was
// observed (the caller should step down).
func (n *Node) replicateToPeer(ctx context.Context, peer string) (matchChanged, stepDown bool) {
	for {
		n.mu.Lock()
		if n.role != Leader {
			n.mu.Unlock()
			return matchChanged, false
		}
		fl, ok := n.followerState.Get(peer)
		if !ok {
			n.mu.Unlock()
			return matchChanged, false
		}

		entries := n.log.EntriesStartingAt(fl.NextIndex)
		var prevIndex, prevTerm uint64
		if prev, ok := n.log.PreviousEntryTo(fl.NextIndex); ok {
			prevIndex, prevTerm = prev.Index, prev.Term
		}

		req := AppendEntriesRequest{
			Term:              n.currentTerm,
			LeaderID:          n.id,
			PreviousLogIndex:  prevIndex,
			PreviousLogTerm:   prevTerm,
			Entries:           entries,
			LeaderCommitIndex: n.commitIndex,
		}
		sentTerm := n.currentTerm
		n.mu.Unlock()

		resp, err := n.transport.SendAppendEntries(ctx, peer, req)
		if err != nil {
			return matchChanged, false
		}

		n.mu.Lock()
		if resp.Term > n.currentTerm {
			n.mu.Unlock()
			return matchChanged, true
		}
		if n.role != Leader || n.currentTerm != sentTerm {
			n.mu.Unlock()
			return matchChanged, false
		}

		if resp.Success {
			if len(entries) > 0 {
				last := entries[len(entries)-1]
				n.followerState.SetMatchIndex(peer, last.Index)
				n.followerState.SetNextIndex(peer, last.Index+1)
				matchChanged = true
			}
			n.mu.Unlock()
			return matchChanged, false
		}

		n.followerState.DecrementNextIndex(peer)
		n.mu.Unlock()

		select {
		case <-ctx.Done():
			return matchChanged, false
		default:
		}
	}
}

// updateCommitIndexLocked advances commit_index to the highest N for which a
// quorum's match_index is at least N and the entry at N belongs to the
// current term (the classic restriction against committing a previous
// term's entry purely by count). n.mu must be held and n.role must be
// Leader.
func (n *Node) updateCommitIndexLocked() {
	last := n.log.LastIndex()
	for N := last; N > n.commitIndex; N-- {
		entry, ok := n.log.EntryAt(N)
		if !ok || entry.Term != n.currentTerm {
			continue
		}
		if n.followerState.QuorumHasItemAtIndex(N) {
			n.commitIndex = N
			return
		}
	}
}
