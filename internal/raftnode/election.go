package raftnode

import (
	"context"

	"github.com/raftkit/yari/internal/followers"
	"github.com/raftkit/yari/internal/raftlog"
)

// StartElection runs the candidate procedure: bump current_term, vote
// for self, become Candidate, and request votes from every active member
// concurrently. If a quorum grants before ctx expires, this node installs
// fresh Followers, becomes Leader, appends a Blank entry for the new term,
// and immediately fires a replication round.
func (n *Node) StartElection(ctx context.Context) ElectionResult {
	n.mu.Lock()
	if !n.servers.Contains(n.id) {
		n.mu.Unlock()
		return Ineligible
	}

	n.currentTerm++
	votingTerm := n.currentTerm
	n.votedFor = n.id
	n.role = Candidate
	n.leaderIDForRedirection = ""
	n.followerState = nil

	lastLogIndex := n.log.LastIndex()
	lastLogTerm := n.log.LastTerm()
	_ = n.persistLocked()

	view := n.servers
	n.mu.Unlock()

	candidates := followers.FromServers(view, n.id, lastLogIndex+1)

	granted := candidates.MeetsQuorumAsync(ctx, true, func(ctx context.Context, peer string) bool {
		resp, err := n.transport.SendVoteRequest(ctx, peer, VoteRequest{
			Term:         votingTerm,
			CandidateID:  n.id,
			LastLogIndex: lastLogIndex,
			LastLogTerm:  lastLogTerm,
		})
		if err != nil {
			return false
		}

		if resp.Term > votingTerm {
			n.mu.Lock()
			if resp.Term > n.currentTerm {
				n.votedFor = ""
				n.stepDownLocked()
				n.currentTerm = resp.Term
				_ = n.persistLocked()
			}
			n.mu.Unlock()
			return false
		}
		return resp.VoteGranted
	})

	if !granted {
		return FailedQuorum
	}

	n.mu.Lock()
	if n.role != Candidate || n.currentTerm != votingTerm {
		// Term or role moved on while votes were in flight (a higher-term
		// RPC arrived, or we already stepped down). The election is moot.
		n.mu.Unlock()
		return FailedQuorum
	}

	n.votedFor = ""
	n.role = Leader
	n.leaderIDForRedirection = n.id
	n.followerState = followers.FromServers(n.servers, n.id, n.log.LastIndex()+1)
	n.log.ClientAppend(votingTerm, raftlog.Blank())
	n.commitLocked()
	_ = n.persistLocked()
	n.mu.Unlock()

	n.SendAppendsOrHeartbeats(ctx)
	return Elected
}
