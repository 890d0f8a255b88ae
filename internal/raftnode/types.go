// Package raftnode implements RaftNode: the full per-node Raft state,
// its RPC handlers, the election procedure, the replication round, and the
// plumbing that ties the Log, Servers, Followers, and MessageBoard together.
package raftnode

import (
	"context"

	"github.com/raftkit/yari/internal/raftlog"
)

// Role is one of Follower, Candidate, or Leader. "Solitary" from the
// glossary (leader of a one-member cluster) is not a distinct role: the
// quorum math in internal/followers already returns a zero threshold for a
// one-member cluster, so a lone bootstrap node becomes Leader on its first
// election timeout without any special-casing.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "Follower"
	case Candidate:
		return "Candidate"
	case Leader:
		return "Leader"
	default:
		return "Unknown"
	}
}

// PeerTransport is the outbound RPC surface RaftNode needs; peerclient.Client
// implements it over HTTP+JSON. Defined here (not in peerclient) so this
// package doesn't import its own caller.
type PeerTransport interface {
	SendAppendEntries(ctx context.Context, peer string, req AppendEntriesRequest) (AppendEntriesResponse, error)
	SendVoteRequest(ctx context.Context, peer string, req VoteRequest) (VoteResponse, error)
}

// AppendEntriesRequest is the wire shape of POST /append.
type AppendEntriesRequest struct {
	Term              uint64          `json:"term"`
	LeaderID          string          `json:"leader_id"`
	PreviousLogIndex  uint64          `json:"previous_log_index"`
	PreviousLogTerm   uint64          `json:"previous_log_term"`
	Entries           []raftlog.Entry `json:"entries,omitempty"`
	LeaderCommitIndex uint64          `json:"leader_commit_index"`
}

type AppendEntriesResponse struct {
	Term    uint64 `json:"term"`
	Success bool   `json:"success"`
}

// VoteRequest is the wire shape of POST /vote.
type VoteRequest struct {
	Term         uint64 `json:"term"`
	CandidateID  string `json:"candidate_id"`
	LastLogIndex uint64 `json:"last_log_index"`
	LastLogTerm  uint64 `json:"last_log_term"`
}

type VoteResponse struct {
	Term        uint64 `json:"term"`
	VoteGranted bool   `json:"vote_granted"`
}

// ElectionResult is returned by StartElection.
type ElectionResult int

const (
	Elected ElectionResult = iota
	FailedQuorum
	Ineligible
)

func (r ElectionResult) String() string {
	switch r {
	case Elected:
		return "Elected"
	case FailedQuorum:
		return "FailedQuorum"
	case Ineligible:
		return "Ineligible"
	default:
		return "Unknown"
	}
}
