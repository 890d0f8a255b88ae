package raftnode

import (
	"errors"
	"fmt"
)

var (
	// ErrNotLeader is returned when a client or admin operation is rejected
	// and this node has no leader_id_for_redirection to offer (leader
	// unknown -- the caller should respond 503 and let the client retry).
	ErrNotLeader = errors.New("raftnode: not the leader")

	// ErrConfigChangePending is returned when member_add/member_remove is
	// attempted while a previous membership change hasn't yet stabilized.
	ErrConfigChangePending = errors.New("raftnode: a membership change is already in progress")

	// ErrIneligible describes a node that is not (or is no longer) part of
	// the active membership. StartElection reports that case as the
	// Ineligible ElectionResult, not as this error.
	ErrIneligible = errors.New("raftnode: not a member of the cluster")
)

// NotLeaderError is returned instead of ErrNotLeader when a leader_id is
// known, so the HTTP layer can build a 307 redirect to it.
type NotLeaderError struct {
	LeaderID string
}

func (e *NotLeaderError) Error() string {
	return fmt.Sprintf("raftnode: not leader, redirect to %s", e.LeaderID)
}
