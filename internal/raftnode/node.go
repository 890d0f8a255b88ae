package raftnode

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/raftkit/yari/internal/config"
	"github.com/raftkit/yari/internal/followers"
	"github.com/raftkit/yari/internal/messageboard"
	"github.com/raftkit/yari/internal/persistence"
	"github.com/raftkit/yari/internal/raftlog"
	"github.com/raftkit/yari/internal/servers"
	"github.com/raftkit/yari/internal/statemachine"
)

// Node is RaftNode: the persistent fields (id, current_term, voted_for, log),
// the volatile fields (commit_index, last_applied_index,
// immediate_commit_index, follower_state, servers,
// leader_id_for_redirection), and the collaborators (state_machine,
// message_board, persistence, transport) wired together.
type Node struct {
	mu sync.Mutex

	id     string
	cfg    config.Config
	logger *logrus.Entry

	// persistent
	currentTerm uint64
	votedFor    string
	log         *raftlog.Log

	// volatile
	commitIndex            uint64
	lastAppliedIndex       uint64
	immediateCommitIndex   uint64
	role                   Role
	followerState          *followers.Followers
	servers                *servers.Servers
	leaderIDForRedirection string

	stateMachine statemachine.StateMachine
	board        *messageboard.MessageBoard

	store     *persistence.Store
	transport PeerTransport

	// interruptCh wakes the single election-timer goroutine this node is
	// paired with. Capacity 1 and a non-blocking send: a burst of legitimate
	// contacts within one tick coalesces into a single wakeup.
	interruptCh chan struct{}
}

func newNode(id string, cfg config.Config, sm statemachine.StateMachine, transport PeerTransport, store *persistence.Store, logger *logrus.Logger) *Node {
	if logger == nil {
		logger = logrus.New()
	}
	return &Node{
		id:           id,
		cfg:          cfg,
		logger:       logger.WithField("node", id),
		log:          raftlog.New(),
		role:         Follower,
		stateMachine: sm,
		board:        messageboard.New(),
		store:        store,
		transport:    transport,
		interruptCh:  make(chan struct{}, 1),
	}
}

// Bootstrap creates the first-ever member of a brand-new cluster. The
// statefile must not already exist. The new node starts as a lone Follower;
// its first election timeout wins unopposed (OthersNeededForQuorum is 0 for
// a one-member cluster), making it leader without any bootstrap-specific
// code path.
func Bootstrap(id string, cfg config.Config, sm statemachine.StateMachine, transport PeerTransport, store *persistence.Store, logger *logrus.Logger) (*Node, error) {
	if store.Exists() {
		return nil, persistence.ErrConflict
	}
	n := newNode(id, cfg, sm, transport, store, logger)
	n.servers = servers.New(id)

	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.persistLocked(); err != nil {
		return nil, err
	}
	return n, nil
}

// Join constructs a fresh node the same way Bootstrap does. The difference
// is operational, not structural: the caller (cmd/yari's join command) must
// first get this id admitted to an existing cluster via PUT /servers/{id}
// before starting the node loop, since membership itself only propagates by
// normal log replication once this node starts receiving AppendEntries.
func Join(id string, cfg config.Config, sm statemachine.StateMachine, transport PeerTransport, store *persistence.Store, logger *logrus.Logger) (*Node, error) {
	return Bootstrap(id, cfg, sm, transport, store, logger)
}

// Resume rehydrates a node from its statefile. Only the persistent fields
// (id, current_term, voted_for, log) survive a restart; every volatile field
// -- commit_index, last_applied_index, the state machine's own data, active
// membership -- starts over from zero and is reconstructed by replaying the
// log, since snapshotting is a Non-goal and the full log is always on hand.
func Resume(cfg config.Config, sm statemachine.StateMachine, transport PeerTransport, store *persistence.Store, logger *logrus.Logger) (*Node, error) {
	state, err := store.Load()
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, persistence.ErrConflict
	}

	n := newNode(state.ID, cfg, sm, transport, store, logger)
	n.currentTerm = state.CurrentTerm
	n.votedFor = state.VotedFor
	n.log = raftlog.NewFromEntries(state.Log)
	n.servers = servers.New(state.ID)

	n.mu.Lock()
	defer n.mu.Unlock()
	n.commitLocked() // replay the visit pass over the whole log to rebuild membership
	return n, nil
}

func (n *Node) ID() string { return n.id }

// Role reports this node's current Role, for the ElectionTimer loop to
// decide between a heartbeat wait and an election-timeout wait.
func (n *Node) Role() Role {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role
}

func (n *Node) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Status{
		ID:               n.id,
		Role:             n.role.String(),
		Term:             n.currentTerm,
		LeaderID:         n.leaderIDForRedirection,
		CommitIndex:      n.commitIndex,
		LastAppliedIndex: n.lastAppliedIndex,
		LastLogIndex:     n.log.LastIndex(),
		Members:          n.servers.Members(),
	}
}

// Status is the snapshot served by GET / for operators and tests.
type Status struct {
	ID               string   `json:"id"`
	Role             string   `json:"role"`
	Term             uint64   `json:"term"`
	LeaderID         string   `json:"leader_id,omitempty"`
	CommitIndex      uint64   `json:"commit_index"`
	LastAppliedIndex uint64   `json:"last_applied_index"`
	LastLogIndex     uint64   `json:"last_log_index"`
	Members          []string `json:"members"`
}

// interruptTimer wakes this node's ElectionTimer goroutine. Safe to call
// with or without n.mu held: it only ever touches the channel.
func (n *Node) interruptTimer() {
	select {
	case n.interruptCh <- struct{}{}:
	default:
	}
}

// InterruptReceiver is handed to the ElectionTimer this node is paired
// with, once, at startup.
func (n *Node) InterruptReceiver() <-chan struct{} {
	return n.interruptCh
}

func (n *Node) persistLocked() error {
	state := persistence.State{
		ID:          n.id,
		CurrentTerm: n.currentTerm,
		VotedFor:    n.votedFor,
		Log:         n.log.Entries(),
	}
	if err := n.store.Save(state); err != nil {
		n.logger.WithError(err).Warn("failed to persist state")
		return err
	}
	return nil
}

// HandleAppendEntries implements the AppendEntries RPC handler:
// interrupt the election timer, step down from Candidate if currently one,
// record the leader for redirection, attempt the log append, advance
// commit_index from the leader's view, then run the common apply rules.
func (n *Node) HandleAppendEntries(req AppendEntriesRequest) AppendEntriesResponse {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.interruptTimer()

	if n.role == Candidate {
		n.role = Follower
	}
	n.leaderIDForRedirection = req.LeaderID

	success := req.Term >= n.currentTerm && n.log.Append(raftlog.AppendRequest{
		PreviousLogIndex: req.PreviousLogIndex,
		PreviousLogTerm:  req.PreviousLogTerm,
		Entries:          req.Entries,
	})

	if success && req.LeaderCommitIndex > n.commitIndex {
		newCommit := req.LeaderCommitIndex
		if last := n.log.LastIndex(); last < newCommit {
			newCommit = last
		}
		if newCommit > n.commitIndex {
			n.commitIndex = newCommit
		}
	}

	termBeforeApply := n.currentTerm
	n.applyRulesLocked(req.Term)

	return AppendEntriesResponse{Term: termBeforeApply, Success: success}
}

// HandleRequestVote implements the RequestVote RPC handler: grant iff
// the candidate's term is at least current, this node hasn't already voted
// for someone else this term, and the candidate's log is at least as
// up-to-date as this node's.
func (n *Node) HandleRequestVote(req VoteRequest) VoteResponse {
	n.mu.Lock()
	defer n.mu.Unlock()

	termBeforeApply := n.currentTerm
	if req.Term > n.currentTerm {
		// Adopt the higher term (clearing voted_for) before deciding, so a
		// vote granted below is not wiped out by applyRulesLocked.
		n.votedFor = ""
		n.stepDownLocked()
		n.currentTerm = req.Term
	}

	grant := req.Term >= n.currentTerm &&
		(n.votedFor == "" || n.votedFor == req.CandidateID) &&
		req.LastLogTerm >= n.log.LastTerm() &&
		req.LastLogIndex >= n.log.LastIndex()

	if grant {
		n.votedFor = req.CandidateID
		n.interruptTimer()
	}

	n.applyRulesLocked(req.Term)

	return VoteResponse{Term: termBeforeApply, VoteGranted: grant}
}

// applyRulesLocked is the common tail every RPC handler runs: adopt a
// higher term (clearing voted_for and stepping down), run the two-pass
// commit loop, and persist. n.mu must be held.
func (n *Node) applyRulesLocked(requestTerm uint64) {
	if requestTerm > n.currentTerm {
		n.votedFor = ""
		n.stepDownLocked()
		n.currentTerm = requestTerm
	}
	n.commitLocked()
	_ = n.persistLocked()
}

// stepDownLocked demotes a Leader or Candidate to Follower. Outstanding
// client waiters registered on the MessageBoard are not proactively failed:
// they simply time out against their own context once no further commit
// ever reaches their index.
func (n *Node) stepDownLocked() {
	n.role = Follower
	n.followerState = nil
}

// commitLocked runs the two-pass commit/apply loop.
//
// Visit pass: every entry newly present in the log, whether committed or
// not, is visited so config changes and state-machine messages become
// eagerly observable (new members can vote immediately).
//
// Apply pass: every entry up to commit_index that hasn't yet been applied
// is applied in order, and state-machine results are posted to the
// MessageBoard.
func (n *Node) commitLocked() {
	last := n.log.LastIndex()
	for i := n.immediateCommitIndex + 1; i <= last; i++ {
		entry, ok := n.log.EntryAt(i)
		if !ok {
			break
		}
		switch entry.Message.Kind {
		case raftlog.KindServerConfigChange:
			n.servers.Visit(*entry.Message.SCC)
			if n.role == Leader {
				n.followerState.UpdateFromServers(n.servers, n.log.LastIndex()+1)
			}
		case raftlog.KindStateMachineMessage:
			n.stateMachine.Visit(entry.Message.SM)
		}
		n.immediateCommitIndex = i
	}

	for n.commitIndex > n.lastAppliedIndex {
		idx := n.lastAppliedIndex + 1
		entry, ok := n.log.EntryAt(idx)
		if !ok {
			break
		}

		switch entry.Message.Kind {
		case raftlog.KindStateMachineMessage:
			value, err := n.stateMachine.Apply(entry.Message.SM)
			n.lastAppliedIndex = idx
			n.board.Post(entry.Term, entry.Index, messageboard.Result{Value: value, Err: err})
			continue
		case raftlog.KindServerConfigChange:
			followUp := n.servers.Apply(*entry.Message.SCC)
			if n.role == Leader {
				n.followerState.UpdateFromServers(n.servers, n.log.LastIndex()+1)
				if followUp != nil {
					n.log.ClientAppend(n.currentTerm, raftlog.ConfigChange(*followUp))
				}
			}
		}
		n.lastAppliedIndex = idx
	}
}

// SubmitClientMessage implements the client-submission procedure:
// reject with NotLeaderError/ErrNotLeader off the leader, otherwise append
// the message, register a MessageBoard receiver under the new entry's
// identity, persist, and wake the replication timer so the round doesn't
// wait for the next heartbeat tick.
func (n *Node) SubmitClientMessage(raw json.RawMessage) (<-chan messageboard.Result, uint64, uint64, error) {
	n.mu.Lock()

	if n.role != Leader {
		leader := n.leaderIDForRedirection
		n.mu.Unlock()
		if leader == "" {
			return nil, 0, 0, ErrNotLeader
		}
		return nil, 0, 0, &NotLeaderError{LeaderID: leader}
	}

	entry := n.log.ClientAppend(n.currentTerm, raftlog.StateMachineMessage(raw))
	ch := n.board.Register(entry.Term, entry.Index)
	n.commitLocked()
	_ = n.persistLocked()
	n.mu.Unlock()

	n.interruptTimer()
	return ch, entry.Term, entry.Index, nil
}

// ForgetClientMessage cancels a MessageBoard registration, for a client
// handler whose request context was cancelled before the entry committed.
func (n *Node) ForgetClientMessage(term, index uint64) {
	n.board.Forget(term, index)
}

// AddMember and RemoveMember implement the leader-only membership admin
// operations (PUT/DELETE /servers/{id}). Both refuse while a previous
// change is still pending, per the joint-consensus safety note.
func (n *Node) AddMember(id string) (uint64, uint64, error) {
	return n.changeMembership(id, true)
}

func (n *Node) RemoveMember(id string) (uint64, uint64, error) {
	return n.changeMembership(id, false)
}

func (n *Node) changeMembership(id string, add bool) (uint64, uint64, error) {
	n.mu.Lock()

	if n.role != Leader {
		leader := n.leaderIDForRedirection
		n.mu.Unlock()
		if leader == "" {
			return 0, 0, ErrNotLeader
		}
		return 0, 0, &NotLeaderError{LeaderID: leader}
	}
	if n.servers.HasPending() {
		n.mu.Unlock()
		return 0, 0, ErrConfigChangePending
	}

	var change raftlog.ServerConfigChange
	if add {
		change = n.servers.MemberAdd(id)
	} else {
		change = n.servers.MemberRemove(id)
	}

	entry := n.log.ClientAppend(n.currentTerm, raftlog.ConfigChange(change))
	n.commitLocked()
	_ = n.persistLocked()
	n.mu.Unlock()

	n.interruptTimer()
	return entry.Term, entry.Index, nil
}
