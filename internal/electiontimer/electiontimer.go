// Package electiontimer implements the single background goroutine paired
// with each RaftNode: while the node is Follower or Candidate it waits a
// randomized election timeout before calling StartElection; while it is
// Leader it waits the fixed heartbeat interval before calling
// SendAppendsOrHeartbeats. Either wait is cut short by the node's bounded,
// coalescing interrupt channel.
package electiontimer

import (
	"context"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/raftkit/yari/internal/config"
	"github.com/raftkit/yari/internal/raftnode"
)

// Timer drives one RaftNode's election/heartbeat loop. Exactly one Timer
// must be constructed per Node: InterruptReceiver hands out the same
// channel to every caller, so a second consumer would starve the first.
type Timer struct {
	node   *raftnode.Node
	cfg    config.Config
	logger *logrus.Entry
	stopCh chan struct{}
}

func New(node *raftnode.Node, cfg config.Config, logger *logrus.Logger) *Timer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Timer{
		node:   node,
		cfg:    cfg,
		logger: logger.WithField("node", node.ID()),
		stopCh: make(chan struct{}),
	}
}

// Run blocks until Stop is called. Call it from its own goroutine.
func (t *Timer) Run() {
	for {
		select {
		case <-t.stopCh:
			return
		default:
		}

		if t.node.Role() == raftnode.Leader {
			if !t.runLeader() {
				return
			}
			continue
		}
		if !t.runElectionWait() {
			return
		}
	}
}

func (t *Timer) Stop() {
	close(t.stopCh)
}

// runElectionWait waits one randomized election timeout, calling
// StartElection if nothing interrupts it first. Returns false iff Stop was
// called.
func (t *Timer) runElectionWait() bool {
	select {
	case <-t.stopCh:
		return false
	case <-t.node.InterruptReceiver():
		return true
	case <-time.After(t.randomTimeout()):
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.TimeoutMax)
	defer cancel()

	result := t.node.StartElection(ctx)
	t.logger.WithField("result", result.String()).Debug("election attempt finished")
	return true
}

// runLeader waits one heartbeat interval at a time, sending a replication
// round on every tick, until Stop or a step-down away from Leader. An
// interrupt sends an extra round at once and the loop carries on. Returns
// false iff Stop was called.
func (t *Timer) runLeader() bool {
	ticker := time.NewTicker(t.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return false
		case <-t.node.InterruptReceiver():
			// A client submission or membership change wants a prompt round
			// instead of waiting for the next tick.
			if t.node.Role() != raftnode.Leader {
				return true
			}
			t.fireRound()
		case <-ticker.C:
			if t.node.Role() != raftnode.Leader {
				return true
			}
			t.fireRound()
		}
	}
}

func (t *Timer) fireRound() {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.HeartbeatInterval)
	defer cancel()
	t.node.SendAppendsOrHeartbeats(ctx)
}

func (t *Timer) randomTimeout() time.Duration {
	min := int64(t.cfg.TimeoutMin)
	max := int64(t.cfg.TimeoutMax)
	if max <= min {
		return time.Duration(min)
	}
	return time.Duration(min + rand.Int63n(max-min))
}
