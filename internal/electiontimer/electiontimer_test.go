package electiontimer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/raftkit/yari/internal/config"
	"github.com/raftkit/yari/internal/persistence"
	"github.com/raftkit/yari/internal/raftnode"
	"github.com/raftkit/yari/internal/statemachine/kv"
)

type noopTransport struct{}

func (noopTransport) SendAppendEntries(context.Context, string, raftnode.AppendEntriesRequest) (raftnode.AppendEntriesResponse, error) {
	return raftnode.AppendEntriesResponse{}, nil
}

func (noopTransport) SendVoteRequest(context.Context, string, raftnode.VoteRequest) (raftnode.VoteResponse, error) {
	return raftnode.VoteResponse{}, nil
}

func TestSoloNodeBecomesLeaderWithoutManualElection(t *testing.T) {
	store := persistence.NewStore(filepath.Join(t.TempDir(), "state.yari"))
	cfg := config.Config{
		TimeoutMin:        10 * time.Millisecond,
		TimeoutMax:        20 * time.Millisecond,
		HeartbeatInterval: 5 * time.Millisecond,
	}

	node, err := raftnode.Bootstrap("solo", cfg, kv.New(), noopTransport{}, store, logrus.New())
	require.NoError(t, err)

	timer := New(node, cfg, logrus.New())
	go timer.Run()
	defer timer.Stop()

	require.Eventually(t, func() bool {
		return node.Role() == raftnode.Leader
	}, time.Second, time.Millisecond)
}

func TestStopEndsRunPromptly(t *testing.T) {
	store := persistence.NewStore(filepath.Join(t.TempDir(), "state.yari"))
	cfg := config.Config{
		TimeoutMin:        50 * time.Millisecond,
		TimeoutMax:        100 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
	}
	node, err := raftnode.Bootstrap("solo", cfg, kv.New(), noopTransport{}, store, logrus.New())
	require.NoError(t, err)

	timer := New(node, cfg, logrus.New())
	done := make(chan struct{})
	go func() {
		timer.Run()
		close(done)
	}()

	timer.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
