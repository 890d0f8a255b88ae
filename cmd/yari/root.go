// Command yari is the cluster operator CLI: it starts a node
// (bootstrap/join/resume), queries one (inspect/ping), changes membership
// (add/remove), and drives the configured state machine (client). Built on
// spf13/cobra, matching the CLI stack of comparable clustered-store repos in
// the retrieval pack (e.g. cuemby-warren).
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/raftkit/yari/internal/statemachine"
	"github.com/raftkit/yari/internal/statemachine/kv"
	"github.com/raftkit/yari/internal/statemachine/stringappend"
)

var (
	stateMachineName string
	logLevel         string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "yari",
		Short:         "Operate a yari Raft cluster node",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&stateMachineName, "state-machine", "kv", "state machine to run: kv or stringappend")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "logrus level: debug, info, warn, error")

	root.AddCommand(
		newBootstrapCommand(),
		newJoinCommand(),
		newResumeCommand(),
		newInspectCommand(),
		newPingCommand(),
		newAddCommand(),
		newRemoveCommand(),
		newClientCommand(),
	)
	return root
}

func newLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func newStateMachine() (statemachine.StateMachine, error) {
	switch strings.ToLower(stateMachineName) {
	case "kv", "":
		return kv.New(), nil
	case "stringappend":
		return stringappend.New(), nil
	default:
		return nil, fmt.Errorf("unknown state machine %q (want kv or stringappend)", stateMachineName)
	}
}
