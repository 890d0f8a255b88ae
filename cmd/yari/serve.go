package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/raftkit/yari/internal/config"
	"github.com/raftkit/yari/internal/electiontimer"
	"github.com/raftkit/yari/internal/peerclient"
	"github.com/raftkit/yari/internal/persistence"
	"github.com/raftkit/yari/internal/raftnode"
	"github.com/raftkit/yari/internal/server"
)

type serveFlags struct {
	configPath string
	statefile  string
}

func (f *serveFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.configPath, "config", "config.toml", "path to config.toml")
	cmd.Flags().StringVar(&f.statefile, "statefile", "", "override the default <cwd>/<port-or-host>.yari statefile path")
}

func (f *serveFlags) store(nodeURL string) (*persistence.Store, error) {
	path := f.statefile
	if path == "" {
		var err error
		path, err = persistence.StatefilePath(nodeURL)
		if err != nil {
			return nil, err
		}
	}
	return persistence.NewStore(path), nil
}

// runServeLoop starts node's HTTP server and election timer and blocks until
// SIGINT/SIGTERM, then shuts both down.
func runServeLoop(nodeURL string, node *raftnode.Node, cfg config.Config) error {
	logger := newLogger()
	timer := electiontimer.New(node, cfg, logger)
	go timer.Run()
	defer timer.Stop()

	httpServer := &http.Server{
		Addr:    addrFromURL(nodeURL),
		Handler: server.New(node, cfg.TimeoutMax, logger),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", httpServer.Addr).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

func newBootstrapCommand() *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "bootstrap <url>",
		Short: "Create the first member of a brand-new cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeURL := args[0]
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			store, err := flags.store(nodeURL)
			if err != nil {
				return err
			}
			sm, err := newStateMachine()
			if err != nil {
				return err
			}

			node, err := raftnode.Bootstrap(nodeURL, cfg, sm, peerclient.New(nil), store, newLogger())
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			return runServeLoop(nodeURL, node, cfg)
		},
	}
	flags.register(cmd)
	return cmd
}

func newJoinCommand() *cobra.Command {
	flags := &serveFlags{}
	var servers string
	cmd := &cobra.Command{
		Use:   "join <url>",
		Short: "Contact an existing cluster to be added, then start",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeURL := args[0]
			contacts := splitNonEmpty(servers)
			if len(contacts) == 0 {
				return fmt.Errorf("join requires --servers <existing-member-url>[,<url>...]")
			}

			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			store, err := flags.store(nodeURL)
			if err != nil {
				return err
			}
			sm, err := newStateMachine()
			if err != nil {
				return err
			}

			client := peerclient.New(nil)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := addSelfFollowingRedirects(ctx, client, contacts[0], nodeURL); err != nil {
				return fmt.Errorf("join: %w", err)
			}

			node, err := raftnode.Join(nodeURL, cfg, sm, client, store, newLogger())
			if err != nil {
				return fmt.Errorf("join: %w", err)
			}
			return runServeLoop(nodeURL, node, cfg)
		},
	}
	cmd.Flags().StringVar(&servers, "servers", "", "comma-separated URL(s) of existing cluster member(s) to contact")
	flags.register(cmd)
	return cmd
}

func newResumeCommand() *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "resume <url>",
		Short: "Resume a node from its statefile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeURL := args[0]
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			store, err := flags.store(nodeURL)
			if err != nil {
				return err
			}
			sm, err := newStateMachine()
			if err != nil {
				return err
			}

			node, err := raftnode.Resume(cfg, sm, peerclient.New(nil), store, newLogger())
			if err != nil {
				return fmt.Errorf("resume: %w", err)
			}
			return runServeLoop(nodeURL, node, cfg)
		},
	}
	flags.register(cmd)
	return cmd
}

// addSelfFollowingRedirects issues PUT contact/servers/{selfURL} and follows
// up to five 307 redirects to the actual leader, since peerclient surfaces a
// redirect as an error rather than auto-following it.
func addSelfFollowingRedirects(ctx context.Context, client *peerclient.Client, contact, selfURL string) error {
	target := contact
	for i := 0; i < 5; i++ {
		err := client.AddMember(ctx, target, selfURL)
		if err == nil {
			return nil
		}
		var redirect *peerclient.ErrRedirect
		if ok := asErrRedirect(err, &redirect); ok {
			target = redirect.LeaderBase("/servers/" + url.PathEscape(selfURL))
			continue
		}
		return err
	}
	return fmt.Errorf("too many redirects contacting %s", contact)
}

func asErrRedirect(err error, target **peerclient.ErrRedirect) bool {
	redirect, ok := err.(*peerclient.ErrRedirect)
	if !ok {
		return false
	}
	*target = redirect
	return true
}
