package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/raftkit/yari/internal/peerclient"
)

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <url>",
		Short: "Print a node's status as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			req, err := newGetRequest(ctx, args[0])
			if err != nil {
				return err
			}
			resp, err := peerclient.New(nil).Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			_, err = os.Stdout.ReadFrom(resp.Body)
			return err
		},
	}
}

func newPingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ping <url>",
		Short: "Check that a node is reachable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			req, err := newGetRequest(ctx, args[0])
			if err != nil {
				return err
			}
			resp, err := peerclient.New(nil).Do(req)
			if err != nil {
				return fmt.Errorf("unreachable: %w", err)
			}
			defer resp.Body.Close()
			fmt.Println("ok")
			return nil
		},
	}
}

func newAddCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add <target-url> <member-id>",
		Short: "Add member-id to the cluster via target-url",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return addSelfFollowingRedirects(ctx, peerclient.New(nil), args[0], args[1])
		},
	}
}

func newRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <target-url> <member-id>",
		Short: "Remove member-id from the cluster via target-url",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			client := peerclient.New(nil)
			target := args[0]
			for i := 0; i < 5; i++ {
				err := client.RemoveMember(ctx, target, args[1])
				if err == nil {
					return nil
				}
				var redirect *peerclient.ErrRedirect
				if ok := asErrRedirect(err, &redirect); ok {
					target = redirect.LeaderBase("/servers/" + url.PathEscape(args[1]))
					continue
				}
				return err
			}
			return fmt.Errorf("too many redirects contacting %s", args[0])
		},
	}
}

func newClientCommand() *cobra.Command {
	var servers string
	cmd := &cobra.Command{
		Use:   "client -- <state-machine args...>",
		Short: "Submit a command built from argv to the configured state machine",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if servers == "" {
				return fmt.Errorf("client requires --servers <comma-separated-urls>")
			}
			sm, err := newStateMachine()
			if err != nil {
				return err
			}
			message, err := sm.CLI(args)
			if err != nil {
				return err
			}

			targets := splitNonEmpty(servers)
			if len(targets) == 0 {
				return fmt.Errorf("--servers must name at least one node")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			client := peerclient.New(nil)
			target := targets[0]
			for i := 0; i < 5; i++ {
				result, err := client.SubmitClient(ctx, target, message)
				if err == nil {
					return printResult(result)
				}
				var redirect *peerclient.ErrRedirect
				if ok := asErrRedirect(err, &redirect); ok {
					target = redirect.LeaderBase("/client")
					continue
				}
				if err == peerclient.ErrUnavailable && i+1 < len(targets) {
					target = targets[i+1]
					continue
				}
				return err
			}
			return fmt.Errorf("too many redirects contacting %v", targets)
		},
	}
	cmd.Flags().StringVar(&servers, "servers", "", "comma-separated list of node URLs to try")
	return cmd
}

func printResult(result interface{}) error {
	if result == nil {
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	return enc.Encode(result)
}

func splitNonEmpty(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
