// Package statemachine defines the capability interface a user-supplied
// state machine implements: visit(msg), apply(msg) -> result, and
// cli(args) -> msg. Servers (the membership sub-state-machine), composed
// internally by RaftNode, follows the same visit/apply split with its own
// typed methods but does not implement this interface.
package statemachine

import "encoding/json"

// StateMachine is realized once per configured application (the in-memory
// KV store, the string-append log) and driven exclusively by RaftNode's
// commit/apply loop.
type StateMachine interface {
	// Visit observes a message as it is first seen in the log, committed or
	// not. Both example state machines treat this as a no-op; only the
	// membership sub-state-machine needs eager visibility.
	Visit(message json.RawMessage)

	// Apply durably applies message and returns the result to report back
	// to the waiting client via the MessageBoard.
	Apply(message json.RawMessage) (interface{}, error)

	// CLI builds a message from command-line arguments, for the `client`
	// CLI command.
	CLI(args []string) (json.RawMessage, error)
}
