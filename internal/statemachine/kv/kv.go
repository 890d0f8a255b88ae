// Package kv implements an in-memory key/value store state machine, driven
// by an externally-tagged JSON command envelope (e.g. {"Set":["k","v"]},
// {"Get":"k"}).
package kv

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Command is the tagged union of operations this state machine accepts.
// Exactly one field is non-nil.
type Command struct {
	Set    *SetArgs
	Get    *string
	Delete *string
}

type SetArgs struct {
	Key   string
	Value string
}

func (c Command) MarshalJSON() ([]byte, error) {
	switch {
	case c.Set != nil:
		return json.Marshal(map[string][2]string{"Set": {c.Set.Key, c.Set.Value}})
	case c.Get != nil:
		return json.Marshal(map[string]string{"Get": *c.Get})
	case c.Delete != nil:
		return json.Marshal(map[string]string{"Delete": *c.Delete})
	default:
		return nil, fmt.Errorf("kv: empty command")
	}
}

func (c *Command) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["Set"]; ok {
		var pair [2]string
		if err := json.Unmarshal(v, &pair); err != nil {
			return err
		}
		c.Set = &SetArgs{Key: pair[0], Value: pair[1]}
		return nil
	}
	if v, ok := raw["Get"]; ok {
		var key string
		if err := json.Unmarshal(v, &key); err != nil {
			return err
		}
		c.Get = &key
		return nil
	}
	if v, ok := raw["Delete"]; ok {
		var key string
		if err := json.Unmarshal(v, &key); err != nil {
			return err
		}
		c.Delete = &key
		return nil
	}
	return fmt.Errorf("kv: unrecognized command %s", data)
}

// Store is an in-memory key/value map driven entirely through the Raft
// commit/apply loop: both reads and writes are Raft commands, so every
// client sees a linearizable view with no separate read path.
type Store struct {
	mu   sync.RWMutex
	data map[string]string
}

func New() *Store {
	return &Store{data: make(map[string]string)}
}

func (s *Store) Visit(json.RawMessage) {
	// The KV store never needs eager, pre-commit visibility.
}

func (s *Store) Apply(message json.RawMessage) (interface{}, error) {
	var cmd Command
	if err := json.Unmarshal(message, &cmd); err != nil {
		return nil, err
	}

	switch {
	case cmd.Set != nil:
		s.mu.Lock()
		s.data[cmd.Set.Key] = cmd.Set.Value
		s.mu.Unlock()
		return nil, nil

	case cmd.Get != nil:
		s.mu.RLock()
		value, ok := s.data[*cmd.Get]
		s.mu.RUnlock()
		if !ok {
			return nil, nil
		}
		return value, nil

	case cmd.Delete != nil:
		s.mu.Lock()
		delete(s.data, *cmd.Delete)
		s.mu.Unlock()
		return nil, nil

	default:
		return nil, fmt.Errorf("kv: empty command")
	}
}

// CLI builds a Command from `client` subcommand arguments: `set key value`,
// `get key`, or `delete key`.
func (s *Store) CLI(args []string) (json.RawMessage, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("kv: usage: set <key> <value> | get <key> | delete <key>")
	}

	var cmd Command
	switch args[0] {
	case "set":
		if len(args) != 3 {
			return nil, fmt.Errorf("kv: usage: set <key> <value>")
		}
		cmd.Set = &SetArgs{Key: args[1], Value: args[2]}
	case "get":
		if len(args) != 2 {
			return nil, fmt.Errorf("kv: usage: get <key>")
		}
		cmd.Get = &args[1]
	case "delete":
		if len(args) != 2 {
			return nil, fmt.Errorf("kv: usage: delete <key>")
		}
		cmd.Delete = &args[1]
	default:
		return nil, fmt.Errorf("kv: unknown subcommand %q", args[0])
	}

	return json.Marshal(cmd)
}
