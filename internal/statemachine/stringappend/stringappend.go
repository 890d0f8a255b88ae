// Package stringappend implements a string-append log state machine: every
// applied message is joined text appended to a running string, each
// followed by a newline divider, with the full accumulated state returned as the
// apply-result.
package stringappend

import (
	"encoding/json"
	"strings"
	"sync"
)

const divider = "\n"

// Message wraps the single string to append. It marshals as a bare JSON
// string rather than an object.
type Message string

// Log is the string-append state machine: a single growing string, amended
// on every apply.
type Log struct {
	mu    sync.Mutex
	state string
}

func New() *Log {
	return &Log{}
}

func (l *Log) Visit(json.RawMessage) {
	// No eager visibility needed.
}

func (l *Log) Apply(message json.RawMessage) (interface{}, error) {
	var m Message
	if err := json.Unmarshal(message, &m); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.state += string(m) + divider
	return l.state, nil
}

// CLI joins every argument with a space into a single message.
func (l *Log) CLI(args []string) (json.RawMessage, error) {
	m := Message(strings.Join(args, " "))
	return json.Marshal(m)
}
