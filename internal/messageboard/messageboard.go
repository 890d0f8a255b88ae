// Package messageboard implements the per-entry rendezvous that delivers an
// apply-result back to the client goroutine waiting on it. A client handler
// registers a receiver before the RPC response is sent; the commit path
// posts the result once the entry is durably applied.
package messageboard

import "sync"

// Result is whatever the state machine's Apply produced, together with the
// error Apply returned, if any.
type Result struct {
	Value interface{}
	Err   error
}

type key struct {
	term  uint64
	index uint64
}

// MessageBoard maps (term, index) to a one-shot channel. Entries are evicted
// as soon as a result is posted, so the map never grows past the number of
// currently-outstanding client requests.
type MessageBoard struct {
	mu   sync.Mutex
	subs map[key]chan Result
}

func New() *MessageBoard {
	return &MessageBoard{subs: make(map[key]chan Result)}
}

// Register creates a buffered receiver for (term, index). Callers must only
// call this while they are the leader and about to wait for the result; it
// must be called before releasing the lock that guards the commit path, so
// no post can race ahead of the registration.
func (b *MessageBoard) Register(term, index uint64) <-chan Result {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Result, 1)
	b.subs[key{term, index}] = ch
	return ch
}

// Forget cancels a registration without posting, used when a waiter gives up
// (context cancellation) before the entry commits.
func (b *MessageBoard) Forget(term, index uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, key{term, index})
}

// Post delivers result to the waiter registered at (term, index), if any,
// and evicts the entry. It never blocks: a waiter that isn't listening
// (already timed out, or this node never had one -- the common case on
// followers) simply misses the post.
func (b *MessageBoard) Post(term, index uint64, result Result) {
	b.mu.Lock()
	ch, ok := b.subs[key{term, index}]
	if ok {
		delete(b.subs, key{term, index})
	}
	b.mu.Unlock()

	if !ok {
		return
	}
	select {
	case ch <- result:
	default:
	}
}
