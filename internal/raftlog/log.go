package raftlog

import "sync"

// AppendRequest is the portion of an AppendEntries RPC the Log needs to
// decide whether to accept and how to merge an incoming batch.
type AppendRequest struct {
	PreviousLogIndex uint64
	PreviousLogTerm  uint64
	Entries          []Entry
}

// Log is the ordered, append-only, 1-based sequence of entries. It has no
// compaction: entries live forever (snapshotting is an explicit Non-goal),
// so array position i always corresponds to Index i+1.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
}

func New() *Log {
	return &Log{}
}

// NewFromEntries rehydrates a Log from a persisted entry slice, as loaded by
// the persistence layer on resume.
func NewFromEntries(entries []Entry) *Log {
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	return &Log{entries: cp}
}

// ContainsTermAtIndex is the previous-entry predicate used by AppendEntries:
// true when index is 0 (the "no previous entry" sentinel) or when the entry
// at index exists and carries term.
func (l *Log) ContainsTermAtIndex(term, index uint64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.containsTermAtIndexLocked(term, index)
}

func (l *Log) containsTermAtIndexLocked(term, index uint64) bool {
	if index == 0 {
		return true
	}
	e, ok := l.entryAtLocked(index)
	return ok && e.Term == term
}

// Append applies an AppendEntries batch. It returns false (and makes no
// change) if the previous-entry predicate fails. On success it truncates at
// the first conflicting index, if any, then appends every entry whose index
// exceeds the (possibly just-truncated) last index -- so retransmission of
// an already-applied batch is a no-op (Idempotent Append).
func (l *Log) Append(req AppendRequest) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.containsTermAtIndexLocked(req.PreviousLogTerm, req.PreviousLogIndex) {
		return false
	}

	if conflict := l.firstConflictingIndexLocked(req.Entries); conflict != 0 {
		l.truncateAtLocked(conflict)
	}

	last := l.lastIndexLocked()
	for _, e := range req.Entries {
		if e.Index > last {
			l.entries = append(l.entries, e)
			last = e.Index
		}
	}
	return true
}

// ClientAppend assigns the next index to message and appends it, returning
// the new entry's identity.
func (l *Log) ClientAppend(term uint64, message Message) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{
		Index:   l.lastIndexLocked() + 1,
		Term:    term,
		Message: message,
	}
	l.entries = append(l.entries, entry)
	return entry
}

// EntriesStartingAt returns the suffix of the log starting at index i, or
// nil when i is zero or exceeds the last index (heartbeat case).
func (l *Log) EntriesStartingAt(i uint64) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if i == 0 {
		return nil
	}
	last := l.lastIndexLocked()
	if i > last {
		return nil
	}
	pos := int(i - 1)
	out := make([]Entry, len(l.entries)-pos)
	copy(out, l.entries[pos:])
	return out
}

// PreviousEntryTo returns the entry at i-1, or nothing when i < 2.
func (l *Log) PreviousEntryTo(i uint64) (Entry, bool) {
	if i < 2 {
		return Entry{}, false
	}
	return l.EntryAt(i - 1)
}

// LastIndexInTerm reverse-scans for the highest index whose entry carries
// term t, returning 0 if no such entry exists.
func (l *Log) LastIndexInTerm(t uint64) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Term == t {
			return l.entries[i].Index
		}
	}
	return 0
}

func (l *Log) firstConflictingIndexLocked(entries []Entry) uint64 {
	for _, e := range entries {
		if existing, ok := l.entryAtLocked(e.Index); ok && existing.Term != e.Term {
			return e.Index
		}
	}
	return 0
}

// truncateAtLocked removes every entry with index >= index.
func (l *Log) truncateAtLocked(index uint64) {
	if index == 0 || len(l.entries) == 0 {
		return
	}
	pos := int(index - 1)
	if pos < len(l.entries) {
		l.entries = l.entries[:pos]
	}
}

func (l *Log) EntryAt(index uint64) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entryAtLocked(index)
}

func (l *Log) entryAtLocked(index uint64) (Entry, bool) {
	if index == 0 {
		return Entry{}, false
	}
	pos := int(index - 1)
	if pos < 0 || pos >= len(l.entries) {
		return Entry{}, false
	}
	return l.entries[pos], true
}

func (l *Log) LastIndex() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastIndexLocked()
}

func (l *Log) lastIndexLocked() uint64 {
	if len(l.entries) == 0 {
		return 0
	}
	return l.entries[len(l.entries)-1].Index
}

func (l *Log) LastTerm() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return 0
	}
	return l.entries[len(l.entries)-1].Term
}

// Entries returns a defensive copy of the full log, for persistence.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}
