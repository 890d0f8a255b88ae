// Package servers implements the membership sub-state-machine: the
// authoritative set of cluster members, plus the simplified joint-consensus
// protocol that lets a configuration change take effect as soon as it is
// observed in the log (Visit) and stabilize on commit (Apply).
package servers

import (
	"sort"
	"sync"

	"github.com/raftkit/yari/internal/raftlog"
)

// Servers tracks the committed membership (stable) and, eagerly, whatever
// membership a not-yet-applied ServerConfigChange implies (active). Active
// is what quorum math and election eligibility use; stable is what a fresh
// ServerConfigChange is built from.
type Servers struct {
	mu      sync.RWMutex
	stable  map[string]struct{}
	active  map[string]struct{}
	pending *raftlog.ServerConfigChange
}

func New(selfID string) *Servers {
	s := &Servers{
		stable: map[string]struct{}{selfID: {}},
	}
	s.active = cloneSet(s.stable)
	return s
}

func cloneSet(m map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

func setToSortedSlice(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Contains reports whether id is part of the currently active membership.
func (s *Servers) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.active[id]
	return ok
}

// Members returns the currently active membership, sorted for determinism.
func (s *Servers) Members() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return setToSortedSlice(s.active)
}

// HasPending reports whether a membership change is in flight (visited but
// not yet applied). The leader must refuse a new member_add/member_remove
// while this holds, per the joint-consensus safety note in the design.
func (s *Servers) HasPending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending != nil
}

// MemberAdd builds (but does not append or apply) the ServerConfigChange
// that would add id to the cluster.
func (s *Servers) MemberAdd(id string) raftlog.ServerConfigChange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	current := setToSortedSlice(s.stable)
	next := append(append([]string{}, current...), id)
	sort.Strings(next)
	return raftlog.ServerConfigChange{Current: current, New: next}
}

// MemberRemove builds the ServerConfigChange that would remove id.
func (s *Servers) MemberRemove(id string) raftlog.ServerConfigChange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	current := setToSortedSlice(s.stable)
	next := make([]string, 0, len(current))
	for _, m := range current {
		if m != id {
			next = append(next, m)
		}
	}
	return raftlog.ServerConfigChange{Current: current, New: next}
}

// Visit is called as a ServerConfigChange entry is first observed in the
// log, committed or not: it sets the active membership to current ∪ new
// (when new is present) so brand-new members can vote immediately.
func (s *Servers) Visit(scc raftlog.ServerConfigChange) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = &scc
	union := make(map[string]struct{}, len(scc.Current)+len(scc.New))
	for _, id := range scc.Current {
		union[id] = struct{}{}
	}
	if len(scc.New) > 0 {
		for _, id := range scc.New {
			union[id] = struct{}{}
		}
	}
	s.active = union
}

// Apply is called at commit. If New is present, it stabilizes membership to
// New and returns a follow-up ServerConfigChange{Current: New} for the
// leader to append (completing the joint-consensus transition). If New is
// absent, membership is already current; Apply clears the pending marker
// and returns nil.
func (s *Servers) Apply(scc raftlog.ServerConfigChange) *raftlog.ServerConfigChange {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = nil

	if len(scc.New) > 0 {
		stable := make(map[string]struct{}, len(scc.New))
		for _, id := range scc.New {
			stable[id] = struct{}{}
		}
		s.stable = stable
		s.active = cloneSet(stable)
		return &raftlog.ServerConfigChange{Current: append([]string{}, scc.New...)}
	}

	stable := make(map[string]struct{}, len(scc.Current))
	for _, id := range scc.Current {
		stable[id] = struct{}{}
	}
	s.stable = stable
	s.active = cloneSet(stable)
	return nil
}
