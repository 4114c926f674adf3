package acl

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gregLibert/cardsec/pkg/log"
)

// Registry owns the compiled policy of every card slot. The file of slot N
// is <dir>/acl_<N>. Policies are loaded on first use and shared read-only by
// all connections to the slot.
type Registry struct {
	dir string

	mu    sync.Mutex
	slots map[int]*slotPolicy
}

type slotPolicy struct {
	// mu serializes loads and reloads of the slot.
	mu      sync.Mutex
	current atomic.Pointer[loaded]
}

type loaded struct {
	policy *Policy
	err    error
}

// NewRegistry returns a registry reading policy files from dir.
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir, slots: map[int]*slotPolicy{}}
}

// Path returns the policy file of slot.
func (r *Registry) Path(slot int) string {
	return filepath.Join(r.dir, fmt.Sprintf("acl_%d", slot))
}

func (r *Registry) slot(slot int) *slotPolicy {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[slot]
	if !ok {
		s = &slotPolicy{}
		r.slots[slot] = s
	}
	return s
}

// Load returns the policy of slot, reading its file the first time. A missing
// or malformed file leaves the slot with the deny-all policy; the policy is
// still returned, along with the error that caused the fallback, and later
// calls keep returning both until Reload.
func (r *Registry) Load(slot int) (*Policy, error) {
	s := r.slot(slot)
	if l := s.current.Load(); l != nil {
		return l.policy, l.err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l := s.current.Load(); l != nil {
		return l.policy, l.err
	}
	return r.read(slot, s)
}

// Reload re-reads the policy file of slot and swaps it in atomically.
// Permission checks running concurrently see either the old or the new
// policy, never a mix.
func (r *Registry) Reload(slot int) (*Policy, error) {
	s := r.slot(slot)
	s.mu.Lock()
	defer s.mu.Unlock()
	return r.read(slot, s)
}

// Policy returns the current policy of slot without touching the file
// system. A slot never loaded gets the deny-all policy.
func (r *Registry) Policy(slot int) *Policy {
	if l := r.slot(slot).current.Load(); l != nil {
		return l.policy
	}
	return DenyAll()
}

func (r *Registry) read(slot int, s *slotPolicy) (*Policy, error) {
	path := r.Path(slot)
	p, err := ParseFile(path)
	if err != nil {
		log.Warning(fmt.Sprintf("acl: slot %d: %v; denying every request", slot, err))
		p = DenyAll()
	} else {
		log.Info(fmt.Sprintf("acl: slot %d: loaded %d acl(s) and %d pin(s) from %s", slot, len(p.ACLs), len(p.PINs), path))
	}
	s.current.Store(&loaded{policy: p, err: err})
	return p, err
}
