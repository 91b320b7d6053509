package blocklist

import (
	"context"
	"sort"
	"sync"
)

// Blocklist answers whether a host is blocked. The coordinator holds the
// authoritative Set; workers hold a Client that asks the coordinator.
type Blocklist interface {
	IsBlocked(ctx context.Context, host string) (bool, error)
}

// Editor is the mutation surface driven by the operator console
type Editor interface {
	Add(host string)
	Remove(host string)
	List() []string
}

// Set is the in-memory set of blocked hostnames.
// Membership is an exact string match: no case folding, no suffix matching.
type Set struct {
	hosts map[string]struct{}
	mu    sync.RWMutex
}

var (
	_ Blocklist = (*Set)(nil)
	_ Editor    = (*Set)(nil)
)

// NewSet creates an empty blocklist
func NewSet() *Set {
	return &Set{hosts: make(map[string]struct{})}
}

// Has reports whether host is in the set
func (s *Set) Has(host string) bool {
	s.mu.RLock()
	_, ok := s.hosts[host]
	s.mu.RUnlock()
	return ok
}

// IsBlocked implements Blocklist; the local set never fails
func (s *Set) IsBlocked(_ context.Context, host string) (bool, error) {
	return s.Has(host), nil
}

// Add blocks host. Adding an existing host is a no-op.
func (s *Set) Add(host string) {
	s.mu.Lock()
	s.hosts[host] = struct{}{}
	s.mu.Unlock()
}

// Remove unblocks host. Removing an unknown host is a no-op.
func (s *Set) Remove(host string) {
	s.mu.Lock()
	delete(s.hosts, host)
	s.mu.Unlock()
}

// List returns the blocked hosts in lexical order
func (s *Set) List() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.hosts))
	for h := range s.hosts {
		out = append(out, h)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Len returns the number of blocked hosts
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.hosts)
}
