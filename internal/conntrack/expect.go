// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import (
	"net/netip"
	"sync"
)

// expectTable holds expectations raised by ALG helpers (spec.md §4.6): a
// parent control connection (an FTP/TFTP control channel) announces a
// child data connection it expects to see soon, wildcarding the fields the
// parent cannot predict (typically the passive side's source port).
//
// Lookups happen on the primary index (by child key, source port masked
// out when SrcAddrWildcard's sibling wildcard applies); the secondary
// index lets a parent connection's expectations be cleared in bulk when
// the parent itself expires.
type expectTable struct {
	mu          sync.RWMutex
	byChild     map[Key]*Expectation
	byParent    map[Key][]*Expectation
}

func newExpectTable() *expectTable {
	return &expectTable{
		byChild:  make(map[Key]*Expectation),
		byParent: make(map[Key][]*Expectation),
	}
}

// Add registers exp, indexed by its (possibly wildcarded) child key.
func (t *expectTable) Add(exp *Expectation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byChild[wildcardedChildKey(exp)] = exp
	t.byParent[exp.ParentKey] = append(t.byParent[exp.ParentKey], exp)
}

// Match looks up an expectation for an observed packet key. The source
// port is always wildcarded (an allocator cannot predict the passive
// side's ephemeral port); the source address is additionally wildcarded
// only for helpers that registered with SrcAddrWildcard.
func (t *expectTable) Match(k Key) (*Expectation, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	wild := k
	wild.Src.Port = 0
	if exp, ok := t.byChild[wild]; ok {
		return exp, true
	}
	wild.Src.Addr = netip.Addr{}
	exp, ok := t.byChild[wild]
	return exp, ok
}

// RemoveForParent deletes every expectation raised by parentKey (invoked
// when the parent control connection is reclaimed).
func (t *expectTable) RemoveForParent(parentKey Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, exp := range t.byParent[parentKey] {
		delete(t.byChild, wildcardedChildKey(exp))
	}
	delete(t.byParent, parentKey)
}

// Remove deletes a single expectation once its child connection has been
// created (an expectation is consumed exactly once).
func (t *expectTable) Remove(exp *Expectation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byChild, wildcardedChildKey(exp))
	list := t.byParent[exp.ParentKey]
	for i, e := range list {
		if e == exp {
			t.byParent[exp.ParentKey] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

func wildcardedChildKey(exp *Expectation) Key {
	k := exp.Key
	k.Src.Port = 0
	if exp.SrcAddrWildcard {
		k.Src.Addr = netip.Addr{}
	}
	return k
}
