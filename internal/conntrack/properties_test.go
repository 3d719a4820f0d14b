// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import (
	"fmt"
	"math/rand"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomKey(r *rand.Rand) Key {
	addr := func() netip.Addr {
		var b [4]byte
		r.Read(b[:])
		return netip.AddrFrom4(b)
	}
	l4 := []L4Proto{L4TCP, L4UDP, L4SCTP}[r.Intn(3)]
	return Key{
		Src:  Endpoint{Addr: addr(), Port: uint16(r.Intn(65535) + 1)},
		Dst:  Endpoint{Addr: addr(), Port: uint16(r.Intn(65535) + 1)},
		L3:   L3IPv4,
		L4:   l4,
		Zone: uint16(r.Intn(16)),
	}
}

// TestPropertySymmetricHash verifies invariant 1: hash(K) == hash(reverse(K)).
func TestPropertySymmetricHash(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		k := randomKey(r)
		basis := r.Uint64()
		assert.Equal(t, keyHash(k, basis), keyHash(k.Reverse(), basis),
			"iteration %d: key %+v", i, k)
	}
}

// TestPropertyReverseStability verifies invariant 2: reverse(reverse(K)) == K.
func TestPropertyReverseStability(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 500; i++ {
		k := randomKey(r)
		assert.Equal(t, k, k.Reverse().Reverse(), "iteration %d", i)
	}
}

// TestPropertyKeyUniqueness verifies invariant 3: no two live connections in
// the same zone share any of their (fwd/rev) keys once inserted.
func TestPropertyKeyUniqueness(t *testing.T) {
	table := NewTable(7)
	r := rand.New(rand.NewSource(3))

	seen := make(map[Key]bool)
	inserted := 0
	for i := 0; i < 200; i++ {
		k := randomKey(r)
		if seen[k] || seen[k.Reverse()] {
			continue
		}
		if _, _, ok := table.Lookup(k); ok {
			continue
		}
		conn := &Connection{fwd: keyNode{key: k, dir: DirFwd}}
		conn.fwd.conn = conn
		table.Insert(conn)
		seen[k] = true
		inserted++
	}
	assert.Equal(t, inserted, table.Len())
}

// TestPropertyNATReverseUnique verifies invariant 4: after a successful NAT
// allocation, no other live connection collides on the new reverse key.
func TestPropertyNATReverseUnique(t *testing.T) {
	table := NewTable(9)
	a := natAllocator{table: table}
	directive := NATDirective{
		Action:  NATActionSrc,
		MinAddr: netip.MustParseAddr("203.0.113.0"),
		MaxAddr: netip.MustParseAddr("203.0.113.255"),
	}

	seen := make(map[Key]bool)
	for i := 0; i < 50; i++ {
		orig := tcpKey("192.168.1.1", "93.184.216.34", uint16(30000+i), 443)
		rev, err := a.allocate(orig, directive)
		require.NoError(t, err)
		require.False(t, seen[rev], "reverse key %+v collided with a prior allocation", rev)
		seen[rev] = true

		conn := &Connection{natActive: true}
		conn.fwd = keyNode{key: orig, dir: DirFwd, conn: conn}
		conn.rev = keyNode{key: rev, dir: DirRev, conn: conn}
		table.Insert(conn)
	}
}

// TestPropertyExpectationConsumption verifies invariant 8: the first
// matching packet creates a child flow with alg_related and the parent key
// carried over, and the expectation is removed from the table.
func TestPropertyExpectationConsumption(t *testing.T) {
	tr, cancel := testTracker(t)
	defer cancel()

	parentKey := tcpKey("10.0.0.1", "198.51.100.1", 2000, 21)
	exp := &Expectation{
		Key:             tcpKey("198.51.100.1", "10.0.0.1", 0, 5120),
		SrcAddrWildcard: false,
		ParentKey:       parentKey,
		ParentMark:      0xAB,
	}
	tr.expect.Add(exp)

	childKey := tcpKey("198.51.100.1", "10.0.0.1", 20, 5120)
	matched, ok := tr.expect.Match(childKey)
	require.True(t, ok)
	assert.Equal(t, parentKey, matched.ParentKey)

	tr.expect.Remove(matched)
	_, ok = tr.expect.Match(childKey)
	assert.False(t, ok, "expectation must be consumed exactly once")
}

func TestPropertyHashDistributionSanity(t *testing.T) {
	// Not a correctness property, just a guard against a degenerate hash
	// that maps every key to shard 0.
	r := rand.New(rand.NewSource(4))
	shards := make(map[uint64]bool)
	for i := 0; i < 200; i++ {
		k := randomKey(r)
		shards[keyHash(k, 99)%shardCount] = true
	}
	assert.Greater(t, len(shards), 1, fmt.Sprintf("saw only %d distinct shards across 200 random keys", len(shards)))
}
