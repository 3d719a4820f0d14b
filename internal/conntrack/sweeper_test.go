// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trackedConn(k Key) *Connection {
	c := &Connection{}
	c.fwd = keyNode{key: k, dir: DirFwd, conn: c}
	return c
}

// TestSweeperTickReclaimsExpired covers invariant 5: once now has reached
// a connection's expiration, the sweeper's next tick of its list removes
// it from the flow table.
func TestSweeperTickReclaimsExpired(t *testing.T) {
	table := NewTable(1)
	zones := newZoneLimits()
	expect := newExpectTable()
	s := newSweeper(table, zones, expect, time.Hour, nil)

	var reclaimed []*Connection
	s.onReclaim = func(c *Connection) { reclaimed = append(reclaimed, c) }

	expired := trackedConn(tcpKey("10.0.0.1", "10.0.0.2", 1, 2))
	expired.SetExpiration(0)
	alive := trackedConn(tcpKey("10.0.0.3", "10.0.0.4", 3, 4))
	alive.SetExpiration(time.Now().Add(time.Hour).UnixMilli())

	table.Insert(expired)
	table.Insert(alive)
	s.track(expired)
	s.track(alive)

	// track() enrolls both connections into the list one ahead of the
	// ring's current position; the first tick sweeps the (empty) current
	// list and the second reaches the list holding them.
	s.tick(time.Now())
	s.tick(time.Now())

	require.Len(t, reclaimed, 1)
	assert.Same(t, expired, reclaimed[0])
	assert.True(t, expired.Reclaimed())
	assert.False(t, alive.Reclaimed())

	_, _, ok := table.Lookup(expired.Key())
	assert.False(t, ok)
	_, _, ok = table.Lookup(alive.Key())
	assert.True(t, ok)
}

func TestSweeperReclaimIsExactlyOnce(t *testing.T) {
	table := NewTable(1)
	zones := newZoneLimits()
	expect := newExpectTable()
	s := newSweeper(table, zones, expect, time.Hour, nil)

	calls := 0
	s.onReclaim = func(c *Connection) { calls++ }

	conn := trackedConn(tcpKey("10.0.0.1", "10.0.0.2", 1, 2))
	table.Insert(conn)

	s.reclaim(conn)
	s.reclaim(conn)
	assert.Equal(t, 1, calls)
}

func TestSweeperForceExpireAllWithFilter(t *testing.T) {
	table := NewTable(1)
	zones := newZoneLimits()
	expect := newExpectTable()
	s := newSweeper(table, zones, expect, time.Hour, nil)

	a := trackedConn(tcpKey("10.0.0.1", "10.0.0.2", 1, 2))
	b := trackedConn(tcpKey("10.0.0.3", "10.0.0.4", 3, 4))
	table.Insert(a)
	table.Insert(b)
	s.track(a)
	s.track(b)

	targetAddr := a.Key().Src.Addr
	n := s.ForceExpireAll(func(k Key) bool { return k.Src.Addr == targetAddr })
	assert.Equal(t, 1, n)
	assert.True(t, a.Reclaimed())
	assert.False(t, b.Reclaimed())

	// b was re-tracked (not matched by filter) and must still be reachable
	// through a subsequent unconditional flush.
	n = s.ForceExpireAll(nil)
	assert.Equal(t, 1, n)
	assert.True(t, b.Reclaimed())
}
