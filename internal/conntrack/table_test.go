// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tcpKey(src, dst string, srcPort, dstPort uint16) Key {
	return Key{
		Src: Endpoint{Addr: netip.MustParseAddr(src), Port: srcPort},
		Dst: Endpoint{Addr: netip.MustParseAddr(dst), Port: dstPort},
		L3:  L3IPv4,
		L4:  L4TCP,
	}
}

func TestTableLookupReverseDirection(t *testing.T) {
	table := NewTable(1)
	k := tcpKey("10.0.0.1", "10.0.0.2", 1234, 80)
	conn := &Connection{fwd: keyNode{key: k, dir: DirFwd}}
	conn.fwd.conn = conn
	table.Insert(conn)

	found, dir, ok := table.Lookup(k)
	require.True(t, ok)
	assert.Same(t, conn, found)
	assert.Equal(t, DirFwd, dir)

	found, dir, ok = table.Lookup(k.Reverse())
	require.True(t, ok)
	assert.Same(t, conn, found)
	assert.Equal(t, DirRev, dir)
}

func TestTableLookupNATReverse(t *testing.T) {
	table := NewTable(1)
	fwdKey := tcpKey("10.0.0.1", "93.184.216.34", 40000, 80)
	revKey := tcpKey("93.184.216.34", "203.0.113.5", 80, 40000)

	conn := &Connection{natActive: true}
	conn.fwd = keyNode{key: fwdKey, dir: DirFwd, conn: conn}
	conn.rev = keyNode{key: revKey, dir: DirRev, conn: conn}
	table.Insert(conn)

	_, dir, ok := table.Lookup(fwdKey)
	require.True(t, ok)
	assert.Equal(t, DirFwd, dir)

	_, dir, ok = table.Lookup(revKey)
	require.True(t, ok)
	assert.Equal(t, DirRev, dir)

	// The unrewritten reverse (byte-swap of fwdKey) must NOT match once
	// NAT has replaced it with revKey.
	_, _, ok = table.Lookup(fwdKey.Reverse())
	assert.False(t, ok)
}

func TestTableRemoveIsIdempotent(t *testing.T) {
	table := NewTable(1)
	k := tcpKey("10.0.0.1", "10.0.0.2", 1234, 80)
	conn := &Connection{fwd: keyNode{key: k, dir: DirFwd}}
	conn.fwd.conn = conn
	table.Insert(conn)
	assert.Equal(t, 1, table.Len())

	table.Remove(conn)
	table.Remove(conn)
	assert.Equal(t, 0, table.Len())

	_, _, ok := table.Lookup(k)
	assert.False(t, ok)
}

func TestTableLookupReclaimed(t *testing.T) {
	table := NewTable(1)
	k := tcpKey("10.0.0.1", "10.0.0.2", 1234, 80)
	conn := &Connection{fwd: keyNode{key: k, dir: DirFwd}}
	conn.fwd.conn = conn
	table.Insert(conn)

	assert.True(t, conn.MarkReclaimed())
	_, _, ok := table.Lookup(k)
	assert.False(t, ok, "a reclaimed connection must never be visible to a new lookup")
}
