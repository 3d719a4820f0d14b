// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNATAllocateSNAT(t *testing.T) {
	table := NewTable(1)
	a := natAllocator{table: table}

	orig := tcpKey("192.168.1.5", "93.184.216.34", 51000, 443)
	directive := NATDirective{
		Action:  NATActionSrc,
		MinAddr: netip.MustParseAddr("203.0.113.5"),
		MaxAddr: netip.MustParseAddr("203.0.113.5"),
	}

	rev, err := a.allocate(orig, directive)
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("203.0.113.5"), rev.Dst.Addr)
	assert.Equal(t, orig.Src.Port, rev.Dst.Port, "SNAT without port rewrite keeps the original port")
	assert.Equal(t, orig.Dst.Addr, rev.Src.Addr, "the remote server side is untouched by SNAT")
}

func TestNATAllocatePersistentIsDeterministic(t *testing.T) {
	table := NewTable(1)
	a := natAllocator{table: table}
	orig := tcpKey("192.168.1.5", "93.184.216.34", 51000, 443)
	directive := NATDirective{
		Action:  NATActionSrc | NATActionPersistent,
		MinAddr: netip.MustParseAddr("203.0.113.1"),
		MaxAddr: netip.MustParseAddr("203.0.113.10"),
	}

	rev1, err := a.allocate(orig, directive)
	require.NoError(t, err)
	rev2, err := a.allocate(orig, directive)
	require.NoError(t, err)
	assert.Equal(t, rev1, rev2, "persistent NAT must pick the same tuple for the same original tuple")
}

func TestNATAllocateExhausted(t *testing.T) {
	table := NewTable(1)
	a := natAllocator{table: table}

	addr := netip.MustParseAddr("203.0.113.5")
	directive := NATDirective{
		Action:  NATActionSrc | NATActionSrcPort,
		MinAddr: addr,
		MaxAddr: addr,
		MinPort: 2000,
		MaxPort: 2000,
	}
	orig := tcpKey("192.168.1.5", "93.184.216.34", 51000, 443)

	rev, err := a.allocate(orig, directive)
	require.NoError(t, err)

	conn := &Connection{natActive: true}
	conn.fwd = keyNode{key: orig, dir: DirFwd, conn: conn}
	conn.rev = keyNode{key: rev, dir: DirRev, conn: conn}
	table.Insert(conn)

	orig2 := tcpKey("192.168.1.6", "93.184.216.34", 51000, 443)
	_, err = a.allocate(orig2, directive)
	assert.ErrorIs(t, err, ErrNATExhausted)
}

// TestPortRangeBandsByOriginalSourcePort covers spec.md §4.4 step 4's
// ephemeral port-class banding, mirroring the original's set_sport_range:
// the band is keyed on the original connection's source port when no
// explicit directive range is given.
func TestPortRangeBandsByOriginalSourcePort(t *testing.T) {
	lo, hi := portRange(NATDirective{}, true, 111)
	assert.Equal(t, uint16(1), lo)
	assert.Equal(t, uint16(511), hi)

	lo, hi = portRange(NATDirective{}, true, 800)
	assert.Equal(t, uint16(600), lo)
	assert.Equal(t, uint16(1023), hi)

	lo, hi = portRange(NATDirective{}, true, 50000)
	assert.Equal(t, ephemeralPortMin, lo)
	assert.Equal(t, ephemeralPortMax, hi)
}

// TestPortRangeExplicitDirectiveWins covers the override path: an explicit
// MinPort/MaxPort always beats the port-class banding.
func TestPortRangeExplicitDirectiveWins(t *testing.T) {
	lo, hi := portRange(NATDirective{MinPort: 3000, MaxPort: 3010}, true, 111)
	assert.Equal(t, uint16(3000), lo)
	assert.Equal(t, uint16(3010), hi)
}

// TestPortRangeNoPortRewriteRequested covers the case where no port
// rewrite was requested at all: the band selection is skipped entirely.
func TestPortRangeNoPortRewriteRequested(t *testing.T) {
	lo, hi := portRange(NATDirective{}, false, 111)
	assert.Equal(t, uint16(0), lo)
	assert.Equal(t, uint16(0), hi)
}
