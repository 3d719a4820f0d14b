// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePORT(t *testing.T) {
	addr, port, r, ok := parsePORT([]byte("PORT 10,0,0,1,20,0\r\n"))
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), addr)
	assert.Equal(t, uint16(20*256), port)
	assert.Equal(t, "10,0,0,1,20,0", string([]byte("PORT 10,0,0,1,20,0\r\n")[r[0]:r[1]]))
}

func TestParse227(t *testing.T) {
	addr, port, r, ok := parse227([]byte("227 Entering Passive Mode (198,51,100,1,20,10)\r\n"))
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("198.51.100.1"), addr)
	assert.Equal(t, uint16(20*256+10), port)
	assert.True(t, r[1] > r[0])
}

func TestParseEPRT(t *testing.T) {
	addr, port, _, ok := parseEPRT([]byte("EPRT |1|10.0.0.1|5120|\r\n"))
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), addr)
	assert.Equal(t, uint16(5120), port)
}

func TestParseEPSV(t *testing.T) {
	port, r, ok := parseEPSV([]byte("229 Entering Extended Passive Mode (|||5120|)\r\n"))
	require.True(t, ok)
	assert.Equal(t, uint16(5120), port)
	assert.True(t, r[1] > r[0])
}

// TestFTPActiveRewriteSkew covers scenario S3: a PORT command on a SNAT'd
// control connection is rewritten to the NAT-visible address and the byte
// delta is reported as the sequence skew.
func TestFTPActiveRewriteSkew(t *testing.T) {
	h := ftpHelper{}
	conn := &Connection{fwd: keyNode{key: tcpKey("10.0.0.1", "198.51.100.1", 2000, 21), dir: DirFwd}}
	conn.fwd.conn = conn

	payload := []byte("PORT 10,0,0,1,20,0\r\n")
	natAddr := netip.MustParseAddr("203.0.113.5")
	res, err := h.inspect(conn, DirFwd, payload, natAddr, true)
	require.NoError(t, err)
	require.Len(t, res.Expectations, 1)

	exp := res.Expectations[0]
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), exp.Key.Dst.Addr)
	assert.Equal(t, uint16(20*256), exp.Key.Dst.Port)
	assert.False(t, exp.NATReplaceDst)

	require.NotNil(t, res.Rewritten)
	assert.Contains(t, string(res.Rewritten), "203,0,113,5,20,0")
	// "203,0,113,5" (11 bytes) replaces "10,0,0,1" (8 bytes): delta +3.
	assert.Equal(t, int32(3), res.SkewDelta)
}

func TestFTPPassiveNoNATNoRewrite(t *testing.T) {
	h := ftpHelper{}
	conn := &Connection{fwd: keyNode{key: tcpKey("10.0.0.1", "198.51.100.1", 2000, 21), dir: DirFwd}}
	conn.fwd.conn = conn

	payload := []byte("227 Entering Passive Mode (198,51,100,1,20,10)\r\n")
	res, err := h.inspect(conn, DirRev, payload, netip.Addr{}, false)
	require.NoError(t, err)
	require.Len(t, res.Expectations, 1)
	assert.True(t, res.Expectations[0].NATReplaceDst)
	assert.Nil(t, res.Rewritten)
}

// TestFTPActiveRejectsBounceAddress covers spec.md §4.5 step 2: a PORT
// command naming a third-party address (neither the control connection's
// client address nor its NAT-replaced view) is a bounce attempt and must
// be rejected rather than raising an expectation toward that host.
func TestFTPActiveRejectsBounceAddress(t *testing.T) {
	h := ftpHelper{}
	conn := &Connection{fwd: keyNode{key: tcpKey("10.0.0.1", "198.51.100.1", 2000, 21), dir: DirFwd}}
	conn.fwd.conn = conn

	payload := []byte("PORT 192,0,2,99,20,0\r\n")
	res, err := h.inspect(conn, DirFwd, payload, netip.Addr{}, false)
	assert.ErrorIs(t, err, ErrALGInvalid)
	assert.Empty(t, res.Expectations)
}

// TestFTPPassiveRejectsBounceAddress is the 227-reply counterpart: the
// server must announce its own (or NAT-replaced) address, not some
// unrelated third host.
func TestFTPPassiveRejectsBounceAddress(t *testing.T) {
	h := ftpHelper{}
	conn := &Connection{fwd: keyNode{key: tcpKey("10.0.0.1", "198.51.100.1", 2000, 21), dir: DirFwd}}
	conn.fwd.conn = conn

	payload := []byte("227 Entering Passive Mode (192,0,2,99,20,10)\r\n")
	res, err := h.inspect(conn, DirRev, payload, netip.Addr{}, false)
	assert.ErrorIs(t, err, ErrALGInvalid)
	assert.Empty(t, res.Expectations)
}

func TestFTPInspectIgnoresUnrelatedPayload(t *testing.T) {
	h := ftpHelper{}
	conn := &Connection{fwd: keyNode{key: tcpKey("10.0.0.1", "198.51.100.1", 2000, 21), dir: DirFwd}}
	conn.fwd.conn = conn

	res, err := h.inspect(conn, DirFwd, []byte("USER anonymous\r\n"), netip.Addr{}, false)
	require.NoError(t, err)
	assert.Empty(t, res.Expectations)
	assert.Nil(t, res.Rewritten)
}
