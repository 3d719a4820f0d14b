// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTFTPReadRequestRaisesExpectation(t *testing.T) {
	h := tftpHelper{}
	conn := &Connection{fwd: keyNode{key: tcpKey("10.0.0.1", "10.0.0.2", 50000, 69), dir: DirFwd}}
	conn.fwd.conn = conn

	payload := []byte{0, tftpOpRRQ, 'f', 'i', 'l', 'e', 0, 'o', 'c', 't', 'e', 't', 0}
	res, err := h.inspect(conn, DirFwd, payload, netip.Addr{}, false)
	require.NoError(t, err)
	require.Len(t, res.Expectations, 1)

	exp := res.Expectations[0]
	assert.Equal(t, L4UDP, exp.Key.L4)
	assert.Equal(t, netip.MustParseAddr("10.0.0.2"), exp.Key.Src.Addr)
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), exp.Key.Dst.Addr)
	assert.Equal(t, uint16(50000), exp.Key.Dst.Port)
	assert.Nil(t, res.Rewritten)
}

func TestTFTPIgnoresReplyDirection(t *testing.T) {
	h := tftpHelper{}
	conn := &Connection{fwd: keyNode{key: tcpKey("10.0.0.1", "10.0.0.2", 50000, 69), dir: DirFwd}}
	conn.fwd.conn = conn

	payload := []byte{0, tftpOpRRQ, 'f', 0, 'o', 0}
	res, err := h.inspect(conn, DirRev, payload, netip.Addr{}, false)
	require.NoError(t, err)
	assert.Empty(t, res.Expectations)
}

func TestTFTPRejectsShortPayload(t *testing.T) {
	h := tftpHelper{}
	conn := &Connection{fwd: keyNode{key: tcpKey("10.0.0.1", "10.0.0.2", 50000, 69), dir: DirFwd}}
	conn.fwd.conn = conn

	_, err := h.inspect(conn, DirFwd, []byte{0}, netip.Addr{}, false)
	assert.ErrorIs(t, err, ErrALGInvalid)
}
