// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTCPHandlerHandshake(t *testing.T) {
	h := tcpHandler{}
	policy := DefaultTimeoutPolicy()
	conn := &Connection{}

	syn := &protoPacket{TCPFlags: tcpFlagSYN, TCPSeq: 100}
	assert.True(t, h.validNew(syn))
	conn.SetExpiration(h.newConn(conn, syn, policy, 0))
	assert.Equal(t, TCPStateSynSent, conn.tcp.State)

	synack := &protoPacket{TCPFlags: tcpFlagSYN | tcpFlagACK, TCPSeq: 500}
	_, valid := h.update(conn, synack, true, policy, 1)
	assert.True(t, valid)
	assert.Equal(t, TCPStateSynRecv, conn.tcp.State)

	ack := &protoPacket{TCPFlags: tcpFlagACK, TCPSeq: 101}
	_, valid = h.update(conn, ack, false, policy, 2)
	assert.True(t, valid)
	assert.Equal(t, TCPStateEstablished, conn.tcp.State)
}

func TestTCPHandlerFinTeardown(t *testing.T) {
	h := tcpHandler{}
	policy := DefaultTimeoutPolicy()
	conn := &Connection{}
	conn.tcp.State = TCPStateEstablished

	fin := &protoPacket{TCPFlags: tcpFlagFIN | tcpFlagACK, TCPSeq: 1000}
	_, valid := h.update(conn, fin, false, policy, 0)
	assert.True(t, valid)
	assert.Equal(t, TCPStateFinWait, conn.tcp.State)

	finBack := &protoPacket{TCPFlags: tcpFlagFIN | tcpFlagACK, TCPSeq: 2000}
	_, valid = h.update(conn, finBack, true, policy, 1)
	assert.True(t, valid)
	assert.Equal(t, TCPStateCloseWait, conn.tcp.State)

	// CloseWait advances to LastAck on the next packet regardless of its
	// flags; it is the following ACK that finally reaches TimeWait.
	finalAck := &protoPacket{TCPFlags: tcpFlagACK, TCPSeq: 1001}
	_, valid = h.update(conn, finalAck, false, policy, 2)
	assert.True(t, valid)
	assert.Equal(t, TCPStateLastAck, conn.tcp.State)

	_, valid = h.update(conn, finalAck, false, policy, 3)
	assert.True(t, valid)
	assert.Equal(t, TCPStateTimeWait, conn.tcp.State)
}

func TestTCPHandlerRST(t *testing.T) {
	h := tcpHandler{}
	policy := DefaultTimeoutPolicy()
	conn := &Connection{}
	conn.tcp.State = TCPStateEstablished

	rst := &protoPacket{TCPFlags: tcpFlagRST}
	_, valid := h.update(conn, rst, false, policy, 0)
	assert.True(t, valid)
	assert.Equal(t, TCPStateClose, conn.tcp.State)
}

func TestTCPHandlerValidNewRejectsBareAck(t *testing.T) {
	h := tcpHandler{}
	assert.False(t, h.validNew(&protoPacket{TCPFlags: tcpFlagACK}))
}

// TestTCPHandlerWindowCheckBootstrap covers the first segment observed from
// a peer: with no prior MaxSeqSent/MaxWindow to validate against, it always
// passes regardless of SeqChk.
func TestTCPHandlerWindowCheckBootstrap(t *testing.T) {
	h := tcpHandler{}
	policy := DefaultTimeoutPolicy()
	conn := &Connection{}
	conn.tcp.State = TCPStateSynSent

	synack := &protoPacket{TCPFlags: tcpFlagSYN | tcpFlagACK, TCPSeq: 9000, TCPWindow: 4096, SeqChk: true}
	_, valid := h.update(conn, synack, true, policy, 0)
	assert.True(t, valid)
	assert.Equal(t, uint32(9000), conn.tcp.Reply.MaxSeqSent)
}

// TestTCPHandlerWindowCheckRejectsOutOfWindow covers spec.md §4.3's
// right/left-edge validation: a segment whose sequence number falls outside
// [max_seq-max_window, max_ack+max_window] is rejected when SeqChk is set.
func TestTCPHandlerWindowCheckRejectsOutOfWindow(t *testing.T) {
	h := tcpHandler{}
	policy := DefaultTimeoutPolicy()
	conn := &Connection{}
	conn.tcp.State = TCPStateEstablished
	conn.tcp.Orig.MaxSeqSent = 10000
	conn.tcp.Orig.MaxAckSeen = 10000
	conn.tcp.Orig.MaxWindow = 1000

	// Miles outside the window on either edge.
	tooLow := &protoPacket{TCPFlags: tcpFlagACK, TCPSeq: 100, TCPAck: 10000, SeqChk: true}
	_, valid := h.update(conn, tooLow, false, policy, 0)
	assert.False(t, valid)

	tooHigh := &protoPacket{TCPFlags: tcpFlagACK, TCPSeq: 50000, TCPAck: 10000, SeqChk: true}
	_, valid = h.update(conn, tooHigh, false, policy, 0)
	assert.False(t, valid)

	inWindow := &protoPacket{TCPFlags: tcpFlagACK, TCPSeq: 10500, TCPAck: 10000, SeqChk: true}
	_, valid = h.update(conn, inWindow, false, policy, 0)
	assert.True(t, valid)
}

// TestTCPHandlerWindowCheckDisabled covers the tcp_seq_chk off switch: an
// out-of-window segment that would otherwise be rejected is admitted once
// SeqChk is false.
func TestTCPHandlerWindowCheckDisabled(t *testing.T) {
	h := tcpHandler{}
	policy := DefaultTimeoutPolicy()
	conn := &Connection{}
	conn.tcp.State = TCPStateEstablished
	conn.tcp.Orig.MaxSeqSent = 10000
	conn.tcp.Orig.MaxAckSeen = 10000
	conn.tcp.Orig.MaxWindow = 1000

	tooLow := &protoPacket{TCPFlags: tcpFlagACK, TCPSeq: 100, TCPAck: 10000, SeqChk: false}
	_, valid := h.update(conn, tooLow, false, policy, 0)
	assert.True(t, valid)
}
