// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOtherHandlerEscalatesOnceBothDirectionsSeen(t *testing.T) {
	h := otherHandler{}
	policy := DefaultTimeoutPolicy()
	conn := &Connection{}

	assert.True(t, h.validNew(&protoPacket{L4: L4UDP}))
	conn.SetExpiration(h.newConn(conn, &protoPacket{L4: L4UDP}, policy, 0))
	assert.True(t, conn.other.SeenFwd)
	assert.False(t, conn.other.SeenRev)

	exp1, valid := h.update(conn, &protoPacket{L4: L4UDP}, false, policy, 1)
	assert.True(t, valid)
	assert.Equal(t, 1+policy.UDP.Unreplied, exp1)

	exp2, valid := h.update(conn, &protoPacket{L4: L4UDP}, true, policy, 2)
	assert.True(t, valid)
	assert.True(t, conn.other.SeenRev)
	assert.Equal(t, 2+policy.UDP.Established, exp2)
}

func TestOtherHandlerSCTPUsesICMPTimeoutOnNewConn(t *testing.T) {
	h := otherHandler{}
	policy := DefaultTimeoutPolicy()
	conn := &Connection{}
	exp := h.newConn(conn, &protoPacket{L4: L4SCTP}, policy, 5)
	assert.Equal(t, 5+policy.ICMP, exp)
}

func TestIcmpHandlerRejectsErrorAsNew(t *testing.T) {
	h := icmpHandler{}
	assert.False(t, h.validNew(&protoPacket{ICMPIsError: true}))
	assert.True(t, h.validNew(&protoPacket{ICMPIsError: false}))
}

func TestIcmpHandlerMarksReplied(t *testing.T) {
	h := icmpHandler{}
	policy := DefaultTimeoutPolicy()
	conn := &Connection{}

	conn.SetExpiration(h.newConn(conn, &protoPacket{}, policy, 0))
	_, valid := h.update(conn, &protoPacket{}, true, policy, 1)
	assert.True(t, valid)
	assert.True(t, conn.icmp.RepliedTo)
}
