// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

// icmpHandler implements the single request/reply pairing spec.md §4.3
// describes for ICMP echo-like flows: a new connection tracks one
// outstanding request and expires quickly once the matching reply (or
// nothing) arrives.
type icmpHandler struct{}

func (icmpHandler) validNew(pkt *protoPacket) bool {
	return !pkt.ICMPIsError
}

func (icmpHandler) newConn(conn *Connection, pkt *protoPacket, policy TimeoutPolicy, nowMs int64) int64 {
	return nowMs + policy.ICMP
}

func (icmpHandler) update(conn *Connection, pkt *protoPacket, reply bool, policy TimeoutPolicy, nowMs int64) (int64, bool) {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	if reply {
		conn.icmp.RepliedTo = true
	}
	// A reply closes out the exchange quickly; an unanswered request
	// keeps the same short timeout alive.
	if conn.icmp.RepliedTo {
		return nowMs + policy.ICMP, true
	}
	return nowMs + policy.ICMP, true
}
