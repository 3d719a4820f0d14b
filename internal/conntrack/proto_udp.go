// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

// otherHandler implements the best-effort liveness tracking spec.md §4.3
// describes for UDP, SCTP, and any other L4 protocol this tracker does not
// give a dedicated FSM: a short timeout until traffic is seen in both
// directions, then a longer one for as long as it continues.
type otherHandler struct{}

func (otherHandler) validNew(pkt *protoPacket) bool {
	return true
}

func (otherHandler) newConn(conn *Connection, pkt *protoPacket, policy TimeoutPolicy, nowMs int64) int64 {
	conn.mu.Lock()
	conn.other.SeenFwd = true
	conn.mu.Unlock()
	timeout := policy.UDP.Unreplied
	if pkt.L4 == L4SCTP || pkt.L4 == L4Other {
		timeout = policy.ICMP
	}
	return nowMs + timeout
}

func (otherHandler) update(conn *Connection, pkt *protoPacket, reply bool, policy TimeoutPolicy, nowMs int64) (int64, bool) {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	if reply {
		conn.other.SeenRev = true
	} else {
		conn.other.SeenFwd = true
	}

	if conn.other.SeenFwd && conn.other.SeenRev {
		return nowMs + policy.UDP.Established, true
	}
	return nowMs + policy.UDP.Unreplied, true
}
