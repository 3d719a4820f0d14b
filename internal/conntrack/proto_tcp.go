// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

// tcpHandler implements the TCP state machine (spec.md §4.3). It is a
// simplified variant of RFC 793: both sides' FIN/ACK exchange collapse
// into a single TCPState field rather than independently tracked
// half-close states, matching the level of fidelity the rest of this
// datapath's TCP tracking already uses.
type tcpHandler struct{}

func (tcpHandler) validNew(pkt *protoPacket) bool {
	// A new TCP connection must open with a bare SYN; a mid-stream
	// packet (no table entry) never gets to start tracked state.
	return pkt.TCPFlags&tcpFlagSYN != 0 && pkt.TCPFlags&tcpFlagACK == 0
}

func (tcpHandler) newConn(conn *Connection, pkt *protoPacket, policy TimeoutPolicy, nowMs int64) int64 {
	conn.mu.Lock()
	conn.tcp.State = TCPStateSynSent
	conn.tcp.Orig.MaxSeqSent = pkt.TCPSeq
	conn.tcp.Orig.MaxWindow = uint32(pkt.TCPWindow)
	conn.mu.Unlock()
	return nowMs + policy.TCP.SynSent
}

func (tcpHandler) update(conn *Connection, pkt *protoPacket, reply bool, policy TimeoutPolicy, nowMs int64) (int64, bool) {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	flags := pkt.TCPFlags
	peer := &conn.tcp.Orig
	if reply {
		peer = &conn.tcp.Reply
	}

	// A peer with no prior observed segment has nothing to validate
	// against yet; its first segment always bootstraps the window.
	seen := peer.MaxSeqSent != 0 || peer.MaxWindow != 0
	if pkt.SeqChk && seen {
		win := peer.MaxWindow << peer.WindowScale
		left := peer.MaxSeqSent - win
		right := peer.MaxAckSeen + win
		if !seqInWindow(pkt.TCPSeq, left, right) {
			return nowMs, false
		}
	}

	if seqAfter(pkt.TCPSeq, peer.MaxSeqSent) {
		peer.MaxSeqSent = pkt.TCPSeq
	}
	if flags&tcpFlagACK != 0 && seqAfter(pkt.TCPAck, peer.MaxAckSeen) {
		peer.MaxAckSeen = pkt.TCPAck
	}
	if uint32(pkt.TCPWindow) > peer.MaxWindow {
		peer.MaxWindow = uint32(pkt.TCPWindow)
	}

	if flags&tcpFlagRST != 0 {
		conn.tcp.State = TCPStateClose
		return nowMs + policy.TCP.Close, true
	}

	switch conn.tcp.State {
	case TCPStateSynSent:
		if reply && flags&tcpFlagSYN != 0 && flags&tcpFlagACK != 0 {
			conn.tcp.State = TCPStateSynRecv
			return nowMs + policy.TCP.SynRecv, true
		}
		if !reply && flags&tcpFlagSYN != 0 {
			// Retransmitted SYN; stay put.
			return nowMs + policy.TCP.SynSent, true
		}
		return nowMs + policy.TCP.SynSent, false

	case TCPStateSynRecv:
		if !reply && flags&tcpFlagACK != 0 && flags&tcpFlagSYN == 0 {
			conn.tcp.State = TCPStateEstablished
			return nowMs + policy.TCP.Established, true
		}
		if reply && flags&tcpFlagSYN != 0 {
			// Retransmitted SYN-ACK.
			return nowMs + policy.TCP.SynRecv, true
		}
		return nowMs + policy.TCP.SynRecv, true

	case TCPStateEstablished:
		if flags&tcpFlagFIN != 0 {
			conn.tcp.State = TCPStateFinWait
			return nowMs + policy.TCP.FinWait, true
		}
		return nowMs + policy.TCP.Established, true

	case TCPStateFinWait:
		if flags&tcpFlagFIN != 0 {
			conn.tcp.State = TCPStateCloseWait
			return nowMs + policy.TCP.CloseWait, true
		}
		if flags&tcpFlagACK != 0 {
			conn.tcp.State = TCPStateLastAck
			return nowMs + policy.TCP.LastAck, true
		}
		return nowMs + policy.TCP.FinWait, true

	case TCPStateCloseWait:
		conn.tcp.State = TCPStateLastAck
		return nowMs + policy.TCP.LastAck, true

	case TCPStateLastAck:
		if flags&tcpFlagACK != 0 {
			conn.tcp.State = TCPStateTimeWait
			return nowMs + policy.TCP.TimeWait, true
		}
		return nowMs + policy.TCP.LastAck, true

	case TCPStateTimeWait:
		return nowMs + policy.TCP.TimeWait, true

	case TCPStateClose, TCPStateClosed:
		return nowMs + policy.TCP.Close, true

	default:
		return nowMs + policy.TCP.Established, true
	}
}

// seqAfter reports whether a is strictly after b in 32-bit sequence-number
// space, per RFC 1982 serial-number arithmetic.
func seqAfter(a, b uint32) bool {
	return int32(a-b) > 0
}

// seqInWindow reports whether seq falls within [left, right], inclusive,
// using the same wraparound-safe serial arithmetic as seqAfter.
func seqInWindow(seq, left, right uint32) bool {
	return !seqAfter(left, seq) && !seqAfter(seq, right)
}
