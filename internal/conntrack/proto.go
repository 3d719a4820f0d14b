// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

// protoHandler is the capability interface every L4 protocol state machine
// implements. spec.md's design notes call out the original's function-
// pointer dispatch table (l4_protos[]) as the one piece of C idiom this
// rewrite should not carry over verbatim; a small interface selected once
// per packet by L4Proto plays the same role without a global array of
// function pointers.
type protoHandler interface {
	// validNew reports whether pkt may start a new connection for this
	// protocol (e.g. TCP requires a bare SYN).
	validNew(pkt *protoPacket) bool

	// newConn initializes protocol state on a freshly admitted
	// connection and returns its first expiration deadline.
	newConn(conn *Connection, pkt *protoPacket, policy TimeoutPolicy, nowMs int64) int64

	// update advances protocol state for a packet against an existing
	// connection and returns the next expiration deadline. reply
	// indicates the packet arrived in the connection's reply direction.
	update(conn *Connection, pkt *protoPacket, reply bool, policy TimeoutPolicy, nowMs int64) (nextExpirationMs int64, valid bool)
}

// protoPacket is the minimal per-packet view protocol handlers need,
// decoded once by the orchestrator and reused by whichever handler applies.
type protoPacket struct {
	L4 L4Proto

	// TCP
	TCPFlags  uint8
	TCPSeq    uint32
	TCPAck    uint32
	TCPWindow uint16
	// SeqChk gates tcpHandler.update's right/left-edge window validation
	// (spec's tcp-seq-check option); set by the orchestrator from the
	// tracker's current toggle, not by key extraction.
	SeqChk bool

	// ICMP
	ICMPIsError bool
}

// TCP header flag bits, named the way net/ipv4-adjacent code in this
// module's dependency graph (gopacket/layers) already names them.
const (
	tcpFlagFIN uint8 = 1 << iota
	tcpFlagSYN
	tcpFlagRST
	tcpFlagPSH
	tcpFlagACK
	tcpFlagURG
)

func handlerFor(l4 L4Proto) protoHandler {
	switch l4 {
	case L4TCP:
		return tcpHandler{}
	case L4UDP, L4SCTP, L4Other:
		return otherHandler{}
	case L4ICMPv4, L4ICMPv6:
		return icmpHandler{}
	default:
		return nil
	}
}
