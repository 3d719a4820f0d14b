// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import (
	"encoding/binary"
	"net/netip"
)

// Packet is the datapath-supplied view of one packet: Data holds the bytes
// starting at the L3 header (the caller has already stripped/located the
// L2 header), and VerifyChecksums enables the optional header/L4 checksum
// check described in spec.md §4.1. The key extractor computes the L4
// offset itself while walking the L3 header (IPv6 extension headers are
// not of fixed length, so the caller cannot precompute it without
// duplicating this walk).
type Packet struct {
	Data             []byte
	VerifyChecksums  bool
}

// ICMPv4 message types relevant to extraction.
const (
	icmp4EchoReply       = 0
	icmp4DstUnreach      = 3
	icmp4SourceQuench    = 4
	icmp4Redirect        = 5
	icmp4EchoRequest     = 8
	icmp4TimeExceeded    = 11
	icmp4ParamProblem    = 12
	icmp4Timestamp       = 13
	icmp4TimestampReply  = 14
	icmp4InfoRequest     = 15
	icmp4InfoReply       = 16
)

// ICMPv6 message types relevant to extraction.
const (
	icmp6DstUnreach   = 1
	icmp6PacketTooBig = 2
	icmp6TimeExceeded = 3
	icmp6ParamProblem = 4
	icmp6EchoRequest  = 128
	icmp6EchoReply    = 129
	icmp6RouterSol    = 133
	icmp6RouterAdv    = 134
	icmp6NeighborSol  = 135
	icmp6NeighborAdv  = 136
	icmp6NDRedirect   = 137
)

// ExtractKey parses pkt's L3/L4 headers into a canonical key for zone,
// classifying ICMP error messages as "related" to the flow named by their
// embedded inner packet (spec.md §4.1).
//
// Errors: ErrMalformedPacket for truncated/fragmented/checksum-failed
// input; ErrUnsupportedProtocol for protocols (or ICMPv6 Neighbor
// Discovery messages) this tracker does not classify — callers must treat
// the two differently (INVALID vs untracked, ct_state == 0).
func ExtractKey(pkt Packet, l3 L3Type, zone uint16) (Key, bool, error) {
	switch l3 {
	case L3IPv4:
		return extractIPv4(pkt, zone, true)
	case L3IPv6:
		return extractIPv6(pkt, zone, true)
	default:
		return Key{}, false, ErrUnsupportedProtocol
	}
}

func extractIPv4(pkt Packet, zone uint16, allowRelated bool) (Key, bool, error) {
	d := pkt.Data
	if len(d) < 20 {
		return Key{}, false, ErrMalformedPacket
	}
	if d[0]>>4 != 4 {
		return Key{}, false, ErrMalformedPacket
	}
	ihl := int(d[0]&0x0f) * 4
	if ihl < 20 || len(d) < ihl {
		return Key{}, false, ErrMalformedPacket
	}
	totalLen := int(binary.BigEndian.Uint16(d[2:4]))
	if totalLen > len(d) {
		return Key{}, false, ErrMalformedPacket
	}

	flagsFrag := binary.BigEndian.Uint16(d[6:8])
	fragOffset := flagsFrag & 0x1fff
	if fragOffset != 0 {
		// A later fragment carries no L4 header; reassembly is an
		// external collaborator's job (spec.md §1).
		return Key{}, false, ErrMalformedPacket
	}

	if pkt.VerifyChecksums && !verifyIPv4HeaderChecksum(d, ihl) {
		return Key{}, false, ErrMalformedPacket
	}

	var srcB, dstB [4]byte
	copy(srcB[:], d[12:16])
	copy(dstB[:], d[16:20])
	src := netip.AddrFrom4(srcB)
	dst := netip.AddrFrom4(dstB)
	proto := d[9]

	l4 := d[ihl:totalLen]
	return buildKey(pkt, L3IPv4, src, dst, proto, l4, srcB[:], dstB[:], zone, allowRelated)
}

func extractIPv6(pkt Packet, zone uint16, allowRelated bool) (Key, bool, error) {
	d := pkt.Data
	if len(d) < 40 {
		return Key{}, false, ErrMalformedPacket
	}
	if d[0]>>4 != 6 {
		return Key{}, false, ErrMalformedPacket
	}
	payloadLen := int(binary.BigEndian.Uint16(d[4:6]))
	if 40+payloadLen > len(d) {
		return Key{}, false, ErrMalformedPacket
	}

	var srcB, dstB [16]byte
	copy(srcB[:], d[8:24])
	copy(dstB[:], d[24:40])
	src := netip.AddrFrom16(srcB)
	dst := netip.AddrFrom16(dstB)

	nextHeader := d[6]
	offset := 40
	for i := 0; i < 8; i++ {
		switch nextHeader {
		case 0, 43, 60: // hop-by-hop, routing, destination options
			if len(d) < offset+2 {
				return Key{}, false, ErrMalformedPacket
			}
			hdrExtLen := int(d[offset+1])
			length := (hdrExtLen + 1) * 8
			if len(d) < offset+length {
				return Key{}, false, ErrMalformedPacket
			}
			nextHeader = d[offset]
			offset += length
			continue
		case 51: // AH
			if len(d) < offset+2 {
				return Key{}, false, ErrMalformedPacket
			}
			length := (int(d[offset+1]) + 2) * 4
			if len(d) < offset+length {
				return Key{}, false, ErrMalformedPacket
			}
			nextHeader = d[offset]
			offset += length
			continue
		case 44: // fragment header: reject, same as IPv4 later fragments
			return Key{}, false, ErrMalformedPacket
		}
		break
	}

	proto := nextHeader
	if offset > len(d) {
		return Key{}, false, ErrMalformedPacket
	}
	l4 := d[offset:]
	if 40+payloadLen < len(d) {
		l4 = d[offset : 40+payloadLen]
	}
	return buildKey(pkt, L3IPv6, src, dst, proto, l4, srcB[:], dstB[:], zone, allowRelated)
}

// buildKey extracts the L4 portion of the key shared by the IPv4/IPv6
// paths.
func buildKey(pkt Packet, l3 L3Type, src, dst netip.Addr, proto uint8, l4 []byte, srcBytes, dstBytes []byte, zone uint16, allowRelated bool) (Key, bool, error) {
	switch proto {
	case 6: // TCP
		return extractL4Ports(l3, L4TCP, src, dst, l4, zone, pkt, proto, srcBytes, dstBytes)
	case 17: // UDP
		return extractL4Ports(l3, L4UDP, src, dst, l4, zone, pkt, proto, srcBytes, dstBytes)
	case 132: // SCTP
		return extractL4Ports(l3, L4SCTP, src, dst, l4, zone, pkt, proto, srcBytes, dstBytes)
	case 1: // ICMPv4
		if l3 != L3IPv4 {
			return Key{}, false, ErrUnsupportedProtocol
		}
		return extractICMPv4(src, dst, l4, zone, allowRelated)
	case 58: // ICMPv6
		if l3 != L3IPv6 {
			return Key{}, false, ErrUnsupportedProtocol
		}
		return extractICMPv6(src, dst, l4, zone, allowRelated)
	default:
		return Key{}, false, ErrUnsupportedProtocol
	}
}

func extractL4Ports(l3 L3Type, l4p L4Proto, src, dst netip.Addr, l4 []byte, zone uint16, pkt Packet, proto uint8, srcBytes, dstBytes []byte) (Key, bool, error) {
	if len(l4) < 4 {
		return Key{}, false, ErrMalformedPacket
	}
	srcPort := binary.BigEndian.Uint16(l4[0:2])
	dstPort := binary.BigEndian.Uint16(l4[2:4])
	if srcPort == 0 || dstPort == 0 {
		return Key{}, false, ErrMalformedPacket
	}

	if pkt.VerifyChecksums && (l4p == L4TCP || l4p == L4UDP) {
		ok := false
		if l3 == L3IPv4 {
			var s, d [4]byte
			copy(s[:], srcBytes)
			copy(d[:], dstBytes)
			ok = verifyL4Checksum4(s, d, proto, l4)
		} else {
			var s, d [16]byte
			copy(s[:], srcBytes)
			copy(d[:], dstBytes)
			ok = verifyL4Checksum6(s, d, proto, l4)
		}
		if !ok {
			return Key{}, false, ErrMalformedPacket
		}
	}

	k := Key{
		Src:  Endpoint{Addr: src, Port: srcPort},
		Dst:  Endpoint{Addr: dst, Port: dstPort},
		L3:   l3,
		L4:   l4p,
		Zone: zone,
	}
	return k, false, nil
}

func extractICMPv4(src, dst netip.Addr, l4 []byte, zone uint16, allowRelated bool) (Key, bool, error) {
	if len(l4) < 8 {
		return Key{}, false, ErrMalformedPacket
	}
	typ := l4[0]
	code := l4[1]

	switch typ {
	case icmp4EchoRequest, icmp4EchoReply, icmp4Timestamp, icmp4TimestampReply, icmp4InfoRequest, icmp4InfoReply:
		if code != 0 {
			return Key{}, false, ErrMalformedPacket
		}
		id := binary.BigEndian.Uint16(l4[4:6])
		k := Key{
			Src:  Endpoint{Addr: src, ICMPID: id, ICMPType: typ, ICMPCode: code},
			Dst:  Endpoint{Addr: dst, ICMPID: id, ICMPType: reverseICMPv4Type(typ), ICMPCode: code},
			L3:   L3IPv4,
			L4:   L4ICMPv4,
			Zone: zone,
		}
		return k, false, nil

	case icmp4DstUnreach, icmp4TimeExceeded, icmp4ParamProblem, icmp4SourceQuench, icmp4Redirect:
		if !allowRelated {
			return Key{}, false, ErrMalformedPacket
		}
		inner := Packet{Data: l4[8:]}
		innerKey, _, err := extractIPv4(inner, zone, false)
		if err != nil {
			return Key{}, false, err
		}
		if innerKey.Src.Addr != dst {
			// Inner source must match the outer destination or this
			// is not a legitimate error for an in-flight flow.
			return Key{}, false, ErrMalformedPacket
		}
		return innerKey.Reverse(), true, nil

	default:
		return Key{}, false, ErrUnsupportedProtocol
	}
}

func extractICMPv6(src, dst netip.Addr, l4 []byte, zone uint16, allowRelated bool) (Key, bool, error) {
	if len(l4) < 8 {
		return Key{}, false, ErrMalformedPacket
	}
	typ := l4[0]
	code := l4[1]

	switch typ {
	case icmp6EchoRequest, icmp6EchoReply:
		if code != 0 {
			return Key{}, false, ErrMalformedPacket
		}
		id := binary.BigEndian.Uint16(l4[4:6])
		k := Key{
			Src:  Endpoint{Addr: src, ICMPID: id, ICMPType: typ, ICMPCode: code},
			Dst:  Endpoint{Addr: dst, ICMPID: id, ICMPType: reverseICMPv6Type(typ), ICMPCode: code},
			L3:   L3IPv6,
			L4:   L4ICMPv6,
			Zone: zone,
		}
		return k, false, nil

	case icmp6DstUnreach, icmp6PacketTooBig, icmp6TimeExceeded, icmp6ParamProblem:
		if !allowRelated {
			return Key{}, false, ErrMalformedPacket
		}
		inner := Packet{Data: l4[8:]}
		innerKey, _, err := extractIPv6(inner, zone, false)
		if err != nil {
			return Key{}, false, err
		}
		if innerKey.Src.Addr != dst {
			return Key{}, false, ErrMalformedPacket
		}
		return innerKey.Reverse(), true, nil

	case icmp6RouterSol, icmp6RouterAdv, icmp6NeighborSol, icmp6NeighborAdv, icmp6NDRedirect:
		// Neighbor Discovery: always passed through untracked, never
		// paired or treated as a related error (SPEC_FULL.md supplement,
		// grounded in the original's ct_verify_helper ND special-case).
		return Key{}, false, ErrUnsupportedProtocol

	default:
		return Key{}, false, ErrUnsupportedProtocol
	}
}

func reverseICMPv4Type(t uint8) uint8 {
	switch t {
	case icmp4EchoRequest:
		return icmp4EchoReply
	case icmp4EchoReply:
		return icmp4EchoRequest
	case icmp4Timestamp:
		return icmp4TimestampReply
	case icmp4TimestampReply:
		return icmp4Timestamp
	case icmp4InfoRequest:
		return icmp4InfoReply
	case icmp4InfoReply:
		return icmp4InfoRequest
	default:
		return t
	}
}

// protoFields extracts the per-packet fields the protocol FSMs need (TCP
// flags/sequence/ack/window) from the outer L3/L4 headers of pkt. It is
// called separately from ExtractKey because a RELATED (ICMP error)
// packet's key is adopted from its embedded inner packet, but its
// protocol-FSM fields, if ever needed, always describe the outer ICMP
// header, not the inner one.
func protoFields(pkt Packet, l3 L3Type) (protoPacket, error) {
	d := pkt.Data
	var l4 []byte
	var proto uint8

	switch l3 {
	case L3IPv4:
		if len(d) < 20 {
			return protoPacket{}, ErrMalformedPacket
		}
		ihl := int(d[0]&0x0f) * 4
		if ihl < 20 || len(d) < ihl {
			return protoPacket{}, ErrMalformedPacket
		}
		totalLen := int(binary.BigEndian.Uint16(d[2:4]))
		if totalLen > len(d) {
			totalLen = len(d)
		}
		proto = d[9]
		l4 = d[ihl:totalLen]
	case L3IPv6:
		if len(d) < 40 {
			return protoPacket{}, ErrMalformedPacket
		}
		proto = d[6]
		l4 = d[40:]
	default:
		return protoPacket{}, ErrUnsupportedProtocol
	}

	switch proto {
	case 6:
		if len(l4) < 16 {
			return protoPacket{}, ErrMalformedPacket
		}
		return protoPacket{
			L4:        L4TCP,
			TCPFlags:  l4[13] & 0x3f,
			TCPSeq:    binary.BigEndian.Uint32(l4[4:8]),
			TCPAck:    binary.BigEndian.Uint32(l4[8:12]),
			TCPWindow: binary.BigEndian.Uint16(l4[14:16]),
		}, nil
	case 17:
		return protoPacket{L4: L4UDP}, nil
	case 132:
		return protoPacket{L4: L4SCTP}, nil
	case 1:
		return protoPacket{L4: L4ICMPv4}, nil
	case 58:
		return protoPacket{L4: L4ICMPv6}, nil
	default:
		return protoPacket{L4: L4Other}, nil
	}
}

func reverseICMPv6Type(t uint8) uint8 {
	switch t {
	case icmp6EchoRequest:
		return icmp6EchoReply
	case icmp6EchoReply:
		return icmp6EchoRequest
	default:
		return t
	}
}
