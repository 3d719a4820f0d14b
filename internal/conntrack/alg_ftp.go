// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import (
	"bytes"
	"fmt"
	"net/netip"
	"strconv"
)

// ftpHelper implements the FTP control-channel ALG (spec.md §4.5): it
// recognizes the PORT/EPRT commands a client sends to announce an active-
// mode data connection, and the 227/229 replies a server sends to
// announce a passive-mode one, raises an expectation for the resulting
// data connection, and rewrites the address/port embedded in the payload
// when the control connection itself is NAT'd.
type ftpHelper struct{}

func (ftpHelper) name() string { return "ftp" }

func (h ftpHelper) inspect(conn *Connection, dir Direction, payload []byte, natReplacement netip.Addr, natActive bool) (algResult, error) {
	parentKey := conn.Key()

	if addr, port, rest, ok := parsePORT(payload); ok {
		return h.buildActive(conn, parentKey, addr, port, payload, rest, natReplacement, natActive)
	}
	if addr, port, rest, ok := parseEPRT(payload); ok {
		return h.buildActive(conn, parentKey, addr, port, payload, rest, natReplacement, natActive)
	}
	if addr, port, rest, ok := parse227(payload); ok {
		return h.buildPassive(conn, parentKey, addr, port, payload, rest, natReplacement, natActive)
	}
	if port, rest, ok := parseEPSV(payload); ok {
		// EPSV never carries an address; the data address is the
		// control channel's own server-side address.
		addr := parentKey.Dst.Addr
		if dir == DirRev {
			addr = parentKey.Src.Addr
		}
		return h.buildPassive(conn, parentKey, addr, port, payload, rest, natReplacement, natActive)
	}

	return algResult{}, nil
}

// buildActive handles PORT/EPRT: the client announces the address/port it
// is listening on; the server's data channel (port 20) will connect out
// to it. The announced address must be either the client's own forward-
// source address or its NAT-replaced reverse-destination address
// (mirrors the original's CT_FTP_MODE_ACTIVE bounce check).
func (ftpHelper) buildActive(conn *Connection, parentKey Key, addr netip.Addr, port uint16, orig []byte, rewriteRange [2]int, natReplacement netip.Addr, natActive bool) (algResult, error) {
	if !addressMatchesEither(parentKey.Src.Addr, conn.ReverseKey().Dst.Addr, addr) {
		return algResult{}, ErrALGInvalid
	}
	childKey := Key{
		Src:  Endpoint{Addr: parentKey.Dst.Addr, Port: 20},
		Dst:  Endpoint{Addr: addr, Port: port},
		L3:   parentKey.L3,
		L4:   L4TCP,
		Zone: parentKey.Zone,
	}
	exp := &Expectation{
		Key:                childKey,
		SrcAddrWildcard:    false,
		ParentKey:          parentKey,
		NATReplacementAddr: natReplacement,
		NATReplaceDst:      false,
	}

	res := algResult{Expectations: []*Expectation{exp}}
	if natActive && natReplacement.IsValid() {
		rewritten, delta, err := rewriteAddrPort(orig, rewriteRange, natReplacement, port)
		if err != nil {
			return algResult{}, err
		}
		res.Rewritten = rewritten
		res.SkewDelta = delta
	}
	return res, nil
}

// buildPassive handles 227/229: the server announces the address/port its
// data channel is listening on; the client will connect in to it. The
// announced address must be either the server's own reverse-source
// address (its NAT-replaced view of itself) or its forward-destination
// address (mirrors the original's CT_FTP_MODE_PASSIVE bounce check).
func (ftpHelper) buildPassive(conn *Connection, parentKey Key, addr netip.Addr, port uint16, orig []byte, rewriteRange [2]int, natReplacement netip.Addr, natActive bool) (algResult, error) {
	if !addressMatchesEither(conn.ReverseKey().Src.Addr, parentKey.Dst.Addr, addr) {
		return algResult{}, ErrALGInvalid
	}
	childKey := Key{
		Src:  Endpoint{Addr: parentKey.Src.Addr},
		Dst:  Endpoint{Addr: addr, Port: port},
		L3:   parentKey.L3,
		L4:   L4TCP,
		Zone: parentKey.Zone,
	}
	exp := &Expectation{
		Key:                childKey,
		SrcAddrWildcard:    false,
		ParentKey:          parentKey,
		NATReplacementAddr: natReplacement,
		NATReplaceDst:      true,
	}

	res := algResult{Expectations: []*Expectation{exp}}
	if natActive && natReplacement.IsValid() && rewriteRange != ([2]int{}) {
		rewritten, delta, err := rewriteAddrPort(orig, rewriteRange, natReplacement, port)
		if err != nil {
			return algResult{}, err
		}
		res.Rewritten = rewritten
		res.SkewDelta = delta
	}
	return res, nil
}

// parsePORT parses "PORT h1,h2,h3,h4,p1,p2\r\n" and returns the decoded
// address, port, and the [start,end) byte range within payload spanning
// the six comma-separated fields (for in-place rewriting).
func parsePORT(payload []byte) (netip.Addr, uint16, [2]int, bool) {
	const prefix = "PORT "
	if !bytes.HasPrefix(payload, []byte(prefix)) {
		return netip.Addr{}, 0, [2]int{}, false
	}
	start := len(prefix)
	end := bytes.IndexAny(payload[start:], "\r\n")
	if end < 0 {
		end = len(payload) - start
	}
	end += start

	parts := bytes.Split(payload[start:end], []byte(","))
	if len(parts) != 6 {
		return netip.Addr{}, 0, [2]int{}, false
	}
	addr, port, ok := decodeV4Parts(parts)
	if !ok {
		return netip.Addr{}, 0, [2]int{}, false
	}
	return addr, port, [2]int{start, end}, true
}

func decodeV4Parts(parts [][]byte) (netip.Addr, uint16, bool) {
	var b [4]byte
	for i := 0; i < 4; i++ {
		v, err := strconv.Atoi(string(parts[i]))
		if err != nil || v < 0 || v > 255 {
			return netip.Addr{}, 0, false
		}
		b[i] = byte(v)
	}
	p1, err1 := strconv.Atoi(string(parts[4]))
	p2, err2 := strconv.Atoi(string(parts[5]))
	if err1 != nil || err2 != nil || p1 < 0 || p1 > 255 || p2 < 0 || p2 > 255 {
		return netip.Addr{}, 0, false
	}
	return netip.AddrFrom4(b), uint16(p1)<<8 | uint16(p2), true
}

// parseEPRT parses "EPRT |af|addr|port|\r\n" (RFC 2428).
func parseEPRT(payload []byte) (netip.Addr, uint16, [2]int, bool) {
	const prefix = "EPRT "
	if !bytes.HasPrefix(payload, []byte(prefix)) {
		return netip.Addr{}, 0, [2]int{}, false
	}
	start := len(prefix)
	rest := payload[start:]
	if len(rest) == 0 || rest[0] != '|' {
		return netip.Addr{}, 0, [2]int{}, false
	}
	fields := bytes.SplitN(rest[1:], []byte("|"), 4)
	if len(fields) < 3 {
		return netip.Addr{}, 0, [2]int{}, false
	}
	addr, err := netip.ParseAddr(string(fields[1]))
	if err != nil {
		return netip.Addr{}, 0, [2]int{}, false
	}
	port, err := strconv.Atoi(string(fields[2]))
	if err != nil || port <= 0 || port > 65535 {
		return netip.Addr{}, 0, [2]int{}, false
	}
	end := start + 1 + len(fields[0]) + 1 + len(fields[1]) + 1 + len(fields[2]) + 1
	return addr, uint16(port), [2]int{start, end}, true
}

// parse227 parses a "227 Entering Passive Mode (h1,h2,h3,h4,p1,p2)" reply.
func parse227(payload []byte) (netip.Addr, uint16, [2]int, bool) {
	if !bytes.HasPrefix(payload, []byte("227 ")) {
		return netip.Addr{}, 0, [2]int{}, false
	}
	open := bytes.IndexByte(payload, '(')
	closeIdx := bytes.IndexByte(payload, ')')
	if open < 0 || closeIdx < 0 || closeIdx <= open {
		return netip.Addr{}, 0, [2]int{}, false
	}
	parts := bytes.Split(payload[open+1:closeIdx], []byte(","))
	if len(parts) != 6 {
		return netip.Addr{}, 0, [2]int{}, false
	}
	addr, port, ok := decodeV4Parts(parts)
	if !ok {
		return netip.Addr{}, 0, [2]int{}, false
	}
	return addr, port, [2]int{open + 1, closeIdx}, true
}

// parseEPSV parses a "229 Entering Extended Passive Mode (|||port|)" reply
// (RFC 2428); it carries no address field.
func parseEPSV(payload []byte) (uint16, [2]int, bool) {
	if !bytes.HasPrefix(payload, []byte("229 ")) {
		return 0, [2]int{}, false
	}
	open := bytes.IndexByte(payload, '(')
	closeIdx := bytes.IndexByte(payload, ')')
	if open < 0 || closeIdx < 0 || closeIdx <= open {
		return 0, [2]int{}, false
	}
	inner := payload[open+1 : closeIdx]
	fields := bytes.Split(inner, []byte("|"))
	if len(fields) < 4 {
		return 0, [2]int{}, false
	}
	port, err := strconv.Atoi(string(fields[3]))
	if err != nil || port <= 0 || port > 65535 {
		return 0, [2]int{}, false
	}
	return uint16(port), [2]int{open + 1, closeIdx}, true
}

// rewriteAddrPort replaces the span r of payload with the encoding of
// (addr, port) in the same style it was found in (comma-separated octets
// for PORT/227, "|addr|port|" for EPRT), returning the new payload and the
// byte-length delta the caller must fold into the connection's TCP
// sequence skew.
func rewriteAddrPort(payload []byte, r [2]int, addr netip.Addr, port uint16) ([]byte, int32, error) {
	if r == ([2]int{}) {
		return payload, 0, nil
	}
	var replacement string
	if addr.Is4() {
		b := addr.As4()
		replacement = fmt.Sprintf("%d,%d,%d,%d,%d,%d", b[0], b[1], b[2], b[3], port>>8, port&0xff)
	} else {
		replacement = fmt.Sprintf("%s|%d", addr.String(), port)
	}

	out := make([]byte, 0, len(payload)+len(replacement))
	out = append(out, payload[:r[0]]...)
	out = append(out, replacement...)
	out = append(out, payload[r[1]:]...)
	delta := int32(len(replacement) - (r[1] - r[0]))
	return out, delta, nil
}
