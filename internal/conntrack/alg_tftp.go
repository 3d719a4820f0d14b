// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import (
	"encoding/binary"
	"net/netip"
)

// TFTP opcodes (RFC 1350).
const (
	tftpOpRRQ = 1
	tftpOpWRQ = 2
)

// tftpHelper implements the TFTP ALG (spec.md §4.5): a client's initial
// RRQ/WRQ to the well-known server port is answered from a fresh
// server-side ephemeral port, so the helper raises one expectation per
// request and never rewrites payload (TFTP carries no embedded
// addresses).
type tftpHelper struct{}

func (tftpHelper) name() string { return "tftp" }

func (tftpHelper) inspect(conn *Connection, dir Direction, payload []byte, natReplacement netip.Addr, natActive bool) (algResult, error) {
	if dir != DirFwd {
		return algResult{}, nil
	}
	if len(payload) < 2 {
		return algResult{}, ErrALGInvalid
	}
	op := binary.BigEndian.Uint16(payload[0:2])
	if op != tftpOpRRQ && op != tftpOpWRQ {
		return algResult{}, nil
	}

	parentKey := conn.Key()
	childKey := Key{
		Src:  Endpoint{Addr: parentKey.Dst.Addr},
		Dst:  Endpoint{Addr: parentKey.Src.Addr, Port: parentKey.Src.Port},
		L3:   parentKey.L3,
		L4:   L4UDP,
		Zone: parentKey.Zone,
	}
	exp := &Expectation{
		Key:                childKey,
		SrcAddrWildcard:    false,
		ParentKey:          parentKey,
		NATReplacementAddr: natReplacement,
		NATReplaceDst:      true,
	}
	return algResult{Expectations: []*Expectation{exp}}, nil
}
