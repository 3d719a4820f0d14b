// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import "net/netip"

// algHelper is the capability interface an application-layer gateway
// implements (spec.md §4.5): inspect a control channel's payload, and
// optionally hand back expectations to register for the data connections
// the control message just announced.
type algHelper interface {
	// name identifies the helper ("ftp", "tftp") for Connection.Helper
	// and for the RPC surface's helper-selection argument.
	name() string

	// inspect examines payload carried by conn (already known to be the
	// helper's control channel) flowing in direction dir, and returns
	// any expectations it should raise plus a possibly-rewritten payload
	// (for FTP's PORT/PASV address substitution under NAT).
	inspect(conn *Connection, dir Direction, payload []byte, natReplacement netip.Addr, natActive bool) (algResult, error)
}

// algResult is the outcome of one inspect call.
type algResult struct {
	Expectations []*Expectation
	Rewritten    []byte // nil if payload was not modified
	SkewDelta    int32  // byte-length delta introduced by rewriting, for TCP sequence skew bookkeeping
}

// addressMatchesEither reports whether addr equals one of the two
// addresses a well-formed FTP PORT/227 announcement is allowed to carry.
// Anything else is a bounce attempt — the remote end asking the peer to
// open a data connection to some unrelated host.
func addressMatchesEither(a, b, addr netip.Addr) bool {
	return addr == a || addr == b
}

func algHelperFor(name string) algHelper {
	switch name {
	case "ftp":
		return ftpHelper{}
	case "tftp":
		return tftpHelper{}
	default:
		return nil
	}
}
