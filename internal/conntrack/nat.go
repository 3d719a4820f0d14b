// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import (
	"crypto/rand"
	"encoding/binary"
	"math/big"
	"net/netip"
)

// NAT tuple allocation is randomized-offset-with-bounded-linear-probe, the
// same shape as the original's nat_get_unique_tuple: rather than scanning
// an entire range for a free tuple, a candidate offset is derived from a
// hash basis and probed for at most natMaxAttempts steps before giving up.
// No RNG library appears anywhere in this module's dependency graph (NAT
// basis selection is the only place one is needed), so the randomized
// basis is drawn from crypto/rand directly; see DESIGN.md.
const natMaxAttempts = 128

// Default ephemeral port band used when a NAT directive requests port
// rewriting without naming an explicit range.
const (
	ephemeralPortMin uint16 = 1024
	ephemeralPortMax uint16 = 65535
)

// natAllocator resolves a NATDirective against a live table, producing the
// connection's reverse key. natAllocator is stateless; callers pass the
// basis explicitly so persistent NAT (same rewrite every time for a given
// original tuple) and randomized NAT (a fresh basis per allocation) are
// both expressible with the same probe loop.
type natAllocator struct {
	table *Table
}

// allocate computes conn's reverse key under directive, given its already
// resolved forward key orig. It returns ErrNATExhausted if no unique tuple
// could be found within the probe budget.
func (a natAllocator) allocate(orig Key, directive NATDirective) (Key, error) {
	basis, err := a.basisFor(orig, directive)
	if err != nil {
		return Key{}, err
	}

	rev := orig.Reverse()
	rewriteSrc := directive.Action&NATActionSrc != 0
	rewriteDst := directive.Action&NATActionDst != 0
	rewriteSPort := directive.Action&NATActionSrcPort != 0
	rewriteDPort := directive.Action&NATActionDstPort != 0

	addrCount := addrRangeSize(directive.MinAddr, directive.MaxAddr)
	portLo, portHi := portRange(directive, rewriteSPort || rewriteDPort, orig.Src.Port)
	portCount := uint64(portHi-portLo) + 1

	// A single fixed tuple (no room to probe) still has to be validated
	// for uniqueness, but there is nothing to search.
	if addrCount <= 1 && portCount <= 1 {
		cand := rev
		applyNATCandidate(&cand, directive, rewriteSrc, rewriteDst, rewriteSPort, rewriteDPort, directive.MinAddr, portLo)
		if a.available(cand) {
			return cand, nil
		}
		return Key{}, ErrNATExhausted
	}

	attempts := natMaxAttempts
	tryBasis := basis
	for round := 0; round < 2; round++ {
		for i := 0; i < attempts; i++ {
			offset := tryBasis + uint64(i)
			var addr netip.Addr
			if addrCount > 0 {
				addr = addrAtOffset(directive.MinAddr, directive.MaxAddr, offset%addrCount)
			}
			port := portLo
			if portCount > 0 {
				port = portLo + uint16(offset%portCount)
			}

			cand := rev
			applyNATCandidate(&cand, directive, rewriteSrc, rewriteDst, rewriteSPort, rewriteDPort, addr, port)
			if a.available(cand) {
				return cand, nil
			}
		}

		if directive.Action&NATActionPersistent != 0 {
			// Persistent NAT commits to its deterministic basis; a
			// second probe round would just repeat the same sequence.
			break
		}
		fresh, err := randomBasis()
		if err != nil {
			break
		}
		tryBasis = fresh
	}

	return Key{}, ErrNATExhausted
}

func applyNATCandidate(cand *Key, directive NATDirective, rewriteSrc, rewriteDst, rewriteSPort, rewriteDPort bool, addr netip.Addr, port uint16) {
	// cand is the reverse key: rewriting the "SRC" of the original
	// connection lands on cand.Dst (the reverse direction's
	// destination is the original source), matching the original's
	// placement of NAT state on the reply-side tuple.
	if rewriteSrc && addr.IsValid() {
		cand.Dst.Addr = addr
	}
	if rewriteDst && addr.IsValid() {
		cand.Src.Addr = addr
	}
	if rewriteSPort {
		cand.Dst.Port = port
	}
	if rewriteDPort {
		cand.Src.Port = port
	}
}

func (a natAllocator) available(k Key) bool {
	_, _, found := a.table.Lookup(k)
	return !found
}

// basisFor picks the starting search offset. Persistent NAT hashes only
// the original tuple (and zone) so the same connection always starts its
// probe at the same offset across restarts; everything else draws a fresh
// random basis per allocation.
func (a natAllocator) basisFor(orig Key, directive NATDirective) (uint64, error) {
	if directive.Action&NATActionPersistent != 0 {
		return keyHash(orig, 0), nil
	}
	if directive.Action&NATActionProtoHash != 0 {
		return keyHash(orig, uint64(orig.L4)), nil
	}
	return randomBasis()
}

func randomBasis() (uint64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(0).SetUint64(^uint64(0)))
	if err != nil {
		return 0, err
	}
	return n.Uint64(), nil
}

// portRange picks the search band for the port being rewritten. An
// explicit directive range always wins; otherwise the band is chosen by
// the original connection's source-port class, mirroring the original's
// set_sport_range: well-known ports stay in the low ephemeral band,
// registered ports in the middle band, and everything else falls back to
// the standard ephemeral band.
func portRange(directive NATDirective, wantPort bool, origSrcPort uint16) (uint16, uint16) {
	if directive.MinPort != 0 || directive.MaxPort != 0 {
		if directive.MinPort <= directive.MaxPort {
			return directive.MinPort, directive.MaxPort
		}
		return directive.MaxPort, directive.MinPort
	}
	if !wantPort {
		return 0, 0
	}
	switch {
	case origSrcPort < 512:
		return 1, 511
	case origSrcPort < 1024:
		return 600, 1023
	default:
		return ephemeralPortMin, ephemeralPortMax
	}
}

// addrRangeSize returns the number of addresses spanned by [min,max], or 0
// if min is not a valid address (no address rewrite requested).
func addrRangeSize(min, max netip.Addr) uint64 {
	if !min.IsValid() {
		return 0
	}
	if !max.IsValid() {
		return 1
	}
	lo := addrToUint(min)
	hi := addrToUint(max)
	if hi < lo {
		lo, hi = hi, lo
	}
	return hi - lo + 1
}

func addrAtOffset(min, max netip.Addr, offset uint64) netip.Addr {
	if !max.IsValid() {
		return min
	}
	lo := addrToUint(min)
	return uintToAddr(min, lo+offset)
}

// addrToUint/uintToAddr only need to span the 32-bit IPv4 ephemeral-NAT
// range this allocator targets; IPv6 NAT ranges in practice are single
// addresses (no port-exhaustion-style probing across a /64).
func addrToUint(a netip.Addr) uint64 {
	if a.Is4() {
		b := a.As4()
		return uint64(binary.BigEndian.Uint32(b[:]))
	}
	b := a.As16()
	return uint64(binary.BigEndian.Uint32(b[12:16]))
}

func uintToAddr(template netip.Addr, v uint64) netip.Addr {
	if template.Is4() {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(v))
		return netip.AddrFrom4(b)
	}
	b := template.As16()
	binary.BigEndian.PutUint32(b[12:16], uint32(v))
	return netip.AddrFrom16(b)
}
