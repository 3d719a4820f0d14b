// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// hashEndpoint folds one endpoint's fields into a basis using xxhash, the
// same non-cryptographic hash this module already links in (transitively,
// via prometheus/client_golang) and now uses directly for the flow table's
// symmetric key hash.
func hashEndpoint(basis uint64, ep Endpoint) uint64 {
	var buf [24]byte
	as16 := ep.Addr.As16()
	copy(buf[0:16], as16[:])
	binary.LittleEndian.PutUint16(buf[16:18], ep.Port)
	binary.LittleEndian.PutUint16(buf[18:20], ep.ICMPID)
	buf[20] = ep.ICMPType
	buf[21] = ep.ICMPCode

	d := xxhash.New()
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], basis)
	_, _ = d.Write(seed[:])
	_, _ = d.Write(buf[:])
	return d.Sum64()
}

// keyHash computes the symmetric hash of a key: hash(src) XOR hash(dst),
// then mixed with l3/l4/zone so forward and reverse keys land in the same
// shard (spec.md §4.2, testable property 1: hash(K) == hash(reverse(K))).
func keyHash(k Key, basis uint64) uint64 {
	hsrc := hashEndpoint(basis, k.Src)
	hdst := hashEndpoint(basis, k.Dst)
	h := hsrc ^ hdst

	var tail [8]byte
	tail[0] = byte(k.L3)
	tail[1] = byte(k.L4)
	binary.LittleEndian.PutUint16(tail[2:4], k.Zone)

	d := xxhash.New()
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], h)
	_, _ = d.Write(seed[:])
	_, _ = d.Write(tail[:])
	return d.Sum64()
}
