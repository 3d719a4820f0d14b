// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package conntrack implements a stateful connection tracker for the
// flywall datapath: it classifies packets into flows, maintains per-flow
// protocol state (TCP window tracking, ICMP request/reply pairing, UDP
// liveness), performs NAT tuple allocation, and assists the FTP/TFTP
// application-layer protocols whose control channel negotiates auxiliary
// data connections.
//
// The package mirrors the structure of Open vSwitch's userspace conntrack
// (lib/conntrack.c): a sharded-by-zone flow table with symmetric forward/
// reverse keys, pluggable per-L4-protocol state machines, and a background
// sweeper that retires idle entries.
package conntrack

import (
	"net/netip"
	"sync"
	"sync/atomic"
)

// L3Type is the network-layer protocol carrying the tracked flow.
type L3Type uint8

const (
	L3IPv4 L3Type = iota
	L3IPv6
)

// L4Proto is the transport-layer (or transport-like) protocol of a flow.
type L4Proto uint8

const (
	L4TCP L4Proto = iota
	L4UDP
	L4ICMPv4
	L4ICMPv6
	L4SCTP
	L4Other
)

// Direction tags one of a connection's two key-table entries.
type Direction uint8

const (
	DirFwd Direction = iota
	DirRev
)

// Endpoint is one side of a connection key. Port and the ICMP fields are
// mutually exclusive depending on L4Proto: TCP/UDP/SCTP populate Port only,
// ICMPv4/ICMPv6 populate ICMPID/ICMPType/ICMPCode only.
type Endpoint struct {
	Addr     netip.Addr
	Port     uint16
	ICMPID   uint16
	ICMPType uint8
	ICMPCode uint8
}

// Key is the canonical, symmetric connection key. Src/Dst are swapped by
// Reverse; everything else is identical in both directions.
type Key struct {
	Src  Endpoint
	Dst  Endpoint
	L3   L3Type
	L4   L4Proto
	Zone uint16
}

// Reverse returns the byte-swapped key (src/dst exchanged). Reverse is its
// own inverse: Reverse(Reverse(k)) == k.
func (k Key) Reverse() Key {
	r := k
	r.Src, r.Dst = k.Dst, k.Src
	return r
}

// Equal reports whether two keys address the same flow.
func (k Key) Equal(o Key) bool {
	return k == o
}

// TCPState enumerates the per-connection TCP lifecycle, modeled after
// RFC 793 with the Linux-style collapsed states conntrack uses.
type TCPState uint8

const (
	TCPStateNone TCPState = iota
	TCPStateSynSent
	TCPStateSynRecv
	TCPStateEstablished
	TCPStateFinWait
	TCPStateCloseWait
	TCPStateLastAck
	TCPStateTimeWait
	TCPStateClose
	TCPStateListen
	TCPStateClosed
)

// TCPPeer tracks one direction's window state for the TCP FSM.
type TCPPeer struct {
	MaxSeqSent uint32
	MaxAckSeen uint32
	MaxWindow  uint32
	WindowScale uint8
}

// TCPInfo is the TCP-specific protocol state embedded in a Connection.
type TCPInfo struct {
	State     TCPState
	Orig      TCPPeer
	Reply     TCPPeer
	SeqSkew   int32
	SeqSkewDir Direction // which direction introduced the skew
}

// OtherInfo tracks liveness for UDP and other best-effort protocols: a
// connection moves unreplied -> replied -> established with increasing
// timeouts as traffic is observed in each direction.
type OtherInfo struct {
	SeenFwd bool
	SeenRev bool
}

// ICMPInfo tracks the single request/reply pairing for ICMP echo-like
// flows.
type ICMPInfo struct {
	RepliedTo bool
}

// NATAction bits mirror spec.md's NAT directive action mask.
type NATAction uint32

const (
	NATActionSrc         NATAction = 1 << iota // SRC
	NATActionDst                               // DST
	NATActionSrcPort                           // SRC_PORT
	NATActionDstPort                           // DST_PORT
	NATActionPersistent                        // PERSISTENT
	NATActionRangeRandom                       // RANGE_RANDOM
	NATActionProtoHash                         // PROTO_HASH
)

// NATDirective describes a requested rewrite range for a single connection.
type NATDirective struct {
	Action  NATAction
	MinAddr netip.Addr
	MaxAddr netip.Addr
	MinPort uint16
	MaxPort uint16
}

// Label is the 128-bit opaque user metadata attached to a connection.
type Label [16]byte

// MaskedWrite writes val into l wherever mask has a 1 bit, leaving the rest
// of l untouched (the same masked-write semantics as the connection mark).
func (l *Label) MaskedWrite(val, mask Label) {
	for i := range l {
		l[i] = (val[i] & mask[i]) | (l[i] &^ mask[i])
	}
}

// CTState are the bits written back onto packet metadata, per spec.md §6.
type CTState uint32

const (
	CTStateNew         CTState = 1 << iota // NEW
	CTStateEstablished                     // ESTABLISHED
	CTStateRelated                         // RELATED
	CTStateReplyDir                        // REPLY_DIR
	CTStateInvalid                         // INVALID
	CTStateTracked                         // TRACKED
	CTStateSrcNAT                          // SRC_NAT
	CTStateDstNAT                          // DST_NAT
)

// keyNode is one of a connection's two table entries: a forward entry
// (always present) and, for NAT'd flows, a reverse entry. Both entries
// point back at the owning Connection so a single lookup resolves both
// identity and direction.
type keyNode struct {
	key  Key
	dir  Direction
	conn *Connection
}

// Connection is the per-flow record the tracker maintains. Fields mutated
// by concurrent packet processing (mark, label, TCP scratch, sequence
// skew) are guarded by mu; everything else is set once at creation or only
// ever moves monotonically (expiration, reclaimed).
type Connection struct {
	mu sync.Mutex

	fwd keyNode
	rev keyNode // valid iff natActive

	natActive  bool
	natAction  NATAction
	timeoutPolicy string

	tcp   TCPInfo
	icmp  ICMPInfo
	other OtherInfo

	// expirationMs is a monotonic-clock millisecond deadline, updated
	// atomically by protocol FSMs and only ever decreased by
	// ForceExpire.
	expirationMs int64

	mark  uint32
	label Label

	// ALG bookkeeping.
	helper     string
	algRelated bool
	parentKey  Key

	// Admission bookkeeping (see zone.go).
	admitZone     uint16
	admitZoneGen  uint64
	hasAdmitZone  bool

	reclaimed atomic.Bool
}

// Key returns the connection's forward key.
func (c *Connection) Key() Key {
	return c.fwd.key
}

// ReverseKey returns the connection's reverse key (equal to the byte-swap
// of the forward key unless NAT is active).
func (c *Connection) ReverseKey() Key {
	if c.natActive {
		return c.rev.key
	}
	return c.fwd.key.Reverse()
}

// NATActive reports whether this connection has a distinct reverse key
// because of address/port rewriting.
func (c *Connection) NATActive() bool {
	return c.natActive
}

// Expiration returns the current expiration deadline in monotonic
// milliseconds.
func (c *Connection) Expiration() int64 {
	return atomic.LoadInt64(&c.expirationMs)
}

// SetExpiration extends (or sets) the expiration deadline.
func (c *Connection) SetExpiration(ms int64) {
	atomic.StoreInt64(&c.expirationMs, ms)
}

// ForceExpire moves the expiration into the past so the sweeper (or an
// immediate synchronous check) will retire the connection. Expiration
// otherwise only ever moves forward.
func (c *Connection) ForceExpire() {
	atomic.StoreInt64(&c.expirationMs, 0)
}

// Expired reports whether now has reached the connection's expiration.
func (c *Connection) Expired(nowMs int64) bool {
	return nowMs >= c.Expiration()
}

// MarkReclaimed performs the exactly-once false->true transition required
// by spec.md invariant 4. It returns true iff this call performed the
// transition.
func (c *Connection) MarkReclaimed() bool {
	return c.reclaimed.CompareAndSwap(false, true)
}

// Reclaimed reports whether the connection has already been marked for
// removal.
func (c *Connection) Reclaimed() bool {
	return c.reclaimed.Load()
}

// Mark returns the connection's mark under its mutex.
func (c *Connection) Mark() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mark
}

// SetMarkMasked applies a masked write to the connection mark, matching
// the nftables ct-mark set semantics: mark = val | (mark &^ mask).
func (c *Connection) SetMarkMasked(val, mask uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mark = val | (c.mark &^ mask)
	return c.mark
}

// Label returns a copy of the connection's label under its mutex.
func (c *Connection) Label() Label {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.label
}

// SetLabelMasked applies a masked write to the connection label.
func (c *Connection) SetLabelMasked(val, mask Label) Label {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.label.MaskedWrite(val, mask)
	return c.label
}

// AlgRelated reports whether this connection was spawned from an
// expectation raised by a parent control flow.
func (c *Connection) AlgRelated() bool {
	return c.algRelated
}

// ParentKey returns the parent control flow's key, valid iff AlgRelated.
func (c *Connection) ParentKey() Key {
	return c.parentKey
}

// Helper returns the ALG helper name associated with this connection
// ("ftp", "tftp", "" if none).
func (c *Connection) Helper() string {
	return c.helper
}

// SeqSkew returns the accumulated FTP sequence skew and the direction that
// introduced it.
func (c *Connection) SeqSkew() (delta int32, dir Direction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tcp.SeqSkew, c.tcp.SeqSkewDir
}

// SetSeqSkew records the sequence skew introduced by an ALG payload
// rewrite.
func (c *Connection) SetSeqSkew(delta int32, dir Direction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tcp.SeqSkew = delta
	c.tcp.SeqSkewDir = dir
}

// Expectation is an anticipated child flow advertised by a parent control
// flow (spec.md §3/§4.6). SrcPortWildcard is always true (the allocator
// always wildcards the data connection's source port); SrcAddrWildcard is
// only set by SIP-like helpers this module does not expose a command
// surface for, per spec.md's open question on the SIP helper.
type Expectation struct {
	Key             Key
	SrcAddrWildcard bool

	ParentKey   Key
	ParentMark  uint32
	ParentLabel Label

	NATReplacementAddr netip.Addr
	// NATReplaceDst is true when the replacement address belongs in the
	// child connection's reverse-destination (passive side); false when
	// it belongs in the reverse-source (active side).
	NATReplaceDst bool
}

// ZoneLimit is the admission cap tracked for one zone.
type ZoneLimit struct {
	Zone         uint16
	Limit        int64 // -1 == unlimited
	CurrentCount int64
	Generation   uint64
}

// TimeoutPolicy is a named set of per-state timeouts (milliseconds)
// consulted by the protocol FSMs.
type TimeoutPolicy struct {
	ID   string
	TCP  TCPTimeouts
	UDP  UDPTimeouts
	ICMP int64
}

// TCPTimeouts holds the per-state TCP timeout values (ms), Linux-style:
// short timers around the handshake/teardown, one long timer for the
// established steady state.
type TCPTimeouts struct {
	SynSent     int64
	SynRecv     int64
	Established int64
	FinWait     int64
	CloseWait   int64
	LastAck     int64
	TimeWait    int64
	Close       int64
}

// UDPTimeouts holds the per-state UDP/"other" liveness timeouts (ms).
type UDPTimeouts struct {
	Unreplied   int64
	Established int64
}

// DefaultTimeoutPolicy returns the timeout policy applied when a zone does
// not reference one explicitly, values chosen to match conntrack's
// conventional defaults (30s/sec for unreplied UDP growing to 180s once a
// reply is seen, 5 days for established TCP).
func DefaultTimeoutPolicy() TimeoutPolicy {
	return TimeoutPolicy{
		ID: "default",
		TCP: TCPTimeouts{
			SynSent:     120_000,
			SynRecv:     60_000,
			Established: 432_000_000,
			FinWait:     120_000,
			CloseWait:   60_000,
			LastAck:     30_000,
			TimeWait:    120_000,
			Close:       10_000,
		},
		UDP: UDPTimeouts{
			Unreplied:   30_000,
			Established: 180_000,
		},
		ICMP: 30_000,
	}
}
