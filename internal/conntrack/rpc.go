// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import (
	"fmt"
	"net/netip"
	"time"

	"grimm.is/flywall/internal/metrics"
)

// Commands is the net/rpc service exposing conntrack's control-plane
// surface (spec.md §4.10), registered the same way
// internal/ctlplane.Server registers its own methods: one Go type whose
// exported methods of the shape func(*Args, *Reply) error become RPC
// endpoints, named "Conntrack.<Method>" when registered with
// rpc.RegisterName("Conntrack", commands).
type Commands struct {
	Tracker *Tracker
}

// NewCommands wraps tr for RPC registration.
func NewCommands(tr *Tracker) *Commands {
	return &Commands{Tracker: tr}
}

// FlushConntrackArgs filters which connections FlushConntrack reclaims.
// A zero value matches every connection.
type FlushConntrackArgs struct {
	Zone    uint16
	HasZone bool
}

type FlushConntrackReply struct {
	Flushed int
}

// FlushConntrack reclaims every tracked connection (optionally scoped to
// one zone).
func (c *Commands) FlushConntrack(args *FlushConntrackArgs, reply *FlushConntrackReply) error {
	var filter func(Key) bool
	if args.HasZone {
		zone := args.Zone
		filter = func(k Key) bool { return k.Zone == zone }
	}
	reply.Flushed = c.Tracker.Flush(filter)
	return nil
}

// FlushConntrackTupleArgs names a single connection by one of its two
// directional tuples.
type FlushConntrackTupleArgs struct {
	Zone               uint16
	SrcAddr, DstAddr    string
	SrcPort, DstPort    uint16
	Proto               uint8 // L4Proto
}

type FlushConntrackTupleReply struct {
	Flushed bool
}

// FlushConntrackTuple reclaims exactly one connection, if present.
func (c *Commands) FlushConntrackTuple(args *FlushConntrackTupleArgs, reply *FlushConntrackTupleReply) error {
	src, err := netip.ParseAddr(args.SrcAddr)
	if err != nil {
		return fmt.Errorf("conntrack: invalid src address %q: %w", args.SrcAddr, err)
	}
	dst, err := netip.ParseAddr(args.DstAddr)
	if err != nil {
		return fmt.Errorf("conntrack: invalid dst address %q: %w", args.DstAddr, err)
	}
	l3 := L3IPv4
	if src.Is6() {
		l3 = L3IPv6
	}
	k := Key{
		Src:  Endpoint{Addr: src, Port: args.SrcPort},
		Dst:  Endpoint{Addr: dst, Port: args.DstPort},
		L3:   l3,
		L4:   L4Proto(args.Proto),
		Zone: args.Zone,
	}
	conn, _, found := c.Tracker.table.Lookup(k)
	if !found {
		return ErrConnNotFound
	}
	n := c.Tracker.Flush(func(candidate Key) bool { return candidate == conn.Key() })
	reply.Flushed = n > 0
	return nil
}

type SetMaxConnsArgs struct {
	Limit int64 // -1 for unlimited
}
type SetMaxConnsReply struct{}

// SetMaxConns sets the datapath-wide connection cap.
func (c *Commands) SetMaxConns(args *SetMaxConnsArgs, reply *SetMaxConnsReply) error {
	c.Tracker.zones.SetGlobalLimit(args.Limit)
	return nil
}

type GetMaxConnsArgs struct{}
type GetMaxConnsReply struct {
	Limit   int64
	Current int64
}

// GetMaxConns reports the current global cap and live connection count.
func (c *Commands) GetMaxConns(args *GetMaxConnsArgs, reply *GetMaxConnsReply) error {
	limit, count := c.Tracker.zones.GlobalLimit()
	reply.Limit = limit
	reply.Current = count
	return nil
}

type SetSweepIntervalArgs struct {
	Milliseconds int64
}
type SetSweepIntervalReply struct {
	AppliedMilliseconds int64
}

// SetSweepInterval adjusts the sweeper tick period (clamped to
// minSweepInterval).
func (c *Commands) SetSweepInterval(args *SetSweepIntervalArgs, reply *SetSweepIntervalReply) error {
	d := time.Duration(args.Milliseconds) * time.Millisecond
	c.Tracker.sweep.SetInterval(d)
	reply.AppliedMilliseconds = c.Tracker.sweep.Interval().Milliseconds()
	return nil
}

type GetSweepIntervalArgs struct{}
type GetSweepIntervalReply struct {
	Milliseconds int64
}

// GetSweepInterval reports the sweeper's current tick period.
func (c *Commands) GetSweepInterval(args *GetSweepIntervalArgs, reply *GetSweepIntervalReply) error {
	reply.Milliseconds = c.Tracker.sweep.Interval().Milliseconds()
	return nil
}

type ZoneLimitSetArgs struct {
	Zone  uint16
	Limit int64
}
type ZoneLimitSetReply struct{}

// ZoneLimitSet installs or replaces zone's admission cap.
func (c *Commands) ZoneLimitSet(args *ZoneLimitSetArgs, reply *ZoneLimitSetReply) error {
	c.Tracker.zones.SetLimit(args.Zone, args.Limit)
	return nil
}

type ZoneLimitDelArgs struct {
	Zone uint16
}
type ZoneLimitDelReply struct{}

// ZoneLimitDel removes zone's admission cap.
func (c *Commands) ZoneLimitDel(args *ZoneLimitDelArgs, reply *ZoneLimitDelReply) error {
	c.Tracker.zones.DeleteLimit(args.Zone)
	return nil
}

type ZoneLimitGetArgs struct {
	Zone uint16
}
type ZoneLimitGetReply struct {
	Found        bool
	Limit        int64
	CurrentCount int64
}

// ZoneLimitGet reports zone's current admission cap, if one is set.
func (c *Commands) ZoneLimitGet(args *ZoneLimitGetArgs, reply *ZoneLimitGetReply) error {
	l, ok := c.Tracker.zones.GetLimit(args.Zone)
	reply.Found = ok
	reply.Limit = l.Limit
	reply.CurrentCount = l.CurrentCount
	return nil
}

type TCPSeqCheckArgs struct {
	Enabled bool
}
type TCPSeqCheckReply struct{}

// TCPSeqCheck toggles tcpHandler's right/left-edge sequence-window
// validation at runtime, mirroring the original's tcp_seq_chk knob.
func (c *Commands) TCPSeqCheck(args *TCPSeqCheckArgs, reply *TCPSeqCheckReply) error {
	c.Tracker.seqChk.Store(args.Enabled)
	return nil
}

type ListCommandsArgs struct{}
type ListCommandsReply struct {
	Commands []string
}

// ListCommands enumerates the RPC methods this service exposes.
func (c *Commands) ListCommands(args *ListCommandsArgs, reply *ListCommandsReply) error {
	reply.Commands = []string{
		"FlushConntrack", "FlushConntrackTuple",
		"SetMaxConns", "GetMaxConns",
		"SetSweepInterval", "GetSweepInterval",
		"ZoneLimitSet", "ZoneLimitDel", "ZoneLimitGet",
		"TCPSeqCheck", "ListCommands", "Version",
	}
	return nil
}

type VersionArgs struct{}
type VersionReply struct {
	Version string
}

// Version reports the conntrack RPC surface's protocol version.
func (c *Commands) Version(args *VersionArgs, reply *VersionReply) error {
	reply.Version = "1"
	return nil
}

// Stats is the RPC-facing conntrack statistics query, returning the same
// shape internal/metrics.Collector already exposes for kernel conntrack.
type StatsArgs struct {
	Max int
}
type StatsReply struct {
	Stats metrics.ConntrackStats
}

// Stats reports current tracker counters.
func (c *Commands) Stats(args *StatsArgs, reply *StatsReply) error {
	reply.Stats = c.Tracker.Snapshot(args.Max)
	return nil
}
