// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import (
	"context"
	"errors"
	"net/netip"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"grimm.is/flywall/internal/logging"
	"grimm.is/flywall/internal/metrics"
)

// TrackerConfig configures a Tracker at construction time.
type TrackerConfig struct {
	// Basis seeds the symmetric flow-key hash. Leave zero to have
	// NewTracker draw a random one; set explicitly only to make shard
	// placement reproducible across runs (e.g. in tests).
	Basis uint64

	// VerifyChecksums enables header/L4 checksum validation during key
	// extraction. Off by default: most callers run after the kernel (or
	// an upstream eBPF hook) has already validated checksums, so paying
	// for it twice is wasted work.
	VerifyChecksums bool

	// SweepInterval is the sweeper's tick period, clamped to
	// minSweepInterval.
	SweepInterval time.Duration

	// GlobalLimit bounds the total number of tracked connections, -1 for
	// unlimited.
	GlobalLimit int64

	// TCPSeqCheckDisabled turns off tcpHandler's right/left-edge window
	// validation (spec's tcp-seq-check option). Left false (checking on)
	// by default, matching the original's default-enabled behavior.
	TCPSeqCheckDisabled bool
}

// Tracker is the C8 orchestrator: it wires the key extractor, flow table,
// protocol FSMs, NAT allocator, ALG helpers, expectation table, and
// sweeper into the single per-packet Execute entry point spec.md §6
// describes.
type Tracker struct {
	table   *Table
	zones   *zoneLimits
	expect  *expectTable
	sweep   *sweeper
	metrics *Metrics
	log     *logging.Logger

	natWarn *rate.Limiter
	algWarn *rate.Limiter

	seqChk atomic.Bool
}

// NewTracker constructs a Tracker and starts its background sweeper. The
// returned context.CancelFunc should be deferred by the caller to stop the
// sweeper goroutine.
func NewTracker(cfg TrackerConfig, log *logging.Logger) (*Tracker, context.CancelFunc) {
	basis := cfg.Basis
	if basis == 0 {
		basis, _ = randomBasis()
	}

	zones := newZoneLimits()
	if cfg.GlobalLimit != 0 {
		zones.SetGlobalLimit(cfg.GlobalLimit)
	}

	table := NewTable(basis)
	expectT := newExpectTable()
	m := NewMetrics()

	sweepInterval := cfg.SweepInterval
	if sweepInterval == 0 {
		sweepInterval = 30 * time.Second
	}
	sw := newSweeper(table, zones, expectT, sweepInterval, log)
	sw.onReclaim = func(c *Connection) { m.incDelete() }

	tr := &Tracker{
		table:   table,
		zones:   zones,
		expect:  expectT,
		sweep:   sw,
		metrics: m,
		log:     log,
		natWarn: rate.NewLimiter(rate.Every(time.Second), 1),
		algWarn: rate.NewLimiter(rate.Every(time.Second), 1),
	}
	tr.seqChk.Store(!cfg.TCPSeqCheckDisabled)

	ctx, cancel := context.WithCancel(context.Background())
	go sw.Run(ctx)
	return tr, cancel
}

// ExecuteResult is the datapath-facing outcome of one Execute call.
type ExecuteResult struct {
	State CTState
	Mark  uint32
	Label Label
	// NATKey, when non-zero, is the rewritten reverse tuple the caller
	// should use to construct the actual NAT rewrite action.
	NATKey Key

	// Rewritten, when non-nil, is the ALG-modified payload (e.g. FTP's
	// PORT/PASV address substitution under NAT) the caller should
	// transmit in place of the packet's original payload.
	Rewritten []byte

	// SeqSkew and SeqSkewDir report the connection's accumulated TCP
	// sequence-number skew from ALG payload rewrites (spec.md §4.5 step
	// 5): every subsequent segment flowing in SeqSkewDir needs its ack
	// decremented by SeqSkew, and every segment flowing the other way
	// needs its seq incremented by SeqSkew. Zero when no ALG rewrite has
	// happened on this connection.
	SeqSkew    int32
	SeqSkewDir Direction
}

// Execute runs one packet through the full conntrack pipeline (spec.md
// §4.8's process_one): extract its key, resolve it against an existing
// connection or attempt to admit a new one, advance protocol state, run
// any named ALG helper, and report the resulting ct-state.
//
// nat is consulted only when creating a new connection (an existing
// connection's NAT decision was already made when it was created). helper
// names the ALG ("ftp", "tftp") whose control-channel payload this packet
// may carry, or "" if none applies.
func (tr *Tracker) Execute(ctx context.Context, pkt Packet, l3 L3Type, zone uint16, nat *NATDirective, helper string, payload []byte) (ExecuteResult, error) {
	key, related, err := ExtractKey(pkt, l3, zone)
	if err != nil {
		if errors.Is(err, ErrMalformedPacket) {
			tr.metrics.incInvalid()
			return ExecuteResult{State: CTStateInvalid}, nil
		}
		if errors.Is(err, ErrUnsupportedProtocol) {
			tr.metrics.incIgnore()
			return ExecuteResult{State: 0}, nil
		}
		return ExecuteResult{}, err
	}

	tr.metrics.incSearched()
	conn, dir, found := tr.table.Lookup(key)
	if found {
		tr.metrics.incFound()
		return tr.updateExisting(conn, dir, related, l3, pkt, helper, payload)
	}

	if related {
		// An ICMP error cannot start a brand new flow; it can only ever
		// be RELATED to one that already exists.
		tr.metrics.incInvalid()
		return ExecuteResult{State: CTStateInvalid}, nil
	}

	return tr.admitNew(key, l3, zone, pkt, nat, helper, payload)
}

func (tr *Tracker) admitNew(key Key, l3 L3Type, zone uint16, pkt Packet, nat *NATDirective, helperName string, payload []byte) (ExecuteResult, error) {
	handler := handlerFor(key.L4)
	if handler == nil {
		tr.metrics.incIgnore()
		return ExecuteResult{State: 0}, nil
	}

	ppkt, err := protoFields(pkt, l3)
	if err != nil {
		tr.metrics.incInvalid()
		return ExecuteResult{State: CTStateInvalid}, nil
	}

	exp, expFound := tr.expect.Match(key)
	if !expFound && !handler.validNew(&ppkt) {
		tr.metrics.incInvalid()
		return ExecuteResult{State: CTStateInvalid}, nil
	}

	gen, hasZoneLimit, admitErr := tr.zones.Admit(zone)
	if admitErr != nil {
		tr.metrics.incDrop()
		return ExecuteResult{State: CTStateInvalid}, admitErr
	}

	conn := &Connection{
		timeoutPolicy: "default",
		admitZone:     zone,
		admitZoneGen:  gen,
		hasAdmitZone:  hasZoneLimit,
	}
	conn.fwd = keyNode{key: key, dir: DirFwd, conn: conn}

	if expFound {
		conn.algRelated = true
		conn.parentKey = exp.ParentKey
		conn.mark = exp.ParentMark
		conn.label = exp.ParentLabel
	}

	policy := tr.zones.TimeoutPolicyFor(conn.timeoutPolicy)
	now := time.Now().UnixMilli()
	conn.SetExpiration(handler.newConn(conn, &ppkt, policy, now))

	state := CTStateNew | CTStateTracked

	switch {
	case nat != nil:
		revKey, natErr := (natAllocator{table: tr.table}).allocate(key, *nat)
		if natErr != nil {
			tr.zones.Release(zone, gen, hasZoneLimit)
			tr.metrics.NATAllocFailed.Inc()
			if tr.natWarn.Allow() {
				tr.log.Warn("conntrack NAT allocation exhausted", "zone", zone)
			}
			return ExecuteResult{}, natErr
		}
		conn.rev = keyNode{key: revKey, dir: DirRev, conn: conn}
		conn.natActive = true
		conn.natAction = nat.Action
		if nat.Action&NATActionSrc != 0 {
			state |= CTStateSrcNAT
		}
		if nat.Action&NATActionDst != 0 {
			state |= CTStateDstNAT
		}

	case expFound && exp.NATReplacementAddr.IsValid():
		revKey := key.Reverse()
		if exp.NATReplaceDst {
			revKey.Src.Addr = exp.NATReplacementAddr
		} else {
			revKey.Dst.Addr = exp.NATReplacementAddr
		}
		conn.rev = keyNode{key: revKey, dir: DirRev, conn: conn}
		conn.natActive = true
		state |= CTStateSrcNAT | CTStateDstNAT
	}

	tr.table.Insert(conn)
	tr.metrics.incInsert()
	tr.metrics.incNew()
	tr.sweep.track(conn)

	if expFound {
		tr.expect.Remove(exp)
	}

	var rewritten []byte
	if helperName != "" {
		rewritten = tr.runALG(conn, DirFwd, helperName, payload)
	}
	skew, skewDir := conn.SeqSkew()

	return ExecuteResult{State: state, Mark: conn.Mark(), Label: conn.Label(), Rewritten: rewritten, SeqSkew: skew, SeqSkewDir: skewDir}, nil
}

func (tr *Tracker) updateExisting(conn *Connection, dir Direction, related bool, l3 L3Type, pkt Packet, helperName string, payload []byte) (ExecuteResult, error) {
	state := CTStateTracked
	if dir == DirRev {
		state |= CTStateReplyDir
	}
	if conn.NATActive() {
		if conn.natAction&NATActionSrc != 0 {
			state |= CTStateSrcNAT
		}
		if conn.natAction&NATActionDst != 0 {
			state |= CTStateDstNAT
		}
	}

	if related {
		// ICMP errors are informational: they do not drive the
		// protocol FSM, only report that this packet relates to an
		// already-tracked flow.
		return ExecuteResult{State: state | CTStateRelated, Mark: conn.Mark(), Label: conn.Label()}, nil
	}

	handler := handlerFor(conn.Key().L4)
	ppkt, err := protoFields(pkt, l3)
	if err != nil {
		tr.metrics.incInvalid()
		return ExecuteResult{State: CTStateInvalid}, nil
	}
	ppkt.SeqChk = tr.seqChk.Load()

	policy := tr.zones.TimeoutPolicyFor(conn.timeoutPolicy)
	now := time.Now().UnixMilli()
	nextExpiration, valid := handler.update(conn, &ppkt, dir == DirRev, policy, now)
	if !valid {
		tr.metrics.incInvalid()
		return ExecuteResult{State: CTStateInvalid}, nil
	}
	conn.SetExpiration(nextExpiration)
	state |= CTStateEstablished

	var rewritten []byte
	if helperName != "" {
		rewritten = tr.runALG(conn, dir, helperName, payload)
	}

	// Every TCP segment on an ALG-tracked connection carries the
	// accumulated skew, not just the one that triggered the rewrite:
	// spec.md §4.5 step 5 requires subsequent segments in either
	// direction to have their seq/ack adjusted by it.
	var skew int32
	var skewDir Direction
	if conn.Key().L4 == L4TCP {
		skew, skewDir = conn.SeqSkew()
	}

	return ExecuteResult{State: state, Mark: conn.Mark(), Label: conn.Label(), Rewritten: rewritten, SeqSkew: skew, SeqSkewDir: skewDir}, nil
}

// runALG inspects payload with the named helper, registering any resulting
// expectations and folding a rewrite's byte delta into the connection's
// accumulated sequence skew. It returns the rewritten payload, or nil if
// the payload was not modified.
func (tr *Tracker) runALG(conn *Connection, dir Direction, helperName string, payload []byte) []byte {
	if len(payload) == 0 {
		return nil
	}
	helper := algHelperFor(helperName)
	if helper == nil {
		return nil
	}
	conn.helper = helperName

	var replacementAddr netip.Addr
	natActive := conn.NATActive()
	if natActive {
		rev := conn.ReverseKey()
		// Whichever side NAT rewrote is the address a peer needs to see
		// in place of the real one: SRC NAT lands its replacement on the
		// reverse key's Dst (applyNATCandidate's placement), DST NAT on
		// its Src.
		if conn.natAction&NATActionSrc != 0 {
			replacementAddr = rev.Dst.Addr
		} else if conn.natAction&NATActionDst != 0 {
			replacementAddr = rev.Src.Addr
		}
	}

	res, err := helper.inspect(conn, dir, payload, replacementAddr, natActive)
	if err != nil {
		if tr.algWarn.Allow() {
			tr.log.Warn("conntrack ALG inspection failed", "helper", helperName, "error", err)
		}
		return nil
	}
	for _, exp := range res.Expectations {
		tr.expect.Add(exp)
		tr.metrics.ExpectationsActive.Inc()
	}
	if res.SkewDelta != 0 {
		skew, _ := conn.SeqSkew()
		conn.SetSeqSkew(skew+res.SkewDelta, dir)
	}
	return res.Rewritten
}

// Flush reclaims every connection matching filter (nil matches all),
// returning the count reclaimed. Used by the control-plane flush-conntrack
// commands.
func (tr *Tracker) Flush(filter func(Key) bool) int {
	return tr.sweep.ForceExpireAll(filter)
}

// Stats reports current table occupancy.
func (tr *Tracker) Stats() (current int) {
	return tr.table.Len()
}

// Snapshot renders the tracker's counters in the shared ConntrackStats
// shape (see metrics.go).
func (tr *Tracker) Snapshot(max int) metrics.ConntrackStats {
	return tr.metrics.Snapshot(tr.Stats(), max)
}
