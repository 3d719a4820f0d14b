// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import (
	"container/list"
	"context"
	"sync"
	"time"

	"grimm.is/flywall/internal/logging"
)

// numExpireLists is the size of the sweeper's rotating ring of FIFOs
// (spec.md §4.7's N_EXP_LISTS). Every live connection sits in exactly one
// list at a time; each sweep tick advances the ring by one list, bounding
// the work done per tick to roughly (live connections / numExpireLists)
// regardless of how many connections are tracked in total.
const numExpireLists = 16

// minSweepInterval is the shortest period between sweep ticks regardless
// of configuration, preventing a misconfigured short interval from
// turning the sweeper into a busy loop.
const minSweepInterval = 200 * time.Millisecond

// sweeper retires expired connections in the background. Connections are
// distributed across numExpireLists FIFOs by insertion order; each tick
// only walks the single list whose turn it is, re-bucketing survivors at
// the tail of the next list so the overall ring rotates at the same rate
// expirations are checked.
type sweeper struct {
	mu    sync.Mutex
	lists [numExpireLists]*list.List
	cur   int

	table   *Table
	zones   *zoneLimits
	expectT *expectTable

	interval time.Duration
	log      *logging.Logger

	onReclaim func(c *Connection)
}

func newSweeper(table *Table, zones *zoneLimits, expectT *expectTable, interval time.Duration, log *logging.Logger) *sweeper {
	if interval < minSweepInterval {
		interval = minSweepInterval
	}
	s := &sweeper{
		table:    table,
		zones:    zones,
		expectT:  expectT,
		interval: interval,
		log:      log,
	}
	for i := range s.lists {
		s.lists[i] = list.New()
	}
	return s
}

// track enrolls c in the sweeper's ring at the list whose turn is soonest,
// so a freshly created connection gets checked promptly rather than
// waiting a full rotation.
func (s *sweeper) track(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := (s.cur + 1) % numExpireLists
	s.lists[idx].PushBack(c)
}

// SetInterval updates the sweep period, clamped to minSweepInterval.
func (s *sweeper) SetInterval(d time.Duration) {
	if d < minSweepInterval {
		d = minSweepInterval
	}
	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()
}

// Interval returns the current sweep period.
func (s *sweeper) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Run drives the sweeper until ctx is canceled.
func (s *sweeper) Run(ctx context.Context) {
	for {
		s.mu.Lock()
		interval := s.interval
		s.mu.Unlock()

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.tick(time.Now())
		}
	}
}

// tick sweeps exactly one list in the ring, expiring dead connections and
// re-enqueueing survivors onto the next list.
func (s *sweeper) tick(now time.Time) {
	s.mu.Lock()
	idx := s.cur
	s.cur = (s.cur + 1) % numExpireLists
	l := s.lists[idx]
	next := s.lists[s.cur]
	s.mu.Unlock()

	nowMs := now.UnixMilli()

	s.mu.Lock()
	var toCheck []*Connection
	for e := l.Front(); e != nil; {
		n := e.Next()
		c := e.Value.(*Connection)
		l.Remove(e)
		toCheck = append(toCheck, c)
		e = n
	}
	s.mu.Unlock()

	var reclaimed int
	for _, c := range toCheck {
		if c.Reclaimed() {
			reclaimed++
			continue
		}
		if c.Expired(nowMs) {
			s.reclaim(c)
			reclaimed++
			continue
		}
		s.mu.Lock()
		next.PushBack(c)
		s.mu.Unlock()
	}

	if reclaimed > 0 && s.log != nil {
		s.log.Debug("conntrack sweep reclaimed connections", "count", reclaimed, "list", idx)
	}
}

// reclaim performs the exactly-once teardown of an expired connection:
// mark it reclaimed, remove it from the flow table, release any zone
// admission slot it held, clear ALG expectations it raised, and notify
// the caller-supplied hook (metrics, mostly).
func (s *sweeper) reclaim(c *Connection) {
	if !c.MarkReclaimed() {
		return
	}
	s.table.Remove(c)
	if c.hasAdmitZone {
		s.zones.Release(c.admitZone, c.admitZoneGen, true)
	} else {
		s.zones.Release(c.admitZone, 0, false)
	}
	if s.expectT != nil {
		s.expectT.RemoveForParent(c.Key())
	}
	if s.onReclaim != nil {
		s.onReclaim(c)
	}
}

// ForceExpireAll immediately reclaims every tracked connection whose key
// matches filter (filter == nil matches everything), used by the
// flush-conntrack RPC command. It returns the number of connections
// reclaimed.
func (s *sweeper) ForceExpireAll(filter func(Key) bool) int {
	var all []*Connection
	s.mu.Lock()
	for i := range s.lists {
		for e := s.lists[i].Front(); e != nil; e = e.Next() {
			all = append(all, e.Value.(*Connection))
		}
		s.lists[i].Init()
	}
	s.mu.Unlock()

	n := 0
	for _, c := range all {
		if filter != nil && !filter(c.Key()) {
			s.track(c)
			continue
		}
		s.reclaim(c)
		n++
	}
	return n
}
