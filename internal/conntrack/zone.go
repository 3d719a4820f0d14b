// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import "sync"

// zoneLimits tracks per-zone admission caps and a global cap (spec.md
// §4.9). Each entry's Generation lets a connection that recorded "I
// counted against zone Z, generation G" detect whether it should still
// decrement that same counter on teardown, or whether the limit was
// deleted and recreated out from under it.
type zoneLimits struct {
	mu sync.Mutex

	limits map[uint16]*ZoneLimit

	globalLimit int64 // -1 == unlimited
	globalCount int64

	policies map[string]TimeoutPolicy
}

func newZoneLimits() *zoneLimits {
	z := &zoneLimits{
		limits:      make(map[uint16]*ZoneLimit),
		globalLimit: -1,
		policies:    make(map[string]TimeoutPolicy),
	}
	z.policies["default"] = DefaultTimeoutPolicy()
	return z
}

// SetLimit installs or replaces the admission cap for zone, bumping its
// generation so in-flight connections admitted under the old limit do not
// decrement the new one's counter.
func (z *zoneLimits) SetLimit(zone uint16, limit int64) {
	z.mu.Lock()
	defer z.mu.Unlock()
	gen := uint64(1)
	if existing, ok := z.limits[zone]; ok {
		gen = existing.Generation + 1
	}
	z.limits[zone] = &ZoneLimit{Zone: zone, Limit: limit, Generation: gen}
}

// DeleteLimit removes zone's cap entirely; connections admitted under it
// no longer track a count (treated as unlimited going forward).
func (z *zoneLimits) DeleteLimit(zone uint16) {
	z.mu.Lock()
	defer z.mu.Unlock()
	delete(z.limits, zone)
}

// GetLimit returns a copy of zone's current limit state.
func (z *zoneLimits) GetLimit(zone uint16) (ZoneLimit, bool) {
	z.mu.Lock()
	defer z.mu.Unlock()
	l, ok := z.limits[zone]
	if !ok {
		return ZoneLimit{}, false
	}
	return *l, true
}

// Admit attempts to admit one connection into zone, checking the zone
// limit before the global limit (matching the original's check order: a
// zone-scoped deny should never be masked by global headroom). It returns
// the zone generation to record on the connection (for a matching
// Release) and whether admission succeeded.
func (z *zoneLimits) Admit(zone uint16) (gen uint64, hasZoneLimit bool, err error) {
	z.mu.Lock()
	defer z.mu.Unlock()

	if l, ok := z.limits[zone]; ok {
		if l.Limit >= 0 && l.CurrentCount >= l.Limit {
			return 0, true, ErrZoneLimitExhausted
		}
	}
	if z.globalLimit >= 0 && z.globalCount >= z.globalLimit {
		return 0, false, ErrGlobalLimitExhausted
	}

	z.globalCount++
	if l, ok := z.limits[zone]; ok {
		l.CurrentCount++
		return l.Generation, true, nil
	}
	return 0, false, nil
}

// Release returns one admitted slot to zone (and the global counter). gen
// must be the generation Admit returned; a stale generation (the limit
// was deleted and recreated since) is a no-op for the zone counter.
func (z *zoneLimits) Release(zone uint16, gen uint64, hadZoneLimit bool) {
	z.mu.Lock()
	defer z.mu.Unlock()

	if z.globalCount > 0 {
		z.globalCount--
	}
	if !hadZoneLimit {
		return
	}
	if l, ok := z.limits[zone]; ok && l.Generation == gen && l.CurrentCount > 0 {
		l.CurrentCount--
	}
}

// SetGlobalLimit sets the datapath-wide connection cap (-1 disables it).
func (z *zoneLimits) SetGlobalLimit(limit int64) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.globalLimit = limit
}

// GlobalLimit returns the current global cap and live count.
func (z *zoneLimits) GlobalLimit() (limit, count int64) {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.globalLimit, z.globalCount
}

// SetTimeoutPolicy installs a named timeout policy (spec.md §4.9's
// ct_zone_timeout_policy). The "default" policy always exists and can be
// overwritten but never deleted.
func (z *zoneLimits) SetTimeoutPolicy(policy TimeoutPolicy) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.policies[policy.ID] = policy
}

// TimeoutPolicyFor resolves a zone's effective timeout policy by name,
// falling back to "default" when id is empty or unknown.
func (z *zoneLimits) TimeoutPolicyFor(id string) TimeoutPolicy {
	z.mu.Lock()
	defer z.mu.Unlock()
	if p, ok := z.policies[id]; ok {
		return p
	}
	return z.policies["default"]
}
