// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"grimm.is/flywall/internal/metrics"
)

// Metrics holds this tracker's Prometheus instruments, named and shaped
// the way internal/ebpf/metrics.Metrics names its own.
type Metrics struct {
	Searched     prometheus.Counter
	Found        prometheus.Counter
	New          prometheus.Counter
	Invalid      prometheus.Counter
	Ignore       prometheus.Counter
	Delete       prometheus.Counter
	Insert       prometheus.Counter
	InsertFailed prometheus.Counter
	Drop         prometheus.Counter
	EarlyDrop    prometheus.Counter

	Current *prometheus.GaugeVec // labeled by zone
	NATAllocFailed prometheus.Counter
	ExpectationsActive prometheus.Gauge
	SweepListSize *prometheus.GaugeVec // labeled by list index, for ring-rotation visibility

	// counters mirrored atomically for Snapshot(), which needs plain
	// integers rather than a Prometheus scrape round-trip.
	searched, found, new_, invalid, ignore, deleteC, insert, insertFailed, drop, earlyDrop atomic.Uint64
}

// NewMetrics constructs a tracker's Prometheus instruments.
func NewMetrics() *Metrics {
	return &Metrics{
		Searched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flywall_conntrack_searched_total",
			Help: "Total number of flow table lookups performed.",
		}),
		Found: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flywall_conntrack_found_total",
			Help: "Total number of flow table lookups that hit an existing connection.",
		}),
		New: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flywall_conntrack_new_total",
			Help: "Total number of connections admitted.",
		}),
		Invalid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flywall_conntrack_invalid_total",
			Help: "Total number of packets classified INVALID.",
		}),
		Ignore: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flywall_conntrack_ignore_total",
			Help: "Total number of packets left untracked (unsupported protocol).",
		}),
		Delete: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flywall_conntrack_delete_total",
			Help: "Total number of connections reclaimed.",
		}),
		Insert: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flywall_conntrack_insert_total",
			Help: "Total number of connections successfully inserted into the flow table.",
		}),
		InsertFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flywall_conntrack_insert_failed_total",
			Help: "Total number of admitted connections that failed flow table insertion.",
		}),
		Drop: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flywall_conntrack_drop_total",
			Help: "Total number of packets dropped due to admission limits.",
		}),
		EarlyDrop: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flywall_conntrack_early_drop_total",
			Help: "Total number of connections evicted early to make room under pressure.",
		}),
		Current: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flywall_conntrack_current",
			Help: "Current number of tracked connections, by zone.",
		}, []string{"zone"}),
		NATAllocFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flywall_conntrack_nat_alloc_failed_total",
			Help: "Total number of NAT tuple allocations that exhausted their probe budget.",
		}),
		ExpectationsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flywall_conntrack_expectations_active",
			Help: "Current number of registered ALG expectations.",
		}),
		SweepListSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flywall_conntrack_sweep_list_size",
			Help: "Number of connections currently queued in each sweeper ring list.",
		}, []string{"list"}),
	}
}

func (m *Metrics) incSearched()     { m.Searched.Inc(); m.searched.Add(1) }
func (m *Metrics) incFound()        { m.Found.Inc(); m.found.Add(1) }
func (m *Metrics) incNew()          { m.New.Inc(); m.new_.Add(1) }
func (m *Metrics) incInvalid()      { m.Invalid.Inc(); m.invalid.Add(1) }
func (m *Metrics) incIgnore()       { m.Ignore.Inc(); m.ignore.Add(1) }
func (m *Metrics) incDelete()       { m.Delete.Inc(); m.deleteC.Add(1) }
func (m *Metrics) incInsert()       { m.Insert.Inc(); m.insert.Add(1) }
func (m *Metrics) incInsertFailed() { m.InsertFailed.Inc(); m.insertFailed.Add(1) }
func (m *Metrics) incDrop()         { m.Drop.Inc(); m.drop.Add(1) }
func (m *Metrics) incEarlyDrop()    { m.EarlyDrop.Inc(); m.earlyDrop.Add(1) }

// Snapshot renders the tracker's counters into the pre-existing
// ConntrackStats shape internal/metrics.Collector already exposes over the
// control plane, so a deployment running this userspace tracker instead
// of kernel nf_conntrack can feed the same struct through the same RPC
// surface.
func (m *Metrics) Snapshot(current, max int) metrics.ConntrackStats {
	return metrics.ConntrackStats{
		Current:      current,
		Max:          max,
		Searched:     m.searched.Load(),
		Found:        m.found.Load(),
		New:          m.new_.Load(),
		Invalid:      m.invalid.Load(),
		Ignore:       m.ignore.Load(),
		Delete:       m.deleteC.Load(),
		Insert:       m.insert.Load(),
		InsertFailed: m.insertFailed.Load(),
		Drop:         m.drop.Load(),
		EarlyDrop:    m.earlyDrop.Load(),
	}
}
