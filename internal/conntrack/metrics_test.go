// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsSnapshotReflectsCounters(t *testing.T) {
	m := NewMetrics()
	m.incSearched()
	m.incSearched()
	m.incFound()
	m.incNew()
	m.incInvalid()

	snap := m.Snapshot(3, 1000)
	assert.Equal(t, 3, snap.Current)
	assert.Equal(t, 1000, snap.Max)
	assert.Equal(t, uint64(2), snap.Searched)
	assert.Equal(t, uint64(1), snap.Found)
	assert.Equal(t, uint64(1), snap.New)
	assert.Equal(t, uint64(1), snap.Invalid)
}
