// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/flywall/internal/config"
	"grimm.is/flywall/internal/logging"
)

func TestNewTrackerFromConfigNil(t *testing.T) {
	tr, cancel := NewTrackerFromConfig(nil, logging.New(logging.DefaultConfig()))
	defer cancel()
	require.NotNil(t, tr)
}

func TestNewTrackerFromConfigAppliesLimitsAndPolicies(t *testing.T) {
	cfg := &config.ConntrackConfig{
		MaxConnections:  10,
		SweepIntervalMS: 5000,
		VerifyChecksums: true,
		ZoneLimits: []config.ConntrackZoneLimit{
			{Zone: 5, Limit: 3},
		},
		TimeoutPolicies: []config.ConntrackTimeoutPolicy{
			{ID: "fast", TCPEstablished: 1000, UDPUnreplied: 500},
		},
	}

	tr, cancel := NewTrackerFromConfig(cfg, logging.New(logging.DefaultConfig()))
	defer cancel()

	limit, ok := tr.zones.GetLimit(5)
	require.True(t, ok)
	assert.Equal(t, int64(3), limit.Limit)

	policy := tr.zones.TimeoutPolicyFor("fast")
	assert.Equal(t, int64(1000), policy.TCP.Established)
	assert.Equal(t, int64(500), policy.UDP.Unreplied)
	// Fields left zero in the HCL block fall back to the defaults rather
	// than becoming a zero timeout.
	assert.Equal(t, DefaultTimeoutPolicy().TCP.SynSent, policy.TCP.SynSent)
}

func TestTimeoutPolicyFromConfigDefaultsUnsetFields(t *testing.T) {
	policy := timeoutPolicyFromConfig(config.ConntrackTimeoutPolicy{ID: "bare"})
	d := DefaultTimeoutPolicy()
	assert.Equal(t, d.TCP, policy.TCP)
	assert.Equal(t, d.UDP, policy.UDP)
	assert.Equal(t, d.ICMP, policy.ICMP)
	assert.Equal(t, "bare", policy.ID)
}

func TestNewTrackerFromConfigSweepIntervalClamped(t *testing.T) {
	cfg := &config.ConntrackConfig{SweepIntervalMS: 1}
	tr, cancel := NewTrackerFromConfig(cfg, logging.New(logging.DefaultConfig()))
	defer cancel()
	assert.GreaterOrEqual(t, tr.sweep.Interval(), minSweepInterval)
}
