// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import (
	"context"
	"time"

	"grimm.is/flywall/internal/config"
	"grimm.is/flywall/internal/logging"
)

// NewTrackerFromConfig builds a Tracker from an HCL-parsed
// config.ConntrackConfig block, applying its zone limits and timeout
// policies before the sweeper starts.
func NewTrackerFromConfig(cfg *config.ConntrackConfig, log *logging.Logger) (*Tracker, context.CancelFunc) {
	tc := TrackerConfig{GlobalLimit: -1}
	if cfg != nil {
		if cfg.MaxConnections != 0 {
			tc.GlobalLimit = cfg.MaxConnections
		}
		if cfg.SweepIntervalMS > 0 {
			tc.SweepInterval = time.Duration(cfg.SweepIntervalMS) * time.Millisecond
		}
		tc.VerifyChecksums = cfg.VerifyChecksums
		tc.TCPSeqCheckDisabled = cfg.DisableTCPSeqCheck
	}

	tr, cancel := NewTracker(tc, log)

	if cfg != nil {
		for _, zl := range cfg.ZoneLimits {
			tr.zones.SetLimit(uint16(zl.Zone), zl.Limit)
		}
		for _, tp := range cfg.TimeoutPolicies {
			tr.zones.SetTimeoutPolicy(timeoutPolicyFromConfig(tp))
		}
	}

	return tr, cancel
}

func timeoutPolicyFromConfig(tp config.ConntrackTimeoutPolicy) TimeoutPolicy {
	d := DefaultTimeoutPolicy()
	policy := TimeoutPolicy{ID: tp.ID, TCP: d.TCP, UDP: d.UDP, ICMP: d.ICMP}

	if tp.TCPSynSent > 0 {
		policy.TCP.SynSent = tp.TCPSynSent
	}
	if tp.TCPSynRecv > 0 {
		policy.TCP.SynRecv = tp.TCPSynRecv
	}
	if tp.TCPEstablished > 0 {
		policy.TCP.Established = tp.TCPEstablished
	}
	if tp.TCPFinWait > 0 {
		policy.TCP.FinWait = tp.TCPFinWait
	}
	if tp.TCPCloseWait > 0 {
		policy.TCP.CloseWait = tp.TCPCloseWait
	}
	if tp.TCPLastAck > 0 {
		policy.TCP.LastAck = tp.TCPLastAck
	}
	if tp.TCPTimeWait > 0 {
		policy.TCP.TimeWait = tp.TCPTimeWait
	}
	if tp.TCPClose > 0 {
		policy.TCP.Close = tp.TCPClose
	}
	if tp.UDPUnreplied > 0 {
		policy.UDP.Unreplied = tp.UDPUnreplied
	}
	if tp.UDPEstablished > 0 {
		policy.UDP.Established = tp.UDPEstablished
	}
	if tp.ICMPTimeout > 0 {
		policy.ICMP = tp.ICMPTimeout
	}
	return policy
}
