// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRPCZoneLimitRoundTrip(t *testing.T) {
	tr, cancel := testTracker(t)
	defer cancel()
	cmds := NewCommands(tr)

	require.NoError(t, cmds.ZoneLimitSet(&ZoneLimitSetArgs{Zone: 5, Limit: 3}, &ZoneLimitSetReply{}))

	var get ZoneLimitGetReply
	require.NoError(t, cmds.ZoneLimitGet(&ZoneLimitGetArgs{Zone: 5}, &get))
	assert.True(t, get.Found)
	assert.Equal(t, int64(3), get.Limit)

	require.NoError(t, cmds.ZoneLimitDel(&ZoneLimitDelArgs{Zone: 5}, &ZoneLimitDelReply{}))
	get = ZoneLimitGetReply{}
	require.NoError(t, cmds.ZoneLimitGet(&ZoneLimitGetArgs{Zone: 5}, &get))
	assert.False(t, get.Found)
}

func TestRPCSetSweepIntervalClamped(t *testing.T) {
	tr, cancel := testTracker(t)
	defer cancel()
	cmds := NewCommands(tr)

	var reply SetSweepIntervalReply
	require.NoError(t, cmds.SetSweepInterval(&SetSweepIntervalArgs{Milliseconds: 1}, &reply))
	assert.Equal(t, minSweepInterval.Milliseconds(), reply.AppliedMilliseconds)
}

func TestRPCFlushConntrackTuple(t *testing.T) {
	tr, cancel := testTracker(t)
	defer cancel()
	cmds := NewCommands(tr)

	syn := synPacket(t, "10.0.0.1", "10.0.0.2", 40000, 80)
	_, err := tr.Execute(context.Background(), Packet{Data: syn}, L3IPv4, 0, nil, "", nil)
	require.NoError(t, err)
	require.Equal(t, 1, tr.Stats())

	args := &FlushConntrackTupleArgs{
		SrcAddr: "10.0.0.1", DstAddr: "10.0.0.2",
		SrcPort: 40000, DstPort: 80,
		Proto: uint8(L4TCP),
	}
	var reply FlushConntrackTupleReply
	require.NoError(t, cmds.FlushConntrackTuple(args, &reply))
	assert.True(t, reply.Flushed)
	assert.Equal(t, 0, tr.Stats())
}

func TestRPCFlushConntrackTupleNotFound(t *testing.T) {
	tr, cancel := testTracker(t)
	defer cancel()
	cmds := NewCommands(tr)

	args := &FlushConntrackTupleArgs{
		SrcAddr: "10.0.0.1", DstAddr: "10.0.0.2",
		SrcPort: 1, DstPort: 2,
		Proto: uint8(L4TCP),
	}
	var reply FlushConntrackTupleReply
	err := cmds.FlushConntrackTuple(args, &reply)
	assert.ErrorIs(t, err, ErrConnNotFound)
}

func TestRPCGetMaxConns(t *testing.T) {
	tr, cancel := testTracker(t)
	defer cancel()
	cmds := NewCommands(tr)

	require.NoError(t, cmds.SetMaxConns(&SetMaxConnsArgs{Limit: 42}, &SetMaxConnsReply{}))
	var reply GetMaxConnsReply
	require.NoError(t, cmds.GetMaxConns(&GetMaxConnsArgs{}, &reply))
	assert.Equal(t, int64(42), reply.Limit)
}

func TestRPCStats(t *testing.T) {
	tr, cancel := testTracker(t)
	defer cancel()
	cmds := NewCommands(tr)

	syn := synPacket(t, "10.0.0.1", "10.0.0.2", 40000, 80)
	_, err := tr.Execute(context.Background(), Packet{Data: syn}, L3IPv4, 0, nil, "", nil)
	require.NoError(t, err)

	var reply StatsReply
	require.NoError(t, cmds.Stats(&StatsArgs{Max: 100}, &reply))
	assert.Equal(t, 1, reply.Stats.Current)
	assert.Equal(t, 100, reply.Stats.Max)
	assert.GreaterOrEqual(t, reply.Stats.New, uint64(1))
}
