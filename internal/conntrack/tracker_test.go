// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import (
	"context"
	"net"
	"net/netip"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/flywall/internal/logging"
)

func testTracker(t *testing.T) (*Tracker, context.CancelFunc) {
	t.Helper()
	tr, cancel := NewTracker(TrackerConfig{Basis: 1, GlobalLimit: -1}, logging.New(logging.DefaultConfig()))
	return tr, cancel
}

func synPacket(t *testing.T, src, dst string, sport, dport layers.TCPPort) []byte {
	return buildTCPv4(t, src, dst, sport, dport, func(tcp *layers.TCP) { tcp.SYN = true })
}

func synAckPacket(t *testing.T, src, dst string, sport, dport layers.TCPPort) []byte {
	return buildTCPv4(t, src, dst, sport, dport, func(tcp *layers.TCP) { tcp.SYN = true; tcp.ACK = true })
}

func ackPacket(t *testing.T, src, dst string, sport, dport layers.TCPPort) []byte {
	return buildTCPv4(t, src, dst, sport, dport, func(tcp *layers.TCP) { tcp.ACK = true })
}

// TestTrackerNewConnectionHandshake covers scenario S1: a new TCP flow is
// admitted on its opening SYN and reaches Established after the three-way
// handshake completes.
func TestTrackerNewConnectionHandshake(t *testing.T) {
	tr, cancel := testTracker(t)
	defer cancel()

	ctx := context.Background()
	syn := synPacket(t, "10.0.0.1", "10.0.0.2", 40000, 80)
	res, err := tr.Execute(ctx, Packet{Data: syn}, L3IPv4, 0, nil, "", nil)
	require.NoError(t, err)
	assert.Equal(t, CTStateNew|CTStateTracked, res.State)

	synack := synAckPacket(t, "10.0.0.2", "10.0.0.1", 80, 40000)
	res, err = tr.Execute(ctx, Packet{Data: synack}, L3IPv4, 0, nil, "", nil)
	require.NoError(t, err)
	assert.True(t, res.State&CTStateReplyDir != 0)
	assert.True(t, res.State&CTStateEstablished != 0)

	ack := ackPacket(t, "10.0.0.1", "10.0.0.2", 40000, 80)
	res, err = tr.Execute(ctx, Packet{Data: ack}, L3IPv4, 0, nil, "", nil)
	require.NoError(t, err)
	assert.True(t, res.State&CTStateEstablished != 0)
	assert.Equal(t, 1, tr.Stats())
}

// TestTrackerMidStreamPacketRejected covers the invariant that a bare ACK
// with no prior SYN can never admit a new connection.
func TestTrackerMidStreamPacketRejected(t *testing.T) {
	tr, cancel := testTracker(t)
	defer cancel()

	ack := ackPacket(t, "10.0.0.1", "10.0.0.2", 40000, 80)
	res, err := tr.Execute(context.Background(), Packet{Data: ack}, L3IPv4, 0, nil, "", nil)
	require.NoError(t, err)
	assert.Equal(t, CTStateInvalid, res.State)
	assert.Equal(t, 0, tr.Stats())
}

// TestTrackerSNAT covers scenario S3: a new connection admitted under an
// active SNAT directive gets a rewritten reverse tuple, and reply-direction
// packets addressed to the rewritten tuple resolve back to the same
// connection.
func TestTrackerSNAT(t *testing.T) {
	tr, cancel := testTracker(t)
	defer cancel()
	ctx := context.Background()

	nat := &NATDirective{
		Action:  NATActionSrc,
		MinAddr: netip.MustParseAddr("203.0.113.5"),
		MaxAddr: netip.MustParseAddr("203.0.113.5"),
	}

	syn := synPacket(t, "10.0.0.1", "93.184.216.34", 40000, 80)
	res, err := tr.Execute(ctx, Packet{Data: syn}, L3IPv4, 0, nat, "", nil)
	require.NoError(t, err)
	assert.True(t, res.State&CTStateSrcNAT != 0)

	// The reply arrives addressed to the NAT'd address, not the internal
	// client's real address.
	reply := synAckPacket(t, "93.184.216.34", "203.0.113.5", 80, 40000)
	res, err = tr.Execute(ctx, Packet{Data: reply}, L3IPv4, 0, nil, "", nil)
	require.NoError(t, err)
	assert.True(t, res.State&CTStateReplyDir != 0)
	assert.True(t, res.State&CTStateSrcNAT != 0)
}

// TestTrackerUnsupportedProtocolIgnored covers scenario S5: a protocol
// ExtractKey doesn't recognize is reported as untracked, not invalid.
func TestTrackerUnsupportedProtocolIgnored(t *testing.T) {
	tr, cancel := testTracker(t)
	defer cancel()

	ip := layers.IPv4{
		Version: 4, IHL: 5, TTL: 64,
		Protocol: layers.IPProtocolIGMP,
		SrcIP:    net.ParseIP("10.0.0.1").To4(),
		DstIP:    net.ParseIP("10.0.0.2").To4(),
	}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, &ip, gopacket.Payload("xx")))

	res, err := tr.Execute(context.Background(), Packet{Data: buf.Bytes()}, L3IPv4, 0, nil, "", nil)
	require.NoError(t, err)
	assert.Equal(t, CTState(0), res.State)
	assert.Equal(t, 0, tr.Stats())
}

// TestTrackerZoneAdmissionLimit covers scenario S4: a zone connection cap
// rejects admission once exhausted without affecting other zones.
func TestTrackerZoneAdmissionLimit(t *testing.T) {
	tr, cancel := testTracker(t)
	defer cancel()
	ctx := context.Background()
	tr.zones.SetLimit(7, 1)

	first := synPacket(t, "10.0.0.1", "10.0.0.2", 40000, 80)
	res, err := tr.Execute(ctx, Packet{Data: first}, L3IPv4, 7, nil, "", nil)
	require.NoError(t, err)
	assert.Equal(t, CTStateNew|CTStateTracked, res.State)

	second := synPacket(t, "10.0.0.3", "10.0.0.4", 40001, 80)
	_, err = tr.Execute(ctx, Packet{Data: second}, L3IPv4, 7, nil, "", nil)
	assert.Error(t, err)

	other := synPacket(t, "10.0.0.5", "10.0.0.6", 40002, 80)
	res, err = tr.Execute(ctx, Packet{Data: other}, L3IPv4, 9, nil, "", nil)
	require.NoError(t, err)
	assert.Equal(t, CTStateNew|CTStateTracked, res.State)
}

func dataPacket(t *testing.T, src, dst string, sport, dport layers.TCPPort, payload []byte) []byte {
	t.Helper()
	ip := layers.IPv4{
		Version: 4, IHL: 5, TTL: 64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.ParseIP(dst).To4(),
	}
	tcp := layers.TCP{SrcPort: sport, DstPort: dport, Seq: 2000, Ack: 1, ACK: true, Window: 65535}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(&ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, &ip, &tcp, gopacket.Payload(payload)))
	return buf.Bytes()
}

// TestTrackerFTPRewriteSurfacesSkew covers spec.md §4.5 step 5: once the FTP
// helper rewrites a PORT announcement on a SNAT'd control connection, the
// rewritten payload and accumulated sequence skew reach the Execute caller
// through ExecuteResult, not just the connection's internal bookkeeping.
func TestTrackerFTPRewriteSurfacesSkew(t *testing.T) {
	tr, cancel := testTracker(t)
	defer cancel()
	ctx := context.Background()

	nat := &NATDirective{
		Action:  NATActionSrc,
		MinAddr: netip.MustParseAddr("203.0.113.5"),
		MaxAddr: netip.MustParseAddr("203.0.113.5"),
	}

	syn := synPacket(t, "10.0.0.1", "198.51.100.1", 2000, 21)
	_, err := tr.Execute(ctx, Packet{Data: syn}, L3IPv4, 0, nat, "", nil)
	require.NoError(t, err)

	synack := synAckPacket(t, "198.51.100.1", "203.0.113.5", 21, 2000)
	_, err = tr.Execute(ctx, Packet{Data: synack}, L3IPv4, 0, nil, "", nil)
	require.NoError(t, err)

	ack := ackPacket(t, "10.0.0.1", "198.51.100.1", 2000, 21)
	_, err = tr.Execute(ctx, Packet{Data: ack}, L3IPv4, 0, nil, "", nil)
	require.NoError(t, err)

	payload := []byte("PORT 10,0,0,1,20,0\r\n")
	data := dataPacket(t, "10.0.0.1", "198.51.100.1", 2000, 21, payload)
	res, err := tr.Execute(ctx, Packet{Data: data}, L3IPv4, 0, nil, "ftp", payload)
	require.NoError(t, err)

	require.NotNil(t, res.Rewritten)
	assert.Contains(t, string(res.Rewritten), "203,0,113,5,20,0", "PORT must be rewritten to the SNAT'd client address")
	assert.Equal(t, int32(3), res.SeqSkew)
	assert.Equal(t, DirFwd, res.SeqSkewDir)
}

// TestTrackerFlushByFilter covers the RPC-driven flush path: ForceExpireAll
// reclaims only connections the filter selects.
func TestTrackerFlushByFilter(t *testing.T) {
	tr, cancel := testTracker(t)
	defer cancel()
	ctx := context.Background()

	a := synPacket(t, "10.0.0.1", "10.0.0.2", 40000, 80)
	b := synPacket(t, "10.0.0.3", "10.0.0.4", 40001, 80)
	_, err := tr.Execute(ctx, Packet{Data: a}, L3IPv4, 0, nil, "", nil)
	require.NoError(t, err)
	_, err = tr.Execute(ctx, Packet{Data: b}, L3IPv4, 0, nil, "", nil)
	require.NoError(t, err)
	require.Equal(t, 2, tr.Stats())

	target := netip.MustParseAddr("10.0.0.1")
	n := tr.Flush(func(k Key) bool { return k.Src.Addr == target || k.Dst.Addr == target })
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, tr.Stats())
}
