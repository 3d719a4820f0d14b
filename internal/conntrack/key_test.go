// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import (
	"net"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTCPv4(t *testing.T, srcIP, dstIP string, srcPort, dstPort layers.TCPPort, flags func(*layers.TCP)) []byte {
	t.Helper()
	ip := layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP(srcIP).To4(),
		DstIP:    net.ParseIP(dstIP).To4(),
	}
	tcp := layers.TCP{
		SrcPort: srcPort,
		DstPort: dstPort,
		Seq:     1000,
		Window:  65535,
	}
	flags(&tcp)
	require.NoError(t, tcp.SetNetworkLayerForChecksum(&ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, &ip, &tcp, gopacket.Payload("hello")))
	return buf.Bytes()
}

func TestExtractKeyTCP(t *testing.T) {
	data := buildTCPv4(t, "10.0.0.1", "10.0.0.2", 12345, 80, func(tcp *layers.TCP) { tcp.SYN = true })

	k, related, err := ExtractKey(Packet{Data: data}, L3IPv4, 0)
	require.NoError(t, err)
	assert.False(t, related)
	assert.Equal(t, L4TCP, k.L4)
	assert.Equal(t, uint16(12345), k.Src.Port)
	assert.Equal(t, uint16(80), k.Dst.Port)
}

func TestExtractKeySymmetricHash(t *testing.T) {
	data := buildTCPv4(t, "10.0.0.1", "10.0.0.2", 12345, 80, func(tcp *layers.TCP) { tcp.SYN = true })
	k, _, err := ExtractKey(Packet{Data: data}, L3IPv4, 0)
	require.NoError(t, err)

	basis := uint64(42)
	assert.Equal(t, keyHash(k, basis), keyHash(k.Reverse(), basis))
}

func TestExtractKeyRejectsFragment(t *testing.T) {
	data := buildTCPv4(t, "10.0.0.1", "10.0.0.2", 12345, 80, func(tcp *layers.TCP) { tcp.SYN = true })
	// Set the fragment offset field non-zero (bytes 6-7 of the IPv4 header).
	data[6] = 0x00
	data[7] = 0x08

	_, _, err := ExtractKey(Packet{Data: data}, L3IPv4, 0)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestExtractKeyTruncated(t *testing.T) {
	_, _, err := ExtractKey(Packet{Data: []byte{0x45, 0x00}}, L3IPv4, 0)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

// TestProtoFieldsRejectsTruncatedTCPWindow covers an off-by-2 guard: a TCP
// segment whose L4 slice is exactly 14 or 15 bytes (enough for ports/seq/
// ack/flags, not enough for the window field at offset 14) must be rejected
// rather than panicking on an out-of-range slice read.
func TestProtoFieldsRejectsTruncatedTCPWindow(t *testing.T) {
	ip := layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP("10.0.0.1").To4(),
		DstIP:    net.ParseIP("10.0.0.2").To4(),
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: false}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, &ip))
	ipBytes := buf.Bytes()

	l4 := make([]byte, 15)
	data := append(ipBytes, l4...)
	// IPv4 total length must cover the truncated L4 payload.
	data[2] = byte(len(data) >> 8)
	data[3] = byte(len(data))

	_, err := protoFields(Packet{Data: data}, L3IPv4)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestExtractKeyICMPv4Echo(t *testing.T) {
	ip := layers.IPv4{
		Version: 4, IHL: 5, TTL: 64,
		Protocol: layers.IPProtocolICMPv4,
		SrcIP:    net.ParseIP("10.0.0.1").To4(),
		DstIP:    net.ParseIP("10.0.0.2").To4(),
	}
	icmp := layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
		Id:       7,
		Seq:      1,
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, &ip, &icmp, gopacket.Payload("ping")))

	k, related, err := ExtractKey(Packet{Data: buf.Bytes()}, L3IPv4, 0)
	require.NoError(t, err)
	assert.False(t, related)
	assert.Equal(t, L4ICMPv4, k.L4)
	assert.Equal(t, uint16(7), k.Src.ICMPID)
	assert.Equal(t, uint8(layers.ICMPv4TypeEchoReply), k.Dst.ICMPType)
}

func TestExtractKeyUnsupportedProtocol(t *testing.T) {
	ip := layers.IPv4{
		Version: 4, IHL: 5, TTL: 64,
		Protocol: layers.IPProtocolIGMP,
		SrcIP:    net.ParseIP("10.0.0.1").To4(),
		DstIP:    net.ParseIP("10.0.0.2").To4(),
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, &ip, gopacket.Payload("xx")))

	_, _, err := ExtractKey(Packet{Data: buf.Bytes()}, L3IPv4, 0)
	assert.ErrorIs(t, err, ErrUnsupportedProtocol)
}
