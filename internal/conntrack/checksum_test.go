// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInternetChecksumRoundTrip(t *testing.T) {
	data := []byte{0x45, 0x00, 0x00, 0x3c, 0x1c, 0x46, 0x40, 0x00, 0x40, 0x06, 0x00, 0x00, 0xac, 0x10, 0x0a, 0x63, 0xac, 0x10, 0x0a, 0x0c}
	sum := internetChecksum(data)
	data[10] = byte(sum >> 8)
	data[11] = byte(sum)
	assert.Equal(t, uint16(0), internetChecksum(data), "summing over a header with its own checksum filled in must fold to zero")
}

func TestVerifyIPv4HeaderChecksum(t *testing.T) {
	data := []byte{0x45, 0x00, 0x00, 0x3c, 0x1c, 0x46, 0x40, 0x00, 0x40, 0x06, 0x00, 0x00, 0xac, 0x10, 0x0a, 0x63, 0xac, 0x10, 0x0a, 0x0c}
	sum := internetChecksum(data)
	data[10] = byte(sum >> 8)
	data[11] = byte(sum)
	assert.True(t, verifyIPv4HeaderChecksum(data, len(data)))

	data[10] ^= 0xff
	assert.False(t, verifyIPv4HeaderChecksum(data, len(data)))
}

func TestVerifyIPv4HeaderChecksumShortBuffer(t *testing.T) {
	assert.False(t, verifyIPv4HeaderChecksum([]byte{0x45, 0x00}, 20))
}

func TestVerifyL4Checksum4RoundTrip(t *testing.T) {
	src := [4]byte{10, 0, 0, 1}
	dst := [4]byte{10, 0, 0, 2}
	l4 := []byte{0x1f, 0x90, 0x00, 0x50, 0x00, 0x00, 0x00, 0x00}

	pseudo := pseudoHeaderSum4(src, dst, uint8(L4TCP), len(l4))
	sum := checksumWithPseudo(pseudo, l4)
	l4[6] = byte(sum >> 8)
	l4[7] = byte(sum)

	assert.True(t, verifyL4Checksum4(src, dst, uint8(L4TCP), l4))
	l4[0] ^= 0xff
	assert.False(t, verifyL4Checksum4(src, dst, uint8(L4TCP), l4))
}

func TestVerifyL4Checksum6RoundTrip(t *testing.T) {
	var src, dst [16]byte
	src[15] = 1
	dst[15] = 2
	l4 := []byte{0x1f, 0x90, 0x00, 0x50, 0x00, 0x00, 0x00, 0x00, 0x00}

	pseudo := pseudoHeaderSum6(src, dst, uint8(L4UDP), len(l4))
	sum := checksumWithPseudo(pseudo, l4)
	l4[6] = byte(sum >> 8)
	l4[7] = byte(sum)

	assert.True(t, verifyL4Checksum6(src, dst, uint8(L4UDP), l4))
}
