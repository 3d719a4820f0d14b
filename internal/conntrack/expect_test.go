// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpectTableMatchWildcardsSourcePort(t *testing.T) {
	et := newExpectTable()
	parent := tcpKey("10.0.0.1", "198.51.100.1", 2000, 21)
	exp := &Expectation{
		Key:       tcpKey("198.51.100.1", "10.0.0.1", 0, 5120),
		ParentKey: parent,
	}
	et.Add(exp)

	// Any source port on the expected side must match, since the passive
	// side's ephemeral port can never be predicted in advance.
	found, ok := et.Match(tcpKey("198.51.100.1", "10.0.0.1", 30000, 5120))
	require.True(t, ok)
	assert.Equal(t, parent, found.ParentKey)
}

func TestExpectTableMatchHonoursSrcAddrWildcard(t *testing.T) {
	et := newExpectTable()
	parent := tcpKey("10.0.0.1", "192.0.2.1", 2000, 5060)
	exp := &Expectation{
		Key:             tcpKey("198.51.100.9", "10.0.0.1", 0, 5120),
		SrcAddrWildcard: true,
		ParentKey:       parent,
	}
	et.Add(exp)

	// A SIP-style wildcard on the source address means any source
	// address at all may match, not just the one recorded on Add.
	_, ok := et.Match(tcpKey("203.0.113.9", "10.0.0.1", 1234, 5120))
	assert.True(t, ok)
}

func TestExpectTableMatchWithoutSrcAddrWildcardRequiresAddr(t *testing.T) {
	et := newExpectTable()
	exp := &Expectation{
		Key:             tcpKey("198.51.100.9", "10.0.0.1", 0, 5120),
		SrcAddrWildcard: false,
		ParentKey:       tcpKey("10.0.0.1", "192.0.2.1", 2000, 5060),
	}
	et.Add(exp)

	_, ok := et.Match(tcpKey("203.0.113.9", "10.0.0.1", 1234, 5120))
	assert.False(t, ok, "a non-wildcarded expectation must not match a different source address")
}

func TestExpectTableRemoveForParent(t *testing.T) {
	et := newExpectTable()
	parent := tcpKey("10.0.0.1", "198.51.100.1", 2000, 21)
	exp1 := &Expectation{Key: tcpKey("198.51.100.1", "10.0.0.1", 0, 5120), ParentKey: parent}
	exp2 := &Expectation{Key: tcpKey("198.51.100.1", "10.0.0.1", 0, 5121), ParentKey: parent}
	et.Add(exp1)
	et.Add(exp2)

	et.RemoveForParent(parent)

	_, ok := et.Match(tcpKey("198.51.100.1", "10.0.0.1", 30000, 5120))
	assert.False(t, ok)
	_, ok = et.Match(tcpKey("198.51.100.1", "10.0.0.1", 30000, 5121))
	assert.False(t, ok)
}

func TestExpectTableRemoveIsTargeted(t *testing.T) {
	et := newExpectTable()
	parent := tcpKey("10.0.0.1", "198.51.100.1", 2000, 21)
	exp1 := &Expectation{Key: tcpKey("198.51.100.1", "10.0.0.1", 0, 5120), ParentKey: parent}
	exp2 := &Expectation{Key: tcpKey("198.51.100.1", "10.0.0.1", 0, 5121), ParentKey: parent}
	et.Add(exp1)
	et.Add(exp2)

	et.Remove(exp1)

	_, ok := et.Match(tcpKey("198.51.100.1", "10.0.0.1", 30000, 5120))
	assert.False(t, ok)
	_, ok = et.Match(tcpKey("198.51.100.1", "10.0.0.1", 30000, 5121))
	assert.True(t, ok, "removing exp1 must not disturb exp2's entry")
}
