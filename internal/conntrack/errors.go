// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import (
	"grimm.is/flywall/internal/errors"
)

// Error taxonomy (spec.md §7). Every failure from extraction, admission,
// NAT, or ALG construction is local to the packet it concerns: none of
// these propagate out of Tracker.Execute other than through the packet's
// written-back ct-state.
var (
	// ErrMalformedPacket: bad lengths, a non-first IP fragment, or a
	// checksum failure. The packet is marked INVALID; no state changes.
	ErrMalformedPacket = errors.New(errors.KindValidation, "conntrack: malformed packet")

	// ErrUnsupportedProtocol: an L3/L4 combination this tracker does not
	// classify. The packet is left untracked (ct_state == 0).
	ErrUnsupportedProtocol = errors.New(errors.KindValidation, "conntrack: unsupported protocol")

	// ErrZoneLimitExhausted / ErrGlobalLimitExhausted: admission refused
	// because a zone or global connection cap was reached.
	ErrZoneLimitExhausted   = errors.New(errors.KindConflict, "conntrack: zone connection limit exhausted")
	ErrGlobalLimitExhausted = errors.New(errors.KindConflict, "conntrack: global connection limit exhausted")

	// ErrNATExhausted: no unique rewrite tuple could be found within the
	// allocator's probe budget.
	ErrNATExhausted = errors.New(errors.KindConflict, "conntrack: NAT tuple space exhausted")

	// ErrALGInvalid: a malformed FTP/TFTP control message.
	ErrALGInvalid = errors.New(errors.KindValidation, "conntrack: malformed ALG control message")

	// ErrConnNotFound / ErrExpectationNotFound: lookup misses surfaced to
	// RPC callers (flush-conntrack-tuple, etc).
	ErrConnNotFound        = errors.New(errors.KindNotFound, "conntrack: connection not found")
	ErrExpectationNotFound = errors.New(errors.KindNotFound, "conntrack: expectation not found")
)
