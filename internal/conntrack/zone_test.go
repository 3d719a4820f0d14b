// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestZoneLimitAdmission covers scenario S6: a zone cap rejects admission
// once exhausted while leaving other zones untouched.
func TestZoneLimitAdmission(t *testing.T) {
	z := newZoneLimits()
	z.SetLimit(7, 2)

	gen1, hasLimit, err := z.Admit(7)
	require.NoError(t, err)
	assert.True(t, hasLimit)

	_, _, err = z.Admit(7)
	require.NoError(t, err)

	_, _, err = z.Admit(7)
	assert.ErrorIs(t, err, ErrZoneLimitExhausted)

	_, _, err = z.Admit(9)
	assert.NoError(t, err, "an unrelated zone must not be affected by zone 7's cap")

	z.Release(7, gen1, hasLimit)
	limit, _ := z.GetLimit(7)
	assert.Equal(t, int64(1), limit.CurrentCount)
}

func TestZoneLimitGenerationGuardsStaleRelease(t *testing.T) {
	z := newZoneLimits()
	gen1, hasLimit, err := func() (uint64, bool, error) {
		z.SetLimit(3, 5)
		return z.Admit(3)
	}()
	require.NoError(t, err)

	// Delete and recreate the limit: the generation advances, so a release
	// referencing the stale generation must not touch the new record.
	z.DeleteLimit(3)
	z.SetLimit(3, 5)

	z.Release(3, gen1, hasLimit)
	limit, ok := z.GetLimit(3)
	require.True(t, ok)
	assert.Equal(t, int64(0), limit.CurrentCount, "a stale-generation release must not decrement the recreated limit")
}

func TestGlobalLimitExhaustion(t *testing.T) {
	z := newZoneLimits()
	z.SetGlobalLimit(1)

	_, _, err := z.Admit(0)
	require.NoError(t, err)

	_, _, err = z.Admit(1)
	assert.ErrorIs(t, err, ErrGlobalLimitExhausted)
}

func TestTimeoutPolicyFallsBackToDefault(t *testing.T) {
	z := newZoneLimits()
	custom := DefaultTimeoutPolicy()
	custom.ID = "fast"
	custom.TCP.Established = 1000
	z.SetTimeoutPolicy(custom)

	assert.Equal(t, int64(1000), z.TimeoutPolicyFor("fast").TCP.Established)
	assert.Equal(t, DefaultTimeoutPolicy().TCP.Established, z.TimeoutPolicyFor("unknown").TCP.Established)
	assert.Equal(t, DefaultTimeoutPolicy().TCP.Established, z.TimeoutPolicyFor("").TCP.Established)
}
