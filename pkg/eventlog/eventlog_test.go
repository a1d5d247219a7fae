package eventlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForDomain_SetsDomainID(t *testing.T) {
	e := ForDomain("d1", KindClaim, map[string]any{"owner": "worker-1"})

	require.NotNil(t, e.DomainID)
	assert.Equal(t, "d1", *e.DomainID)
	assert.Equal(t, KindClaim, e.Kind)
	assert.Equal(t, "worker-1", e.Payload["owner"])
}

func TestGlobal_LeavesDomainIDNil(t *testing.T) {
	e := Global(KindSchedulerTick, map[string]any{"tier": "cheap"})

	assert.Nil(t, e.DomainID)
	assert.Equal(t, KindSchedulerTick, e.Kind)
}

func TestKinds_AreTheClosedSet(t *testing.T) {
	// Guards against an accidental rename silently dropping a kind out of
	// the closed set the audit trail's consumers switch over.
	all := []Kind{
		KindClaim, KindRelease, KindCallSuccess, KindCallFailure,
		KindCircuitOpen, KindCircuitClose, KindSchedulerTick, KindGuardianBlock,
	}
	assert.Len(t, all, 8)
	seen := make(map[Kind]bool, len(all))
	for _, k := range all {
		assert.False(t, seen[k], "duplicate kind %q", k)
		seen[k] = true
	}
}
