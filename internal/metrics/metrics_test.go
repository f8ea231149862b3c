package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.RecordDeposit(9, "direct")
	m.RecordDeposit(9, "direct")
	m.RecordFinalization(9)
	m.RecordRejection("finalize", "AlreadyFinalized")
	m.RecordRejection("deposit", "")
	m.RecordDeployment("SharedBridge", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Deposits.WithLabelValues("9", "direct")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Finalizations.WithLabelValues("9")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rejections.WithLabelValues("finalize", "AlreadyFinalized")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rejections.WithLabelValues("deposit", "internal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deployments.WithLabelValues("SharedBridge", "existing")))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.RecordUpgradeCall("upgrade-shared-bridge", "committed")

	path := filepath.Join(t.TempDir(), "bridge.prom")
	require.NoError(t, m.WriteTextfile(path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), `bridge_upgrade_calls_total{call="upgrade-shared-bridge",status="committed"} 1`)
}
