package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logger:
  level: debug
risk:
  dailyLossLimit: 0.03
  cooldown: 30m
  recoveryRiskMultiplier: 0.30
breaker:
  dailyLossPct: 0.05
  coolingDuration: 15m
gate:
  softNotional: 500000
  hardNotional: 2000000
  hardConfirmTimeout: 30s
executor:
  maxRejections: 3
tickInterval: 500ms
multipliers:
  IF2609: 300
`

func TestLoadAndBuild(t *testing.T) {
	path := filepath.Join(t.TempDir(), "riskcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	c, err := Load(path)
	require.NoError(t, err)

	rc, err := c.BuildRisk()
	require.NoError(t, err)
	require.Equal(t, 0.03, rc.DailyLossLimit)
	require.Equal(t, 30*time.Minute, rc.Cooldown)
	require.True(t, rc.LockedUntilDayStart, "lockedUntilDayStart defaults to true")

	bc, err := c.BuildBreaker()
	require.NoError(t, err)
	require.Equal(t, 0.05, bc.Thresholds.DailyLossPct)
	require.Equal(t, []float64{0.25, 0.50, 0.75, 1.0}, bc.RecoverySteps)

	gc, err := c.BuildGate()
	require.NoError(t, err)
	require.Equal(t, "500000", gc.SoftNotional.String())
	require.Equal(t, 30*time.Second, gc.HardConfirmTimeout)
	require.Equal(t, 9, gc.DaySessionStartHour)

	iv, err := c.BuildTickInterval()
	require.NoError(t, err)
	require.Equal(t, 500*time.Millisecond, iv)

	require.Equal(t, "jsonl", c.Audit.Sink)
	require.Equal(t, "manual", c.Approval.Mode)
	require.Equal(t, int64(300), c.Multipliers["IF2609"])
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "riskcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	t.Setenv("RISKCORE_LISTEN_ADDR", "127.0.0.1:9999")
	t.Setenv("RISKCORE_LOG_LEVEL", "warn")

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9999", c.Server.ListenAddr)
	require.Equal(t, "warn", c.Logger.Level)
}

func TestLoadBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "riskcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("risk:\n  dailyLossLimit: 0.03\n  cooldown: sometimes\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	_, err = c.BuildRisk()
	require.Error(t, err)
}
