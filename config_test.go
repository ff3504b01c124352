package zvdev

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigFileMissingIsNotError(t *testing.T) {
	cfg, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Zero(t, cfg)
}

func TestLoadConfigFileParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zvdev.yaml")
	body := "num_queues: 4\nqueue_depth: 128\nverify_count: 16\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.NumQueues)
	require.Equal(t, 128, cfg.QueueDepth)
	require.Equal(t, uint64(16), cfg.VerifyCount)
}

func TestLoadConfigFileRejectsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zvdev.yaml")
	require.NoError(t, os.WriteFile(path, []byte("num_queues: [this is not an int\n"), 0644))

	_, err := LoadConfigFile(path)
	require.Error(t, err)
}

func TestApplyEnvOverridesYAML(t *testing.T) {
	cfg := Config{NumQueues: 2, QueueDepth: 64}
	t.Setenv("ZVDEV_NUM_QUEUES", "8")

	cfg = cfg.ApplyEnv()
	require.Equal(t, 8, cfg.NumQueues)
	require.Equal(t, 64, cfg.QueueDepth)
}

func TestApplyDeviceParamsOnlyFillsZeroFields(t *testing.T) {
	cfg := Config{NumQueues: 4, QueueDepth: 128}
	params := &DeviceParams{QueueDepth: 32}

	cfg.ApplyDeviceParams(params)
	require.Equal(t, 4, params.NumQueues)
	require.Equal(t, 32, params.QueueDepth)
}

func TestApplyTunablesSkipsZeroFields(t *testing.T) {
	tun := DefaultTunables()
	before := tun.VerifyCount()

	cfg := Config{}
	cfg.ApplyTunables(tun)
	require.Equal(t, before, tun.VerifyCount())

	cfg = Config{VerifyCount: 99}
	cfg.ApplyTunables(tun)
	require.Equal(t, uint64(99), tun.VerifyCount())
}
