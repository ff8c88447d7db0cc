package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("X_DUR", "45s")
	assert.Equal(t, 45*time.Second, getEnvDuration("X_DUR", time.Minute))

	t.Setenv("X_DUR", "1500")
	assert.Equal(t, 1500*time.Millisecond, getEnvDuration("X_DUR", time.Minute))

	t.Setenv("X_DUR", "junk")
	assert.Equal(t, time.Minute, getEnvDuration("X_DUR", time.Minute))

	assert.Equal(t, time.Minute, getEnvDuration("X_DUR_UNSET", time.Minute))
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("X_LIST", "P7, G2 ,,P9")
	assert.Equal(t, []string{"P7", "G2", "P9"}, getEnvList("X_LIST"))
	assert.Nil(t, getEnvList("X_LIST_UNSET"))
}

// Parse registers global flags, so it runs exactly once per test binary.
func TestParseFromEnv(t *testing.T) {
	old := os.Args
	os.Args = []string{"paddylinkd"}
	defer func() { os.Args = old }()

	t.Setenv("PADDYLINK_ADDR", "127.0.0.1:9999")
	t.Setenv("PADDYLINK_AUTH_TOKEN", "sekrit")
	t.Setenv("PADDYLINK_STORE", "memory")
	t.Setenv("PADDYLINK_STATE_DIR", t.TempDir())
	t.Setenv("PADDYLINK_DEFAULT_DEADLINE", "30s")
	t.Setenv("PADDYLINK_SIM_DEVICES", "P7,G2")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Addr)
	assert.Equal(t, "sekrit", cfg.AuthToken)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, 30*time.Second, cfg.DefaultDeadline)
	assert.Equal(t, []string{"P7", "G2"}, cfg.SimDevices)
	assert.Equal(t, defaultNATSBucket, cfg.NATSBucket)
}
