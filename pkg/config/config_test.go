package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("NODE_ID", "node1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPListen)
	assert.Equal(t, ":8081", cfg.MQListen)
	assert.Equal(t, cfg.HTTPListen, cfg.AdvertiseHTTP)
	assert.Equal(t, 10*time.Second, cfg.PingInterval)
	assert.Equal(t, 120*time.Minute, cfg.GracePeriod)
	assert.Equal(t, 18, cfg.StalenessMultiple)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("NODE_ID", "node1")
	t.Setenv("PING_INTERVAL", "30s")
	t.Setenv("PROBE_TIMEOUT", "2s")
	t.Setenv("GRACE_PERIOD", "1h")
	t.Setenv("ETCD_ENDPOINTS", "http://etcd1:2379, http://etcd2:2379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, 2*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, time.Hour, cfg.GracePeriod)
	assert.Equal(t, []string{"http://etcd1:2379", "http://etcd2:2379"}, cfg.EtcdEndpoints)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("NODE_ID", "")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("NODE_ID", "node1")
	t.Setenv("PING_INTERVAL", "nonsense")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("PING_INTERVAL", "1s")
	t.Setenv("PROBE_TIMEOUT", "5s")
	_, err = Load()
	assert.Error(t, err, "probe timeout must stay below the ping interval")
}
