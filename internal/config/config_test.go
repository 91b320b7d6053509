package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	require.Equal(t, DefaultPort, cfg.Port)
	require.Equal(t, DefaultLogLevel, cfg.LogLevel)
	require.Equal(t, 60*time.Second, cfg.GetCacheTTLDuration())
	require.Equal(t, 30*time.Second, cfg.GetCacheSweepIntervalDuration())
	require.Zero(t, cfg.GetRPCTimeoutDuration())
	require.Zero(t, cfg.GetUpstreamTimeoutDuration())
	require.Equal(t, ":8080", cfg.GetListenAddr())
	require.Positive(t, cfg.GetWorkerCount())
	require.False(t, cfg.IsMetricsEnabled())
}

func TestParse_JSON_ZeroTTLIsKept(t *testing.T) {
	cfg, err := Parse([]byte(`{"port": 9000, "cacheTTL": 0, "workers": 2}`), false)
	require.NoError(t, err)

	require.Equal(t, 9000, cfg.Port)
	require.Equal(t, 0, cfg.CacheTTL)
	require.Equal(t, 2, cfg.GetWorkerCount())
	require.Equal(t, DefaultCacheSweepInterval, cfg.CacheSweepInterval)
}

func TestParse_JSON_MissingTTLUsesDefault(t *testing.T) {
	cfg, err := Parse([]byte(`{"logLevel": "debug"}`), false)
	require.NoError(t, err)

	require.Equal(t, DefaultCacheTTL, cfg.CacheTTL)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestParse_YAML(t *testing.T) {
	data := []byte("port: 3128\ncacheTTL: 0\ncacheSweepInterval: 0\nmetricsAddr: 127.0.0.1:9100\nrpcTimeout: 1500\n")
	cfg, err := Parse(data, true)
	require.NoError(t, err)

	require.Equal(t, 3128, cfg.Port)
	require.Equal(t, 0, cfg.CacheTTL)
	require.Equal(t, 0, cfg.CacheSweepInterval)
	require.True(t, cfg.IsMetricsEnabled())
	require.Equal(t, 1500*time.Millisecond, cfg.GetRPCTimeoutDuration())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"port out of range", `{"port": 70000}`},
		{"negative workers", `{"workers": -1}`},
		{"bad log level", `{"logLevel": "trace"}`},
		{"negative cache size", `{"cacheSize": -5}`},
		{"negative rpc timeout", `{"rpcTimeout": -1}`},
		{"negative upstream timeout", `{"upstreamTimeout": -1}`},
		{"negative restart delay", `{"restartDelay": -1}`},
		{"malformed", `{"port":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), false)
			require.Error(t, err)
		})
	}
}

func TestLoad_ByExtension(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "proxy.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"port": 8081}`), 0o600))
	cfg, err := Load(jsonPath)
	require.NoError(t, err)
	require.Equal(t, 8081, cfg.Port)

	yamlPath := filepath.Join(dir, "proxy.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("port: 8082\n"), 0o600))
	cfg, err = Load(yamlPath)
	require.NoError(t, err)
	require.Equal(t, 8082, cfg.Port)

	_, err = Load(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}

func TestLoadOrDefault_EmptyPath(t *testing.T) {
	cfg, err := LoadOrDefault("")
	require.NoError(t, err)
	require.Equal(t, DefaultPort, cfg.Port)
}

func TestGetIPCSocketPath(t *testing.T) {
	cfg := Default()
	require.NotEmpty(t, cfg.GetIPCSocketPath())

	cfg.IPCSocket = "/tmp/custom.sock"
	require.Equal(t, "/tmp/custom.sock", cfg.GetIPCSocketPath())
}
