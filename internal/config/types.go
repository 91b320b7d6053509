package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"
)

// Config represents the main configuration structure
type Config struct {
	Host               string `json:"host" yaml:"host"`
	Port               int    `json:"port" yaml:"port"`
	Workers            int    `json:"workers" yaml:"workers"`
	LogLevel           string `json:"logLevel" yaml:"logLevel"`
	CacheTTL           int    `json:"cacheTTL" yaml:"-"`                      // ms - 0 expires immediately, negative never expires
	CacheSize          int    `json:"cacheSize" yaml:"cacheSize"`             // entries - 0 means unbounded
	CacheSweepInterval int    `json:"cacheSweepInterval" yaml:"-"`            // ms - 0 disables the sweeper
	RPCTimeout         int    `json:"rpcTimeout" yaml:"rpcTimeout"`           // ms - 0 waits forever
	UpstreamTimeout    int    `json:"upstreamTimeout" yaml:"upstreamTimeout"` // ms - 0 means no timeout
	RestartDelay       int    `json:"restartDelay" yaml:"restartDelay"`       // ms - delay before respawning a dead worker
	IPCSocket          string `json:"ipcSocket" yaml:"ipcSocket"`
	MetricsAddr        string `json:"metricsAddr" yaml:"metricsAddr"`
	DisableConsole     bool   `json:"disableConsole" yaml:"disableConsole"`
}

// Default values
const (
	DefaultHost               = ""
	DefaultPort               = 8080
	DefaultLogLevel           = "info"
	DefaultCacheTTL           = 60000 // ms
	DefaultCacheSize          = 0
	DefaultCacheSweepInterval = 30000 // ms
	DefaultRPCTimeout         = 0
	DefaultUpstreamTimeout    = 0
	DefaultRestartDelay       = 0
)

// Default returns a configuration with every field set to its default
func Default() *Config {
	cfg := &Config{
		CacheTTL:           DefaultCacheTTL,
		CacheSweepInterval: DefaultCacheSweepInterval,
	}
	applyDefaults(cfg)
	return cfg
}

// GetWorkerCount returns the configured pool size, or one worker per processor
func (c *Config) GetWorkerCount() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

// GetListenAddr returns the address every worker binds
func (c *Config) GetListenAddr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// GetIPCSocketPath returns the coordinator socket path
func (c *Config) GetIPCSocketPath() string {
	if c.IPCSocket != "" {
		return c.IPCSocket
	}
	return filepath.Join(os.TempDir(), "fwdproxy-"+strconv.Itoa(os.Getpid())+".sock")
}

// GetCacheTTLDuration returns cache TTL as time.Duration
func (c *Config) GetCacheTTLDuration() time.Duration {
	return time.Duration(c.CacheTTL) * time.Millisecond
}

// GetCacheSweepIntervalDuration returns cache sweep interval as time.Duration
func (c *Config) GetCacheSweepIntervalDuration() time.Duration {
	return time.Duration(c.CacheSweepInterval) * time.Millisecond
}

// GetRPCTimeoutDuration returns RPC timeout as time.Duration
func (c *Config) GetRPCTimeoutDuration() time.Duration {
	return time.Duration(c.RPCTimeout) * time.Millisecond
}

// GetUpstreamTimeoutDuration returns upstream timeout as time.Duration
func (c *Config) GetUpstreamTimeoutDuration() time.Duration {
	return time.Duration(c.UpstreamTimeout) * time.Millisecond
}

// GetRestartDelayDuration returns worker restart delay as time.Duration
func (c *Config) GetRestartDelayDuration() time.Duration {
	return time.Duration(c.RestartDelay) * time.Millisecond
}

// IsMetricsEnabled returns true if a metrics listen address is configured
func (c *Config) IsMetricsEnabled() bool {
	return c.MetricsAddr != ""
}
