// Package config provides configuration loading for the AgenShield daemon.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// ShieldConfig is the root configuration for the daemon.
type ShieldConfig struct {
	Server        ServerConfig    `mapstructure:"server" yaml:"server"`
	Storage       StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Broker        BrokerConfig    `mapstructure:"broker" yaml:"broker"`
	Sandbox       SandboxConfig   `mapstructure:"sandbox" yaml:"sandbox"`
	DefaultAction string          `mapstructure:"default_action" yaml:"default_action" validate:"required,oneof=allow deny"`
	ProxyPool     ProxyPoolConfig `mapstructure:"proxy_pool" yaml:"proxy_pool"`
	Policies      []PolicyConfig  `mapstructure:"policies" yaml:"policies"`
	Metrics       MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Tracing       TracingConfig   `mapstructure:"tracing" yaml:"tracing"`
	DevMode       bool            `mapstructure:"dev_mode" yaml:"dev_mode"`
}

// ServerConfig configures the daemon's RPC listener.
type ServerConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr" validate:"required,hostname_port"`
	LogLevel string `mapstructure:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// StorageConfig selects and configures the storage seam adapter (§6).
type StorageConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver" validate:"required,oneof=memory sqlite"`
	DSN    string `mapstructure:"dsn" yaml:"dsn" validate:"required_if=Driver sqlite"`
}

// BrokerConfig holds the broker port passed through into sandbox specs.
type BrokerConfig struct {
	HTTPPort int `mapstructure:"http_port" yaml:"http_port" validate:"omitempty,min=1,max=65535"`
}

// SandboxConfig carries the install-dependent paths sandbox.Build turns
// into allowances (§4.5 rules 6-7): the agent's home directory, the
// daemon's own binary directory, and the package-manager/user bin
// directories a supervised agent is still allowed to execute out of.
// Every field is optional; an empty one is simply skipped by the builder.
type SandboxConfig struct {
	AgentHome       string `mapstructure:"agent_home" yaml:"agent_home"`
	ShieldBinaryDir string `mapstructure:"shield_binary_dir" yaml:"shield_binary_dir"`
	BrewBinDir      string `mapstructure:"brew_bin_dir" yaml:"brew_bin_dir"`
	NvmBinDir       string `mapstructure:"nvm_bin_dir" yaml:"nvm_bin_dir"`
	UserBinDir      string `mapstructure:"user_bin_dir" yaml:"user_bin_dir"`
}

// ProxyPoolConfig configures the per-run egress proxy pool (C6).
type ProxyPoolConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent" yaml:"max_concurrent" validate:"omitempty,min=1"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// MetricsConfig toggles the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr" validate:"omitempty,hostname_port"`
}

// TracingConfig toggles the OpenTelemetry trace/metric pipeline.
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	StdoutExport bool   `mapstructure:"stdout_export" yaml:"stdout_export"`
	ServiceName  string `mapstructure:"service_name" yaml:"service_name"`
}

// PolicyConfig is the YAML shape of a fallback-seeded policy (§6), mirroring
// the storage seam's Policy record.
type PolicyConfig struct {
	ID         string   `mapstructure:"id" yaml:"id" validate:"required"`
	Name       string   `mapstructure:"name" yaml:"name"`
	Action     string   `mapstructure:"action" yaml:"action" validate:"required,oneof=allow deny approval"`
	TargetType string   `mapstructure:"target_type" yaml:"target_type" validate:"required,oneof=url command filesystem skill"`
	Patterns   []string `mapstructure:"patterns" yaml:"patterns" validate:"required,min=1"`
	Operations []string `mapstructure:"operations" yaml:"operations"`
	Enabled    bool     `mapstructure:"enabled" yaml:"enabled"`
	Priority   int      `mapstructure:"priority" yaml:"priority"`
	Scope      string   `mapstructure:"scope" yaml:"scope"`
	Network    string   `mapstructure:"network_access" yaml:"network_access" validate:"omitempty,oneof=none proxy direct"`
}

// SetDefaults fills in zero-valued optional fields. Mirrors the layered
// defaults-then-validate flow of the production config this is built from.
func (c *ShieldConfig) SetDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8787"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.ProxyPool.MaxConcurrent == 0 {
		c.ProxyPool.MaxConcurrent = 50
	}
	if c.ProxyPool.IdleTimeout == 0 {
		c.ProxyPool.IdleTimeout = 5 * time.Minute
	}
	if c.DefaultAction == "" {
		c.DefaultAction = "deny"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = "127.0.0.1:9090"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "agenshield-daemon"
	}
	if c.Sandbox.AgentHome == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Sandbox.AgentHome = home
		}
	}
	if c.Sandbox.ShieldBinaryDir == "" {
		if exe, err := os.Executable(); err == nil {
			c.Sandbox.ShieldBinaryDir = filepath.Dir(exe)
		}
	}
	if c.Sandbox.BrewBinDir == "" {
		c.Sandbox.BrewBinDir = "/opt/homebrew/bin"
	}
	if c.Sandbox.UserBinDir == "" && c.Sandbox.AgentHome != "" {
		c.Sandbox.UserBinDir = filepath.Join(c.Sandbox.AgentHome, ".local", "bin")
	}
}

// SetDevDefaults applies permissive defaults used only in development mode.
func (c *ShieldConfig) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	if c.Server.LogLevel == "info" {
		c.Server.LogLevel = "debug"
	}
}
