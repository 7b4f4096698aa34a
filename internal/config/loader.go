// Package config provides configuration loading for the AgenShield daemon.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for shieldd.yaml/.yml in standard locations.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		viper.SetConfigName("shieldd")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("AGENSHIELD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".agenshield"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "agenshield"))
		}
	} else {
		paths = append(paths, "/etc/agenshield")
	}
	return findConfigFileInPaths(paths)
}

func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "shieldd"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds the config keys a daemon operator is most likely
// to override from the environment without a file.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.addr")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("storage.driver")
	_ = viper.BindEnv("storage.dsn")
	_ = viper.BindEnv("default_action")
	_ = viper.BindEnv("broker.http_port")
	_ = viper.BindEnv("sandbox.agent_home")
	_ = viper.BindEnv("sandbox.shield_binary_dir")
	_ = viper.BindEnv("sandbox.brew_bin_dir")
	_ = viper.BindEnv("sandbox.nvm_bin_dir")
	_ = viper.BindEnv("sandbox.user_bin_dir")
	_ = viper.BindEnv("proxy_pool.max_concurrent")
	_ = viper.BindEnv("proxy_pool.idle_timeout")
	_ = viper.BindEnv("metrics.enabled")
	_ = viper.BindEnv("metrics.addr")
	_ = viper.BindEnv("tracing.enabled")
	_ = viper.BindEnv("tracing.stdout_export")
	_ = viper.BindEnv("tracing.service_name")
	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the validated ShieldConfig.
func LoadConfig() (*ShieldConfig, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg ShieldConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
