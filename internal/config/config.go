// Package config resolves the coordinator's runtime tunables from compiled-in
// defaults, an optional config.json in the coordinator directory, and
// environment variable overrides, in that order of increasing precedence.
package config

import (
	"errors"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete set of tunables read by the coordinator and agent
// runtimes.
type Config struct {
	MaxAgents         int    `mapstructure:"max_agents"`
	HeartbeatInterval int    `mapstructure:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `mapstructure:"heartbeat_timeout_ms"`
	LockTimeout       int    `mapstructure:"lock_timeout_ms"`
	TaskTimeout       int    `mapstructure:"task_timeout_ms"`
	AutoAssign        bool   `mapstructure:"auto_assign"`
	GitIntegration    bool   `mapstructure:"git_integration"`
	BranchPrefix      string `mapstructure:"branch_prefix"`
}

// HeartbeatIntervalDuration returns HeartbeatInterval as a time.Duration.
func (c *Config) HeartbeatIntervalDuration() time.Duration {
	return time.Duration(c.HeartbeatInterval) * time.Millisecond
}

// HeartbeatTimeoutDuration returns HeartbeatTimeout as a time.Duration.
func (c *Config) HeartbeatTimeoutDuration() time.Duration {
	return time.Duration(c.HeartbeatTimeout) * time.Millisecond
}

// LockTimeoutDuration returns LockTimeout as a time.Duration.
func (c *Config) LockTimeoutDuration() time.Duration {
	return time.Duration(c.LockTimeout) * time.Millisecond
}

// TaskTimeoutDuration returns TaskTimeout as a time.Duration.
func (c *Config) TaskTimeoutDuration() time.Duration {
	return time.Duration(c.TaskTimeout) * time.Millisecond
}

// Default returns the compiled-in defaults.
func Default() *Config {
	return &Config{
		MaxAgents:         10,
		HeartbeatInterval: 5000,
		HeartbeatTimeout:  30000,
		LockTimeout:       300000,
		TaskTimeout:       3600000,
		AutoAssign:        true,
		GitIntegration:    true,
		BranchPrefix:      "agent/",
	}
}

// SetDefaults registers the compiled-in defaults with v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("max_agents", d.MaxAgents)
	v.SetDefault("heartbeat_interval_ms", d.HeartbeatInterval)
	v.SetDefault("heartbeat_timeout_ms", d.HeartbeatTimeout)
	v.SetDefault("lock_timeout_ms", d.LockTimeout)
	v.SetDefault("task_timeout_ms", d.TaskTimeout)
	v.SetDefault("auto_assign", d.AutoAssign)
	v.SetDefault("git_integration", d.GitIntegration)
	v.SetDefault("branch_prefix", d.BranchPrefix)
}

// envBindings lists the AGENT_* environment variables recognized by §6.4;
// the dotted config keys don't mechanically map onto them, so each is bound
// explicitly rather than relying on viper's automatic prefix translation.
var envBindings = map[string]string{
	"max_agents":            "AGENT_MAX_AGENTS",
	"heartbeat_interval_ms": "AGENT_HEARTBEAT_INTERVAL",
	"heartbeat_timeout_ms":  "AGENT_HEARTBEAT_TIMEOUT",
	"auto_assign":           "AGENT_AUTO_ASSIGN",
	"git_integration":       "AGENT_GIT_INTEGRATION",
	"branch_prefix":         "AGENT_BRANCH_PREFIX",
}

// Load builds a Viper instance layered defaults < configPath (if it exists)
// < environment, unmarshals it into a Config, and validates the result.
// configPath may be empty, in which case only defaults and environment
// apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}
