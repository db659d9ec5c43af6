// Package config loads taskwell configuration using Viper.
//
// Precedence: explicit config file > TASKWELL_* environment variables >
// built-in defaults.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/wrenlabs/taskwell/errors"
)

// Config is the root taskwell configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Runner   RunnerConfig   `mapstructure:"runner"`
	Log      LogConfig      `mapstructure:"log"`
}

// DatabaseConfig configures the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// RunnerConfig configures the polling runner loop.
type RunnerConfig struct {
	// Workers is the number of concurrent polling goroutines.
	Workers int `mapstructure:"workers"`
	// PollIntervalSeconds is how often each worker asks for a claimable task.
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
	// CleanIntervalSeconds is how often the cleanup sweep runs.
	CleanIntervalSeconds int `mapstructure:"clean_interval_seconds"`
	// ResetTimeoutSeconds is how long a task may sit in the started state
	// before the cleanup sweep considers its runner dead and resets it.
	ResetTimeoutSeconds int `mapstructure:"reset_timeout_seconds"`
	// DeleteAfterDays is how long completed task history is retained.
	DeleteAfterDays int `mapstructure:"delete_after_days"`
	// Service is the name recorded in the runner heartbeat.
	Service string `mapstructure:"service"`
}

// LogConfig configures logging output.
type LogConfig struct {
	JSON bool `mapstructure:"json"`
}

// PollInterval returns the worker poll interval as a duration.
func (r RunnerConfig) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalSeconds) * time.Second
}

// CleanInterval returns the cleanup sweep interval as a duration.
func (r RunnerConfig) CleanInterval() time.Duration {
	return time.Duration(r.CleanIntervalSeconds) * time.Second
}

// ResetTimeout returns the stuck-task reset threshold as a duration.
func (r RunnerConfig) ResetTimeout() time.Duration {
	return time.Duration(r.ResetTimeoutSeconds) * time.Second
}

// DeleteAfter returns the history retention window as a duration.
func (r RunnerConfig) DeleteAfter() time.Duration {
	return time.Duration(r.DeleteAfterDays) * 24 * time.Hour
}

// SetDefaults registers default values on a Viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "taskwell.db")
	v.SetDefault("runner.workers", 1)
	v.SetDefault("runner.poll_interval_seconds", 2)
	v.SetDefault("runner.clean_interval_seconds", 60)
	v.SetDefault("runner.reset_timeout_seconds", 60)
	v.SetDefault("runner.delete_after_days", 30)
	v.SetDefault("runner.service", "taskwell")
	v.SetDefault("log.json", false)
}

// Load reads configuration from defaults and TASKWELL_* environment variables.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TASKWELL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return LoadWithViper(v)
}

// LoadWithViper loads configuration from a provided Viper instance.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	return LoadWithViper(v)
}
