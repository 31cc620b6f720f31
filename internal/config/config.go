// Package config provides YAML-based configuration loading for winstaller.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level winstaller configuration, loaded from config.yaml.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	SSH      SSHConfig      `yaml:"ssh"`
	Install  InstallConfig  `yaml:"install"`
	Images   ImagesConfig   `yaml:"images"`
	API      APIConfig      `yaml:"api"`
	Chat     ChatConfig     `yaml:"chat"`
	Cleanup  CleanupConfig  `yaml:"cleanup"`
	Auth     AuthConfig     `yaml:"auth"`
}

// DatabaseConfig holds connection settings for the MySQL server.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// SSHConfig holds timeouts for remote sessions. All values are seconds.
type SSHConfig struct {
	ConnectTimeoutSec int `yaml:"connect_timeout_sec"`
	ExecuteTimeoutSec int `yaml:"execute_timeout_sec"`
	LongTimeoutSec    int `yaml:"long_timeout_sec"`
}

// InstallConfig holds orchestration thresholds and monitoring settings.
type InstallConfig struct {
	MinRAMMB           int `yaml:"min_ram_mb"`
	MinDiskGB          int `yaml:"min_disk_gb"`
	RunTimeoutSec      int `yaml:"run_timeout_sec"`
	MonitorDelaySec    int `yaml:"monitor_delay_sec"`
	MonitorIntervalSec int `yaml:"monitor_interval_sec"`
	MonitorChecks      int `yaml:"monitor_checks"`
	MonitorPort        int `yaml:"monitor_port"`
}

// ImagesConfig holds the image URL namespaces and the installer script URL.
type ImagesConfig struct {
	UEFIBaseURL   string `yaml:"uefi_base_url"`
	LegacyBaseURL string `yaml:"legacy_base_url"`
	ScriptURL     string `yaml:"script_url"`
}

// APIConfig holds settings for the REST front-end.
type APIConfig struct {
	Port      int    `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"`
	TokenTTLH int    `yaml:"token_ttl_hours"`
}

// ChatConfig selects and configures the chat platform adapter.
type ChatConfig struct {
	Platform  string `yaml:"platform"` // "discord" or "slack"
	BotToken  string `yaml:"bot_token"`
	AppToken  string `yaml:"app_token"` // slack socket mode only
	ChannelID string `yaml:"channel_id"`
}

// CleanupConfig holds retention windows and sweep schedules.
type CleanupConfig struct {
	OldInstallDays int    `yaml:"old_install_days"`
	OldLogDays     int    `yaml:"old_log_days"`
	SessionHours   int    `yaml:"session_hours"`
	StuckSweepCron string `yaml:"stuck_sweep_cron"`
	RetentionCron  string `yaml:"retention_cron"`
}

// AuthConfig holds account registration settings.
type AuthConfig struct {
	ActivationCode string `yaml:"activation_code"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.User == "" {
		c.Database.User = "root"
	}
	if c.Database.Database == "" {
		c.Database.Database = "winstaller"
	}
	if c.SSH.ConnectTimeoutSec == 0 {
		c.SSH.ConnectTimeoutSec = 120
	}
	if c.SSH.ExecuteTimeoutSec == 0 {
		c.SSH.ExecuteTimeoutSec = 60
	}
	if c.SSH.LongTimeoutSec == 0 {
		c.SSH.LongTimeoutSec = 180
	}
	if c.Install.MinRAMMB == 0 {
		c.Install.MinRAMMB = 2048
	}
	if c.Install.MinDiskGB == 0 {
		c.Install.MinDiskGB = 30
	}
	if c.Install.RunTimeoutSec == 0 {
		c.Install.RunTimeoutSec = 1800
	}
	if c.Install.MonitorDelaySec == 0 {
		c.Install.MonitorDelaySec = 360
	}
	if c.Install.MonitorIntervalSec == 0 {
		c.Install.MonitorIntervalSec = 10
	}
	if c.Install.MonitorChecks == 0 {
		c.Install.MonitorChecks = 2
	}
	if c.Install.MonitorPort == 0 {
		c.Install.MonitorPort = 80
	}
	if c.Images.UEFIBaseURL == "" {
		c.Images.UEFIBaseURL = "https://winstaller.io/eufi/"
	}
	if c.Images.LegacyBaseURL == "" {
		c.Images.LegacyBaseURL = "https://winstaller.io/bios/"
	}
	if c.Images.ScriptURL == "" {
		c.Images.ScriptURL = "https://winstaller.io/scripts/reinstall.sh"
	}
	if c.API.Port == 0 {
		c.API.Port = 8000
	}
	if c.API.TokenTTLH == 0 {
		c.API.TokenTTLH = 24
	}
	if c.Cleanup.OldInstallDays == 0 {
		c.Cleanup.OldInstallDays = 7
	}
	if c.Cleanup.OldLogDays == 0 {
		c.Cleanup.OldLogDays = 30
	}
	if c.Cleanup.SessionHours == 0 {
		c.Cleanup.SessionHours = 48
	}
	if c.Cleanup.StuckSweepCron == "" {
		c.Cleanup.StuckSweepCron = "*/30 * * * *"
	}
	if c.Cleanup.RetentionCron == "" {
		c.Cleanup.RetentionCron = "15 3 * * *"
	}
	if c.Chat.Platform == "" {
		c.Chat.Platform = "discord"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Database.Password == "" {
		errs = append(errs, "database.password is required")
	}
	if c.API.JWTSecret == "" {
		errs = append(errs, "api.jwt_secret is required")
	}
	if c.Auth.ActivationCode == "" {
		errs = append(errs, "auth.activation_code is required")
	}
	switch c.Chat.Platform {
	case "discord", "slack":
	default:
		errs = append(errs, fmt.Sprintf("chat.platform must be discord or slack, got %q", c.Chat.Platform))
	}
	if c.Install.MonitorDelaySec >= c.Install.RunTimeoutSec {
		errs = append(errs, "install.monitor_delay_sec must be less than install.run_timeout_sec")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ConnectTimeout returns the SSH connect timeout as a duration.
func (c *SSHConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSec) * time.Second
}

// ExecuteTimeout returns the default per-command timeout as a duration.
func (c *SSHConfig) ExecuteTimeout() time.Duration {
	return time.Duration(c.ExecuteTimeoutSec) * time.Second
}

// LongTimeout returns the long-command timeout as a duration.
func (c *SSHConfig) LongTimeout() time.Duration {
	return time.Duration(c.LongTimeoutSec) * time.Second
}

// RunTimeout returns the overall installation deadline as a duration.
func (c *InstallConfig) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutSec) * time.Second
}

// MonitorDelay returns the pre-monitoring sleep as a duration.
func (c *InstallConfig) MonitorDelay() time.Duration {
	return time.Duration(c.MonitorDelaySec) * time.Second
}

// MonitorInterval returns the poll interval as a duration.
func (c *InstallConfig) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorIntervalSec) * time.Second
}
