// Package config provides configuration management for the AI Studio browser
// bridge. It loads a YAML file, then overlays the environment variables
// listed in the project documentation, and can be reloaded at runtime by the
// fsnotify-driven watcher in watcher.go without restarting the process.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the application's configuration.
type Config struct {
	// Port is the network port the HTTP surface listens on.
	Port int `yaml:"port"`
	// Host is the network interface the HTTP surface binds to.
	Host string `yaml:"host"`
	// AuthDir is the directory scanned for identity snapshot files.
	AuthDir string `yaml:"auth-dir"`
	// Debug enables debug-level logging and gin's debug mode.
	Debug bool `yaml:"debug"`
	// LoggingToFile switches the global logger between stdout and a rotating file.
	LoggingToFile bool `yaml:"logging-to-file"`
	// APIKeys is the comma-equivalent list of keys accepted from clients.
	APIKeys []string `yaml:"api-keys"`
	// RemoteManagementKey gates the admin flag endpoints; empty disables them (404).
	RemoteManagementKey string `yaml:"remote-management-key"`

	// StreamingMode selects "real" (pass SSE bytes through as they arrive) or
	// "fake" (buffer upstream and emit one SSE frame) streaming.
	StreamingMode string `yaml:"streaming-mode"`
	// ForceThinking injects {includeThoughts:true} when no thinking config is present.
	ForceThinking bool `yaml:"force-thinking"`
	// ForceWebSearch appends a googleSearch tool entry to every request.
	ForceWebSearch bool `yaml:"force-web-search"`
	// ForceURLContext appends a urlContext tool entry to every request.
	ForceURLContext bool `yaml:"force-url-context"`

	// MaxRetries bounds the dispatch loop's retry count after the first attempt.
	MaxRetries int `yaml:"max-retries"`
	// RetryDelayMS is the pause, in milliseconds, between retries.
	RetryDelayMS int `yaml:"retry-delay-ms"`
	// SwitchOnUses triggers an async identity switch once usageCount reaches it; 0 disables.
	SwitchOnUses int `yaml:"switch-on-uses"`
	// FailureThreshold triggers a switch-before-retry once failureCount reaches it; 0 disables.
	FailureThreshold int `yaml:"failure-threshold"`
	// ImmediateSwitchStatusCodes are upstream statuses that force a switch+retry.
	ImmediateSwitchStatusCodes []int `yaml:"immediate-switch-status-codes"`

	// BrowserBinary overrides the headless browser executable to launch.
	BrowserBinary string `yaml:"browser-binary"`
	// BrowserHandshakeTimeoutMS bounds how long Startup waits for the first handshake frame.
	BrowserHandshakeTimeoutMS int `yaml:"browser-handshake-timeout-ms"`
	// UpstreamIdleTimeoutMS bounds how long the Request Handler waits for the next
	// Upstream Event while draining a response. The Client Agent does not read
	// it; its own idle timeout is fixed at 600 s.
	UpstreamIdleTimeoutMS int `yaml:"upstream-idle-timeout-ms"`
}

// Default values applied when both the YAML file and the environment are silent.
const (
	DefaultPort                      = 8317
	DefaultHost                      = "0.0.0.0"
	DefaultAuthDir                   = "~/.aistudio-bridge"
	DefaultStreamingMode             = "real"
	DefaultMaxRetries                = 3
	DefaultRetryDelayMS              = 2000
	DefaultBrowserHandshakeTimeoutMS = 20_000
	DefaultUpstreamIdleTimeoutMS     = 600_000
)

var defaultImmediateSwitchStatusCodes = []int{429, 503}

// applyDefaults fills in zero-valued fields with their documented defaults.
func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.AuthDir == "" {
		c.AuthDir = DefaultAuthDir
	}
	if c.StreamingMode == "" {
		c.StreamingMode = DefaultStreamingMode
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelayMS == 0 {
		c.RetryDelayMS = DefaultRetryDelayMS
	}
	if c.BrowserHandshakeTimeoutMS == 0 {
		c.BrowserHandshakeTimeoutMS = DefaultBrowserHandshakeTimeoutMS
	}
	if c.UpstreamIdleTimeoutMS == 0 {
		c.UpstreamIdleTimeoutMS = DefaultUpstreamIdleTimeoutMS
	}
	if len(c.ImmediateSwitchStatusCodes) == 0 {
		c.ImmediateSwitchStatusCodes = append([]int{}, defaultImmediateSwitchStatusCodes...)
	}
}

// LoadConfig reads a YAML configuration file, applies environment variable
// overrides, fills in defaults, and returns the resulting Config. The file is
// optional: a missing file falls back to environment + defaults only, so the
// process can run purely off its environment in container deployments.
func LoadConfig(configFile string) (*Config, error) {
	cfg := &Config{}

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err = yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	cfg.applyDefaults()
	return cfg, nil
}

// applyEnvOverrides mutates cfg in place using the environment variables
// documented for the bridge; an unset variable leaves the existing value.
func applyEnvOverrides(cfg *Config) {
	if v, ok := lookupEnv("API_KEYS"); ok {
		cfg.APIKeys = splitCSV(v)
	}
	if v, ok := lookupEnv("PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v, ok := lookupEnv("HOST"); ok {
		cfg.Host = v
	}
	if v, ok := lookupEnv("STREAMING_MODE"); ok {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "real" || v == "fake" {
			cfg.StreamingMode = v
		}
	}
	if v, ok := lookupEnvBool("FORCE_THINKING"); ok {
		cfg.ForceThinking = v
	}
	if v, ok := lookupEnvBool("FORCE_WEB_SEARCH"); ok {
		cfg.ForceWebSearch = v
	}
	if v, ok := lookupEnvBool("FORCE_URL_CONTEXT"); ok {
		cfg.ForceURLContext = v
	}
	if v, ok := lookupEnv("MAX_RETRIES"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRetries = n
		}
	}
	if v, ok := lookupEnv("RETRY_DELAY"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetryDelayMS = n
		}
	}
	if v, ok := lookupEnv("SWITCH_ON_USES"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SwitchOnUses = n
		}
	}
	if v, ok := lookupEnv("FAILURE_THRESHOLD"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FailureThreshold = n
		}
	}
	if v, ok := lookupEnv("IMMEDIATE_SWITCH_STATUS_CODES"); ok {
		codes := make([]int, 0, 4)
		for _, part := range splitCSV(v) {
			if n, err := strconv.Atoi(part); err == nil {
				codes = append(codes, n)
			}
		}
		if len(codes) > 0 {
			cfg.ImmediateSwitchStatusCodes = codes
		}
	}
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	return v, true
}

func lookupEnvBool(key string) (bool, bool) {
	v, ok := lookupEnv(key)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ExpandAuthDir resolves a leading "~" in AuthDir to the user's home directory.
func (c *Config) ExpandAuthDir() error {
	if !strings.HasPrefix(c.AuthDir, "~") {
		return nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to resolve home directory: %w", err)
	}
	remainder := strings.TrimPrefix(c.AuthDir, "~")
	remainder = strings.TrimLeft(remainder, "/\\")
	if remainder == "" {
		c.AuthDir = home
		return nil
	}
	c.AuthDir = home + string(os.PathSeparator) + remainder
	return nil
}
