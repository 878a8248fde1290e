package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/slighter12/isocity-host-go/logger"
)

const (
	DefaultStaticPort  = 54873
	DefaultControlPort = 54874

	TransportWebSocket = "websocket"
	TransportStdio     = "stdio"

	GestureModeWeb    = "web"
	GestureModeNative = "native"
)

// Config represents the host configuration
type Config struct {
	Name        string      `json:"name"`
	Version     string      `json:"version"`
	Description string      `json:"description"`
	Server      Server      `json:"server"`
	Control     Control     `json:"control"`
	Transports  []Transport `json:"transports"`
	Game        Game        `json:"game"`
	Bridge      Bridge      `json:"bridge"`
	Settings    Settings    `json:"settings"`
	Logging     Logging     `json:"logging"`
}

// Server configures the loopback static file server that serves the web build.
type Server struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	WebRoot string `json:"web_root"`
	Debug   bool   `json:"debug"`
}

// Control configures the HTTP API used by the native UI layer.
type Control struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// Transport represents a page connection transport
type Transport struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

// Game describes how the hosted page is loaded.
type Game struct {
	EntryPath   string `json:"entry_path"`
	GestureMode string `json:"gesture_mode"`
}

// Bridge tunes the script evaluation channel.
type Bridge struct {
	EvalTimeoutSeconds int `json:"eval_timeout_seconds"`
}

// Settings locates the persisted host settings. An empty path keeps settings in memory.
type Settings struct {
	Path string `json:"path"`
}

// Logging represents logging configuration
type Logging struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Path   string `json:"path"`
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	base := homeBase()
	return &Config{
		Name:        "isocity-host-go",
		Version:     "0.1.0",
		Description: "Native host bridge for the IsoCity web build",
		Server: Server{
			Host:    "127.0.0.1",
			Port:    DefaultStaticPort,
			WebRoot: "web.bundle",
			Debug:   false,
		},
		Control: Control{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    DefaultControlPort,
		},
		Transports: []Transport{
			{Type: TransportWebSocket, Enabled: true},
			{Type: TransportStdio, Enabled: false},
		},
		Game: Game{
			EntryPath:   "index.html",
			GestureMode: GestureModeWeb,
		},
		Bridge: Bridge{
			EvalTimeoutSeconds: 8,
		},
		Settings: Settings{
			Path: filepath.Join(base, "settings"),
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
			Path:   filepath.Join(base, "logs", "host.log"),
		},
	}
}

func homeBase() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = os.TempDir()
	}
	return filepath.Join(home, ".isocity-host")
}

// LoadConfig loads the configuration from a file
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	// Environment variables take priority over the file.
	applyEnvOverrides(cfg)
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a file
func SaveConfig(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return writeConfig(cfg, path)
}

func writeConfig(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	envString("ISOCITY_HOST", &cfg.Server.Host)
	envInt("ISOCITY_PORT", &cfg.Server.Port)
	envString("ISOCITY_WEB_ROOT", &cfg.Server.WebRoot)
	envBool("ISOCITY_DEBUG", &cfg.Server.Debug)
	envString("ISOCITY_CONTROL_HOST", &cfg.Control.Host)
	envInt("ISOCITY_CONTROL_PORT", &cfg.Control.Port)
	envString("ISOCITY_GESTURE_MODE", &cfg.Game.GestureMode)
	envInt("ISOCITY_EVAL_TIMEOUT_SECONDS", &cfg.Bridge.EvalTimeoutSeconds)
	envString("ISOCITY_SETTINGS_PATH", &cfg.Settings.Path)
	envString("ISOCITY_LOG_LEVEL", &cfg.Logging.Level)
	envString("ISOCITY_LOG_PATH", &cfg.Logging.Path)
}

func envString(name string, target *string) {
	if value := os.Getenv(name); value != "" {
		*target = value
	}
}

func envInt(name string, target *int) {
	raw := os.Getenv(name)
	if raw == "" {
		return
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		logger.Warn("Ignoring invalid environment override", "name", name, "value", raw, "error", err)
		return
	}
	*target = parsed
}

func envBool(name string, target *bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		logger.Warn("Ignoring invalid environment override", "name", name, "value", raw, "error", err)
		return
	}
	*target = parsed
}

// Normalize canonicalizes config values so downstream validation and runtime
// logic operate on stable representations.
func (c *Config) Normalize() {
	c.Server.Host = strings.TrimSpace(c.Server.Host)
	c.Server.WebRoot = strings.TrimSpace(c.Server.WebRoot)
	c.Control.Host = strings.TrimSpace(c.Control.Host)
	c.Game.EntryPath = strings.TrimLeft(strings.TrimSpace(c.Game.EntryPath), "/")
	if c.Game.EntryPath == "" {
		c.Game.EntryPath = "index.html"
	}
	c.Game.GestureMode = strings.ToLower(strings.TrimSpace(c.Game.GestureMode))
	if c.Game.GestureMode == "" {
		c.Game.GestureMode = GestureModeWeb
	}
	if c.Bridge.EvalTimeoutSeconds == 0 {
		c.Bridge.EvalTimeoutSeconds = 8
	}
	c.Settings.Path = strings.TrimSpace(c.Settings.Path)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Path = strings.TrimSpace(c.Logging.Path)
	for i := range c.Transports {
		c.Transports[i].Type = strings.ToLower(strings.TrimSpace(c.Transports[i].Type))
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validatePort("server", c.Server.Port); err != nil {
		return err
	}
	if c.Server.Host == "" {
		return errors.New("host cannot be empty")
	}
	if !isLoopbackHost(c.Server.Host) {
		return fmt.Errorf("server host %q must be a loopback address", c.Server.Host)
	}
	if c.Server.WebRoot == "" {
		return errors.New("web root cannot be empty")
	}

	if c.Control.Enabled {
		if err := validatePort("control", c.Control.Port); err != nil {
			return err
		}
		if c.Control.Host == "" {
			return errors.New("control host cannot be empty")
		}
		if c.Control.Port == c.Server.Port && c.Control.Host == c.Server.Host {
			return fmt.Errorf("control port %d collides with the static server", c.Control.Port)
		}
	}

	validGestureModes := map[string]bool{
		GestureModeWeb:    true,
		GestureModeNative: true,
	}
	if !validGestureModes[c.Game.GestureMode] {
		return fmt.Errorf("invalid gesture mode %q: expected one of [web native]", c.Game.GestureMode)
	}

	if c.Bridge.EvalTimeoutSeconds < 1 || c.Bridge.EvalTimeoutSeconds > 120 {
		return fmt.Errorf("invalid eval timeout seconds %d: expected range 1..120", c.Bridge.EvalTimeoutSeconds)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return errors.New("invalid log level")
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return errors.New("invalid log format")
	}

	if c.Logging.Path == "" {
		return errors.New("log path cannot be empty")
	}

	validTransportTypes := map[string]bool{
		TransportWebSocket: true,
		TransportStdio:     true,
	}
	enabledTransports := 0
	for _, t := range c.Transports {
		if !validTransportTypes[t.Type] {
			return fmt.Errorf("invalid transport type: %s", t.Type)
		}
		if t.Enabled {
			enabledTransports++
		}
	}
	if enabledTransports == 0 {
		return errors.New("at least one transport must be enabled")
	}
	if c.TransportEnabled(TransportWebSocket) && !c.Control.Enabled {
		return errors.New("websocket transport requires the control server")
	}

	return nil
}

// TransportEnabled reports whether a page transport of the given type is on.
func (c *Config) TransportEnabled(kind string) bool {
	for _, t := range c.Transports {
		if t.Type == kind && t.Enabled {
			return true
		}
	}
	return false
}

// WebRootPath resolves the web root relative to baseDir when it is not absolute.
func (c *Config) WebRootPath(baseDir string) string {
	if filepath.IsAbs(c.Server.WebRoot) || baseDir == "" {
		return filepath.Clean(c.Server.WebRoot)
	}
	return filepath.Join(baseDir, c.Server.WebRoot)
}

func validatePort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid %s port number %d", name, port)
	}
	return nil
}

func isLoopbackHost(host string) bool {
	switch strings.ToLower(host) {
	case "127.0.0.1", "localhost", "::1", "[::1]":
		return true
	}
	return strings.HasPrefix(host, "127.")
}

// ResolveConfigPath returns the path that should be used for configuration.
func ResolveConfigPath() (string, error) {
	if path := strings.TrimSpace(os.Getenv("ISOCITY_CONFIG_PATH")); path != "" {
		return path, nil
	}

	if _, err := os.Stat("config/host_config.json"); err == nil {
		return "config/host_config.json", nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(home, ".isocity-host", "config", "host_config.json"), nil
}

// EnsureDefaultConfig creates a default config file if one does not exist.
func EnsureDefaultConfig(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("config path cannot be empty")
	}

	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat config file: %w", err)
	}

	defaultConfig := NewConfig()
	defaultConfig.Normalize()
	if err := writeConfig(defaultConfig, path); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}
	return nil
}
