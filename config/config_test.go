package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()

	if cfg.Name != "isocity-host-go" {
		t.Errorf("Expected name 'isocity-host-go', got '%s'", cfg.Name)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Expected host '127.0.0.1', got '%s'", cfg.Server.Host)
	}

	if cfg.Server.Port != DefaultStaticPort {
		t.Errorf("Expected port %d, got %d", DefaultStaticPort, cfg.Server.Port)
	}

	if cfg.Control.Port != DefaultControlPort || !cfg.Control.Enabled {
		t.Errorf("Expected enabled control server on %d, got %+v", DefaultControlPort, cfg.Control)
	}

	if cfg.Game.GestureMode != GestureModeWeb {
		t.Errorf("Expected gesture mode 'web', got '%s'", cfg.Game.GestureMode)
	}

	if !cfg.TransportEnabled(TransportWebSocket) {
		t.Errorf("Expected websocket transport to be enabled")
	}

	if cfg.TransportEnabled(TransportStdio) {
		t.Errorf("Expected stdio transport to be disabled by default")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected default config to validate, got %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "test_config.json")

	testConfig := `{
		"name": "test-host",
		"server": {
			"host": " 127.0.0.1 ",
			"port": 8080,
			"web_root": "/srv/web.bundle",
			"debug": true
		},
		"control": {
			"enabled": true,
			"host": "127.0.0.1",
			"port": 8081
		},
		"transports": [
			{"type": "WebSocket", "enabled": true},
			{"type": "stdio", "enabled": true}
		],
		"game": {"gesture_mode": "NATIVE"},
		"bridge": {"eval_timeout_seconds": 3},
		"logging": {
			"level": "DEBUG",
			"format": "text",
			"path": "/tmp/test.log"
		}
	}`

	if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Name != "test-host" {
		t.Errorf("Expected name 'test-host', got '%s'", cfg.Name)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Expected trimmed host '127.0.0.1', got '%s'", cfg.Server.Host)
	}

	if cfg.Server.Port != 8080 || cfg.Control.Port != 8081 {
		t.Errorf("Expected ports 8080/8081, got %d/%d", cfg.Server.Port, cfg.Control.Port)
	}

	if !cfg.Server.Debug {
		t.Errorf("Expected debug to be true")
	}

	if cfg.Game.GestureMode != GestureModeNative {
		t.Errorf("Expected gesture mode 'native', got '%s'", cfg.Game.GestureMode)
	}

	if cfg.Game.EntryPath != "index.html" {
		t.Errorf("Expected default entry path, got '%s'", cfg.Game.EntryPath)
	}

	if cfg.Bridge.EvalTimeoutSeconds != 3 {
		t.Errorf("Expected eval timeout 3, got %d", cfg.Bridge.EvalTimeoutSeconds)
	}

	if !cfg.TransportEnabled(TransportWebSocket) || !cfg.TransportEnabled(TransportStdio) {
		t.Errorf("Expected both transports enabled, got %+v", cfg.Transports)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected logging level 'debug', got '%s'", cfg.Logging.Level)
	}

	if got := cfg.WebRootPath("/ignored"); got != "/srv/web.bundle" {
		t.Errorf("Expected absolute web root to be kept, got '%s'", got)
	}
}

func TestLoadConfigFileNotFound(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/config.json")
	if err == nil {
		t.Error("Expected error when loading non-existent config file")
	}
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "invalid_config.json")

	if err := os.WriteFile(configPath, []byte(`{"server": {"port": "many"}`), 0644); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	if _, err := LoadConfig(configPath); err == nil {
		t.Fatal("Expected error for invalid JSON")
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.json")
	if err := os.WriteFile(configPath, []byte(`{}`), 0644); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	t.Setenv("ISOCITY_PORT", "60000")
	t.Setenv("ISOCITY_WEB_ROOT", "dist")
	t.Setenv("ISOCITY_GESTURE_MODE", "native")
	t.Setenv("ISOCITY_EVAL_TIMEOUT_SECONDS", "not-a-number")
	t.Setenv("ISOCITY_DEBUG", "true")
	t.Setenv("ISOCITY_LOG_LEVEL", "warn")

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != 60000 {
		t.Errorf("Expected port override 60000, got %d", cfg.Server.Port)
	}
	if cfg.Server.WebRoot != "dist" {
		t.Errorf("Expected web root override 'dist', got '%s'", cfg.Server.WebRoot)
	}
	if cfg.Game.GestureMode != GestureModeNative {
		t.Errorf("Expected gesture mode override, got '%s'", cfg.Game.GestureMode)
	}
	if cfg.Bridge.EvalTimeoutSeconds != 8 {
		t.Errorf("Expected invalid override to be ignored, got %d", cfg.Bridge.EvalTimeoutSeconds)
	}
	if !cfg.Server.Debug {
		t.Errorf("Expected debug override")
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Expected log level override 'warn', got '%s'", cfg.Logging.Level)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "server port"},
		{"non loopback host", func(c *Config) { c.Server.Host = "0.0.0.0" }, "loopback"},
		{"empty web root", func(c *Config) { c.Server.WebRoot = "" }, "web root"},
		{"control collides", func(c *Config) { c.Control.Port = c.Server.Port }, "collides"},
		{"gesture mode", func(c *Config) { c.Game.GestureMode = "mouse" }, "gesture mode"},
		{"eval timeout", func(c *Config) { c.Bridge.EvalTimeoutSeconds = 500 }, "eval timeout"},
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }, "log level"},
		{"transport type", func(c *Config) { c.Transports = []Transport{{Type: "carrier-pigeon", Enabled: true}} }, "transport type"},
		{"no transport", func(c *Config) { c.Transports = []Transport{{Type: TransportStdio}} }, "at least one transport"},
		{"websocket without control", func(c *Config) { c.Control.Enabled = false }, "requires the control server"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("ISOCITY_CONFIG_PATH", "/etc/isocity/custom.json")
	path, err := ResolveConfigPath()
	if err != nil {
		t.Fatalf("Expected no error resolving config path, got %v", err)
	}
	if path != "/etc/isocity/custom.json" {
		t.Errorf("Expected env path, got '%s'", path)
	}

	t.Setenv("ISOCITY_CONFIG_PATH", "")
	path, err = ResolveConfigPath()
	if err != nil {
		t.Fatalf("Expected no error resolving config path, got %v", err)
	}
	if filepath.Base(path) != "host_config.json" {
		t.Errorf("Expected config filename 'host_config.json', got '%s'", filepath.Base(path))
	}
}

func TestEnsureDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "host_config.json")

	if err := EnsureDefaultConfig(path); err != nil {
		t.Fatalf("EnsureDefaultConfig failed: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load default config: %v", err)
	}
	if cfg.Server.Port != DefaultStaticPort {
		t.Errorf("Expected default port, got %d", cfg.Server.Port)
	}

	// A second call must leave an edited file alone.
	cfg.Server.Port = 55000
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	if err := EnsureDefaultConfig(path); err != nil {
		t.Fatalf("EnsureDefaultConfig failed: %v", err)
	}
	reloaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to reload config: %v", err)
	}
	if reloaded.Server.Port != 55000 {
		t.Errorf("Expected existing config to be preserved, got port %d", reloaded.Server.Port)
	}
}

func TestSaveConfigRejectsInvalid(t *testing.T) {
	if err := SaveConfig(nil, filepath.Join(t.TempDir(), "x.json")); err == nil {
		t.Fatal("Expected error for nil config")
	}

	cfg := NewConfig()
	cfg.Logging.Format = "xml"
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := SaveConfig(cfg, path); err == nil {
		t.Fatal("Expected error for invalid config")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("Expected nothing written for invalid config, stat err=%v", err)
	}
}
