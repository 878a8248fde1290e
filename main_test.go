package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return strings.TrimSpace(out.String()), err
}

func TestResolveURL(t *testing.T) {
	out, err := execute(t, "resolve-url", "--base-url", "http://127.0.0.1:9000/", "--entry", "/index.html", "--gesture", "native")
	if err != nil {
		t.Fatalf("resolve-url failed: %v", err)
	}
	if out != "http://127.0.0.1:9000/index.html?host=ios&gesture=native" {
		t.Fatalf("unexpected url %q", out)
	}

	out, err = execute(t, "resolve-url", "--use-dev-server", "--dev-url", "http://localhost:3000/?host=web&seed=7", "--gesture", "web")
	if err != nil {
		t.Fatalf("resolve-url failed: %v", err)
	}
	if out != "http://localhost:3000/?seed=7&host=ios&gesture=web" {
		t.Fatalf("unexpected dev url %q", out)
	}
	flagUseDevServer = false

	if _, err := execute(t, "resolve-url", "--gesture", "tilt"); err == nil {
		t.Fatal("expected an invalid gesture mode to fail")
	}
	flagGesture = "web"
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "host_config.json")
	out, err := execute(t, "init-config", "--config", path)
	if err != nil {
		t.Fatalf("init-config failed: %v", err)
	}
	if out != path {
		t.Fatalf("expected the config path to be printed, got %q", out)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	flagConfigPath = ""
}
