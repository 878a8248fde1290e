// Package settings persists the user-editable host settings in a pebble
// key-value store, one key per setting.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/vfs"

	"github.com/slighter12/isocity-host-go/lifecycle"
	"github.com/slighter12/isocity-host-go/logger"
)

// ErrClosed is returned by a Store used after Close.
var ErrClosed = errors.New("settings store closed")

const (
	keyDevURL       = "isocity.host.devURL"
	keyUseDevServer = "isocity.host.useDevServer"
	keyGestureMode  = "isocity.host.gestureMode"
	keyToolbarMode  = "isocity.host.toolbarMode"
	keyHUDDensity   = "isocity.host.hudDensity"
	keyPinnedTools  = "isocity.host.pinnedTools"
)

const (
	DefaultDevURL = "http://127.0.0.1:3000"

	ToolbarCategory = "category"
	ToolbarQuick    = "quick"

	HUDCompact = "compact"
	HUDFull    = "full"

	GestureWeb    = "web"
	GestureNative = "native"
)

// HostSettings are the settings a user can change while the host runs.
type HostSettings struct {
	DevURL       string   `json:"devURL"`
	UseDevServer bool     `json:"useDevServer"`
	GestureMode  string   `json:"gestureMode"`
	ToolbarMode  string   `json:"toolbarMode"`
	HUDDensity   string   `json:"hudDensity"`
	PinnedTools  []string `json:"pinnedTools"`
}

func Defaults() HostSettings {
	return HostSettings{
		DevURL:      DefaultDevURL,
		GestureMode: GestureWeb,
		ToolbarMode: ToolbarCategory,
		HUDDensity:  HUDCompact,
		PinnedTools: []string{},
	}
}

// Normalize trims values and fills empty ones with defaults.
func (h *HostSettings) Normalize() {
	defaults := Defaults()
	h.DevURL = strings.TrimSpace(h.DevURL)
	if h.DevURL == "" {
		h.DevURL = defaults.DevURL
	}
	h.GestureMode = strings.ToLower(strings.TrimSpace(h.GestureMode))
	if h.GestureMode == "" {
		h.GestureMode = defaults.GestureMode
	}
	h.ToolbarMode = strings.ToLower(strings.TrimSpace(h.ToolbarMode))
	if h.ToolbarMode == "" {
		h.ToolbarMode = defaults.ToolbarMode
	}
	h.HUDDensity = strings.ToLower(strings.TrimSpace(h.HUDDensity))
	if h.HUDDensity == "" {
		h.HUDDensity = defaults.HUDDensity
	}
	pinned := make([]string, 0, len(h.PinnedTools))
	for _, tool := range h.PinnedTools {
		tool = strings.TrimSpace(tool)
		if tool != "" && !slices.Contains(pinned, tool) {
			pinned = append(pinned, tool)
		}
	}
	h.PinnedTools = pinned
}

func (h HostSettings) Validate() error {
	if !validDevURL(h.DevURL) {
		return fmt.Errorf("invalid dev server url: %q", h.DevURL)
	}
	if h.GestureMode != GestureWeb && h.GestureMode != GestureNative {
		return fmt.Errorf("invalid gesture mode: %s", h.GestureMode)
	}
	if h.ToolbarMode != ToolbarCategory && h.ToolbarMode != ToolbarQuick {
		return fmt.Errorf("invalid toolbar mode: %s", h.ToolbarMode)
	}
	if h.HUDDensity != HUDCompact && h.HUDDensity != HUDFull {
		return fmt.Errorf("invalid hud density: %s", h.HUDDensity)
	}
	return nil
}

func validDevURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Source is the load configuration input these settings select.
func (h HostSettings) Source(entryPath string) lifecycle.Source {
	return lifecycle.Source{
		EntryPath:    entryPath,
		GestureMode:  h.GestureMode,
		DevURL:       h.DevURL,
		UseDevServer: h.UseDevServer,
	}
}

// Store reads and writes HostSettings.
type Store struct {
	mu       sync.Mutex
	db       *pebble.DB
	inMemory bool
}

// Open opens the settings database in dir, creating it if needed. An empty
// dir keeps settings in memory for the life of the process.
func Open(dir string) (*Store, error) {
	opts := &pebble.Options{}
	inMemory := strings.TrimSpace(dir) == ""
	if inMemory {
		opts.FS = vfs.NewMem()
		dir = "settings"
	} else {
		dir = filepath.Clean(dir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create settings directory: %w", err)
		}
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open settings store: %w", err)
	}
	logger.Debug("Settings store opened", "dir", dir, "in_memory", inMemory)
	return &Store{db: db, inMemory: inMemory}, nil
}

// Load returns the stored settings. Missing or unreadable keys take their
// default value; one bad key never discards the others.
func (s *Store) Load() (HostSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return HostSettings{}, ErrClosed
	}

	settings := Defaults()
	fields := []struct {
		key    string
		target any
	}{
		{keyDevURL, &settings.DevURL},
		{keyUseDevServer, &settings.UseDevServer},
		{keyGestureMode, &settings.GestureMode},
		{keyToolbarMode, &settings.ToolbarMode},
		{keyHUDDensity, &settings.HUDDensity},
		{keyPinnedTools, &settings.PinnedTools},
	}
	for _, field := range fields {
		if err := s.getLocked(field.key, field.target); err != nil {
			return Defaults(), err
		}
	}

	settings.Normalize()
	if repaired := settings.repair(); len(repaired) > 0 {
		logger.Warn("Stored settings invalid, using defaults for them", "keys", repaired)
	}
	return settings, nil
}

// repair resets each invalid field to its default and names the fields reset.
func (h *HostSettings) repair() []string {
	defaults := Defaults()
	var repaired []string
	if !validDevURL(h.DevURL) {
		h.DevURL = defaults.DevURL
		repaired = append(repaired, keyDevURL)
	}
	if h.GestureMode != GestureWeb && h.GestureMode != GestureNative {
		h.GestureMode = defaults.GestureMode
		repaired = append(repaired, keyGestureMode)
	}
	if h.ToolbarMode != ToolbarCategory && h.ToolbarMode != ToolbarQuick {
		h.ToolbarMode = defaults.ToolbarMode
		repaired = append(repaired, keyToolbarMode)
	}
	if h.HUDDensity != HUDCompact && h.HUDDensity != HUDFull {
		h.HUDDensity = defaults.HUDDensity
		repaired = append(repaired, keyHUDDensity)
	}
	return repaired
}

func (s *Store) getLocked(key string, target any) error {
	data, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	defer closer.Close()
	if err := json.Unmarshal(data, target); err != nil {
		logger.Warn("Ignoring unreadable setting", "key", key, "error", err)
	}
	return nil
}

// Save normalizes, validates and writes every setting in one batch.
func (s *Store) Save(settings HostSettings) (HostSettings, error) {
	settings.Normalize()
	if err := settings.Validate(); err != nil {
		return HostSettings{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return HostSettings{}, ErrClosed
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	values := map[string]any{
		keyDevURL:       settings.DevURL,
		keyUseDevServer: settings.UseDevServer,
		keyGestureMode:  settings.GestureMode,
		keyToolbarMode:  settings.ToolbarMode,
		keyHUDDensity:   settings.HUDDensity,
		keyPinnedTools:  settings.PinnedTools,
	}
	for key, value := range values {
		data, err := json.Marshal(value)
		if err != nil {
			return HostSettings{}, fmt.Errorf("failed to encode %s: %w", key, err)
		}
		if err := batch.Set([]byte(key), data, nil); err != nil {
			return HostSettings{}, fmt.Errorf("failed to stage %s: %w", key, err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return HostSettings{}, fmt.Errorf("failed to save settings: %w", err)
	}
	logger.Info("Host settings saved", "use_dev_server", settings.UseDevServer, "gesture_mode", settings.GestureMode)
	return settings, nil
}

// InMemory reports whether settings are lost on exit.
func (s *Store) InMemory() bool {
	return s.inMemory
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
