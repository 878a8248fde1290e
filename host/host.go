// Package host wires the bridge, state store, page lifecycle, static server,
// settings and page transports into one running host.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/slighter12/isocity-host-go/bridge"
	"github.com/slighter12/isocity-host-go/camera"
	"github.com/slighter12/isocity-host-go/config"
	"github.com/slighter12/isocity-host-go/hoststate"
	"github.com/slighter12/isocity-host-go/lifecycle"
	"github.com/slighter12/isocity-host-go/logger"
	"github.com/slighter12/isocity-host-go/settings"
	"github.com/slighter12/isocity-host-go/transport/http"
	"github.com/slighter12/isocity-host-go/transport/shared"
	"github.com/slighter12/isocity-host-go/transport/stdio"
	"github.com/slighter12/isocity-host-go/webserver"
)

// ErrStdioClosed is returned by Run when the stdio peer closes its end.
var ErrStdioClosed = errors.New("stdio page transport closed")

type Host struct {
	cfg     *config.Config
	webRoot string
	log     *slog.Logger

	Loop       *bridge.Loop
	Store      *hoststate.Store
	Dispatcher *bridge.Dispatcher
	Receiver   *bridge.Receiver
	Camera     *camera.Reconciler
	Web        *webserver.Server
	Controller *lifecycle.Controller
	Settings   *settings.Store
	Hub        *shared.Hub
	// Control is nil when the control server is disabled.
	Control *http.Server
	// Stdio is nil unless the stdio transport is enabled.
	Stdio *stdio.Server

	watcher *lifecycle.AssetWatcher

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	errs      chan error
	closeOnce sync.Once
}

// New builds a host from cfg. Relative web roots resolve against baseDir.
// Nothing runs until Start.
func New(cfg *config.Config, baseDir string) (*Host, error) {
	h := &Host{
		cfg:     cfg,
		webRoot: cfg.WebRootPath(baseDir),
		log:     logger.With("component", "host"),
		errs:    make(chan error, 2),
	}

	store, err := settings.Open(cfg.Settings.Path)
	if err != nil {
		return nil, err
	}
	h.Settings = store
	hostSettings, err := h.initialSettings()
	if err != nil {
		store.Close()
		return nil, err
	}

	h.Loop = bridge.NewLoop()
	h.Store = hoststate.NewStore(h.Loop, hoststate.LogFeedback{})
	h.Dispatcher = bridge.NewDispatcher()
	h.Receiver = bridge.NewReceiver(h.Store)
	h.Camera = camera.NewReconciler(func() hoststate.Camera { return h.Store.Snapshot().Camera }, h.Dispatcher)
	h.Web = webserver.New(cfg.Server.Host, cfg.Server.Port, h.webRoot)

	entry := cfg.Game.EntryPath
	h.Controller = lifecycle.NewController(lifecycle.Deps{
		Loop:        h.Loop,
		Store:       h.Store,
		Server:      h.Web,
		Navigator:   lifecycle.NavigatorFunc(func(target lifecycle.Target) { h.Hub.Navigate(target) }),
		CheckAssets: func() bool { return lifecycle.AssetsPresent(h.webRoot, entry) },
	}, hostSettings.Source(entry))
	h.Web.OnStatus(h.Controller.ServerStatusChanged)

	h.Hub = shared.NewHub(h.Dispatcher, h.Receiver, h.Controller, time.Duration(cfg.Bridge.EvalTimeoutSeconds)*time.Second)

	if cfg.Control.Enabled {
		h.Control = http.NewServer(http.Deps{
			Config:     cfg,
			Loop:       h.Loop,
			Store:      h.Store,
			Dispatcher: h.Dispatcher,
			Controller: h.Controller,
			Camera:     h.Camera,
			Settings:   h.Settings,
			Hub:        h.Hub,
			OnSettings: h.ApplySettings,
		})
	}
	if cfg.TransportEnabled(config.TransportStdio) {
		h.Stdio = stdio.NewServer(h.Hub)
	}

	watcher, err := lifecycle.NewAssetWatcher(h.webRoot, entry, h.Controller.SetAssetsPresent)
	if err != nil {
		h.log.Warn("Web bundle changes will not be picked up", "root", h.webRoot, "error", err)
	} else {
		h.watcher = watcher
	}
	return h, nil
}

// initialSettings loads the stored settings. Without persistence the
// configured gesture mode seeds them.
func (h *Host) initialSettings() (settings.HostSettings, error) {
	current, err := h.Settings.Load()
	if err != nil {
		return settings.HostSettings{}, err
	}
	if h.Settings.InMemory() && current.GestureMode != h.cfg.Game.GestureMode {
		current.GestureMode = h.cfg.Game.GestureMode
		if current, err = h.Settings.Save(current); err != nil {
			return settings.HostSettings{}, fmt.Errorf("failed to seed settings: %w", err)
		}
	}
	return current, nil
}

// ApplySettings reloads the page under saved settings.
func (h *Host) ApplySettings(saved settings.HostSettings) {
	h.log.Info("Applying host settings", "use_dev_server", saved.UseDevServer, "gesture_mode", saved.GestureMode)
	h.Controller.Reconfigure(saved.Source(h.cfg.Game.EntryPath))
}

// WebRoot is the resolved static file root.
func (h *Host) WebRoot() string {
	return h.webRoot
}

// Start runs the host in the background until ctx is done or Close.
func (h *Host) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)

	h.goRun(func() { h.Loop.Run(ctx) })
	if h.watcher != nil {
		h.goRun(func() { h.watcher.Run(ctx) })
	}
	if h.Control != nil {
		h.goRun(func() {
			if err := h.Control.Start(ctx); err != nil {
				h.log.Error("Control server failed", "address", h.Control.Addr(), "error", err)
				h.report(err)
			}
		})
	}
	if h.Stdio != nil {
		// Not waited on by Close: a read on the process's stdin may not unblock.
		go func() {
			err := h.Stdio.Start(ctx)
			if err != nil {
				h.log.Warn("Stdio page transport ended", "error", err)
			}
			if ctx.Err() == nil {
				h.report(errors.Join(ErrStdioClosed, err))
			}
		}()
	}

	h.Controller.Start()
	h.log.Info("Host started",
		"web_root", h.webRoot,
		"static_url", h.Web.BaseURL(),
		"control", h.Control != nil,
		"stdio", h.Stdio != nil,
	)
}

// Run starts the host and blocks until ctx is done or a transport fails,
// then closes it.
func (h *Host) Run(ctx context.Context) error {
	h.Start(ctx)
	defer h.Close()
	select {
	case <-ctx.Done():
		return nil
	case err := <-h.errs:
		return err
	}
}

func (h *Host) goRun(fn func()) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		fn()
	}()
}

func (h *Host) report(err error) {
	select {
	case h.errs <- err:
	default:
	}
}

// Close stops every component. It is safe to call more than once.
func (h *Host) Close() error {
	var errs []error
	h.closeOnce.Do(func() {
		if h.Control != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := h.Control.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
			cancel()
		}
		h.Hub.Close()
		h.Web.Stop()
		if h.watcher != nil {
			if err := h.watcher.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if h.cancel != nil {
			h.cancel()
		}
		h.Dispatcher.Close()
		h.Loop.Close()
		h.wg.Wait()
		if err := h.Settings.Close(); err != nil {
			errs = append(errs, err)
		}
		h.log.Info("Host stopped")
	})
	return errors.Join(errs...)
}
