package lifecycle

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/slighter12/isocity-host-go/bridge"
	"github.com/slighter12/isocity-host-go/hoststate"
	"github.com/slighter12/isocity-host-go/logger"
)

// Server is the static file server as seen by the controller.
type Server interface {
	// StartIfNeeded starts listening unless already starting or running.
	// The outcome is reported through Status and the server's status callback.
	StartIfNeeded()
	Status() ServerStatus
	BaseURL() string
}

// Target is one load attempt.
type Target struct {
	URL      string       `json:"url"`
	Identity LoadIdentity `json:"identity"`
}

// Navigator points the page at a new target. It must not block.
type Navigator interface {
	Navigate(target Target)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(target Target)

func (f NavigatorFunc) Navigate(target Target) { f(target) }

// Source holds the user-controlled inputs of the load configuration.
type Source struct {
	EntryPath    string
	GestureMode  string
	DevURL       string
	UseDevServer bool
}

// Status is the controller's published view.
type Status struct {
	Server        ServerStatus       `json:"server"`
	Content       ContentState       `json:"content"`
	AssetsPresent bool               `json:"assetsPresent"`
	UseDevServer  bool               `json:"useDevServer"`
	Configuration *LoadConfiguration `json:"configuration,omitempty"`
	Target        *Target            `json:"target,omitempty"`
}

// Deps are the controller's collaborators. CheckAssets reports whether the
// bundled web build is present; it is re-run on Start and Retry.
type Deps struct {
	Loop        *bridge.Loop
	Store       *hoststate.Store
	Server      Server
	Navigator   Navigator
	CheckAssets func() bool
}

// Controller drives the server and page state machines and decides when the
// page is (re)loaded. Its state lives on the update loop.
type Controller struct {
	deps      Deps
	published atomic.Pointer[Status]

	// Loop-confined.
	source         Source
	serverStatus   ServerStatus
	content        ContentState
	assetsPresent  bool
	identity       LoadIdentity
	loadedURL      string
	loadedIdentity LoadIdentity
}

func NewController(deps Deps, source Source) *Controller {
	if deps.CheckAssets == nil {
		deps.CheckAssets = func() bool { return true }
	}
	if deps.Navigator == nil {
		deps.Navigator = NavigatorFunc(func(Target) {})
	}
	c := &Controller{
		deps:         deps,
		source:       normalizeSource(source),
		serverStatus: Stopped(),
		content:      ContentState{Phase: ContentLoading},
		identity:     NewLoadIdentity(),
	}
	c.publish()
	return c
}

func normalizeSource(source Source) Source {
	source.EntryPath = strings.TrimLeft(strings.TrimSpace(source.EntryPath), "/")
	if source.EntryPath == "" {
		source.EntryPath = "index.html"
	}
	if source.GestureMode == "" {
		source.GestureMode = "web"
	}
	source.DevURL = strings.TrimSpace(source.DevURL)
	return source
}

// Status returns the latest published controller state.
func (c *Controller) Status() Status {
	return *c.published.Load()
}

// Sync waits until everything posted before it has been applied.
func (c *Controller) Sync(ctx context.Context) error {
	return c.deps.Loop.Do(ctx, func() {})
}

// Start brings the server up when needed and loads the page.
func (c *Controller) Start() {
	c.post(func() {
		c.assetsPresent = c.deps.CheckAssets()
		c.ensureServer()
		c.reload()
	})
}

// Retry is the user-facing retry action for every failure overlay. It
// re-checks the bundle, restarts the server if needed and forces a fresh load.
func (c *Controller) Retry() {
	c.deps.Store.ClearLoadError()
	c.post(func() {
		c.assetsPresent = c.deps.CheckAssets()
		c.ensureServer()
		c.identity = NewLoadIdentity()
		c.reload()
	})
}

// Reconfigure applies new settings and forces a reload under a new identity.
func (c *Controller) Reconfigure(source Source) {
	c.post(func() {
		c.source = normalizeSource(source)
		c.ensureServer()
		c.identity = NewLoadIdentity()
		c.reload()
	})
}

// ServerStatusChanged is the static server's status callback.
func (c *Controller) ServerStatusChanged(status ServerStatus) {
	c.post(func() {
		c.serverStatus = status
		if status.Phase == ServerRunning {
			c.reload()
		}
	})
}

// SetAssetsPresent records a bundle presence change seen by the asset watcher.
func (c *Controller) SetAssetsPresent(present bool) {
	c.post(func() {
		c.assetsPresent = present
		if present {
			c.ensureServer()
			c.reload()
		}
	})
}

// ContentFinished records a successful page load. Readiness still waits for
// the page's host.ready message.
func (c *Controller) ContentFinished() {
	c.post(func() {
		c.content = ContentState{Phase: ContentReady}
	})
	c.deps.Store.MarkContentLoaded()
}

// ContentFailed records a failed navigation.
func (c *Controller) ContentFailed(err error, failingURL string) {
	c.fail(ContentErrored, err, failingURL)
}

// ProvisionalFailed records a navigation that failed before any content was
// committed. It is surfaced like any other load failure.
func (c *Controller) ProvisionalFailed(err error, failingURL string) {
	c.fail(ContentErrored, err, failingURL)
}

// ProcessTerminated records the loss of the page.
func (c *Controller) ProcessTerminated() {
	c.fail(ContentProcessTerminated, ErrProcessTerminated, "")
}

// CurrentConfiguration returns the configuration the page should be loaded
// with, or false while there is nothing loadable.
func (c *Controller) CurrentConfiguration() (LoadConfiguration, bool) {
	status := c.Status()
	if status.Configuration == nil {
		return LoadConfiguration{}, false
	}
	return *status.Configuration, true
}

// Overlay decides what the native UI shows over the page, in priority order:
// missing bundle, server failure, load failure, waiting for the bridge.
func (c *Controller) Overlay() Overlay {
	return OverlayFor(c.Status(), c.deps.Store.Snapshot())
}

// OverlayFor is the pure form of Controller.Overlay.
func OverlayFor(status Status, state hoststate.State) Overlay {
	if !status.UseDevServer {
		if !status.AssetsPresent {
			return Overlay{Kind: OverlayMissingAssets, Message: "Missing bundled web build", Retryable: true}
		}
		if status.Server.Phase == ServerFailed {
			return Overlay{Kind: OverlayServerFailed, Message: status.Server.Message, Retryable: true}
		}
	}
	if state.HasLoadError() {
		return Overlay{Kind: OverlayLoadFailed, Message: state.LoadErrorMessage, Retryable: true}
	}
	if !state.IsReady {
		overlay := Overlay{Kind: OverlayWaitingForBridge, Message: "Waiting for web app bridge"}
		if status.Target != nil {
			overlay.URL = status.Target.URL
		}
		return overlay
	}
	return Overlay{Kind: OverlayNone}
}

func (c *Controller) fail(phase ContentPhase, err error, failingURL string) {
	if err == nil {
		err = errors.New("unknown error")
	}
	c.post(func() {
		c.content = ContentState{Phase: phase, Message: err.Error()}
		if failingURL == "" {
			failingURL = c.loadedURL
		}
		logger.Warn("Page load failed", "phase", string(phase), "error", err, "url", failingURL)
		c.deps.Store.HandleLoadError(err, failingURL)
	})
}

func (c *Controller) post(fn func()) {
	if !c.deps.Loop.Post(func() {
		fn()
		c.publish()
	}) {
		logger.Debug("Lifecycle event dropped after loop close")
	}
}

func (c *Controller) ensureServer() {
	if c.source.UseDevServer && c.source.DevURL != "" {
		return
	}
	if !c.assetsPresent {
		return
	}
	c.deps.Server.StartIfNeeded()
	c.serverStatus = c.deps.Server.Status()
}

func (c *Controller) configuration() (LoadConfiguration, bool) {
	if c.source.UseDevServer && c.source.DevURL != "" {
		return LoadConfiguration{GameURL: c.source.DevURL, GestureMode: c.source.GestureMode}, true
	}
	if !c.assetsPresent || c.serverStatus.Phase != ServerRunning {
		return LoadConfiguration{}, false
	}
	base := strings.TrimRight(c.deps.Server.BaseURL(), "/")
	return LoadConfiguration{GameURL: base + "/" + c.source.EntryPath, GestureMode: c.source.GestureMode}, true
}

// reload navigates the page unless it already shows the same URL under the
// current identity.
func (c *Controller) reload() {
	cfg, ok := c.configuration()
	if !ok {
		return
	}
	url := cfg.ResolvedURL()
	if url == c.loadedURL && c.identity == c.loadedIdentity {
		return
	}
	c.loadedURL = url
	c.loadedIdentity = c.identity
	c.content = ContentState{Phase: ContentLoading}
	c.deps.Store.ClearLoadError()
	logger.Info("Loading page", "url", url, "identity", string(c.identity))
	c.deps.Navigator.Navigate(Target{URL: url, Identity: c.identity})
}

func (c *Controller) publish() {
	status := Status{
		Server:        c.serverStatus,
		Content:       c.content,
		AssetsPresent: c.assetsPresent,
		UseDevServer:  c.source.UseDevServer && c.source.DevURL != "",
	}
	if cfg, ok := c.configuration(); ok {
		status.Configuration = &cfg
	}
	if c.loadedURL != "" {
		status.Target = &Target{URL: c.loadedURL, Identity: c.loadedIdentity}
	}
	c.published.Store(&status)
}
