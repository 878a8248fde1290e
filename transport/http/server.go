// Package http serves the control API the native UI layer uses to read the
// host state, send commands and gestures to the page, and edit settings. It
// also accepts the page's WebSocket connection on /bridge.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/slighter12/isocity-host-go/bridge"
	"github.com/slighter12/isocity-host-go/camera"
	"github.com/slighter12/isocity-host-go/config"
	"github.com/slighter12/isocity-host-go/hoststate"
	"github.com/slighter12/isocity-host-go/lifecycle"
	"github.com/slighter12/isocity-host-go/logger"
	"github.com/slighter12/isocity-host-go/settings"
	"github.com/slighter12/isocity-host-go/transport/shared"
)

const streamKeepAlive = 15 * time.Second

// Deps are the host components the API drives.
type Deps struct {
	Config     *config.Config
	Loop       *bridge.Loop
	Store      *hoststate.Store
	Dispatcher *bridge.Dispatcher
	Controller *lifecycle.Controller
	Camera     *camera.Reconciler
	Settings   *settings.Store
	Hub        *shared.Hub
	// OnSettings is called with every successfully saved settings value.
	OnSettings func(settings.HostSettings)
}

type Server struct {
	deps        Deps
	streams     *StreamManager
	echo        *echo.Echo
	evalTimeout time.Duration

	ctx          context.Context
	cancel       context.CancelFunc
	unsubscribe  func()
	shutdownOnce sync.Once
}

func NewServer(deps Deps) *Server {
	if deps.Config == nil {
		deps.Config = config.NewConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		deps:        deps,
		streams:     NewStreamManager(),
		echo:        echo.New(),
		evalTimeout: time.Duration(deps.Config.Bridge.EvalTimeoutSeconds) * time.Second,
		ctx:         ctx,
		cancel:      cancel,
	}
	if s.evalTimeout <= 0 {
		s.evalTimeout = shared.DefaultEvalTimeout
	}
	s.unsubscribe = deps.Store.Subscribe(s.streams.Broadcast)
	s.setupEcho()
	return s
}

func (s *Server) setupEcho() {
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = handleError
	// Request logs go through the host logger: stdout may carry stdio page frames.
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency, "remote_ip", v.RemoteIP}
			if v.Error != nil {
				logger.Warn("Control request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			logger.Debug("Control request", attrs...)
			return nil
		},
	}))
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, "Last-Event-ID"},
	}))
	RegisterRoutes(s.echo, s)
}

// handleError renders every error as an errorBody.
func handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusInternalServerError
	message := err.Error()
	if he, ok := errors.AsType[*echo.HTTPError](err); ok {
		status = he.Code
		message = fmt.Sprint(he.Message)
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, errorBody{Error: message})
	}
	if err != nil {
		logger.Debug("Failed to write error response", "error", err)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Addr is the control listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.deps.Config.Control.Host, strconv.Itoa(s.deps.Config.Control.Port))
}

// Start listens on the control address and serves until Shutdown or ctx is
// done. A clean shutdown returns nil.
func (s *Server) Start(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Control server shutdown failed", "error", err)
		}
	})
	defer stop()

	addr := s.Addr()
	logger.Info("Control API starting to listen", "address", addr)
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown ends open streams and page connections, then stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.cancel()
		s.unsubscribe()
		s.streams.CloseAll()
	})
	return s.echo.Shutdown(ctx)
}

func (s *Server) GetStreamManager() *StreamManager {
	return s.streams
}
