package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/slighter12/isocity-host-go/bridge"
	"github.com/slighter12/isocity-host-go/camera"
	"github.com/slighter12/isocity-host-go/config"
	"github.com/slighter12/isocity-host-go/lifecycle"
	"github.com/slighter12/isocity-host-go/logger"
	"github.com/slighter12/isocity-host-go/settings"
	"github.com/slighter12/isocity-host-go/transport/shared"
	"github.com/slighter12/isocity-host-go/transport/ws"
)

const maxBodyBytes = 1 << 20

func RegisterRoutes(e *echo.Echo, s *Server) {
	e.GET("/", s.handleInfo)
	if s.deps.Config.TransportEnabled(config.TransportWebSocket) {
		e.GET("/bridge", echo.WrapHandler(ws.Handler(s.ctx, s.deps.Hub)))
	}

	api := e.Group("/api")
	api.GET("/state", s.handleState)
	api.GET("/state/stream", s.handleStateStream)
	api.GET("/lifecycle", s.handleLifecycle)
	api.POST("/retry", s.handleRetry)
	api.POST("/dispatch", s.handleDispatch)
	api.POST("/evaluate", s.handleEvaluate)

	commands := api.Group("/commands")
	commands.POST("/tool", s.handleSetTool)
	commands.POST("/speed", s.handleSetSpeed)
	commands.POST("/panel", s.handleSetPanel)
	commands.POST("/panel-data", s.handleRequestPanelData)
	commands.POST("/funding", s.handleSetFunding)
	commands.POST("/overlay", s.handleSetOverlay)
	commands.POST("/selection", s.handleSetSelection)
	commands.DELETE("/selection", s.handleClearSelection)

	gesture := api.Group("/gesture")
	gesture.POST("/pan", s.handlePan)
	gesture.POST("/pinch", s.handlePinch)
	gesture.POST("/end", s.handleGestureEnd)
	gesture.POST("/tap", s.handleTap)

	api.GET("/settings", s.handleGetSettings)
	api.PUT("/settings", s.handlePutSettings)
}

type errorBody struct {
	Error string `json:"error"`
}

func apiError(c echo.Context, status int, message string) error {
	return c.JSON(status, errorBody{Error: message})
}

// accepted answers a command: it is queued for the page whether or not one
// is attached, and attached tells the caller if anyone will see it.
func (s *Server) accepted(c echo.Context) error {
	return c.JSON(http.StatusAccepted, map[string]any{"accepted": true, "attached": s.deps.Dispatcher.Attached()})
}

// bind decodes a JSON body of at most maxBodyBytes into target.
func bind(c echo.Context, target any) error {
	body := http.MaxBytesReader(c.Response(), c.Request().Body, maxBodyBytes)
	defer body.Close()
	decoder := json.NewDecoder(body)
	decoder.UseNumber()
	if err := decoder.Decode(target); err != nil {
		if _, ok := errors.AsType[*http.MaxBytesError](err); ok {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
		}
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body: "+err.Error())
	}
	return nil
}

func (s *Server) handleInfo(c echo.Context) error {
	logger.Debug("Control info requested", "remote_addr", c.RealIP())
	cfg := s.deps.Config
	return c.JSON(http.StatusOK, map[string]any{
		"name":    cfg.Name,
		"version": cfg.Version,
		"transports": map[string]bool{
			config.TransportWebSocket: cfg.TransportEnabled(config.TransportWebSocket),
			config.TransportStdio:     cfg.TransportEnabled(config.TransportStdio),
		},
		"endpoints": map[string]string{
			"bridge":    "/bridge",
			"state":     "/api/state",
			"stream":    "/api/state/stream",
			"lifecycle": "/api/lifecycle",
			"settings":  "/api/settings",
		},
	})
}

func (s *Server) handleState(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Store.Snapshot())
}

func (s *Server) handleStateStream(c echo.Context) error {
	if !acceptsEventStream(c.Request().Header.Get(echo.HeaderAccept)) {
		return apiError(c, http.StatusNotAcceptable, "Accept header must include text/event-stream")
	}
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return apiError(c, http.StatusInternalServerError, "event stream is not available")
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	streamCtx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	transport := NewEventStream(c.Response(), flusher, cancel)
	session := s.streams.Open(c.RealIP(), transport)
	defer s.streams.Remove(session.ID)
	logger.Debug("State stream opened", "stream_id", session.ID, "remote_addr", c.RealIP())

	if err := transport.Send("state", s.deps.Store.Snapshot()); err != nil {
		return nil
	}
	ticker := time.NewTicker(streamKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-streamCtx.Done():
			logger.Debug("State stream closed", "stream_id", session.ID)
			return nil
		case <-s.ctx.Done():
			return nil
		case state := <-session.Updates():
			if err := transport.Send("state", state); err != nil {
				return nil
			}
		case <-ticker.C:
			if err := transport.Comment("keep-alive"); err != nil {
				return nil
			}
		}
	}
}

type lifecycleResponse struct {
	Status  lifecycle.Status  `json:"status"`
	Overlay lifecycle.Overlay `json:"overlay"`
	Page    shared.PageInfo   `json:"page"`
}

func (s *Server) handleLifecycle(c echo.Context) error {
	return c.JSON(http.StatusOK, lifecycleResponse{
		Status:  s.deps.Controller.Status(),
		Overlay: s.deps.Controller.Overlay(),
		Page:    s.deps.Hub.Info(),
	})
}

func (s *Server) handleRetry(c echo.Context) error {
	logger.Info("Retry requested", "remote_addr", c.RealIP())
	s.deps.Controller.Retry()
	return c.JSON(http.StatusAccepted, map[string]bool{"accepted": true})
}

type dispatchRequest struct {
	Type    string       `json:"type"`
	Payload bridge.Value `json:"payload"`
}

func (s *Server) handleDispatch(c echo.Context) error {
	var req dispatchRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	req.Type = strings.TrimSpace(req.Type)
	payload := req.Payload.Raw()
	if _, err := bridge.Encode(req.Type, payload); err != nil {
		return apiError(c, http.StatusBadRequest, err.Error())
	}
	s.deps.Dispatcher.Dispatch(req.Type, payload)
	return s.accepted(c)
}

type evaluateRequest struct {
	Script string `json:"script"`
}

type evalOutcome struct {
	result any
	err    error
}

func (s *Server) handleEvaluate(c echo.Context) error {
	var req evaluateRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Script) == "" {
		return apiError(c, http.StatusBadRequest, "script is required")
	}

	done := make(chan evalOutcome, 1)
	s.deps.Dispatcher.Evaluate(req.Script, func(result any, err error) {
		done <- evalOutcome{result: result, err: err}
	})

	// The broker times the eval out; the extra second only guards a lost completion.
	timer := time.NewTimer(s.evalTimeout + time.Second)
	defer timer.Stop()
	select {
	case outcome := <-done:
		if outcome.err != nil {
			return apiError(c, evalErrorStatus(outcome.err), outcome.err.Error())
		}
		return c.JSON(http.StatusOK, map[string]any{"result": outcome.result})
	case <-timer.C:
		return apiError(c, http.StatusGatewayTimeout, shared.ErrEvalTimeout.Error())
	case <-c.Request().Context().Done():
		return nil
	}
}

func evalErrorStatus(err error) int {
	var scriptErr *shared.ScriptError
	switch {
	case errors.Is(err, bridge.ErrNotAttached), errors.Is(err, shared.ErrPageDetached):
		return http.StatusConflict
	case errors.Is(err, shared.ErrEvalTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &scriptErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleSetTool(c echo.Context) error {
	var req struct {
		Tool string `json:"tool"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Tool) == "" {
		return apiError(c, http.StatusBadRequest, "tool is required")
	}
	s.deps.Dispatcher.SetTool(strings.TrimSpace(req.Tool))
	return s.accepted(c)
}

func (s *Server) handleSetSpeed(c echo.Context) error {
	var req struct {
		Speed *int `json:"speed"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Speed == nil || *req.Speed < 0 || *req.Speed > 3 {
		return apiError(c, http.StatusBadRequest, "speed must be 0, 1, 2 or 3")
	}
	s.deps.Dispatcher.SetSpeed(*req.Speed)
	return s.accepted(c)
}

type panelRequest struct {
	Panel string `json:"panel"`
}

func (s *Server) bindPanel(c echo.Context) (string, error) {
	var req panelRequest
	if err := bind(c, &req); err != nil {
		return "", err
	}
	panel := strings.TrimSpace(req.Panel)
	if panel == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "panel is required")
	}
	return panel, nil
}

func (s *Server) handleSetPanel(c echo.Context) error {
	panel, err := s.bindPanel(c)
	if err != nil {
		return err
	}
	s.deps.Dispatcher.SetPanel(panel)
	return s.accepted(c)
}

func (s *Server) handleRequestPanelData(c echo.Context) error {
	panel, err := s.bindPanel(c)
	if err != nil {
		return err
	}
	s.deps.Dispatcher.RequestPanelData(panel)
	return s.accepted(c)
}

func (s *Server) handleSetFunding(c echo.Context) error {
	var req struct {
		Key     string `json:"key"`
		Funding *int   `json:"funding"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Key) == "" || req.Funding == nil {
		return apiError(c, http.StatusBadRequest, "key and funding are required")
	}
	s.deps.Dispatcher.SetBudgetFunding(strings.TrimSpace(req.Key), *req.Funding)
	return s.accepted(c)
}

func (s *Server) handleSetOverlay(c echo.Context) error {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Mode) == "" {
		return apiError(c, http.StatusBadRequest, "mode is required")
	}
	s.deps.Dispatcher.SetOverlay(strings.TrimSpace(req.Mode))
	return s.accepted(c)
}

func (s *Server) handleSetSelection(c echo.Context) error {
	var req struct {
		X *int `json:"x"`
		Y *int `json:"y"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.X == nil || req.Y == nil {
		return apiError(c, http.StatusBadRequest, "x and y are required")
	}
	s.deps.Dispatcher.SetSelection(*req.X, *req.Y)
	return s.accepted(c)
}

func (s *Server) handleClearSelection(c echo.Context) error {
	s.deps.Dispatcher.ClearSelection()
	return s.accepted(c)
}

// onLoop runs fn on the update loop, where the reconciler reads the camera.
func (s *Server) onLoop(c echo.Context, fn func()) error {
	if err := s.deps.Loop.Do(c.Request().Context(), fn); err != nil {
		if errors.Is(err, bridge.ErrLoopClosed) {
			return apiError(c, http.StatusServiceUnavailable, err.Error())
		}
		return err
	}
	return nil
}

type gestureResponse struct {
	Phase    string           `json:"phase"`
	Position *camera.Position `json:"position,omitempty"`
}

func (s *Server) handlePan(c echo.Context) error {
	var req struct {
		TranslationX float64 `json:"translationX"`
		TranslationY float64 `json:"translationY"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	var resp gestureResponse
	if err := s.onLoop(c, func() {
		position := s.deps.Camera.Pan(req.TranslationX, req.TranslationY)
		resp = gestureResponse{Phase: s.deps.Camera.Phase().String(), Position: &position}
	}); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePinch(c echo.Context) error {
	var req struct {
		Scale *float64 `json:"scale"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Scale == nil {
		return apiError(c, http.StatusBadRequest, "scale is required")
	}
	var resp gestureResponse
	if err := s.onLoop(c, func() {
		position := s.deps.Camera.Pinch(*req.Scale)
		resp = gestureResponse{Phase: s.deps.Camera.Phase().String(), Position: &position}
	}); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGestureEnd(c echo.Context) error {
	var resp gestureResponse
	if err := s.onLoop(c, func() {
		s.deps.Camera.End()
		resp = gestureResponse{Phase: s.deps.Camera.Phase().String()}
	}); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleTap(c echo.Context) error {
	var req struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.X == nil || req.Y == nil {
		return apiError(c, http.StatusBadRequest, "x and y are required")
	}
	var sent bool
	if err := s.onLoop(c, func() {
		sent = s.deps.Camera.Tap(*req.X, *req.Y)
	}); err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, map[string]bool{"accepted": sent})
}

type settingsResponse struct {
	Settings settings.HostSettings `json:"settings"`
	InMemory bool                  `json:"inMemory"`
}

func (s *Server) handleGetSettings(c echo.Context) error {
	current, err := s.deps.Settings.Load()
	if err != nil {
		logger.Error("Failed to load settings", "error", err)
		return apiError(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, settingsResponse{Settings: current, InMemory: s.deps.Settings.InMemory()})
}

func (s *Server) handlePutSettings(c echo.Context) error {
	var req settings.HostSettings
	if err := bind(c, &req); err != nil {
		return err
	}
	saved, err := s.deps.Settings.Save(req)
	if err != nil {
		if errors.Is(err, settings.ErrClosed) {
			return apiError(c, http.StatusServiceUnavailable, err.Error())
		}
		return apiError(c, http.StatusBadRequest, err.Error())
	}
	if s.deps.OnSettings != nil {
		s.deps.OnSettings(saved)
	}
	return c.JSON(http.StatusOK, settingsResponse{Settings: saved, InMemory: s.deps.Settings.InMemory()})
}

func acceptsEventStream(acceptHeader string) bool {
	for _, part := range strings.Split(acceptHeader, ",") {
		mime := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if strings.EqualFold(mime, "text/event-stream") || mime == "*/*" {
			return true
		}
	}
	return false
}
