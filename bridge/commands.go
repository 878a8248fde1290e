package bridge

import (
	"encoding/json"
	"strconv"

	"github.com/slighter12/isocity-host-go/logger"
)

// Native->web command types understood by the simulation.
const (
	CommandToolSet          = "tool.set"
	CommandSpeedSet         = "speed.set"
	CommandPanelSet         = "panel.set"
	CommandPanelDataRequest = "panel.data.request"
	CommandBudgetSetFunding = "budget.setFunding"
	CommandOverlaySet       = "overlay.set"
	CommandSelectionSet     = "selection.set"
	CommandSelectionClear   = "selection.clear"
)

func (d *Dispatcher) SetTool(tool string) {
	d.Dispatch(CommandToolSet, map[string]any{"tool": tool})
}

func (d *Dispatcher) SetSpeed(speed int) {
	d.Dispatch(CommandSpeedSet, map[string]any{"speed": speed})
}

func (d *Dispatcher) SetPanel(panel string) {
	d.Dispatch(CommandPanelSet, map[string]any{"panel": panel})
}

// RequestPanelData asks the simulation to answer with a panel.data event.
func (d *Dispatcher) RequestPanelData(panel string) {
	d.Dispatch(CommandPanelDataRequest, map[string]any{"panel": panel})
}

func (d *Dispatcher) SetBudgetFunding(key string, funding int) {
	d.Dispatch(CommandBudgetSetFunding, map[string]any{"key": key, "funding": funding})
}

func (d *Dispatcher) SetOverlay(mode string) {
	d.Dispatch(CommandOverlaySet, map[string]any{"mode": mode})
}

func (d *Dispatcher) SetSelection(x, y int) {
	d.Dispatch(CommandSelectionSet, map[string]any{"x": x, "y": y})
}

func (d *Dispatcher) ClearSelection() {
	d.Dispatch(CommandSelectionClear, map[string]any{})
}

// SetCamera asks the page's canvas API to move the camera. The page applies it
// and reports the authoritative camera back through camera.changed.
func (d *Dispatcher) SetCamera(offsetX, offsetY, zoom float64) {
	data, err := json.Marshal(map[string]float64{
		"offsetX": offsetX,
		"offsetY": offsetY,
		"zoom":    zoom,
	})
	if err != nil {
		logger.Debug("Dropping camera update", "error", err)
		return
	}
	d.Evaluate("window.__native && window.__native.setCamera && window.__native.setCamera("+string(data)+");", nil)
}

// Tap hit-tests a screen point in the page and selects the tile under it.
func (d *Dispatcher) Tap(screenX, screenY float64) {
	script := "(window.__native && window.__native.hitTest) ? window.__native.hitTest(" +
		strconv.FormatFloat(screenX, 'f', -1, 64) + ", " +
		strconv.FormatFloat(screenY, 'f', -1, 64) + ") : null;"
	d.Evaluate(script, func(result any, err error) {
		if err != nil {
			logger.Debug("Tap hit test failed", "error", err)
			return
		}
		hit := ValueOf(result)
		if !hit.Get("inBounds").BoolOr(false) {
			return
		}
		gridX, okX := hit.Get("gridX").Int64()
		gridY, okY := hit.Get("gridY").Int64()
		if !okX || !okY {
			return
		}
		d.SetSelection(int(gridX), int(gridY))
	})
}
