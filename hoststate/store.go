package hoststate

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/slighter12/isocity-host-go/bridge"
	"github.com/slighter12/isocity-host-go/logger"
)

// Observer is notified on the update loop after every change. It must not block.
type Observer func(State)

// Store is the native-side mirror of the simulation state.
//
// Writes happen only on the update loop; each write publishes a new immutable
// State, so Snapshot never waits on a writer.
type Store struct {
	loop     *bridge.Loop
	feedback Feedback
	now      func() time.Time
	current  atomic.Pointer[State]

	// Loop-confined.
	loggedFirstHostState bool
	observers            map[uint64]Observer
	nextObserverID       uint64
}

// NewStore builds a store whose writes run on loop. A nil feedback logs.
func NewStore(loop *bridge.Loop, feedback Feedback) *Store {
	if feedback == nil {
		feedback = LogFeedback{}
	}
	s := &Store{
		loop:      loop,
		feedback:  feedback,
		now:       time.Now,
		observers: make(map[uint64]Observer),
	}
	initial := InitialState()
	s.current.Store(&initial)
	return s
}

// Snapshot returns the latest published state.
func (s *Store) Snapshot() State {
	return *s.current.Load()
}

// Subscribe registers fn. It is first called with the state current at
// registration and then after every change. The returned func unsubscribes.
func (s *Store) Subscribe(fn Observer) func() {
	var id uint64
	s.loop.Post(func() {
		s.nextObserverID++
		id = s.nextObserverID
		s.observers[id] = fn
		fn(s.Snapshot())
	})
	// The loop is FIFO, so removal always runs after registration.
	return func() {
		s.loop.Post(func() {
			delete(s.observers, id)
		})
	}
}

// Sync waits until everything posted before it has been applied.
func (s *Store) Sync(ctx context.Context) error {
	return s.loop.Do(ctx, func() {})
}

// Receive implements bridge.Sink. The message is applied on the update loop.
func (s *Store) Receive(msg bridge.Message) {
	if !s.loop.Post(func() { s.apply(msg) }) {
		logger.Debug("Dropping bridge message after loop close", "type", msg.Type)
	}
}

// HandleLoadError surfaces a failed page load. It forces the waiting UI back
// by clearing the readiness flags.
func (s *Store) HandleLoadError(err error, failingURL string) {
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	s.loop.Post(func() {
		s.update(func(st *State) {
			st.IsReady = false
			st.IsInGame = false
			st.HasReceivedHostState = false
			if failingURL != "" {
				st.LoadErrorMessage = reason + " (" + failingURL + ")"
			} else {
				st.LoadErrorMessage = reason
			}
			s.debug(st, "loadError "+reason)
		})
	})
}

// MarkContentLoaded records that the page finished loading. Readiness is left
// to the page's host.ready message.
func (s *Store) MarkContentLoaded() {
	s.loop.Post(func() {
		s.update(func(st *State) {
			s.debug(st, "webview didFinish")
		})
	})
}

// ClearLoadError drops the surfaced load error, typically before a retry.
func (s *Store) ClearLoadError() {
	s.loop.Post(func() {
		s.update(func(st *State) {
			st.LoadErrorMessage = ""
		})
	})
}

// AppendDebugLine adds a diagnostic line from native code.
func (s *Store) AppendDebugLine(text string) {
	s.loop.Post(func() {
		s.update(func(st *State) {
			s.debug(st, text)
		})
	})
}

func (s *Store) update(mutate func(st *State)) {
	next := *s.current.Load()
	next.LastUpdate = s.now()
	mutate(&next)
	s.current.Store(&next)
	for _, fn := range s.observers {
		fn(next)
	}
}

func (s *Store) debug(st *State, text string) {
	st.DebugLines = appendDebugLine(st.DebugLines, text, s.now())
}

func (s *Store) trigger(kind FeedbackKind) {
	go s.feedback.Trigger(kind)
}

func (s *Store) apply(msg bridge.Message) {
	s.update(func(st *State) {
		payload := msg.Payload
		switch msg.Type {
		case "host.ready":
			st.IsReady = true
			st.LoadErrorMessage = ""
			s.debug(st, "bridge host.ready")
		case "host.scene":
			applyHostScene(st, payload)
		case "host.state":
			st.HasReceivedHostState = true
			st.IsInGame = true
			if !s.loggedFirstHostState {
				s.loggedFirstHostState = true
				s.debug(st, "bridge host.state")
			}
			applyHostState(st, payload)
		case "panel.data":
			applyPanelData(st, payload)
		case "camera.changed":
			applyCamera(st, payload)
		case "event.selectionChanged":
			s.trigger(FeedbackSelection)
			st.SelectedTile = decodeTile(payload, st.SelectedTile)
		case "event.toolChanged":
			s.trigger(FeedbackTool)
			if payload.Kind() == bridge.KindObject {
				st.SelectedTool = payload.Get("tool").StringOr(st.SelectedTool)
			}
		case "event.haptic":
			s.trigger(hapticKind(hapticName(payload)))
		case "debug.console":
			if line, ok := consoleLine(payload); ok {
				s.debug(st, line)
			}
		case "perf.fps":
			if fps, ok := decodeFPS(payload); ok {
				st.PerfFPS = &fps
			}
		default:
			s.debug(st, "bridge "+msg.Type)
		}
	})
}

// applyHostScene reads isInGame from the first of hudVisible, inGame and
// screen that has the right type.
func applyHostScene(st *State, payload bridge.Value) {
	if payload.Kind() != bridge.KindObject {
		return
	}
	if v := payload.Get("hudVisible"); v.Kind() == bridge.KindBool {
		st.IsInGame = v.BoolOr(st.IsInGame)
		return
	}
	if v := payload.Get("inGame"); v.Kind() == bridge.KindBool {
		st.IsInGame = v.BoolOr(st.IsInGame)
		return
	}
	if v := payload.Get("screen"); v.Kind() == bridge.KindString {
		st.IsInGame = v.StringOr("") == "game"
	}
}

func applyHostState(st *State, payload bridge.Value) {
	if payload.Kind() != bridge.KindObject {
		return
	}
	st.CityName = payload.Get("cityName").StringOr(st.CityName)
	st.Year = payload.Get("year").IntOr(st.Year)
	st.Month = payload.Get("month").IntOr(st.Month)
	st.Day = payload.Get("day").IntOr(st.Day)
	st.Tick = payload.Get("tick").IntOr(st.Tick)
	if speed := payload.Get("speed").IntOr(st.Speed); speed >= 0 && speed <= 3 {
		st.Speed = speed
	}
	st.SelectedTool = payload.Get("selectedTool").StringOr(st.SelectedTool)
	st.ActivePanel = payload.Get("activePanel").StringOr(st.ActivePanel)
	st.OverlayMode = payload.Get("overlayMode").StringOr(st.OverlayMode)

	if stats := payload.Get("stats"); stats.Kind() == bridge.KindObject {
		st.Stats.Population = stats.Get("population").IntOr(st.Stats.Population)
		st.Stats.Money = stats.Get("money").IntOr(st.Stats.Money)
		st.Stats.Income = stats.Get("income").IntOr(st.Stats.Income)
		st.Stats.Expenses = stats.Get("expenses").IntOr(st.Stats.Expenses)
		st.Stats.Jobs = stats.Get("jobs").IntOr(st.Stats.Jobs)
		if demand := stats.Get("demand"); demand.Kind() == bridge.KindObject {
			st.Stats.ResidentialDemand = demand.Get("residential").IntOr(st.Stats.ResidentialDemand)
			st.Stats.CommercialDemand = demand.Get("commercial").IntOr(st.Stats.CommercialDemand)
			st.Stats.IndustrialDemand = demand.Get("industrial").IntOr(st.Stats.IndustrialDemand)
		}
	}

	switch tile := payload.Get("selectedTile"); tile.Kind() {
	case bridge.KindNull, bridge.KindObject:
		st.SelectedTile = decodeTile(tile, st.SelectedTile)
	}
}

// decodeTile returns nil for anything but an object. Coordinates that are
// not numbers keep the previous selection's value.
func decodeTile(payload bridge.Value, previous *Tile) *Tile {
	if payload.Kind() != bridge.KindObject {
		return nil
	}
	var base Tile
	if previous != nil {
		base = *previous
	}
	return &Tile{
		X: payload.Get("x").IntOr(base.X),
		Y: payload.Get("y").IntOr(base.Y),
	}
}

func applyCamera(st *State, payload bridge.Value) {
	if payload.Kind() != bridge.KindObject {
		return
	}
	st.Camera.OffsetX = payload.Get("offsetX").FloatOr(st.Camera.OffsetX)
	st.Camera.OffsetY = payload.Get("offsetY").FloatOr(st.Camera.OffsetY)
	st.Camera.Zoom = payload.Get("zoom").FloatOr(st.Camera.Zoom)
	st.Camera.CanvasWidth = payload.Get("canvasWidth").FloatOr(st.Camera.CanvasWidth)
	st.Camera.CanvasHeight = payload.Get("canvasHeight").FloatOr(st.Camera.CanvasHeight)
}

func applyPanelData(st *State, payload bridge.Value) {
	panel := payload.Get("panel").StringOr("")
	data := payload.Get("data")
	var err error
	switch panel {
	case PanelBudget:
		var decoded *BudgetPanel
		if decoded, err = DecodeBudgetPanel(data); err == nil {
			st.BudgetPanel = decoded
		}
	case PanelStatistics:
		var decoded *StatisticsPanel
		if decoded, err = DecodeStatisticsPanel(data); err == nil {
			st.StatisticsPanel = decoded
		}
	case PanelAdvisors:
		var decoded *AdvisorsPanel
		if decoded, err = DecodeAdvisorsPanel(data); err == nil {
			st.AdvisorsPanel = decoded
		}
	default:
		logger.Debug("Ignoring panel data for unknown panel", "panel", panel)
		return
	}
	if err != nil {
		logger.Debug("Rejected panel data", "panel", panel, "error", err)
	}
}

func hapticName(payload bridge.Value) string {
	if payload.Kind() == bridge.KindString {
		return payload.StringOr("")
	}
	if kind := payload.Get("kind"); kind.Kind() == bridge.KindString {
		return kind.StringOr("")
	}
	return payload.Get("style").StringOr("")
}

func consoleLine(payload bridge.Value) (string, bool) {
	if payload.Kind() != bridge.KindObject {
		return "", false
	}
	level := payload.Get("level").StringOr("log")
	args, _ := payload.Get("args").Array()
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if arg.Kind() == bridge.KindString {
			parts = append(parts, arg.StringOr(""))
			continue
		}
		data, err := json.Marshal(arg)
		if err != nil {
			parts = append(parts, arg.Kind().String())
			continue
		}
		parts = append(parts, string(data))
	}
	return "console." + level + " " + strings.Join(parts, " "), true
}

// decodeFPS accepts a bare number or an object with an fps member and rounds
// fractional rates.
func decodeFPS(payload bridge.Value) (int, bool) {
	v := payload
	if payload.Kind() == bridge.KindObject {
		v = payload.Get("fps")
	}
	f, ok := v.Float64()
	if !ok {
		return 0, false
	}
	rounded := math.Round(f)
	if rounded < math.MinInt32 || rounded > math.MaxInt32 {
		return 0, false
	}
	return int(rounded), true
}
