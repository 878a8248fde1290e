// Package camera turns native pan and pinch gestures into camera requests for
// the page. The page owns the camera; the reconciler only proposes updates
// relative to the last camera the page reported.
package camera

import (
	"math"

	"github.com/slighter12/isocity-host-go/hoststate"
)

const (
	MinZoom = 0.25
	MaxZoom = 3.2
)

// Phase is the reconciler state.
type Phase int

const (
	Idle Phase = iota
	Tracking
)

func (p Phase) String() string {
	if p == Tracking {
		return "tracking"
	}
	return "idle"
}

// Position is a camera placement: the baseline captured at gesture start and
// every update pushed during the gesture.
type Position struct {
	OffsetX float64 `json:"offsetX"`
	OffsetY float64 `json:"offsetY"`
	Zoom    float64 `json:"zoom"`
}

// Target receives camera and hit-test requests. The bridge dispatcher
// implements it.
type Target interface {
	SetCamera(offsetX, offsetY, zoom float64)
	Tap(screenX, screenY float64)
}

// Reconciler is not safe for concurrent use; the host drives it from the
// update loop so baselines are read from the same state the store publishes.
type Reconciler struct {
	source func() hoststate.Camera
	target Target

	phase        Phase
	baseline     Position
	translationX float64
	translationY float64
	scale        float64
}

// NewReconciler builds an idle reconciler. source returns the last camera
// mirrored from the page.
func NewReconciler(source func() hoststate.Camera, target Target) *Reconciler {
	return &Reconciler{source: source, target: target, scale: 1}
}

// NextZoom scales base and clamps the result to [MinZoom, MaxZoom].
func NextZoom(base, scale float64) float64 {
	return math.Max(MinZoom, math.Min(MaxZoom, base*scale))
}

func (r *Reconciler) Phase() Phase {
	return r.phase
}

// Baseline returns the captured baseline while a gesture is tracked.
func (r *Reconciler) Baseline() (Position, bool) {
	return r.baseline, r.phase == Tracking
}

// Pan sets the gesture's cumulative translation and pushes the camera.
func (r *Reconciler) Pan(translationX, translationY float64) Position {
	r.begin()
	if isFinite(translationX) && isFinite(translationY) {
		r.translationX = translationX
		r.translationY = translationY
	}
	return r.push()
}

// Pinch sets the gesture's cumulative scale and pushes the camera.
// Scales that are not positive finite numbers are ignored.
func (r *Reconciler) Pinch(scale float64) Position {
	r.begin()
	if isFinite(scale) && scale > 0 {
		r.scale = scale
	}
	return r.push()
}

// End discards the baseline. The next gesture starts from whatever camera the
// page reports by then.
func (r *Reconciler) End() {
	r.phase = Idle
	r.baseline = Position{}
	r.translationX = 0
	r.translationY = 0
	r.scale = 1
}

// Tap forwards a hit-test request unless a gesture is in progress. It reports
// whether the tap was forwarded.
func (r *Reconciler) Tap(screenX, screenY float64) bool {
	if r.phase == Tracking {
		return false
	}
	r.target.Tap(screenX, screenY)
	return true
}

func (r *Reconciler) begin() {
	if r.phase == Tracking {
		return
	}
	current := r.source()
	r.baseline = Position{OffsetX: current.OffsetX, OffsetY: current.OffsetY, Zoom: current.Zoom}
	r.phase = Tracking
}

func (r *Reconciler) push() Position {
	next := Position{
		OffsetX: r.baseline.OffsetX + r.translationX,
		OffsetY: r.baseline.OffsetY + r.translationY,
		Zoom:    NextZoom(r.baseline.Zoom, r.scale),
	}
	r.target.SetCamera(next.OffsetX, next.OffsetY, next.Zoom)
	return next
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
