// Package gesture turns touch input into digital zoom and tap-to-focus.
package gesture

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"eupho-cam/pkg/camera"
	"eupho-cam/pkg/geometry"
	"eupho-cam/pkg/schedule"
	"eupho-cam/pkg/types"
	"eupho-cam/pkg/utils"
)

const (
	ZoomIndicatorTimeout = 500 * time.Millisecond
	FocusDisplayDuration = 800 * time.Millisecond
	ZoomDebounce         = 300 * time.Millisecond

	timerZoom  = "zoom-indicator"
	timerFocus = "focus-indicator"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger().Named("gesture")
}

// Focuser applies hardware focus constraints to the live stream.
type Focuser interface {
	Capabilities() camera.Capabilities
	ApplyConstraints(c camera.Constraints) error
}

// Touch is one finger position in screen pixels.
type Touch struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type FocusRequest struct {
	Point     camera.Point `json:"point"`
	Visible   bool         `json:"visible"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

type Controller struct {
	zoom    atomic.Uint64
	focuser Focuser
	timers  *schedule.Timers
	now     func() time.Time

	lock        sync.Mutex
	pinching    bool
	startDist   float64
	startZoom   float64
	lastZoomAt  time.Time
	zoomVisible bool
	focus       FocusRequest
	facing      types.FacingMode
	suppressed  bool
}

func New(focuser Focuser) *Controller {
	c := &Controller{
		focuser: focuser,
		timers:  schedule.NewTimers(),
		now:     time.Now,
		facing:  types.FacingBack,
	}
	c.zoom.Store(math.Float64bits(geometry.MinZoom))
	return c
}

// Zoom is the current digital zoom factor in [1,5].
func (c *Controller) Zoom() float64 {
	return math.Float64frombits(c.zoom.Load())
}

func (c *Controller) setZoom(z float64) {
	c.zoom.Store(math.Float64bits(geometry.ClampZoom(z)))
}

func (c *Controller) SetFacing(f types.FacingMode) {
	c.lock.Lock()
	c.facing = f
	c.lock.Unlock()
}

// SetSuppressed disables taps, e.g. while a capture is being previewed.
func (c *Controller) SetSuppressed(v bool) {
	c.lock.Lock()
	c.suppressed = v
	c.lock.Unlock()
}

func (c *Controller) ZoomVisible() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.zoomVisible
}

// Focus returns the focus indicator while it is visible.
func (c *Controller) Focus() (FocusRequest, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.focus, c.focus.Visible
}

// TouchStart records the pinch baseline when two fingers are down.
func (c *Controller) TouchStart(touches []Touch) {
	if len(touches) != 2 {
		return
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	c.pinching = true
	c.startDist = distance(touches[0], touches[1])
	c.startZoom = c.Zoom()
}

func (c *Controller) TouchMove(touches []Touch) {
	if len(touches) != 2 {
		return
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	if !c.pinching || c.startDist <= 0 {
		return
	}
	c.setZoom(geometry.PinchZoom(c.startZoom, c.startDist, distance(touches[0], touches[1])))
	c.lastZoomAt = c.now()
	c.zoomVisible = true
	c.timers.After(timerZoom, ZoomIndicatorTimeout, func() {
		c.lock.Lock()
		c.zoomVisible = false
		c.lock.Unlock()
	})
}

func (c *Controller) TouchEnd() {
	c.lock.Lock()
	c.pinching = false
	c.lock.Unlock()
}

// Tap shows a focus indicator at p and asks the camera to focus there.
// It reports false when the tap was ignored.
func (c *Controller) Tap(p camera.Point) bool {
	c.lock.Lock()
	now := c.now()
	if c.suppressed || c.pinching || (!c.lastZoomAt.IsZero() && now.Sub(c.lastZoomAt) < ZoomDebounce) {
		c.lock.Unlock()
		return false
	}
	p = camera.Point{X: clamp01(p.X), Y: clamp01(p.Y)}
	c.focus = FocusRequest{Point: p, Visible: true, ExpiresAt: now.Add(FocusDisplayDuration)}
	facing := c.facing
	c.timers.After(timerFocus, FocusDisplayDuration, func() {
		c.lock.Lock()
		c.focus.Visible = false
		c.lock.Unlock()
	})
	c.lock.Unlock()

	c.focusAt(p, facing)
	return true
}

func (c *Controller) focusAt(p camera.Point, facing types.FacingMode) {
	if c.focuser == nil {
		return
	}
	caps := c.focuser.Capabilities()
	if !caps.Focus {
		return
	}
	if facing.Mirrored() {
		p.X = 1 - p.X
	}
	if err := c.focuser.ApplyConstraints(camera.Constraints{FocusMode: camera.FocusManual}); err != nil {
		logger.Debugf("manual focus: %v", err)
		return
	}
	cont := camera.Constraints{FocusMode: camera.FocusContinuous}
	if caps.AcceptsPoints() {
		cont.PointsOfInterest = []camera.Point{p}
	}
	if err := c.focuser.ApplyConstraints(cont); err != nil {
		logger.Debugf("focus at (%.2f, %.2f): %v", p.X, p.Y, err)
	}
}

// Cancel stops the indicator timers and hides both indicators.
func (c *Controller) Cancel() {
	c.timers.CancelAll()
	c.lock.Lock()
	c.pinching = false
	c.zoomVisible = false
	c.focus.Visible = false
	c.lock.Unlock()
}

// PendingTimers is the number of indicator timers still scheduled.
func (c *Controller) PendingTimers() int {
	return c.timers.Pending()
}

func distance(a, b Touch) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
