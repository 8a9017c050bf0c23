package camera

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/vladimirvivien/go4vl/v4l2"
	"go.uber.org/zap"

	"eupho-cam/pkg/ov"
	"eupho-cam/pkg/utils"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger().Named("camera")
}

const (
	CtrlFocusAuto      v4l2.CtrlID = 0x009a090c
	CtrlFocusAbsolute  v4l2.CtrlID = 0x009a090a
	CtrlZoomAbsolute   v4l2.CtrlID = 0x009a090d
	CtrlAutoFocusStart v4l2.CtrlID = 0x009a091c
	CtrlAutoFocusArea  v4l2.CtrlID = 0x009a091f
)

// menu values of the auto focus area control
const (
	focusAreaAll       v4l2.CtrlValue = 0
	focusAreaRectangle v4l2.CtrlValue = 1
)

var knownCtrlID = []v4l2.CtrlID{
	CtrlFocusAuto,
	CtrlFocusAbsolute,
	CtrlZoomAbsolute,
	CtrlAutoFocusStart,
	CtrlAutoFocusArea,
	10094849, // Auto Exposure
	10094850, // Exposure Time, Absolute
	10094868, // White Balance, Auto & Preset
	10291459, // Compression Quality
}

// KnownControls reads every known control the device exposes.
func KnownControls(fd uintptr) ([]ov.Control, error) {
	var res []ov.Control
	for _, id := range knownCtrlID {
		ctrl, err := v4l2.GetControl(fd, id)
		if err != nil {
			logger.Debugf("the device does not support control(%d)", id)
			continue
		}
		c, err := ctrlToControl(ctrl)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}

	return res, nil
}

func ctrlToControl(ctrl v4l2.Control) (ov.Control, error) {
	c := ov.Control{
		ID:      ctrl.ID,
		Value:   ctrl.Value,
		Name:    ctrl.Name,
		IsMenu:  ctrl.IsMenu(),
		Minimum: ctrl.Minimum,
		Maximum: ctrl.Maximum,
		Step:    ctrl.Step,
	}
	if !c.IsMenu {
		return c, nil
	}
	menus, err := ctrl.GetMenuItems()
	if err != nil {
		return c, fmt.Errorf("menu of control(%d): %w", ctrl.ID, err)
	}
	for _, m := range menus {
		if ctrl.Type == v4l2.CtrlTypeIntegerMenu {
			b := []byte(m.Name)
			for len(b) < 8 {
				b = append(b, 0)
			}
			c.MenuItems = append(c.MenuItems, fmt.Sprint(int64(binary.LittleEndian.Uint64(b))))
			continue
		}
		c.MenuItems = append(c.MenuItems, m.Name)
	}

	return c, nil
}

func CtrlToString(ctrl v4l2.Control) string {
	return fmt.Sprintf("Control id (%d) name: %s\t[min: %d; max: %d; step: %d; default: %d current_val: %d]\n",
		ctrl.ID, ctrl.Name, ctrl.Minimum, ctrl.Maximum, ctrl.Step, ctrl.Default, ctrl.Value)
}

func QueryCapabilities(fd uintptr) Capabilities {
	var caps Capabilities
	if _, err := v4l2.GetControl(fd, CtrlFocusAuto); err == nil {
		caps.Focus = true
	}
	if _, err := v4l2.GetControl(fd, CtrlAutoFocusArea); err == nil {
		caps.FocusArea = true
	}
	if hasRegionControl(fd) {
		caps.FocusRegion = true
	}
	if ctrl, err := v4l2.GetControl(fd, CtrlZoomAbsolute); err == nil && ctrl.Maximum > ctrl.Minimum {
		caps.Zoom = &ZoomRange{
			Min:  float64(ctrl.Minimum),
			Max:  float64(ctrl.Maximum),
			Step: float64(ctrl.Step),
		}
	}

	return caps
}

// ctrlWrite sets one control. rect is only used by CtrlRegionOfInterestRect.
type ctrlWrite struct {
	id    v4l2.CtrlID
	value v4l2.CtrlValue
	rect  v4l2.Rect
}

// constraintControls translates constraints into control writes, in order.
// A point of interest becomes a focus region centred on it when the device has
// the region of interest control. Otherwise the device focuses on the whole frame.
func constraintControls(caps Capabilities, settings TrackSettings, c Constraints) ([]ctrlWrite, error) {
	var res []ctrlWrite
	switch c.FocusMode {
	case "":
	case FocusManual:
		if !caps.Focus {
			return nil, ErrUnsupportedConstraint
		}
		res = append(res, ctrlWrite{id: CtrlFocusAuto, value: 0})
	case FocusContinuous:
		if !caps.Focus {
			return nil, ErrUnsupportedConstraint
		}
		res = append(res, ctrlWrite{id: CtrlFocusAuto, value: 1})
	default:
		return nil, fmt.Errorf("unknown focus mode %q", c.FocusMode)
	}
	switch {
	case len(c.PointsOfInterest) > 0 && caps.FocusRegion:
		res = append(res,
			ctrlWrite{id: CtrlRegionOfInterestRect, rect: focusRegion(c.PointsOfInterest[0], settings)},
			ctrlWrite{id: CtrlRegionOfInterestAuto, value: roiAutoFocus},
		)
		if caps.FocusArea {
			res = append(res,
				ctrlWrite{id: CtrlAutoFocusArea, value: focusAreaRectangle},
				ctrlWrite{id: CtrlAutoFocusStart, value: 1},
			)
		}
	case len(c.PointsOfInterest) > 0:
		if !caps.FocusArea {
			return nil, ErrUnsupportedConstraint
		}
		res = append(res, ctrlWrite{id: CtrlAutoFocusArea, value: focusAreaAll})
	case c.FocusMode == FocusContinuous && caps.FocusArea:
		res = append(res, ctrlWrite{id: CtrlAutoFocusArea, value: focusAreaAll})
	}
	if c.Zoom != nil {
		if caps.Zoom == nil {
			return nil, ErrUnsupportedConstraint
		}
		z := math.Min(math.Max(*c.Zoom, caps.Zoom.Min), caps.Zoom.Max)
		res = append(res, ctrlWrite{id: CtrlZoomAbsolute, value: v4l2.CtrlValue(z)})
	}

	return res, nil
}
