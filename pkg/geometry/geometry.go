// Package geometry computes the source window sampled from a video frame so
// that it matches an overlay's aspect ratio at a given digital zoom.
package geometry

import "math"

const (
	MinZoom = 1.0
	MaxZoom = 5.0
)

// Rect is a crop in source coordinates. Sx/Sy/Sw/Sh is the zoomed sampling
// window; BaseW/BaseH is the un-zoomed cover crop and is used as the output
// size, so zoom never changes output resolution.
type Rect struct {
	Sx, Sy, Sw, Sh float64
	BaseW, BaseH   float64
}

// CenterX returns the horizontal midpoint of the sampling window.
func (r Rect) CenterX() float64 { return r.Sx + r.Sw/2 }

// CenterY returns the vertical midpoint of the sampling window.
func (r Rect) CenterY() float64 { return r.Sy + r.Sh/2 }

// Aspect is Sw/Sh.
func (r Rect) Aspect() float64 { return r.Sw / r.Sh }

// OutputSize is the destination size in whole pixels.
func (r Rect) OutputSize() (width, height int) {
	return int(math.Floor(r.BaseW)), int(math.Floor(r.BaseH))
}

// ComputeCropRect works on a unit-height frame: the frame is videoAspect wide
// and 1 high. Use CropForFrame for pixel coordinates.
func ComputeCropRect(videoAspect, overlayAspect, zoom float64) Rect {
	return CropForFrame(videoAspect, 1, overlayAspect, zoom)
}

// CropForFrame picks the largest centred rectangle inside a width x height
// frame with the overlay's aspect ratio ("cover" fit), then shrinks it by
// zoom about its own centre.
func CropForFrame(width, height, overlayAspect, zoom float64) Rect {
	zoom = ClampZoom(zoom)
	videoAspect := width / height

	var r Rect
	if videoAspect > overlayAspect {
		// wider than the overlay: crop left and right
		r.BaseH = height
		r.BaseW = height * overlayAspect
	} else {
		r.BaseW = width
		r.BaseH = width / overlayAspect
	}
	baseX := (width - r.BaseW) / 2
	baseY := (height - r.BaseH) / 2

	r.Sw = r.BaseW / zoom
	r.Sh = r.BaseH / zoom
	r.Sx = baseX + (r.BaseW-r.Sw)/2
	r.Sy = baseY + (r.BaseH-r.Sh)/2

	return r
}

// ClampZoom limits z to [MinZoom, MaxZoom]. NaN maps to MinZoom.
func ClampZoom(z float64) float64 {
	if math.IsNaN(z) || z < MinZoom {
		return MinZoom
	}
	if z > MaxZoom {
		return MaxZoom
	}
	return z
}

// PinchZoom scales the baseline zoom by the ratio of the current finger
// distance to the starting one and clamps the result.
func PinchZoom(baseZoom, startDist, dist float64) float64 {
	if startDist <= 0 {
		return ClampZoom(baseZoom)
	}
	return ClampZoom(baseZoom * dist / startDist)
}
