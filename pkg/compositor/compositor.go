// Package compositor renders cropped, zoomed and mirrored camera frames with
// an overlay on top into a Surface.
package compositor

import (
	"errors"
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"eupho-cam/pkg/geometry"
	"eupho-cam/pkg/types"
)

var (
	ErrOverlayNotLoaded = errors.New("overlay aspect ratio unknown")
	ErrNoFrame          = errors.New("no video frame")
)

// Overlay is the graphic drawn over the video.
type Overlay interface {
	Image() (image.Image, error)
	AspectRatio() (float64, bool)
}

// Compose draws one frame onto s: an optional black background, the zoomed
// crop of frame (flipped horizontally for mirrored cameras) and the overlay
// stretched over the whole surface. Nothing is drawn when the overlay has
// not finished loading.
func Compose(s *Surface, frame image.Image, ov Overlay, zoom float64, facing types.FacingMode, hasAlpha bool) error {
	if ov == nil {
		return ErrOverlayNotLoaded
	}
	aspect, ok := ov.AspectRatio()
	if !ok || aspect <= 0 {
		return ErrOverlayNotLoaded
	}
	ovImg, err := ov.Image()
	if err != nil {
		return ErrOverlayNotLoaded
	}
	if frame == nil {
		return ErrNoFrame
	}
	fb := frame.Bounds()
	if fb.Empty() {
		return ErrNoFrame
	}

	crop := geometry.CropForFrame(float64(fb.Dx()), float64(fb.Dy()), aspect, zoom)
	w, h := crop.OutputSize()
	if w <= 0 || h <= 0 {
		return fmt.Errorf("crop %dx%d is empty", w, h)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.img == nil || s.img.Rect.Dx() != w || s.img.Rect.Dy() != h {
		s.img = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	dst := s.img
	bg := image.Transparent
	if !hasAlpha {
		bg = image.Black
	}
	draw.Draw(dst, dst.Bounds(), bg, image.Point{}, draw.Src)

	sx := crop.Sx + float64(fb.Min.X)
	sy := crop.Sy + float64(fb.Min.Y)
	draw.ApproxBiLinear.Transform(dst, frameTransform(sx, sy, crop, w, h, facing.Mirrored()), frame, sourceRect(sx, sy, crop, fb), draw.Over, nil)

	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), ovImg, ovImg.Bounds(), draw.Over, nil)
	s.frames++

	return nil
}

// frameTransform maps the sampling window onto [0,w)x[0,h).
func frameTransform(sx, sy float64, crop geometry.Rect, w, h int, mirror bool) f64.Aff3 {
	kx := float64(w) / crop.Sw
	ky := float64(h) / crop.Sh
	if mirror {
		return f64.Aff3{
			-kx, 0, float64(w) + sx*kx,
			0, ky, -sy * ky,
		}
	}
	return f64.Aff3{
		kx, 0, -sx * kx,
		0, ky, -sy * ky,
	}
}

func sourceRect(sx, sy float64, crop geometry.Rect, fb image.Rectangle) image.Rectangle {
	r := image.Rect(
		int(math.Floor(sx)), int(math.Floor(sy)),
		int(math.Ceil(sx+crop.Sw)), int(math.Ceil(sy+crop.Sh)),
	)
	return r.Intersect(fb)
}
