package compositor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"testing"
	"time"

	"eupho-cam/pkg/types"
)

type fakeOverlay struct {
	img image.Image
}

func (f fakeOverlay) Image() (image.Image, error) {
	if f.img == nil {
		return nil, errors.New("not loaded")
	}
	return f.img, nil
}

func (f fakeOverlay) AspectRatio() (float64, bool) {
	if f.img == nil {
		return 0, false
	}
	b := f.img.Bounds()
	return float64(b.Dx()) / float64(b.Dy()), true
}

var (
	red   = color.RGBA{R: 255, A: 255}
	blue  = color.RGBA{B: 255, A: 255}
	green = color.RGBA{G: 255, A: 255}
)

func clearOverlay(w, h int) fakeOverlay {
	return fakeOverlay{img: image.NewNRGBA(image.Rect(0, 0, w, h))}
}

func splitFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, image.Rect(0, 0, w/2, h), image.NewUniform(red), image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(w/2, 0, w, h), image.NewUniform(blue), image.Point{}, draw.Src)
	return img
}

func rgbaAt(s *Surface, x, y int) color.RGBA {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.img.RGBAAt(x, y)
}

func TestComposeResizesToBaseCrop(t *testing.T) {
	s := NewSurface()
	frame := splitFrame(192, 108)
	if err := Compose(s, frame, clearOverlay(3, 4), 1, types.FacingBack, true); err != nil {
		t.Fatal(err)
	}
	if w, h := s.Size(); w != 81 || h != 108 {
		t.Fatalf("surface %dx%d, want 81x108", w, h)
	}
	// zoom changes the sampling window only
	if err := Compose(s, frame, clearOverlay(3, 4), 4, types.FacingBack, true); err != nil {
		t.Fatal(err)
	}
	if w, h := s.Size(); w != 81 || h != 108 {
		t.Fatalf("zoomed surface %dx%d, want 81x108", w, h)
	}
	if s.Frames() != 2 {
		t.Fatalf("frames = %d", s.Frames())
	}
}

func TestComposeMirrorsFrontCamera(t *testing.T) {
	frame := splitFrame(100, 50)
	ov := clearOverlay(2, 1)

	back := NewSurface()
	if err := Compose(back, frame, ov, 1, types.FacingBack, false); err != nil {
		t.Fatal(err)
	}
	if got := rgbaAt(back, 10, 25); got != red {
		t.Fatalf("back camera left pixel %v, want red", got)
	}
	if got := rgbaAt(back, 90, 25); got != blue {
		t.Fatalf("back camera right pixel %v, want blue", got)
	}

	front := NewSurface()
	if err := Compose(front, frame, ov, 1, types.FacingFront, false); err != nil {
		t.Fatal(err)
	}
	if got := rgbaAt(front, 10, 25); got != blue {
		t.Fatalf("front camera left pixel %v, want blue", got)
	}
	if got := rgbaAt(front, 90, 25); got != red {
		t.Fatalf("front camera right pixel %v, want red", got)
	}
}

func TestComposeZoomSamplesCentre(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 100, 100))
	draw.Draw(frame, frame.Bounds(), image.NewUniform(red), image.Point{}, draw.Src)
	draw.Draw(frame, image.Rect(40, 40, 60, 60), image.NewUniform(green), image.Point{}, draw.Src)
	ov := clearOverlay(1, 1)

	s := NewSurface()
	if err := Compose(s, frame, ov, 1, types.FacingBack, false); err != nil {
		t.Fatal(err)
	}
	if got := rgbaAt(s, 2, 2); got != red {
		t.Fatalf("unzoomed corner %v, want red", got)
	}
	if err := Compose(s, frame, ov, 5, types.FacingBack, false); err != nil {
		t.Fatal(err)
	}
	for _, p := range []image.Point{{10, 10}, {50, 50}, {90, 90}} {
		if got := rgbaAt(s, p.X, p.Y); got != green {
			t.Fatalf("zoomed pixel %v = %v, want green", p, got)
		}
	}
}

func TestComposeDrawsOverlayOnTop(t *testing.T) {
	frame := splitFrame(40, 40)
	ov := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	ov.SetNRGBA(0, 0, color.NRGBA{G: 255, A: 255})
	ov.SetNRGBA(1, 0, color.NRGBA{G: 255, A: 255})

	s := NewSurface()
	if err := Compose(s, frame, fakeOverlay{img: ov}, 1, types.FacingBack, true); err != nil {
		t.Fatal(err)
	}
	if got := rgbaAt(s, 30, 2); got != green {
		t.Fatalf("overlay pixel %v, want green", got)
	}
	if got := rgbaAt(s, 30, 38); got != blue {
		t.Fatalf("uncovered pixel %v, want blue video", got)
	}
}

func TestComposeOpaqueOutputHasNoTransparency(t *testing.T) {
	// a frame with transparent pixels stands in for regions nothing covers
	frame := image.NewNRGBA(image.Rect(0, 0, 20, 20))
	ov := clearOverlay(1, 1)

	opaque := NewSurface()
	if err := Compose(opaque, frame, ov, 1, types.FacingBack, false); err != nil {
		t.Fatal(err)
	}
	img, err := opaque.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0xff {
			t.Fatalf("alpha %d at byte %d", img.Pix[i], i)
		}
	}

	alpha := NewSurface()
	if err = Compose(alpha, frame, ov, 1, types.FacingBack, true); err != nil {
		t.Fatal(err)
	}
	if got := rgbaAt(alpha, 5, 5); got.A != 0 {
		t.Fatalf("alpha output should stay transparent, got %v", got)
	}
}

func TestComposeRefusesUnloadedOverlay(t *testing.T) {
	s := NewSurface()
	err := Compose(s, splitFrame(10, 10), fakeOverlay{}, 1, types.FacingBack, true)
	if !errors.Is(err, ErrOverlayNotLoaded) {
		t.Fatalf("err = %v", err)
	}
	if err = Compose(s, splitFrame(10, 10), nil, 1, types.FacingBack, true); !errors.Is(err, ErrOverlayNotLoaded) {
		t.Fatalf("nil overlay err = %v", err)
	}
	if _, err = s.Snapshot(); !errors.Is(err, ErrSurfaceEmpty) {
		t.Fatalf("snapshot err = %v", err)
	}
	if err = Compose(s, nil, clearOverlay(1, 1), 1, types.FacingBack, true); !errors.Is(err, ErrNoFrame) {
		t.Fatalf("nil frame err = %v", err)
	}
}

func TestComposeIsDeterministic(t *testing.T) {
	frame := splitFrame(64, 48)
	ov := image.NewNRGBA(image.Rect(0, 0, 3, 4))
	ov.SetNRGBA(1, 1, color.NRGBA{R: 10, G: 20, B: 30, A: 90})

	a, b := NewSurface(), NewSurface()
	for _, s := range []*Surface{a, b} {
		if err := Compose(s, frame, fakeOverlay{img: ov}, 2.3, types.FacingFront, true); err != nil {
			t.Fatal(err)
		}
	}
	ia, _ := a.Snapshot()
	ib, _ := b.Snapshot()
	if !bytes.Equal(ia.Pix, ib.Pix) {
		t.Fatal("same inputs produced different pixels")
	}
}

func TestSurfaceResetAndCaptureStream(t *testing.T) {
	s := NewSurface()
	if err := Compose(s, splitFrame(10, 10), clearOverlay(1, 1), 1, types.FacingBack, false); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	frames := s.CaptureStream(ctx, 100)
	select {
	case f := <-frames:
		if f.Bounds().Dx() != 10 {
			t.Fatalf("captured %v", f.Bounds())
		}
	case <-time.After(time.Second):
		t.Fatal("no frame captured")
	}
	cancel()
	for range frames {
	}

	s.Reset()
	if _, err := s.Snapshot(); !errors.Is(err, ErrSurfaceEmpty) {
		t.Fatal("reset surface still readable")
	}
}
