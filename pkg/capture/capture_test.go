package capture

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"testing"

	"eupho-cam/pkg/compositor"
	"eupho-cam/pkg/types"
)

type staticOverlay struct {
	img image.Image
}

func (s staticOverlay) Image() (image.Image, error) { return s.img, nil }

func (s staticOverlay) AspectRatio() (float64, bool) {
	b := s.img.Bounds()
	return float64(b.Dx()) / float64(b.Dy()), true
}

type pendingOverlay struct{}

func (pendingOverlay) Image() (image.Image, error)  { return nil, errors.New("loading") }
func (pendingOverlay) AspectRatio() (float64, bool) { return 0, false }

// frame is a gradient whose left quarter is fully transparent, standing in
// for a region the overlay does not cover.
func frame() image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			a := uint8(255)
			if x < 16 {
				a = 0
			}
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 4), G: uint8(y * 5), B: 90, A: a})
		}
	}
	return img
}

func ring() image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 3))
	draw.Draw(img, image.Rect(0, 0, 4, 1), image.NewUniform(color.NRGBA{R: 255, G: 200, A: 255}), image.Point{}, draw.Src)
	return img
}

func TestCapturePhotoMissingOverlay(t *testing.T) {
	p := New(compositor.NewSurface())
	_, err := p.CapturePhoto(Input{Frame: frame(), Zoom: 1, Facing: types.FacingBack}, types.PhotoPNG)
	if !errors.Is(err, types.ErrMissingOverlay) {
		t.Fatalf("err = %v", err)
	}
	_, err = p.CapturePhoto(Input{Frame: frame(), Overlay: pendingOverlay{}, Zoom: 1}, types.PhotoPNG)
	if !errors.Is(err, types.ErrMissingOverlay) {
		t.Fatalf("unloaded overlay err = %v", err)
	}
}

func TestCapturePhotoWithoutFrame(t *testing.T) {
	p := New(compositor.NewSurface())
	_, err := p.CapturePhoto(Input{Overlay: staticOverlay{ring()}, Zoom: 1}, types.PhotoPNG)
	if !errors.Is(err, types.ErrGeneric) || !errors.Is(err, ErrStreamNotReady) {
		t.Fatalf("err = %v", err)
	}
}

func TestCapturePhotoIsDeterministic(t *testing.T) {
	in := Input{Frame: frame(), Overlay: staticOverlay{ring()}, Zoom: 1.7, Facing: types.FacingFront}
	p := New(compositor.NewSurface())

	first, err := p.CapturePhoto(in, types.PhotoPNG)
	if err != nil {
		t.Fatal(err)
	}
	// a retake followed by a new capture on the same surface
	second, err := p.CapturePhoto(in, types.PhotoPNG)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first.Data, second.Data) {
		t.Fatal("identical inputs produced different photos")
	}
	if first.Kind != types.ArtifactPhoto || first.Extension != "png" || first.MimeType != "image/png" {
		t.Fatalf("artifact %+v", first)
	}
	if first.Size != int64(len(first.Data)) {
		t.Fatalf("size %d for %d bytes", first.Size, len(first.Data))
	}
}

func TestCapturePhotoFormats(t *testing.T) {
	in := Input{Frame: frame(), Overlay: staticOverlay{ring()}, Zoom: 1, Facing: types.FacingBack}
	p := New(compositor.NewSurface())

	pngArt, err := p.CapturePhoto(in, types.PhotoPNG)
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(pngArt.Data))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, _, a := img.At(2, 40).RGBA(); a != 0 {
		t.Fatalf("png should keep the uncovered area transparent, alpha = %d", a)
	}

	jpgArt, err := p.CapturePhoto(in, types.PhotoJPEG)
	if err != nil {
		t.Fatal(err)
	}
	if jpgArt.Extension != "jpg" || jpgArt.MimeType != "image/jpeg" {
		t.Fatalf("artifact %+v", jpgArt)
	}
	if _, err = jpeg.Decode(bytes.NewReader(jpgArt.Data)); err != nil {
		t.Fatal(err)
	}
	// the surface the jpeg was encoded from is opaque everywhere
	snap, err := p.surface.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	for i := 3; i < len(snap.Pix); i += 4 {
		if snap.Pix[i] != 0xff {
			t.Fatalf("transparent pixel at byte %d", i)
		}
	}
}
