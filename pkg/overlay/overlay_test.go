package overlay

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	imageutil "eupho-cam/pkg/utils/image"
)

type gatedFetcher struct {
	gate chan struct{}
	data []byte
	err  error
}

func (f *gatedFetcher) Fetch(ctx context.Context, _ string) ([]byte, error) {
	select {
	case <-f.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return f.data, f.err
}

type memUploads struct {
	saved [][]byte
}

func (m *memUploads) SaveUpload(src io.Reader) (string, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return "", err
	}
	m.saved = append(m.saved, data)
	return "uploads/test.png", nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := imageutil.EncodePNG(img, &buf); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestAspectUnknownUntilLoaded(t *testing.T) {
	f := &gatedFetcher{gate: make(chan struct{}), data: pngBytes(t, 300, 400)}
	a := NewAsset("a", "a.png", "frame A", "")
	a.Load(context.Background(), f)

	if _, ok := a.AspectRatio(); ok {
		t.Fatal("aspect known before load")
	}
	if _, err := a.Image(); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("Image() err = %v", err)
	}
	if a.Info().AspectRatio != nil {
		t.Fatal("info exposes aspect before load")
	}

	close(f.gate)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	r, ok := a.AspectRatio()
	if !ok || r != 0.75 {
		t.Fatalf("aspect = %v, %v", r, ok)
	}
}

func TestLoadFailure(t *testing.T) {
	f := &gatedFetcher{gate: make(chan struct{}), err: errors.New("boom")}
	close(f.gate)
	a := NewAsset("b", "missing.png", "", "")
	a.Load(context.Background(), f)
	<-a.Loaded()
	if _, ok := a.AspectRatio(); ok {
		t.Fatal("failed asset reports aspect")
	}
	if a.Err() == nil || a.Info().Error == "" {
		t.Fatal("load error not recorded")
	}
}

func TestUprightRotatesLandscapeClockwise(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 4, 2))
	red := color.NRGBA{R: 255, A: 255}
	src.SetNRGBA(0, 0, red)

	out := Upright(src)
	b := out.Bounds()
	if b.Dx() != 2 || b.Dy() != 4 {
		t.Fatalf("rotated size %v", b)
	}
	if got := color.NRGBAModel.Convert(out.At(b.Min.X+1, b.Min.Y)).(color.NRGBA); got != red {
		t.Fatalf("top-left should move to top-right, got %v", got)
	}

	portrait := image.NewNRGBA(image.Rect(0, 0, 2, 4))
	if Upright(portrait) != image.Image(portrait) {
		t.Fatal("portrait image should be untouched")
	}
}

func TestCatalogUpload(t *testing.T) {
	store := &memUploads{}
	c := NewCatalog(context.Background(), DefaultFetcher{}, store)
	c.Add(NewLoadedAsset("kumiko", "kumiko.png", "Kumiko", "character", image.NewNRGBA(image.Rect(0, 0, 3, 4))))

	a, err := c.Upload(bytes.NewReader(pngBytes(t, 800, 400)), "mine.png")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(a.ID, "uploaded-") || a.Description != "mine.png" || a.Source != "uploads/test.png" {
		t.Fatalf("unexpected asset %+v", a.Info())
	}
	if r, ok := a.AspectRatio(); !ok || r != 0.5 {
		t.Fatalf("uploaded aspect %v %v", r, ok)
	}
	if list := c.List(); len(list) != 2 || list[0] != a {
		t.Fatal("upload should be first in catalog")
	}
	if len(store.saved) != 1 {
		t.Fatal("upload not persisted")
	}
	if _, ok := c.Get("kumiko"); !ok {
		t.Fatal("catalog lost asset")
	}
}

func TestCatalogUploadRejectsGarbage(t *testing.T) {
	c := NewCatalog(context.Background(), DefaultFetcher{}, &memUploads{})
	if _, err := c.Upload(strings.NewReader("not an image"), ""); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestCatalogUploadRejectsOversize(t *testing.T) {
	store := &memUploads{}
	c := NewCatalog(context.Background(), DefaultFetcher{}, store)
	big := io.LimitReader(zeros{}, maxOverlayBytes+1)
	if _, err := c.Upload(big, ""); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("oversize upload err = %v", err)
	}
	if len(c.List()) != 0 || len(store.saved) != 0 {
		t.Fatal("oversize upload was kept")
	}

	data, err := readLimited(io.LimitReader(zeros{}, maxOverlayBytes))
	if err != nil || len(data) != maxOverlayBytes {
		t.Fatalf("read at limit: %d bytes, %v", len(data), err)
	}
}

func TestFetchURLRejectsOversize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(w, io.LimitReader(zeros{}, maxOverlayBytes+10))
	}))
	defer srv.Close()

	_, err := DefaultFetcher{Client: srv.Client()}.Fetch(context.Background(), srv.URL+"/big.png")
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("fetch err = %v", err)
	}
}

type zeros struct{}

func (zeros) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}
