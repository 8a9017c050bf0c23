package image

import (
	"bytes"
	"image"
	"image/color"
	"testing"
)

func TestDecodeRGB(t *testing.T) {
	const width, height = 3, 2
	data := make([]byte, 0, width*height*3)
	for i := 0; i < width*height; i++ {
		data = append(data, byte(i*10), byte(i*20), byte(i*30))
	}
	img, err := DecodeRGB(data, width, height)
	if err != nil {
		t.Fatal(err)
	}
	got := color.RGBAModel.Convert(img.At(2, 1)).(color.RGBA)
	want := color.RGBA{R: 50, G: 100, B: 150, A: 0xff}
	if got != want {
		t.Fatalf("pixel (2,1) = %v, want %v", got, want)
	}
}

func TestDecodeRGBShortFrame(t *testing.T) {
	if _, err := DecodeRGB(make([]byte, 5), 3, 2); err == nil {
		t.Fatal("expected error for short frame")
	}
}

func TestEncodeDecodePNG(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	src.Set(1, 1, color.NRGBA{R: 200, A: 128})

	var buf bytes.Buffer
	if err := EncodePNG(src, &buf); err != nil {
		t.Fatal(err)
	}
	img, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds() != src.Bounds() {
		t.Fatalf("bounds %v, want %v", img.Bounds(), src.Bounds())
	}
	_, _, _, a := img.At(0, 0).RGBA()
	if a != 0 {
		t.Fatalf("expected transparent corner, alpha=%d", a)
	}
}
