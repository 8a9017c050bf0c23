package video

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

type fakeFactory map[string]bool

func (f fakeFactory) Supported(mimeType string) bool { return f[mimeType] }

func (f fakeFactory) New(context.Context, string, Options) (Recorder, error) {
	return nil, errors.New("not implemented")
}

func TestNegotiate(t *testing.T) {
	ff := fakeFactory{"video/webm": true}
	mime, f, err := Negotiate(DefaultPreferences, ff, MJPEG{})
	if err != nil {
		t.Fatal(err)
	}
	if mime != "video/webm" || f == nil {
		t.Fatalf("negotiated %s", mime)
	}

	mime, _, err = Negotiate(DefaultPreferences, fakeFactory{}, MJPEG{})
	if err != nil || mime != MimeAVI {
		t.Fatalf("fallback negotiated %q, %v", mime, err)
	}

	_, _, err = Negotiate([]string{"video/mp4"}, fakeFactory{}, MJPEG{})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v", err)
	}
}

const encodersOutput = `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)
 V....D mjpeg                MJPEG (Motion JPEG)
 A....D aac                  AAC (Advanced Audio Coding)
`

func TestFFmpegSupported(t *testing.T) {
	f := NewFFmpeg("")
	f.once.Do(func() { f.encoders = parseEncoders([]byte(encodersOutput)) })

	if !f.Supported("video/mp4;codecs=avc1") {
		t.Fatal("libx264 present but avc1 unsupported")
	}
	for _, mime := range []string{"video/webm", "video/webm;codecs=vp8", "video/mp4", MimeAVI, "video/ogg"} {
		if f.Supported(mime) {
			t.Fatalf("%s reported supported", mime)
		}
	}
	// the header legend is not an encoder
	if f.encoders["="] || f.encoders["Video"] {
		t.Fatal("legend parsed as encoder")
	}
}

func TestFFmpegArgs(t *testing.T) {
	opts := Options{FPS: 30, Bitrate: DefaultBitrate}
	args := ffmpegArgs(Formats["video/mp4;codecs=avc1"], opts)
	joined := strings.Join(args, " ")
	for _, want := range []string{"-f image2pipe", "-i pipe:0", "-c:v libx264", "-b:v 4000000", "-movflags", "-f mp4 pipe:1"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args %q lack %q", joined, want)
		}
	}
	if slices.Contains(args, "alsa") {
		t.Fatal("audio input without sources")
	}

	opts.Audio = []string{"hw:1,0", "hw:2,0"}
	joined = strings.Join(ffmpegArgs(Formats["video/webm"], opts), " ")
	for _, want := range []string{"-f alsa -i hw:1,0", "-f alsa -i hw:2,0", "[1:a][2:a]amix=inputs=2[a]", "-c:a libopus", "-f webm pipe:1"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args %q lack %q", joined, want)
		}
	}
	if strings.Contains(joined, "-movflags") {
		t.Fatal("webm output with mp4 flags")
	}
}

func collect(t *testing.T, r Recorder) [][]byte {
	t.Helper()
	var res [][]byte
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-r.Chunks():
			if !ok {
				return res
			}
			res = append(res, c)
		case <-timeout:
			t.Fatal("recorder never finalized")
		}
	}
}

func testFrame(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	img.Set(0, 0, color.White)
	return img
}

func TestMJPEGRecorder(t *testing.T) {
	dir := t.TempDir()
	r, err := MJPEG{}.New(context.Background(), MimeAVI, Options{Width: 32, Height: 24, TempDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if r.Extension() != "avi" || r.MimeType() != MimeAVI {
		t.Fatalf("recorder %s/%s", r.MimeType(), r.Extension())
	}
	for i := 0; i < 3; i++ {
		if err = r.AddFrame(testFrame(32, 24)); err != nil {
			t.Fatal(err)
		}
	}
	// a frame of another size is scaled
	if err = r.AddFrame(testFrame(64, 48)); err != nil {
		t.Fatal(err)
	}
	if err = r.Stop(); err != nil {
		t.Fatal(err)
	}
	if err = r.AddFrame(testFrame(32, 24)); !errors.Is(err, ErrStopped) {
		t.Fatalf("add after stop: %v", err)
	}

	data := bytes.Join(collect(t, r), nil)
	if r.Err() != nil {
		t.Fatal(r.Err())
	}
	if len(data) < 12 || string(data[:4]) != "RIFF" || string(data[8:12]) != "AVI " {
		t.Fatalf("not an avi: % x", data[:min(12, len(data))])
	}
	if n := r.(*aviRecorder).Frames(); n != 4 {
		t.Fatalf("frames = %d", n)
	}
	assertNoTempFiles(t, dir)
}

func TestMJPEGRecorderWithoutFrames(t *testing.T) {
	dir := t.TempDir()
	r, err := MJPEG{}.New(context.Background(), MimeAVI, Options{Width: 8, Height: 8, TempDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if err = r.Stop(); err != nil {
		t.Fatal(err)
	}
	if chunks := collect(t, r); len(chunks) != 0 {
		t.Fatalf("%d chunks from an empty recording", len(chunks))
	}
	assertNoTempFiles(t, dir)
}

func TestMJPEGRecorderAbort(t *testing.T) {
	dir := t.TempDir()
	r, err := MJPEG{}.New(context.Background(), MimeAVI, Options{Width: 8, Height: 8, TempDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if err = r.AddFrame(testFrame(8, 8)); err != nil {
		t.Fatal(err)
	}
	r.Abort()
	r.Abort()
	if chunks := collect(t, r); len(chunks) != 0 {
		t.Fatalf("%d chunks after abort", len(chunks))
	}
	assertNoTempFiles(t, dir)
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		matches, _ := filepath.Glob(filepath.Join(dir, "rec-*"))
		if len(matches) == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("temp files left: %v", matches)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestExtension(t *testing.T) {
	if Extension("video/webm;codecs=vp8") != "webm" || Extension(MimeAVI) != "avi" {
		t.Fatal("wrong extension")
	}
	if Extension("video/unknown") != "bin" {
		t.Fatal("unknown mime should map to bin")
	}
}
