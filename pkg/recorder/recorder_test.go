package recorder

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"eupho-cam/pkg/camera"
	"eupho-cam/pkg/capture"
	"eupho-cam/pkg/compositor"
	"eupho-cam/pkg/types"
	"eupho-cam/pkg/video"
)

type testOverlay struct{}

func (testOverlay) Image() (image.Image, error) {
	return image.NewNRGBA(image.Rect(0, 0, 4, 3)), nil
}

func (testOverlay) AspectRatio() (float64, bool) { return 4.0 / 3.0, true }

type fakeSource struct {
	overlay compositor.Overlay
	frame   image.Image
	audio   []camera.AudioTrack
}

func (s *fakeSource) Input() capture.Input {
	return capture.Input{Frame: s.frame, Overlay: s.overlay, Zoom: 1, Facing: types.FacingBack}
}

func (s *fakeSource) AudioTracks() []camera.AudioTrack {
	var res []camera.AudioTrack
	for _, a := range s.audio {
		res = append(res, a.Clone())
	}
	return res
}

func newSource() *fakeSource {
	frame := image.NewRGBA(image.Rect(0, 0, 80, 60))
	draw.Draw(frame, frame.Bounds(), image.NewUniform(color.RGBA{R: 200, A: 255}), image.Point{}, draw.Src)
	return &fakeSource{overlay: testOverlay{}, frame: frame}
}

type fakeEncoder struct {
	emit    [][]byte
	frames  atomic.Int64
	chunks  chan []byte
	once    sync.Once
	aborted atomic.Bool
}

func (e *fakeEncoder) MimeType() string      { return "video/webm" }
func (e *fakeEncoder) Extension() string     { return "webm" }
func (e *fakeEncoder) Chunks() <-chan []byte { return e.chunks }
func (e *fakeEncoder) Err() error            { return nil }

func (e *fakeEncoder) AddFrame(image.Image) error {
	e.frames.Add(1)
	return nil
}

func (e *fakeEncoder) Stop() error {
	go e.once.Do(func() {
		for _, c := range e.emit {
			e.chunks <- c
		}
		close(e.chunks)
	})
	return nil
}

func (e *fakeEncoder) Abort() {
	e.aborted.Store(true)
	e.once.Do(func() { close(e.chunks) })
}

type fakeFactory struct {
	mime string
	emit [][]byte

	lock sync.Mutex
	enc  *fakeEncoder
	opts video.Options
}

func (f *fakeFactory) Supported(mimeType string) bool { return mimeType == f.mime }

func (f *fakeFactory) New(_ context.Context, _ string, opts video.Options) (video.Recorder, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.opts = opts
	f.enc = &fakeEncoder{emit: f.emit, chunks: make(chan []byte)}
	return f.enc, nil
}

func (f *fakeFactory) encoder() *fakeEncoder {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.enc
}

func testConfig(f video.Factory) Config {
	cfg := DefaultConfig()
	cfg.Factories = []video.Factory{f}
	cfg.SettleDelay = 10 * time.Millisecond
	return cfg
}

func TestStartRequiresOverlay(t *testing.T) {
	src := newSource()
	src.overlay = nil
	r := New(testConfig(&fakeFactory{mime: "video/webm"}), compositor.NewSurface(), src)
	if err := r.Start(context.Background()); !errors.Is(err, types.ErrMissingOverlay) {
		t.Fatalf("err = %v", err)
	}
	if r.State() != StateIdle || r.PendingTimers() != 0 {
		t.Fatalf("state %s with %d timers", r.State(), r.PendingTimers())
	}
}

func TestRecordAndStop(t *testing.T) {
	f := &fakeFactory{mime: "video/webm", emit: [][]byte{[]byte("one-"), []byte("two-"), []byte("three")}}
	src := newSource()
	src.audio = []camera.AudioTrack{camera.NewAudioTrack("hw:1,0")}
	surface := compositor.NewSurface()
	r := New(testConfig(f), surface, src)

	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if r.State() != StateRecording {
		t.Fatalf("state = %s", r.State())
	}
	if w, h := surface.Size(); w != 80 || h != 60 {
		t.Fatalf("warm-up surface %dx%d", w, h)
	}
	if f.opts.Width != 80 || f.opts.Height != 60 || f.opts.Bitrate != video.DefaultBitrate {
		t.Fatalf("encoder options %+v", f.opts)
	}
	if len(f.opts.Audio) != 1 || f.opts.Audio[0] != "hw:1,0" {
		t.Fatalf("audio sources %v", f.opts.Audio)
	}
	time.Sleep(100 * time.Millisecond)

	art, err := r.Stop(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(art.Data, []byte("one-two-three")) {
		t.Fatalf("data %q", art.Data)
	}
	if art.Kind != types.ArtifactVideo || art.Extension != "webm" || art.MimeType != "video/webm" {
		t.Fatalf("artifact %+v", art)
	}
	if f.encoder().frames.Load() == 0 {
		t.Fatal("no frames reached the encoder")
	}
	if r.State() != StateIdle || r.PendingTimers() != 0 {
		t.Fatalf("state %s with %d timers after stop", r.State(), r.PendingTimers())
	}
	if _, err = r.Stop(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("second stop: %v", err)
	}
}

func TestStopWithoutChunks(t *testing.T) {
	f := &fakeFactory{mime: "video/webm"}
	r := New(testConfig(f), compositor.NewSurface(), newSource())
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	art, err := r.Stop(context.Background())
	if !errors.Is(err, types.ErrNoData) || art != nil {
		t.Fatalf("artifact %v, err %v", art, err)
	}
	if !types.KindOf(err).Recoverable() {
		t.Fatal("no data must be recoverable")
	}
	if r.State() != StateIdle || r.PendingTimers() != 0 {
		t.Fatalf("state %s with %d timers", r.State(), r.PendingTimers())
	}
}

func TestFirstFrameAtAttach(t *testing.T) {
	f := &fakeFactory{mime: "video/webm", emit: [][]byte{[]byte("x")}}
	cfg := testConfig(f)
	cfg.FPS = 1
	r := New(cfg, compositor.NewSurface(), newSource())
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := f.encoder().frames.Load(); n != 1 {
		t.Fatalf("%d frames encoded on attach, want the warm-up frame", n)
	}
	if _, err := r.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestUnsupportedDevice(t *testing.T) {
	r := New(testConfig(&fakeFactory{mime: "video/ogg"}), compositor.NewSurface(), newSource())
	err := r.Start(context.Background())
	if !errors.Is(err, types.ErrUnsupportedDevice) {
		t.Fatalf("err = %v", err)
	}
	if r.State() != StateIdle || r.Recording() || r.PendingTimers() != 0 {
		t.Fatalf("state %s with %d timers", r.State(), r.PendingTimers())
	}
}

func TestAbortWhileRecording(t *testing.T) {
	f := &fakeFactory{mime: "video/webm", emit: [][]byte{[]byte("x")}}
	r := New(testConfig(f), compositor.NewSurface(), newSource())
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	r.Abort()
	r.Abort()

	if r.Recording() || r.State() != StateAborted {
		t.Fatalf("state = %s", r.State())
	}
	if r.PendingTimers() != 0 {
		t.Fatalf("%d timers survived abort", r.PendingTimers())
	}
	if !f.encoder().aborted.Load() {
		t.Fatal("encoder not aborted")
	}
	if _, err := r.Stop(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("stop after abort: %v", err)
	}
	// a new recording can start after an abort
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	r.Abort()
}

func TestAbortDuringSettle(t *testing.T) {
	cfg := testConfig(&fakeFactory{mime: "video/webm"})
	cfg.SettleDelay = time.Hour
	r := New(cfg, compositor.NewSurface(), newSource())

	errc := make(chan error, 1)
	go func() { errc <- r.Start(context.Background()) }()
	deadline := time.Now().Add(time.Second)
	for r.State() != StateLoopActive {
		if time.Now().After(deadline) {
			t.Fatal("loop never started")
		}
		time.Sleep(time.Millisecond)
	}
	r.Abort()
	select {
	case err := <-errc:
		if !errors.Is(err, ErrAborted) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("start did not return after abort")
	}
	if r.PendingTimers() != 0 {
		t.Fatalf("%d timers survived abort", r.PendingTimers())
	}
}

func TestTransitionsStepByStep(t *testing.T) {
	f := &fakeFactory{mime: "video/webm"}
	surface := compositor.NewSurface()
	r := New(testConfig(f), surface, newSource())

	if _, err := r.begin(); err != nil {
		t.Fatal(err)
	}
	if r.State() != StateLoopActive || surface.Frames() == 0 {
		t.Fatalf("state %s after warm-up of %d frames", r.State(), surface.Frames())
	}
	if _, err := r.begin(); !errors.Is(err, ErrBusy) {
		t.Fatalf("second begin: %v", err)
	}
	if err := r.attach(); err != nil {
		t.Fatal(err)
	}
	if r.State() != StateRecording {
		t.Fatalf("state = %s", r.State())
	}
	r.Abort()
}

func TestTickIsGated(t *testing.T) {
	surface := compositor.NewSurface()
	r := New(testConfig(&fakeFactory{}), surface, newSource())
	base := time.Unix(1700000000, 0)
	r.lastCompose = base

	r.tick(base.Add(16 * time.Millisecond))
	if surface.Frames() != 0 {
		t.Fatal("composed before the frame gap elapsed")
	}
	r.tick(base.Add(33 * time.Millisecond))
	if surface.Frames() != 1 {
		t.Fatalf("frames = %d", surface.Frames())
	}
	r.tick(base.Add(40 * time.Millisecond))
	if surface.Frames() != 1 {
		t.Fatal("gap measured from the wrong tick")
	}
}

func TestStatusClock(t *testing.T) {
	r := New(testConfig(&fakeFactory{}), compositor.NewSurface(), newSource())
	r.elapsed = 75
	if st := r.Status(); st.Clock != "01:15" || st.State != StateIdle {
		t.Fatalf("status %+v", st)
	}
}
