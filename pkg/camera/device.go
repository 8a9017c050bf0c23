package camera

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"

	"eupho-cam/pkg/ov"
	"eupho-cam/pkg/types"
)

const (
	IdealWidth  = 4096
	IdealHeight = 2160
	DefaultFPS  = 30

	openRetries = 5
)

// V4L2Opener opens JPEG streams from V4L2 capture devices.
type V4L2Opener struct{}

func (V4L2Opener) Open(ctx context.Context, req Request) (*Stream, error) {
	if req.Device == "" {
		return nil, ErrNoDevice
	}
	w, h := req.Width, req.Height
	if w <= 0 || h <= 0 {
		w, h = IdealWidth, IdealHeight
	}
	mw, mh, err := maxSize(req.Device)
	if err != nil {
		return nil, err
	}
	if w > mw || h > mh {
		logger.Infof("%s supports at most %d*%d, requested %d*%d", req.Device, mw, mh, w, h)
		w, h = mw, mh
	}

	track, err := openVideo(ctx, req.Device, w, h, req.FPS)
	if err != nil {
		return nil, err
	}
	s := &Stream{Facing: req.Facing, Video: track}
	for _, src := range req.Audio {
		s.Audio = append(s.Audio, NewAudioTrack(src))
	}

	return s, nil
}

type v4l2Track struct {
	id      string
	devName string

	lock     sync.Mutex
	cancel   context.CancelFunc
	camera   *device.Device
	frames   <-chan []byte
	settings TrackSettings
	caps     Capabilities
	ctrls    types.CameraSettings
}

func openVideo(ctx context.Context, devName string, width, height, fps int) (*v4l2Track, error) {
	if fps <= 0 {
		fps = DefaultFPS
	}
	camera, err := openDevice(devName,
		device.WithBufferSize(1),
		device.WithFPS(uint32(fps)),
		device.WithPixFormat(v4l2.PixFormat{
			PixelFormat: v4l2.PixelFmtJPEG,
			Width:       uint32(width),
			Height:      uint32(height),
		}),
	)
	if err != nil {
		return nil, err
	}

	t := &v4l2Track{
		id:      uuid.NewString(),
		devName: devName,
		camera:  camera,
		caps:    QueryCapabilities(camera.Fd()),
		ctrls:   make(types.CameraSettings),
		settings: TrackSettings{
			Width:       width,
			Height:      height,
			PixelFormat: v4l2.PixelFmtJPEG,
		},
	}
	if pf, err := camera.GetPixFormat(); err == nil {
		t.settings = TrackSettings{Width: int(pf.Width), Height: int(pf.Height), PixelFormat: pf.PixelFormat}
	}

	newCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	if err = camera.Start(newCtx); err != nil {
		cancel()
		_ = camera.Close()
		return nil, err
	}
	t.frames = camera.GetOutput()
	logger.Infof("start %s in %d*%d", devName, t.settings.Width, t.settings.Height)

	return t, nil
}

func (t *v4l2Track) ID() string      { return t.id }
func (t *v4l2Track) Kind() TrackKind { return KindVideo }
func (t *v4l2Track) Label() string   { return t.devName }

func (t *v4l2Track) Frames() <-chan []byte {
	return t.frames
}

func (t *v4l2Track) Settings() TrackSettings {
	return t.settings
}

func (t *v4l2Track) Capabilities() Capabilities {
	return t.caps
}

func (t *v4l2Track) Stopped() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.camera == nil
}

func (t *v4l2Track) Stop() {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.cancel != nil {
		// let the streaming goroutine see ctx.Done and stop the device before Close
		t.cancel()
		time.Sleep(100 * time.Millisecond)
		t.cancel = nil
	}
	if t.camera != nil {
		if err := t.camera.Close(); err != nil {
			logger.Warnf("close %s: %v", t.devName, err)
		}
		t.camera = nil
	}
}

func (t *v4l2Track) ApplyConstraints(c Constraints) error {
	writes, err := constraintControls(t.caps, t.settings, c)
	if err != nil {
		return err
	}

	t.lock.Lock()
	defer t.lock.Unlock()
	if t.camera == nil {
		return errors.New("track stopped")
	}
	for _, w := range writes {
		if w.id == CtrlRegionOfInterestRect {
			if err = setRectControl(t.camera.Fd(), w.id, w.rect); err != nil {
				return err
			}
			continue
		}
		if err = t.camera.SetControlValue(w.id, w.value); err != nil {
			return fmt.Errorf("set ctrl(%d) to %d: %w", w.id, w.value, err)
		}
		t.ctrls[w.id] = w.value
	}

	return nil
}

// Controls lists the known controls with their current values.
func (t *v4l2Track) Controls() ([]ov.Control, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.camera == nil {
		return nil, errors.New("track stopped")
	}
	return KnownControls(t.camera.Fd())
}

// SetControlValue writes one raw control and remembers it.
func (t *v4l2Track) SetControlValue(id v4l2.CtrlID, value v4l2.CtrlValue) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.camera == nil {
		return errors.New("track stopped")
	}
	if err := t.camera.SetControlValue(id, value); err != nil {
		return err
	}
	t.ctrls[id] = value
	return nil
}

// AppliedControls returns the control values written through this track.
func (t *v4l2Track) AppliedControls() types.CameraSettings {
	t.lock.Lock()
	defer t.lock.Unlock()
	return maps.Clone(t.ctrls)
}

// maxSize reports the largest JPEG frame size of devName.
func maxSize(devName string) (width, height int, err error) {
	camera, err := openDevice(devName,
		device.WithBufferSize(1),
		device.WithPixFormat(v4l2.PixFormat{
			PixelFormat: v4l2.PixelFmtJPEG,
			Width:       uint32(320),
			Height:      uint32(240),
		}))
	if err != nil {
		return
	}
	defer camera.Close()

	sizes, err := v4l2.GetAllFormatFrameSizes(camera.Fd())
	if err != nil {
		return
	}
	for _, size := range sizes {
		if size.PixelFormat == v4l2.PixelFmtJPEG {
			width = int(size.Size.MaxWidth)
			height = int(size.Size.MaxHeight)

			return
		}
	}
	err = fmt.Errorf("unable to determine the maximum pixels of %s", devName)

	return
}

// openDevice retries while the driver still reports the device busy.
func openDevice(devName string, opts ...device.Option) (camera *device.Device, err error) {
	for i := 0; i < openRetries; i++ {
		camera, err = device.Open(devName, opts...)
		if err == nil || !isBusyErr(err) {
			return
		}
		logger.Warnf("%s is busy, will retry %d/%d: %v", devName, i+1, openRetries, err)
		time.Sleep(150 * time.Millisecond)
	}
	return
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "busy") || strings.Contains(s, "ebusy")
}
