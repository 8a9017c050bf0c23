package camera

import (
	"context"
	"errors"
	"image"
	"sync"

	"github.com/vladimirvivien/go4vl/v4l2"

	"eupho-cam/pkg/ov"
	"eupho-cam/pkg/types"
	imgutil "eupho-cam/pkg/utils/image"
)

var (
	ErrNotAcquired = errors.New("no camera stream acquired")
	ErrNoControls  = errors.New("camera has no adjustable controls")
)

type Permission string

const (
	PermissionPending Permission = "pending"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

type Config struct {
	// Devices maps a facing mode to a device path such as /dev/video0.
	Devices map[types.FacingMode]string
	// Audio lists capture sources requested with every stream.
	Audio  []string
	Width  int
	Height int
	FPS    int
}

// Manager owns the single live camera stream.
type Manager struct {
	ctx    context.Context
	opener Opener
	cfg    Config

	lock       sync.Mutex
	permission Permission
	current    *Session
}

func NewManager(ctx context.Context, opener Opener, cfg Config) *Manager {
	if opener == nil {
		opener = V4L2Opener{}
	}
	return &Manager{ctx: ctx, opener: opener, cfg: cfg, permission: PermissionPending}
}

// Acquire releases the current stream, then opens the camera for facing and
// starts decoding its frames into a fresh VideoSurface.
func (m *Manager) Acquire(ctx context.Context, facing types.FacingMode) (*Session, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.releaseLocked()
	m.permission = PermissionPending
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stream, err := m.opener.Open(m.ctx, Request{
		Facing: facing,
		Device: m.cfg.Devices[facing],
		Width:  m.cfg.Width,
		Height: m.cfg.Height,
		FPS:    m.cfg.FPS,
		Audio:  m.cfg.Audio,
	})
	if err != nil {
		m.permission = PermissionDenied
		e := Classify(err)
		logger.Warnf("acquire %s camera: %v", facing, e)
		return nil, e
	}
	m.permission = PermissionGranted

	pumpCtx, cancel := context.WithCancel(m.ctx)
	s := &Session{
		facing:  facing,
		stream:  stream,
		surface: NewVideoSurface(),
		caps:    stream.Video.Capabilities(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.pump(pumpCtx)
	m.current = s

	return s, nil
}

// Release stops every track of the current stream. It is safe to call at
// any time.
func (m *Manager) Release() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.releaseLocked()
}

func (m *Manager) releaseLocked() {
	s := m.current
	if s == nil {
		return
	}
	m.current = nil
	s.cancel()
	s.stream.Stop()
	<-s.done
	logger.Infof("released %s camera", s.facing)
}

func (m *Manager) Current() *Session {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.current
}

func (m *Manager) Permission() Permission {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.permission
}

// Ready reports whether the current stream has produced a decoded frame.
func (m *Manager) Ready() bool {
	s := m.Current()
	return s != nil && s.Ready()
}

func (m *Manager) WaitReady(ctx context.Context) error {
	s := m.Current()
	if s == nil {
		return ErrNotAcquired
	}
	return s.surface.WaitReady(ctx)
}

// Frame returns the latest decoded frame of the current stream.
func (m *Manager) Frame() (image.Image, bool) {
	s := m.Current()
	if s == nil {
		return nil, false
	}
	img, _, ok := s.surface.Frame()
	return img, ok
}

func (m *Manager) Capabilities() Capabilities {
	s := m.Current()
	if s == nil {
		return Capabilities{}
	}
	return s.caps
}

func (m *Manager) ApplyConstraints(c Constraints) error {
	s := m.Current()
	if s == nil {
		return ErrNotAcquired
	}
	return s.stream.Video.ApplyConstraints(c)
}

// ControlTrack is a video track that exposes raw device controls.
type ControlTrack interface {
	Controls() ([]ov.Control, error)
	SetControlValue(id v4l2.CtrlID, value v4l2.CtrlValue) error
}

func (m *Manager) controlTrack() (ControlTrack, error) {
	s := m.Current()
	if s == nil {
		return nil, ErrNotAcquired
	}
	ct, ok := s.stream.Video.(ControlTrack)
	if !ok {
		return nil, ErrNoControls
	}
	return ct, nil
}

func (m *Manager) Controls() ([]ov.Control, error) {
	ct, err := m.controlTrack()
	if err != nil {
		return nil, err
	}
	return ct.Controls()
}

func (m *Manager) SetControl(id v4l2.CtrlID, value v4l2.CtrlValue) error {
	ct, err := m.controlTrack()
	if err != nil {
		return err
	}
	return ct.SetControlValue(id, value)
}

// Session is one acquired stream bound to its VideoSurface.
type Session struct {
	facing  types.FacingMode
	stream  *Stream
	surface *VideoSurface
	caps    Capabilities

	cancel context.CancelFunc
	done   chan struct{}
}

func (s *Session) Facing() types.FacingMode   { return s.facing }
func (s *Session) Stream() *Stream            { return s.stream }
func (s *Session) Surface() *VideoSurface     { return s.surface }
func (s *Session) Capabilities() Capabilities { return s.caps }
func (s *Session) Ready() bool                { return s.surface.Ready() }

// Done is closed once the frame pump has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) pump(ctx context.Context) {
	defer close(s.done)
	frames := s.stream.Video.Frames()
	settings := s.stream.Video.Settings()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-frames:
			if !ok {
				return
			}
			if len(data) == 0 {
				continue
			}
			img, err := decodeFrame(data, settings)
			if err != nil {
				logger.Debugf("drop frame: %v", err)
				continue
			}
			s.surface.set(img)
		}
	}
}

func decodeFrame(data []byte, settings TrackSettings) (image.Image, error) {
	if settings.PixelFormat == v4l2.PixelFmtRGB24 {
		return imgutil.DecodeRGB(data, settings.Width, settings.Height)
	}
	return imgutil.Decode(data)
}
