// Package session ties the camera, gestures, capture pipelines and preview
// together behind one mode machine.
package session

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"
	"sync/atomic"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"eupho-cam/pkg/camera"
	"eupho-cam/pkg/capture"
	"eupho-cam/pkg/compositor"
	"eupho-cam/pkg/gesture"
	"eupho-cam/pkg/overlay"
	"eupho-cam/pkg/preview"
	"eupho-cam/pkg/recorder"
	"eupho-cam/pkg/types"
	"eupho-cam/pkg/utils"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger().Named("session")
}

const (
	ModeIdle       = "idle"
	ModeStreaming  = "streaming"
	ModeRecording  = "recording"
	ModePreviewing = "previewing"

	evMount    = "mount"
	evLeave    = "leave"
	evRecord   = "record"
	evRecorded = "recorded"
	evCancel   = "cancel"
	evCapture  = "capture"
	evRetake   = "retake"
)

var (
	ErrWrongMode      = errors.New("not allowed in the current mode")
	ErrPreviewing     = errors.New("live view is paused while previewing")
	ErrUnknownOverlay = errors.New("unknown overlay")
)

// PrefStore persists the photo format choice.
type PrefStore interface {
	PhotoFormat() types.PhotoFormat
	SetPhotoFormat(f types.PhotoFormat) error
}

type Deps struct {
	Manager  *camera.Manager
	Catalog  *overlay.Catalog
	Prefs    PrefStore
	Preview  *preview.Controller
	Notifier *Notifier
	Recorder recorder.Config
	Facing   types.FacingMode
}

type Session struct {
	manager  *camera.Manager
	catalog  *overlay.Catalog
	prefs    PrefStore
	preview  *preview.Controller
	notifier *Notifier
	gestures *gesture.Controller
	photos   *capture.Pipeline
	recorder *recorder.Recorder
	recorded *compositor.Surface
	live     *compositor.Surface
	fsm      *fsm.FSM
	selected atomic.Pointer[overlay.Asset]

	// op serializes mode changing operations
	op sync.Mutex

	lock   sync.RWMutex
	facing types.FacingMode
	cam    *camera.Session
}

func New(d Deps) *Session {
	if d.Notifier == nil {
		d.Notifier = NewNotifier(nil)
	}
	if !d.Facing.Valid() {
		d.Facing = types.FacingBack
	}
	s := &Session{
		manager:  d.Manager,
		catalog:  d.Catalog,
		prefs:    d.Prefs,
		preview:  d.Preview,
		notifier: d.Notifier,
		gestures: gesture.New(d.Manager),
		photos:   capture.New(compositor.NewSurface()),
		recorded: compositor.NewSurface(),
		live:     compositor.NewSurface(),
		facing:   d.Facing,
	}
	s.recorder = recorder.New(d.Recorder, s.recorded, source{s})
	s.gestures.SetFacing(d.Facing)
	s.gestures.SetSuppressed(true)
	s.fsm = fsm.NewFSM(
		ModeIdle,
		fsm.Events{
			{Name: evMount, Src: []string{ModeIdle}, Dst: ModeStreaming},
			{Name: evLeave, Src: []string{ModeStreaming, ModeRecording, ModePreviewing}, Dst: ModeIdle},
			{Name: evRecord, Src: []string{ModeStreaming}, Dst: ModeRecording},
			{Name: evRecorded, Src: []string{ModeRecording}, Dst: ModePreviewing},
			{Name: evCancel, Src: []string{ModeRecording}, Dst: ModeStreaming},
			{Name: evCapture, Src: []string{ModeStreaming}, Dst: ModePreviewing},
			{Name: evRetake, Src: []string{ModePreviewing}, Dst: ModeStreaming},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.gestures.SetSuppressed(e.Dst == ModeIdle || e.Dst == ModePreviewing)
				logger.Debugf("mode %s -> %s", e.Src, e.Dst)
			},
		},
	)

	return s
}

func (s *Session) Mode() string {
	return s.fsm.Current()
}

func (s *Session) Facing() types.FacingMode {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.facing
}

func (s *Session) Notifier() *Notifier {
	return s.notifier
}

func (s *Session) Manager() *camera.Manager {
	return s.manager
}

func (s *Session) Catalog() *overlay.Catalog {
	return s.catalog
}

func (s *Session) Gestures() *gesture.Controller {
	return s.gestures
}

func (s *Session) event(name string) {
	if err := s.fsm.Event(context.Background(), name); err != nil {
		logger.Debugf("mode event %s: %v", name, err)
	}
}

// fail reports err to the user and returns it.
func (s *Session) fail(err error) error {
	s.notifier.Notify(types.KindOf(err))
	return err
}

// Mount acquires the camera for the current facing mode. Mounting twice is
// a no-op.
func (s *Session) Mount(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()
	if s.Mode() != ModeIdle {
		return nil
	}
	if err := s.acquire(ctx, s.Facing()); err != nil {
		return s.fail(err)
	}
	s.event(evMount)

	return nil
}

func (s *Session) acquire(ctx context.Context, facing types.FacingMode) error {
	cs, err := s.manager.Acquire(ctx, facing)
	if err != nil {
		return err
	}
	s.lock.Lock()
	s.cam = cs
	s.lock.Unlock()
	go s.watch(cs)

	return nil
}

// watch returns the session to idle when the device stream ends on its own.
func (s *Session) watch(cs *camera.Session) {
	<-cs.Done()
	s.op.Lock()
	defer s.op.Unlock()
	s.lock.RLock()
	current := s.cam == cs
	s.lock.RUnlock()
	if !current {
		return
	}
	logger.Warnf("%s camera stream ended", cs.Facing())
	s.teardown()
	s.notifier.Notify(types.KindGeneric)
}

// Leave aborts any recording, discards the preview and releases the camera.
func (s *Session) Leave() {
	s.op.Lock()
	defer s.op.Unlock()
	s.teardown()
}

func (s *Session) teardown() {
	s.recorder.Abort()
	s.gestures.Cancel()
	s.preview.Retake()
	s.lock.Lock()
	s.cam = nil
	s.lock.Unlock()
	s.manager.Release()
	s.live.Reset()
	s.recorded.Reset()
	if s.Mode() != ModeIdle {
		s.event(evLeave)
	}
}

// SwitchFacing aborts any recording, releases the current camera and
// acquires the other one.
func (s *Session) SwitchFacing(ctx context.Context) (types.FacingMode, error) {
	s.op.Lock()
	defer s.op.Unlock()
	if s.Mode() == ModePreviewing {
		return s.Facing(), ErrWrongMode
	}
	if s.Mode() == ModeRecording {
		s.recorder.Abort()
		s.event(evCancel)
	}
	s.gestures.Cancel()
	s.lock.Lock()
	s.cam = nil
	facing := s.facing.Toggle()
	s.facing = facing
	s.lock.Unlock()
	s.manager.Release()
	s.gestures.SetFacing(facing)

	if err := s.acquire(ctx, facing); err != nil {
		if s.Mode() != ModeIdle {
			s.event(evLeave)
		}
		return facing, s.fail(err)
	}
	if s.Mode() == ModeIdle {
		s.event(evMount)
	}

	return facing, nil
}

// SelectOverlay makes id the overlay of every later composition. An empty id
// clears the selection.
func (s *Session) SelectOverlay(id string) (*overlay.Asset, error) {
	if id == "" {
		s.selected.Store(nil)
		return nil, nil
	}
	a, ok := s.catalog.Get(id)
	if !ok {
		return nil, ErrUnknownOverlay
	}
	s.selected.Store(a)

	return a, nil
}

func (s *Session) Overlay() *overlay.Asset {
	return s.selected.Load()
}

// UploadOverlay adds a user image to the catalog and selects it.
func (s *Session) UploadOverlay(src io.Reader, name string) (*overlay.Asset, error) {
	a, err := s.catalog.Upload(src, name)
	if err != nil {
		return nil, err
	}
	s.selected.Store(a)

	return a, nil
}

func (s *Session) PhotoFormat() types.PhotoFormat {
	return s.prefs.PhotoFormat()
}

func (s *Session) SetPhotoFormat(f types.PhotoFormat) error {
	return s.prefs.SetPhotoFormat(f)
}

// CapturePhoto composes the live frame once and shows the result in the
// preview. A failed capture leaves the session streaming.
func (s *Session) CapturePhoto() (types.Artifact, error) {
	s.op.Lock()
	defer s.op.Unlock()
	if s.Mode() != ModeStreaming {
		return types.Artifact{}, ErrWrongMode
	}
	art, err := s.photos.CapturePhoto(s.input(), s.prefs.PhotoFormat())
	if err != nil {
		return types.Artifact{}, s.fail(err)
	}
	if err = s.preview.Set(art); err != nil {
		return types.Artifact{}, s.fail(types.NewError(types.KindGeneric, err))
	}
	s.event(evCapture)
	a, _ := s.preview.Artifact()

	return a, nil
}

// StartRecording returns once the encoder is attached.
func (s *Session) StartRecording(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()
	if s.Mode() != ModeStreaming {
		return ErrWrongMode
	}
	if s.selected.Load() == nil {
		return s.fail(types.ErrMissingOverlay)
	}
	if !s.manager.Ready() {
		return s.fail(types.NewError(types.KindGeneric, capture.ErrStreamNotReady))
	}
	s.event(evRecord)
	if err := s.recorder.Start(ctx); err != nil {
		if s.Mode() == ModeRecording {
			s.event(evCancel)
		}
		return s.fail(err)
	}

	return nil
}

// StopRecording finalizes the clip and moves it into the preview.
func (s *Session) StopRecording(ctx context.Context) (types.Artifact, error) {
	s.op.Lock()
	defer s.op.Unlock()
	if s.Mode() != ModeRecording {
		return types.Artifact{}, ErrWrongMode
	}
	art, err := s.recorder.Stop(ctx)
	if err != nil {
		s.event(evCancel)
		return types.Artifact{}, s.fail(err)
	}
	if err = s.preview.Set(art); err != nil {
		s.event(evCancel)
		return types.Artifact{}, s.fail(types.NewError(types.KindGeneric, err))
	}
	s.event(evRecorded)
	a, _ := s.preview.Artifact()

	return a, nil
}

func (s *Session) RecordingStatus() recorder.Status {
	return s.recorder.Status()
}

// Retake discards the preview and resumes the live view.
func (s *Session) Retake() {
	s.op.Lock()
	defer s.op.Unlock()
	if s.Mode() != ModePreviewing {
		return
	}
	s.preview.Retake()
	s.event(evRetake)
}

// Save exports the preview and resumes the live view. It returns the export
// file name, or "" when there was nothing to save.
func (s *Session) Save() (string, error) {
	s.op.Lock()
	defer s.op.Unlock()
	if s.Mode() != ModePreviewing {
		return "", nil
	}
	a, _ := s.preview.Artifact()
	name, err := s.preview.Save()
	if err != nil {
		return "", s.fail(types.NewError(types.KindGeneric, err))
	}
	if a.Kind == types.ArtifactVideo {
		s.notifier.Info("Video saved")
	} else {
		s.notifier.Info("Photo saved")
	}
	s.event(evRetake)

	return name, nil
}

func (s *Session) Preview() *preview.Controller {
	return s.preview
}

// Touch forwards a touch phase to the pinch recognizer.
func (s *Session) Touch(phase string, touches []gesture.Touch) error {
	switch phase {
	case "start":
		s.gestures.TouchStart(touches)
	case "move":
		s.gestures.TouchMove(touches)
	case "end", "cancel":
		s.gestures.TouchEnd()
	default:
		return errors.New("unknown touch phase " + phase)
	}
	return nil
}

// Tap requests focus at a normalized point of the live view.
func (s *Session) Tap(p camera.Point) bool {
	return s.gestures.Tap(p)
}

// LiveFrame returns the picture shown in the live view and a sequence number
// that changes with every new picture.
func (s *Session) LiveFrame() (image.Image, uint64, error) {
	switch s.Mode() {
	case ModeIdle:
		return nil, 0, camera.ErrNotAcquired
	case ModePreviewing:
		return nil, 0, ErrPreviewing
	case ModeRecording:
		img, err := s.recorded.Snapshot()
		return img, s.recorded.Frames(), err
	}

	s.lock.RLock()
	cs := s.cam
	s.lock.RUnlock()
	if cs == nil {
		return nil, 0, camera.ErrNotAcquired
	}
	frame, seq, ok := cs.Surface().Frame()
	if !ok {
		return nil, 0, capture.ErrStreamNotReady
	}
	in := s.input()
	in.Frame = frame
	if in.Overlay == nil {
		return frame, seq, nil
	}
	if err := compositor.Compose(s.live, in.Frame, in.Overlay, in.Zoom, in.Facing, false); err != nil {
		// overlay still loading
		return frame, seq, nil
	}
	img, err := s.live.Snapshot()

	return img, seq, err
}

func (s *Session) input() capture.Input {
	in := capture.Input{Zoom: s.gestures.Zoom(), Facing: s.Facing()}
	if a := s.selected.Load(); a != nil {
		in.Overlay = a
	}
	if img, ok := s.manager.Frame(); ok {
		in.Frame = img
	}
	return in
}

// State is a snapshot of everything the UI renders.
type State struct {
	Mode         string                `json:"mode"`
	Facing       types.FacingMode      `json:"facing"`
	Permission   camera.Permission     `json:"permission"`
	Ready        bool                  `json:"ready"`
	Zoom         float64               `json:"zoom"`
	ZoomVisible  bool                  `json:"zoomVisible"`
	Focus        *gesture.FocusRequest `json:"focus,omitempty"`
	Capabilities camera.Capabilities   `json:"capabilities"`
	Overlay      string                `json:"overlay,omitempty"`
	PhotoFormat  types.PhotoFormat     `json:"photoFormat"`
	Recording    *recorder.Status      `json:"recording,omitempty"`
	Preview      *types.Artifact       `json:"preview,omitempty"`
}

func (s *Session) State() State {
	st := State{
		Mode:         s.Mode(),
		Facing:       s.Facing(),
		Permission:   s.manager.Permission(),
		Ready:        s.manager.Ready(),
		Zoom:         s.gestures.Zoom(),
		ZoomVisible:  s.gestures.ZoomVisible(),
		Capabilities: s.manager.Capabilities(),
		PhotoFormat:  s.prefs.PhotoFormat(),
	}
	if f, ok := s.gestures.Focus(); ok {
		st.Focus = &f
	}
	if a := s.selected.Load(); a != nil {
		st.Overlay = a.ID
	}
	if s.recorder.Recording() {
		rs := s.recorder.Status()
		st.Recording = &rs
	}
	if a, ok := s.preview.Artifact(); ok {
		st.Preview = &a
	}
	return st
}

// source feeds the recorder from the live session.
type source struct {
	s *Session
}

func (src source) Input() capture.Input {
	return src.s.input()
}

func (src source) AudioTracks() []camera.AudioTrack {
	src.s.lock.RLock()
	cs := src.s.cam
	src.s.lock.RUnlock()
	if cs == nil {
		return nil
	}
	return cs.Stream().CloneAudio()
}
