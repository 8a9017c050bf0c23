// Package recorder runs the composition loop and feeds it to a video encoder.
package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"eupho-cam/pkg/camera"
	"eupho-cam/pkg/capture"
	"eupho-cam/pkg/compositor"
	"eupho-cam/pkg/schedule"
	"eupho-cam/pkg/types"
	"eupho-cam/pkg/utils"
	"eupho-cam/pkg/video"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger().Named("recorder")
}

const (
	StateIdle            = "idle"
	StateStarting        = "starting"
	StateLoopActive      = "loop_active"
	StateEncoderAttached = "encoder_attached"
	StateRecording       = "recording"
	StateStopping        = "stopping"
	StateAborted         = "aborted"

	eventStart  = "start"
	eventLoop   = "loop"
	eventAttach = "attach"
	eventRecord = "record"
	eventStop   = "stop"
	eventFinish = "finish"
	eventFail   = "fail"
	eventAbort  = "abort"

	timerElapsed = "elapsed"
	timerLoop    = "loop"
	timerSettle  = "settle"
)

var (
	ErrBusy         = errors.New("recording already in progress")
	ErrNotRecording = errors.New("not recording")
	ErrAborted      = errors.New("recording aborted")
)

// Source supplies the live inputs of every composed frame.
type Source interface {
	Input() capture.Input
	// AudioTracks returns clones of the stream's audio tracks.
	AudioTracks() []camera.AudioTrack
}

type Config struct {
	Preferences []string
	Factories   []video.Factory

	SettleDelay   time.Duration
	FrameInterval time.Duration
	MinFrameGap   time.Duration
	FPS           int
	Bitrate       int
	Timeslice     time.Duration
	Quality       int
	TempDir       string
}

func DefaultConfig() Config {
	return Config{
		Preferences:   video.DefaultPreferences,
		Factories:     []video.Factory{video.NewFFmpeg(""), video.MJPEG{}},
		SettleDelay:   250 * time.Millisecond,
		FrameInterval: 16 * time.Millisecond,
		MinFrameGap:   32 * time.Millisecond,
		FPS:           video.DefaultFPS,
		Bitrate:       video.DefaultBitrate,
		Timeslice:     video.DefaultTimeslice,
		Quality:       90,
	}
}

type Status struct {
	State     string    `json:"state"`
	StartedAt time.Time `json:"startedAt,omitempty"`
	Elapsed   int       `json:"elapsedSeconds"`
	Clock     string    `json:"clock"`
	MimeType  string    `json:"mimeType,omitempty"`
	Chunks    int       `json:"chunks"`
}

type Recorder struct {
	cfg     Config
	surface *compositor.Surface
	src     Source
	timers  *schedule.Timers
	now     func() time.Time
	fsm     *fsm.FSM

	lock        sync.Mutex
	startedAt   time.Time
	elapsed     int
	lastCompose time.Time
	chunks      [][]byte
	enc         video.Recorder
	mime        string

	streamCancel context.CancelFunc
	encCancel    context.CancelFunc
	feedDone     chan struct{}
	encDone      chan struct{}
	aborted      chan struct{}
}

func New(cfg Config, surface *compositor.Surface, src Source) *Recorder {
	r := &Recorder{
		cfg:     cfg,
		surface: surface,
		src:     src,
		timers:  schedule.NewTimers(),
		now:     time.Now,
	}
	r.fsm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventStart, Src: []string{StateIdle, StateAborted}, Dst: StateStarting},
			{Name: eventLoop, Src: []string{StateStarting}, Dst: StateLoopActive},
			{Name: eventAttach, Src: []string{StateLoopActive}, Dst: StateEncoderAttached},
			{Name: eventRecord, Src: []string{StateEncoderAttached}, Dst: StateRecording},
			{Name: eventStop, Src: []string{StateRecording}, Dst: StateStopping},
			{Name: eventFinish, Src: []string{StateStopping}, Dst: StateIdle},
			{Name: eventFail, Src: []string{StateStarting, StateLoopActive, StateEncoderAttached}, Dst: StateIdle},
			{Name: eventAbort, Src: []string{StateStarting, StateLoopActive, StateEncoderAttached, StateRecording, StateStopping}, Dst: StateAborted},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logger.Debugf("%s: %s -> %s", e.Event, e.Src, e.Dst)
			},
		},
	)

	return r
}

func (r *Recorder) State() string {
	return r.fsm.Current()
}

// Recording reports whether a recording is in progress, including the
// warm-up before the encoder is attached.
func (r *Recorder) Recording() bool {
	switch r.fsm.Current() {
	case StateIdle, StateAborted:
		return false
	}
	return true
}

func (r *Recorder) Status() Status {
	r.lock.Lock()
	defer r.lock.Unlock()
	return Status{
		State:     r.fsm.Current(),
		StartedAt: r.startedAt,
		Elapsed:   r.elapsed,
		Clock:     utils.FormatClock(r.elapsed),
		MimeType:  r.mime,
		Chunks:    len(r.chunks),
	}
}

// PendingTimers is the number of scheduled callbacks still alive.
func (r *Recorder) PendingTimers() int {
	return r.timers.Pending()
}

// Start warms up the composition, starts the loop and, after the settle
// delay, attaches the encoder. It returns once recording has begun.
func (r *Recorder) Start(ctx context.Context) error {
	aborted, err := r.begin()
	if err != nil {
		return err
	}

	settled := make(chan struct{})
	r.timers.After(timerSettle, r.cfg.SettleDelay, func() { close(settled) })
	select {
	case <-settled:
	case <-aborted:
		return types.NewError(types.KindGeneric, ErrAborted)
	case <-ctx.Done():
		r.Abort()
		return ctx.Err()
	}

	return r.attach()
}

// begin moves idle -> starting -> loop_active.
func (r *Recorder) begin() (<-chan struct{}, error) {
	in := r.src.Input()
	if in.Overlay == nil {
		return nil, types.ErrMissingOverlay
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	if err := r.event(eventStart); err != nil {
		return nil, ErrBusy
	}
	if err := r.composeInput(in); err != nil {
		_ = r.event(eventFail)
		if errors.Is(err, compositor.ErrOverlayNotLoaded) {
			return nil, types.NewError(types.KindMissingOverlay, err)
		}
		return nil, types.NewError(types.KindGeneric, err)
	}

	r.startedAt = r.now()
	r.elapsed = 0
	r.chunks = nil
	r.mime = ""
	r.lastCompose = r.now()
	r.aborted = make(chan struct{})
	r.timers.Every(timerElapsed, time.Second, func(time.Time) {
		r.lock.Lock()
		r.elapsed++
		r.lock.Unlock()
	})
	r.timers.Every(timerLoop, r.cfg.FrameInterval, r.tick)
	_ = r.event(eventLoop)

	return r.aborted, nil
}

func (r *Recorder) tick(now time.Time) {
	r.lock.Lock()
	if now.Sub(r.lastCompose) < r.cfg.MinFrameGap {
		r.lock.Unlock()
		return
	}
	r.lastCompose = now
	r.lock.Unlock()

	if err := r.composeInput(r.src.Input()); err != nil {
		logger.Debugf("compose: %v", err)
	}
}

func (r *Recorder) composeInput(in capture.Input) error {
	if in.Frame == nil {
		return capture.ErrStreamNotReady
	}
	return compositor.Compose(r.surface, in.Frame, in.Overlay, in.Zoom, in.Facing, false)
}

// attach negotiates a format and connects the surface to the encoder:
// loop_active -> encoder_attached -> recording.
func (r *Recorder) attach() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.fsm.Current() != StateLoopActive {
		return types.NewError(types.KindGeneric, ErrAborted)
	}

	w, h := r.surface.Size()
	mime, factory, err := video.Negotiate(r.cfg.Preferences, r.cfg.Factories...)
	if err != nil {
		r.failLocked()
		return types.NewError(types.KindUnsupportedDevice, err)
	}
	var sources []string
	for _, t := range r.src.AudioTracks() {
		sources = append(sources, t.Source())
	}

	encCtx, encCancel := context.WithCancel(context.Background())
	enc, err := factory.New(encCtx, mime, video.Options{
		Width:     w,
		Height:    h,
		FPS:       r.cfg.FPS,
		Bitrate:   r.cfg.Bitrate,
		Timeslice: r.cfg.Timeslice,
		Quality:   r.cfg.Quality,
		Audio:     sources,
		TempDir:   r.cfg.TempDir,
	})
	if err != nil {
		encCancel()
		r.failLocked()
		return types.NewError(types.KindGeneric, fmt.Errorf("create %s encoder: %w", mime, err))
	}
	_ = r.event(eventAttach)
	// the warm-up composition is the first encoded frame
	if first, err := r.surface.Snapshot(); err == nil {
		if err = enc.AddFrame(first); err != nil {
			logger.Debugf("add first frame: %v", err)
		}
	}

	streamCtx, streamCancel := context.WithCancel(context.Background())
	r.enc = enc
	r.mime = mime
	r.encCancel = encCancel
	r.streamCancel = streamCancel
	r.feedDone = make(chan struct{})
	r.encDone = make(chan struct{})
	go r.feed(enc, r.surface.CaptureStream(streamCtx, r.cfg.FPS), r.feedDone)
	go r.collect(enc, r.encDone)

	_ = r.event(eventRecord)
	logger.Infof("recording %dx%d as %s with %d audio track(s)", w, h, mime, len(sources))

	return nil
}

func (r *Recorder) feed(enc video.Recorder, frames <-chan *image.RGBA, done chan<- struct{}) {
	defer close(done)
	for img := range frames {
		if err := enc.AddFrame(img); err != nil {
			logger.Debugf("add frame: %v", err)
		}
	}
}

func (r *Recorder) collect(enc video.Recorder, done chan<- struct{}) {
	defer close(done)
	for chunk := range enc.Chunks() {
		if len(chunk) == 0 {
			continue
		}
		r.lock.Lock()
		r.chunks = append(r.chunks, chunk)
		r.lock.Unlock()
	}
}

func (r *Recorder) event(name string) error {
	return r.fsm.Event(context.Background(), name)
}

func (r *Recorder) failLocked() {
	r.timers.CancelAll()
	_ = r.event(eventFail)
}

// Stop finalizes the encoder and returns the clip. The timers and the loop
// are cancelled on every path.
func (r *Recorder) Stop(ctx context.Context) (*types.Artifact, error) {
	r.lock.Lock()
	if err := r.event(eventStop); err != nil {
		r.lock.Unlock()
		return nil, ErrNotRecording
	}
	r.timers.CancelAll()
	enc, feedDone, encDone, aborted := r.enc, r.feedDone, r.encDone, r.aborted
	r.streamCancel()
	r.lock.Unlock()

	<-feedDone
	if err := enc.Stop(); err != nil {
		logger.Warnf("stop encoder: %v", err)
	}
	select {
	case <-encDone:
	case <-aborted:
		return nil, types.NewError(types.KindGeneric, ErrAborted)
	case <-ctx.Done():
		r.Abort()
		return nil, ctx.Err()
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	if r.fsm.Current() != StateStopping {
		return nil, types.NewError(types.KindGeneric, ErrAborted)
	}
	r.encCancel()
	chunks := r.chunks
	r.chunks = nil
	r.enc = nil
	_ = r.event(eventFinish)

	if err := enc.Err(); err != nil {
		logger.Warnf("encoder finalize: %v", err)
	}
	if len(chunks) == 0 {
		return nil, types.ErrNoData
	}
	data := bytes.Join(chunks, nil)
	logger.Infof("recorded %s in %d chunk(s), %s", r.mime, len(chunks), humanize.Bytes(uint64(len(data))))

	return &types.Artifact{
		Kind:      types.ArtifactVideo,
		MimeType:  r.mime,
		Extension: enc.Extension(),
		Size:      int64(len(data)),
		CreatedAt: r.now(),
		Data:      data,
	}, nil
}

// Abort tears the recording down without producing an artifact. It is a
// no-op when nothing is recording.
func (r *Recorder) Abort() {
	r.lock.Lock()
	defer r.lock.Unlock()
	if !r.Recording() {
		return
	}
	r.timers.CancelAll()
	if r.streamCancel != nil {
		r.streamCancel()
		r.streamCancel = nil
	}
	if r.enc != nil {
		r.enc.Abort()
		r.enc = nil
	}
	if r.encCancel != nil {
		r.encCancel()
		r.encCancel = nil
	}
	if r.aborted != nil {
		close(r.aborted)
		r.aborted = nil
	}
	n := len(r.chunks)
	r.chunks = nil
	_ = r.event(eventAbort)
	logger.Infof("recording aborted, %d chunk(s) discarded", n)
}
