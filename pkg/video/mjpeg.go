package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"sync"

	"github.com/icza/mjpeg"
	"golang.org/x/image/draw"

	imgutil "eupho-cam/pkg/utils/image"
)

const aviChunkSize = 1 << 20

// MJPEG records Motion-JPEG AVI files. It needs no external tools and
// ignores audio.
type MJPEG struct{}

func (MJPEG) Supported(mimeType string) bool {
	return mimeType == MimeAVI
}

func (MJPEG) New(_ context.Context, mimeType string, opts Options) (Recorder, error) {
	if mimeType != MimeAVI {
		return nil, fmt.Errorf("%s: %w", mimeType, ErrUnsupported)
	}
	opts = opts.withDefaults()
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", opts.Width, opts.Height)
	}
	if len(opts.Audio) > 0 {
		logger.Debugf("avi output drops %d audio source(s)", len(opts.Audio))
	}
	f, err := os.CreateTemp(opts.TempDir, "rec-*.avi")
	if err != nil {
		return nil, err
	}
	path := f.Name()
	_ = f.Close()

	aw, err := mjpeg.New(path, int32(opts.Width), int32(opts.Height), int32(opts.FPS))
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	return &aviRecorder{
		path:    path,
		width:   opts.Width,
		height:  opts.Height,
		quality: opts.Quality,
		aw:      aw,
		chunks:  make(chan []byte),
		abort:   make(chan struct{}),
	}, nil
}

type aviRecorder struct {
	path    string
	width   int
	height  int
	quality int

	lock    sync.Mutex
	aw      mjpeg.AviWriter
	cnt     int
	stopped bool
	err     error

	chunks    chan []byte
	abort     chan struct{}
	abortOnce sync.Once
}

func (r *aviRecorder) MimeType() string      { return MimeAVI }
func (r *aviRecorder) Extension() string     { return "avi" }
func (r *aviRecorder) Chunks() <-chan []byte { return r.chunks }

func (r *aviRecorder) AddFrame(img image.Image) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.stopped {
		return ErrStopped
	}
	if b := img.Bounds(); b.Dx() != r.width || b.Dy() != r.height {
		dst := image.NewRGBA(image.Rect(0, 0, r.width, r.height))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		img = dst
	}
	var buf bytes.Buffer
	if err := imgutil.EncodeJPEG(img, &buf, r.quality); err != nil {
		return err
	}
	if err := r.aw.AddFrame(buf.Bytes()); err != nil {
		return err
	}
	r.cnt++

	return nil
}

// Frames is the number of frames written so far.
func (r *aviRecorder) Frames() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.cnt
}

func (r *aviRecorder) Stop() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.stopped {
		return ErrStopped
	}
	r.stopped = true
	closeErr := r.aw.Close()
	cnt := r.cnt

	go r.emit(cnt, closeErr)

	return closeErr
}

// emit sends the finished file in chunks. An AVI is only playable once its
// index is written, so nothing is emitted before Stop.
func (r *aviRecorder) emit(frames int, closeErr error) {
	defer close(r.chunks)
	defer os.Remove(r.path)
	if closeErr != nil {
		r.setErr(closeErr)
		return
	}
	if frames == 0 {
		return
	}
	f, err := os.Open(r.path)
	if err != nil {
		r.setErr(err)
		return
	}
	defer f.Close()
	for {
		buf := make([]byte, aviChunkSize)
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			select {
			case r.chunks <- buf[:n]:
			case <-r.abort:
				return
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return
		}
		if err != nil {
			r.setErr(err)
			return
		}
	}
}

func (r *aviRecorder) Abort() {
	r.abortOnce.Do(func() { close(r.abort) })
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.stopped {
		return
	}
	r.stopped = true
	_ = r.aw.Close()
	go r.emit(0, nil)
}

func (r *aviRecorder) setErr(err error) {
	r.lock.Lock()
	r.err = err
	r.lock.Unlock()
}

func (r *aviRecorder) Err() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.err
}
