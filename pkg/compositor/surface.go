package compositor

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"
)

var ErrSurfaceEmpty = errors.New("surface has not been composed yet")

// Surface is the destination every composited frame is drawn onto. It is
// resized by Compose and may be read concurrently by capture streams.
type Surface struct {
	lock   sync.RWMutex
	img    *image.RGBA
	frames uint64
}

func NewSurface() *Surface {
	return &Surface{}
}

func (s *Surface) Size() (width, height int) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.img == nil {
		return 0, 0
	}
	b := s.img.Bounds()
	return b.Dx(), b.Dy()
}

// Frames is the number of successful compositions since the last Reset.
func (s *Surface) Frames() uint64 {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.frames
}

// Snapshot copies the current pixels.
func (s *Surface) Snapshot() (*image.RGBA, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.frames == 0 || s.img == nil {
		return nil, ErrSurfaceEmpty
	}
	cp := image.NewRGBA(s.img.Bounds())
	copy(cp.Pix, s.img.Pix)

	return cp, nil
}

// Reset forgets the contents so reads fail until the next composition.
func (s *Surface) Reset() {
	s.lock.Lock()
	s.img = nil
	s.frames = 0
	s.lock.Unlock()
}

// CaptureStream samples the surface fps times per second until ctx is done.
// Slow consumers miss frames rather than blocking the sampler.
func (s *Surface) CaptureStream(ctx context.Context, fps int) <-chan *image.RGBA {
	if fps <= 0 {
		fps = 30
	}
	out := make(chan *image.RGBA, 1)
	go func() {
		defer close(out)
		t := time.NewTicker(time.Second / time.Duration(fps))
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				frame, err := s.Snapshot()
				if err != nil {
					continue
				}
				select {
				case out <- frame:
				default:
				}
			}
		}
	}()

	return out
}
