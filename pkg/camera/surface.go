package camera

import (
	"context"
	"image"
	"sync"
)

// VideoSurface holds the most recent decoded frame of a stream.
type VideoSurface struct {
	lock  sync.RWMutex
	frame image.Image
	seq   uint64

	readyOnce sync.Once
	ready     chan struct{}
}

func NewVideoSurface() *VideoSurface {
	return &VideoSurface{ready: make(chan struct{})}
}

func (v *VideoSurface) set(img image.Image) {
	v.lock.Lock()
	v.frame = img
	v.seq++
	v.lock.Unlock()
	v.readyOnce.Do(func() { close(v.ready) })
}

// Frame returns the latest frame and its sequence number.
func (v *VideoSurface) Frame() (image.Image, uint64, bool) {
	v.lock.RLock()
	defer v.lock.RUnlock()
	return v.frame, v.seq, v.frame != nil
}

func (v *VideoSurface) Ready() bool {
	select {
	case <-v.ready:
		return true
	default:
		return false
	}
}

func (v *VideoSurface) WaitReady(ctx context.Context) error {
	select {
	case <-v.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
