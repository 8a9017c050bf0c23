package overlay

import (
	"context"
	"errors"
	"image"
	"sync"

	imageutil "eupho-cam/pkg/utils/image"
)

var ErrNotLoaded = errors.New("overlay image not loaded")

// Asset is an overlay frame. Its image and natural aspect ratio are unknown
// until Load completes; after that the asset never changes.
type Asset struct {
	ID          string `json:"id" yaml:"id"`
	Source      string `json:"source" yaml:"source"`
	Description string `json:"description" yaml:"description"`
	Hint        string `json:"hint" yaml:"hint"`

	lock    sync.RWMutex
	once    sync.Once
	loaded  chan struct{}
	img     image.Image
	aspect  float64
	loadErr error
}

func NewAsset(id, source, description, hint string) *Asset {
	return &Asset{
		ID:          id,
		Source:      source,
		Description: description,
		Hint:        hint,
		loaded:      make(chan struct{}),
	}
}

// NewLoadedAsset wraps an already decoded image.
func NewLoadedAsset(id, source, description, hint string, img image.Image) *Asset {
	a := NewAsset(id, source, description, hint)
	a.once.Do(func() { a.finish(img, nil) })

	return a
}

// Load fetches and decodes the image in the background. Only the first call
// has an effect.
func (a *Asset) Load(ctx context.Context, f Fetcher) {
	a.once.Do(func() {
		go func() {
			data, err := f.Fetch(ctx, a.Source)
			if err != nil {
				a.finish(nil, err)
				return
			}
			img, err := imageutil.Decode(data)
			a.finish(img, err)
		}()
	})
}

func (a *Asset) finish(img image.Image, err error) {
	a.lock.Lock()
	if err == nil {
		b := img.Bounds()
		if b.Dx() == 0 || b.Dy() == 0 {
			err = errors.New("overlay image is empty")
		} else {
			a.img = img
			a.aspect = float64(b.Dx()) / float64(b.Dy())
		}
	}
	a.loadErr = err
	a.lock.Unlock()
	if err != nil {
		logger.Warnf("load overlay %s from %s: %s", a.ID, a.Source, err)
	} else {
		logger.Debugf("overlay %s loaded, aspect %.4f", a.ID, a.aspect)
	}
	close(a.loaded)
}

// Loaded is closed once loading finished, successfully or not.
func (a *Asset) Loaded() <-chan struct{} {
	return a.loaded
}

// Wait blocks until the image is decoded.
func (a *Asset) Wait(ctx context.Context) error {
	select {
	case <-a.loaded:
		return a.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AspectRatio is width/height of the decoded image; ok is false until then.
func (a *Asset) AspectRatio() (ratio float64, ok bool) {
	a.lock.RLock()
	defer a.lock.RUnlock()
	if a.img == nil {
		return 0, false
	}
	return a.aspect, true
}

func (a *Asset) Image() (image.Image, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()
	if a.img == nil {
		return nil, ErrNotLoaded
	}
	return a.img, nil
}

func (a *Asset) Err() error {
	a.lock.RLock()
	defer a.lock.RUnlock()
	return a.loadErr
}

// Info is the JSON view of an asset.
type Info struct {
	ID          string   `json:"id"`
	Source      string   `json:"source"`
	Description string   `json:"description"`
	Hint        string   `json:"hint"`
	AspectRatio *float64 `json:"aspectRatio"`
	Error       string   `json:"error,omitempty"`
}

func (a *Asset) Info() Info {
	info := Info{ID: a.ID, Source: a.Source, Description: a.Description, Hint: a.Hint}
	if r, ok := a.AspectRatio(); ok {
		info.AspectRatio = &r
	}
	if err := a.Err(); err != nil {
		info.Error = err.Error()
	}

	return info
}
