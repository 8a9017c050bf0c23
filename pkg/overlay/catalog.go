package overlay

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"eupho-cam/pkg/utils"
	imageutil "eupho-cam/pkg/utils/image"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger().Named("overlay")
}

// UploadStore persists uploaded overlay images and returns their source
// reference.
type UploadStore interface {
	SaveUpload(src io.Reader) (string, error)
}

type Catalog struct {
	lock    sync.RWMutex
	assets  []*Asset
	ctx     context.Context
	fetcher Fetcher
	uploads UploadStore
}

func NewCatalog(ctx context.Context, fetcher Fetcher, uploads UploadStore) *Catalog {
	return &Catalog{ctx: ctx, fetcher: fetcher, uploads: uploads}
}

// Add appends an asset and starts loading it.
func (c *Catalog) Add(a *Asset) {
	a.Load(c.ctx, c.fetcher)
	c.lock.Lock()
	c.assets = append(c.assets, a)
	c.lock.Unlock()
}

func (c *Catalog) prepend(a *Asset) {
	c.lock.Lock()
	c.assets = append([]*Asset{a}, c.assets...)
	c.lock.Unlock()
}

func (c *Catalog) Get(id string) (*Asset, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	for _, a := range c.assets {
		if a.ID == id {
			return a, true
		}
	}

	return nil, false
}

func (c *Catalog) List() []*Asset {
	c.lock.RLock()
	defer c.lock.RUnlock()
	res := make([]*Asset, len(c.assets))
	copy(res, c.assets)

	return res
}

// Upload turns a user supplied image into a selectable asset placed first
// in the catalog. Landscape images are turned upright first.
func (c *Catalog) Upload(src io.Reader, name string) (*Asset, error) {
	data, err := readLimited(src)
	if err != nil {
		return nil, err
	}
	img, err := imageutil.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode upload: %w", err)
	}
	img = Upright(img)

	var buf bytes.Buffer
	if err = imageutil.EncodePNG(img, &buf); err != nil {
		return nil, err
	}
	ref, err := c.uploads.SaveUpload(&buf)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = "Uploaded asset"
	}
	a := NewLoadedAsset(fmt.Sprintf("uploaded-%d", time.Now().UnixMilli()), ref, name, "uploaded", img)
	c.prepend(a)
	logger.Infof("overlay %s uploaded as %s", a.ID, ref)

	return a, nil
}

// Upright rotates landscape images 90 degrees clockwise; portrait and
// square images are returned unchanged.
func Upright(img image.Image) image.Image {
	b := img.Bounds()
	if b.Dx() <= b.Dy() {
		return img
	}
	// imaging rotates counter-clockwise
	return imaging.Rotate270(img)
}
