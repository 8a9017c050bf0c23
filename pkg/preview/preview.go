// Package preview holds a finished capture until it is retaken or saved.
package preview

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"eupho-cam/pkg/types"
	"eupho-cam/pkg/utils"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger().Named("preview")
}

var ErrNoArtifact = errors.New("nothing to preview")

type BlobStore interface {
	Put(data []byte) (string, error)
	Open(id string) (io.ReadSeekCloser, int64, error)
	Release(id string) error
}

type Exporter interface {
	Save(at time.Time, ext string, src io.Reader) (string, error)
}

type Controller struct {
	blobs   BlobStore
	exports Exporter
	now     func() time.Time

	lock     sync.Mutex
	artifact *types.Artifact
}

func New(blobs BlobStore, exports Exporter, now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	return &Controller{blobs: blobs, exports: exports, now: now}
}

// Set takes ownership of a. Video data is moved into the blob store.
func (c *Controller) Set(a *types.Artifact) error {
	if a == nil {
		return ErrNoArtifact
	}
	a = cloneArtifact(a)
	if a.Kind == types.ArtifactVideo && a.BlobID == "" {
		id, err := c.blobs.Put(a.Data)
		if err != nil {
			return err
		}
		a.BlobID = id
		a.Data = nil
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	c.releaseLocked()
	c.artifact = a

	return nil
}

// Artifact returns a copy of the current artifact without its data.
func (c *Controller) Artifact() (types.Artifact, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.artifact == nil {
		return types.Artifact{}, false
	}
	a := *c.artifact
	a.Data = nil
	return a, true
}

func (c *Controller) Active() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.artifact != nil
}

// Open returns the artifact content for download.
func (c *Controller) Open() (io.ReadSeekCloser, types.Artifact, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.artifact == nil {
		return nil, types.Artifact{}, ErrNoArtifact
	}
	a := *c.artifact
	a.Data = nil
	if c.artifact.Kind == types.ArtifactPhoto {
		return nopCloser{bytes.NewReader(c.artifact.Data)}, a, nil
	}
	r, _, err := c.blobs.Open(c.artifact.BlobID)
	if err != nil {
		return nil, a, err
	}
	return r, a, nil
}

// Retake discards the artifact. Without one it does nothing.
func (c *Controller) Retake() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.releaseLocked()
}

func (c *Controller) releaseLocked() {
	if c.artifact == nil {
		return
	}
	if c.artifact.BlobID != "" {
		if err := c.blobs.Release(c.artifact.BlobID); err != nil {
			logger.Warnf("release blob %s: %v", c.artifact.BlobID, err)
		}
	}
	c.artifact = nil
}

// Save exports the artifact as EuphoCam-<unix ms>.<ext> and then discards
// it. It returns "" when there is nothing to save.
func (c *Controller) Save() (string, error) {
	r, a, err := c.Open()
	if errors.Is(err, ErrNoArtifact) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer r.Close()

	name, err := c.exports.Save(c.now(), a.Extension, r)
	if err != nil {
		return "", err
	}
	logger.Infof("saved %s", name)

	c.lock.Lock()
	defer c.lock.Unlock()
	// a new capture may have replaced the one that was saved
	if c.artifact != nil && c.artifact.CreatedAt.Equal(a.CreatedAt) && c.artifact.BlobID == a.BlobID {
		c.releaseLocked()
	}

	return name, nil
}

func cloneArtifact(a *types.Artifact) *types.Artifact {
	cp := *a
	return &cp
}

type nopCloser struct {
	io.ReadSeeker
}

func (nopCloser) Close() error { return nil }
