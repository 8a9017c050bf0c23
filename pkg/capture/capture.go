// Package capture produces still photos from the live composition.
package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"eupho-cam/pkg/compositor"
	"eupho-cam/pkg/types"
	"eupho-cam/pkg/utils"
	imgutil "eupho-cam/pkg/utils/image"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger().Named("capture")
}

var ErrStreamNotReady = errors.New("no decoded video frame yet")

// Input is everything one composition depends on.
type Input struct {
	Frame   image.Image
	Overlay compositor.Overlay
	Zoom    float64
	Facing  types.FacingMode
}

type Pipeline struct {
	surface *compositor.Surface
	quality int
	now     func() time.Time
}

func New(surface *compositor.Surface) *Pipeline {
	return &Pipeline{surface: surface, quality: imgutil.DefaultJPEGQuality, now: time.Now}
}

// CapturePhoto composes in once and encodes the surface as format.
func (p *Pipeline) CapturePhoto(in Input, format types.PhotoFormat) (*types.Artifact, error) {
	if in.Overlay == nil {
		return nil, types.ErrMissingOverlay
	}
	if in.Frame == nil {
		return nil, types.NewError(types.KindGeneric, ErrStreamNotReady)
	}
	err := compositor.Compose(p.surface, in.Frame, in.Overlay, in.Zoom, in.Facing, format.HasAlpha())
	switch {
	case errors.Is(err, compositor.ErrOverlayNotLoaded):
		return nil, types.NewError(types.KindMissingOverlay, err)
	case err != nil:
		return nil, types.NewError(types.KindGeneric, err)
	}

	img, err := p.surface.Snapshot()
	if err != nil {
		return nil, types.NewError(types.KindGeneric, err)
	}
	data, err := Encode(img, format, p.quality)
	if err != nil {
		return nil, types.NewError(types.KindGeneric, err)
	}
	logger.Infof("captured %dx%d %s photo (%s)", img.Rect.Dx(), img.Rect.Dy(), format, humanize.Bytes(uint64(len(data))))

	return &types.Artifact{
		Kind:      types.ArtifactPhoto,
		MimeType:  format.MimeType(),
		Extension: format.Extension(),
		Size:      int64(len(data)),
		CreatedAt: p.now(),
		Data:      data,
	}, nil
}

func Encode(img image.Image, format types.PhotoFormat, quality int) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case types.PhotoPNG:
		if err := imgutil.EncodePNG(img, &buf); err != nil {
			return nil, err
		}
	case types.PhotoJPEG:
		if err := imgutil.EncodeJPEG(img, &buf, quality); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown photo format %q", format)
	}

	return buf.Bytes(), nil
}
