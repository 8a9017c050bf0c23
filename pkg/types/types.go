package types

import (
	"fmt"
	"time"

	"github.com/vladimirvivien/go4vl/v4l2"
)

type FacingMode string

const (
	FacingFront FacingMode = "front"
	FacingBack  FacingMode = "back"
)

func (f FacingMode) Valid() bool {
	return f == FacingFront || f == FacingBack
}

// Mirrored reports whether frames from this camera are shown flipped.
func (f FacingMode) Mirrored() bool {
	return f == FacingFront
}

func (f FacingMode) Toggle() FacingMode {
	if f == FacingFront {
		return FacingBack
	}
	return FacingFront
}

type PhotoFormat string

const (
	PhotoPNG  PhotoFormat = "png"
	PhotoJPEG PhotoFormat = "jpeg"
)

func ParsePhotoFormat(s string) (PhotoFormat, error) {
	switch PhotoFormat(s) {
	case PhotoPNG, PhotoJPEG:
		return PhotoFormat(s), nil
	}
	return "", fmt.Errorf("unknown photo format %q", s)
}

// HasAlpha reports whether the encoded output keeps transparency.
func (f PhotoFormat) HasAlpha() bool {
	return f == PhotoPNG
}

func (f PhotoFormat) Extension() string {
	if f == PhotoJPEG {
		return "jpg"
	}
	return "png"
}

func (f PhotoFormat) MimeType() string {
	return "image/" + string(f)
}

type ArtifactKind string

const (
	ArtifactPhoto ArtifactKind = "photo"
	ArtifactVideo ArtifactKind = "video"
)

// Artifact is a finished capture waiting for retake or save.
// Photos carry their bytes in Data, videos reference a blob by BlobID.
type Artifact struct {
	Kind      ArtifactKind `json:"kind"`
	MimeType  string       `json:"mimeType"`
	Extension string       `json:"extension"`
	Size      int64        `json:"size"`
	CreatedAt time.Time    `json:"createdAt"`

	Data   []byte `json:"-"`
	BlobID string `json:"-"`
}

type CameraSettings map[v4l2.CtrlID]v4l2.CtrlValue

type File struct {
	Name    string    `json:"name"`
	Size    string    `json:"size"`
	ModTime time.Time `json:"modTime"`
}
