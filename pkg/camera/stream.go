package camera

import (
	"context"
	"errors"

	"github.com/vladimirvivien/go4vl/v4l2"

	"eupho-cam/pkg/types"
)

var ErrUnsupportedConstraint = errors.New("constraint not supported by device")

type TrackKind string

const (
	KindVideo TrackKind = "video"
	KindAudio TrackKind = "audio"
)

type Track interface {
	ID() string
	Kind() TrackKind
	Label() string
	// Stop releases the underlying device. Calling it more than once is a no-op.
	Stop()
	Stopped() bool
}

// TrackSettings describes the frames a video track actually delivers.
type TrackSettings struct {
	Width       int
	Height      int
	PixelFormat v4l2.FourCCType
}

type ZoomRange struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

// Capabilities are queried once per stream. Every field is optional.
// FocusRegion means the device takes a focus rectangle, so a point of interest
// reaches it. FocusArea alone only switches between whole-frame and area focus.
type Capabilities struct {
	Focus       bool       `json:"focus"`
	FocusArea   bool       `json:"focusArea"`
	FocusRegion bool       `json:"focusRegion"`
	Zoom        *ZoomRange `json:"zoom,omitempty"`
}

// AcceptsPoints reports whether a point of interest can be applied at all.
func (c Capabilities) AcceptsPoints() bool {
	return c.FocusArea || c.FocusRegion
}

type FocusMode string

const (
	FocusManual     FocusMode = "manual"
	FocusContinuous FocusMode = "continuous"
)

// Point is normalized to [0,1] on both axes, origin top left.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Constraints struct {
	FocusMode        FocusMode
	PointsOfInterest []Point
	// Zoom drives the optical zoom control and never affects composed frames.
	Zoom *float64
}

type VideoTrack interface {
	Track
	Frames() <-chan []byte
	Settings() TrackSettings
	Capabilities() Capabilities
	ApplyConstraints(c Constraints) error
}

type AudioTrack interface {
	Track
	// Clone returns an independent track on the same source.
	Clone() AudioTrack
	// Source is the capture device, e.g. an ALSA name like hw:1,0.
	Source() string
}

// Stream groups the tracks produced by one acquisition.
type Stream struct {
	Facing types.FacingMode
	Video  VideoTrack
	Audio  []AudioTrack
}

// Stop stops every track of the stream.
func (s *Stream) Stop() {
	if s == nil {
		return
	}
	if s.Video != nil {
		s.Video.Stop()
	}
	for _, a := range s.Audio {
		a.Stop()
	}
}

// CloneAudio returns fresh clones of the audio tracks for a consumer that may
// outlive the stream.
func (s *Stream) CloneAudio() []AudioTrack {
	if s == nil {
		return nil
	}
	res := make([]AudioTrack, 0, len(s.Audio))
	for _, a := range s.Audio {
		if a.Stopped() {
			continue
		}
		res = append(res, a.Clone())
	}
	return res
}

type Request struct {
	Facing types.FacingMode
	Device string
	Width  int
	Height int
	FPS    int
	Audio  []string
}

// Opener acquires device streams.
type Opener interface {
	Open(ctx context.Context, req Request) (*Stream, error)
}
