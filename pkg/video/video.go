// Package video encodes composited frames into downloadable clips.
package video

import (
	"context"
	"errors"
	"image"
	"time"

	"go.uber.org/zap"

	"eupho-cam/pkg/utils"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger().Named("video")
}

const (
	DefaultBitrate   = 4_000_000
	DefaultTimeslice = 500 * time.Millisecond
	DefaultFPS       = 30

	MimeAVI = "video/x-msvideo;codecs=mjpeg"
)

var (
	ErrUnsupported = errors.New("no supported recording format")
	ErrStopped     = errors.New("recorder stopped")
)

// Format maps a mime type onto an ffmpeg muxer and encoders.
type Format struct {
	Extension  string
	Container  string
	VideoCodec string
	AudioCodec string
}

var Formats = map[string]Format{
	"video/mp4;codecs=avc1": {Extension: "mp4", Container: "mp4", VideoCodec: "libx264", AudioCodec: "aac"},
	"video/webm;codecs=vp8": {Extension: "webm", Container: "webm", VideoCodec: "libvpx", AudioCodec: "libopus"},
	"video/webm":            {Extension: "webm", Container: "webm", VideoCodec: "libvpx", AudioCodec: "libopus"},
	"video/mp4":             {Extension: "mp4", Container: "mp4", VideoCodec: "mpeg4", AudioCodec: "aac"},
	MimeAVI:                 {Extension: "avi"},
}

// DefaultPreferences is tried in order; the first supported entry wins.
var DefaultPreferences = []string{
	"video/mp4;codecs=avc1",
	"video/webm;codecs=vp8",
	"video/webm",
	"video/mp4",
	MimeAVI,
}

type Options struct {
	Width   int
	Height  int
	FPS     int
	Bitrate int
	// Timeslice is how often buffered output is emitted as a chunk.
	Timeslice time.Duration
	// Quality of the JPEG frames handed to the encoder.
	Quality int
	// Audio lists ALSA capture sources mixed into the clip.
	Audio   []string
	TempDir string
}

func (o Options) withDefaults() Options {
	if o.FPS <= 0 {
		o.FPS = DefaultFPS
	}
	if o.Bitrate <= 0 {
		o.Bitrate = DefaultBitrate
	}
	if o.Timeslice <= 0 {
		o.Timeslice = DefaultTimeslice
	}
	if o.Quality <= 0 {
		o.Quality = 90
	}
	return o
}

// Recorder consumes frames and emits encoded chunks in order.
type Recorder interface {
	MimeType() string
	Extension() string
	AddFrame(img image.Image) error
	// Chunks is closed once the encoder has finalized or been aborted.
	Chunks() <-chan []byte
	// Stop asks the encoder to finalize. It does not wait for Chunks to close.
	Stop() error
	// Abort drops any pending output.
	Abort()
	// Err is the finalize error, valid after Chunks is closed.
	Err() error
}

type Factory interface {
	Supported(mimeType string) bool
	New(ctx context.Context, mimeType string, opts Options) (Recorder, error)
}

// Negotiate picks the first preference some factory can record.
func Negotiate(prefs []string, factories ...Factory) (string, Factory, error) {
	for _, mime := range prefs {
		for _, f := range factories {
			if f != nil && f.Supported(mime) {
				return mime, f, nil
			}
		}
	}
	return "", nil, ErrUnsupported
}

// Extension returns the file extension for mimeType.
func Extension(mimeType string) string {
	if f, ok := Formats[mimeType]; ok {
		return f.Extension
	}
	return "bin"
}
