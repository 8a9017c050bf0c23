package camera

import (
	"sync/atomic"

	"github.com/google/uuid"
)

type alsaTrack struct {
	id      string
	source  string
	stopped atomic.Bool
}

func NewAudioTrack(source string) AudioTrack {
	return &alsaTrack{id: uuid.NewString(), source: source}
}

func (a *alsaTrack) ID() string      { return a.id }
func (a *alsaTrack) Kind() TrackKind { return KindAudio }
func (a *alsaTrack) Label() string   { return "alsa " + a.source }
func (a *alsaTrack) Source() string  { return a.source }
func (a *alsaTrack) Stop()           { a.stopped.Store(true) }
func (a *alsaTrack) Stopped() bool   { return a.stopped.Load() }

func (a *alsaTrack) Clone() AudioTrack {
	return NewAudioTrack(a.source)
}
