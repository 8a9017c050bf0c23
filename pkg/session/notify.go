package session

import (
	"sync"
	"time"

	"eupho-cam/pkg/types"
)

const maxNotifications = 32

type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

type Notification struct {
	ID          uint64          `json:"id"`
	Level       Level           `json:"level"`
	Kind        types.ErrorKind `json:"kind,omitempty"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Time        time.Time       `json:"time"`
}

var descriptions = map[types.ErrorKind]string{
	types.KindPermissionDenied:  "Camera access was denied. Allow access to the camera and try again.",
	types.KindDeviceNotFound:    "No camera was found on this device.",
	types.KindGeneric:           "Could not access the camera.",
	types.KindMissingOverlay:    "Please select a frame first.",
	types.KindUnsupportedDevice: "Device not supported.",
	types.KindNoData:            "Recording failed: No data.",
}

// Notifier keeps the most recent user facing messages.
type Notifier struct {
	lock   sync.Mutex
	nextID uint64
	recent []Notification
	now    func() time.Time
}

func NewNotifier(now func() time.Time) *Notifier {
	if now == nil {
		now = time.Now
	}
	return &Notifier{now: now}
}

// Notify reports an error of the given kind.
func (n *Notifier) Notify(kind types.ErrorKind) Notification {
	desc, ok := descriptions[kind]
	if !ok {
		desc = descriptions[types.KindGeneric]
	}
	logger.Warnf("notify %s: %s", kind, desc)
	return n.push(Notification{Level: LevelError, Kind: kind, Title: "Error", Description: desc})
}

func (n *Notifier) Info(title string) Notification {
	logger.Infof("notify: %s", title)
	return n.push(Notification{Level: LevelInfo, Title: title})
}

func (n *Notifier) push(msg Notification) Notification {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.nextID++
	msg.ID = n.nextID
	msg.Time = n.now()
	n.recent = append(n.recent, msg)
	if len(n.recent) > maxNotifications {
		n.recent = n.recent[len(n.recent)-maxNotifications:]
	}
	return msg
}

// Since returns the notifications with an id greater than after, oldest
// first.
func (n *Notifier) Since(after uint64) []Notification {
	n.lock.Lock()
	defer n.lock.Unlock()
	res := make([]Notification, 0)
	for _, msg := range n.recent {
		if msg.ID > after {
			res = append(res, msg)
		}
	}
	return res
}
