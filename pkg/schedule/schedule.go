package schedule

import (
	"sync"
	"time"
)

// Handle is a cancellable scheduled callback. Once Cancel returns, the
// callback is not started again; an invocation already running finishes.
type Handle struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func newHandle() *Handle {
	return &Handle{stop: make(chan struct{}), done: make(chan struct{})}
}

// After runs f once after d.
func After(d time.Duration, f func()) *Handle {
	h := newHandle()
	go func() {
		defer close(h.done)
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			if h.Cancelled() {
				return
			}
			f()
		case <-h.stop:
		}
	}()

	return h
}

// Every runs f every d until cancelled.
func Every(d time.Duration, f func(now time.Time)) *Handle {
	h := newHandle()
	go func() {
		defer close(h.done)
		t := time.NewTicker(d)
		defer t.Stop()
		for {
			select {
			case now := <-t.C:
				if h.Cancelled() {
					return
				}
				f(now)
			case <-h.stop:
				return
			}
		}
	}()

	return h
}

func (h *Handle) Cancel() {
	h.once.Do(func() { close(h.stop) })
}

func (h *Handle) Cancelled() bool {
	select {
	case <-h.stop:
		return true
	default:
		return false
	}
}

// Done is closed when the scheduling goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Pending reports whether the callback may still run.
func (h *Handle) Pending() bool {
	if h.Cancelled() {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Timers keeps named handles. Scheduling a name again replaces (and
// cancels) the previous handle, like clearTimeout followed by setTimeout.
type Timers struct {
	lock    sync.Mutex
	handles map[string]*Handle
}

func NewTimers() *Timers {
	return &Timers{handles: make(map[string]*Handle)}
}

func (t *Timers) After(name string, d time.Duration, f func()) *Handle {
	return t.put(name, After(d, f))
}

func (t *Timers) Every(name string, d time.Duration, f func(now time.Time)) *Handle {
	return t.put(name, Every(d, f))
}

func (t *Timers) put(name string, h *Handle) *Handle {
	t.lock.Lock()
	defer t.lock.Unlock()
	if old, ok := t.handles[name]; ok {
		old.Cancel()
	}
	t.handles[name] = h

	return h
}

func (t *Timers) Cancel(name string) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if h, ok := t.handles[name]; ok {
		h.Cancel()
		delete(t.handles, name)
	}
}

func (t *Timers) CancelAll() {
	t.lock.Lock()
	defer t.lock.Unlock()
	for name, h := range t.handles {
		h.Cancel()
		delete(t.handles, name)
	}
}

// Pending counts handles whose callback may still run.
func (t *Timers) Pending() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	n := 0
	for _, h := range t.handles {
		if h.Pending() {
			n++
		}
	}

	return n
}
