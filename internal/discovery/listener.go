package discovery

import (
	"sync"
	"time"
)

// subscription is one registered listener with its own FIFO queue and
// worker goroutine.
type subscription struct {
	id    ListenerID
	fn    Listener
	queue chan Event

	quit      *closeOnce
	done      chan struct{}
	startOnce sync.Once
	started   bool // guarded by startOnce / read after stop
}

func newSubscription(id ListenerID, fn Listener, size int) *subscription {
	return &subscription{
		id:    id,
		fn:    fn,
		queue: make(chan Event, size),
		quit:  newCloseOnce(),
		done:  make(chan struct{}),
	}
}

// start launches the worker once. Caller must hold Engine.listenersMu.
func (s *subscription) start(e *Engine) {
	s.startOnce.Do(func() {
		if s.quit.IsClosed() {
			return
		}
		s.started = true
		go s.run(e)
	})
}

func (s *subscription) run(e *Engine) {
	defer close(s.done)
	for {
		select {
		case <-s.quit.Done():
			return
		case ev := <-s.queue:
			// quit may have closed while the event was ready.
			if s.quit.IsClosed() {
				return
			}
			s.invoke(e, ev)
		}
	}
}

func (s *subscription) invoke(e *Engine, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.listenerPanics.Add(1)
			e.logError("listener panicked", "listener", s.id, "identity", ev.Identity, "panic", r)
		}
	}()
	s.fn(ev)
}

// deliver queues ev, waiting up to grace for space. It returns false if
// the event had to be dropped. Removed listeners silently accept.
func (s *subscription) deliver(ev Event, grace time.Duration, abort <-chan struct{}) bool {
	if s.quit.IsClosed() {
		return true
	}
	select {
	case s.queue <- ev:
		return true
	default:
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case s.queue <- ev:
		return true
	case <-s.quit.Done():
		return true
	case <-timer.C:
		return false
	case <-abort:
		return false
	}
}

// stop signals the worker. It does not wait, so a listener may remove
// itself from inside its own callback.
func (s *subscription) stop() {
	s.quit.Close()
}

// wait blocks until the worker exits or grace elapses. Caller must have
// called stop while holding Engine.listenersMu, so started is stable.
func (s *subscription) wait(grace time.Duration) bool {
	if !s.started {
		return true
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-s.done:
		return true
	case <-timer.C:
		return false
	}
}
