package discovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-discovery/internal/discovery/codec"
	"github.com/nerrad567/gray-logic-discovery/internal/discovery/ledger"
	"github.com/nerrad567/gray-logic-discovery/internal/discovery/udp"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

func (c *closeOnce) IsClosed() bool {
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}

// Handle controls one run of the engine. The ledger lives as long as the
// handle.
type Handle struct {
	engine  *Engine
	channel *udp.Channel
	ledger  *ledger.Ledger

	// dispatch carries events from the receive loop to the dispatcher.
	// Only the receive loop sends; Stop closes it after the loop exits.
	dispatch chan Event

	stopping *closeOnce // Stop has begun
	abort    *closeOnce // dispatcher must give up pending deliveries

	loopDone     chan struct{}
	dispatchDone chan struct{}
	stopOnce     sync.Once

	ctxMu      sync.Mutex
	releaseCtx func() bool

	scansMu sync.Mutex
	scans   map[uint64]time.Time

	// lastHousekeeping is only touched by the receive loop.
	lastHousekeeping time.Time
}

func newHandle(e *Engine, ch *udp.Channel) *Handle {
	return &Handle{
		engine:       e,
		channel:      ch,
		ledger:       ledger.New(),
		dispatch:     make(chan Event, e.cfg.QueueSize),
		stopping:     newCloseOnce(),
		abort:        newCloseOnce(),
		loopDone:     make(chan struct{}),
		dispatchDone: make(chan struct{}),
		scans:        make(map[uint64]time.Time),
	}
}

func (h *Handle) run() {
	h.lastHousekeeping = h.engine.cfg.Now()
	go h.receiveLoop()
	go h.dispatchLoop()
}

// watch stops the handle when ctx is cancelled.
func (h *Handle) watch(ctx context.Context) {
	h.ctxMu.Lock()
	defer h.ctxMu.Unlock()
	h.releaseCtx = context.AfterFunc(ctx, h.Stop)
}

// LocalAddr returns the socket's bound address as "ip:port", or "" while
// the socket is being recovered.
func (h *Handle) LocalAddr() string {
	return addrString(h.channel)
}

// Stop shuts the run down. It closes the socket, waits for the receive loop
// and dispatcher to exit, then stops every listener worker, waiting up to
// the listener grace for a callback in progress. Stop is idempotent and
// safe to call from any goroutine.
func (h *Handle) Stop() {
	h.stopOnce.Do(h.stop)
}

func (h *Handle) stop() {
	e := h.engine
	e.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
	h.stopping.Close()

	h.ctxMu.Lock()
	release := h.releaseCtx
	h.ctxMu.Unlock()
	if release != nil {
		release()
	}

	if err := h.channel.Close(); err != nil {
		e.logWarn("closing discovery socket failed", "error", err)
	}
	<-h.loopDone

	// Let the dispatcher hand over what is already queued, within bounds.
	close(h.dispatch)
	timer := time.NewTimer(e.cfg.ListenerGrace)
	select {
	case <-h.dispatchDone:
	case <-timer.C:
	}
	timer.Stop()
	h.abort.Close()
	<-h.dispatchDone

	e.listenersMu.Lock()
	subs := e.snapshot()
	for _, s := range subs {
		s.stop()
	}
	e.listenersMu.Unlock()

	for _, s := range subs {
		if !s.wait(e.cfg.ListenerGrace) {
			e.logWarn("listener still running after stop", "listener", s.id)
		}
	}

	e.state.Store(int32(StateStopped))
	e.logInfo("discovery engine stopped", "protocol", e.codec.Name())
}

// Scan opens a scan window of length d (zero selects the configured
// duration). Records created while the window is open are not pruned until
// it closes. If the codec can probe and a probe address is configured, the
// probe is sent; a send failure is logged and the window stays open.
func (h *Handle) Scan(d time.Duration) (uint64, error) {
	if h.stopping.IsClosed() {
		return 0, ErrEngineStopped
	}
	e := h.engine
	if d <= 0 {
		d = e.cfg.ScanDuration
	}

	id := h.ledger.BeginScan()
	h.scansMu.Lock()
	h.scans[id] = e.cfg.Now().Add(d)
	h.scansMu.Unlock()
	e.scansStarted.Add(1)

	probed := false
	if p, ok := e.codec.(codec.Prober); ok && e.cfg.ProbeAddress != "" {
		if err := h.channel.Send(p.Probe(), e.cfg.ProbeAddress); err != nil {
			e.logWarn("sending scan probe failed", "scan", id, "target", e.cfg.ProbeAddress, "error", err)
		} else {
			probed = true
		}
	}

	e.logInfo("scan started", "scan", id, "duration", d.String(), "probed", probed)
	return id, nil
}

// EndScan closes a scan window early.
func (h *Handle) EndScan(id uint64) {
	h.scansMu.Lock()
	delete(h.scans, id)
	h.scansMu.Unlock()
	h.ledger.EndScan(id)
}

func (h *Handle) expireScans(now time.Time) {
	h.scansMu.Lock()
	var expired []uint64
	for id, deadline := range h.scans {
		if !now.Before(deadline) {
			expired = append(expired, id)
			delete(h.scans, id)
		}
	}
	h.scansMu.Unlock()

	for _, id := range expired {
		h.ledger.EndScan(id)
		h.engine.logDebug("scan ended", "scan", id)
	}
}

// receiveLoop is the only caller of Channel.Receive.
func (h *Handle) receiveLoop() {
	defer close(h.loopDone)
	e := h.engine

	for {
		frame, err := h.channel.Receive()
		switch {
		case isClosedErr(err):
			return
		case errors.Is(err, udp.ErrTimeout):
			h.housekeeping()
			continue
		case err != nil:
			e.logError("receive failed", "error", err)
			h.housekeeping()
			continue
		}

		h.handleFrame(frame)
		if e.cfg.Now().Sub(h.lastHousekeeping) >= e.cfg.Socket.ReceiveTimeout {
			h.housekeeping()
		}
	}
}

// housekeeping ends expired scans, prunes stale records and re-binds a
// degraded socket.
func (h *Handle) housekeeping() {
	e := h.engine
	now := e.cfg.Now()
	h.lastHousekeeping = now

	h.expireScans(now)

	for _, rec := range h.ledger.Prune(now, e.cfg.StalenessThreshold) {
		e.vanished.Add(1)
		e.logInfo("device vanished", "identity", rec.Identity, "last_seen", rec.LastSeenAt)
		h.enqueue(Event{
			ID:          uuid.NewString(),
			Kind:        EventVanished,
			Identity:    rec.Identity,
			Label:       rec.Label,
			Properties:  rec.Properties,
			Protocol:    e.codec.Name(),
			FirstSeenAt: rec.FirstSeenAt,
			LastSeenAt:  rec.LastSeenAt,
			Timestamp:   now,
		})
	}

	if err := h.channel.HealthCheck(); err != nil && !isClosedErr(err) {
		e.logWarn("discovery socket unhealthy", "error", err, "state", h.channel.State().String())
	}
}

func (h *Handle) handleFrame(frame codec.RawFrame) {
	e := h.engine

	msg, err := e.codec.Decode(frame)
	if err != nil {
		e.countDecodeError(err)
		e.logDebug("frame rejected", "source", frame.Source.String(), "error", err)
		return
	}
	e.framesDecoded.Add(1)
	now := e.cfg.Now()

	if e.registry != nil && e.registry.IsKnown(msg.Identity) {
		h.ledger.Touch(msg.Identity, now)
		e.knownSkipped.Add(1)
		return
	}
	if msg.Kind == codec.KindLeave {
		h.ledger.Touch(msg.Identity, now)
		e.leaves.Add(1)
		e.logDebug("device leaving", "identity", msg.Identity)
		return
	}

	rec, outcome := h.ledger.RecordIfNew(msg.Identity, msg.Label, msg.Properties, now)
	if outcome == ledger.AlreadyKnown {
		e.duplicates.Add(1)
		return
	}

	e.discovered.Add(1)
	e.logInfo("device discovered", "identity", rec.Identity, "label", rec.Label, "source", frame.Source.String())
	h.enqueue(Event{
		ID:          uuid.NewString(),
		Kind:        EventDiscovered,
		Identity:    rec.Identity,
		Label:       rec.Label,
		Properties:  rec.Properties,
		Protocol:    e.codec.Name(),
		Source:      frame.Source.String(),
		FirstSeenAt: rec.FirstSeenAt,
		LastSeenAt:  rec.LastSeenAt,
		Timestamp:   now,
	})
}

// enqueue hands an event to the dispatcher, waiting at most the listener
// grace for space.
func (h *Handle) enqueue(ev Event) {
	select {
	case h.dispatch <- ev:
		return
	default:
	}

	timer := time.NewTimer(h.engine.cfg.ListenerGrace)
	defer timer.Stop()

	select {
	case h.dispatch <- ev:
	case <-timer.C:
		h.engine.eventsDropped.Add(1)
		h.engine.logWarn("dispatch queue full, event dropped", "identity", ev.Identity, "kind", ev.Kind)
	case <-h.stopping.Done():
		h.engine.eventsDropped.Add(1)
	}
}

// dispatchLoop builds results and fans events out in arrival order.
func (h *Handle) dispatchLoop() {
	defer close(h.dispatchDone)
	e := h.engine

	for {
		select {
		case <-h.abort.Done():
			return
		case ev, ok := <-h.dispatch:
			if !ok {
				return
			}
			if ev.Kind == EventDiscovered {
				ev.Result = e.buildResult(ev)
			}
			for _, s := range e.snapshot() {
				if !s.deliver(ev.clone(), e.cfg.ListenerGrace, h.abort.Done()) {
					e.eventsDropped.Add(1)
					e.logWarn("listener queue full, event dropped", "listener", s.id, "identity", ev.Identity)
				}
			}
		}
	}
}
