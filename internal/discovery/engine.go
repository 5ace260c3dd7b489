package discovery

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-discovery/internal/discovery/codec"
	"github.com/nerrad567/gray-logic-discovery/internal/discovery/ledger"
	"github.com/nerrad567/gray-logic-discovery/internal/discovery/udp"
)

// Engine defaults.
const (
	// DefaultStalenessThreshold is how long a device may stay silent before
	// it is pruned and reported as vanished.
	DefaultStalenessThreshold = 60 * time.Second

	// DefaultScanDuration is the length of an active scan window.
	DefaultScanDuration = 30 * time.Second

	// DefaultQueueSize is the buffer size of the dispatcher and of each
	// listener queue.
	DefaultQueueSize = 64

	// DefaultListenerGrace bounds how long an event waits for queue space,
	// and how long Stop waits for an in-flight callback.
	DefaultListenerGrace = 2 * time.Second
)

// State is the engine lifecycle state.
type State int32

// Engine states.
const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Logger defines the logging interface used by the engine.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Config holds engine settings.
type Config struct {
	// Socket configures the UDP channel.
	Socket udp.Options

	// StalenessThreshold is the maximum silence before a record is pruned.
	// Default: 60s
	StalenessThreshold time.Duration

	// ScanDuration is the default length of a scan window.
	// Default: 30s
	ScanDuration time.Duration

	// ProbeAddress is where scan probes are sent ("host:port"). Empty
	// disables probing; scans then only pin records.
	ProbeAddress string

	// QueueSize is the dispatcher and per-listener queue capacity.
	// Default: 64
	QueueSize int

	// ListenerGrace bounds enqueue waits and Stop's wait for callbacks.
	// Default: 2s
	ListenerGrace time.Duration

	// Now returns the current time. Default: time.Now
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.Socket.ReceiveTimeout <= 0 {
		c.Socket.ReceiveTimeout = udp.DefaultReceiveTimeout
	}
	if c.StalenessThreshold == 0 {
		c.StalenessThreshold = DefaultStalenessThreshold
	}
	if c.ScanDuration == 0 {
		c.ScanDuration = DefaultScanDuration
	}
	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.ListenerGrace == 0 {
		c.ListenerGrace = DefaultListenerGrace
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

func (c *Config) validate() error {
	switch {
	case c.StalenessThreshold < 0:
		return fmt.Errorf("%w: staleness threshold must be positive", ErrInvalidConfig)
	case c.ScanDuration < 0:
		return fmt.Errorf("%w: scan duration must be positive", ErrInvalidConfig)
	case c.QueueSize < 0:
		return fmt.Errorf("%w: queue size must be positive", ErrInvalidConfig)
	case c.ListenerGrace < 0:
		return fmt.Errorf("%w: listener grace must be positive", ErrInvalidConfig)
	case c.Socket.Port < 0 || c.Socket.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Socket.Port)
	}
	return nil
}

// Stats holds engine counters.
type Stats struct {
	State State

	FramesDecoded  uint64
	Discovered     uint64
	Vanished       uint64
	Duplicates     uint64
	KnownSkipped   uint64
	Leaves         uint64
	EventsDropped  uint64
	ListenerPanics uint64
	ResultErrors   uint64
	ScansStarted   uint64

	DecodeMalformed    uint64
	DecodeUnrecognized uint64
	DecodeChecksum     uint64

	Listeners   int
	LedgerSize  int
	ActiveScans int

	Socket udp.Stats
}

// DecodeErrors returns the total number of rejected frames.
func (s Stats) DecodeErrors() uint64 {
	return s.DecodeMalformed + s.DecodeUnrecognized + s.DecodeChecksum
}

// Engine runs device discovery over one UDP socket.
type Engine struct {
	cfg      Config
	codec    codec.Codec
	registry RegistryView

	builderMu sync.RWMutex
	builder   ResultBuilder

	state  atomic.Int32
	handle atomic.Pointer[Handle]

	// listenersMu serialises listener writers and lifecycle transitions
	// that start or stop workers. Readers use the atomic snapshot.
	listenersMu    sync.Mutex
	listeners      atomic.Pointer[[]*subscription]
	nextListenerID ListenerID

	logger   Logger
	loggerMu sync.RWMutex

	framesDecoded      atomic.Uint64
	discovered         atomic.Uint64
	vanished           atomic.Uint64
	duplicates         atomic.Uint64
	knownSkipped       atomic.Uint64
	leaves             atomic.Uint64
	eventsDropped      atomic.Uint64
	listenerPanics     atomic.Uint64
	resultErrors       atomic.Uint64
	scansStarted       atomic.Uint64
	decodeMalformed    atomic.Uint64
	decodeUnrecognized atomic.Uint64
	decodeChecksum     atomic.Uint64
}

// New creates an idle engine.
//
// Parameters:
//   - cfg: engine settings (zero values select defaults)
//   - c: codec for the protocol family carried on the socket
//   - registry: known-device lookup; nil treats every identity as unknown
func New(cfg Config, c codec.Codec, registry RegistryView) (*Engine, error) {
	if c == nil {
		return nil, ErrNilCodec
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		codec:    c,
		registry: registry,
	}
	e.listeners.Store(&[]*subscription{})
	return e, nil
}

// SetLogger sets the logger for the engine and its socket.
func (e *Engine) SetLogger(logger Logger) {
	e.loggerMu.Lock()
	defer e.loggerMu.Unlock()
	e.logger = logger
}

// SetResultBuilder sets the builder called for each discovered device.
func (e *Engine) SetResultBuilder(b ResultBuilder) {
	e.builderMu.Lock()
	defer e.builderMu.Unlock()
	e.builder = b
}

// Protocol returns the codec name.
func (e *Engine) Protocol() string {
	return e.codec.Name()
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Start opens the socket and launches the receive loop.
//
// Cancelling ctx stops the returned handle. A bind failure is returned as
// an error matching udp.ErrBind and leaves the engine idle.
func (e *Engine) Start(ctx context.Context) (*Handle, error) {
	if err := e.checkStartable(); err != nil {
		return nil, err
	}

	ch, err := udp.Open(e.cfg.Socket)
	if err != nil {
		return nil, err
	}
	ch.SetLogger(e.getLogger())

	h := newHandle(e, ch)

	e.listenersMu.Lock()
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		e.listenersMu.Unlock()
		ch.Close()
		return nil, e.checkStartable()
	}
	e.handle.Store(h)
	for _, s := range e.snapshot() {
		s.start(e)
	}
	e.listenersMu.Unlock()

	h.run()
	if ctx != nil {
		h.watch(ctx)
	}

	e.logInfo("discovery engine started",
		"protocol", e.codec.Name(),
		"address", addrString(ch),
		"receive_timeout", e.cfg.Socket.ReceiveTimeout.String(),
		"staleness_threshold", e.cfg.StalenessThreshold.String(),
	)
	return h, nil
}

func (e *Engine) checkStartable() error {
	switch e.State() {
	case StateIdle:
		return nil
	case StateStopped:
		return ErrEngineStopped
	default:
		return ErrAlreadyStarted
	}
}

// AddListener registers fn and returns its id. It is safe to call from any
// goroutine, including from inside a listener callback.
func (e *Engine) AddListener(fn Listener) ListenerID {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()

	e.nextListenerID++
	s := newSubscription(e.nextListenerID, fn, e.cfg.QueueSize)

	next := append(slices.Clone(e.snapshot()), s)
	e.listeners.Store(&next)

	if e.State() == StateRunning {
		s.start(e)
	}
	return s.id
}

// RemoveListener unregisters a listener. A callback already in progress
// finishes; no further events are delivered to it. It reports whether id
// was registered.
func (e *Engine) RemoveListener(id ListenerID) bool {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()

	cur := e.snapshot()
	idx := slices.IndexFunc(cur, func(s *subscription) bool { return s.id == id })
	if idx < 0 {
		return false
	}

	removed := cur[idx]
	next := slices.Delete(slices.Clone(cur), idx, idx+1)
	e.listeners.Store(&next)
	removed.stop()
	return true
}

func (e *Engine) snapshot() []*subscription {
	return *e.listeners.Load()
}

// Scan opens a scan window on the running engine. See Handle.Scan.
func (e *Engine) Scan(d time.Duration) (uint64, error) {
	h := e.handle.Load()
	if h == nil || e.State() != StateRunning {
		return 0, ErrNotRunning
	}
	return h.Scan(d)
}

// Records returns a snapshot of the running engine's ledger.
func (e *Engine) Records() []ledger.Record {
	h := e.handle.Load()
	if h == nil {
		return nil
	}
	return h.ledger.Snapshot()
}

// HealthCheck reports whether the engine is running on a connected socket.
func (e *Engine) HealthCheck(context.Context) error {
	if s := e.State(); s != StateRunning {
		return fmt.Errorf("%w: state %s", ErrNotRunning, s)
	}
	h := e.handle.Load()
	if h == nil {
		return ErrNotRunning
	}
	if s := h.channel.State(); s != udp.StateConnected {
		return fmt.Errorf("discovery: socket %s", s)
	}
	return nil
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	s := Stats{
		State:              e.State(),
		FramesDecoded:      e.framesDecoded.Load(),
		Discovered:         e.discovered.Load(),
		Vanished:           e.vanished.Load(),
		Duplicates:         e.duplicates.Load(),
		KnownSkipped:       e.knownSkipped.Load(),
		Leaves:             e.leaves.Load(),
		EventsDropped:      e.eventsDropped.Load(),
		ListenerPanics:     e.listenerPanics.Load(),
		ResultErrors:       e.resultErrors.Load(),
		ScansStarted:       e.scansStarted.Load(),
		DecodeMalformed:    e.decodeMalformed.Load(),
		DecodeUnrecognized: e.decodeUnrecognized.Load(),
		DecodeChecksum:     e.decodeChecksum.Load(),
		Listeners:          len(e.snapshot()),
	}
	if h := e.handle.Load(); h != nil {
		s.LedgerSize = h.ledger.Len()
		s.ActiveScans = h.ledger.ActiveScans()
		s.Socket = h.channel.Stats()
	}
	return s
}

func (e *Engine) countDecodeError(err error) {
	switch codec.KindOf(err) {
	case codec.KindUnrecognized:
		e.decodeUnrecognized.Add(1)
	case codec.KindChecksumMismatch:
		e.decodeChecksum.Add(1)
	default:
		e.decodeMalformed.Add(1)
	}
}

// buildResult calls the result builder, logging and counting failures.
func (e *Engine) buildResult(ev Event) any {
	e.builderMu.RLock()
	b := e.builder
	e.builderMu.RUnlock()
	if b == nil {
		return nil
	}

	result, err := b.BuildResult(Candidate{
		Identity:    ev.Identity,
		Label:       ev.Label,
		Properties:  ev.Properties,
		Protocol:    ev.Protocol,
		Source:      ev.Source,
		FirstSeenAt: ev.FirstSeenAt,
	})
	if err != nil {
		e.resultErrors.Add(1)
		e.logError("building discovery result failed", "identity", ev.Identity, "error", err)
		return nil
	}
	return result
}

func (e *Engine) getLogger() Logger {
	e.loggerMu.RLock()
	defer e.loggerMu.RUnlock()
	return e.logger
}

func (e *Engine) logDebug(msg string, keysAndValues ...any) {
	if logger := e.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (e *Engine) logInfo(msg string, keysAndValues ...any) {
	if logger := e.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (e *Engine) logWarn(msg string, keysAndValues ...any) {
	if logger := e.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (e *Engine) logError(msg string, keysAndValues ...any) {
	if logger := e.getLogger(); logger != nil {
		logger.Error(msg, keysAndValues...)
	}
}

func addrString(ch *udp.Channel) string {
	if addr := ch.LocalAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// isClosedErr reports whether err means the socket was closed on purpose.
func isClosedErr(err error) bool {
	return errors.Is(err, udp.ErrClosed)
}
