package udp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/nerrad567/gray-logic-discovery/internal/discovery/codec"
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

// State is the health state of a Channel.
type State int32

// Channel states.
const (
	StateConnected State = iota
	StateDegraded
	StateClosed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Logger defines the logging interface used by the channel.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Stats holds channel counters.
type Stats struct {
	State             State
	FramesReceived    uint64
	ReceiveErrors     uint64
	Rebinds           uint64
	ReconnectFailures uint64
}

// listenFunc binds a packet socket with the given options.
type listenFunc func(ctx context.Context, opts Options) (net.PacketConn, error)

// Channel owns one UDP socket. Receive must only be called from a single
// goroutine; Send, State, Stats and Close are safe from any goroutine.
type Channel struct {
	opts   Options
	listen listenFunc

	// connMu guards conn. The handle is swapped only under this lock.
	connMu sync.Mutex
	conn   net.PacketConn
	state  atomic.Int32

	done *closeOnce
	buf  []byte

	logger   Logger
	loggerMu sync.RWMutex

	framesRx          atomic.Uint64
	receiveErrors     atomic.Uint64
	rebinds           atomic.Uint64
	reconnectFailures atomic.Uint64
}

// Open binds a UDP socket with the given options.
//
// Returns a *BindError (matching ErrBind) when the port is unavailable or
// the process lacks permission. Open does not retry.
func Open(opts Options) (*Channel, error) {
	return open(opts, listenPacket)
}

func open(opts Options, listen listenFunc) (*Channel, error) {
	opts.applyDefaults()

	c := &Channel{
		opts:   opts,
		listen: listen,
		done:   newCloseOnce(),
		buf:    make([]byte, maxDatagramSize),
	}

	conn, err := c.bind()
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.state.Store(int32(StateConnected))
	return c, nil
}

// SetLogger sets the logger for the channel.
func (c *Channel) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	defer c.loggerMu.Unlock()
	c.logger = logger
}

// State returns the current health state.
func (c *Channel) State() State {
	return State(c.state.Load())
}

// LocalAddr returns the bound address, or nil while degraded or closed.
func (c *Channel) LocalAddr() net.Addr {
	conn := c.current()
	if conn == nil {
		return nil
	}
	return conn.LocalAddr()
}

// Stats returns a snapshot of the channel counters.
func (c *Channel) Stats() Stats {
	return Stats{
		State:             c.State(),
		FramesReceived:    c.framesRx.Load(),
		ReceiveErrors:     c.receiveErrors.Load(),
		Rebinds:           c.rebinds.Load(),
		ReconnectFailures: c.reconnectFailures.Load(),
	}
}

// Receive blocks until a datagram arrives or the receive timeout elapses.
//
// Returns:
//   - codec.RawFrame: the datagram with a private copy of its payload
//   - error: ErrTimeout when nothing arrived (including while degraded),
//     ErrClosed once Close has been called
func (c *Channel) Receive() (codec.RawFrame, error) {
	if c.isClosed() {
		return codec.RawFrame{}, ErrClosed
	}
	if c.State() != StateConnected {
		return codec.RawFrame{}, c.waitTick()
	}

	conn := c.current()
	if conn == nil {
		return codec.RawFrame{}, c.waitTick()
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.opts.ReceiveTimeout)); err != nil {
		return codec.RawFrame{}, c.failure(conn, "set read deadline", err)
	}

	n, addr, err := conn.ReadFrom(c.buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			if c.isClosed() {
				return codec.RawFrame{}, ErrClosed
			}
			return codec.RawFrame{}, ErrTimeout
		}
		return codec.RawFrame{}, c.failure(conn, "read", err)
	}

	c.framesRx.Add(1)
	return codec.RawFrame{
		Payload:    bytes.Clone(c.buf[:n]),
		Source:     addrPort(addr),
		ReceivedAt: time.Now(),
	}, nil
}

// Send writes a datagram to addr ("host:port").
//
// A socket-level failure moves the channel to Degraded.
func (c *Channel) Send(payload []byte, addr string) error {
	if c.isClosed() {
		return ErrClosed
	}
	if c.State() != StateConnected {
		return ErrDegraded
	}

	raddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return fmt.Errorf("%w: resolve %s: %w", ErrSend, addr, err)
	}

	conn := c.current()
	if conn == nil {
		return ErrDegraded
	}
	if err := conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		c.degrade(conn, "set write deadline", err)
		return fmt.Errorf("%w: %w", ErrSend, err)
	}
	if _, err := conn.WriteTo(payload, raddr); err != nil {
		var netErr net.Error
		if !errors.As(err, &netErr) || !netErr.Timeout() {
			c.degrade(conn, "write", err)
		}
		return fmt.Errorf("%w: %w", ErrSend, err)
	}
	return nil
}

// HealthCheck re-binds the socket if the channel is degraded.
//
// Returns nil when connected, ErrClosed after Close, or an error wrapping
// ErrReconnect when the re-bind failed; the channel then stays degraded and
// the caller should retry on its next tick.
func (c *Channel) HealthCheck() error {
	switch c.State() {
	case StateClosed:
		return ErrClosed
	case StateConnected:
		return nil
	}
	return c.rebind()
}

// Close releases the socket. It is idempotent and unblocks a pending
// Receive, which then returns ErrClosed.
func (c *Channel) Close() error {
	c.done.Close()

	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.state.Store(int32(StateClosed))
	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("udp: close: %w", err)
	}
	c.logInfo("socket closed", "address", c.opts.address())
	return nil
}

// rebind replaces the socket handle. The old handle is released before the
// new one is bound.
func (c *Channel) rebind() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.isClosed() {
		return ErrClosed
	}

	c.closeOldConnection()

	conn, err := c.bind()
	if err != nil {
		failures := c.reconnectFailures.Add(1)
		c.logWarn("socket re-bind failed", "address", c.opts.address(), "failures", failures, "error", err)
		return fmt.Errorf("%w: %w", ErrReconnect, err)
	}

	c.conn = conn
	c.state.Store(int32(StateConnected))
	c.rebinds.Add(1)
	c.logInfo("socket re-bound", "address", c.opts.address())
	return nil
}

// closeOldConnection closes the current handle. Caller must hold connMu.
func (c *Channel) closeOldConnection() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		c.logWarn("closing old socket failed", "error", err)
	}
	c.conn = nil
}

func (c *Channel) bind() (net.PacketConn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultBindTimeout)
	defer cancel()

	conn, err := c.listen(ctx, c.opts)
	if err != nil {
		return nil, &BindError{Address: c.opts.address(), Err: err}
	}
	return conn, nil
}

// failure records a socket-level error on conn and reports it to the
// caller as a timeout tick.
func (c *Channel) failure(conn net.PacketConn, op string, err error) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.receiveErrors.Add(1)
	c.degrade(conn, op, err)
	return ErrTimeout
}

// degrade moves the channel to Degraded if conn is still the live handle.
func (c *Channel) degrade(conn net.PacketConn, op string, err error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != conn {
		return
	}
	if c.state.CompareAndSwap(int32(StateConnected), int32(StateDegraded)) {
		c.logWarn("socket degraded", "op", op, "error", err)
	}
}

// waitTick blocks for one receive timeout or until Close.
func (c *Channel) waitTick() error {
	timer := time.NewTimer(c.opts.ReceiveTimeout)
	defer timer.Stop()

	select {
	case <-c.done.Done():
		return ErrClosed
	case <-timer.C:
		return ErrTimeout
	}
}

func (c *Channel) current() net.PacketConn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

func (c *Channel) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

func (c *Channel) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()
	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (c *Channel) logWarn(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()
	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// listenPacket is the production listenFunc.
func listenPacket(ctx context.Context, opts Options) (net.PacketConn, error) {
	lc := net.ListenConfig{Control: socketControl(opts)}
	conn, err := lc.ListenPacket(ctx, "udp4", opts.address())
	if err != nil {
		return nil, err
	}

	if opts.ReadBufferSize > 0 {
		if uc, ok := conn.(*net.UDPConn); ok {
			if err := uc.SetReadBuffer(opts.ReadBufferSize); err != nil {
				conn.Close()
				return nil, fmt.Errorf("set read buffer: %w", err)
			}
		}
	}

	if opts.MulticastGroup != "" {
		if err := joinGroup(conn, opts); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

// joinGroup adds IPv4 multicast membership on the configured interface.
func joinGroup(conn net.PacketConn, opts Options) error {
	group := net.ParseIP(opts.MulticastGroup)
	if group == nil || group.To4() == nil || !group.IsMulticast() {
		return fmt.Errorf("invalid multicast group %q", opts.MulticastGroup)
	}

	var ifi *net.Interface
	if opts.Interface != "" {
		var err error
		ifi, err = net.InterfaceByName(opts.Interface)
		if err != nil {
			return fmt.Errorf("multicast interface %q: %w", opts.Interface, err)
		}
	}

	if err := ipv4.NewPacketConn(conn).JoinGroup(ifi, &net.UDPAddr{IP: group}); err != nil {
		return fmt.Errorf("join multicast group %s: %w", opts.MulticastGroup, err)
	}
	return nil
}

// addrPort converts a net.Addr to an unmapped netip.AddrPort.
func addrPort(addr net.Addr) netip.AddrPort {
	var ap netip.AddrPort
	switch a := addr.(type) {
	case *net.UDPAddr:
		ap = a.AddrPort()
	case nil:
		return netip.AddrPort{}
	default:
		parsed, err := netip.ParseAddrPort(a.String())
		if err != nil {
			return netip.AddrPort{}
		}
		ap = parsed
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
