package udp

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// handleCounter tracks sockets created and released by fakeListen.
type handleCounter struct {
	opened atomic.Int32
	closed atomic.Int32
}

func (h *handleCounter) live() int32 {
	return h.opened.Load() - h.closed.Load()
}

// fakeConn is a net.PacketConn that never receives data. ReadFrom blocks
// until the read deadline or Close, unless readErr is set.
type fakeConn struct {
	counter *handleCounter

	mu       sync.Mutex
	deadline time.Time
	readErr  error
	writeErr error

	closeOnce sync.Once
	closeCh   chan struct{}
}

func newFakeConn(counter *handleCounter) *fakeConn {
	counter.opened.Add(1)
	return &fakeConn{counter: counter, closeCh: make(chan struct{})}
}

func (f *fakeConn) ReadFrom([]byte) (int, net.Addr, error) {
	f.mu.Lock()
	readErr := f.readErr
	wait := time.Until(f.deadline)
	f.mu.Unlock()

	if readErr != nil {
		return 0, nil, readErr
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-f.closeCh:
		return 0, nil, net.ErrClosed
	case <-timer.C:
		return 0, nil, os.ErrDeadlineExceeded
	}
}

func (f *fakeConn) WriteTo(p []byte, _ net.Addr) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return len(p), nil
}

func (f *fakeConn) Close() error {
	err := net.ErrClosed
	f.closeOnce.Do(func() {
		close(f.closeCh)
		f.counter.closed.Add(1)
		err = nil
	})
	return err
}

func (f *fakeConn) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4zero, Port: 40000}
}

func (f *fakeConn) SetDeadline(t time.Time) error { return f.SetReadDeadline(t) }

func (f *fakeConn) SetReadDeadline(t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadline = t
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) setReadErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr = err
}

// fakeListener hands out fakeConns and can be told to fail.
type fakeListener struct {
	counter handleCounter

	mu    sync.Mutex
	conns []*fakeConn
	fail  error
}

func (l *fakeListener) listen(context.Context, Options) (net.PacketConn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return nil, l.fail
	}
	conn := newFakeConn(&l.counter)
	l.conns = append(l.conns, conn)
	return conn, nil
}

func (l *fakeListener) last() *fakeConn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conns[len(l.conns)-1]
}

func (l *fakeListener) setFail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fail = err
}

func openFake(t *testing.T, timeout time.Duration) (*Channel, *fakeListener) {
	t.Helper()
	l := &fakeListener{}
	c, err := open(Options{ReceiveTimeout: timeout}, l.listen)
	if err != nil {
		t.Fatalf("open() error = %v", err)
	}
	return c, l
}

func TestCloseIsIdempotent(t *testing.T) {
	c, l := openFake(t, time.Second)

	if err := c.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v, want nil", err)
	}

	if got := l.counter.opened.Load(); got != 1 {
		t.Errorf("opened = %d, want 1", got)
	}
	if got := l.counter.live(); got != 0 {
		t.Errorf("live handles = %d, want 0", got)
	}
	if c.State() != StateClosed {
		t.Errorf("State() = %v, want closed", c.State())
	}
}

func TestReceiveTimeout(t *testing.T) {
	c, _ := openFake(t, 30*time.Millisecond)
	defer c.Close()

	start := time.Now()
	_, err := c.Receive()
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Receive() error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Receive() returned after %v, expected to wait for the timeout", elapsed)
	}
}

func TestCloseUnblocksReceive(t *testing.T) {
	c, _ := openFake(t, 5*time.Second)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Receive()
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Receive() error = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Receive() did not unblock after Close()")
	}

	if _, err := c.Receive(); !errors.Is(err, ErrClosed) {
		t.Errorf("Receive() after close error = %v, want ErrClosed", err)
	}
}

func TestDegradeAndRebind(t *testing.T) {
	c, l := openFake(t, 20*time.Millisecond)
	defer c.Close()

	first := l.last()
	first.setReadErr(errors.New("network is down"))

	if _, err := c.Receive(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Receive() error = %v, want ErrTimeout", err)
	}
	if c.State() != StateDegraded {
		t.Fatalf("State() = %v, want degraded", c.State())
	}

	if err := c.HealthCheck(); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	if c.State() != StateConnected {
		t.Errorf("State() = %v, want connected", c.State())
	}
	if got := l.counter.opened.Load(); got != 2 {
		t.Errorf("opened = %d, want 2", got)
	}
	if got := l.counter.live(); got != 1 {
		t.Errorf("live handles = %d, want 1", got)
	}
	if l.last() == first {
		t.Error("re-bind reused the old handle")
	}

	stats := c.Stats()
	if stats.Rebinds != 1 || stats.ReceiveErrors != 1 {
		t.Errorf("Stats() = %+v, want 1 rebind and 1 receive error", stats)
	}
}

func TestRebindFailureStaysDegraded(t *testing.T) {
	c, l := openFake(t, 20*time.Millisecond)
	defer c.Close()

	l.last().setReadErr(errors.New("socket reset"))
	_, _ = c.Receive()

	l.setFail(errors.New("address already in use"))
	err := c.HealthCheck()
	if !errors.Is(err, ErrReconnect) {
		t.Fatalf("HealthCheck() error = %v, want ErrReconnect", err)
	}
	if !errors.Is(err, ErrBind) {
		t.Errorf("HealthCheck() error = %v, want it to wrap ErrBind", err)
	}
	if c.State() != StateDegraded {
		t.Errorf("State() = %v, want degraded", c.State())
	}
	if got := l.counter.live(); got != 0 {
		t.Errorf("live handles = %d, want 0 after failed re-bind", got)
	}

	// Degraded receive waits a tick instead of spinning.
	start := time.Now()
	if _, err := c.Receive(); !errors.Is(err, ErrTimeout) {
		t.Errorf("Receive() error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("degraded Receive() returned after %v, want about one timeout", elapsed)
	}

	l.setFail(nil)
	if err := c.HealthCheck(); err != nil {
		t.Fatalf("HealthCheck() after recovery error = %v", err)
	}
	if got := c.Stats().ReconnectFailures; got != 1 {
		t.Errorf("ReconnectFailures = %d, want 1", got)
	}
	if got := l.counter.live(); got != 1 {
		t.Errorf("live handles = %d, want 1", got)
	}
}

func TestSendFailureDegrades(t *testing.T) {
	c, l := openFake(t, time.Second)
	defer c.Close()

	l.last().mu.Lock()
	l.last().writeErr = errors.New("no route to host")
	l.last().mu.Unlock()

	if err := c.Send([]byte("probe"), "127.0.0.1:9"); !errors.Is(err, ErrSend) {
		t.Fatalf("Send() error = %v, want ErrSend", err)
	}
	if c.State() != StateDegraded {
		t.Errorf("State() = %v, want degraded", c.State())
	}
	if err := c.Send([]byte("probe"), "127.0.0.1:9"); !errors.Is(err, ErrDegraded) {
		t.Errorf("Send() while degraded error = %v, want ErrDegraded", err)
	}
}

func TestHealthCheckAfterClose(t *testing.T) {
	c, _ := openFake(t, time.Second)
	c.Close()

	if err := c.HealthCheck(); !errors.Is(err, ErrClosed) {
		t.Errorf("HealthCheck() error = %v, want ErrClosed", err)
	}
}

func TestOpenLoopbackReceive(t *testing.T) {
	c, err := Open(Options{Address: "127.0.0.1", ReceiveTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer c.Close()

	sender, err := net.DialUDP("udp4", nil, c.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP() error = %v", err)
	}
	defer sender.Close()

	if _, err := sender.Write([]byte("hello")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	frame, err := c.Receive()
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if string(frame.Payload) != "hello" {
		t.Errorf("Payload = %q, want hello", frame.Payload)
	}
	wantPort := sender.LocalAddr().(*net.UDPAddr).Port
	if int(frame.Source.Port()) != wantPort {
		t.Errorf("Source port = %d, want %d", frame.Source.Port(), wantPort)
	}
	if frame.Source.Addr().String() != "127.0.0.1" {
		t.Errorf("Source addr = %s, want 127.0.0.1", frame.Source.Addr())
	}
	if frame.ReceivedAt.IsZero() {
		t.Error("ReceivedAt not set")
	}
}

func TestOpenLoopbackTimeoutAndClose(t *testing.T) {
	c, err := Open(Options{Address: "127.0.0.1", ReceiveTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if _, err := c.Receive(); !errors.Is(err, ErrTimeout) {
		t.Errorf("Receive() error = %v, want ErrTimeout", err)
	}

	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestOpenBindError(t *testing.T) {
	first, err := Open(Options{Address: "127.0.0.1"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer first.Close()

	port := first.LocalAddr().(*net.UDPAddr).Port
	_, err = Open(Options{Address: "127.0.0.1", Port: port})
	if !errors.Is(err, ErrBind) {
		t.Fatalf("Open() on busy port error = %v, want ErrBind", err)
	}

	var bindErr *BindError
	if !errors.As(err, &bindErr) {
		t.Fatalf("error is %T, want *BindError", err)
	}
	if bindErr.Address != net.JoinHostPort("127.0.0.1", strconv.Itoa(port)) {
		t.Errorf("Address = %q", bindErr.Address)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateConnected, "connected"},
		{StateDegraded, "degraded"},
		{StateClosed, "closed"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
