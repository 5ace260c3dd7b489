package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-discovery/internal/infrastructure/config"
)

// fakeToken completes immediately with err, or never completes when hang is set.
type fakeToken struct {
	pahomqtt.Token
	err  error
	hang bool
}

func (t *fakeToken) Wait() bool                     { return !t.hang }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.hang }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakePaho records calls made by Client. Unused pahomqtt.Client methods
// panic through the nil embedded interface.
type fakePaho struct {
	pahomqtt.Client

	mu           sync.Mutex
	connected    bool
	published    []published
	handlers     map[string]pahomqtt.MessageHandler
	unsubscribed []string
	disconnected bool
	tokenErr     error
	hang         bool
}

func newFakePaho() *fakePaho {
	return &fakePaho{connected: true, handlers: make(map[string]pahomqtt.MessageHandler)}
}

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, _ := payload.([]byte)
	f.published = append(f.published, published{topic: topic, qos: qos, retained: retained, payload: b})
	return &fakeToken{err: f.tokenErr, hang: f.hang}
}

func (f *fakePaho) Subscribe(topic string, _ byte, cb pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = cb
	return &fakeToken{err: f.tokenErr, hang: f.hang}
}

func (f *fakePaho) Unsubscribe(topics ...string) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, topics...)
	return &fakeToken{err: f.tokenErr, hang: f.hang}
}

func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
	f.connected = false
}

func (f *fakePaho) deliver(topic string, payload []byte) {
	f.mu.Lock()
	cb := f.handlers[topic]
	f.mu.Unlock()
	cb(f, &fakeMessage{topic: topic, payload: payload})
}

type fakeMessage struct {
	pahomqtt.Message
	topic   string
	payload []byte
}

func (m *fakeMessage) Topic() string   { return m.topic }
func (m *fakeMessage) Payload() []byte { return m.payload }

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
	errs  []string
}

func (l *recordingLogger) Info(string, ...any) {}
func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}
func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errs = append(l.errs, msg)
	l.mu.Unlock()
}

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "graylogic-discovery-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func newTestClient(t *testing.T) (*Client, *fakePaho) {
	t.Helper()
	fake := newFakePaho()
	c := newClient(testConfig())
	c.client = fake
	c.setConnected(true)
	return c, fake
}

func TestPublishValidation(t *testing.T) {
	c, _ := newTestClient(t)

	tests := []struct {
		name    string
		topic   string
		qos     byte
		payload []byte
		wantErr error
	}{
		{"empty topic", "", 1, nil, ErrInvalidTopic},
		{"qos out of range", "a/b", 3, nil, ErrInvalidQoS},
		{"payload too large", "a/b", 1, make([]byte, maxPayloadSize+1), ErrPublishFailed},
		{"ok", "a/b", 1, []byte("x"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublishDisconnected(t *testing.T) {
	c, fake := newTestClient(t)
	fake.connected = false

	if err := c.Publish("a/b", nil, 0, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

func TestPublishBrokerFailure(t *testing.T) {
	c, fake := newTestClient(t)

	fake.tokenErr = errors.New("not authorised")
	if err := c.Publish("a/b", nil, 0, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish() error = %v, want ErrPublishFailed", err)
	}

	fake.tokenErr = nil
	fake.hang = true
	if err := c.Publish("a/b", nil, 0, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish() on timeout error = %v, want ErrPublishFailed", err)
	}
}

func TestPublishJSON(t *testing.T) {
	c, fake := newTestClient(t)

	topic := Topics{}.DiscoveryDevice("knxip", "knx:00fa12345678")
	if err := c.PublishJSON(topic, map[string]string{"label": "Router"}, true); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	if len(fake.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(fake.published))
	}
	got := fake.published[0]
	if got.topic != "graylogic/discovery/knxip/knx_00fa12345678" || !got.retained || got.qos != 1 {
		t.Errorf("published = %+v", got)
	}
	var body map[string]string
	if err := json.Unmarshal(got.payload, &body); err != nil || body["label"] != "Router" {
		t.Errorf("payload = %s, err = %v", got.payload, err)
	}

	if err := c.PublishJSON(topic, make(chan int), false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishJSON(chan) error = %v, want ErrPublishFailed", err)
	}
}

func TestClearRetained(t *testing.T) {
	c, fake := newTestClient(t)

	if err := c.ClearRetained("graylogic/discovery/x/y"); err != nil {
		t.Fatalf("ClearRetained() error = %v", err)
	}
	got := fake.published[0]
	if !got.retained || len(got.payload) != 0 {
		t.Errorf("ClearRetained published %+v, want empty retained", got)
	}
}

func TestSubscribeAndDeliver(t *testing.T) {
	c, fake := newTestClient(t)
	logger := &recordingLogger{}
	c.SetLogger(logger)

	topic := Topics{}.DiscoveryScanCommand()
	received := make(chan []byte, 1)
	err := c.Subscribe(topic, 1, func(_ string, payload []byte) error {
		received <- payload
		return errors.New("ignored")
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if c.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", c.SubscriptionCount())
	}

	fake.deliver(topic, []byte(`{"duration":"5s"}`))
	select {
	case got := <-received:
		if string(got) != `{"duration":"5s"}` {
			t.Errorf("payload = %s", got)
		}
	default:
		t.Fatal("handler not invoked")
	}
	if len(logger.warns) != 1 {
		t.Errorf("warns = %v, want handler error logged", logger.warns)
	}

	if err := c.Unsubscribe(topic); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() after unsubscribe = %d, want 0", c.SubscriptionCount())
	}
}

func TestSubscribeValidation(t *testing.T) {
	c, fake := newTestClient(t)
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 0, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Subscribe("a", 5, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad qos error = %v", err)
	}
	if err := c.Subscribe("a", 0, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe empty error = %v", err)
	}

	fake.tokenErr = errors.New("denied")
	if err := c.Subscribe("a", 0, noop); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("broker failure error = %v", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Error("failed subscription should not be tracked")
	}
}

func TestHandlerPanicRecovered(t *testing.T) {
	c, fake := newTestClient(t)
	logger := &recordingLogger{}
	c.SetLogger(logger)

	if err := c.Subscribe("t", 0, func(string, []byte) error { panic("boom") }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	fake.deliver("t", nil)

	if len(logger.errs) != 1 {
		t.Errorf("errs = %v, want panic logged", logger.errs)
	}
}

func TestReconnectRestoresSubscriptions(t *testing.T) {
	c, fake := newTestClient(t)
	noop := func(string, []byte) error { return nil }

	for _, topic := range []string{"a", "b"} {
		if err := c.Subscribe(topic, 1, noop); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}

	c.handleDisconnect(errors.New("network down"))
	if c.IsConnected() {
		t.Error("IsConnected() = true after disconnect")
	}

	fake.handlers = make(map[string]pahomqtt.MessageHandler)
	c.handleConnect()

	if !c.IsConnected() {
		t.Error("IsConnected() = false after reconnect")
	}
	if len(fake.handlers) != 2 {
		t.Errorf("restored %d subscriptions, want 2", len(fake.handlers))
	}
	last := fake.published[len(fake.published)-1]
	if last.topic != (Topics{}).DiscoveryStatus() || !last.retained {
		t.Errorf("online status = %+v", last)
	}
}

func TestCloseAndHealthCheck(t *testing.T) {
	c, fake := newTestClient(t)

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !fake.disconnected {
		t.Error("Close() did not disconnect")
	}
	var status statusPayload
	if err := json.Unmarshal(fake.published[len(fake.published)-1].payload, &status); err != nil {
		t.Fatalf("offline payload: %v", err)
	}
	if status.Status != "offline" || status.Reason != "graceful_shutdown" {
		t.Errorf("offline status = %+v", status)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v", err)
	}
}

func TestCloseNil(t *testing.T) {
	c := newClient(testConfig())
	if err := c.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

func TestConnectInvalidBroker(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for connection failure")
	}
	cfg := testConfig()
	cfg.Broker.Port = 1 // nothing listens here

	// ConnectRetry keeps paho retrying in the background, so the initial
	// connect either times out or fails outright.
	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestTopics(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"device", Topics{}.DiscoveryDevice("framed", "framed:a1b2c3d4e5f6"), "graylogic/discovery/framed/framed_a1b2c3d4e5f6"},
		{"device wildcard chars", Topics{}.DiscoveryDevice("announce", "announce:a/b+c#"), "graylogic/discovery/announce/announce_a_b_c_"},
		{"empty identity", Topics{}.DiscoveryDevice("beacon", ""), "graylogic/discovery/beacon/_"},
		{"events", Topics{}.DiscoveryEvents(), "graylogic/discovery/events"},
		{"scan", Topics{}.DiscoveryScanCommand(), "graylogic/discovery/command/scan"},
		{"status", Topics{}.DiscoveryStatus(), "graylogic/discovery/status"},
		{"health", Topics{}.DiscoveryHealth("knxip"), "graylogic/discovery/health/knxip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("topic = %q, want %q", tt.got, tt.want)
			}
		})
	}
}
