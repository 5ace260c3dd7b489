package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-discovery/internal/infrastructure/mqtt"
)

// maxScanDuration caps a requested scan window.
const maxScanDuration = 10 * time.Minute

// ErrInvalidScanCommand is returned for an unparseable scan command payload.
var ErrInvalidScanCommand = errors.New("notify: invalid scan command")

// Subscriber is the MQTT surface ScanCommands needs. Implemented by *mqtt.Client.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Scanner opens scan windows. Implemented by *discovery.Engine.
type Scanner interface {
	Scan(d time.Duration) (uint64, error)
}

// ScanCommand is the payload accepted on the scan command topic. An empty
// payload or zero duration selects the engine's configured window.
type ScanCommand struct {
	Duration string `json:"duration,omitempty"`
}

// ParseScanCommand decodes a scan command and returns the requested window.
func ParseScanCommand(payload []byte) (time.Duration, error) {
	if len(payload) == 0 {
		return 0, nil
	}
	var cmd ScanCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidScanCommand, err)
	}
	if cmd.Duration == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(cmd.Duration)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidScanCommand, err)
	}
	if d < 0 || d > maxScanDuration {
		return 0, fmt.Errorf("%w: duration %s outside 0..%s", ErrInvalidScanCommand, d, maxScanDuration)
	}
	return d, nil
}

// ScanCommands turns MQTT scan commands into engine scan windows.
type ScanCommands struct {
	sub     Subscriber
	scanner Scanner
	qos     byte
	logger  Logger
}

// NewScanCommands creates the subscriber. Call Start once MQTT is connected.
func NewScanCommands(sub Subscriber, scanner Scanner, qos byte, logger Logger) *ScanCommands {
	return &ScanCommands{sub: sub, scanner: scanner, qos: qos, logger: orNoop(logger)}
}

// Start subscribes to the scan command topic.
func (s *ScanCommands) Start() error {
	if err := s.sub.Subscribe(mqtt.Topics{}.DiscoveryScanCommand(), s.qos, s.handle); err != nil {
		return fmt.Errorf("subscribing to scan commands: %w", err)
	}
	return nil
}

// Stop unsubscribes from the scan command topic.
func (s *ScanCommands) Stop() error {
	return s.sub.Unsubscribe(mqtt.Topics{}.DiscoveryScanCommand())
}

func (s *ScanCommands) handle(_ string, payload []byte) error {
	d, err := ParseScanCommand(payload)
	if err != nil {
		return err
	}
	id, err := s.scanner.Scan(d)
	if err != nil {
		return fmt.Errorf("starting scan: %w", err)
	}
	s.logger.Info("scan requested over mqtt", "scan", id, "duration", d.String())
	return nil
}
