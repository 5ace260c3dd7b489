package notify

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-discovery/internal/discovery"
	"github.com/nerrad567/gray-logic-discovery/internal/discovery/udp"
	"github.com/nerrad567/gray-logic-discovery/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-discovery/internal/infrastructure/mqtt"
)

// defaultStatsInterval is used when StatsReporterConfig.Interval is zero.
const defaultStatsInterval = 60 * time.Second

// StatsSource provides engine counters. Implemented by *discovery.Engine.
type StatsSource interface {
	Protocol() string
	Stats() discovery.Stats
	HealthCheck(ctx context.Context) error
}

// StatsSink stores counter samples. Implemented by *influxdb.Client.
type StatsSink interface {
	WriteDiscoveryStats(s influxdb.DiscoveryStats, at time.Time)
}

// HealthStatus is the overall state reported on the health topic.
type HealthStatus string

// Health statuses.
const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published retained on graylogic/discovery/health/{protocol}.
type HealthMessage struct {
	Protocol  string       `json:"protocol"`
	Status    HealthStatus `json:"status"`
	Reason    string       `json:"reason,omitempty"`
	Version   string       `json:"version,omitempty"`
	Uptime    int64        `json:"uptime_seconds"`
	Devices   int          `json:"devices_tracked"`
	Socket    string       `json:"socket"`
	Timestamp time.Time    `json:"timestamp"`
}

// StatsReporterConfig holds configuration for the stats reporter.
type StatsReporterConfig struct {
	Source StatsSource

	// Sink receives counter samples. Optional.
	Sink StatsSink

	// Publisher receives the health message. Optional.
	Publisher Publisher

	Version string

	// Interval is how often to sample.
	// Default: 60 seconds.
	Interval time.Duration

	Logger Logger
}

// StatsReporter periodically samples engine counters.
type StatsReporter struct {
	cfg       StatsReporterConfig
	startTime time.Time
	logger    Logger

	done     chan struct{}
	stopOnce sync.Once
}

// NewStatsReporter creates a reporter. Call Run to begin reporting.
func NewStatsReporter(cfg StatsReporterConfig) *StatsReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultStatsInterval
	}
	return &StatsReporter{
		cfg:       cfg,
		startTime: time.Now(),
		logger:    orNoop(cfg.Logger),
		done:      make(chan struct{}),
	}
}

// Run reports immediately and then every interval until ctx is cancelled
// or Stop is called. A final stopping health message is published on exit.
// It always returns nil so it can run under an errgroup.
func (r *StatsReporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.ReportNow(ctx)
	for {
		select {
		case <-ctx.Done():
			r.publishHealth(HealthStopping, "shutting down")
			return nil
		case <-r.done:
			r.publishHealth(HealthStopping, "shutting down")
			return nil
		case <-ticker.C:
			r.ReportNow(ctx)
		}
	}
}

// Stop ends Run. Safe to call multiple times.
func (r *StatsReporter) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

// ReportNow writes one sample and publishes the current health.
func (r *StatsReporter) ReportNow(ctx context.Context) {
	s := r.cfg.Source.Stats()
	if r.cfg.Sink != nil {
		r.cfg.Sink.WriteDiscoveryStats(ToInfluxStats(r.cfg.Source.Protocol(), s), time.Now())
	}

	status, reason := HealthHealthy, ""
	if err := r.cfg.Source.HealthCheck(ctx); err != nil {
		status, reason = HealthDegraded, err.Error()
	}
	r.publishHealth(status, reason)
}

func (r *StatsReporter) publishHealth(status HealthStatus, reason string) {
	pub := r.cfg.Publisher
	if pub == nil || !pub.IsConnected() {
		return
	}
	s := r.cfg.Source.Stats()
	msg := HealthMessage{
		Protocol:  r.cfg.Source.Protocol(),
		Status:    status,
		Reason:    reason,
		Version:   r.cfg.Version,
		Uptime:    int64(time.Since(r.startTime).Seconds()),
		Devices:   s.LedgerSize,
		Socket:    socketState(s),
		Timestamp: time.Now().UTC(),
	}
	if err := pub.PublishJSON(mqtt.Topics{}.DiscoveryHealth(msg.Protocol), msg, true); err != nil {
		r.logger.Warn("publishing discovery health failed", "error", err)
	}
}

func socketState(s discovery.Stats) string {
	if s.State != discovery.StateRunning {
		return udp.StateClosed.String()
	}
	return s.Socket.State.String()
}

// ToInfluxStats converts engine counters to an InfluxDB sample.
func ToInfluxStats(protocol string, s discovery.Stats) influxdb.DiscoveryStats {
	return influxdb.DiscoveryStats{
		Protocol:       protocol,
		FramesDecoded:  s.FramesDecoded,
		DecodeErrors:   s.DecodeErrors(),
		Discovered:     s.Discovered,
		Vanished:       s.Vanished,
		Duplicates:     s.Duplicates,
		KnownSkipped:   s.KnownSkipped,
		EventsDropped:  s.EventsDropped,
		ListenerPanics: s.ListenerPanics,
		ScansStarted:   s.ScansStarted,
		Rebinds:        s.Socket.Rebinds,
		LedgerSize:     s.LedgerSize,
		Listeners:      s.Listeners,
		Degraded:       s.State == discovery.StateRunning && s.Socket.State == udp.StateDegraded,
	}
}
