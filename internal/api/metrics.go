package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-discovery/internal/discovery"
	"github.com/nerrad567/gray-logic-discovery/internal/discovery/udp"
)

const metricsNamespace = "graylogic_discovery"

// metricsHandler serves /metrics from a private registry so only the
// discovery collector and runtime collectors are exposed.
type metricsHandler struct {
	handler http.Handler
}

func newMetricsHandler(d Discovery, hub *Hub) *metricsHandler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		newDiscoveryCollector(d, hub),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &metricsHandler{
		handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
}

func (m *metricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.handler.ServeHTTP(w, r)
}

// discoveryCollector reads Engine.Stats on every scrape. The engine keeps
// its own atomic counters, so nothing is mirrored into prometheus types.
type discoveryCollector struct {
	source Discovery
	hub    *Hub

	framesDecoded  *prometheus.Desc
	decodeErrors   *prometheus.Desc
	events         *prometheus.Desc
	duplicates     *prometheus.Desc
	knownSkipped   *prometheus.Desc
	leaves         *prometheus.Desc
	eventsDropped  *prometheus.Desc
	listenerPanics *prometheus.Desc
	resultErrors   *prometheus.Desc
	scansStarted   *prometheus.Desc
	framesReceived *prometheus.Desc
	receiveErrors  *prometheus.Desc
	rebinds        *prometheus.Desc
	reconnectFails *prometheus.Desc
	ledgerSize     *prometheus.Desc
	activeScans    *prometheus.Desc
	listeners      *prometheus.Desc
	wsClients      *prometheus.Desc
	wsDropped      *prometheus.Desc
	running        *prometheus.Desc
	degraded       *prometheus.Desc
}

func newDiscoveryCollector(source Discovery, hub *Hub) *discoveryCollector {
	labels := prometheus.Labels{"protocol": source.Protocol()}
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", name), help, variable, labels)
	}
	return &discoveryCollector{
		source:         source,
		hub:            hub,
		framesDecoded:  desc("frames_decoded_total", "Frames decoded into a valid message."),
		decodeErrors:   desc("decode_errors_total", "Frames rejected by the codec.", "kind"),
		events:         desc("events_total", "Discovery events emitted.", "kind"),
		duplicates:     desc("duplicates_total", "Frames for identities already in the ledger."),
		knownSkipped:   desc("known_skipped_total", "Frames for identities already known to the registry."),
		leaves:         desc("leaves_total", "Leave announcements received."),
		eventsDropped:  desc("events_dropped_total", "Events dropped because a listener queue was full."),
		listenerPanics: desc("listener_panics_total", "Listener invocations that panicked."),
		resultErrors:   desc("result_errors_total", "Result builder failures."),
		scansStarted:   desc("scans_started_total", "Scan windows opened."),
		framesReceived: desc("socket_frames_received_total", "Datagrams read from the socket."),
		receiveErrors:  desc("socket_receive_errors_total", "Non-timeout receive errors."),
		rebinds:        desc("socket_rebinds_total", "Successful socket re-binds."),
		reconnectFails: desc("socket_reconnect_failures_total", "Failed socket re-bind attempts."),
		ledgerSize:     desc("ledger_records", "Identities currently held in the ledger."),
		activeScans:    desc("active_scans", "Scan windows currently open."),
		listeners:      desc("listeners", "Registered event listeners."),
		wsClients:      desc("websocket_clients", "Connected WebSocket clients."),
		wsDropped:      desc("websocket_messages_dropped_total", "WebSocket messages dropped on a full client buffer."),
		running:        desc("running", "1 when the engine is running."),
		degraded:       desc("socket_degraded", "1 when the running engine's socket is degraded."),
	}
}

// Describe implements prometheus.Collector.
func (c *discoveryCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.framesDecoded, c.decodeErrors, c.events, c.duplicates, c.knownSkipped,
		c.leaves, c.eventsDropped, c.listenerPanics, c.resultErrors, c.scansStarted,
		c.framesReceived, c.receiveErrors, c.rebinds, c.reconnectFails,
		c.ledgerSize, c.activeScans, c.listeners, c.wsClients, c.wsDropped, c.running, c.degraded,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *discoveryCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}

	counter(c.framesDecoded, s.FramesDecoded)
	counter(c.decodeErrors, s.DecodeMalformed, "malformed")
	counter(c.decodeErrors, s.DecodeUnrecognized, "unrecognized")
	counter(c.decodeErrors, s.DecodeChecksum, "checksum")
	counter(c.events, s.Discovered, string(discovery.EventDiscovered))
	counter(c.events, s.Vanished, string(discovery.EventVanished))
	counter(c.duplicates, s.Duplicates)
	counter(c.knownSkipped, s.KnownSkipped)
	counter(c.leaves, s.Leaves)
	counter(c.eventsDropped, s.EventsDropped)
	counter(c.listenerPanics, s.ListenerPanics)
	counter(c.resultErrors, s.ResultErrors)
	counter(c.scansStarted, s.ScansStarted)
	counter(c.framesReceived, s.Socket.FramesReceived)
	counter(c.receiveErrors, s.Socket.ReceiveErrors)
	counter(c.rebinds, s.Socket.Rebinds)
	counter(c.reconnectFails, s.Socket.ReconnectFailures)
	counter(c.wsDropped, c.hub.Dropped())

	gauge(c.ledgerSize, float64(s.LedgerSize))
	gauge(c.activeScans, float64(s.ActiveScans))
	gauge(c.listeners, float64(s.Listeners))
	gauge(c.wsClients, float64(c.hub.ClientCount()))

	running := s.State == discovery.StateRunning
	gauge(c.running, boolFloat(running))
	gauge(c.degraded, boolFloat(running && s.Socket.State == udp.StateDegraded))
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
