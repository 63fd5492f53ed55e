package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce             sync.Once
	connectionAttemptsTotal  *prometheus.CounterVec
	reconnectsScheduledTotal prometheus.Counter
	framesReceivedTotal      *prometheus.CounterVec
	framesDroppedTotal       *prometheus.CounterVec
	framesSentTotal          *prometheus.CounterVec
	fallbackSendsTotal       *prometheus.CounterVec
	pollsTotal               *prometheus.CounterVec
	openRooms                prometheus.Gauge
	bridgeRequestsTotal      *prometheus.CounterVec
	bridgeLatencySeconds     *prometheus.HistogramVec
)

// RegisterMetrics initialises the Prometheus collectors used by the chat engine and bridge.
func RegisterMetrics() {
	registerOnce.Do(func() {
		connectionAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_connection_attempts_total",
			Help: "Channel dial attempts grouped by outcome.",
		}, []string{"result"})

		reconnectsScheduledTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_reconnects_scheduled_total",
			Help: "Reconnects scheduled after an abnormal channel closure.",
		})

		framesReceivedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_frames_received_total",
			Help: "Inbound channel frames dispatched, by frame type.",
		}, []string{"type"})

		framesDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_frames_dropped_total",
			Help: "Inbound channel frames dropped, by reason.",
		}, []string{"reason"})

		framesSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_frames_sent_total",
			Help: "Outbound channel frames queued, by frame type.",
		}, []string{"type"})

		fallbackSendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_fallback_sends_total",
			Help: "Messages delivered through the HTTP fallback path, by outcome.",
		}, []string{"result"})

		pollsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_polls_total",
			Help: "History polls issued, by outcome.",
		}, []string{"result"})

		openRooms = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_open_rooms",
			Help: "Room subscriptions currently open.",
		})

		bridgeRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_bridge_requests_total",
			Help: "Total number of bridge API requests served.",
		}, []string{"method", "route", "status"})

		bridgeLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chat_bridge_latency_seconds",
			Help:    "Latency distribution for bridge API requests.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"method", "route"})

		prometheus.MustRegister(
			connectionAttemptsTotal,
			reconnectsScheduledTotal,
			framesReceivedTotal,
			framesDroppedTotal,
			framesSentTotal,
			fallbackSendsTotal,
			pollsTotal,
			openRooms,
			bridgeRequestsTotal,
			bridgeLatencySeconds,
		)
	})
}

// ConnectionAttempts exposes the dial attempt counter.
func ConnectionAttempts() *prometheus.CounterVec {
	RegisterMetrics()
	return connectionAttemptsTotal
}

// ReconnectsScheduled exposes the reconnect counter.
func ReconnectsScheduled() prometheus.Counter {
	RegisterMetrics()
	return reconnectsScheduledTotal
}

// FramesReceived exposes the inbound frame counter.
func FramesReceived() *prometheus.CounterVec {
	RegisterMetrics()
	return framesReceivedTotal
}

// FramesDropped exposes the dropped frame counter.
func FramesDropped() *prometheus.CounterVec {
	RegisterMetrics()
	return framesDroppedTotal
}

// FramesSent exposes the outbound frame counter.
func FramesSent() *prometheus.CounterVec {
	RegisterMetrics()
	return framesSentTotal
}

// FallbackSends exposes the fallback delivery counter.
func FallbackSends() *prometheus.CounterVec {
	RegisterMetrics()
	return fallbackSendsTotal
}

// Polls exposes the history poll counter.
func Polls() *prometheus.CounterVec {
	RegisterMetrics()
	return pollsTotal
}

// OpenRooms exposes the open room gauge.
func OpenRooms() prometheus.Gauge {
	RegisterMetrics()
	return openRooms
}

// BridgeRequests exposes the counter for bridge requests.
func BridgeRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return bridgeRequestsTotal
}

// BridgeLatency exposes the latency histogram for bridge requests.
func BridgeLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return bridgeLatencySeconds
}
