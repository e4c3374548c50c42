package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "daqlink"

var stats = collectors{
	framesIn: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "frames_received_total",
		Help:      "Number of complete frames read from device connections",
	}),

	framesOut: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "frames_sent_total",
		Help:      "Number of frames written to device connections",
	}),

	parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "parse_errors_total",
		Help:      "Number of frames dropped because they could not be parsed",
	}),

	connectFailures: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "connect_failures_total",
		Help:      "Number of port scans that found no listening device",
	}),

	stalls: prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "stalls_total",
		Help:      "Number of connections dropped after the stall timeout",
	}),

	connected: prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "connected",
		Help:      "1 while the stream client is connected to a device",
	}),

	leaves: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mirror",
		Name:      "leaves_applied_total",
		Help:      "Number of values applied to the mirror",
	}, []string{
		"category",
	}),

	callbackErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mirror",
		Name:      "callback_errors_total",
		Help:      "Number of observer callbacks that failed or panicked",
	}, []string{
		"category",
	}),

	polls: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "polls_total",
		Help:      "Number of table polls",
	}, []string{
		"table",
	}),

	dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "dispatches_total",
		Help:      "Number of rows dispatched to poll callbacks",
	}, []string{
		"table",
	}),

	simClients: prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sim",
		Name:      "clients",
		Help:      "Number of clients connected to the simulated device",
	}),
}

type collectors struct {
	framesIn        prometheus.Counter
	framesOut       prometheus.Counter
	parseErrors     prometheus.Counter
	connectFailures prometheus.Counter
	stalls          prometheus.Counter
	connected       prometheus.Gauge
	leaves          *prometheus.CounterVec
	callbackErrors  *prometheus.CounterVec
	polls           *prometheus.CounterVec
	dispatches      *prometheus.CounterVec
	simClients      prometheus.Gauge
}

func init() {
	prometheus.MustRegister(stats.framesIn)
	prometheus.MustRegister(stats.framesOut)
	prometheus.MustRegister(stats.parseErrors)
	prometheus.MustRegister(stats.connectFailures)
	prometheus.MustRegister(stats.stalls)
	prometheus.MustRegister(stats.connected)
	prometheus.MustRegister(stats.leaves)
	prometheus.MustRegister(stats.callbackErrors)
	prometheus.MustRegister(stats.polls)
	prometheus.MustRegister(stats.dispatches)
	prometheus.MustRegister(stats.simClients)
}

// FrameReceived counts one inbound frame.
func FrameReceived() { stats.framesIn.Inc() }

// FrameSent counts one outbound frame.
func FrameSent() { stats.framesOut.Inc() }

// ParseError counts one dropped frame.
func ParseError() { stats.parseErrors.Inc() }

// ConnectFailed counts one failed port scan.
func ConnectFailed() { stats.connectFailures.Inc() }

// Stalled counts one stall.
func Stalled() { stats.stalls.Inc() }

// SetConnected records the stream connection state.
func SetConnected(up bool) {
	if up {
		stats.connected.Set(1)
		return
	}
	stats.connected.Set(0)
}

// LeafApplied counts one applied value in category.
func LeafApplied(category string) {
	stats.leaves.WithLabelValues(category).Inc()
}

// CallbackFailed counts one failed callback in category.
func CallbackFailed(category string) {
	stats.callbackErrors.WithLabelValues(category).Inc()
}

// Polled counts one poll of table.
func Polled(table string) {
	stats.polls.WithLabelValues(table).Inc()
}

// Dispatched counts one row of table handed to callbacks.
func Dispatched(table string) {
	stats.dispatches.WithLabelValues(table).Inc()
}

// SetSimClients records the number of simulator clients.
func SetSimClients(n int) {
	stats.simClients.Set(float64(n))
}
