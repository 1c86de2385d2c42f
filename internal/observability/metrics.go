package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/passtrack/model"
)

// TrackingCollector bundles the Prometheus metrics of the tracking daemon.
// It satisfies the recorder interfaces of the scheduler, tracker and
// supervisor. All methods are safe on a nil receiver.
type TrackingCollector struct {
	gatherer prometheus.Gatherer

	Passes         *prometheus.CounterVec
	Commands       prometheus.Counter
	TickDuration   prometheus.Histogram
	TickLag        prometheus.Histogram
	TickFailures   *prometheus.CounterVec
	QueueDepthG    prometheus.Gauge
	Refreshes      *prometheus.CounterVec
	RejectedWindow *prometheus.CounterVec
	Preemptions    prometheus.Counter
}

// NewTrackingCollector registers tracking metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewTrackingCollector(reg prometheus.Registerer) (*TrackingCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	passes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "passes_total",
		Help: "Tracking sessions that ended, labeled by reason.",
	}, []string{"reason"}), "passes_total")
	if err != nil {
		return nil, err
	}
	commands, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "actuator_commands_total",
		Help: "Pointing commands accepted by the actuator.",
	}), "actuator_commands_total")
	if err != nil {
		return nil, err
	}
	tickDuration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tick_duration_seconds",
		Help:    "Time spent computing and commanding one tracking tick.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}), "tick_duration_seconds")
	if err != nil {
		return nil, err
	}
	tickLag, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tick_lag_seconds",
		Help:    "How far behind its cadence slot a tick started.",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}), "tick_lag_seconds")
	if err != nil {
		return nil, err
	}
	tickFailures, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tick_failures_total",
		Help: "Failed position or actuator attempts, labeled by source.",
	}, []string{"source"}), "tick_failures_total")
	if err != nil {
		return nil, err
	}
	depth, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pass_queue_depth",
		Help: "Pass windows currently queued by the scheduler.",
	}), "pass_queue_depth")
	if err != nil {
		return nil, err
	}
	refreshes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_refreshes_total",
		Help: "Pass catalog refreshes, labeled by result.",
	}, []string{"result"}), "catalog_refreshes_total")
	if err != nil {
		return nil, err
	}
	rejected, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rejected_windows_total",
		Help: "Pass windows rejected as invalid, labeled by object.",
	}, []string{"object"}), "rejected_windows_total")
	if err != nil {
		return nil, err
	}
	preemptions, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "preemptions_total",
		Help: "Passes interrupted in favour of a higher pass.",
	}), "preemptions_total")
	if err != nil {
		return nil, err
	}

	return &TrackingCollector{
		gatherer:       gatherer,
		Passes:         passes,
		Commands:       commands,
		TickDuration:   tickDuration,
		TickLag:        tickLag,
		TickFailures:   tickFailures,
		QueueDepthG:    depth,
		Refreshes:      refreshes,
		RejectedWindow: rejected,
		Preemptions:    preemptions,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *TrackingCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *TrackingCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// PassEnded counts a finished session.
func (c *TrackingCollector) PassEnded(reason model.Reason) {
	if c == nil || c.Passes == nil {
		return
	}
	c.Passes.WithLabelValues(string(reason)).Inc()
}

// CommandSent counts an accepted actuator command.
func (c *TrackingCollector) CommandSent() {
	if c == nil || c.Commands == nil {
		return
	}
	c.Commands.Inc()
}

// TickObserved records how long a tick took and how late it started.
func (c *TrackingCollector) TickObserved(duration, lag time.Duration) {
	if c == nil {
		return
	}
	if c.TickDuration != nil {
		c.TickDuration.Observe(duration.Seconds())
	}
	if c.TickLag != nil {
		if lag < 0 {
			lag = 0
		}
		c.TickLag.Observe(lag.Seconds())
	}
}

// TickFailed counts a failed attempt from source.
func (c *TrackingCollector) TickFailed(source string) {
	if c == nil || c.TickFailures == nil {
		return
	}
	c.TickFailures.WithLabelValues(source).Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
