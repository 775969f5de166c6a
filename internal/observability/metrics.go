package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// QueueMetrics exposes counters and histograms for the queue engine and its HTTP surface.
type QueueMetrics struct {
	bookings        *prometheus.CounterVec
	cancellations   *prometheus.CounterVec
	noShows         *prometheus.CounterVec
	promotions      *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	droppedEvents   *prometheus.CounterVec
	lockWait        *prometheus.HistogramVec
	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errorCount      *prometheus.CounterVec
}

// NewQueueMetrics registers metrics with reg, or the default registerer when reg is nil.
func NewQueueMetrics(reg prometheus.Registerer) *QueueMetrics {
	m := &QueueMetrics{
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "counterq",
			Subsystem: "engine",
			Name:      "bookings_total",
			Help:      "Booking attempts by priority tier and outcome",
		}, []string{"tier", "outcome"}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "counterq",
			Subsystem: "engine",
			Name:      "cancellations_total",
			Help:      "Cancellations by policy",
		}, []string{"policy"}),
		noShows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "counterq",
			Subsystem: "engine",
			Name:      "no_shows_total",
			Help:      "Appointments marked no-show",
		}, []string{"source"}),
		promotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "counterq",
			Subsystem: "engine",
			Name:      "waitlist_promotions_total",
			Help:      "Waitlist reallocation attempts by outcome",
		}, []string{"outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "counterq",
			Subsystem: "notify",
			Name:      "sends_total",
			Help:      "Outbound notifications by channel and status",
		}, []string{"channel", "status"}),
		droppedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "counterq",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped by the async dispatcher",
		}, []string{"event_type"}),
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "counterq",
			Subsystem: "engine",
			Name:      "bucket_lock_wait_seconds",
			Help:      "Time spent waiting for bucket locks",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"operation"}),
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "counterq",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "counterq",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		errorCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "counterq",
			Subsystem: "http",
			Name:      "errors_total",
			Help:      "HTTP errors by route, method and error code",
		}, []string{"route", "method", "code"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookings, m.cancellations, m.noShows, m.promotions, m.notifications,
		m.droppedEvents, m.lockWait, m.requestCount, m.requestDuration, m.errorCount)
	return m
}

func (m *QueueMetrics) ObserveBooking(tier, outcome string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(tier, outcome).Inc()
}

func (m *QueueMetrics) ObserveCancellation(policy string) {
	if m == nil {
		return
	}
	m.cancellations.WithLabelValues(policy).Inc()
}

func (m *QueueMetrics) ObserveNoShow(source string) {
	if m == nil {
		return
	}
	m.noShows.WithLabelValues(source).Inc()
}

func (m *QueueMetrics) ObservePromotion(outcome string) {
	if m == nil {
		return
	}
	m.promotions.WithLabelValues(outcome).Inc()
}

func (m *QueueMetrics) ObserveNotification(channel string, ok bool) {
	if m == nil {
		return
	}
	status := "sent"
	if !ok {
		status = "failed"
	}
	m.notifications.WithLabelValues(channel, status).Inc()
}

func (m *QueueMetrics) ObserveDroppedEvent(eventType string) {
	if m == nil {
		return
	}
	m.droppedEvents.WithLabelValues(eventType).Inc()
}

func (m *QueueMetrics) ObserveLockWait(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordRequest increments counters for requests.
func (m *QueueMetrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestCount.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *QueueMetrics) RecordError(route, method, code string) {
	if m == nil {
		return
	}
	m.errorCount.WithLabelValues(route, method, code).Inc()
}
