package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "upnpsdk"

// Metrics holds the SDK counters.
type Metrics struct {
	ssdpMessages      *prometheus.CounterVec
	genaNotifications *prometheus.CounterVec
	genaSubscriptions prometheus.Gauge
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New creates the SDK counters on reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		ssdpMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ssdp",
			Name:      "messages_total",
			Help:      "SSDP datagrams by direction and message type.",
		}, []string{"direction", "type"}),
		genaNotifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "gena",
			Name:      "notifications_total",
			Help:      "GENA event notifications sent, by result.",
		}, []string{"result"}),
		genaSubscriptions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "gena",
			Name:      "subscriptions",
			Help:      "Active GENA subscriptions held by devices.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served, by handler and status code.",
		}, []string{"handler", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request handling time, by handler.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"handler"}),
	}
}

// SSDPMessage counts one SSDP datagram. direction is "in" or "out"; kind is
// the message type such as "msearch", "alive", "byebye" or "reply".
func (m *Metrics) SSDPMessage(direction, kind string) {
	if m == nil {
		return
	}
	m.ssdpMessages.WithLabelValues(direction, kind).Inc()
}

// GENANotification counts one event notification. result is "ok",
// "failed" or "dropped".
func (m *Metrics) GENANotification(result string) {
	if m == nil {
		return
	}
	m.genaNotifications.WithLabelValues(result).Inc()
}

// GENASubscriptions sets the number of active device-side subscriptions.
func (m *Metrics) GENASubscriptions(n int) {
	if m == nil {
		return
	}
	m.genaSubscriptions.Set(float64(n))
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(handler string, code int, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(handler, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(handler).Observe(seconds)
}
