package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricPrefix = "p1_logger_"

// Collector counts every handled message by the category it ended in.
type Collector struct {
	registry *prometheus.Registry

	messages      *prometheus.CounterVec
	handleLatency *prometheus.HistogramVec
	observerFails *prometheus.CounterVec
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "messages_total",
				Help: "Broker messages handled, by outcome category",
			},
			[]string{"category"},
		),
		handleLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "handle_seconds",
				Help:    "Time spent handling a single message",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"category"},
		),
		observerFails: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "observer_errors_total",
				Help: "Failures of secondary record observers",
			},
			[]string{"observer"},
		),
	}
	c.registry.MustRegister(
		c.messages,
		c.handleLatency,
		c.observerFails,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) ObserveMessage(category string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.messages.WithLabelValues(category).Inc()
	c.handleLatency.WithLabelValues(category).Observe(elapsed.Seconds())
}

func (c *Collector) ObserverFailed(observer string) {
	if c == nil {
		return
	}
	c.observerFails.WithLabelValues(observer).Inc()
}

func (c *Collector) Messages(category string) prometheus.Counter {
	return c.messages.WithLabelValues(category)
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
