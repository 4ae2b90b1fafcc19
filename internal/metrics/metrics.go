package metrics

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTP содержит метрики HTTP API.
type HTTP struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewHTTP регистрирует метрики HTTP в registerer (nil — глобальный).
// Повторный вызов возвращает уже зарегистрированные коллекторы.
func NewHTTP(registerer prometheus.Registerer) *HTTP {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &HTTP{
		requests: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_http_requests_total",
			Help: "Total number of HTTP requests grouped by method, route and status.",
		}, []string{"method", "route", "status"})),
		duration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketplace_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"})),
		inFlight: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketplace_http_requests_in_flight",
			Help: "Number of HTTP requests being served.",
		})),
	}
}

// Started отмечает начало запроса.
func (m *HTTP) Started() {
	m.inFlight.Inc()
}

// Finished фиксирует завершение запроса.
func (m *HTTP) Finished(method, route string, status int, elapsed time.Duration) {
	m.inFlight.Dec()
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Delivery содержит метрики доставки писем сервисом уведомлений.
type Delivery struct {
	delivered *prometheus.CounterVec
	latency   prometheus.Histogram
}

// NewDelivery регистрирует метрики доставки уведомлений.
func NewDelivery(registerer prometheus.Registerer) *Delivery {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Delivery{
		delivered: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_notifications_delivered_total",
			Help: "Total number of notifications handed to the mail service grouped by event and result.",
		}, []string{"event", "result"})),
		latency: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketplace_notification_delivery_seconds",
			Help:    "Time spent handing a notification to the mail service.",
			Buckets: prometheus.DefBuckets,
		})),
	}
}

// Record фиксирует одну попытку доставки.
func (m *Delivery) Record(event string, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.delivered.WithLabelValues(event, result).Inc()
	m.latency.Observe(elapsed.Seconds())
}

// register регистрирует коллектор; уже зарегистрированный возвращается как есть.
func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	if err := registerer.Register(collector); err != nil {
		var alreadyRegistered prometheus.AlreadyRegisteredError
		if errors.As(err, &alreadyRegistered) {
			existing, ok := alreadyRegistered.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector already registered with unexpected type %T", alreadyRegistered.ExistingCollector))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector: %v", err))
	}
	return collector
}
