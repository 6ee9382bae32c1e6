package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics содержит метрики чекаута, купонов и платёжного шлюза.
type CheckoutMetrics struct {
	// Счётчики чекаута
	checkoutStarted   prometheus.Counter
	checkoutSucceeded prometheus.Counter
	checkoutFailed    *prometheus.CounterVec

	checkoutDuration prometheus.Histogram
	gatewayDuration  *prometheus.HistogramVec

	// Купоны
	couponsRedeemed prometheus.Counter
	couponsIssued   prometheus.Counter

	paymentsVerified    *prometheus.CounterVec
	notificationsFailed prometheus.Counter
	outboxEvents        prometheus.Counter

	// Gauge для чекаутов в обработке
	inFlight prometheus.Gauge
}

// NewCheckoutMetrics регистрирует метрики в DefaultRegisterer.
func NewCheckoutMetrics() *CheckoutMetrics {
	return NewCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCheckoutMetricsWithRegisterer регистрирует метрики в переданном registerer.
func NewCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		checkoutStarted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "marketplace_checkout_started_total",
			Help: "Total number of checkouts started",
		}),
		checkoutSucceeded: registerCounter(registerer, prometheus.CounterOpts{
			Name: "marketplace_checkout_succeeded_total",
			Help: "Total number of checkouts committed",
		}),
		checkoutFailed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "marketplace_checkout_failed_total",
			Help: "Total number of failed checkouts by error kind",
		}, []string{"kind"}),
		checkoutDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "marketplace_checkout_duration_seconds",
			Help:    "Duration of checkout requests in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		gatewayDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "marketplace_payment_gateway_duration_seconds",
			Help:    "Duration of payment gateway calls in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"operation", "outcome"}),
		couponsRedeemed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "marketplace_coupons_redeemed_total",
			Help: "Total number of coupons redeemed at checkout",
		}),
		couponsIssued: registerCounter(registerer, prometheus.CounterOpts{
			Name: "marketplace_coupons_issued_total",
			Help: "Total number of loyalty coupons issued",
		}),
		paymentsVerified: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "marketplace_payments_verified_total",
			Help: "Total number of payment verifications by resulting status",
		}, []string{"status"}),
		notificationsFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "marketplace_notifications_failed_total",
			Help: "Total number of coupon notifications that failed to send",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "marketplace_outbox_events_total",
			Help: "Total number of events written to the outbox",
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "marketplace_checkout_in_flight",
			Help: "Number of checkouts currently being processed",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}


// RecordCheckoutStarted увеличивает счётчик начатых чекаутов.
func (m *CheckoutMetrics) RecordCheckoutStarted() {
	m.checkoutStarted.Inc()
	m.inFlight.Inc()
}

// RecordCheckoutFinished фиксирует результат и длительность чекаута.
// kind пустой для успешного чекаута.
func (m *CheckoutMetrics) RecordCheckoutFinished(kind string, duration time.Duration) {
	m.inFlight.Dec()
	m.checkoutDuration.Observe(duration.Seconds())
	if kind == "" {
		m.checkoutSucceeded.Inc()
		return
	}
	m.checkoutFailed.WithLabelValues(kind).Inc()
}

// RecordGatewayCall записывает время обращения к платёжному шлюзу.
func (m *CheckoutMetrics) RecordGatewayCall(operation string, err error, duration time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.gatewayDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}

// RecordCouponRedeemed увеличивает счётчик применённых купонов.
func (m *CheckoutMetrics) RecordCouponRedeemed() {
	m.couponsRedeemed.Inc()
}

// RecordCouponIssued увеличивает счётчик выпущенных купонов лояльности.
func (m *CheckoutMetrics) RecordCouponIssued() {
	m.couponsIssued.Inc()
}

// RecordPaymentVerified считает проверки платежей по итоговому статусу.
func (m *CheckoutMetrics) RecordPaymentVerified(status string) {
	m.paymentsVerified.WithLabelValues(status).Inc()
}

// RecordNotificationFailed увеличивает счётчик неотправленных уведомлений.
func (m *CheckoutMetrics) RecordNotificationFailed() {
	m.notificationsFailed.Inc()
}

// RecordOutboxEvents увеличивает счётчик событий outbox на n.
func (m *CheckoutMetrics) RecordOutboxEvents(n int) {
	m.outboxEvents.Add(float64(n))
}
