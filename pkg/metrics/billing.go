package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BillingMetrics records payment and webhook outcomes.
type BillingMetrics struct {
	webhookEvents     *prometheus.CounterVec
	paymentOutcomes   *prometheus.CounterVec
	amountMismatches  prometheus.Counter
	processorDuration *prometheus.HistogramVec
}

// NewBillingMetrics registers the billing metrics on the provided registerer.
func NewBillingMetrics(reg prometheus.Registerer) *BillingMetrics {
	if reg == nil {
		return &BillingMetrics{}
	}
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_webhook_events_total",
		Help: "Processor webhook events by type and result.",
	}, []string{"event_type", "result"})
	paymentOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_payment_outcomes_total",
		Help: "Ledger transitions into terminal payment statuses.",
	}, []string{"status"})
	amountMismatches := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "billing_amount_mismatch_total",
		Help: "Processor-reported amounts outside the accepted tolerance.",
	})
	processorDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "billing_processor_call_duration_seconds",
		Help:    "Duration of external processor calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	reg.MustRegister(webhookEvents, paymentOutcomes, amountMismatches, processorDuration)
	return &BillingMetrics{
		webhookEvents:     webhookEvents,
		paymentOutcomes:   paymentOutcomes,
		amountMismatches:  amountMismatches,
		processorDuration: processorDuration,
	}
}

// IncWebhookEvent counts a processed webhook event.
func (b *BillingMetrics) IncWebhookEvent(eventType, result string) {
	if b == nil || b.webhookEvents == nil {
		return
	}
	b.webhookEvents.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}

// IncPaymentOutcome counts a ledger transition into a terminal status.
func (b *BillingMetrics) IncPaymentOutcome(status string) {
	if b == nil || b.paymentOutcomes == nil {
		return
	}
	b.paymentOutcomes.WithLabelValues(normalizeLabel(status)).Inc()
}

// IncAmountMismatch counts an amount-integrity failure.
func (b *BillingMetrics) IncAmountMismatch() {
	if b == nil || b.amountMismatches == nil {
		return
	}
	b.amountMismatches.Inc()
}

// ObserveProcessorCall records the duration of an external processor call.
func (b *BillingMetrics) ObserveProcessorCall(operation string, duration time.Duration) {
	if b == nil || b.processorDuration == nil {
		return
	}
	b.processorDuration.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
