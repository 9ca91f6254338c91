package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestBillingMetricsExport(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewBillingMetrics(reg)

	metrics.IncWebhookEvent("payment_intent.succeeded", "applied")
	metrics.IncPaymentOutcome("succeeded")
	metrics.IncAmountMismatch()
	metrics.ObserveProcessorCall("create_payment_intent", 120*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "billing_webhook_events_total", "event_type", "payment_intent.succeeded"); err != nil {
		t.Fatalf("fetch webhook counter: %v", err)
	} else if got != 1 {
		t.Fatalf("expected webhook counter=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "billing_payment_outcomes_total", "status", "succeeded"); err != nil {
		t.Fatalf("fetch outcome counter: %v", err)
	} else if got != 1 {
		t.Fatalf("expected outcome counter=1, got %f", got)
	}

	mismatch := findMetricFamily(mfs, "billing_amount_mismatch_total")
	if mismatch == nil || mismatch.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Fatalf("expected mismatch counter=1")
	}

	if got, err := fetchHistogramSum(mfs, "billing_processor_call_duration_seconds", "operation", "create_payment_intent"); err != nil {
		t.Fatalf("fetch histogram: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func TestNilReceiverIsSafe(t *testing.T) {
	var metrics *BillingMetrics
	metrics.IncWebhookEvent("x", "y")
	metrics.IncPaymentOutcome("x")
	metrics.IncAmountMismatch()
	metrics.ObserveProcessorCall("x", time.Second)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
