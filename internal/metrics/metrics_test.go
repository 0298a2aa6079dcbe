package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func TestExecutionsTotal_Increments(t *testing.T) {
	ExecutionsTotal.Reset()

	ExecutionsTotal.WithLabelValues("fragmented", "completed").Inc()
	ExecutionsTotal.WithLabelValues("fragmented", "completed").Inc()
	ExecutionsTotal.WithLabelValues("basic", "completed").Inc()

	m := &dto.Metric{}
	counter, err := ExecutionsTotal.GetMetricWithLabelValues("fragmented", "completed")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues failed: %v", err)
	}
	_ = counter.Write(m)

	if m.Counter.GetValue() != 2.0 {
		t.Errorf("expected counter value 2, got %f", m.Counter.GetValue())
	}
}

func TestRelayFallbacksTotal_Increments(t *testing.T) {
	before := &dto.Metric{}
	_ = RelayFallbacksTotal.Write(before)

	RelayFallbacksTotal.Inc()

	after := &dto.Metric{}
	_ = RelayFallbacksTotal.Write(after)

	if after.Counter.GetValue() != before.Counter.GetValue()+1 {
		t.Errorf("expected fallback counter to increase by 1")
	}
}

func TestStatusBucket(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{204, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{500, "5xx"},
	}
	for _, tt := range tests {
		if got := statusBucket(tt.code); got != tt.want {
			t.Errorf("statusBucket(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}
