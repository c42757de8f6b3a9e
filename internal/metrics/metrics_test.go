package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetricFamily はレジストリから指定名のメトリクスファミリーを取り出す。
func findMetricFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// labelledCounter はラベル値が一致するカウンタの値を返す。
func labelledCounter(mf *dto.MetricFamily, label, value string) float64 {
	for _, m := range mf.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label && lp.GetValue() == value {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func TestRecordSessionIssued_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSessionIssued()
	c.RecordSessionIssued()

	mf := findMetricFamily(t, reg, "gatekeeper_sessions_issued_total")
	if val := mf.GetMetric()[0].GetCounter().GetValue(); val != 2 {
		t.Errorf("sessions_issued_total = %v, want 2", val)
	}
}

func TestRecordSessionRevoked_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSessionRevoked()

	mf := findMetricFamily(t, reg, "gatekeeper_sessions_revoked_total")
	if val := mf.GetMetric()[0].GetCounter().GetValue(); val != 1 {
		t.Errorf("sessions_revoked_total = %v, want 1", val)
	}
}

func TestLabelledCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordLogin("success")
	c.RecordLogin("success")
	c.RecordLogin("exchange_failed")
	c.RecordSessionValidation("revoked")
	c.RecordAuthzDecision("forbidden")
	c.RecordSweepRemoved("sessions", 3)
	c.RecordSweepRemoved("revocations", 0)
	c.RecordHTTPStatus(401)

	tests := []struct {
		metric, label, value string
		want                 float64
	}{
		{"gatekeeper_logins_total", "result", "success", 2},
		{"gatekeeper_logins_total", "result", "exchange_failed", 1},
		{"gatekeeper_session_validations_total", "result", "revoked", 1},
		{"gatekeeper_authz_decisions_total", "outcome", "forbidden", 1},
		{"gatekeeper_sweep_removed_total", "kind", "sessions", 3},
		{"gatekeeper_sweep_removed_total", "kind", "revocations", 0},
		{"gatekeeper_http_requests_total", "status_code", "401", 1},
	}

	for _, tt := range tests {
		t.Run(tt.metric+"/"+tt.value, func(t *testing.T) {
			mf := findMetricFamily(t, reg, tt.metric)
			if got := labelledCounter(mf, tt.label, tt.value); got != tt.want {
				t.Errorf("%s{%s=%q} = %v, want %v", tt.metric, tt.label, tt.value, got, tt.want)
			}
		})
	}
}

func TestRecordIdentityExchangeLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordIdentityExchangeLatency(250 * time.Millisecond)

	mf := findMetricFamily(t, reg, "gatekeeper_identity_exchange_seconds")
	h := mf.GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 1 {
		t.Errorf("sample count = %d, want 1", h.GetSampleCount())
	}
	if h.GetSampleSum() != 0.25 {
		t.Errorf("sample sum = %v, want 0.25", h.GetSampleSum())
	}
}

// TestNewCollector_DoubleRegistration_Panics は同一レジストリへの二重登録でpanicすることを検証する。
func TestNewCollector_DoubleRegistration_Panics(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewCollector(reg)

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic on double registration")
		}
	}()
	_ = NewCollector(reg)
}
