package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCollectorRecordsDomainCounters(t *testing.T) {
	c := NewCollector()

	c.TierResolved("gold_partner", false)
	c.TierResolved("holder", true)
	c.TierResolved("holder", true)
	c.ApprovalPoll("pending")
	c.ApprovalPoll("confirmed")
	c.Transaction("stake", "success")
	c.FeedRequest("coingecko", "cached")
	c.GuardDecision("redirect")

	if v := counterValue(t, c.tierResolutions, "holder", "true"); v != 2 {
		t.Errorf("degraded holder resolutions = %v, want 2", v)
	}
	if v := counterValue(t, c.tierResolutions, "gold_partner", "false"); v != 1 {
		t.Errorf("gold partner resolutions = %v, want 1", v)
	}
	if v := counterValue(t, c.approvalPolls, "confirmed"); v != 1 {
		t.Errorf("confirmed polls = %v", v)
	}
	if v := counterValue(t, c.transactions, "stake", "success"); v != 1 {
		t.Errorf("stake transactions = %v", v)
	}
	if v := counterValue(t, c.feedRequests, "coingecko", "cached"); v != 1 {
		t.Errorf("cached feed requests = %v", v)
	}
	if v := counterValue(t, c.guardDecisions, "redirect"); v != 1 {
		t.Errorf("redirect decisions = %v", v)
	}
}

func TestCollectorGauges(t *testing.T) {
	c := NewCollector()

	c.SetActiveSessions(3)
	c.IncWSClients()
	c.IncWSClients()
	c.DecWSClients()

	if v := gaugeValue(t, c.activeSessions); v != 3 {
		t.Errorf("active sessions = %v", v)
	}
	if v := gaugeValue(t, c.wsClients); v != 1 {
		t.Errorf("ws clients = %v", v)
	}
}

func TestCollectorHandlerExposition(t *testing.T) {
	c := NewCollector()
	c.RecordHTTP("/v1/tier", 200, 15*time.Millisecond)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	out := string(body)

	for _, want := range []string{
		`kosher_http_requests_total{route="/v1/tier",status="200"} 1`,
		"kosher_http_request_duration_seconds_bucket",
		"kosher_goroutine_count",
		"kosher_uptime_seconds",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in exposition output", want)
		}
	}
}

func TestCollectorsAreIndependent(t *testing.T) {
	a := NewCollector()
	b := NewCollector()
	a.Transaction("approval", "success")

	if v := counterValue(t, b.transactions, "approval", "success"); v != 0 {
		t.Errorf("collectors share state: %v", v)
	}
}

func counterValue(t *testing.T, cv *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := cv.WithLabelValues(labels...).Write(metric); err != nil {
		t.Fatalf("failed to read counter metric: %v", err)
	}
	return metric.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := g.Write(metric); err != nil {
		t.Fatalf("failed to read gauge metric: %v", err)
	}
	return metric.GetGauge().GetValue()
}
