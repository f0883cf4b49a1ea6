package server

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric returns the metric of family name whose labels include all of
// want, or nil.
func findMetric(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) *dto.Metric {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue metrics
				}
			}
			return m
		}
	}
	return nil
}

func Test_Metrics_EndpointReturns200(t *testing.T) {
	t.Parallel()
	ts := newTestServerWith(Config{})

	w := ts.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Errorf("want 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("want text/plain content-type, got %q", ct)
	}
}

func Test_Metrics_SearchCounted(t *testing.T) {
	t.Parallel()
	ts := newTestServerWith(Config{})

	if w := ts.do(t, http.MethodPost, "/api/search", `{"query":"milho"}`); w.Code != http.StatusOK {
		t.Fatalf("search: got %d", w.Code)
	}

	m := findMetric(t, ts.reg, "agrofinder_search_requests_total", map[string]string{"outcome": "ok"})
	if m == nil || m.GetCounter().GetValue() != 1 {
		t.Errorf("agrofinder_search_requests_total{outcome=\"ok\"} = %v, want 1", m)
	}

	h := findMetric(t, ts.reg, "agrofinder_http_requests_total", map[string]string{
		"method": "POST", labelHandler: "POST /api/search", "code": "200",
	})
	if h == nil || h.GetCounter().GetValue() != 1 {
		t.Errorf("http request counter for POST /api/search = %v, want 1", h)
	}
}

func Test_Metrics_UnmatchedRoute(t *testing.T) {
	t.Parallel()
	ts := newTestServerWith(Config{})

	ts.do(t, http.MethodGet, "/does-not-exist", "")

	if m := findMetric(t, ts.reg, "agrofinder_http_requests_total", map[string]string{labelHandler: "unmatched", "code": "404"}); m == nil {
		t.Error("unmatched request not recorded")
	}
}

func Test_Metrics_IngestObserved(t *testing.T) {
	t.Parallel()
	ts := newTestServerWith(Config{})

	ts.metrics.observeIngest("ok", 2*time.Second, 12)
	ts.metrics.observeIngest("error", time.Second, 0)

	if m := findMetric(t, ts.reg, "agrofinder_ingest_chunks_total", nil); m == nil || m.GetCounter().GetValue() != 12 {
		t.Errorf("agrofinder_ingest_chunks_total = %v, want 12", m)
	}
	if m := findMetric(t, ts.reg, "agrofinder_ingest_requests_total", map[string]string{"outcome": "error"}); m == nil || m.GetCounter().GetValue() != 1 {
		t.Errorf("agrofinder_ingest_requests_total{outcome=\"error\"} = %v, want 1", m)
	}
}
