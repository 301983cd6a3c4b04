package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounter_SameKeySameInstance(t *testing.T) {
	c := NewRegistry()
	a := c.Counter("x_total", "help", "")
	b := c.Counter("x_total", "help", "")
	a.Inc()
	b.Add(2)
	if a.Value() != 3 {
		t.Fatalf("expected 3, got %d", a.Value())
	}
}

func TestHistogram_Buckets(t *testing.T) {
	c := NewRegistry()
	h := c.Histogram("lat_seconds", "latency", "", []float64{1, 5})
	h.Observe(0.5)
	h.Observe(3)
	h.Observe(10)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`lat_seconds_bucket{le="1"} 1`,
		`lat_seconds_bucket{le="5"} 2`,
		`lat_seconds_bucket{le="+Inf"} 3`,
		"lat_seconds_sum 13.5",
		"lat_seconds_count 3",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in:\n%s", want, body)
		}
	}
}

func TestHandler_RendersLabelledCounters(t *testing.T) {
	c := NewRegistry()
	c.Counter("deliveries_total", "by status", `status="sent"`).Inc()
	c.Gauge("entries", "tracked", "").Set(4)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `deliveries_total{status="sent"} 1`) {
		t.Errorf("labelled counter missing:\n%s", body)
	}
	if !strings.Contains(body, "entries 4") {
		t.Errorf("gauge missing:\n%s", body)
	}
	if !strings.Contains(body, "companion_uptime_seconds") {
		t.Errorf("uptime missing:\n%s", body)
	}
}

func TestDelivery_StatusLabel(t *testing.T) {
	before := Delivery("dry-run").Value()
	Delivery("dry-run").Inc()
	if got := Delivery("dry-run").Value(); got != before+1 {
		t.Fatalf("expected %d, got %d", before+1, got)
	}
}

func TestWriteTo_OneHeaderPerFamily(t *testing.T) {
	r := NewRegistry()
	r.Counter("sends_total", "by status", `status="sent"`).Inc()
	r.Counter("sends_total_retries", "other family", "").Inc()
	r.Counter("sends_total", "by status", `status="error"`).Inc()
	r.Counter("sends_total", "by status", "").Inc()

	var sb strings.Builder
	if _, err := r.WriteTo(&sb); err != nil {
		t.Fatal(err)
	}
	body := sb.String()

	if n := strings.Count(body, "# TYPE sends_total counter"); n != 1 {
		t.Fatalf("expected one TYPE line for sends_total, got %d:\n%s", n, body)
	}
	block := body[strings.Index(body, "# TYPE sends_total counter"):]
	block = block[:strings.Index(block, "# HELP sends_total_retries")]
	for _, want := range []string{"sends_total 1", `sends_total{status="error"} 1`, `sends_total{status="sent"} 1`} {
		if !strings.Contains(block, want) {
			t.Errorf("series %q not grouped under its family:\n%s", want, body)
		}
	}
}
