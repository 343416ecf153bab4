package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandler_nilMetrics(t *testing.T) {
	var m *Metrics
	m.ObservePoll("csgo", "online", time.Second)
	m.ObserveNotice("MAP", true)
	m.SetTotals(1, 1)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestHandler_exposesRegisteredMetrics(t *testing.T) {
	m := New()
	m.ObserveHTTPRequest(http.MethodGet, "/healthz", http.StatusOK, 3*time.Millisecond)
	m.ObservePoll("csgo", "offline", 2*time.Second)
	m.ObserveNotice("STATUS", false)
	m.ObserveRender("sent")
	m.SetTotals(12, 3)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	body := rr.Body.String()
	for _, want := range []string{
		`tstats_http_requests_total{method="GET",path="/healthz",status="200"} 1`,
		`tstats_polls_total{kind="csgo",outcome="offline"} 1`,
		`tstats_poll_duration_seconds_count{kind="csgo"} 1`,
		`tstats_notices_total{kind="STATUS",result="failed"} 1`,
		`tstats_board_renders_total{outcome="sent"} 1`,
		`tstats_players_online 12`,
		`tstats_tracked_servers 3`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in body=%s", want, body)
		}
	}
}
