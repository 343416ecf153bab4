package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MSWS/TSTats/internal/metrics"
	"github.com/MSWS/TSTats/internal/notify"
	"github.com/MSWS/TSTats/internal/server"
)

type fakeSource struct {
	scopesFn  func() []string
	serversFn func(scope string) []*server.Record
	subsFn    func(owner string, f notify.Filter) []notify.Subscription
}

func (f fakeSource) Scopes() []string {
	if f.scopesFn == nil {
		return nil
	}
	return f.scopesFn()
}

func (f fakeSource) Servers(scope string) []*server.Record {
	if f.serversFn == nil {
		return nil
	}
	return f.serversFn(scope)
}

func (f fakeSource) ListSubscriptions(owner string, flt notify.Filter) []notify.Subscription {
	if f.subsFn == nil {
		return nil
	}
	return f.subsFn(owner, flt)
}

func (f fakeSource) Totals() (int, int) {
	players, servers := 0, 0
	for _, scope := range f.Scopes() {
		for _, r := range f.Servers(scope) {
			players += r.OnlineCount()
			servers++
		}
	}
	return players, servers
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var v map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode body as json: %v\nbody=%s", err, rr.Body.String())
	}
	return v
}

func sampleSource() fakeSource {
	main := server.New("g1", "Main", "1.2.3.4:27015", "csgo", "100")
	main.SourceName = "Main | 24/7 Dust"
	main.Map = "de_dust2"
	main.Ping = 12
	main.MaxPlayers = 10
	main.SetPlayers([]string{"=(eG) alice", "bob"})
	off := server.New("g1", "Backup", "5.6.7.8", "", "100")
	off.MarkOffline()

	return fakeSource{
		scopesFn: func() []string { return []string{"g1"} },
		serversFn: func(scope string) []*server.Record {
			if scope != "g1" {
				return nil
			}
			return []*server.Record{main, off}
		},
	}
}

func TestHealthz(t *testing.T) {
	h := NewHandler(nil, fakeSource{}, nil)

	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
}

func TestHealthz_UsesUpstreamRequestID(t *testing.T) {
	h := NewHandler(nil, fakeSource{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("expected upstream request id to be echoed, got %q", got)
	}
}

func TestServers_List(t *testing.T) {
	h := NewHandler(nil, sampleSource(), nil)

	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/scopes/g1/servers", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); !strings.Contains(got, "application/json") {
		t.Fatalf("expected json content-type, got %q", got)
	}

	servers := decodeBody(t, rr)["servers"].([]any)
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}
	first := servers[0].(map[string]any)
	if first["name"] != "Main" || first["status"] != "online" || first["map"] != "de_dust2" {
		t.Fatalf("unexpected server %v", first)
	}
	if first["online"] != float64(2) || first["admins"] != float64(1) || first["title"] != "Main | 24/7 Dust" {
		t.Fatalf("unexpected counts %v", first)
	}
	second := servers[1].(map[string]any)
	if second["status"] != "offline" || second["map"] != server.OfflineMap {
		t.Fatalf("unexpected offline server %v", second)
	}
}

func TestServers_UnknownScopeIsEmpty(t *testing.T) {
	h := NewHandler(nil, sampleSource(), nil)

	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/scopes/nope/servers", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != `{"servers":[]}` {
		t.Fatalf("body = %s", got)
	}
}

func TestServers_GetNotFound(t *testing.T) {
	h := NewHandler(nil, sampleSource(), nil)

	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/scopes/g1/servers/Nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	errObj, ok := decodeBody(t, rr)["error"].(map[string]any)
	if !ok || errObj["code"] != "not_found" {
		t.Fatalf("expected not_found envelope, got %s", rr.Body.String())
	}
}

func TestSubscriptions_FilterAndState(t *testing.T) {
	var seen notify.Filter
	src := fakeSource{subsFn: func(owner string, f notify.Filter) []notify.Subscription {
		seen = f
		if owner != "42" {
			return nil
		}
		return []notify.Subscription{
			{Owner: "42", Scope: "g1", Server: "Main", Kind: notify.KindMap, Filter: "^de_"},
			{Owner: "42", Scope: "g1", Server: "Main", Kind: notify.KindMap, SnoozedUntil: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)},
		}
	}}
	h := NewHandler(nil, src, nil)
	h.now = func() time.Time { return time.Date(2029, 1, 1, 0, 0, 0, 0, time.UTC) }

	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/owners/42/subscriptions?server=Main&kind=map", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if seen != (notify.Filter{Server: "Main", Kind: notify.KindMap}) {
		t.Fatalf("filter = %+v", seen)
	}

	subs := decodeBody(t, rr)["subscriptions"].([]any)
	active := subs[0].(map[string]any)
	if active["filter"] != "^de_" || active["state"] != "active" || active["snoozedUntil"] != nil {
		t.Fatalf("unexpected active subscription %v", active)
	}
	if active["description"] != "You will be notified when the map changes to ^de_ on Main." {
		t.Fatalf("description = %v", active["description"])
	}
	snoozed := subs[1].(map[string]any)
	if snoozed["filter"] != nil || snoozed["state"] != "snoozed" || snoozed["snoozedUntil"] != "2030-01-01T00:00:00Z" {
		t.Fatalf("unexpected snoozed subscription %v", snoozed)
	}
}

func TestSubscriptions_BadKind(t *testing.T) {
	h := NewHandler(nil, fakeSource{}, nil)

	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/owners/42/subscriptions?kind=weather", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestSummaryAndMetrics(t *testing.T) {
	m := metrics.New()
	h := NewHandler(nil, sampleSource(), m)
	router := h.Router()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/summary", nil))
	body := decodeBody(t, rr)
	if body["players"] != float64(2) || body["servers"] != float64(2) || body["scopes"] != float64(1) {
		t.Fatalf("summary = %v", body)
	}

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/scopes/g1/servers", nil))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	want := `tstats_http_requests_total{method="GET",path="/api/v1/scopes/{scope}/servers",status="200"} 1`
	if !strings.Contains(rr.Body.String(), want) {
		t.Fatalf("expected %q in body=%s", want, rr.Body.String())
	}
}
