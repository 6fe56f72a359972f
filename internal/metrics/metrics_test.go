package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/loykin/gamewatch/internal/status"
)

func TestRegisterIdempotentAndGaugesWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	regOK.Store(false)
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	SetStatus(status.Normalize("hytale-server RUNNING pid 321, uptime 0:01:00"))
	IncStatusQuery(status.Active)
	SetUsage(12.5, 256)
	SetPlayers(2, 5)
	IncLogReadError("not_found")
	SetCacheAge("status", 1.5)

	if v := testutil.ToFloat64(serverLifecycle.WithLabelValues("active")); v != 1 {
		t.Fatalf("active gauge = %v", v)
	}
	if v := testutil.ToFloat64(serverLifecycle.WithLabelValues("inactive")); v != 0 {
		t.Fatalf("inactive gauge = %v", v)
	}
	if v := testutil.ToFloat64(serverPID); v != 321 {
		t.Fatalf("pid gauge = %v", v)
	}
	if v := testutil.ToFloat64(playersOnline); v != 2 {
		t.Fatalf("online = %v", v)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"gamewatch_server_lifecycle":      false,
		"gamewatch_server_pid":            false,
		"gamewatch_players_online":        false,
		"gamewatch_players_known":         false,
		"gamewatch_status_queries_total":  false,
		"gamewatch_log_read_errors_total": false,
		"gamewatch_cache_age_seconds":     false,
	}
	for _, mf := range mfs {
		if _, ok := wantNames[mf.GetName()]; ok {
			wantNames[mf.GetName()] = true
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
}

func TestStatusClearsPIDWhenInactive(t *testing.T) {
	regOK.Store(false)
	if err := Register(prometheus.NewRegistry()); err != nil {
		t.Fatal(err)
	}
	SetStatus(status.Normalize("hytale-server RUNNING pid 99, uptime 0:00:10"))
	SetStatus(status.Normalize("hytale-server STOPPED Jan 26 07:00 PM"))
	if v := testutil.ToFloat64(serverPID); v != 0 {
		t.Fatalf("pid gauge should reset, got %v", v)
	}
	if v := testutil.ToFloat64(serverLifecycle.WithLabelValues("inactive")); v != 1 {
		t.Fatalf("inactive gauge = %v", v)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncStatusQuery(status.Unknown)

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	s := string(b)
	if !strings.Contains(s, "gamewatch_status_queries_total") {
		t.Fatalf("metrics output missing queries_total: %s", s[:min(200, len(s))])
	}
}

func TestConcurrentUpdates(t *testing.T) {
	reg := prometheus.NewRegistry()
	regOK.Store(false)
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			IncStatusQuery(status.Active)
			SetPlayers(i, i)
			SetCacheAge("players", float64(i))
		}(i)
	}
	wg.Wait()
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestMetricsBeforeRegister(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	// No-ops before Register.
	SetStatus(status.ProcessStatus{Lifecycle: status.Unknown})
	IncStatusQuery(status.Unknown)
	SetUsage(1, 1)
	SetPlayers(1, 1)
	IncLogReadError("unreadable")
	SetCacheAge("status", 1)
}

func TestRegisterError(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	err := Register(&errorRegisterer{})
	if err == nil || err.Error() != "test registration error" {
		t.Fatalf("unexpected error: %v", err)
	}
	if regOK.Load() {
		t.Fatal("failed registration must not enable helpers")
	}
}

type errorRegisterer struct{}

func (e *errorRegisterer) Register(prometheus.Collector) error {
	return errors.New("test registration error")
}
func (e *errorRegisterer) MustRegister(...prometheus.Collector) {}
func (e *errorRegisterer) Unregister(prometheus.Collector) bool { return false }
