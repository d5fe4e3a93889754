package observer

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tmesim/internal/sim/engine"
	"tmesim/internal/sim/field"
)

func testServer(t *testing.T) (*engine.Engine, *Server) {
	t.Helper()
	cfg := engine.Config{
		ID:   "test",
		Seed: 7,
		Field: field.Params{
			BoundsUm: [2]float64{240, 240},
			Bins:     [2]int{24, 24},
		},
	}
	eng, err := engine.New(cfg, engine.DefaultPopulation(cfg, 10, 3))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return eng, NewServer(eng, log.New(io.Discard, "", 0))
}

func get(t *testing.T, s *Server, path, remoteAddr string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestBootstrapReportsRunMetadata(t *testing.T) {
	eng, s := testServer(t)

	rec := get(t, s, "/bootstrap", "127.0.0.1:50000")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var resp BootstrapResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ProtocolVersion != ProtocolVersion {
		t.Fatalf("protocol version=%d", resp.ProtocolVersion)
	}
	if resp.RunID != "test" || resp.Seed != 7 {
		t.Fatalf("run=%s seed=%d", resp.RunID, resp.Seed)
	}
	if resp.Tick != eng.CurrentTick() {
		t.Fatalf("tick=%d, engine at %d", resp.Tick, eng.CurrentTick())
	}
	if resp.FieldBins != [2]int{24, 24} {
		t.Fatalf("field bins=%v", resp.FieldBins)
	}
}

func TestBootstrapRejectsNonLoopback(t *testing.T) {
	_, s := testServer(t)
	if rec := get(t, s, "/bootstrap", "10.0.0.1:50000"); rec.Code != http.StatusForbidden {
		t.Fatalf("status=%d, want forbidden", rec.Code)
	}
}

func TestMetricsExposeTicksAndStepDurations(t *testing.T) {
	eng, s := testServer(t)
	if _, _, err := eng.StepOnce(); err != nil {
		t.Fatalf("step: %v", err)
	}
	s.ObserveStepDuration(3 * time.Millisecond)
	s.ObserveStepDuration(5 * time.Millisecond)

	rec := get(t, s, "/metrics", "127.0.0.1:50000")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "tmesim_ticks_total 1") {
		t.Fatalf("tick counter missing:\n%s", body)
	}
	if !strings.Contains(body, "tmesim_step_duration_seconds_count 2") {
		t.Fatalf("step duration histogram missing:\n%s", body)
	}
	if !strings.Contains(body, "tmesim_population{") {
		t.Fatalf("population gauge missing:\n%s", body)
	}
}
