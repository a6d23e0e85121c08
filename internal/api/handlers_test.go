// Wanderline Proximity - Proximity Alert Coordination Engine
// Copyright 2026 Wanderline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wanderline/proximity

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/wanderline/proximity/internal/debounce"
	"github.com/wanderline/proximity/internal/diagnostics"
	"github.com/wanderline/proximity/internal/settings"
)

type testEnv struct {
	router  http.Handler
	metrics *debounce.Collector
	updates *debounce.UpdateDebouncer
	geo     *debounce.GeolocateDebouncer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	registry := prometheus.NewRegistry()
	m := debounce.NewCollector(registry)
	persist := func(context.Context, string, settings.FieldUpdates) error { return nil }
	persistEnabled := func(context.Context, string, bool) error { return nil }

	updates := debounce.NewUpdateDebouncer(debounce.UpdateConfig{BaseDelay: time.Minute},
		persist, m, zerolog.Nop())
	enabled := debounce.NewEnabledDebouncer(debounce.EnabledConfig{Delay: time.Minute},
		persistEnabled, m, zerolog.Nop())
	geo := debounce.NewGeolocateDebouncer(debounce.GeolocateConfig{}, enabled, m, zerolog.Nop())
	rec := settings.NewRecoverer(settings.DefaultMaxRecoveryAttempts, zerolog.Nop())

	diag := diagnostics.New(m, rec, updates, enabled, geo, zerolog.Nop())
	handler := NewHandler(diag, zerolog.Nop())
	router := NewRouter(Config{}, handler, registry, zerolog.Nop()).Setup()

	return &testEnv{router: router, metrics: m, updates: updates, geo: geo}
}

func (e *testEnv) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v\nbody: %s", err, w.Body.String())
	}
	return body
}

func TestHealthzHealthy(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeResponse(t, w)
	data := body["data"].(map[string]any)
	if data["healthy"] != true {
		t.Errorf("healthy = %v", data["healthy"])
	}
}

func TestHealthzUnhealthyAnswers503(t *testing.T) {
	e := newTestEnv(t)
	e.metrics.TerminalFailure("updates")

	w := e.do(t, http.MethodGet, "/healthz")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestMetricsEndpointServesPrometheus(t *testing.T) {
	e := newTestEnv(t)
	e.metrics.UpdateQueued("updates")

	w := e.do(t, http.MethodGet, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "proximity_debounce_updates_total") {
		t.Error("metrics output missing debounce counter")
	}
}

func TestDebugIncludesPendingAndHistory(t *testing.T) {
	e := newTestEnv(t)
	e.updates.Debounce("u1", settings.FieldMovement, 10*time.Second)
	e.geo.Handle(debounce.Event{Type: debounce.EventGeolocate, UserID: "u1", Enabled: true})

	w := e.do(t, http.MethodGet, "/api/v1/debug")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decodeResponse(t, w)
	data := body["data"].(map[string]any)

	pending := data["pending_updates"].(map[string]any)
	if _, ok := pending["u1"]; !ok {
		t.Error("debug output missing pending update for u1")
	}
	history := data["event_history"].(map[string]any)
	if _, ok := history["geolocate"]; !ok {
		t.Error("debug output missing geolocate history")
	}
}

func TestEmergencyBrake(t *testing.T) {
	e := newTestEnv(t)
	e.updates.Debounce("u1", settings.FieldMovement, 10*time.Second)

	w := e.do(t, http.MethodPost, "/api/v1/debug/emergency-brake/u1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if e.updates.HasPending("u1") {
		t.Error("pending batch survived emergency brake")
	}
}

func TestSelfTestEndpoint(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/api/v1/debug/selftest/"+diagnostics.SelfTestValidation)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\nbody: %s", w.Code, w.Body.String())
	}
	body := decodeResponse(t, w)
	data := body["data"].(map[string]any)
	if data["passed"] != true {
		t.Errorf("self-test failed: %v", data["detail"])
	}
	if data["run_id"] == "" {
		t.Error("missing run id")
	}
}

// failingDiag reports one failing self-test run.
type failingDiag struct {
	Diagnostics
}

func (failingDiag) RunSelfTest(name string) (diagnostics.SelfTestResult, error) {
	return diagnostics.SelfTestResult{Name: name, RunID: "r1", Passed: false, Detail: "timer left behind"}, nil
}

func TestSelfTestFailedRunEnvelope(t *testing.T) {
	handler := NewHandler(failingDiag{}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/selftest/timer-leak", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("name", "timer-leak")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	w := httptest.NewRecorder()
	handler.SelfTest(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	body := decodeResponse(t, w)
	if body["status"] != "failed" {
		t.Errorf("envelope status = %q, want %q", body["status"], "failed")
	}
	data := body["data"].(map[string]any)
	if data["passed"] != false {
		t.Errorf("passed = %v, want false", data["passed"])
	}
}

func TestSelfTestUnknownName(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/api/v1/debug/selftest/nonsense")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestResetMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.metrics.UpdateQueued("updates")

	w := e.do(t, http.MethodPost, "/api/v1/debug/reset-metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := e.metrics.SnapshotCounters().UpdatesQueued; got != 0 {
		t.Errorf("updates queued = %d after reset", got)
	}
}
