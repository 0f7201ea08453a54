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

	"github.com/hitoshi/taskmanager/internal/model"
)

// findMetric はラベルが一致するメトリクスを返す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok {
			if v != lp.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(labels)
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordHTTPRequest_CountsByRouteAndStatus はルート・ステータス別にリクエスト数が記録されることを検証する。
func TestRecordHTTPRequest_CountsByRouteAndStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPRequest("GET", "/api/tasks/{id}", 200, 15*time.Millisecond)
	c.RecordHTTPRequest("GET", "/api/tasks/{id}", 200, 25*time.Millisecond)
	c.RecordHTTPRequest("GET", "/api/tasks/{id}", 404, 5*time.Millisecond)

	ok := findMetric(t, reg, "taskmanager_http_requests_total",
		map[string]string{"method": "GET", "route": "/api/tasks/{id}", "status_code": "200"})
	if v := ok.GetCounter().GetValue(); v != 2 {
		t.Errorf("200 count = %v, want 2", v)
	}
	notFound := findMetric(t, reg, "taskmanager_http_requests_total",
		map[string]string{"status_code": "404"})
	if v := notFound.GetCounter().GetValue(); v != 1 {
		t.Errorf("404 count = %v, want 1", v)
	}

	latency := findMetric(t, reg, "taskmanager_http_request_duration_seconds",
		map[string]string{"method": "GET", "route": "/api/tasks/{id}"})
	if n := latency.GetHistogram().GetSampleCount(); n != 3 {
		t.Errorf("latency sample count = %d, want 3", n)
	}
}

// TestRecordAuthEvent_IncrementsCounter は認証イベントが結果別に記録されることを検証する。
func TestRecordAuthEvent_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAuthEvent("login", "success")
	c.RecordAuthEvent("login", "failure")
	c.RecordAuthEvent("login", "failure")

	m := findMetric(t, reg, "taskmanager_auth_events_total",
		map[string]string{"event": "login", "outcome": "failure"})
	if v := m.GetCounter().GetValue(); v != 2 {
		t.Errorf("login failure count = %v, want 2", v)
	}
}

// TestSnapshotGauges はスナップショットのゲージが上書きされることを検証する。
func TestSnapshotGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SetUserCount(3)
	c.SetUserCount(5)
	c.SetTaskCounts(model.TaskCounts{Total: 10, Completed: 4, Overdue: 2})

	if v := findMetric(t, reg, "taskmanager_users", nil).GetGauge().GetValue(); v != 5 {
		t.Errorf("users = %v, want 5", v)
	}
	want := map[string]float64{"total": 10, "completed": 4, "pending": 6, "overdue": 2}
	for state, expected := range want {
		m := findMetric(t, reg, "taskmanager_tasks", map[string]string{"state": state})
		if v := m.GetGauge().GetValue(); v != expected {
			t.Errorf("tasks{state=%q} = %v, want %v", state, v, expected)
		}
	}

	c.RecordSnapshotFailure()
	if v := findMetric(t, reg, "taskmanager_snapshot_failures_total", nil).GetCounter().GetValue(); v != 1 {
		t.Errorf("snapshot failures = %v, want 1", v)
	}
}

// TestHandler_ServesPrometheusFormat はHandlerがPrometheus形式でメトリクスを返すことを検証する。
func TestHandler_ServesPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordAuthEvent("register", "success")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `taskmanager_auth_events_total{event="register",outcome="success"} 1`) {
		t.Errorf("unexpected exposition:\n%s", body)
	}
}

// TestMultipleCollectors_IndependentRegistries は別レジストリのCollectorが干渉しないことを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	NewCollector(reg2)

	c1.SetUserCount(7)

	if v := findMetric(t, reg2, "taskmanager_users", nil).GetGauge().GetValue(); v != 0 {
		t.Errorf("reg2 users = %v, want 0", v)
	}
}
