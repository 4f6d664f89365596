package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordCommandRun(t *testing.T) {
	commandRunsTotal.Reset()
	commandDuration.Reset()

	RecordCommandRun("uptime", "success", 0.2)
	RecordCommandRun("uptime", "success", 0.4)
	RecordCommandRun("uptime", "failed", 1.0)

	if got := testutil.ToFloat64(commandRunsTotal.WithLabelValues("uptime", "success")); got != 2 {
		t.Errorf("expected 2 successful runs, got %v", got)
	}
	if got := testutil.ToFloat64(commandRunsTotal.WithLabelValues("uptime", "failed")); got != 1 {
		t.Errorf("expected 1 failed run, got %v", got)
	}
	if n := testutil.CollectAndCount(commandDuration); n != 1 {
		t.Errorf("expected 1 duration series, got %d", n)
	}
}

func TestRecordPlanRun(t *testing.T) {
	planRunsTotal.Reset()
	RecordPlanRun("deploy", "refused", 0)
	if got := testutil.ToFloat64(planRunsTotal.WithLabelValues("deploy", "refused")); got != 1 {
		t.Errorf("expected 1 refused plan run, got %v", got)
	}
}

func TestRefusalsAndSecretMisses(t *testing.T) {
	concurrencyRefusals.Reset()
	secretMisses.Reset()

	RecordConcurrencyRefusal("command")
	RecordConcurrencyRefusal("plan")
	RecordConcurrencyRefusal("plan")
	RecordSecretMiss("secret")

	if got := testutil.ToFloat64(concurrencyRefusals.WithLabelValues("plan")); got != 2 {
		t.Errorf("expected 2 plan refusals, got %v", got)
	}
	if got := testutil.ToFloat64(secretMisses.WithLabelValues("secret")); got != 1 {
		t.Errorf("expected 1 secret miss, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordCommandRun("handler_check", "success", 0.1)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "flightplan_command_runs_total") {
		t.Errorf("metrics output missing command counter")
	}
}
