package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(body)
}

func TestHTTPMetricsExposed(t *testing.T) {
	ObserveHTTPRequest("verify", http.MethodPost, http.StatusInternalServerError, 150*time.Millisecond)

	body := scrape(t)
	for _, want := range []string{
		`certverify_http_requests_total{code="500",handler="verify",method="POST"}`,
		`certverify_http_request_errors_total{handler="verify",method="POST"}`,
		`certverify_http_request_duration_seconds_bucket{handler="verify",method="POST",le="0.25"}`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %s\n%s", want, body)
		}
	}
}

func TestToolMetricsExposed(t *testing.T) {
	ObserveToolInvocation("mint_certificate", "failure", time.Second)
	ObserveAgentSteps(2)

	body := scrape(t)
	if !strings.Contains(body, `certverify_tool_invocations_total{outcome="failure",tool="mint_certificate"} 1`) {
		t.Fatalf("tool counter missing:\n%s", body)
	}
	if !strings.Contains(body, "certverify_agent_steps_count") {
		t.Fatalf("agent steps histogram missing:\n%s", body)
	}
}
