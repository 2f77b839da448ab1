package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCollectorExposition(t *testing.T) {
	c := NewCollector("xos")
	c.RecordSession("completed", 3*time.Second)
	c.RecordSession("completed", time.Second)
	c.RecordSession("timeout", 0)
	c.RecordPass(time.Unix(1700000000, 0))
	c.SetInFlight(2)
	c.SetAccounts(5)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		`xos_session_total{outcome="completed"} 2`,
		`xos_session_total{outcome="timeout"} 1`,
		`xos_session_duration_seconds_count 2`,
		`xos_scheduler_passes_total 1`,
		`xos_scheduler_sessions_in_flight 2`,
		`xos_scheduler_accounts 5`,
		`xos_scheduler_last_pass_timestamp_seconds 1.7e+09`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in exposition:\n%s", want, out)
		}
	}
}

func TestCollectorsAreIndependent(t *testing.T) {
	a, b := NewCollector(""), NewCollector("")
	a.RecordSession("aborted", time.Second)

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if strings.Contains(rec.Body.String(), `outcome="aborted"`) {
		t.Fatalf("collectors must not share a registry")
	}
}
