package otel

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsEndToEnd(t *testing.T) {
	ctx := context.Background()
	handler, err := InitMeterProvider(ctx, "tenexd-test")
	if err != nil {
		t.Fatal(err)
	}
	if err := InitMetrics(ctx); err != nil {
		t.Fatal(err)
	}

	RecordTransition(ctx, "chat", "execute")
	RecordToolExecution(ctx, "shell", "execute", true, 120*time.Millisecond)
	RecordReflection(ctx, "correction", 2, time.Second)
	RecordHubEvent(ctx)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	got := string(body)
	for _, want := range []string{
		"tenex_phase_transitions",
		"tenex_tool_executions",
		"tenex_reflection_runs",
		"tenex_lessons_published",
		"tenex_hub_events",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

func TestRecordersAreNilSafeBeforeInit(t *testing.T) {
	// Instruments are package globals guarded by nil checks; recording before
	// InitMetrics must not panic. (InitMetrics may already have run in this
	// process; the nil guard is still the contract under test elsewhere.)
	ctx := context.Background()
	RecordTransition(ctx, "a", "b")
	RecordToolExecution(ctx, "t", "a", false, 0)
	RecordReflection(ctx, "manual", 0, 0)
	RecordHubEvent(ctx)
}
