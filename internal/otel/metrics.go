package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce    sync.Once
	transitionsCounter metric.Int64Counter
	toolExecCounter    metric.Int64Counter
	toolExecDuration   metric.Float64Histogram
	reflectionCounter  metric.Int64Counter
	reflectionDuration metric.Float64Histogram
	lessonsPublished   metric.Int64Counter
	eventsCounter      metric.Int64Counter
)

// InitMetrics creates the meter instruments. Safe to call multiple times;
// only runs once. Call after InitMeterProvider.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		transitionsCounter, err = m.Int64Counter("tenex_phase_transitions_total", metric.WithDescription("Total conversation phase transitions"))
		if err != nil {
			return
		}
		toolExecCounter, err = m.Int64Counter("tenex_tool_executions_total", metric.WithDescription("Total tool invocations executed"))
		if err != nil {
			return
		}
		toolExecDuration, err = m.Float64Histogram("tenex_tool_execution_duration_seconds", metric.WithDescription("Tool invocation duration in seconds"))
		if err != nil {
			return
		}
		reflectionCounter, err = m.Int64Counter("tenex_reflection_runs_total", metric.WithDescription("Total reflection orchestrations"))
		if err != nil {
			return
		}
		reflectionDuration, err = m.Float64Histogram("tenex_reflection_duration_seconds", metric.WithDescription("Reflection orchestration duration in seconds"))
		if err != nil {
			return
		}
		lessonsPublished, err = m.Int64Counter("tenex_lessons_published_total", metric.WithDescription("Total lessons published to the transport"))
		if err != nil {
			return
		}
		eventsCounter, err = m.Int64Counter("tenex_hub_events_total", metric.WithDescription("Total events fanned out by the hub"))
	})
	return err
}

// RecordTransition records one successful phase transition.
func RecordTransition(ctx context.Context, from, to string) {
	if transitionsCounter == nil {
		return
	}
	transitionsCounter.Add(ctx, 1, metric.WithAttributes(AttrPhaseFrom.String(from), AttrPhaseTo.String(to)))
}

// RecordToolExecution records one tool invocation's outcome and duration.
func RecordToolExecution(ctx context.Context, tool, action string, success bool, d time.Duration) {
	if toolExecCounter == nil {
		return
	}
	attrs := metric.WithAttributes(AttrTool.String(tool), AttrAction.String(action), AttrSuccess.Bool(success))
	toolExecCounter.Add(ctx, 1, attrs)
	toolExecDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordReflection records one reflection orchestration.
func RecordReflection(ctx context.Context, trigger string, published int, d time.Duration) {
	if reflectionCounter == nil {
		return
	}
	attrs := metric.WithAttributes(AttrTrigger.String(trigger))
	reflectionCounter.Add(ctx, 1, attrs)
	reflectionDuration.Record(ctx, d.Seconds(), attrs)
	if published > 0 {
		lessonsPublished.Add(ctx, int64(published), attrs)
	}
}

// RecordHubEvent records one event published through the in-process hub.
func RecordHubEvent(ctx context.Context) {
	if eventsCounter == nil {
		return
	}
	eventsCounter.Add(ctx, 1)
}
