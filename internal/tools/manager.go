package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pablof7z/tenex-sub009/internal/otel"
)

// shortTextThreshold decides when a single-line output still gets a code
// fence in the enhanced response.
const shortTextThreshold = 80

// Processed is the outcome of running one LLM response through the manager.
// Results is index-aligned with the detected invocation list.
type Processed struct {
	Cleaned  string
	Invoked  []Invocation
	Results  []Result
	Enhanced string
}

// ExecutionManager detects tool invocations in a response, dispatches each to
// its executor, and rewrites the response with the results appended.
type ExecutionManager struct {
	matcher   *Matcher
	executors map[string]Executor
}

// NewExecutionManager builds a manager with the default matcher and the given
// executors registered by name.
func NewExecutionManager(executors ...Executor) *ExecutionManager {
	m := &ExecutionManager{
		matcher:   NewMatcher(),
		executors: make(map[string]Executor, len(executors)),
	}
	for _, ex := range executors {
		m.executors[ex.Name()] = ex
	}
	return m
}

// Matcher exposes the tag matcher so callers can register extra entries.
func (m *ExecutionManager) Matcher() *Matcher { return m.matcher }

// RegisterExecutor adds or replaces the executor for a tool name.
func (m *ExecutionManager) RegisterExecutor(ex Executor) {
	m.executors[ex.Name()] = ex
}

// ProcessResponse runs the full pipeline on one response. When no invocations
// are detected the text passes through untouched. Invocations execute
// sequentially in detection order — successive file edits may depend on each
// other — and an unknown tool name yields a synthetic failed result so the
// result list stays aligned with the invocation list.
func (m *ExecutionManager) ProcessResponse(ctx context.Context, text string) Processed {
	invs := m.matcher.Detect(text)
	if len(invs) == 0 {
		return Processed{Cleaned: text, Enhanced: text}
	}

	results := make([]Result, 0, len(invs))
	for _, inv := range invs {
		start := time.Now()
		ex, ok := m.executors[inv.Tool]
		var res Result
		if !ok {
			res = failure(start, "%v: %s", ErrUnknownTool, inv.Tool)
		} else {
			res = ex.Execute(ctx, inv)
		}
		otel.RecordToolExecution(ctx, inv.Tool, inv.Action, res.Success, time.Since(start))
		slog.Info("tool invocation executed",
			"tool", inv.Tool, "action", inv.Action,
			"success", res.Success, "duration_ms", res.DurationMs)
		results = append(results, res)
	}

	cleaned := CleanResponse(text, invs)
	return Processed{
		Cleaned:  cleaned,
		Invoked:  invs,
		Results:  results,
		Enhanced: renderEnhanced(cleaned, invs, results),
	}
}

// renderEnhanced appends a results section: one heading per invocation, string
// output fenced when multi-line or long, non-string output pretty-printed as
// JSON, failures as an inline error line.
func renderEnhanced(cleaned string, invs []Invocation, results []Result) string {
	var b strings.Builder
	b.WriteString(cleaned)
	b.WriteString("\n\n## Tool Execution Results\n")
	for i, inv := range invs {
		res := results[i]
		fmt.Fprintf(&b, "\n### %s:%s\n\n", inv.Tool, inv.Action)
		if !res.Success {
			fmt.Fprintf(&b, "❌ Error: %s\n", res.Error)
			continue
		}
		switch out := res.Output.(type) {
		case string:
			if strings.Contains(out, "\n") || len(out) > shortTextThreshold {
				fmt.Fprintf(&b, "```\n%s\n```\n", strings.TrimRight(out, "\n"))
			} else {
				fmt.Fprintf(&b, "`%s`\n", out)
			}
		default:
			pretty, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				fmt.Fprintf(&b, "%v\n", out)
				continue
			}
			fmt.Fprintf(&b, "```json\n%s\n```\n", pretty)
		}
	}
	return b.String()
}
