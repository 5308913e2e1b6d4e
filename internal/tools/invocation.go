// Package tools parses tool invocations embedded in free-form LLM responses
// and executes them against sandboxed shell/file executors.
package tools

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownTool is wrapped into the synthetic failed result produced when an
// invocation names a tool with no registered executor.
var ErrUnknownTool = errors.New("unknown tool")

// Params is the closed set of parameter variants carried by an Invocation.
// Executors type-switch on the concrete type, so adding a variant without
// handling it fails loudly at the executor rather than silently.
type Params interface {
	isParams()
}

// ShellParams carries a shell command line.
type ShellParams struct {
	Command string
}

// ReadParams names a file to read.
type ReadParams struct {
	Path string
}

// WriteParams carries a full file body to write at Path.
type WriteParams struct {
	Path    string
	Content string
}

// EditParams is a conservative literal-substring patch: Old must appear
// verbatim in the current file content.
type EditParams struct {
	Path string
	Old  string
	New  string
}

// WebSearchParams carries a search query.
type WebSearchParams struct {
	Query string
}

// HTTPParams describes a generic HTTP call.
type HTTPParams struct {
	Method string
	URL    string
	Body   string
}

func (ShellParams) isParams()     {}
func (ReadParams) isParams()      {}
func (WriteParams) isParams()     {}
func (EditParams) isParams()      {}
func (WebSearchParams) isParams() {}
func (HTTPParams) isParams()      {}

// Invocation is one parsed tool request. Raw is the exact substring the
// pattern matched, needed to strip the tag from the visible response; Pos is
// its byte offset in the original text. Invocations are transient — only
// their results are folded back into conversation history.
type Invocation struct {
	Tool   string
	Action string
	Params Params
	Raw    string
	Pos    int
}

// Result is the outcome of executing one invocation, order-aligned with the
// invocation list. Output is a string for shell/file tools but may be any
// JSON-renderable value for future executors.
type Result struct {
	Success    bool
	Output     any
	Error      string
	DurationMs int64
	Meta       map[string]any
}

// Executor performs the side effect for invocations of one tool name. Every
// execution path returns a Result; errors never propagate past the executor
// boundary.
type Executor interface {
	Name() string
	Execute(ctx context.Context, inv Invocation) Result
}

func failure(start time.Time, format string, args ...any) Result {
	return Result{
		Success:    false,
		Error:      fmt.Sprintf(format, args...),
		DurationMs: time.Since(start).Milliseconds(),
	}
}
