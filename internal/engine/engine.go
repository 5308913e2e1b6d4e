// Package engine runs the per-conversation turn loop: inbound event in,
// history append, completion, tool execution, outbound publish, reflection.
// One worker goroutine serves each conversation id, which is what makes the
// conversation manager's single-writer assumption hold.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pablof7z/tenex-sub009/internal/conversation"
	"github.com/pablof7z/tenex-sub009/internal/llm"
	"github.com/pablof7z/tenex-sub009/internal/phase"
	"github.com/pablof7z/tenex-sub009/internal/reflection"
	"github.com/pablof7z/tenex-sub009/internal/store"
	"github.com/pablof7z/tenex-sub009/internal/tools"
	"github.com/pablof7z/tenex-sub009/internal/transport"
)

// workerQueueSize bounds each conversation's pending inbound events.
const workerQueueSize = 64

// ErrClosed is returned by Dispatch after Close has begun.
var ErrClosed = errors.New("engine closed")

// Engine wires the conversation manager, tool execution, completion client,
// reflection system, and outbound transport into a turn loop.
type Engine struct {
	Manager    *conversation.Manager
	Tools      *tools.ExecutionManager
	Completer  llm.Client
	Reflection *reflection.System
	Publisher  transport.Publisher
	// Agents is the currently known roster handed to reflection.
	Agents []reflection.Agent
	// Identity is the author stamped on outbound response events.
	Identity string

	mu      sync.Mutex
	workers map[string]chan store.Event
	closed  bool
	wg      sync.WaitGroup

	// ctx outlives any single Dispatch call: workers process turns
	// asynchronously, so they must not inherit a request-scoped context.
	ctx    context.Context
	cancel context.CancelFunc
}

// New returns an engine ready to dispatch events.
func New(mgr *conversation.Manager, tm *tools.ExecutionManager, completer llm.Client, refl *reflection.System, pub transport.Publisher) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		Manager:    mgr,
		Tools:      tm,
		Completer:  completer,
		Reflection: refl,
		Publisher:  pub,
		Identity:   "tenex",
		workers:    make(map[string]chan store.Event),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Dispatch routes an inbound event to its conversation's worker, starting one
// if needed. Events for one conversation are handled strictly in order; the
// caller returns immediately. A full per-conversation queue or a closing
// engine is an error, never a blocked caller.
func (e *Engine) Dispatch(ctx context.Context, ev store.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	convoID := ev.TagValue("conversation")
	if convoID == "" {
		convoID = ev.ID
	}
	if convoID == "" {
		return fmt.Errorf("inbound event has no id and no conversation tag")
	}

	// The send happens under the same lock Close holds while closing worker
	// channels, so a racing Close can never close a channel between lookup
	// and send.
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	ch, ok := e.workers[convoID]
	if !ok {
		ch = make(chan store.Event, workerQueueSize)
		e.workers[convoID] = ch
		e.wg.Add(1)
		go e.run(e.ctx, convoID, ch)
	}
	select {
	case ch <- ev:
		return nil
	default:
		return fmt.Errorf("conversation %s: event queue full", convoID)
	}
}

// Close stops accepting events, waits for queued turns to drain, then cancels
// the engine context. Safe to call more than once.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for id, ch := range e.workers {
		close(ch)
		delete(e.workers, id)
	}
	e.mu.Unlock()
	e.wg.Wait()
	e.cancel()
}

func (e *Engine) run(ctx context.Context, convoID string, ch chan store.Event) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := e.handle(ctx, convoID, ev); err != nil {
				slog.Error("turn failed", "conversation", convoID, "event", ev.ID, "err", err)
			}
		}
	}
}

// handle runs one full turn for one inbound event.
func (e *Engine) handle(ctx context.Context, convoID string, ev store.Event) error {
	c, err := e.Manager.Get(ctx, convoID)
	if err != nil {
		if convoID != ev.ID {
			return fmt.Errorf("event references unknown conversation %s: %w", convoID, err)
		}
		c, err = e.Manager.Create(ctx, ev)
		if err != nil {
			return err
		}
	} else {
		if err := e.Manager.AddEvent(ctx, convoID, ev); err != nil {
			return err
		}
	}

	// An explicit phase tag on the event is a transition request from the
	// sending agent. An illegal request stops the turn and is reported back.
	if target := ev.TagValue("phase"); target != "" {
		err := e.Manager.UpdatePhase(ctx, c.ID, phase.Phase(target), ev.Content, ev.Author, ev.TagValue("reason"))
		if err != nil {
			e.respond(ctx, c.ID, fmt.Sprintf("Cannot enter phase %q: %v", target, err))
			return err
		}
	}

	// Reflection is best-effort and must not block the turn on failure.
	if e.Reflection != nil {
		if trigger := e.Reflection.CheckForReflection(ctx, ev, c); trigger != nil {
			if _, err := e.Reflection.Orchestrate(ctx, *trigger, e.Agents); err != nil {
				slog.Warn("reflection orchestration failed", "conversation", c.ID, "err", err)
			}
		}
	}

	if e.Completer == nil {
		return nil
	}
	response, err := e.Completer.Complete(ctx, llm.Request{
		System: systemPrompt(c),
		User:   transcript(c),
	})
	if err != nil {
		return fmt.Errorf("completion: %w", err)
	}

	// Tool invocations are live only in the working phases; elsewhere the
	// response passes through with its tags stripped but nothing executed.
	final := response
	if c.Phase == phase.Execute || c.Phase == phase.Chores {
		if err := e.Manager.OpenWorkSession(ctx, c.ID); err != nil {
			return err
		}
		processed := e.Tools.ProcessResponse(ctx, response)
		final = processed.Enhanced
		if err := e.Manager.CloseWorkSession(ctx, c.ID); err != nil {
			return err
		}
	} else if invs := e.Tools.Matcher().Detect(response); len(invs) > 0 {
		slog.Warn("tool tags ignored outside working phase", "conversation", c.ID, "phase", c.Phase, "count", len(invs))
		final = tools.CleanResponse(response, invs)
	}

	e.respond(ctx, c.ID, final)
	return nil
}

// respond appends an outbound event to history and publishes it.
func (e *Engine) respond(ctx context.Context, convoID, content string) {
	out := store.Event{
		ID:        uuid.NewString(),
		Kind:      "outbound",
		Content:   content,
		Tags:      [][]string{{"conversation", convoID}},
		Author:    e.Identity,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.Manager.AddEvent(ctx, convoID, out); err != nil {
		slog.Error("append outbound event failed", "conversation", convoID, "err", err)
		return
	}
	if e.Publisher != nil {
		if err := e.Publisher.Publish(ctx, out); err != nil {
			slog.Warn("outbound publish failed", "conversation", convoID, "err", err)
		}
	}
}

func systemPrompt(c *store.Conversation) string {
	def := phase.Definitions[c.Phase]
	var b strings.Builder
	fmt.Fprintf(&b, "You are a collaborating agent. Current phase: %s. %s Goal: %s\n", c.Phase, def.Description, def.Goal)
	fmt.Fprintf(&b, "Legal next phases: %v\n", phase.ValidTransitions(c.Phase))
	return b.String()
}

func transcript(c *store.Conversation) string {
	var b strings.Builder
	for _, ev := range c.History {
		fmt.Fprintf(&b, "[%s %s] %s\n", ev.Kind, ev.Author, ev.Content)
	}
	return b.String()
}
