// Package conversation owns the in-memory conversation object graph and
// drives its persistence. The manager is the single writer for every
// conversation it holds: callers must serialize mutations per conversation id
// (the engine runs one worker per id). Field mutations happen under the
// manager's lock so that concurrent readers can take consistent copies via
// Snapshot; read paths outside the owning worker must use Snapshot, never the
// live object from Get.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pablof7z/tenex-sub009/internal/otel"
	"github.com/pablof7z/tenex-sub009/internal/phase"
	"github.com/pablof7z/tenex-sub009/internal/store"
)

// ErrIllegalTransition is returned when the requested phase is not reachable
// from the conversation's current phase.
var ErrIllegalTransition = errors.New("illegal phase transition")

// reflectionsKey is the metadata key owned by the reflection system.
const reflectionsKey = "reflections"

// maxReflections caps the reflections metadata array; oldest evicted first.
const maxReflections = 10

const maxDefaultTitle = 60

// Notifier receives conversation lifecycle events (created, phase change,
// archived) for UI/status layers. The in-process hub satisfies this.
type Notifier interface {
	PublishJSON(v any)
}

// Manager owns in-memory conversations, enforces transition legality via the
// phase table, and persists every mutation synchronously before returning.
type Manager struct {
	st     store.Store
	events Notifier // optional

	mu           sync.RWMutex
	convos       map[string]*store.Conversation
	agents       map[string]struct{}
	sessionStart map[string]time.Time

	now func() time.Time
}

// NewManager creates a manager over st. events may be nil.
func NewManager(st store.Store, events Notifier) *Manager {
	return &Manager{
		st:           st,
		events:       events,
		convos:       make(map[string]*store.Conversation),
		agents:       make(map[string]struct{}),
		sessionStart: make(map[string]time.Time),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetKnownAgents replaces the set of agent identities. Events authored by
// anyone outside this set are treated as end-user messages.
func (m *Manager) SetKnownAgents(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m.agents[id] = struct{}{}
	}
}

func (m *Manager) isAgent(author string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.agents[author]
	return ok
}

// Create starts a new conversation from an inbound event. The event id
// becomes the conversation id; an event without one is rejected.
func (m *Manager) Create(ctx context.Context, ev store.Event) (*store.Conversation, error) {
	if ev.ID == "" {
		return nil, errors.New("inbound event has no id; cannot create conversation")
	}
	now := m.now()
	c := &store.Conversation{
		ID:             ev.ID,
		Title:          defaultTitle(ev),
		Phase:          phase.Chat,
		History:        []store.Event{ev},
		PhaseStartedAt: now,
		Metadata:       map[string]any{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if !m.isAgent(ev.Author) {
		c.Metadata["last_user_message"] = ev.Content
		c.Metadata["summary"] = summarize(ev.Content)
	}
	if err := m.persist(ctx, c); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.convos[c.ID] = c
	m.mu.Unlock()
	slog.Info("conversation created", "id", c.ID, "title", c.Title)
	m.notify(map[string]any{"type": "conversation_created", "id": c.ID, "title": c.Title})
	return c, nil
}

// Get returns the live in-memory conversation, loading from the store on a
// miss. The returned pointer is owned by the conversation's worker; anyone
// reading concurrently with that worker must use Snapshot instead.
func (m *Manager) Get(ctx context.Context, id string) (*store.Conversation, error) {
	m.mu.RLock()
	c, ok := m.convos[id]
	m.mu.RUnlock()
	if ok {
		return c, nil
	}
	c, err := m.st.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	m.mu.Lock()
	m.convos[id] = c
	m.mu.Unlock()
	return c, nil
}

// Snapshot returns a deep copy of the conversation, safe to read while its
// worker keeps mutating the live object. HTTP handlers and other concurrent
// readers go through here.
func (m *Manager) Snapshot(ctx context.Context, id string) (*store.Conversation, error) {
	c, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneConversation(c), nil
}

// cloneConversation copies the slices and the metadata map. Events and
// transition records are immutable once appended, so sharing their backing
// data is safe.
func cloneConversation(c *store.Conversation) *store.Conversation {
	cp := *c
	cp.History = append([]store.Event(nil), c.History...)
	cp.Transitions = append([]store.PhaseTransition(nil), c.Transitions...)
	if c.Metadata != nil {
		cp.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// AddEvent appends to history and persists. If the event is attributable to
// an end user (author not in the known-agent set) the summary and
// last_user_message metadata refresh too; this is the only automatic metadata
// side effect.
func (m *Manager) AddEvent(ctx context.Context, id string, ev store.Event) error {
	c, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	fromUser := ev.Kind == "inbound" && !m.isAgent(ev.Author)
	m.mu.Lock()
	c.History = append(c.History, ev)
	if fromUser {
		if c.Metadata == nil {
			c.Metadata = map[string]any{}
		}
		c.Metadata["last_user_message"] = ev.Content
		c.Metadata["summary"] = summarize(ev.Content)
	}
	m.mu.Unlock()
	return m.persist(ctx, c)
}

// UpdatePhase requests a transition. Re-entering the current phase is a
// logged no-op: no transition record, no PhaseStartedAt change. An illegal
// target fails with ErrIllegalTransition; callers are expected to consult
// phase.ValidTransitions first, but the manager defends the invariant anyway.
// On success the conversation is persisted before the call returns, so
// durability precedes any downstream side effect.
func (m *Manager) UpdatePhase(ctx context.Context, id string, to phase.Phase, message, agent, reason string) error {
	c, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if !phase.Valid(to) {
		return fmt.Errorf("%w: unknown phase %q", ErrIllegalTransition, to)
	}
	if to == c.Phase {
		slog.Info("phase transition no-op", "id", id, "phase", to)
		return nil
	}
	if !phase.CanTransition(c.Phase, to) {
		return fmt.Errorf("%w: %s -> %s (valid: %v)", ErrIllegalTransition, c.Phase, to, phase.ValidTransitions(c.Phase))
	}
	from := c.Phase
	now := m.now()
	m.mu.Lock()
	c.Phase = to
	c.PhaseStartedAt = now
	c.Transitions = append(c.Transitions, store.PhaseTransition{
		From:    from,
		To:      to,
		Message: message,
		Agent:   agent,
		Reason:  reason,
		At:      now,
	})
	m.mu.Unlock()
	if err := m.persist(ctx, c); err != nil {
		return err
	}
	otel.RecordTransition(ctx, string(from), string(to))
	slog.Info("phase transition", "id", id, "from", from, "to", to, "agent", agent)
	m.notify(map[string]any{"type": "phase_transition", "id": id, "from": from, "to": to, "agent": agent})
	return nil
}

// UpdateMetadata shallow-merges partial into the conversation metadata and
// persists. Keys are phase-owned; the manager does not enforce a schema.
func (m *Manager) UpdateMetadata(ctx context.Context, id string, partial map[string]any) error {
	c, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	for k, v := range partial {
		c.Metadata[k] = v
	}
	m.mu.Unlock()
	return m.persist(ctx, c)
}

// AppendReflection appends one reflection record under the reflections
// metadata key, keeping only the most recent maxReflections entries. The
// eviction rule lives here and nowhere else.
func (m *Manager) AppendReflection(ctx context.Context, id string, rec store.Reflection) error {
	c, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	recs := append([]store.Reflection(nil), reflectionSlice(c.Metadata[reflectionsKey])...)
	recs = append(recs, rec)
	if len(recs) > maxReflections {
		recs = recs[len(recs)-maxReflections:]
	}
	c.Metadata[reflectionsKey] = recs
	m.mu.Unlock()
	return m.persist(ctx, c)
}

// Reflections returns a copy of the recorded reflection history, oldest first.
func (m *Manager) Reflections(ctx context.Context, id string) ([]store.Reflection, error) {
	c, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	recs := append([]store.Reflection(nil), reflectionSlice(c.Metadata[reflectionsKey])...)
	m.mu.RUnlock()
	return recs, nil
}

// Archive moves the record to the archival area and evicts it from memory.
func (m *Manager) Archive(ctx context.Context, id string) error {
	if err := m.st.Archive(ctx, id); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.convos, id)
	delete(m.sessionStart, id)
	m.mu.Unlock()
	slog.Info("conversation archived", "id", id)
	m.notify(map[string]any{"type": "conversation_archived", "id": id})
	return nil
}

// List returns summaries of non-archived conversations from the store.
func (m *Manager) List(ctx context.Context) ([]store.Summary, error) {
	return m.st.List(ctx)
}

// Search delegates to the store's indexed metadata, then hydrates full
// records. Results are snapshots: search is a read surface and its callers
// run concurrently with the conversation workers.
func (m *Manager) Search(ctx context.Context, q store.SearchQuery) ([]*store.Conversation, error) {
	sums, err := m.st.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]*store.Conversation, 0, len(sums))
	for _, s := range sums {
		c, err := m.Snapshot(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// OpenWorkSession marks the conversation as actively worked on.
func (m *Manager) OpenWorkSession(ctx context.Context, id string) error {
	c, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.SessionOpen {
		return nil
	}
	m.mu.Lock()
	c.SessionOpen = true
	m.sessionStart[id] = m.now()
	m.mu.Unlock()
	return m.persist(ctx, c)
}

// CloseWorkSession folds the open session's elapsed time into the running
// execution-time total.
func (m *Manager) CloseWorkSession(ctx context.Context, id string) error {
	c, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if !c.SessionOpen {
		return nil
	}
	m.mu.Lock()
	start, ok := m.sessionStart[id]
	delete(m.sessionStart, id)
	if ok {
		c.ExecutionSeconds += m.now().Sub(start).Seconds()
	}
	c.SessionOpen = false
	m.mu.Unlock()
	return m.persist(ctx, c)
}

func (m *Manager) persist(ctx context.Context, c *store.Conversation) error {
	m.mu.Lock()
	c.UpdatedAt = m.now()
	m.mu.Unlock()
	if err := m.st.Save(ctx, c); err != nil {
		return fmt.Errorf("persist conversation %s: %w", c.ID, err)
	}
	return nil
}

func (m *Manager) notify(v map[string]any) {
	if m.events != nil {
		m.events.PublishJSON(v)
	}
}

// reflectionSlice tolerates both typed records (in-memory) and the
// map-decoded form that comes back from the store's JSON round trip.
func reflectionSlice(v any) []store.Reflection {
	switch recs := v.(type) {
	case []store.Reflection:
		return recs
	case []any:
		out := make([]store.Reflection, 0, len(recs))
		for _, r := range recs {
			rm, ok := r.(map[string]any)
			if !ok {
				continue
			}
			rec := store.Reflection{}
			if s, ok := rm["trigger_id"].(string); ok {
				rec.TriggerID = s
			}
			if n, ok := rm["lessons_generated"].(float64); ok {
				rec.LessonsGenerated = int(n)
			}
			if n, ok := rm["lessons_published"].(float64); ok {
				rec.LessonsPublished = int(n)
			}
			if s, ok := rm["timestamp"].(string); ok {
				if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
					rec.Timestamp = t
				}
			}
			out = append(out, rec)
		}
		return out
	default:
		return nil
	}
}

func defaultTitle(ev store.Event) string {
	line := strings.TrimSpace(ev.Content)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if line == "" {
		return "Conversation " + shortID(ev.ID)
	}
	if len(line) > maxDefaultTitle {
		line = line[:maxDefaultTitle] + "…"
	}
	return line
}

func summarize(content string) string {
	s := strings.TrimSpace(content)
	if len(s) > 200 {
		s = s[:200] + "…"
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
