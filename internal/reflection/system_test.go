package reflection

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/pablof7z/tenex-sub009/internal/conversation"
	"github.com/pablof7z/tenex-sub009/internal/store"
)

// fakeGenerator returns canned lessons and records whether it ran.
type fakeGenerator struct {
	lessons     []Lesson
	generateErr error
	generated   bool
}

func (f *fakeGenerator) Generate(ctx context.Context, trigger Trigger, agents []Agent) ([]Lesson, error) {
	f.generated = true
	return f.lessons, f.generateErr
}

func (f *fakeGenerator) Deduplicate(ctx context.Context, lessons []Lesson) ([]Lesson, error) {
	return LocalDedup(lessons), nil
}

// fakePublisher acks the first failAfter publishes, then fails.
type fakePublisher struct {
	failAfter int // -1 = never fail
	published []Lesson
}

func (f *fakePublisher) Publish(ctx context.Context, conversationID string, lesson Lesson) (string, error) {
	if f.failAfter >= 0 && len(f.published) >= f.failAfter {
		return "", errors.New("relay unreachable")
	}
	f.published = append(f.published, lesson)
	return fmt.Sprintf("ev-%d", len(f.published)), nil
}

func newSystemFixture(t *testing.T) (*System, *conversation.Manager, *fakeGenerator, *fakePublisher) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	mgr := conversation.NewManager(st, nil)
	gen := &fakeGenerator{}
	pub := &fakePublisher{failAfter: -1}
	sys := NewSystem(mgr, &Detector{}, gen, pub)
	return sys, mgr, gen, pub
}

func seedConversation(t *testing.T, mgr *conversation.Manager, id string, authors ...string) {
	t.Helper()
	ctx := context.Background()
	if _, err := mgr.Create(ctx, store.Event{ID: id, Kind: "inbound", Content: "start", Author: "user-pk", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatal(err)
	}
	for i, a := range authors {
		ev := store.Event{ID: fmt.Sprintf("%s-o%d", id, i), Kind: "outbound", Content: "reply", Author: a, CreatedAt: time.Now().UTC()}
		if err := mgr.AddEvent(ctx, id, ev); err != nil {
			t.Fatal(err)
		}
	}
}

func TestOrchestrateDedupAndRecord(t *testing.T) {
	t.Parallel()
	sys, mgr, gen, pub := newSystemFixture(t)
	seedConversation(t, mgr, "conv-1", "coder")
	ctx := context.Background()

	// Two lessons, same agent and same description modulo whitespace/case:
	// the local pass collapses them to one.
	gen.lessons = []Lesson{
		{ID: "l1", AgentID: "coder", Description: "Always run the linter before committing", Impact: ImpactMedium},
		{ID: "l2", AgentID: "coder", Description: "always run the  linter before committing", Impact: ImpactMedium},
	}

	trigger := Trigger{ID: "trig-1", Type: TriggerCorrection, ConversationID: "conv-1"}
	res, err := sys.Orchestrate(ctx, trigger, []Agent{{ID: "coder", Name: "Coder"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Generated) != 2 {
		t.Errorf("generated = %d, want 2", len(res.Generated))
	}
	if len(res.Published) != 1 || res.Published[0].ID != "l1" {
		t.Errorf("published = %+v", res.Published)
	}
	if len(pub.published) != 1 {
		t.Errorf("publisher saw %d lessons", len(pub.published))
	}

	recs, err := mgr.Reflections(ctx, "conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %+v", recs)
	}
	if recs[0].TriggerID != "trig-1" || recs[0].LessonsGenerated != 2 || recs[0].LessonsPublished != 1 {
		t.Errorf("record = %+v", recs[0])
	}
}

func TestOrchestrateEmptySelectionSkipsGenerator(t *testing.T) {
	t.Parallel()
	sys, mgr, gen, _ := newSystemFixture(t)
	// Only the end user and the orchestrator spoke; no roster agent
	// participated and the trigger carries no team id.
	seedConversation(t, mgr, "conv-2", "tenex")
	gen.lessons = []Lesson{{ID: "l1", AgentID: "coder", Description: "x"}}

	trigger := Trigger{ID: "trig-2", Type: TriggerCorrection, ConversationID: "conv-2"}
	res, err := sys.Orchestrate(context.Background(), trigger, []Agent{{ID: "coder", Name: "Coder"}})
	if err != nil {
		t.Fatal(err)
	}
	if gen.generated {
		t.Error("generator invoked despite empty agent selection")
	}
	if len(res.Generated) != 0 || len(res.Published) != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestOrchestrateTeamTriggerSelectsFullRoster(t *testing.T) {
	t.Parallel()
	sys, mgr, gen, pub := newSystemFixture(t)
	// Roster agents did not participate, but the team id widens selection.
	seedConversation(t, mgr, "conv-3", "tenex")
	gen.lessons = []Lesson{
		{ID: "l1", AgentID: "coder", Description: "lesson one"},
		{ID: "l2", AgentID: "reviewer", Description: "lesson two"},
	}

	trigger := Trigger{
		ID: "trig-3", Type: TriggerCorrection, ConversationID: "conv-3",
		Metadata: map[string]any{"team": "alpha"},
	}
	res, err := sys.Orchestrate(context.Background(), trigger,
		[]Agent{{ID: "coder"}, {ID: "reviewer"}})
	if err != nil {
		t.Fatal(err)
	}
	if !gen.generated {
		t.Fatal("generator not invoked for team trigger")
	}
	if len(res.Published) != 2 || len(pub.published) != 2 {
		t.Errorf("published = %+v", res.Published)
	}
}

func TestOrchestratePartialPublishIsPrefix(t *testing.T) {
	t.Parallel()
	sys, mgr, gen, pub := newSystemFixture(t)
	seedConversation(t, mgr, "conv-4", "coder")
	gen.lessons = []Lesson{
		{ID: "l1", AgentID: "coder", Description: "first"},
		{ID: "l2", AgentID: "coder", Description: "second"},
		{ID: "l3", AgentID: "coder", Description: "third"},
	}
	pub.failAfter = 1 // ack one, then fail

	trigger := Trigger{ID: "trig-4", Type: TriggerCorrection, ConversationID: "conv-4"}
	res, err := sys.Orchestrate(context.Background(), trigger, []Agent{{ID: "coder"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Published) != 1 || res.Published[0].ID != "l1" {
		t.Errorf("published = %+v, want prefix [l1]", res.Published)
	}

	recs, err := mgr.Reflections(context.Background(), "conv-4")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].LessonsGenerated != 3 || recs[0].LessonsPublished != 1 {
		t.Errorf("record = %+v", recs)
	}
}

func TestOrchestrateNoLessons(t *testing.T) {
	t.Parallel()
	sys, mgr, gen, pub := newSystemFixture(t)
	seedConversation(t, mgr, "conv-5", "coder")
	gen.lessons = nil

	trigger := Trigger{ID: "trig-5", Type: TriggerCorrection, ConversationID: "conv-5"}
	res, err := sys.Orchestrate(context.Background(), trigger, []Agent{{ID: "coder"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Published) != 0 || len(pub.published) != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestOrchestrateUnknownConversation(t *testing.T) {
	t.Parallel()
	sys, _, _, _ := newSystemFixture(t)
	trigger := Trigger{ID: "trig-6", Type: TriggerCorrection, ConversationID: "ghost"}
	if _, err := sys.Orchestrate(context.Background(), trigger, nil); err == nil {
		t.Fatal("expected error for unknown conversation")
	}
}

func TestCheckForReflectionDegradesClassifierError(t *testing.T) {
	t.Parallel()
	sys, mgr, _, _ := newSystemFixture(t)
	seedConversation(t, mgr, "conv-7", "coder")
	sys.Detector = &Detector{Classifier: classifierFunc(func(ctx context.Context, q CorrectionQuery) (Verdict, error) {
		return Verdict{}, errors.New("model down")
	})}

	c, err := mgr.Get(context.Background(), "conv-7")
	if err != nil {
		t.Fatal(err)
	}
	ev := store.Event{ID: "u2", Kind: "inbound", Content: "no, that is wrong", Author: "user-pk"}
	if trigger := sys.CheckForReflection(context.Background(), ev, c); trigger != nil {
		t.Errorf("classifier error produced a trigger: %+v", trigger)
	}
}

type classifierFunc func(ctx context.Context, q CorrectionQuery) (Verdict, error)

func (f classifierFunc) ClassifyCorrection(ctx context.Context, q CorrectionQuery) (Verdict, error) {
	return f(ctx, q)
}
