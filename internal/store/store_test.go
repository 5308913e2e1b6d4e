package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pablof7z/tenex-sub009/internal/phase"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func sampleConversation(id string) *Conversation {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return &Conversation{
		ID:    id,
		Title: "Fix the login flow",
		Phase: phase.Execute,
		History: []Event{
			{ID: id, Kind: "inbound", Content: "please fix login", Author: "user-pk", CreatedAt: now,
				Tags: [][]string{{"team", "alpha"}}},
			{ID: id + "-r1", Kind: "outbound", Content: "on it", Author: "tenex", CreatedAt: now.Add(time.Second)},
		},
		PhaseStartedAt: now,
		Transitions: []PhaseTransition{
			{From: phase.Chat, To: phase.Execute, Agent: "planner", At: now},
		},
		Metadata: map[string]any{
			"summary":     "please fix login",
			"reflections": []any{},
		},
		ExecutionSeconds: 12.5,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	orig := sampleConversation("conv-1")
	if err := st.Save(ctx, orig); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := st.Load(ctx, "conv-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil {
		t.Fatal("load returned nil for saved conversation")
	}
	if got.ID != orig.ID || got.Title != orig.Title || got.Phase != orig.Phase {
		t.Errorf("identity fields differ: %+v", got)
	}
	if len(got.History) != 2 || got.History[0].Content != "please fix login" {
		t.Errorf("history = %+v", got.History)
	}
	if got.History[0].TagValue("team") != "alpha" {
		t.Errorf("tags lost in round trip: %+v", got.History[0].Tags)
	}
	if len(got.Transitions) != 1 || got.Transitions[0].From != phase.Chat {
		t.Errorf("transitions = %+v", got.Transitions)
	}
	if got.ExecutionSeconds != 12.5 {
		t.Errorf("execution seconds = %v", got.ExecutionSeconds)
	}
	if !got.PhaseStartedAt.Equal(orig.PhaseStartedAt) {
		t.Errorf("phase started at = %v, want %v", got.PhaseStartedAt, orig.PhaseStartedAt)
	}
}

func TestLoadMissingReturnsNilNil(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	got, err := st.Load(context.Background(), "no-such-id")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil", got)
	}
}

func TestSaveUpserts(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	c := sampleConversation("conv-up")
	if err := st.Save(ctx, c); err != nil {
		t.Fatal(err)
	}
	c.Title = "updated title"
	c.Phase = phase.Review
	if err := st.Save(ctx, c); err != nil {
		t.Fatal(err)
	}

	got, err := st.Load(ctx, "conv-up")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "updated title" || got.Phase != phase.Review {
		t.Errorf("upsert lost fields: %+v", got)
	}

	sums, err := st.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 1 {
		t.Errorf("upsert created duplicate rows: %d", len(sums))
	}
}

func TestListExcludesArchived(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := st.Save(ctx, sampleConversation(id)); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.Archive(ctx, "b"); err != nil {
		t.Fatal(err)
	}

	sums, err := st.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 2 {
		t.Fatalf("got %d summaries, want 2", len(sums))
	}
	for _, s := range sums {
		if s.ID == "b" {
			t.Error("archived conversation listed")
		}
		if s.EventCount != 2 {
			t.Errorf("event count = %d, want 2", s.EventCount)
		}
	}
}

func TestArchiveMissing(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	err := st.Archive(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSearch(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	login := sampleConversation("conv-login")
	if err := st.Save(ctx, login); err != nil {
		t.Fatal(err)
	}
	deploy := sampleConversation("conv-deploy")
	deploy.Title = "Deploy to staging"
	deploy.Phase = phase.Chat
	deploy.Metadata = map[string]any{"summary": "ship the staging deploy"}
	if err := st.Save(ctx, deploy); err != nil {
		t.Fatal(err)
	}
	archived := sampleConversation("conv-old")
	archived.Title = "Old login work"
	if err := st.Save(ctx, archived); err != nil {
		t.Fatal(err)
	}
	if err := st.Archive(ctx, "conv-old"); err != nil {
		t.Fatal(err)
	}

	// Title substring.
	sums, err := st.Search(ctx, SearchQuery{Text: "login"})
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 1 || sums[0].ID != "conv-login" {
		t.Errorf("title search = %+v", sums)
	}

	// Metadata substring.
	sums, err = st.Search(ctx, SearchQuery{Text: "staging deploy"})
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 1 || sums[0].ID != "conv-deploy" {
		t.Errorf("metadata search = %+v", sums)
	}

	// Phase filter.
	sums, err = st.Search(ctx, SearchQuery{Phase: phase.Chat})
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 1 || sums[0].ID != "conv-deploy" {
		t.Errorf("phase search = %+v", sums)
	}

	// Archived conversations only surface when asked for.
	sums, err = st.Search(ctx, SearchQuery{Text: "login", IncludeArchived: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 2 {
		t.Errorf("archived search = %+v", sums)
	}

	// Limit.
	sums, err = st.Search(ctx, SearchQuery{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 1 {
		t.Errorf("limit ignored: %d results", len(sums))
	}
}

func TestReflectionsMetadataRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	c := sampleConversation("conv-refl")
	c.Metadata["reflections"] = []Reflection{
		{TriggerID: "t1", LessonsGenerated: 2, LessonsPublished: 1,
			Timestamp: time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC)},
	}
	if err := st.Save(ctx, c); err != nil {
		t.Fatal(err)
	}
	got, err := st.Load(ctx, "conv-refl")
	if err != nil {
		t.Fatal(err)
	}
	// JSON round trip decodes to []any of maps; callers normalize via the
	// conversation manager.
	raw, ok := got.Metadata["reflections"].([]any)
	if !ok || len(raw) != 1 {
		t.Fatalf("reflections metadata = %#v", got.Metadata["reflections"])
	}
	rec, _ := raw[0].(map[string]any)
	if rec["trigger_id"] != "t1" {
		t.Errorf("record = %#v", rec)
	}
}

func TestParticipants(t *testing.T) {
	t.Parallel()
	c := &Conversation{History: []Event{
		{Author: "user-pk"},
		{Author: "tenex"},
		{Author: "user-pk"},
		{Author: ""},
		{Author: "reviewer"},
	}}
	got := c.Participants()
	want := []string{"user-pk", "tenex", "reviewer"}
	if len(got) != len(want) {
		t.Fatalf("participants = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("participants = %v, want %v", got, want)
		}
	}
}

func TestEventTagValue(t *testing.T) {
	t.Parallel()
	ev := Event{Tags: [][]string{{"solo"}, {"phase", "execute"}, {"phase", "ignored"}}}
	if got := ev.TagValue("phase"); got != "execute" {
		t.Errorf("TagValue(phase) = %q", got)
	}
	if got := ev.TagValue("missing"); got != "" {
		t.Errorf("TagValue(missing) = %q", got)
	}
}
