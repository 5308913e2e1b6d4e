// Package journal appends published lessons to per-agent markdown files so
// lessons survive outside the event transport.
package journal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pablof7z/tenex-sub009/internal/sandbox"
)

// Entry is one published lesson rendered into an agent's journal.
type Entry struct {
	ConversationID string
	LessonType     string
	Description    string
	Context        string
	Impact         string
	Tags           []string
	CreatedAt      time.Time
}

// Journal manages lessons.md files under home/agents/<name>/.
type Journal struct {
	Home string
}

// Append adds an entry to the named agent's journal, creating the agent
// directory and file as needed.
func (j *Journal) Append(ctx context.Context, agentName string, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if agentName == "" {
		return fmt.Errorf("agent name required")
	}
	// Agent names come from LLM output; the directory they select is
	// containment-checked like every other path-touching operation.
	agentDir, err := sandbox.ResolveWithinRoot(filepath.Join(j.Home, "agents"), agentName)
	if err != nil {
		return fmt.Errorf("agent name %q: %w", agentName, err)
	}
	if err := os.MkdirAll(agentDir, 0o755); err != nil {
		return fmt.Errorf("create agent dir: %w", err)
	}
	path := filepath.Join(agentDir, "lessons.md")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(formatEntry(entry)); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	return nil
}

func formatEntry(e Entry) string {
	var b strings.Builder
	b.WriteString("\n---\n\n")
	b.WriteString("## ")
	b.WriteString(e.CreatedAt.Format("2006-01-02 15:04"))
	if e.LessonType != "" {
		b.WriteString(" [")
		b.WriteString(e.LessonType)
		b.WriteString("]")
	}
	b.WriteString("\n\n")
	b.WriteString(e.Description)
	b.WriteString("\n")
	if e.Context != "" {
		b.WriteString("\n- **Context:** ")
		b.WriteString(e.Context)
	}
	if e.Impact != "" {
		b.WriteString("\n- **Impact:** ")
		b.WriteString(e.Impact)
	}
	if e.ConversationID != "" {
		b.WriteString("\n- **Conversation:** ")
		b.WriteString(e.ConversationID)
	}
	if len(e.Tags) > 0 {
		b.WriteString("\n- **Tags:** ")
		b.WriteString(strings.Join(e.Tags, ", "))
	}
	b.WriteString("\n")
	return b.String()
}
