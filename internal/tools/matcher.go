package tools

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
)

// Entry pairs a regular expression with a parser that turns one match into an
// Invocation. Entries are independent; registering a new one never touches
// existing entries.
type Entry struct {
	Name    string
	Pattern *regexp.Regexp
	// Parse receives the submatch groups (group 0 is the full match) and the
	// match's byte offset. A returned error skips this match only.
	Parse func(groups []string, pos int) (Invocation, error)
}

// Matcher detects tagged tool markup in free-form LLM text. The tag grammar
// (tag names, attribute syntax, closing tags) is load-bearing: existing agent
// prompts were written against it and it must not drift.
type Matcher struct {
	entries []Entry
}

// NewMatcher returns a matcher with the default tag grammar registered:
//
//	<execute>COMMAND</execute>
//	<read path="PATH"></read>
//	<write path="PATH">CONTENT</write>
//	<edit path="PATH"><old>OLD</old><new>NEW</new></edit>
//	<web_search>QUERY</web_search>
//	<http method="GET" url="URL">BODY</http>   (method optional, default GET)
func NewMatcher() *Matcher {
	m := &Matcher{}
	m.Register(Entry{
		Name:    "shell_execute",
		Pattern: regexp.MustCompile(`(?s)<execute>(.*?)</execute>`),
		Parse: func(groups []string, pos int) (Invocation, error) {
			cmd := strings.TrimSpace(groups[1])
			if cmd == "" {
				return Invocation{}, fmt.Errorf("empty command")
			}
			return Invocation{Tool: "shell", Action: "execute", Params: ShellParams{Command: cmd}, Raw: groups[0], Pos: pos}, nil
		},
	})
	m.Register(Entry{
		Name:    "file_read",
		Pattern: regexp.MustCompile(`<read path="([^"]+)">\s*</read>`),
		Parse: func(groups []string, pos int) (Invocation, error) {
			return Invocation{Tool: "file", Action: "read", Params: ReadParams{Path: groups[1]}, Raw: groups[0], Pos: pos}, nil
		},
	})
	m.Register(Entry{
		Name:    "file_write",
		Pattern: regexp.MustCompile(`(?s)<write path="([^"]+)">(.*?)</write>`),
		Parse: func(groups []string, pos int) (Invocation, error) {
			return Invocation{Tool: "file", Action: "write", Params: WriteParams{Path: groups[1], Content: trimOneLeadingNewline(groups[2])}, Raw: groups[0], Pos: pos}, nil
		},
	})
	m.Register(Entry{
		Name:    "file_edit",
		Pattern: regexp.MustCompile(`(?s)<edit path="([^"]+)">\s*<old>(.*?)</old>\s*<new>(.*?)</new>\s*</edit>`),
		Parse: func(groups []string, pos int) (Invocation, error) {
			return Invocation{Tool: "file", Action: "edit", Params: EditParams{Path: groups[1], Old: groups[2], New: groups[3]}, Raw: groups[0], Pos: pos}, nil
		},
	})
	m.Register(Entry{
		Name:    "web_search",
		Pattern: regexp.MustCompile(`<web_search>(.*?)</web_search>`),
		Parse: func(groups []string, pos int) (Invocation, error) {
			q := strings.TrimSpace(groups[1])
			if q == "" {
				return Invocation{}, fmt.Errorf("empty query")
			}
			return Invocation{Tool: "web", Action: "search", Params: WebSearchParams{Query: q}, Raw: groups[0], Pos: pos}, nil
		},
	})
	m.Register(Entry{
		Name:    "http_call",
		Pattern: regexp.MustCompile(`(?s)<http(?:\s+method="([A-Z]+)")?\s+url="([^"]+)">(.*?)</http>`),
		Parse: func(groups []string, pos int) (Invocation, error) {
			method := groups[1]
			if method == "" {
				method = "GET"
			}
			return Invocation{Tool: "http", Action: "call", Params: HTTPParams{Method: method, URL: groups[2], Body: strings.TrimSpace(groups[3])}, Raw: groups[0], Pos: pos}, nil
		},
	})
	return m
}

// Register appends an entry to the matcher. Later entries run after earlier
// ones; existing entries are never modified.
func (m *Matcher) Register(e Entry) {
	m.entries = append(m.entries, e)
}

// Detect runs every pattern against the whole text and returns the union of
// parsed invocations. Matches are ordered per pattern; cross-pattern ordering
// follows registration order, not document order. A parse failure is logged
// and skips that match only.
func (m *Matcher) Detect(text string) []Invocation {
	var out []Invocation
	for _, e := range m.entries {
		idxs := e.Pattern.FindAllStringSubmatchIndex(text, -1)
		for _, idx := range idxs {
			groups := make([]string, 0, len(idx)/2)
			for g := 0; g < len(idx); g += 2 {
				if idx[g] < 0 {
					groups = append(groups, "")
					continue
				}
				groups = append(groups, text[idx[g]:idx[g+1]])
			}
			inv, err := e.Parse(groups, idx[0])
			if err != nil {
				slog.Warn("skipping malformed tool tag", "pattern", e.Name, "err", err)
				continue
			}
			out = append(out, inv)
		}
	}
	return out
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// CleanResponse removes every invocation's raw tag from text and collapses
// runs of three or more consecutive newlines to one blank line. Removal is
// processed in reverse position order so earlier offsets stay valid.
func CleanResponse(text string, invs []Invocation) string {
	sorted := make([]Invocation, len(invs))
	copy(sorted, invs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Pos > sorted[j].Pos })
	for _, inv := range sorted {
		end := inv.Pos + len(inv.Raw)
		if inv.Pos < 0 || end > len(text) || text[inv.Pos:end] != inv.Raw {
			// Offset drifted (overlapping matches); fall back to first occurrence.
			if i := strings.Index(text, inv.Raw); i >= 0 {
				text = text[:i] + text[i+len(inv.Raw):]
			}
			continue
		}
		text = text[:inv.Pos] + text[end:]
	}
	return strings.TrimSpace(blankRuns.ReplaceAllString(text, "\n\n"))
}

func trimOneLeadingNewline(s string) string {
	return strings.TrimPrefix(s, "\n")
}
