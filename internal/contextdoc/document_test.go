package contextdoc

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDocument_RenderParseRoundTrip(t *testing.T) {
	d := &Document{
		Stamp:         "_Updated: 14:05_",
		Task:          "fix the flaky build",
		RecentTargets: []string{"main", "work:1"},
		StateView:     []string{"- **main**: 0:edit, 1:run"},
		Entries: []string{
			"- [14:01] Session started",
			"- [14:05] ran tests in main",
		},
	}

	got := ParseDocument(d.Render())
	if diff := cmp.Diff(d, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDocument_Empty(t *testing.T) {
	d := ParseDocument("")
	if d.Task != "" || len(d.Entries) != 0 || len(d.RecentTargets) != 0 {
		t.Errorf("empty text should parse to zero document, got %+v", d)
	}
}

func TestParseDocument_DropsMalformedLogLines(t *testing.T) {
	text := `# Pilot Context
_Updated: 10:00_

## Current Task
(none)

## Recent Sessions

## Server State

## Activity Log
- [09:58] good entry
not an entry at all
- missing timestamp
- [09:59] another good one
`
	d := ParseDocument(text)
	want := []string{"- [09:58] good entry", "- [09:59] another good one"}
	if diff := cmp.Diff(want, d.Entries); diff != "" {
		t.Errorf("log entries (-want +got):\n%s", diff)
	}
}

func TestParseDocument_IgnoresTruncationMarker(t *testing.T) {
	text := `# Pilot Context
_Updated: 10:00_

## Current Task
ship it

... (truncated)

## Activity Log
- [10:00] after the gap
`
	d := ParseDocument(text)
	if d.Task != "ship it" {
		t.Errorf("task = %q", d.Task)
	}
	if len(d.Entries) != 1 {
		t.Errorf("entries = %v", d.Entries)
	}
}

func TestParseDocument_CapsOnParse(t *testing.T) {
	text := "# Pilot Context\n_Updated: 10:00_\n\n## Activity Log\n"
	for i := 0; i < 30; i++ {
		text += "- [10:00] entry\n"
	}
	d := ParseDocument(text)
	if len(d.Entries) != maxLogEntries {
		t.Errorf("expected %d entries after parse, got %d", maxLogEntries, len(d.Entries))
	}
}

func TestDocument_RenderEmptyTask(t *testing.T) {
	d := &Document{Stamp: "_Updated: 10:00_"}
	out := d.Render()
	if !strings.Contains(out, "## Current Task\n(none)") {
		t.Errorf("empty task should render as (none):\n%s", out)
	}
}
