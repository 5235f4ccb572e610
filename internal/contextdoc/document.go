// Package contextdoc implements the rolling context document: a single
// bounded markdown file summarizing the current task, recently touched
// sessions, observed server state, and a capped activity log. The document
// is held as a structured record and only rendered/parsed at the file
// boundary, so merges never depend on line offsets.
package contextdoc

import (
	"fmt"
	"regexp"
	"strings"
)

// Section headers of the rendered document, in fixed order.
const (
	headerTitle    = "# Pilot Context"
	headerLocation = "## Location"
	headerTask     = "## Current Task"
	headerRecent   = "## Recent Sessions"
	headerState    = "## Server State"
	headerLog      = "## Activity Log"
)

// truncationMarker is inserted where middle content was dropped by the line
// ceiling. It is recognized (and discarded) on parse.
const truncationMarker = "... (truncated)"

const (
	// maxRecentTargets caps the Recent Sessions list.
	maxRecentTargets = 10
	// maxLogEntries caps the Activity Log.
	maxLogEntries = 15
	// headerLines is how many leading lines survive truncation: title,
	// stamp, blank, task header, task line, blank.
	headerLines = 6
)

// entryPattern matches a well-formed activity log entry. Anything else in
// the log section is treated as non-log content and dropped on merge.
var entryPattern = regexp.MustCompile(`^- \[\d{2}:\d{2}\] `)

// Document is the structured form of the context file.
type Document struct {
	// Stamp is the full "_Updated: HH:MM_" / "_Started: ..._" line.
	Stamp string

	// Location is the optional GPS block recorded at session start.
	Location string

	// Task is the current task description; empty when none is active.
	Task string

	// RecentTargets lists recently touched session[:window] labels,
	// most-recent-last, capped at maxRecentTargets.
	RecentTargets []string

	// StateView is the rendered server-state block, replaced wholesale.
	StateView []string

	// Entries holds complete "- [HH:MM] note" activity log lines,
	// chronological, capped at maxLogEntries.
	Entries []string
}

// Render produces the markdown form of the document.
func (d *Document) Render() string {
	var lines []string

	lines = append(lines, headerTitle, d.Stamp, "")

	if d.Location != "" {
		lines = append(lines, headerLocation, d.Location, "")
	}

	lines = append(lines, headerTask)
	if d.Task != "" {
		lines = append(lines, d.Task)
	} else {
		lines = append(lines, "(none)")
	}
	lines = append(lines, "")

	lines = append(lines, headerRecent)
	for _, t := range d.RecentTargets {
		lines = append(lines, fmt.Sprintf("- `%s`", t))
	}
	lines = append(lines, "")

	lines = append(lines, headerState)
	lines = append(lines, d.StateView...)
	lines = append(lines, "")

	lines = append(lines, headerLog)
	lines = append(lines, d.Entries...)

	return strings.Join(lines, "\n")
}

// ParseDocument reconstructs the structured record from rendered text.
// Unknown lines and the truncation marker are dropped; parsing a rendered
// document and re-rendering it is stable.
func ParseDocument(text string) *Document {
	d := &Document{}
	if strings.TrimSpace(text) == "" {
		return d
	}

	section := ""
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)

		switch trimmed {
		case headerLocation, headerTask, headerRecent, headerState, headerLog:
			section = trimmed
			continue
		case headerTitle, truncationMarker, "":
			continue
		}
		if d.Stamp == "" && strings.HasPrefix(trimmed, "_") && strings.HasSuffix(trimmed, "_") {
			d.Stamp = trimmed
			continue
		}

		switch section {
		case headerLocation:
			if d.Location == "" {
				d.Location = trimmed
			}
		case headerTask:
			if trimmed != "(none)" && d.Task == "" {
				d.Task = trimmed
			}
		case headerRecent:
			if t, ok := strings.CutPrefix(trimmed, "- `"); ok {
				d.RecentTargets = append(d.RecentTargets, strings.TrimSuffix(t, "`"))
			}
		case headerState:
			d.StateView = append(d.StateView, line)
		case headerLog:
			if entryPattern.MatchString(trimmed) {
				d.Entries = append(d.Entries, trimmed)
			}
		}
	}

	d.RecentTargets = capTail(d.RecentTargets, maxRecentTargets)
	d.Entries = capTail(d.Entries, maxLogEntries)
	return d
}

// capTail keeps the last n elements of a slice.
func capTail(s []string, n int) []string {
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}
