package contextdoc

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"pilot/internal/logging"
)

// Update carries one turn's worth of changes to merge into the document.
// Zero-valued fields leave the corresponding section untouched, except
// StateView which replaces the section wholesale when non-nil.
type Update struct {
	// Task replaces the Current Task section when non-empty.
	Task string

	// RecentTargets are session[:window] labels touched this turn,
	// appended to the Recent Sessions list.
	RecentTargets []string

	// Note appends one timestamped entry to the Activity Log.
	Note string

	// StateView replaces the Server State section when non-nil.
	StateView []string
}

// Store owns the on-disk context document. All access goes through a single
// mutex: the merge invariants assume no concurrent read-modify-write.
type Store struct {
	path     string
	maxLines int

	mu  sync.Mutex
	now func() time.Time
}

// NewStore creates a store for the document at path with the given rendered
// line ceiling.
func NewStore(path string, maxLines int) *Store {
	if maxLines < headerLines+2 {
		maxLines = headerLines + 2
	}
	return &Store{path: path, maxLines: maxLines, now: time.Now}
}

// Load returns the rendered document, or the empty string when none exists.
func (s *Store) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read context document: %w", err)
	}
	return string(data), nil
}

// Init overwrites any prior document with a fresh one: empty task, empty
// state, a single "session started" log entry, and an optional location
// block. Returns the rendered document.
func (s *Store) Init(location string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	d := &Document{
		Stamp:    fmt.Sprintf("_Started: %s_", now.Format("2006-01-02 15:04")),
		Location: location,
		Entries:  []string{fmt.Sprintf("- [%s] Session started", now.Format("15:04"))},
	}

	text := d.Render()
	if err := s.saveLocked(text); err != nil {
		return "", err
	}
	logging.Get(logging.CategoryContext).Info("context document initialized at %s", s.path)
	return text, nil
}

// Save writes raw document text, enforcing the line ceiling. Update is the
// normal write path; Save exists for callers that already hold rendered text.
func (s *Store) Save(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(text)
}

// Exists reports whether a document has been created yet.
func (s *Store) Exists() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := os.Stat(s.path)
	return err == nil
}

// Update merges one turn's changes into the document: load, parse, merge,
// render, bounded save, all under the store mutex.
func (s *Store) Update(u Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	text, err := s.loadLocked()
	if err != nil {
		return err
	}
	d := ParseDocument(text)

	now := s.now()
	d.Stamp = fmt.Sprintf("_Updated: %s_", now.Format("15:04"))

	if u.Task != "" {
		d.Task = u.Task
	}
	for _, t := range u.RecentTargets {
		d.RecentTargets = appendTarget(d.RecentTargets, t)
	}
	d.RecentTargets = capTail(d.RecentTargets, maxRecentTargets)
	if u.StateView != nil {
		d.StateView = u.StateView
	}
	if u.Note != "" {
		d.Entries = append(d.Entries, fmt.Sprintf("- [%s] %s", now.Format("15:04"), u.Note))
	}
	d.Entries = capTail(d.Entries, maxLogEntries)

	return s.saveLocked(d.Render())
}

// appendTarget appends a target, moving an existing occurrence to the end
// so the list stays most-recent-last without duplicates.
func appendTarget(targets []string, t string) []string {
	if t == "" {
		return targets
	}
	out := targets[:0]
	for _, existing := range targets {
		if existing != t {
			out = append(out, existing)
		}
	}
	return append(out, t)
}

// saveLocked writes the document, enforcing the line ceiling. When the
// rendered text exceeds the ceiling it keeps the leading header lines and
// the newest tail lines with a visible marker in between; the result is
// exactly at the ceiling, so re-saving is a no-op.
func (s *Store) saveLocked(text string) error {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) > s.maxLines {
		head := lines[:headerLines]
		tail := lines[len(lines)-(s.maxLines-headerLines-1):]
		truncated := make([]string, 0, s.maxLines)
		truncated = append(truncated, head...)
		truncated = append(truncated, truncationMarker)
		truncated = append(truncated, tail...)
		lines = truncated
		logging.Get(logging.CategoryContext).Debug("context document truncated to %d lines", len(lines))
	}

	if err := os.WriteFile(s.path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write context document: %w", err)
	}
	return nil
}
