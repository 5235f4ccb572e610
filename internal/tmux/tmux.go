// Package tmux is the session state aggregator: a read-mostly wrapper around
// the tmux CLI that lists sessions/windows, captures bounded pane text, and
// sends keystrokes. Every invocation is bounded by a timeout and all state
// queries degrade per-session instead of failing the whole snapshot.
package tmux

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"pilot/internal/logging"
)

// Session is one live tmux session with its "index:name" window labels.
type Session struct {
	Name    string
	Windows []string
}

// Snapshot is a point-in-time view of all sessions and their recent pane
// text. It is rebuilt for every turn and never cached.
type Snapshot struct {
	Sessions []Session
	// Panes maps session name to the captured tail of its active pane.
	Panes map[string]string
}

// targetPattern constrains session[:window] labels the translator may
// address. Everything else is rejected before reaching tmux.
var targetPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+(:[A-Za-z0-9_.-]+)?$`)

// ValidTarget reports whether a translator-supplied target label is safe to
// pass to tmux. The empty target is valid and means tmux's default target.
func ValidTarget(target string) bool {
	if target == "" {
		return true
	}
	return targetPattern.MatchString(target)
}

// Runner executes tmux subprocesses with a fixed per-invocation timeout.
type Runner struct {
	bin     string
	timeout time.Duration

	// execFn is the subprocess hook; tests replace it.
	execFn func(ctx context.Context, args ...string) (string, error)
}

// NewRunner creates a Runner. The tmux binary is resolved once; GUI-launched
// processes on macOS don't inherit the shell PATH, so common Homebrew
// locations are probed as a fallback.
func NewRunner(timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	r := &Runner{bin: findTmux(), timeout: timeout}
	r.execFn = r.runCmd
	return r
}

func findTmux() string {
	if path, err := exec.LookPath("tmux"); err == nil {
		return path
	}
	for _, p := range []string{"/opt/homebrew/bin/tmux", "/usr/local/bin/tmux", "/usr/bin/tmux"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return "tmux"
}

// runCmd runs one tmux invocation bounded by the runner timeout.
func (r *Runner) runCmd(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("tmux %s timed out after %s", args[0], r.timeout)
		}
		if msg != "" {
			return "", fmt.Errorf("tmux %s failed: %w (%s)", args[0], err, msg)
		}
		return "", fmt.Errorf("tmux %s failed: %w", args[0], err)
	}
	return stdout.String(), nil
}

// isNoServer reports whether an error means tmux simply has no running
// server, which is a normal state rather than a failure.
func isNoServer(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no server running") ||
		strings.Contains(msg, "error connecting to")
}

// ListSessions returns all live sessions with their window labels. When the
// tmux server is not running it returns an empty slice and nil error.
func (r *Runner) ListSessions(ctx context.Context) ([]Session, error) {
	out, err := r.execFn(ctx, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		if isNoServer(err) {
			return nil, nil
		}
		return nil, err
	}

	log := logging.Get(logging.CategoryTmux)
	var sessions []Session
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		name := strings.TrimSpace(line)
		if name == "" {
			continue
		}
		windows, err := r.listWindows(ctx, name)
		if err != nil {
			// A session can vanish between list calls; keep it with no
			// window detail rather than failing the listing.
			log.Warn("list-windows failed for %s: %v", name, err)
		}
		sessions = append(sessions, Session{Name: name, Windows: windows})
	}
	return sessions, nil
}

func (r *Runner) listWindows(ctx context.Context, session string) ([]string, error) {
	out, err := r.execFn(ctx, "list-windows", "-t", session, "-F", "#{window_index}:#{window_name}")
	if err != nil {
		return nil, err
	}
	var windows []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if w := strings.TrimSpace(line); w != "" {
			windows = append(windows, w)
		}
	}
	return windows, nil
}

// CapturePane returns the most recent lines of a session's active pane,
// bounded by the lines argument. Failures degrade to a placeholder; a
// broken capture must not abort the snapshot.
func (r *Runner) CapturePane(ctx context.Context, target string, lines int) string {
	if lines <= 0 {
		lines = 100
	}
	// -J joins wrapped lines so long commands read as one line.
	out, err := r.execFn(ctx, "capture-pane", "-p", "-J", "-t", target, "-S", fmt.Sprintf("-%d", lines))
	if err != nil {
		logging.Get(logging.CategoryTmux).Warn("capture-pane %s: %v", target, err)
		return "[capture failed]"
	}
	return out
}

// TakeSnapshot lists all sessions and captures each one's recent pane text.
// It never fails as a whole: listing errors produce an empty snapshot and
// per-session capture errors degrade individually.
func (r *Runner) TakeSnapshot(ctx context.Context, maxLines int) *Snapshot {
	snap := &Snapshot{Panes: make(map[string]string)}

	sessions, err := r.ListSessions(ctx)
	if err != nil {
		logging.Get(logging.CategoryTmux).Warn("list-sessions failed: %v", err)
		return snap
	}
	snap.Sessions = sessions

	for _, s := range sessions {
		text := r.CapturePane(ctx, s.Name, maxLines)
		if strings.TrimSpace(text) != "" {
			snap.Panes[s.Name] = text
		}
	}
	return snap
}

// SendKeys sends keys literally to a target followed by a separate Enter
// key. An empty target uses tmux's default (current) target. Empty keys are
// rejected by the caller; here they would send a bare Enter.
func (r *Runner) SendKeys(ctx context.Context, target, keys string) error {
	if !ValidTarget(target) {
		return fmt.Errorf("invalid tmux target %q", target)
	}

	// Literal send (-l) avoids key-name interpretation of the command text.
	args := []string{"send-keys", "-l"}
	if target != "" {
		args = append(args, "-t", target)
	}
	args = append(args, keys)
	if _, err := r.execFn(ctx, args...); err != nil {
		return err
	}

	args = []string{"send-keys"}
	if target != "" {
		args = append(args, "-t", target)
	}
	args = append(args, "Enter")
	_, err := r.execFn(ctx, args...)
	return err
}

// NewSession creates a detached session, optionally running an initial
// command in it.
func (r *Runner) NewSession(ctx context.Context, name, command string) error {
	if name == "" || !ValidTarget(name) || strings.Contains(name, ":") {
		return fmt.Errorf("invalid session name %q", name)
	}
	args := []string{"new-session", "-d", "-s", name}
	if command != "" {
		args = append(args, command)
	}
	_, err := r.execFn(ctx, args...)
	return err
}

// Render produces the prompt text block the translator sees.
func (s *Snapshot) Render() string {
	if len(s.Sessions) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("=== TMUX SESSIONS ===\n")
	for _, sess := range s.Sessions {
		text, ok := s.Panes[sess.Name]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n[%s]\n%s\n", sess.Name, strings.TrimRight(text, "\n"))
	}
	return b.String()
}

// Summary produces the compact per-session lines recorded in the rolling
// context document's Server State section.
func (s *Snapshot) Summary() []string {
	if len(s.Sessions) == 0 {
		return []string{"- No tmux sessions"}
	}
	lines := make([]string, 0, len(s.Sessions))
	for _, sess := range s.Sessions {
		windows := sess.Windows
		if len(windows) > 3 {
			windows = windows[:3]
		}
		lines = append(lines, fmt.Sprintf("- **%s**: %s", sess.Name, strings.Join(windows, ", ")))
	}
	return lines
}
