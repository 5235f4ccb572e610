package tmux

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// fakeExec records invocations and replays canned responses keyed by the
// tmux subcommand.
type fakeExec struct {
	calls     [][]string
	responses map[string]string
	errs      map[string]error
}

func (f *fakeExec) run(_ context.Context, args ...string) (string, error) {
	f.calls = append(f.calls, args)
	if err, ok := f.errs[args[0]]; ok {
		return "", err
	}
	return f.responses[args[0]], nil
}

func newFakeRunner(f *fakeExec) *Runner {
	r := NewRunner(time.Second)
	r.execFn = f.run
	return r
}

func TestListSessions_NoServer(t *testing.T) {
	f := &fakeExec{errs: map[string]error{
		"list-sessions": errors.New("tmux list-sessions failed: exit status 1 (no server running on /tmp/tmux-1000/default)"),
	}}
	r := newFakeRunner(f)

	sessions, err := r.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("no server must not be an error, got %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("expected empty session list, got %v", sessions)
	}
}

func TestListSessions_WithWindows(t *testing.T) {
	f := &fakeExec{responses: map[string]string{
		"list-sessions": "main\nwork\n",
		"list-windows":  "0:editor\n1:shell\n",
	}}
	r := newFakeRunner(f)

	sessions, err := r.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].Name != "main" || sessions[1].Name != "work" {
		t.Errorf("unexpected session order: %v", sessions)
	}
	if len(sessions[0].Windows) != 2 || sessions[0].Windows[0] != "0:editor" {
		t.Errorf("unexpected windows: %v", sessions[0].Windows)
	}
}

func TestCapturePane_Degrades(t *testing.T) {
	f := &fakeExec{errs: map[string]error{
		"capture-pane": errors.New("tmux capture-pane failed: exit status 1"),
	}}
	r := newFakeRunner(f)

	text := r.CapturePane(context.Background(), "main", 100)
	if text != "[capture failed]" {
		t.Errorf("expected placeholder for failed capture, got %q", text)
	}
}

func TestCapturePane_BoundedArgs(t *testing.T) {
	f := &fakeExec{responses: map[string]string{"capture-pane": "line\n"}}
	r := newFakeRunner(f)

	r.CapturePane(context.Background(), "main", 50)

	if len(f.calls) != 1 {
		t.Fatalf("expected one call, got %d", len(f.calls))
	}
	got := strings.Join(f.calls[0], " ")
	if !strings.Contains(got, "-S -50") {
		t.Errorf("capture should be bounded to 50 lines, args: %s", got)
	}
}

func TestTakeSnapshot_DegradesToEmpty(t *testing.T) {
	f := &fakeExec{errs: map[string]error{
		"list-sessions": errors.New("tmux list-sessions failed: timeout"),
	}}
	r := newFakeRunner(f)

	snap := r.TakeSnapshot(context.Background(), 100)
	if snap == nil {
		t.Fatal("snapshot must never be nil")
	}
	if len(snap.Sessions) != 0 || len(snap.Panes) != 0 {
		t.Errorf("expected empty snapshot on listing failure, got %+v", snap)
	}
}

func TestSendKeys_LiteralThenEnter(t *testing.T) {
	f := &fakeExec{responses: map[string]string{"send-keys": ""}}
	r := newFakeRunner(f)

	if err := r.SendKeys(context.Background(), "main:1", "ls -la"); err != nil {
		t.Fatalf("SendKeys failed: %v", err)
	}
	if len(f.calls) != 2 {
		t.Fatalf("expected literal send + Enter, got %d calls", len(f.calls))
	}
	first := strings.Join(f.calls[0], " ")
	second := strings.Join(f.calls[1], " ")
	if !strings.Contains(first, "-l") || !strings.Contains(first, "ls -la") {
		t.Errorf("first call should send keys literally: %s", first)
	}
	if !strings.HasSuffix(second, "Enter") {
		t.Errorf("second call should send Enter: %s", second)
	}
	if !strings.Contains(first, "-t main:1") {
		t.Errorf("target missing from send: %s", first)
	}
}

func TestSendKeys_RejectsBadTarget(t *testing.T) {
	f := &fakeExec{}
	r := newFakeRunner(f)

	for _, target := range []string{"main; rm -rf /", "a b", "x`y`", "$(boom)"} {
		if err := r.SendKeys(context.Background(), target, "ls"); err == nil {
			t.Errorf("target %q should be rejected", target)
		}
	}
	if len(f.calls) != 0 {
		t.Errorf("rejected targets must not reach tmux, got %d calls", len(f.calls))
	}
}

func TestValidTarget(t *testing.T) {
	valid := []string{"", "main", "main:1", "dev-box:editor", "a_b.c:0"}
	for _, target := range valid {
		if !ValidTarget(target) {
			t.Errorf("expected %q to be valid", target)
		}
	}
	invalid := []string{"main:1:2", "a;b", "a b", "a|b"}
	for _, target := range invalid {
		if ValidTarget(target) {
			t.Errorf("expected %q to be invalid", target)
		}
	}
}

func TestSnapshot_Render(t *testing.T) {
	snap := &Snapshot{
		Sessions: []Session{{Name: "main"}, {Name: "quiet"}},
		Panes:    map[string]string{"main": "$ make test\nok\n"},
	}
	out := snap.Render()
	if !strings.Contains(out, "=== TMUX SESSIONS ===") {
		t.Errorf("missing header: %q", out)
	}
	if !strings.Contains(out, "[main]\n$ make test\nok") {
		t.Errorf("missing pane block: %q", out)
	}
	if strings.Contains(out, "[quiet]") {
		t.Errorf("sessions without captured text should be omitted: %q", out)
	}

	empty := &Snapshot{}
	if empty.Render() != "" {
		t.Errorf("empty snapshot should render to empty string")
	}
}

func TestSnapshot_Summary(t *testing.T) {
	snap := &Snapshot{Sessions: []Session{
		{Name: "main", Windows: []string{"0:edit", "1:run", "2:logs", "3:extra"}},
	}}
	lines := snap.Summary()
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %v", lines)
	}
	want := "- **main**: 0:edit, 1:run, 2:logs"
	if lines[0] != want {
		t.Errorf("summary = %q, want %q (windows capped at 3)", lines[0], want)
	}

	if got := (&Snapshot{}).Summary(); len(got) != 1 || got[0] != "- No tmux sessions" {
		t.Errorf("empty snapshot summary = %v", got)
	}
}

func TestNewSession_Args(t *testing.T) {
	f := &fakeExec{responses: map[string]string{"new-session": ""}}
	r := newFakeRunner(f)

	if err := r.NewSession(context.Background(), "build", "make watch"); err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	got := strings.Join(f.calls[0], " ")
	want := "new-session -d -s build make watch"
	if got != want {
		t.Errorf("args = %q, want %q", got, want)
	}

	if err := r.NewSession(context.Background(), "bad:name", ""); err == nil {
		t.Error("session names with a colon should be rejected")
	}
	if err := r.NewSession(context.Background(), "", ""); err == nil {
		t.Error("empty session name should be rejected")
	}
}

func TestRunCmd_Timeout(t *testing.T) {
	// Real subprocess path: a nonexistent binary fails fast with a wrapped error.
	r := NewRunner(50 * time.Millisecond)
	r.bin = "/nonexistent/tmux-binary"
	_, err := r.runCmd(context.Background(), "list-sessions")
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
	if !strings.Contains(err.Error(), "list-sessions") {
		t.Errorf("error should name the subcommand: %v", err)
	}
}
