package translate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPrompt_Defaults(t *testing.T) {
	out := buildPrompt(&Request{Text: "status"}, 500)
	assert.True(t, strings.HasPrefix(out, "Screen: 80x24 chars\n\n"), "geometry defaults to 80x24")
	assert.True(t, strings.HasSuffix(out, "User: status"))
	assert.NotContains(t, out, "=== CONTEXT ===")
	assert.NotContains(t, out, "Location:")
}

func TestBuildPrompt_AllSections(t *testing.T) {
	req := &Request{
		Text:         "run the tests",
		Screen:       Screen{Cols: 120, Rows: 40},
		SnapshotText: "=== TMUX SESSIONS ===\n\n[main]\n$ vim\n",
		Context:      "# Pilot Context\ncurrent state",
		GPS:          &GPS{Lat: 52.52001, Lon: 13.40501},
	}
	out := buildPrompt(req, 500)

	assert.Contains(t, out, "Screen: 120x40 chars")
	assert.Contains(t, out, "[main]\n$ vim")
	assert.Contains(t, out, "=== CONTEXT ===\n# Pilot Context")
	assert.Contains(t, out, "Location: 52.5200, 13.4050")
	assert.True(t, strings.HasSuffix(out, "User: run the tests"))
}

func TestBuildPrompt_ContextBudget(t *testing.T) {
	req := &Request{Text: "x", Context: strings.Repeat("c", 2000)}
	out := buildPrompt(req, 500)

	start := strings.Index(out, "=== CONTEXT ===\n")
	require.GreaterOrEqual(t, start, 0)
	section := out[start:]
	end := strings.Index(section, "\n\n")
	require.GreaterOrEqual(t, end, 0)
	assert.LessOrEqual(t, end, len("=== CONTEXT ===\n")+510, "context must be bounded in the prompt")
}

func TestBuildPrompt_VoiceOnly(t *testing.T) {
	out := buildPrompt(&Request{Audio: []byte{1, 2, 3}}, 500)
	assert.True(t, strings.HasSuffix(out, "User: (voice/image input)"))
}

func TestInstructions_DefaultWhenAbsent(t *testing.T) {
	ins := NewInstructions(filepath.Join(t.TempDir(), "prompt.md"))
	prompt := ins.SystemPrompt()
	assert.Contains(t, prompt, "You control a dev server via tmux")
	assert.Contains(t, prompt, "Style preferences:", "defaults apply when no override exists")
}

func TestInstructions_Override(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompt.md")
	require.NoError(t, os.WriteFile(path, []byte("Respond only in haiku.\n"), 0644))

	ins := NewInstructions(path)
	prompt := ins.SystemPrompt()
	assert.Contains(t, prompt, "Respond only in haiku.")
	assert.NotContains(t, prompt, "Style preferences:")
}

func TestInstructions_HotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompt.md")

	ins := NewInstructions(path)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, ins.Start(ctx))
	defer ins.Close()

	require.NoError(t, os.WriteFile(path, []byte("New override.\n"), 0644))

	// The watcher reload is asynchronous; poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(ins.SystemPrompt(), "New override.") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("override was not picked up by the watcher")
}
