package translate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"pilot/internal/logging"
)

// coreInstruction frames the task for the model. The response structure
// itself is enforced by the response schema, so this stays minimal.
const coreInstruction = `You control a dev server via tmux. Given user input and tmux screen contents:

1. Return tmux commands to execute (or empty list if just viewing)
2. Generate a plain text status display for the user's screen

The display should fit the user's screen dimensions (cols/rows given) and be concise, terminal-style.`

// defaultUserInstructions apply when the operator has not provided a
// prompt.md override.
const defaultUserInstructions = `Style preferences:
- Be concise and direct
- Use terminal-style output, no emojis or fluff
- Summarize what's happening across tmux sessions
- Include relevant output snippets when useful

Common patterns:
- "status" or "what's happening" -> summarize all sessions
- "run X" -> send command to appropriate session
- "check Y" -> look at session Y and report

Keep display text sized for the screen dimensions provided.`

// Instructions serves the current system prompt, hot-reloading the operator
// override file when it changes on disk.
type Instructions struct {
	path string

	mu       sync.RWMutex
	override string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewInstructions loads the override from path (empty string when absent).
// Call Start to enable hot reload; without it the value loaded here is used
// for the process lifetime.
func NewInstructions(path string) *Instructions {
	ins := &Instructions{path: path, done: make(chan struct{})}
	ins.reload()
	return ins
}

func (ins *Instructions) reload() {
	data, err := os.ReadFile(ins.path)
	override := ""
	if err == nil {
		override = strings.TrimSpace(string(data))
	}
	ins.mu.Lock()
	ins.override = override
	ins.mu.Unlock()
}

// Start watches the override file's directory and reloads on change.
// Watching the directory rather than the file survives editor
// rename-and-replace saves.
func (ins *Instructions) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create instruction watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(ins.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(ins.path), err)
	}
	ins.watcher = watcher

	log := logging.Get(logging.CategoryTranslate)
	go func() {
		defer close(ins.done)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(ins.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					ins.reload()
					log.Info("instruction override reloaded (%s)", event.Op)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("instruction watcher error: %v", err)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Close stops the watcher.
func (ins *Instructions) Close() {
	if ins.watcher != nil {
		_ = ins.watcher.Close()
		<-ins.done
	}
}

// SystemPrompt returns the core instruction extended by the operator
// override, or by the built-in defaults when no override exists.
func (ins *Instructions) SystemPrompt() string {
	ins.mu.RLock()
	override := ins.override
	ins.mu.RUnlock()

	if override == "" {
		override = defaultUserInstructions
	}
	return coreInstruction + "\n\n" + override
}

// buildPrompt assembles the user-turn prompt text: screen geometry, tmux
// state, bounded context document, optional location, then the user input.
func buildPrompt(req *Request, contextBudget int) string {
	screen := req.Screen
	if screen.Cols <= 0 || screen.Rows <= 0 {
		screen = Screen{Cols: 80, Rows: 24}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Screen: %dx%d chars\n\n", screen.Cols, screen.Rows)

	if req.SnapshotText != "" {
		b.WriteString(req.SnapshotText)
		b.WriteString("\n")
	}

	if req.Context != "" {
		fmt.Fprintf(&b, "=== CONTEXT ===\n%s\n\n", bound(req.Context, contextBudget))
	}

	if req.GPS != nil {
		fmt.Fprintf(&b, "Location: %.4f, %.4f\n\n", req.GPS.Lat, req.GPS.Lon)
	}

	input := req.Text
	if input == "" {
		input = "(voice/image input)"
	}
	fmt.Fprintf(&b, "User: %s", input)

	return b.String()
}
