// Package translate is the translation gateway: it turns user input (text,
// voice, image) plus observed tmux state into a validated set of key-send
// actions and a status display, by way of a Gemini model. The gateway has no
// side effects on tmux; it is a request/response transform with strict
// degradation rules: every collaborator failure comes back as a usable
// Result, never as a dropped turn.
package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Action is one translator-issued instruction: send keys to a
// session[:window] target. An empty target means tmux's default target.
type Action struct {
	Target string `json:"target"`
	Keys   string `json:"keys"`
}

// Result is the canonical validated translation output. Actions may be
// empty (a pure status query); Display is always present. Task and Note are
// the only fields that outlive the turn, via the context document.
type Result struct {
	Actions []Action `json:"commands"`
	Display string   `json:"display"`
	Task    string   `json:"task,omitempty"`
	Note    string   `json:"note,omitempty"`
}

// Screen is the requesting client's terminal geometry.
type Screen struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// GPS is an optional client location included in the prompt.
type GPS struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Request carries everything one translation call needs.
type Request struct {
	// Text is the typed user input; may be empty when audio/image carry
	// the command.
	Text string

	// Audio is opaque audio/webm bytes, already base64-decoded.
	Audio []byte

	// Image is opaque image/jpeg bytes, already base64-decoded.
	Image []byte

	// Screen defaults to 80x24 when unset.
	Screen Screen

	// SnapshotText is the rendered tmux state block.
	SnapshotText string

	// Context is the current rolling context document (unbounded; the
	// prompt builder applies the character budget).
	Context string

	// GPS is the optional client location.
	GPS *GPS
}

// Translator converts a Request into a Result. The error return is reserved
// for caller-side cancellation; collaborator failures (missing credential,
// transport errors, unparseable output) are absorbed into degraded Results.
type Translator interface {
	Translate(ctx context.Context, req *Request) (*Result, error)
}

// maxErrorDisplay bounds how much raw error text reaches the client screen.
const maxErrorDisplay = 100

// degraded builds an empty-action Result carrying error text.
func degraded(display, note string) *Result {
	return &Result{Display: display, Note: note}
}

// errorResult converts a transport-level failure into a degraded Result.
func errorResult(err error) *Result {
	return degraded(
		fmt.Sprintf("Error: %s", bound(err.Error(), maxErrorDisplay)),
		fmt.Sprintf("translate error: %s", bound(err.Error(), maxErrorDisplay)),
	)
}

// parseFailure converts unparseable model output into a degraded Result
// showing a bounded prefix of the raw text.
func parseFailure(raw string) *Result {
	return degraded(
		bound(strings.TrimSpace(raw), 300),
		"translator returned unparseable output",
	)
}

// bound truncates s to at most n bytes plus an ellipsis, backing the cut
// off to a rune boundary so the result stays valid UTF-8.
func bound(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// parseResult validates raw model output against the canonical shape.
// A missing display is a shape failure: the client must always have
// something to show.
func parseResult(raw string) (*Result, error) {
	var r Result
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &r); err != nil {
		return nil, fmt.Errorf("invalid translation JSON: %w", err)
	}
	if strings.TrimSpace(r.Display) == "" {
		return nil, fmt.Errorf("translation missing display text")
	}
	r.Actions = normalizeActions(r.Actions)
	return &r, nil
}

// normalizeActions trims targets and drops actions with empty keys; an
// empty key send is a no-op by contract.
func normalizeActions(actions []Action) []Action {
	out := actions[:0]
	for _, a := range actions {
		a.Target = strings.TrimSpace(a.Target)
		if strings.TrimSpace(a.Keys) == "" {
			continue
		}
		out = append(out, a)
	}
	return out
}
