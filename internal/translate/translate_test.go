package translate

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslate_NoAPIKeyDegrades(t *testing.T) {
	g, err := NewGemini(context.Background(), Options{
		PromptPath: filepath.Join(t.TempDir(), "prompt.md"),
	})
	require.NoError(t, err)

	result, err := g.Translate(context.Background(), &Request{Text: "anything"})
	require.NoError(t, err, "degraded mode must not raise")
	assert.Empty(t, result.Actions)
	assert.Contains(t, result.Display, "GEMINI_API_KEY")
	assert.Equal(t, "missing API key", result.Note)
}

func TestParseResult_Valid(t *testing.T) {
	raw := `{
		"commands": [
			{"target": "main:1", "keys": "make test"},
			{"target": "", "keys": ""},
			{"target": " work ", "keys": "ls"}
		],
		"display": "running tests",
		"task": "fix build",
		"note": "kicked off tests"
	}`
	result, err := parseResult(raw)
	require.NoError(t, err)

	// Empty-keys action dropped, targets trimmed, order preserved.
	require.Len(t, result.Actions, 2)
	assert.Equal(t, Action{Target: "main:1", Keys: "make test"}, result.Actions[0])
	assert.Equal(t, Action{Target: "work", Keys: "ls"}, result.Actions[1])
	assert.Equal(t, "running tests", result.Display)
	assert.Equal(t, "fix build", result.Task)
}

func TestParseResult_ShapeFailures(t *testing.T) {
	cases := map[string]string{
		"not json":        "I cannot do that",
		"missing display": `{"commands": []}`,
		"blank display":   `{"commands": [], "display": "  "}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseResult(raw)
			assert.Error(t, err)
		})
	}
}

func TestParseFailure_BoundedDisplay(t *testing.T) {
	raw := strings.Repeat("x", 5000)
	result := parseFailure(raw)
	assert.Empty(t, result.Actions)
	assert.LessOrEqual(t, len(result.Display), 310)
	assert.Equal(t, "translator returned unparseable output", result.Note)
}

func TestErrorResult_Bounded(t *testing.T) {
	err := contextDeadlineLikeError(strings.Repeat("e", 400))
	result := errorResult(err)
	assert.Empty(t, result.Actions)
	assert.True(t, strings.HasPrefix(result.Display, "Error: "))
	assert.LessOrEqual(t, len(result.Display), 120)
	assert.NotEmpty(t, result.Note)
}

type contextDeadlineLikeError string

func (e contextDeadlineLikeError) Error() string { return string(e) }

func TestBound_RuneSafe(t *testing.T) {
	// A multi-byte rune straddling the cut must not be split.
	s := strings.Repeat("x", 99) + "世界"
	out := bound(s, 100)
	assert.True(t, utf8.ValidString(out), "truncated output must stay valid UTF-8")
	assert.Equal(t, strings.Repeat("x", 99)+"...", out)

	// Model output is the realistic source of multi-byte text.
	result := parseFailure(strings.Repeat("界", 200))
	assert.True(t, utf8.ValidString(result.Display))

	assert.Equal(t, "short", bound("short", 100))
}

func TestNormalizeActions_EmptyInput(t *testing.T) {
	assert.Empty(t, normalizeActions(nil))
	assert.Empty(t, normalizeActions([]Action{{Keys: "   "}}))
}
