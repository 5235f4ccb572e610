package translate

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"pilot/internal/logging"
)

// Options configures the Gemini translator.
type Options struct {
	// APIKey may be empty: the translator then runs in degraded mode and
	// never attempts a network call.
	APIKey          string
	Model           string
	Temperature     float32
	MaxOutputTokens int

	// PromptPath is the operator instruction override file.
	PromptPath string

	// ContextBudget bounds the context document characters in the prompt.
	ContextBudget int
}

// Gemini translates requests with a single GenerateContent call per turn.
// No retries: each call is one attempt, retry policy belongs to the caller.
type Gemini struct {
	client        *genai.Client
	model         string
	temperature   float32
	maxTokens     int32
	contextBudget int
	instructions  *Instructions
}

// NewGemini creates the translator. With an empty API key the client is
// left nil and Translate degrades immediately.
func NewGemini(ctx context.Context, opts Options) (*Gemini, error) {
	if opts.Model == "" {
		opts.Model = "gemini-2.0-flash-exp"
	}
	if opts.MaxOutputTokens <= 0 {
		opts.MaxOutputTokens = 1000
	}
	if opts.ContextBudget <= 0 {
		opts.ContextBudget = 500
	}

	g := &Gemini{
		model:         opts.Model,
		temperature:   opts.Temperature,
		maxTokens:     int32(opts.MaxOutputTokens),
		contextBudget: opts.ContextBudget,
		instructions:  NewInstructions(opts.PromptPath),
	}

	if opts.APIKey == "" {
		logging.Get(logging.CategoryTranslate).Warn("no API key configured, translator degraded")
		return g, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: opts.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	g.client = client
	return g, nil
}

// Instructions exposes the instruction loader so the caller can start and
// stop the hot-reload watcher with the process lifecycle.
func (g *Gemini) Instructions() *Instructions {
	return g.instructions
}

// resultSchema mirrors Result for structured output enforcement.
func resultSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"commands": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"target": {Type: genai.TypeString, Description: "tmux target like 'session:window'"},
						"keys":   {Type: genai.TypeString, Description: "keys/command to send"},
					},
				},
			},
			"display": {Type: genai.TypeString, Description: "plain text status to show user"},
			"task":    {Type: genai.TypeString, Description: "current task description"},
			"note":    {Type: genai.TypeString, Description: "short activity log entry"},
		},
		Required: []string{"display"},
	}
}

// Translate implements Translator. All collaborator failures are converted
// into degraded Results; the error return only fires on caller cancellation.
func (g *Gemini) Translate(ctx context.Context, req *Request) (*Result, error) {
	log := logging.Get(logging.CategoryTranslate)

	if g.client == nil {
		return degraded("Error: GEMINI_API_KEY not set", "missing API key"), nil
	}

	prompt := buildPrompt(req, g.contextBudget)
	log.Debug("prompt length: %d chars, audio=%d bytes, image=%d bytes",
		len(prompt), len(req.Audio), len(req.Image))

	parts := []*genai.Part{genai.NewPartFromText(prompt)}
	if len(req.Audio) > 0 {
		parts = append(parts, genai.NewPartFromBytes(req.Audio, "audio/webm"))
	}
	if len(req.Image) > 0 {
		parts = append(parts, genai.NewPartFromBytes(req.Image, "image/jpeg"))
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(g.instructions.SystemPrompt(), genai.RoleUser),
		Temperature:       genai.Ptr(g.temperature),
		MaxOutputTokens:   g.maxTokens,
		ResponseMIMEType:  "application/json",
		ResponseSchema:    resultSchema(),
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, config)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Error("generate failed after %v: %v", time.Since(start), err)
		return errorResult(err), nil
	}

	raw := resp.Text()
	result, err := parseResult(raw)
	if err != nil {
		log.Error("shape validation failed: %v (raw: %d chars)", err, len(raw))
		return parseFailure(raw), nil
	}

	log.Info("translated in %v: %d actions, display %d chars",
		time.Since(start), len(result.Actions), len(result.Display))
	return result, nil
}
