package agents

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/qninhdt/wyvern-ai/internal/schema"
	"github.com/qninhdt/wyvern-ai/internal/tools"
)

// Gemini calls the assistant role "model"
const (
	geminiRoleUser  = "user"
	geminiRoleModel = "model"
)

var geminiStatusPattern = regexp.MustCompile(`Error (\d{3})\b`)

// GeminiOptions configures the Gemini provider
type GeminiOptions struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// GeminiClient wraps the Google GenAI client
type GeminiClient struct {
	opts GeminiOptions

	mu     sync.Mutex
	client *genai.Client
}

// NewGeminiClient stores configuration. The SDK client is created on first use.
func NewGeminiClient(opts GeminiOptions) (*GeminiClient, error) {
	if opts.APIKey == "" {
		return nil, &Error{Type: ErrorTypeAuth, Provider: KindGemini, Message: "API key required for Gemini provider"}
	}
	return &GeminiClient{opts: opts}, nil
}

func (g *GeminiClient) Kind() Kind { return KindGemini }

func (g *GeminiClient) sdk(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client != nil {
		return g.client, nil
	}

	cfg := &genai.ClientConfig{
		APIKey:  g.opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if g.opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: g.opts.BaseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, &Error{Type: ErrorTypeTransport, Provider: KindGemini, Message: "failed to create Gemini client", Err: err}
	}
	g.client = client
	return client, nil
}

// Generate runs one GenerateContent call. Function calls and function
// responses in messages are sent as content parts.
func (g *GeminiClient) Generate(ctx context.Context, messages []Message, defs []*tools.Definition, model string) (*Response, error) {
	decls, err := geminiDeclarations(defs)
	if err != nil {
		return nil, err
	}

	contents, system := geminiContents(messages)
	if len(contents) == 0 {
		return nil, &Error{Type: ErrorTypeTransport, Provider: KindGemini, Model: model, Message: "no conversation content to send"}
	}

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if len(decls) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	client, err := g.sdk(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, g.opts.Timeout)
	defer cancel()

	start := time.Now()
	result, err := client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, classify(KindGemini, model, geminiStatus(err), err)
	}
	if result == nil {
		return nil, &Error{Type: ErrorTypeServiceUnavailable, Provider: KindGemini, Model: model, Message: "empty response from Gemini API"}
	}

	slog.Debug("gemini completion",
		"model", model,
		"tools", len(decls),
		"duration", time.Since(start))

	out := &Response{Text: result.Text()}
	for _, call := range result.FunctionCalls() {
		args := call.Args
		if args == nil {
			args = map[string]any{}
		}
		out.FunctionCalls = append(out.FunctionCalls, tools.FunctionCall{ID: call.ID, Name: call.Name, Args: args})
	}
	return out, nil
}

// geminiStatus extracts the HTTP code from SDK errors shaped like
// "Error 429, Message: ..., Status: RESOURCE_EXHAUSTED"
func geminiStatus(err error) int {
	m := geminiStatusPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return 0
	}
	code, _ := strconv.Atoi(m[1])
	return code
}

func geminiDeclarations(defs []*tools.Definition) ([]*genai.FunctionDeclaration, error) {
	out := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		params, err := schema.ToGemini(def.Name, def.Parameters)
		if err != nil {
			return nil, err
		}
		out = append(out, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  params,
		})
	}
	return out, nil
}

// geminiContents splits out the system instruction and converts the rest of the
// conversation. Consecutive function responses share one user content.
func geminiContents(messages []Message) ([]*genai.Content, string) {
	var (
		system   []string
		contents []*genai.Content
	)

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)

		case RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, call := range m.FunctionCalls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: call.ID, Name: call.Name, Args: call.Args}})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: geminiRoleModel, Parts: parts})
			}

		case RoleTool:
			part := &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       m.ToolCallID,
				Name:     m.ToolName,
				Response: m.Result,
			}}
			if n := len(contents); n > 0 && isFunctionResponses(contents[n-1]) {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
			} else {
				contents = append(contents, &genai.Content{Role: geminiRoleUser, Parts: []*genai.Part{part}})
			}

		default:
			if m.Content != "" {
				contents = append(contents, &genai.Content{Role: geminiRoleUser, Parts: []*genai.Part{{Text: m.Content}}})
			}
		}
	}

	return contents, strings.Join(system, "\n\n")
}

func isFunctionResponses(c *genai.Content) bool {
	if c.Role != geminiRoleUser || len(c.Parts) == 0 {
		return false
	}
	for _, p := range c.Parts {
		if p.FunctionResponse == nil {
			return false
		}
	}
	return true
}

