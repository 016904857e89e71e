package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/qninhdt/wyvern-ai/internal/schema"
	"github.com/qninhdt/wyvern-ai/internal/tools"
)

const (
	DefaultOllamaURL = "http://localhost:11434"

	// Ollama only sees the tail of the conversation
	ollamaContextMessages = 6
	ollamaCheckTimeout    = 5 * time.Second
)

// Sampling tuned for small local models
var ollamaSampling = map[string]any{
	"temperature":    0.3,
	"top_p":          0.8,
	"num_predict":    512,
	"num_ctx":        2048,
	"repeat_penalty": 1.1,
	"top_k":          40,
	"tfs_z":          0.1,
	"mirostat":       2,
	"mirostat_tau":   5.0,
	"mirostat_eta":   0.1,
}

// OllamaOptions configures the local inference provider
type OllamaOptions struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// OllamaClient wraps the Ollama API client
type OllamaClient struct {
	client  *api.Client
	baseURL string
	timeout time.Duration
}

// NewOllamaClient creates a client for the Ollama server at opts.BaseURL
func NewOllamaClient(opts OllamaOptions) (*OllamaClient, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultOllamaURL
	}
	parsed, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL %q: %w", opts.BaseURL, err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &OllamaClient{
		client:  api.NewClient(parsed, httpClient),
		baseURL: opts.BaseURL,
		timeout: opts.Timeout,
	}, nil
}

func (o *OllamaClient) Kind() Kind { return KindOllama }

// Models lists the installed model names
func (o *OllamaClient) Models(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, ollamaCheckTimeout)
	defer cancel()

	list, err := o.client.List(ctx)
	if err != nil {
		return nil, o.classify("", err)
	}
	names := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// checkModel fails with ErrorTypeModelUnavailable when model is not installed.
// If the listing itself fails the chat call is attempted anyway.
func (o *OllamaClient) checkModel(ctx context.Context, model string) error {
	ctx, cancel := context.WithTimeout(ctx, ollamaCheckTimeout)
	defer cancel()

	list, err := o.client.List(ctx)
	if err != nil {
		slog.Warn("could not check Ollama model availability, proceeding anyway",
			"model", model,
			"error", err)
		return nil
	}
	for _, m := range list.Models {
		if m.Name == model || m.Model == model {
			return nil
		}
	}
	return &Error{
		Type:     ErrorTypeModelUnavailable,
		Provider: KindOllama,
		Model:    model,
		Message:  fmt.Sprintf("model %s is not installed or available", model),
	}
}

// Generate checks the model is installed and runs one non-streaming chat
func (o *OllamaClient) Generate(ctx context.Context, messages []Message, defs []*tools.Definition, model string) (*Response, error) {
	toolDefs, err := ollamaTools(defs)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, o.timeout)
	defer cancel()

	if err := o.checkModel(ctx, model); err != nil {
		return nil, err
	}

	stream := false
	req := &api.ChatRequest{
		Model:    model,
		Messages: ollamaMessages(messages),
		Stream:   &stream,
		Options:  ollamaSampling,
	}
	if len(toolDefs) > 0 {
		req.Tools = toolDefs
	}

	start := time.Now()
	var resp api.ChatResponse
	err = o.client.Chat(ctx, req, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	if err != nil {
		slog.Warn("ollama chat failed",
			"model", model,
			"duration", time.Since(start),
			"error", err)
		return nil, o.classify(model, err)
	}

	slog.Debug("ollama completion",
		"model", model,
		"tools", len(toolDefs),
		"duration", time.Since(start))

	out := &Response{Text: resp.Message.Content}
	for i, call := range resp.Message.ToolCalls {
		id := call.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		args := call.Function.Arguments.ToMap()
		if args == nil {
			args = map[string]any{}
		}
		out.FunctionCalls = append(out.FunctionCalls, tools.FunctionCall{ID: id, Name: call.Function.Name, Args: args})
	}
	return out, nil
}

func (o *OllamaClient) classify(model string, err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return classify(KindOllama, model, statusErr.StatusCode, err)
	}
	return classify(KindOllama, model, 0, err)
}

// ollamaMessages keeps system messages and the last few conversation turns
func ollamaMessages(messages []Message) []api.Message {
	var system, convo []api.Message
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, api.Message{Role: string(RoleSystem), Content: m.Content})
		case RoleTool:
			body, _ := json.Marshal(m.Result)
			convo = append(convo, api.Message{Role: string(RoleTool), Content: string(body), ToolCallID: m.ToolCallID})
		default:
			convo = append(convo, api.Message{Role: string(m.Role), Content: m.Content})
		}
	}
	if len(convo) > ollamaContextMessages {
		convo = convo[len(convo)-ollamaContextMessages:]
	}
	return append(system, convo...)
}

// ollamaTools sends the same JSON Schema as the OpenAI-compatible path
func ollamaTools(defs []*tools.Definition) (api.Tools, error) {
	out := make(api.Tools, 0, len(defs))
	for _, def := range defs {
		params, err := schema.ToOpenAI(def.Name, def.Parameters)
		if err != nil {
			return nil, err
		}
		noteNestedRequired(params["properties"])

		body, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s parameters: %w", def.Name, err)
		}
		var fp api.ToolFunctionParameters
		if err := json.Unmarshal(body, &fp); err != nil {
			return nil, fmt.Errorf("failed to decode %s parameters: %w", def.Name, err)
		}

		out = append(out, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  fp,
			},
		})
	}
	return out, nil
}

// noteNestedRequired copies the required list of nested objects into their
// description. api.ToolProperty has no required field, so only the top-level
// list survives decoding.
func noteNestedRequired(props any) {
	m, ok := props.(map[string]any)
	if !ok {
		return
	}
	for _, raw := range m {
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if required, ok := prop["required"].([]string); ok && len(required) > 0 {
			note := "Required fields: " + strings.Join(required, ", ") + "."
			if desc, _ := prop["description"].(string); desc != "" {
				note = desc + " " + note
			}
			prop["description"] = note
		}
		noteNestedRequired(prop["properties"])
		if items, ok := prop["items"].(map[string]any); ok {
			noteNestedRequired(map[string]any{"items": items})
		}
	}
}
