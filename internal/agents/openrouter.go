package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/qninhdt/wyvern-ai/internal/schema"
	"github.com/qninhdt/wyvern-ai/internal/tools"
)

const DefaultOpenRouterURL = "https://openrouter.ai/api/v1/"

// OpenRouterOptions configures the OpenAI-compatible provider
type OpenRouterOptions struct {
	APIKey  string
	BaseURL string
	Referer string
	Title   string
	Timeout time.Duration
}

// OpenRouterClient talks to OpenRouter through the OpenAI chat completions API
type OpenRouterClient struct {
	client  openai.Client
	timeout time.Duration
}

// NewOpenRouterClient creates a new OpenRouter client
func NewOpenRouterClient(opts OpenRouterOptions) (*OpenRouterClient, error) {
	if opts.APIKey == "" {
		return nil, &Error{Type: ErrorTypeAuth, Provider: KindOpenRouter, Message: "API key required for OpenRouter provider"}
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultOpenRouterURL
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithBaseURL(opts.BaseURL),
		option.WithMaxRetries(0),
	}
	if opts.Referer != "" {
		reqOpts = append(reqOpts, option.WithHeader("HTTP-Referer", opts.Referer))
	}
	if opts.Title != "" {
		reqOpts = append(reqOpts, option.WithHeader("X-Title", opts.Title))
	}

	return &OpenRouterClient{
		client:  openai.NewClient(reqOpts...),
		timeout: opts.Timeout,
	}, nil
}

func (c *OpenRouterClient) Kind() Kind { return KindOpenRouter }

// Generate runs one chat completion with the given tools
func (c *OpenRouterClient) Generate(ctx context.Context, messages []Message, defs []*tools.Definition, model string) (*Response, error) {
	toolParams, err := openAITools(defs)
	if err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: openAIMessages(messages),
	}
	if len(toolParams) > 0 {
		params.Tools = toolParams
	}

	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		status := 0
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return nil, classify(KindOpenRouter, model, status, err)
	}

	slog.Debug("openrouter completion",
		"model", model,
		"tools", len(toolParams),
		"duration", time.Since(start))

	if len(resp.Choices) == 0 {
		return nil, &Error{Type: ErrorTypeServiceUnavailable, Provider: KindOpenRouter, Model: model, Message: "no choices in response"}
	}

	msg := resp.Choices[0].Message
	out := &Response{Text: msg.Content}
	for _, call := range msg.ToolCalls {
		args := map[string]any{}
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				slog.Warn("dropping tool call with malformed arguments",
					"tool", call.Function.Name,
					"error", err)
				continue
			}
		}
		out.FunctionCalls = append(out.FunctionCalls, tools.FunctionCall{
			ID:   call.ID,
			Name: call.Function.Name,
			Args: args,
		})
	}
	return out, nil
}

func openAITools(defs []*tools.Definition) ([]openai.ChatCompletionToolParam, error) {
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		params, err := schema.ToOpenAI(def.Name, def.Parameters)
		if err != nil {
			return nil, err
		}
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  openai.FunctionParameters(params),
			},
		})
	}
	return out, nil
}

// openAIMessages converts the conversation. Function responses are only
// produced by looping providers, so they are folded in as plain user text.
func openAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			if m.Content != "" {
				out = append(out, openai.AssistantMessage(m.Content))
			}
		case RoleTool:
			body, _ := json.Marshal(m.Result)
			out = append(out, openai.UserMessage(fmt.Sprintf("Result of %s: %s", m.ToolName, body)))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
