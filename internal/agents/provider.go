// Package agents adapts the LLM providers behind one Generate interface
package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/qninhdt/wyvern-ai/internal/tools"
)

// DefaultTimeout bounds a single provider call
const DefaultTimeout = 60 * time.Second

// Kind identifies a provider implementation
type Kind string

const (
	KindOpenRouter Kind = "openrouter"
	KindGemini     Kind = "gemini"
	KindOllama     Kind = "ollama"
)

// Kinds lists every supported provider
var Kinds = []Kind{KindOpenRouter, KindGemini, KindOllama}

// ParseKind parses a provider type. An empty string yields fallback.
func ParseKind(s string, fallback Kind) (Kind, error) {
	if s == "" {
		return fallback, nil
	}
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unsupported provider type %q", s)
}

// SupportsToolLoop reports whether function responses can be sent back to the
// model for another round. Other providers get a single pass.
func (k Kind) SupportsToolLoop() bool {
	return k == KindGemini
}

// Role of a chat message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one provider-neutral chat turn
type Message struct {
	Role    Role
	Content string

	// FunctionCalls requested by an assistant turn
	FunctionCalls []tools.FunctionCall

	// Function response fields, set on RoleTool messages
	ToolName   string
	ToolCallID string
	Result     map[string]any
}

// Response is the final output of one Generate call
type Response struct {
	Text          string               `json:"text"`
	FunctionCalls []tools.FunctionCall `json:"functionCalls,omitempty"`
}

// Provider generates a response for messages with an optional tool set
type Provider interface {
	Kind() Kind
	Generate(ctx context.Context, messages []Message, defs []*tools.Definition, model string) (*Response, error)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
