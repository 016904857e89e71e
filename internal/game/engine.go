// Package game runs one chat turn: it builds the prompt from rules context and
// game state, asks the model, executes the function calls it returns and
// records the outcome in the campaign log.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/qninhdt/wyvern-ai/internal/agents"
	"github.com/qninhdt/wyvern-ai/internal/db"
	"github.com/qninhdt/wyvern-ai/internal/dice"
	"github.com/qninhdt/wyvern-ai/internal/metrics"
	"github.com/qninhdt/wyvern-ai/internal/rules"
	"github.com/qninhdt/wyvern-ai/internal/schema"
	"github.com/qninhdt/wyvern-ai/internal/tools"
)

// MaxToolIterations caps the generate calls of one tool loop
const MaxToolIterations = 10

// ErrInvalidTurn rejects a turn request before any store access
var ErrInvalidTurn = errors.New("invalid turn request")

// Providers resolves the provider and model of a turn
type Providers interface {
	Provider(kind agents.Kind) (agents.Provider, error)
	DefaultKind() agents.Kind
	DefaultModel(kind agents.Kind) string
}

// Options configures an Engine
type Options struct {
	Store     db.Store
	Retriever rules.Retriever
	Providers Providers
	Roller    *dice.Roller
	Metrics   *metrics.Recorder

	RulesLimit        int
	MaxToolIterations int
}

// Engine is the turn orchestrator
type Engine struct {
	store     db.Store
	retriever rules.Retriever
	providers Providers
	roller    *dice.Roller
	metrics   *metrics.Recorder

	rulesLimit    int
	maxIterations int
}

// NewEngine creates an orchestrator
func NewEngine(opts Options) *Engine {
	if opts.RulesLimit <= 0 {
		opts.RulesLimit = rules.DefaultLimit
	}
	if opts.MaxToolIterations <= 0 {
		opts.MaxToolIterations = MaxToolIterations
	}
	if opts.Roller == nil {
		opts.Roller = dice.NewRoller(nil)
	}
	return &Engine{
		store:         opts.Store,
		retriever:     opts.Retriever,
		providers:     opts.Providers,
		roller:        opts.Roller,
		metrics:       opts.Metrics,
		rulesLimit:    opts.RulesLimit,
		maxIterations: opts.MaxToolIterations,
	}
}

// TurnRequest is one chat turn
type TurnRequest struct {
	CampaignID string
	Messages   []db.ChatMessage
	Model      string
	Provider   string
}

// TurnResult is the reply to a turn. On failure Text holds a user-safe message.
type TurnResult struct {
	Text          string               `json:"text"`
	FunctionCalls []tools.FunctionCall `json:"functionCalls,omitempty"`

	Provider agents.Kind `json:"-"`
	Model    string      `json:"-"`
	Intent   Intent      `json:"-"`
}

// latestUserMessage returns the last message sent by the user
func latestUserMessage(msgs []db.ChatMessage) (db.ChatMessage, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == string(agents.RoleUser) {
			return msgs[i], true
		}
	}
	return db.ChatMessage{}, false
}

// RunTurn drives BuildContext, Generate, ExecuteCalls and Fold for one turn.
// Provider failures are retried once without tools; when that fails too the
// result carries the user-safe message alongside the classified error.
func (e *Engine) RunTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if strings.TrimSpace(req.CampaignID) == "" {
		return nil, fmt.Errorf("%w: campaignId is required", ErrInvalidTurn)
	}
	latest, ok := latestUserMessage(req.Messages)
	if !ok {
		return nil, fmt.Errorf("%w: no user message", ErrInvalidTurn)
	}

	kind, err := agents.ParseKind(req.Provider, e.providers.DefaultKind())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTurn, err)
	}
	model := req.Model
	if model == "" {
		model = e.providers.DefaultModel(kind)
	}
	if model == "" {
		return nil, fmt.Errorf("%w: no model configured for %s", ErrInvalidTurn, kind)
	}

	start := time.Now()
	result := &TurnResult{Provider: kind, Model: model}

	provider, err := e.providers.Provider(kind)
	if err != nil {
		return e.fail(result, start, err)
	}

	// BuildContext
	result.Intent = ClassifyIntent(latest.Content)
	state := e.loadState(ctx, req.CampaignID)
	rulesContext := e.retrieve(ctx, latest.Content)
	convo := e.conversation(result.Intent, state, rulesContext, req.Messages)

	turn := &turnState{
		campaignID: req.CampaignID,
		store:      e.store,
		roller:     e.roller,
		retriever:  e.retriever,
	}
	registry := newToolset(turn)
	defs := registry.List()

	// Generate
	outcome := "ok"
	resp, err := provider.Generate(ctx, convo, defs, model)
	if err != nil {
		e.providerFailed(kind, model, err)

		var serr *schema.Error
		if errors.As(err, &serr) {
			return e.fail(result, start, err)
		}

		slog.Warn("generate failed, retrying without tools",
			"provider", kind,
			"model", model,
			"error", err)
		outcome = "fallback"
		resp, err = provider.Generate(ctx, convo, nil, model)
		if err != nil {
			e.providerFailed(kind, model, err)
			return e.fail(result, start, err)
		}
	}

	// ExecuteCalls
	texts := appendText(nil, resp.Text)
	result.FunctionCalls = append(result.FunctionCalls, resp.FunctionCalls...)
	executed := e.execute(ctx, registry, resp.FunctionCalls)

	if kind.SupportsToolLoop() && outcome == "ok" {
		var loopTexts []string
		loopTexts, executed, err = e.toolLoop(ctx, provider, model, convo, registry, resp, executed, result)
		texts = append(texts, loopTexts...)
		if err != nil && len(texts) == 0 && len(tools.VisibleText(executed)) == 0 {
			return e.fail(result, start, err)
		}
	}

	// Fold
	result.Text = fold(texts, executed)
	if result.Text == "" {
		if narration, ok := turn.loggedNarration(); ok {
			result.Text = narration
		}
	}

	e.finish(ctx, req.CampaignID, latest, result, turn)
	e.metrics.ObserveTurn(string(kind), outcome, time.Since(start))

	slog.Info("turn completed",
		"campaign", req.CampaignID,
		"provider", kind,
		"model", model,
		"intent", result.Intent,
		"calls", len(result.FunctionCalls),
		"outcome", outcome,
		"duration", time.Since(start))
	return result, nil
}

// toolLoop sends function responses back to the model until it stops calling
// tools or the iteration cap is reached. The first generate call counts.
func (e *Engine) toolLoop(
	ctx context.Context,
	provider agents.Provider,
	model string,
	convo []agents.Message,
	registry *tools.Registry,
	resp *agents.Response,
	executed []tools.CallResult,
	result *TurnResult,
) ([]string, []tools.CallResult, error) {
	var texts []string
	defs := registry.List()
	pending := executed
	rounds := 1

	for len(pending) > 0 && rounds < e.maxIterations {
		calls := make([]tools.FunctionCall, 0, len(pending))
		for _, cr := range pending {
			calls = append(calls, cr.Call)
		}
		convo = append(convo, agents.Message{Role: agents.RoleAssistant, Content: resp.Text, FunctionCalls: calls})
		for _, cr := range pending {
			convo = append(convo, agents.Message{
				Role:       agents.RoleTool,
				ToolName:   cr.Call.Name,
				ToolCallID: cr.Call.ID,
				Result:     toolResponse(cr),
			})
		}

		next, err := provider.Generate(ctx, convo, defs, model)
		rounds++
		if err != nil {
			e.providerFailed(provider.Kind(), model, err)
			slog.Warn("tool loop generate failed",
				"provider", provider.Kind(),
				"model", model,
				"round", rounds,
				"error", err)
			e.metrics.ToolLoop(rounds)
			return texts, executed, err
		}
		resp = next

		texts = appendText(texts, resp.Text)
		result.FunctionCalls = append(result.FunctionCalls, resp.FunctionCalls...)
		pending = e.execute(ctx, registry, resp.FunctionCalls)
		executed = append(executed, pending...)
	}

	if len(pending) > 0 {
		slog.Warn("tool loop stopped at iteration cap",
			"provider", provider.Kind(),
			"model", model,
			"rounds", rounds)
	}
	e.metrics.ToolLoop(rounds)
	return texts, executed, nil
}

// execute runs resolved calls and logs failures. Tool errors never fail the turn.
func (e *Engine) execute(ctx context.Context, registry *tools.Registry, calls []tools.FunctionCall) []tools.CallResult {
	for _, c := range calls {
		if _, ok := registry.Get(c.Name); !ok {
			slog.Debug("skipping unknown function call", "name", c.Name)
			e.metrics.ToolCall(c.Name, "unknown")
		}
	}

	results := registry.ExecuteCalls(ctx, calls)
	for _, r := range results {
		if r.Err != nil {
			slog.Warn("function call failed",
				"name", r.Call.Name,
				"args", r.Call.Args,
				"error", r.Err)
			e.metrics.ToolCall(r.Call.Name, "error")
			continue
		}
		e.metrics.ToolCall(r.Call.Name, "ok")
	}
	return results
}

func toolResponse(cr tools.CallResult) map[string]any {
	if cr.Err != nil {
		return map[string]any{"error": cr.Err.Error()}
	}
	out := map[string]any{"result": cr.Result.Text}
	if cr.Result.Data != nil {
		out["data"] = cr.Result.Data
	}
	return out
}

func appendText(texts []string, text string) []string {
	if t := strings.TrimSpace(text); t != "" {
		return append(texts, t)
	}
	return texts
}

// fold merges narration with the user-visible tool results
func fold(texts []string, executed []tools.CallResult) string {
	parts := append([]string{}, texts...)
	if visible := tools.VisibleText(executed); len(visible) > 0 {
		parts = append(parts, strings.Join(visible, "\n"))
	}
	return strings.Join(parts, "\n\n")
}

func (e *Engine) loadState(ctx context.Context, campaignID string) *db.GameState {
	state, err := db.LoadGameState(ctx, e.store, campaignID)
	if err != nil {
		slog.Warn("game state load failed, using an empty state",
			"campaign", campaignID,
			"error", err)
		return db.NewGameState()
	}
	return state
}

// retrieve returns the rules context for query, degrading to NoContext
func (e *Engine) retrieve(ctx context.Context, query string) string {
	if e.retriever == nil {
		return rules.NoContext
	}

	docs, err := e.retriever.Search(ctx, query, e.rulesLimit)
	if err != nil {
		slog.Warn("rules retrieval failed, continuing without context", "error", err)
		e.metrics.Retrieval("failed")
		return rules.NoContext
	}
	if len(docs) == 0 {
		e.metrics.Retrieval("empty")
		return rules.NoContext
	}
	e.metrics.Retrieval("hit")
	return rules.FormatContext(docs)
}

func (e *Engine) conversation(intent Intent, state *db.GameState, rulesContext string, msgs []db.ChatMessage) []agents.Message {
	prompt := agents.PromptDM
	if intent == IntentRules {
		prompt = agents.PromptRules
	}
	system := agents.RenderPrompt(prompt, map[string]string{
		"game_state":    RenderState(state),
		"rules_context": rulesContext,
	})

	convo := make([]agents.Message, 0, len(msgs)+1)
	convo = append(convo, agents.Message{Role: agents.RoleSystem, Content: system})
	for _, m := range msgs {
		// only the server writes system instructions
		role := agents.Role(m.Role)
		if role != agents.RoleUser && role != agents.RoleAssistant {
			continue
		}
		convo = append(convo, agents.Message{Role: role, Content: m.Content})
	}
	return convo
}

func (e *Engine) providerFailed(kind agents.Kind, model string, err error) {
	errType := "misconfigured"
	if t, ok := agents.ErrorTypeOf(err); ok {
		errType = t.String()
	}
	e.metrics.ProviderError(string(kind), errType)
	slog.Error("provider call failed",
		"provider", kind,
		"model", model,
		"type", errType,
		"error", err)
}

// fail returns the user-safe message with the error
func (e *Engine) fail(result *TurnResult, start time.Time, err error) (*TurnResult, error) {
	result.Text = agents.UserMessage(err)
	e.metrics.ObserveTurn(string(result.Provider), "failed", time.Since(start))
	return result, err
}

// finish appends the campaign log entry and stores the exchange. Persistence
// errors are logged only.
func (e *Engine) finish(ctx context.Context, campaignID string, latest db.ChatMessage, result *TurnResult, turn *turnState) {
	narration, ok := turn.loggedNarration()
	if !ok {
		narration = result.Text
	}

	entry := db.CampaignLogEntry{
		CampaignID:     campaignID,
		Timestamp:      time.Now(),
		UserMessage:    latest.Content,
		Narration:      narration,
		UpdatesApplied: turn.updates(),
	}
	if err := e.store.AppendLog(ctx, entry); err != nil {
		slog.Error("failed to append campaign log",
			"campaign", campaignID,
			"error", err)
	}

	user := latest
	user.CampaignID = campaignID
	if user.Timestamp.IsZero() {
		user.Timestamp = time.Now()
	}
	reply := db.ChatMessage{
		ID:         uuid.NewString(),
		CampaignID: campaignID,
		Role:       string(agents.RoleAssistant),
		Content:    result.Text,
		Timestamp:  time.Now(),
	}
	if !reply.Timestamp.After(user.Timestamp) {
		reply.Timestamp = user.Timestamp.Add(time.Millisecond)
	}
	if err := e.store.SaveMessages(ctx, []db.ChatMessage{user, reply}); err != nil {
		slog.Error("failed to save chat messages",
			"campaign", campaignID,
			"error", err)
	}
}
