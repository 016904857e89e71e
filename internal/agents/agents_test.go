package agents

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/qninhdt/wyvern-ai/internal/schema"
	"github.com/qninhdt/wyvern-ai/internal/tools"
)

func rollDieDefinition() *tools.Definition {
	return &tools.Definition{
		Name:        "rollDie",
		Description: "Roll a die with specified sides, advantage/disadvantage, and offset",
		Parameters: &schema.Parameters{Properties: []*schema.Field{
			{Name: "sides", Type: schema.TypeNumber, Required: true},
			{Name: "advantage", Type: schema.TypeBoolean},
			{Name: "offset", Type: schema.TypeNumber},
		}},
	}
}

func brokenDefinition() *tools.Definition {
	return &tools.Definition{
		Name: "broken",
		Parameters: &schema.Parameters{Properties: []*schema.Field{
			{Name: "inventory", Type: schema.TypeArray},
		}},
	}
}

func conversation() []Message {
	return []Message{
		{Role: RoleSystem, Content: "You are the DM"},
		{Role: RoleUser, Content: "Roll a d20 for me"},
	}
}

const completionBody = `{
  "id": "gen-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "mistralai/mistral-7b-instruct:free",
  "choices": [{
    "index": 0,
    "finish_reason": "tool_calls",
    "message": {
      "role": "assistant",
      "content": "The dice clatter across the table.",
      "tool_calls": [{
        "id": "call_1",
        "type": "function",
        "function": {"name": "rollDie", "arguments": "{\"sides\":20,\"advantage\":true}"}
      }]
    }
  }]
}`

// TestOpenRouterGenerate checks the request shape and response parsing
func TestOpenRouterGenerate(t *testing.T) {
	var (
		gotPath, gotTitle, gotReferer string
		gotBody                       map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotTitle = r.Header.Get("X-Title")
		gotReferer = r.Header.Get("HTTP-Referer")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, completionBody)
	}))
	defer srv.Close()

	client, err := NewOpenRouterClient(OpenRouterOptions{
		APIKey:  "test-key",
		BaseURL: srv.URL + "/",
		Referer: "http://localhost:3000",
		Title:   "Wyvern-AI-DM",
	})
	if err != nil {
		t.Fatalf("NewOpenRouterClient failed: %v", err)
	}

	resp, err := client.Generate(context.Background(), conversation(), []*tools.Definition{rollDieDefinition()}, "mistralai/mistral-7b-instruct:free")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if gotPath != "/chat/completions" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotTitle != "Wyvern-AI-DM" || gotReferer != "http://localhost:3000" {
		t.Errorf("missing attribution headers: title=%q referer=%q", gotTitle, gotReferer)
	}

	toolList, _ := gotBody["tools"].([]any)
	if len(toolList) != 1 {
		t.Fatalf("expected 1 tool in request, got %d", len(toolList))
	}
	fn := toolList[0].(map[string]any)["function"].(map[string]any)
	if fn["name"] != "rollDie" {
		t.Errorf("unexpected tool name %v", fn["name"])
	}
	required := fn["parameters"].(map[string]any)["required"].([]any)
	if len(required) != 1 || required[0] != "sides" {
		t.Errorf("unexpected required list %v", required)
	}

	if resp.Text != "The dice clatter across the table." {
		t.Errorf("unexpected text %q", resp.Text)
	}
	if len(resp.FunctionCalls) != 1 {
		t.Fatalf("expected 1 function call, got %d", len(resp.FunctionCalls))
	}
	call := resp.FunctionCalls[0]
	if call.Name != "rollDie" || call.ID != "call_1" {
		t.Errorf("unexpected call %+v", call)
	}
	if call.Args["sides"] != float64(20) || call.Args["advantage"] != true {
		t.Errorf("unexpected args %v", call.Args)
	}
}

// TestOpenRouterErrorClassification maps status codes onto error types
func TestOpenRouterErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorType
	}{
		{http.StatusTooManyRequests, ErrorTypeRateLimit},
		{http.StatusUnauthorized, ErrorTypeAuth},
		{http.StatusServiceUnavailable, ErrorTypeServiceUnavailable},
		{http.StatusNotFound, ErrorTypeModelUnavailable},
		{http.StatusBadRequest, ErrorTypeTransport},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				io.WriteString(w, `{"error":{"message":"upstream said no"}}`)
			}))
			defer srv.Close()

			client, _ := NewOpenRouterClient(OpenRouterOptions{APIKey: "k", BaseURL: srv.URL + "/"})
			_, err := client.Generate(context.Background(), conversation(), nil, "some/model")

			got, ok := ErrorTypeOf(err)
			if !ok {
				t.Fatalf("expected provider error, got %v", err)
			}
			if got != tt.want {
				t.Errorf("status %d: got %s, want %s", tt.status, got, tt.want)
			}
			if n := atomic.LoadInt32(&calls); n != 1 {
				t.Errorf("expected exactly one request, got %d", n)
			}
		})
	}
}

// TestOpenRouterTimeout checks the bounded wait is reported as a timeout
func TestOpenRouterTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client, _ := NewOpenRouterClient(OpenRouterOptions{APIKey: "k", BaseURL: srv.URL + "/", Timeout: 50 * time.Millisecond})
	_, err := client.Generate(context.Background(), conversation(), nil, "some/model")

	if got, _ := ErrorTypeOf(err); got != ErrorTypeTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
	if HTTPStatus(err) != http.StatusGatewayTimeout {
		t.Errorf("expected 504, got %d", HTTPStatus(err))
	}
}

// TestSchemaErrorBeforeRequest checks malformed tools never reach the network
func TestSchemaErrorBeforeRequest(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	openRouter, _ := NewOpenRouterClient(OpenRouterOptions{APIKey: "k", BaseURL: srv.URL + "/"})
	ollama, _ := NewOllamaClient(OllamaOptions{BaseURL: srv.URL})
	gemini, _ := NewGeminiClient(GeminiOptions{APIKey: "k", BaseURL: srv.URL})

	for _, p := range []Provider{openRouter, ollama, gemini} {
		_, err := p.Generate(context.Background(), conversation(), []*tools.Definition{brokenDefinition()}, "m")
		var serr *schema.Error
		if !errors.As(err, &serr) {
			t.Errorf("%s: expected schema error, got %v", p.Kind(), err)
			continue
		}
		if serr.Tool != "broken" || serr.Path != "inventory" {
			t.Errorf("%s: unexpected schema error %+v", p.Kind(), serr)
		}
	}
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
}

type fakeOllama struct {
	models   []string
	tagsCode int

	chatCalls int32
	lastChat  map[string]any
}

func (f *fakeOllama) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		if f.tagsCode != 0 {
			w.WriteHeader(f.tagsCode)
			return
		}
		models := make([]map[string]any, 0, len(f.models))
		for _, m := range f.models {
			models = append(models, map[string]any{"name": m, "model": m})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"models": models})
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.chatCalls, 1)
		if err := json.NewDecoder(r.Body).Decode(&f.lastChat); err != nil {
			t.Errorf("decode chat request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"model":"llama3.2:3b","created_at":"2025-01-01T00:00:00Z","message":{"role":"assistant","content":"You swing at the goblin.","tool_calls":[{"function":{"name":"rollDie","arguments":{"sides":20}}}]},"done":true,"done_reason":"stop"}`)
	})
	return mux
}

// TestOllamaGenerate checks context trimming, options and tool call parsing
func TestOllamaGenerate(t *testing.T) {
	fake := &fakeOllama{models: []string{"llama3.2:3b", "mistral:7b"}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	client, err := NewOllamaClient(OllamaOptions{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewOllamaClient failed: %v", err)
	}

	msgs := []Message{{Role: RoleSystem, Content: "You are the DM"}}
	for i := 0; i < 10; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		msgs = append(msgs, Message{Role: role, Content: strings.Repeat("x", i+1)})
	}

	resp, err := client.Generate(context.Background(), msgs, []*tools.Definition{rollDieDefinition()}, "llama3.2:3b")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	sent := fake.lastChat["messages"].([]any)
	if len(sent) != 1+ollamaContextMessages {
		t.Fatalf("expected %d messages, got %d", 1+ollamaContextMessages, len(sent))
	}
	if sent[0].(map[string]any)["role"] != "system" {
		t.Errorf("system prompt was not kept first: %v", sent[0])
	}
	if last := sent[len(sent)-1].(map[string]any)["content"]; last != strings.Repeat("x", 10) {
		t.Errorf("latest message not sent last: %v", last)
	}
	if fake.lastChat["stream"] != false {
		t.Errorf("expected non-streaming request, got %v", fake.lastChat["stream"])
	}
	opts := fake.lastChat["options"].(map[string]any)
	if opts["temperature"] != 0.3 || opts["num_ctx"] != float64(2048) {
		t.Errorf("unexpected options %v", opts)
	}

	if resp.Text != "You swing at the goblin." {
		t.Errorf("unexpected text %q", resp.Text)
	}
	if len(resp.FunctionCalls) != 1 || resp.FunctionCalls[0].Name != "rollDie" {
		t.Fatalf("unexpected calls %+v", resp.FunctionCalls)
	}
	if resp.FunctionCalls[0].Args["sides"] != float64(20) {
		t.Errorf("unexpected args %v", resp.FunctionCalls[0].Args)
	}
	if resp.FunctionCalls[0].ID == "" {
		t.Error("expected a generated call id")
	}
}

// TestOllamaToolsNestedObject checks object fields keep their properties
func TestOllamaToolsNestedObject(t *testing.T) {
	def := &tools.Definition{
		Name: "updatePlayer",
		Parameters: &schema.Parameters{Properties: []*schema.Field{
			{Name: "id", Type: schema.TypeString, Required: true},
			{Name: "data", Type: schema.TypeObject, Required: true, Properties: []*schema.Field{
				{Name: "hp", Type: schema.TypeNumber, Required: true},
				{Name: "name", Type: schema.TypeString},
				{Name: "class", Type: schema.TypeArray, Items: &schema.Field{
					Type: schema.TypeObject,
					Properties: []*schema.Field{
						{Name: "className", Type: schema.TypeString, Required: true},
					},
				}},
			}},
		}},
	}

	out, err := ollamaTools([]*tools.Definition{def})
	if err != nil {
		t.Fatalf("ollamaTools failed: %v", err)
	}
	body, err := json.Marshal(out[0].Function.Parameters)
	if err != nil {
		t.Fatalf("marshal parameters: %v", err)
	}
	var params map[string]any
	if err := json.Unmarshal(body, &params); err != nil {
		t.Fatalf("unmarshal parameters: %v", err)
	}

	if req, _ := params["required"].([]any); len(req) != 2 || req[0] != "id" || req[1] != "data" {
		t.Errorf("unexpected top-level required %v", params["required"])
	}
	data := params["properties"].(map[string]any)["data"].(map[string]any)
	if data["type"] != "object" {
		t.Errorf("unexpected data type %v", data["type"])
	}
	if _, ok := data["items"]; ok {
		t.Errorf("object field must not carry items: %v", data)
	}
	props, ok := data["properties"].(map[string]any)
	if !ok {
		t.Fatalf("object field 'data' has no properties: %v", data)
	}
	if hp, _ := props["hp"].(map[string]any); hp["type"] != "number" {
		t.Errorf("unexpected hp property %v", props["hp"])
	}
	if desc, _ := data["description"].(string); !strings.Contains(desc, "Required fields: hp") {
		t.Errorf("nested required fields not noted: %q", desc)
	}

	items := props["class"].(map[string]any)["items"].(map[string]any)
	if _, ok := items["properties"].(map[string]any)["className"]; !ok {
		t.Errorf("array item properties lost: %v", items)
	}
	if req, _ := items["required"].([]any); len(req) != 1 || req[0] != "className" {
		t.Errorf("array item required lost: %v", items["required"])
	}
}

// TestOllamaModelNotInstalled checks the model name is carried in the error
func TestOllamaModelNotInstalled(t *testing.T) {
	fake := &fakeOllama{models: []string{"mistral:7b"}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	client, _ := NewOllamaClient(OllamaOptions{BaseURL: srv.URL})
	_, err := client.Generate(context.Background(), conversation(), nil, "qwen2.5:7b")

	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if perr.Type != ErrorTypeModelUnavailable || perr.Model != "qwen2.5:7b" {
		t.Errorf("unexpected error %+v", perr)
	}
	if atomic.LoadInt32(&fake.chatCalls) != 0 {
		t.Error("chat must not be called for a missing model")
	}
	if msg := UserMessage(err); !strings.Contains(msg, "ollama pull qwen2.5:7b") {
		t.Errorf("unexpected user message %q", msg)
	}
	if HTTPStatus(err) != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", HTTPStatus(err))
	}
}

// TestOllamaListFailureProceeds checks a broken model listing does not block chat
func TestOllamaListFailureProceeds(t *testing.T) {
	fake := &fakeOllama{tagsCode: http.StatusInternalServerError}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	client, _ := NewOllamaClient(OllamaOptions{BaseURL: srv.URL})
	if _, err := client.Generate(context.Background(), conversation(), nil, "llama3.2:3b"); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if atomic.LoadInt32(&fake.chatCalls) != 1 {
		t.Error("expected chat to be attempted")
	}
}

// TestOllamaUnreachable checks connection failures are transport errors
func TestOllamaUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, _ := NewOllamaClient(OllamaOptions{BaseURL: url})
	_, err := client.Generate(context.Background(), conversation(), nil, "llama3.2:3b")
	if got, _ := ErrorTypeOf(err); got != ErrorTypeTransport {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !strings.Contains(UserMessage(err), "Ollama") {
		t.Errorf("unexpected user message %q", UserMessage(err))
	}
}

// TestGeminiContents checks roles, system instruction and response grouping
func TestGeminiContents(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "rules"},
		{Role: RoleUser, Content: "I attack"},
		{Role: RoleAssistant, FunctionCalls: []tools.FunctionCall{
			{Name: "rollDie", Args: map[string]any{"sides": 20}},
			{Name: "updateMonster", Args: map[string]any{"id": "goblin"}},
		}},
		{Role: RoleTool, ToolName: "rollDie", Result: map[string]any{"total": 14}},
		{Role: RoleTool, ToolName: "updateMonster", Result: map[string]any{"ok": true}},
	}

	contents, system := geminiContents(msgs)
	if system != "rules" {
		t.Errorf("unexpected system instruction %q", system)
	}
	if len(contents) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(contents))
	}
	if contents[1].Role != "model" || len(contents[1].Parts) != 2 || contents[1].Parts[0].FunctionCall == nil {
		t.Errorf("unexpected model content %+v", contents[1])
	}
	if contents[2].Role != "user" || len(contents[2].Parts) != 2 {
		t.Fatalf("expected grouped function responses, got %+v", contents[2])
	}
	if resp := contents[2].Parts[0].FunctionResponse; resp == nil || resp.Name != "rollDie" || resp.Response["total"] != 14 {
		t.Errorf("unexpected function response %+v", contents[2].Parts[0])
	}
}

func TestGeminiStatus(t *testing.T) {
	if got := geminiStatus(errors.New("Error 429, Message: quota, Status: RESOURCE_EXHAUSTED, Details: []")); got != 429 {
		t.Errorf("expected 429, got %d", got)
	}
	if got := geminiStatus(errors.New("dial tcp: connection refused")); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}

const geminiBody = `{
  "candidates": [{
    "content": {
      "role": "model",
      "parts": [
        {"text": "The goblin snarls."},
        {"functionCall": {"id": "fc-1", "name": "rollDie", "args": {"sides": 20, "advantage": true}}}
      ]
    },
    "finishReason": "STOP"
  }]
}`

// TestGeminiGenerate checks declarations, call parsing and the function
// response round
func TestGeminiGenerate(t *testing.T) {
	var (
		paths  []string
		bodies []map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		paths = append(paths, r.URL.Path)
		bodies = append(bodies, body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, geminiBody)
	}))
	defer srv.Close()

	client, err := NewGeminiClient(GeminiOptions{APIKey: "k", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewGeminiClient failed: %v", err)
	}

	defs := []*tools.Definition{rollDieDefinition()}
	resp, err := client.Generate(context.Background(), conversation(), defs, "gemini-2.0-flash")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if !strings.HasSuffix(paths[0], "models/gemini-2.0-flash:generateContent") {
		t.Errorf("unexpected path %q", paths[0])
	}
	first := bodies[0]
	toolList, _ := first["tools"].([]any)
	if len(toolList) != 1 {
		t.Fatalf("expected 1 tool entry, got %v", first["tools"])
	}
	decls, _ := toolList[0].(map[string]any)["functionDeclarations"].([]any)
	if len(decls) != 1 {
		t.Fatalf("expected 1 function declaration, got %v", toolList[0])
	}
	decl := decls[0].(map[string]any)
	if decl["name"] != "rollDie" {
		t.Errorf("unexpected declaration %v", decl)
	}
	required, _ := decl["parameters"].(map[string]any)["required"].([]any)
	if len(required) != 1 || required[0] != "sides" {
		t.Errorf("unexpected required list %v", decl["parameters"])
	}
	if _, ok := first["systemInstruction"]; !ok {
		t.Error("expected a system instruction")
	}
	if contents, _ := first["contents"].([]any); len(contents) != 1 {
		t.Errorf("expected only the user turn in contents, got %v", first["contents"])
	}

	if resp.Text != "The goblin snarls." {
		t.Errorf("unexpected text %q", resp.Text)
	}
	if len(resp.FunctionCalls) != 1 {
		t.Fatalf("expected 1 function call, got %d", len(resp.FunctionCalls))
	}
	call := resp.FunctionCalls[0]
	if call.ID != "fc-1" || call.Name != "rollDie" {
		t.Errorf("unexpected call %+v", call)
	}
	if call.Args["sides"] != float64(20) || call.Args["advantage"] != true {
		t.Errorf("unexpected args %v", call.Args)
	}

	round := append(conversation(),
		Message{Role: RoleAssistant, FunctionCalls: resp.FunctionCalls},
		Message{Role: RoleTool, ToolCallID: "fc-1", ToolName: "rollDie", Result: map[string]any{"total": 17}},
	)
	if _, err := client.Generate(context.Background(), round, defs, "gemini-2.0-flash"); err != nil {
		t.Fatalf("second Generate failed: %v", err)
	}

	contents, _ := bodies[1]["contents"].([]any)
	if len(contents) != 3 {
		t.Fatalf("expected user, model and response contents, got %v", bodies[1]["contents"])
	}
	model := contents[1].(map[string]any)
	if model["role"] != "model" {
		t.Errorf("unexpected model content %v", model)
	}
	echoed := model["parts"].([]any)[0].(map[string]any)["functionCall"].(map[string]any)
	if echoed["id"] != "fc-1" || echoed["name"] != "rollDie" {
		t.Errorf("unexpected echoed call %v", echoed)
	}
	answer := contents[2].(map[string]any)
	if answer["role"] != "user" {
		t.Errorf("unexpected response content %v", answer)
	}
	fr := answer["parts"].([]any)[0].(map[string]any)["functionResponse"].(map[string]any)
	if fr["id"] != "fc-1" || fr["name"] != "rollDie" {
		t.Errorf("unexpected function response %v", fr)
	}
	if result, _ := fr["response"].(map[string]any); result["total"] != float64(17) {
		t.Errorf("unexpected function response payload %v", fr["response"])
	}
}

// TestGeminiErrorClassification maps API failures onto error types
func TestGeminiErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   ErrorType
	}{
		{http.StatusTooManyRequests, `{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`, ErrorTypeRateLimit},
		{http.StatusNotFound, `{"error":{"code":404,"message":"models/nope is not found","status":"NOT_FOUND"}}`, ErrorTypeModelUnavailable},
		{http.StatusForbidden, `{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`, ErrorTypeAuth},
		{http.StatusServiceUnavailable, ``, ErrorTypeServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			client, _ := NewGeminiClient(GeminiOptions{APIKey: "k", BaseURL: srv.URL})
			_, err := client.Generate(context.Background(), conversation(), nil, "gemini-2.0-flash")

			var perr *Error
			if !errors.As(err, &perr) {
				t.Fatalf("expected provider error, got %v", err)
			}
			if perr.Type != tt.want || perr.StatusCode != tt.status {
				t.Errorf("status %d: got %s (%d), want %s", tt.status, perr.Type, perr.StatusCode, tt.want)
			}
			if n := atomic.LoadInt32(&calls); n != 1 {
				t.Errorf("expected exactly one request, got %d", n)
			}
		})
	}
}

// TestGeminiTimeout checks the bounded wait is reported as a timeout
func TestGeminiTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client, _ := NewGeminiClient(GeminiOptions{APIKey: "k", BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := client.Generate(context.Background(), conversation(), nil, "gemini-2.0-flash")

	if got, _ := ErrorTypeOf(err); got != ErrorTypeTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
	if HTTPStatus(err) != http.StatusGatewayTimeout {
		t.Errorf("expected 504, got %d", HTTPStatus(err))
	}
}

func TestUserMessageAndStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		text   string
	}{
		{&Error{Type: ErrorTypeRateLimit, Provider: KindOpenRouter}, http.StatusTooManyRequests, "too many requests"},
		{&Error{Type: ErrorTypeAuth, Provider: KindGemini}, http.StatusBadGateway, "credentials"},
		{&Error{Type: ErrorTypeServiceUnavailable, Provider: KindOpenRouter}, http.StatusServiceUnavailable, "temporarily unavailable"},
		{&Error{Type: ErrorTypeTimeout, Provider: KindOllama}, http.StatusGatewayTimeout, "local model took too long"},
		{&Error{Type: ErrorTypeModelUnavailable, Provider: KindOpenRouter, Model: "x/y"}, http.StatusServiceUnavailable, "Model x/y is not available"},
		{&schema.Error{Tool: "t", Reason: "bad"}, http.StatusInternalServerError, "misconfigured"},
		{errors.New("boom"), http.StatusInternalServerError, "something went wrong"},
	}

	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.status {
			t.Errorf("%v: status %d, want %d", tt.err, got, tt.status)
		}
		msg := UserMessage(tt.err)
		if !strings.Contains(msg, tt.text) {
			t.Errorf("%v: message %q does not mention %q", tt.err, msg, tt.text)
		}
		if strings.Contains(msg, "boom") {
			t.Errorf("internal error text leaked: %q", msg)
		}
	}
}

func TestClassifyDeadline(t *testing.T) {
	err := classify(KindGemini, "gemini-2.0-flash", 0, context.DeadlineExceeded)
	if err.Type != ErrorTypeTimeout {
		t.Errorf("expected timeout, got %s", err.Type)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("cause should stay reachable")
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind("", KindOllama); err != nil || k != KindOllama {
		t.Errorf("empty kind: got %q, %v", k, err)
	}
	if k, err := ParseKind(" Gemini ", KindOpenRouter); err != nil || k != KindGemini {
		t.Errorf("gemini: got %q, %v", k, err)
	}
	if _, err := ParseKind("groq", KindOpenRouter); err == nil {
		t.Error("expected error for unsupported provider")
	}
	if !KindGemini.SupportsToolLoop() || KindOllama.SupportsToolLoop() || KindOpenRouter.SupportsToolLoop() {
		t.Error("only gemini loops over tool results")
	}
}

func TestFactory(t *testing.T) {
	f := NewFactory(Options{
		Ollama:       OllamaOptions{BaseURL: "http://ollama:11434"},
		DefaultModel: map[Kind]string{KindOllama: "llama3.2:3b"},
	})

	if f.DefaultKind() != KindOpenRouter {
		t.Errorf("unexpected default kind %q", f.DefaultKind())
	}
	if f.DefaultModel(KindOllama) != "llama3.2:3b" {
		t.Errorf("unexpected default model %q", f.DefaultModel(KindOllama))
	}

	_, err := f.Provider(KindOpenRouter)
	if got, _ := ErrorTypeOf(err); got != ErrorTypeAuth {
		t.Errorf("expected auth error without API key, got %v", err)
	}

	first, err := f.Provider(KindOllama)
	if err != nil {
		t.Fatalf("Provider failed: %v", err)
	}
	second, _ := f.Provider(KindOllama)
	if first != second {
		t.Error("expected the provider to be reused")
	}

	if _, err := f.Provider(Kind("groq")); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestRenderPrompt(t *testing.T) {
	out := RenderPrompt(PromptDM, map[string]string{
		"game_state":    `{"players":{"p1":{"hp":10}}}`,
		"rules_context": "Advantage: roll two d20s",
	})
	if !strings.Contains(out, `"hp":10`) || !strings.Contains(out, "roll two d20s") {
		t.Errorf("placeholders not filled: %s", out)
	}
	if strings.Contains(out, "{{") {
		t.Errorf("unfilled placeholder left: %s", out)
	}
}

func TestRenderPromptFallback(t *testing.T) {
	PromptDir = t.TempDir()
	defer func() { PromptDir = "" }()

	wd, _ := os.Getwd()
	if err := os.Chdir(PromptDir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(wd)

	out := RenderPrompt(PromptRules, map[string]string{"game_state": "{}", "rules_context": "ctx"})
	if !strings.Contains(out, "rules assistant") || !strings.Contains(out, "ctx") {
		t.Errorf("expected inline fallback, got %s", out)
	}
}

// TestOpenRouterLive runs against the real API when a key is configured
func TestOpenRouterLive(t *testing.T) {
	key := os.Getenv("OPENROUTER_API_KEY")
	if key == "" {
		t.Skip("OPENROUTER_API_KEY not set, skipping integration test")
	}

	client, err := NewOpenRouterClient(OpenRouterOptions{APIKey: key})
	if err != nil {
		t.Fatalf("NewOpenRouterClient failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	resp, err := client.Generate(ctx, conversation(), []*tools.Definition{rollDieDefinition()}, "mistralai/mistral-7b-instruct:free")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	t.Logf("Response: %q, calls: %d", resp.Text, len(resp.FunctionCalls))
}
