package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/ZeroTricks/lumo-tamer-sub001/internal/commands"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/config"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/logger"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/model"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/queue"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/store"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/upstream"
)

func testLogger() *logger.Logger {
	return logger.New(logger.FromConfig("debug", "text"))
}

type fakeUpstream struct {
	result *upstream.ChatResult
	err    error
	chunks []string
}

func (f *fakeUpstream) ChatWithHistory(ctx context.Context, turns []model.Turn, onChunk upstream.OnChunk, opts upstream.ChatOptions) (*upstream.ChatResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if onChunk != nil {
		for _, c := range f.chunks {
			onChunk(c)
		}
	}
	return f.result, nil
}

func testServerContext(t *testing.T, up *fakeUpstream) *ServerContext {
	t.Helper()
	cfg := &config.Config{
		GinMode:                     gin.TestMode,
		ModelName:                   "lumo",
		GatewayAPIKey:               "secret-key",
		ConversationStoreMaxSize:    10,
		QueueDepth:                  4,
		DeterministicConversationID: true,
		CustomToolsEnabled:          true,
		TitleGenerationEnabled:      true,
		Router: &config.RouterConfig{
			DefaultInstruction: "You are Lumo.",
			ToolBouncePrologue: "Call tools via JSON.",
		},
	}
	log := testLogger()
	reg := commands.NewRegistry()
	reg.Register("echo", func(ctx context.Context, cc commands.Context, args string) string {
		return "echo: " + args
	})
	return &ServerContext{
		Config:   cfg,
		Store:    store.New(cfg.ConversationStoreMaxSize, log),
		Queue:    queue.New(cfg.QueueDepth, log),
		Upstream: up,
		Commands: reg,
		Log:      log,
	}
}

func doRequest(t *testing.T, r *gin.Engine, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer secret-key")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthzIsUnauthenticated(t *testing.T) {
	sc := testServerContext(t, &fakeUpstream{})
	r := NewRouter(sc)
	w := doRequest(t, r, http.MethodGet, "/healthz", "", false)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestChatCompletionsRejectsMissingAuth(t *testing.T) {
	sc := testServerContext(t, &fakeUpstream{})
	r := NewRouter(sc)
	w := doRequest(t, r, http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"user","content":"hi"}]}`, false)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
}

func TestChatCompletionsRejectsWrongKey(t *testing.T) {
	sc := testServerContext(t, &fakeUpstream{})
	r := NewRouter(sc)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(`{}`))
	req.Header.Set("Authorization", "Bearer wrong-key")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestChatCompletionsRejectsEmptyMessages(t *testing.T) {
	sc := testServerContext(t, &fakeUpstream{})
	r := NewRouter(sc)
	w := doRequest(t, r, http.MethodPost, "/v1/chat/completions", `{"messages":[]}`, true)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestChatCompletionsRejectsNoUserMessage(t *testing.T) {
	sc := testServerContext(t, &fakeUpstream{})
	r := NewRouter(sc)
	body := `{"messages":[{"role":"system","content":"be nice"}]}`
	w := doRequest(t, r, http.MethodPost, "/v1/chat/completions", body, true)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestChatCompletionsNonStreamingHappyPath(t *testing.T) {
	up := &fakeUpstream{result: &upstream.ChatResult{Message: "Hi there"}}
	sc := testServerContext(t, up)
	r := NewRouter(sc)

	body := `{"messages":[{"role":"user","content":"hello"}],"user":"alice"}`
	w := doRequest(t, r, http.MethodPost, "/v1/chat/completions", body, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "Hi there" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Fatalf("expected finish_reason stop, got %q", resp.Choices[0].FinishReason)
	}
}

func TestChatCompletionsPersistsConversationWhenStateful(t *testing.T) {
	up := &fakeUpstream{result: &upstream.ChatResult{Message: "Hi there"}}
	sc := testServerContext(t, up)
	r := NewRouter(sc)

	body := `{"messages":[{"role":"user","content":"hello"}],"user":"bob"}`
	w := doRequest(t, r, http.MethodPost, "/v1/chat/completions", body, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	id, _ := deriveConversationID("bob", true)
	conv := sc.Store.Get(id)
	if conv == nil {
		t.Fatal("expected a persisted conversation")
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("expected 2 persisted messages (user + assistant), got %d", len(conv.Messages))
	}
	if conv.Messages[1].Role != model.RoleAssistant || conv.Messages[1].Content != "Hi there" {
		t.Fatalf("unexpected assistant message: %+v", conv.Messages[1])
	}
}

func TestChatCompletionsStatelessWithoutUserField(t *testing.T) {
	up := &fakeUpstream{result: &upstream.ChatResult{Message: "Hi there"}}
	sc := testServerContext(t, up)
	r := NewRouter(sc)

	body := `{"messages":[{"role":"user","content":"hello"}]}`
	w := doRequest(t, r, http.MethodPost, "/v1/chat/completions", body, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(sc.Store.Entries()) != 0 {
		t.Fatalf("expected no persisted conversations for a stateless request, got %d", len(sc.Store.Entries()))
	}
}

func TestChatCompletionsDispatchesEmbeddedCommandWithoutCallingUpstream(t *testing.T) {
	up := &fakeUpstream{err: errBoom}
	sc := testServerContext(t, up)
	r := NewRouter(sc)

	body := `{"messages":[{"role":"user","content":"/echo hello"}]}`
	w := doRequest(t, r, http.MethodPost, "/v1/chat/completions", body, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 (command handled locally), got %d: %s", w.Code, w.Body.String())
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Choices[0].Message.Content != "echo: hello" {
		t.Fatalf("expected the command's reply, got %q", resp.Choices[0].Message.Content)
	}
}

func TestChatCompletionsStreamingEmitsDeltasAndDone(t *testing.T) {
	up := &fakeUpstream{result: &upstream.ChatResult{Message: "Hi there"}, chunks: []string{"Hi ", "there"}}
	sc := testServerContext(t, up)
	r := NewRouter(sc)

	body := `{"messages":[{"role":"user","content":"hello"}],"stream":true}`
	w := doRequest(t, r, http.MethodPost, "/v1/chat/completions", body, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	out := w.Body.String()
	if !strings.Contains(out, `"content":"Hi "`) || !strings.Contains(out, `"content":"there"`) {
		t.Fatalf("expected streamed content deltas, got %s", out)
	}
	if !strings.HasSuffix(strings.TrimSpace(out), "data: [DONE]") {
		t.Fatalf("expected stream terminator, got %s", out)
	}
}

func TestChatCompletionsUpstreamErrorMapsToBadGateway(t *testing.T) {
	up := &fakeUpstream{err: errBoom}
	sc := testServerContext(t, up)
	r := NewRouter(sc)

	body := `{"messages":[{"role":"user","content":"hello"}]}`
	w := doRequest(t, r, http.MethodPost, "/v1/chat/completions", body, true)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", w.Code, w.Body.String())
	}
}

func TestResponsesNonStreamingHappyPath(t *testing.T) {
	up := &fakeUpstream{result: &upstream.ChatResult{Message: "Hi there"}}
	sc := testServerContext(t, up)
	r := NewRouter(sc)

	body := `{"messages":[{"role":"user","content":"hello"}]}`
	w := doRequest(t, r, http.MethodPost, "/v1/responses", body, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var env responseEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(env.Output) != 1 || env.Output[0].Type != "message" {
		t.Fatalf("unexpected output: %+v", env.Output)
	}
	if env.Output[0].Content[0].Text != "Hi there" {
		t.Fatalf("unexpected message text: %+v", env.Output[0])
	}
}

func TestResponsesStreamingEmitsCreatedAndCompleted(t *testing.T) {
	up := &fakeUpstream{result: &upstream.ChatResult{Message: "Hi"}, chunks: []string{"Hi"}}
	sc := testServerContext(t, up)
	r := NewRouter(sc)

	body := `{"messages":[{"role":"user","content":"hello"}],"stream":true}`
	w := doRequest(t, r, http.MethodPost, "/v1/responses", body, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	out := w.Body.String()
	if !strings.Contains(out, `"type":"response.created"`) {
		t.Fatalf("expected response.created event, got %s", out)
	}
	if !strings.Contains(out, `"type":"response.completed"`) {
		t.Fatalf("expected response.completed event, got %s", out)
	}
}

func TestModelsListsConfiguredModel(t *testing.T) {
	sc := testServerContext(t, &fakeUpstream{})
	r := NewRouter(sc)
	w := doRequest(t, r, http.MethodGet, "/v1/models", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp modelsListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].ID != "lumo" {
		t.Fatalf("unexpected models response: %+v", resp)
	}
}

func TestDeriveConversationIDIsDeterministic(t *testing.T) {
	a, statefulA := deriveConversationID("alice", true)
	b, statefulB := deriveConversationID("alice", true)
	if !statefulA || !statefulB || a != b {
		t.Fatalf("expected deterministic ids, got %q and %q", a, b)
	}
	if _, stateful := deriveConversationID("", true); stateful {
		t.Fatal("expected no conversation id for an empty user field")
	}
	if _, stateful := deriveConversationID("alice", false); stateful {
		t.Fatal("expected a stateless request when the feature is disabled")
	}
}

func TestHasCustomToolsRequiresBothEnabledAndNonEmpty(t *testing.T) {
	if hasCustomTools(nil, true) {
		t.Fatal("expected false for an empty tools list")
	}
	if hasCustomTools([]json.RawMessage{[]byte(`{}`)}, false) {
		t.Fatal("expected false when custom tools are disabled")
	}
	if !hasCustomTools([]json.RawMessage{[]byte(`{}`)}, true) {
		t.Fatal("expected true when tools are present and enabled")
	}
}

var errBoom = &upstreamErr{"boom"}

type upstreamErr struct{ msg string }

func (e *upstreamErr) Error() string { return e.msg }
