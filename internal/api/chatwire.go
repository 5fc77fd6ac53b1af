package api

import (
	"encoding/json"

	"github.com/ZeroTricks/lumo-tamer-sub001/internal/instructions"
)

// chatCompletionsRequest is the inbound body of POST /v1/chat/completions
// (spec.md §4.3.1), a subset of the OpenAI request shape.
type chatCompletionsRequest struct {
	Model    string                      `json:"model"`
	Messages []instructions.ChatMessage  `json:"messages"`
	Stream   bool                        `json:"stream"`
	Tools    []json.RawMessage           `json:"tools,omitempty"`
	User     string                      `json:"user,omitempty"`
}

// chatMessageOut is the assistant message embedded in a non-streaming
// response or the final streamed delta's accumulated shape.
type chatMessageOut struct {
	Role      string          `json:"role"`
	Content   string          `json:"content,omitempty"`
	ToolCalls []toolCallOut   `json:"tool_calls,omitempty"`
}

// toolCallOut is one entry of choices[].message.tool_calls or
// delta.tool_calls (spec.md §4.3.1).
type toolCallOut struct {
	Index    int             `json:"index"`
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Function toolCallFunction `json:"function"`
}

type toolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// chatCompletionResponse is the non-streaming response body of spec.md
// §4.3.1.
type chatCompletionResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []chatChoice   `json:"choices"`
}

type chatChoice struct {
	Index        int             `json:"index"`
	FinishReason string          `json:"finish_reason"`
	Message      chatMessageOut  `json:"message"`
}

// chatCompletionChunk is one `data:` frame of a streaming response (spec.md
// §4.3.1).
type chatCompletionChunk struct {
	ID      string           `json:"id"`
	Object  string           `json:"object"`
	Created int64            `json:"created"`
	Model   string           `json:"model"`
	Choices []chatChunkChoice `json:"choices"`
}

type chatChunkChoice struct {
	Index        int            `json:"index"`
	Delta        chatDelta      `json:"delta"`
	FinishReason *string        `json:"finish_reason"`
}

type chatDelta struct {
	Role      string        `json:"role,omitempty"`
	Content   string        `json:"content,omitempty"`
	ToolCalls []toolCallOut `json:"tool_calls,omitempty"`
}
