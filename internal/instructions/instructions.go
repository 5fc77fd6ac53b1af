// Package instructions converts inbound OpenAI-shaped chat messages into the
// upstream Turn sequence and the instructions string the U2L envelope
// carries (spec.md §4.3.3).
//
// Grounded on the teacher's internal/proxy/message_utils.go for the
// plain-map JSON message shape it works with, and on
// internal/title_generation's prompt-templating style (fixed prologue +
// extracted context, joined by blank lines) for the instructions-string
// assembly.
package instructions

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ZeroTricks/lumo-tamer-sub001/internal/config"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/model"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/store"
)

// ChatMessage is one inbound OpenAI chat message. Content accepts either a
// plain string or the multipart-array shape some clients send; ExtractText
// reduces either to a single string.
type ChatMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content"`
	ToolCalls  []ToolCallIn    `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// ToolCallIn is one entry of an assistant message's tool_calls array.
type ToolCallIn struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// functionCallContent is the wire shape a tool_calls entry is re-encoded as
// when it becomes a user turn (spec.md §4.3.3).
type functionCallContent struct {
	Type      string `json:"type"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// functionCallOutputContent is the wire shape a tool-role message is
// re-encoded as when it becomes a user turn (spec.md §4.3.3).
type functionCallOutputContent struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

// ExtractText reduces a Content field to plain text: a JSON string is
// returned as-is; a multipart array has every {"type":"text","text":...}
// part concatenated; anything else yields "".
func ExtractText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var b strings.Builder
	for _, p := range parts {
		if p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// Result is what Convert produces: the turns ready for store.AppendMessages
// and the assembled instructions string for the upstream envelope.
type Result struct {
	Messages     []store.IncomingMessage
	Instructions string
}

// Convert implements spec.md §4.3.3: it maps every inbound message to its
// upstream turn (or folds it into the instructions string, for system
// messages) and assembles the final instructions string.
func Convert(messages []ChatMessage, router *config.RouterConfig, hasCustomTools bool) (Result, error) {
	var out []store.IncomingMessage
	var systemParts []string

	for _, msg := range messages {
		switch msg.Role {
		case "system", "developer":
			if text := ExtractText(msg.Content); text != "" {
				systemParts = append(systemParts, text)
			}

		case "user":
			out = append(out, store.IncomingMessage{
				Role:    model.RoleUser,
				Content: ExtractText(msg.Content),
			})

		case "assistant":
			if len(msg.ToolCalls) > 0 {
				for _, tc := range msg.ToolCalls {
					content, err := json.Marshal(functionCallContent{
						Type:      "function_call",
						CallID:    tc.ID,
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					})
					if err != nil {
						return Result{}, fmt.Errorf("instructions: encode function_call turn: %w", err)
					}
					out = append(out, store.IncomingMessage{
						ID:      tc.ID,
						Role:    model.RoleUser,
						Content: string(content),
					})
				}
				continue
			}
			out = append(out, store.IncomingMessage{
				Role:    model.RoleAssistant,
				Content: ExtractText(msg.Content),
			})

		case "tool":
			content, err := json.Marshal(functionCallOutputContent{
				Type:   "function_call_output",
				CallID: msg.ToolCallID,
				Output: ExtractText(msg.Content),
			})
			if err != nil {
				return Result{}, fmt.Errorf("instructions: encode function_call_output turn: %w", err)
			}
			out = append(out, store.IncomingMessage{
				ID:      msg.ToolCallID,
				Role:    model.RoleUser,
				Content: string(content),
			})
		}
	}

	return Result{Messages: out, Instructions: buildInstructions(router, hasCustomTools, systemParts)}, nil
}

// buildInstructions assembles configured default + tool-bounce prologue (if
// custom tools are in play) + extracted system text, blank-line separated
// (spec.md §4.3.3).
func buildInstructions(router *config.RouterConfig, hasCustomTools bool, systemParts []string) string {
	var sections []string
	if router != nil && router.DefaultInstruction != "" {
		sections = append(sections, router.DefaultInstruction)
	}
	if hasCustomTools && router != nil && router.ToolBouncePrologue != "" {
		sections = append(sections, router.ToolBouncePrologue)
	}
	if len(systemParts) > 0 {
		sections = append(sections, strings.Join(systemParts, "\n\n"))
	}
	return strings.Join(sections, "\n\n")
}

// HasUserMessage reports whether messages contains at least one user-role
// entry with non-empty text (spec.md §4.3 step 1 validation).
func HasUserMessage(messages []ChatMessage) bool {
	for _, msg := range messages {
		if msg.Role == "user" && ExtractText(msg.Content) != "" {
			return true
		}
	}
	return false
}
