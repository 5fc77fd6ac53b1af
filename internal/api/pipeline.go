package api

import (
	"context"
	"time"

	"github.com/ZeroTricks/lumo-tamer-sub001/internal/apierror"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/commands"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/instructions"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/model"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/store"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/titling"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/upstream"
)

// validateMessages implements spec.md §4.3 step 1.
func validateMessages(messages []instructions.ChatMessage) *apierror.Error {
	if len(messages) == 0 {
		return apierror.Invalid("messages is required and must be non-empty")
	}
	if !instructions.HasUserMessage(messages) {
		return apierror.Invalid("messages must contain at least one user message")
	}
	return nil
}

// lastUserText returns the text of the last user-role message, the turn
// spec.md §4.3 step 5 checks for an embedded command.
func lastUserText(messages []instructions.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return instructions.ExtractText(messages[i].Content)
		}
	}
	return ""
}

// resolvedConversation is the step-2/step-4 outcome: either a stateful
// conversation backed by the store, or a stateless one-off request.
type resolvedConversation struct {
	id           string
	stateful     bool
	requestTitle bool
}

// resolveConversation implements spec.md §4.3 steps 2 and 4's
// requestTitle formula (stored.title == "New Conversation").
func resolveConversation(sc *ServerContext, user string, now int64) resolvedConversation {
	id, stateful := deriveConversationID(user, sc.Config.DeterministicConversationID)
	if !stateful {
		return resolvedConversation{}
	}

	conv := sc.Store.GetOrCreate(id, "", now)
	requestTitle := sc.Config.TitleGenerationEnabled && conv.IsNewTitle()
	return resolvedConversation{id: id, stateful: true, requestTitle: requestTitle}
}

// turnsForUpstream implements spec.md §4.3 steps 3-4: convert the inbound
// messages, append the deduplicated suffix to the store when stateful, and
// return the full turn sequence to send upstream (the store's own history
// for a stateful conversation, or the converted messages verbatim for a
// stateless one).
func turnsForUpstream(sc *ServerContext, rc resolvedConversation, messages []instructions.ChatMessage, hasTools bool, now int64) ([]model.Turn, string, error) {
	converted, err := instructions.Convert(messages, sc.Config.Router, hasTools)
	if err != nil {
		return nil, "", err
	}

	if !rc.stateful {
		return toTurns(converted.Messages), converted.Instructions, nil
	}

	sc.Store.AppendMessages(rc.id, converted.Messages, now)
	return sc.Store.ToTurns(rc.id), converted.Instructions, nil
}

// toTurns maps converted messages straight to wire turns for a stateless
// request that never touches the store.
func toTurns(messages []store.IncomingMessage) []model.Turn {
	turns := make([]model.Turn, len(messages))
	for i, m := range messages {
		turns[i] = model.Turn{Role: m.Role, Content: m.Content}
	}
	return turns
}

// dispatchCommand implements spec.md §4.3 step 5.
func dispatchCommand(ctx context.Context, sc *ServerContext, rc resolvedConversation, text string) (reply string, matched bool) {
	if text == "" {
		return "", false
	}
	cc := commands.Context{
		ConversationID:  rc.id,
		SyncInitialized: sc.Config.SyncEnabled,
	}
	return sc.Commands.Dispatch(ctx, text, cc)
}

// runUpstream submits opts through the single-flight queue (spec.md §4.4,
// §4.3 step 6) and returns the assembled result.
func runUpstream(ctx context.Context, sc *ServerContext, turns []model.Turn, onChunk upstream.OnChunk, opts upstream.ChatOptions) (*upstream.ChatResult, error) {
	var result *upstream.ChatResult
	err := sc.Queue.Submit(ctx, func(ctx context.Context) error {
		r, err := sc.Upstream.ChatWithHistory(ctx, turns, onChunk, opts)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// persistAssistant implements spec.md §4.3 step 8: persist the assistant
// turn unless it carried tool calls.
func persistAssistant(sc *ServerContext, rc resolvedConversation, content, toolCall, toolResult string, now int64) {
	if !rc.stateful || toolCall != "" {
		return
	}
	sc.Store.AppendAssistantResponse(rc.id, store.AssistantResponse{
		Content:    content,
		ToolResult: toolResult,
		Status:     model.StatusSucceeded,
	}, now)
}

// persistTitle implements spec.md §4.3 step 9: if a title came back
// embedded in the same call, persist it post-processed; otherwise, if one
// was requested but didn't arrive, fall back to a standalone retryable
// request through the title generator.
func persistTitle(ctx context.Context, sc *ServerContext, rc resolvedConversation, embeddedTitle string, turns []model.Turn, now int64) {
	if !rc.stateful || !rc.requestTitle {
		return
	}

	title := titling.PostProcess(embeddedTitle)
	if title == "" && sc.TitleGen != nil {
		if generated, err := sc.TitleGen.Generate(ctx, turns); err == nil {
			title = generated
		} else {
			sc.Log.Warn("title generation fallback failed", "conversation_id", rc.id, "error", err.Error())
		}
	}
	if title == "" {
		return
	}
	sc.Store.SetTitle(rc.id, title, now)
}

// nowMillis returns the current time in milliseconds since epoch, matching
// the CreatedAt/UpdatedAt unit spec.md §3 and internal/model.Message both
// declare (and internal/syncengine already uses via time.Now().UnixMilli()).
func nowMillis() int64 { return time.Now().UnixMilli() }
