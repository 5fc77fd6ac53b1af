// Responses handler implementing the event taxonomy of spec.md §4.3.2,
// sharing the same nine-step pipeline (§4.3) as Chat Completions.
package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ZeroTricks/lumo-tamer-sub001/internal/apierror"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/toolcall"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/upstream"
)

func responsesHandler(sc *ServerContext) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req responsesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.AbortWithError(c, apierror.Invalid("invalid request body: "+err.Error()))
			return
		}
		if apiErr := validateMessages(req.Messages); apiErr != nil {
			apierror.AbortWithError(c, apiErr)
			return
		}

		now := nowMillis()
		hasTools := hasCustomTools(req.Tools, sc.Config.CustomToolsEnabled)
		rc := resolveConversation(sc, req.User, now)

		turns, instr, convErr := turnsForUpstream(sc, rc, req.Messages, hasTools, now)
		if convErr != nil {
			apierror.AbortWithError(c, apierror.New(apierror.KindInternal, "failed to convert messages", convErr))
			return
		}

		ctx := c.Request.Context()
		responseID := "resp-" + uuid.NewString()
		modelName := sc.Config.ModelName

		var content string
		var toolCalls []toolCallOut
		var toolCallJSON, toolResult, titleText string
		msgID := "msg-" + uuid.NewString()

		if reply, matched := dispatchCommand(ctx, sc, rc, lastUserText(req.Messages)); matched {
			content = reply
			persistAssistant(sc, rc, content, "", "", now)
		} else {
			opts := upstream.ChatOptions{Instructions: instr, RequestTitle: rc.requestTitle, EnableExternalTools: hasTools}

			var emitter *sseEmitter
			streaming := false
			if req.Stream {
				emitter, streaming = newSSEEmitter(c)
			}
			seq := 0
			nextSeq := func() int { seq++; return seq - 1 }

			var detector *toolcall.Detector
			if hasTools {
				detector = toolcall.New()
			}

			if streaming {
				emitResponseLifecycleStart(emitter, &seq, responseID, modelName, now, msgID)
			}

			onChunk := func(chunk string) {
				text := chunk
				if detector != nil {
					before := detector.Text()
					detector.Feed(chunk)
					text = detector.Text()[len(before):]
				}
				if text == "" || !streaming {
					return
				}
				emitter.emit(responseEvent{
					Type: "response.output_text.delta", SequenceNumber: nextSeq(),
					OutputIndex: intPtr(0), ItemID: msgID, ContentIndex: intPtr(0), Delta: text,
				})
			}

			result, err := runUpstream(ctx, sc, turns, onChunk, opts)
			if err != nil {
				if streaming {
					emitter.emitError(toAPIError(err))
				} else {
					apierror.WriteError(c, toAPIError(err))
				}
				return
			}

			content = result.Message
			titleText = result.Title
			if detector != nil {
				detector.Finalize()
				content = detector.Text()
				toolCalls = toNormalizedToolCalls(detector.ToolCalls())
				if len(toolCalls) > 0 {
					toolCallJSON = result.ToolCall
				}
			}
			toolResult = result.ToolResult

			persistAssistant(sc, rc, content, toolCallJSON, toolResult, now)

			if streaming {
				emitResponseLifecycleEnd(emitter, &seq, responseID, modelName, now, msgID, content, toolCalls)
			}

			persistTitle(ctx, sc, rc, titleText, turns, now)

			if streaming {
				return
			}
		}

		// Non-streaming (or command-matched) path: a single JSON envelope.
		output := buildOutputItems(msgID, content, toolCalls)
		c.JSON(200, responseEnvelope{
			ID: responseID, Object: "response", CreatedAt: now, Status: "completed", Model: modelName, Output: output,
		})
	}
}

// buildOutputItems assembles the envelope's output array: the assistant
// message first, then one function_call item per detected tool call
// (spec.md §4.3.2).
func buildOutputItems(msgID, content string, toolCalls []toolCallOut) []responseOutputItem {
	items := []responseOutputItem{{
		ID: msgID, Type: "message", Status: "completed", Role: "assistant",
		Content: []responseContentPart{{Type: "output_text", Text: content}},
	}}
	for _, tc := range toolCalls {
		items = append(items, responseOutputItem{
			ID: "fc-" + uuid.NewString(), Type: "function_call", Status: "completed",
			CallID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments,
		})
	}
	return items
}

// emitResponseLifecycleStart emits response.created, response.in_progress,
// the message output_item.added, and its content_part.added — the fixed
// prefix of spec.md §4.3.2's event taxonomy.
func emitResponseLifecycleStart(e *sseEmitter, seq *int, responseID, modelName string, now int64, msgID string) {
	next := func() int { *seq++; return *seq - 1 }
	inProgress := &responseEnvelope{ID: responseID, Object: "response", CreatedAt: now, Status: "in_progress", Model: modelName}

	e.emit(responseEvent{Type: "response.created", SequenceNumber: next(), Response: inProgress})
	e.emit(responseEvent{Type: "response.in_progress", SequenceNumber: next(), Response: inProgress})
	e.emit(responseEvent{
		Type: "response.output_item.added", SequenceNumber: next(), OutputIndex: intPtr(0),
		Item: &responseOutputItem{ID: msgID, Type: "message", Status: "in_progress", Role: "assistant"},
	})
	e.emit(responseEvent{
		Type: "response.content_part.added", SequenceNumber: next(), OutputIndex: intPtr(0),
		ItemID: msgID, ContentIndex: intPtr(0), Part: &responseContentPart{Type: "output_text", Text: ""},
	})
}

// emitResponseLifecycleEnd emits the output_text/content_part/output_item
// completion events, one output_item pair per detected tool call, and the
// final response.completed envelope.
func emitResponseLifecycleEnd(e *sseEmitter, seq *int, responseID, modelName string, now int64, msgID, content string, toolCalls []toolCallOut) {
	next := func() int { *seq++; return *seq - 1 }

	e.emit(responseEvent{Type: "response.output_text.done", SequenceNumber: next(), OutputIndex: intPtr(0), ItemID: msgID, ContentIndex: intPtr(0), Text: content})
	e.emit(responseEvent{Type: "response.content_part.done", SequenceNumber: next(), OutputIndex: intPtr(0), ItemID: msgID, ContentIndex: intPtr(0), Part: &responseContentPart{Type: "output_text", Text: content}})

	items := buildOutputItems(msgID, content, toolCalls)
	e.emit(responseEvent{Type: "response.output_item.done", SequenceNumber: next(), OutputIndex: intPtr(0), Item: &items[0]})

	for i, item := range items[1:] {
		idx := i + 1
		it := item
		e.emit(responseEvent{Type: "response.output_item.added", SequenceNumber: next(), OutputIndex: intPtr(idx), Item: &it})
		e.emit(responseEvent{Type: "response.output_item.done", SequenceNumber: next(), OutputIndex: intPtr(idx), Item: &it})
	}

	completed := &responseEnvelope{ID: responseID, Object: "response", CreatedAt: now, Status: "completed", Model: modelName, Output: items}
	e.emit(responseEvent{Type: "response.completed", SequenceNumber: next(), Response: completed})
}
