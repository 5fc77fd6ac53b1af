// Chat Completions handler implementing spec.md §4.3's nine-step
// algorithm and the response/stream shapes of §4.3.1.
package api

import (
	"context"
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ZeroTricks/lumo-tamer-sub001/internal/apierror"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/model"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/toolcall"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/upstream"
)

// marshalArguments re-encodes a normalized tool call's arguments map back
// to the JSON string OpenAI's tool_calls[].function.arguments field
// expects.
func marshalArguments(args map[string]any) (string, error) {
	b, err := json.Marshal(args)
	if err != nil {
		return "{}", err
	}
	return string(b), nil
}

func chatCompletionsHandler(sc *ServerContext) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req chatCompletionsRequest
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
		completionID := "chatcmpl-" + uuid.NewString()
		modelName := sc.Config.ModelName

		if reply, matched := dispatchCommand(ctx, sc, rc, lastUserText(req.Messages)); matched {
			persistAssistant(sc, rc, reply, "", "", now)
			emitChatResult(c, req.Stream, completionID, modelName, now, reply, nil, "stop")
			return
		}

		opts := upstream.ChatOptions{Instructions: instr, RequestTitle: rc.requestTitle, EnableExternalTools: hasTools}

		if req.Stream {
			streamChatCompletion(c, ctx, sc, rc, turns, opts, completionID, modelName, now, hasTools)
			return
		}
		bufferChatCompletion(c, ctx, sc, rc, turns, opts, completionID, modelName, now, hasTools)
	}
}

// bufferChatCompletion implements the non-streaming path of spec.md
// §4.3.1: run the upstream call to completion, detect any embedded tool
// calls over the full text, then emit one JSON response body.
func bufferChatCompletion(c *gin.Context, ctx context.Context, sc *ServerContext, rc resolvedConversation, turns []model.Turn, opts upstream.ChatOptions, id, modelName string, now int64, hasTools bool) {
	result, err := runUpstream(ctx, sc, turns, nil, opts)
	if err != nil {
		writeUpstreamError(c, err)
		return
	}

	content, toolCalls := extractToolCalls(result.Message, hasTools)
	finishReason := "stop"
	var toolCallJSON string
	if len(toolCalls) > 0 {
		finishReason = "tool_calls"
		toolCallJSON = result.ToolCall
	}

	persistAssistant(sc, rc, content, toolCallJSON, result.ToolResult, now)
	persistTitle(ctx, sc, rc, result.Title, turns, now)

	emitChatResult(c, false, id, modelName, now, content, toolCalls, finishReason)
}

// streamChatCompletion implements the streaming path of spec.md §4.3.1:
// forward message-target chunks as `delta.content` frames as they arrive,
// running them through the custom-tool detector first when declared, then
// emit the final frame with finish_reason and any detected tool calls.
func streamChatCompletion(c *gin.Context, ctx context.Context, sc *ServerContext, rc resolvedConversation, turns []model.Turn, opts upstream.ChatOptions, id, modelName string, now int64, hasTools bool) {
	emitter, ok := newSSEEmitter(c)
	if !ok {
		apierror.AbortWithError(c, apierror.New(apierror.KindInternal, "streaming not supported", nil))
		return
	}

	var detector *toolcall.Detector
	if hasTools {
		detector = toolcall.New()
	}

	onChunk := func(chunk string) {
		text := chunk
		if detector != nil {
			before := detector.Text()
			detector.Feed(chunk)
			text = detector.Text()[len(before):]
		}
		if text == "" {
			return
		}
		emitter.emit(chatCompletionChunk{
			ID: id, Object: "chat.completion.chunk", Created: now, Model: modelName,
			Choices: []chatChunkChoice{{Index: 0, Delta: chatDelta{Content: text}}},
		})
	}

	result, err := runUpstream(ctx, sc, turns, onChunk, opts)
	if err != nil {
		emitter.emitError(toAPIError(err))
		return
	}

	var toolCalls []toolCallOut
	finishReason := "stop"
	var toolCallJSON string
	if detector != nil {
		before := detector.Text()
		detector.Finalize()
		if trailing := detector.Text()[len(before):]; trailing != "" {
			emitter.emit(chatCompletionChunk{
				ID: id, Object: "chat.completion.chunk", Created: now, Model: modelName,
				Choices: []chatChunkChoice{{Index: 0, Delta: chatDelta{Content: trailing}}},
			})
		}
		toolCalls = toNormalizedToolCalls(detector.ToolCalls())
		if len(toolCalls) > 0 {
			finishReason = "tool_calls"
			toolCallJSON = result.ToolCall
		}
	}

	persistAssistant(sc, rc, result.Message, toolCallJSON, result.ToolResult, now)
	persistTitle(ctx, sc, rc, result.Title, turns, now)

	finish := finishReason
	emitter.emit(chatCompletionChunk{
		ID: id, Object: "chat.completion.chunk", Created: now, Model: modelName,
		Choices: []chatChunkChoice{{Index: 0, Delta: chatDelta{ToolCalls: toolCalls}, FinishReason: &finish}},
	})
	emitter.emitDone()
}

// extractToolCalls runs the streaming detector over the full accumulated
// text in one pass, for the non-streaming path where no per-chunk
// callback ran.
func extractToolCalls(message string, hasTools bool) (string, []toolCallOut) {
	if !hasTools {
		return message, nil
	}
	d := toolcall.New()
	d.Feed(message)
	d.Finalize()
	return d.Text(), toNormalizedToolCalls(d.ToolCalls())
}

func toNormalizedToolCalls(calls []toolcall.ToolCall) []toolCallOut {
	if len(calls) == 0 {
		return nil
	}
	out := make([]toolCallOut, len(calls))
	for i, tc := range calls {
		args, _ := marshalArguments(tc.Arguments)
		out[i] = toolCallOut{
			Index: i,
			ID:    "call-" + uuid.NewString(),
			Type:  "function",
			Function: toolCallFunction{
				Name:      tc.Name,
				Arguments: args,
			},
		}
	}
	return out
}

// emitChatResult renders a final assistant message either as one JSON body
// or as a minimal one-chunk-then-[DONE] stream, used for command replies
// that never reach the upstream call.
func emitChatResult(c *gin.Context, stream bool, id, modelName string, created int64, content string, toolCalls []toolCallOut, finishReason string) {
	if !stream {
		c.JSON(200, chatCompletionResponse{
			ID: id, Object: "chat.completion", Created: created, Model: modelName,
			Choices: []chatChoice{{Index: 0, FinishReason: finishReason, Message: chatMessageOut{Role: "assistant", Content: content, ToolCalls: toolCalls}}},
		})
		return
	}

	emitter, ok := newSSEEmitter(c)
	if !ok {
		return
	}
	emitter.emit(chatCompletionChunk{
		ID: id, Object: "chat.completion.chunk", Created: created, Model: modelName,
		Choices: []chatChunkChoice{{Index: 0, Delta: chatDelta{Role: "assistant", Content: content}}},
	})
	finish := finishReason
	emitter.emit(chatCompletionChunk{
		ID: id, Object: "chat.completion.chunk", Created: created, Model: modelName,
		Choices: []chatChunkChoice{{Index: 0, Delta: chatDelta{}, FinishReason: &finish}},
	})
	emitter.emitDone()
}

// writeUpstreamError maps an upstream-call failure onto the non-stream
// error body (spec.md §7 propagation policy).
func writeUpstreamError(c *gin.Context, err error) {
	apierror.WriteError(c, toAPIError(err))
}

func toAPIError(err error) *apierror.Error {
	if apiErr, ok := err.(*apierror.Error); ok {
		return apiErr
	}
	return apierror.New(apierror.KindUpstreamError, "upstream call failed", err)
}
