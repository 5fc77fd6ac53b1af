package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ZeroTricks/lumo-tamer-sub001/internal/apierror"
)

// sseEmitter writes one `data: <json>\n\n` frame per call and flushes
// immediately, the header-setting and flush idiom adapted from the
// teacher's internal/proxy/stream_helpers.go streamToClient.
//
// Both handlers call emit with a single struct per frame rather than a
// family of per-event-type methods (spec.md §9 "replace [per-event
// methods] with one emit(event) that pattern-matches the variant and
// writes the framed payload"): chatCompletionChunk and responseEvent each
// already unify their event's variants as optional, omitempty fields, so
// one marshal-and-write path covers every shape a handler needs to send.
type sseEmitter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEEmitter sets the SSE response headers and returns an emitter, or
// ok=false if the underlying ResponseWriter can't be flushed.
func newSSEEmitter(c *gin.Context) (*sseEmitter, bool) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &sseEmitter{w: c.Writer, flusher: flusher}, true
}

// emit marshals event and writes it as one SSE frame, flushing
// immediately so the client sees it without delay.
func (e *sseEmitter) emit(event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := e.w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := e.w.Write(payload); err != nil {
		return err
	}
	if _, err := e.w.Write([]byte("\n\n")); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}

// emitDone writes the Chat Completions stream terminator (spec.md §6 "the
// stream terminator for Chat Completions is `data: [DONE]`").
func (e *sseEmitter) emitDone() {
	e.w.Write([]byte("data: [DONE]\n\n")) //nolint:errcheck
	e.flusher.Flush()
}

// emitError writes the error taxonomy's SSE frame (spec.md §7 "on stream,
// an SSE error event followed by close") when bytes have already been
// flushed to the client and a JSON error response is no longer possible.
func (e *sseEmitter) emitError(err *apierror.Error) {
	e.w.Write(err.SSEFrame()) //nolint:errcheck
	e.flusher.Flush()
}
