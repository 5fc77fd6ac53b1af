// Package commands implements the embedded command dispatch of spec.md
// §4.3 step 5: `/save`, `/sync`, and any future slash-commands intercepted
// in the last user turn and answered locally, without an upstream call.
//
// Grounded on the teacher's internal/tools/registry.go: a name-keyed map
// guarded by one RWMutex, a Register/Dispatch pair, nothing fancier. Command
// errors are never surfaced as HTTP failures (spec.md §7 "Commands errors
// ... are returned to the client as the normal assistant message body"), so
// every Handler returns a reply string outright rather than an error.
package commands

import (
	"context"
	"strings"
	"sync"
)

// Context carries the per-request state a command handler needs (spec.md
// §4.3's commandContext: conversationId, syncInitialized, authHandle).
type Context struct {
	ConversationID  string
	SyncInitialized bool
	AuthHandle      string
}

// Handler answers one command invocation with the literal text to send
// back to the caller as the assistant message body.
type Handler func(ctx context.Context, cc Context, args string) string

// Registry is the name-keyed command dispatch table.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler for name (without the leading
// slash, e.g. "save", "sync").
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Parse splits a leading "/name rest-of-line" out of text. ok is false for
// any text that doesn't start with a slash-command.
func Parse(text string) (name, args string, ok bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", "", false
	}
	trimmed = trimmed[1:]
	if trimmed == "" {
		return "", "", false
	}
	fields := strings.SplitN(trimmed, " ", 2)
	name = fields[0]
	if len(fields) == 2 {
		args = strings.TrimSpace(fields[1])
	}
	return name, args, true
}

// Dispatch looks up and runs the command named in text, if any. matched is
// false when text is not a recognized slash-command, in which case the
// caller should fall through to the normal upstream call (spec.md §4.3 step
// 5 "if matched, reply from the command handler without calling upstream").
func (r *Registry) Dispatch(ctx context.Context, text string, cc Context) (reply string, matched bool) {
	name, args, ok := Parse(text)
	if !ok {
		return "", false
	}

	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return "", false
	}

	return h(ctx, cc, args), true
}
