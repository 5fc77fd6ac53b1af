package api

import (
	"encoding/json"

	"github.com/google/uuid"
)

// conversationNamespace is the fixed namespace UUIDv5 derivation uses
// (spec.md §4.3 step 2 "the deterministic UUIDv5-equivalent hash of a
// stable request field"). Any fixed UUID works here as long as it never
// changes across the process's lifetime — changing it would silently
// re-partition every existing conversation.
var conversationNamespace = uuid.MustParse("a7f7c1d4-9d1e-4b7a-9c8a-4f7c0d8e5b1a")

// resolvedConversation (pipeline.go) and the hasTools bool together carry
// the per-request state spec.md §4.3 names ctx: {hasCustomTools,
// commandContext, requestTitle} — split across call sites here rather
// than threaded as one struct, since each handler only needs a couple of
// fields at each step.

// deriveConversationID implements spec.md §4.3 step 2: a UUIDv5 hash of a
// stable request field (the OpenAI `user` field) when deterministic
// conversation ids are enabled; otherwise the request is stateless.
func deriveConversationID(user string, enabled bool) (id string, stateful bool) {
	if !enabled || user == "" {
		return "", false
	}
	return uuid.NewSHA1(conversationNamespace, []byte(user)).String(), true
}

// hasCustomTools implements spec.md §4.3's ctx.hasCustomTools formula.
func hasCustomTools(tools []json.RawMessage, customToolsEnabled bool) bool {
	return customToolsEnabled && len(tools) > 0
}
