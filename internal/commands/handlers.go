package commands

import (
	"context"

	"github.com/ZeroTricks/lumo-tamer-sub001/internal/store"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/syncengine"
)

// pusher is the narrow subset of *syncengine.Engine the command handlers
// need, so tests can fake an immediate push without building a real engine.
type pusher interface {
	PushAll(ctx context.Context) error
}

// SaveHandler implements `/save` (spec.md §3 "Conversations: ... or when a
// command (/save) explicitly materializes one"). By the time commands run
// (spec.md §4.3 step 5), the conversation already exists in st from step 4;
// /save's job is to force it dirty and push immediately rather than wait
// for the sync engine's debounce window.
func SaveHandler(st *store.Store, engine pusher) Handler {
	return func(ctx context.Context, cc Context, _ string) string {
		if cc.ConversationID == "" {
			return "There is no active conversation to save."
		}
		st.MarkDirtyByID(cc.ConversationID)
		if engine == nil {
			return "Sync is not configured; the conversation was not saved remotely."
		}
		if err := engine.PushAll(ctx); err != nil {
			return "Failed to save the conversation: " + err.Error()
		}
		return "Conversation saved."
	}
}

// SyncHandler implements `/sync`: runs an immediate push pass over every
// dirty conversation. Per spec.md §7, sync being disabled is a command
// error returned as ordinary assistant text, never an HTTP failure.
func SyncHandler(engine pusher, syncEnabled bool) Handler {
	return func(ctx context.Context, _ Context, _ string) string {
		if !syncEnabled || engine == nil {
			return "Sync is disabled; nothing to do."
		}
		if err := engine.PushAll(ctx); err != nil {
			return "Sync failed: " + err.Error()
		}
		return "Sync complete."
	}
}

// Register installs the standard command set into r. engine may be nil
// (sync disabled entirely); the resulting pusher interface value is then a
// true nil, not a nil pointer wrapped in a non-nil interface, so the
// handlers' own nil checks behave as expected.
func Register(r *Registry, st *store.Store, engine *syncengine.Engine, syncEnabled bool) {
	var p pusher
	if engine != nil {
		p = engine
	}
	r.Register("save", SaveHandler(st, p))
	r.Register("sync", SyncHandler(p, syncEnabled))
}
