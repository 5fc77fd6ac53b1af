package syncengine

import (
	"context"
	"sync"
	"time"

	"github.com/ZeroTricks/lumo-tamer-sub001/internal/logger"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/metrics"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/model"
)

// conversationStore is the subset of *store.Store the engine needs,
// narrowed to an interface so tests can fake it without an import cycle
// (internal/store never imports internal/syncengine).
type conversationStore interface {
	Entries() []string
	Get(id string) *model.Conversation
	MarkSynced(id string, syncedAt int64)
}

// mapping is the engine-owned id-bookkeeping table (spec.md §5
// "Space/conversation/message id maps: owned by the sync engine;
// synchronized by the engine's lock"). Conversation and message ids are
// client-generated and used unchanged as the remote id — they also double
// as AEAD associated data (spec.md §4.6.2), so the remote side can never
// assign a different id without breaking every future decrypt. The only
// thing this table tracks is which conversations have been POSTed at
// least once (so later pushes PATCH instead) and which messages have
// already been pushed (since messages are immutable, spec.md §4.6.3 step
// 5).
type mapping struct {
	mu          sync.Mutex
	createdConv map[string]bool            // conversation id -> has a remote POST
	pushedMsgs  map[string]map[string]bool // conversation id -> set of pushed message ids
}

func newMapping() *mapping {
	return &mapping{
		createdConv: make(map[string]bool),
		pushedMsgs:  make(map[string]map[string]bool),
	}
}

func (m *mapping) conversationCreated(conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createdConv[conversationID]
}

func (m *mapping) markConversationCreated(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createdConv[conversationID] = true
}

func (m *mapping) isMessagePushed(conversationID, messageID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pushedMsgs[conversationID][messageID]
}

func (m *mapping) markMessagePushed(conversationID, messageID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pushedMsgs[conversationID] == nil {
		m.pushedMsgs[conversationID] = make(map[string]bool)
	}
	m.pushedMsgs[conversationID][messageID] = true
}

// Engine drives the push (spec.md §4.6.3) and pull (spec.md §4.6.4)
// pipelines.
//
// Dirty propagation: rather than the store invoking a push pass directly
// (the "callback-driven dirty propagation" pattern spec.md §9 flags for
// re-architecture), the store's OnDirty callback only ever sends a
// notification onto a bounded channel here; Engine.Run owns a debouncing
// timer that collapses bursts of notifications into one push pass,
// configured by pushInterval.
type Engine struct {
	keyManager *KeyManager
	remote     RemoteClient
	store      conversationStore
	mapping    *mapping

	notify       chan struct{}
	pushInterval time.Duration

	log *logger.Logger
}

// NewEngine builds an Engine. pushInterval is the debounce window spec.md
// §9 calls for between a dirty notification and the push pass it triggers.
func NewEngine(keyManager *KeyManager, remote RemoteClient, store conversationStore, pushInterval time.Duration, log *logger.Logger) *Engine {
	return &Engine{
		keyManager:   keyManager,
		remote:       remote,
		store:        store,
		mapping:      newMapping(),
		notify:       make(chan struct{}, 1),
		pushInterval: pushInterval,
		log:          log.WithComponent("syncengine"),
	}
}

// OnDirty is the store's dirty-notification hook (spec.md §4.5.4). It
// never blocks: a channel already holding a pending notification means a
// push pass is already debouncing, so a second signal adds nothing.
func (e *Engine) OnDirty(conversationID string) {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// Run blocks, debouncing dirty notifications into push passes, until ctx
// is canceled.
func (e *Engine) Run(ctx context.Context) {
	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-e.notify:
			if timer == nil {
				timer = time.NewTimer(e.pushInterval)
			} else {
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(e.pushInterval)
			}
			timerCh = timer.C
		case <-timerCh:
			timerCh = nil
			timer = nil
			if err := e.PushAll(ctx); err != nil {
				e.log.Error("push pass failed", "error", err.Error())
			}
		}
	}
}

// PushAll runs the push algorithm (spec.md §4.6.3) over every dirty
// conversation currently in the store.
func (e *Engine) PushAll(ctx context.Context) error {
	for _, id := range e.store.Entries() {
		c := e.store.Get(id)
		if c == nil || !c.Dirty {
			continue
		}
		if err := e.pushConversation(ctx, c); err != nil {
			metrics.SyncPushTotal.WithLabelValues("failure").Inc()
			e.log.Error("failed to push conversation", "conversation_id", id, "error", err.Error())
			continue
		}
		metrics.SyncPushTotal.WithLabelValues("success").Inc()
	}
	return nil
}

func (e *Engine) pushConversation(ctx context.Context, c *model.Conversation) error {
	space, err := e.keyManager.EnsureSpace(ctx, e.remote, c.SpaceID)
	if err != nil {
		return err
	}

	titleCipher, err := encryptConversation(space.DEK, c.ID, c.Title)
	if err != nil {
		return err
	}

	if !e.mapping.conversationCreated(c.ID) {
		if err := e.remote.CreateConversation(ctx, space.RemoteID, c.ID, titleCipher); err != nil {
			return err
		}
		e.mapping.markConversationCreated(c.ID)
	} else {
		if err := e.remote.PatchConversation(ctx, c.ID, titleCipher, c.Starred); err != nil {
			return err
		}
	}

	for _, m := range c.Messages {
		if e.mapping.isMessagePushed(c.ID, m.ID) {
			continue // messages are immutable; never re-push a mapped message.
		}
		cipher, err := encryptMessage(space.DEK, m.ID, messagePayload{
			Content:    m.Content,
			ToolCall:   m.ToolCall,
			ToolResult: m.ToolResult,
		})
		if err != nil {
			return err
		}
		if err := e.remote.CreateMessage(ctx, c.ID, m.ID, cipher); err != nil {
			return err
		}
		e.mapping.markMessagePushed(c.ID, m.ID)
	}

	e.store.MarkSynced(c.ID, time.Now().UnixMilli())
	return nil
}

// PulledConversation is one hydrated conversation recovered during
// PullOnStartup, ready for the store to adopt.
type PulledConversation struct {
	LocalID  string
	SpaceID  string
	RemoteID string
	Title    string
	Messages []PulledMessage
}

// PulledMessage is one decrypted message body recovered during pull.
type PulledMessage struct {
	LocalID    string
	Content    string
	ToolCall   string
	ToolResult string
}

// PullOnStartup implements spec.md §4.6.4: list every space, attempt to
// unwrap each with the master key, and hydrate the ones that succeed. The
// hydrated conversations are returned for the caller (the store) to adopt
// rather than mutated in place here, keeping this package free of a
// *store.Store import.
func (e *Engine) PullOnStartup(ctx context.Context) ([]PulledConversation, error) {
	spaces, err := e.remote.ListSpaces(ctx)
	if err != nil {
		return nil, err
	}

	var pulled []PulledConversation
	for _, rs := range spaces {
		localSpaceID := rs.ID // server-assigned id doubles as the local space id for pulled spaces
		adopted, err := e.keyManager.AdoptSpace(localSpaceID, rs.ID, rs.WrappedKey)
		if err != nil {
			e.log.Warn("failed to unwrap space key", "space_id", rs.ID, "error", err.Error())
			continue
		}
		if !adopted {
			continue // wrapped under a different master key; not ours.
		}

		dek := e.keyManager.DEK(localSpaceID)
		conversations, err := e.remote.ListConversations(ctx, rs.ID)
		if err != nil {
			e.log.Warn("failed to list conversations for space", "space_id", rs.ID, "error", err.Error())
			continue
		}

		for _, rc := range conversations {
			payload, err := decryptConversation(dek, rc.ID, rc.Ciphertext)
			if err != nil {
				metrics.DecryptionFailuresTotal.WithLabelValues("conversation").Inc()
				e.log.Warn("failed to decrypt conversation, skipping", "conversation_id", rc.ID, "error", err.Error())
				continue
			}
			e.mapping.markConversationCreated(rc.ID)

			messages, err := e.remote.ListMessages(ctx, rc.ID)
			if err != nil {
				e.log.Warn("failed to list messages for conversation", "conversation_id", rc.ID, "error", err.Error())
				continue
			}

			pc := PulledConversation{LocalID: rc.ID, SpaceID: localSpaceID, RemoteID: rc.ID, Title: payload.Title}
			for _, rm := range messages {
				mp, err := decryptMessage(dek, rm.ID, rm.Ciphertext)
				if err != nil {
					metrics.DecryptionFailuresTotal.WithLabelValues("message").Inc()
					e.log.Warn("failed to decrypt message, skipping", "message_id", rm.ID, "error", err.Error())
					continue
				}
				e.mapping.markMessagePushed(rc.ID, rm.ID)
				pc.Messages = append(pc.Messages, PulledMessage{
					LocalID:    rm.ID,
					Content:    mp.Content,
					ToolCall:   mp.ToolCall,
					ToolResult: mp.ToolResult,
				})
			}
			pulled = append(pulled, pc)
		}
	}
	return pulled, nil
}
