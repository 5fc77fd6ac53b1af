// Package store implements the in-memory conversation store of spec.md
// §4.5: getOrCreate/append/toTurns operations, the deduplication algorithm,
// and LRU eviction with a dirty-skip policy.
//
// Grounded on the teacher's internal/streaming.StreamManager: a
// map[string]*T guarded by one sync.Mutex, a New constructor, and a
// dirty-callback hook play the same role StreamManager's session registry
// and cleanup goroutine play there. The eviction policy here needs to skip
// dirty entries and rotate them to the back rather than evict unconditionally,
// which no indirect LRU library in the dependency tree (hashicorp/golang-lru)
// exposes a hook for, so the access-order list is hand-rolled on
// container/list, same as a teacher would reach for when a library's
// eviction policy doesn't fit the required invariant.
package store

import (
	"container/list"
	"sync"

	"github.com/google/uuid"

	"github.com/ZeroTricks/lumo-tamer-sub001/internal/logger"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/metrics"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/model"
)

// IncomingMessage is a client-supplied message already mapped to its
// upstream turn shape, carrying an optional caller-assigned id (spec.md
// §4.5.2 — e.g. an OpenAI tool_call_id).
type IncomingMessage struct {
	ID      string
	Role    model.Role
	Content string
}

// AssistantResponse is the payload appendAssistantResponse persists
// (spec.md §4.5.1).
type AssistantResponse struct {
	Content    string
	ToolCall   string
	ToolResult string
	Status     model.Status
	SemanticID string
}

// OnDirty is invoked after any operation that sets a conversation's dirty
// flag (spec.md §4.5.4); the sync engine uses this to schedule a push.
type OnDirty func(conversationID string)

// Store is the conversation store: getOrCreate/append/evict, guarded by
// one mutex (spec.md §5 "observable state for one conversation is
// serialized by a per-conversation monitor" — approximated here, as in the
// teacher's StreamManager, by one store-wide lock rather than N
// per-conversation ones, since the only cross-conversation operation is
// eviction itself).
type Store struct {
	mu            sync.Mutex
	maxSize       int
	conversations map[string]*model.Conversation
	// order is the LRU access-order list; elements store conversation ids.
	order    *list.List
	elements map[string]*list.Element

	onDirty OnDirty
	log     *logger.Logger
}

// New returns a Store that holds at most maxSize conversations.
func New(maxSize int, log *logger.Logger) *Store {
	return &Store{
		maxSize:       maxSize,
		conversations: make(map[string]*model.Conversation),
		order:         list.New(),
		elements:      make(map[string]*list.Element),
		log:           log.WithComponent("store"),
	}
}

// SetOnDirtyCallback registers cb per spec.md §4.5.4.
func (s *Store) SetOnDirtyCallback(cb OnDirty) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDirty = cb
}

// GetOrCreate returns the conversation for id, creating a new empty one if
// absent, and touches the LRU (spec.md §4.5.1, §4.5.3).
func (s *Store) GetOrCreate(id string, spaceID string, now int64) *model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.conversations[id]; ok {
		s.touch(id)
		return c
	}

	c := &model.Conversation{
		ID:        id,
		SpaceID:   spaceID,
		CreatedAt: now,
		UpdatedAt: now,
		Title:     model.NewConversationTitle,
		Status:    model.ConversationStatusActive,
	}
	s.conversations[id] = c
	s.elements[id] = s.order.PushBack(id)
	s.evictIfNeeded()
	return c
}

// touch moves id to the back of the access-order list (most recently
// used). Callers must hold s.mu.
func (s *Store) touch(id string) {
	if el, ok := s.elements[id]; ok {
		s.order.MoveToBack(el)
	}
}

// evictIfNeeded implements spec.md §4.5.3. Callers must hold s.mu.
func (s *Store) evictIfNeeded() {
	for len(s.conversations) > s.maxSize {
		el := s.order.Front()
		if el == nil {
			return
		}
		id := el.Value.(string)
		c := s.conversations[id]

		if c.Dirty && !s.allDirty() {
			s.order.MoveToBack(el)
			continue
		}

		s.order.Remove(el)
		delete(s.elements, id)
		delete(s.conversations, id)

		dirtyLabel := "false"
		if c.Dirty {
			dirtyLabel = "true"
			s.log.Warn("evicting dirty conversation: store at capacity and every resident conversation is dirty")
		}
		metrics.ConversationsEvictedTotal.WithLabelValues(dirtyLabel).Inc()
	}
}

// allDirty reports whether every resident conversation is dirty. Callers
// must hold s.mu.
func (s *Store) allDirty() bool {
	for _, c := range s.conversations {
		if !c.Dirty {
			return false
		}
	}
	return true
}

// markDirty sets c.Dirty and fires the registered callback, if any.
// Callers must hold s.mu.
func (s *Store) markDirty(c *model.Conversation) {
	c.Dirty = true
	cb := s.onDirty
	if cb != nil {
		id := c.ID
		go cb(id)
	}
}

// AppendMessages implements the deduplication algorithm of spec.md §4.5.2:
// given the full incoming message list for a conversation, it validates
// that the stored prefix still matches and returns only the new suffix,
// appended to the store.
func (s *Store) AppendMessages(id string, incoming []IncomingMessage, now int64) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return nil
	}
	s.touch(id)

	stored := c.Messages
	if len(incoming) < len(stored) {
		metrics.InvalidContinuationTotal.Inc()
		s.log.Warn("invalid continuation: incoming shorter than stored", "conversation_id", id)
		return nil
	}

	// Comparing by semanticId (caller-supplied id when present, otherwise a
	// content hash) rather than by content itself is what makes the
	// tool-output-mutation case benign: a tool result whose content is
	// re-sent with edits but the same tool_call_id still matches here,
	// since its semanticId never depended on content in the first place.
	for i := 0; i < len(stored); i++ {
		if semanticID(incoming[i]) != stored[i].SemanticID {
			metrics.InvalidContinuationTotal.Inc()
			s.log.Warn("invalid continuation: semantic id mismatch", "conversation_id", id, "index", i)
		}
	}

	newTail := incoming[len(stored):]
	appended := make([]model.Message, 0, len(newTail))
	parentID := c.LastMessageID()

	for _, in := range newTail {
		msg := model.Message{
			ID:             uuid.NewString(),
			ConversationID: id,
			ParentID:       parentID,
			CreatedAt:      now,
			Role:           in.Role,
			Status:         model.StatusSucceeded,
			Content:        in.Content,
			SemanticID:     semanticID(in),
		}
		c.Messages = append(c.Messages, msg)
		appended = append(appended, msg)
		parentID = msg.ID
	}

	if len(appended) > 0 {
		c.UpdatedAt = now
		s.markDirty(c)
	}
	return appended
}

func semanticID(m IncomingMessage) string {
	if m.ID != "" {
		return m.ID
	}
	return model.SemanticHash(m.Role, m.Content)
}

// AppendUserMessage appends a single user-authored message (spec.md
// §4.5.1). Returns the zero Message if id is absent, e.g. evicted under
// all-dirty pressure between a caller's GetOrCreate and this call.
func (s *Store) AppendUserMessage(id, content string, now int64) model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return model.Message{}
	}
	msg := model.Message{
		ID:             uuid.NewString(),
		ConversationID: id,
		ParentID:       c.LastMessageID(),
		CreatedAt:      now,
		Role:           model.RoleUser,
		Status:         model.StatusSucceeded,
		Content:        content,
		SemanticID:     model.SemanticHash(model.RoleUser, content),
	}
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = now
	s.markDirty(c)
	return msg
}

// AppendAssistantResponse persists the assistant's reply (spec.md §4.5.1).
// Per spec.md §4.5, a response carrying tool calls is not itself persisted
// as a message by this operation — the request handler is responsible for
// deciding whether to call it. Returns the zero Message if id is absent,
// e.g. evicted under all-dirty pressure between the user-turn append and
// this call.
func (s *Store) AppendAssistantResponse(id string, r AssistantResponse, now int64) model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return model.Message{}
	}
	status := r.Status
	if status == "" {
		status = model.StatusSucceeded
	}
	semID := r.SemanticID
	if semID == "" {
		semID = model.SemanticHash(model.RoleAssistant, r.Content)
	}

	msg := model.Message{
		ID:             uuid.NewString(),
		ConversationID: id,
		ParentID:       c.LastMessageID(),
		CreatedAt:      now,
		Role:           model.RoleAssistant,
		Status:         status,
		Content:        r.Content,
		ToolCall:       r.ToolCall,
		ToolResult:     r.ToolResult,
		SemanticID:     semID,
	}
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = now
	s.markDirty(c)
	return msg
}

// SetTitle sets a conversation's title and marks it dirty.
func (s *Store) SetTitle(id, title string, now int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return
	}
	c.Title = title
	c.UpdatedAt = now
	s.markDirty(c)
}

// SetGenerating marks the last message in a conversation as generating or
// succeeded.
func (s *Store) SetGenerating(id string, generating bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok || len(c.Messages) == 0 {
		return
	}
	last := &c.Messages[len(c.Messages)-1]
	if generating {
		last.Status = model.StatusGenerating
	} else {
		last.Status = model.StatusSucceeded
	}
}

// Delete removes a conversation from the store and from the LRU.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.elements[id]; ok {
		s.order.Remove(el)
		delete(s.elements, id)
	}
	delete(s.conversations, id)
}

// MarkSynced clears the dirty flag after a successful sync push (spec.md
// §4.6.3 step 6).
func (s *Store) MarkSynced(id string, syncedAt int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return
	}
	c.Dirty = false
	c.LastSyncedAt = syncedAt
}

// MarkDirtyByID forces a conversation dirty without any other mutation,
// e.g. after a starred/title change made outside AppendMessages.
func (s *Store) MarkDirtyByID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return
	}
	s.markDirty(c)
}

// ToTurns strips store-only metadata, returning the upstream wire shape
// (spec.md §4.5.1).
func (s *Store) ToTurns(id string) []model.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil
	}
	return c.ToTurns()
}

// Get returns the conversation for id without touching the LRU, or nil.
func (s *Store) Get(id string) *model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversations[id]
}

// Entries snapshots the current key set (spec.md §5 "iterating snapshots
// the key set").
func (s *Store) Entries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.conversations))
	for id := range s.conversations {
		ids = append(ids, id)
	}
	return ids
}

// Adopt inserts a conversation hydrated by the sync engine's startup pull
// (spec.md §4.6.4) directly into the store, marked clean (not dirty) since
// it was just read back from the remote it would otherwise be pushed to.
// Skipped if a conversation with the same id is already present — a local
// conversation created since boot takes precedence over a stale pull.
func (s *Store) Adopt(c *model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.conversations[c.ID]; exists {
		return
	}
	c.Dirty = false
	s.conversations[c.ID] = c
	s.elements[c.ID] = s.order.PushBack(c.ID)
	s.evictIfNeeded()
}
