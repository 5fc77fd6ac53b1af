// Package model defines the data model of spec.md §3: Turn, Message,
// Conversation and Space, plus the invariants that govern how they chain
// together.
//
// Per the "duck-typed message union" redesign note in spec.md §9, Message
// carries a Role discriminant and the fields relevant to each role rather
// than a dynamically-shaped payload; the deduplication algorithm (see
// internal/store) only ever projects a Message down to its SemanticID.
package model

import (
	"crypto/sha256"
	"encoding/hex"
)

// Role is the upstream turn / stored-message role.
type Role string

const (
	RoleAssistant  Role = "assistant"
	RoleUser       Role = "user"
	RoleSystem     Role = "system"
	RoleToolCall   Role = "tool_call"
	RoleToolResult Role = "tool_result"
)

// Status is a Message's lifecycle status.
type Status string

const (
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusGenerating Status = "generating"
)

// ConversationStatus mirrors the server-side lifecycle of a Conversation.
type ConversationStatus string

const (
	ConversationStatusActive  ConversationStatus = "active"
	ConversationStatusDeleted ConversationStatus = "deleted"
)

// NewConversationTitle is the sentinel initial title spec.md §3 requires;
// the pipeline requests a server-generated title exactly once, when a
// conversation's title still equals this literal.
const NewConversationTitle = "New Conversation"

// Turn is a single message in the upstream prompt format (spec.md §3).
type Turn struct {
	Role      Role
	Content   string
	Encrypted bool
}

// Message is a stored conversation entry (spec.md §3).
type Message struct {
	ID             string
	ConversationID string
	ParentID       string // empty for the first message in a conversation
	CreatedAt      int64  // milliseconds since epoch
	Role           Role
	Status         Status
	Content        string
	ToolCall       string // JSON text of a native tool invocation, if any
	ToolResult     string // JSON text of the upstream-supplied result, if any
	// SemanticID is the deduplication fingerprint (spec.md §3): the
	// caller-supplied identifier (e.g. an OpenAI tool_call_id) when present,
	// otherwise SemanticHash(Role, Content).
	SemanticID string
}

// ToTurn projects a Message down to the upstream wire shape, stripping
// store-only metadata (spec.md §4.5.1 toTurns).
func (m Message) ToTurn() Turn {
	return Turn{Role: m.Role, Content: m.Content}
}

// SemanticHash computes the content-addressed fingerprint spec.md §3
// defines: the first 16 hex characters of SHA256(role || "\0" || content).
func SemanticHash(role Role, content string) string {
	h := sha256.New()
	h.Write([]byte(role))
	h.Write([]byte{0})
	h.Write([]byte(content))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:16]
}

// Conversation groups an ordered sequence of Messages under one Space
// (spec.md §3).
type Conversation struct {
	ID        string
	SpaceID   string
	CreatedAt int64
	UpdatedAt int64
	Title     string
	Status    ConversationStatus
	Starred   bool
	Messages  []Message
	// Dirty means the next sync pass must re-encrypt and push this
	// conversation; cleared only by the sync engine after a successful push.
	Dirty bool
	// LastSyncedAt is zero until the first successful push.
	LastSyncedAt int64
}

// IsNewTitle reports whether the conversation still has the sentinel title
// and is therefore eligible for exactly one server-generated title request.
func (c *Conversation) IsNewTitle() bool {
	return c.Title == NewConversationTitle
}

// LastMessageID returns the ID of the last message, or "" if the
// conversation has no messages yet (used to derive the next message's
// ParentID per the append-ordering invariant in spec.md §3).
func (c *Conversation) LastMessageID() string {
	if len(c.Messages) == 0 {
		return ""
	}
	return c.Messages[len(c.Messages)-1].ID
}

// ToTurns projects every message to its upstream wire shape, in order
// (spec.md §4.5.1 toTurns).
func (c *Conversation) ToTurns() []Turn {
	turns := make([]Turn, len(c.Messages))
	for i, m := range c.Messages {
		turns[i] = m.ToTurn()
	}
	return turns
}

// Space is the persistence container grouping conversations under one
// wrapped symmetric key (spec.md §3).
type Space struct {
	ID        string
	CreatedAt int64
	// WrappedKey is the space's AES-GCM key, wrapped under the sync
	// engine's master key, as stored server-side.
	WrappedKey []byte
}
