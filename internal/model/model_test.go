package model

import "testing"

func TestSemanticHashLength(t *testing.T) {
	hash := SemanticHash(RoleUser, "hello")
	if len(hash) != 16 {
		t.Fatalf("expected 16 hex chars, got %d (%s)", len(hash), hash)
	}
}

func TestSemanticHashDeterministic(t *testing.T) {
	a := SemanticHash(RoleUser, "hello")
	b := SemanticHash(RoleUser, "hello")
	if a != b {
		t.Fatalf("expected deterministic hash, got %s != %s", a, b)
	}
}

func TestSemanticHashDiffersByRole(t *testing.T) {
	a := SemanticHash(RoleUser, "hello")
	b := SemanticHash(RoleAssistant, "hello")
	if a == b {
		t.Fatalf("expected different hash for different role, got same %s", a)
	}
}

func TestConversationIsNewTitle(t *testing.T) {
	c := &Conversation{Title: NewConversationTitle}
	if !c.IsNewTitle() {
		t.Fatal("expected IsNewTitle to be true for sentinel title")
	}
	c.Title = "Something else"
	if c.IsNewTitle() {
		t.Fatal("expected IsNewTitle to be false for non-sentinel title")
	}
}

func TestLastMessageID(t *testing.T) {
	c := &Conversation{}
	if c.LastMessageID() != "" {
		t.Fatal("expected empty LastMessageID for empty conversation")
	}
	c.Messages = append(c.Messages, Message{ID: "m1"}, Message{ID: "m2"})
	if got := c.LastMessageID(); got != "m2" {
		t.Fatalf("expected m2, got %s", got)
	}
}
