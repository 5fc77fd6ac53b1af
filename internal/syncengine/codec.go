package syncengine

import (
	"encoding/json"
	"fmt"

	"github.com/ZeroTricks/lumo-tamer-sub001/internal/cryptoutil"
)

// conversationPayload is the plaintext a conversation body encrypts (spec.md
// §4.6.3 step 2/3: "{title}").
type conversationPayload struct {
	Title string `json:"title"`
}

// messagePayload is the plaintext a message body encrypts (spec.md §4.6.3
// step 4: "{content, context?, toolCall?, toolResult?}").
type messagePayload struct {
	Content    string `json:"content"`
	Context    string `json:"context,omitempty"`
	ToolCall   string `json:"toolCall,omitempty"`
	ToolResult string `json:"toolResult,omitempty"`
}

// encryptConversation encrypts {title} under dek with the conversation AD
// (spec.md §4.6.2).
func encryptConversation(dek []byte, conversationID, title string) (string, error) {
	body, err := json.Marshal(conversationPayload{Title: title})
	if err != nil {
		return "", fmt.Errorf("syncengine: marshal conversation payload: %w", err)
	}
	return cryptoutil.Encrypt(dek, cryptoutil.ConversationAD(conversationID), body)
}

// decryptConversation reverses encryptConversation.
func decryptConversation(dek []byte, conversationID, ciphertext string) (conversationPayload, error) {
	var payload conversationPayload
	plaintext, err := cryptoutil.Decrypt(dek, cryptoutil.ConversationAD(conversationID), ciphertext)
	if err != nil {
		return payload, err
	}
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return payload, fmt.Errorf("syncengine: unmarshal conversation payload: %w", err)
	}
	return payload, nil
}

// encryptMessage encrypts a message body under dek with the message AD
// (spec.md §4.6.2).
func encryptMessage(dek []byte, messageID string, payload messagePayload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("syncengine: marshal message payload: %w", err)
	}
	return cryptoutil.Encrypt(dek, cryptoutil.MessageAD(messageID), body)
}

// decryptMessage reverses encryptMessage.
func decryptMessage(dek []byte, messageID, ciphertext string) (messagePayload, error) {
	var payload messagePayload
	plaintext, err := cryptoutil.Decrypt(dek, cryptoutil.MessageAD(messageID), ciphertext)
	if err != nil {
		return payload, err
	}
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return payload, fmt.Errorf("syncengine: unmarshal message payload: %w", err)
	}
	return payload, nil
}
