package syncengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// remoteSpace is one entry from the sync server's space listing (spec.md
// §4.6.4 "List spaces"). Space ids are server-assigned, unlike conversation
// and message ids.
type remoteSpace struct {
	ID         string `json:"id"`
	WrappedKey string `json:"wrappedKey"`
}

// remoteConversation is one entry from the sync server's per-space
// conversation listing. ID is the same conversation id the client
// generated, never a server-assigned one: it doubles as the AEAD
// associated data (spec.md §4.6.2), so it must be identical on both sides
// of a push/pull round trip.
type remoteConversation struct {
	ID         string `json:"id"`
	Ciphertext string `json:"ciphertext"`
}

// remoteMessage is one entry from the sync server's per-conversation
// message listing. ID is the client-generated message id, same rationale
// as remoteConversation.ID.
type remoteMessage struct {
	ID         string `json:"id"`
	Ciphertext string `json:"ciphertext"`
}

// RemoteClient is the sync server collaborator boundary (spec.md §4.6.3,
// §4.6.4). Narrow by design, same as upstream.AuthProvider: every method
// the push/pull algorithm needs and nothing else, so a fake implementation
// is trivial to write in tests.
type RemoteClient interface {
	CreateSpace(ctx context.Context, wrappedKey string) (remoteID string, err error)
	ListSpaces(ctx context.Context) ([]remoteSpace, error)
	CreateConversation(ctx context.Context, spaceRemoteID, conversationID, ciphertext string) error
	PatchConversation(ctx context.Context, conversationID, ciphertext string, starred bool) error
	CreateMessage(ctx context.Context, conversationID, messageID, ciphertext string) error
	ListConversations(ctx context.Context, spaceRemoteID string) ([]remoteConversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]remoteMessage, error)
}

// httpRemoteClient is the production RemoteClient, a thin JSON-over-HTTP
// client in the same net/http request-construction style as internal/upstream.Client —
// the sync server has no proprietary wire protocol to contend with, just
// plain REST over the encrypted payloads this package produces.
type httpRemoteClient struct {
	httpClient *http.Client
	baseURL    string
	bearer     string
}

// NewHTTPRemoteClient returns a RemoteClient talking to baseURL, presenting
// bearer as the sync server's auth token.
func NewHTTPRemoteClient(httpClient *http.Client, baseURL, bearer string) RemoteClient {
	return &httpRemoteClient{httpClient: httpClient, baseURL: baseURL, bearer: bearer}
}

func (c *httpRemoteClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("syncengine: marshal request body: %w", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("syncengine: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("syncengine: request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("syncengine: sync server returned status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *httpRemoteClient) CreateSpace(ctx context.Context, wrappedKey string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, "/spaces", map[string]string{"wrappedKey": wrappedKey}, &out)
	return out.ID, err
}

func (c *httpRemoteClient) ListSpaces(ctx context.Context) ([]remoteSpace, error) {
	var out []remoteSpace
	err := c.do(ctx, http.MethodGet, "/spaces", nil, &out)
	return out, err
}

func (c *httpRemoteClient) CreateConversation(ctx context.Context, spaceRemoteID, conversationID, ciphertext string) error {
	path := fmt.Sprintf("/spaces/%s/conversations", spaceRemoteID)
	return c.do(ctx, http.MethodPost, path, map[string]string{"id": conversationID, "ciphertext": ciphertext}, nil)
}

func (c *httpRemoteClient) PatchConversation(ctx context.Context, conversationID, ciphertext string, starred bool) error {
	path := fmt.Sprintf("/conversations/%s", conversationID)
	return c.do(ctx, http.MethodPatch, path, map[string]any{"ciphertext": ciphertext, "starred": starred}, nil)
}

func (c *httpRemoteClient) CreateMessage(ctx context.Context, conversationID, messageID, ciphertext string) error {
	path := fmt.Sprintf("/conversations/%s/messages", conversationID)
	return c.do(ctx, http.MethodPost, path, map[string]string{"id": messageID, "ciphertext": ciphertext}, nil)
}

func (c *httpRemoteClient) ListConversations(ctx context.Context, spaceRemoteID string) ([]remoteConversation, error) {
	var out []remoteConversation
	path := fmt.Sprintf("/spaces/%s/conversations", spaceRemoteID)
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *httpRemoteClient) ListMessages(ctx context.Context, conversationID string) ([]remoteMessage, error) {
	var out []remoteMessage
	path := fmt.Sprintf("/conversations/%s/messages", conversationID)
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}
