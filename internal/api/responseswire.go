package api

// responseEnvelope is the `response` object every response.* event either
// wraps or, in response.completed, carries in full (spec.md §4.3.2).
type responseEnvelope struct {
	ID        string               `json:"id"`
	Object    string               `json:"object"`
	CreatedAt int64                `json:"created_at"`
	Status    string               `json:"status"`
	Model     string               `json:"model"`
	Output    []responseOutputItem `json:"output"`
}

// responseOutputItem is one entry of the envelope's output array: the
// first is always the assistant message, any that follow are function
// calls (spec.md §4.3.2).
type responseOutputItem struct {
	ID        string                `json:"id"`
	Type      string                `json:"type"` // "message" or "function_call"
	Status    string                `json:"status,omitempty"`
	Role      string                `json:"role,omitempty"`
	Content   []responseContentPart `json:"content,omitempty"`
	CallID    string                `json:"call_id,omitempty"`
	Name      string                `json:"name,omitempty"`
	Arguments string                `json:"arguments,omitempty"`
}

// responseContentPart is a message item's output_text content part.
type responseContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// responseEvent is the single shape every Responses SSE frame marshals
// as: each event type only populates the fields relevant to it and
// omitempty drops the rest, so one emit call covers the entire taxonomy
// (spec.md §9's single-emit redesign note — see sse.go).
type responseEvent struct {
	Type           string                `json:"type"`
	SequenceNumber int                   `json:"sequence_number"`
	Response       *responseEnvelope     `json:"response,omitempty"`
	OutputIndex    *int                  `json:"output_index,omitempty"`
	ItemID         string                `json:"item_id,omitempty"`
	Item           *responseOutputItem   `json:"item,omitempty"`
	ContentIndex   *int                  `json:"content_index,omitempty"`
	Part           *responseContentPart  `json:"part,omitempty"`
	Delta          string                `json:"delta,omitempty"`
	Text           string                `json:"text,omitempty"`
}

// responsesRequest is the inbound body of POST /v1/responses, reusing the
// same message shape chat completions parses (spec.md §4.3.3 applies to
// both endpoints identically).
type responsesRequest = chatCompletionsRequest

func intPtr(i int) *int { return &i }
