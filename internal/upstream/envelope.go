package upstream

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/ZeroTricks/lumo-tamer-sub001/internal/cryptoutil"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/model"
)

var (
	defaultTools  = []string{"proton_info"}
	externalTools = []string{"proton_info", "web_search", "weather", "stock", "cryptocurrency"}
)

// encryptedTurn is one entry in the U2L request envelope's turns array
// (spec.md §4.1.1 step 3).
type encryptedTurn struct {
	Role      model.Role `json:"role"`
	Content   string     `json:"content"`
	Encrypted bool       `json:"encrypted"`
}

type generationOptions struct {
	Tools []string `json:"tools"`
}

type promptBody struct {
	Type    string            `json:"type"`
	Turns   []encryptedTurn   `json:"turns"`
	Options generationOptions `json:"options"`
	Targets []string          `json:"targets"`
	// RequestKey is the PGP-wrapped, base64-encoded request AES-GCM key.
	RequestKey string `json:"request_key"`
	RequestID  string `json:"request_id"`
}

type requestEnvelope struct {
	Prompt promptBody `json:"Prompt"`
}

// withInstructions inserts opts.Instructions as a system turn at the
// position opts.InjectInstructionsInto names ("first" or "last", default
// "first"). The wire envelope has no dedicated instructions field (spec.md
// §4.1.1's body is turns-only), so the instructions string assembled by
// internal/instructions (spec.md §4.3.3) rides along as an ordinary turn.
func withInstructions(turns []model.Turn, opts ChatOptions) []model.Turn {
	if opts.Instructions == "" {
		return turns
	}
	instructionTurn := model.Turn{Role: model.RoleSystem, Content: opts.Instructions}
	if opts.InjectInstructionsInto == "last" {
		return append(append([]model.Turn{}, turns...), instructionTurn)
	}
	return append([]model.Turn{instructionTurn}, turns...)
}

// buildEnvelope implements spec.md §4.1.1: generate a fresh per-request
// AES-GCM key, wrap it under the upstream's long-lived public key, encrypt
// every turn's content under that key with the shared per-request AD, and
// assemble the wire body.
//
// It returns the marshaled JSON body, the per-request id, and the raw
// session key (kept by the caller to decrypt the response chunks).
func buildEnvelope(ctx context.Context, wrapper cryptoutil.KeyWrapper, upstreamPublicKey []byte, turns []model.Turn, opts ChatOptions) ([]byte, string, []byte, error) {
	sessionKey, err := cryptoutil.GenerateKey()
	if err != nil {
		return nil, "", nil, err
	}

	requestID := uuid.NewString()

	wrappedKey, err := wrapper.Wrap(ctx, upstreamPublicKey, sessionKey)
	if err != nil {
		return nil, "", nil, err
	}

	turns = withInstructions(turns, opts)

	ad := cryptoutil.RequestTurnAD(requestID)
	encTurns := make([]encryptedTurn, len(turns))
	for i, t := range turns {
		ciphertext, err := cryptoutil.Encrypt(sessionKey, ad, []byte(t.Content))
		if err != nil {
			return nil, "", nil, err
		}
		encTurns[i] = encryptedTurn{Role: t.Role, Content: ciphertext, Encrypted: true}
	}

	// spec.md §4.1.1 step 4: targets is message, plus title when requested.
	// The response demuxer still routes tool_call/tool_result frames by
	// target regardless of what was requested here (spec.md §4.1.2), since
	// the upstream emits them unprompted when the model calls a tool.
	targets := []string{"message"}
	if opts.RequestTitle {
		targets = append(targets, "title")
	}

	tools := defaultTools
	if opts.EnableExternalTools {
		tools = externalTools
	}

	env := requestEnvelope{
		Prompt: promptBody{
			Type:       "generation_request",
			Turns:      encTurns,
			Options:    generationOptions{Tools: tools},
			Targets:    targets,
			RequestKey: base64.StdEncoding.EncodeToString(wrappedKey),
			RequestID:  requestID,
		},
	}

	body, err := json.Marshal(env)
	if err != nil {
		return nil, "", nil, err
	}
	return body, requestID, sessionKey, nil
}
