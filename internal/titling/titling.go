// Package titling implements server-requested conversation titling (spec.md
// §4.3 step 9, §4.5's NewConversationTitle sentinel): requesting a title
// from the upstream chat call and post-processing whatever text comes
// back.
//
// Unlike the teacher, which calls out to a separate chat-completions
// endpoint purely to generate a title, this gateway's upstream protocol
// folds title generation into the same U2L chat call (the "title" SSE
// target, surfaced as ChatResult.Title when ChatOptions.RequestTitle is
// set). Generate is the fallback when that inline title is missing: it
// makes its own ChatWithHistory call with RequestTitle set. What's adapted
// from the teacher's internal/title_generation/generator.go is the retry
// shape: a small bounded number of attempts with linear backoff, since the
// same transient-failure modes (upstream hiccups) apply here too.
package titling

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ZeroTricks/lumo-tamer-sub001/internal/logger"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/model"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/upstream"
)

const maxRetries = 3

// maxTitleLength is the cap spec.md §4.3 step 9 imposes.
const maxTitleLength = 100

// chatClient is the narrow subset of *upstream.Client the generator needs.
type chatClient interface {
	ChatWithHistory(ctx context.Context, turns []model.Turn, onChunk upstream.OnChunk, opts upstream.ChatOptions) (*upstream.ChatResult, error)
}

// Generator requests and post-processes a conversation title.
type Generator struct {
	client chatClient
	log    *logger.Logger
}

// NewGenerator returns a Generator backed by client.
func NewGenerator(client chatClient, log *logger.Logger) *Generator {
	return &Generator{client: client, log: log.WithComponent("titling")}
}

// Generate requests a title for turns, retrying transient failures with
// linear backoff (1s, 2s, ...), same cadence as the teacher's generator.
func (g *Generator) Generate(ctx context.Context, turns []model.Turn) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		result, err := g.client.ChatWithHistory(ctx, turns, nil, upstream.ChatOptions{RequestTitle: true})
		if err == nil {
			if title := PostProcess(result.Title); title != "" {
				return title, nil
			}
			lastErr = errors.New("titling: upstream returned an empty title")
		} else {
			lastErr = err
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt) * time.Second
			select {
			case <-time.After(backoff):
				continue
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}

	g.log.Warn("failed to generate a title after retries", "error", lastErr.Error())
	return "", lastErr
}

// PostProcess implements spec.md §4.3 step 9: trim to one line, strip
// surrounding quotes/punctuation, cap at 100 characters.
func PostProcess(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}

	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	text = strings.TrimSpace(text)

	text = strings.Trim(text, "\"'“”‘’.,;: \t")

	runes := []rune(text)
	if len(runes) > maxTitleLength {
		text = string(runes[:maxTitleLength])
	}

	return strings.TrimSpace(text)
}
