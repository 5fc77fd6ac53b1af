package titling

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ZeroTricks/lumo-tamer-sub001/internal/logger"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/model"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/upstream"
)

func testLogger() *logger.Logger {
	return logger.New(logger.FromConfig("debug", "text"))
}

func TestPostProcessTrimsToOneLine(t *testing.T) {
	got := PostProcess("First line\nSecond line")
	if got != "First line" {
		t.Fatalf("expected only the first line, got %q", got)
	}
}

func TestPostProcessStripsSurroundingQuotesAndPunctuation(t *testing.T) {
	got := PostProcess(`"Weekend trip plans."`)
	if got != "Weekend trip plans" {
		t.Fatalf("expected quotes and trailing period stripped, got %q", got)
	}
}

func TestPostProcessCapsAtMaxLength(t *testing.T) {
	long := strings.Repeat("a", 150)
	got := PostProcess(long)
	if len(got) != maxTitleLength {
		t.Fatalf("expected title capped at %d chars, got %d", maxTitleLength, len(got))
	}
}

func TestPostProcessEmptyInputReturnsEmpty(t *testing.T) {
	if got := PostProcess("   "); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

type fakeChatClient struct {
	results []*upstream.ChatResult
	errs    []error
	calls   int
}

func (f *fakeChatClient) ChatWithHistory(ctx context.Context, turns []model.Turn, onChunk upstream.OnChunk, opts upstream.ChatOptions) (*upstream.ChatResult, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return f.results[i], nil
}

func TestGenerateReturnsPostProcessedTitleOnFirstSuccess(t *testing.T) {
	client := &fakeChatClient{results: []*upstream.ChatResult{{Title: `"Trip plans."`}}, errs: []error{nil}}
	g := NewGenerator(client, testLogger())

	title, err := g.Generate(context.Background(), nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if title != "Trip plans" {
		t.Fatalf("unexpected title: %q", title)
	}
	if client.calls != 1 {
		t.Fatalf("expected exactly one call, got %d", client.calls)
	}
}

func TestGenerateRetriesOnEmptyTitleThenSucceeds(t *testing.T) {
	client := &fakeChatClient{
		results: []*upstream.ChatResult{{Title: ""}, {Title: "Second Attempt"}},
		errs:    []error{nil, nil},
	}
	g := NewGenerator(client, testLogger())

	title, err := g.Generate(context.Background(), nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if title != "Second Attempt" {
		t.Fatalf("unexpected title: %q", title)
	}
	if client.calls != 2 {
		t.Fatalf("expected exactly two calls, got %d", client.calls)
	}
}

func TestGenerateReturnsLastErrorAfterExhaustingRetries(t *testing.T) {
	boom := errors.New("boom")
	client := &fakeChatClient{
		results: []*upstream.ChatResult{nil, nil, nil},
		errs:    []error{boom, boom, boom},
	}
	g := NewGenerator(client, testLogger())

	_, err := g.Generate(context.Background(), nil)
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected the last upstream error, got %v", err)
	}
	if client.calls != maxRetries {
		t.Fatalf("expected %d calls, got %d", maxRetries, client.calls)
	}
}
