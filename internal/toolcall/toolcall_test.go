package toolcall

import (
	"reflect"
	"testing"
)

func runDetector(t *testing.T, chunks []string) *Detector {
	t.Helper()
	d := New()
	for _, c := range chunks {
		d.Feed(c)
	}
	d.Finalize()
	return d
}

func TestDetectorPlainTextOnly(t *testing.T) {
	d := runDetector(t, []string{"hello ", "world"})
	if d.Text() != "hello world" {
		t.Fatalf("expected %q, got %q", "hello world", d.Text())
	}
	if len(d.ToolCalls()) != 0 {
		t.Fatalf("expected no tool calls, got %v", d.ToolCalls())
	}
}

// scenario 3: fenced tool call, message.content does not contain the
// literal ```json.
func TestDetectorFencedToolCall(t *testing.T) {
	input := "before ```json\n{\"name\":\"search\",\"arguments\":{\"q\":\"x\"}}\n``` after"
	d := runDetector(t, []string{input})

	if got := d.Text(); got != "before  after" {
		t.Fatalf("expected %q, got %q", "before  after", got)
	}
	want := []ToolCall{{Name: "search", Arguments: map[string]any{"q": "x"}}}
	if !reflect.DeepEqual(d.ToolCalls(), want) {
		t.Fatalf("expected %v, got %v", want, d.ToolCalls())
	}
}

func TestDetectorFencedToolCallSplitAcrossChunks(t *testing.T) {
	chunks := []string{"before ```json\n{\"na", "me\":\"search\",\"argum", "ents\":{\"q\":\"x\"}}\n", "``` after"}
	d := runDetector(t, chunks)

	want := []ToolCall{{Name: "search", Arguments: map[string]any{"q": "x"}}}
	if !reflect.DeepEqual(d.ToolCalls(), want) {
		t.Fatalf("expected %v, got %v", want, d.ToolCalls())
	}
}

func TestDetectorInvalidFencedBodyEmittedAsText(t *testing.T) {
	input := "see ```json\nnot valid json\n``` end"
	d := runDetector(t, []string{input})

	if len(d.ToolCalls()) != 0 {
		t.Fatalf("expected no tool calls for invalid fence body, got %v", d.ToolCalls())
	}
	if d.Text() == "" {
		t.Fatal("expected invalid fence body to be emitted back as text")
	}
}

func TestDetectorRawJSONToolCall(t *testing.T) {
	input := "before\n{\"name\":\"search\",\"arguments\":{\"q\":\"x\"}}\n"
	d := runDetector(t, []string{input})

	want := []ToolCall{{Name: "search", Arguments: map[string]any{"q": "x"}}}
	if !reflect.DeepEqual(d.ToolCalls(), want) {
		t.Fatalf("expected %v, got %v", want, d.ToolCalls())
	}
}

func TestDetectorUnterminatedFenceFlushedOnFinalize(t *testing.T) {
	d := New()
	d.Feed("before ```json\n{\"name\":\"search\"")
	d.Finalize()

	if len(d.ToolCalls()) != 0 {
		t.Fatalf("expected no tool calls for unterminated fence, got %v", d.ToolCalls())
	}
	if d.Text() == "" {
		t.Fatal("expected Finalize to flush the unterminated fence as text")
	}
}

func TestNormalizeCanonical(t *testing.T) {
	tc, ok := Normalize(`{"name":"search","arguments":{"q":"x"}}`)
	if !ok {
		t.Fatal("expected ok")
	}
	want := ToolCall{Name: "search", Arguments: map[string]any{"q": "x"}}
	if !reflect.DeepEqual(tc, want) {
		t.Fatalf("expected %v, got %v", want, tc)
	}
}

func TestNormalizeParametersRenamed(t *testing.T) {
	tc, ok := Normalize(`{"name":"search","parameters":{"q":"x"}}`)
	if !ok {
		t.Fatal("expected ok")
	}
	want := ToolCall{Name: "search", Arguments: map[string]any{"q": "x"}}
	if !reflect.DeepEqual(tc, want) {
		t.Fatalf("expected %v, got %v", want, tc)
	}
}

func TestNormalizeNameOnly(t *testing.T) {
	tc, ok := Normalize(`{"name":"ping"}`)
	if !ok {
		t.Fatal("expected ok")
	}
	want := ToolCall{Name: "ping", Arguments: map[string]any{}}
	if !reflect.DeepEqual(tc, want) {
		t.Fatalf("expected %v, got %v", want, tc)
	}
}

func TestNormalizeFunctionCallStringArguments(t *testing.T) {
	tc, ok := Normalize(`{"type":"function_call","name":"search","arguments":"{\"q\":\"x\"}"}`)
	if !ok {
		t.Fatal("expected ok")
	}
	want := ToolCall{Name: "search", Arguments: map[string]any{"q": "x"}}
	if !reflect.DeepEqual(tc, want) {
		t.Fatalf("expected %v, got %v", want, tc)
	}
}

func TestNormalizeFunctionCallInvalidArgumentsStringDefaultsEmpty(t *testing.T) {
	tc, ok := Normalize(`{"type":"function_call","name":"search","arguments":"not json"}`)
	if !ok {
		t.Fatal("expected ok")
	}
	want := ToolCall{Name: "search", Arguments: map[string]any{}}
	if !reflect.DeepEqual(tc, want) {
		t.Fatalf("expected %v, got %v", want, tc)
	}
}

func TestNormalizeWrappedFunctionType(t *testing.T) {
	tc, ok := Normalize(`{"type":"function","function":{"name":"search","arguments":"{\"q\":\"x\"}"}}`)
	if !ok {
		t.Fatal("expected ok")
	}
	want := ToolCall{Name: "search", Arguments: map[string]any{"q": "x"}}
	if !reflect.DeepEqual(tc, want) {
		t.Fatalf("expected %v, got %v", want, tc)
	}
}

func TestNormalizeUnrecognizedShapeIsNotToolCall(t *testing.T) {
	if _, ok := Normalize(`{"foo":"bar"}`); ok {
		t.Fatal("expected not-ok for unrecognized shape")
	}
	if _, ok := Normalize(`not json at all`); ok {
		t.Fatal("expected not-ok for invalid JSON")
	}
}
