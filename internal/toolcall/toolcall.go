// Package toolcall implements the streaming tool detector of spec.md §4.2:
// a state machine that recovers tool-call JSON embedded in free-text model
// output (fenced ```json blocks or raw JSON at a line boundary) when the
// caller has declared custom tools.
//
// The teacher's internal/streaming.ToolCallDetector detects OpenAI's
// already-structured delta.tool_calls shape; it has no text-scanning logic
// to ground this on, so the state machine itself is new, built from
// spec.md's literal algorithm description. The struct-with-accumulator
// shape and method naming (a ProcessChunk-style incremental Feed and a
// Finalize) follow the teacher's detector.
package toolcall

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/ZeroTricks/lumo-tamer-sub001/internal/upstream"
)

// ToolCall is the normalized shape spec.md §4.2.1 reduces every accepted
// variant to.
type ToolCall struct {
	Name      string
	Arguments map[string]any
}

// state is one of the three detector states (spec.md §4.2).
type state int

const (
	stateNormal state = iota
	stateInCodeFence
	stateInRawJSON
)

var (
	fenceOpenRe = regexp.MustCompile("```(?:json)?\\s*\\n?")
	fenceCloseRe = regexp.MustCompile("```")
	// rawJSONOpenRe matches an object opener that begins a line (after
	// optional whitespace) and immediately precedes a quote — the raw-JSON
	// heuristic in spec.md §4.2.
	rawJSONOpenRe = regexp.MustCompile(`(?m)^[ \t]*\{"`)
)

// lookback is how many trailing characters Detector withholds from
// "normal" state output, in case they are the start of a split fence
// marker (spec.md §4.2 "emit all but the last 10 characters").
const lookback = 10

// Detector runs the state machine of spec.md §4.2 over an arbitrarily
// chunked text stream, separating plain text from embedded tool calls.
type Detector struct {
	state state

	pending strings.Builder // unprocessed input in stateNormal
	fenceBuf strings.Builder // accumulated body in stateInCodeFence
	tracker *upstream.BraceTracker

	text      strings.Builder
	toolCalls []ToolCall
}

// New returns a Detector ready to process a stream. Callers should only
// construct one when the request declared custom tools (spec.md §4.2 "the
// detector runs only when hasCustomTools").
func New() *Detector {
	return &Detector{tracker: upstream.NewBraceTracker()}
}

// Feed processes one chunk of model output, however large or small.
func (d *Detector) Feed(chunk string) {
	d.pending.WriteString(chunk)

	for {
		if !d.step() {
			break
		}
	}
}

// step advances the state machine as far as it can with currently
// buffered input, returning true if it made progress (so the caller should
// try again in case further progress is now possible).
func (d *Detector) step() bool {
	switch d.state {
	case stateNormal:
		return d.stepNormal()
	case stateInCodeFence:
		return d.stepInCodeFence()
	case stateInRawJSON:
		return d.stepInRawJSON()
	}
	return false
}

func (d *Detector) stepNormal() bool {
	buf := d.pending.String()
	if buf == "" {
		return false
	}

	fenceLoc := fenceOpenRe.FindStringIndex(buf)
	rawLoc := rawJSONOpenRe.FindStringIndex(buf)

	switch {
	case fenceLoc != nil && (rawLoc == nil || fenceLoc[0] <= rawLoc[0]):
		d.text.WriteString(buf[:fenceLoc[0]])
		rest := buf[fenceLoc[1]:]
		d.pending.Reset()
		d.pending.WriteString(rest)
		d.state = stateInCodeFence
		d.fenceBuf.Reset()
		return true
	case rawLoc != nil:
		// rawJSONOpenRe captures the leading "{ up to and including the
		// opening quote; feed from the brace itself.
		openerStart := rawLoc[0] + strings.IndexByte(buf[rawLoc[0]:rawLoc[1]], '{')
		d.text.WriteString(buf[:openerStart])
		rest := buf[openerStart:]
		d.pending.Reset()
		d.state = stateInRawJSON
		d.tracker.Reset()
		d.consumeRawObjects(d.tracker.Feed(rest))
		return true
	default:
		if len(buf) > lookback {
			emit := buf[:len(buf)-lookback]
			d.text.WriteString(emit)
			d.pending.Reset()
			d.pending.WriteString(buf[len(buf)-lookback:])
		}
		return false
	}
}

func (d *Detector) stepInCodeFence() bool {
	buf := d.pending.String()
	if buf == "" {
		return false
	}

	closeLoc := fenceCloseRe.FindStringIndex(buf)
	if closeLoc == nil {
		d.fenceBuf.WriteString(buf)
		d.pending.Reset()
		return false
	}

	d.fenceBuf.WriteString(buf[:closeLoc[0]])
	rest := buf[closeLoc[1]:]
	d.pending.Reset()
	d.pending.WriteString(rest)

	body := d.fenceBuf.String()
	if tc, ok := Normalize(body); ok {
		d.toolCalls = append(d.toolCalls, tc)
	} else {
		// not a recognized tool call: emit the fence back as plain text,
		// preserving the markers (spec.md §4.2).
		d.text.WriteString("```json\n")
		d.text.WriteString(body)
		d.text.WriteString("```")
	}
	d.state = stateNormal
	return true
}

func (d *Detector) stepInRawJSON() bool {
	buf := d.pending.String()
	if buf != "" {
		d.pending.Reset()
		objects := d.tracker.Feed(buf)
		return d.consumeRawObjects(objects)
	}
	return false
}

func (d *Detector) consumeRawObjects(objects []string) bool {
	if len(objects) == 0 {
		return false
	}
	for _, obj := range objects {
		if tc, ok := Normalize(obj); ok {
			d.toolCalls = append(d.toolCalls, tc)
		} else {
			d.text.WriteString(obj)
		}
	}
	d.state = stateNormal
	return true
}

// Finalize flushes any buffered data at stream end (spec.md §4.2). If the
// detector is mid-block, the buffered content is emitted as plain text —
// it was an incomplete fence or object. This also covers the fix for the
// "finalize must flush all residual text" defect noted in spec.md §9: any
// text still sitting in d.pending (withheld for the fence lookback) is
// flushed too, not just fence/raw-json buffers.
func (d *Detector) Finalize() {
	switch d.state {
	case stateNormal:
		d.text.WriteString(d.pending.String())
		d.pending.Reset()
	case stateInCodeFence:
		d.text.WriteString("```json\n")
		d.text.WriteString(d.fenceBuf.String())
		d.text.WriteString(d.pending.String())
		d.fenceBuf.Reset()
		d.pending.Reset()
	case stateInRawJSON:
		// whatever never closed is not valid JSON; emit it verbatim along
		// with anything still in the tracker's internal buffer.
		d.text.WriteString(d.pending.String())
		d.pending.Reset()
	}
	d.state = stateNormal
}

// Text returns the accumulated plain-text output so far.
func (d *Detector) Text() string { return d.text.String() }

// ToolCalls returns the tool calls detected so far, in order.
func (d *Detector) ToolCalls() []ToolCall { return d.toolCalls }

// Normalize implements spec.md §4.2.1: accept any of the documented shapes
// and reduce to { name, arguments }. Returns ok=false for anything else.
func Normalize(raw string) (ToolCall, bool) {
	var generic map[string]any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return ToolCall{}, false
	}

	if typ, _ := generic["type"].(string); typ == "function" {
		fn, ok := generic["function"].(map[string]any)
		if !ok {
			return ToolCall{}, false
		}
		return normalizeNameArgs(fn)
	}

	if typ, _ := generic["type"].(string); typ == "function_call" {
		return normalizeNameArgs(generic)
	}

	if _, hasName := generic["name"]; hasName {
		return normalizeNameArgs(generic)
	}

	return ToolCall{}, false
}

func normalizeNameArgs(obj map[string]any) (ToolCall, bool) {
	name, ok := obj["name"].(string)
	if !ok || name == "" {
		return ToolCall{}, false
	}

	if args, ok := obj["arguments"].(map[string]any); ok {
		return ToolCall{Name: name, Arguments: args}, true
	}
	if params, ok := obj["parameters"].(map[string]any); ok {
		return ToolCall{Name: name, Arguments: params}, true
	}
	if argsStr, ok := obj["arguments"].(string); ok {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(argsStr), &parsed); err != nil {
			parsed = map[string]any{}
		}
		return ToolCall{Name: name, Arguments: parsed}, true
	}
	if _, hasArgs := obj["arguments"]; !hasArgs {
		if _, hasParams := obj["parameters"]; !hasParams {
			return ToolCall{Name: name, Arguments: map[string]any{}}, true
		}
	}
	return ToolCall{Name: name, Arguments: map[string]any{}}, true
}
