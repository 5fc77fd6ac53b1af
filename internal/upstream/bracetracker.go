package upstream

// BraceTracker recovers complete JSON objects from an arbitrary chunked
// byte stream (spec.md §4.1.3). It is also the core of the streaming tool
// detector's in_raw_json state (internal/toolcall), so it is exported from
// this package rather than duplicated.
type BraceTracker struct {
	depth    int
	inString bool
	escaped  bool
	buf      []byte
}

// NewBraceTracker returns a tracker ready to consume input.
func NewBraceTracker() *BraceTracker {
	return &BraceTracker{}
}

// Feed appends chunk to the tracker's internal state and returns every
// complete JSON object recovered from it, in order. Feed may be called with
// chunks of any size, including one character at a time (spec.md §8
// "brace-depth idempotence").
func (t *BraceTracker) Feed(chunk string) []string {
	var objects []string
	for i := 0; i < len(chunk); i++ {
		c := chunk[i]

		switch {
		case t.inString:
			t.buf = append(t.buf, c)
			if t.escaped {
				t.escaped = false
			} else if c == '\\' {
				t.escaped = true
			} else if c == '"' {
				t.inString = false
			}
		case c == '"':
			t.buf = append(t.buf, c)
			t.inString = true
		case c == '{':
			t.depth++
			t.buf = append(t.buf, c)
		case c == '}':
			t.depth--
			t.buf = append(t.buf, c)
			if t.depth == 0 {
				objects = append(objects, string(t.buf))
				t.buf = t.buf[:0]
			}
		default:
			if t.depth > 0 {
				t.buf = append(t.buf, c)
			}
			// else: out-of-object text, discarded
		}
	}
	return objects
}

// Reset clears all tracker state, discarding any partial buffer.
func (t *BraceTracker) Reset() {
	t.depth = 0
	t.inString = false
	t.escaped = false
	t.buf = t.buf[:0]
}
