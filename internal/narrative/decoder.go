package narrative

import (
	"bytes"
	"encoding/json"
)

// Fragment is one decoded token of the generated narrative.
type Fragment struct {
	Text string
	Done bool
}

// wireFragment is the NDJSON line shape emitted by the generation service.
type wireFragment struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Decoder is a stateful accumulator for a newline-delimited JSON token
// stream. Network chunk boundaries can split a line (or a multi-byte rune)
// anywhere, so Feed buffers the trailing partial line between calls and only
// parses complete lines. Malformed lines are skipped, not fatal.
type Decoder struct {
	buf bytes.Buffer
}

// Feed appends a chunk of raw stream bytes and returns every fragment whose
// line completed with this chunk, in stream order.
func (d *Decoder) Feed(p []byte) []Fragment {
	d.buf.Write(p)

	var fragments []Fragment
	for {
		data := d.buf.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			return fragments
		}
		line := make([]byte, i)
		copy(line, data[:i])
		d.buf.Next(i + 1)

		if f, ok := decodeLine(line); ok {
			fragments = append(fragments, f)
		}
	}
}

// Flush decodes whatever remains in the buffer as a final, unterminated
// line. Call it once the stream has ended.
func (d *Decoder) Flush() []Fragment {
	line := bytes.TrimSpace(d.buf.Bytes())
	d.buf.Reset()
	if f, ok := decodeLine(line); ok {
		return []Fragment{f}
	}
	return nil
}

func decodeLine(line []byte) (Fragment, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Fragment{}, false
	}
	var w wireFragment
	if err := json.Unmarshal(line, &w); err != nil {
		return Fragment{}, false
	}
	return Fragment{Text: w.Response, Done: w.Done}, true
}
