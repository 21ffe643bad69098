// SSE record parsing for accumulated event-stream bodies.
package usage

import (
	"bytes"
	"encoding/json"

	"github.com/tidwall/gjson"
)

var doneSentinel = []byte("[DONE]")

// ParseEvents splits an accumulated SSE body into the ordered list of JSON
// data payloads. Records are blank-line delimited; only "data:" lines count.
// Empty payloads, the [DONE] sentinel, and payloads that fail JSON validation
// are silently skipped.
func ParseEvents(raw []byte) []json.RawMessage {
	var events []json.RawMessage
	for len(raw) > 0 {
		record, rest := nextRecord(raw)
		raw = rest
		payload := dataPayload(record)
		if payload == nil {
			continue
		}
		if !gjson.ValidBytes(payload) {
			continue
		}
		events = append(events, json.RawMessage(payload))
	}
	return events
}

// nextRecord returns the next blank-line-delimited SSE record. The tail after
// the final delimiter is returned as a record of its own so a stream cut off
// mid-flush still yields its last event.
func nextRecord(buf []byte) (record, rest []byte) {
	if idx := bytes.Index(buf, []byte("\r\n\r\n")); idx >= 0 {
		return buf[:idx], buf[idx+4:]
	}
	if idx := bytes.Index(buf, []byte("\n\n")); idx >= 0 {
		return buf[:idx], buf[idx+2:]
	}
	return bytes.TrimSpace(buf), nil
}

// dataPayload joins the data lines of one record, or nil when the record has
// no usable payload.
func dataPayload(record []byte) []byte {
	var parts [][]byte
	for _, line := range bytes.Split(record, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		p := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		if len(p) == 0 || bytes.Equal(p, doneSentinel) {
			continue
		}
		parts = append(parts, p)
	}
	if len(parts) == 0 {
		return nil
	}
	return bytes.Join(parts, []byte("\n"))
}
