package usage

import "testing"

func TestParseEventsBasic(t *testing.T) {
	raw := []byte("event: message_start\ndata: {\"type\":\"message_start\"}\n\n" +
		"data: {\"type\":\"content_block_delta\"}\n\n" +
		"data: [DONE]\n\n")
	events := ParseEvents(raw)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if string(events[0]) != `{"type":"message_start"}` {
		t.Errorf("first event = %s", events[0])
	}
}

func TestParseEventsCRLF(t *testing.T) {
	raw := []byte("data: {\"a\":1}\r\n\r\ndata: {\"b\":2}\r\n\r\n")
	events := ParseEvents(raw)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
}

func TestParseEventsMultiLineData(t *testing.T) {
	// Successive data: lines in one record join into a single payload.
	raw := []byte("data: {\"a\":\ndata: 1}\n\n")
	events := ParseEvents(raw)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if string(events[0]) != "{\"a\":\n1}" {
		t.Errorf("joined payload = %q", events[0])
	}
}

func TestParseEventsSkipsMalformed(t *testing.T) {
	raw := []byte("data: {broken json\n\n" +
		"data: {\"ok\":true}\n\n" +
		": comment line\n\n" +
		"data: \n\n")
	events := ParseEvents(raw)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if string(events[0]) != `{"ok":true}` {
		t.Errorf("event = %s", events[0])
	}
}

func TestParseEventsTrailingRecordWithoutBlankLine(t *testing.T) {
	// A stream cut off mid-flight still yields its final complete data line.
	raw := []byte("data: {\"a\":1}\n\ndata: {\"b\":2}")
	events := ParseEvents(raw)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
}

func TestParseEventsEmpty(t *testing.T) {
	if events := ParseEvents(nil); len(events) != 0 {
		t.Errorf("nil input yielded %d events", len(events))
	}
	if events := ParseEvents([]byte("\n\n\n\n")); len(events) != 0 {
		t.Errorf("blank input yielded %d events", len(events))
	}
}
