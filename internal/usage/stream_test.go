package usage

import (
	"encoding/json"
	"testing"
)

func rawEvents(ss ...string) []json.RawMessage {
	events := make([]json.RawMessage, len(ss))
	for i, s := range ss {
		events[i] = json.RawMessage(s)
	}
	return events
}

func TestAccumulateAnthropicStream(t *testing.T) {
	events := rawEvents(
		`{"type":"message_start","message":{"model":"claude-sonnet-4","usage":{"input_tokens":1000,"output_tokens":1,"cache_read_input_tokens":200}}}`,
		`{"type":"content_block_delta"}`,
		`{"type":"message_delta","usage":{"output_tokens":150}}`,
		`{"type":"message_delta","usage":{"output_tokens":420}}`,
	)
	rec := AccumulateStream(events, FamilyAnthropic)
	if rec.Model != "claude-sonnet-4" {
		t.Errorf("model = %q", rec.Model)
	}
	if rec.InputTokens != 1000 {
		t.Errorf("input = %d", rec.InputTokens)
	}
	// Delta counts are running totals; the last one wins, not the sum.
	if rec.OutputTokens != 420 {
		t.Errorf("output = %d, want 420", rec.OutputTokens)
	}
	if rec.CacheReadTokens != 200 {
		t.Errorf("cache read = %d", rec.CacheReadTokens)
	}
	if rec.TotalTokens != 1420 {
		t.Errorf("total = %d, want 1420", rec.TotalTokens)
	}
}

func TestAccumulateOpenAIStreamLastUsageWins(t *testing.T) {
	events := rawEvents(
		`{"model":"gpt-4o","choices":[{"delta":{"content":"hi"}}]}`,
		`{"choices":[{"delta":{"content":" there"}}]}`,
		`{"choices":[],"usage":{"prompt_tokens":50,"completion_tokens":10,"total_tokens":60}}`,
		`{"choices":[],"usage":{"prompt_tokens":50,"completion_tokens":25,"total_tokens":75}}`,
	)
	rec := AccumulateStream(events, FamilyOpenAI)
	if rec.Model != "gpt-4o" {
		t.Errorf("model = %q", rec.Model)
	}
	if rec.InputTokens != 50 || rec.OutputTokens != 25 || rec.TotalTokens != 75 {
		t.Errorf("got %d/%d/%d, want last usage object in full", rec.InputTokens, rec.OutputTokens, rec.TotalTokens)
	}
}

func TestAccumulateOpenAIResponsesStream(t *testing.T) {
	events := rawEvents(
		`{"type":"response.output_text.delta","delta":"x"}`,
		`{"type":"response.completed","response":{"usage":{"input_tokens":80,"output_tokens":20,"total_tokens":100}}}`,
	)
	rec := AccumulateStream(events, FamilyOpenAI)
	if rec.InputTokens != 80 || rec.OutputTokens != 20 || rec.TotalTokens != 100 {
		t.Errorf("got %+v", rec)
	}
}

func TestDetectStreamFamily(t *testing.T) {
	anthropic := rawEvents(`{"type":"content_block_delta"}`, `{"type":"message_delta","usage":{"output_tokens":5}}`)
	if fam := DetectStreamFamily(anthropic); fam != FamilyAnthropic {
		t.Errorf("fam = %q, want anthropic", fam)
	}
	openai := rawEvents(`{"model":"gpt-4o","choices":[]}`)
	if fam := DetectStreamFamily(openai); fam != FamilyOpenAI {
		t.Errorf("fam = %q, want openai", fam)
	}
}

func TestAccumulateStreamHintOverridesDetection(t *testing.T) {
	// Shape says anthropic, hint says openai: the hint wins.
	events := rawEvents(`{"type":"message_delta","usage":{"output_tokens":5}}`)
	rec := AccumulateStream(events, FamilyOpenAI)
	if rec.OutputTokens != 5 {
		t.Errorf("output = %d", rec.OutputTokens)
	}
	if rec.InputTokens != 0 || rec.TotalTokens != 5 {
		t.Errorf("got %+v", rec)
	}
}

func TestAccumulateStreamNoUsage(t *testing.T) {
	events := rawEvents(`{"choices":[{"delta":{"content":"hi"}}]}`)
	rec := AccumulateStream(events, FamilyUnknown)
	if rec.HasTokens() {
		t.Errorf("no usage in stream, got %+v", rec)
	}
}
