// Streaming usage accumulation over a completed SSE event sequence.
package usage

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// DetectStreamFamily inspects event shapes to pick a family when no hint is
// configured. Anthropic streams carry distinctive type tags; anything else is
// treated as OpenAI-style.
func DetectStreamFamily(events []json.RawMessage) Family {
	for _, ev := range events {
		switch gjson.GetBytes(ev, "type").Str {
		case "message_start", "message_delta":
			return FamilyAnthropic
		}
	}
	return FamilyOpenAI
}

// AccumulateStream folds an ordered SSE event sequence into a Record.
// An explicit hint wins over shape detection.
func AccumulateStream(events []json.RawMessage, hint Family) Record {
	fam := hint
	if fam == FamilyUnknown {
		fam = DetectStreamFamily(events)
	}
	if fam == FamilyAnthropic {
		return accumulateAnthropic(events)
	}
	return accumulateOpenAI(events)
}

// accumulateAnthropic: message_start carries the model and input-side counts,
// message_delta carries cumulative output counts. Later values win per field;
// a delta's output count is a running total, not an increment.
func accumulateAnthropic(events []json.RawMessage) Record {
	rec := Record{Model: ModelUnknown}
	for _, ev := range events {
		if m := gjson.GetBytes(ev, "message.model"); m.Type == gjson.String && m.Str != "" {
			rec.Model = m.Str
		}
		for _, path := range []string{"message.usage", "usage"} {
			u := gjson.GetBytes(ev, path)
			if !u.IsObject() {
				continue
			}
			mergeAnthropicUsage(&rec, u)
		}
	}
	rec.TotalTokens = rec.InputTokens + rec.OutputTokens
	return rec
}

func mergeAnthropicUsage(rec *Record, u gjson.Result) {
	if v := u.Get("input_tokens"); v.Exists() {
		rec.InputTokens = int(v.Int())
	}
	if v := u.Get("output_tokens"); v.Exists() {
		rec.OutputTokens = int(v.Int())
	}
	if v := u.Get("cache_read_input_tokens"); v.Exists() {
		rec.CacheReadTokens = int(v.Int())
	}
	if v := u.Get("cache_creation_input_tokens"); v.Exists() {
		rec.CacheCreationTokens = int(v.Int())
	}
}

// accumulateOpenAI: the model comes from the first event that declares one;
// the last event carrying a usage object wins in full. Most streams only
// attach usage to the final chunk (stream_options include_usage).
func accumulateOpenAI(events []json.RawMessage) Record {
	rec := Record{Model: ModelUnknown}
	for _, ev := range events {
		if rec.Model == ModelUnknown {
			if m := gjson.GetBytes(ev, "model"); m.Type == gjson.String && m.Str != "" {
				rec.Model = m.Str
			}
		}
		// The responses endpoint nests usage under "response".
		for _, path := range []string{"usage", "response.usage"} {
			u := gjson.GetBytes(ev, path)
			if !u.IsObject() {
				continue
			}
			counts := Record{}
			applyOpenAI(&counts, u)
			counts.Model = rec.Model
			rec = counts
		}
	}
	return rec
}
