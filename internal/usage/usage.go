// Package usage normalizes provider token-usage reports.
//
// Two wire shapes exist in the wild for the same concept:
//   - Anthropic style: usage under "usage" with input_tokens/output_tokens and
//     dedicated cache_read_input_tokens / cache_creation_input_tokens fields.
//   - OpenAI style: prompt_tokens/completion_tokens (newer endpoints use
//     input_tokens/output_tokens), cached tokens nested one level deeper, and
//     an explicit total_tokens.
//
// Extraction never fails: malformed or partial input degrades to zeros and
// the model id degrades to "unknown".
package usage

import "github.com/tidwall/gjson"

// ModelUnknown is the sentinel model id when no response ever declared one.
const ModelUnknown = "unknown"

// Family identifies the provider wire shape of a usage object.
type Family string

const (
	FamilyUnknown   Family = ""
	FamilyAnthropic Family = "anthropic"
	FamilyOpenAI    Family = "openai"
)

// ParseFamily maps a config string to a Family. Unrecognized values mean
// auto-detection.
func ParseFamily(s string) Family {
	switch s {
	case "anthropic":
		return FamilyAnthropic
	case "openai":
		return FamilyOpenAI
	default:
		return FamilyUnknown
	}
}

// Record is the normalized token-count summary for one request/response pair.
// Absent fields are zero, not unknown.
type Record struct {
	Model               string `json:"model"`
	InputTokens         int    `json:"input_tokens"`
	OutputTokens        int    `json:"output_tokens"`
	TotalTokens         int    `json:"total_tokens"`
	CacheReadTokens     int    `json:"cache_read_input_tokens"`
	CacheCreationTokens int    `json:"cache_creation_input_tokens"`
}

// HasTokens reports whether any token count was observed.
func (r Record) HasTokens() bool {
	return r.InputTokens > 0 || r.OutputTokens > 0 || r.TotalTokens > 0 ||
		r.CacheReadTokens > 0 || r.CacheCreationTokens > 0
}

// Extract parses a buffered (non-streaming) JSON response body into a Record.
// The second return value reports whether a usage object was present at all.
func Extract(body []byte, fam Family) (Record, bool) {
	rec := Record{Model: ModelUnknown}
	if m := gjson.GetBytes(body, "model"); m.Type == gjson.String && m.Str != "" {
		rec.Model = m.Str
	}

	u := gjson.GetBytes(body, "usage")
	if !u.Exists() || !u.IsObject() {
		return rec, false
	}

	applyUsageObject(&rec, u, fam)
	return rec, true
}

// applyUsageObject fills token counts from a usage object per family rules.
func applyUsageObject(rec *Record, u gjson.Result, fam Family) {
	switch fam {
	case FamilyAnthropic:
		applyAnthropic(rec, u)
	case FamilyOpenAI:
		applyOpenAI(rec, u)
	default:
		applyGeneric(rec, u)
	}
}

// applyAnthropic reads the Anthropic usage shape. Total is always derived;
// Anthropic does not report one.
func applyAnthropic(rec *Record, u gjson.Result) {
	rec.InputTokens = intField(u, "input_tokens")
	rec.OutputTokens = intField(u, "output_tokens")
	rec.CacheReadTokens = intField(u, "cache_read_input_tokens")
	rec.CacheCreationTokens = intField(u, "cache_creation_input_tokens")
	rec.TotalTokens = rec.InputTokens + rec.OutputTokens
}

// applyOpenAI reads the OpenAI usage shape, trying both naming conventions
// (chat completions vs responses endpoint) for every count.
func applyOpenAI(rec *Record, u gjson.Result) {
	rec.InputTokens = firstInt(u, "prompt_tokens", "input_tokens")
	rec.OutputTokens = firstInt(u, "completion_tokens", "output_tokens")
	rec.CacheReadTokens = firstInt(u,
		"prompt_tokens_details.cached_tokens",
		"input_tokens_details.cached_tokens")
	if t := u.Get("total_tokens"); t.Exists() {
		rec.TotalTokens = int(t.Int())
	} else {
		rec.TotalTokens = rec.InputTokens + rec.OutputTokens
	}
}

// applyGeneric handles an unhinted usage object. A field unique to one family
// decides the parser; otherwise each count is probed under both names
// independently.
func applyGeneric(rec *Record, u gjson.Result) {
	if u.Get("cache_read_input_tokens").Exists() || u.Get("cache_creation_input_tokens").Exists() {
		applyAnthropic(rec, u)
		return
	}
	if u.Get("prompt_tokens").Exists() || u.Get("completion_tokens").Exists() ||
		u.Get("prompt_tokens_details").Exists() {
		applyOpenAI(rec, u)
		return
	}

	rec.InputTokens = firstInt(u, "input_tokens", "prompt_tokens")
	rec.OutputTokens = firstInt(u, "output_tokens", "completion_tokens")
	rec.CacheReadTokens = firstInt(u,
		"prompt_tokens_details.cached_tokens",
		"input_tokens_details.cached_tokens")
	rec.CacheCreationTokens = intField(u, "cache_creation_input_tokens")
	if t := u.Get("total_tokens"); t.Exists() {
		rec.TotalTokens = int(t.Int())
	} else {
		rec.TotalTokens = rec.InputTokens + rec.OutputTokens
	}
}

func intField(u gjson.Result, path string) int {
	v := u.Get(path)
	if !v.Exists() || v.Int() < 0 {
		return 0
	}
	return int(v.Int())
}

func firstInt(u gjson.Result, paths ...string) int {
	for _, p := range paths {
		if v := u.Get(p); v.Exists() {
			if v.Int() < 0 {
				return 0
			}
			return int(v.Int())
		}
	}
	return 0
}
