package usage

import "testing"

func TestExtractAnthropic(t *testing.T) {
	body := []byte(`{
		"model": "claude-sonnet-4",
		"usage": {
			"input_tokens": 1000,
			"output_tokens": 500,
			"cache_read_input_tokens": 200,
			"cache_creation_input_tokens": 50
		}
	}`)
	rec, ok := Extract(body, FamilyAnthropic)
	if !ok {
		t.Fatal("expected usage object to be found")
	}
	if rec.Model != "claude-sonnet-4" {
		t.Errorf("model = %q", rec.Model)
	}
	if rec.InputTokens != 1000 || rec.OutputTokens != 500 {
		t.Errorf("tokens = %d/%d", rec.InputTokens, rec.OutputTokens)
	}
	if rec.CacheReadTokens != 200 || rec.CacheCreationTokens != 50 {
		t.Errorf("cache tokens = %d/%d", rec.CacheReadTokens, rec.CacheCreationTokens)
	}
	if rec.TotalTokens != 1500 {
		t.Errorf("total = %d, want derived 1500", rec.TotalTokens)
	}
}

func TestExtractOpenAIChatCompletions(t *testing.T) {
	body := []byte(`{
		"model": "gpt-4o",
		"usage": {
			"prompt_tokens": 120,
			"completion_tokens": 80,
			"total_tokens": 200,
			"prompt_tokens_details": {"cached_tokens": 40}
		}
	}`)
	rec, ok := Extract(body, FamilyOpenAI)
	if !ok {
		t.Fatal("expected usage object to be found")
	}
	if rec.InputTokens != 120 || rec.OutputTokens != 80 || rec.TotalTokens != 200 {
		t.Errorf("tokens = %d/%d/%d", rec.InputTokens, rec.OutputTokens, rec.TotalTokens)
	}
	if rec.CacheReadTokens != 40 {
		t.Errorf("cached = %d", rec.CacheReadTokens)
	}
}

func TestExtractOpenAIResponsesNaming(t *testing.T) {
	body := []byte(`{
		"model": "gpt-4o-mini",
		"usage": {
			"input_tokens": 60,
			"output_tokens": 30,
			"input_tokens_details": {"cached_tokens": 10}
		}
	}`)
	rec, ok := Extract(body, FamilyOpenAI)
	if !ok {
		t.Fatal("expected usage object to be found")
	}
	if rec.InputTokens != 60 || rec.OutputTokens != 30 {
		t.Errorf("tokens = %d/%d", rec.InputTokens, rec.OutputTokens)
	}
	if rec.TotalTokens != 90 {
		t.Errorf("total = %d, want derived 90", rec.TotalTokens)
	}
	if rec.CacheReadTokens != 10 {
		t.Errorf("cached = %d", rec.CacheReadTokens)
	}
}

func TestExtractGenericShapeDetection(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Record
	}{
		{
			name: "anthropic fields decide anthropic",
			body: `{"usage":{"input_tokens":10,"output_tokens":5,"cache_read_input_tokens":3}}`,
			want: Record{Model: ModelUnknown, InputTokens: 10, OutputTokens: 5, TotalTokens: 15, CacheReadTokens: 3},
		},
		{
			name: "prompt_tokens decides openai",
			body: `{"usage":{"prompt_tokens":7,"completion_tokens":2,"total_tokens":9}}`,
			want: Record{Model: ModelUnknown, InputTokens: 7, OutputTokens: 2, TotalTokens: 9},
		},
		{
			name: "ambiguous input/output pair",
			body: `{"usage":{"input_tokens":4,"output_tokens":6}}`,
			want: Record{Model: ModelUnknown, InputTokens: 4, OutputTokens: 6, TotalTokens: 10},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := Extract([]byte(tt.body), FamilyUnknown)
			if !ok {
				t.Fatal("expected usage object to be found")
			}
			if rec != tt.want {
				t.Errorf("got %+v, want %+v", rec, tt.want)
			}
		})
	}
}

func TestExtractMissingUsage(t *testing.T) {
	rec, ok := Extract([]byte(`{"model":"gpt-4o","choices":[]}`), FamilyOpenAI)
	if ok {
		t.Fatal("no usage object, found=true")
	}
	if rec.Model != "gpt-4o" {
		t.Errorf("model should still be captured, got %q", rec.Model)
	}
	if rec.HasTokens() {
		t.Errorf("no tokens expected, got %+v", rec)
	}
}

func TestExtractMalformedBody(t *testing.T) {
	rec, ok := Extract([]byte(`not json at all`), FamilyAnthropic)
	if ok || rec.HasTokens() {
		t.Errorf("malformed body should yield nothing, got ok=%v rec=%+v", ok, rec)
	}
	if rec.Model != ModelUnknown {
		t.Errorf("model = %q, want %q", rec.Model, ModelUnknown)
	}
}

func TestExtractNegativeCountsClamped(t *testing.T) {
	rec, _ := Extract([]byte(`{"usage":{"input_tokens":-5,"output_tokens":3}}`), FamilyAnthropic)
	if rec.InputTokens != 0 {
		t.Errorf("negative input should clamp to 0, got %d", rec.InputTokens)
	}
	if rec.OutputTokens != 3 {
		t.Errorf("output = %d", rec.OutputTokens)
	}
}
