// Package tokenizer estimates token counts for bodies whose responses never
// reported usage. Estimates are advisory: they are surfaced on the entry as a
// separate field and never merged into the usage record.
package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator counts tokens with a fixed BPE encoding. Exact only for OpenAI
// models, close enough for a rough gauge elsewhere.
type Estimator struct {
	enc *tiktoken.Tiktoken
}

// New creates an estimator with the cl100k_base encoding.
func New() (*Estimator, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("load encoding: %w", err)
	}
	return &Estimator{enc: enc}, nil
}

// Count returns the token count of text.
func (e *Estimator) Count(text string) int {
	if e == nil || text == "" {
		return 0
	}
	return len(e.enc.Encode(text, nil, nil))
}
