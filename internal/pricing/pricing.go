// Package pricing maps model ids to USD token rates and computes request cost.
package pricing

import (
	"strings"

	"github.com/tokenlens/gateway/internal/usage"
)

// Rates holds per-million-token USD pricing for one model id.
// Unspecified fields are zero.
type Rates struct {
	Input      float64 `yaml:"input" json:"input"`
	Output     float64 `yaml:"output" json:"output"`
	CacheRead  float64 `yaml:"cache_read" json:"cache_read"`
	CacheWrite float64 `yaml:"cache_write" json:"cache_write"`
}

// Table is an immutable pricing snapshot. Key iteration preserves the order
// the source document declared them in, which keeps prefix-match lookups
// reproducible across rebuilds.
type Table struct {
	keys  []string
	rates map[string]Rates
}

// NewTable builds a table from ordered (key, rates) pairs. Later duplicates
// overwrite earlier ones without changing their position.
func NewTable(keys []string, rates map[string]Rates) *Table {
	t := &Table{rates: make(map[string]Rates, len(rates))}
	for _, k := range keys {
		if _, seen := t.rates[k]; !seen {
			t.keys = append(t.keys, k)
		}
		t.rates[k] = rates[k]
	}
	return t
}

// Len returns the number of pricing entries.
func (t *Table) Len() int { return len(t.keys) }

// Lookup finds rates for a model id: exact match first, then the first key in
// declaration order where either string is a prefix of the other.
//
// The bidirectional prefix policy can match unintended keys when entries share
// a short common prefix; first-match-wins over declaration order keeps that
// reproducible, but it remains a weak point of the lookup rather than a
// guarantee.
func (t *Table) Lookup(model string) (Rates, bool) {
	if r, ok := t.rates[model]; ok {
		return r, true
	}
	for _, k := range t.keys {
		if strings.HasPrefix(model, k) || strings.HasPrefix(k, model) {
			return t.rates[k], true
		}
	}
	return Rates{}, false
}

// Cost computes the USD cost of a usage record for the given model id.
// Cached tokens are billed at the cache-read rate and subtracted from the
// input count so they are never double-billed at the full input rate.
// No pricing match means zero cost, never an error.
func (t *Table) Cost(model string, rec usage.Record) float64 {
	r, ok := t.Lookup(model)
	if !ok {
		return 0
	}
	billableInput := rec.InputTokens - rec.CacheReadTokens
	if billableInput < 0 {
		billableInput = 0
	}
	cost := (float64(billableInput)*r.Input +
		float64(rec.OutputTokens)*r.Output +
		float64(rec.CacheReadTokens)*r.CacheRead +
		float64(rec.CacheCreationTokens)*r.CacheWrite) / 1_000_000
	if cost < 0 {
		return 0
	}
	return cost
}
