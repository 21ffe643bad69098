package pricing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenlens/gateway/internal/usage"
)

func testTable() *Table {
	return NewTable(
		[]string{"claude-sonnet-4-5", "claude-sonnet", "gpt-4o-mini", "gpt-4o"},
		map[string]Rates{
			"claude-sonnet-4-5": {Input: 3, Output: 15, CacheRead: 0.3, CacheWrite: 3.75},
			"claude-sonnet":     {Input: 2, Output: 10, CacheRead: 0.2, CacheWrite: 2.5},
			"gpt-4o-mini":       {Input: 0.15, Output: 0.6},
			"gpt-4o":            {Input: 2.5, Output: 10},
		},
	)
}

func TestLookupExact(t *testing.T) {
	r, ok := testTable().Lookup("gpt-4o")
	require.True(t, ok)
	assert.Equal(t, 2.5, r.Input)
}

func TestLookupModelPrefixOfKey(t *testing.T) {
	// "claude" is a prefix of the first declared key.
	r, ok := testTable().Lookup("claude")
	require.True(t, ok)
	assert.Equal(t, 3.0, r.Input)
}

func TestLookupKeyPrefixOfModel(t *testing.T) {
	r, ok := testTable().Lookup("gpt-4o-mini-2024-07-18")
	require.True(t, ok)
	assert.Equal(t, 0.15, r.Input)
}

func TestLookupDeclarationOrderWins(t *testing.T) {
	// Both sonnet keys prefix-match; the first declared one is chosen.
	r, ok := testTable().Lookup("claude-sonnet-4-5-20250929")
	require.True(t, ok)
	assert.Equal(t, 3.0, r.Input)
}

func TestLookupMiss(t *testing.T) {
	_, ok := testTable().Lookup("llama-3.1-70b")
	assert.False(t, ok)
}

func TestCostWithCacheRead(t *testing.T) {
	rec := usage.Record{
		InputTokens:     10_000,
		OutputTokens:    500,
		CacheReadTokens: 5_000,
	}
	// 5000 billable input at $3/M + 500 output at $15/M + 5000 cached at $0.3/M.
	cost := testTable().Cost("claude-sonnet-4-5", rec)
	assert.InDelta(t, 0.0240, cost, 1e-9)
}

func TestCostCacheWrite(t *testing.T) {
	rec := usage.Record{
		InputTokens:         1_000_000,
		OutputTokens:        1_000_000,
		CacheCreationTokens: 1_000_000,
	}
	cost := testTable().Cost("claude-sonnet-4-5", rec)
	assert.InDelta(t, 3+15+3.75, cost, 1e-9)
}

func TestCostCachedExceedsInput(t *testing.T) {
	// Billable input clamps at zero rather than going negative.
	rec := usage.Record{InputTokens: 100, CacheReadTokens: 500}
	cost := testTable().Cost("claude-sonnet-4-5", rec)
	assert.InDelta(t, 500*0.3/1e6, cost, 1e-9)
}

func TestCostUnknownModelIsZero(t *testing.T) {
	rec := usage.Record{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	assert.Zero(t, testTable().Cost("mystery-model", rec))
}

func TestCostDeterministic(t *testing.T) {
	rec := usage.Record{InputTokens: 1234, OutputTokens: 567, CacheReadTokens: 89}
	tab := testTable()
	first := tab.Cost("claude-sonnet-4-5", rec)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, tab.Cost("claude-sonnet-4-5", rec))
	}
	assert.False(t, math.Signbit(first))
}

func TestDefaultTableOrdering(t *testing.T) {
	tab := DefaultTable()
	require.Positive(t, tab.Len())
	// Every default key must resolve to itself exactly, not via prefix.
	for _, k := range defaultKeys {
		r, ok := tab.Lookup(k)
		require.True(t, ok, k)
		assert.Equal(t, defaultRates[k], r, k)
	}
}
