package usage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_AddAccumulates(t *testing.T) {
	l := Ledger{}
	l.Add("gpt-3.5-turbo", 10, 5)
	l.Add("gpt-3.5-turbo", 3, 2)
	l.Add("gpt-4", 7, 1)

	assert.Equal(t, ModelUsage{InputTokens: 13, OutputTokens: 7}, l["gpt-3.5-turbo"])
	assert.Equal(t, ModelUsage{InputTokens: 7, OutputTokens: 1}, l["gpt-4"])
	assert.Equal(t, 28, l.TotalTokens())
}

func TestLedger_ZeroCountsStillCreateEntry(t *testing.T) {
	// A cancelled request that produced nothing still records its model.
	l := Ledger{}
	l.Add("gpt-4o", 0, 0)
	_, ok := l["gpt-4o"]
	assert.True(t, ok)
	assert.Equal(t, 0, l.TotalTokens())
}

func TestGetModelPricing_ExactMatch(t *testing.T) {
	p := GetModelPricing("gpt-3.5-turbo")
	assert.Equal(t, 0.50, p.InputPerMTok)
	assert.Equal(t, 1.50, p.OutputPerMTok)
}

func TestGetModelPricing_LongestPrefixWins(t *testing.T) {
	// A dated mini snapshot must match the mini family, not plain gpt-4o.
	p := GetModelPricing("gpt-4o-mini-2025-01-01")
	assert.Equal(t, 0.15, p.InputPerMTok)

	p = GetModelPricing("gpt-4o-2025-01-01")
	assert.Equal(t, 2.5, p.InputPerMTok)
}

func TestGetModelPricing_UnknownModelUsesDefault(t *testing.T) {
	p := GetModelPricing("some-future-model")
	assert.Equal(t, defaultPricing, p)
}

func TestCalculateCost(t *testing.T) {
	pricing := ModelPricing{InputPerMTok: 2, OutputPerMTok: 10}
	cost := CalculateCost(1_000_000, 500_000, pricing)
	assert.InDelta(t, 7.0, cost, 1e-9)
}

func TestTracker_RecordAndSnapshot(t *testing.T) {
	tr := NewTracker()
	tr.Record(42, "gpt-3.5-turbo", 1000, 500)
	tr.Record(42, "gpt-3.5-turbo", 1000, 500)
	tr.Record(7, "gpt-4o", 200, 100)

	snaps := tr.Snapshot()
	require.Len(t, snaps, 2)

	byUser := map[int64]SpendSnapshot{}
	for _, s := range snaps {
		byUser[s.UserID] = s
	}
	assert.Equal(t, 2000, byUser[42].InputTokens)
	assert.Equal(t, 1000, byUser[42].OutputTokens)
	assert.Equal(t, 2, byUser[42].RequestCount)
	assert.Equal(t, 1, byUser[7].RequestCount)

	// The global accumulator stores nano-dollars, so allow truncation slack.
	assert.InDelta(t, byUser[42].Cost+byUser[7].Cost, tr.GlobalCost(), 1e-6)
}
