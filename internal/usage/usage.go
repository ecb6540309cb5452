// Package usage implements the per-user token-usage ledger, model pricing,
// and a live spend tracker for the ops dashboard.
//
// DESIGN: The ledger is the durable record (persisted by the store) and is
// monotonically increasing: one Add per request lifecycle, including
// cancelled requests, so partial streams are never unaccounted for. The
// Tracker mirrors recent activity in memory for the dashboard only.
package usage

// ModelUsage holds accumulated token counts for one model.
type ModelUsage struct {
	InputTokens  int `json:"n_input_tokens"`
	OutputTokens int `json:"n_output_tokens"`
}

// Total returns combined input and output tokens.
func (m ModelUsage) Total() int {
	return m.InputTokens + m.OutputTokens
}

// Ledger maps model name to accumulated usage for one user.
type Ledger map[string]ModelUsage

// Add accumulates counts for a model, creating the entry when absent.
func (l Ledger) Add(model string, inputTokens, outputTokens int) {
	m := l[model]
	m.InputTokens += inputTokens
	m.OutputTokens += outputTokens
	l[model] = m
}

// TotalTokens returns combined tokens across every model in the ledger.
func (l Ledger) TotalTokens() int {
	total := 0
	for _, m := range l {
		total += m.Total()
	}
	return total
}

// TotalCost returns the ledger's spend in USD across all models.
func (l Ledger) TotalCost() float64 {
	cost := 0.0
	for model, m := range l {
		cost += CalculateCost(m.InputTokens, m.OutputTokens, GetModelPricing(model))
	}
	return cost
}
