package usage

import "strings"

// ModelPricing holds per-million-token pricing for a model.
type ModelPricing struct {
	InputPerMTok  float64 // USD per million input tokens
	OutputPerMTok float64 // USD per million output tokens
}

// modelPricingTable maps model names to their pricing.
var modelPricingTable = map[string]ModelPricing{
	"gpt-3.5-turbo":          {InputPerMTok: 0.50, OutputPerMTok: 1.50},
	"gpt-3.5-turbo-16k":      {InputPerMTok: 3, OutputPerMTok: 4},
	"gpt-4":                  {InputPerMTok: 30, OutputPerMTok: 60},
	"gpt-4-turbo":            {InputPerMTok: 10, OutputPerMTok: 30},
	"gpt-4o":                 {InputPerMTok: 2.5, OutputPerMTok: 10},
	"gpt-4o-2024-11-20":      {InputPerMTok: 2.5, OutputPerMTok: 10},
	"gpt-4o-mini":            {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"gpt-4o-mini-2024-07-18": {InputPerMTok: 0.15, OutputPerMTok: 0.60},
}

// defaultPricing is used for unknown models (conservative so an unlisted
// model never silently underreports spend).
var defaultPricing = ModelPricing{InputPerMTok: 30, OutputPerMTok: 60}

// modelFamilyPricing maps model family prefixes to pricing.
// Longest prefix wins so "gpt-4o-mini" never matches as "gpt-4o".
var modelFamilyPricing = map[string]ModelPricing{
	"gpt-3.5-turbo": {InputPerMTok: 0.50, OutputPerMTok: 1.50},
	"gpt-4o-mini":   {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"gpt-4o":        {InputPerMTok: 2.5, OutputPerMTok: 10},
	"gpt-4":         {InputPerMTok: 10, OutputPerMTok: 30},
}

// GetModelPricing returns pricing for a model.
// Tries exact match, then prefix/family match (longest prefix wins), then default.
func GetModelPricing(model string) ModelPricing {
	if p, ok := modelPricingTable[model]; ok {
		return p
	}

	bestPrefix := ""
	var bestPricing ModelPricing
	for prefix, p := range modelFamilyPricing {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(bestPrefix) {
			bestPrefix = prefix
			bestPricing = p
		}
	}
	if bestPrefix != "" {
		return bestPricing
	}

	return defaultPricing
}

// CalculateCost computes the cost in USD from token counts.
func CalculateCost(inputTokens, outputTokens int, pricing ModelPricing) float64 {
	inputCost := float64(inputTokens) / 1_000_000 * pricing.InputPerMTok
	outputCost := float64(outputTokens) / 1_000_000 * pricing.OutputPerMTok
	return inputCost + outputCost
}
