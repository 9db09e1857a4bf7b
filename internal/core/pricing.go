package core

// ModelPricing is USD cost per million tokens, grounded on the teacher's
// pkg/connector/pricing.go static rate table.
type ModelPricing struct {
	PromptPerMillion     float64
	CompletionPerMillion float64
}

// modelPricing covers the OpenAI-compatible chat models this bot is
// documented to run against (spec §6 gpt.model). An unlisted model falls
// back to the gpt-4o-mini row rather than erroring, since a persona is
// never blocked from replying for want of a pricing entry.
var modelPricing = map[string]ModelPricing{
	"gpt-4o-mini": {PromptPerMillion: 0.15, CompletionPerMillion: 0.60},
	"gpt-4o":      {PromptPerMillion: 2.50, CompletionPerMillion: 10.00},
	"gpt-4.1":     {PromptPerMillion: 2.00, CompletionPerMillion: 8.00},
	"gpt-4.1-mini": {PromptPerMillion: 0.40, CompletionPerMillion: 1.60},
}

// EstimateCostUSD prices a prompt/completion token pair against model's
// published per-million-token rate (spec §4.A token accounting).
func EstimateCostUSD(model string, promptTokens, completionTokens int) float64 {
	rate, ok := modelPricing[model]
	if !ok {
		rate = modelPricing["gpt-4o-mini"]
	}
	return float64(promptTokens)/1_000_000*rate.PromptPerMillion +
		float64(completionTokens)/1_000_000*rate.CompletionPerMillion
}
