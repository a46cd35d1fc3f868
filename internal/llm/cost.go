package llm

// pricing is USD per million tokens: input, output.
var pricing = map[string]struct{ in, out float64 }{
	"gpt-4o":                 {5, 15},
	"gpt-4o-mini":            {0.15, 0.6},
	"gpt-4-turbo":            {10, 30},
	"text-embedding-3-small": {0.02, 0},
	"text-embedding-3-large": {0.13, 0},
	"text-embedding-ada-002": {0.1, 0},

	"claude-3-haiku-20240307":  {0.25, 1.25},
	"claude-sonnet-4-20250514": {3, 15},
	"claude-opus-4-20250514":   {15, 75},
}

// CalculateCost returns the USD cost of a call. Unknown models, local ones
// included, cost nothing.
func CalculateCost(model string, inputTokens, outputTokens int) float64 {
	p, ok := pricing[model]
	if !ok {
		return 0
	}
	return (float64(inputTokens)*p.in + float64(outputTokens)*p.out) / 1e6
}
