package metrics

import "strings"

// Price is a model's cost in USD per million tokens.
type Price struct {
	Input  float64 `yaml:"input" json:"input"`
	Output float64 `yaml:"output" json:"output"`
}

// Cost returns the USD cost of the given token counts.
func (p Price) Cost(inputTokens, outputTokens int) float64 {
	return (float64(inputTokens)*p.Input + float64(outputTokens)*p.Output) / 1_000_000
}

// Pricing maps model names (or name prefixes) to prices.
type Pricing map[string]Price

// DefaultPricing returns the built-in price table.
func DefaultPricing() Pricing {
	return Pricing{
		"claude-opus-4":    {Input: 15.00, Output: 75.00},
		"claude-sonnet-4":  {Input: 3.00, Output: 15.00},
		"claude-haiku-4":   {Input: 1.00, Output: 5.00},
		"claude-3-5-haiku": {Input: 0.80, Output: 4.00},
		"gpt-4o-mini":      {Input: 0.15, Output: 0.60},
		"gpt-4o":           {Input: 2.50, Output: 10.00},
		"gpt-4.1-mini":     {Input: 0.40, Output: 1.60},
		"gpt-4.1":          {Input: 2.00, Output: 8.00},
		"o4-mini":          {Input: 1.10, Output: 4.40},
	}
}

// With returns a copy of p with overrides applied.
func (p Pricing) With(overrides map[string]Price) Pricing {
	out := make(Pricing, len(p)+len(overrides))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Lookup returns the price for model: an exact match first, then the
// longest matching prefix. Unknown models are free.
func (p Pricing) Lookup(model string) Price {
	if price, ok := p[model]; ok {
		return price
	}
	var best string
	for name := range p {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return Price{}
	}
	return p[best]
}

// EstimateTokens approximates the token count of text at four characters
// per token, rounding up.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(text)/4 + 1
}
