package provider

import "math"

// Pricing is USD per 1K tokens plus a percentage markup.
type Pricing struct {
	InputPer1K  float64
	OutputPer1K float64
	MarkupPct   float64
}

func (p Pricing) Cost(u Usage) float64 {
	base := float64(u.PromptTokens)/1000*p.InputPer1K + float64(u.CompletionTokens)/1000*p.OutputPer1K
	cost := base * (1 + p.MarkupPct/100)
	return math.Round(cost*1e6) / 1e6
}
