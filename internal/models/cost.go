package models

import "github.com/claudeswitch/claudeswitch/internal/canonical"

// Cost is the USD cost of one turn, split by direction.
type Cost struct {
	InputUSD  float64
	OutputUSD float64
}

func (c Cost) TotalUSD() float64 {
	return c.InputUSD + c.OutputUSD
}

// Cost converts token usage to dollars using the model's pricing. Returns
// nil when the model has no pricing record.
func (md *ModelData) Cost(u canonical.Usage) *Cost {
	if md == nil || md.Pricing == nil {
		return nil
	}
	return &Cost{
		InputUSD:  float64(u.InputTokens) / 1e6 * md.Pricing.InputPerMTok,
		OutputUSD: float64(u.OutputTokens) / 1e6 * md.Pricing.OutputPerMTok,
	}
}
