package pricing

// PublishRequest is the body of POST /admin/pricing.
type PublishRequest struct {
	Rates           map[string]RateInput `json:"rates" validate:"required,min=1,dive,keys,submission_type,endkeys"`
	ExchangeRateBps int64                `json:"exchange_rate_bps" validate:"required,gt=0"`
	Note            string               `json:"note" validate:"max=500"`
}

type RateInput struct {
	Price int64 `json:"price" validate:"gte=0"`
	Tier1 int64 `json:"tier1" validate:"gte=0"`
	Tier2 int64 `json:"tier2" validate:"gte=0"`
}

func (r *PublishRequest) toRates() Rates {
	out := make(Rates, len(r.Rates))
	for k, v := range r.Rates {
		out[k] = Rate{Price: v.Price, Tier1: v.Tier1, Tier2: v.Tier2}
	}
	return out
}
