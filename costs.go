package lolo

// Pricing holds per-million-token prices for one model, in USD.
// Cached tokens are a subset of input tokens and billed at the cached
// rate; the remainder bills at the input rate.
type Pricing struct {
	Input  float64 `toml:"input"`
	Cached float64 `toml:"cached"`
	Output float64 `toml:"output"`
}

// WebSearchCallCost is the flat per-call price for provider-native web
// search. Code-interpreter calls run on the self-hosted sandbox and are
// free.
const WebSearchCallCost = 0.01

// DefaultPricing covers the models the core calls. Unknown models fall
// back to the "default" row. Overridable via [pricing] in the config file.
var DefaultPricing = map[string]Pricing{
	"gpt-5.2":       {Input: 1.75, Cached: 0.175, Output: 14.00},
	"gpt-image-1.5": {Input: 5.00, Cached: 1.25, Output: 10.00},
	"default":       {Input: 2.00, Cached: 0.20, Output: 10.00},
}

// PriceTable resolves model names to pricing with a default fallback.
type PriceTable map[string]Pricing

// Lookup returns the pricing for model, falling back to "default".
func (t PriceTable) Lookup(model string) Pricing {
	if p, ok := t[model]; ok {
		return p
	}
	if p, ok := t["default"]; ok {
		return p
	}
	return DefaultPricing["default"]
}

// Cost computes the USD cost for one request's summed usage.
// uncached = input - cached (clamped at zero).
func (t PriceTable) Cost(model string, u Usage, webSearchCalls int) float64 {
	p := t.Lookup(model)
	uncached := u.InputTokens - u.CachedTokens
	if uncached < 0 {
		uncached = 0
	}
	return float64(uncached)/1_000_000*p.Input +
		float64(u.CachedTokens)/1_000_000*p.Cached +
		float64(u.OutputTokens)/1_000_000*p.Output +
		float64(webSearchCalls)*WebSearchCallCost
}
