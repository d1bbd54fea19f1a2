package common

import "github.com/shopspring/decimal"

// Market is identified by symbol and a small integer index; it carries the
// static risk parameters admin creation fixes once and for all. Markets never
// mutate after creation (§3).
type Market struct {
	Symbol                string
	Index                 int
	TickSize              decimal.Decimal
	MinLot                decimal.Decimal
	MaxLeverage           decimal.Decimal
	InitialMarginRate     decimal.Decimal
	MaintenanceMarginRate decimal.Decimal
	Active                bool
}

// Registry is a static, read-mostly set of Markets keyed by symbol. It is
// populated once at startup from configuration; no operation in this spec
// mutates a Market after admin creation, so the registry itself needs no
// locking beyond what's required to populate it safely before first use.
type Registry struct {
	bySymbol map[string]Market
}

func NewRegistry(markets ...Market) *Registry {
	r := &Registry{bySymbol: make(map[string]Market, len(markets))}
	for _, m := range markets {
		r.bySymbol[m.Symbol] = m
	}
	return r
}

func (r *Registry) Get(symbol string) (Market, bool) {
	m, ok := r.bySymbol[symbol]
	return m, ok
}

func (r *Registry) List() []Market {
	out := make([]Market, 0, len(r.bySymbol))
	for _, m := range r.bySymbol {
		out = append(out, m)
	}
	return out
}

// TickAligned reports whether price is an exact multiple of the market's
// tick size.
func (m Market) TickAligned(price decimal.Decimal) bool {
	if m.TickSize.IsZero() {
		return true
	}
	rem := price.Mod(m.TickSize)
	return rem.IsZero()
}
