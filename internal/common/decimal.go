package common

import "github.com/shopspring/decimal"

// Scales document the fixed precision each value family is rounded to at the
// boundary. Internal arithmetic is carried out at full decimal precision;
// rounding only happens on the way in or out (HTTP payloads, wire reports).
const (
	USDScale   int32 = 6 // collateral, margin, PnL, funding payments
	AssetScale int32 = 8 // order/position size
)

// Price and Quantity are named aliases over decimal.Decimal so call sites
// read as domain values instead of bare decimals, while still getting every
// decimal.Decimal method for free.
type Price = decimal.Decimal
type Quantity = decimal.Decimal

// RoundPrice and RoundQuantity apply the documented scale. Call these only at
// explicit conversion boundaries (HTTP decode, wire serialize); internal
// pipelines should not round between steps.
func RoundPrice(p Price) Price      { return p.Round(USDScale) }
func RoundQuantity(q Quantity) Quantity { return q.Round(AssetScale) }

var (
	Zero = decimal.Zero
	One  = decimal.NewFromInt(1)
	Two  = decimal.NewFromInt(2)
)

// ParsePrice and ParseQuantity convert untrusted boundary strings (HTTP
// bodies) into Price/Quantity, rejecting non-numeric input with a Validation
// error instead of panicking.
func ParsePrice(s string) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, WrapError(KindValidation, "invalid price", err)
	}
	return RoundPrice(d), nil
}

func ParseQuantity(s string) (Quantity, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, WrapError(KindValidation, "invalid quantity", err)
	}
	return RoundQuantity(d), nil
}
