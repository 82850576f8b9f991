// Package market implements price formation for the investable indices.
// Prices follow a bounded random walk driven by the session's seeded source,
// so identical seeds reproduce identical runs.
package market

import (
	"math/rand"

	"github.com/shopspring/decimal"

	"banknet/internal/domain"
)

// priceFloorRatio keeps prices physical: a market never trades below half of
// its baseline.
const priceFloorRatio = 0.5

// Market holds one index's price state and the total invested across all
// banks. TotalInvested always equals the sum of the banks' holdings in this
// market.
type Market struct {
	ID            string
	Baseline      decimal.Decimal
	Price         decimal.Decimal
	TotalInvested decimal.Decimal
	PriceHistory  []decimal.Decimal
}

// New creates a market at its initial price. A zero initial price falls back
// to the conventional baseline of 100.
func New(id string, initialPrice decimal.Decimal) *Market {
	if initialPrice.LessThanOrEqual(decimal.Zero) {
		initialPrice = decimal.NewFromInt(100)
	}
	return &Market{
		ID:            id,
		Baseline:      initialPrice,
		Price:         initialPrice,
		TotalInvested: decimal.Zero,
		PriceHistory:  []decimal.Decimal{initialPrice},
	}
}

// StepPrice advances the price one step: price += price * uniform(-v, v),
// floored at half the baseline. Returns the old and new price.
func (m *Market) StepPrice(rng *rand.Rand, volatility float64) (oldPrice, newPrice decimal.Decimal) {
	oldPrice = m.Price

	shock := (rng.Float64()*2 - 1) * volatility
	newPrice = oldPrice.Add(oldPrice.Mul(decimal.NewFromFloat(shock)))

	floor := m.Baseline.Mul(decimal.NewFromFloat(priceFloorRatio))
	if newPrice.LessThan(floor) {
		newPrice = floor
	}

	m.Price = newPrice
	m.PriceHistory = append(m.PriceHistory, newPrice)
	return oldPrice, newPrice
}

// Invest records new money entering the market.
func (m *Market) Invest(amount decimal.Decimal) {
	m.TotalInvested = m.TotalInvested.Add(amount)
}

// Divest records money leaving the market. The caller caps the amount at the
// bank's holding; this clamp only guards against rounding residue.
func (m *Market) Divest(amount decimal.Decimal) {
	m.TotalInvested = m.TotalInvested.Sub(amount)
	if m.TotalInvested.LessThan(decimal.Zero) {
		m.TotalInvested = decimal.Zero
	}
}

// Revalue scales TotalInvested by the price move so it keeps matching the
// marked-to-market holdings on the banks' books.
func (m *Market) Revalue(oldPrice, newPrice decimal.Decimal) {
	if oldPrice.IsZero() || m.TotalInvested.IsZero() {
		return
	}
	m.TotalInvested = m.TotalInvested.Mul(newPrice).Div(oldPrice)
}

// State returns a point-in-time snapshot.
func (m *Market) State() domain.MarketState {
	return domain.MarketState{
		ID:            m.ID,
		Price:         m.Price,
		TotalInvested: m.TotalInvested,
	}
}
