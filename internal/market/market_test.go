package market

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestStepPriceDeterministic(t *testing.T) {
	m1 := New("EQUITY", decimal.NewFromInt(100))
	m2 := New("EQUITY", decimal.NewFromInt(100))
	r1 := rand.New(rand.NewSource(42))
	r2 := rand.New(rand.NewSource(42))

	for i := 0; i < 20; i++ {
		m1.StepPrice(r1, 0.10)
		m2.StepPrice(r2, 0.10)
	}

	assert.True(t, m1.Price.Equal(m2.Price), "same seed must give same price path")
	assert.Equal(t, len(m1.PriceHistory), len(m2.PriceHistory))
}

func TestStepPriceBounded(t *testing.T) {
	m := New("EQUITY", decimal.NewFromInt(100))
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		old, next := m.StepPrice(rng, 0.10)
		move := next.Sub(old).Abs()
		maxMove := old.Mul(decimal.NewFromFloat(0.10))
		// Allow for the floor clamp, which can shrink a downward move.
		assert.True(t, move.LessThanOrEqual(maxMove.Add(decimal.NewFromFloat(0.0001))),
			"step %d moved %s from %s", i, move, old)
	}
}

func TestPriceFloor(t *testing.T) {
	m := New("EQUITY", decimal.NewFromInt(100))
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 2000; i++ {
		m.StepPrice(rng, 0.50)
	}

	floor := decimal.NewFromInt(50)
	for _, p := range m.PriceHistory {
		assert.True(t, p.GreaterThanOrEqual(floor), "price %s fell below floor", p)
	}
}

func TestInvestDivest(t *testing.T) {
	m := New("BONDS", decimal.NewFromInt(100))

	m.Invest(decimal.NewFromInt(300))
	m.Invest(decimal.NewFromInt(200))
	assert.True(t, m.TotalInvested.Equal(decimal.NewFromInt(500)))

	m.Divest(decimal.NewFromInt(150))
	assert.True(t, m.TotalInvested.Equal(decimal.NewFromInt(350)))

	m.Divest(decimal.NewFromInt(9999))
	assert.True(t, m.TotalInvested.IsZero(), "divest clamps at zero")
}

func TestRevalue(t *testing.T) {
	m := New("EQUITY", decimal.NewFromInt(100))
	m.Invest(decimal.NewFromInt(400))

	m.Revalue(decimal.NewFromInt(100), decimal.NewFromInt(110))
	assert.True(t, m.TotalInvested.Equal(decimal.NewFromInt(440)), "got %s", m.TotalInvested)
}

func TestNewDefaultsBaseline(t *testing.T) {
	m := New("EQUITY", decimal.Zero)
	assert.True(t, m.Price.Equal(decimal.NewFromInt(100)))
	assert.Len(t, m.PriceHistory, 1)
}

func TestHistoryAppendOnly(t *testing.T) {
	m := New("EQUITY", decimal.NewFromInt(100))
	rng := rand.New(rand.NewSource(3))

	for i := 0; i < 10; i++ {
		m.StepPrice(rng, 0.05)
	}
	assert.Len(t, m.PriceHistory, 11)
	assert.True(t, m.PriceHistory[10].Equal(m.Price))
}
