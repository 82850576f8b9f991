// Package policy chooses one action per active bank per step. The default
// behavior is a deterministic rule ladder over the bank's risk factor and
// cash; an advisor recommendation, when present, replaces every rung except
// the liquidity floor.
package policy

import (
	"math/rand"
	"sort"

	"github.com/shopspring/decimal"

	"banknet/internal/domain"
)

// Free-cash fractions committed per ladder rung.
var (
	investFraction           = decimal.NewFromFloat(0.30)
	lendFraction             = decimal.NewFromFloat(0.25)
	conservativeLendFraction = decimal.NewFromFloat(0.10)
	excessInvestFraction     = decimal.NewFromFloat(0.10)
	reduceExposureFraction   = decimal.NewFromFloat(0.30)
)

// BorrowerSelector picks a lending counterparty among the active banks.
type BorrowerSelector interface {
	Select(lenderID string, banks map[string]*domain.Bank) (string, bool)
}

// UniformSelector picks uniformly at random among the active banks, driven
// by the session's seeded source so runs stay reproducible.
type UniformSelector struct {
	rng *rand.Rand
}

func NewUniformSelector(rng *rand.Rand) *UniformSelector {
	return &UniformSelector{rng: rng}
}

func (s *UniformSelector) Select(lenderID string, banks map[string]*domain.Bank) (string, bool) {
	candidates := activeCandidates(lenderID, banks)
	if len(candidates) == 0 {
		return "", false
	}
	return candidates[s.rng.Intn(len(candidates))], true
}

// LeastExposedSelector prefers the active bank carrying the least debt,
// spreading credit across the network. Ties break lexicographically.
type LeastExposedSelector struct{}

func (LeastExposedSelector) Select(lenderID string, banks map[string]*domain.Bank) (string, bool) {
	candidates := activeCandidates(lenderID, banks)
	if len(candidates) == 0 {
		return "", false
	}

	best := candidates[0]
	bestDebt := banks[best].TotalLoansTaken()
	for _, id := range candidates[1:] {
		if debt := banks[id].TotalLoansTaken(); debt.LessThan(bestDebt) {
			best, bestDebt = id, debt
		}
	}
	return best, true
}

func activeCandidates(lenderID string, banks map[string]*domain.Bank) []string {
	var ids []string
	for id, b := range banks {
		if id != lenderID && b.Status == domain.BankStatusActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Policy is the per-bank decision maker. It reads bank and network state but
// never mutates anything.
type Policy struct {
	minOperatingCash decimal.Decimal
	excessCashRatio  float64
	selector         BorrowerSelector
	rng              *rand.Rand
}

func New(cfg domain.SimulationConfig, selector BorrowerSelector, rng *rand.Rand) *Policy {
	return &Policy{
		minOperatingCash: cfg.MinOperatingCash,
		excessCashRatio:  cfg.ExcessCashRatio,
		selector:         selector,
		rng:              rng,
	}
}

// Decide returns the single action the bank takes this step. A non-nil
// assessment overrides the ladder below the liquidity floor.
func (p *Policy) Decide(bank *domain.Bank, banks map[string]*domain.Bank, stats domain.NetworkStats, marketIDs []string, rec *domain.Assessment) domain.Action {
	// Rung 1, never overridden: keep the lights on.
	if bank.Cash.LessThan(p.minOperatingCash) {
		return domain.Hold("below minimum operating cash")
	}

	freeCash := bank.Cash.Sub(p.minOperatingCash)

	if rec != nil {
		return p.applyRecommendation(bank, banks, freeCash, marketIDs, rec)
	}

	if bank.RiskFactor > 0.5 && len(marketIDs) > 0 {
		return domain.Action{
			Kind:     domain.ActionInvest,
			MarketID: p.pickMarket(marketIDs),
			Amount:   freeCash.Mul(investFraction),
			Reason:   "aggressive allocation",
		}
	}

	// A lender without an active counterparty slides past its rung to the
	// excess-cash fallback.
	if bank.RiskFactor >= 0.2 && bank.RiskFactor <= 0.5 {
		if borrower, ok := p.selector.Select(bank.ID, banks); ok {
			return domain.Action{
				Kind:         domain.ActionLend,
				Counterparty: borrower,
				Amount:       freeCash.Mul(lendFraction),
				Reason:       "balanced lending",
			}
		}
	} else if bank.RiskFactor < 0.2 {
		if borrower, ok := p.selector.Select(bank.ID, banks); ok {
			return domain.Action{
				Kind:         domain.ActionLend,
				Counterparty: borrower,
				Amount:       freeCash.Mul(conservativeLendFraction),
				Reason:       "conservative lending",
			}
		}
	}

	if p.cashRatio(bank) > p.excessCashRatio && len(marketIDs) > 0 {
		return domain.Action{
			Kind:     domain.ActionInvest,
			MarketID: p.pickMarket(marketIDs),
			Amount:   freeCash.Mul(excessInvestFraction),
			Reason:   "excess cash",
		}
	}

	return domain.Hold("no matching rule")
}

func (p *Policy) applyRecommendation(bank *domain.Bank, banks map[string]*domain.Bank, freeCash decimal.Decimal, marketIDs []string, rec *domain.Assessment) domain.Action {
	switch rec.Recommendation {
	case domain.RecommendExtendCredit:
		if borrower, ok := p.selector.Select(bank.ID, banks); ok {
			return domain.Action{
				Kind:         domain.ActionLend,
				Counterparty: borrower,
				Amount:       freeCash.Mul(lendFraction),
				Reason:       "advisor: extend credit",
			}
		}
		return domain.Hold("advisor: extend credit, no counterparty")

	case domain.RecommendReduceExposure:
		marketID, holding := largestHolding(bank)
		if marketID == "" {
			return domain.Hold("advisor: reduce exposure, nothing held")
		}
		return domain.Action{
			Kind:     domain.ActionDivest,
			MarketID: marketID,
			Amount:   holding.Mul(reduceExposureFraction),
			Reason:   "advisor: reduce exposure",
		}

	default:
		return domain.Hold("advisor: " + string(rec.Recommendation))
	}
}

func (p *Policy) pickMarket(marketIDs []string) string {
	if len(marketIDs) == 1 {
		return marketIDs[0]
	}
	return marketIDs[p.rng.Intn(len(marketIDs))]
}

func (p *Policy) cashRatio(bank *domain.Bank) float64 {
	assets := bank.TotalAssets()
	if assets.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	ratio, _ := bank.Cash.Div(assets).Float64()
	return ratio
}

func largestHolding(bank *domain.Bank) (string, decimal.Decimal) {
	ids := make([]string, 0, len(bank.Investments))
	for id := range bank.Investments {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	bestID, best := "", decimal.Zero
	for _, id := range ids {
		if bank.Investments[id].GreaterThan(best) {
			bestID, best = id, bank.Investments[id]
		}
	}
	return bestID, best
}
